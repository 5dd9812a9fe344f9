// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"context"
	"sync"
	"time"
)

// Network is one WhatsApp session. A new Network is opened for every
// (re)connect and is never reused after Close.
type Network interface {
	Replier
	// Connect opens the socket. Connectivity changes are reported through
	// the handler passed to NetworkFactory.Open.
	Connect(ctx context.Context) error
	PersistCredentials(ctx context.Context) error
	// Close tears the session down. Sends and downloads in flight fail.
	Close()
}

// NetworkFactory loads credentials and creates a Network. Errors wrapping
// ErrCredentialLoad are fatal.
type NetworkFactory interface {
	Open(ctx context.Context, handler func(Event)) (Network, error)
}

// Event is an upstream signal from a Network.
type Event interface {
	isEvent()
}

// ScanCodeEvent carries a fresh pairing code. It supersedes any earlier one.
type ScanCodeEvent struct {
	Code    string
	Timeout time.Duration
}

// ConnectivityEvent reports that the socket opened or closed.
type ConnectivityEvent struct {
	Open    bool
	Reason  DisconnectReason
	Code    int
	Message string
}

// CredentialsRotatedEvent reports that the credential material changed and
// must be persisted.
type CredentialsRotatedEvent struct {
	ID string
}

// InboundBatchEvent carries received messages in arrival order.
type InboundBatchEvent struct {
	Events []InboundEvent
}

func (*ScanCodeEvent) isEvent()           {}
func (*ConnectivityEvent) isEvent()       {}
func (*CredentialsRotatedEvent) isEvent() {}
func (*InboundBatchEvent) isEvent()       {}

// session binds a Network to the generation that opened it.
type session struct {
	gen uint64
	net Network

	stopOnce sync.Once
}

func (s *session) close() {
	s.stopOnce.Do(s.net.Close)
}

func (sc *StickerConnector) currentSession() *session {
	sc.sessMu.RLock()
	defer sc.sessMu.RUnlock()
	return sc.sess
}

func (sc *StickerConnector) setSession(s *session) {
	sc.sessMu.Lock()
	sc.sess = s
	sc.sessMu.Unlock()
}

// teardown detaches and closes the current session. After it returns no
// caller can obtain the old Network.
func (sc *StickerConnector) teardown() {
	sc.sessMu.Lock()
	s := sc.sess
	sc.sess = nil
	sc.sessMu.Unlock()
	if s != nil {
		sc.log.Debug().Uint64("generation", s.gen).Msg("Closing WhatsApp session")
		s.close()
	}
}

func (sc *StickerConnector) network() (Network, error) {
	s := sc.currentSession()
	if s == nil {
		return nil, ErrNotConnected
	}
	return s.net, nil
}

var _ Replier = (*StickerConnector)(nil)

func (sc *StickerConnector) SendText(ctx context.Context, chat, text string) error {
	net, err := sc.network()
	if err != nil {
		return err
	}
	return net.SendText(ctx, chat, text)
}

func (sc *StickerConnector) SendSticker(ctx context.Context, chat string, data []byte) error {
	net, err := sc.network()
	if err != nil {
		return err
	}
	return net.SendSticker(ctx, chat, data)
}

func (sc *StickerConnector) SendVideo(ctx context.Context, chat string, data []byte, loopPlayback bool) error {
	net, err := sc.network()
	if err != nil {
		return err
	}
	return net.SendVideo(ctx, chat, data, loopPlayback)
}

func (sc *StickerConnector) DownloadMedia(ctx context.Context, evt *InboundEvent) ([]byte, error) {
	net, err := sc.network()
	if err != nil {
		return nil, err
	}
	return net.DownloadMedia(ctx, evt)
}

// enqueue hands an event to the dispatcher goroutine, blocking while the
// queue is full. It returns false once the connector is stopped.
func (sc *StickerConnector) enqueue(evt InboundEvent) bool {
	select {
	case sc.inbound <- evt:
		return true
	case <-sc.runCtx.Done():
		return false
	}
}

// runDispatcher handles queued events one at a time, in arrival order.
func (sc *StickerConnector) runDispatcher() {
	for {
		select {
		case <-sc.runCtx.Done():
			return
		case evt := <-sc.inbound:
			sc.dispatcher.Handle(sc.runCtx, &evt)
		}
	}
}
