// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// sentMessage records one outbound call on a fakeNetwork.
type sentMessage struct {
	Kind string
	Chat string
	Text string
	Data []byte
	Loop bool
}

// fakeNetwork is an in-memory Network. Download errors are consumed in
// order; once exhausted, downloads return media.
type fakeNetwork struct {
	mu sync.Mutex

	media        []byte
	downloadErrs []error
	sendErr      error
	connectErr   error
	persistErr   error
	onConnect    func()

	sent      []sentMessage
	downloads int
	persisted int
	closed    bool
}

var _ Network = (*fakeNetwork)(nil)

func (n *fakeNetwork) record(msg sentMessage) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return ErrNotConnected
	}
	if n.sendErr != nil {
		return n.sendErr
	}
	n.sent = append(n.sent, msg)
	return nil
}

func (n *fakeNetwork) SendText(_ context.Context, chat, text string) error {
	return n.record(sentMessage{Kind: "text", Chat: chat, Text: text})
}

func (n *fakeNetwork) SendSticker(_ context.Context, chat string, data []byte) error {
	return n.record(sentMessage{Kind: "sticker", Chat: chat, Data: data})
}

func (n *fakeNetwork) SendVideo(_ context.Context, chat string, data []byte, loop bool) error {
	return n.record(sentMessage{Kind: "video", Chat: chat, Data: data, Loop: loop})
}

func (n *fakeNetwork) DownloadMedia(_ context.Context, _ *InboundEvent) ([]byte, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.downloads++
	if len(n.downloadErrs) > 0 {
		err := n.downloadErrs[0]
		n.downloadErrs = n.downloadErrs[1:]
		return nil, err
	}
	return n.media, nil
}

func (n *fakeNetwork) Connect(_ context.Context) error {
	if n.onConnect != nil {
		n.onConnect()
	}
	return n.connectErr
}

func (n *fakeNetwork) PersistCredentials(_ context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.persisted++
	return n.persistErr
}

func (n *fakeNetwork) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
}

func (n *fakeNetwork) Sent() []sentMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	cp := make([]sentMessage, len(n.sent))
	copy(cp, n.sent)
	return cp
}

func (n *fakeNetwork) Downloads() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.downloads
}

func (n *fakeNetwork) Persisted() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.persisted
}

func (n *fakeNetwork) IsClosed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.closed
}

// fakeFactory hands out fakeNetworks and keeps each session's handler so
// tests can emit upstream signals for a specific generation.
type fakeFactory struct {
	mu        sync.Mutex
	openErr   error
	configure func(n *fakeNetwork, handler func(Event))
	networks  []*fakeNetwork
	handlers  []func(Event)
}

func (f *fakeFactory) Open(_ context.Context, handler func(Event)) (Network, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return nil, f.openErr
	}
	n := &fakeNetwork{}
	if f.configure != nil {
		f.configure(n, handler)
	}
	f.networks = append(f.networks, n)
	f.handlers = append(f.handlers, handler)
	return n, nil
}

func (f *fakeFactory) setOpenErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.openErr = err
}

func (f *fakeFactory) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.networks)
}

func (f *fakeFactory) Network(i int) *fakeNetwork {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.networks[i]
}

// Emit delivers evt through the handler of the i-th opened session.
func (f *fakeFactory) Emit(i int, evt Event) {
	f.mu.Lock()
	h := f.handlers[i]
	f.mu.Unlock()
	h(evt)
}

type fakeTimer struct {
	delay   time.Duration
	fn      func()
	stopped bool
	fired   bool
}

// fakeClock replaces time.AfterFunc so rebuilds fire only when a test asks.
type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

type fakeTimerHandle struct {
	clock *fakeClock
	timer *fakeTimer
}

func (h fakeTimerHandle) Stop() bool {
	h.clock.mu.Lock()
	defer h.clock.mu.Unlock()
	active := !h.timer.stopped && !h.timer.fired
	h.timer.stopped = true
	return active
}

func (c *fakeClock) AfterFunc(d time.Duration, fn func()) stopper {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{delay: d, fn: fn}
	c.timers = append(c.timers, t)
	return fakeTimerHandle{clock: c, timer: t}
}

// Pending returns the delays of timers that have neither fired nor been stopped.
func (c *fakeClock) Pending() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []time.Duration
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			out = append(out, t.delay)
		}
	}
	return out
}

// FireAll runs every pending timer on the calling goroutine.
func (c *fakeClock) FireAll() {
	c.mu.Lock()
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	for _, t := range due {
		t.fn()
	}
}

func testConfig(t *testing.T) *Config {
	t.Helper()
	cfg, err := ParseConfig([]byte(ExampleConfig))
	if err != nil {
		t.Fatalf("failed to parse example config: %v", err)
	}
	cfg.AdminAPIAddr = "-"
	cfg.QRTerminal = false
	return cfg
}

func newTestConnector(t *testing.T, factory *fakeFactory) (*StickerConnector, *fakeClock) {
	t.Helper()
	sc := NewStickerConnector(testConfig(t), factory, zerolog.Nop())
	clock := &fakeClock{}
	sc.afterFunc = clock.AfterFunc
	t.Cleanup(sc.Stop)
	return sc, clock
}

func newTestDispatcher(t *testing.T, replier Replier) (*Dispatcher, *[]time.Duration) {
	t.Helper()
	d := NewDispatcher(replier, testConfig(t), nil, zerolog.Nop())
	var mu sync.Mutex
	sleeps := &[]time.Duration{}
	d.clipRetry.Sleep = func(ctx context.Context, delay time.Duration) error {
		mu.Lock()
		defer mu.Unlock()
		*sleeps = append(*sleeps, delay)
		return ctx.Err()
	}
	return d, sleeps
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func encodeTestPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: 200, G: 40, B: 40, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode PNG: %v", err)
	}
	return buf.Bytes()
}

func encodeTestJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: 40, G: 120, B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("failed to encode JPEG: %v", err)
	}
	return buf.Bytes()
}
