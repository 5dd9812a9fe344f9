// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package wanet implements the connector's Network on top of whatsmeow,
// with linked-device credentials stored in SQLite.
package wanet

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	"github.com/aiku/wa-stickerbot/pkg/connector"
)

// Factory opens whatsmeow sessions backed by one SQLite credential store.
type Factory struct {
	cfg *connector.Config
	log zerolog.Logger

	mu        sync.Mutex
	container *sqlstore.Container
}

var _ connector.NetworkFactory = (*Factory)(nil)

func NewFactory(cfg *connector.Config, log zerolog.Logger) *Factory {
	store.SetOSInfo(cfg.DeviceName, [3]uint32{1, 0, 0})
	store.DeviceProps.RequireFullSync = proto.Bool(false)
	return &Factory{
		cfg: cfg,
		log: log.With().Str("component", "wanet").Logger(),
	}
}

func (f *Factory) openContainer(ctx context.Context) (*sqlstore.Container, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.container != nil {
		return f.container, nil
	}
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on", f.cfg.DatabasePath)
	dbLog := waLog.Zerolog(f.log.With().Str("component", "wa_store").Logger().Level(f.cfg.NetworkLevel()))
	container, err := sqlstore.New(ctx, "sqlite3", dsn, dbLog)
	if err != nil {
		return nil, err
	}
	f.container = container
	return container, nil
}

// Open loads the stored device (or a fresh one when none is paired yet)
// and creates a client for it. The socket is opened by Connect.
func (f *Factory) Open(ctx context.Context, handler func(connector.Event)) (connector.Network, error) {
	container, err := f.openContainer(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", connector.ErrCredentialLoad, err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", connector.ErrCredentialLoad, err)
	}

	clientLog := waLog.Zerolog(f.log.With().Str("component", "whatsmeow").Logger().Level(f.cfg.NetworkLevel()))
	client := whatsmeow.NewClient(device, clientLog)
	client.EnableAutoReconnect = false
	client.ManualHistorySyncDownload = true

	n := newNetwork(client, handler, f.log)
	client.AddEventHandler(n.handleWhatsAppEvent)
	f.log.Debug().Bool("paired", device.ID != nil).Msg("Opened WhatsApp session")
	return n, nil
}

// Close releases the credential store.
func (f *Factory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.container == nil {
		return nil
	}
	err := f.container.Close()
	f.container = nil
	return err
}

// Network is one whatsmeow client. Its context is cancelled on Close so
// outstanding sends and downloads stop immediately.
type Network struct {
	client  *whatsmeow.Client
	handler func(connector.Event)
	log     zerolog.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

var _ connector.Network = (*Network)(nil)

func newNetwork(client *whatsmeow.Client, handler func(connector.Event), log zerolog.Logger) *Network {
	ctx, cancel := context.WithCancel(context.Background())
	return &Network{
		client:  client,
		handler: handler,
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Connect opens the socket. Unpaired devices get a pairing channel first so
// scan codes flow to the handler.
func (n *Network) Connect(_ context.Context) error {
	if n.client.Store.ID == nil {
		qrChan, err := n.client.GetQRChannel(n.ctx)
		if err != nil {
			return fmt.Errorf("failed to get QR channel: %w", err)
		}
		go n.forwardScanCodes(qrChan)
	}
	if err := n.client.Connect(); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	return nil
}

func (n *Network) forwardScanCodes(qrChan <-chan whatsmeow.QRChannelItem) {
	for item := range qrChan {
		if item.Event == whatsmeow.QRChannelSuccess.Event {
			n.log.Info().Msg("Pairing succeeded")
		}
		if evt := translateQRItem(item); evt != nil {
			n.handler(evt)
		}
	}
}

func (n *Network) handleWhatsAppEvent(rawEvt any) {
	switch evt := rawEvt.(type) {
	case *events.KeepAliveTimeout:
		n.log.Warn().Int("error_count", evt.ErrorCount).Msg("Keepalive timed out")
		return
	case *events.KeepAliveRestored:
		n.log.Info().Msg("Keepalive restored")
		return
	}
	if evt := translateEvent(rawEvt); evt != nil {
		n.handler(evt)
	}
}

// opContext derives a context that also ends when the session closes.
func (n *Network) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(n.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (n *Network) send(ctx context.Context, chat string, msg *waE2E.Message) error {
	if n.ctx.Err() != nil {
		return connector.ErrNotConnected
	}
	jid, err := ParseChatID(chat)
	if err != nil {
		return err
	}
	ctx, cancel := n.opContext(ctx)
	defer cancel()
	resp, err := n.client.SendMessage(ctx, jid, msg)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	n.log.Debug().Str("chat", chat).Str("message_id", resp.ID).Msg("Sent message")
	return nil
}

func (n *Network) SendText(ctx context.Context, chat, text string) error {
	return n.send(ctx, chat, &waE2E.Message{Conversation: proto.String(text)})
}

func (n *Network) SendSticker(ctx context.Context, chat string, data []byte) error {
	uploaded, err := n.upload(ctx, data, whatsmeow.MediaImage)
	if err != nil {
		return err
	}
	return n.send(ctx, chat, &waE2E.Message{StickerMessage: &waE2E.StickerMessage{
		URL:           proto.String(uploaded.URL),
		DirectPath:    proto.String(uploaded.DirectPath),
		MediaKey:      uploaded.MediaKey,
		FileEncSHA256: uploaded.FileEncSHA256,
		FileSHA256:    uploaded.FileSHA256,
		FileLength:    proto.Uint64(uploaded.FileLength),
		Mimetype:      proto.String("image/webp"),
	}})
}

func (n *Network) SendVideo(ctx context.Context, chat string, data []byte, loopPlayback bool) error {
	uploaded, err := n.upload(ctx, data, whatsmeow.MediaVideo)
	if err != nil {
		return err
	}
	return n.send(ctx, chat, &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
		URL:           proto.String(uploaded.URL),
		DirectPath:    proto.String(uploaded.DirectPath),
		MediaKey:      uploaded.MediaKey,
		FileEncSHA256: uploaded.FileEncSHA256,
		FileSHA256:    uploaded.FileSHA256,
		FileLength:    proto.Uint64(uploaded.FileLength),
		Mimetype:      proto.String(videoMimeType(data)),
		GifPlayback:   proto.Bool(loopPlayback),
	}})
}

func (n *Network) upload(ctx context.Context, data []byte, mediaType whatsmeow.MediaType) (whatsmeow.UploadResponse, error) {
	if n.ctx.Err() != nil {
		return whatsmeow.UploadResponse{}, connector.ErrNotConnected
	}
	ctx, cancel := n.opContext(ctx)
	defer cancel()
	uploaded, err := n.client.Upload(ctx, data, mediaType)
	if err != nil {
		return whatsmeow.UploadResponse{}, fmt.Errorf("failed to upload media: %w", err)
	}
	return uploaded, nil
}

func (n *Network) DownloadMedia(ctx context.Context, evt *connector.InboundEvent) ([]byte, error) {
	if n.ctx.Err() != nil {
		return nil, connector.ErrNotConnected
	}
	media, ok := evt.Media.(whatsmeow.DownloadableMessage)
	if !ok || media == nil {
		return nil, fmt.Errorf("message %s has no downloadable media", evt.ID)
	}
	ctx, cancel := n.opContext(ctx)
	defer cancel()
	data, err := n.client.Download(ctx, media)
	if err != nil {
		return nil, classifyDownloadError(err)
	}
	return data, nil
}

func classifyDownloadError(err error) error {
	if errors.Is(err, whatsmeow.ErrInvalidMediaHMAC) ||
		errors.Is(err, whatsmeow.ErrInvalidMediaEncSHA256) ||
		errors.Is(err, whatsmeow.ErrInvalidMediaSHA256) {
		return fmt.Errorf("%w: %w", connector.ErrMediaDecrypt, err)
	}
	return fmt.Errorf("failed to download media: %w", err)
}

func (n *Network) PersistCredentials(ctx context.Context) error {
	if err := n.client.Store.Save(ctx); err != nil {
		return fmt.Errorf("failed to save device: %w", err)
	}
	return nil
}

// Close disconnects the client. It is safe to call more than once.
func (n *Network) Close() {
	n.closeOnce.Do(func() {
		n.cancel()
		n.client.Disconnect()
	})
}

func videoMimeType(data []byte) string {
	if mime := http.DetectContentType(data); strings.HasPrefix(mime, "video/") {
		return mime
	}
	return "video/mp4"
}
