// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aiku/wa-stickerbot/internal/retryutil"
	"github.com/aiku/wa-stickerbot/pkg/connector/mediafmt"
)

// Replier is the outbound half of a Network that the Dispatcher talks to.
type Replier interface {
	SendText(ctx context.Context, chat, text string) error
	SendSticker(ctx context.Context, chat string, data []byte) error
	SendVideo(ctx context.Context, chat string, data []byte, loopPlayback bool) error
	DownloadMedia(ctx context.Context, evt *InboundEvent) ([]byte, error)
}

type route int

const (
	routeDiscard route = iota
	routeSticker
	routeClip
	routeStickerReply
	routeText
)

func (r route) String() string {
	switch r {
	case routeSticker:
		return "sticker"
	case routeClip:
		return "clip"
	case routeStickerReply:
		return "sticker_reply"
	case routeText:
		return "text"
	default:
		return "discard"
	}
}

// classify decides how an inbound event is handled. The first matching
// rule wins.
func classify(evt *InboundEvent) route {
	if evt.FromMe {
		return routeDiscard
	}
	switch content := evt.Content.(type) {
	case ImageContent:
		return routeSticker
	case VideoContent:
		return routeClip
	case DocumentContent:
		mime := strings.ToLower(content.MimeType)
		switch {
		case strings.HasPrefix(mime, "image/"):
			return routeSticker
		case strings.HasPrefix(mime, "video/"):
			return routeClip
		}
		return routeDiscard
	case StickerContent:
		return routeStickerReply
	case TextContent:
		return routeText
	default:
		return routeDiscard
	}
}

type ConversionKind string

const (
	ConversionSticker ConversionKind = "sticker"
	ConversionClip    ConversionKind = "clip"
)

// ConversionAttempt tracks one media conversion for logging.
type ConversionAttempt struct {
	ID          uuid.UUID
	Kind        ConversionKind
	Attempt     int
	MaxAttempts int
	BackoffBase time.Duration
	Started     time.Time
}

func (ca *ConversionAttempt) MarshalZerologObject(e *zerolog.Event) {
	e.Str("id", ca.ID.String()).
		Str("kind", string(ca.Kind)).
		Int("attempt", ca.Attempt).
		Int("max_attempts", ca.MaxAttempts)
	if ca.BackoffBase > 0 {
		e.Dur("backoff_base", ca.BackoffBase)
	}
}

// Dispatcher turns inbound events into replies.
type Dispatcher struct {
	replier   Replier
	responder *Responder
	messages  Messages
	sticker   mediafmt.StickerOptions
	maxBytes  int64
	clipRetry retryutil.Policy
	metrics   *Metrics
	log       zerolog.Logger
	now       func() time.Time
}

func NewDispatcher(replier Replier, cfg *Config, metrics *Metrics, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		replier:   replier,
		responder: NewResponder(&cfg.Messages),
		messages:  cfg.Messages,
		sticker:   cfg.StickerOptions(),
		maxBytes:  cfg.Sticker.MaxFileSize,
		clipRetry: retryutil.Policy{
			MaxAttempts: cfg.ClipRetry.MaxAttempts,
			BaseDelay:   cfg.ClipRetry.BackoffBase,
		},
		metrics: metrics,
		log:     log,
		now:     time.Now,
	}
}

// Handle processes a single inbound event. It never returns an error:
// failures are answered with an apology or logged, and a panic is
// contained to the event that caused it.
func (d *Dispatcher) Handle(ctx context.Context, evt *InboundEvent) {
	log := d.log.With().
		Str("message_id", evt.ID).
		Str("chat", evt.Chat).
		Logger()
	ctx = log.WithContext(ctx)
	defer func() {
		if err := recover(); err != nil {
			log.Error().
				Any("panic", err).
				Str("stack", string(debug.Stack())).
				Msg("Panic while handling message")
		}
	}()

	r := classify(evt)
	d.metrics.inboundMessage(r.String())
	switch r {
	case routeSticker:
		d.handleSticker(ctx, evt)
	case routeClip:
		d.handleClip(ctx, evt)
	case routeStickerReply:
		d.sendText(ctx, evt.Chat, d.messages.StickerReply)
	case routeText:
		body := evt.Content.(TextContent).Body
		log.Debug().Str("text", body).Msg("Handling text message")
		d.sendText(ctx, evt.Chat, d.responder.Respond(body))
	default:
		log.Trace().
			Bool("from_me", evt.FromMe).
			Str("content", fmt.Sprintf("%T", evt.Content)).
			Msg("Discarding message")
	}
}

func (d *Dispatcher) newAttempt(kind ConversionKind, maxAttempts int, base time.Duration) *ConversionAttempt {
	return &ConversionAttempt{
		ID:          uuid.New(),
		Kind:        kind,
		MaxAttempts: maxAttempts,
		BackoffBase: base,
		Started:     d.now(),
	}
}

func (d *Dispatcher) handleSticker(ctx context.Context, evt *InboundEvent) {
	conv := d.newAttempt(ConversionSticker, 1, 0)
	conv.Attempt = 1
	log := zerolog.Ctx(ctx).With().Object("conversion", conv).Logger()
	log.Info().Msg("Converting image to sticker")

	size, err := d.convertSticker(log.WithContext(ctx), evt)
	if err != nil {
		log.Err(err).Msg("Sticker conversion failed")
		d.metrics.conversion(string(ConversionSticker), "failed")
		d.sendText(ctx, evt.Chat, d.messages.StickerApology)
		return
	}
	d.metrics.conversion(string(ConversionSticker), "ok")
	log.Info().
		Int("output_bytes", size).
		Dur("duration", d.now().Sub(conv.Started)).
		Msg("Sticker sent")
}

func (d *Dispatcher) convertSticker(ctx context.Context, evt *InboundEvent) (int, error) {
	data, err := d.replier.DownloadMedia(ctx, evt)
	if err != nil {
		return 0, &MediaDownloadError{Err: err}
	}
	if info, err := mediafmt.Metadata(data); err == nil {
		zerolog.Ctx(ctx).Debug().
			Str("format", info.Format).
			Int("width", info.Width).
			Int("height", info.Height).
			Int("input_bytes", len(data)).
			Msg("Processing image")
	}
	sticker, err := mediafmt.MakeSticker(data, d.sticker)
	if err != nil {
		return 0, err
	}
	err = d.replier.SendSticker(ctx, evt.Chat, sticker)
	d.metrics.reply("sticker", err)
	if err != nil {
		return 0, &SendFailureError{Kind: "sticker", Err: err}
	}
	return len(sticker), nil
}

func (d *Dispatcher) handleClip(ctx context.Context, evt *InboundEvent) {
	conv := d.newAttempt(ConversionClip, d.clipRetry.MaxAttempts, d.clipRetry.BaseDelay)
	log := zerolog.Ctx(ctx)
	log.Info().Object("conversion", conv).Msg("Converting video to looping clip")

	policy := d.clipRetry
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		d.metrics.conversionRetry(string(ConversionClip))
		log.Warn().Err(err).
			Object("conversion", conv).
			Dur("retry_in", delay).
			Msg("Clip conversion failed, retrying")
	}
	var size int
	err := retryutil.Do(ctx, policy, func(ctx context.Context, attempt int) error {
		conv.Attempt = attempt
		var err error
		size, err = d.convertClip(ctx, evt)
		return err
	}, func(err error) {
		log.Err(err).Object("conversion", conv).Msg("Clip conversion failed after all attempts")
		msg := d.messages.ClipApology
		if isDecryptFailure(err) {
			msg = d.messages.ClipDecryptApology
		}
		d.sendText(ctx, evt.Chat, msg)
	})
	if err != nil {
		d.metrics.conversion(string(ConversionClip), "failed")
		return
	}
	d.metrics.conversion(string(ConversionClip), "ok")
	log.Info().
		Object("conversion", conv).
		Int("output_bytes", size).
		Dur("duration", d.now().Sub(conv.Started)).
		Msg("Looping clip sent")
}

func (d *Dispatcher) convertClip(ctx context.Context, evt *InboundEvent) (int, error) {
	data, err := d.replier.DownloadMedia(ctx, evt)
	if err != nil {
		return 0, &MediaDownloadError{Err: err}
	}
	clip, err := mediafmt.MakeClip(data, d.maxBytes)
	if err != nil {
		return 0, err
	}
	err = d.replier.SendVideo(ctx, evt.Chat, clip, true)
	d.metrics.reply("video", err)
	if err != nil {
		return 0, &SendFailureError{Kind: "video", Err: err}
	}
	return len(clip), nil
}

func (d *Dispatcher) sendText(ctx context.Context, chat, text string) {
	err := d.replier.SendText(ctx, chat, text)
	d.metrics.reply("text", err)
	if err != nil {
		zerolog.Ctx(ctx).Err(err).Msg("Failed to send text reply")
	}
}
