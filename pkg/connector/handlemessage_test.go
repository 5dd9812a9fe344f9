// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const testChat = "6281234567890@s.whatsapp.net"

func TestClassify(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		evt  InboundEvent
		want route
	}{
		{"image", InboundEvent{Content: ImageContent{MimeType: "image/jpeg"}}, routeSticker},
		{"own image", InboundEvent{FromMe: true, Content: ImageContent{}}, routeDiscard},
		{"own text", InboundEvent{FromMe: true, Content: TextContent{Body: "ping"}}, routeDiscard},
		{"video", InboundEvent{Content: VideoContent{MimeType: "video/mp4"}}, routeClip},
		{"gif video", InboundEvent{Content: VideoContent{LoopPlayback: true}}, routeClip},
		{"image document", InboundEvent{Content: DocumentContent{MimeType: "image/png"}}, routeSticker},
		{"uppercase image document", InboundEvent{Content: DocumentContent{MimeType: "IMAGE/PNG"}}, routeSticker},
		{"video document", InboundEvent{Content: DocumentContent{MimeType: "video/quicktime"}}, routeClip},
		{"pdf document", InboundEvent{Content: DocumentContent{MimeType: "application/pdf"}}, routeDiscard},
		{"document without mime", InboundEvent{Content: DocumentContent{}}, routeDiscard},
		{"sticker", InboundEvent{Content: StickerContent{}}, routeStickerReply},
		{"text", InboundEvent{Content: TextContent{Body: "hello"}}, routeText},
		{"blank text", InboundEvent{Content: TextContent{Body: " \n\t "}}, routeText},
		{"unrecognized", InboundEvent{Content: UnrecognizedContent{Type: "locationMessage"}}, routeDiscard},
		{"nil content", InboundEvent{}, routeDiscard},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := classify(&tt.evt); got != tt.want {
				t.Errorf("classify: got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestHandle_DiscardsOwnMessages(t *testing.T) {
	t.Parallel()
	net := &fakeNetwork{media: encodeTestPNG(t, 10, 10)}
	d, _ := newTestDispatcher(t, net)

	d.Handle(context.Background(), &InboundEvent{
		ID: "m1", Chat: testChat, FromMe: true, Content: ImageContent{MimeType: "image/png"},
	})

	if got := net.Downloads(); got != 0 {
		t.Errorf("downloads: got %d, want 0", got)
	}
	if sent := net.Sent(); len(sent) != 0 {
		t.Errorf("sent: got %d messages, want 0", len(sent))
	}
}

func TestHandle_ImageBecomesSticker(t *testing.T) {
	t.Parallel()
	net := &fakeNetwork{media: encodeTestPNG(t, 64, 32)}
	d, _ := newTestDispatcher(t, net)

	d.Handle(context.Background(), &InboundEvent{
		ID: "m1", Chat: testChat, Content: ImageContent{MimeType: "image/png"},
	})

	sent := net.Sent()
	if len(sent) != 1 {
		t.Fatalf("sent: got %d messages, want 1", len(sent))
	}
	if sent[0].Kind != "sticker" {
		t.Errorf("kind: got %q, want %q", sent[0].Kind, "sticker")
	}
	if sent[0].Chat != testChat {
		t.Errorf("chat: got %q, want %q", sent[0].Chat, testChat)
	}
	if !bytes.HasPrefix(sent[0].Data, []byte("RIFF")) || !bytes.Equal(sent[0].Data[8:12], []byte("WEBP")) {
		t.Errorf("sticker is not a WebP file: % x", sent[0].Data[:12])
	}
}

func TestHandle_JPEGBecomesStickerWithoutText(t *testing.T) {
	t.Parallel()
	net := &fakeNetwork{media: encodeTestJPEG(t, 300, 300)}
	d, _ := newTestDispatcher(t, net)

	d.Handle(context.Background(), &InboundEvent{
		ID: "m1", Chat: testChat, Sender: testChat, Content: ImageContent{MimeType: "image/jpeg"},
	})

	sent := net.Sent()
	if len(sent) != 1 {
		t.Fatalf("sent: got %d messages, want 1", len(sent))
	}
	if sent[0].Kind != "sticker" {
		t.Errorf("kind: got %q, want %q", sent[0].Kind, "sticker")
	}
	if sent[0].Chat != testChat {
		t.Errorf("chat: got %q, want %q", sent[0].Chat, testChat)
	}
	for _, m := range sent {
		if m.Kind == "text" {
			t.Errorf("unexpected text reply %q", m.Text)
		}
	}
}

func TestHandle_ImageDocumentBecomesSticker(t *testing.T) {
	t.Parallel()
	net := &fakeNetwork{media: encodeTestPNG(t, 16, 16)}
	d, _ := newTestDispatcher(t, net)

	d.Handle(context.Background(), &InboundEvent{
		ID: "m1", Chat: testChat, Content: DocumentContent{MimeType: "image/png", FileName: "cat.png"},
	})

	sent := net.Sent()
	if len(sent) != 1 || sent[0].Kind != "sticker" {
		t.Fatalf("sent: got %+v, want one sticker", sent)
	}
}

func TestHandle_StickerFailureSendsOneApology(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		net  *fakeNetwork
	}{
		{"download error", &fakeNetwork{downloadErrs: []error{errors.New("connection reset")}}},
		{"decrypt error", &fakeNetwork{downloadErrs: []error{fmt.Errorf("%w: bad hmac", ErrMediaDecrypt)}}},
		{"undecodable", &fakeNetwork{media: []byte("definitely not an image")}},
		{"empty", &fakeNetwork{media: []byte{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d, sleeps := newTestDispatcher(t, tt.net)
			d.Handle(context.Background(), &InboundEvent{
				ID: "m1", Chat: testChat, Content: ImageContent{},
			})

			if got := tt.net.Downloads(); got != 1 {
				t.Errorf("downloads: got %d, want 1 (no retry)", got)
			}
			if len(*sleeps) != 0 {
				t.Errorf("sleeps: got %v, want none", *sleeps)
			}
			sent := tt.net.Sent()
			if len(sent) != 1 {
				t.Fatalf("sent: got %d messages, want 1", len(sent))
			}
			if sent[0].Kind != "text" || sent[0].Text != d.messages.StickerApology {
				t.Errorf("reply: got %+v, want sticker apology", sent[0])
			}
		})
	}
}

func TestHandle_VideoBecomesLoopingClip(t *testing.T) {
	t.Parallel()
	video := []byte("\x00\x00\x00\x18ftypmp42 fake video")
	for _, loop := range []bool{false, true} {
		t.Run(fmt.Sprintf("loop=%t", loop), func(t *testing.T) {
			t.Parallel()
			net := &fakeNetwork{media: video}
			d, sleeps := newTestDispatcher(t, net)

			d.Handle(context.Background(), &InboundEvent{
				ID: "m1", Chat: testChat, Content: VideoContent{MimeType: "video/mp4", LoopPlayback: loop},
			})

			sent := net.Sent()
			if len(sent) != 1 {
				t.Fatalf("sent: got %d messages, want 1", len(sent))
			}
			if sent[0].Kind != "video" || !sent[0].Loop {
				t.Errorf("reply: got kind=%q loop=%t, want looping video", sent[0].Kind, sent[0].Loop)
			}
			if !bytes.Equal(sent[0].Data, video) {
				t.Error("clip payload should be passed through unchanged")
			}
			if len(*sleeps) != 0 {
				t.Errorf("sleeps: got %v, want none", *sleeps)
			}
		})
	}
}

func TestHandle_ClipRetriesThenApologises(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		lastErr error
		want    func(m Messages) string
	}{
		{
			name:    "generic failure",
			lastErr: errors.New("upload failed: 503"),
			want:    func(m Messages) string { return m.ClipApology },
		},
		{
			name:    "decrypt sentinel",
			lastErr: fmt.Errorf("download: %w", ErrMediaDecrypt),
			want:    func(m Messages) string { return m.ClipDecryptApology },
		},
		{
			name:    "cipher text",
			lastErr: errors.New("crypto/cipher: message authentication failed"),
			want:    func(m Messages) string { return m.ClipDecryptApology },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			net := &fakeNetwork{downloadErrs: []error{
				errors.New("timeout"),
				errors.New("timeout"),
				tt.lastErr,
			}}
			d, sleeps := newTestDispatcher(t, net)

			d.Handle(context.Background(), &InboundEvent{
				ID: "m1", Chat: testChat, Content: VideoContent{MimeType: "video/mp4"},
			})

			if got := net.Downloads(); got != 3 {
				t.Errorf("downloads: got %d, want 3", got)
			}
			wantSleeps := []time.Duration{2 * time.Second, 4 * time.Second}
			if !reflect.DeepEqual(*sleeps, wantSleeps) {
				t.Errorf("sleeps: got %v, want %v", *sleeps, wantSleeps)
			}
			sent := net.Sent()
			if len(sent) != 1 {
				t.Fatalf("sent: got %d messages, want exactly one apology", len(sent))
			}
			if want := tt.want(d.messages); sent[0].Text != want {
				t.Errorf("apology: got %q, want %q", sent[0].Text, want)
			}
		})
	}
}

func TestHandle_ClipRecoversOnRetry(t *testing.T) {
	t.Parallel()
	net := &fakeNetwork{
		media:        []byte("video"),
		downloadErrs: []error{errors.New("temporary failure")},
	}
	d, sleeps := newTestDispatcher(t, net)

	d.Handle(context.Background(), &InboundEvent{
		ID: "m1", Chat: testChat, Content: DocumentContent{MimeType: "video/mp4"},
	})

	if got := net.Downloads(); got != 2 {
		t.Errorf("downloads: got %d, want 2", got)
	}
	if !reflect.DeepEqual(*sleeps, []time.Duration{2 * time.Second}) {
		t.Errorf("sleeps: got %v, want [2s]", *sleeps)
	}
	sent := net.Sent()
	if len(sent) != 1 || sent[0].Kind != "video" {
		t.Fatalf("sent: got %+v, want one video and no apology", sent)
	}
}

func TestHandle_ClipStopsWhenContextCancelled(t *testing.T) {
	t.Parallel()
	net := &fakeNetwork{downloadErrs: []error{errors.New("a"), errors.New("b"), errors.New("c")}}
	d, _ := newTestDispatcher(t, net)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d.Handle(ctx, &InboundEvent{ID: "m1", Chat: testChat, Content: VideoContent{}})

	if got := net.Downloads(); got != 1 {
		t.Errorf("downloads: got %d, want 1", got)
	}
	if sent := net.Sent(); len(sent) != 0 {
		t.Errorf("sent: got %+v, want nothing after cancellation", sent)
	}
}

func TestHandle_StickerGetsCannedReply(t *testing.T) {
	t.Parallel()
	net := &fakeNetwork{}
	d, _ := newTestDispatcher(t, net)

	d.Handle(context.Background(), &InboundEvent{ID: "m1", Chat: testChat, Content: StickerContent{}})

	sent := net.Sent()
	if len(sent) != 1 || sent[0].Text != d.messages.StickerReply {
		t.Fatalf("sent: got %+v, want sticker reply", sent)
	}
	if net.Downloads() != 0 {
		t.Error("sticker reply should not download media")
	}
}

func TestHandle_TextCommands(t *testing.T) {
	t.Parallel()
	tests := []struct {
		body string
		want func(m Messages) string
	}{
		{"ping", func(m Messages) string { return m.Ping }},
		{"  PING  ", func(m Messages) string { return m.Ping }},
		{"help", func(m Messages) string { return m.Help }},
		{"Bantuan dong", func(m Messages) string { return m.Help }},
		{"info", func(m Messages) string { return m.Info }},
		{"hello there", func(m Messages) string { return m.Prompt }},
		{" \t ", func(m Messages) string { return m.Prompt }},
	}
	for _, tt := range tests {
		t.Run(tt.body, func(t *testing.T) {
			t.Parallel()
			net := &fakeNetwork{}
			d, _ := newTestDispatcher(t, net)

			d.Handle(context.Background(), &InboundEvent{ID: "m1", Chat: testChat, Content: TextContent{Body: tt.body}})

			sent := net.Sent()
			if len(sent) != 1 {
				t.Fatalf("sent: got %d messages, want 1", len(sent))
			}
			if want := tt.want(d.messages); sent[0].Text != want {
				t.Errorf("reply: got %q, want %q", sent[0].Text, want)
			}
		})
	}
}

func TestHandle_IgnoredContent(t *testing.T) {
	t.Parallel()
	for _, content := range []Content{
		UnrecognizedContent{Type: "contactMessage"},
		DocumentContent{MimeType: "application/zip"},
		nil,
	} {
		net := &fakeNetwork{}
		d, _ := newTestDispatcher(t, net)
		d.Handle(context.Background(), &InboundEvent{ID: "m1", Chat: testChat, Content: content})
		if sent := net.Sent(); len(sent) != 0 {
			t.Errorf("%T: sent %+v, want nothing", content, sent)
		}
	}
}

func TestHandle_SendFailureIsLogged(t *testing.T) {
	t.Parallel()
	net := &fakeNetwork{sendErr: errors.New("socket closed")}
	d, _ := newTestDispatcher(t, net)

	// Must not panic or block.
	d.Handle(context.Background(), &InboundEvent{ID: "m1", Chat: testChat, Content: TextContent{Body: "ping"}})
}

type panickingReplier struct{ fakeNetwork }

func (p *panickingReplier) SendText(context.Context, string, string) error {
	panic("boom")
}

func TestHandle_RecoversFromPanic(t *testing.T) {
	t.Parallel()
	d, _ := newTestDispatcher(t, &panickingReplier{})

	d.Handle(context.Background(), &InboundEvent{ID: "m1", Chat: testChat, Content: TextContent{Body: "ping"}})
}

func TestConversionAttemptLogObject(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := zerolog.New(&buf)
	conv := &ConversionAttempt{
		ID:          uuid.MustParse("9b2a4c3e-1f6d-4a8b-9c0e-2d3f4a5b6c7d"),
		Kind:        ConversionClip,
		Attempt:     2,
		MaxAttempts: 3,
		BackoffBase: time.Second,
	}
	log.Info().Object("conversion", conv).Msg("test")

	out := buf.String()
	for _, want := range []string{
		`"id":"9b2a4c3e-1f6d-4a8b-9c0e-2d3f4a5b6c7d"`,
		`"kind":"clip"`,
		`"attempt":2`,
		`"max_attempts":3`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("log output %s missing %s", out, want)
		}
	}
}
