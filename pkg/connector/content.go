// Copyright 2024-2026 Aiku AI

package connector

import "time"

// Content is the classified payload of an inbound message. The set of
// implementations is closed: only this package can add one.
type Content interface {
	isContent()
}

type ImageContent struct {
	MimeType string
}

type VideoContent struct {
	MimeType     string
	LoopPlayback bool
}

// DocumentContent is a file attachment; image and video documents are
// converted like their inline counterparts.
type DocumentContent struct {
	MimeType string
	FileName string
}

type StickerContent struct{}

type TextContent struct {
	Body string
}

// UnrecognizedContent covers everything the bot ignores, such as contact
// cards, locations and reactions.
type UnrecognizedContent struct {
	Type string
}

func (ImageContent) isContent()        {}
func (VideoContent) isContent()        {}
func (DocumentContent) isContent()     {}
func (StickerContent) isContent()      {}
func (TextContent) isContent()         {}
func (UnrecognizedContent) isContent() {}

// MediaRef is an opaque handle that the Network resolves to media bytes.
type MediaRef any

// InboundEvent is one received message.
type InboundEvent struct {
	ID        string
	Chat      string
	Sender    string
	PushName  string
	FromMe    bool
	Timestamp time.Time
	Content   Content
	Media     MediaRef
}
