// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package wanet

import (
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/aiku/wa-stickerbot/pkg/connector"
)

// convertMessage turns a whatsmeow message event into an InboundEvent. The
// media submessage is kept as the MediaRef so DownloadMedia can fetch it.
func convertMessage(evt *events.Message) connector.InboundEvent {
	content, media := classifyMessage(evt.Message)
	return connector.InboundEvent{
		ID:        MakeMessageID(evt.Info.ID),
		Chat:      MakeChatID(evt.Info.Chat),
		Sender:    MakeChatID(evt.Info.Sender),
		PushName:  evt.Info.PushName,
		FromMe:    evt.Info.IsFromMe,
		Timestamp: evt.Info.Timestamp,
		Content:   content,
		Media:     media,
	}
}

func classifyMessage(msg *waE2E.Message) (connector.Content, connector.MediaRef) {
	if msg == nil {
		return connector.UnrecognizedContent{}, nil
	}
	if inner := unwrapMessage(msg); inner != msg {
		return classifyMessage(inner)
	}
	switch {
	case msg.GetImageMessage() != nil:
		img := msg.GetImageMessage()
		return connector.ImageContent{MimeType: img.GetMimetype()}, img
	case msg.GetVideoMessage() != nil:
		vid := msg.GetVideoMessage()
		return connector.VideoContent{MimeType: vid.GetMimetype(), LoopPlayback: vid.GetGifPlayback()}, vid
	case msg.GetDocumentMessage() != nil:
		doc := msg.GetDocumentMessage()
		return connector.DocumentContent{MimeType: doc.GetMimetype(), FileName: doc.GetFileName()}, doc
	case msg.GetStickerMessage() != nil:
		return connector.StickerContent{}, nil
	case msg.GetConversation() != "":
		return connector.TextContent{Body: msg.GetConversation()}, nil
	case msg.GetExtendedTextMessage().GetText() != "":
		return connector.TextContent{Body: msg.GetExtendedTextMessage().GetText()}, nil
	default:
		return connector.UnrecognizedContent{Type: messageType(msg)}, nil
	}
}

// unwrapMessage returns the payload of wrapper messages (view once,
// ephemeral, documents with captions), or msg itself.
func unwrapMessage(msg *waE2E.Message) *waE2E.Message {
	switch {
	case msg.GetEphemeralMessage().GetMessage() != nil:
		return msg.GetEphemeralMessage().GetMessage()
	case msg.GetViewOnceMessage().GetMessage() != nil:
		return msg.GetViewOnceMessage().GetMessage()
	case msg.GetViewOnceMessageV2().GetMessage() != nil:
		return msg.GetViewOnceMessageV2().GetMessage()
	case msg.GetDocumentWithCaptionMessage().GetMessage() != nil:
		return msg.GetDocumentWithCaptionMessage().GetMessage()
	default:
		return msg
	}
}

// messageType returns the name of the first populated field, e.g.
// "locationMessage", for logging ignored messages.
func messageType(msg *waE2E.Message) string {
	name := "unknown"
	msg.ProtoReflect().Range(func(fd protoreflect.FieldDescriptor, _ protoreflect.Value) bool {
		name = fd.JSONName()
		return false
	})
	return name
}
