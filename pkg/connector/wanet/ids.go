// Copyright 2024-2026 Aiku AI

package wanet

import (
	"fmt"

	"go.mau.fi/whatsmeow/types"
)

// MakeChatID converts a WhatsApp JID into the chat identifier used by the
// connector.
func MakeChatID(jid types.JID) string {
	return jid.String()
}

// ParseChatID converts a connector chat identifier back into a JID.
func ParseChatID(chat string) (types.JID, error) {
	jid, err := types.ParseJID(chat)
	if err != nil {
		return types.EmptyJID, fmt.Errorf("invalid chat ID %q: %w", chat, err)
	}
	if jid.IsEmpty() || jid.User == "" {
		return types.EmptyJID, fmt.Errorf("invalid chat ID %q: missing user", chat)
	}
	return jid, nil
}

// MakeMessageID returns the connector message identifier for a WhatsApp
// message ID.
func MakeMessageID(id types.MessageID) string {
	return string(id)
}
