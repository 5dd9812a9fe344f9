// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package wanet

import (
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/aiku/wa-stickerbot/pkg/connector"
)

// translateEvent maps a whatsmeow event to a connector signal. Events the
// bot does not care about map to nil.
func translateEvent(evt any) connector.Event {
	switch e := evt.(type) {
	case *events.Connected:
		return &connector.ConnectivityEvent{Open: true}
	case *events.PairSuccess:
		return &connector.CredentialsRotatedEvent{ID: e.ID.String()}
	case *events.LoggedOut:
		return &connector.ConnectivityEvent{
			Reason: connector.ReasonLoggedOut,
			Code:   int(e.Reason),
		}
	case *events.StreamReplaced:
		return &connector.ConnectivityEvent{Reason: connector.ReasonStreamReplaced}
	case *events.ClientOutdated:
		return &connector.ConnectivityEvent{
			Reason: connector.ReasonClientOutdated,
			Code:   int(events.ConnectFailureClientOutdated),
		}
	case *events.TemporaryBan:
		return &connector.ConnectivityEvent{
			Reason:  connector.ReasonTemporaryBan,
			Code:    int(e.Code),
			Message: e.String(),
		}
	case *events.ConnectFailure:
		return &connector.ConnectivityEvent{
			Reason:  connector.ReasonConnectFailure,
			Code:    int(e.Reason),
			Message: e.Message,
		}
	case *events.Disconnected:
		return &connector.ConnectivityEvent{Reason: connector.ReasonConnectionLost}
	case *events.Message:
		return &connector.InboundBatchEvent{Events: []connector.InboundEvent{convertMessage(e)}}
	default:
		return nil
	}
}

// translateQRItem maps a pairing channel item to a connector signal.
func translateQRItem(item whatsmeow.QRChannelItem) connector.Event {
	switch item.Event {
	case whatsmeow.QRChannelEventCode:
		return &connector.ScanCodeEvent{Code: item.Code, Timeout: item.Timeout}
	case whatsmeow.QRChannelSuccess.Event:
		return nil
	case whatsmeow.QRChannelTimeout.Event:
		return &connector.ConnectivityEvent{Reason: connector.ReasonScanTimeout, Message: "scan codes expired"}
	case whatsmeow.QRChannelClientOutdated.Event:
		return &connector.ConnectivityEvent{
			Reason: connector.ReasonClientOutdated,
			Code:   int(events.ConnectFailureClientOutdated),
		}
	case whatsmeow.QRChannelEventError:
		msg := "pairing failed"
		if item.Error != nil {
			msg = item.Error.Error()
		}
		return &connector.ConnectivityEvent{Reason: connector.ReasonConnectFailure, Message: msg}
	default:
		return &connector.ConnectivityEvent{Reason: connector.ReasonConnectFailure, Message: item.Event}
	}
}
