// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import "fmt"

// codeClientRejected is the close code WhatsApp uses when it refuses the
// connection, most often because the network blocks the websocket.
const codeClientRejected = 405

// handleEvent processes an upstream signal from the session opened for gen.
func (sc *StickerConnector) handleEvent(gen uint64, evt Event) {
	switch e := evt.(type) {
	case *ScanCodeEvent:
		sc.handleScanCode(gen, e)
	case *ConnectivityEvent:
		sc.handleConnectivity(gen, e)
	case *CredentialsRotatedEvent:
		sc.handleCredentialsRotated(gen, e)
	case *InboundBatchEvent:
		sc.handleInboundBatch(e)
	default:
		sc.log.Trace().Str("event_type", fmt.Sprintf("%T", evt)).Msg("Unhandled network event")
	}
}

func (sc *StickerConnector) handleScanCode(gen uint64, evt *ScanCodeEvent) {
	prev, ok := sc.state.transition(gen, Snapshot{
		State:    StateAwaitingScan,
		ScanCode: evt.Code,
	})
	if !ok {
		sc.log.Debug().Uint64("generation", gen).Msg("Ignoring scan code for inactive session")
		return
	}
	sc.metrics.transition(StateAwaitingScan)
	sc.log.Info().
		Bool("superseded", prev.State == StateAwaitingScan).
		Dur("expires_in", evt.Timeout).
		Msg("Scan code received, waiting for pairing")
	if sc.renderer != nil {
		sc.renderer.RenderScanCode(evt.Code)
	}
}

func (sc *StickerConnector) handleConnectivity(gen uint64, evt *ConnectivityEvent) {
	if evt.Open {
		if _, ok := sc.state.transition(gen, Snapshot{State: StateConnected}); !ok {
			sc.log.Debug().Uint64("generation", gen).Msg("Ignoring connect for inactive session")
			return
		}
		sc.metrics.transition(StateConnected)
		sc.log.Info().Uint64("generation", gen).Msg("Connected to WhatsApp, bot is ready")
		return
	}

	final := evt.Reason == ReasonLoggedOut
	_, ok := sc.state.transition(gen, Snapshot{
		State:  StateDisconnected,
		Reason: evt.Reason,
		Code:   evt.Code,
		Final:  final,
	})
	if !ok {
		sc.log.Debug().Uint64("generation", gen).Str("reason", string(evt.Reason)).Msg("Ignoring disconnect for inactive session")
		return
	}
	sc.metrics.transition(StateDisconnected)

	lost := &ConnectivityLostError{Reason: evt.Reason, Code: evt.Code, Final: final}
	log := sc.log.With().Uint64("generation", gen).Logger()
	if evt.Code == codeClientRejected {
		log.Warn().Msg("WhatsApp rejected the connection (405), check that a firewall or proxy isn't blocking it")
	}
	if final {
		sc.cancelRebuild()
		log.Warn().Err(lost).Msg("Logged out from WhatsApp, not reconnecting. Restart to pair again")
		return
	}
	log.Warn().Err(lost).Str("detail", evt.Message).Msg("WhatsApp connection closed")
	sc.scheduleRebuild(gen)
}

func (sc *StickerConnector) handleCredentialsRotated(gen uint64, evt *CredentialsRotatedEvent) {
	s := sc.currentSession()
	if s == nil || s.gen != gen {
		return
	}
	if err := s.net.PersistCredentials(sc.runCtx); err != nil {
		sc.log.Error().Err(err).Str("device_id", evt.ID).Msg("Failed to persist credentials")
		return
	}
	sc.log.Info().Str("device_id", evt.ID).Msg("Credentials saved")
}

// handleInboundBatch queues received messages in order. Messages from an
// older session are still handled since they were already received.
func (sc *StickerConnector) handleInboundBatch(evt *InboundBatchEvent) {
	for _, in := range evt.Events {
		if in.FromMe {
			sc.log.Trace().Str("message_id", in.ID).Msg("Skipping own message")
			continue
		}
		if !sc.enqueue(in) {
			return
		}
	}
}
