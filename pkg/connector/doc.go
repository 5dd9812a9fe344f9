// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package connector implements a WhatsApp bot that turns images into
// stickers and videos into looping clips.
//
// # Core Types
//
// [StickerConnector] owns the session lifecycle. It opens a [Network]
// through a [NetworkFactory], tracks connectivity as a [Snapshot] that can
// be read without locking, rebuilds the session after a fixed delay when
// the link drops, and serves the control API returned by
// [StickerConnector.AdminHandler].
//
// [Dispatcher] handles one [InboundEvent] at a time from an ordered queue.
// Images become stickers, videos become looping clips (retried with
// exponential backoff), stickers get a canned reply and text goes to the
// [Responder].
//
// # Session generations
//
// Every session gets a generation number. Connectivity and scan-code
// signals from an older generation never change the current state, so a
// torn-down socket cannot mark a fresh one as disconnected. A logged-out
// session is final: nothing reconnects it until an operator calls
// POST /restart.
//
// # Sub-packages
//
//   - mediafmt converts images to WebP stickers and checks clip payloads.
//   - wanet implements [Network] on top of whatsmeow with a sqlite
//     credential store.
package connector
