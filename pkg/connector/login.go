// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"fmt"
	"io"

	"github.com/skip2/go-qrcode"
)

// ScanCodeRenderer shows a pairing code to the operator.
type ScanCodeRenderer interface {
	RenderScanCode(code string)
}

// TerminalQR prints scan codes as half-block QR codes.
type TerminalQR struct {
	Out io.Writer
}

func NewTerminalQR(out io.Writer) *TerminalQR {
	return &TerminalQR{Out: out}
}

func (t *TerminalQR) RenderScanCode(code string) {
	qr, err := qrcode.New(code, qrcode.Low)
	if err != nil {
		fmt.Fprintf(t.Out, "Failed to render QR code (%v), raw scan code:\n%s\n", err, code)
		return
	}
	fmt.Fprintf(t.Out, "\nScan this QR code with WhatsApp (Settings > Linked Devices > Link a Device):\n\n%s\n",
		qr.ToSmallString(false))
}

// scanCodePNG renders code as a PNG of the given edge length.
func scanCodePNG(code string, size int) ([]byte, error) {
	return qrcode.Encode(code, qrcode.Medium, size)
}
