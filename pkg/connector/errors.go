// Copyright 2024-2026 Aiku AI

package connector

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotConnected is returned by send and download calls while no
	// session is established, including while a restart is tearing down
	// the previous one.
	ErrNotConnected = errors.New("not connected to WhatsApp")
	// ErrStopped is returned by Restart after Stop has been called.
	ErrStopped = errors.New("connector stopped")
	// ErrCredentialLoad is wrapped by NetworkFactory implementations when the
	// credential store cannot be read.
	ErrCredentialLoad = errors.New("failed to load credentials")
	// ErrMediaDecrypt is wrapped by Network implementations when downloaded
	// media fails decryption or integrity checks.
	ErrMediaDecrypt = errors.New("media decryption failed")
)

// CredentialLoadError is fatal: the process cannot recover without an
// operator fixing the credential store.
type CredentialLoadError struct {
	Err error
}

func (e *CredentialLoadError) Error() string {
	return fmt.Sprintf("credential load failed: %v", e.Err)
}

func (e *CredentialLoadError) Unwrap() error { return e.Err }

// ConnectivityLostError describes why the session closed.
type ConnectivityLostError struct {
	Reason DisconnectReason
	Code   int
	Final  bool
}

func (e *ConnectivityLostError) Error() string {
	return fmt.Sprintf("connectivity lost: %s (code %d, final: %t)", e.Reason, e.Code, e.Final)
}

// MediaDownloadError wraps a failure to fetch or decrypt inbound media.
type MediaDownloadError struct {
	Err error
}

func (e *MediaDownloadError) Error() string {
	return fmt.Sprintf("failed to download media: %v", e.Err)
}

func (e *MediaDownloadError) Unwrap() error { return e.Err }

// SendFailureError wraps a failure to deliver a reply.
type SendFailureError struct {
	Kind string
	Err  error
}

func (e *SendFailureError) Error() string {
	return fmt.Sprintf("failed to send %s: %v", e.Kind, e.Err)
}

func (e *SendFailureError) Unwrap() error { return e.Err }

// decryptPatterns are lowercase substrings seen in media cipher failures.
var decryptPatterns = []string{
	"decrypt",
	"cipher",
	"bad mac",
	"hmac",
	"unable to authenticate data",
}

// isDecryptFailure reports whether err looks like a media decryption
// failure, where the user should resend the same file.
func isDecryptFailure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrMediaDecrypt) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range decryptPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
