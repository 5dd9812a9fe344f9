// Copyright 2024-2026 Aiku AI

package mediafmt

// MakeClip validates a video payload for sending as a looping clip. The
// bytes are returned unchanged: looping is a delivery flag set by the
// sender, not a re-encode.
func MakeClip(data []byte, maxBytes int64) ([]byte, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if err := checkPayload(data, maxBytes); err != nil {
		return nil, err
	}
	return data, nil
}
