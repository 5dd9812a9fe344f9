// Copyright 2024-2026 Aiku AI

// Package mediafmt converts inbound media into sticker and looping-clip payloads.
package mediafmt

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/gen2brain/webp"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

var (
	ErrEmptyPayload      = errors.New("empty payload")
	ErrPayloadTooLarge   = errors.New("payload too large")
	ErrUnsupportedFormat = errors.New("unsupported image format")
)

const (
	DefaultStickerSize = 512
	DefaultQuality     = 90
	DefaultMethod      = 3
	DefaultMaxBytes    = 10 * 1024 * 1024

	// maxDimension and maxPixels bound the decoded source. 32 Mpx of NRGBA
	// is 128 MiB.
	maxDimension = 16384
	maxPixels    = 4096 * 4096 * 2
	maxMethod    = 6
)

// StickerOptions controls sticker rendering.
type StickerOptions struct {
	// Size is the edge length of the square output canvas.
	Size int
	// Quality is the lossy WebP quality, 1-100.
	Quality int
	// Method is the encoder effort, 0 (fast) to 6 (slowest).
	Method int
	// MaxBytes rejects larger inputs before decoding.
	MaxBytes int64
}

// DefaultStickerOptions returns the options used by WhatsApp-compatible stickers.
func DefaultStickerOptions() StickerOptions {
	return StickerOptions{
		Size:     DefaultStickerSize,
		Quality:  DefaultQuality,
		Method:   DefaultMethod,
		MaxBytes: DefaultMaxBytes,
	}
}

func (o StickerOptions) normalized() StickerOptions {
	if o.Size <= 0 {
		o.Size = DefaultStickerSize
	}
	if o.Quality <= 0 {
		o.Quality = DefaultQuality
	} else if o.Quality > 100 {
		o.Quality = 100
	}
	if o.Method < 0 {
		o.Method = 0
	} else if o.Method > maxMethod {
		o.Method = maxMethod
	}
	if o.MaxBytes <= 0 {
		o.MaxBytes = DefaultMaxBytes
	}
	return o
}

// ImageInfo is the header metadata of an encoded image.
type ImageInfo struct {
	Format string
	Width  int
	Height int
}

// Metadata reads the format and dimensions of an encoded image without
// decoding its pixels.
func Metadata(data []byte) (ImageInfo, error) {
	if len(data) == 0 {
		return ImageInfo{}, ErrEmptyPayload
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return ImageInfo{}, fmt.Errorf("%w: %w", ErrUnsupportedFormat, err)
	}
	return ImageInfo{Format: format, Width: cfg.Width, Height: cfg.Height}, nil
}

func checkPayload(data []byte, maxBytes int64) error {
	if len(data) == 0 {
		return ErrEmptyPayload
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrPayloadTooLarge, len(data), maxBytes)
	}
	return nil
}

// MakeSticker decodes data, fits it inside a transparent square canvas and
// encodes the result as lossy WebP with alpha. The output always has the
// configured canvas size, whatever the source dimensions.
func MakeSticker(data []byte, opts StickerOptions) ([]byte, error) {
	opts = opts.normalized()
	if err := checkPayload(data, opts.MaxBytes); err != nil {
		return nil, err
	}
	info, err := Metadata(data)
	if err != nil {
		return nil, err
	}
	if info.Width > maxDimension || info.Height > maxDimension {
		return nil, fmt.Errorf("%w: %dx%d image exceeds %d pixels per side",
			ErrPayloadTooLarge, info.Width, info.Height, maxDimension)
	}
	if info.Width*info.Height > maxPixels {
		return nil, fmt.Errorf("%w: %dx%d image exceeds %d pixels",
			ErrPayloadTooLarge, info.Width, info.Height, maxPixels)
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnsupportedFormat, err)
	}

	var buf bytes.Buffer
	err = webp.Encode(&buf, fitCanvas(src, opts.Size), webp.Options{
		Quality: opts.Quality,
		Method:  opts.Method,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode sticker: %w", err)
	}
	return buf.Bytes(), nil
}

// fitRect returns where a w×h source lands inside a size×size canvas when
// scaled to fit while keeping its aspect ratio.
func fitRect(w, h, size int) image.Rectangle {
	if w <= 0 || h <= 0 {
		return image.Rectangle{}
	}
	tw, th := size, size
	if w >= h {
		th = max(1, (h*size+w/2)/w)
	} else {
		tw = max(1, (w*size+h/2)/h)
	}
	x0 := (size - tw) / 2
	y0 := (size - th) / 2
	return image.Rect(x0, y0, x0+tw, y0+th)
}

// fitCanvas scales src into a size×size canvas. Pixels outside the fitted
// rectangle stay fully transparent.
func fitCanvas(src image.Image, size int) *image.NRGBA {
	dst := image.NewNRGBA(image.Rect(0, 0, size, size))
	b := src.Bounds()
	target := fitRect(b.Dx(), b.Dy(), size)
	if target.Empty() {
		return dst
	}
	draw.CatmullRom.Scale(dst, target, src, b, draw.Src, nil)
	return dst
}
