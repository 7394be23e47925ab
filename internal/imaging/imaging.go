// Package imaging normalizes item photos: uploads are sniffed, shrunk to fit
// a bounding box and re-encoded as JPEG.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"io"
	"net/http"

	"golang.org/x/image/draw"
)

// Defaults for Options.
const (
	DefaultMaxDimension = 1024
	DefaultQuality      = 85
	DefaultMaxBytes     = 5 << 20
)

var (
	// ErrUnsupported is returned for data that is not a JPEG or PNG image.
	ErrUnsupported = errors.New("unsupported image format")
	// ErrTooLarge is returned when the upload exceeds Options.MaxBytes.
	ErrTooLarge = errors.New("image too large")
)

var allowedMIME = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
}

// Options controls Process. Zero fields take the defaults.
type Options struct {
	MaxDimension int
	Quality      int
	MaxBytes     int64
}

func (o Options) withDefaults() Options {
	if o.MaxDimension <= 0 {
		o.MaxDimension = DefaultMaxDimension
	}
	if o.Quality <= 0 || o.Quality > 100 {
		o.Quality = DefaultQuality
	}
	if o.MaxBytes <= 0 {
		o.MaxBytes = DefaultMaxBytes
	}
	return o
}

// Photo is a processed image.
type Photo struct {
	Data   []byte
	MIME   string
	Width  int
	Height int
}

// Process reads an upload, checks its real type from the bytes, fits it into
// MaxDimension on both sides and returns it as JPEG. Transparent areas
// become white.
func Process(r io.Reader, opts Options) (*Photo, error) {
	opts = opts.withDefaults()

	data, err := io.ReadAll(io.LimitReader(r, opts.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading image data: %w", err)
	}
	if int64(len(data)) > opts.MaxBytes {
		return nil, ErrTooLarge
	}

	// Client-supplied content types are not trusted.
	detected := http.DetectContentType(data)
	if !allowedMIME[detected] {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, detected)
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupported, err)
	}

	w, h := fit(src.Bounds().Dx(), src.Bounds().Dy(), opts.MaxDimension)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	if w == src.Bounds().Dx() && h == src.Bounds().Dy() {
		draw.Draw(dst, dst.Bounds(), src, src.Bounds().Min, draw.Over)
	} else {
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: opts.Quality}); err != nil {
		return nil, fmt.Errorf("encoding JPEG: %w", err)
	}

	return &Photo{Data: buf.Bytes(), MIME: "image/jpeg", Width: w, Height: h}, nil
}

// fit scales w×h down to fit within limit×limit, keeping the aspect ratio.
// Images already within bounds keep their size.
func fit(w, h, limit int) (int, int) {
	if w <= limit && h <= limit {
		return w, h
	}
	if w > h {
		return limit, clampMin(h * limit / w)
	}
	return clampMin(w * limit / h), limit
}

func clampMin(n int) int {
	if n < 1 {
		return 1
	}
	return n
}
