// Package imaging downscales images before they are staged. It is the only
// image transformation the pipeline performs.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

var ErrUndecodable = errors.New("image cannot be decoded")

const jpegQuality = 90

// Result is the outcome of Downscale.
type Result struct {
	Data        []byte
	ContentType string
	Width       int
	Height      int
	Scaled      bool
}

// Config reads the dimensions of an encoded image without decoding pixels.
func Config(data []byte) (image.Config, string, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return image.Config{}, "", fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	return cfg, format, nil
}

// Downscale shrinks data so neither side exceeds maxDim, preserving the
// aspect ratio. Images already within bounds are returned unchanged. JPEG
// input is re-encoded as JPEG, everything else as PNG.
func Downscale(data []byte, contentType string, maxDim int) (Result, error) {
	cfg, _, err := Config(data)
	if err != nil {
		return Result{}, err
	}
	if maxDim <= 0 || (cfg.Width <= maxDim && cfg.Height <= maxDim) {
		return Result{Data: data, ContentType: contentType, Width: cfg.Width, Height: cfg.Height}, nil
	}

	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}

	w, h := fit(cfg.Width, cfg.Height, maxDim)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)

	var buf bytes.Buffer
	outType := "image/png"
	if format == "jpeg" {
		outType = "image/jpeg"
		err = jpeg.Encode(&buf, dst, &jpeg.Options{Quality: jpegQuality})
	} else {
		err = png.Encode(&buf, dst)
	}
	if err != nil {
		return Result{}, fmt.Errorf("encoding %s: %w", outType, err)
	}
	return Result{Data: buf.Bytes(), ContentType: outType, Width: w, Height: h, Scaled: true}, nil
}

func fit(w, h, maxDim int) (int, int) {
	if w >= h {
		nh := h * maxDim / w
		return maxDim, max(nh, 1)
	}
	nw := w * maxDim / h
	return max(nw, 1), maxDim
}
