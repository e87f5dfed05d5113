package testutil

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"
)

// pattern draws a deterministic gradient so different seeds give different bytes.
func pattern(w, h int, seed uint8) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8(x) + seed,
				G: uint8(y) ^ seed,
				B: seed,
				A: 255,
			})
		}
	}
	return img
}

// JPEGBytes encodes a w x h JPEG image.
func JPEGBytes(t *testing.T, w, h int, seed uint8) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, pattern(w, h, seed), &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

// PNGBytes encodes a w x h PNG image.
func PNGBytes(t *testing.T, w, h int, seed uint8) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, pattern(w, h, seed)))
	return buf.Bytes()
}

// DecodeSize returns the dimensions of an encoded image.
func DecodeSize(t *testing.T, data []byte) (int, int) {
	t.Helper()
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	return cfg.Width, cfg.Height
}
