// Package compose flattens an original photo and its edited result into a
// single downloadable image. The edited image is layered over the original
// at a caller-supplied opacity, matching the blend slider in the UI.
package compose

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"

	xdraw "golang.org/x/image/draw"

	// Register decoders for the formats the upload path accepts.
	_ "image/gif"
	_ "image/jpeg"
	_ "golang.org/x/image/webp"
)

// ErrInvalidOpacity is returned when opacity is outside [0, 1].
var ErrInvalidOpacity = errors.New("opacity must be between 0 and 1")

// Flatten composites the edited image over the original at the given
// opacity and returns the result encoded as PNG.
//
// The output has the original's dimensions; the edited image is scaled to
// match if the service returned a different size. Opacity 1 shows only
// the edit, 0 only the original. Pure function of its inputs.
func Flatten(original, edited []byte, opacity float64) ([]byte, error) {
	if opacity < 0 || opacity > 1 {
		return nil, ErrInvalidOpacity
	}

	base, _, err := image.Decode(bytes.NewReader(original))
	if err != nil {
		return nil, fmt.Errorf("failed to decode original image: %w", err)
	}
	overlay, _, err := image.Decode(bytes.NewReader(edited))
	if err != nil {
		return nil, fmt.Errorf("failed to decode edited image: %w", err)
	}

	bounds := base.Bounds()
	dst := image.NewRGBA(bounds)
	draw.Draw(dst, bounds, base, bounds.Min, draw.Src)

	if overlay.Bounds() != bounds {
		scaled := image.NewRGBA(bounds)
		xdraw.CatmullRom.Scale(scaled, bounds, overlay, overlay.Bounds(), xdraw.Over, nil)
		overlay = scaled
	}

	alpha := uint8(opacity*255 + 0.5)
	mask := image.NewUniform(color.Alpha{A: alpha})
	draw.DrawMask(dst, bounds, overlay, bounds.Min, mask, image.Point{}, draw.Over)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("failed to encode flattened image: %w", err)
	}
	return buf.Bytes(), nil
}
