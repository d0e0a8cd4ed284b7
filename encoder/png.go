// Package encoder provides the QR capabilities the renderer draws with: PNG
// via skip2/go-qrcode, SVG via rsc.io/qr and terminal text via qrterminal.
package encoder

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"

	"github.com/skip2/go-qrcode"

	"github.com/wakafine/ticketqr/render"
)

// PNG encodes payloads as PNG images of exactly Width x Height pixels.
type PNG struct{}

func (PNG) Format() string { return FormatPNG }

func (PNG) Encode(ctx context.Context, payload string, opts render.Options) (*render.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q, err := qrcode.New(payload, recoveryLevel(opts.ErrorCorrection))
	if err != nil {
		return nil, fmt.Errorf("qrcode new: %w", err)
	}
	q.DisableBorder = true

	dark, err := render.ParseHexColor(opts.ColorDark)
	if err != nil {
		return nil, err
	}
	light, err := render.ParseHexColor(opts.ColorLight)
	if err != nil {
		return nil, err
	}

	img, err := rasterize(q.Bitmap(), opts.Margin, opts.Width, opts.Height, dark, light)
	if err != nil {
		return nil, err
	}
	bounds := img.Bounds()

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("png encode: %w", err)
	}

	return &render.Artifact{
		Payload: payload,
		MIME:    "image/png",
		Data:    buf.Bytes(),
		Width:   bounds.Dx(),
		Height:  bounds.Dy(),
	}, nil
}

// rasterize scales the module grid, padded by margin quiet-zone modules,
// into a width x height two-colour image. A size smaller than the grid is
// raised to one pixel per module; targets scale the result for display.
func rasterize(bitmap [][]bool, margin, width, height int, dark, light color.Color) (*image.Paletted, error) {
	n := len(bitmap)
	if n == 0 {
		return nil, fmt.Errorf("empty qr bitmap")
	}
	total := n + 2*margin
	width, height = max(width, total), max(height, total)

	img := image.NewPaletted(image.Rect(0, 0, width, height), color.Palette{light, dark})
	for y := 0; y < height; y++ {
		my := y*total/height - margin
		for x := 0; x < width; x++ {
			mx := x*total/width - margin
			if my >= 0 && my < n && mx >= 0 && mx < len(bitmap[my]) && bitmap[my][mx] {
				img.SetColorIndex(x, y, 1)
			}
		}
	}
	return img, nil
}

func recoveryLevel(l render.Level) qrcode.RecoveryLevel {
	switch l {
	case render.LevelL:
		return qrcode.Low
	case render.LevelM:
		return qrcode.Medium
	case render.LevelQ:
		return qrcode.High
	default:
		return qrcode.Highest
	}
}
