package encoder

import (
	"context"
	"fmt"
	"strings"

	"rsc.io/qr"

	"github.com/wakafine/ticketqr/render"
)

// SVG encodes payloads as self-contained SVG documents.
type SVG struct{}

func (SVG) Format() string { return FormatSVG }

func (SVG) Encode(ctx context.Context, payload string, opts render.Options) (*render.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	code, err := qr.Encode(payload, qrLevel(opts.ErrorCorrection))
	if err != nil {
		return nil, fmt.Errorf("qr encode: %w", err)
	}
	n := code.Size
	if n == 0 {
		return nil, fmt.Errorf("empty qr code")
	}
	dark, err := render.NormalizeHexColor(opts.ColorDark)
	if err != nil {
		return nil, err
	}
	light, err := render.NormalizeHexColor(opts.ColorLight)
	if err != nil {
		return nil, err
	}

	total := n + 2*opts.Margin
	var sb strings.Builder
	fmt.Fprintf(&sb,
		`<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 %d %d" width="%d" height="%d" shape-rendering="crispEdges">`,
		total, total, opts.Width, opts.Height)
	fmt.Fprintf(&sb, `<rect width="%d" height="%d" fill="%s"/>`, total, total, light)
	fmt.Fprintf(&sb, `<path fill="%s" d="`, dark)
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			if code.Black(x, y) {
				fmt.Fprintf(&sb, "M%d %dh1v1h-1z", x+opts.Margin, y+opts.Margin)
			}
		}
	}
	sb.WriteString(`"/></svg>`)

	return &render.Artifact{
		Payload: payload,
		MIME:    "image/svg+xml",
		Data:    []byte(sb.String()),
		Width:   opts.Width,
		Height:  opts.Height,
	}, nil
}

func qrLevel(l render.Level) qr.Level {
	switch l {
	case render.LevelL:
		return qr.L
	case render.LevelM:
		return qr.M
	case render.LevelQ:
		return qr.Q
	default:
		return qr.H
	}
}
