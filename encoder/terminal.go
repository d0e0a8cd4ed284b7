package encoder

import (
	"bytes"
	"context"

	"github.com/mdp/qrterminal/v3"

	"github.com/wakafine/ticketqr/render"
)

// Terminal encodes payloads as half-block text for printing to a terminal.
// Size and colour options do not apply; the terminal's own colours are used.
type Terminal struct{}

func (Terminal) Format() string { return FormatTerminal }

func (Terminal) Encode(ctx context.Context, payload string, opts render.Options) (*render.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	qrterminal.GenerateHalfBlock(payload, qrLevel(opts.ErrorCorrection), &buf)
	return &render.Artifact{
		Payload: payload,
		MIME:    "text/plain; charset=utf-8",
		Data:    buf.Bytes(),
		Width:   opts.Width,
		Height:  opts.Height,
	}, nil
}
