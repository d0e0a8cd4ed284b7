package encoder

import (
	"fmt"
	"strings"

	"github.com/wakafine/ticketqr/render"
)

const (
	FormatPNG      = "png"
	FormatSVG      = "svg"
	FormatTerminal = "terminal"
)

// New returns the encoder for format.
func New(format string) (render.Encoder, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatPNG:
		return PNG{}, nil
	case FormatSVG:
		return SVG{}, nil
	case FormatTerminal:
		return Terminal{}, nil
	}
	return nil, fmt.Errorf("unknown qr format %q", format)
}
