package render

import (
	"fmt"
	"image/color"
	"strings"

	colorful "github.com/lucasb-eyer/go-colorful"
)

// ParseHexColor parses "#rgb" or "#rrggbb", with or without the "#", into an
// opaque colour.
func ParseHexColor(s string) (color.RGBA, error) {
	c, err := parseHex(s)
	if err != nil {
		return color.RGBA{}, err
	}
	r, g, b := c.RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 0xff}, nil
}

// NormalizeHexColor returns s in the "#rrggbb" form markup attributes expect.
func NormalizeHexColor(s string) (string, error) {
	c, err := parseHex(s)
	if err != nil {
		return "", err
	}
	return c.Hex(), nil
}

func parseHex(s string) (colorful.Color, error) {
	h := strings.TrimSpace(s)
	if !strings.HasPrefix(h, "#") {
		h = "#" + h
	}
	// colorful.Hex stops scanning early and would accept trailing junk.
	if len(h) != 4 && len(h) != 7 {
		return colorful.Color{}, fmt.Errorf("invalid hex colour %q", s)
	}
	c, err := colorful.Hex(h)
	if err != nil {
		return colorful.Color{}, fmt.Errorf("invalid hex colour %q", s)
	}
	return c, nil
}
