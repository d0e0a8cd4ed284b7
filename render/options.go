package render

import (
	"fmt"
	"strings"
)

// Level is a QR error correction level.
type Level string

const (
	LevelL Level = "L"
	LevelM Level = "M"
	LevelQ Level = "Q"
	LevelH Level = "H"
)

// ParseLevel accepts L, M, Q or H in any case.
func ParseLevel(s string) (Level, error) {
	switch l := Level(strings.ToUpper(strings.TrimSpace(s))); l {
	case LevelL, LevelM, LevelQ, LevelH:
		return l, nil
	}
	return "", fmt.Errorf("unknown error correction level %q", s)
}

// NoMargin asks for a zero quiet zone. A plain zero Margin means "unset" and
// cannot override a configured margin.
const NoMargin = -1

// Options controls how a code is drawn. Zero fields fall back to Defaults.
// Margin is in modules; set it to NoMargin to force zero.
type Options struct {
	Width           int    `json:"width,omitempty" yaml:"width"`
	Height          int    `json:"height,omitempty" yaml:"height"`
	Margin          int    `json:"margin,omitempty" yaml:"margin"`
	ErrorCorrection Level  `json:"error_correction,omitempty" yaml:"error_correction"`
	ColorDark       string `json:"color_dark,omitempty" yaml:"color_dark"`
	ColorLight      string `json:"color_light,omitempty" yaml:"color_light"`
}

// Defaults returns the options used when a caller leaves a field unset.
func Defaults() Options {
	return Options{
		Width:           130,
		Height:          130,
		Margin:          0,
		ErrorCorrection: LevelH,
		ColorDark:       "#2563eb",
		ColorLight:      "#ffffff",
	}
}

// Merge returns o with every non-zero field of over applied on top. A
// negative Margin in over resets the margin to zero.
func (o Options) Merge(over Options) Options {
	if over.Width > 0 {
		o.Width = over.Width
	}
	if over.Height > 0 {
		o.Height = over.Height
	}
	if over.Margin != 0 {
		o.Margin = max(over.Margin, 0)
	}
	if over.ErrorCorrection != "" {
		o.ErrorCorrection = over.ErrorCorrection
	}
	if over.ColorDark != "" {
		o.ColorDark = over.ColorDark
	}
	if over.ColorLight != "" {
		o.ColorLight = over.ColorLight
	}
	return o
}

// Resolve layers each of opts over Defaults in order.
func Resolve(opts ...Options) Options {
	out := Defaults()
	for _, o := range opts {
		out = out.Merge(o)
	}
	if out.Margin < 0 {
		out.Margin = 0
	}
	return out
}

// Validate rejects options an encoder cannot honour.
func (o Options) Validate() error {
	if o.Width <= 0 || o.Height <= 0 {
		return fmt.Errorf("invalid size %dx%d", o.Width, o.Height)
	}
	if o.Margin < 0 {
		return fmt.Errorf("invalid margin %d", o.Margin)
	}
	if _, err := ParseLevel(string(o.ErrorCorrection)); err != nil {
		return err
	}
	if _, err := ParseHexColor(o.ColorDark); err != nil {
		return fmt.Errorf("color_dark: %w", err)
	}
	if _, err := ParseHexColor(o.ColorLight); err != nil {
		return fmt.Errorf("color_light: %w", err)
	}
	return nil
}

// Size is the presentation size a target shows an image at, independent of
// the pixel size the encoder produced.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Size returns the presentation size implied by o.
func (o Options) Size() Size {
	return Size{Width: o.Width, Height: o.Height}
}
