package render

import (
	"bytes"
	"html/template"
	"strings"

	"github.com/wakafine/ticketqr/ticket"
)

// Fallback is the placeholder shown instead of a code. It is styled with a
// dashed border and a "QR CODE" caption so a degraded ticket is never
// mistaken for a scannable one.
type Fallback struct {
	PNR         string `json:"pnr"`
	Origin      string `json:"origin"`
	Destination string `json:"destination"`
	RoundTrip   bool   `json:"round_trip"`
	Reason      string `json:"reason"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
}

// NewFallback builds the placeholder for t.
func NewFallback(t ticket.Ticket, reason string, size Size) Fallback {
	pnr := strings.TrimSpace(t.PNR)
	if pnr == "" {
		pnr = "N/A"
	}
	return Fallback{
		PNR:         pnr,
		Origin:      dash(t.Origin),
		Destination: dash(t.Destination),
		RoundTrip:   t.HasReturnTrip(),
		Reason:      reason,
		Width:       size.Width,
		Height:      size.Height,
	}
}

var fallbackTmpl = template.Must(template.New("fallback").Parse(`<div class="qr-fallback" data-reason="{{.Reason}}" style="width: {{.Width}}px; height: {{.Height}}px; border: 2px dashed #6b7280; border-radius: 8px; display: flex; align-items: center; justify-content: center; background: #f9fafb; margin: 0 auto; -webkit-print-color-adjust: exact; print-color-adjust: exact;">
  <div style="text-align: center; color: #374151;">
    <div style="font-size: 12px; font-weight: bold; margin-bottom: 4px;">QR CODE</div>
    <div class="qr-fallback-pnr" style="font-size: 11px; font-family: monospace; font-weight: bold; word-break: break-all;">{{.PNR}}</div>
    <div style="font-size: 10px; margin-top: 2px;">{{.Origin}} → {{.Destination}}</div>
    {{- if .RoundTrip}}
    <div style="font-size: 9px; margin-top: 2px; color: #1d4ed8;">ROUND TRIP</div>
    {{- end}}
    <div style="font-size: 8px; margin-top: 4px; opacity: 0.7;">SCAN TO VERIFY</div>
  </div>
</div>`))

// HTML returns the placeholder markup. It cannot fail: every field is plain
// text escaped by html/template.
func (f Fallback) HTML() string {
	if f.Width <= 0 {
		f.Width = Defaults().Width
	}
	if f.Height <= 0 {
		f.Height = Defaults().Height
	}
	var buf bytes.Buffer
	if err := fallbackTmpl.Execute(&buf, f); err != nil {
		return template.HTMLEscapeString("QR CODE " + f.PNR + " SCAN TO VERIFY")
	}
	return buf.String()
}

// Text returns the placeholder as plain lines for terminals and messages.
func (f Fallback) Text() string {
	lines := []string{"QR CODE", f.PNR, f.Origin + " → " + f.Destination}
	if f.RoundTrip {
		lines = append(lines, "ROUND TRIP")
	}
	lines = append(lines, "SCAN TO VERIFY")
	return strings.Join(lines, "\n")
}

func dash(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "-"
	}
	return v
}
