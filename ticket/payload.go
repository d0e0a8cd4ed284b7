package ticket

import (
	"fmt"
	"math"
	"net/url"
	"strings"

	"github.com/dustin/go-humanize"
)

// PayloadMode selects what the QR code encodes.
type PayloadMode string

const (
	// PayloadText encodes the booking details inline as a multi-line block.
	PayloadText PayloadMode = "text"
	// PayloadURL encodes a link to the canonical ticket page.
	PayloadURL PayloadMode = "url"
)

// textHeader is the first line of every inline payload.
const textHeader = "WAKA-FINE TICKET"

// ParsePayloadMode accepts "text" or "url" (case-insensitive). Empty means text.
func ParsePayloadMode(s string) (PayloadMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(PayloadText):
		return PayloadText, nil
	case string(PayloadURL):
		return PayloadURL, nil
	}
	return "", fmt.Errorf("unknown payload mode %q", s)
}

// Build derives the QR payload for t in the given mode. baseURL is only
// consulted for PayloadURL.
func Build(t Ticket, mode PayloadMode, baseURL string) (string, error) {
	if err := t.Validate(); err != nil {
		return "", err
	}
	switch mode {
	case PayloadURL:
		return BuildURL(baseURL, t)
	case PayloadText, "":
		return BuildText(t), nil
	}
	return "", fmt.Errorf("unknown payload mode %q", mode)
}

// BuildText lays the booking out one "Label: value" pair per line. Return
// leg lines appear only for genuine round trips, and only the populated ones.
func BuildText(t Ticket) string {
	lines := []string{
		textHeader,
		"PNR: " + strings.TrimSpace(t.PNR),
		"Passenger: " + orDash(t.PassengerName),
		"Route: " + orDash(t.Origin) + " to " + orDash(t.Destination),
		"Date: " + orDash(t.TravelDate),
		"Time: " + orDash(t.TravelTime),
		"Bus: " + orDash(t.BusName),
		"Seat: " + orDash(t.SeatNumber),
		"Trip Type: " + t.TripType(),
	}

	if t.HasReturnTrip() {
		for _, f := range []struct{ label, value string }{
			{"Return Date", t.ReturnDate},
			{"Return Time", t.ReturnTime},
			{"Return Bus", t.ReturnBus},
			{"Return Seat", t.ReturnSeat},
		} {
			if v := strings.TrimSpace(f.value); v != "" {
				lines = append(lines, f.label+": "+v)
			}
		}
	}

	lines = append(lines,
		"Amount: "+FormatAmount(t.AmountPaid),
		"Payment: "+orDash(t.PaymentMethod),
		"Status: "+orDash(t.Status),
	)
	return strings.Join(lines, "\n")
}

// BuildURL returns the canonical ticket link <base>/tickets/<pnr>.
func BuildURL(baseURL string, t Ticket) (string, error) {
	if err := t.Validate(); err != nil {
		return "", err
	}
	base, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	if (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return "", fmt.Errorf("base url %q must be an absolute http(s) url", baseURL)
	}
	return base.JoinPath("tickets", url.PathEscape(strings.TrimSpace(t.PNR))).String(), nil
}

// FormatAmount renders a fare in leones with thousands separators and no
// decimals, e.g. "Le 1,250".
func FormatAmount(v float64) string {
	return "Le " + humanize.Comma(int64(math.Round(v)))
}
