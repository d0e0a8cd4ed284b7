// Package ticket defines the booking data a ticket QR code is rendered from
// and the payloads derived from it.
package ticket

import (
	"errors"
	"strings"
)

// ErrMissingPNR is returned by Validate when the booking reference is blank.
var ErrMissingPNR = errors.New("ticket: pnr is required")

// ErrInvalidPNR is returned for references made only of dots, which would
// resolve to a different page once placed in a ticket URL.
var ErrInvalidPNR = errors.New("ticket: pnr must not consist only of dots")

// Ticket is a single bus booking as supplied by the caller. It is read-only
// for the renderer and built fresh for every render.
type Ticket struct {
	PNR            string  `json:"pnr" yaml:"pnr"`
	PassengerName  string  `json:"passenger_name" yaml:"passenger_name"`
	PassengerPhone string  `json:"passenger_phone,omitempty" yaml:"passenger_phone"`
	Origin         string  `json:"origin" yaml:"origin"`
	Destination    string  `json:"destination" yaml:"destination"`
	TravelDate     string  `json:"travel_date" yaml:"travel_date"`
	TravelTime     string  `json:"travel_time" yaml:"travel_time"`
	BusName        string  `json:"bus_name" yaml:"bus_name"`
	SeatNumber     string  `json:"seat_number" yaml:"seat_number"`
	AmountPaid     float64 `json:"amount_paid" yaml:"amount_paid"`
	PaymentMethod  string  `json:"payment_method" yaml:"payment_method"`
	Status         string  `json:"status" yaml:"status"`
	IsRoundTrip    bool    `json:"is_round_trip" yaml:"is_round_trip"`
	ReturnDate     string  `json:"return_date,omitempty" yaml:"return_date"`
	ReturnTime     string  `json:"return_time,omitempty" yaml:"return_time"`
	ReturnBus      string  `json:"return_bus,omitempty" yaml:"return_bus"`
	ReturnSeat     string  `json:"return_seat,omitempty" yaml:"return_seat"`
}

// Validate reports whether t carries the minimum needed to render a code.
func (t Ticket) Validate() error {
	pnr := strings.TrimSpace(t.PNR)
	if pnr == "" {
		return ErrMissingPNR
	}
	if strings.Trim(pnr, ".") == "" {
		return ErrInvalidPNR
	}
	return nil
}

// HasReturnTrip reports whether return-leg details belong in the payload.
// The round-trip flag alone is not enough: at least one return field must be
// populated, otherwise the ticket is treated as one-way.
func (t Ticket) HasReturnTrip() bool {
	if !t.IsRoundTrip {
		return false
	}
	for _, v := range []string{t.ReturnDate, t.ReturnTime, t.ReturnBus, t.ReturnSeat} {
		if strings.TrimSpace(v) != "" {
			return true
		}
	}
	return false
}

// TripType returns the human label printed on tickets.
func (t Ticket) TripType() string {
	if t.HasReturnTrip() {
		return "Round Trip"
	}
	return "One Way"
}

// Route returns "Origin → Destination" with "-" for blank ends.
func (t Ticket) Route() string {
	return orDash(t.Origin) + " → " + orDash(t.Destination)
}

func orDash(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "-"
	}
	return v
}
