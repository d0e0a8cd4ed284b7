package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/wakafine/ticketqr/render"
	"github.com/wakafine/ticketqr/ticket"
)

// ErrNoRecipient is returned when neither the request nor the ticket has a
// phone number.
var ErrNoRecipient = errors.New("no recipient phone number")

// Sender is the part of Client that Delivery needs.
type Sender interface {
	SendText(ctx context.Context, to, message string) error
	SendTicketImage(ctx context.Context, to string, png []byte, caption string) error
}

// DeliveryResult describes what was sent.
type DeliveryResult struct {
	JobID  string `json:"job_id"`
	PNR    string `json:"pnr"`
	To     string `json:"to"`
	Kind   string `json:"kind"` // "image" or "text"
	State  string `json:"state"`
	Reason string `json:"reason,omitempty"`
}

// Delivery renders a ticket code and sends it over WhatsApp. When the render
// ends in a placeholder the passenger gets the placeholder text instead.
type Delivery struct {
	renderer *render.Renderer
	sender   Sender
	opts     render.Options
	log      *slog.Logger
}

// NewDelivery uses renderer to produce the code. The renderer should be
// backed by a PNG encoder; other formats are delivered as text.
func NewDelivery(renderer *render.Renderer, sender Sender, log *slog.Logger) *Delivery {
	return &Delivery{
		renderer: renderer,
		sender:   sender,
		opts:     render.Options{Width: 512, Height: 512, Margin: 2},
		log:      log,
	}
}

// Deliver sends t's code to phone, or to the passenger's phone when empty.
func (d *Delivery) Deliver(ctx context.Context, t ticket.Ticket, phone string) (DeliveryResult, error) {
	to := strings.TrimSpace(phone)
	if to == "" {
		to = strings.TrimSpace(t.PassengerPhone)
	}
	if to == "" {
		return DeliveryResult{}, ErrNoRecipient
	}

	capture := render.NewElement("whatsapp-" + t.PNR)
	out := d.renderer.RenderSync(ctx, t, capture, d.opts)

	res := DeliveryResult{
		JobID:  out.JobID,
		PNR:    out.PNR,
		To:     to,
		State:  string(out.State),
		Reason: out.Reason,
	}

	if a := capture.Artifact(); out.State == render.StateSucceeded && a != nil && a.MIME == "image/png" {
		res.Kind = "image"
		if err := d.sender.SendTicketImage(ctx, to, a.Data, Caption(t)); err != nil {
			return res, fmt.Errorf("deliver ticket %s: %w", t.PNR, err)
		}
		d.log.Info("ticket code delivered", "pnr", t.PNR, "job_id", out.JobID)
		return res, nil
	}

	if out.State == render.StateFailed {
		return res, fmt.Errorf("render ticket %s: %w", t.PNR, out.Err)
	}

	res.Kind = "text"
	text := Caption(t)
	if f := capture.Fallback(); f != nil {
		text = f.Text() + "\n\n" + text
	}
	if err := d.sender.SendText(ctx, to, text); err != nil {
		return res, fmt.Errorf("deliver ticket %s: %w", t.PNR, err)
	}
	d.log.Warn("ticket delivered without code", "pnr", t.PNR, "reason", out.Reason)
	return res, nil
}

// Caption is the message text accompanying a delivered ticket.
func Caption(t ticket.Ticket) string {
	lines := []string{
		"WAKA-FINE TICKET " + t.PNR,
		t.Route() + " (" + t.TripType() + ")",
	}
	if when := strings.TrimSpace(t.TravelDate + " " + t.TravelTime); when != "" {
		lines = append(lines, when)
	}
	if t.SeatNumber != "" {
		lines = append(lines, "Seat "+t.SeatNumber)
	}
	if t.HasReturnTrip() {
		ret := strings.TrimSpace("Return " + t.ReturnDate + " " + t.ReturnTime)
		if t.ReturnSeat != "" {
			ret += ", seat " + t.ReturnSeat
		}
		lines = append(lines, ret)
	}
	return strings.Join(lines, "\n")
}
