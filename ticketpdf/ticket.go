// Package ticketpdf lays out a printable A4 ticket with its QR code.
package ticketpdf

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/phpdave11/gofpdf"

	"github.com/wakafine/ticketqr/render"
	"github.com/wakafine/ticketqr/ticket"
)

// Slot geometry in millimetres.
const (
	slotX    = 145.0
	slotY    = 38.0
	slotSize = 45.0
)

// Document is a rendered ticket ready to download.
type Document struct {
	Filename string
	Data     []byte
	Outcome  render.Outcome
}

// Filename returns the download name for a ticket.
func Filename(pnr string) string {
	return "TICKET_" + strings.TrimSpace(pnr) + ".pdf"
}

// Builder renders ticket PDFs.
type Builder struct {
	renderer *render.Renderer
}

// NewBuilder draws QR codes with renderer, which must produce PNG artifacts.
func NewBuilder(renderer *render.Renderer) *Builder {
	return &Builder{renderer: renderer}
}

// Build renders t's code and lays out the page. The PDF is produced even
// when the code falls back to a placeholder.
func (b *Builder) Build(ctx context.Context, t ticket.Ticket) (*Document, error) {
	slot := &pdfSlot{}
	out := b.renderer.RenderSync(ctx, t, slot, render.Options{Width: 360, Height: 360, Margin: 1})

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("E-Ticket "+t.PNR, false)
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 10, "WAKA-FINE E-TICKET")
	pdf.Ln(12)

	pdf.SetFont("Helvetica", "", 12)
	for _, line := range ticketLines(t) {
		pdf.Cell(120, 7, tr(line))
		pdf.Ln(7)
	}

	slot.draw(pdf, tr)

	pdf.SetXY(slotX-5, slotY+slotSize+2)
	pdf.SetFont("Helvetica", "I", 8)
	pdf.CellFormat(slotSize+10, 5, "Scan QR code for verification", "", 0, "C", false, 0, "")

	pdf.SetXY(10, 150)
	pdf.SetFont("Helvetica", "I", 10)
	pdf.MultiCell(0, 6, "This e-ticket is valid for one passenger and one seat. Please present it at boarding.", "", "", false)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("write ticket pdf: %w", err)
	}
	return &Document{Filename: Filename(t.PNR), Data: buf.Bytes(), Outcome: out}, nil
}

func ticketLines(t ticket.Ticket) []string {
	lines := []string{
		"PNR            : " + t.PNR,
		"Passenger      : " + dash(t.PassengerName),
		"Route          : " + dash(t.Origin) + " to " + dash(t.Destination),
		"Date           : " + dash(t.TravelDate),
		"Time           : " + dash(t.TravelTime),
		"Bus            : " + dash(t.BusName),
		"Seat           : " + dash(t.SeatNumber),
		"Trip type      : " + t.TripType(),
	}
	if t.HasReturnTrip() {
		lines = append(lines,
			"Return date    : "+dash(t.ReturnDate),
			"Return time    : "+dash(t.ReturnTime),
			"Return bus     : "+dash(t.ReturnBus),
			"Return seat    : "+dash(t.ReturnSeat),
		)
	}
	return append(lines,
		"Amount paid    : "+ticket.FormatAmount(t.AmountPaid),
		"Payment method : "+dash(t.PaymentMethod),
		"Status         : "+dash(t.Status),
	)
}

func dash(v string) string {
	if strings.TrimSpace(v) == "" {
		return "-"
	}
	return v
}

// pdfSlot is the render target for the page's QR area. The renderer may call
// it from another goroutine, so it only records what to draw; the page is
// composed after the render completes.
type pdfSlot struct {
	mu       sync.Mutex
	png      []byte
	fallback *render.Fallback
}

func (s *pdfSlot) ShowImage(a *render.Artifact, _ render.Size) error {
	if a.MIME != "image/png" {
		return fmt.Errorf("pdf slot needs image/png, got %s", a.MIME)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.png = a.Data
	s.fallback = nil
	return nil
}

func (s *pdfSlot) ShowFallback(f render.Fallback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.png = nil
	s.fallback = &f
	return nil
}

type boxLine struct {
	style string
	size  float64
	text  string
}

func (s *pdfSlot) draw(pdf *gofpdf.Fpdf, tr func(string) string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.png != nil {
		opts := gofpdf.ImageOptions{ImageType: "PNG", ReadDpi: false}
		pdf.RegisterImageOptionsReader("qr", opts, bytes.NewReader(s.png))
		if pdf.Ok() {
			pdf.ImageOptions("qr", slotX, slotY, slotSize, slotSize, false, opts, 0, "")
			return
		}
		pdf.ClearError()
	}

	f := s.fallback
	if f == nil {
		f = &render.Fallback{PNR: "N/A", Origin: "-", Destination: "-"}
	}

	pdf.SetFillColor(243, 244, 246)
	pdf.SetDrawColor(107, 114, 128)
	pdf.SetLineWidth(0.4)
	pdf.Rect(slotX, slotY, slotSize, slotSize, "FD")

	lines := []boxLine{
		{"B", 10, "QR CODE"},
		{"B", 9, f.PNR},
		{"", 8, f.Origin + " - " + f.Destination},
	}
	if f.RoundTrip {
		lines = append(lines, boxLine{"", 7, "ROUND TRIP"})
	}
	lines = append(lines, boxLine{"I", 6, "SCAN TO VERIFY"})

	y := slotY + (slotSize-float64(len(lines))*5)/2
	pdf.SetTextColor(55, 65, 81)
	for _, l := range lines {
		pdf.SetFont("Helvetica", l.style, l.size)
		pdf.SetXY(slotX, y)
		pdf.CellFormat(slotSize, 5, tr(l.text), "", 0, "C", false, 0, "")
		y += 5
	}
	pdf.SetTextColor(0, 0, 0)
}
