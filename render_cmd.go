package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/wakafine/ticketqr/config"
	"github.com/wakafine/ticketqr/encoder"
	"github.com/wakafine/ticketqr/render"
	"github.com/wakafine/ticketqr/ticket"
)

type renderFlags struct {
	configPath string
	ticketFile string
	format     string
	out        string
	size       int
	t          ticket.Ticket
}

func newRenderCmd() *cobra.Command {
	var f renderFlags
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render one ticket's QR code to the terminal or a file",
		Example: `  ticketqr render --pnr WF1029AB --origin Freetown --destination Bo
  ticketqr render --ticket booking.json --format png --out ticket.png
  ticketqr render --ticket booking.json --format html --out ticket.html`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRender(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), f)
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&f.configPath, "config", "c", "config.yaml", "Path to config file")
	fl.StringVar(&f.ticketFile, "ticket", "", "Ticket JSON file (- for stdin)")
	fl.StringVar(&f.format, "format", encoder.FormatTerminal, "Output: terminal, png, svg or html")
	fl.StringVarP(&f.out, "out", "o", "", "Output file (required unless format is terminal)")
	fl.IntVar(&f.size, "size", 0, "Image width and height in pixels")

	bindTicketFlags(cmd, &f.t)

	return cmd
}

// bindTicketFlags exposes every booking field as a flag, so a ticket can be
// described without a JSON file.
func bindTicketFlags(cmd *cobra.Command, t *ticket.Ticket) {
	fl := cmd.Flags()
	fl.StringVar(&t.PNR, "pnr", "", "Booking reference")
	fl.StringVar(&t.PassengerName, "name", "", "Passenger name")
	fl.StringVar(&t.PassengerPhone, "phone", "", "Passenger phone number")
	fl.StringVar(&t.Origin, "origin", "", "Departure city")
	fl.StringVar(&t.Destination, "destination", "", "Arrival city")
	fl.StringVar(&t.TravelDate, "date", "", "Travel date")
	fl.StringVar(&t.TravelTime, "time", "", "Departure time")
	fl.StringVar(&t.BusName, "bus", "", "Bus name")
	fl.StringVar(&t.SeatNumber, "seat", "", "Seat number")
	fl.Float64Var(&t.AmountPaid, "amount", 0, "Amount paid")
	fl.StringVar(&t.PaymentMethod, "payment", "", "Payment method")
	fl.StringVar(&t.Status, "status", "", "Booking status")
	fl.BoolVar(&t.IsRoundTrip, "round-trip", false, "Ticket includes a return journey")
	fl.StringVar(&t.ReturnDate, "return-date", "", "Return date")
	fl.StringVar(&t.ReturnTime, "return-time", "", "Return time")
	fl.StringVar(&t.ReturnBus, "return-bus", "", "Return bus name")
	fl.StringVar(&t.ReturnSeat, "return-seat", "", "Return seat")
}

func runRender(ctx context.Context, stdout, stderr io.Writer, f renderFlags) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load(f.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := newLogger(cfg.LogLevel, stderr)

	t, err := loadTicket(f)
	if err != nil {
		return err
	}

	format := strings.ToLower(f.format)
	encFormat := format
	if format == "html" {
		encFormat = cfg.Render.Format
	}
	enc, err := encoder.New(encFormat)
	if err != nil {
		return err
	}
	if format != encoder.FormatTerminal && f.out == "" {
		return fmt.Errorf("--out is required for %s output", format)
	}

	var target render.Target
	var el *render.Element
	switch format {
	case encoder.FormatTerminal:
		target = &writerTarget{w: stdout}
	case "html":
		el = render.NewElement("qr-code")
		target = el
	default:
		target = &fileTarget{path: f.out}
	}

	r := render.New(render.Static(enc), cfg.RendererConfig(), log)
	out := r.RenderSync(ctx, t, target, render.Options{Width: f.size, Height: f.size})

	if el != nil {
		if err := os.WriteFile(f.out, []byte(el.HTML()+"\n"), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", f.out, err)
		}
	}

	fmt.Fprintf(stderr, "pnr=%s state=%s", out.PNR, out.State)
	if out.Reason != "" {
		fmt.Fprintf(stderr, " reason=%q", out.Reason)
	}
	fmt.Fprintln(stderr)

	if out.State == render.StateFailed {
		return fmt.Errorf("render failed: %w", out.Err)
	}
	return nil
}

func loadTicket(f renderFlags) (ticket.Ticket, error) {
	t := f.t
	if f.ticketFile != "" {
		var data []byte
		var err error
		if f.ticketFile == "-" {
			data, err = io.ReadAll(os.Stdin)
		} else {
			data, err = os.ReadFile(f.ticketFile)
		}
		if err != nil {
			return t, fmt.Errorf("read ticket: %w", err)
		}
		if err := json.Unmarshal(data, &t); err != nil {
			return t, fmt.Errorf("parse ticket: %w", err)
		}
	}
	if strings.TrimSpace(t.PNR) == "" {
		t.PNR = ticket.NewPNR()
	}
	return t, nil
}

// writerTarget prints text codes, or the placeholder text, to a writer.
type writerTarget struct {
	mu sync.Mutex
	w  io.Writer
}

func (t *writerTarget) ShowImage(a *render.Artifact, _ render.Size) error {
	if !strings.HasPrefix(a.MIME, "text/") {
		return fmt.Errorf("cannot print %s to a terminal", a.MIME)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	_, err := t.w.Write(a.Data)
	return err
}

func (t *writerTarget) ShowFallback(f render.Fallback) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, err := fmt.Fprintln(t.w, f.Text())
	return err
}

// fileTarget writes the encoded image to path. A placeholder is written as
// HTML next to it, since an image file cannot carry one. Each call removes
// whatever the other one left, so the files on disk always describe the
// latest render.
type fileTarget struct {
	mu   sync.Mutex
	path string
}

func (t *fileTarget) fallbackPath() string {
	return t.path + ".fallback.html"
}

func (t *fileTarget) ShowImage(a *render.Artifact, _ render.Size) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := removeIfExists(t.fallbackPath()); err != nil {
		return err
	}
	return os.WriteFile(t.path, a.Data, 0o644)
}

func (t *fileTarget) ShowFallback(f render.Fallback) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := removeIfExists(t.path); err != nil {
		return err
	}
	return os.WriteFile(t.fallbackPath(), []byte(f.HTML()+"\n"), 0o644)
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove stale %s: %w", path, err)
	}
	return nil
}
