package api

import (
	"bytes"
	"html/template"
	"net/http"
	"strconv"

	"github.com/wakafine/ticketqr/render"
	"github.com/wakafine/ticketqr/ticket"
)

// qrElementID is the DOM id of the QR container on ticket pages.
const qrElementID = "qr-code"

type qrFailureResponse struct {
	JobID        string `json:"job_id"`
	PNR          string `json:"pnr"`
	State        string `json:"state"`
	Reason       string `json:"reason"`
	FallbackHTML string `json:"fallback_html,omitempty"`
}

// handleQRFragment renders the ticket code into its container and returns the
// container markup. X-QR-State carries the render outcome.
func (s *Server) handleQRFragment(w http.ResponseWriter, r *http.Request) {
	t, ok := s.loadTicket(w, r)
	if !ok {
		return
	}

	el := render.NewElement(qrElementID)
	out := s.Renderer.RenderSync(r.Context(), t, el, sizeOption(r))

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("X-QR-State", string(out.State))
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(el.HTML()))
}

// handleQRImage serves the encoded code itself, or 503 with the placeholder
// when no code could be produced.
func (s *Server) handleQRImage(w http.ResponseWriter, r *http.Request) {
	t, ok := s.loadTicket(w, r)
	if !ok {
		return
	}

	el := render.NewElement(qrElementID)
	out := s.Images.RenderSync(r.Context(), t, el, sizeOption(r))

	if a := el.Artifact(); out.State == render.StateSucceeded && a != nil {
		w.Header().Set("Content-Type", a.MIME)
		w.Header().Set("Content-Length", strconv.Itoa(len(a.Data)))
		w.Header().Set("Cache-Control", "private, max-age=300")
		w.WriteHeader(http.StatusOK)
		w.Write(a.Data)
		return
	}

	resp := qrFailureResponse{
		JobID:  out.JobID,
		PNR:    t.PNR,
		State:  string(out.State),
		Reason: out.Reason,
	}
	if f := el.Fallback(); f != nil {
		resp.FallbackHTML = f.HTML()
	}
	writeJSON(w, http.StatusServiceUnavailable, resp)
}

func (s *Server) handleTicketPage(w http.ResponseWriter, r *http.Request) {
	t, ok := s.loadTicket(w, r)
	if !ok {
		return
	}

	el := render.NewElement(qrElementID)
	out := s.Renderer.RenderSync(r.Context(), t, el, sizeOption(r))

	var buf bytes.Buffer
	err := ticketPageTmpl.Execute(&buf, ticketPage{
		Ticket: t,
		Amount: ticket.FormatAmount(t.AmountPaid),
		QR:     template.HTML(el.HTML()),
		Ready:  out.Ready,
	})
	if err != nil {
		s.Log.Error("ticket page template failed", "pnr", t.PNR, "error", err)
		writeError(w, http.StatusInternalServerError, "could not render ticket page")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("X-QR-State", string(out.State))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

func (s *Server) handleTicketPDF(w http.ResponseWriter, r *http.Request) {
	t, ok := s.loadTicket(w, r)
	if !ok {
		return
	}

	doc, err := s.PDF.Build(r.Context(), t)
	if err != nil {
		s.Log.Error("ticket pdf failed", "pnr", t.PNR, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="`+doc.Filename+`"`)
	w.Header().Set("X-QR-State", string(doc.Outcome.State))
	w.WriteHeader(http.StatusOK)
	w.Write(doc.Data)
}

// sizeOption reads ?size=N as a square render size. Invalid or absent values
// leave the configured size alone.
func sizeOption(r *http.Request) render.Options {
	n := queryInt(r, "size", 0)
	if n > 1024 {
		n = 1024
	}
	return render.Options{Width: n, Height: n}
}

type ticketPage struct {
	Ticket ticket.Ticket
	Amount string
	QR     template.HTML
	Ready  bool
}

var ticketPageTmpl = template.Must(template.New("ticket").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Ticket {{.Ticket.PNR}}</title>
<style>
  body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif; background: #f3f4f6; color: #111827; }
  .ticket { max-width: 640px; margin: 32px auto; background: #fff; border-radius: 12px; padding: 32px; box-shadow: 0 1px 3px rgba(0,0,0,.1); }
  .ticket h1 { font-size: 20px; margin: 0 0 4px; }
  .ticket .pnr { font-family: monospace; color: #2563eb; }
  .layout { display: flex; gap: 24px; align-items: flex-start; }
  .details { flex: 1; }
  .details dt { font-size: 12px; color: #6b7280; }
  .details dd { margin: 0 0 8px; font-weight: 600; }
  .qr { text-align: center; font-size: 11px; color: #6b7280; }
  .tag { display: inline-block; background: #dbeafe; color: #1d4ed8; border-radius: 4px; padding: 2px 6px; font-size: 11px; }
  @media print { body { background: #fff; } .no-print { display: none; } .ticket { box-shadow: none; } }
</style>
</head>
<body data-qr-ready="{{.Ready}}">
<div class="ticket">
  <h1>WAKA-FINE E-TICKET</h1>
  <div class="pnr">{{.Ticket.PNR}}</div>
  <div class="layout">
    <dl class="details">
      <dt>Passenger</dt><dd>{{or .Ticket.PassengerName "-"}}</dd>
      <dt>Route</dt><dd>{{.Ticket.Route}} <span class="tag">{{.Ticket.TripType}}</span></dd>
      <dt>Departure</dt><dd>{{or .Ticket.TravelDate "-"}} {{.Ticket.TravelTime}}</dd>
      <dt>Bus / Seat</dt><dd>{{or .Ticket.BusName "-"}} / {{or .Ticket.SeatNumber "-"}}</dd>
      {{- if .Ticket.HasReturnTrip}}
      <dt>Return</dt><dd>{{or .Ticket.ReturnDate "-"}} {{.Ticket.ReturnTime}}, {{or .Ticket.ReturnBus "-"}} / {{or .Ticket.ReturnSeat "-"}}</dd>
      {{- end}}
      <dt>Amount paid</dt><dd>{{.Amount}} ({{or .Ticket.PaymentMethod "-"}})</dd>
      <dt>Status</dt><dd>{{or .Ticket.Status "-"}}</dd>
    </dl>
    <div class="qr">
      {{.QR}}
      <p>Scan QR code for verification</p>
    </div>
  </div>
  <p class="no-print"><button id="print">Print ticket</button> <a href="pdf">Download PDF</a></p>
</div>
<script>
document.getElementById('print').addEventListener('click', function() {
  var qr = document.getElementById('qr-code');
  if (qr && qr.getAttribute('data-qr-ready') !== 'true' &&
      !window.confirm('The QR code could not be generated. Print the ticket without it?')) {
    return;
  }
  window.print();
});
</script>
</body>
</html>`))
