// Package api exposes tickets, their QR codes and WhatsApp delivery over HTTP.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wakafine/ticketqr/bridge"
	"github.com/wakafine/ticketqr/render"
	"github.com/wakafine/ticketqr/store"
	"github.com/wakafine/ticketqr/ticket"
	"github.com/wakafine/ticketqr/ticketpdf"
)

// TicketStore is the persistence the handlers need. *store.TicketStore
// implements it.
type TicketStore interface {
	SaveTicket(ctx context.Context, t ticket.Ticket) error
	GetTicket(ctx context.Context, pnr string) (ticket.Ticket, error)
	ListTickets(ctx context.Context, limit, offset int) ([]ticket.Ticket, error)
	RenderHistory(ctx context.Context, pnr string, limit int) ([]store.RenderRecord, error)
}

// WhatsApp is the linked-device surface. *bridge.Client implements it.
type WhatsApp interface {
	Status() bridge.Status
	JID() string
	PairingCode() string
	Logout(ctx context.Context) error
}

// Deliverer sends a ticket code to a passenger. *bridge.Delivery implements it.
type Deliverer interface {
	Deliver(ctx context.Context, t ticket.Ticket, phone string) (bridge.DeliveryResult, error)
}

// Server holds the dependencies for all HTTP handlers. Renderer draws the
// codes embedded in pages and Images the ones served as raw PNG. WhatsApp and
// Delivery are nil when the bridge is disabled.
type Server struct {
	Renderer  *render.Renderer
	Images    *render.Renderer
	Tickets   TicketStore
	PDF       *ticketpdf.Builder
	Pairing   render.Encoder
	WhatsApp  WhatsApp
	Delivery  Deliverer
	Log       *slog.Logger
	Version   string
	StartTime time.Time
}

// NewRouter returns a fully configured chi router with all API routes.
func NewRouter(s *Server) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(corsMiddleware)
	r.Use(requestLogger(s.Log))

	r.Get("/status", s.handleStatus)

	r.Route("/tickets", func(r chi.Router) {
		r.Get("/", s.handleListTickets)
		r.Post("/", s.handleSaveTicket)

		r.Route("/{pnr}", func(r chi.Router) {
			r.Get("/", s.handleGetTicket)
			r.Get("/qr", s.handleQRFragment)
			r.Get("/qr.png", s.handleQRImage)
			r.Get("/page", s.handleTicketPage)
			r.Get("/pdf", s.handleTicketPDF)
			r.Get("/renders", s.handleRenderHistory)
			r.Post("/deliver", s.handleDeliver)
		})
	})

	r.Route("/whatsapp", func(r chi.Router) {
		r.Get("/qr", s.handleQRPage)
		r.Get("/qr/data", s.handleQRData)
		r.Post("/logout", s.handleLogout)
	})

	return r
}

// --- helpers ----------------------------------------------------------------

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// --- middleware --------------------------------------------------------------

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"remote", r.RemoteAddr,
			)
		})
	}
}
