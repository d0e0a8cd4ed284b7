package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/wakafine/ticketqr/render"
	"github.com/wakafine/ticketqr/ticket"
)

// ErrNotFound is returned when no ticket has the requested PNR.
var ErrNotFound = errors.New("ticket not found")

// RenderRecord is one row of the render log.
type RenderRecord struct {
	JobID      string `json:"job_id"`
	PNR        string `json:"pnr"`
	State      string `json:"state"`
	Reason     string `json:"reason,omitempty"`
	Attempts   int    `json:"attempts"`
	FinishedAt int64  `json:"finished_at"`
}

// TicketStore manages SQLite storage for bookings and their render history.
type TicketStore struct {
	db *sql.DB
}

const createTicketsTable = `
CREATE TABLE IF NOT EXISTS tickets (
    pnr TEXT PRIMARY KEY,
    passenger_name TEXT NOT NULL DEFAULT '',
    passenger_phone TEXT NOT NULL DEFAULT '',
    origin TEXT NOT NULL DEFAULT '',
    destination TEXT NOT NULL DEFAULT '',
    travel_date TEXT NOT NULL DEFAULT '',
    travel_time TEXT NOT NULL DEFAULT '',
    bus_name TEXT NOT NULL DEFAULT '',
    seat_number TEXT NOT NULL DEFAULT '',
    amount_paid REAL NOT NULL DEFAULT 0,
    payment_method TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT '',
    is_round_trip INTEGER NOT NULL DEFAULT 0,
    return_date TEXT NOT NULL DEFAULT '',
    return_time TEXT NOT NULL DEFAULT '',
    return_bus TEXT NOT NULL DEFAULT '',
    return_seat TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);
`

const createRenderLogTable = `
CREATE TABLE IF NOT EXISTS render_log (
    job_id TEXT PRIMARY KEY,
    pnr TEXT NOT NULL,
    state TEXT NOT NULL,
    reason TEXT NOT NULL DEFAULT '',
    attempts INTEGER NOT NULL DEFAULT 0,
    finished_at INTEGER NOT NULL
);
`

const createIndexes = `
CREATE INDEX IF NOT EXISTS idx_tickets_updated_at ON tickets(updated_at);
CREATE INDEX IF NOT EXISTS idx_render_log_pnr ON render_log(pnr, finished_at);
`

// NewTicketStore opens (or creates) the SQLite database at dbPath, initialises
// the schema and returns a ready-to-use TicketStore.
func NewTicketStore(dbPath string) (*TicketStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	for _, stmt := range []string{
		createTicketsTable,
		createRenderLogTable,
		createIndexes,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec schema statement: %w", err)
		}
	}

	return &TicketStore{db: db}, nil
}

// SaveTicket inserts t or replaces the stored booking with the same PNR.
func (s *TicketStore) SaveTicket(ctx context.Context, t ticket.Ticket) error {
	if err := t.Validate(); err != nil {
		return err
	}

	const query = `
		INSERT INTO tickets
			(pnr, passenger_name, passenger_phone, origin, destination, travel_date, travel_time,
			 bus_name, seat_number, amount_paid, payment_method, status, is_round_trip,
			 return_date, return_time, return_bus, return_seat, created_at, updated_at)
		VALUES
			(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(pnr) DO UPDATE SET
			passenger_name = excluded.passenger_name,
			passenger_phone = excluded.passenger_phone,
			origin = excluded.origin,
			destination = excluded.destination,
			travel_date = excluded.travel_date,
			travel_time = excluded.travel_time,
			bus_name = excluded.bus_name,
			seat_number = excluded.seat_number,
			amount_paid = excluded.amount_paid,
			payment_method = excluded.payment_method,
			status = excluded.status,
			is_round_trip = excluded.is_round_trip,
			return_date = excluded.return_date,
			return_time = excluded.return_time,
			return_bus = excluded.return_bus,
			return_seat = excluded.return_seat,
			updated_at = excluded.updated_at
	`

	now := time.Now().UnixMilli()
	_, err := s.db.ExecContext(ctx, query,
		strings.TrimSpace(t.PNR),
		t.PassengerName,
		t.PassengerPhone,
		t.Origin,
		t.Destination,
		t.TravelDate,
		t.TravelTime,
		t.BusName,
		t.SeatNumber,
		t.AmountPaid,
		t.PaymentMethod,
		t.Status,
		boolToInt(t.IsRoundTrip),
		t.ReturnDate,
		t.ReturnTime,
		t.ReturnBus,
		t.ReturnSeat,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("save ticket: %w", err)
	}
	return nil
}

const ticketColumns = `
	pnr, passenger_name, passenger_phone, origin, destination, travel_date, travel_time,
	bus_name, seat_number, amount_paid, payment_method, status, is_round_trip,
	return_date, return_time, return_bus, return_seat
`

// GetTicket returns the booking with the given PNR or ErrNotFound.
func (s *TicketStore) GetTicket(ctx context.Context, pnr string) (ticket.Ticket, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE pnr = ?`, strings.TrimSpace(pnr))

	t, err := scanTicket(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ticket.Ticket{}, ErrNotFound
	}
	if err != nil {
		return ticket.Ticket{}, fmt.Errorf("get ticket: %w", err)
	}
	return t, nil
}

// ListTickets returns bookings ordered by last update, newest first.
func (s *TicketStore) ListTickets(ctx context.Context, limit, offset int) ([]ticket.Ticket, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+ticketColumns+` FROM tickets ORDER BY updated_at DESC, pnr LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	defer rows.Close()

	var out []ticket.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ticket row: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ticket rows: %w", err)
	}
	return out, nil
}

// LogRender appends a render outcome. Replaying the same job is ignored.
func (s *TicketStore) LogRender(ctx context.Context, o render.Outcome) error {
	finished := o.FinishedAt
	if finished.IsZero() {
		finished = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO render_log (job_id, pnr, state, reason, attempts, finished_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		o.JobID, o.PNR, string(o.State), o.Reason, o.Attempts, finished.UnixMilli())
	if err != nil {
		return fmt.Errorf("log render: %w", err)
	}
	return nil
}

// RenderHistory returns the most recent render outcomes for pnr.
func (s *TicketStore) RenderHistory(ctx context.Context, pnr string, limit int) ([]RenderRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT job_id, pnr, state, reason, attempts, finished_at
		FROM render_log
		WHERE pnr = ?
		ORDER BY finished_at DESC, rowid DESC
		LIMIT ?`, pnr, limit)
	if err != nil {
		return nil, fmt.Errorf("render history: %w", err)
	}
	defer rows.Close()

	var out []RenderRecord
	for rows.Next() {
		var r RenderRecord
		if err := rows.Scan(&r.JobID, &r.PNR, &r.State, &r.Reason, &r.Attempts, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan render row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate render rows: %w", err)
	}
	return out, nil
}

// Ping checks the database connection.
func (s *TicketStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database connection.
func (s *TicketStore) Close() error {
	return s.db.Close()
}

// --- helpers ----------------------------------------------------------------

type scanner interface {
	Scan(dest ...any) error
}

func scanTicket(sc scanner) (ticket.Ticket, error) {
	var t ticket.Ticket
	var roundTrip int
	err := sc.Scan(
		&t.PNR, &t.PassengerName, &t.PassengerPhone, &t.Origin, &t.Destination,
		&t.TravelDate, &t.TravelTime, &t.BusName, &t.SeatNumber, &t.AmountPaid,
		&t.PaymentMethod, &t.Status, &roundTrip,
		&t.ReturnDate, &t.ReturnTime, &t.ReturnBus, &t.ReturnSeat,
	)
	t.IsRoundTrip = roundTrip != 0
	return t, err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
