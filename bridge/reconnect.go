package bridge

import (
	"context"
	"log/slog"
	"time"
)

// maxBackoff caps the wait between failed reconnect attempts.
const maxBackoff = 5 * time.Minute

// Reconnectable is implemented by Client.
type Reconnectable interface {
	IsConnected() bool
	HasSession() bool // false for a fresh or logged-out device
	Connect(ctx context.Context) error
}

// StartReconnectLoop checks the link every interval and, when it is down and
// a session is stored, reconnects. Failed attempts back off exponentially up
// to maxBackoff. The loop stops with ctx.
func StartReconnectLoop(ctx context.Context, client Reconnectable, interval time.Duration, log *slog.Logger) {
	r := &reconnector{
		client:   client,
		interval: interval,
		floor:    max(interval, time.Second),
		ceiling:  maxBackoff,
		log:      log,
	}
	go r.run(ctx)
}

type reconnector struct {
	client   Reconnectable
	interval time.Duration
	floor    time.Duration
	ceiling  time.Duration
	log      *slog.Logger

	backoff  time.Duration
	notUntil time.Time
}

func (r *reconnector) run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.backoff = r.floor
	for {
		select {
		case <-ctx.Done():
			r.log.Info("reconnect loop stopped")
			return
		case now := <-ticker.C:
			r.tick(ctx, now)
		}
	}
}

func (r *reconnector) tick(ctx context.Context, now time.Time) {
	if r.client.IsConnected() {
		r.backoff = r.floor
		r.notUntil = time.Time{}
		return
	}
	if !r.client.HasSession() {
		r.log.Debug("no stored whatsapp session, skipping reconnect")
		return
	}
	if now.Before(r.notUntil) {
		return
	}

	r.log.Info("whatsapp link down, reconnecting", "backoff", r.backoff)

	attemptCtx, cancel := context.WithTimeout(ctx, r.backoff)
	err := r.client.Connect(attemptCtx)
	cancel()

	if err == nil {
		r.log.Info("reconnected to whatsapp")
		r.backoff = r.floor
		r.notUntil = time.Time{}
		return
	}

	r.notUntil = now.Add(r.backoff)
	r.backoff = min(r.backoff*2, r.ceiling)
	r.log.Warn("reconnect failed", "error", err, "next_backoff", r.backoff)
}
