// Package notify forwards render outcomes to an external webhook so page logic
// outside this process can learn when a ticket code is ready.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/wakafine/ticketqr/render"
)

// Payload is the JSON body sent to the webhook URL for each finished render.
type Payload struct {
	JobID    string `json:"job_id"`
	PNR      string `json:"pnr"`
	State    string `json:"state"`
	Reason   string `json:"reason,omitempty"`
	Ready    bool   `json:"ready"`
	Attempts int    `json:"attempts"`
	At       int64  `json:"at"`
}

// PayloadFrom converts a render outcome into its webhook body.
func PayloadFrom(o render.Outcome) *Payload {
	at := o.FinishedAt
	if at.IsZero() {
		at = time.Now()
	}
	return &Payload{
		JobID:    o.JobID,
		PNR:      o.PNR,
		State:    string(o.State),
		Reason:   o.Reason,
		Ready:    o.Ready,
		Attempts: o.Attempts,
		At:       at.Unix(),
	}
}

// WebhookSender posts render outcomes to an HTTP endpoint, at most once per job.
type WebhookSender struct {
	url    string
	seen   map[string]time.Time // job ID -> first seen time (dedup)
	mu     sync.Mutex
	client *http.Client
	log    *slog.Logger
}

// seenTTL is the time-to-live for entries in the deduplication map.
const seenTTL = 5 * time.Minute

// NewWebhookSender creates a sender for url. An empty url makes Send a no-op.
func NewWebhookSender(url string, log *slog.Logger) *WebhookSender {
	return &WebhookSender{
		url:  url,
		seen: make(map[string]time.Time),
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		log: log,
	}
}

// Enabled reports whether a webhook URL is configured.
func (w *WebhookSender) Enabled() bool { return w.url != "" }

// Send delivers payload. It returns nil without posting when no URL is
// configured or when the job was already delivered within seenTTL.
func (w *WebhookSender) Send(ctx context.Context, payload *Payload) error {
	if w.url == "" {
		return nil
	}

	w.mu.Lock()
	w.cleanupSeenLocked()
	if _, ok := w.seen[payload.JobID]; ok {
		w.mu.Unlock()
		w.log.Debug("webhook skipping duplicate render", "job_id", payload.JobID)
		return nil
	}
	w.seen[payload.JobID] = time.Now()
	w.mu.Unlock()

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("webhook marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		w.log.Error("webhook delivery failed", "error", err, "job_id", payload.JobID)
		return fmt.Errorf("webhook POST: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		w.log.Info("webhook delivered", "status", resp.StatusCode, "job_id", payload.JobID, "state", payload.State)
	} else {
		w.log.Warn("webhook non-2xx response", "status", resp.StatusCode, "job_id", payload.JobID)
	}
	return nil
}

// Observer returns a render observer that forwards each outcome in the
// background. Delivery errors are logged by Send.
func (w *WebhookSender) Observer() func(render.Outcome) {
	return func(o render.Outcome) {
		if !w.Enabled() {
			return
		}
		p := PayloadFrom(o)
		go func() {
			_ = w.Send(context.Background(), p)
		}()
	}
}

// CleanupSeen removes deduplication entries older than seenTTL.
func (w *WebhookSender) CleanupSeen() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cleanupSeenLocked()
}

// cleanupSeenLocked removes stale entries. The caller MUST hold w.mu.
func (w *WebhookSender) cleanupSeenLocked() {
	cutoff := time.Now().Add(-seenTTL)
	for id, t := range w.seen {
		if t.Before(cutoff) {
			delete(w.seen, id)
		}
	}
}
