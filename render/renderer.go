// Package render draws ticket QR codes into display targets. A render waits
// a bounded time for the QR encoder to become available, encodes the ticket
// payload and installs the image, or installs a labelled placeholder when
// anything goes wrong. Render never returns an error or panics; the outcome
// is observable on the returned Job.
package render

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wakafine/ticketqr/ticket"
)

// State is a step of a render job.
type State string

const (
	StateWaiting   State = "waiting"
	StateReady     State = "ready"
	StateTimedOut  State = "timed_out"
	StateSucceeded State = "succeeded"
	StateFallback  State = "fallback"
	StateFailed    State = "failed"
)

// Config holds the renderer settings that do not vary per call.
type Config struct {
	Mode         ticket.PayloadMode
	BaseURL      string
	Options      Options
	PollInterval time.Duration
	// MaxAttempts bounds the readiness poll. Zero means check once and fall
	// back immediately when the encoder is absent.
	MaxAttempts int
}

// DefaultConfig polls every 200ms for up to 30 attempts and encodes the
// ticket details inline.
func DefaultConfig() Config {
	return Config{
		Mode:         ticket.PayloadText,
		Options:      Defaults(),
		PollInterval: 200 * time.Millisecond,
		MaxAttempts:  30,
	}
}

// Outcome is the final result of a render job.
type Outcome struct {
	JobID      string    `json:"job_id"`
	PNR        string    `json:"pnr"`
	State      State     `json:"state"`
	Reason     string    `json:"reason,omitempty"`
	Ready      bool      `json:"ready"`
	Attempts   int       `json:"attempts"`
	Trail      []State   `json:"trail"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Payload    string    `json:"-"`
	Artifact   *Artifact `json:"-"`
	Err        error     `json:"-"`
}

// Job tracks one render. It completes exactly once.
type Job struct {
	id   string
	pnr  string
	done chan struct{}

	mu      sync.RWMutex
	state   State
	trail   []State
	outcome Outcome
}

func newJob(pnr string) *Job {
	return &Job{
		id:    uuid.NewString(),
		pnr:   pnr,
		done:  make(chan struct{}),
		state: StateWaiting,
		trail: []State{StateWaiting},
	}
}

// ID returns the job identifier.
func (j *Job) ID() string { return j.id }

// Done is closed once the outcome is known.
func (j *Job) Done() <-chan struct{} { return j.done }

// State returns the job's current step.
func (j *Job) State() State {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.state
}

// Ready reports whether a real code has been installed. It is the per-job
// replacement for a page-wide "QR ready" flag.
func (j *Job) Ready() bool {
	return j.State() == StateSucceeded
}

// Wait blocks until the job completes or ctx is done.
func (j *Job) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-j.done:
		j.mu.RLock()
		defer j.mu.RUnlock()
		return j.outcome, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

func (j *Job) transition(s State) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.state = s
	j.trail = append(j.trail, s)
}

// Renderer renders tickets into targets.
type Renderer struct {
	source EncoderSource
	cfg    Config
	log    *slog.Logger

	mu        sync.RWMutex
	observers []func(Outcome)
}

// New returns a Renderer that takes its encoder from source.
func New(source EncoderSource, cfg Config, log *slog.Logger) *Renderer {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.MaxAttempts < 0 {
		cfg.MaxAttempts = 0
	}
	if cfg.Mode == "" {
		cfg.Mode = ticket.PayloadText
	}
	cfg.Options = Resolve(cfg.Options)
	if log == nil {
		log = slog.Default()
	}
	return &Renderer{source: source, cfg: cfg, log: log}
}

// Config returns the renderer's resolved configuration.
func (r *Renderer) Config() Config { return r.cfg }

// EncoderReady reports whether the encoder is available right now.
func (r *Renderer) EncoderReady() bool {
	if r.source == nil {
		return false
	}
	_, ok := r.source.Encoder()
	return ok
}

// OnComplete registers fn to receive every outcome. Observers run on the
// render goroutine before the job is marked done.
func (r *Renderer) OnComplete(fn func(Outcome)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, fn)
}

// Render starts rendering t into target and returns immediately. opts are
// layered over the renderer's configured options.
//
// Renders against the same target are not serialised: if two are in flight
// the one completing last determines the target's content.
func (r *Renderer) Render(ctx context.Context, t ticket.Ticket, target Target, opts ...Options) *Job {
	job := newJob(t.PNR)
	started := time.Now()

	if isNilTarget(target) {
		r.log.Error("qr render target missing", "pnr", t.PNR, "job_id", job.id)
		r.finish(job, Outcome{
			State:     StateFailed,
			Reason:    ReasonTargetMissing,
			Err:       &failure{reason: ReasonTargetMissing, err: ErrTargetMissing},
			StartedAt: started,
		})
		return job
	}

	resolved := r.cfg.Options
	for _, o := range opts {
		resolved = resolved.Merge(o)
	}

	go r.run(ctx, job, t, target, resolved, started)
	return job
}

// RenderSync renders and waits for the outcome.
func (r *Renderer) RenderSync(ctx context.Context, t ticket.Ticket, target Target, opts ...Options) Outcome {
	job := r.Render(ctx, t, target, opts...)
	<-job.Done()
	out, _ := job.Wait(context.Background())
	return out
}

func (r *Renderer) run(ctx context.Context, job *Job, t ticket.Ticket, target Target, opts Options, started time.Time) {
	log := r.log.With("pnr", t.PNR, "job_id", job.id)
	out := Outcome{StartedAt: started}

	defer func() {
		// A panicking target must not take the process down.
		if p := recover(); p != nil {
			log.Error("qr render panicked", "panic", p)
			out.State = StateFailed
			out.Reason = ReasonTargetError
			out.Err = &failure{reason: ReasonTargetError, err: fmt.Errorf("target panic: %v", p)}
			r.finish(job, out)
		}
	}()

	enc, attempts, fail := r.awaitEncoder(ctx, log)
	out.Attempts = attempts
	if fail != nil {
		if fail.reason == ReasonTimeout {
			job.transition(StateTimedOut)
		}
		r.fallback(job, log, t, target, opts, fail, &out)
		return
	}
	job.transition(StateReady)

	payload, err := ticket.Build(t, r.cfg.Mode, r.cfg.BaseURL)
	if err != nil {
		fail := &failure{reason: ReasonEncodeError, err: fmt.Errorf("%w: build payload: %w", ErrEncodeFailed, err)}
		r.fallback(job, log, t, target, opts, fail, &out)
		return
	}
	out.Payload = payload

	if err := opts.Validate(); err != nil {
		fail := &failure{reason: ReasonEncodeError, err: fmt.Errorf("%w: %w", ErrEncodeFailed, err)}
		r.fallback(job, log, t, target, opts, fail, &out)
		return
	}

	c := <-encodeOnce(ctx, enc, payload, opts)
	if c.fail != nil {
		r.fallback(job, log, t, target, opts, c.fail, &out)
		return
	}

	if err := target.ShowImage(c.artifact, opts.Size()); err != nil {
		fail := &failure{reason: ReasonTargetError, err: fmt.Errorf("show image: %w", err)}
		r.fallback(job, log, t, target, opts, fail, &out)
		return
	}

	log.Info("qr code rendered", "mime", c.artifact.MIME, "bytes", len(c.artifact.Data), "attempts", attempts)
	out.State = StateSucceeded
	out.Ready = true
	out.Artifact = c.artifact
	r.finish(job, out)
}

// awaitEncoder polls the source until it is ready or the attempt budget is
// spent. It returns the number of polls made.
func (r *Renderer) awaitEncoder(ctx context.Context, log *slog.Logger) (Encoder, int, *failure) {
	if r.source == nil {
		log.Warn("qr encoder unavailable", "reason", ReasonLibraryNotLoaded)
		return nil, 0, &failure{reason: ReasonLibraryNotLoaded, err: ErrEncoderUnavailable}
	}
	if enc, ok := r.source.Encoder(); ok {
		return enc, 0, nil
	}
	if r.cfg.MaxAttempts == 0 {
		log.Warn("qr encoder unavailable", "reason", ReasonLibraryNotLoaded)
		return nil, 0, &failure{reason: ReasonLibraryNotLoaded, err: ErrEncoderUnavailable}
	}

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			log.Warn("qr encoder wait cancelled", "reason", ReasonTimeout, "attempt", attempt, "error", ctx.Err())
			return nil, attempt - 1, &failure{reason: ReasonTimeout, err: fmt.Errorf("%w: %w", ErrEncoderUnavailable, ctx.Err())}
		case <-ticker.C:
		}
		if enc, ok := r.source.Encoder(); ok {
			log.Debug("qr encoder ready", "attempt", attempt)
			return enc, attempt, nil
		}
		log.Debug("waiting for qr encoder", "attempt", attempt, "max_attempts", r.cfg.MaxAttempts)
	}

	log.Error("timed out waiting for qr encoder", "reason", ReasonTimeout, "attempts", r.cfg.MaxAttempts)
	return nil, r.cfg.MaxAttempts, &failure{reason: ReasonTimeout, err: ErrEncoderUnavailable}
}

type completion struct {
	artifact *Artifact
	fail     *failure
}

// encodeOnce runs the encoder on its own goroutine. The returned channel
// receives exactly one completion.
func encodeOnce(ctx context.Context, enc Encoder, payload string, opts Options) <-chan completion {
	ch := make(chan completion, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				ch <- completion{fail: &failure{reason: ReasonEncodeException, err: fmt.Errorf("%w: %v", ErrEncodeThrew, p)}}
			}
		}()
		a, err := enc.Encode(ctx, payload, opts)
		switch {
		case err != nil:
			ch <- completion{fail: &failure{reason: ReasonEncodeError, err: fmt.Errorf("%w: %w", ErrEncodeFailed, err)}}
		case a == nil || len(a.Data) == 0:
			ch <- completion{fail: &failure{reason: ReasonEncodeError, err: fmt.Errorf("%w: empty artifact", ErrEncodeFailed)}}
		default:
			ch <- completion{artifact: a}
		}
	}()
	return ch
}

func (r *Renderer) fallback(job *Job, log *slog.Logger, t ticket.Ticket, target Target, opts Options, fail *failure, out *Outcome) {
	log.Warn("showing qr fallback", "reason", fail.reason, "error", fail.err)

	out.Reason = fail.reason
	out.Err = fail
	if err := target.ShowFallback(NewFallback(t, fail.reason, opts.Size())); err != nil {
		log.Error("qr fallback could not be shown", "error", err)
		out.State = StateFailed
		r.finish(job, *out)
		return
	}
	out.State = StateFallback
	r.finish(job, *out)
}

// finish records the outcome, notifies observers and closes Done. Only the
// first call per job has any effect.
func (r *Renderer) finish(job *Job, out Outcome) {
	job.mu.Lock()
	select {
	case <-job.done:
		job.mu.Unlock()
		return
	default:
	}
	if job.state != out.State {
		job.state = out.State
		job.trail = append(job.trail, out.State)
	}
	out.JobID = job.id
	out.PNR = job.pnr
	out.Trail = slices.Clone(job.trail)
	out.FinishedAt = time.Now()
	job.outcome = out
	job.mu.Unlock()

	r.mu.RLock()
	observers := slices.Clone(r.observers)
	r.mu.RUnlock()
	for _, fn := range observers {
		r.notify(fn, out)
	}

	close(job.done)
}

func (r *Renderer) notify(fn func(Outcome), out Outcome) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("render observer panicked", "panic", p, "job_id", out.JobID)
		}
	}()
	fn(out)
}
