package render

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wakafine/ticketqr/ticket"
)

type fakeEncoder struct {
	err      error
	panicMsg string
	calls    atomic.Int32

	mu       sync.Mutex
	payloads []string
}

func (f *fakeEncoder) Encode(_ context.Context, payload string, opts Options) (*Artifact, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.payloads = append(f.payloads, payload)
	f.mu.Unlock()
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &Artifact{Payload: payload, MIME: "image/png", Data: []byte("png:" + payload), Width: opts.Width * 2, Height: opts.Height * 2}, nil
}

func (f *fakeEncoder) lastPayload() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.payloads) == 0 {
		return ""
	}
	return f.payloads[len(f.payloads)-1]
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.PollInterval = time.Millisecond
	cfg.MaxAttempts = 5
	return cfg
}

func wfTicket() ticket.Ticket {
	return ticket.Ticket{
		PNR:           "WF-1029",
		PassengerName: "Aminata Kamara",
		Origin:        "Freetown",
		Destination:   "Bo",
		TravelDate:    "Mar 14, 2025",
		TravelTime:    "08:30",
		BusName:       "Waka Express 3",
		SeatNumber:    "12A",
		AmountPaid:    250,
		Status:        "Confirmed",
	}
}

func wait(t *testing.T, job *Job) Outcome {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out, err := job.Wait(ctx)
	require.NoError(t, err)
	return out
}

func TestRenderSuccess(t *testing.T) {
	enc := &fakeEncoder{}
	r := New(Static(enc), testConfig(), quietLogger())
	el := NewElement("qr-code")

	job := r.Render(context.Background(), wfTicket(), el)
	out := wait(t, job)

	assert.Equal(t, StateSucceeded, out.State)
	assert.True(t, out.Ready)
	assert.True(t, job.Ready())
	assert.Empty(t, out.Reason)
	assert.NoError(t, out.Err)
	assert.Equal(t, []State{StateWaiting, StateReady, StateSucceeded}, out.Trail)
	assert.Equal(t, "WF-1029", out.PNR)
	assert.Equal(t, job.ID(), out.JobID)

	assert.Equal(t, ContentImage, el.Kind())
	require.NotNil(t, el.Artifact())
	assert.Nil(t, el.Fallback())
	assert.Contains(t, el.HTML(), `data-qr-ready="true"`)
	// Presentation size wins over the encoder's native pixel size.
	assert.Contains(t, el.InnerHTML(), `width="130" height="130"`)
	assert.Contains(t, enc.lastPayload(), "PNR: WF-1029")
}

func TestRenderEncoderNeverReady(t *testing.T) {
	r := New(NewRegistry(), testConfig(), quietLogger())
	el := NewElement("qr-code")

	out := wait(t, r.Render(context.Background(), wfTicket(), el))

	assert.Equal(t, StateFallback, out.State)
	assert.Equal(t, ReasonTimeout, out.Reason)
	assert.False(t, out.Ready)
	assert.Equal(t, 5, out.Attempts)
	assert.ErrorIs(t, out.Err, ErrEncoderUnavailable)
	assert.Equal(t, ReasonTimeout, Reason(out.Err))
	assert.Equal(t, []State{StateWaiting, StateTimedOut, StateFallback}, out.Trail)

	assert.Equal(t, ContentFallback, el.Kind())
	html := el.HTML()
	assert.Contains(t, html, "WF-1029")
	assert.Contains(t, html, "Freetown")
	assert.Contains(t, html, "Bo")
	assert.Contains(t, html, "QR CODE")
	assert.Contains(t, html, "SCAN TO VERIFY")
	assert.Contains(t, html, "dashed")
	assert.Contains(t, html, `data-qr-ready="false"`)
}

func TestRenderLibraryNotLoadedWithoutPolling(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAttempts = 0
	r := New(NewRegistry(), cfg, quietLogger())
	el := NewElement("qr-code")

	out := wait(t, r.Render(context.Background(), wfTicket(), el))

	assert.Equal(t, StateFallback, out.State)
	assert.Equal(t, ReasonLibraryNotLoaded, out.Reason)
	assert.Equal(t, 0, out.Attempts)
	assert.Equal(t, ContentFallback, el.Kind())
}

func TestRenderNilSource(t *testing.T) {
	r := New(nil, testConfig(), quietLogger())
	el := NewElement("qr-code")

	out := wait(t, r.Render(context.Background(), wfTicket(), el))

	assert.Equal(t, ReasonLibraryNotLoaded, out.Reason)
	assert.False(t, r.EncoderReady())
}

func TestRenderWaitsForLateEncoder(t *testing.T) {
	reg := NewRegistry()
	cfg := testConfig()
	cfg.MaxAttempts = 2000
	r := New(reg, cfg, quietLogger())
	el := NewElement("qr-code")

	job := r.Render(context.Background(), wfTicket(), el)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, StateWaiting, job.State())
	reg.Install(&fakeEncoder{})

	out := wait(t, job)
	assert.Equal(t, StateSucceeded, out.State)
	assert.Greater(t, out.Attempts, 0)
	assert.True(t, r.EncoderReady())
}

func TestRenderWaitCancelled(t *testing.T) {
	cfg := testConfig()
	cfg.PollInterval = time.Hour
	r := New(NewRegistry(), cfg, quietLogger())
	el := NewElement("qr-code")

	ctx, cancel := context.WithCancel(context.Background())
	job := r.Render(ctx, wfTicket(), el)
	cancel()

	out := wait(t, job)
	assert.Equal(t, StateFallback, out.State)
	assert.Equal(t, ReasonTimeout, out.Reason)
	assert.ErrorIs(t, out.Err, context.Canceled)
}

func TestRenderEncodeError(t *testing.T) {
	enc := &fakeEncoder{err: errors.New("data too long")}
	r := New(Static(enc), testConfig(), quietLogger())
	el := NewElement("qr-code")

	out := wait(t, r.Render(context.Background(), wfTicket(), el))

	assert.Equal(t, StateFallback, out.State)
	assert.Equal(t, ReasonEncodeError, out.Reason)
	assert.ErrorIs(t, out.Err, ErrEncodeFailed)
	assert.Nil(t, out.Artifact)
	assert.Nil(t, el.Artifact())
	assert.Equal(t, ContentFallback, el.Kind())
	assert.NotContains(t, el.InnerHTML(), "<img")
	assert.EqualValues(t, 1, enc.calls.Load(), "a failed encode is not retried")
}

func TestRenderEncodePanic(t *testing.T) {
	enc := &fakeEncoder{panicMsg: "canvas exploded"}
	r := New(Static(enc), testConfig(), quietLogger())
	el := NewElement("qr-code")

	out := wait(t, r.Render(context.Background(), wfTicket(), el))

	assert.Equal(t, StateFallback, out.State)
	assert.Equal(t, ReasonEncodeException, out.Reason)
	assert.ErrorIs(t, out.Err, ErrEncodeThrew)
	assert.Contains(t, el.InnerHTML(), "WF-1029")
}

func TestRenderInvalidTicketFallsBack(t *testing.T) {
	r := New(Static(&fakeEncoder{}), testConfig(), quietLogger())
	el := NewElement("qr-code")

	out := wait(t, r.Render(context.Background(), ticket.Ticket{Origin: "Kenema"}, el))

	assert.Equal(t, StateFallback, out.State)
	assert.Equal(t, ReasonEncodeError, out.Reason)
	assert.Contains(t, el.InnerHTML(), "N/A")
}

func TestRenderTargetMissing(t *testing.T) {
	enc := &fakeEncoder{}
	r := New(Static(enc), testConfig(), quietLogger())

	var seen []Outcome
	r.OnComplete(func(o Outcome) { seen = append(seen, o) })

	job := r.Render(context.Background(), wfTicket(), nil)
	select {
	case <-job.Done():
	default:
		t.Fatal("missing target should complete immediately")
	}
	out := wait(t, job)
	assert.Equal(t, StateFailed, out.State)
	assert.Equal(t, ReasonTargetMissing, out.Reason)
	assert.ErrorIs(t, out.Err, ErrTargetMissing)

	var el *Element
	out = wait(t, r.Render(context.Background(), wfTicket(), el))
	assert.ErrorIs(t, out.Err, ErrTargetMissing)

	assert.Len(t, seen, 2)
	assert.EqualValues(t, 0, enc.calls.Load())
}

func TestRenderTwiceKeepsOnlySecond(t *testing.T) {
	r := New(Static(&fakeEncoder{}), testConfig(), quietLogger())
	el := NewElement("qr-code")

	first := wfTicket()
	second := wfTicket()
	second.PNR = "WF-2040"
	second.Origin = "Makeni"

	wait(t, r.Render(context.Background(), first, el))
	wait(t, r.Render(context.Background(), second, el))

	a := el.Artifact()
	require.NotNil(t, a)
	assert.Contains(t, a.Payload, "WF-2040")
	assert.NotContains(t, a.Payload, "WF-1029")

	// Success followed by fallback replaces the image entirely.
	failing := New(Static(&fakeEncoder{err: errors.New("boom")}), testConfig(), quietLogger())
	wait(t, failing.Render(context.Background(), first, el))
	assert.Nil(t, el.Artifact())
	assert.NotContains(t, el.InnerHTML(), "WF-2040")
	assert.Contains(t, el.InnerHTML(), "WF-1029")
}

func TestRenderRoundTripFallback(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAttempts = 0
	r := New(nil, cfg, quietLogger())

	tk := wfTicket()
	tk.IsRoundTrip = true
	el := NewElement("qr-code")
	wait(t, r.Render(context.Background(), tk, el))
	assert.NotContains(t, el.InnerHTML(), "ROUND TRIP")

	tk.ReturnDate = "Mar 20, 2025"
	wait(t, r.Render(context.Background(), tk, el))
	assert.Contains(t, el.InnerHTML(), "ROUND TRIP")
}

func TestRenderURLMode(t *testing.T) {
	enc := &fakeEncoder{}
	cfg := testConfig()
	cfg.Mode = ticket.PayloadURL
	cfg.BaseURL = "https://tickets.wakafine.sl"
	r := New(Static(enc), cfg, quietLogger())

	out := wait(t, r.Render(context.Background(), wfTicket(), NewElement("qr")))

	require.Equal(t, StateSucceeded, out.State)
	assert.Equal(t, "https://tickets.wakafine.sl/tickets/WF-1029", out.Payload)
	assert.Equal(t, out.Payload, enc.lastPayload())
}

func TestRenderPerCallOptions(t *testing.T) {
	r := New(Static(&fakeEncoder{}), testConfig(), quietLogger())
	el := NewElement("qr")

	wait(t, r.Render(context.Background(), wfTicket(), el, Options{Width: 200, Height: 180}))
	assert.Contains(t, el.InnerHTML(), `width="200" height="180"`)

	out := wait(t, r.Render(context.Background(), wfTicket(), el, Options{ColorDark: "blue"}))
	assert.Equal(t, StateFallback, out.State)
	assert.Equal(t, ReasonEncodeError, out.Reason)
}

func TestObserversRunBeforeDone(t *testing.T) {
	r := New(Static(&fakeEncoder{}), testConfig(), quietLogger())

	var got atomic.Value
	r.OnComplete(func(o Outcome) { got.Store(o) })
	r.OnComplete(func(Outcome) { panic("observer bug") })

	out := wait(t, r.Render(context.Background(), wfTicket(), NewElement("qr")))

	stored, ok := got.Load().(Outcome)
	require.True(t, ok)
	assert.Equal(t, out.JobID, stored.JobID)
	assert.Equal(t, StateSucceeded, stored.State)
}

type panickyTarget struct{}

func (panickyTarget) ShowImage(*Artifact, Size) error { panic("dom gone") }
func (panickyTarget) ShowFallback(Fallback) error     { panic("dom gone") }

func TestRenderSurvivesPanickingTarget(t *testing.T) {
	r := New(Static(&fakeEncoder{}), testConfig(), quietLogger())

	out := r.RenderSync(context.Background(), wfTicket(), panickyTarget{})

	assert.Equal(t, StateFailed, out.State)
	assert.Equal(t, ReasonTargetError, out.Reason)
}

type brokenImageTarget struct{ *Element }

func (brokenImageTarget) ShowImage(*Artifact, Size) error { return errors.New("image rejected") }

func TestRenderTargetImageErrorFallsBack(t *testing.T) {
	r := New(Static(&fakeEncoder{}), testConfig(), quietLogger())
	target := brokenImageTarget{NewElement("qr")}

	out := r.RenderSync(context.Background(), wfTicket(), target)

	assert.Equal(t, StateFallback, out.State)
	assert.Equal(t, ReasonTargetError, out.Reason)
	assert.Equal(t, ContentFallback, target.Kind())
}

func TestJobWaitHonoursContext(t *testing.T) {
	cfg := testConfig()
	cfg.PollInterval = time.Hour
	r := New(NewRegistry(), cfg, quietLogger())

	renderCtx, stop := context.WithCancel(context.Background())
	defer stop()
	job := r.Render(renderCtx, wfTicket(), NewElement("qr"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	_, err := job.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateWaiting, job.State())
}

func TestFallbackEscapesTicketText(t *testing.T) {
	tk := wfTicket()
	tk.Origin = `<script>alert(1)</script>`
	f := NewFallback(tk, ReasonTimeout, Size{Width: 120, Height: 120})

	html := f.HTML()
	assert.NotContains(t, html, "<script>")
	assert.Contains(t, html, "&lt;script&gt;")
	assert.Contains(t, html, "width: 120px")

	text := f.Text()
	assert.True(t, strings.HasPrefix(text, "QR CODE\nWF-1029\n"))
	assert.True(t, strings.HasSuffix(text, "SCAN TO VERIFY"))
}

type mapCache struct {
	mu   sync.Mutex
	data map[string]*Artifact
	gets int
}

func (m *mapCache) Get(_ context.Context, key string) (*Artifact, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	a, ok := m.data[key]
	return a, ok, nil
}

func (m *mapCache) Set(_ context.Context, key string, a *Artifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = a
	return nil
}

func TestCachingEncoder(t *testing.T) {
	next := &fakeEncoder{}
	cache := &mapCache{data: map[string]*Artifact{}}
	enc := &CachingEncoder{Next: next, Cache: cache, Log: quietLogger()}
	opts := Defaults()

	a1, err := enc.Encode(context.Background(), "PNR: X", opts)
	require.NoError(t, err)
	a2, err := enc.Encode(context.Background(), "PNR: X", opts)
	require.NoError(t, err)

	assert.Equal(t, a1, a2)
	assert.EqualValues(t, 1, next.calls.Load())
	assert.Equal(t, 2, cache.gets)

	opts.Width = 300
	_, err = enc.Encode(context.Background(), "PNR: X", opts)
	require.NoError(t, err)
	assert.EqualValues(t, 2, next.calls.Load())
}

func TestCachingEncoderDoesNotCacheErrors(t *testing.T) {
	next := &fakeEncoder{err: errors.New("too long")}
	cache := &mapCache{data: map[string]*Artifact{}}
	enc := &CachingEncoder{Next: next, Cache: cache, Log: quietLogger()}

	_, err := enc.Encode(context.Background(), "x", Defaults())
	require.Error(t, err)
	assert.Empty(t, cache.data)
}

func TestCacheKeyDistinguishesFormat(t *testing.T) {
	o := Defaults()
	assert.NotEqual(t, CacheKey("png", "p", o), CacheKey("svg", "p", o))
	assert.Equal(t, CacheKey("png", "p", o), CacheKey("png", "p", o))
}

func TestObserversRunInRegistrationOrder(t *testing.T) {
	r := New(Static(&fakeEncoder{}), testConfig(), quietLogger())

	var mu sync.Mutex
	var order []int
	for i := range 3 {
		r.OnComplete(func(Outcome) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}

	wait(t, r.Render(context.Background(), wfTicket(), NewElement("qr")))
	wait(t, r.Render(context.Background(), wfTicket(), NewElement("qr")))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{0, 1, 2, 0, 1, 2}, order)
}
