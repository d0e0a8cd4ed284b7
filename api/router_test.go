package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wakafine/ticketqr/bridge"
	"github.com/wakafine/ticketqr/encoder"
	"github.com/wakafine/ticketqr/render"
	"github.com/wakafine/ticketqr/store"
	"github.com/wakafine/ticketqr/ticket"
	"github.com/wakafine/ticketqr/ticketpdf"
)

type fakeWhatsApp struct {
	status bridge.Status
	code   string
	logout int
}

func (f *fakeWhatsApp) Status() bridge.Status { return f.status }
func (f *fakeWhatsApp) JID() string {
	if f.status == bridge.StatusConnected {
		return "23276000000@s.whatsapp.net"
	}
	return ""
}
func (f *fakeWhatsApp) PairingCode() string { return f.code }
func (f *fakeWhatsApp) Logout(context.Context) error {
	f.logout++
	return nil
}

type fakeDelivery struct {
	phone string
	err   error
}

func (f *fakeDelivery) Deliver(_ context.Context, t ticket.Ticket, phone string) (bridge.DeliveryResult, error) {
	f.phone = phone
	if f.err != nil {
		return bridge.DeliveryResult{}, f.err
	}
	return bridge.DeliveryResult{PNR: t.PNR, To: phone, Kind: "image", State: "succeeded"}, nil
}

func newTestServer(t *testing.T, source render.EncoderSource) (*Server, http.Handler) {
	t.Helper()
	return newTestServerWithImages(t, source, source)
}

func newTestServerWithImages(t *testing.T, pages, images render.EncoderSource) (*Server, http.Handler) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := store.NewTicketStore(filepath.Join(t.TempDir(), "tickets.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := render.DefaultConfig()
	cfg.PollInterval = time.Millisecond
	cfg.MaxAttempts = 2
	logRender := func(o render.Outcome) {
		_ = st.LogRender(context.Background(), o)
	}
	renderer := render.New(pages, cfg, log)
	renderer.OnComplete(logRender)
	imageRenderer := render.New(images, cfg, log)
	imageRenderer.OnComplete(logRender)

	s := &Server{
		Renderer:  renderer,
		Images:    imageRenderer,
		Tickets:   st,
		PDF:       ticketpdf.NewBuilder(imageRenderer),
		Pairing:   encoder.PNG{},
		Log:       log,
		Version:   "test",
		StartTime: time.Now(),
	}
	return s, NewRouter(s)
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rd)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func seed(t *testing.T, h http.Handler) ticket.Ticket {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/tickets", ticket.Ticket{
		PNR:            "WF1029AB",
		PassengerName:  "Aminata Kamara",
		PassengerPhone: "+23276000000",
		Origin:         "Freetown",
		Destination:    "Bo",
		TravelDate:     "Mar 14, 2025",
		AmountPaid:     250,
		IsRoundTrip:    true,
		ReturnDate:     "Mar 20, 2025",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var got ticket.Ticket
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	return got
}

func TestStatus(t *testing.T) {
	s, h := newTestServer(t, render.Static(encoder.PNG{}))

	rec := do(t, h, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.EncoderReady)
	assert.Equal(t, "disabled", resp.WhatsApp)

	s.WhatsApp = &fakeWhatsApp{status: bridge.StatusConnected}
	rec = do(t, h, http.MethodGet, "/status", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "connected", resp.WhatsApp)
	assert.NotEmpty(t, resp.Phone)
}

func TestTicketCRUD(t *testing.T) {
	_, h := newTestServer(t, render.Static(encoder.PNG{}))
	seed(t, h)

	rec := do(t, h, http.MethodGet, "/tickets/WF1029AB", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"passenger_name":"Aminata Kamara"`)

	rec = do(t, h, http.MethodGet, "/tickets/NOPE", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodPost, "/tickets", `{"origin": "Kenema"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var generated ticket.Ticket
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &generated))
	assert.True(t, ticket.IsPNR(generated.PNR))

	rec = do(t, h, http.MethodPost, "/tickets", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/tickets", `{"pnr": ".."}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "dots")

	rec = do(t, h, http.MethodGet, "/tickets?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []ticket.Ticket
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)
}

func TestQRFragment(t *testing.T) {
	_, h := newTestServer(t, render.Static(encoder.PNG{}))
	seed(t, h)

	rec := do(t, h, http.MethodGet, "/tickets/WF1029AB/qr", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "succeeded", rec.Header().Get("X-QR-State"))
	body := rec.Body.String()
	assert.Contains(t, body, `id="qr-code"`)
	assert.Contains(t, body, `data-qr-ready="true"`)
	assert.Contains(t, body, `src="data:image/png;base64,`)
}

func TestQRFragmentFallback(t *testing.T) {
	_, h := newTestServer(t, render.NewRegistry())
	seed(t, h)

	rec := do(t, h, http.MethodGet, "/tickets/WF1029AB/qr", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "fallback", rec.Header().Get("X-QR-State"))
	body := rec.Body.String()
	assert.Contains(t, body, `data-qr-ready="false"`)
	assert.Contains(t, body, "WF1029AB")
	assert.Contains(t, body, "ROUND TRIP")
	assert.Contains(t, body, "SCAN TO VERIFY")
}

func TestQRImage(t *testing.T) {
	_, h := newTestServer(t, render.Static(encoder.PNG{}))
	seed(t, h)

	rec := do(t, h, http.MethodGet, "/tickets/WF1029AB/qr.png?size=200", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")))
}

func TestQRImageUsesImageRenderer(t *testing.T) {
	_, h := newTestServerWithImages(t, render.Static(encoder.SVG{}), render.Static(encoder.PNG{}))
	seed(t, h)

	rec := do(t, h, http.MethodGet, "/tickets/WF1029AB/qr.png", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")))

	rec = do(t, h, http.MethodGet, "/tickets/WF1029AB/qr", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "data:image/svg+xml;base64,")
}

func TestQRImageUnavailable(t *testing.T) {
	_, h := newTestServer(t, render.NewRegistry())
	seed(t, h)

	rec := do(t, h, http.MethodGet, "/tickets/WF1029AB/qr.png", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var resp qrFailureResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "fallback", resp.State)
	assert.Equal(t, render.ReasonTimeout, resp.Reason)
	assert.Contains(t, resp.FallbackHTML, "qr-fallback")
}

func TestTicketPageAndPDF(t *testing.T) {
	_, h := newTestServer(t, render.Static(encoder.PNG{}))
	seed(t, h)

	rec := do(t, h, http.MethodGet, "/tickets/WF1029AB/page", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "Aminata Kamara")
	assert.Contains(t, body, "Round Trip")
	assert.Contains(t, body, "Le 250")
	assert.Contains(t, body, `data-qr-ready="true"`)

	rec = do(t, h, http.MethodGet, "/tickets/WF1029AB/pdf", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "TICKET_WF1029AB.pdf")
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF")))
}

func TestRenderHistory(t *testing.T) {
	_, h := newTestServer(t, render.Static(encoder.PNG{}))
	seed(t, h)

	do(t, h, http.MethodGet, "/tickets/WF1029AB/qr", nil)
	do(t, h, http.MethodGet, "/tickets/WF1029AB/qr.png", nil)

	rec := do(t, h, http.MethodGet, "/tickets/WF1029AB/renders", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var records []store.RenderRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	require.Len(t, records, 2)
	assert.Equal(t, "succeeded", records[0].State)
}

func TestDeliver(t *testing.T) {
	s, h := newTestServer(t, render.Static(encoder.PNG{}))
	seed(t, h)

	rec := do(t, h, http.MethodPost, "/tickets/WF1029AB/deliver", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	d := &fakeDelivery{}
	s.Delivery = d
	rec = do(t, h, http.MethodPost, "/tickets/WF1029AB/deliver", map[string]string{"phone": "+23288111111"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "+23288111111", d.phone)

	rec = do(t, h, http.MethodPost, "/tickets/WF1029AB/deliver", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "", d.phone)

	d.err = bridge.ErrNotConnected
	rec = do(t, h, http.MethodPost, "/tickets/WF1029AB/deliver", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	d.err = bridge.ErrNoRecipient
	rec = do(t, h, http.MethodPost, "/tickets/WF1029AB/deliver", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/tickets/MISSING/deliver", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWhatsAppPairing(t *testing.T) {
	s, h := newTestServer(t, render.Static(encoder.PNG{}))

	rec := do(t, h, http.MethodGet, "/whatsapp/qr/data", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	wa := &fakeWhatsApp{status: bridge.StatusPairing, code: "2@abc,def,ghi"}
	s.WhatsApp = wa

	rec = do(t, h, http.MethodGet, "/whatsapp/qr/data", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp qrDataResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "pairing", resp.Status)
	assert.NotEmpty(t, resp.QRPNG)

	wa.status = bridge.StatusConnected
	rec = do(t, h, http.MethodGet, "/whatsapp/qr/data", nil)
	var linked qrDataResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &linked))
	assert.Equal(t, "connected", linked.Status)
	assert.Empty(t, linked.QRPNG)
	assert.NotEmpty(t, linked.Phone)

	rec = do(t, h, http.MethodGet, "/whatsapp/qr", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "qr/data")

	rec = do(t, h, http.MethodPost, "/whatsapp/logout", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, wa.logout)
}

func TestCORSPreflight(t *testing.T) {
	_, h := newTestServer(t, render.Static(encoder.PNG{}))

	rec := do(t, h, http.MethodOptions, "/tickets", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
