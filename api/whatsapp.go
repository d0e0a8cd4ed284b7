package api

import (
	"encoding/base64"
	"net/http"

	"github.com/wakafine/ticketqr/bridge"
	"github.com/wakafine/ticketqr/render"
)

// pairingOptions draws the device-linking code black on white so any phone
// camera reads it.
var pairingOptions = render.Options{
	Width:           512,
	Height:          512,
	Margin:          2,
	ErrorCorrection: render.LevelM,
	ColorDark:       "#000000",
	ColorLight:      "#ffffff",
}

type qrDataResponse struct {
	Status string `json:"status"`
	QRPNG  string `json:"qr_png,omitempty"`
	Phone  string `json:"phone,omitempty"`
}

func (s *Server) handleQRData(w http.ResponseWriter, r *http.Request) {
	if s.WhatsApp == nil {
		writeError(w, http.StatusServiceUnavailable, "whatsapp is disabled")
		return
	}

	status := s.WhatsApp.Status()
	resp := qrDataResponse{Status: string(status)}

	if status == bridge.StatusConnected {
		resp.Phone = s.WhatsApp.JID()
	} else if code := s.WhatsApp.PairingCode(); code != "" && s.Pairing != nil {
		a, err := s.Pairing.Encode(r.Context(), code, pairingOptions)
		if err != nil {
			s.Log.Warn("pairing code encode failed", "error", err)
		} else {
			resp.QRPNG = base64.StdEncoding.EncodeToString(a.Data)
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleQRPage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(pairingPageHTML))
}

const pairingPageHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Ticket delivery: link WhatsApp</title>
<style>
  * { margin: 0; padding: 0; box-sizing: border-box; }
  body {
    font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif;
    background: #f3f4f6;
    color: #111827;
    display: flex;
    justify-content: center;
    align-items: center;
    min-height: 100vh;
  }
  .card {
    background: #fff;
    border-radius: 12px;
    box-shadow: 0 1px 3px rgba(0,0,0,.1);
    padding: 40px;
    text-align: center;
    max-width: 440px;
    width: 100%;
  }
  h1 { font-size: 20px; margin-bottom: 8px; }
  .hint { color: #6b7280; font-size: 14px; margin-bottom: 24px; }
  #pairing {
    width: 280px; height: 280px;
    margin: 0 auto 16px;
    display: flex;
    align-items: center;
    justify-content: center;
    border: 2px dashed #d1d5db;
    border-radius: 8px;
  }
  #pairing img { width: 260px; height: 260px; }
  #state { font-size: 14px; color: #6b7280; }
  .linked { color: #16a34a !important; font-weight: 600; }
</style>
</head>
<body>
<div class="card">
  <h1>Link the ticket sender</h1>
  <p class="hint">On the sending phone open WhatsApp, Settings &gt; Linked Devices &gt; Link a Device</p>
  <div id="pairing"><span id="state-box">Loading...</span></div>
  <div id="state"></div>
</div>
<script>
(function() {
  var box = document.getElementById('pairing');
  var state = document.getElementById('state');
  var img = null;

  function reset() {
    while (box.firstChild) box.removeChild(box.firstChild);
  }

  function poll() {
    fetch('qr/data')
      .then(function(r) { return r.json(); })
      .then(function(data) {
        if (data.status === 'connected') {
          reset();
          img = null;
          state.className = 'linked';
          state.textContent = 'Linked ' + (data.phone || '');
          return;
        }
        state.className = '';
        if (!data.qr_png) {
          state.textContent = 'Waiting for a pairing code...';
          return;
        }
        if (!img) {
          reset();
          img = document.createElement('img');
          img.setAttribute('alt', 'WhatsApp pairing code');
          box.appendChild(img);
        }
        img.setAttribute('src', 'data:image/png;base64,' + data.qr_png);
        state.textContent = 'Scan this code with WhatsApp';
      })
      .catch(function() {
        state.textContent = 'Connection error, retrying...';
      });
  }

  poll();
  setInterval(poll, 3000);
})();
</script>
</body>
</html>`
