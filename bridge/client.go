// Package bridge delivers ticket codes to passengers over WhatsApp. It keeps
// one linked device session in SQLite, pairs by QR code when no session
// exists and reconnects in the background when the link drops.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	_ "modernc.org/sqlite"
)

// Status represents the current connection state of the WhatsApp link.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusPairing      Status = "pairing"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
)

// ErrNotConnected is returned by send operations while the link is down.
var ErrNotConnected = errors.New("whatsapp is not connected")

// Client wraps a single linked whatsmeow device.
type Client struct {
	wa        *whatsmeow.Client
	container *sqlstore.Container
	status    Status
	pairCode  string
	mu        sync.RWMutex
	log       *slog.Logger
	startTime time.Time
}

// NewClient opens the session store in dataDir/sessions. The store is opened
// immediately so session presence is known before the first Connect.
func NewClient(ctx context.Context, dataDir string, log *slog.Logger) (*Client, error) {
	storeDir := filepath.Join(dataDir, "sessions")
	if err := os.MkdirAll(storeDir, 0o755); err != nil {
		return nil, fmt.Errorf("create sessions dir: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)",
		filepath.Join(storeDir, "whatsapp.db"))

	container, err := sqlstore.New(ctx, "sqlite", dsn, waLog.Noop)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}

	c := &Client{
		container: container,
		status:    StatusDisconnected,
		log:       log,
		startTime: time.Now(),
	}

	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("get device store: %w", err)
	}
	c.wa = whatsmeow.NewClient(device, waLog.Noop)
	c.wa.AddEventHandler(c.handleEvent)
	return c, nil
}

// Connect links the device. Without a stored session it starts QR pairing
// and returns once the first code is being served; with one it resumes the
// session. Calling Connect while connected is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	wa := c.wa
	if wa.IsConnected() {
		if wa.Store.ID != nil {
			c.status = StatusConnected
		}
		c.mu.Unlock()
		return nil
	}
	c.status = StatusConnecting
	c.mu.Unlock()

	if wa.Store.ID != nil {
		if err := wa.Connect(); err != nil {
			c.setStatus(StatusDisconnected)
			return fmt.Errorf("connect: %w", err)
		}
		c.setStatus(StatusConnected)
		c.log.Info("resumed whatsapp session", "jid", wa.Store.ID.String())
		return nil
	}

	// QR events outlive the caller's request, so pairing gets its own context.
	codes, err := wa.GetQRChannel(context.Background())
	if err != nil {
		c.setStatus(StatusDisconnected)
		return fmt.Errorf("get QR channel: %w", err)
	}
	if err := wa.Connect(); err != nil {
		c.setStatus(StatusDisconnected)
		return fmt.Errorf("connect for pairing: %w", err)
	}
	c.setStatus(StatusPairing)

	go c.watchPairing(codes)

	c.log.Info("whatsapp pairing started, waiting for scan")
	return nil
}

// watchPairing follows the pairing channel until it closes.
func (c *Client) watchPairing(codes <-chan whatsmeow.QRChannelItem) {
	for evt := range codes {
		switch evt.Event {
		case "code":
			c.mu.Lock()
			c.pairCode = evt.Code
			c.mu.Unlock()
			c.log.Info("new pairing code available")

		case "success":
			c.mu.Lock()
			c.status = StatusConnected
			c.pairCode = ""
			c.mu.Unlock()
			c.log.Info("whatsapp pairing successful", "jid", c.JID())

		case "timeout":
			c.mu.Lock()
			c.status = StatusDisconnected
			c.pairCode = ""
			c.mu.Unlock()
			c.log.Warn("whatsapp pairing code timed out")

		default:
			if evt.Error != nil {
				c.log.Warn("whatsapp pairing failed", "event", evt.Event, "error", evt.Error)
			}
		}
	}
}

// Disconnect closes the websocket. The stored session is kept.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.wa.Disconnect()
	c.status = StatusDisconnected
	c.pairCode = ""
}

// Logout unlinks the device and deletes the stored session, so the next
// Connect pairs again.
func (c *Client) Logout(ctx context.Context) error {
	if !c.HasSession() {
		return nil
	}
	if err := c.current().Logout(ctx); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	c.Disconnect()

	// The old device row is gone; start over with a blank one.
	c.mu.Lock()
	c.wa = whatsmeow.NewClient(c.container.NewDevice(), waLog.Noop)
	c.wa.AddEventHandler(c.handleEvent)
	c.mu.Unlock()
	return nil
}

// IsConnected implements Reconnectable.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.wa.IsConnected()
}

// HasSession implements Reconnectable.
func (c *Client) HasSession() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.wa.Store.ID != nil
}

// Status cross-checks the websocket with the recorded state. An open socket
// without a linked device is still pairing.
func (c *Client) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	switch {
	case c.wa.IsConnected() && c.wa.Store.ID != nil:
		return StatusConnected
	case c.wa.IsConnected():
		return StatusPairing
	}
	return c.status
}

// PairingCode returns the code to render as a pairing QR, or "".
func (c *Client) PairingCode() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pairCode
}

// JID returns the linked device ID, or "" before pairing.
func (c *Client) JID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.wa.Store.ID == nil {
		return ""
	}
	return c.wa.Store.ID.String()
}

// Uptime reports how long the client has existed.
func (c *Client) Uptime() time.Duration {
	return time.Since(c.startTime)
}

// SendText sends a plain text message to a JID or phone number.
func (c *Client) SendText(ctx context.Context, to, message string) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	jid, err := parseJID(to)
	if err != nil {
		return err
	}

	msg := &waProto.Message{Conversation: proto.String(message)}
	if _, err := c.current().SendMessage(ctx, jid, msg); err != nil {
		return fmt.Errorf("send text message: %w", err)
	}
	return nil
}

// SendTicketImage uploads a PNG ticket code and sends it with caption.
func (c *Client) SendTicketImage(ctx context.Context, to string, png []byte, caption string) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	jid, err := parseJID(to)
	if err != nil {
		return err
	}

	wa := c.current()
	up, err := wa.Upload(ctx, png, whatsmeow.MediaImage)
	if err != nil {
		return fmt.Errorf("upload ticket image: %w", err)
	}
	msg := &waProto.Message{
		ImageMessage: &waProto.ImageMessage{
			URL:           proto.String(up.URL),
			Mimetype:      proto.String("image/png"),
			Caption:       proto.String(caption),
			FileLength:    proto.Uint64(uint64(len(png))),
			FileSHA256:    up.FileSHA256,
			FileEncSHA256: up.FileEncSHA256,
			MediaKey:      up.MediaKey,
			DirectPath:    proto.String(up.DirectPath),
		},
	}
	if _, err := wa.SendMessage(ctx, jid, msg); err != nil {
		return fmt.Errorf("send ticket image: %w", err)
	}
	return nil
}

// --- helpers ----------------------------------------------------------------

// parseJID accepts a full JID or a phone number. Phone numbers lose a
// leading "+" or "00" and any non-digit characters.
func parseJID(s string) (types.JID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return types.JID{}, fmt.Errorf("empty recipient")
	}

	if strings.Contains(s, "@") {
		jid, err := types.ParseJID(s)
		if err != nil {
			return types.JID{}, fmt.Errorf("parse JID %q: %w", s, err)
		}
		return jid, nil
	}

	num := strings.TrimPrefix(strings.TrimPrefix(s, "+"), "00")
	num = strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, num)
	if num == "" {
		return types.JID{}, fmt.Errorf("no digits in recipient %q", s)
	}
	return types.NewJID(num, types.DefaultUserServer), nil
}

func (c *Client) current() *whatsmeow.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.wa
}

func (c *Client) setStatus(s Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = s
}
