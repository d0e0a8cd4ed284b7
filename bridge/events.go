package bridge

import (
	"go.mau.fi/whatsmeow/types/events"
)

// handleEvent tracks connection state. Incoming chat messages are ignored:
// the bridge only sends tickets.
func (c *Client) handleEvent(evt interface{}) {
	switch evt.(type) {
	case *events.Connected:
		c.setStatus(StatusConnected)
		c.log.Info("connected to whatsapp", "jid", c.JID())

	case *events.Disconnected:
		c.setStatus(StatusDisconnected)
		c.log.Info("disconnected from whatsapp")

	case *events.LoggedOut:
		c.mu.Lock()
		c.status = StatusDisconnected
		c.pairCode = ""
		c.mu.Unlock()
		c.log.Warn("logged out from whatsapp")

	case *events.StreamReplaced:
		c.setStatus(StatusDisconnected)
		c.log.Warn("stream replaced, another client is using this session")

	case *events.PairSuccess:
		c.log.Info("whatsapp device linked")
	}
}
