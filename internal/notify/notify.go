// Package notify implements the notification policy and sink. The policy
// answers the user-setting questions the engine asks before raising a
// notification; the sink publishes the notification on the bus for whatever
// front end is attached.
package notify

import (
	"time"

	"go.uber.org/zap"

	"github.com/ofbraga/chatd/internal/bus"
	"github.com/ofbraga/chatd/internal/chat"
	"github.com/ofbraga/chatd/internal/config"
)

// Center is the notification policy plus sink. It satisfies chat.Notifier.
type Center struct {
	enabled      bool
	whileVisible map[string]bool
	bus          *bus.Bus
	logger       *zap.Logger
}

// NewCenter builds a notification center from configuration.
func NewCenter(cfg config.Notifications, b *bus.Bus, logger *zap.Logger) *Center {
	if logger == nil {
		logger = zap.NewNop()
	}
	wv := make(map[string]bool, len(cfg.WhileVisible))
	for _, peer := range cfg.WhileVisible {
		wv[peer] = true
	}
	return &Center{
		enabled:      cfg.Enabled,
		whileVisible: wv,
		bus:          b,
		logger:       logger,
	}
}

// ShouldNotify is the global notify-on-message setting.
func (c *Center) ShouldNotify() bool {
	return c.enabled
}

// NotifyWhileVisible reports whether the peer may notify even while its
// conversation is visible.
func (c *Center) NotifyWhileVisible(_ chat.AccountID, peer chat.PeerID) bool {
	return c.whileVisible[string(peer)]
}

// Notification is the payload published for each raised notification. First
// marks the session's first notification since it was opened or closed, so a
// front end can render it more prominently (sound vs. silent update).
type Notification struct {
	Message *chat.Message
	First   bool
}

// Raise publishes the notification event. Never blocks the caller: the bus
// drops on full subscriber buffers.
func (c *Center) Raise(m *chat.Message, first bool) {
	c.logger.Info("notification raised",
		zap.String("peer", string(m.Peer)),
		zap.String("message_id", m.ID),
		zap.Bool("first", first))
	if c.bus != nil {
		c.bus.Publish(bus.Event{
			Kind:      "notify.message",
			Timestamp: time.Now(),
			Payload:   &Notification{Message: m, First: first},
		})
	}
}
