package wa

import (
	"context"
	"time"

	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"

	"github.com/ofbraga/chatd/internal/bus"
	"github.com/ofbraga/chatd/internal/chat"
	"github.com/ofbraga/chatd/internal/status"
)

// AccountSource resolves the local account identity. Satisfied by *Adapter.
type AccountSource interface {
	Account() chat.AccountID
}

// Handler processes whatsmeow events, drives the state machine, and feeds
// inbound traffic into the session registry.
type Handler struct {
	accounts AccountSource
	registry *chat.Registry
	store    chat.MessageStore
	machine  *status.Machine
	bus      *bus.Bus
	logger   *zap.Logger
}

// NewHandler creates a new transport event handler.
func NewHandler(accounts AccountSource, registry *chat.Registry, store chat.MessageStore, machine *status.Machine, b *bus.Bus, logger *zap.Logger) *Handler {
	return &Handler{
		accounts: accounts,
		registry: registry,
		store:    store,
		machine:  machine,
		bus:      b,
		logger:   logger,
	}
}

func (h *Handler) account() chat.AccountID {
	if h.accounts == nil {
		return ""
	}
	return h.accounts.Account()
}

// Handle is the main whatsmeow event handler function.
func (h *Handler) Handle(rawEvt any) {
	switch evt := rawEvt.(type) {
	case *events.Message:
		h.handleMessage(evt)
	case *events.Receipt:
		h.handleReceipt(evt)
	case *events.Connected:
		h.logger.Info("transport connected")
		current := h.machine.Current()
		if current == status.AuthRequired || current == status.Reconnecting {
			_ = h.machine.Transition(status.Connecting)
		}
		_ = h.machine.Transition(status.Syncing)
		h.bus.Publish(bus.Event{Kind: "transport.connected", Timestamp: time.Now()})
		// Flush every session's send queue now that the network is back.
		go h.registry.DispatchAll(context.Background())
	case *events.Disconnected:
		h.logger.Warn("transport disconnected")
		_ = h.machine.Transition(status.Reconnecting)
		h.bus.Publish(bus.Event{Kind: "transport.disconnected", Timestamp: time.Now()})
	case *events.HistorySync:
		h.handleHistorySync(evt)
	case *events.LoggedOut:
		h.logger.Warn("transport logged out", zap.String("reason", evt.Reason.String()))
		_ = h.machine.Transition(status.AuthRequired)
		h.bus.Publish(bus.Event{Kind: "transport.logged_out", Timestamp: time.Now(), Payload: evt.Reason.String()})
	}
}

func (h *Handler) handleMessage(evt *events.Message) {
	if h.machine.Current() == status.Syncing {
		_ = h.machine.Transition(status.Ready)
	}

	// Echoes of our own sends are already persisted by the dispatch path.
	if evt.Info.IsFromMe {
		return
	}

	parsed := ParseLiveMessage(evt)
	if parsed.Body == "" {
		return
	}

	session := h.registry.Get(h.account(), chat.PeerID(parsed.Peer))
	_, err := session.Record(chat.RecordRequest{
		Resource: parsed.Resource,
		Body:     parsed.Body,
		Incoming: true,
		Notify:   true,
		StanzaID: parsed.StanzaID,
	})
	if err != nil {
		h.logger.Warn("record inbound message",
			zap.String("peer", parsed.Peer),
			zap.Error(err))
	}
}

func (h *Handler) handleReceipt(evt *events.Receipt) {
	if evt.Type != types.ReceiptTypeDelivered {
		return
	}
	peer := chat.PeerID(evt.Chat.ToNonAD().String())
	for _, id := range evt.MessageIDs {
		h.registry.Acknowledge(h.account(), peer, string(id))
	}
}

func (h *Handler) handleHistorySync(evt *events.HistorySync) {
	data := evt.Data
	if data == nil {
		return
	}

	account := h.account()
	for _, conv := range data.GetConversations() {
		peer := chat.PeerID(NormalizeJID(conv.GetID()))
		session := h.registry.Get(account, peer)
		if session.HistoryLoaded() {
			continue
		}

		ingested := 0
		for _, hm := range conv.GetMessages() {
			wmsg := hm.GetMessage()
			if wmsg == nil || wmsg.GetMessage() == nil {
				continue
			}
			body := messageBody(wmsg.GetMessage())
			if body == "" {
				continue
			}
			ts := time.Unix(int64(wmsg.GetMessageTimestamp()), 0)
			stanzaID := wmsg.GetKey().GetID()
			fromMe := wmsg.GetKey().GetFromMe()

			m, err := session.Record(chat.RecordRequest{
				Body:        body,
				Incoming:    !fromMe,
				Notify:      false,
				FromOffline: true,
				DelayedAt:   &ts,
				StanzaID:    stanzaID,
			})
			if err != nil {
				continue
			}
			if fromMe {
				// Backfilled own messages were delivered long ago; keep them
				// out of the send queue.
				if err := h.store.MarkDelivered(m.ID, stanzaID, &ts); err != nil {
					h.logger.Warn("mark history message delivered", zap.Error(err))
				}
			}
			ingested++
		}

		session.SetHistoryLoaded(true)
		session.SetLastSyncedAt(time.Now())
		h.logger.Info("history ingested",
			zap.String("peer", peer.String()),
			zap.Int("messages", ingested))
	}
}
