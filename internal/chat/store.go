package chat

import "time"

// MessageStore is the durable message storage consumed by the engine.
// Implementations must give a session read-your-writes consistency: a
// dispatch pass observes its own completed writes on the next read.
type MessageStore interface {
	// Save persists the message durably. Idempotent on m.ID.
	Save(m *Message) error
	// Pending returns a session's undelivered, unfailed messages in
	// ascending CreatedAt order.
	Pending(account AccountID, peer PeerID) ([]*Message, error)
	// FindByID returns the message or (nil, nil) when absent.
	FindByID(id string) (*Message, error)
	// MarkDelivered records a successful transport handover: delivered flag,
	// transport identifier and, when computed, the delay marker.
	MarkDelivered(id, stanzaID string, delayedAt *time.Time) error
	// MarkFailed records a terminal per-message content failure.
	MarkFailed(id string) error
	// AckByStanzaID flips the acknowledged flag on the session's message
	// with the given transport identifier. Reports whether a message was
	// found; a missing message is not an error.
	AckByStanzaID(account AccountID, peer PeerID, stanzaID string) (bool, error)
	// LastText returns the most recent message with a non-empty body, or
	// (nil, nil) when the session has none.
	LastText(account AccountID, peer PeerID) (*Message, error)
}

// SessionRecord is the persisted bookkeeping of one session.
type SessionRecord struct {
	Account             AccountID
	Peer                PeerID
	ThreadID            string
	PrivateRoom         bool
	PrivateRoomAccepted bool
	CreatedAt           time.Time
	LastSyncedAt        *time.Time
	HistoryLoaded       bool
}

// SessionStore persists session bookkeeping so thread identity survives a
// daemon restart.
type SessionStore interface {
	SaveSession(rec *SessionRecord) error
	// FindSession returns the record or (nil, nil) when absent.
	FindSession(account AccountID, peer PeerID) (*SessionRecord, error)
}

// Notifier is the notification policy and sink. Raise must not block the
// caller; the engine fires it and forgets.
type Notifier interface {
	// ShouldNotify is the global notify-on-message user setting.
	ShouldNotify() bool
	// NotifyWhileVisible reports whether the peer may notify even while its
	// conversation is the visible one.
	NotifyWhileVisible(account AccountID, peer PeerID) bool
	// Raise delivers the notification. first is true for the session's first
	// notification since it was opened fresh or closed; sinks may render it
	// more prominently.
	Raise(m *Message, first bool)
}
