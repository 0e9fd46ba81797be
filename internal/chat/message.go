package chat

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// AccountID identifies the local account a conversation belongs to.
type AccountID string

// PeerID identifies the remote contact or room of a conversation.
type PeerID string

func (a AccountID) String() string { return string(a) }
func (p PeerID) String() string    { return string(p) }

// ActionKind marks a message as an informational event rather than content.
type ActionKind string

const (
	ActionNone         ActionKind = ""
	ActionJoin         ActionKind = "join"
	ActionLeave        ActionKind = "leave"
	ActionKick         ActionKind = "kick"
	ActionInvite       ActionKind = "invite"
	ActionSubject      ActionKind = "subject"
	ActionStatusChange ActionKind = "status"
)

// ErrEmptyMessage is returned when a message is constructed with neither a
// body nor an action.
var ErrEmptyMessage = errors.New("chat: message needs a body or an action")

// Message is one chat message or action event. It is created by a Session,
// persisted immediately, and mutated only through delivery-state transitions.
type Message struct {
	// ID is client-generated and stable across send retries.
	ID       string
	Account  AccountID
	Peer     PeerID
	Resource string

	Body   string
	Action ActionKind

	// CreatedAt is the local wall clock at construction. DelayedAt, when
	// set, is the server-asserted or queue-asserted original send time and
	// takes precedence for display purposes.
	CreatedAt time.Time
	DelayedAt *time.Time

	Incoming     bool
	Read         bool
	Delivered    bool
	Acknowledged bool
	Failed       bool
	Unencrypted  bool
	FromOffline  bool

	// StanzaID is assigned by the transport once the message is handed over.
	StanzaID string
}

// newMessageID returns a fresh client message identifier.
func newMessageID() string {
	return uuid.NewString()
}

// IsAction reports whether the message is an informational event.
func (m *Message) IsAction() bool {
	return m.Action != ActionNone
}

// EffectiveTime returns when the message really happened: the delay
// timestamp when present, the local creation time otherwise.
func (m *Message) EffectiveTime() time.Time {
	if m.DelayedAt != nil {
		return *m.DelayedAt
	}
	return m.CreatedAt
}

// Clone returns a detached copy safe to hand to other goroutines.
func (m *Message) Clone() *Message {
	c := *m
	if m.DelayedAt != nil {
		d := *m.DelayedAt
		c.DelayedAt = &d
	}
	return &c
}
