// Package transport defines the wire-level contract between the chat engine
// and a concrete messaging network adapter.
package transport

import (
	"context"
	"errors"
	"time"
)

// ErrNotConnected is returned by Send when the transport has no usable
// connection. The dispatch pass treats it (and any other Send error) as a
// connectivity failure and stops.
var ErrNotConnected = errors.New("transport: not connected")

// Kind distinguishes one-to-one chats from room chats on the wire.
type Kind string

const (
	KindChat Kind = "chat"
	KindRoom Kind = "groupchat"
)

// WireMessage is a minimal transport-ready outgoing message.
type WireMessage struct {
	To       string
	Kind     Kind
	Body     string
	ThreadID string
	// DelayedAt carries the original creation time of a message that sat in
	// the outgoing queue long enough that the remote party should be told it
	// was authored earlier than it was transmitted.
	DelayedAt *time.Time
}

// Sender hands messages to the network. Send is fire-and-forget from the
// engine's point of view: a nil error means the message was accepted and a
// transport identifier was assigned; remote receipt is reported later through
// an out-of-band acknowledgment path.
type Sender interface {
	Send(ctx context.Context, msg *WireMessage) (stanzaID string, err error)
}
