package chat

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ofbraga/chatd/internal/transport"
)

// Session is one conversation between the local account and a peer. It owns
// the conversation's configuration (thread id, activation, sync bookmarks)
// and orchestrates message creation, persistence and dispatch.
//
// A session is created by the Registry on first reference to an
// (account, peer) pair and stays registered while messages exist.
type Session struct {
	account     AccountID
	peer        PeerID
	privateRoom bool
	kind        transport.Kind

	reg *Registry

	mu                  sync.Mutex
	active              bool
	privateRoomAccepted bool
	trackPresence       bool
	firstNotification   bool
	threadID            string
	createdAt           time.Time
	lastSyncedAt        *time.Time
	historyLoaded       bool
	lastText            *Message
	unsub               func()
	stop                chan struct{}

	// dispatchMu serializes dispatch passes: two concurrent passes over the
	// same pending set would re-send in-flight messages.
	dispatchMu sync.Mutex

	// prepare may rewrite outgoing text before send. Returning false marks
	// the message failed without stopping the pass.
	prepare func(text string) (string, bool)
}

// RecordRequest describes a message to be recorded on a session.
type RecordRequest struct {
	// Resource is the sender's resource or nick within the peer, empty if none.
	Resource string
	Body     string
	Action   ActionKind
	// DelayedAt is the server-asserted original send time, when known.
	DelayedAt *time.Time
	Incoming  bool
	// Notify is the caller's hint; the session applies its own gating on top.
	Notify      bool
	Unencrypted bool
	FromOffline bool
	StanzaID    string
}

func newSession(reg *Registry, account AccountID, peer PeerID, privateRoom bool) *Session {
	s := &Session{
		account:           account,
		peer:              peer,
		privateRoom:       privateRoom,
		kind:              transport.KindChat,
		reg:               reg,
		firstNotification: true,
		threadID:          newMessageID(),
		createdAt:         time.Now(),
	}
	if privateRoom {
		s.kind = transport.KindRoom
	}
	return s
}

// restore applies a persisted session record.
func (s *Session) restore(rec *SessionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.ThreadID != "" {
		s.threadID = rec.ThreadID
	}
	s.privateRoomAccepted = rec.PrivateRoomAccepted
	if !rec.CreatedAt.IsZero() {
		s.createdAt = rec.CreatedAt
	}
	s.lastSyncedAt = rec.LastSyncedAt
	s.historyLoaded = rec.HistoryLoaded
}

// Account returns the session's account identity.
func (s *Session) Account() AccountID { return s.account }

// Peer returns the session's peer identity.
func (s *Session) Peer() PeerID { return s.peer }

// IsPrivateRoom reports whether the session is an unconfirmed-invite style
// private room chat.
func (s *Session) IsPrivateRoom() bool { return s.privateRoom }

// IsActive reports whether the conversation counts as open. A private-room
// session whose invite has not been accepted is never active, regardless of
// the internal flag.
func (s *Session) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.privateRoom && !s.privateRoomAccepted {
		return false
	}
	return s.active
}

// Open marks the conversation as the user's focus. Transitioning from
// inactive resets the creation time and enables presence tracking.
// Idempotent.
func (s *Session) Open() {
	s.mu.Lock()
	s.openLocked()
	s.mu.Unlock()
	s.persist()
}

func (s *Session) openLocked() {
	if !s.active {
		s.createdAt = time.Now()
	}
	s.active = true
	s.trackPresence = true
	s.ensureProjectionLocked()
}

// Close deactivates the conversation, re-arms the first-notification flag
// and releases the store subscription. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	s.active = false
	s.firstNotification = true
	s.releaseProjectionLocked()
	s.mu.Unlock()
}

// ConsumeFirstNotification returns whether the session has never raised a
// notification, and clears the flag. A read clears, exactly once per
// Close-to-materialize cycle.
func (s *Session) ConsumeFirstNotification() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := s.firstNotification
	s.firstNotification = false
	return result
}

// TrackPresence reports whether presence changes should be recorded as
// events on this session.
func (s *Session) TrackPresence() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trackPresence
}

// CreatedAt returns the session creation time, reset on each reactivation.
func (s *Session) CreatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createdAt
}

// ThreadID returns the stable conversation thread token.
func (s *Session) ThreadID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threadID
}

// UpdateThreadID replaces the thread token. Empty means "keep current".
func (s *Session) UpdateThreadID(threadID string) {
	if threadID == "" {
		return
	}
	s.mu.Lock()
	s.threadID = threadID
	s.mu.Unlock()
	s.persist()
}

// SetPrivateRoomAccepted records that the private-room invite was confirmed.
func (s *Session) SetPrivateRoomAccepted(accepted bool) {
	s.mu.Lock()
	s.privateRoomAccepted = accepted
	s.mu.Unlock()
	s.persist()
}

// LastSyncedAt returns the history-sync bookmark, owned by the sync
// collaborator and merely stored here.
func (s *Session) LastSyncedAt() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastSyncedAt == nil {
		return nil
	}
	t := *s.lastSyncedAt
	return &t
}

// SetLastSyncedAt updates the history-sync bookmark.
func (s *Session) SetLastSyncedAt(t time.Time) {
	s.mu.Lock()
	s.lastSyncedAt = &t
	s.mu.Unlock()
	s.persist()
}

// HistoryLoaded reports whether remote history backfill has completed.
func (s *Session) HistoryLoaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.historyLoaded
}

// SetHistoryLoaded updates the history backfill bookmark.
func (s *Session) SetHistoryLoaded(loaded bool) {
	s.mu.Lock()
	s.historyLoaded = loaded
	s.mu.Unlock()
	s.persist()
}

// SetPrepareOutgoing installs a hook that rewrites outgoing text before
// send. Returning ok=false withholds the message (terminal failure).
func (s *Session) SetPrepareOutgoing(fn func(text string) (string, bool)) {
	s.mu.Lock()
	s.prepare = fn
	s.mu.Unlock()
}

// RecordAction records an informational event on the conversation.
func (s *Session) RecordAction(resource, body string, action ActionKind) (*Message, error) {
	return s.Record(RecordRequest{
		Resource: resource,
		Body:     body,
		Action:   action,
		Incoming: true,
		Notify:   false,
	})
}

// Record builds a message, persists it, and raises a notification when the
// message is eligible. Persistence completes before Record returns; the
// notification side effect is fire-and-forget.
func (s *Session) Record(req RecordRequest) (*Message, error) {
	if req.Body == "" && req.Action == ActionNone {
		return nil, ErrEmptyMessage
	}

	visible := s.reg.IsVisible(s)

	read := !req.Incoming || visible
	delivered := req.Incoming
	if req.Action != ActionNone {
		read = true
		delivered = true
	}

	notify := req.Notify
	if strings.TrimSpace(req.Body) == "" {
		notify = false
	}

	s.mu.Lock()
	if notify || !req.Incoming {
		s.openLocked()
	}
	if !req.Incoming {
		notify = false
	}
	if s.privateRoom {
		if !s.privateRoomAccepted || s.reg.IsBlocked(s.account, s.peer) {
			notify = false
		}
	}
	s.mu.Unlock()

	m := &Message{
		ID:          newMessageID(),
		Account:     s.account,
		Peer:        s.peer,
		Resource:    req.Resource,
		Body:        req.Body,
		Action:      req.Action,
		CreatedAt:   time.Now(),
		DelayedAt:   req.DelayedAt,
		Incoming:    req.Incoming,
		Read:        read,
		Delivered:   delivered,
		Unencrypted: req.Unencrypted,
		FromOffline: req.FromOffline,
		StanzaID:    req.StanzaID,
	}

	// Durability before notification: a notification must never fire for a
	// message that did not reach the store.
	if err := s.reg.deps.Store.Save(m); err != nil {
		return nil, err
	}
	s.persist()

	if notify && s.reg.deps.Notifier.ShouldNotify() {
		suppressed := visible && !s.reg.deps.Notifier.NotifyWhileVisible(s.account, s.peer)
		if !suppressed {
			// The flag is consumed only by a notification that actually
			// fires, so suppressed messages keep the next one "first".
			s.reg.deps.Notifier.Raise(m.Clone(), s.ConsumeFirstNotification())
		}
	}

	return m, nil
}

// OutgoingPacket builds a transport-ready message addressed to the session's
// destination, carrying its thread token.
func (s *Session) OutgoingPacket(body string) *transport.WireMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &transport.WireMessage{
		To:       string(s.peer),
		Kind:     s.kind,
		Body:     body,
		ThreadID: s.threadID,
	}
}

// LastMessage returns the cached most recent message with a non-empty body,
// or nil when the conversation has none yet.
func (s *Session) LastMessage() *Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastText == nil {
		return nil
	}
	return s.lastText.Clone()
}

// LastMessageTime returns the time of the last text message, or nil.
func (s *Session) LastMessageTime() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastText == nil {
		return nil
	}
	t := s.lastText.CreatedAt
	return &t
}

// materialize loads the persisted record (when a session store is
// configured) and starts the last-message projection.
func (s *Session) materialize() {
	if s.reg.deps.Sessions != nil {
		rec, err := s.reg.deps.Sessions.FindSession(s.account, s.peer)
		if err != nil {
			s.reg.logger().Warn("load session record",
				zap.String("peer", string(s.peer)), zap.Error(err))
		} else if rec != nil {
			s.restore(rec)
		}
	}
	s.mu.Lock()
	s.ensureProjectionLocked()
	s.mu.Unlock()
	s.persist()
}

// ensureProjectionLocked subscribes once to the store's change feed and
// seeds the last-message cache. Updates from the feed are pure in-memory
// snapshot replacements; no I/O ever happens on the notifying side.
func (s *Session) ensureProjectionLocked() {
	if s.unsub != nil || s.reg.deps.Bus == nil {
		return
	}
	ch, unsub := s.reg.deps.Bus.Subscribe("store.message_saved", 64)
	stop := make(chan struct{})
	s.unsub = unsub
	s.stop = stop

	go func() {
		for {
			select {
			case evt := <-ch:
				m, ok := evt.Payload.(*Message)
				if !ok {
					continue
				}
				s.applyChange(m)
			case <-stop:
				return
			}
		}
	}()

	// Seed after subscribing so a concurrent save is not lost; applyChange
	// keeps whichever message is newest.
	go s.seedLastMessage()
}

func (s *Session) seedLastMessage() {
	last, err := s.reg.deps.Store.LastText(s.account, s.peer)
	if err != nil {
		s.reg.logger().Warn("load last message",
			zap.String("peer", string(s.peer)), zap.Error(err))
		return
	}
	if last != nil {
		s.applyChange(last)
	}
}

// applyChange updates the cached last text message from one store change.
func (s *Session) applyChange(m *Message) {
	if m.Account != s.account || m.Peer != s.peer || m.Body == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastText == nil || !m.CreatedAt.Before(s.lastText.CreatedAt) {
		s.lastText = m.Clone()
	}
}

func (s *Session) releaseProjectionLocked() {
	if s.unsub != nil {
		s.unsub()
		s.unsub = nil
	}
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
}

// persist writes the session record through the session store, best effort.
func (s *Session) persist() {
	if s.reg.deps.Sessions == nil {
		return
	}
	s.mu.Lock()
	rec := &SessionRecord{
		Account:             s.account,
		Peer:                s.peer,
		ThreadID:            s.threadID,
		PrivateRoom:         s.privateRoom,
		PrivateRoomAccepted: s.privateRoomAccepted,
		CreatedAt:           s.createdAt,
		LastSyncedAt:        s.lastSyncedAt,
		HistoryLoaded:       s.historyLoaded,
	}
	s.mu.Unlock()
	if err := s.reg.deps.Sessions.SaveSession(rec); err != nil {
		s.reg.logger().Warn("persist session",
			zap.String("peer", string(s.peer)), zap.Error(err))
	}
}
