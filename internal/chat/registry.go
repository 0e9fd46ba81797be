package chat

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ofbraga/chatd/internal/bus"
	"github.com/ofbraga/chatd/internal/transport"
)

const defaultDelayThreshold = 60 * time.Second

// Deps are the collaborators a Registry hands to every session. All engine
// dependencies are injected; there is no ambient global lookup.
type Deps struct {
	Store     MessageStore
	Transport transport.Sender
	Notifier  Notifier
	// Sessions persists session bookkeeping; optional.
	Sessions SessionStore
	// Bus carries the store change feed for the last-message projection;
	// optional, the projection stays empty without it.
	Bus    *bus.Bus
	Logger *zap.Logger
	// DelayThreshold is how old a queued message may get before dispatch
	// attaches a delay marker. Zero means 60 seconds.
	DelayThreshold time.Duration
}

type sessionKey struct {
	account AccountID
	peer    PeerID
}

// Registry looks up and creates sessions by (account, peer) and tracks
// which conversation is currently visible to the user.
type Registry struct {
	deps Deps

	mu       sync.Mutex
	sessions map[sessionKey]*Session
	visible  *Session
	blocked  map[AccountID]map[PeerID]struct{}
}

// New creates a session registry with the given collaborators.
func New(deps Deps) *Registry {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Registry{
		deps:     deps,
		sessions: make(map[sessionKey]*Session),
		blocked:  make(map[AccountID]map[PeerID]struct{}),
	}
}

func (r *Registry) logger() *zap.Logger { return r.deps.Logger }

func (r *Registry) delayThreshold() time.Duration {
	if r.deps.DelayThreshold > 0 {
		return r.deps.DelayThreshold
	}
	return defaultDelayThreshold
}

// Get returns the session for (account, peer), creating it on first
// reference.
func (r *Registry) Get(account AccountID, peer PeerID) *Session {
	return r.get(account, peer, false)
}

// GetPrivateRoom returns the session for an unconfirmed private-room
// conversation, creating it on first reference. An existing session keeps
// its original kind.
func (r *Registry) GetPrivateRoom(account AccountID, peer PeerID) *Session {
	return r.get(account, peer, true)
}

func (r *Registry) get(account AccountID, peer PeerID, privateRoom bool) *Session {
	key := sessionKey{account: account, peer: peer}

	r.mu.Lock()
	s, ok := r.sessions[key]
	if !ok {
		s = newSession(r, account, peer, privateRoom)
		r.sessions[key] = s
	}
	r.mu.Unlock()

	if !ok {
		s.materialize()
	}
	return s
}

// Lookup returns the session if it already exists, nil otherwise.
func (r *Registry) Lookup(account AccountID, peer PeerID) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[sessionKey{account: account, peer: peer}]
}

// SetVisible marks a session as the conversation the user is looking at.
// Pass nil to clear.
func (r *Registry) SetVisible(s *Session) {
	r.mu.Lock()
	r.visible = s
	r.mu.Unlock()
}

// IsVisible reports whether the session is the one currently shown to the
// user.
func (r *Registry) IsVisible(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.visible == s
}

// Block suppresses private-room notifications from the peer.
func (r *Registry) Block(account AccountID, peer PeerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.blocked[account]
	if !ok {
		set = make(map[PeerID]struct{})
		r.blocked[account] = set
	}
	set[peer] = struct{}{}
}

// Unblock lifts a block.
func (r *Registry) Unblock(account AccountID, peer PeerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.blocked[account], peer)
}

// IsBlocked reports whether the peer is blocked for the account.
func (r *Registry) IsBlocked(account AccountID, peer PeerID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.blocked[account][peer]
	return ok
}

// Acknowledge routes a transport delivery acknowledgment to the session it
// belongs to. Unknown sessions are ignored.
func (r *Registry) Acknowledge(account AccountID, peer PeerID, stanzaID string) {
	s := r.Lookup(account, peer)
	if s == nil {
		return
	}
	s.Acknowledge(stanzaID)
}

// DispatchAll triggers a dispatch pass on every registered session. Passes
// for different sessions run in parallel; the per-session serialization
// still holds.
func (r *Registry) DispatchAll(ctx context.Context) {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			s.DispatchPending(ctx)
		}(s)
	}
	wg.Wait()
}

// Close closes every session, releasing their store subscriptions.
func (r *Registry) Close() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
