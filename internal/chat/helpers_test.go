package chat

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ofbraga/chatd/internal/bus"
	"github.com/ofbraga/chatd/internal/transport"
)

// memStore is an in-memory MessageStore + SessionStore used by engine tests.
// It mirrors the SQLite implementation's contract, including the change feed.
type memStore struct {
	mu       sync.Mutex
	msgs     map[string]*Message
	sessions map[sessionKey]*SessionRecord
	bus      *bus.Bus
}

func newMemStore(b *bus.Bus) *memStore {
	return &memStore{
		msgs:     make(map[string]*Message),
		sessions: make(map[sessionKey]*SessionRecord),
		bus:      b,
	}
}

func (s *memStore) Save(m *Message) error {
	s.mu.Lock()
	s.msgs[m.ID] = m.Clone()
	s.mu.Unlock()
	if s.bus != nil {
		s.bus.Publish(bus.Event{Kind: "store.message_saved", Timestamp: time.Now(), Payload: m.Clone()})
	}
	return nil
}

func (s *memStore) Pending(account AccountID, peer PeerID) ([]*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Message
	for _, m := range s.msgs {
		if m.Account == account && m.Peer == peer && !m.Delivered && !m.Failed {
			out = append(out, m.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *memStore) FindByID(id string) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.msgs[id]
	if !ok {
		return nil, nil
	}
	return m.Clone(), nil
}

func (s *memStore) MarkDelivered(id, stanzaID string, delayedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.msgs[id]; ok {
		m.Delivered = true
		m.StanzaID = stanzaID
		if delayedAt != nil {
			d := *delayedAt
			m.DelayedAt = &d
		}
	}
	return nil
}

func (s *memStore) MarkFailed(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.msgs[id]; ok {
		m.Failed = true
	}
	return nil
}

func (s *memStore) AckByStanzaID(account AccountID, peer PeerID, stanzaID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.msgs {
		if m.Account == account && m.Peer == peer && m.StanzaID == stanzaID && m.Delivered {
			m.Acknowledged = true
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) LastText(account AccountID, peer PeerID) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var last *Message
	for _, m := range s.msgs {
		if m.Account != account || m.Peer != peer || m.Body == "" {
			continue
		}
		if last == nil || m.CreatedAt.After(last.CreatedAt) {
			last = m
		}
	}
	if last == nil {
		return nil, nil
	}
	return last.Clone(), nil
}

func (s *memStore) SaveSession(rec *SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.sessions[sessionKey{account: rec.Account, peer: rec.Peer}] = &cp
	return nil
}

func (s *memStore) FindSession(account AccountID, peer PeerID) (*SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[sessionKey{account: account, peer: peer}]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

// mockSender records wire messages and fails on demand.
type mockSender struct {
	mu       sync.Mutex
	sent     []*transport.WireMessage
	err      error  // fail every send
	failBody string // fail only the send carrying this body
}

func (m *mockSender) Send(_ context.Context, msg *transport.WireMessage) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	if m.failBody != "" && msg.Body == m.failBody {
		return "", transport.ErrNotConnected
	}
	m.sent = append(m.sent, msg)
	return "stanza-" + msg.Body, nil
}

func (m *mockSender) sentBodies() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.sent))
	for i, msg := range m.sent {
		out[i] = msg.Body
	}
	return out
}

func (m *mockSender) setFailBody(body string) {
	m.mu.Lock()
	m.failBody = body
	m.mu.Unlock()
}

// stubNotifier records raised notifications.
type stubNotifier struct {
	mu           sync.Mutex
	enabled      bool
	whileVisible map[PeerID]bool
	raised       []*Message
	firsts       []bool
}

func newStubNotifier() *stubNotifier {
	return &stubNotifier{enabled: true, whileVisible: make(map[PeerID]bool)}
}

func (n *stubNotifier) ShouldNotify() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.enabled
}

func (n *stubNotifier) NotifyWhileVisible(_ AccountID, peer PeerID) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.whileVisible[peer]
}

func (n *stubNotifier) Raise(m *Message, first bool) {
	n.mu.Lock()
	n.raised = append(n.raised, m)
	n.firsts = append(n.firsts, first)
	n.mu.Unlock()
}

func (n *stubNotifier) raisedCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.raised)
}

func (n *stubNotifier) raisedFirsts() []bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]bool(nil), n.firsts...)
}

type testEngine struct {
	reg      *Registry
	store    *memStore
	sender   *mockSender
	notifier *stubNotifier
	bus      *bus.Bus
}

func newTestEngine() *testEngine {
	b := bus.New()
	st := newMemStore(b)
	sender := &mockSender{}
	notifier := newStubNotifier()
	reg := New(Deps{
		Store:     st,
		Sessions:  st,
		Transport: sender,
		Notifier:  notifier,
		Bus:       b,
	})
	return &testEngine{reg: reg, store: st, sender: sender, notifier: notifier, bus: b}
}
