package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/ofbraga/chatd/internal/bus"
	"github.com/ofbraga/chatd/internal/chat"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testMessage(id string, createdAt int64) *chat.Message {
	return &chat.Message{
		ID:        id,
		Account:   "me@example.net",
		Peer:      "alice@example.net",
		Body:      "hello " + id,
		CreatedAt: time.UnixMilli(createdAt),
	}
}

func TestMigrateIdempotent(t *testing.T) {
	db := testDB(t)

	// testDB already ran Migrate, so run it again to check idempotency.
	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 1 {
		t.Errorf("version = %d, want 1", result.Version)
	}
}

func TestMessageRoundTrip(t *testing.T) {
	db := testDB(t)

	delayed := time.UnixMilli(500)
	m := testMessage("m1", 1000)
	m.Resource = "phone"
	m.DelayedAt = &delayed
	m.Incoming = true
	m.Read = true
	m.Delivered = true
	m.Acknowledged = true
	m.Unencrypted = true
	m.FromOffline = true
	m.StanzaID = "st-1"
	if err := db.Save(m); err != nil {
		t.Fatal(err)
	}

	got, err := db.FindByID("m1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("message not found after save")
	}
	if got.Body != m.Body || got.Resource != "phone" || got.StanzaID != "st-1" {
		t.Errorf("got %+v", got)
	}
	if !got.Incoming || !got.Read || !got.Delivered || !got.Acknowledged || !got.Unencrypted || !got.FromOffline {
		t.Errorf("flags lost on round trip: %+v", got)
	}
	if got.DelayedAt == nil || !got.DelayedAt.Equal(delayed) {
		t.Errorf("delayed_at = %v, want %v", got.DelayedAt, delayed)
	}
	if !got.CreatedAt.Equal(time.UnixMilli(1000)) {
		t.Errorf("created_at = %v", got.CreatedAt)
	}
}

func TestFindByIDMissing(t *testing.T) {
	db := testDB(t)

	got, err := db.FindByID("nope")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("expected nil for missing message")
	}
}

func TestSaveIdempotent(t *testing.T) {
	db := testDB(t)

	m := testMessage("m1", 1000)
	if err := db.Save(m); err != nil {
		t.Fatal(err)
	}
	// Save again should not create a duplicate.
	m.Body = "hello updated"
	if err := db.Save(m); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.History(m.Account, m.Peer, 0, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 (idempotent save failed)", len(msgs))
	}
	if msgs[0].Body != "hello updated" {
		t.Errorf("body = %q, want hello updated", msgs[0].Body)
	}
}

func TestPendingOrderingAndFilter(t *testing.T) {
	db := testDB(t)

	// Insert out of creation order.
	for _, m := range []*chat.Message{
		testMessage("m2", 2000),
		testMessage("m1", 1000),
		testMessage("m3", 3000),
	} {
		if err := db.Save(m); err != nil {
			t.Fatal(err)
		}
	}

	if err := db.MarkDelivered("m1", "st-1", nil); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkFailed("m3"); err != nil {
		t.Fatal(err)
	}

	pending, err := db.Pending("me@example.net", "alice@example.net")
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].ID != "m2" {
		t.Fatalf("pending = %+v, want only m2", pending)
	}
}

func TestMarkDeliveredWithDelay(t *testing.T) {
	db := testDB(t)

	m := testMessage("m1", 1000)
	if err := db.Save(m); err != nil {
		t.Fatal(err)
	}
	delayed := time.UnixMilli(1000)
	if err := db.MarkDelivered("m1", "st-9", &delayed); err != nil {
		t.Fatal(err)
	}

	got, err := db.FindByID("m1")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Delivered || got.StanzaID != "st-9" {
		t.Errorf("got %+v", got)
	}
	if got.DelayedAt == nil || !got.DelayedAt.Equal(delayed) {
		t.Errorf("delayed_at = %v, want %v", got.DelayedAt, delayed)
	}
}

func TestAckByStanzaID(t *testing.T) {
	db := testDB(t)

	m := testMessage("m1", 1000)
	if err := db.Save(m); err != nil {
		t.Fatal(err)
	}

	// Not delivered yet: the ack must not apply.
	found, err := db.AckByStanzaID(m.Account, m.Peer, "st-1")
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Error("ack applied before delivery")
	}

	if err := db.MarkDelivered("m1", "st-1", nil); err != nil {
		t.Fatal(err)
	}
	found, err = db.AckByStanzaID(m.Account, m.Peer, "st-1")
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Error("ack not applied after delivery")
	}

	got, _ := db.FindByID("m1")
	if !got.Acknowledged {
		t.Error("acknowledged flag not set")
	}

	// Unknown stanza is not an error.
	found, err = db.AckByStanzaID(m.Account, m.Peer, "unknown")
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Error("unknown stanza reported as found")
	}
}

func TestLastTextSkipsEmptyBodies(t *testing.T) {
	db := testDB(t)

	text := testMessage("m1", 1000)
	action := testMessage("m2", 2000)
	action.Body = ""
	action.Action = chat.ActionJoin
	for _, m := range []*chat.Message{text, action} {
		if err := db.Save(m); err != nil {
			t.Fatal(err)
		}
	}

	got, err := db.LastText(text.Account, text.Peer)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ID != "m1" {
		t.Fatalf("got %+v, want m1", got)
	}

	// No messages at all.
	got, err = db.LastText("me@example.net", "nobody@example.net")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("expected nil for empty session")
	}
}

func TestSavePublishesOnBus(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	b := bus.New()
	db, err := Open(path, b)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}

	ch, unsub := b.Subscribe("store.", 8)
	defer unsub()

	if err := db.Save(testMessage("m1", 1000)); err != nil {
		t.Fatal(err)
	}

	select {
	case evt := <-ch:
		m, ok := evt.Payload.(*chat.Message)
		if !ok || m.ID != "m1" {
			t.Errorf("payload = %#v, want m1", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("no store.message_saved event")
	}
}

func TestSessionRoundTrip(t *testing.T) {
	db := testDB(t)

	synced := time.UnixMilli(5000)
	rec := &chat.SessionRecord{
		Account:             "me@example.net",
		Peer:                "room@conference.example.net",
		ThreadID:            "thread-1",
		PrivateRoom:         true,
		PrivateRoomAccepted: false,
		CreatedAt:           time.UnixMilli(1000),
		LastSyncedAt:        &synced,
		HistoryLoaded:       true,
	}
	if err := db.SaveSession(rec); err != nil {
		t.Fatal(err)
	}

	got, err := db.FindSession(rec.Account, rec.Peer)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("session not found after save")
	}
	if got.ThreadID != "thread-1" || !got.PrivateRoom || got.PrivateRoomAccepted || !got.HistoryLoaded {
		t.Errorf("got %+v", got)
	}
	if got.LastSyncedAt == nil || !got.LastSyncedAt.Equal(synced) {
		t.Errorf("last_synced_at = %v, want %v", got.LastSyncedAt, synced)
	}

	// Update in place.
	rec.PrivateRoomAccepted = true
	if err := db.SaveSession(rec); err != nil {
		t.Fatal(err)
	}
	got, err = db.FindSession(rec.Account, rec.Peer)
	if err != nil {
		t.Fatal(err)
	}
	if !got.PrivateRoomAccepted {
		t.Error("updated flag lost")
	}

	// Missing session.
	got, err = db.FindSession("me@example.net", "nobody@example.net")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("expected nil for missing session")
	}
}
