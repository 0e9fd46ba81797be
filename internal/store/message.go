package store

import (
	"database/sql"
	"time"

	"github.com/ofbraga/chatd/internal/bus"
	"github.com/ofbraga/chatd/internal/chat"
)

const messageColumns = `id, account, peer, resource, body, action, created_at, delayed_at,
	incoming, read, delivered, acknowledged, failed, unencrypted, from_offline, stanza_id`

// Save inserts or updates a message (idempotent on id) and publishes the
// saved state on the bus.
func (db *DB) Save(m *chat.Message) error {
	now := time.Now().UnixMilli()
	var delayed sql.NullInt64
	if m.DelayedAt != nil {
		delayed = sql.NullInt64{Int64: m.DelayedAt.UnixMilli(), Valid: true}
	}
	_, err := db.Exec(`
		INSERT INTO messages (`+messageColumns+`, inserted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			body = excluded.body,
			delayed_at = excluded.delayed_at,
			read = excluded.read,
			delivered = excluded.delivered,
			acknowledged = excluded.acknowledged,
			failed = excluded.failed,
			stanza_id = excluded.stanza_id`,
		m.ID, string(m.Account), string(m.Peer), m.Resource, m.Body, string(m.Action),
		m.CreatedAt.UnixMilli(), delayed,
		m.Incoming, m.Read, m.Delivered, m.Acknowledged, m.Failed, m.Unencrypted, m.FromOffline,
		m.StanzaID, now)
	if err != nil {
		return err
	}
	if db.bus != nil {
		db.bus.Publish(bus.Event{Kind: "store.message_saved", Timestamp: time.Now(), Payload: m.Clone()})
	}
	return nil
}

// Pending returns a session's undelivered, unfailed messages oldest first.
func (db *DB) Pending(account chat.AccountID, peer chat.PeerID) ([]*chat.Message, error) {
	rows, err := db.Query(`
		SELECT `+messageColumns+`
		FROM messages
		WHERE account = ? AND peer = ? AND delivered = 0 AND failed = 0
		ORDER BY created_at ASC`, string(account), string(peer))
	if err != nil {
		return nil, err
	}
	return collectMessages(rows)
}

// FindByID returns the message or (nil, nil) when absent.
func (db *DB) FindByID(id string) (*chat.Message, error) {
	row := db.QueryRow(`SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

// MarkDelivered records a successful transport handover.
func (db *DB) MarkDelivered(id, stanzaID string, delayedAt *time.Time) error {
	var delayed sql.NullInt64
	if delayedAt != nil {
		delayed = sql.NullInt64{Int64: delayedAt.UnixMilli(), Valid: true}
	}
	_, err := db.Exec(`
		UPDATE messages SET delivered = 1, stanza_id = ?, delayed_at = ?
		WHERE id = ?`, stanzaID, delayed, id)
	if err != nil {
		return err
	}
	return db.publishByID(id)
}

// MarkFailed records a terminal content failure.
func (db *DB) MarkFailed(id string) error {
	_, err := db.Exec(`UPDATE messages SET failed = 1 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return db.publishByID(id)
}

// AckByStanzaID flips the acknowledged flag on the delivered message with the
// given transport identifier. Reports whether a message was found.
func (db *DB) AckByStanzaID(account chat.AccountID, peer chat.PeerID, stanzaID string) (bool, error) {
	res, err := db.Exec(`
		UPDATE messages SET acknowledged = 1
		WHERE account = ? AND peer = ? AND stanza_id = ? AND delivered = 1`,
		string(account), string(peer), stanzaID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// LastText returns the most recent message with a non-empty body, or
// (nil, nil) when the session has none.
func (db *DB) LastText(account chat.AccountID, peer chat.PeerID) (*chat.Message, error) {
	row := db.QueryRow(`
		SELECT `+messageColumns+`
		FROM messages
		WHERE account = ? AND peer = ? AND body != ''
		ORDER BY created_at DESC
		LIMIT 1`, string(account), string(peer))
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

// History returns a session's messages using keyset pagination by creation
// time, newest first.
func (db *DB) History(account chat.AccountID, peer chat.PeerID, beforeTs int64, limit int) ([]*chat.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT `+messageColumns+`
		FROM messages
		WHERE account = ? AND peer = ? AND created_at < ?
		ORDER BY created_at DESC
		LIMIT ?`, string(account), string(peer), beforeTs, limit)
	if err != nil {
		return nil, err
	}
	return collectMessages(rows)
}

// publishByID re-reads a mutated row and publishes its saved state so session
// projections see delivery-state transitions, not just inserts.
func (db *DB) publishByID(id string) error {
	if db.bus == nil {
		return nil
	}
	m, err := db.FindByID(id)
	if err != nil || m == nil {
		return err
	}
	db.bus.Publish(bus.Event{Kind: "store.message_saved", Timestamp: time.Now(), Payload: m})
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*chat.Message, error) {
	var (
		m       chat.Message
		account string
		peer    string
		action  string
		created int64
		delayed sql.NullInt64
	)
	err := row.Scan(&m.ID, &account, &peer, &m.Resource, &m.Body, &action, &created, &delayed,
		&m.Incoming, &m.Read, &m.Delivered, &m.Acknowledged, &m.Failed, &m.Unencrypted,
		&m.FromOffline, &m.StanzaID)
	if err != nil {
		return nil, err
	}
	m.Account = chat.AccountID(account)
	m.Peer = chat.PeerID(peer)
	m.Action = chat.ActionKind(action)
	m.CreatedAt = time.UnixMilli(created)
	if delayed.Valid {
		d := time.UnixMilli(delayed.Int64)
		m.DelayedAt = &d
	}
	return &m, nil
}

func collectMessages(rows *sql.Rows) ([]*chat.Message, error) {
	defer func() { _ = rows.Close() }()

	var msgs []*chat.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
