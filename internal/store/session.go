package store

import (
	"database/sql"
	"time"

	"github.com/ofbraga/chatd/internal/chat"
)

// SaveSession inserts or updates a session record (idempotent on
// account + peer).
func (db *DB) SaveSession(rec *chat.SessionRecord) error {
	now := time.Now().UnixMilli()
	var synced sql.NullInt64
	if rec.LastSyncedAt != nil {
		synced = sql.NullInt64{Int64: rec.LastSyncedAt.UnixMilli(), Valid: true}
	}
	_, err := db.Exec(`
		INSERT INTO sessions (account, peer, thread_id, private_room, private_room_accepted, created_at, last_synced_at, history_loaded, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account, peer) DO UPDATE SET
			thread_id = excluded.thread_id,
			private_room = excluded.private_room,
			private_room_accepted = excluded.private_room_accepted,
			created_at = excluded.created_at,
			last_synced_at = excluded.last_synced_at,
			history_loaded = excluded.history_loaded,
			updated_at = excluded.updated_at`,
		string(rec.Account), string(rec.Peer), rec.ThreadID, rec.PrivateRoom, rec.PrivateRoomAccepted,
		rec.CreatedAt.UnixMilli(), synced, rec.HistoryLoaded, now)
	return err
}

// FindSession returns the session record or (nil, nil) when absent.
func (db *DB) FindSession(account chat.AccountID, peer chat.PeerID) (*chat.SessionRecord, error) {
	row := db.QueryRow(`
		SELECT account, peer, thread_id, private_room, private_room_accepted, created_at, last_synced_at, history_loaded
		FROM sessions WHERE account = ? AND peer = ?`, string(account), string(peer))

	var (
		rec      chat.SessionRecord
		acc      string
		peerName string
		created  int64
		synced   sql.NullInt64
	)
	err := row.Scan(&acc, &peerName, &rec.ThreadID, &rec.PrivateRoom, &rec.PrivateRoomAccepted,
		&created, &synced, &rec.HistoryLoaded)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec.Account = chat.AccountID(acc)
	rec.Peer = chat.PeerID(peerName)
	rec.CreatedAt = time.UnixMilli(created)
	if synced.Valid {
		s := time.UnixMilli(synced.Int64)
		rec.LastSyncedAt = &s
	}
	return &rec, nil
}
