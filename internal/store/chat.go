package store

import (
	"database/sql"
	"time"
)

// UpsertChat inserts or updates a chat record. The stored name is never
// downgraded: an empty incoming name leaves the old one in place, and a
// fallback name (phone-number or "Group ..." placeholder) never replaces
// a previously stored real name. Last activity only moves forward.
func (db *DB) UpsertChat(c *Chat) error {
	now := time.Now().UnixMilli()
	fallback := 0
	if c.NameFallback {
		fallback = 1
	}
	_, err := db.Exec(`
		INSERT INTO chats (jid, name, name_fallback, last_message_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(jid) DO UPDATE SET
			name = CASE
				WHEN excluded.name != '' AND (excluded.name_fallback = 0 OR chats.name = '' OR chats.name_fallback = 1)
				THEN excluded.name ELSE chats.name END,
			name_fallback = CASE
				WHEN excluded.name != '' AND (excluded.name_fallback = 0 OR chats.name = '' OR chats.name_fallback = 1)
				THEN excluded.name_fallback ELSE chats.name_fallback END,
			last_message_at = MAX(chats.last_message_at, excluded.last_message_at),
			updated_at = excluded.updated_at`,
		c.JID, c.Name, fallback, c.LastMessageAt, now)
	return err
}

// ListChats returns all chats sorted by last activity descending.
func (db *DB) ListChats() ([]Chat, error) {
	rows, err := db.Query(`
		SELECT jid, name, name_fallback, last_message_at
		FROM chats
		ORDER BY last_message_at DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var chats []Chat
	for rows.Next() {
		var c Chat
		var fallback int
		if err := rows.Scan(&c.JID, &c.Name, &fallback, &c.LastMessageAt); err != nil {
			return nil, err
		}
		c.NameFallback = fallback != 0
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// GetChat returns a single chat by JID, or nil when absent.
func (db *DB) GetChat(jid string) (*Chat, error) {
	var c Chat
	var fallback int
	err := db.QueryRow(`
		SELECT jid, name, name_fallback, last_message_at
		FROM chats WHERE jid = ?`, jid).
		Scan(&c.JID, &c.Name, &fallback, &c.LastMessageAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.NameFallback = fallback != 0
	return &c, nil
}

// ChatCount returns the total number of chats.
func (db *DB) ChatCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM chats`).Scan(&count)
	return count, err
}
