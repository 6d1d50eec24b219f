package store

import (
	"database/sql"
	"time"
)

// UpsertMessage inserts or updates a message, idempotent on
// (msg_id, chat_jid). A message with neither content nor media carries
// no durable information and is skipped without error. Media descriptor
// fields are merged preferring non-empty values, so a degraded replay
// (e.g. a partial history sync) cannot hollow out a complete record.
func (db *DB) UpsertMessage(m *Message) error {
	if m.Content == "" && m.Media.MediaType == "" {
		return nil
	}
	now := time.Now().UnixMilli()
	_, err := db.Exec(upsertMessageSQL, upsertMessageArgs(m, now)...)
	return err
}

// UpsertMessageTx is UpsertMessage inside an existing transaction, for
// bulk history writes.
func UpsertMessageTx(tx *sql.Tx, m *Message) error {
	if m.Content == "" && m.Media.MediaType == "" {
		return nil
	}
	_, err := tx.Exec(upsertMessageSQL, upsertMessageArgs(m, time.Now().UnixMilli())...)
	return err
}

const upsertMessageSQL = `
	INSERT INTO messages (msg_id, chat_jid, sender, content, timestamp, from_me,
		media_type, filename, url, media_key, file_sha256, file_enc_sha256, file_length, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(msg_id, chat_jid) DO UPDATE SET
		sender = CASE WHEN excluded.sender != '' THEN excluded.sender ELSE messages.sender END,
		content = CASE WHEN excluded.content != '' THEN excluded.content ELSE messages.content END,
		from_me = excluded.from_me,
		media_type = CASE WHEN excluded.media_type != '' THEN excluded.media_type ELSE messages.media_type END,
		filename = CASE WHEN excluded.filename != '' THEN excluded.filename ELSE messages.filename END,
		url = CASE WHEN excluded.url != '' THEN excluded.url ELSE messages.url END,
		media_key = CASE WHEN length(COALESCE(excluded.media_key, '')) > 0 THEN excluded.media_key ELSE messages.media_key END,
		file_sha256 = CASE WHEN length(COALESCE(excluded.file_sha256, '')) > 0 THEN excluded.file_sha256 ELSE messages.file_sha256 END,
		file_enc_sha256 = CASE WHEN length(COALESCE(excluded.file_enc_sha256, '')) > 0 THEN excluded.file_enc_sha256 ELSE messages.file_enc_sha256 END,
		file_length = CASE WHEN excluded.file_length > 0 THEN excluded.file_length ELSE messages.file_length END`

func upsertMessageArgs(m *Message, now int64) []any {
	return []any{
		m.MsgID, m.ChatJID, m.Sender, m.Content, m.Timestamp, m.FromMe,
		m.Media.MediaType, m.Media.Filename, m.Media.URL,
		m.Media.MediaKey, m.Media.FileSHA256, m.Media.FileEncSHA256,
		int64(m.Media.FileLength), now,
	}
}

// ListMessages returns messages for a chat ascending by timestamp. When
// window is positive, rows older than now-window are excluded from the
// result without being deleted.
func (db *DB) ListMessages(chatJID string, window time.Duration, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 500
	}
	var cutoff int64
	if window > 0 {
		cutoff = time.Now().Add(-window).UnixMilli()
	}
	rows, err := db.Query(`
		SELECT msg_id, chat_jid, sender, content, timestamp, from_me,
			media_type, filename, url, media_key, file_sha256, file_enc_sha256, file_length
		FROM messages
		WHERE chat_jid = ? AND timestamp >= ?
		ORDER BY timestamp ASC
		LIMIT ?`, chatJID, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		var fileLength int64
		if err := rows.Scan(&m.MsgID, &m.ChatJID, &m.Sender, &m.Content, &m.Timestamp, &m.FromMe,
			&m.Media.MediaType, &m.Media.Filename, &m.Media.URL,
			&m.Media.MediaKey, &m.Media.FileSHA256, &m.Media.FileEncSHA256, &fileLength); err != nil {
			return nil, err
		}
		m.Media.FileLength = uint64(fileLength)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// MessageCount returns the total number of messages.
func (db *DB) MessageCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}
