package store

import "time"

// QueueOutbox enqueues an outgoing message for the sender loop.
func (db *DB) QueueOutbox(clientMsgID, chatJID, body, mediaPath string) error {
	_, err := db.Exec(`
		INSERT INTO outbox (client_msg_id, chat_jid, body, media_path, status, created_at)
		VALUES (?, ?, ?, ?, 'queued', ?)`,
		clientMsgID, chatJID, body, mediaPath, time.Now().UnixMilli())
	return err
}

// PendingOutbox returns queued entries oldest first.
func (db *DB) PendingOutbox() ([]OutboxEntry, error) {
	rows, err := db.Query(`
		SELECT id, client_msg_id, chat_jid, body, media_path, status, error_message, server_msg_id
		FROM outbox WHERE status = 'queued' ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		if err := rows.Scan(&e.ID, &e.ClientMsgID, &e.ChatJID, &e.Body, &e.MediaPath,
			&e.Status, &e.ErrorMessage, &e.ServerMsgID); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// MarkOutboxSending marks an entry as being sent.
func (db *DB) MarkOutboxSending(clientMsgID string) error {
	_, err := db.Exec(`UPDATE outbox SET status = 'sending' WHERE client_msg_id = ?`, clientMsgID)
	return err
}

// MarkOutboxSent records the server-assigned message id.
func (db *DB) MarkOutboxSent(clientMsgID, serverMsgID string) error {
	_, err := db.Exec(`
		UPDATE outbox SET status = 'sent', server_msg_id = ? WHERE client_msg_id = ?`,
		serverMsgID, clientMsgID)
	return err
}

// MarkOutboxFailed records a send failure.
func (db *DB) MarkOutboxFailed(clientMsgID, errMsg string) error {
	_, err := db.Exec(`
		UPDATE outbox SET status = 'failed', error_message = ? WHERE client_msg_id = ?`,
		errMsg, clientMsgID)
	return err
}
