package store

import "database/sql"

// AttachMediaInfo fills in descriptor fields discovered after the
// initial row write, such as a later, richer event for the same id.
func (db *DB) AttachMediaInfo(msgID, chatJID string, info *MediaInfo) error {
	_, err := db.Exec(`
		UPDATE messages
		SET url = ?, media_key = ?, file_sha256 = ?, file_enc_sha256 = ?, file_length = ?
		WHERE msg_id = ? AND chat_jid = ?`,
		info.URL, info.MediaKey, info.FileSHA256, info.FileEncSHA256, int64(info.FileLength),
		msgID, chatJID)
	return err
}

// GetMediaInfo returns the media descriptor for a message, or nil when
// the message does not exist.
func (db *DB) GetMediaInfo(msgID, chatJID string) (*MediaInfo, error) {
	var info MediaInfo
	var fileLength int64
	err := db.QueryRow(`
		SELECT media_type, filename, url, media_key, file_sha256, file_enc_sha256, file_length
		FROM messages WHERE msg_id = ? AND chat_jid = ?`, msgID, chatJID).
		Scan(&info.MediaType, &info.Filename, &info.URL,
			&info.MediaKey, &info.FileSHA256, &info.FileEncSHA256, &fileLength)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	info.FileLength = uint64(fileLength)
	return &info, nil
}
