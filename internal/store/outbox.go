package store

import "time"

// QueueOutbox adds a send that could not reach the server to the outbox.
func (db *DB) QueueOutbox(clientMsgID, conversationID, body, kind string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO outbox (client_msg_id, conversation_id, body, kind, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, 'queued', ?, ?)`,
		clientMsgID, conversationID, body, kind, now, now)
	return err
}

// MarkOutboxSending updates an outbox entry to 'sending' status and counts
// the attempt.
func (db *DB) MarkOutboxSending(clientMsgID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE outbox SET status = 'sending', attempts = attempts + 1, updated_at = ?
		WHERE client_msg_id = ?`, now, clientMsgID)
	return err
}

// MarkOutboxSent updates an outbox entry to 'sent' with the server message ID.
func (db *DB) MarkOutboxSent(clientMsgID, serverMsgID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET status = 'sent', server_msg_id = ?, updated_at = ? WHERE client_msg_id = ?`, serverMsgID, now, clientMsgID)
	return err
}

// RequeueOutbox puts a failed attempt back in the queue for a later retry,
// recording the last error.
func (db *DB) RequeueOutbox(clientMsgID, errMsg string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET status = 'queued', error_message = ?, updated_at = ? WHERE client_msg_id = ?`, errMsg, now, clientMsgID)
	return err
}

// MarkOutboxFailed moves an outbox entry to the terminal 'failed' state.
// Only RetryOutbox brings it back.
func (db *DB) MarkOutboxFailed(clientMsgID, errMsg string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET status = 'failed', error_message = ?, updated_at = ? WHERE client_msg_id = ?`, errMsg, now, clientMsgID)
	return err
}

// RetryOutbox resets a terminally failed entry for a user-triggered retry.
func (db *DB) RetryOutbox(clientMsgID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE outbox SET status = 'queued', attempts = 0, error_message = '', updated_at = ?
		WHERE client_msg_id = ? AND status = 'failed'`, now, clientMsgID)
	return err
}

// PendingOutbox returns outbox entries waiting to be sent, oldest first so
// submission order is preserved.
func (db *DB) PendingOutbox() ([]OutboxEntry, error) {
	rows, err := db.Query(`
		SELECT id, client_msg_id, conversation_id, body, kind, status, attempts, error_message, server_msg_id
		FROM outbox WHERE status = 'queued' ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		if err := rows.Scan(&e.ID, &e.ClientMsgID, &e.ConversationID, &e.Body, &e.Kind, &e.Status, &e.Attempts, &e.ErrorMessage, &e.ServerMsgID); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetOutboxEntry returns an outbox entry by client message id, or nil.
func (db *DB) GetOutboxEntry(clientMsgID string) (*OutboxEntry, error) {
	entries, err := db.Query(`
		SELECT id, client_msg_id, conversation_id, body, kind, status, attempts, error_message, server_msg_id
		FROM outbox WHERE client_msg_id = ?`, clientMsgID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = entries.Close() }()
	if !entries.Next() {
		return nil, entries.Err()
	}
	var e OutboxEntry
	if err := entries.Scan(&e.ID, &e.ClientMsgID, &e.ConversationID, &e.Body, &e.Kind, &e.Status, &e.Attempts, &e.ErrorMessage, &e.ServerMsgID); err != nil {
		return nil, err
	}
	return &e, nil
}
