package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// InsertPending inserts an optimistic local record with a client-generated
// temporary msg_id and status "sending".
func (db *DB) InsertPending(m *Message) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO messages (conversation_id, msg_id, sender_id, body, kind, from_me, status, timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, 1, ?, ?, ?)`,
		m.ConversationID, m.MsgID, m.SenderID, m.Body, m.Kind, StatusSending, m.Timestamp, now)
	return err
}

// InsertIfAbsent inserts a message unless one with the same id already
// exists in the conversation. Returns whether a row was inserted; a false
// result is the duplicate-suppression path, not an error.
func (db *DB) InsertIfAbsent(m *Message) (bool, error) {
	now := time.Now().UnixMilli()
	res, err := db.Exec(`
		INSERT INTO messages (conversation_id, msg_id, sender_id, body, kind, from_me, status, timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id, msg_id) DO NOTHING`,
		m.ConversationID, m.MsgID, m.SenderID, m.Body, m.Kind, m.FromMe, m.Status, m.Timestamp, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ConfirmMessage replaces an optimistic record with its server-confirmed
// identity, in place: the row keeps its timestamp so the list position of
// already-placed messages never changes. If the confirmed message already
// arrived through another path, the temporary row is dropped instead, so
// confirmation never produces a duplicate.
func (db *DB) ConfirmMessage(conversationID, clientMsgID, serverMsgID string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRow(`SELECT COUNT(1) FROM messages WHERE conversation_id = ? AND msg_id = ?`,
		conversationID, serverMsgID).Scan(&exists)
	if err != nil {
		return err
	}

	if exists > 0 {
		if _, err := tx.Exec(`DELETE FROM messages WHERE conversation_id = ? AND msg_id = ?`,
			conversationID, clientMsgID); err != nil {
			return err
		}
	} else {
		if _, err := tx.Exec(`
			UPDATE messages SET msg_id = ?, status = ?
			WHERE conversation_id = ? AND msg_id = ?`,
			serverMsgID, StatusSent, conversationID, clientMsgID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// RemoveMessage deletes a message, used to roll back a rejected send.
func (db *DB) RemoveMessage(conversationID, msgID string) error {
	_, err := db.Exec(`DELETE FROM messages WHERE conversation_id = ? AND msg_id = ?`,
		conversationID, msgID)
	return err
}

// SetMessageStatus sets a message status unconditionally. Used for the
// terminal "failed" state of an exhausted queued send.
func (db *DB) SetMessageStatus(conversationID, msgID, status string) error {
	_, err := db.Exec(`UPDATE messages SET status = ? WHERE conversation_id = ? AND msg_id = ?`,
		status, conversationID, msgID)
	return err
}

// UpdateDeliveryStatus advances a message's delivery state. Transitions are
// monotonic: an inbound "delivered" never downgrades a message already
// "read". Returns whether a row actually changed.
func (db *DB) UpdateDeliveryStatus(conversationID, msgID, status string) (bool, error) {
	rank, ok := deliveryRank[status]
	if !ok {
		return false, nil
	}
	// Collect the states the message may currently be in.
	var froms []string
	for s, r := range deliveryRank {
		if r < rank {
			froms = append(froms, s)
		}
	}
	if len(froms) == 0 {
		return false, nil
	}
	placeholders := strings.Repeat("?,", len(froms))
	placeholders = placeholders[:len(placeholders)-1]
	args := []any{status, conversationID, msgID}
	for _, f := range froms {
		args = append(args, f)
	}
	res, err := db.Exec(`
		UPDATE messages SET status = ?
		WHERE conversation_id = ? AND msg_id = ? AND status IN (`+placeholders+`)`, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkConversationRead marks every stored message from the other participant
// as read. Returns the ids of the messages that changed, so read receipts
// can be emitted for exactly those. Idempotent: a second call changes
// nothing and returns an empty slice.
func (db *DB) MarkConversationRead(conversationID string) ([]string, error) {
	rows, err := db.Query(`
		SELECT msg_id FROM messages
		WHERE conversation_id = ? AND from_me = 0 AND status != ?`,
		conversationID, StatusRead)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	_, err = db.Exec(`
		UPDATE messages SET status = ?
		WHERE conversation_id = ? AND from_me = 0 AND status != ?`,
		StatusRead, conversationID, StatusRead)
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// ListMessages returns messages for a conversation using keyset pagination,
// newest first. Ties on timestamp break by msg_id so the order is total.
func (db *DB) ListMessages(conversationID string, beforeTS int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTS <= 0 {
		beforeTS = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT id, conversation_id, msg_id, sender_id, body, kind, from_me, status, timestamp
		FROM messages
		WHERE conversation_id = ? AND timestamp < ?
		ORDER BY timestamp DESC, msg_id DESC
		LIMIT ?`, conversationID, beforeTS, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.MsgID, &m.SenderID, &m.Body, &m.Kind, &m.FromMe, &m.Status, &m.Timestamp); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// GetMessage returns a single message, or nil if absent.
func (db *DB) GetMessage(conversationID, msgID string) (*Message, error) {
	var m Message
	err := db.QueryRow(`
		SELECT id, conversation_id, msg_id, sender_id, body, kind, from_me, status, timestamp
		FROM messages WHERE conversation_id = ? AND msg_id = ?`, conversationID, msgID).
		Scan(&m.ID, &m.ConversationID, &m.MsgID, &m.SenderID, &m.Body, &m.Kind, &m.FromMe, &m.Status, &m.Timestamp)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// CountMessages returns the number of cached messages in a conversation.
func (db *DB) CountMessages(conversationID string) (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(1) FROM messages WHERE conversation_id = ?`, conversationID).Scan(&n)
	return n, err
}
