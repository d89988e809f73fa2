package store

import (
	"database/sql"
	"time"
)

// UpsertConversation inserts or updates a conversation from an authoritative
// server record. Unread count follows the server value.
func (db *DB) UpsertConversation(c *Conversation) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO conversations (id, buyer_id, seller_id, last_message_preview, last_message_at, unread_count, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			buyer_id = CASE WHEN excluded.buyer_id != '' THEN excluded.buyer_id ELSE conversations.buyer_id END,
			seller_id = CASE WHEN excluded.seller_id != '' THEN excluded.seller_id ELSE conversations.seller_id END,
			last_message_preview = excluded.last_message_preview,
			last_message_at = excluded.last_message_at,
			unread_count = excluded.unread_count,
			updated_at = excluded.updated_at`,
		c.ID, c.BuyerID, c.SellerID, c.LastMessagePreview, c.LastMessageAt, c.UnreadCount, now)
	return err
}

// TouchConversation applies a new-message update to the conversation summary:
// preview and last-message time advance together, and the unread count grows
// by one only when the conversation is not the open one. Creates the row if
// the conversation is not cached yet.
func (db *DB) TouchConversation(id, preview string, ts int64, incrementUnread bool) error {
	now := time.Now().UnixMilli()
	inc := 0
	if incrementUnread {
		inc = 1
	}
	_, err := db.Exec(`
		INSERT INTO conversations (id, last_message_preview, last_message_at, unread_count, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			last_message_preview = CASE WHEN excluded.last_message_at >= conversations.last_message_at THEN excluded.last_message_preview ELSE conversations.last_message_preview END,
			last_message_at = MAX(conversations.last_message_at, excluded.last_message_at),
			unread_count = conversations.unread_count + ?,
			updated_at = excluded.updated_at`,
		id, preview, ts, inc, now, inc)
	return err
}

// ResetUnread zeroes the unread count. Idempotent.
func (db *DB) ResetUnread(id string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE conversations SET unread_count = 0, updated_at = ? WHERE id = ?`, now, id)
	return err
}

// ListConversations returns conversations sorted by last message time
// descending. Peer display names are resolved via LEFT JOIN against the
// peers table with the raw id as fallback.
func (db *DB) ListConversations(localUserID string, limit, offset int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT c.id, c.buyer_id, c.seller_id,
			COALESCE(NULLIF(p.display_name,''), CASE WHEN c.buyer_id = ?1 THEN c.seller_id ELSE c.buyer_id END) AS peer_name,
			c.last_message_preview, c.last_message_at, c.unread_count
		FROM conversations c
		LEFT JOIN peers p ON p.id = CASE WHEN c.buyer_id = ?1 THEN c.seller_id ELSE c.buyer_id END
		ORDER BY c.last_message_at DESC
		LIMIT ?2 OFFSET ?3`, localUserID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.BuyerID, &c.SellerID, &c.PeerName, &c.LastMessagePreview, &c.LastMessageAt, &c.UnreadCount); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// GetConversation returns a single conversation by id, or nil if not cached.
func (db *DB) GetConversation(id string) (*Conversation, error) {
	var c Conversation
	err := db.QueryRow(`
		SELECT id, buyer_id, seller_id, last_message_preview, last_message_at, unread_count
		FROM conversations WHERE id = ?`, id).
		Scan(&c.ID, &c.BuyerID, &c.SellerID, &c.LastMessagePreview, &c.LastMessageAt, &c.UnreadCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}
