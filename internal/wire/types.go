package wire

// Message is the message shape shared by the live channel and the request
// fallback. IDs are assigned by the server once persisted and are identical
// on both surfaces; duplicate suppression on the client relies on that.
type Message struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	Body           string `json:"body"`
	Kind           string `json:"kind"` // "text" or "attachment"
	Attachment     string `json:"attachment,omitempty"`
	Status         string `json:"status"` // sent, delivered, read
	Timestamp      int64  `json:"timestamp"`
}

// Conversation is the conversation shape shared by both surfaces.
// UnreadCount is the requesting participant's own count.
type Conversation struct {
	ID                 string `json:"id"`
	BuyerID            string `json:"buyer_id"`
	SellerID           string `json:"seller_id"`
	LastMessagePreview string `json:"last_message_preview"`
	LastMessageAt      int64  `json:"last_message_at"`
	UnreadCount        int    `json:"unread_count"`
}

// PeerOf returns the other participant of a conversation.
func (c *Conversation) PeerOf(userID string) string {
	if c.BuyerID == userID {
		return c.SellerID
	}
	return c.BuyerID
}
