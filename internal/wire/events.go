package wire

// Client-to-server events.
const (
	EventJoinConversation = "join-conversation"
	EventSendMessage      = "send-message"
	EventTyping           = "typing"
	EventMessageDelivered = "message-delivered"
	EventMessageRead      = "message-read"
)

// Server-to-client events.
const (
	EventNewMessage      = "new-message"
	EventTypingIndicator = "typing-indicator"
	EventDeliveryStatus  = "delivery-status"
	EventUserOnline      = "user-online"
	EventUserOffline     = "user-offline"
	EventUserOnlineList  = "user-online-list"
)

// JoinPayload scopes future events to one conversation.
type JoinPayload struct {
	ConversationID string `json:"conversation_id"`
}

// SendMessageRequest asks the server to persist and broadcast a message.
// The ack data carries the confirmed Message.
type SendMessageRequest struct {
	ConversationID string `json:"conversation_id"`
	Body           string `json:"body"`
	Kind           string `json:"kind"`
	Attachment     string `json:"attachment,omitempty"`
}

// TypingPayload broadcasts ephemeral typing state for a conversation.
type TypingPayload struct {
	ConversationID string `json:"conversation_id"`
	IsTyping       bool   `json:"is_typing"`
}

// Receipt is a delivery or read receipt for a single message.
type Receipt struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
}

// TypingIndicator is pushed when the other participant starts or stops typing.
type TypingIndicator struct {
	UserID   string `json:"user_id"`
	IsTyping bool   `json:"is_typing"`
}

// DeliveryStatus is pushed when one of our messages advances delivery state.
type DeliveryStatus struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
	Status         string `json:"status"`
}

// PresenceDelta is a single-user online/offline update.
type PresenceDelta struct {
	UserID string `json:"user_id"`
}

// PresenceSnapshot is the full online set, pushed on every (re)connect.
// It replaces all previously applied deltas wholesale.
type PresenceSnapshot struct {
	Users []string `json:"users"`
}
