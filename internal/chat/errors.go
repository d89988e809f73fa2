package chat

import "errors"

var (
	// ErrSendRejected is returned when the server refused a message. The
	// optimistic record has already been rolled back when callers see this.
	ErrSendRejected = errors.New("chat: send rejected")

	// ErrConversationNotFound is returned for operations on a conversation
	// id the cache does not know.
	ErrConversationNotFound = errors.New("chat: conversation not found")
)
