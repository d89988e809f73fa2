package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kind namespaces used across the client:
//
//	transport.    — live channel lifecycle (connected, disconnected, down)
//	message.      — message cache changes (upserted, status_changed, send_ack, send_failed)
//	conversation. — conversation list changes (updated)
//	presence.     — online set changes (updated)
//	typing.       — typing indicator changes (changed)
//	conn.         — connection state machine transitions (status_changed)
const (
	KindTransportConnected    = "transport.connected"
	KindTransportDisconnected = "transport.disconnected"
	KindTransportDown         = "transport.down"

	KindMessageUpserted      = "message.upserted"
	KindMessageStatusChanged = "message.status_changed"
	KindMessageSendAck       = "message.send_ack"
	KindMessageSendFailed    = "message.send_failed"

	KindConversationUpdated = "conversation.updated"

	KindPresenceUpdated = "presence.updated"
	KindTypingChanged   = "typing.changed"

	KindConnStatusChanged = "conn.status_changed"
)
