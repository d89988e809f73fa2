package store

// Delivery states of a message. "sending" exists only client-side; the
// server never reports it. "failed" is the terminal state for a queued send
// that exhausted its retry budget.
const (
	StatusSending   = "sending"
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
	StatusFailed    = "failed"
)

// deliveryRank orders the forward-only delivery lifecycle. States absent
// from the map (failed) never advance.
var deliveryRank = map[string]int{
	StatusSending:   0,
	StatusSent:      1,
	StatusDelivered: 2,
	StatusRead:      3,
}

// CanAdvance reports whether a delivery state transition moves forward.
// Downgrades and unknown states are rejected; callers ignore them silently.
func CanAdvance(from, to string) bool {
	fr, ok := deliveryRank[from]
	if !ok {
		return false
	}
	tr, ok := deliveryRank[to]
	if !ok {
		return false
	}
	return tr > fr
}

// Conversation represents a cached two-party conversation. UnreadCount is
// the local participant's count and never goes negative.
type Conversation struct {
	ID                 string
	BuyerID            string
	SellerID           string
	PeerName           string
	LastMessagePreview string
	LastMessageAt      int64
	UnreadCount        int
}

// Message represents a cached message. MsgID is server-assigned once
// confirmed; optimistic local records carry a client-generated temporary id
// until ConfirmMessage swaps it in place.
type Message struct {
	ID             int64
	ConversationID string
	MsgID          string
	SenderID       string
	Body           string
	Kind           string
	FromMe         bool
	Status         string
	Timestamp      int64
}

// Peer represents a cached counterpart profile, joined into the
// conversation list for display names.
type Peer struct {
	ID          string
	DisplayName string
}

// OutboxEntry represents a send that could not reach the server on either
// path and is waiting for the sender loop to retry it.
type OutboxEntry struct {
	ID             int64
	ClientMsgID    string
	ConversationID string
	Body           string
	Kind           string
	Status         string // queued, sending, sent, failed
	Attempts       int
	ErrorMessage   string
	ServerMsgID    string
}
