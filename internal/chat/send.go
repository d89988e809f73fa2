package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bazario/chatkit/internal/bus"
	"github.com/bazario/chatkit/internal/rest"
	"github.com/bazario/chatkit/internal/store"
	"github.com/bazario/chatkit/internal/transport"
	"github.com/bazario/chatkit/internal/typing"
	"github.com/bazario/chatkit/internal/wire"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// previewLen bounds the conversation list preview.
const previewLen = 120

// SendMessage sends a message with an optimistic local echo. The record
// appears in the cache as "sending" immediately; confirmation swaps in the
// server identity, rejection rolls the record back, and unreachability on
// both surfaces leaves it queued for the outbox.
//
// A queued send is not an error: the returned message stays "sending" and
// the caller hears about the outcome through bus events.
func (o *Orchestrator) SendMessage(ctx context.Context, conversationID, body, kind, attachment string) (*store.Message, error) {
	if kind == "" {
		kind = "text"
	}
	clientMsgID := "tmp-" + uuid.NewString()
	ts := time.Now().UnixMilli()

	msg := &store.Message{
		ConversationID: conversationID,
		MsgID:          clientMsgID,
		SenderID:       o.opts.UserID,
		Body:           body,
		Kind:           kind,
		FromMe:         true,
		Status:         store.StatusSending,
		Timestamp:      ts,
	}
	if err := o.db.InsertPending(msg); err != nil {
		return nil, fmt.Errorf("insert pending: %w", err)
	}
	if err := o.db.TouchConversation(conversationID, preview(body), ts, false); err != nil {
		o.logger.Warn("touch conversation failed", zap.Error(err))
	}
	o.publish(bus.KindMessageUpserted, map[string]string{
		"conversation_id": conversationID,
		"msg_id":          clientMsgID,
	})
	o.publish(bus.KindConversationUpdated, conversationID)

	req := wire.SendMessageRequest{
		ConversationID: conversationID,
		Body:           body,
		Kind:           kind,
		Attachment:     attachment,
	}

	serverMsgID, err := o.deliver(ctx, req)
	switch {
	case err == nil:
		return o.confirm(conversationID, clientMsgID, serverMsgID)

	case errors.Is(err, ErrSendRejected):
		// The server saw the message and said no. Roll the echo back.
		_ = o.db.RemoveMessage(conversationID, clientMsgID)
		o.publish(bus.KindMessageSendFailed, map[string]string{
			"conversation_id": conversationID,
			"client_msg_id":   clientMsgID,
			"error":           err.Error(),
		})
		return nil, err

	default:
		// Neither surface could reach the server. Queue and keep the echo
		// visible as "sending".
		o.logger.Warn("send unreachable on both surfaces, queueing",
			zap.String("client_msg_id", clientMsgID), zap.Error(err))
		if qerr := o.db.QueueOutbox(clientMsgID, conversationID, body, kind); qerr != nil {
			return nil, fmt.Errorf("queue send: %w", qerr)
		}
		return msg, nil
	}
}

// deliver pushes a send through the live channel when connected, falling
// back to the request path. Returns the server-assigned message id.
func (o *Orchestrator) deliver(ctx context.Context, req wire.SendMessageRequest) (string, error) {
	if o.live.IsConnected() {
		ack, err := o.live.Send(wire.EventSendMessage, req, o.opts.AckTimeout)
		switch {
		case err == nil && ack.OK():
			var confirmed wire.Message
			if derr := wire.Decode(ack.Data, &confirmed); derr != nil {
				return "", fmt.Errorf("%w: malformed ack data: %v", ErrSendRejected, derr)
			}
			return confirmed.ID, nil
		case err == nil:
			return "", fmt.Errorf("%w: %s", ErrSendRejected, ack.Message)
		case errors.Is(err, transport.ErrAckTimeout):
			// The frame may or may not have reached the server; re-sending
			// over the fallback risks a duplicate the echo path cannot
			// reconcile. Treat it as a rejection and let the user retry.
			return "", fmt.Errorf("%w: %v", ErrSendRejected, err)
		case errors.Is(err, transport.ErrNotConnected), errors.Is(err, transport.ErrConnectionLost):
			// Fall through to the request path.
		default:
			return "", fmt.Errorf("%w: %v", ErrSendRejected, err)
		}
	}

	msg, err := o.rest.PostMessage(ctx, req)
	if err == nil {
		return msg.ID, nil
	}
	if errors.Is(err, rest.ErrRejected) {
		return "", fmt.Errorf("%w: %v", ErrSendRejected, err)
	}
	return "", err
}

func (o *Orchestrator) confirm(conversationID, clientMsgID, serverMsgID string) (*store.Message, error) {
	if err := o.db.ConfirmMessage(conversationID, clientMsgID, serverMsgID); err != nil {
		return nil, fmt.Errorf("confirm message: %w", err)
	}
	o.publish(bus.KindMessageSendAck, map[string]string{
		"conversation_id": conversationID,
		"client_msg_id":   clientMsgID,
		"server_msg_id":   serverMsgID,
	})
	return o.db.GetMessage(conversationID, serverMsgID)
}

// SendQueued performs the actual send for a drained outbox entry. The
// outbox sender owns the bookkeeping; this only moves bytes.
func (o *Orchestrator) SendQueued(ctx context.Context, entry store.OutboxEntry) (string, error) {
	return o.deliver(ctx, wire.SendMessageRequest{
		ConversationID: entry.ConversationID,
		Body:           entry.Body,
		Kind:           entry.Kind,
	})
}

// RetrySend puts a terminally failed send back in the queue on the user's
// request, flipping its echo back to "sending".
func (o *Orchestrator) RetrySend(clientMsgID string) error {
	entry, err := o.db.GetOutboxEntry(clientMsgID)
	if err != nil {
		return err
	}
	if entry == nil {
		return fmt.Errorf("no queued send %s", clientMsgID)
	}
	if err := o.db.RetryOutbox(clientMsgID); err != nil {
		return err
	}
	if err := o.db.SetMessageStatus(entry.ConversationID, clientMsgID, store.StatusSending); err != nil {
		return err
	}
	o.publish(bus.KindMessageUpserted, map[string]string{
		"conversation_id": entry.ConversationID,
		"msg_id":          clientMsgID,
	})
	return nil
}

// SendTypingIndicator records a local keystroke in a conversation. The
// per-conversation debouncer collapses a burst into one typing=true and one
// typing=false after the inactivity window; both are fire-and-forget.
func (o *Orchestrator) SendTypingIndicator(conversationID string) {
	o.mu.Lock()
	d, ok := o.debouncers[conversationID]
	if !ok {
		d = typing.NewDebouncer(o.opts.TypingTTL, func(isTyping bool) {
			if !o.live.IsConnected() {
				return
			}
			_ = o.live.Emit(wire.EventTyping, wire.TypingPayload{
				ConversationID: conversationID,
				IsTyping:       isTyping,
			})
		})
		o.debouncers[conversationID] = d
	}
	o.mu.Unlock()

	d.Touch()
}

func preview(body string) string {
	runes := []rune(body)
	if len(runes) <= previewLen {
		return body
	}
	return string(runes[:previewLen])
}
