package chat

import (
	"encoding/json"

	"github.com/bazario/chatkit/internal/bus"
	"github.com/bazario/chatkit/internal/wire"
	"go.uber.org/zap"
)

// onNewMessage ingests a pushed message. Our own echoes come back through
// here too; duplicate suppression on the server-assigned id keeps them from
// appearing twice regardless of whether the echo or the ack wins the race.
func (o *Orchestrator) onNewMessage(raw json.RawMessage) {
	var msg wire.Message
	if !o.decode(wire.EventNewMessage, raw, &msg) {
		return
	}

	inserted, err := o.ingestMessage(&msg)
	if err != nil {
		o.logger.Error("ingest pushed message failed", zap.Error(err), zap.String("msg_id", msg.ID))
		return
	}
	if !inserted {
		return
	}

	fromMe := msg.SenderID == o.opts.UserID
	active := o.ActiveConversation() == msg.ConversationID

	// Unread counts only move for peer messages in conversations the
	// user is not looking at.
	increment := !fromMe && !active
	if err := o.db.TouchConversation(msg.ConversationID, preview(msg.Body), msg.Timestamp, increment); err != nil {
		o.logger.Warn("touch conversation failed", zap.Error(err))
	}

	o.publish(bus.KindMessageUpserted, map[string]string{
		"conversation_id": msg.ConversationID,
		"msg_id":          msg.ID,
	})
	o.publish(bus.KindConversationUpdated, msg.ConversationID)

	if fromMe || !o.live.IsConnected() {
		return
	}

	// Tell the sender their message reached this device. Best-effort:
	// a lost receipt costs a stale checkmark, nothing more.
	_ = o.live.Emit(wire.EventMessageDelivered, wire.Receipt{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       o.opts.UserID,
	})

	if active {
		if _, err := o.db.MarkConversationRead(msg.ConversationID); err == nil {
			_ = o.live.Emit(wire.EventMessageRead, wire.Receipt{
				MessageID:      msg.ID,
				ConversationID: msg.ConversationID,
				SenderID:       o.opts.UserID,
			})
		}
	}
}

// onDeliveryStatus advances a sent message's delivery state. Out-of-order
// receipts are dropped by the monotonic update, not an error.
func (o *Orchestrator) onDeliveryStatus(raw json.RawMessage) {
	var ds wire.DeliveryStatus
	if !o.decode(wire.EventDeliveryStatus, raw, &ds) {
		return
	}
	changed, err := o.db.UpdateDeliveryStatus(ds.ConversationID, ds.MessageID, ds.Status)
	if err != nil {
		o.logger.Error("delivery status update failed", zap.Error(err), zap.String("msg_id", ds.MessageID))
		return
	}
	if changed {
		o.publish(bus.KindMessageStatusChanged, map[string]any{
			"conversation_id": ds.ConversationID,
			"msg_ids":         []string{ds.MessageID},
			"status":          ds.Status,
		})
	}
}

func (o *Orchestrator) onTypingIndicator(raw json.RawMessage) {
	var ti wire.TypingIndicator
	if !o.decode(wire.EventTypingIndicator, raw, &ti) {
		return
	}
	o.typing.Set(ti.UserID, ti.IsTyping)
}

func (o *Orchestrator) onUserOnline(raw json.RawMessage) {
	var d wire.PresenceDelta
	if !o.decode(wire.EventUserOnline, raw, &d) {
		return
	}
	o.presence.SetOnline(d.UserID)
}

func (o *Orchestrator) onUserOffline(raw json.RawMessage) {
	var d wire.PresenceDelta
	if !o.decode(wire.EventUserOffline, raw, &d) {
		return
	}
	o.presence.SetOffline(d.UserID)
}

func (o *Orchestrator) onUserOnlineList(raw json.RawMessage) {
	var s wire.PresenceSnapshot
	if !o.decode(wire.EventUserOnlineList, raw, &s) {
		return
	}
	o.presence.ApplySnapshot(s.Users)
}
