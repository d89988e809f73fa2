package chat

import (
	"context"
	"fmt"

	"github.com/bazario/chatkit/internal/bus"
	"github.com/bazario/chatkit/internal/store"
	"github.com/bazario/chatkit/internal/wire"
	"go.uber.org/zap"
)

// FetchConversations refreshes the conversation list from the server and
// returns it from the cache, newest activity first. The server copy is
// authoritative for unread counts.
func (o *Orchestrator) FetchConversations(ctx context.Context, limit, offset int) ([]store.Conversation, error) {
	if limit <= 0 {
		limit = o.opts.PageSize
	}
	convs, err := o.rest.ListConversations(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	for i := range convs {
		o.ingestConversation(&convs[i])
	}
	o.publish(bus.KindConversationUpdated, "")
	return o.db.ListConversations(o.opts.UserID, limit, offset)
}

// FetchMessages loads a page of history for a conversation and returns the
// cached page, newest first. beforeTS <= 0 means the latest page. Records
// already cached are left untouched, so optimistic echoes and locally
// advanced read states survive a refetch.
func (o *Orchestrator) FetchMessages(ctx context.Context, conversationID string, beforeTS int64, limit int) ([]store.Message, error) {
	if limit <= 0 {
		limit = o.opts.PageSize
	}
	msgs, err := o.rest.ListMessages(ctx, conversationID, beforeTS, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	for i := range msgs {
		if _, err := o.ingestMessage(&msgs[i]); err != nil {
			o.logger.Warn("ingest fetched message failed",
				zap.Error(err), zap.String("msg_id", msgs[i].ID))
		}
	}
	return o.db.ListMessages(conversationID, beforeTS, limit)
}

// MarkAsRead clears the unread state of a conversation on the server and in
// the cache, and emits read receipts for exactly the messages that changed.
// Receipts ride the live channel best-effort; the server derives the same
// state from the request either way.
func (o *Orchestrator) MarkAsRead(ctx context.Context, conversationID string) error {
	if err := o.rest.MarkRead(ctx, conversationID); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}

	changed, err := o.db.MarkConversationRead(conversationID)
	if err != nil {
		return err
	}
	if err := o.db.ResetUnread(conversationID); err != nil {
		return err
	}
	o.publish(bus.KindConversationUpdated, conversationID)
	if len(changed) > 0 {
		o.publish(bus.KindMessageStatusChanged, map[string]any{
			"conversation_id": conversationID,
			"msg_ids":         changed,
			"status":          store.StatusRead,
		})
	}

	if o.live.IsConnected() {
		for _, id := range changed {
			_ = o.live.Emit(wire.EventMessageRead, wire.Receipt{
				MessageID:      id,
				ConversationID: conversationID,
				SenderID:       o.opts.UserID,
			})
		}
	}
	return nil
}

// SelectConversation makes a conversation the active one: future live
// events are scoped to it, history is loaded if the cache is cold, and its
// unread state is cleared.
func (o *Orchestrator) SelectConversation(ctx context.Context, conversationID string) error {
	conv, err := o.db.GetConversation(conversationID)
	if err != nil {
		return err
	}
	if conv == nil {
		return ErrConversationNotFound
	}

	o.mu.Lock()
	o.active = conversationID
	o.mu.Unlock()

	o.joinConversation(conversationID)

	if n, err := o.db.CountMessages(conversationID); err == nil && n == 0 {
		if _, err := o.FetchMessages(ctx, conversationID, 0, o.opts.PageSize); err != nil {
			o.logger.Warn("initial history fetch failed",
				zap.Error(err), zap.String("conversation_id", conversationID))
		}
	}

	if err := o.MarkAsRead(ctx, conversationID); err != nil {
		o.logger.Warn("mark as read failed",
			zap.Error(err), zap.String("conversation_id", conversationID))
	}
	return nil
}

// CreateOrGetConversation starts (or resumes) the conversation with a peer
// and caches it.
func (o *Orchestrator) CreateOrGetConversation(ctx context.Context, peerID string) (*store.Conversation, error) {
	conv, err := o.rest.CreateOrGetConversation(ctx, peerID)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	o.ingestConversation(conv)
	o.publish(bus.KindConversationUpdated, conv.ID)
	return o.db.GetConversation(conv.ID)
}

// Backfill refetches the conversation list and the active conversation's
// latest page. Everything it ingests is idempotent, so running it after
// every reconnect is safe no matter how short the gap was.
func (o *Orchestrator) Backfill(ctx context.Context) error {
	if _, err := o.FetchConversations(ctx, o.opts.PageSize, 0); err != nil {
		return err
	}
	active := o.ActiveConversation()
	if active == "" {
		return nil
	}
	_, err := o.FetchMessages(ctx, active, 0, o.opts.PageSize)
	return err
}

func (o *Orchestrator) ingestConversation(c *wire.Conversation) {
	err := o.db.UpsertConversation(&store.Conversation{
		ID:                 c.ID,
		BuyerID:            c.BuyerID,
		SellerID:           c.SellerID,
		LastMessagePreview: c.LastMessagePreview,
		LastMessageAt:      c.LastMessageAt,
		UnreadCount:        c.UnreadCount,
	})
	if err != nil {
		o.logger.Warn("upsert conversation failed", zap.Error(err), zap.String("conversation_id", c.ID))
	}
}

// ingestMessage caches a server-side message unless it is already present.
// Returns whether a row was inserted.
func (o *Orchestrator) ingestMessage(m *wire.Message) (bool, error) {
	status := m.Status
	if status == "" {
		status = store.StatusSent
	}
	return o.db.InsertIfAbsent(&store.Message{
		ConversationID: m.ConversationID,
		MsgID:          m.ID,
		SenderID:       m.SenderID,
		Body:           m.Body,
		Kind:           m.Kind,
		FromMe:         m.SenderID == o.opts.UserID,
		Status:         status,
		Timestamp:      m.Timestamp,
	})
}
