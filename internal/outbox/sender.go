// Package outbox drains queued sends that could not reach the server on
// either surface when they were first attempted.
package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/bazario/chatkit/internal/bus"
	"github.com/bazario/chatkit/internal/rest"
	"github.com/bazario/chatkit/internal/store"
	"github.com/bazario/chatkit/internal/transport"
	"go.uber.org/zap"
)

// DefaultMaxAttempts bounds how often a queued send is retried before it is
// marked failed for good. A failed entry only moves again when the user asks
// for a retry.
const DefaultMaxAttempts = 5

// QueuedSender performs the actual send for a drained outbox entry.
type QueuedSender interface {
	SendQueued(ctx context.Context, entry store.OutboxEntry) (serverMsgID string, err error)
}

// Sender polls the outbox and pushes pending entries through a QueuedSender.
type Sender struct {
	db          *store.DB
	sender      QueuedSender
	bus         *bus.Bus
	logger      *zap.Logger
	interval    time.Duration
	maxAttempts int
	cancel      context.CancelFunc
}

// NewSender creates a new outbox sender. interval <= 0 defaults to 2s,
// maxAttempts <= 0 to DefaultMaxAttempts.
func NewSender(db *store.DB, sender QueuedSender, b *bus.Bus, logger *zap.Logger, interval time.Duration, maxAttempts int) *Sender {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Sender{
		db:          db,
		sender:      sender,
		bus:         b,
		logger:      logger,
		interval:    interval,
		maxAttempts: maxAttempts,
	}
}

// Start begins polling the outbox for pending entries.
func (s *Sender) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx)
}

// Stop stops the sender loop.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Sender) loop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.processPending(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sender) processPending(ctx context.Context) {
	pending, err := s.db.PendingOutbox()
	if err != nil {
		s.logger.Error("failed to read outbox", zap.Error(err))
		return
	}

	for _, entry := range pending {
		if ctx.Err() != nil {
			return
		}
		if err := s.db.MarkOutboxSending(entry.ClientMsgID); err != nil {
			s.logger.Error("failed to mark sending", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
			continue
		}
		attempt := entry.Attempts + 1

		serverMsgID, err := s.sender.SendQueued(ctx, entry)
		if err != nil {
			if retryable(err) && attempt < s.maxAttempts {
				s.logger.Warn("queued send still unreachable, will retry",
					zap.String("client_msg_id", entry.ClientMsgID),
					zap.Int("attempt", attempt))
				_ = s.db.RequeueOutbox(entry.ClientMsgID, err.Error())
				continue
			}
			s.fail(entry, err)
			continue
		}

		if err := s.db.MarkOutboxSent(entry.ClientMsgID, serverMsgID); err != nil {
			s.logger.Error("failed to mark sent", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
		}
		// Swap the optimistic placeholder for the server copy.
		if err := s.db.ConfirmMessage(entry.ConversationID, entry.ClientMsgID, serverMsgID); err != nil {
			s.logger.Error("failed to confirm message", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
		}

		s.logger.Info("queued message sent",
			zap.String("client_msg_id", entry.ClientMsgID),
			zap.String("server_msg_id", serverMsgID))
		s.bus.Publish(bus.Event{
			Kind:      bus.KindMessageSendAck,
			Timestamp: time.Now(),
			Payload: map[string]string{
				"conversation_id": entry.ConversationID,
				"client_msg_id":   entry.ClientMsgID,
				"server_msg_id":   serverMsgID,
			},
		})
	}
}

func (s *Sender) fail(entry store.OutboxEntry, cause error) {
	s.logger.Error("queued send failed for good",
		zap.Error(cause),
		zap.String("client_msg_id", entry.ClientMsgID))
	_ = s.db.MarkOutboxFailed(entry.ClientMsgID, cause.Error())
	_ = s.db.SetMessageStatus(entry.ConversationID, entry.ClientMsgID, store.StatusFailed)
	s.bus.Publish(bus.Event{
		Kind:      bus.KindMessageSendFailed,
		Timestamp: time.Now(),
		Payload: map[string]string{
			"conversation_id": entry.ConversationID,
			"client_msg_id":   entry.ClientMsgID,
			"error":           cause.Error(),
		},
	})
}

// retryable reports whether the error means the server was unreachable, as
// opposed to the server rejecting the message.
func retryable(err error) bool {
	return errors.Is(err, rest.ErrUnavailable) ||
		errors.Is(err, transport.ErrNotConnected) ||
		errors.Is(err, transport.ErrConnectionLost)
}
