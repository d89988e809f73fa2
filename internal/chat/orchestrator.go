// Package chat coordinates the messaging surfaces: optimistic sends with
// echo reconciliation, inbound event ingestion, read state, and the
// catch-up refetch after a reconnect.
package chat

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/bazario/chatkit/internal/bus"
	"github.com/bazario/chatkit/internal/presence"
	"github.com/bazario/chatkit/internal/status"
	"github.com/bazario/chatkit/internal/store"
	"github.com/bazario/chatkit/internal/transport"
	"github.com/bazario/chatkit/internal/typing"
	"github.com/bazario/chatkit/internal/wire"
	"go.uber.org/zap"
)

// LiveChannel is the surface the orchestrator needs from the websocket
// client.
type LiveChannel interface {
	IsConnected() bool
	Send(event string, payload any, timeout time.Duration) (*wire.Ack, error)
	Emit(event string, payload any) error
	On(event string, h transport.Handler)
}

// RequestClient is the surface the orchestrator needs from the stateless
// fallback.
type RequestClient interface {
	ListConversations(ctx context.Context, limit, offset int) ([]wire.Conversation, error)
	ListMessages(ctx context.Context, conversationID string, beforeTS int64, limit int) ([]wire.Message, error)
	PostMessage(ctx context.Context, req wire.SendMessageRequest) (*wire.Message, error)
	MarkRead(ctx context.Context, conversationID string) error
	CreateOrGetConversation(ctx context.Context, peerID string) (*wire.Conversation, error)
}

// Options tunes the orchestrator.
type Options struct {
	UserID     string
	AckTimeout time.Duration
	PageSize   int
	TypingTTL  time.Duration
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.AckTimeout <= 0 {
		out.AckTimeout = 10 * time.Second
	}
	if out.PageSize <= 0 {
		out.PageSize = 50
	}
	if out.TypingTTL <= 0 {
		out.TypingTTL = typing.DefaultTTL
	}
	return out
}

// Orchestrator ties the cache, the live channel and the request fallback
// together behind one set of operations.
type Orchestrator struct {
	opts    Options
	db      *store.DB
	live    LiveChannel
	rest    RequestClient
	bus     *bus.Bus
	logger  *zap.Logger
	machine *status.Machine

	presence *presence.Tracker
	typing   *typing.Manager

	mu         sync.Mutex
	active     string // currently selected conversation id
	debouncers map[string]*typing.Debouncer

	cancel context.CancelFunc
}

// NewOrchestrator wires the orchestrator. Call Start to register inbound
// handlers and begin watching the transport lifecycle.
func NewOrchestrator(opts Options, db *store.DB, live LiveChannel, rc RequestClient, b *bus.Bus, m *status.Machine, logger *zap.Logger) *Orchestrator {
	opts = opts.withDefaults()
	return &Orchestrator{
		opts:       opts,
		db:         db,
		live:       live,
		rest:       rc,
		bus:        b,
		logger:     logger,
		machine:    m,
		presence:   presence.NewTracker(b),
		typing:     typing.NewManager(opts.TypingTTL, b),
		debouncers: make(map[string]*typing.Debouncer),
	}
}

// Presence exposes the online-set tracker.
func (o *Orchestrator) Presence() *presence.Tracker { return o.presence }

// Typing exposes the inbound typing flags.
func (o *Orchestrator) Typing() *typing.Manager { return o.typing }

// Start registers the inbound event handlers and begins reacting to
// transport lifecycle events.
func (o *Orchestrator) Start(ctx context.Context) {
	ctx, o.cancel = context.WithCancel(ctx)

	o.live.On(wire.EventNewMessage, o.onNewMessage)
	o.live.On(wire.EventDeliveryStatus, o.onDeliveryStatus)
	o.live.On(wire.EventTypingIndicator, o.onTypingIndicator)
	o.live.On(wire.EventUserOnline, o.onUserOnline)
	o.live.On(wire.EventUserOffline, o.onUserOffline)
	o.live.On(wire.EventUserOnlineList, o.onUserOnlineList)

	ch, unsub := o.bus.Subscribe("transport.", 16)
	go o.watchTransport(ctx, ch, unsub)
}

// Stop halts the transport watcher and the typing timers.
func (o *Orchestrator) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
	o.typing.Stop()
	o.mu.Lock()
	for _, d := range o.debouncers {
		d.Stop()
	}
	o.mu.Unlock()
}

// ActiveConversation returns the currently selected conversation id.
func (o *Orchestrator) ActiveConversation() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active
}

// watchTransport drives the connection state machine from transport
// lifecycle events and runs the catch-up refetch when the channel returns.
func (o *Orchestrator) watchTransport(ctx context.Context, ch <-chan bus.Event, unsub func()) {
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-ch:
			switch evt.Kind {
			case bus.KindTransportConnected:
				o.transition(status.Live)
				o.onReconnected(ctx)
			case bus.KindTransportDisconnected:
				o.transition(status.Reconnecting)
			case bus.KindTransportDown:
				o.transition(status.Degraded)
			}
		}
	}
}

func (o *Orchestrator) transition(to status.State) {
	if o.machine == nil {
		return
	}
	if err := o.machine.Transition(to); err != nil {
		o.logger.Debug("state transition skipped", zap.Error(err))
	}
}

// onReconnected re-scopes the live channel to the active conversation and
// refetches what push events may have been missed while disconnected.
func (o *Orchestrator) onReconnected(ctx context.Context) {
	active := o.ActiveConversation()
	if active != "" {
		o.joinConversation(active)
	}
	if err := o.Backfill(ctx); err != nil {
		o.logger.Warn("catch-up refetch failed", zap.Error(err))
	}
}

func (o *Orchestrator) joinConversation(conversationID string) {
	if !o.live.IsConnected() {
		return
	}
	if err := o.live.Emit(wire.EventJoinConversation, wire.JoinPayload{ConversationID: conversationID}); err != nil {
		o.logger.Warn("join-conversation failed", zap.Error(err), zap.String("conversation_id", conversationID))
	}
}

func (o *Orchestrator) publish(kind string, payload any) {
	o.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}

// decode wraps wire.Decode with handler-side logging so malformed pushes
// are dropped loudly instead of panicking.
func (o *Orchestrator) decode(event string, raw json.RawMessage, v any) bool {
	if err := wire.Decode(raw, v); err != nil {
		o.logger.Warn("malformed event payload", zap.String("event", event), zap.Error(err))
		return false
	}
	return true
}
