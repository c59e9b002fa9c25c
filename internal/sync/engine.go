package sync

import (
	"context"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/matheus3301/bolechat/internal/bus"
	"github.com/matheus3301/bolechat/internal/chat"
	"github.com/matheus3301/bolechat/internal/realtime"
	"github.com/matheus3301/bolechat/internal/store"
	"go.uber.org/zap"
)

// Engine is the only caller of the store's push operations. It feeds
// "rt." events into the Conversation Store, mirrors every store change into
// the cache and runs a reconcile after each push (re)connect.
type Engine struct {
	store      *chat.Store
	db         *store.DB
	bus        *bus.Bus
	reconciler *Reconciler
	logger     *zap.Logger
	timeout    time.Duration

	cancel      context.CancelFunc
	wg          gosync.WaitGroup
	reconciling atomic.Bool
}

func NewEngine(s *chat.Store, db *store.DB, b *bus.Bus, r *Reconciler, timeout time.Duration, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Engine{store: s, db: db, bus: b, reconciler: r, timeout: timeout, logger: logger}
}

// Start subscribes to push and store events.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	ch, unsub := e.bus.Subscribe(512, "rt.", "conversation.", "message.")

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer unsub()
		for {
			select {
			case evt := <-ch:
				e.handleEvent(ctx, evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends the event loop and waits for an in-flight reconcile.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}

func (e *Engine) handleEvent(ctx context.Context, evt bus.Event) {
	switch evt.Kind {
	case realtime.EventMessage:
		m, ok := evt.Payload.(chat.Message)
		if !ok {
			return
		}
		e.store.ReceiveMessage(m)
		e.checkpointPush(evt.Timestamp)
	case realtime.EventStatus:
		u, ok := evt.Payload.(chat.StatusUpdate)
		if !ok {
			return
		}
		e.store.UpdateMessageStatus(u.MessageID, u.Status)
		e.checkpointPush(evt.Timestamp)
	case realtime.EventConnected:
		e.reconcileAsync(ctx)
	default:
		if c, ok := evt.Payload.(chat.Change); ok {
			if err := e.Mirror(evt.Kind, c); err != nil {
				e.logger.Error("failed to mirror store change", zap.String("kind", evt.Kind), zap.Error(err))
			}
		}
	}
}

// reconcileAsync runs one reconcile at a time off the event loop so push
// events keep flowing while REST calls are in flight.
func (e *Engine) reconcileAsync(ctx context.Context) {
	if e.reconciler == nil || !e.reconciling.CompareAndSwap(false, true) {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.reconciling.Store(false)
		rctx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()
		if err := e.reconciler.Reconcile(rctx); err == nil {
			e.logger.Info("reconciled after connect")
		}
	}()
}

// Mirror writes the effect of one store event to the cache.
func (e *Engine) Mirror(kind string, c chat.Change) error {
	if e.db == nil {
		return nil
	}
	switch kind {
	case chat.EventMessagesLoaded:
		if err := e.db.ReplaceMessages(c.ConversationID, e.store.Messages(c.ConversationID)); err != nil {
			return err
		}
	case chat.EventMessageUpserted, chat.EventSendAck:
		if m, ok := e.find(c); ok {
			if err := e.db.UpsertMessage(m); err != nil {
				return err
			}
		}
	case chat.EventMessageStatus:
		if m, ok := e.find(c); ok {
			if _, err := e.db.SetMessageStatus(c.MessageID, m.Status); err != nil {
				return err
			}
		}
	}
	return e.db.SaveConversations(e.store.Conversations())
}

func (e *Engine) find(c chat.Change) (chat.Message, bool) {
	for _, m := range e.store.Messages(c.ConversationID) {
		if c.MessageID != "" && m.Ref.ServerID() == c.MessageID {
			return m, true
		}
		if c.MessageID == "" && c.TempID != "" && m.Ref.TempID() == c.TempID {
			return m, true
		}
	}
	return chat.Message{}, false
}

func (e *Engine) checkpointPush(at time.Time) {
	if e.db == nil {
		return
	}
	if err := e.db.SetSyncTime(store.KeyLastPushAt, at); err != nil {
		e.logger.Warn("failed to record push checkpoint", zap.Error(err))
	}
}
