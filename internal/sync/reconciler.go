package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/bolechat/internal/backend"
	"github.com/matheus3301/bolechat/internal/chat"
	"github.com/matheus3301/bolechat/internal/status"
	"github.com/matheus3301/bolechat/internal/store"
	"go.uber.org/zap"
)

// Reconciler brings the Conversation Store in line with the backend and
// the cache: it seeds the store from cache.db at startup and refreshes it
// from REST after every (re)connect, recording checkpoints as it goes.
type Reconciler struct {
	db       *store.DB
	store    *chat.Store
	machine  *status.Machine
	logger   *zap.Logger
	pageSize int
	now      func() time.Time
}

func NewReconciler(db *store.DB, s *chat.Store, machine *status.Machine, pageSize int, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pageSize <= 0 {
		pageSize = 50
	}
	return &Reconciler{db: db, store: s, machine: machine, logger: logger, pageSize: pageSize, now: time.Now}
}

// Hydrate seeds an empty store from the cache, failed sends included.
func (r *Reconciler) Hydrate() error {
	snap, err := r.db.LoadSnapshot(r.pageSize, r.store.Self())
	if err != nil {
		return fmt.Errorf("load cache snapshot: %w", err)
	}
	if r.store.Restore(snap.Conversations, snap.Messages) {
		r.logger.Info("store hydrated from cache", zap.Int("conversations", len(snap.Conversations)))
	}
	return nil
}

// Reconcile reloads the conversation list and the open conversation's
// messages, then moves the machine to Online, out of Offline included.
// Backend failures move it to Offline or AuthRequired and are returned.
func (r *Reconciler) Reconcile(ctx context.Context) error {
	if err := r.store.LoadConversations(ctx); err != nil {
		r.fail(err)
		return err
	}
	if cur := r.store.Current(); cur != "" {
		if err := r.store.LoadMessages(ctx, cur); err != nil {
			r.fail(err)
			return err
		}
	}
	if err := r.db.SetSyncTime(store.KeyLastConversationsSync, r.now()); err != nil {
		r.logger.Warn("failed to record sync checkpoint", zap.Error(err))
	}
	path := []status.State{status.Syncing, status.Online}
	if r.machine.Current() == status.Offline {
		path = append([]status.State{status.Connecting}, path...)
	}
	if err := r.machine.Advance(path...); err != nil {
		r.logger.Debug("status not advanced after reconcile", zap.Error(err))
	}
	return nil
}

// LastSynced returns when Reconcile last succeeded.
func (r *Reconciler) LastSynced() time.Time {
	t, err := r.db.GetSyncTime(store.KeyLastConversationsSync)
	if err != nil {
		r.logger.Warn("failed to read sync checkpoint", zap.Error(err))
	}
	return t
}

func (r *Reconciler) fail(err error) {
	switch {
	case errors.Is(err, backend.ErrUnauthorized):
		_ = r.machine.Transition(status.AuthRequired)
	case backend.Retryable(err):
		_ = r.machine.Transition(status.Offline)
	}
	r.logger.Warn("reconcile failed", zap.Error(err))
}
