package outbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/bolechat/internal/chat"
	"github.com/matheus3301/bolechat/internal/store"
	"go.uber.org/zap"
)

// Sender is the durable send path. Every send is written to the outbox
// before the Conversation Store attempts it, so an unsent message survives
// a daemon restart. Failed sends are never retried automatically.
type Sender struct {
	db     *store.DB
	store  *chat.Store
	logger *zap.Logger
	newID  func() string

	interval  time.Duration
	retention time.Duration
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewSender creates a sender. interval is how often leftover queued entries
// are drained; retention is how long sent entries are kept.
func NewSender(db *store.DB, s *chat.Store, interval, retention time.Duration, logger *zap.Logger) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &Sender{
		db:        db,
		store:     s,
		logger:    logger,
		newID:     uuid.NewString,
		interval:  interval,
		retention: retention,
	}
}

// Send queues content for conversationID and attempts it at once.
func (s *Sender) Send(ctx context.Context, conversationID, content string) (chat.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return chat.Message{}, chat.ErrEmptyContent
	}
	if conversationID == "" {
		return chat.Message{}, fmt.Errorf("send: %w", chat.ErrNotFound)
	}
	tempID := s.newID()
	if err := s.db.QueueOutbox(tempID, conversationID, content, store.OutboxSending); err != nil {
		return chat.Message{}, fmt.Errorf("queue outbox: %w", err)
	}
	return s.deliver(tempID, func() (chat.Message, error) {
		return s.store.SendWithTempID(ctx, conversationID, tempID, content)
	})
}

// Retry re-sends a failed message under its original temporary id. The
// outbox entry stays failed until the attempt resolves.
func (s *Sender) Retry(ctx context.Context, tempID string) (chat.Message, error) {
	return s.deliver(tempID, func() (chat.Message, error) {
		return s.store.RetryMessage(ctx, tempID)
	})
}

// Discard drops a failed message and returns its content.
func (s *Sender) Discard(tempID string) (string, error) {
	content, err := s.store.DiscardMessage(tempID)
	if err != nil {
		return "", err
	}
	if err := s.db.DeleteOutbox(tempID); err != nil {
		s.logger.Warn("failed to delete outbox entry", zap.String("temp_id", tempID), zap.Error(err))
	}
	return content, nil
}

func (s *Sender) deliver(tempID string, attempt func() (chat.Message, error)) (chat.Message, error) {
	m, err := attempt()
	if err != nil {
		var se *chat.SendError
		if errors.As(err, &se) {
			if merr := s.db.MarkOutboxFailed(tempID, se.Err.Error()); merr != nil {
				s.logger.Error("failed to mark failed", zap.String("temp_id", tempID), zap.Error(merr))
			}
		}
		return chat.Message{}, err
	}
	if err := s.db.MarkOutboxSent(tempID, m.Ref.ServerID()); err != nil {
		s.logger.Error("failed to mark sent", zap.String("temp_id", tempID), zap.Error(err))
	}
	s.logger.Info("message sent",
		zap.String("temp_id", tempID),
		zap.String("message_id", m.Ref.ServerID()))
	return m, nil
}

// Start begins draining leftover queued entries in the background.
func (s *Sender) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx)
}

// Stop stops the loop and waits for the current pass to end.
func (s *Sender) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

func (s *Sender) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.processPending(ctx)
	for {
		select {
		case <-ticker.C:
			s.processPending(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// processPending sends entries queued but never attempted, which only
// happens when the daemon stopped between queueing and sending.
func (s *Sender) processPending(ctx context.Context) {
	pending, err := s.db.PendingOutbox()
	if err != nil {
		s.logger.Error("failed to read outbox", zap.Error(err))
		return
	}
	for _, e := range pending {
		if ctx.Err() != nil {
			return
		}
		claimed, err := s.db.ClaimOutbox(e.TempID)
		if err != nil {
			s.logger.Error("failed to claim outbox entry", zap.String("temp_id", e.TempID), zap.Error(err))
			continue
		}
		if !claimed {
			continue
		}
		_, err = s.deliver(e.TempID, func() (chat.Message, error) {
			return s.store.SendWithTempID(ctx, e.ConversationID, e.TempID, e.Content)
		})
		if err != nil {
			s.logger.Warn("queued send failed", zap.String("temp_id", e.TempID), zap.Error(err))
		}
	}

	if n, err := s.db.PruneOutbox(time.Now().Add(-s.retention)); err != nil {
		s.logger.Error("failed to prune outbox", zap.Error(err))
	} else if n > 0 {
		s.logger.Debug("pruned outbox", zap.Int64("entries", n))
	}
}
