package chat

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyContent = errors.New("message content is empty")
	ErrNotFound     = errors.New("not found")
	ErrNotFailed    = errors.New("message is not in failed state")
)

// SendError reports a failed send. The optimistic entry stays in the
// conversation with StatusFailed; Content is what the user typed so the
// input can be restored.
type SendError struct {
	ConversationID string
	TempID         string
	Content        string
	Err            error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send message %s to conversation %s: %v", e.TempID, e.ConversationID, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }
