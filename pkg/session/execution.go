package session

import (
	"context"
	"sync"

	"github.com/go-go-golems/zhenchat/pkg/conversation"
	"github.com/pkg/errors"
)

var ErrExecutionNil = errors.New("execution is nil")

// Execution represents a single in-flight answer of a conversation.
//
// It is cancelable and waitable. The stream is always driven by context
// cancellation.
type Execution struct {
	ConversationID string
	ExecutionID    string

	Generation         uint64
	UserMessageID      string
	AssistantMessageID string

	done chan struct{}

	mu      sync.Mutex
	cancel  context.CancelFunc
	outcome conversation.Outcome
	err     error
}

func newExecution(conversationID, executionID string, turn conversation.Turn, cancel context.CancelFunc) *Execution {
	return &Execution{
		ConversationID:     conversationID,
		ExecutionID:        executionID,
		Generation:         turn.Generation,
		UserMessageID:      turn.UserMessageID,
		AssistantMessageID: turn.AssistantMessageID,
		done:               make(chan struct{}),
		cancel:             cancel,
	}
}

func (e *Execution) setResult(outcome conversation.Outcome, err error) {
	e.mu.Lock()
	e.outcome = outcome
	e.err = err
	cancel := e.cancel
	e.cancel = nil
	close(e.done)
	e.mu.Unlock()
	// release the context resources of the finished run
	if cancel != nil {
		cancel()
	}
}

// Cancel cancels the in-flight stream. It is safe to call multiple times.
func (e *Execution) Cancel() {
	if e == nil {
		return
	}
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Wait blocks until the answer is finalized. The error is the transport or
// reader error that caused a failure; it has already been absorbed into the
// conversation as the fallback text.
func (e *Execution) Wait() (conversation.Outcome, error) {
	if e == nil {
		return "", ErrExecutionNil
	}
	<-e.done
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.outcome, e.err
}

// Done is closed once the answer has been finalized.
func (e *Execution) Done() <-chan struct{} {
	return e.done
}

// Outcome returns the outcome of a finished execution, or "" while it runs.
func (e *Execution) Outcome() conversation.Outcome {
	if e == nil {
		return ""
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.outcome
}

func (e *Execution) IsRunning() bool {
	if e == nil {
		return false
	}
	select {
	case <-e.done:
		return false
	default:
		return true
	}
}
