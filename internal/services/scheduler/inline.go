package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/saraichinwag/data-machine-sub002/internal/interfaces"
	"github.com/saraichinwag/data-machine-sub002/internal/models"
	"github.com/ternarybob/arbor"
)

type inlineTask struct {
	handle string
	action string
	args   json.RawMessage
	delay  time.Duration
}

// InlineScheduler runs scheduled actions in the caller's goroutine when Run is
// called, ignoring delays. It backs one-shot CLI runs, where a flow is driven
// to completion without the durable queue.
type InlineScheduler struct {
	mu        sync.Mutex
	handlers  map[string]interfaces.ActionHandler
	pending   []inlineTask
	recurring map[string]string // action key -> interval
	seq       int
	logger    arbor.ILogger
}

// NewInlineScheduler creates an inline scheduler
func NewInlineScheduler(logger arbor.ILogger) *InlineScheduler {
	return &InlineScheduler{
		handlers:  make(map[string]interfaces.ActionHandler),
		recurring: make(map[string]string),
		logger:    logger,
	}
}

// RegisterAction binds an action name to its handler
func (s *InlineScheduler) RegisterAction(action string, handler interfaces.ActionHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[action] = handler
}

// ScheduleOnce queues the action for the next Run
func (s *InlineScheduler) ScheduleOnce(ctx context.Context, delay time.Duration, action string, args interface{}) (string, error) {
	raw, err := encodeArgs(args)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	handle := fmt.Sprintf("inline-%d", s.seq)
	s.pending = append(s.pending, inlineTask{handle: handle, action: action, args: raw, delay: delay})
	return handle, nil
}

// ScheduleRecurring records the interval; recurring actions never fire inline
func (s *InlineScheduler) ScheduleRecurring(ctx context.Context, interval string, action string, args interface{}) error {
	raw, err := encodeArgs(args)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recurring[models.ActionKey(action, raw)] = interval
	return nil
}

// Cancel drops the recurring registration and queued runs of action+args
func (s *InlineScheduler) Cancel(ctx context.Context, action string, args interface{}) error {
	raw, err := encodeArgs(args)
	if err != nil {
		return err
	}
	key := models.ActionKey(action, raw)

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.recurring, key)
	kept := s.pending[:0]
	for _, task := range s.pending {
		if models.ActionKey(task.action, task.args) != key {
			kept = append(kept, task)
		}
	}
	s.pending = kept
	return nil
}

// Recurring returns the interval registered for action+args
func (s *InlineScheduler) Recurring(action string, args interface{}) (string, bool) {
	raw, err := encodeArgs(args)
	if err != nil {
		return "", false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	interval, ok := s.recurring[models.ActionKey(action, raw)]
	return interval, ok
}

// Pending returns the number of queued actions
func (s *InlineScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// PendingDelays returns the requested delay of each queued action
func (s *InlineScheduler) PendingDelays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	delays := make([]time.Duration, len(s.pending))
	for i, task := range s.pending {
		delays[i] = task.delay
	}
	return delays
}

// Run executes queued actions in order, including those they enqueue, until
// none remain. Handler errors are logged; the first one is returned.
func (s *InlineScheduler) Run(ctx context.Context) error {
	var firstErr error
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		s.mu.Lock()
		if len(s.pending) == 0 {
			s.mu.Unlock()
			return firstErr
		}
		task := s.pending[0]
		s.pending = s.pending[1:]
		handler, ok := s.handlers[task.action]
		s.mu.Unlock()

		if !ok {
			s.logger.Warn().Str("action", task.action).Msg("No handler registered for action")
			continue
		}
		if err := handler(ctx, task.args); err != nil {
			s.logger.Error().Err(err).Str("action", task.action).Str("handle", task.handle).Msg("Inline action failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
}

var _ interfaces.TaskScheduler = (*InlineScheduler)(nil)
