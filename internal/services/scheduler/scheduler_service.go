package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/saraichinwag/data-machine-sub002/internal/common"
	"github.com/saraichinwag/data-machine-sub002/internal/interfaces"
	"github.com/saraichinwag/data-machine-sub002/internal/models"
	"github.com/saraichinwag/data-machine-sub002/internal/queue"
	"github.com/ternarybob/arbor"
)

// recurringEntry is a cron registration that enqueues its action on every tick
type recurringEntry struct {
	action   string
	args     json.RawMessage
	interval string
	spec     string
	cronID   cron.EntryID
	lastRun  *time.Time
}

// RecurringStatus describes a registered recurring action
type RecurringStatus struct {
	Action   string     `json:"action"`
	Args     string     `json:"args"`
	Interval string     `json:"interval"`
	LastRun  *time.Time `json:"last_run,omitempty"`
	NextRun  *time.Time `json:"next_run,omitempty"`
}

// Service implements interfaces.TaskScheduler on top of the Badger queue.
// One-time actions are delayed queue messages; recurring actions are cron
// entries that enqueue a message when they fire, so every execution goes
// through the same durable, at-least-once path.
type Service struct {
	queue  *queue.BadgerManager
	pool   *queue.WorkerPool
	cron   *cron.Cron
	logger arbor.ILogger

	mu        sync.Mutex
	recurring map[string]*recurringEntry // keyed by action key
	running   bool
}

// NewService creates a new scheduler service
func NewService(queueMgr *queue.BadgerManager, pool *queue.WorkerPool, logger arbor.ILogger) *Service {
	return &Service{
		queue:     queueMgr,
		pool:      pool,
		cron:      cron.New(),
		logger:    logger,
		recurring: make(map[string]*recurringEntry),
	}
}

// Start begins cron ticking and queue consumption
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	if err := s.pool.Start(ctx); err != nil {
		return err
	}
	s.cron.Start()
	s.running = true

	s.logger.Info().
		Int("recurring", len(s.recurring)).
		Msg("Scheduler started")
	return nil
}

// Stop halts cron ticking and waits for in-flight actions
func (s *Service) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	if err := s.pool.Stop(); err != nil {
		return err
	}

	s.logger.Info().Msg("Scheduler stopped")
	return nil
}

// IsRunning returns true if scheduler is active
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// RegisterAction binds an action name to its handler
func (s *Service) RegisterAction(action string, handler interfaces.ActionHandler) {
	s.pool.RegisterHandler(action, handler)
}

// ScheduleOnce enqueues action to run after delay. The handle is the queue message id.
func (s *Service) ScheduleOnce(ctx context.Context, delay time.Duration, action string, args interface{}) (string, error) {
	raw, err := encodeArgs(args)
	if err != nil {
		return "", err
	}

	id, err := s.queue.Enqueue(ctx, queue.Message{Action: action, Args: raw}, delay)
	if err != nil {
		return "", err
	}

	s.logger.Debug().
		Str("action", action).
		Str("args", string(raw)).
		Dur("delay", delay).
		Str("handle", id).
		Msg("Action scheduled")
	return id, nil
}

// ScheduleRecurring registers action to be enqueued on every interval tick.
// Registering the same action+args again replaces the previous interval.
func (s *Service) ScheduleRecurring(ctx context.Context, interval string, action string, args interface{}) error {
	raw, err := encodeArgs(args)
	if err != nil {
		return err
	}
	spec, err := common.ResolveCronSpec(interval)
	if err != nil {
		return err
	}

	key := models.ActionKey(action, raw)

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.recurring[key]; ok {
		s.cron.Remove(existing.cronID)
		delete(s.recurring, key)
	}

	entry := &recurringEntry{
		action:   action,
		args:     raw,
		interval: interval,
		spec:     spec,
	}
	cronID, err := s.cron.AddFunc(spec, func() {
		s.fire(entry)
	})
	if err != nil {
		return fmt.Errorf("failed to add recurring action: %w", err)
	}
	entry.cronID = cronID
	s.recurring[key] = entry

	s.logger.Info().
		Str("action", action).
		Str("args", string(raw)).
		Str("interval", interval).
		Msg("Recurring action registered")
	return nil
}

// fire enqueues one execution of a recurring action
func (s *Service) fire(entry *recurringEntry) {
	now := time.Now()
	s.mu.Lock()
	entry.lastRun = &now
	s.mu.Unlock()

	if _, err := s.queue.Enqueue(context.Background(), queue.Message{Action: entry.action, Args: entry.args}, 0); err != nil {
		s.logger.Error().
			Err(err).
			Str("action", entry.action).
			Msg("Failed to enqueue recurring action")
	}
}

// Cancel removes the recurring registration and pending queued runs of action+args
func (s *Service) Cancel(ctx context.Context, action string, args interface{}) error {
	raw, err := encodeArgs(args)
	if err != nil {
		return err
	}
	key := models.ActionKey(action, raw)

	s.mu.Lock()
	if entry, ok := s.recurring[key]; ok {
		s.cron.Remove(entry.cronID)
		delete(s.recurring, key)
	}
	s.mu.Unlock()

	deleted, err := s.queue.DeleteByActionKey(ctx, key)
	if err != nil {
		return err
	}

	s.logger.Debug().
		Str("action", action).
		Str("args", string(raw)).
		Int("pending_removed", deleted).
		Msg("Action cancelled")
	return nil
}

// RecurringStatuses lists recurring registrations with their next fire time
func (s *Service) RecurringStatuses() []RecurringStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[cron.EntryID]time.Time)
	for _, e := range s.cron.Entries() {
		next[e.ID] = e.Next
	}

	statuses := make([]RecurringStatus, 0, len(s.recurring))
	for _, entry := range s.recurring {
		status := RecurringStatus{
			Action:   entry.action,
			Args:     string(entry.args),
			Interval: entry.interval,
			LastRun:  entry.lastRun,
		}
		if t, ok := next[entry.cronID]; ok && !t.IsZero() {
			status.NextRun = &t
		}
		statuses = append(statuses, status)
	}
	sort.Slice(statuses, func(i, j int) bool {
		if statuses[i].Action == statuses[j].Action {
			return statuses[i].Args < statuses[j].Args
		}
		return statuses[i].Action < statuses[j].Action
	})
	return statuses
}

// PendingActions lists queued one-time and in-flight actions
func (s *Service) PendingActions(ctx context.Context) ([]queue.PendingMessage, error) {
	return s.queue.List(ctx)
}

// encodeArgs normalizes action arguments to JSON
func encodeArgs(args interface{}) (json.RawMessage, error) {
	switch v := args.(type) {
	case nil:
		return json.RawMessage("null"), nil
	case json.RawMessage:
		return v, nil
	case []byte:
		return json.RawMessage(v), nil
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode action args: %w", err)
		}
		return raw, nil
	}
}

var _ interfaces.TaskScheduler = (*Service)(nil)
