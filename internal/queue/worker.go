package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/saraichinwag/data-machine-sub002/internal/common"
	"github.com/saraichinwag/data-machine-sub002/internal/interfaces"
	"github.com/ternarybob/arbor"
)

// WorkerPool polls the queue and dispatches messages to action handlers.
// A message is deleted once its handler returns; a handler error leaves it
// in the queue for redelivery after the visibility timeout. While a handler
// runs its message visibility is extended so no other worker claims it.
type WorkerPool struct {
	queue    *BadgerManager
	config   Config
	logger   arbor.ILogger
	mu       sync.RWMutex
	handlers map[string]interfaces.ActionHandler
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	running  bool
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool(queue *BadgerManager, config Config, logger arbor.ILogger) *WorkerPool {
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	if config.PollInterval <= 0 {
		config.PollInterval = time.Second
	}
	return &WorkerPool{
		queue:    queue,
		config:   config,
		logger:   logger,
		handlers: make(map[string]interfaces.ActionHandler),
	}
}

// RegisterHandler registers the handler for an action name
func (wp *WorkerPool) RegisterHandler(action string, handler interfaces.ActionHandler) {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	wp.handlers[action] = handler
	wp.logger.Debug().
		Str("action", action).
		Msg("Action handler registered")
}

// Start launches the worker goroutines
func (wp *WorkerPool) Start(ctx context.Context) error {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if wp.running {
		return fmt.Errorf("worker pool already running")
	}

	wp.ctx, wp.cancel = context.WithCancel(ctx)
	wp.running = true

	wp.logger.Info().
		Int("concurrency", wp.config.Concurrency).
		Str("poll_interval", wp.config.PollInterval.String()).
		Msg("Starting worker pool")

	for i := 0; i < wp.config.Concurrency; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
	return nil
}

// Stop cancels the workers and waits for in-flight handlers to return
func (wp *WorkerPool) Stop() error {
	wp.mu.Lock()
	if !wp.running {
		wp.mu.Unlock()
		return nil
	}
	wp.running = false
	wp.cancel()
	wp.mu.Unlock()

	wp.logger.Info().Msg("Stopping worker pool")
	wp.wg.Wait()
	return nil
}

func (wp *WorkerPool) worker(workerID int) {
	defer wp.wg.Done()

	// Stagger worker starts across the poll interval to reduce transaction conflicts
	staggerDelay := (wp.config.PollInterval / time.Duration(wp.config.Concurrency)) * time.Duration(workerID)
	if staggerDelay > 0 {
		select {
		case <-wp.ctx.Done():
			return
		case <-time.After(staggerDelay):
		}
	}

	wp.logger.Debug().
		Int("worker_id", workerID).
		Dur("stagger_delay", staggerDelay).
		Msg("Worker started")

	ticker := time.NewTicker(wp.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-wp.ctx.Done():
			wp.logger.Debug().
				Int("worker_id", workerID).
				Msg("Worker stopped")
			return

		case <-ticker.C:
			// Drain everything visible before waiting for the next tick
			for wp.ctx.Err() == nil {
				err := wp.processMessage(workerID)
				if err == nil {
					continue
				}
				if !errors.Is(err, ErrNoMessage) && !errors.Is(err, badger.ErrConflict) {
					wp.logger.Warn().
						Err(err).
						Int("worker_id", workerID).
						Msg("Error processing message")
				}
				break
			}
		}
	}
}

// processMessage receives and handles a single message
func (wp *WorkerPool) processMessage(workerID int) error {
	msg, deleteFn, err := wp.queue.Receive(wp.ctx)
	if err != nil {
		if errors.Is(err, ErrNoMessage) || errors.Is(err, badger.ErrConflict) {
			return err
		}
		return fmt.Errorf("failed to receive message: %w", err)
	}

	wp.mu.RLock()
	handler, exists := wp.handlers[msg.Action]
	wp.mu.RUnlock()

	if !exists {
		wp.logger.Error().
			Str("action", msg.Action).
			Str("message_id", msg.ID).
			Msg("No handler registered for action")
		if delErr := deleteFn(); delErr != nil {
			wp.logger.Warn().Err(delErr).Msg("Failed to delete unknown action message")
		}
		return nil
	}

	wp.logger.Debug().
		Str("message_id", msg.ID).
		Str("action", msg.Action).
		Int("worker_id", workerID).
		Msg("Processing message")

	startTime := time.Now()
	stopHeartbeat := wp.startHeartbeat(msg.ID)
	handlerErr := wp.invoke(handler, msg)
	stopHeartbeat()
	duration := time.Since(startTime)

	if handlerErr != nil {
		wp.logger.Error().
			Err(handlerErr).
			Str("message_id", msg.ID).
			Str("action", msg.Action).
			Dur("duration", duration).
			Int("worker_id", workerID).
			Msg("Action handler failed, message left for redelivery")
		return nil
	}

	wp.logger.Debug().
		Str("message_id", msg.ID).
		Str("action", msg.Action).
		Dur("duration", duration).
		Int("worker_id", workerID).
		Msg("Action completed")

	if err := deleteFn(); err != nil {
		wp.logger.Warn().
			Err(err).
			Str("message_id", msg.ID).
			Msg("Failed to delete message after successful processing")
		return err
	}
	return nil
}

// startHeartbeat keeps a message hidden while its handler runs by pushing its
// visibility forward every third of the visibility timeout. The returned
// function stops the heartbeat and waits for any extension in progress.
func (wp *WorkerPool) startHeartbeat(messageID string) func() {
	visibility := wp.queue.visibilityTimeout
	interval := visibility / 3
	if interval <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				// Not bound to wp.ctx: the handler is still running during shutdown
				if err := wp.queue.Extend(context.Background(), messageID, visibility); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
					wp.logger.Warn().
						Err(err).
						Str("message_id", messageID).
						Msg("Failed to extend message visibility")
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			<-stopped
		})
	}
}

// invoke runs the handler, converting a panic into an error
func (wp *WorkerPool) invoke(handler interfaces.ActionHandler, msg *Message) (err error) {
	defer common.RecoverPanic(wp.logger, "action:"+msg.Action, func(r interface{}) {
		err = fmt.Errorf("action %s panicked: %v", msg.Action, r)
	})
	return handler(wp.ctx, msg.Args)
}
