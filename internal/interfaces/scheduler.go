package interfaces

import (
	"context"
	"encoding/json"
	"time"
)

// ActionHandler executes a scheduled action with its JSON arguments
type ActionHandler func(ctx context.Context, args json.RawMessage) error

// TaskScheduler delivers actions at least once, durable across restarts.
// No ordering is guaranteed across distinct jobs.
type TaskScheduler interface {
	// RegisterAction binds an action name to its handler
	RegisterAction(action string, handler ActionHandler)

	// ScheduleOnce enqueues action to run after delay and returns a handle
	ScheduleOnce(ctx context.Context, delay time.Duration, action string, args interface{}) (string, error)

	// ScheduleRecurring runs action on a named interval or cron expression
	ScheduleRecurring(ctx context.Context, interval string, action string, args interface{}) error

	// Cancel removes recurring and pending one-time triggers for action+args
	Cancel(ctx context.Context, action string, args interface{}) error
}
