package scheduler

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/saraichinwag/data-machine-sub002/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

type runArgs struct {
	FlowID int64 `json:"flow_id"`
}

func newTestScheduler(t *testing.T) *Service {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	q, err := queue.NewBadgerManager(db, "test", time.Minute, 3)
	require.NoError(t, err)

	logger := arbor.NewLogger()
	pool := queue.NewWorkerPool(q, queue.Config{PollInterval: 10 * time.Millisecond, Concurrency: 1}, logger)
	return NewService(q, pool, logger)
}

func TestScheduleOnce_RunsHandler(t *testing.T) {
	s := newTestScheduler(t)
	ctx := context.Background()

	got := make(chan runArgs, 1)
	s.RegisterAction("run_flow", func(ctx context.Context, raw json.RawMessage) error {
		var args runArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return err
		}
		got <- args
		return nil
	})

	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	handle, err := s.ScheduleOnce(ctx, 0, "run_flow", runArgs{FlowID: 9})
	require.NoError(t, err)
	assert.NotEmpty(t, handle)

	select {
	case args := <-got:
		assert.Equal(t, int64(9), args.FlowID)
	case <-time.After(5 * time.Second):
		t.Fatal("action did not run")
	}
}

func TestCancel_RemovesPendingAndRecurring(t *testing.T) {
	s := newTestScheduler(t)
	ctx := context.Background()

	_, err := s.ScheduleOnce(ctx, time.Hour, "run_flow", runArgs{FlowID: 1})
	require.NoError(t, err)
	_, err = s.ScheduleOnce(ctx, time.Hour, "run_flow", runArgs{FlowID: 2})
	require.NoError(t, err)
	require.NoError(t, s.ScheduleRecurring(ctx, "hourly", "run_flow", runArgs{FlowID: 1}))

	require.Len(t, s.RecurringStatuses(), 1)

	require.NoError(t, s.Cancel(ctx, "run_flow", runArgs{FlowID: 1}))

	assert.Empty(t, s.RecurringStatuses())
	pending, err := s.PendingActions(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.JSONEq(t, `{"flow_id":2}`, pending[0].Args)
}

func TestScheduleRecurring_ReplacesInterval(t *testing.T) {
	s := newTestScheduler(t)
	ctx := context.Background()

	require.NoError(t, s.ScheduleRecurring(ctx, "hourly", "run_flow", runArgs{FlowID: 1}))
	require.NoError(t, s.ScheduleRecurring(ctx, "daily", "run_flow", runArgs{FlowID: 1}))

	statuses := s.RecurringStatuses()
	require.Len(t, statuses, 1)
	assert.Equal(t, "daily", statuses[0].Interval)

	assert.Error(t, s.ScheduleRecurring(ctx, "every blue moon", "run_flow", runArgs{FlowID: 2}))
}
