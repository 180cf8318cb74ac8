package recovery

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/saraichinwag/data-machine-sub002/internal/common"
	"github.com/saraichinwag/data-machine-sub002/internal/interfaces"
	"github.com/saraichinwag/data-machine-sub002/internal/models"
	"github.com/saraichinwag/data-machine-sub002/internal/services/enginedata"
	"github.com/saraichinwag/data-machine-sub002/internal/services/events"
	"github.com/saraichinwag/data-machine-sub002/internal/services/flows"
	"github.com/saraichinwag/data-machine-sub002/internal/services/packets"
	"github.com/saraichinwag/data-machine-sub002/internal/services/prompts"
	"github.com/saraichinwag/data-machine-sub002/internal/services/scheduler"
	badgerstore "github.com/saraichinwag/data-machine-sub002/internal/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

type fixture struct {
	storage   interfaces.StorageManager
	service   *Service
	prompts   *prompts.Queue
	scheduler *scheduler.InlineScheduler
	flow      *models.Flow
	stepID    string
	now       time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := arbor.NewLogger()

	storage, err := badgerstore.NewManager(logger, &common.BadgerConfig{Path: filepath.Join(t.TempDir(), "db")})
	require.NoError(t, err)
	t.Cleanup(func() { storage.Close() })

	eventService := events.NewService(logger)
	t.Cleanup(func() { eventService.Close() })

	engine := enginedata.NewService(storage.JobStorage(), logger)
	promptQueue := prompts.NewQueue(storage.FlowStorage(), engine, logger)
	inline := scheduler.NewInlineScheduler(logger)
	controller := flows.NewController(storage, engine, packets.NewService(storage.PacketStorage(), logger), promptQueue,
		inline, eventService, flows.NewStepTypeRegistry(), common.EngineConfig{PurgePacketsOnFailure: true}, logger)

	pipeline := &models.Pipeline{Name: "digest", PipelineConfig: models.PipelineConfig{
		"ai": {PipelineStepID: "ai", StepType: models.StepTypeAI},
	}}
	require.NoError(t, storage.PipelineStorage().SavePipeline(ctx, pipeline))
	flow := &models.Flow{PipelineID: pipeline.ID, Name: "digest", FlowConfig: models.BuildFlowConfig(pipeline, 0, nil)}
	require.NoError(t, storage.FlowStorage().SaveFlow(ctx, flow))

	service := NewService(storage.JobStorage(), controller, promptQueue, eventService, common.RecoveryConfig{TimeoutHours: 2}, logger)
	now := time.Now().UTC()
	service.now = func() time.Time { return now }

	return &fixture{
		storage:   storage,
		service:   service,
		prompts:   promptQueue,
		scheduler: inline,
		flow:      flow,
		stepID:    models.FlowStepID("ai", flow.ID),
		now:       now,
	}
}

// createJob stores a job directly in the given status, created age ago
func (f *fixture) createJob(t *testing.T, flowID int64, status models.JobStatus, age time.Duration, engine models.EngineData) *models.Job {
	t.Helper()
	job, err := f.storage.JobStorage().CreateJob(context.Background(), &models.Job{
		FlowRef:     models.FormatRef(flowID),
		PipelineRef: models.FormatRef(f.flow.PipelineID),
		Status:      status,
		CreatedAt:   f.now.Add(-age),
		EngineData:  engine,
	})
	require.NoError(t, err)
	return job
}

func (f *fixture) status(t *testing.T, jobID int64) models.JobStatus {
	t.Helper()
	job, err := f.storage.JobStorage().GetJob(context.Background(), jobID)
	require.NoError(t, err)
	return job.Status
}

func (f *fixture) backup(prompt string) models.EngineData {
	return models.EngineData{
		models.EngineKeyQueuedPromptBackup: map[string]interface{}{
			"prompt":       prompt,
			"flow_id":      f.flow.ID,
			"flow_step_id": f.stepID,
		},
	}
}

func TestRecoverOverrides(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	skipped := f.createJob(t, f.flow.ID, models.JobStatusProcessing, time.Minute,
		models.StatusOverridePatch("agent_skipped - duplicate"))
	invalid := f.createJob(t, f.flow.ID, models.JobStatusProcessing, time.Minute,
		models.StatusOverridePatch("thinking"))
	unmarked := f.createJob(t, f.flow.ID, models.JobStatusProcessing, time.Minute,
		models.EngineData{models.EngineKeyJobStatus: "completed"})

	preview, err := f.service.RecoverOverrides(ctx, Options{DryRun: true})
	require.NoError(t, err)
	require.Len(t, preview, 2)
	byJob := map[int64]JobResult{}
	for _, r := range preview {
		byJob[r.JobID] = r
	}
	assert.Equal(t, ActionWouldApply, byJob[skipped.ID].Action)
	assert.Equal(t, ActionSkipped, byJob[invalid.ID].Action)
	assert.Equal(t, models.JobStatusProcessing, f.status(t, skipped.ID), "dry run changes nothing")

	results, err := f.service.RecoverOverrides(ctx, Options{})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, models.JobStatus("agent_skipped - duplicate"), f.status(t, skipped.ID))
	assert.Equal(t, models.JobStatusProcessing, f.status(t, invalid.ID), "invalid override never changes status")
	assert.Equal(t, models.JobStatusProcessing, f.status(t, unmarked.ID), "job_status without marker is not an override")
}

func TestRecoverTimeouts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	stuck := f.createJob(t, f.flow.ID, models.JobStatusProcessing, 3*time.Hour, f.backup("summarize the week"))
	boundary := f.createJob(t, f.flow.ID, models.JobStatusProcessing, 2*time.Hour, nil)
	young := f.createJob(t, f.flow.ID, models.JobStatusProcessing, time.Hour, nil)
	overridden := f.createJob(t, f.flow.ID, models.JobStatusProcessing, 5*time.Hour,
		models.StatusOverridePatch(models.JobStatusCompleted))
	pending := f.createJob(t, f.flow.ID, models.JobStatusPending, 5*time.Hour, nil)

	preview, err := f.service.RecoverTimeouts(ctx, Options{DryRun: true})
	require.NoError(t, err)
	require.Len(t, preview, 1)
	assert.Equal(t, stuck.ID, preview[0].JobID)
	assert.Equal(t, ActionWouldFail, preview[0].Action)
	assert.True(t, preview[0].PromptBackup)
	assert.Equal(t, models.JobStatusProcessing, f.status(t, stuck.ID))

	for i := 0; i < 2; i++ {
		_, err := f.service.RecoverTimeouts(ctx, Options{})
		require.NoError(t, err)
	}

	assert.Equal(t, models.NewFailedStatus(flows.ReasonJobTimeout), f.status(t, stuck.ID))
	assert.Equal(t, models.JobStatusProcessing, f.status(t, boundary.ID), "timeout is strict")
	assert.Equal(t, models.JobStatusProcessing, f.status(t, young.ID))
	assert.Equal(t, models.JobStatusProcessing, f.status(t, overridden.ID))
	assert.Equal(t, models.JobStatusPending, f.status(t, pending.ID))

	queued, err := f.prompts.List(ctx, f.flow.ID, f.stepID)
	require.NoError(t, err)
	assert.Equal(t, []string{"summarize the week"}, queued, "backup requeued exactly once")
}

func TestRecover_FlowFilterAndTimeoutOverride(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	mine := f.createJob(t, f.flow.ID, models.JobStatusProcessing, 90*time.Minute, nil)
	other := f.createJob(t, f.flow.ID+100, models.JobStatusProcessing, 90*time.Minute, nil)

	report, err := f.service.Recover(ctx, Options{FlowID: f.flow.ID, TimeoutHours: 1})
	require.NoError(t, err)
	assert.Len(t, report.Timeouts, 1)
	assert.Equal(t, 1, report.Changed())

	assert.True(t, f.status(t, mine.ID).IsFailed())
	assert.Equal(t, models.JobStatusProcessing, f.status(t, other.ID))
}

func TestFailJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	processing := f.createJob(t, f.flow.ID, models.JobStatusProcessing, time.Minute, nil)
	require.NoError(t, f.service.FailJob(ctx, processing.ID, ""))
	assert.Equal(t, models.NewFailedStatus(flows.ReasonManual), f.status(t, processing.ID))

	require.NoError(t, f.service.FailJob(ctx, processing.ID, "operator"), "already failed is a no-op")
	assert.Equal(t, models.NewFailedStatus(flows.ReasonManual), f.status(t, processing.ID))

	completed := f.createJob(t, f.flow.ID, models.JobStatusCompleted, time.Minute, nil)
	assert.ErrorIs(t, f.service.FailJob(ctx, completed.ID, ""), interfaces.ErrInvalidTransition)

	assert.ErrorIs(t, f.service.FailJob(ctx, 9999, ""), interfaces.ErrJobNotFound)
}

func TestRetryJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	failed := f.createJob(t, f.flow.ID, models.NewFailedStatus("step_execution_failed"), time.Minute, f.backup("retry me"))
	result, err := f.service.RetryJob(ctx, failed.ID, false)
	require.NoError(t, err)
	assert.True(t, result.PromptRequeued)
	assert.Equal(t, models.NewFailedStatus(flows.ReasonRetry), f.status(t, failed.ID))

	again, err := f.service.RetryJob(ctx, failed.ID, false)
	require.NoError(t, err)
	assert.False(t, again.PromptRequeued, "backup consumed by the first retry")

	queued, err := f.prompts.List(ctx, f.flow.ID, f.stepID)
	require.NoError(t, err)
	assert.Equal(t, []string{"retry me"}, queued)

	completed := f.createJob(t, f.flow.ID, models.JobStatusCompleted, time.Minute, nil)
	_, err = f.service.RetryJob(ctx, completed.ID, false)
	assert.ErrorIs(t, err, interfaces.ErrInvalidTransition)

	forced, err := f.service.RetryJob(ctx, completed.ID, true)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, forced.PreviousStatus)
	assert.Equal(t, models.NewFailedStatus(flows.ReasonRetry), f.status(t, completed.ID))
}

func TestRegisterSchedule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.service.RegisterSchedule(ctx, f.scheduler, "hourly"))
	interval, ok := f.scheduler.Recurring(ActionRecoverStuckJobs, Options{})
	require.True(t, ok)
	assert.Equal(t, "hourly", interval)

	stuck := f.createJob(t, f.flow.ID, models.JobStatusProcessing, 3*time.Hour, nil)
	_, err := f.scheduler.ScheduleOnce(ctx, 0, ActionRecoverStuckJobs, Options{DryRun: false})
	require.NoError(t, err)
	require.NoError(t, f.scheduler.Run(ctx))
	assert.True(t, f.status(t, stuck.ID).IsFailed())
}
