package badger

import (
	"context"
	"sync"
	"testing"

	"github.com/saraichinwag/data-machine-sub002/internal/interfaces"
	"github.com/saraichinwag/data-machine-sub002/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func newJob(flowRef string) *models.Job {
	return &models.Job{
		FlowRef:     flowRef,
		PipelineRef: "1",
		Source:      models.JobSourceFlow,
	}
}

func TestJobStorage_CreateAssignsSequentialIDs(t *testing.T) {
	storage := NewJobStorage(newTestDB(t), arbor.NewLogger())
	ctx := context.Background()

	first, err := storage.CreateJob(ctx, newJob("1"))
	require.NoError(t, err)
	second, err := storage.CreateJob(ctx, newJob("1"))
	require.NoError(t, err)

	assert.Equal(t, int64(1), first.ID)
	assert.Equal(t, int64(2), second.ID)
	assert.Equal(t, models.JobStatusPending, first.Status)

	_, err = storage.CreateJob(ctx, &models.Job{})
	assert.Error(t, err)
}

func TestJobStorage_GetMissing(t *testing.T) {
	storage := NewJobStorage(newTestDB(t), arbor.NewLogger())

	_, err := storage.GetJob(context.Background(), 999)
	assert.ErrorIs(t, err, interfaces.ErrJobNotFound)
}

func TestJobStorage_LifecycleTransitionsOnce(t *testing.T) {
	storage := NewJobStorage(newTestDB(t), arbor.NewLogger())
	ctx := context.Background()

	job, err := storage.CreateJob(ctx, newJob("1"))
	require.NoError(t, err)

	// processing -> terminal is rejected while pending
	applied, err := storage.FinishJob(ctx, job.ID, models.JobStatusCompleted)
	require.NoError(t, err)
	assert.False(t, applied)

	applied, err = storage.StartJob(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = storage.StartJob(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, applied, "pending -> processing happens once")

	applied, err = storage.FinishJob(ctx, job.ID, models.NewFailedStatus("step_execution_failed"))
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = storage.FinishJob(ctx, job.ID, models.JobStatusCompleted)
	require.NoError(t, err)
	assert.False(t, applied, "second terminal status is ignored")

	stored, err := storage.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatus("failed - step_execution_failed"), stored.Status)
	assert.Equal(t, models.JobStatusFailed, stored.BaseStatus)
	assert.NotNil(t, stored.CompletedAt)
}

func TestJobStorage_FinishRejectsNonTerminal(t *testing.T) {
	storage := NewJobStorage(newTestDB(t), arbor.NewLogger())

	_, err := storage.FinishJob(context.Background(), 1, models.JobStatusProcessing)
	assert.ErrorIs(t, err, interfaces.ErrInvalidTransition)
}

func TestJobStorage_ForceStatus(t *testing.T) {
	storage := NewJobStorage(newTestDB(t), arbor.NewLogger())
	ctx := context.Background()

	job, err := storage.CreateJob(ctx, newJob("1"))
	require.NoError(t, err)
	_, err = storage.StartJob(ctx, job.ID)
	require.NoError(t, err)
	_, err = storage.FinishJob(ctx, job.ID, models.JobStatusCompleted)
	require.NoError(t, err)

	require.NoError(t, storage.ForceStatus(ctx, job.ID, models.NewFailedStatus("retry")))

	stored, err := storage.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatus("failed - retry"), stored.Status)
}

func TestJobStorage_MergeEngineDataConcurrent(t *testing.T) {
	storage := NewJobStorage(newTestDB(t), arbor.NewLogger())
	ctx := context.Background()

	job, err := storage.CreateJob(ctx, newJob("1"))
	require.NoError(t, err)

	keys := []string{"source_url", "image_url", "a", "b", "c", "d", "e", "f"}
	var wg sync.WaitGroup
	for _, key := range keys {
		wg.Add(1)
		go func(k string) {
			defer wg.Done()
			_, err := storage.MergeEngineData(ctx, job.ID, models.EngineData{k: "value-" + k})
			assert.NoError(t, err)
		}(key)
	}
	wg.Wait()

	stored, err := storage.GetJob(ctx, job.ID)
	require.NoError(t, err)
	for _, key := range keys {
		assert.Equal(t, "value-"+key, stored.EngineData[key], "key %s survived concurrent merges", key)
	}
}

func TestJobStorage_OverrideSurvivesUnrelatedMerge(t *testing.T) {
	storage := NewJobStorage(newTestDB(t), arbor.NewLogger())
	ctx := context.Background()

	job, err := storage.CreateJob(ctx, newJob("1"))
	require.NoError(t, err)

	_, err = storage.MergeEngineData(ctx, job.ID, models.StatusOverridePatch("agent_skipped - not relevant"))
	require.NoError(t, err)
	data, err := storage.MergeEngineData(ctx, job.ID, models.EngineData{"source_url": "https://example.com"})
	require.NoError(t, err)

	status, ok := data.StatusOverride()
	assert.True(t, ok)
	assert.Equal(t, models.JobStatus("agent_skipped - not relevant"), status)
}

func TestJobStorage_ListAndCount(t *testing.T) {
	storage := NewJobStorage(newTestDB(t), arbor.NewLogger())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := storage.CreateJob(ctx, newJob("1"))
		require.NoError(t, err)
	}
	other, err := storage.CreateJob(ctx, newJob("2"))
	require.NoError(t, err)
	_, err = storage.StartJob(ctx, other.ID)
	require.NoError(t, err)

	jobs, err := storage.ListJobs(ctx, &interfaces.JobListOptions{FlowRef: "1"})
	require.NoError(t, err)
	assert.Len(t, jobs, 3)
	assert.Equal(t, int64(3), jobs[0].ID, "newest first")

	jobs, err = storage.ListJobs(ctx, &interfaces.JobListOptions{BaseStatus: models.JobStatusProcessing})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, other.ID, jobs[0].ID)

	jobs, err = storage.ListJobs(ctx, &interfaces.JobListOptions{Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Len(t, jobs, 2)

	count, err := storage.CountJobs(ctx, &interfaces.JobListOptions{BaseStatus: models.JobStatusPending})
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	require.NoError(t, storage.DeleteJob(ctx, other.ID))
	assert.ErrorIs(t, storage.DeleteJob(ctx, other.ID), interfaces.ErrJobNotFound)
}
