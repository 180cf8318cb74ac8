package enginedata

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/saraichinwag/data-machine-sub002/internal/common"
	"github.com/saraichinwag/data-machine-sub002/internal/models"
	badgerstore "github.com/saraichinwag/data-machine-sub002/internal/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func newTestService(t *testing.T) (*Service, int64) {
	t.Helper()
	logger := arbor.NewLogger()
	manager, err := badgerstore.NewManager(logger, &common.BadgerConfig{Path: filepath.Join(t.TempDir(), "db")})
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })

	job, err := manager.JobStorage().CreateJob(context.Background(), &models.Job{
		FlowRef:     "1",
		PipelineRef: "1",
		EngineData:  models.EngineData{"flow": map[string]interface{}{"name": "digest"}},
	})
	require.NoError(t, err)
	return NewService(manager.JobStorage(), logger), job.ID
}

func TestMerge_PreservesExistingKeys(t *testing.T) {
	service, jobID := newTestService(t)
	ctx := context.Background()

	merged, err := service.Merge(ctx, jobID, models.EngineData{
		models.EngineKeySourceURL: "https://example.com/a",
		"flow":                    map[string]interface{}{"last_step": "fetch_1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/a", merged.String(models.EngineKeySourceURL))

	flow := merged["flow"].(map[string]interface{})
	assert.Equal(t, "digest", flow["name"])
	assert.Equal(t, "fetch_1", flow["last_step"])

	// Mutating the returned copy does not leak into storage
	merged["source_url"] = "mutated"
	stored, err := service.Get(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/a", stored.String(models.EngineKeySourceURL))
}

func TestMerge_TypedValuesAreNormalized(t *testing.T) {
	service, jobID := newTestService(t)
	ctx := context.Background()

	_, err := service.Merge(ctx, jobID, models.EngineData{
		models.EngineKeyQueuedPromptBackup: models.QueuedPromptBackup{Prompt: "p", FlowID: 1, FlowStepID: "ai_1"},
	})
	require.NoError(t, err)

	engine, err := service.Get(ctx, jobID)
	require.NoError(t, err)
	backup, ok := engine.QueuedPromptBackup()
	require.True(t, ok)
	assert.Equal(t, "ai_1", backup.FlowStepID)
}

func TestStatusOverride_SurvivesLaterMerges(t *testing.T) {
	service, jobID := newTestService(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		assert.NoError(t, service.SetStatusOverride(ctx, jobID, "agent_skipped - duplicate"))
	}()
	go func() {
		defer wg.Done()
		_, err := service.Merge(ctx, jobID, models.EngineData{models.EngineKeyImageURL: "https://example.com/i.png"})
		assert.NoError(t, err)
	}()
	wg.Wait()

	_, err := service.Merge(ctx, jobID, models.EngineData{"unrelated": true})
	require.NoError(t, err)

	engine, err := service.Get(ctx, jobID)
	require.NoError(t, err)
	status, ok := engine.StatusOverride()
	require.True(t, ok)
	assert.Equal(t, models.JobStatus("agent_skipped - duplicate"), status)
	assert.Equal(t, "https://example.com/i.png", engine.String(models.EngineKeyImageURL))
}

func TestTake_OnlyOnce(t *testing.T) {
	service, jobID := newTestService(t)
	ctx := context.Background()

	_, err := service.Merge(ctx, jobID, models.EngineData{"claim": "token"})
	require.NoError(t, err)

	value, ok, err := service.Take(ctx, jobID, "claim")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "token", value)

	_, ok, err = service.Take(ctx, jobID, "claim")
	require.NoError(t, err)
	assert.False(t, ok)
}
