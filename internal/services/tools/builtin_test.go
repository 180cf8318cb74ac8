package tools

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/saraichinwag/data-machine-sub002/internal/common"
	"github.com/saraichinwag/data-machine-sub002/internal/models"
	"github.com/saraichinwag/data-machine-sub002/internal/services/enginedata"
	"github.com/saraichinwag/data-machine-sub002/internal/services/prompts"
	"github.com/saraichinwag/data-machine-sub002/internal/services/publish"
	badgerstore "github.com/saraichinwag/data-machine-sub002/internal/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

type mockEngine struct {
	mock.Mock
}

func (m *mockEngine) Get(ctx context.Context, jobID int64) (models.EngineData, error) {
	args := m.Called(ctx, jobID)
	return args.Get(0).(models.EngineData), args.Error(1)
}

func (m *mockEngine) Merge(ctx context.Context, jobID int64, patch models.EngineData) (models.EngineData, error) {
	args := m.Called(ctx, jobID, patch)
	return args.Get(0).(models.EngineData), args.Error(1)
}

func (m *mockEngine) SetStatusOverride(ctx context.Context, jobID int64, status models.JobStatus) error {
	return m.Called(ctx, jobID, status).Error(0)
}

func (m *mockEngine) Take(ctx context.Context, jobID int64, key string) (interface{}, bool, error) {
	args := m.Called(ctx, jobID, key)
	return args.Get(0), args.Bool(1), args.Error(2)
}

func TestSkipItem(t *testing.T) {
	engine := &mockEngine{}
	engine.On("SetStatusOverride", mock.Anything, int64(12), models.JobStatus("agent_skipped - duplicate story")).Return(nil).Once()

	registry := NewRegistry()
	require.NoError(t, RegisterBuiltins(registry, Dependencies{Engine: engine}))
	executor := NewExecutor(registry, arbor.NewLogger())
	available := registry.Discover(DiscoveryContext{AgentType: models.AgentTypePipeline})
	require.Contains(t, available, ToolSkipItem)

	result := executor.Execute(context.Background(), ExecuteRequest{
		Name:      ToolSkipItem,
		Available: available,
		Context:   map[string]interface{}{ParamJobID: int64(12)},
		Params:    map[string]interface{}{"reason": "duplicate story"},
	})
	require.True(t, result.Success, result.Error)

	noJob := executor.Execute(context.Background(), ExecuteRequest{
		Name:      ToolSkipItem,
		Available: available,
		Params:    map[string]interface{}{"reason": "duplicate story"},
	})
	assert.False(t, noJob.Success)

	engine.AssertExpectations(t)
}

func TestMarkdownTools(t *testing.T) {
	outputDir := t.TempDir()
	publisher := publish.NewMarkdownPublisher(common.PublishConfig{OutputDir: outputDir}, arbor.NewLogger())

	registry := NewRegistry()
	require.NoError(t, RegisterBuiltins(registry, Dependencies{Publisher: publisher}))
	executor := NewExecutor(registry, arbor.NewLogger())

	available := registry.Discover(DiscoveryContext{
		AgentType: models.AgentTypePipeline,
		Handlers: map[string]map[string]interface{}{
			HandlerMarkdownFile:       {"directory": "posts"},
			HandlerMarkdownFileUpdate: nil,
		},
	})
	require.Contains(t, available, ToolMarkdownPublish)
	require.Contains(t, available, ToolMarkdownUpdate)

	published := executor.Execute(context.Background(), ExecuteRequest{
		Name:      ToolMarkdownPublish,
		Available: available,
		Packets:   []models.DataPacket{models.NewDataPacket(models.PacketTypeFetch, "Source", "fetched body", nil)},
		Engine:    models.EngineData{models.EngineKeySourceURL: "https://example.com/story"},
		Params:    map[string]interface{}{ParamTitle: "Hello World", ParamContent: "Rewritten body."},
	})
	require.True(t, published.Success, published.Error)

	data := published.Data.(map[string]interface{})
	path := data["path"].(string)
	assert.Equal(t, filepath.Join(outputDir, "posts", "hello-world.md"), path)

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(body), "Rewritten body.")
	assert.Contains(t, string(body), "https://example.com/story")

	updated := executor.Execute(context.Background(), ExecuteRequest{
		Name:      ToolMarkdownUpdate,
		Available: available,
		Params: map[string]interface{}{
			"path":       filepath.Join("posts", "hello-world.md"),
			ParamTitle:   "Hello World",
			ParamContent: "Second revision.",
		},
	})
	require.True(t, updated.Success, updated.Error)

	body, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(body), "Second revision.")

	missing := executor.Execute(context.Background(), ExecuteRequest{
		Name:      ToolMarkdownUpdate,
		Available: available,
		Params:    map[string]interface{}{ParamContent: "x", ParamTitle: "y"},
	})
	assert.False(t, missing.Success)
	assert.Equal(t, "path is required", missing.Error)
}

func TestQueuePrompt(t *testing.T) {
	logger := arbor.NewLogger()
	manager, err := badgerstore.NewManager(logger, &common.BadgerConfig{Path: filepath.Join(t.TempDir(), "db")})
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })

	flow := &models.Flow{Name: "queue", FlowConfig: models.FlowConfig{
		"ai_1": {PipelineStepID: "ai", StepType: models.StepTypeAI},
	}}
	require.NoError(t, manager.FlowStorage().SaveFlow(context.Background(), flow))
	stepID := models.FlowStepID("ai", flow.ID)

	queue := prompts.NewQueue(manager.FlowStorage(), enginedata.NewService(manager.JobStorage(), logger), logger)
	registry := NewRegistry()
	require.NoError(t, RegisterBuiltins(registry, Dependencies{Prompts: queue, Flows: manager.FlowStorage()}))
	executor := NewExecutor(registry, logger)

	available := registry.Discover(DiscoveryContext{AgentType: models.AgentTypeChat})
	assert.Contains(t, available, ToolListFlows)
	assert.NotContains(t, available, ToolRunFlow, "no runner configured")

	result := executor.Execute(context.Background(), ExecuteRequest{
		Name:      ToolQueuePrompt,
		Available: available,
		Params:    map[string]interface{}{"flow_id": float64(flow.ID), "flow_step_id": stepID, "prompt": "write about badgers"},
	})
	require.True(t, result.Success, result.Error)
	assert.Equal(t, 1, result.Data.(map[string]interface{})["queue_length"])

	queued, err := queue.List(context.Background(), flow.ID, stepID)
	require.NoError(t, err)
	assert.Equal(t, []string{"write about badgers"}, queued)

	listed := executor.Execute(context.Background(), ExecuteRequest{Name: ToolListFlows, Available: available})
	require.True(t, listed.Success)
	assert.Len(t, listed.Data, 1)

	pipelineTools := registry.Discover(DiscoveryContext{AgentType: models.AgentTypePipeline})
	assert.NotContains(t, pipelineTools, ToolListFlows)
}
