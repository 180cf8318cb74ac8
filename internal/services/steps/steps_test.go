package steps

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/saraichinwag/data-machine-sub002/internal/common"
	"github.com/saraichinwag/data-machine-sub002/internal/interfaces"
	"github.com/saraichinwag/data-machine-sub002/internal/models"
	"github.com/saraichinwag/data-machine-sub002/internal/services/chat"
	"github.com/saraichinwag/data-machine-sub002/internal/services/enginedata"
	"github.com/saraichinwag/data-machine-sub002/internal/services/prompts"
	"github.com/saraichinwag/data-machine-sub002/internal/services/tools"
	badgerstore "github.com/saraichinwag/data-machine-sub002/internal/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

type scriptedProvider struct {
	mu        sync.Mutex
	responses []*interfaces.CompletionResponse
	requests  []*interfaces.CompletionRequest
}

func (p *scriptedProvider) Complete(ctx context.Context, request *interfaces.CompletionRequest) (*interfaces.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, request)
	if len(p.responses) == 0 {
		return nil, errors.New("script exhausted")
	}
	next := p.responses[0]
	p.responses = p.responses[1:]
	return next, nil
}

type harness struct {
	manager  interfaces.StorageManager
	engine   *enginedata.Service
	queue    *prompts.Queue
	registry *tools.Registry
	provider *scriptedProvider
	logger   arbor.ILogger
}

func newHarness(t *testing.T) *harness {
	logger := arbor.NewLogger()
	manager, err := badgerstore.NewManager(logger, &common.BadgerConfig{Path: filepath.Join(t.TempDir(), "db")})
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })

	engine := enginedata.NewService(manager.JobStorage(), logger)
	h := &harness{
		manager:  manager,
		engine:   engine,
		queue:    prompts.NewQueue(manager.FlowStorage(), engine, logger),
		registry: tools.NewRegistry(),
		provider: &scriptedProvider{},
		logger:   logger,
	}
	require.NoError(t, h.registry.RegisterImplementation("test", "publish", func(ctx context.Context, params map[string]interface{}, d *models.ToolDefinition) (*models.ToolResult, error) {
		if params["content"] == "" {
			return tools.Failure(d.Name, "content is required"), nil
		}
		return tools.Success(d.Name, map[string]interface{}{"path": "posts/out.md"}), nil
	}))
	require.NoError(t, h.registry.RegisterHandlerTool(models.ToolDefinition{
		Name: "publish_markdown", ClassRef: "test", Method: "publish", Handler: "markdown_file",
		Parameters: map[string]models.ToolParameter{"content": {Type: "string", Required: true}},
	}))
	return h
}

// saveFlow stores a fetch -> ai -> publish flow and a processing job snapshotting it
func (h *harness) saveFlow(t *testing.T, fetchConfig map[string]interface{}, userMessage string, queue []string) (*models.Flow, *models.Job) {
	ctx := context.Background()
	flow := &models.Flow{Name: "news", FlowConfig: models.FlowConfig{
		"fetch":   {PipelineStepID: "fetch", StepType: models.StepTypeFetch, ExecutionOrder: 0, HandlerSlug: HandlerStatic, HandlerConfig: fetchConfig},
		"ai":      {PipelineStepID: "ai", StepType: models.StepTypeAI, ExecutionOrder: 1, UserMessage: userMessage, PromptQueue: queue},
		"publish": {PipelineStepID: "publish", StepType: models.StepTypePublish, ExecutionOrder: 2, HandlerSlug: "markdown_file", HandlerConfig: map[string]interface{}{"directory": "posts"}},
	}}
	require.NoError(t, h.manager.FlowStorage().SaveFlow(ctx, flow))

	pipeline := models.PipelineConfig{
		"ai": {PipelineStepID: "ai", StepType: models.StepTypeAI, ExecutionOrder: 1, SystemPrompt: "You write short posts.", Label: "Writer"},
	}
	job, err := h.manager.JobStorage().CreateJob(ctx, &models.Job{
		FlowRef:     "1",
		PipelineRef: "1",
		EngineData: models.EngineData{
			models.EngineKeyFlowConfig:     flow.FlowConfig,
			models.EngineKeyPipelineConfig: pipeline,
		},
	})
	require.NoError(t, err)
	return flow, job
}

func (h *harness) request(t *testing.T, job *models.Job, flowStepID string, data []models.DataPacket) *interfaces.StepRequest {
	engine, err := h.engine.Get(context.Background(), job.ID)
	require.NoError(t, err)
	return &interfaces.StepRequest{JobID: job.ID, FlowStepID: flowStepID, Data: data, Engine: engine}
}

func (h *harness) aiStep() *AIStep {
	executor := tools.NewExecutor(h.registry, h.logger)
	loop := chat.NewConversationLoop(h.provider, executor, h.logger)
	return NewAIStep(loop, h.registry, h.queue, 4, h.logger)
}

func TestFetchStep_StaticItemsAreFetchedOnce(t *testing.T) {
	h := newHarness(t)
	flow, job := h.saveFlow(t, map[string]interface{}{
		"items": []interface{}{
			map[string]interface{}{"id": "a", "title": "First", "body": "alpha", "source_url": "https://example.com/a"},
			map[string]interface{}{"id": "b", "title": "Second", "body": "beta"},
		},
	}, "", nil)
	fetchID := models.FlowStepID("fetch", flow.ID)
	step := NewFetchStep(h.manager.ProcessedItemStorage(), h.engine, h.logger)
	step.RegisterHandler(HandlerStatic, StaticHandler{})
	ctx := context.Background()

	output, err := step.Execute(ctx, h.request(t, job, fetchID, nil))
	require.NoError(t, err)
	require.Len(t, output, 1)
	assert.Equal(t, models.PacketTypeFetch, output[0].Type)
	assert.Equal(t, "alpha", output[0].Content.Body)
	assert.Equal(t, "a", output[0].Metadata["item_id"])

	engine, err := h.engine.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/a", engine.String(models.EngineKeySourceURL))

	seen, err := h.manager.ProcessedItemStorage().HasProcessed(ctx, fetchID, HandlerStatic, "a")
	require.NoError(t, err)
	assert.True(t, seen)

	output, err = step.Execute(ctx, h.request(t, job, fetchID, nil))
	require.NoError(t, err)
	require.Len(t, output, 1)
	assert.Equal(t, "beta", output[0].Content.Body)

	output, err = step.Execute(ctx, h.request(t, job, fetchID, nil))
	require.NoError(t, err)
	assert.Empty(t, output)
}

func TestFetchStep_UnknownHandler(t *testing.T) {
	h := newHarness(t)
	flow, job := h.saveFlow(t, nil, "", nil)
	step := NewFetchStep(h.manager.ProcessedItemStorage(), h.engine, h.logger)

	_, err := step.Execute(context.Background(), h.request(t, job, models.FlowStepID("fetch", flow.ID), nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown fetch handler")
}

func TestAIStep_CompletesThroughHandlerTool(t *testing.T) {
	h := newHarness(t)
	flow, job := h.saveFlow(t, nil, "Summarize this.", nil)
	h.provider.responses = []*interfaces.CompletionResponse{
		{ToolCalls: []models.ToolCall{{ID: "c1", Name: "publish_markdown", Parameters: map[string]interface{}{"content": ""}}}},
		{ToolCalls: []models.ToolCall{{ID: "c2", Name: "publish_markdown", Parameters: map[string]interface{}{"content": "# Post"}}}},
	}
	fetched := []models.DataPacket{models.NewDataPacket(models.PacketTypeFetch, "Story", "story body", nil)}

	output, err := h.aiStep().Execute(context.Background(), h.request(t, job, models.FlowStepID("ai", flow.ID), fetched))
	require.NoError(t, err)

	require.Len(t, h.provider.requests, 2)
	first := h.provider.requests[0]
	assert.Len(t, first.Tools, 1, "only the adjacent handler tool is offered")
	assert.Equal(t, "publish_markdown", first.Tools[0].Name)
	var userContent string
	for _, msg := range first.Messages {
		if msg.Role == models.RoleUser {
			userContent = msg.Content
		}
	}
	assert.Contains(t, userContent, "story body")
	assert.Contains(t, userContent, "Summarize this.")

	require.Len(t, output, 2, "superseded failure is dropped")
	assert.Equal(t, models.PacketTypeAIHandler, output[0].Type)
	assert.False(t, output[0].IsFailure())
	assert.Equal(t, models.PacketTypeFetch, output[1].Type)

	publish := NewHandlerResultStep(models.PacketTypePublish, h.logger)
	published, err := publish.Execute(context.Background(), h.request(t, job, models.FlowStepID("publish", flow.ID), output))
	require.NoError(t, err)
	require.Len(t, published, 3)
	assert.Equal(t, models.PacketTypePublish, published[0].Type)
	assert.Equal(t, "publish_markdown", published[0].Metadata[models.PacketMetaToolName])
}

func TestAIStep_PopsPromptQueue(t *testing.T) {
	h := newHarness(t)
	flow, job := h.saveFlow(t, nil, "", []string{"write about otters", "write about seals"})
	aiID := models.FlowStepID("ai", flow.ID)
	h.provider.responses = []*interfaces.CompletionResponse{{Content: "Otters are great."}}
	ctx := context.Background()

	output, err := h.aiStep().Execute(ctx, h.request(t, job, aiID, nil))
	require.NoError(t, err)
	require.Len(t, output, 1)
	assert.Equal(t, models.PacketTypeAIResponse, output[0].Type)
	assert.Equal(t, "Writer", output[0].Content.Title)
	assert.Equal(t, "Otters are great.", output[0].Content.Body)

	remaining, err := h.queue.List(ctx, flow.ID, aiID)
	require.NoError(t, err)
	assert.Equal(t, []string{"write about seals"}, remaining)

	engine, err := h.engine.Get(ctx, job.ID)
	require.NoError(t, err)
	backup, ok := engine.QueuedPromptBackup()
	require.True(t, ok)
	assert.Equal(t, "write about otters", backup.Prompt)
	assert.Equal(t, aiID, backup.FlowStepID)
}

func TestAIStep_NoInput(t *testing.T) {
	h := newHarness(t)
	flow, job := h.saveFlow(t, nil, "", nil)

	_, err := h.aiStep().Execute(context.Background(), h.request(t, job, models.FlowStepID("ai", flow.ID), nil))
	require.Error(t, err)
	assert.Empty(t, h.provider.requests)
}

func TestHandlerResultStep_MissingOrFailedResult(t *testing.T) {
	h := newHarness(t)
	flow, job := h.saveFlow(t, nil, "", nil)
	publishID := models.FlowStepID("publish", flow.ID)
	step := NewHandlerResultStep(models.PacketTypePublish, h.logger)

	output, err := step.Execute(context.Background(), h.request(t, job, publishID, nil))
	require.NoError(t, err)
	assert.Empty(t, output)

	failed := tools.ResultPacket(&models.ToolDefinition{Name: "publish_markdown", Handler: "markdown_file"}, "c1", "", nil, tools.Failure("publish_markdown", "disk full"))
	output, err = step.Execute(context.Background(), h.request(t, job, publishID, []models.DataPacket{failed}))
	require.NoError(t, err)
	assert.Empty(t, output)
}

func TestAdjacentHandlers(t *testing.T) {
	fc := models.FlowConfig{
		"fetch_1":   {FlowStepID: "fetch_1", ExecutionOrder: 0, HandlerSlug: "web_page"},
		"ai_1":      {FlowStepID: "ai_1", ExecutionOrder: 1},
		"publish_1": {FlowStepID: "publish_1", ExecutionOrder: 2, HandlerSlug: "markdown_file", HandlerConfig: map[string]interface{}{"directory": "out"}},
	}

	handlers := adjacentHandlers(fc, "ai_1")
	assert.Len(t, handlers, 2)
	assert.Equal(t, "out", handlers["markdown_file"]["directory"])
	assert.Contains(t, handlers, "web_page")

	assert.Len(t, adjacentHandlers(fc, "fetch_1"), 0, "ai step has no handler")
}

func TestAIStep_LaterFailureDoesNotHideSuccess(t *testing.T) {
	h := newHarness(t)
	flow, job := h.saveFlow(t, nil, "Summarize this.", nil)
	h.provider.responses = []*interfaces.CompletionResponse{
		{ToolCalls: []models.ToolCall{
			{ID: "c1", Name: "publish_markdown", Parameters: map[string]interface{}{"content": "# Post"}},
			{ID: "c2", Name: "publish_markdown", Parameters: map[string]interface{}{"content": ""}},
		}},
	}
	fetched := []models.DataPacket{models.NewDataPacket(models.PacketTypeFetch, "Story", "story body", nil)}

	output, err := h.aiStep().Execute(context.Background(), h.request(t, job, models.FlowStepID("ai", flow.ID), fetched))
	require.NoError(t, err)
	require.Len(t, h.provider.requests, 1)

	require.Len(t, output, 2)
	assert.Equal(t, models.PacketTypeAIHandler, output[0].Type)
	assert.False(t, output[0].IsFailure())
	assert.Equal(t, "c1", output[0].Metadata[models.PacketMetaToolCallID])
	assert.Equal(t, models.PacketTypeFetch, output[1].Type)

	published, err := NewHandlerResultStep(models.PacketTypePublish, h.logger).Execute(context.Background(), h.request(t, job, models.FlowStepID("publish", flow.ID), output))
	require.NoError(t, err)
	assert.Equal(t, models.PacketTypePublish, published[0].Type)
}
