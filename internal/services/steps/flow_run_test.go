package steps

import (
	"context"
	"sync"
	"testing"

	"github.com/saraichinwag/data-machine-sub002/internal/common"
	"github.com/saraichinwag/data-machine-sub002/internal/interfaces"
	"github.com/saraichinwag/data-machine-sub002/internal/models"
	"github.com/saraichinwag/data-machine-sub002/internal/services/chat"
	"github.com/saraichinwag/data-machine-sub002/internal/services/events"
	"github.com/saraichinwag/data-machine-sub002/internal/services/flows"
	"github.com/saraichinwag/data-machine-sub002/internal/services/packets"
	"github.com/saraichinwag/data-machine-sub002/internal/services/scheduler"
	"github.com/saraichinwag/data-machine-sub002/internal/services/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stepRecorder keeps the output of every step the controller executes
type stepRecorder struct {
	mu      sync.Mutex
	order   []string
	outputs map[string][]models.DataPacket
}

func (r *stepRecorder) wrap(stepType interfaces.StepType) interfaces.StepType {
	return interfaces.StepTypeFunc(func(ctx context.Context, req *interfaces.StepRequest) ([]models.DataPacket, error) {
		output, err := stepType.Execute(ctx, req)
		r.mu.Lock()
		defer r.mu.Unlock()
		r.order = append(r.order, req.FlowStepID)
		r.outputs[req.FlowStepID] = output
		return output, err
	})
}

func TestController_FetchAIPublishRunCompletes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	builtins := flows.NewStepTypeRegistry()
	require.NoError(t, RegisterBuiltins(builtins, Dependencies{
		Processed:       h.manager.ProcessedItemStorage(),
		Engine:          h.engine,
		Prompts:         h.queue,
		Loop:            chat.NewConversationLoop(h.provider, tools.NewExecutor(h.registry, h.logger), h.logger),
		Tools:           h.registry,
		DefaultMaxTurns: 4,
		Logger:          h.logger,
	}))
	recorder := &stepRecorder{outputs: make(map[string][]models.DataPacket)}
	registry := flows.NewStepTypeRegistry()
	for _, name := range builtins.Names() {
		stepType, err := builtins.Resolve(name)
		require.NoError(t, err)
		require.NoError(t, registry.Register(name, recorder.wrap(stepType)))
	}

	eventService := events.NewService(h.logger)
	t.Cleanup(func() { eventService.Close() })
	inline := scheduler.NewInlineScheduler(h.logger)
	controller := flows.NewController(h.manager, h.engine, packets.NewService(h.manager.PacketStorage(), h.logger),
		h.queue, inline, eventService, registry, common.EngineConfig{}, h.logger)
	controller.RegisterActions()

	pipeline := &models.Pipeline{Name: "digest", PipelineConfig: models.PipelineConfig{
		"fetch":   {PipelineStepID: "fetch", StepType: models.StepTypeFetch, ExecutionOrder: 0},
		"ai":      {PipelineStepID: "ai", StepType: models.StepTypeAI, ExecutionOrder: 1, SystemPrompt: "You write short posts."},
		"publish": {PipelineStepID: "publish", StepType: models.StepTypePublish, ExecutionOrder: 2},
	}}
	require.NoError(t, h.manager.PipelineStorage().SavePipeline(ctx, pipeline))
	flow := &models.Flow{PipelineID: pipeline.ID, Name: "digest", FlowConfig: models.BuildFlowConfig(pipeline, 0, map[string]*models.StepConfig{
		"fetch": {HandlerSlug: HandlerStatic, HandlerConfig: map[string]interface{}{
			"items": []interface{}{map[string]interface{}{"id": "a", "title": "First", "body": "alpha"}},
		}},
		"ai":      {UserMessage: "Summarize this."},
		"publish": {HandlerSlug: "markdown_file", HandlerConfig: map[string]interface{}{"directory": "posts"}},
	})}
	require.NoError(t, h.manager.FlowStorage().SaveFlow(ctx, flow))
	fetchID := models.FlowStepID("fetch", flow.ID)
	aiID := models.FlowStepID("ai", flow.ID)
	publishID := models.FlowStepID("publish", flow.ID)

	h.provider.responses = []*interfaces.CompletionResponse{
		{ToolCalls: []models.ToolCall{{ID: "c1", Name: "publish_markdown", Parameters: map[string]interface{}{"content": "# First"}}}},
	}

	job, err := controller.RunNow(ctx, flow.ID, "")
	require.NoError(t, err)
	require.NoError(t, inline.Run(ctx))

	final, err := h.manager.JobStorage().GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, final.Status)
	assert.Equal(t, []string{fetchID, aiID, publishID}, recorder.order)
	require.Len(t, h.provider.requests, 1)

	history := recorder.outputs[publishID]
	require.Len(t, history, 3)
	assert.Equal(t, models.PacketTypePublish, history[0].Type)
	assert.Equal(t, "publish_markdown", history[0].Metadata[models.PacketMetaToolName])
	assert.Equal(t, models.PacketTypeAIHandler, history[1].Type)
	assert.False(t, history[1].IsFailure())
	assert.Equal(t, models.PacketTypeFetch, history[2].Type)
	assert.Equal(t, "alpha", history[2].Content.Body)

	seen, err := h.manager.ProcessedItemStorage().HasProcessed(ctx, fetchID, HandlerStatic, "a")
	require.NoError(t, err)
	assert.True(t, seen)
}
