package steps

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/saraichinwag/data-machine-sub002/internal/interfaces"
	"github.com/saraichinwag/data-machine-sub002/internal/models"
	"github.com/saraichinwag/data-machine-sub002/internal/services/chat"
	"github.com/saraichinwag/data-machine-sub002/internal/services/flows"
	"github.com/saraichinwag/data-machine-sub002/internal/services/prompts"
	"github.com/saraichinwag/data-machine-sub002/internal/services/tools"
	"github.com/ternarybob/arbor"
)

// AIStep runs a pipeline agent over the packets produced so far
type AIStep struct {
	loop            *chat.ConversationLoop
	registry        *tools.Registry
	prompts         *prompts.Queue
	defaultMaxTurns int
	logger          arbor.ILogger
}

// NewAIStep creates a new AI step type
func NewAIStep(loop *chat.ConversationLoop, registry *tools.Registry, queue *prompts.Queue, defaultMaxTurns int, logger arbor.ILogger) *AIStep {
	return &AIStep{
		loop:            loop,
		registry:        registry,
		prompts:         queue,
		defaultMaxTurns: defaultMaxTurns,
		logger:          logger,
	}
}

// Execute runs the conversation and returns its tool result packets plus the
// final AI response, newest first, on top of the incoming packets.
func (s *AIStep) Execute(ctx context.Context, request *interfaces.StepRequest) ([]models.DataPacket, error) {
	step, err := stepConfig(request)
	if err != nil {
		return nil, err
	}
	template, _ := request.Engine.PipelineStep(step.PipelineStepID)
	if template == nil {
		template = &models.PipelineStepConfig{PipelineStepID: step.PipelineStepID, StepType: step.StepType}
	}

	userMessage, err := s.userMessage(ctx, request, step)
	if err != nil {
		return nil, err
	}

	messages := buildMessages(template.SystemPrompt, request.Data, userMessage)
	if len(messages) == 0 || messages[len(messages)-1].Role != models.RoleUser {
		return nil, fmt.Errorf("ai step %s has no input: no packets and no user message", request.FlowStepID)
	}

	fc, err := request.Engine.FlowConfig()
	if err != nil {
		return nil, err
	}
	available := s.registry.Discover(tools.DiscoveryContext{
		AgentType: models.AgentTypePipeline,
		Handlers:  adjacentHandlers(fc, request.FlowStepID),
		Allow:     func(name string) bool { return !step.IsToolDisabled(name) },
	})

	maxTurns := template.MaxTurns
	if maxTurns <= 0 {
		maxTurns = s.defaultMaxTurns
	}

	started := time.Now()
	result, err := s.loop.Run(ctx, chat.LoopRequest{
		Messages:  messages,
		Tools:     available,
		Provider:  template.Provider,
		Model:     template.Model,
		AgentType: models.AgentTypePipeline,
		Context: map[string]interface{}{
			tools.ParamJobID:      request.JobID,
			tools.ParamFlowStepID: request.FlowStepID,
		},
		MaxTurns:   maxTurns,
		Packets:    request.Data,
		FlowStepID: request.FlowStepID,
		Engine:     request.Engine,
	})
	if err != nil {
		return nil, fmt.Errorf("conversation failed: %w", err)
	}

	s.logger.Info().
		Int64("job_id", request.JobID).
		Str("flow_step_id", request.FlowStepID).
		Int("turns", result.TurnCount).
		Int("tool_executions", result.ToolExecutions).
		Bool("completed", result.Completed).
		Dur("duration", time.Since(started)).
		Msg("AI step finished")

	outputs := dropSupersededFailures(result.Packets)
	if result.FinalContent != "" {
		title := template.Label
		if title == "" {
			title = "AI Response"
		}
		response := models.NewDataPacket(models.PacketTypeAIResponse, title, result.FinalContent, map[string]interface{}{
			models.PacketMetaFlowStepID: request.FlowStepID,
			"turn_count":                result.TurnCount,
			"completed":                 result.Completed,
			"max_turns_reached":         result.MaxTurnsReached,
		})
		outputs = append([]models.DataPacket{response}, outputs...)
	}
	if len(outputs) == 0 {
		return nil, nil
	}
	return models.PrependPackets(outputs, request.Data), nil
}

// userMessage returns the configured message or, when it is empty, pops the
// head of the step's prompt queue and records it for requeue on failure.
func (s *AIStep) userMessage(ctx context.Context, request *interfaces.StepRequest, step *models.StepConfig) (string, error) {
	if msg := strings.TrimSpace(step.UserMessage); msg != "" {
		return msg, nil
	}
	if s.prompts == nil || step.FlowID <= 0 {
		return "", nil
	}

	prompt, ok, err := s.prompts.Pop(ctx, step.FlowID, request.FlowStepID)
	if err != nil {
		return "", fmt.Errorf("failed to pop prompt queue: %w", err)
	}
	if !ok {
		return "", nil
	}
	if err := s.prompts.RecordBackup(ctx, request.JobID, models.QueuedPromptBackup{
		Prompt:     prompt,
		FlowID:     step.FlowID,
		FlowStepID: request.FlowStepID,
	}); err != nil {
		return "", err
	}

	s.logger.Debug().
		Int64("job_id", request.JobID).
		Str("flow_step_id", request.FlowStepID).
		Msg("Using queued prompt")
	return prompt, nil
}

// buildMessages orders the system prompt, the newest packet content and the
// user message into the opening conversation.
func buildMessages(systemPrompt string, packets []models.DataPacket, userMessage string) []models.ConversationMessage {
	now := time.Now().UTC()
	var messages []models.ConversationMessage
	if strings.TrimSpace(systemPrompt) != "" {
		messages = append(messages, models.ConversationMessage{Role: models.RoleSystem, Content: systemPrompt, CreatedAt: now})
	}

	var parts []string
	if len(packets) > 0 {
		newest := packets[0]
		if newest.Content.Title != "" {
			parts = append(parts, "Title: "+newest.Content.Title)
		}
		if newest.Content.Body != "" {
			parts = append(parts, newest.Content.Body)
		}
		if source, _ := newest.Metadata[models.PacketMetaSourceURL].(string); source != "" {
			parts = append(parts, "Source: "+source)
		}
	}
	if userMessage != "" {
		parts = append(parts, userMessage)
	}
	if len(parts) > 0 {
		messages = append(messages, models.ConversationMessage{Role: models.RoleUser, Content: strings.Join(parts, "\n\n"), CreatedAt: now})
	}
	return messages
}

// adjacentHandlers returns the handler slugs and configs of the steps
// immediately before and after flowStepID.
func adjacentHandlers(fc models.FlowConfig, flowStepID string) map[string]map[string]interface{} {
	handlers := make(map[string]map[string]interface{})
	for _, find := range []func(models.FlowConfig, string) (string, bool){flows.PreviousStep, flows.NextStep} {
		id, ok := find(fc, flowStepID)
		if !ok {
			continue
		}
		if step := fc[id]; step != nil && step.HandlerSlug != "" {
			handlers[step.HandlerSlug] = step.HandlerConfig
		}
	}
	return handlers
}

// dropSupersededFailures removes failed handler tool attempts for any handler
// that also has a successful call, whether the success came before or after.
func dropSupersededFailures(packets []models.DataPacket) []models.DataPacket {
	succeeded := make(map[string]bool)
	for _, packet := range packets {
		if handler := packet.MetaString(models.PacketMetaHandlerTool); handler != "" && !packet.IsFailure() {
			succeeded[handler] = true
		}
	}
	kept := make([]models.DataPacket, 0, len(packets))
	for _, packet := range packets {
		if packet.IsFailure() && succeeded[packet.MetaString(models.PacketMetaHandlerTool)] {
			continue
		}
		kept = append(kept, packet)
	}
	return kept
}
