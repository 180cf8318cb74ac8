package chat

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/saraichinwag/data-machine-sub002/internal/interfaces"
	"github.com/saraichinwag/data-machine-sub002/internal/models"
	"github.com/saraichinwag/data-machine-sub002/internal/services/tools"
	"github.com/ternarybob/arbor"
)

// DefaultMaxTurns applies when a request does not set MaxTurns
const DefaultMaxTurns = 12

// LoopRequest is the state handed to one run of the conversation loop
type LoopRequest struct {
	Messages  []models.ConversationMessage
	Tools     map[string]models.ToolDefinition
	Provider  string
	Model     string
	AgentType models.AgentType

	// Context carries job or session identifiers into tool parameters
	Context map[string]interface{}

	MaxTurns   int
	SingleTurn bool

	// Resumption state from a previous run
	TurnCount int
	Completed bool

	// Pipeline agents only
	Packets    []models.DataPacket
	FlowStepID string
	Engine     models.EngineData
}

// LoopResult is the updated conversation state
type LoopResult struct {
	Messages        []models.ConversationMessage
	Packets         []models.DataPacket // tool result packets, newest first
	FinalContent    string
	TurnCount       int
	Completed       bool
	MaxTurnsReached bool
	ToolExecutions  int
}

// ConversationLoop runs multi-turn AI conversations with tool execution
type ConversationLoop struct {
	provider interfaces.AIProvider
	executor *tools.Executor
	logger   arbor.ILogger
}

// NewConversationLoop creates a new conversation loop
func NewConversationLoop(provider interfaces.AIProvider, executor *tools.Executor, logger arbor.ILogger) *ConversationLoop {
	return &ConversationLoop{
		provider: provider,
		executor: executor,
		logger:   logger,
	}
}

// Run advances the conversation until the provider stops requesting tools,
// the turn limit is hit or, with SingleTurn, after one turn. Messages are
// append-only and a tool call is never answered twice.
func (l *ConversationLoop) Run(ctx context.Context, req LoopRequest) (*LoopResult, error) {
	result := &LoopResult{
		Messages:  append([]models.ConversationMessage(nil), req.Messages...),
		TurnCount: req.TurnCount,
		Completed: req.Completed,
	}
	if req.Completed {
		return result, nil
	}

	maxTurns := req.MaxTurns
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	startTime := time.Now()

	// A previous run may have stopped between the provider answer and the tool results
	if pending := pendingToolCalls(result.Messages); len(pending) > 0 {
		l.logger.Debug().Int("pending", len(pending)).Msg("Resuming unanswered tool calls")
		if done := l.executeCalls(ctx, req, pending, result); done {
			return result, nil
		}
	}

	for {
		if result.TurnCount >= maxTurns {
			result.MaxTurnsReached = true
			l.logger.Warn().
				Str("agent_type", string(req.AgentType)).
				Int("turns", result.TurnCount).
				Int("max_turns", maxTurns).
				Msg("Conversation reached max turns without completing")
			return result, nil
		}

		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		messages := append(directiveMessages(req.AgentType, req.Tools), result.Messages...)
		response, err := l.provider.Complete(ctx, &interfaces.CompletionRequest{
			Messages: messages,
			Tools:    sortedTools(req.Tools),
			Provider: req.Provider,
			Model:    req.Model,
		})
		if err != nil {
			return result, fmt.Errorf("provider call failed on turn %d: %w", result.TurnCount+1, err)
		}
		result.TurnCount++

		result.Messages = append(result.Messages, models.ConversationMessage{
			Role:      models.RoleAssistant,
			Content:   response.Content,
			ToolCalls: response.ToolCalls,
			CreatedAt: time.Now().UTC(),
		})
		if response.Content != "" {
			result.FinalContent = response.Content
		}

		if len(response.ToolCalls) == 0 {
			result.Completed = true
			l.logger.Debug().
				Str("agent_type", string(req.AgentType)).
				Int("turns", result.TurnCount).
				Int("tool_executions", result.ToolExecutions).
				Dur("duration", time.Since(startTime)).
				Msg("Conversation complete")
			return result, nil
		}

		if done := l.executeCalls(ctx, req, response.ToolCalls, result); done {
			return result, nil
		}
		if req.SingleTurn {
			return result, nil
		}
	}
}

// AnswerPending executes tool calls left unanswered by an interrupted run and
// returns the messages with their results appended. The provider is not called.
func (l *ConversationLoop) AnswerPending(ctx context.Context, req LoopRequest) []models.ConversationMessage {
	result := &LoopResult{Messages: append([]models.ConversationMessage(nil), req.Messages...)}
	if pending := pendingToolCalls(result.Messages); len(pending) > 0 {
		l.logger.Debug().Int("pending", len(pending)).Msg("Answering tool calls before new input")
		l.executeCalls(ctx, req, pending, result)
	}
	return result.Messages
}

// executeCalls runs tool calls in order and records their results. It reports
// true when a pipeline agent has completed its handler tool; a failed handler
// call later in the same turn does not undo that.
func (l *ConversationLoop) executeCalls(ctx context.Context, req LoopRequest, calls []models.ToolCall, result *LoopResult) bool {
	answered := answeredCalls(result.Messages)
	handlerDone := false

	for _, call := range calls {
		if answered[call.ID] {
			continue
		}
		answered[call.ID] = true

		l.logger.Debug().
			Str("tool", call.Name).
			Str("tool_call_id", call.ID).
			Msg("Agent requested tool use")

		toolResult := l.executor.Execute(ctx, tools.ExecuteRequest{
			Name:       call.Name,
			Params:     call.Parameters,
			Available:  req.Tools,
			Packets:    req.Packets,
			FlowStepID: req.FlowStepID,
			Context:    req.Context,
			Engine:     req.Engine,
		})
		result.ToolExecutions++

		definition, ok := req.Tools[call.Name]
		if !ok {
			definition = models.ToolDefinition{Name: call.Name}
		}
		result.Packets = append([]models.DataPacket{
			tools.ResultPacket(&definition, call.ID, req.FlowStepID, call.Parameters, toolResult),
		}, result.Packets...)

		result.Messages = append(result.Messages, models.ConversationMessage{
			Role:       models.RoleTool,
			Content:    tools.ResultContent(toolResult),
			ToolCallID: call.ID,
			ToolName:   call.Name,
			Metadata:   map[string]interface{}{models.PacketMetaSuccess: toolResult.Success},
			CreatedAt:  time.Now().UTC(),
		})

		if req.AgentType == models.AgentTypePipeline && definition.Handler != "" && toolResult.Success {
			handlerDone = true
		}
	}

	if handlerDone {
		result.Completed = true
		l.logger.Debug().Int("turns", result.TurnCount).Msg("Pipeline agent completed via handler tool")
	}
	return handlerDone
}

// answeredCalls returns the ids of tool calls that already have a result
func answeredCalls(messages []models.ConversationMessage) map[string]bool {
	answered := make(map[string]bool)
	for _, msg := range messages {
		if msg.Role == models.RoleTool && msg.ToolCallID != "" {
			answered[msg.ToolCallID] = true
		}
	}
	return answered
}

// pendingToolCalls returns calls of the last assistant message that have no result
func pendingToolCalls(messages []models.ConversationMessage) []models.ToolCall {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != models.RoleAssistant {
			continue
		}
		answered := answeredCalls(messages[i+1:])
		var pending []models.ToolCall
		for _, call := range messages[i].ToolCalls {
			if !answered[call.ID] {
				pending = append(pending, call)
			}
		}
		return pending
	}
	return nil
}

func sortedTools(available map[string]models.ToolDefinition) []models.ToolDefinition {
	list := make([]models.ToolDefinition, 0, len(available))
	for _, definition := range available {
		list = append(list, definition)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list
}
