package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/google/uuid"
	"github.com/saraichinwag/data-machine-sub002/internal/interfaces"
	"github.com/saraichinwag/data-machine-sub002/internal/models"
)

// convertMessagesToClaude converts conversation messages to Claude format.
// System messages are joined into the system prompt; consecutive tool results
// share one user message as the Messages API requires.
func convertMessagesToClaude(messages []models.ConversationMessage) ([]anthropic.MessageParam, string, error) {
	hasUserMessage := false
	for _, msg := range messages {
		if msg.Role == models.RoleUser {
			hasUserMessage = true
			break
		}
	}
	if !hasUserMessage {
		return nil, "", fmt.Errorf("at least one message must have role 'user'")
	}

	claudeMessages := make([]anthropic.MessageParam, 0, len(messages))
	var system []string
	var pendingResults []anthropic.ContentBlockParamUnion

	flush := func() {
		if len(pendingResults) > 0 {
			claudeMessages = append(claudeMessages, anthropic.NewUserMessage(pendingResults...))
			pendingResults = nil
		}
	}

	for _, msg := range messages {
		switch msg.Role {
		case models.RoleSystem:
			if msg.Content != "" {
				system = append(system, msg.Content)
			}
		case models.RoleTool:
			pendingResults = append(pendingResults,
				anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, isErrorResult(msg)))
		case models.RoleAssistant:
			flush()
			var blocks []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, call := range msg.ToolCalls {
				input := call.Parameters
				if input == nil {
					input = map[string]interface{}{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(call.ID, input, call.Name))
			}
			if len(blocks) == 0 {
				continue
			}
			claudeMessages = append(claudeMessages, anthropic.NewAssistantMessage(blocks...))
		default:
			flush()
			claudeMessages = append(claudeMessages, anthropic.NewUserMessage(
				anthropic.NewTextBlock(msg.Content),
			))
		}
	}
	flush()

	return claudeMessages, strings.Join(system, "\n\n"), nil
}

func isErrorResult(msg models.ConversationMessage) bool {
	success, ok := msg.Metadata[models.PacketMetaSuccess].(bool)
	return ok && !success
}

// convertToolsToClaude declares the available tools
func convertToolsToClaude(tools []models.ToolDefinition) []anthropic.ToolUnionParam {
	if len(tools) == 0 {
		return nil
	}
	params := make([]anthropic.ToolUnionParam, 0, len(tools))
	for i := range tools {
		schema := ParameterSchema(&tools[i])
		inputSchema := anthropic.ToolInputSchemaParam{
			Properties: schema["properties"],
		}
		if required, ok := schema["required"].([]string); ok {
			inputSchema.Required = required
		}
		tool := anthropic.ToolParam{
			Name:        tools[i].Name,
			Description: anthropic.String(tools[i].Description),
			InputSchema: inputSchema,
		}
		params = append(params, anthropic.ToolUnionParam{OfTool: &tool})
	}
	return params
}

// completeWithClaude runs one turn against the Claude Messages API
func (f *ProviderFactory) completeWithClaude(ctx context.Context, request *interfaces.CompletionRequest, model string) (*interfaces.CompletionResponse, error) {
	client, err := f.GetClaudeClient(ctx)
	if err != nil {
		return nil, err
	}

	claudeMessages, systemText, err := convertMessagesToClaude(request.Messages)
	if err != nil {
		return nil, fmt.Errorf("failed to convert messages: %w", err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(f.claudeConfig.MaxTokens),
		Messages:  claudeMessages,
		Tools:     convertToolsToClaude(request.Tools),
	}
	if f.claudeConfig.Temperature > 0 {
		params.Temperature = anthropic.Float(float64(f.claudeConfig.Temperature))
	}
	if systemText != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: systemText},
		}
	}

	var resp *anthropic.Message
	err = f.retry.Do(ctx, f.logger, ProviderClaude, func() error {
		var callErr error
		resp, callErr = client.Messages.New(ctx, params)
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("Claude API call failed: %w", err)
	}

	response := &interfaces.CompletionResponse{
		Provider: string(ProviderClaude),
		Model:    model,
	}
	var text strings.Builder
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			call := models.ToolCall{ID: block.ID, Name: block.Name}
			if len(block.Input) > 0 {
				if err := json.Unmarshal(block.Input, &call.Parameters); err != nil {
					return nil, fmt.Errorf("invalid tool input for %s: %w", block.Name, err)
				}
			}
			if call.ID == "" {
				call.ID = uuid.New().String()
			}
			response.ToolCalls = append(response.ToolCalls, call)
		}
	}
	response.Content = text.String()

	if response.Content == "" && len(response.ToolCalls) == 0 {
		return nil, fmt.Errorf("empty response from Claude API")
	}
	return response, nil
}
