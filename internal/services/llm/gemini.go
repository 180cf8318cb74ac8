package llm

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/saraichinwag/data-machine-sub002/internal/interfaces"
	"github.com/saraichinwag/data-machine-sub002/internal/models"
	"google.golang.org/genai"
)

// convertMessagesToGemini converts conversation messages to Gemini contents.
// System messages become the system instruction; tool results are sent back as
// function responses.
func convertMessagesToGemini(messages []models.ConversationMessage) ([]*genai.Content, string, error) {
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

	contents := make([]*genai.Content, 0, len(messages))
	var systemText string
	var pendingResponses []*genai.Part

	flush := func() {
		if len(pendingResponses) > 0 {
			contents = append(contents, &genai.Content{Role: genai.RoleUser, Parts: pendingResponses})
			pendingResponses = nil
		}
	}

	for _, msg := range messages {
		switch msg.Role {
		case models.RoleSystem:
			if msg.Content == "" {
				continue
			}
			if systemText != "" {
				systemText += "\n\n"
			}
			systemText += msg.Content
		case models.RoleTool:
			pendingResponses = append(pendingResponses, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					ID:       msg.ToolCallID,
					Name:     msg.ToolName,
					Response: map[string]any{"output": msg.Content},
				},
			})
		case models.RoleAssistant:
			flush()
			var parts []*genai.Part
			if msg.Content != "" {
				parts = append(parts, genai.NewPartFromText(msg.Content))
			}
			for _, call := range msg.ToolCalls {
				parts = append(parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{ID: call.ID, Name: call.Name, Args: call.Parameters},
				})
			}
			if len(parts) == 0 {
				continue
			}
			contents = append(contents, &genai.Content{Role: genai.RoleModel, Parts: parts})
		default:
			flush()
			contents = append(contents, &genai.Content{
				Role:  genai.RoleUser,
				Parts: []*genai.Part{genai.NewPartFromText(msg.Content)},
			})
		}
	}
	flush()

	return contents, systemText, nil
}

// convertToolsToGemini declares the available tools as function declarations
func convertToolsToGemini(tools []models.ToolDefinition) ([]*genai.Tool, error) {
	if len(tools) == 0 {
		return nil, nil
	}
	declarations := make([]*genai.FunctionDeclaration, 0, len(tools))
	for i := range tools {
		schema, err := convertToGenaiSchema(ParameterSchema(&tools[i]))
		if err != nil {
			return nil, fmt.Errorf("tool %s: %w", tools[i].Name, err)
		}
		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:        tools[i].Name,
			Description: tools[i].Description,
			Parameters:  schema,
		})
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}, nil
}

// completeWithGemini runs one turn against the Gemini API
func (f *ProviderFactory) completeWithGemini(ctx context.Context, request *interfaces.CompletionRequest, model string) (*interfaces.CompletionResponse, error) {
	client, err := f.GetGeminiClient(ctx)
	if err != nil {
		return nil, err
	}

	contents, systemText, err := convertMessagesToGemini(request.Messages)
	if err != nil {
		return nil, fmt.Errorf("failed to convert messages: %w", err)
	}
	tools, err := convertToolsToGemini(request.Tools)
	if err != nil {
		return nil, err
	}

	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(f.geminiConfig.Temperature),
		Tools:       tools,
	}
	if systemText != "" {
		config.SystemInstruction = genai.NewContentFromText(systemText, genai.RoleUser)
	}

	var resp *genai.GenerateContentResponse
	err = f.retry.Do(ctx, f.logger, ProviderGemini, func() error {
		var callErr error
		resp, callErr = client.Models.GenerateContent(ctx, model, contents, config)
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("Gemini API call failed: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("empty response from Gemini API")
	}

	response := &interfaces.CompletionResponse{
		Provider: string(ProviderGemini),
		Model:    model,
	}
	for _, fc := range resp.FunctionCalls() {
		id := fc.ID
		if id == "" {
			id = uuid.New().String()
		}
		response.ToolCalls = append(response.ToolCalls, models.ToolCall{ID: id, Name: fc.Name, Parameters: fc.Args})
	}
	response.Content = textOf(resp)

	if response.Content == "" && len(response.ToolCalls) == 0 {
		return nil, fmt.Errorf("empty text in Gemini response")
	}
	return response, nil
}

// textOf joins the text parts of the first candidate
func textOf(resp *genai.GenerateContentResponse) string {
	candidate := resp.Candidates[0]
	if candidate.Content == nil {
		return ""
	}
	var text string
	for _, part := range candidate.Content.Parts {
		if part != nil && part.Text != "" && !part.Thought {
			text += part.Text
		}
	}
	return text
}
