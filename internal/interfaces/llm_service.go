package interfaces

import (
	"context"

	"github.com/saraichinwag/data-machine-sub002/internal/models"
)

// CompletionRequest is a provider-agnostic request for one conversation turn
type CompletionRequest struct {
	Messages []models.ConversationMessage
	Tools    []models.ToolDefinition
	Provider string
	Model    string
}

// CompletionResponse is the provider's answer for one turn
type CompletionResponse struct {
	Content   string
	ToolCalls []models.ToolCall
	Provider  string
	Model     string
}

// AIProvider adapts an AI vendor API to the conversation loop
type AIProvider interface {
	Complete(ctx context.Context, request *CompletionRequest) (*CompletionResponse, error)
}
