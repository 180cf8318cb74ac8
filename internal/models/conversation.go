package models

import "time"

// Conversation roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
	RoleSystem    = "system"
)

// AgentType selects agent-specific directives and exclusive tools
type AgentType string

const (
	AgentTypePipeline AgentType = "pipeline"
	AgentTypeChat     AgentType = "chat"
	AgentTypeSystem   AgentType = "system"
)

// ToolCall is a tool invocation requested by the AI provider
type ToolCall struct {
	ID         string                 `json:"id"`
	Name       string                 `json:"name"`
	Parameters map[string]interface{} `json:"parameters"`
}

// ConversationMessage is one entry of an append-only conversation
type ConversationMessage struct {
	Role       string                 `json:"role"`
	Content    string                 `json:"content"`
	ToolCalls  []ToolCall             `json:"tool_calls,omitempty"`
	ToolCallID string                 `json:"tool_call_id,omitempty"`
	ToolName   string                 `json:"tool_name,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}

// ChatSession is a resumable chat-agent conversation
type ChatSession struct {
	ID              string                `json:"session_id"`
	Messages        []ConversationMessage `json:"messages"`
	TurnCount       int                   `json:"turn_count"`
	Completed       bool                  `json:"completed"`
	MaxTurnsReached bool                  `json:"max_turns_reached"`
	Provider        string                `json:"provider,omitempty"`
	Model           string                `json:"model,omitempty"`
	CreatedAt       time.Time             `json:"created_at"`
	UpdatedAt       time.Time             `json:"updated_at"`
}
