package llm

import (
	"context"
	"testing"

	"github.com/saraichinwag/data-machine-sub002/internal/common"
	"github.com/saraichinwag/data-machine-sub002/internal/interfaces"
	"github.com/saraichinwag/data-machine-sub002/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"google.golang.org/genai"
)

func newTestFactory() *ProviderFactory {
	config := common.NewDefaultConfig()
	return NewProviderFactory(&config.Gemini, &config.Claude, &config.LLM, arbor.NewLogger())
}

func TestDetectProvider(t *testing.T) {
	factory := newTestFactory()

	tests := []struct {
		provider string
		model    string
		want     ProviderType
	}{
		{"", "claude-sonnet-4-20250514", ProviderClaude},
		{"", "anthropic/claude-haiku-4-5", ProviderClaude},
		{"", "gemini-2.5-flash", ProviderGemini},
		{"", "google/gemini-2.5-pro", ProviderGemini},
		{"gemini", "", ProviderGemini},
		{"Anthropic", "custom-model", ProviderClaude},
		{"", "", ProviderClaude},
		{"", "something-else", ProviderClaude},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, factory.DetectProvider(tt.provider, tt.model), "%s/%s", tt.provider, tt.model)
	}

	assert.Equal(t, "gemini-2.5-flash", factory.NormalizeModel("gemini/gemini-2.5-flash"))
	assert.Equal(t, "claude-haiku-4-5", factory.NormalizeModel("claude-haiku-4-5"))
	assert.Equal(t, "claude-haiku-4-5", factory.GetDefaultModel(ProviderClaude))
	assert.Equal(t, "gemini-2.5-flash", factory.GetDefaultModel(ProviderGemini))
}

func TestComplete_RejectsEmptyConversation(t *testing.T) {
	factory := newTestFactory()
	_, err := factory.Complete(context.Background(), &interfaces.CompletionRequest{})
	assert.Error(t, err)
}

func TestParameterSchema(t *testing.T) {
	definition := models.ToolDefinition{
		Name: "publish",
		Parameters: map[string]models.ToolParameter{
			"title":   {Type: "string", Required: true, Description: "Title"},
			"content": {Type: "string", Required: true},
			"tags":    {Type: "array"},
			"notes":   {},
		},
	}
	schema := ParameterSchema(&definition)

	assert.Equal(t, "object", schema["type"])
	assert.Equal(t, []string{"content", "title"}, schema["required"])
	properties := schema["properties"].(map[string]interface{})
	assert.Equal(t, map[string]interface{}{"type": "string", "description": "Title"}, properties["title"])
	assert.Equal(t, map[string]interface{}{"type": "string"}, properties["notes"])

	converted, err := convertToGenaiSchema(schema)
	require.NoError(t, err)
	assert.Equal(t, genai.TypeObject, converted.Type)
	assert.Equal(t, genai.TypeArray, converted.Properties["tags"].Type)
	assert.Equal(t, []string{"content", "title"}, converted.Required)
}

func conversation() []models.ConversationMessage {
	return []models.ConversationMessage{
		{Role: models.RoleSystem, Content: "Directive"},
		{Role: models.RoleSystem, Content: "Step prompt"},
		{Role: models.RoleUser, Content: "Write it up"},
		{Role: models.RoleAssistant, Content: "Fetching", ToolCalls: []models.ToolCall{
			{ID: "c1", Name: "web_fetch", Parameters: map[string]interface{}{"url": "https://example.com"}},
			{ID: "c2", Name: "skip_item", Parameters: nil},
		}},
		{Role: models.RoleTool, ToolCallID: "c1", ToolName: "web_fetch", Content: `{"success":true}`},
		{Role: models.RoleTool, ToolCallID: "c2", ToolName: "skip_item", Content: `{"success":false}`,
			Metadata: map[string]interface{}{models.PacketMetaSuccess: false}},
		{Role: models.RoleAssistant, Content: "Done"},
	}
}

func TestConvertMessagesToClaude(t *testing.T) {
	messages, system, err := convertMessagesToClaude(conversation())
	require.NoError(t, err)

	assert.Equal(t, "Directive\n\nStep prompt", system)
	require.Len(t, messages, 4)
	assert.Len(t, messages[1].Content, 3, "text plus two tool_use blocks")
	assert.Len(t, messages[2].Content, 2, "consecutive tool results share one user message")
	require.NotNil(t, messages[2].Content[1].OfToolResult)
	assert.Equal(t, "c2", messages[2].Content[1].OfToolResult.ToolUseID)

	_, _, err = convertMessagesToClaude([]models.ConversationMessage{{Role: models.RoleAssistant, Content: "hi"}})
	assert.Error(t, err)
}

func TestConvertMessagesToGemini(t *testing.T) {
	contents, system, err := convertMessagesToGemini(conversation())
	require.NoError(t, err)

	assert.Equal(t, "Directive\n\nStep prompt", system)
	require.Len(t, contents, 4)
	assert.Equal(t, genai.RoleModel, contents[1].Role)
	require.Len(t, contents[1].Parts, 3)
	assert.Equal(t, "web_fetch", contents[1].Parts[1].FunctionCall.Name)
	assert.Equal(t, genai.RoleUser, contents[2].Role)
	require.Len(t, contents[2].Parts, 2)
	assert.Equal(t, "skip_item", contents[2].Parts[1].FunctionResponse.Name)
}

func TestConvertTools(t *testing.T) {
	tools := []models.ToolDefinition{{
		Name:        "web_fetch",
		Description: "Fetch a page",
		Parameters:  map[string]models.ToolParameter{"url": {Type: "string", Required: true}},
	}}

	claudeTools := convertToolsToClaude(tools)
	require.Len(t, claudeTools, 1)
	require.NotNil(t, claudeTools[0].OfTool)
	assert.Equal(t, "web_fetch", claudeTools[0].OfTool.Name)
	assert.Equal(t, []string{"url"}, claudeTools[0].OfTool.InputSchema.Required)

	geminiTools, err := convertToolsToGemini(tools)
	require.NoError(t, err)
	require.Len(t, geminiTools, 1)
	require.Len(t, geminiTools[0].FunctionDeclarations, 1)
	assert.Equal(t, "Fetch a page", geminiTools[0].FunctionDeclarations[0].Description)

	assert.Nil(t, convertToolsToClaude(nil))
}
