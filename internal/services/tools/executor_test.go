package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/saraichinwag/data-machine-sub002/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func TestExecute_StructuredFailures(t *testing.T) {
	registry := newTestRegistry(t)
	require.NoError(t, registry.RegisterImplementation("test", "boom", func(ctx context.Context, params map[string]interface{}, d *models.ToolDefinition) (*models.ToolResult, error) {
		panic("kaboom")
	}))
	require.NoError(t, registry.RegisterImplementation("test", "error", func(ctx context.Context, params map[string]interface{}, d *models.ToolDefinition) (*models.ToolResult, error) {
		return nil, errors.New("upstream unavailable")
	}))

	executor := NewExecutor(registry, arbor.NewLogger())
	available := map[string]models.ToolDefinition{
		"boom":     {Name: "boom", ClassRef: "test", Method: "boom"},
		"error":    {Name: "error", ClassRef: "test", Method: "error"},
		"orphaned": {Name: "orphaned", ClassRef: "gone", Method: "run"},
	}

	tests := []struct {
		name string
		tool string
		want string
	}{
		{"unknown tool", "missing", "tool missing is not available"},
		{"panic", "boom", "tool panicked: kaboom"},
		{"error", "error", "upstream unavailable"},
		{"unresolvable implementation", "orphaned", "tool not found: orphaned"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := executor.Execute(context.Background(), ExecuteRequest{Name: tt.tool, Available: available})
			require.NotNil(t, result)
			assert.False(t, result.Success)
			assert.Equal(t, tt.want, result.Error)
			assert.Equal(t, tt.tool, result.ToolName)
		})
	}
}

func TestBuildParameters_Layers(t *testing.T) {
	packets := []models.DataPacket{
		models.NewDataPacket(models.PacketTypeFetch, "Newest", "newest body", nil),
		models.NewDataPacket(models.PacketTypeFetch, "Older", "older body", nil),
	}
	engine := models.EngineData{
		models.EngineKeySourceURL: "https://example.com/a",
		models.EngineKeyImageURL:  "https://example.com/a.png",
	}

	t.Run("handler tool", func(t *testing.T) {
		def := models.ToolDefinition{
			Name:          "publish",
			Handler:       "markdown_file",
			HandlerConfig: map[string]interface{}{"directory": "posts"},
			Parameters: map[string]models.ToolParameter{
				"content": {Type: "string"},
				"title":   {Type: "string"},
			},
		}
		params := BuildParameters(&def, ExecuteRequest{
			Packets:    packets,
			FlowStepID: "ai_1",
			Context:    map[string]interface{}{ParamJobID: int64(7), ParamToolName: "spoofed"},
			Engine:     engine,
			Params:     map[string]interface{}{ParamTitle: "AI title"},
		})

		assert.Equal(t, int64(7), params[ParamJobID])
		assert.Equal(t, "ai_1", params[ParamFlowStepID])
		assert.Equal(t, "newest body", params[ParamContent])
		assert.Equal(t, "AI title", params[ParamTitle], "AI parameters override packet values")
		assert.Equal(t, "publish", params[ParamToolName], "tool metadata overrides base context")
		assert.Equal(t, map[string]interface{}{"directory": "posts"}, params[ParamHandlerConfig])
		assert.Equal(t, "https://example.com/a", params[models.EngineKeySourceURL])
		assert.Equal(t, "https://example.com/a.png", params[models.EngineKeyImageURL])

		staged, ok := params[ParamToolDef].(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, "markdown_file", staged["handler"])
		assert.Equal(t, def.Parameters, staged["parameters"])
	})

	t.Run("global tool without declared content", func(t *testing.T) {
		def := models.ToolDefinition{
			Name:       "web_fetch",
			Parameters: map[string]models.ToolParameter{"url": {Type: "string"}},
		}
		params := BuildParameters(&def, ExecuteRequest{Packets: packets, Engine: engine})

		assert.NotContains(t, params, ParamContent)
		assert.NotContains(t, params, ParamTitle)
		assert.NotContains(t, params, models.EngineKeySourceURL)
		assert.NotContains(t, params, ParamHandlerConfig)
	})
}

func TestExecute_PassesLayeredParams(t *testing.T) {
	registry := newTestRegistry(t)
	require.NoError(t, registry.RegisterHandlerTool(definition("publish", "markdown_file")))
	executor := NewExecutor(registry, arbor.NewLogger())

	available := registry.Discover(DiscoveryContext{
		AgentType: models.AgentTypePipeline,
		Handlers:  map[string]map[string]interface{}{"markdown_file": nil},
	})
	result := executor.Execute(context.Background(), ExecuteRequest{
		Name:      "publish",
		Available: available,
		Packets:   []models.DataPacket{models.NewDataPacket(models.PacketTypeFetch, "T", "body", nil)},
		Params:    map[string]interface{}{"extra": "x"},
	})

	require.True(t, result.Success)
	data := result.Data.(map[string]interface{})
	assert.Equal(t, "body", data[ParamContent])
	assert.Equal(t, "x", data["extra"])
}

func TestBuildParameters_AICannotOverrideReservedKeys(t *testing.T) {
	def := models.ToolDefinition{
		Name:          "publish",
		Handler:       "markdown_file",
		HandlerConfig: map[string]interface{}{"directory": "posts"},
	}

	params := BuildParameters(&def, ExecuteRequest{
		FlowStepID: "ai_1",
		Context:    map[string]interface{}{ParamJobID: int64(7)},
		Params: map[string]interface{}{
			ParamJobID:         int64(99),
			ParamFlowStepID:    "other_2",
			ParamSessionID:     "stolen",
			ParamToolName:      "skip_item",
			ParamHandlerConfig: map[string]interface{}{"directory": "/etc"},
			ParamTitle:         "kept",
		},
	})

	assert.Equal(t, int64(7), params[ParamJobID])
	assert.Equal(t, "ai_1", params[ParamFlowStepID])
	assert.NotContains(t, params, ParamSessionID, "no session staged, so none is accepted")
	assert.Equal(t, "publish", params[ParamToolName])
	assert.Equal(t, map[string]interface{}{"directory": "posts"}, params[ParamHandlerConfig])
	assert.Equal(t, "kept", params[ParamTitle])
}
