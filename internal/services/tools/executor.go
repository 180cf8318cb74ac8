package tools

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/saraichinwag/data-machine-sub002/internal/models"
	"github.com/ternarybob/arbor"
)

// Parameters staged by the executor before the AI-supplied ones
const (
	ParamJobID         = "job_id"
	ParamSessionID     = "session_id"
	ParamFlowStepID    = "flow_step_id"
	ParamContent       = "content"
	ParamTitle         = "title"
	ParamToolName      = "tool_name"
	ParamToolDef       = "tool_definition"
	ParamHandlerConfig = "handler_config"
)

// reservedParams are staged by the executor only; AI-supplied values are dropped
var reservedParams = []string{ParamJobID, ParamSessionID, ParamFlowStepID, ParamToolName, ParamToolDef, ParamHandlerConfig}

// ExecuteRequest describes one tool invocation
type ExecuteRequest struct {
	Name       string
	Params     map[string]interface{}           // supplied by the AI
	Available  map[string]models.ToolDefinition // result of Registry.Discover
	Packets    []models.DataPacket              // newest first
	FlowStepID string
	Context    map[string]interface{} // job or session identifiers
	Engine     models.EngineData
}

// Executor runs tools and converts every failure into a structured result
type Executor struct {
	registry *Registry
	logger   arbor.ILogger
}

// NewExecutor creates a new tool executor
func NewExecutor(registry *Registry, logger arbor.ILogger) *Executor {
	return &Executor{
		registry: registry,
		logger:   logger,
	}
}

// Execute runs the named tool. It never returns a Go error: unknown tools,
// implementation errors and panics all come back as Success=false.
func (e *Executor) Execute(ctx context.Context, req ExecuteRequest) *models.ToolResult {
	definition, ok := req.Available[req.Name]
	if !ok {
		e.logger.Warn().Str("tool", req.Name).Msg("Tool not available")
		return failure(req.Name, fmt.Sprintf("tool %s is not available", req.Name))
	}

	handler, err := e.registry.Implementation(&definition)
	if err != nil {
		e.logger.Warn().Err(err).Str("tool", req.Name).Msg("Tool implementation not found")
		return failure(req.Name, err.Error())
	}

	params := BuildParameters(&definition, req)

	e.logger.Debug().
		Str("tool", req.Name).
		Str("flow_step_id", req.FlowStepID).
		Int("params", len(params)).
		Msg("Executing tool")

	result, err := e.call(ctx, handler, params, &definition)
	if err != nil {
		e.logger.Error().Err(err).Str("tool", req.Name).Msg("Tool execution failed")
		return failure(req.Name, err.Error())
	}
	if result == nil {
		return failure(req.Name, "tool returned no result")
	}
	result.ToolName = req.Name
	if !result.Success {
		e.logger.Warn().Str("tool", req.Name).Str("error", result.Error).Msg("Tool reported failure")
	}
	return result
}

func (e *Executor) call(ctx context.Context, handler func(context.Context, map[string]interface{}, *models.ToolDefinition) (*models.ToolResult, error), params map[string]interface{}, definition *models.ToolDefinition) (result *models.ToolResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().
				Str("tool", definition.Name).
				Str("stack", string(debug.Stack())).
				Msg("Tool panicked")
			result = nil
			err = fmt.Errorf("tool panicked: %v", r)
		}
	}()
	return handler(ctx, params, definition)
}

// BuildParameters layers the tool parameters. Later layers win: base context,
// packet content and title (only when declared), tool metadata, handler-scoped
// engine values, then the AI parameters. The AI cannot set reserved keys.
func BuildParameters(definition *models.ToolDefinition, req ExecuteRequest) map[string]interface{} {
	params := make(map[string]interface{})

	for k, v := range req.Context {
		params[k] = v
	}
	if req.FlowStepID != "" {
		params[ParamFlowStepID] = req.FlowStepID
	}

	if len(req.Packets) > 0 {
		newest := req.Packets[0]
		if definition.HasParameter(ParamContent) && newest.Content.Body != "" {
			params[ParamContent] = newest.Content.Body
		}
		if definition.HasParameter(ParamTitle) && newest.Content.Title != "" {
			params[ParamTitle] = newest.Content.Title
		}
	}

	params[ParamToolName] = definition.Name
	params[ParamToolDef] = map[string]interface{}{
		"name":        definition.Name,
		"description": definition.Description,
		"handler":     definition.Handler,
		"parameters":  definition.Parameters,
	}
	if definition.HandlerConfig != nil {
		params[ParamHandlerConfig] = definition.HandlerConfig
	}

	if definition.Handler != "" {
		for _, key := range []string{models.EngineKeySourceURL, models.EngineKeyImageURL} {
			if value := req.Engine.String(key); value != "" {
				params[key] = value
			}
		}
	}

	staged := make(map[string]interface{}, len(reservedParams))
	for _, key := range reservedParams {
		if v, ok := params[key]; ok {
			staged[key] = v
		}
	}
	for k, v := range req.Params {
		params[k] = v
	}
	for _, key := range reservedParams {
		if v, ok := staged[key]; ok {
			params[key] = v
		} else {
			delete(params, key)
		}
	}
	return params
}

func failure(name, message string) *models.ToolResult {
	return &models.ToolResult{Success: false, Error: message, ToolName: name}
}

// Success builds a successful result
func Success(name string, data interface{}) *models.ToolResult {
	return &models.ToolResult{Success: true, Data: data, ToolName: name}
}

// Failure builds a failed result
func Failure(name string, format string, args ...interface{}) *models.ToolResult {
	return failure(name, fmt.Sprintf(format, args...))
}
