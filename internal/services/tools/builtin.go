package tools

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/saraichinwag/data-machine-sub002/internal/interfaces"
	"github.com/saraichinwag/data-machine-sub002/internal/models"
	"github.com/saraichinwag/data-machine-sub002/internal/services/prompts"
	"github.com/saraichinwag/data-machine-sub002/internal/services/publish"
	"github.com/saraichinwag/data-machine-sub002/internal/services/webfetch"
	"github.com/ternarybob/arbor"
)

// Built-in tool names
const (
	ToolSkipItem        = "skip_item"
	ToolWebFetch        = "web_fetch"
	ToolQueuePrompt     = "queue_prompt"
	ToolMarkdownPublish = "markdown_publish"
	ToolMarkdownUpdate  = "markdown_update"
	ToolListFlows       = "list_flows"
	ToolRunFlow         = "run_flow"
)

// Handler slugs served by built-in handler tools
const (
	HandlerMarkdownFile       = "markdown_file"
	HandlerMarkdownFileUpdate = "markdown_file_update"
)

const builtinClass = "builtin"

// FlowRunner starts a flow run immediately
type FlowRunner interface {
	RunNow(ctx context.Context, flowID int64, source models.JobSource) (*models.Job, error)
}

// Dependencies are the services behind the built-in tools. Nil services leave
// their tools unregistered.
type Dependencies struct {
	Engine    interfaces.EngineDataService
	Fetcher   *webfetch.Fetcher
	Publisher *publish.MarkdownPublisher
	Prompts   *prompts.Queue
	Flows     interfaces.FlowStorage
	Runner    FlowRunner
	Logger    arbor.ILogger
}

type builtins struct {
	deps Dependencies
}

// RegisterBuiltins registers the built-in implementations and tool definitions
func RegisterBuiltins(registry *Registry, deps Dependencies) error {
	b := &builtins{deps: deps}

	type entry struct {
		definition models.ToolDefinition
		handler    interfaces.ToolHandler
		register   func(models.ToolDefinition) error
	}

	global := func(configured ConfigCheck) func(models.ToolDefinition) error {
		return func(d models.ToolDefinition) error { return registry.RegisterGlobalTool(d, configured) }
	}
	chatOnly := func(d models.ToolDefinition) error {
		return registry.RegisterAgentTool(models.AgentTypeChat, d, nil)
	}

	var entries []entry
	if deps.Engine != nil {
		entries = append(entries, entry{skipItemDefinition(), b.skipItem, global(nil)})
	}
	if deps.Fetcher != nil {
		entries = append(entries, entry{webFetchDefinition(), b.webFetch, global(nil)})
	}
	if deps.Prompts != nil {
		entries = append(entries, entry{queuePromptDefinition(), b.queuePrompt, global(nil)})
	}
	if deps.Publisher != nil {
		entries = append(entries,
			entry{markdownPublishDefinition(), b.markdownPublish, registry.RegisterHandlerTool},
			entry{markdownUpdateDefinition(), b.markdownUpdate, registry.RegisterHandlerTool},
		)
	}
	if deps.Flows != nil {
		entries = append(entries, entry{listFlowsDefinition(), b.listFlows, chatOnly})
	}
	if deps.Runner != nil {
		entries = append(entries, entry{runFlowDefinition(), b.runFlow, chatOnly})
	}

	for _, e := range entries {
		if err := registry.RegisterImplementation(e.definition.ClassRef, e.definition.Method, e.handler); err != nil {
			return err
		}
		if err := e.register(e.definition); err != nil {
			return err
		}
	}
	return nil
}

func skipItemDefinition() models.ToolDefinition {
	return models.ToolDefinition{
		Name:        ToolSkipItem,
		ClassRef:    builtinClass,
		Method:      ToolSkipItem,
		Description: "Skip the current item. Ends the job without publishing anything.",
		Parameters: map[string]models.ToolParameter{
			"reason": {Type: "string", Required: true, Description: "Short reason the item is skipped"},
		},
	}
}

func (b *builtins) skipItem(ctx context.Context, params map[string]interface{}, definition *models.ToolDefinition) (*models.ToolResult, error) {
	jobID, ok := Int64Param(params, ParamJobID)
	if !ok {
		return Failure(definition.Name, "skip_item requires a job context"), nil
	}
	reason := StringParam(params, "reason")
	if reason == "" {
		return Failure(definition.Name, "reason is required"), nil
	}

	status := models.NewStatusWithReason(models.JobStatusAgentSkipped, reason)
	if err := b.deps.Engine.SetStatusOverride(ctx, jobID, status); err != nil {
		return nil, err
	}
	return Success(definition.Name, map[string]interface{}{"status": string(status)}), nil
}

func webFetchDefinition() models.ToolDefinition {
	return models.ToolDefinition{
		Name:        ToolWebFetch,
		ClassRef:    builtinClass,
		Method:      ToolWebFetch,
		Description: "Fetch a web page and return its main content as markdown.",
		Parameters: map[string]models.ToolParameter{
			"url": {Type: "string", Required: true, Description: "Absolute http(s) URL"},
		},
	}
}

func (b *builtins) webFetch(ctx context.Context, params map[string]interface{}, definition *models.ToolDefinition) (*models.ToolResult, error) {
	url := StringParam(params, "url")
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return Failure(definition.Name, "url must be an absolute http(s) URL"), nil
	}
	page, err := b.deps.Fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	return Success(definition.Name, map[string]interface{}{
		"url":         page.URL,
		"title":       page.Title,
		"description": page.Description,
		"content":     page.Markdown,
	}), nil
}

func queuePromptDefinition() models.ToolDefinition {
	return models.ToolDefinition{
		Name:        ToolQueuePrompt,
		ClassRef:    builtinClass,
		Method:      ToolQueuePrompt,
		Description: "Append a prompt to the prompt queue of a flow's AI step for a later run.",
		Parameters: map[string]models.ToolParameter{
			"flow_id":      {Type: "integer", Required: true, Description: "Flow id"},
			"flow_step_id": {Type: "string", Required: true, Description: "Flow step id of the AI step"},
			"prompt":       {Type: "string", Required: true, Description: "Prompt text"},
		},
	}
}

func (b *builtins) queuePrompt(ctx context.Context, params map[string]interface{}, definition *models.ToolDefinition) (*models.ToolResult, error) {
	flowID, ok := Int64Param(params, "flow_id")
	if !ok {
		return Failure(definition.Name, "flow_id is required"), nil
	}
	flowStepID := StringParam(params, "flow_step_id")
	prompt := StringParam(params, "prompt")
	if flowStepID == "" || prompt == "" {
		return Failure(definition.Name, "flow_step_id and prompt are required"), nil
	}
	if err := b.deps.Prompts.Append(ctx, flowID, flowStepID, prompt); err != nil {
		return nil, err
	}
	queued, err := b.deps.Prompts.List(ctx, flowID, flowStepID)
	if err != nil {
		return nil, err
	}
	return Success(definition.Name, map[string]interface{}{"queue_length": len(queued)}), nil
}

func markdownPublishDefinition() models.ToolDefinition {
	return models.ToolDefinition{
		Name:        ToolMarkdownPublish,
		ClassRef:    builtinClass,
		Method:      ToolMarkdownPublish,
		Handler:     HandlerMarkdownFile,
		Description: "Publish the finished article as a markdown file.",
		Parameters: map[string]models.ToolParameter{
			"title":   {Type: "string", Required: true, Description: "Article title"},
			"content": {Type: "string", Required: true, Description: "Article body in markdown"},
		},
	}
}

func (b *builtins) markdownPublish(ctx context.Context, params map[string]interface{}, definition *models.ToolDefinition) (*models.ToolResult, error) {
	doc := documentFrom(params)
	if doc.Content == "" {
		return Failure(definition.Name, "content is required"), nil
	}
	config, _ := params[ParamHandlerConfig].(map[string]interface{})
	dir, _ := config["directory"].(string)

	file, err := b.deps.Publisher.Publish(doc, dir)
	if err != nil {
		return nil, err
	}
	return Success(definition.Name, fileData(file)), nil
}

func markdownUpdateDefinition() models.ToolDefinition {
	return models.ToolDefinition{
		Name:        ToolMarkdownUpdate,
		ClassRef:    builtinClass,
		Method:      ToolMarkdownUpdate,
		Handler:     HandlerMarkdownFileUpdate,
		Description: "Rewrite an existing markdown file with updated content.",
		Parameters: map[string]models.ToolParameter{
			"path":    {Type: "string", Required: false, Description: "Path of the file, relative to the output directory"},
			"title":   {Type: "string", Required: true, Description: "Article title"},
			"content": {Type: "string", Required: true, Description: "Updated body in markdown"},
		},
	}
}

func (b *builtins) markdownUpdate(ctx context.Context, params map[string]interface{}, definition *models.ToolDefinition) (*models.ToolResult, error) {
	doc := documentFrom(params)
	if doc.Content == "" {
		return Failure(definition.Name, "content is required"), nil
	}
	path := StringParam(params, "path")
	if path == "" {
		config, _ := params[ParamHandlerConfig].(map[string]interface{})
		path, _ = config["path"].(string)
	}
	if path == "" {
		return Failure(definition.Name, "path is required"), nil
	}

	file, err := b.deps.Publisher.Update(path, doc)
	if err != nil {
		return nil, err
	}
	return Success(definition.Name, fileData(file)), nil
}

func documentFrom(params map[string]interface{}) publish.Document {
	return publish.Document{
		Title:     StringParam(params, ParamTitle),
		Content:   StringParam(params, ParamContent),
		SourceURL: StringParam(params, models.EngineKeySourceURL),
	}
}

func fileData(file *publish.File) map[string]interface{} {
	data := map[string]interface{}{
		"slug": file.Slug,
		"path": file.Path,
	}
	if file.HTMLPath != "" {
		data["html_path"] = file.HTMLPath
	}
	return data
}

func listFlowsDefinition() models.ToolDefinition {
	return models.ToolDefinition{
		Name:        ToolListFlows,
		ClassRef:    builtinClass,
		Method:      ToolListFlows,
		Description: "List configured flows with their schedule and last run status.",
		Parameters:  map[string]models.ToolParameter{},
	}
}

func (b *builtins) listFlows(ctx context.Context, params map[string]interface{}, definition *models.ToolDefinition) (*models.ToolResult, error) {
	flows, err := b.deps.Flows.ListFlows(ctx, nil)
	if err != nil {
		return nil, err
	}
	list := make([]map[string]interface{}, 0, len(flows))
	for _, flow := range flows {
		list = append(list, map[string]interface{}{
			"flow_id":         flow.ID,
			"name":            flow.Name,
			"interval":        flow.SchedulingConfig.Interval,
			"last_run_status": string(flow.LastRunStatus),
		})
	}
	return Success(definition.Name, list), nil
}

func runFlowDefinition() models.ToolDefinition {
	return models.ToolDefinition{
		Name:        ToolRunFlow,
		ClassRef:    builtinClass,
		Method:      ToolRunFlow,
		Description: "Start a run of a flow now.",
		Parameters: map[string]models.ToolParameter{
			"flow_id": {Type: "integer", Required: true, Description: "Flow id"},
		},
	}
}

func (b *builtins) runFlow(ctx context.Context, params map[string]interface{}, definition *models.ToolDefinition) (*models.ToolResult, error) {
	flowID, ok := Int64Param(params, "flow_id")
	if !ok {
		return Failure(definition.Name, "flow_id is required"), nil
	}
	job, err := b.deps.Runner.RunNow(ctx, flowID, models.JobSourceChat)
	if err != nil {
		return nil, err
	}
	if b.deps.Logger != nil {
		b.deps.Logger.Info().Int64("flow_id", flowID).Int64("job_id", job.ID).Msg("Flow run started from chat")
	}
	return Success(definition.Name, map[string]interface{}{"job_id": job.ID}), nil
}

// StringParam returns a string parameter, or empty string
func StringParam(params map[string]interface{}, key string) string {
	switch v := params[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Int64Param reads an integer parameter that may arrive as a JSON number or string
func Int64Param(params map[string]interface{}, key string) (int64, bool) {
	switch v := params[key].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}
