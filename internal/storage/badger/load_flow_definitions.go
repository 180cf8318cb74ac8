package badger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"github.com/saraichinwag/data-machine-sub002/internal/interfaces"
	"github.com/saraichinwag/data-machine-sub002/internal/models"
	"github.com/ternarybob/arbor"
	"gopkg.in/yaml.v3"
)

// FlowDefinitionFile is the on-disk format of a pipeline and the flows instantiating it
type FlowDefinitionFile struct {
	Pipeline PipelineDefinition `toml:"pipeline" yaml:"pipeline"`
	Flows    []FlowDefinition   `toml:"flows" yaml:"flows" validate:"dive"`
}

// PipelineDefinition declares the pipeline template
type PipelineDefinition struct {
	Name  string                   `toml:"name" yaml:"name" validate:"required"`
	Steps []PipelineStepDefinition `toml:"steps" yaml:"steps" validate:"required,min=1,dive"`
}

// PipelineStepDefinition declares one pipeline step
type PipelineStepDefinition struct {
	ID           string `toml:"id" yaml:"id" validate:"required,excludesall=0x7C"`
	Type         string `toml:"type" yaml:"type" validate:"required"`
	Order        int    `toml:"order" yaml:"order" validate:"gte=0"`
	Label        string `toml:"label" yaml:"label"`
	SystemPrompt string `toml:"system_prompt" yaml:"system_prompt"`
	Provider     string `toml:"provider" yaml:"provider"`
	Model        string `toml:"model" yaml:"model"`
	MaxTurns     int    `toml:"max_turns" yaml:"max_turns" validate:"gte=0"`
}

// FlowDefinition declares one flow of the pipeline
type FlowDefinition struct {
	Name     string                        `toml:"name" yaml:"name" validate:"required"`
	Schedule string                        `toml:"schedule" yaml:"schedule"` // manual, named interval, cron or one_time
	RunAt    string                        `toml:"run_at" yaml:"run_at"`     // RFC3339 timestamp for one_time
	Steps    map[string]FlowStepDefinition `toml:"steps" yaml:"steps"`       // keyed by pipeline step id
}

// FlowStepDefinition declares the per-flow settings of a step
type FlowStepDefinition struct {
	Handler       string                 `toml:"handler" yaml:"handler"`
	HandlerConfig map[string]interface{} `toml:"handler_config" yaml:"handler_config"`
	UserMessage   string                 `toml:"user_message" yaml:"user_message"`
	DisabledTools []string               `toml:"disabled_tools" yaml:"disabled_tools"`
	PromptQueue   []string               `toml:"prompt_queue" yaml:"prompt_queue"`
}

// ParseFlowDefinition decodes a definition file by extension
func ParseFlowDefinition(name string, data []byte) (*FlowDefinitionFile, error) {
	var file FlowDefinitionFile
	switch strings.ToLower(filepath.Ext(name)) {
	case ".toml":
		if err := toml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("failed to parse TOML: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported definition file type: %s", name)
	}
	return &file, nil
}

// Validate checks struct tags, dense step ordering and step references
func (f *FlowDefinitionFile) Validate() error {
	if err := validator.New().Struct(f); err != nil {
		return err
	}

	orders := make(map[int]string, len(f.Pipeline.Steps))
	ids := make(map[string]bool, len(f.Pipeline.Steps))
	for _, step := range f.Pipeline.Steps {
		if other, dup := orders[step.Order]; dup {
			return fmt.Errorf("steps %s and %s share order %d", other, step.ID, step.Order)
		}
		if ids[step.ID] {
			return fmt.Errorf("duplicate step id %s", step.ID)
		}
		orders[step.Order] = step.ID
		ids[step.ID] = true
	}
	for i := 0; i < len(f.Pipeline.Steps); i++ {
		if _, ok := orders[i]; !ok {
			return fmt.Errorf("step order must be a dense 0-based sequence, missing %d", i)
		}
	}

	for _, flow := range f.Flows {
		for stepID := range flow.Steps {
			if !ids[stepID] {
				return fmt.Errorf("flow %s configures unknown step %s", flow.Name, stepID)
			}
		}
		if _, err := flow.SchedulingConfig(); err != nil {
			return fmt.Errorf("flow %s: %w", flow.Name, err)
		}
	}
	return nil
}

// SchedulingConfig converts the declared schedule
func (d *FlowDefinition) SchedulingConfig() (models.SchedulingConfig, error) {
	interval := strings.TrimSpace(d.Schedule)
	if interval == "" {
		interval = models.IntervalManual
	}
	config := models.SchedulingConfig{Interval: interval}
	if interval == models.IntervalOneTime {
		if d.RunAt == "" {
			return config, fmt.Errorf("one_time schedule requires run_at")
		}
		ts, err := time.Parse(time.RFC3339, d.RunAt)
		if err != nil {
			return config, fmt.Errorf("invalid run_at: %w", err)
		}
		config.Timestamp = &ts
	}
	return config, nil
}

// ToPipeline converts the declaration into a pipeline model
func (p *PipelineDefinition) ToPipeline() *models.Pipeline {
	config := make(models.PipelineConfig, len(p.Steps))
	for _, step := range p.Steps {
		config[step.ID] = &models.PipelineStepConfig{
			PipelineStepID: step.ID,
			StepType:       step.Type,
			ExecutionOrder: step.Order,
			Label:          step.Label,
			SystemPrompt:   step.SystemPrompt,
			Provider:       step.Provider,
			Model:          step.Model,
			MaxTurns:       step.MaxTurns,
		}
	}
	return &models.Pipeline{Name: p.Name, PipelineConfig: config}
}

// LoadFlowDefinitionsFromFiles loads pipeline/flow definitions from TOML and YAML files.
// Pipelines and flows are matched by name; existing records keep their ids, health
// fields and runtime prompt queues.
func LoadFlowDefinitionsFromFiles(ctx context.Context, pipelineStorage interfaces.PipelineStorage, flowStorage interfaces.FlowStorage, definitionsDir string, logger arbor.ILogger) ([]*models.Flow, error) {
	if _, err := os.Stat(definitionsDir); os.IsNotExist(err) {
		logger.Debug().Str("dir", definitionsDir).Msg("Flow definitions directory does not exist, skipping")
		return nil, nil
	}

	logger.Info().Str("dir", definitionsDir).Msg("Loading flow definitions from files")

	entries, err := os.ReadDir(definitionsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read flow definitions directory: %w", err)
	}

	var loaded []*models.Flow
	for _, entry := range entries {
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if entry.IsDir() || (ext != ".toml" && ext != ".yaml" && ext != ".yml") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(definitionsDir, entry.Name()))
		if err != nil {
			logger.Warn().Err(err).Str("file", entry.Name()).Msg("Failed to read flow definition file")
			continue
		}

		file, err := ParseFlowDefinition(entry.Name(), data)
		if err != nil {
			logger.Warn().Err(err).Str("file", entry.Name()).Msg("Failed to parse flow definition")
			continue
		}
		if err := file.Validate(); err != nil {
			logger.Warn().Err(err).Str("file", entry.Name()).Msg("Flow definition validation failed, skipping")
			continue
		}

		flows, err := applyFlowDefinition(ctx, pipelineStorage, flowStorage, file)
		if err != nil {
			logger.Warn().Err(err).Str("file", entry.Name()).Msg("Failed to save flow definition")
			continue
		}

		logger.Info().
			Str("file", entry.Name()).
			Str("pipeline", file.Pipeline.Name).
			Int("flows", len(flows)).
			Msg("Flow definition loaded from file")

		loaded = append(loaded, flows...)
	}

	return loaded, nil
}

func applyFlowDefinition(ctx context.Context, pipelineStorage interfaces.PipelineStorage, flowStorage interfaces.FlowStorage, file *FlowDefinitionFile) ([]*models.Flow, error) {
	pipeline := file.Pipeline.ToPipeline()
	existingPipeline, err := pipelineStorage.GetPipelineByName(ctx, pipeline.Name)
	switch {
	case err == nil:
		pipeline.ID = existingPipeline.ID
		pipeline.CreatedAt = existingPipeline.CreatedAt
	case !errors.Is(err, interfaces.ErrPipelineNotFound):
		return nil, err
	}
	if err := pipelineStorage.SavePipeline(ctx, pipeline); err != nil {
		return nil, err
	}

	flows := make([]*models.Flow, 0, len(file.Flows))
	for _, def := range file.Flows {
		scheduling, _ := def.SchedulingConfig()

		overrides := make(map[string]*models.StepConfig, len(def.Steps))
		for stepID, stepDef := range def.Steps {
			overrides[stepID] = &models.StepConfig{
				HandlerSlug:   stepDef.Handler,
				HandlerConfig: stepDef.HandlerConfig,
				UserMessage:   stepDef.UserMessage,
				DisabledTools: stepDef.DisabledTools,
				PromptQueue:   stepDef.PromptQueue,
			}
		}

		flow := &models.Flow{
			PipelineID:       pipeline.ID,
			Name:             def.Name,
			SchedulingConfig: scheduling,
		}

		existing, err := flowStorage.GetFlowByName(ctx, def.Name)
		switch {
		case err == nil:
			flow.ID = existing.ID
			flow.CreatedAt = existing.CreatedAt
			flow.LastRunAt = existing.LastRunAt
			flow.LastRunStatus = existing.LastRunStatus
			flow.ConsecutiveFailures = existing.ConsecutiveFailures
			flow.ConsecutiveNoItems = existing.ConsecutiveNoItems
			flow.FlowConfig = models.BuildFlowConfig(pipeline, existing.ID, overrides)
			for id, step := range flow.FlowConfig {
				if prior, ok := existing.FlowConfig[id]; ok && prior != nil && len(prior.PromptQueue) > 0 {
					step.PromptQueue = prior.PromptQueue
				}
			}
		case errors.Is(err, interfaces.ErrFlowNotFound):
			flow.FlowConfig = models.BuildFlowConfig(pipeline, 0, overrides)
		default:
			return nil, err
		}

		if err := flowStorage.SaveFlow(ctx, flow); err != nil {
			return nil, err
		}
		flows = append(flows, flow)
	}
	return flows, nil
}
