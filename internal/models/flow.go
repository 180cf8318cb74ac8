package models

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Step type names registered by the engine
const (
	StepTypeFetch   = "fetch"
	StepTypeAI      = "ai"
	StepTypePublish = "publish"
	StepTypeUpdate  = "update"
)

// Scheduling interval values with special meaning
const (
	IntervalManual  = "manual"
	IntervalOneTime = "one_time"
)

// SchedulingConfig describes when a flow runs.
// Interval is "manual", "one_time" (with Timestamp) or a named recurring interval.
type SchedulingConfig struct {
	Interval  string     `json:"interval" toml:"interval" yaml:"interval"`
	Timestamp *time.Time `json:"timestamp,omitempty" toml:"timestamp" yaml:"timestamp"`
}

// IsManual reports whether the flow only runs on demand
func (s SchedulingConfig) IsManual() bool {
	return s.Interval == "" || s.Interval == IntervalManual
}

// IsOneTime reports whether the flow runs once at Timestamp
func (s SchedulingConfig) IsOneTime() bool {
	return s.Interval == IntervalOneTime
}

// StepConfig is the per-flow configuration of one pipeline step
type StepConfig struct {
	FlowStepID     string                 `json:"flow_step_id"`
	PipelineStepID string                 `json:"pipeline_step_id" validate:"required"`
	FlowID         int64                  `json:"flow_id"`
	StepType       string                 `json:"step_type" validate:"required"`
	ExecutionOrder int                    `json:"execution_order" validate:"gte=0"`
	HandlerSlug    string                 `json:"handler_slug,omitempty"`
	HandlerConfig  map[string]interface{} `json:"handler_config,omitempty"`
	UserMessage    string                 `json:"user_message,omitempty"`
	DisabledTools  []string               `json:"disabled_tools,omitempty"`
	PromptQueue    []string               `json:"prompt_queue,omitempty"`
}

// IsToolDisabled reports whether the step disables the named tool
func (c *StepConfig) IsToolDisabled(name string) bool {
	for _, disabled := range c.DisabledTools {
		if disabled == name {
			return true
		}
	}
	return false
}

// FlowConfig maps flow_step_id to step configuration
type FlowConfig map[string]*StepConfig

// Ordered returns the steps sorted by execution order
func (fc FlowConfig) Ordered() []*StepConfig {
	steps := make([]*StepConfig, 0, len(fc))
	for id, step := range fc {
		if step == nil {
			continue
		}
		if step.FlowStepID == "" {
			step.FlowStepID = id
		}
		steps = append(steps, step)
	}
	sort.SliceStable(steps, func(i, j int) bool {
		if steps[i].ExecutionOrder == steps[j].ExecutionOrder {
			return steps[i].FlowStepID < steps[j].FlowStepID
		}
		return steps[i].ExecutionOrder < steps[j].ExecutionOrder
	})
	return steps
}

// ByOrder returns the step at the given execution order
func (fc FlowConfig) ByOrder(order int) (*StepConfig, bool) {
	for id, step := range fc {
		if step != nil && step.ExecutionOrder == order {
			if step.FlowStepID == "" {
				step.FlowStepID = id
			}
			return step, true
		}
	}
	return nil, false
}

// Flow is a saved, schedulable instance of a pipeline
type Flow struct {
	ID               int64            `json:"flow_id"`
	PipelineID       int64            `json:"pipeline_id"`
	Name             string           `json:"name" validate:"required"`
	FlowConfig       FlowConfig       `json:"flow_config"`
	SchedulingConfig SchedulingConfig `json:"scheduling_config"`

	// Health bookkeeping, updated on job completion
	LastRunAt           *time.Time `json:"last_run_at,omitempty"`
	LastRunStatus       JobStatus  `json:"last_run_status,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	ConsecutiveNoItems  int        `json:"consecutive_no_items"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PipelineStepConfig is the template definition of one pipeline step
type PipelineStepConfig struct {
	PipelineStepID string `json:"pipeline_step_id" validate:"required"`
	StepType       string `json:"step_type" validate:"required"`
	ExecutionOrder int    `json:"execution_order" validate:"gte=0"`
	Label          string `json:"label,omitempty"`
	SystemPrompt   string `json:"system_prompt,omitempty"`
	Provider       string `json:"provider,omitempty"`
	Model          string `json:"model,omitempty"`
	MaxTurns       int    `json:"max_turns,omitempty"`
}

// PipelineConfig maps pipeline_step_id to template configuration
type PipelineConfig map[string]*PipelineStepConfig

// Pipeline is the step-type template a flow instantiates
type Pipeline struct {
	ID             int64          `json:"pipeline_id"`
	Name           string         `json:"name" validate:"required"`
	PipelineConfig PipelineConfig `json:"pipeline_config"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// FlowStepID builds the flow-scoped step identifier
func FlowStepID(pipelineStepID string, flowID int64) string {
	return fmt.Sprintf("%s_%d", pipelineStepID, flowID)
}

// SplitFlowStepID returns the pipeline_step_id part of a flow_step_id
func SplitFlowStepID(flowStepID string) (string, bool) {
	idx := strings.LastIndex(flowStepID, "_")
	if idx <= 0 {
		return "", false
	}
	return flowStepID[:idx], true
}

// BuildFlowConfig instantiates a pipeline for a flow, applying per-step overrides
// keyed by pipeline_step_id.
func BuildFlowConfig(pipeline *Pipeline, flowID int64, overrides map[string]*StepConfig) FlowConfig {
	fc := make(FlowConfig, len(pipeline.PipelineConfig))
	for pipelineStepID, template := range pipeline.PipelineConfig {
		step := &StepConfig{
			PipelineStepID: pipelineStepID,
			FlowID:         flowID,
			StepType:       template.StepType,
			ExecutionOrder: template.ExecutionOrder,
		}
		if override, ok := overrides[pipelineStepID]; ok && override != nil {
			step.HandlerSlug = override.HandlerSlug
			step.HandlerConfig = override.HandlerConfig
			step.UserMessage = override.UserMessage
			step.DisabledTools = override.DisabledTools
			step.PromptQueue = override.PromptQueue
		}
		step.FlowStepID = FlowStepID(pipelineStepID, flowID)
		fc[step.FlowStepID] = step
	}
	return fc
}
