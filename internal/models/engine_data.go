package models

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Well-known EngineData keys
const (
	EngineKeyJob                = "job"
	EngineKeyFlow               = "flow"
	EngineKeyPipeline           = "pipeline"
	EngineKeyFlowConfig         = "flow_config"
	EngineKeyPipelineConfig     = "pipeline_config"
	EngineKeyJobStatus          = "job_status"
	EngineKeyJobStatusOverride  = "job_status_override"
	EngineKeyQueuedPromptBackup = "queued_prompt_backup"
	EngineKeySourceURL          = "source_url"
	EngineKeyImageURL           = "image_url"
	EngineKeyMaxAttempts        = "max_attempts"
)

// EngineData is the per-job mutable JSON context shared across step executions.
// Writers must go through MergeEngineData so concurrently recorded keys survive.
type EngineData map[string]interface{}

// QueuedPromptBackup records a prompt popped from a flow step's prompt queue
type QueuedPromptBackup struct {
	Prompt     string `json:"prompt"`
	FlowID     int64  `json:"flow_id"`
	FlowStepID string `json:"flow_step_id"`
}

// JobSummary is the job snapshot stored under the "job" key
type JobSummary struct {
	JobID      int64     `json:"job_id"`
	FlowID     string    `json:"flow_id"`
	PipelineID string    `json:"pipeline_id"`
	Source     JobSource `json:"source"`
	CreatedAt  string    `json:"created_at"`
}

// FlowSummary is the flow snapshot stored under the "flow" key
type FlowSummary struct {
	FlowID           int64            `json:"flow_id"`
	Name             string           `json:"name"`
	SchedulingConfig SchedulingConfig `json:"scheduling_config"`
}

// PipelineSummary is the pipeline snapshot stored under the "pipeline" key
type PipelineSummary struct {
	PipelineID int64  `json:"pipeline_id"`
	Name       string `json:"name"`
}

// Clone returns a deep copy of the engine data
func (e EngineData) Clone() EngineData {
	if e == nil {
		return EngineData{}
	}
	out, _ := deepCopyValue(map[string]interface{}(e)).(map[string]interface{})
	return EngineData(out)
}

// String returns the string value for key, or empty string
func (e EngineData) String(key string) string {
	switch v := e[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Int returns the integer value for key
func (e EngineData) Int(key string) (int64, bool) {
	return toInt64(e[key])
}

// Decode unmarshals the value under key into out via JSON
func (e EngineData) Decode(key string, out interface{}) (bool, error) {
	raw, ok := e[key]
	if !ok || raw == nil {
		return false, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return false, fmt.Errorf("failed to encode engine data key %s: %w", key, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("failed to decode engine data key %s: %w", key, err)
	}
	return true, nil
}

// FlowConfig returns the live flow_config copy
func (e EngineData) FlowConfig() (FlowConfig, error) {
	fc := FlowConfig{}
	if _, err := e.Decode(EngineKeyFlowConfig, &fc); err != nil {
		return nil, err
	}
	for id, step := range fc {
		if step != nil && step.FlowStepID == "" {
			step.FlowStepID = id
		}
	}
	return fc, nil
}

// PipelineConfig returns the live pipeline_config copy
func (e EngineData) PipelineConfig() (PipelineConfig, error) {
	pc := PipelineConfig{}
	if _, err := e.Decode(EngineKeyPipelineConfig, &pc); err != nil {
		return nil, err
	}
	return pc, nil
}

// StepConfig returns the flow step config from the live flow_config
func (e EngineData) StepConfig(flowStepID string) (*StepConfig, bool) {
	fc, err := e.FlowConfig()
	if err != nil {
		return nil, false
	}
	step, ok := fc[flowStepID]
	if !ok || step == nil {
		return nil, false
	}
	return step, true
}

// PipelineStep returns the pipeline template of a flow step
func (e EngineData) PipelineStep(pipelineStepID string) (*PipelineStepConfig, bool) {
	pc, err := e.PipelineConfig()
	if err != nil {
		return nil, false
	}
	step, ok := pc[pipelineStepID]
	if !ok || step == nil {
		return nil, false
	}
	return step, true
}

// JobSummary returns the job snapshot
func (e EngineData) JobSummary() (*JobSummary, bool) {
	var summary JobSummary
	ok, err := e.Decode(EngineKeyJob, &summary)
	if err != nil || !ok {
		return nil, false
	}
	return &summary, true
}

// StatusOverride returns the status written mid-execution by a step or tool.
// The job_status key only counts as an override when the dedicated marker is set,
// so unrelated writers of job_status are never mistaken for a pending override.
func (e EngineData) StatusOverride() (JobStatus, bool) {
	marker, _ := e[EngineKeyJobStatusOverride].(bool)
	if !marker {
		return "", false
	}
	status := e.String(EngineKeyJobStatus)
	if status == "" {
		return "", false
	}
	return JobStatus(status), true
}

// QueuedPromptBackup returns the prompt popped for this job, if any
func (e EngineData) QueuedPromptBackup() (*QueuedPromptBackup, bool) {
	var backup QueuedPromptBackup
	ok, err := e.Decode(EngineKeyQueuedPromptBackup, &backup)
	if err != nil || !ok || backup.Prompt == "" {
		return nil, false
	}
	return &backup, true
}

// StatusOverridePatch builds the merge patch that records a status override
func StatusOverridePatch(status JobStatus) EngineData {
	return EngineData{
		EngineKeyJobStatus:         string(status),
		EngineKeyJobStatusOverride: true,
	}
}

// MergeEngineData applies patch onto base using JSON merge-patch semantics:
// nested objects merge recursively, a nil value removes the key, anything else replaces.
// base is modified in place and returned.
func MergeEngineData(base EngineData, patch EngineData) EngineData {
	if base == nil {
		base = EngineData{}
	}
	mergeMaps(base, patch)
	return base
}

func mergeMaps(dst map[string]interface{}, src map[string]interface{}) {
	for key, value := range src {
		if value == nil {
			delete(dst, key)
			continue
		}
		srcMap, srcIsMap := asMap(value)
		if srcIsMap {
			if dstMap, dstIsMap := asMap(dst[key]); dstIsMap {
				mergeMaps(dstMap, srcMap)
				dst[key] = dstMap
				continue
			}
			fresh := map[string]interface{}{}
			mergeMaps(fresh, srcMap)
			dst[key] = fresh
			continue
		}
		dst[key] = deepCopyValue(value)
	}
}

func asMap(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case EngineData:
		return map[string]interface{}(m), true
	default:
		return nil, false
	}
}

func deepCopyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = deepCopyValue(val)
		}
		return out
	case EngineData:
		return deepCopyValue(map[string]interface{}(t))
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = deepCopyValue(val)
		}
		return out
	default:
		return v
	}
}

// ToEngineValue converts a typed value into its generic JSON form
// so it merges like data read back from storage.
func ToEngineValue(v interface{}) (interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}
