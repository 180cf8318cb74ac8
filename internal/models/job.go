package models

import (
	"strconv"
	"strings"
	"time"
)

// JobStatus is a compound status string: a base token optionally followed by " - <reason>".
// Examples: "processing", "failed - empty_data_packet_returned", "agent_skipped - duplicate".
type JobStatus string

// Base job status tokens
const (
	JobStatusPending          JobStatus = "pending"
	JobStatusProcessing       JobStatus = "processing"
	JobStatusCompleted        JobStatus = "completed"
	JobStatusCompletedNoItems JobStatus = "completed_no_items"
	JobStatusFailed           JobStatus = "failed"
	JobStatusAgentSkipped     JobStatus = "agent_skipped"
)

// statusReasonSeparator separates the base token from the reason
const statusReasonSeparator = " - "

// builtinTerminalStatuses lists the base tokens that end a job
var builtinTerminalStatuses = map[JobStatus]bool{
	JobStatusCompleted:        true,
	JobStatusCompletedNoItems: true,
	JobStatusFailed:           true,
	JobStatusAgentSkipped:     true,
}

// extensionTerminalStatuses holds extra terminal tokens registered at startup
var extensionTerminalStatuses = map[JobStatus]bool{}

// RegisterTerminalStatus adds an extension token to the terminal set.
// Must be called during startup, before jobs are processed.
func RegisterTerminalStatus(token string) {
	token = strings.TrimSpace(token)
	if token == "" {
		return
	}
	extensionTerminalStatuses[JobStatus(token)] = true
}

// NewStatusWithReason builds a compound status from a base token and reason
func NewStatusWithReason(base JobStatus, reason string) JobStatus {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return base
	}
	return JobStatus(string(base) + statusReasonSeparator + reason)
}

// NewFailedStatus returns "failed - <reason>"
func NewFailedStatus(reason string) JobStatus {
	return NewStatusWithReason(JobStatusFailed, reason)
}

// Base returns the base token of the status
func (s JobStatus) Base() JobStatus {
	str := strings.TrimSpace(string(s))
	if idx := strings.Index(str, statusReasonSeparator); idx >= 0 {
		return JobStatus(strings.TrimSpace(str[:idx]))
	}
	return JobStatus(str)
}

// Reason returns the reason suffix, or an empty string
func (s JobStatus) Reason() string {
	str := string(s)
	if idx := strings.Index(str, statusReasonSeparator); idx >= 0 {
		return strings.TrimSpace(str[idx+len(statusReasonSeparator):])
	}
	return ""
}

// IsTerminal reports whether the base token ends a job
func (s JobStatus) IsTerminal() bool {
	base := s.Base()
	return builtinTerminalStatuses[base] || extensionTerminalStatuses[base]
}

// IsFailed reports whether the base token is failed
func (s JobStatus) IsFailed() bool {
	return s.Base() == JobStatusFailed
}

// String returns the raw status string
func (s JobStatus) String() string {
	return string(s)
}

// JobSource identifies what created a job
type JobSource string

const (
	JobSourceFlow   JobSource = "flow"
	JobSourceChat   JobSource = "chat"
	JobSourceSystem JobSource = "system"
	JobSourceAPI    JobSource = "api"
	JobSourceDirect JobSource = "direct"
)

// DirectRef is the pipeline/flow reference used by ephemeral executions
const DirectRef = "direct"

// FormatRef converts a numeric identifier into a reference string
func FormatRef(id int64) string {
	return strconv.FormatInt(id, 10)
}

// ParseRef returns the numeric identifier of a reference.
// Returns false for the direct sentinel and for malformed refs.
func ParseRef(ref string) (int64, bool) {
	if ref == "" || ref == DirectRef {
		return 0, false
	}
	id, err := strconv.ParseInt(ref, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// Job is the durable record of a single workflow execution
type Job struct {
	ID          int64      `json:"job_id"`
	PipelineRef string     `json:"pipeline_ref"`
	FlowRef     string     `json:"flow_ref"`
	Source      JobSource  `json:"source"`
	Label       string     `json:"label,omitempty"`
	Status      JobStatus  `json:"status"`
	BaseStatus  JobStatus  `json:"base_status"` // denormalized for queries
	EngineData  EngineData `json:"engine_data,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// SetStatus updates Status and the denormalized BaseStatus together
func (j *Job) SetStatus(status JobStatus) {
	j.Status = status
	j.BaseStatus = status.Base()
}

// IsDirect reports whether the job runs without saved flow/pipeline records
func (j *Job) IsDirect() bool {
	return j.FlowRef == DirectRef
}

// FlowID returns the numeric flow id, or 0 for direct jobs
func (j *Job) FlowID() int64 {
	id, _ := ParseRef(j.FlowRef)
	return id
}

// PipelineID returns the numeric pipeline id, or 0 for direct jobs
func (j *Job) PipelineID() int64 {
	id, _ := ParseRef(j.PipelineRef)
	return id
}

// Age returns how long ago the job was created
func (j *Job) Age(now time.Time) time.Duration {
	return now.Sub(j.CreatedAt)
}
