package flows

// Scheduler action names
const (
	ActionRunFlow     = "datamachine_run_flow"
	ActionExecuteStep = "datamachine_execute_step"
)

// Failure reasons attached to "failed - <reason>"
const (
	ReasonNoFirstStep           = "no_first_step"
	ReasonStepTypeNotFound      = "step_type_not_found"
	ReasonEmptyDataPacket       = "empty_data_packet_returned"
	ReasonStepExecutionFailed   = "step_execution_failed"
	ReasonInvalidStepOutput     = "invalid_step_output"
	ReasonInvalidStatusOverride = "invalid_status_override"
	ReasonFlowNotFound          = "flow_not_found"
	ReasonPipelineNotFound      = "pipeline_not_found"
	ReasonStepConfigNotFound    = "step_config_not_found"
	ReasonJobTimeout            = "job_timeout"
	ReasonManual                = "manual"
	ReasonRetry                 = "retry"
)

// RunFlowArgs are the arguments of ActionRunFlow. JobID is set when the job was
// created ahead of time (run-now); scheduled runs create their own job.
type RunFlowArgs struct {
	FlowID int64 `json:"flow_id"`
	JobID  int64 `json:"job_id,omitempty"`
}

// ExecuteStepArgs are the arguments of ActionExecuteStep
type ExecuteStepArgs struct {
	JobID      int64  `json:"job_id"`
	FlowStepID string `json:"flow_step_id"`
}
