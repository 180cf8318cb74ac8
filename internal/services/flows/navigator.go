package flows

import "github.com/saraichinwag/data-machine-sub002/internal/models"

// FirstStep returns the flow_step_id at execution_order 0
func FirstStep(fc models.FlowConfig) (string, bool) {
	step, ok := fc.ByOrder(0)
	if !ok {
		return "", false
	}
	return step.FlowStepID, true
}

// NextStep returns the flow_step_id following current by execution order
func NextStep(fc models.FlowConfig, currentFlowStepID string) (string, bool) {
	current, ok := fc[currentFlowStepID]
	if !ok || current == nil {
		return "", false
	}
	next, ok := fc.ByOrder(current.ExecutionOrder + 1)
	if !ok {
		return "", false
	}
	return next.FlowStepID, true
}

// PreviousStep returns the flow_step_id preceding current by execution order
func PreviousStep(fc models.FlowConfig, currentFlowStepID string) (string, bool) {
	current, ok := fc[currentFlowStepID]
	if !ok || current == nil || current.ExecutionOrder == 0 {
		return "", false
	}
	prev, ok := fc.ByOrder(current.ExecutionOrder - 1)
	if !ok {
		return "", false
	}
	return prev.FlowStepID, true
}
