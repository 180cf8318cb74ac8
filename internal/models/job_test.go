package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJobStatus_BaseAndReason(t *testing.T) {
	tests := []struct {
		name       string
		status     JobStatus
		wantBase   JobStatus
		wantReason string
		terminal   bool
	}{
		{"plain processing", "processing", JobStatusProcessing, "", false},
		{"failed with reason", "failed - empty_data_packet_returned", JobStatusFailed, "empty_data_packet_returned", true},
		{"agent skipped", "agent_skipped - duplicate content", JobStatusAgentSkipped, "duplicate content", true},
		{"completed no items", "completed_no_items", JobStatusCompletedNoItems, "", true},
		{"unknown token", "paused", "paused", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantBase, tt.status.Base())
			assert.Equal(t, tt.wantReason, tt.status.Reason())
			assert.Equal(t, tt.terminal, tt.status.IsTerminal())
		})
	}
}

func TestJobStatus_ExtensionTerminal(t *testing.T) {
	status := JobStatus("archived - old")
	assert.False(t, status.IsTerminal())

	RegisterTerminalStatus("archived")
	defer delete(extensionTerminalStatuses, "archived")

	assert.True(t, status.IsTerminal())
}

func TestNewFailedStatus(t *testing.T) {
	assert.Equal(t, JobStatus("failed - job_timeout"), NewFailedStatus("job_timeout"))
	assert.Equal(t, JobStatusFailed, NewFailedStatus("  "))
}

func TestParseRef(t *testing.T) {
	id, ok := ParseRef("42")
	assert.True(t, ok)
	assert.Equal(t, int64(42), id)

	_, ok = ParseRef(DirectRef)
	assert.False(t, ok)

	_, ok = ParseRef("abc")
	assert.False(t, ok)
}

func TestFlowConfig_Ordered(t *testing.T) {
	fc := FlowConfig{
		"publish_1": {StepType: StepTypePublish, ExecutionOrder: 2},
		"fetch_1":   {StepType: StepTypeFetch, ExecutionOrder: 0},
		"ai_1":      {StepType: StepTypeAI, ExecutionOrder: 1},
	}

	ordered := fc.Ordered()
	assert.Len(t, ordered, 3)
	assert.Equal(t, "fetch_1", ordered[0].FlowStepID)
	assert.Equal(t, "ai_1", ordered[1].FlowStepID)
	assert.Equal(t, "publish_1", ordered[2].FlowStepID)

	step, ok := fc.ByOrder(1)
	assert.True(t, ok)
	assert.Equal(t, StepTypeAI, step.StepType)

	_, ok = fc.ByOrder(3)
	assert.False(t, ok)
}

func TestSplitFlowStepID(t *testing.T) {
	id, ok := SplitFlowStepID(FlowStepID("step_fetch", 7))
	assert.True(t, ok)
	assert.Equal(t, "step_fetch", id)
}
