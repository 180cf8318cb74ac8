package interfaces

import (
	"context"

	"github.com/saraichinwag/data-machine-sub002/internal/models"
)

// StepRequest is the input handed to a step type
type StepRequest struct {
	JobID      int64
	FlowStepID string
	Data       []models.DataPacket
	Engine     models.EngineData
}

// StepType is one registered step implementation. It returns the full packet
// list with its own outputs prepended.
type StepType interface {
	Execute(ctx context.Context, request *StepRequest) ([]models.DataPacket, error)
}

// StepTypeFunc adapts a function to StepType
type StepTypeFunc func(ctx context.Context, request *StepRequest) ([]models.DataPacket, error)

// Execute calls f
func (f StepTypeFunc) Execute(ctx context.Context, request *StepRequest) ([]models.DataPacket, error) {
	return f(ctx, request)
}

// ToolHandler is the implementation behind a tool definition
type ToolHandler func(ctx context.Context, params map[string]interface{}, definition *models.ToolDefinition) (*models.ToolResult, error)

// EngineDataService is the read/merge accessor over per-job engine data
type EngineDataService interface {
	Get(ctx context.Context, jobID int64) (models.EngineData, error)
	Merge(ctx context.Context, jobID int64, patch models.EngineData) (models.EngineData, error)
	SetStatusOverride(ctx context.Context, jobID int64, status models.JobStatus) error
	Take(ctx context.Context, jobID int64, key string) (interface{}, bool, error)
}
