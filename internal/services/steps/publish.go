package steps

import (
	"context"

	"github.com/saraichinwag/data-machine-sub002/internal/interfaces"
	"github.com/saraichinwag/data-machine-sub002/internal/models"
	"github.com/saraichinwag/data-machine-sub002/internal/services/tools"
	"github.com/ternarybob/arbor"
)

// HandlerResultStep confirms that the preceding AI step ran the handler tool
// of this step. Publish and update steps share it.
type HandlerResultStep struct {
	packetType string
	logger     arbor.ILogger
}

// NewHandlerResultStep creates a step emitting packetType on a successful handler result
func NewHandlerResultStep(packetType string, logger arbor.ILogger) *HandlerResultStep {
	return &HandlerResultStep{packetType: packetType, logger: logger}
}

// Execute looks up the handler tool result. A missing or failed result
// produces no packets and the controller fails the job.
func (s *HandlerResultStep) Execute(ctx context.Context, request *interfaces.StepRequest) ([]models.DataPacket, error) {
	step, err := stepConfig(request)
	if err != nil {
		return nil, err
	}

	found, ok := tools.FindToolResult(request.Data, step.HandlerSlug)
	if !ok {
		s.logger.Warn().
			Int64("job_id", request.JobID).
			Str("flow_step_id", request.FlowStepID).
			Str("handler", step.HandlerSlug).
			Msg("No handler tool result found")
		return nil, nil
	}
	if found.IsFailure() {
		s.logger.Warn().
			Int64("job_id", request.JobID).
			Str("handler", step.HandlerSlug).
			Str("error", found.ErrorMessage()).
			Msg("Handler tool failed")
		return nil, nil
	}

	metadata := map[string]interface{}{
		"handler":                   step.HandlerSlug,
		models.PacketMetaFlowStepID: request.FlowStepID,
		models.PacketMetaToolName:   found.Metadata[models.PacketMetaToolName],
		models.PacketMetaToolResult: found.Metadata[models.PacketMetaToolResult],
	}
	if source := request.Engine.String(models.EngineKeySourceURL); source != "" {
		metadata[models.PacketMetaSourceURL] = source
	}

	packet := models.NewDataPacket(s.packetType, found.Content.Title, found.Content.Body, metadata)
	return models.PrependPackets([]models.DataPacket{packet}, request.Data), nil
}
