package flows

import (
	"context"
	"errors"
	"time"

	"github.com/saraichinwag/data-machine-sub002/internal/interfaces"
	"github.com/saraichinwag/data-machine-sub002/internal/models"
	"github.com/ternarybob/arbor"
)

// HealthRecorder keeps per-flow run bookkeeping up to date from completion events
type HealthRecorder struct {
	flows  interfaces.FlowStorage
	logger arbor.ILogger
}

// NewHealthRecorder creates a health recorder
func NewHealthRecorder(flows interfaces.FlowStorage, logger arbor.ILogger) *HealthRecorder {
	return &HealthRecorder{flows: flows, logger: logger}
}

// Subscribe attaches the recorder to job completion events. Recovery finalizes
// through the controller, so recovered jobs arrive here as completions too.
func (h *HealthRecorder) Subscribe(events interfaces.EventService) error {
	return events.Subscribe(interfaces.EventJobCompleted, h.handle)
}

func (h *HealthRecorder) handle(ctx context.Context, event interfaces.Event) error {
	payload, ok := event.Payload.(interfaces.JobEventPayload)
	if !ok {
		return nil
	}
	flowID, ok := models.ParseRef(payload.FlowRef)
	if !ok {
		return nil
	}
	return h.Record(ctx, flowID, models.JobStatus(payload.Status))
}

// Record applies one run outcome to the flow's health fields
func (h *HealthRecorder) Record(ctx context.Context, flowID int64, status models.JobStatus) error {
	_, err := h.flows.UpdateFlow(ctx, flowID, func(flow *models.Flow) error {
		now := time.Now().UTC()
		flow.LastRunAt = &now
		flow.LastRunStatus = status

		switch status.Base() {
		case models.JobStatusFailed:
			flow.ConsecutiveFailures++
			flow.ConsecutiveNoItems = 0
		case models.JobStatusCompletedNoItems:
			flow.ConsecutiveNoItems++
			flow.ConsecutiveFailures = 0
		default:
			flow.ConsecutiveFailures = 0
			flow.ConsecutiveNoItems = 0
		}
		return nil
	})
	if errors.Is(err, interfaces.ErrFlowNotFound) {
		return nil
	}
	if err != nil {
		h.logger.Warn().Err(err).Int64("flow_id", flowID).Msg("Failed to record flow health")
		return err
	}

	h.logger.Debug().
		Int64("flow_id", flowID).
		Str("status", string(status)).
		Msg("Flow health recorded")
	return nil
}
