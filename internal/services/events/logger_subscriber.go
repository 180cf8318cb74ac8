package events

import (
	"context"
	"fmt"

	"github.com/saraichinwag/data-machine-sub002/internal/interfaces"
	"github.com/ternarybob/arbor"
)

// NewLoggerSubscriber creates an event handler that logs all events
func NewLoggerSubscriber(logger arbor.ILogger) interfaces.EventHandler {
	return func(ctx context.Context, event interfaces.Event) error {
		logEvent := logger.Debug().
			Str("event_type", string(event.Type))

		switch payload := event.Payload.(type) {
		case interfaces.JobEventPayload:
			logEvent = logEvent.Int64("job_id", payload.JobID).Str("flow_id", payload.FlowRef)
			if payload.Status != "" {
				logEvent = logEvent.Str("status", payload.Status)
			}
			if payload.Reason != "" {
				logEvent = logEvent.Str("reason", payload.Reason)
			}
		case interfaces.StepEventPayload:
			logEvent = logEvent.
				Int64("job_id", payload.JobID).
				Str("flow_step_id", payload.FlowStepID).
				Str("step_type", payload.StepType).
				Int("packets", payload.PacketCount)
			if payload.Error != "" {
				logEvent = logEvent.Str("error", payload.Error)
			}
		case interfaces.FlowScheduledPayload:
			logEvent = logEvent.Int64("flow_id", payload.FlowID).Str("interval", payload.Interval)
		}

		logEvent.Msg("Event published")

		return nil
	}
}

// SubscribeLoggerToAllEvents subscribes the logger to all known event types
func SubscribeLoggerToAllEvents(eventService interfaces.EventService, logger arbor.ILogger) error {
	subscriber := NewLoggerSubscriber(logger)

	for _, eventType := range interfaces.AllEventTypes {
		if err := eventService.Subscribe(eventType, subscriber); err != nil {
			return fmt.Errorf("failed to subscribe logger to event type %s: %w", eventType, err)
		}
	}

	logger.Debug().
		Int("event_type_count", len(interfaces.AllEventTypes)).
		Msg("Logger subscribed to all event types")

	return nil
}
