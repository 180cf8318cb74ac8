package interfaces

import "context"

// EventType represents different event types in the system
type EventType string

const (
	// EventJobCreated is published when a flow run creates a job
	EventJobCreated EventType = "job_created"

	// EventJobStarted is published when a job moves to processing
	EventJobStarted EventType = "job_started"

	// EventStepExecuted is published after each step returns
	EventStepExecuted EventType = "step_executed"

	// EventJobCompleted is published once a job reaches a terminal status
	EventJobCompleted EventType = "job_completed"

	// EventJobRecovered is published when recovery finalizes a stuck job
	EventJobRecovered EventType = "job_recovered"

	// EventFlowScheduled is published after a flow's schedule changes
	EventFlowScheduled EventType = "flow_scheduled"
)

// AllEventTypes lists every event type the engine publishes
var AllEventTypes = []EventType{
	EventJobCreated,
	EventJobStarted,
	EventStepExecuted,
	EventJobCompleted,
	EventJobRecovered,
	EventFlowScheduled,
}

// JobEventPayload is the payload of job lifecycle events
type JobEventPayload struct {
	JobID   int64  `json:"job_id"`
	FlowRef string `json:"flow_id"`
	Status  string `json:"status,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// JobCompletedPayload is the payload of EventJobCompleted
type JobCompletedPayload = JobEventPayload

// StepEventPayload is the payload of EventStepExecuted
type StepEventPayload struct {
	JobID       int64  `json:"job_id"`
	FlowStepID  string `json:"flow_step_id"`
	StepType    string `json:"step_type"`
	PacketCount int    `json:"packet_count"`
	Error       string `json:"error,omitempty"`
}

// FlowScheduledPayload is the payload of EventFlowScheduled
type FlowScheduledPayload struct {
	FlowID   int64  `json:"flow_id"`
	Interval string `json:"interval"`
}

// Event represents a system event
type Event struct {
	Type    EventType
	Payload interface{}
}

// EventHandler is a function that handles events
type EventHandler func(ctx context.Context, event Event) error

// EventService manages pub/sub event bus
type EventService interface {
	// Subscribe to an event type
	Subscribe(eventType EventType, handler EventHandler) error

	// Publish an event to all subscribers
	Publish(ctx context.Context, event Event) error

	// PublishSync publishes event and waits for all handlers to complete
	PublishSync(ctx context.Context, event Event) error

	// Close shuts down the event service
	Close() error
}
