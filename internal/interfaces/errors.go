package interfaces

import "errors"

var (
	// ErrJobNotFound is returned when a job record does not exist
	ErrJobNotFound = errors.New("job not found")

	// ErrFlowNotFound is returned when a flow record does not exist
	ErrFlowNotFound = errors.New("flow not found")

	// ErrPipelineNotFound is returned when a pipeline record does not exist
	ErrPipelineNotFound = errors.New("pipeline not found")

	// ErrSessionNotFound is returned when a chat session does not exist
	ErrSessionNotFound = errors.New("chat session not found")

	// ErrInvalidTransition is returned when a status change violates the job lifecycle
	ErrInvalidTransition = errors.New("invalid job status transition")
)
