package prompts

import (
	"context"
	"fmt"

	"github.com/saraichinwag/data-machine-sub002/internal/interfaces"
	"github.com/saraichinwag/data-machine-sub002/internal/models"
	"github.com/ternarybob/arbor"
)

// Queue manages the FIFO prompt queues stored on AI flow steps
type Queue struct {
	flowStorage interfaces.FlowStorage
	engineData  interfaces.EngineDataService
	logger      arbor.ILogger
}

// NewQueue creates a new prompt queue service
func NewQueue(flowStorage interfaces.FlowStorage, engineData interfaces.EngineDataService, logger arbor.ILogger) *Queue {
	return &Queue{
		flowStorage: flowStorage,
		engineData:  engineData,
		logger:      logger,
	}
}

func stepOf(flow *models.Flow, flowStepID string) (*models.StepConfig, error) {
	step, ok := flow.FlowConfig[flowStepID]
	if !ok || step == nil {
		return nil, fmt.Errorf("flow %d has no step %s", flow.ID, flowStepID)
	}
	return step, nil
}

// Pop removes and returns the head of the step's queue. ok is false when the queue is empty.
func (q *Queue) Pop(ctx context.Context, flowID int64, flowStepID string) (prompt string, ok bool, err error) {
	_, err = q.flowStorage.UpdateFlow(ctx, flowID, func(flow *models.Flow) error {
		prompt, ok = "", false
		step, err := stepOf(flow, flowStepID)
		if err != nil {
			return err
		}
		if len(step.PromptQueue) == 0 {
			return nil
		}
		prompt = step.PromptQueue[0]
		step.PromptQueue = step.PromptQueue[1:]
		ok = true
		return nil
	})
	if err != nil {
		return "", false, err
	}
	return prompt, ok, nil
}

// Append adds a prompt at the tail of the step's queue
func (q *Queue) Append(ctx context.Context, flowID int64, flowStepID string, prompt string) error {
	if prompt == "" {
		return fmt.Errorf("prompt is required")
	}
	_, err := q.flowStorage.UpdateFlow(ctx, flowID, func(flow *models.Flow) error {
		step, err := stepOf(flow, flowStepID)
		if err != nil {
			return err
		}
		step.PromptQueue = append(step.PromptQueue, prompt)
		return nil
	})
	return err
}

// List returns the step's queued prompts
func (q *Queue) List(ctx context.Context, flowID int64, flowStepID string) ([]string, error) {
	flow, err := q.flowStorage.GetFlow(ctx, flowID)
	if err != nil {
		return nil, err
	}
	step, err := stepOf(flow, flowStepID)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), step.PromptQueue...), nil
}

// RequeueBackup re-appends a job's popped prompt to the tail of its queue.
// The backup is claimed atomically, so the prompt is requeued at most once no
// matter how many failure paths observe it. Returns whether a prompt was requeued.
func (q *Queue) RequeueBackup(ctx context.Context, jobID int64) (bool, error) {
	value, ok, err := q.engineData.Take(ctx, jobID, models.EngineKeyQueuedPromptBackup)
	if err != nil || !ok {
		return false, err
	}

	backup, ok := models.EngineData{models.EngineKeyQueuedPromptBackup: value}.QueuedPromptBackup()
	if !ok {
		q.logger.Warn().Int64("job_id", jobID).Msg("Discarding malformed queued prompt backup")
		return false, nil
	}

	if err := q.Append(ctx, backup.FlowID, backup.FlowStepID, backup.Prompt); err != nil {
		// Put the claim back so a later retry can still restore the prompt
		if _, mergeErr := q.engineData.Merge(ctx, jobID, models.EngineData{models.EngineKeyQueuedPromptBackup: value}); mergeErr != nil {
			q.logger.Error().Err(mergeErr).Int64("job_id", jobID).Msg("Failed to restore queued prompt backup")
		}
		return false, fmt.Errorf("failed to requeue prompt for job %d: %w", jobID, err)
	}

	q.logger.Info().
		Int64("job_id", jobID).
		Int64("flow_id", backup.FlowID).
		Str("flow_step_id", backup.FlowStepID).
		Msg("Queued prompt restored to flow")
	return true, nil
}

// RecordBackup stores the popped prompt in the job's engine data
func (q *Queue) RecordBackup(ctx context.Context, jobID int64, backup models.QueuedPromptBackup) error {
	_, err := q.engineData.Merge(ctx, jobID, models.EngineData{models.EngineKeyQueuedPromptBackup: backup})
	return err
}
