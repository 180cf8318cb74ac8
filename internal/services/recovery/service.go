package recovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/saraichinwag/data-machine-sub002/internal/common"
	"github.com/saraichinwag/data-machine-sub002/internal/interfaces"
	"github.com/saraichinwag/data-machine-sub002/internal/models"
	"github.com/saraichinwag/data-machine-sub002/internal/services/flows"
	"github.com/saraichinwag/data-machine-sub002/internal/services/prompts"
	"github.com/ternarybob/arbor"
)

// ActionRecoverStuckJobs is the scheduler action running both recovery passes
const ActionRecoverStuckJobs = "datamachine_recover_stuck_jobs"

// Recovery result actions
const (
	ActionApplied    = "applied"
	ActionFailed     = "failed"
	ActionSkipped    = "skipped"
	ActionWouldApply = "would_apply"
	ActionWouldFail  = "would_fail"
)

// Options narrows a recovery run
type Options struct {
	DryRun       bool    `json:"dry_run"`
	FlowID       int64   `json:"flow_id,omitempty"`       // 0 covers every flow
	TimeoutHours float64 `json:"timeout_hours,omitempty"` // 0 uses the configured default
}

// JobResult records what recovery did, or would do, to one job
type JobResult struct {
	JobID        int64            `json:"job_id"`
	FlowRef      string           `json:"flow_id"`
	Status       models.JobStatus `json:"status"`
	NewStatus    models.JobStatus `json:"new_status,omitempty"`
	Action       string           `json:"action"`
	Reason       string           `json:"reason,omitempty"`
	PromptBackup bool             `json:"prompt_backup,omitempty"`
	AgeHours     float64          `json:"age_hours,omitempty"`
}

// Report summarizes a recovery run
type Report struct {
	DryRun    bool        `json:"dry_run"`
	Overrides []JobResult `json:"overrides"`
	Timeouts  []JobResult `json:"timeouts"`
}

// Changed counts jobs whose status was changed
func (r *Report) Changed() int {
	changed := 0
	for _, results := range [][]JobResult{r.Overrides, r.Timeouts} {
		for _, result := range results {
			if result.Action == ActionApplied || result.Action == ActionFailed {
				changed++
			}
		}
	}
	return changed
}

// RetryResult describes a retried job
type RetryResult struct {
	JobID          int64            `json:"job_id"`
	PreviousStatus models.JobStatus `json:"previous_status"`
	Status         models.JobStatus `json:"status"`
	PromptRequeued bool             `json:"prompt_requeued"`
}

// Service reconciles jobs left in processing by a crash or a step that never returned
type Service struct {
	jobs       interfaces.JobStorage
	controller *flows.Controller
	prompts    *prompts.Queue
	events     interfaces.EventService
	logger     arbor.ILogger
	timeout    time.Duration
	now        func() time.Time
}

// NewService creates a recovery service
func NewService(jobs interfaces.JobStorage, controller *flows.Controller, promptQueue *prompts.Queue, events interfaces.EventService, config common.RecoveryConfig, logger arbor.ILogger) *Service {
	hours := config.TimeoutHours
	if hours <= 0 {
		hours = 2
	}
	return &Service{
		jobs:       jobs,
		controller: controller,
		prompts:    promptQueue,
		events:     events,
		logger:     logger,
		timeout:    hoursToDuration(hours),
		now:        time.Now,
	}
}

func hoursToDuration(hours float64) time.Duration {
	return time.Duration(hours * float64(time.Hour))
}

// RegisterSchedule binds the recovery action and runs it on interval
func (s *Service) RegisterSchedule(ctx context.Context, scheduler interfaces.TaskScheduler, interval string) error {
	scheduler.RegisterAction(ActionRecoverStuckJobs, func(ctx context.Context, raw json.RawMessage) error {
		var opts Options
		if len(raw) > 0 && string(raw) != "null" {
			if err := json.Unmarshal(raw, &opts); err != nil {
				return fmt.Errorf("invalid recovery args: %w", err)
			}
		}
		_, err := s.Recover(ctx, opts)
		return err
	})
	return scheduler.ScheduleRecurring(ctx, interval, ActionRecoverStuckJobs, Options{})
}

// Recover runs the override-drift pass followed by the timeout pass
func (s *Service) Recover(ctx context.Context, opts Options) (*Report, error) {
	report := &Report{DryRun: opts.DryRun}

	overrides, err := s.RecoverOverrides(ctx, opts)
	if err != nil {
		return nil, err
	}
	report.Overrides = overrides

	timeouts, err := s.RecoverTimeouts(ctx, opts)
	if err != nil {
		return nil, err
	}
	report.Timeouts = timeouts

	s.logger.Info().
		Bool("dry_run", opts.DryRun).
		Int64("flow_id", opts.FlowID).
		Int("overrides", len(overrides)).
		Int("timeouts", len(timeouts)).
		Int("changed", report.Changed()).
		Msg("Stuck job recovery finished")

	return report, nil
}

func (s *Service) processingJobs(ctx context.Context, flowID int64) ([]*models.Job, error) {
	opts := &interfaces.JobListOptions{BaseStatus: models.JobStatusProcessing}
	if flowID > 0 {
		opts.FlowRef = models.FormatRef(flowID)
	}
	jobs, err := s.jobs.ListJobs(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list processing jobs: %w", err)
	}
	return jobs, nil
}

// RecoverOverrides applies status overrides a step recorded before the process
// stopped. Non-terminal overrides are reported as skipped and left alone.
func (s *Service) RecoverOverrides(ctx context.Context, opts Options) ([]JobResult, error) {
	jobs, err := s.processingJobs(ctx, opts.FlowID)
	if err != nil {
		return nil, err
	}

	var results []JobResult
	for _, job := range jobs {
		override, ok := job.EngineData.StatusOverride()
		if !ok {
			continue
		}
		result := JobResult{
			JobID:     job.ID,
			FlowRef:   job.FlowRef,
			Status:    job.Status,
			NewStatus: override,
		}

		switch {
		case !override.IsTerminal():
			result.Action = ActionSkipped
			result.Reason = fmt.Sprintf("override %q is not a terminal status", override)
			result.NewStatus = ""
			s.logger.Warn().
				Int64("job_id", job.ID).
				Str("flow_id", job.FlowRef).
				Str("override", string(override)).
				Msg("Skipping job with invalid status override")
		case opts.DryRun:
			result.Action = ActionWouldApply
		default:
			applied, err := s.controller.CompleteJob(ctx, job.ID, override)
			if err != nil {
				return results, fmt.Errorf("failed to apply override to job %d: %w", job.ID, err)
			}
			if !applied {
				result.Action = ActionSkipped
				result.Reason = "job finalized concurrently"
				break
			}
			result.Action = ActionApplied
			s.publishRecovered(ctx, job.ID, job.FlowRef, override, "status_override")
		}
		results = append(results, result)
	}
	return results, nil
}

// RecoverTimeouts fails processing jobs without an override that are strictly
// older than the timeout, requeueing any prompt they popped.
func (s *Service) RecoverTimeouts(ctx context.Context, opts Options) ([]JobResult, error) {
	timeout := s.timeout
	if opts.TimeoutHours > 0 {
		timeout = hoursToDuration(opts.TimeoutHours)
	}

	jobs, err := s.processingJobs(ctx, opts.FlowID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	var results []JobResult
	for _, job := range jobs {
		if _, ok := job.EngineData.StatusOverride(); ok {
			continue
		}
		age := job.Age(now)
		if age <= timeout {
			continue
		}

		_, hasBackup := job.EngineData.QueuedPromptBackup()
		result := JobResult{
			JobID:        job.ID,
			FlowRef:      job.FlowRef,
			Status:       job.Status,
			NewStatus:    models.NewFailedStatus(flows.ReasonJobTimeout),
			PromptBackup: hasBackup,
			AgeHours:     age.Hours(),
		}
		if opts.DryRun {
			result.Action = ActionWouldFail
			results = append(results, result)
			continue
		}

		if err := s.controller.FailJob(ctx, job.ID, flows.ReasonJobTimeout, map[string]interface{}{
			"age":     age.Round(time.Second).String(),
			"timeout": timeout.String(),
		}); err != nil {
			return results, fmt.Errorf("failed to time out job %d: %w", job.ID, err)
		}
		result.Action = ActionFailed
		s.publishRecovered(ctx, job.ID, job.FlowRef, result.NewStatus, flows.ReasonJobTimeout)
		results = append(results, result)
	}
	return results, nil
}

// FailJob fails a processing job on operator request. A job that already
// failed is left as is.
func (s *Service) FailJob(ctx context.Context, jobID int64, reason string) error {
	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if reason == "" {
		reason = flows.ReasonManual
	}

	switch job.Status.Base() {
	case models.JobStatusFailed:
		return nil
	case models.JobStatusProcessing:
	default:
		return fmt.Errorf("%w: job %d is %s, only processing jobs can be failed", interfaces.ErrInvalidTransition, jobID, job.Status)
	}

	if err := s.controller.FailJob(ctx, jobID, reason, map[string]interface{}{"source": "manual"}); err != nil {
		return err
	}
	s.publishRecovered(ctx, jobID, job.FlowRef, models.NewFailedStatus(reason), reason)
	return nil
}

// RetryJob marks a failed or processing job "failed - retry" and requeues its
// prompt backup so the next run picks the work up. force accepts any status.
func (s *Service) RetryJob(ctx context.Context, jobID int64, force bool) (*RetryResult, error) {
	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	base := job.Status.Base()
	if !force && base != models.JobStatusFailed && base != models.JobStatusProcessing {
		return nil, fmt.Errorf("%w: job %d is %s, retry requires failed or processing (use force)", interfaces.ErrInvalidTransition, jobID, job.Status)
	}

	status := models.NewFailedStatus(flows.ReasonRetry)
	if err := s.jobs.ForceStatus(ctx, jobID, status); err != nil {
		return nil, err
	}

	requeued, err := s.prompts.RequeueBackup(ctx, jobID)
	if err != nil {
		return nil, err
	}

	s.logger.WithCorrelationId(strconv.FormatInt(jobID, 10)).Info().
		Int64("job_id", jobID).
		Str("previous_status", string(job.Status)).
		Bool("prompt_requeued", requeued).
		Bool("force", force).
		Msg("Job marked for retry")

	s.publishRecovered(ctx, jobID, job.FlowRef, status, flows.ReasonRetry)

	return &RetryResult{
		JobID:          jobID,
		PreviousStatus: job.Status,
		Status:         status,
		PromptRequeued: requeued,
	}, nil
}

func (s *Service) publishRecovered(ctx context.Context, jobID int64, flowRef string, status models.JobStatus, reason string) {
	if s.events == nil {
		return
	}
	err := s.events.Publish(ctx, interfaces.Event{
		Type: interfaces.EventJobRecovered,
		Payload: interfaces.JobEventPayload{
			JobID:   jobID,
			FlowRef: flowRef,
			Status:  string(status),
			Reason:  reason,
		},
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn().Err(err).Int64("job_id", jobID).Msg("Failed to publish recovery event")
	}
}
