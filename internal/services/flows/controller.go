package flows

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
	"github.com/saraichinwag/data-machine-sub002/internal/services/packets"
	"github.com/saraichinwag/data-machine-sub002/internal/services/prompts"
	"github.com/ternarybob/arbor"
)

// Controller drives a job from bootstrap to a terminal status, one step per
// scheduler action. Every step completion enqueues its successor, so steps of
// the same job never run concurrently.
type Controller struct {
	jobs      interfaces.JobStorage
	flows     interfaces.FlowStorage
	pipelines interfaces.PipelineStorage
	processed interfaces.ProcessedItemStorage
	packets   *packets.Service
	engine    interfaces.EngineDataService
	prompts   *prompts.Queue
	scheduler interfaces.TaskScheduler
	events    interfaces.EventService
	registry  *StepTypeRegistry
	logger    arbor.ILogger

	stepDelay      time.Duration
	stepTimeout    time.Duration
	purgeOnFailure bool
}

// NewController creates a new flow execution controller
func NewController(
	storage interfaces.StorageManager,
	engine interfaces.EngineDataService,
	packetService *packets.Service,
	promptQueue *prompts.Queue,
	scheduler interfaces.TaskScheduler,
	events interfaces.EventService,
	registry *StepTypeRegistry,
	config common.EngineConfig,
	logger arbor.ILogger,
) *Controller {
	return &Controller{
		jobs:           storage.JobStorage(),
		flows:          storage.FlowStorage(),
		pipelines:      storage.PipelineStorage(),
		processed:      storage.ProcessedItemStorage(),
		packets:        packetService,
		engine:         engine,
		prompts:        promptQueue,
		scheduler:      scheduler,
		events:         events,
		registry:       registry,
		logger:         logger,
		stepDelay:      common.ParseDuration(config.StepDelay, 0),
		stepTimeout:    common.ParseDuration(config.StepTimeout, 0),
		purgeOnFailure: config.PurgePacketsOnFailure,
	}
}

// RegisterActions binds the controller's actions on the scheduler
func (c *Controller) RegisterActions() {
	c.scheduler.RegisterAction(ActionRunFlow, c.handleRunFlow)
	c.scheduler.RegisterAction(ActionExecuteStep, c.handleExecuteStep)
}

func (c *Controller) jobLogger(jobID int64) arbor.ILogger {
	return c.logger.WithCorrelationId(strconv.FormatInt(jobID, 10))
}

// Schedule replaces the flow's trigger. It cancels any existing recurring or
// one-time trigger, registers the new one and persists the scheduling config.
// Calling it repeatedly with the same config is safe.
func (c *Controller) Schedule(ctx context.Context, flowID int64, config models.SchedulingConfig) error {
	if _, err := c.flows.GetFlow(ctx, flowID); err != nil {
		return err
	}
	if config.Interval == "" {
		config.Interval = models.IntervalManual
	}

	args := RunFlowArgs{FlowID: flowID}
	if err := c.scheduler.Cancel(ctx, ActionRunFlow, args); err != nil {
		return fmt.Errorf("failed to cancel existing schedule: %w", err)
	}

	switch {
	case config.IsManual():
		config.Timestamp = nil
	case config.IsOneTime():
		if config.Timestamp == nil {
			return fmt.Errorf("one_time schedule requires a timestamp")
		}
		delay := time.Until(*config.Timestamp)
		if _, err := c.scheduler.ScheduleOnce(ctx, delay, ActionRunFlow, args); err != nil {
			return err
		}
	default:
		if _, err := common.ResolveCronSpec(config.Interval); err != nil {
			return err
		}
		config.Timestamp = nil
		if err := c.scheduler.ScheduleRecurring(ctx, config.Interval, ActionRunFlow, args); err != nil {
			return err
		}
	}

	if _, err := c.flows.UpdateFlow(ctx, flowID, func(flow *models.Flow) error {
		flow.SchedulingConfig = config
		return nil
	}); err != nil {
		return err
	}

	c.logger.Info().
		Int64("flow_id", flowID).
		Str("interval", config.Interval).
		Msg("Flow schedule updated")

	_ = c.events.Publish(ctx, interfaces.Event{
		Type:    interfaces.EventFlowScheduled,
		Payload: interfaces.FlowScheduledPayload{FlowID: flowID, Interval: config.Interval},
	})
	return nil
}

// RestoreSchedules re-registers recurring triggers of every saved flow. Recurring
// triggers live in memory and must be rebuilt at startup; one-time triggers are
// durable queue messages and are left alone.
func (c *Controller) RestoreSchedules(ctx context.Context) error {
	flows, err := c.flows.ListFlows(ctx, nil)
	if err != nil {
		return err
	}
	restored := 0
	for _, flow := range flows {
		if flow.SchedulingConfig.IsManual() || flow.SchedulingConfig.IsOneTime() {
			continue
		}
		if err := c.scheduler.ScheduleRecurring(ctx, flow.SchedulingConfig.Interval, ActionRunFlow, RunFlowArgs{FlowID: flow.ID}); err != nil {
			c.logger.Warn().Err(err).Int64("flow_id", flow.ID).Msg("Failed to restore flow schedule")
			continue
		}
		restored++
	}
	c.logger.Info().Int("flows", restored).Msg("Flow schedules restored")
	return nil
}

// RunNow creates a pending job and enqueues its bootstrap immediately
func (c *Controller) RunNow(ctx context.Context, flowID int64, source models.JobSource) (*models.Job, error) {
	flow, err := c.flows.GetFlow(ctx, flowID)
	if err != nil {
		return nil, err
	}
	if source == "" {
		source = models.JobSourceAPI
	}

	job, err := c.jobs.CreateJob(ctx, &models.Job{
		FlowRef:     models.FormatRef(flow.ID),
		PipelineRef: models.FormatRef(flow.PipelineID),
		Source:      source,
		Label:       flow.Name,
	})
	if err != nil {
		return nil, err
	}
	c.publishJob(ctx, interfaces.EventJobCreated, job, "")

	if _, err := c.scheduler.ScheduleOnce(ctx, 0, ActionRunFlow, RunFlowArgs{FlowID: flowID, JobID: job.ID}); err != nil {
		return nil, err
	}
	return job, nil
}

// RunLater schedules a single run of the flow at the given time
func (c *Controller) RunLater(ctx context.Context, flowID int64, at time.Time) error {
	return c.Schedule(ctx, flowID, models.SchedulingConfig{Interval: models.IntervalOneTime, Timestamp: &at})
}

func (c *Controller) handleRunFlow(ctx context.Context, raw json.RawMessage) error {
	var args RunFlowArgs
	if err := decodeArgs(raw, &args); err != nil {
		return err
	}
	return c.Bootstrap(ctx, args.FlowID, args.JobID)
}

// Bootstrap starts a flow run: creates the job when jobID is 0, moves it to
// processing, snapshots configs into engine data and schedules step 0.
func (c *Controller) Bootstrap(ctx context.Context, flowID int64, jobID int64) error {
	flow, flowErr := c.flows.GetFlow(ctx, flowID)

	var job *models.Job
	var err error
	if jobID > 0 {
		job, err = c.jobs.GetJob(ctx, jobID)
		if errors.Is(err, interfaces.ErrJobNotFound) {
			c.logger.Warn().Int64("job_id", jobID).Msg("Job to bootstrap no longer exists")
			return nil
		}
		if err != nil {
			return err
		}
	} else {
		if flowErr != nil {
			if errors.Is(flowErr, interfaces.ErrFlowNotFound) {
				c.logger.Warn().Int64("flow_id", flowID).Msg("Scheduled flow no longer exists")
				return nil
			}
			return flowErr
		}
		job, err = c.jobs.CreateJob(ctx, &models.Job{
			FlowRef:     models.FormatRef(flow.ID),
			PipelineRef: models.FormatRef(flow.PipelineID),
			Source:      models.JobSourceFlow,
			Label:       flow.Name,
		})
		if err != nil {
			return err
		}
		c.publishJob(ctx, interfaces.EventJobCreated, job, "")
	}

	started, err := c.jobs.StartJob(ctx, job.ID)
	if err != nil {
		return err
	}
	if !started {
		// Redelivered bootstrap of a job that already started
		c.jobLogger(job.ID).Debug().Int64("job_id", job.ID).Str("status", string(job.Status)).Msg("Job already started, skipping bootstrap")
		return nil
	}
	c.publishJob(ctx, interfaces.EventJobStarted, job, "")

	if flowErr != nil {
		return c.FailJob(ctx, job.ID, ReasonFlowNotFound, map[string]interface{}{"error": flowErr.Error()})
	}

	pipeline, err := c.pipelines.GetPipeline(ctx, flow.PipelineID)
	if err != nil {
		return c.FailJob(ctx, job.ID, ReasonPipelineNotFound, map[string]interface{}{"error": err.Error()})
	}

	snapshot := models.EngineData{
		models.EngineKeyJob: models.JobSummary{
			JobID:      job.ID,
			FlowID:     job.FlowRef,
			PipelineID: job.PipelineRef,
			Source:     job.Source,
			CreatedAt:  job.CreatedAt.Format(time.RFC3339),
		},
		models.EngineKeyFlow: models.FlowSummary{
			FlowID:           flow.ID,
			Name:             flow.Name,
			SchedulingConfig: flow.SchedulingConfig,
		},
		models.EngineKeyPipeline: models.PipelineSummary{
			PipelineID: pipeline.ID,
			Name:       pipeline.Name,
		},
		models.EngineKeyFlowConfig:     flow.FlowConfig,
		models.EngineKeyPipelineConfig: pipeline.PipelineConfig,
	}
	return c.startSteps(ctx, job, flow.FlowConfig, snapshot)
}

// RunDirect executes an ephemeral pipeline without saved flow or pipeline records
func (c *Controller) RunDirect(ctx context.Context, pipelineConfig models.PipelineConfig, flowConfig models.FlowConfig, label string) (*models.Job, error) {
	if len(flowConfig) == 0 {
		return nil, fmt.Errorf("flow config is required")
	}

	job, err := c.jobs.CreateJob(ctx, &models.Job{
		FlowRef:     models.DirectRef,
		PipelineRef: models.DirectRef,
		Source:      models.JobSourceDirect,
		Label:       label,
	})
	if err != nil {
		return nil, err
	}
	c.publishJob(ctx, interfaces.EventJobCreated, job, "")

	if _, err := c.jobs.StartJob(ctx, job.ID); err != nil {
		return nil, err
	}
	c.publishJob(ctx, interfaces.EventJobStarted, job, "")

	for id, step := range flowConfig {
		if step != nil && step.FlowStepID == "" {
			step.FlowStepID = id
		}
	}

	snapshot := models.EngineData{
		models.EngineKeyJob: models.JobSummary{
			JobID:      job.ID,
			FlowID:     models.DirectRef,
			PipelineID: models.DirectRef,
			Source:     models.JobSourceDirect,
			CreatedAt:  job.CreatedAt.Format(time.RFC3339),
		},
		models.EngineKeyFlowConfig:     flowConfig,
		models.EngineKeyPipelineConfig: pipelineConfig,
	}
	if err := c.startSteps(ctx, job, flowConfig, snapshot); err != nil {
		return nil, err
	}
	return job, nil
}

// startSteps writes the initial snapshot and schedules the entry step
func (c *Controller) startSteps(ctx context.Context, job *models.Job, fc models.FlowConfig, snapshot models.EngineData) error {
	if _, err := c.engine.Merge(ctx, job.ID, snapshot); err != nil {
		return err
	}

	firstStepID, ok := FirstStep(fc)
	if !ok {
		return c.FailJob(ctx, job.ID, ReasonNoFirstStep, nil)
	}

	c.jobLogger(job.ID).Info().
		Int64("job_id", job.ID).
		Str("flow_id", job.FlowRef).
		Str("flow_step_id", firstStepID).
		Msg("Job bootstrapped")

	return c.ScheduleNextStep(ctx, job, firstStepID, nil)
}

// ScheduleNextStep stages packets for the job and enqueues the step
func (c *Controller) ScheduleNextStep(ctx context.Context, job *models.Job, flowStepID string, dataPackets []models.DataPacket) error {
	if err := c.packets.Store(ctx, job.ID, job.FlowRef, dataPackets); err != nil {
		return err
	}
	_, err := c.scheduler.ScheduleOnce(ctx, c.stepDelay, ActionExecuteStep, ExecuteStepArgs{JobID: job.ID, FlowStepID: flowStepID})
	return err
}

func (c *Controller) handleExecuteStep(ctx context.Context, raw json.RawMessage) error {
	var args ExecuteStepArgs
	if err := decodeArgs(raw, &args); err != nil {
		return err
	}
	return c.ExecuteStep(ctx, args.JobID, args.FlowStepID)
}

// resolveStepConfig reads the step from the live engine data, falling back to
// the flow record and merging it back so later steps see it.
func (c *Controller) resolveStepConfig(ctx context.Context, job *models.Job, engine models.EngineData, flowStepID string) (*models.StepConfig, models.FlowConfig, error) {
	fc, _ := engine.FlowConfig()
	if step, ok := fc[flowStepID]; ok && step != nil {
		if step.FlowStepID == "" {
			step.FlowStepID = flowStepID
		}
		return step, fc, nil
	}

	if job.IsDirect() {
		return nil, fc, fmt.Errorf("step %s not in direct job config", flowStepID)
	}

	flow, err := c.flows.GetFlow(ctx, job.FlowID())
	if err != nil {
		return nil, fc, err
	}
	step, ok := flow.FlowConfig[flowStepID]
	if !ok || step == nil {
		return nil, fc, fmt.Errorf("step %s not in flow %d", flowStepID, flow.ID)
	}

	if _, err := c.engine.Merge(ctx, job.ID, models.EngineData{
		models.EngineKeyFlowConfig: map[string]interface{}{flowStepID: step},
	}); err != nil {
		return nil, fc, err
	}
	if fc == nil {
		fc = models.FlowConfig{}
	}
	fc[flowStepID] = step
	return step, fc, nil
}

// ExecuteStep runs one step of a processing job and routes its outcome
func (c *Controller) ExecuteStep(ctx context.Context, jobID int64, flowStepID string) error {
	logger := c.jobLogger(jobID)

	job, err := c.jobs.GetJob(ctx, jobID)
	if errors.Is(err, interfaces.ErrJobNotFound) {
		logger.Warn().Int64("job_id", jobID).Msg("Step scheduled for a job that no longer exists")
		return nil
	}
	if err != nil {
		return err
	}
	if job.Status.Base() != models.JobStatusProcessing {
		// Late delivery after the job was finalized out of band
		logger.Debug().
			Int64("job_id", jobID).
			Str("status", string(job.Status)).
			Str("flow_step_id", flowStepID).
			Msg("Ignoring step for job that is not processing")
		return nil
	}

	engine := job.EngineData.Clone()
	step, fc, err := c.resolveStepConfig(ctx, job, engine, flowStepID)
	if err != nil {
		return c.FailJob(ctx, jobID, ReasonStepConfigNotFound, map[string]interface{}{
			"flow_step_id": flowStepID,
			"error":        err.Error(),
		})
	}

	history, err := c.packets.Retrieve(ctx, jobID)
	if err != nil {
		return err
	}

	stepType, err := c.registry.Resolve(step.StepType)
	if err != nil {
		return c.FailJob(ctx, jobID, ReasonStepTypeNotFound, map[string]interface{}{
			"flow_step_id": flowStepID,
			"step_type":    step.StepType,
		})
	}

	logger.Info().
		Int64("job_id", jobID).
		Str("flow_step_id", flowStepID).
		Str("step_type", step.StepType).
		Int("packets_in", len(history)).
		Msg("Executing step")

	// Re-read so the step sees any merge made while resolving its config
	if current, err := c.engine.Get(ctx, jobID); err == nil {
		engine = current
	}

	output, stepErr := c.invoke(ctx, stepType, &interfaces.StepRequest{
		JobID:      jobID,
		FlowStepID: flowStepID,
		Data:       history,
		Engine:     engine,
	})

	c.publishStep(ctx, jobID, step, output, stepErr)

	// A status override written during the step wins over everything else
	after, err := c.engine.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if override, ok := after.StatusOverride(); ok {
		if !override.IsTerminal() {
			return c.FailJob(ctx, jobID, ReasonInvalidStatusOverride, map[string]interface{}{"override": string(override)})
		}
		logger.Info().
			Int64("job_id", jobID).
			Str("flow_step_id", flowStepID).
			Str("status", string(override)).
			Msg("Status override applied")
		_, err := c.CompleteJob(ctx, jobID, override)
		return err
	}

	// Uncaught step errors
	if stepErr != nil {
		reason := ReasonStepExecutionFailed
		if errors.Is(stepErr, errInvalidStepOutput) {
			reason = ReasonInvalidStepOutput
		}
		return c.FailJob(ctx, jobID, reason, map[string]interface{}{
			"flow_step_id": flowStepID,
			"error":        stepErr.Error(),
		})
	}

	// Non-empty output without a failure flag moves on
	failure, failed := firstFailure(output)
	if len(output) > 0 && !failed {
		if nextStepID, ok := NextStep(fc, flowStepID); ok {
			return c.ScheduleNextStep(ctx, job, nextStepID, output)
		}
		_, err := c.CompleteJob(ctx, jobID, models.JobStatusCompleted)
		return err
	}

	// Empty or failure-flagged output
	if c.isNoItems(ctx, step) {
		_, err := c.CompleteJob(ctx, jobID, models.JobStatusCompletedNoItems)
		return err
	}
	reason := ReasonEmptyDataPacket
	if failed {
		if msg := failure.ErrorMessage(); msg != "" {
			reason = msg
		}
	}
	return c.FailJob(ctx, jobID, reason, map[string]interface{}{"flow_step_id": flowStepID})
}

// isNoItems reports whether empty fetch output means "nothing new" rather than failure
func (c *Controller) isNoItems(ctx context.Context, step *models.StepConfig) bool {
	if step.StepType != models.StepTypeFetch {
		return false
	}
	has, err := c.processed.HasHistory(ctx, step.FlowStepID)
	if err != nil {
		c.logger.Warn().Err(err).Str("flow_step_id", step.FlowStepID).Msg("Failed to check processed item history")
		return false
	}
	return has
}

var errInvalidStepOutput = errors.New("invalid step output")

// invoke runs the step with the configured timeout, converting panics to errors
func (c *Controller) invoke(ctx context.Context, stepType interfaces.StepType, request *interfaces.StepRequest) (output []models.DataPacket, err error) {
	if c.stepTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.stepTimeout)
		defer cancel()
	}

	defer common.RecoverPanic(c.logger, "step:"+request.FlowStepID, func(r interface{}) {
		output = nil
		err = fmt.Errorf("step panicked: %v", r)
	})

	output, err = stepType.Execute(ctx, request)
	if err != nil {
		return nil, err
	}
	for i := range output {
		if output[i].Type == "" {
			return nil, fmt.Errorf("%w: packet %d has no type", errInvalidStepOutput, i)
		}
	}
	return output, nil
}

func decodeArgs(raw json.RawMessage, out interface{}) error {
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("invalid action args: %w", err)
	}
	return nil
}

func firstFailure(output []models.DataPacket) (*models.DataPacket, bool) {
	for i := range output {
		if output[i].IsFailure() {
			return &output[i], true
		}
	}
	return nil, false
}

// CompleteJob finalizes a processing job with status. Failed statuses take the
// FailJob side effects. Returns false when the job was not processing.
func (c *Controller) CompleteJob(ctx context.Context, jobID int64, status models.JobStatus) (bool, error) {
	if status.IsFailed() {
		job, err := c.jobs.GetJob(ctx, jobID)
		if err != nil {
			return false, err
		}
		if job.Status.Base() != models.JobStatusProcessing {
			return false, nil
		}
		return true, c.failJob(ctx, job, status, nil)
	}

	applied, err := c.jobs.FinishJob(ctx, jobID, status)
	if err != nil {
		return false, err
	}
	if !applied {
		c.logger.Debug().Int64("job_id", jobID).Str("status", string(status)).Msg("Job already finalized")
		return false, nil
	}

	if err := c.packets.Cleanup(ctx, jobID); err != nil {
		c.logger.Warn().Err(err).Int64("job_id", jobID).Msg("Packet cleanup failed")
	}

	job, err := c.jobs.GetJob(ctx, jobID)
	if err != nil {
		return true, err
	}

	c.jobLogger(jobID).Info().
		Int64("job_id", jobID).
		Str("flow_id", job.FlowRef).
		Str("status", string(status)).
		Msg("Job completed")

	c.publishJob(ctx, interfaces.EventJobCompleted, job, status.Reason())
	return true, nil
}

// FailJob marks a processing job "failed - <reason>". Already failed or otherwise
// terminal jobs are left untouched. details are logged with the failure.
func (c *Controller) FailJob(ctx context.Context, jobID int64, reason string, details map[string]interface{}) error {
	job, err := c.jobs.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.Base() != models.JobStatusProcessing {
		c.logger.Debug().
			Int64("job_id", jobID).
			Str("status", string(job.Status)).
			Str("reason", reason).
			Msg("Fail requested for job that is not processing, ignoring")
		return nil
	}
	return c.failJob(ctx, job, models.NewFailedStatus(reason), details)
}

func (c *Controller) failJob(ctx context.Context, job *models.Job, status models.JobStatus, details map[string]interface{}) error {
	applied, err := c.jobs.FinishJob(ctx, job.ID, status)
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}

	logger := c.jobLogger(job.ID)
	event := logger.Error().
		Int64("job_id", job.ID).
		Str("flow_id", job.FlowRef).
		Str("status", string(status))
	for key, value := range details {
		event = event.Str(key, fmt.Sprintf("%v", value))
	}
	event.Msg("Job failed")

	c.afterFailure(ctx, job.ID)

	finished := *job
	finished.SetStatus(status)
	c.publishJob(ctx, interfaces.EventJobCompleted, &finished, status.Reason())
	return nil
}

// afterFailure releases what a failed job held: processed-item markers, staged
// packets (by policy) and any prompt it popped from a flow queue
func (c *Controller) afterFailure(ctx context.Context, jobID int64) {
	if removed, err := c.processed.DeleteByJob(ctx, jobID); err != nil {
		c.logger.Warn().Err(err).Int64("job_id", jobID).Msg("Failed to delete processed items")
	} else if removed > 0 {
		c.logger.Debug().Int64("job_id", jobID).Int("removed", removed).Msg("Processed items released")
	}

	if c.purgeOnFailure {
		_ = c.packets.Cleanup(ctx, jobID)
	}

	if _, err := c.prompts.RequeueBackup(ctx, jobID); err != nil {
		c.logger.Error().Err(err).Int64("job_id", jobID).Msg("Failed to requeue prompt backup")
	}
}

// AfterFailure exposes the failure side effects to recovery, which sets
// statuses itself.
func (c *Controller) AfterFailure(ctx context.Context, jobID int64) {
	c.afterFailure(ctx, jobID)
}

// PublishCompleted emits the completion signal for a job finalized elsewhere
func (c *Controller) PublishCompleted(ctx context.Context, job *models.Job) {
	c.publishJob(ctx, interfaces.EventJobCompleted, job, job.Status.Reason())
}

func (c *Controller) publishJob(ctx context.Context, eventType interfaces.EventType, job *models.Job, reason string) {
	if c.events == nil || job == nil {
		return
	}
	_ = c.events.Publish(ctx, interfaces.Event{
		Type: eventType,
		Payload: interfaces.JobEventPayload{
			JobID:   job.ID,
			FlowRef: job.FlowRef,
			Status:  string(job.Status),
			Reason:  reason,
		},
	})
}

func (c *Controller) publishStep(ctx context.Context, jobID int64, step *models.StepConfig, output []models.DataPacket, stepErr error) {
	if c.events == nil {
		return
	}
	payload := interfaces.StepEventPayload{
		JobID:       jobID,
		FlowStepID:  step.FlowStepID,
		StepType:    step.StepType,
		PacketCount: len(output),
	}
	if stepErr != nil {
		payload.Error = stepErr.Error()
	}
	_ = c.events.Publish(ctx, interfaces.Event{Type: interfaces.EventStepExecuted, Payload: payload})
}
