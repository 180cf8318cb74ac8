package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/saraichinwag/data-machine-sub002/internal/interfaces"
	"github.com/saraichinwag/data-machine-sub002/internal/models"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"
)

const jobSequence = "jobs"

// JobStorage implements the JobStorage interface for Badger
type JobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewJobStorage creates a new JobStorage instance
func NewJobStorage(db *BadgerDB, logger arbor.ILogger) interfaces.JobStorage {
	return &JobStorage{
		db:     db,
		logger: logger,
	}
}

// CreateJob assigns the next job id and persists the job as pending
func (s *JobStorage) CreateJob(ctx context.Context, job *models.Job) (*models.Job, error) {
	if job == nil {
		return nil, fmt.Errorf("job is required")
	}
	if job.FlowRef == "" || job.PipelineRef == "" {
		return nil, fmt.Errorf("job flow_ref and pipeline_ref are required")
	}

	created := *job
	if created.Status == "" {
		created.SetStatus(models.JobStatusPending)
	} else {
		created.SetStatus(created.Status)
	}
	if created.Source == "" {
		created.Source = models.JobSourceFlow
	}
	if created.CreatedAt.IsZero() {
		created.CreatedAt = time.Now().UTC()
	}
	if created.EngineData == nil {
		created.EngineData = models.EngineData{}
	}

	err := s.db.Update(ctx, func(txn *badger.Txn) error {
		id, err := s.db.nextID(txn, jobSequence)
		if err != nil {
			return err
		}
		created.ID = id
		return s.db.Store().TxInsert(txn, id, &created)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	s.logger.Debug().
		Int64("job_id", created.ID).
		Str("flow_id", created.FlowRef).
		Str("source", string(created.Source)).
		Msg("Job created")

	return &created, nil
}

// GetJob returns the job or interfaces.ErrJobNotFound
func (s *JobStorage) GetJob(ctx context.Context, jobID int64) (*models.Job, error) {
	var job models.Job
	if err := s.db.Store().Get(jobID, &job); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("%w: %d", interfaces.ErrJobNotFound, jobID)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

func buildJobQuery(opts *interfaces.JobListOptions) *badgerhold.Query {
	query := badgerhold.Where("ID").Gt(int64(0))
	if opts == nil {
		return query
	}
	if opts.BaseStatus != "" {
		query = query.And("BaseStatus").Eq(opts.BaseStatus.Base())
	}
	if opts.FlowRef != "" {
		query = query.And("FlowRef").Eq(opts.FlowRef)
	}
	if opts.PipelineRef != "" {
		query = query.And("PipelineRef").Eq(opts.PipelineRef)
	}
	if opts.Source != "" {
		query = query.And("Source").Eq(opts.Source)
	}
	return query
}

// ListJobs returns jobs newest first, filtered and paginated by opts
func (s *JobStorage) ListJobs(ctx context.Context, opts *interfaces.JobListOptions) ([]*models.Job, error) {
	query := buildJobQuery(opts).SortBy("ID").Reverse()
	if opts != nil {
		if opts.Offset > 0 {
			query = query.Skip(opts.Offset)
		}
		if opts.Limit > 0 {
			query = query.Limit(opts.Limit)
		}
	}

	var jobs []models.Job
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	result := make([]*models.Job, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

// CountJobs counts jobs matching opts, ignoring pagination
func (s *JobStorage) CountJobs(ctx context.Context, opts *interfaces.JobListOptions) (int, error) {
	count, err := s.db.Store().Count(&models.Job{}, buildJobQuery(opts))
	if err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}
	return int(count), nil
}

// DeleteJob removes the job record and, with it, its engine data
func (s *JobStorage) DeleteJob(ctx context.Context, jobID int64) error {
	if err := s.db.Store().Delete(jobID, &models.Job{}); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return fmt.Errorf("%w: %d", interfaces.ErrJobNotFound, jobID)
		}
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return nil
}

// updateJob applies fn to the stored job inside one transaction.
// fn returning errNoChange leaves the record untouched and reports applied=false.
func (s *JobStorage) updateJob(ctx context.Context, jobID int64, fn func(job *models.Job) error) (*models.Job, bool, error) {
	var updated models.Job
	err := s.db.Update(ctx, func(txn *badger.Txn) error {
		var job models.Job
		if err := s.db.Store().TxGet(txn, jobID, &job); err != nil {
			if errors.Is(err, badgerhold.ErrNotFound) {
				return fmt.Errorf("%w: %d", interfaces.ErrJobNotFound, jobID)
			}
			return err
		}
		if err := fn(&job); err != nil {
			return err
		}
		updated = job
		return s.db.Store().TxUpsert(txn, jobID, &job)
	})
	if errors.Is(err, errNoChange) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &updated, true, nil
}

// StartJob moves a pending job to processing
func (s *JobStorage) StartJob(ctx context.Context, jobID int64) (bool, error) {
	_, applied, err := s.updateJob(ctx, jobID, func(job *models.Job) error {
		if job.Status.Base() != models.JobStatusPending {
			return errNoChange
		}
		now := time.Now().UTC()
		job.SetStatus(models.JobStatusProcessing)
		job.StartedAt = &now
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to start job %d: %w", jobID, err)
	}
	return applied, nil
}

// FinishJob moves a processing job to a terminal status, exactly once
func (s *JobStorage) FinishJob(ctx context.Context, jobID int64, status models.JobStatus) (bool, error) {
	if !status.IsTerminal() {
		return false, fmt.Errorf("%w: %q is not terminal", interfaces.ErrInvalidTransition, status)
	}

	_, applied, err := s.updateJob(ctx, jobID, func(job *models.Job) error {
		if job.Status.Base() != models.JobStatusProcessing {
			return errNoChange
		}
		now := time.Now().UTC()
		job.SetStatus(status)
		job.CompletedAt = &now
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to finish job %d: %w", jobID, err)
	}
	return applied, nil
}

// ForceStatus sets status without lifecycle checks
func (s *JobStorage) ForceStatus(ctx context.Context, jobID int64, status models.JobStatus) error {
	_, _, err := s.updateJob(ctx, jobID, func(job *models.Job) error {
		job.SetStatus(status)
		if status.IsTerminal() {
			now := time.Now().UTC()
			job.CompletedAt = &now
		} else {
			job.CompletedAt = nil
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to force status of job %d: %w", jobID, err)
	}

	s.logger.Warn().
		Int64("job_id", jobID).
		Str("status", string(status)).
		Msg("Job status forced")
	return nil
}

// MergeEngineData deep-merges patch into the stored engine data
func (s *JobStorage) MergeEngineData(ctx context.Context, jobID int64, patch models.EngineData) (models.EngineData, error) {
	job, _, err := s.updateJob(ctx, jobID, func(job *models.Job) error {
		if len(patch) == 0 {
			return errNoChange
		}
		job.EngineData = models.MergeEngineData(job.EngineData, patch)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to merge engine data for job %d: %w", jobID, err)
	}
	if job == nil {
		current, err := s.GetJob(ctx, jobID)
		if err != nil {
			return nil, err
		}
		return current.EngineData, nil
	}
	return job.EngineData, nil
}

// TakeEngineValue atomically removes key from the engine data and returns its value
func (s *JobStorage) TakeEngineValue(ctx context.Context, jobID int64, key string) (interface{}, bool, error) {
	var taken interface{}
	_, applied, err := s.updateJob(ctx, jobID, func(job *models.Job) error {
		value, ok := job.EngineData[key]
		if !ok || value == nil {
			return errNoChange
		}
		taken = value
		delete(job.EngineData, key)
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to take engine data %s for job %d: %w", key, jobID, err)
	}
	return taken, applied, nil
}
