package enginedata

import (
	"context"
	"fmt"

	"github.com/saraichinwag/data-machine-sub002/internal/interfaces"
	"github.com/saraichinwag/data-machine-sub002/internal/models"
	"github.com/ternarybob/arbor"
)

// Service is the read/merge accessor over per-job engine data.
// There is deliberately no Set: writers may only merge.
type Service struct {
	jobStorage interfaces.JobStorage
	logger     arbor.ILogger
}

// NewService creates a new engine data service
func NewService(jobStorage interfaces.JobStorage, logger arbor.ILogger) *Service {
	return &Service{
		jobStorage: jobStorage,
		logger:     logger,
	}
}

// Get returns a copy of the job's engine data
func (s *Service) Get(ctx context.Context, jobID int64) (models.EngineData, error) {
	job, err := s.jobStorage.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return job.EngineData.Clone(), nil
}

// Merge applies patch with merge-patch semantics and returns the merged result
func (s *Service) Merge(ctx context.Context, jobID int64, patch models.EngineData) (models.EngineData, error) {
	normalized := make(models.EngineData, len(patch))
	for key, value := range patch {
		v, err := models.ToEngineValue(value)
		if err != nil {
			return nil, fmt.Errorf("engine data key %s: %w", key, err)
		}
		normalized[key] = v
	}

	merged, err := s.jobStorage.MergeEngineData(ctx, jobID, normalized)
	if err != nil {
		return nil, err
	}
	return merged.Clone(), nil
}

// SetStatusOverride records a status that short-circuits step chaining
func (s *Service) SetStatusOverride(ctx context.Context, jobID int64, status models.JobStatus) error {
	if status == "" {
		return fmt.Errorf("override status is required")
	}
	if _, err := s.jobStorage.MergeEngineData(ctx, jobID, models.StatusOverridePatch(status)); err != nil {
		return err
	}

	s.logger.Info().
		Int64("job_id", jobID).
		Str("status", string(status)).
		Msg("Job status override recorded")
	return nil
}

// Take removes key and returns its value; only one concurrent caller receives it
func (s *Service) Take(ctx context.Context, jobID int64, key string) (interface{}, bool, error) {
	return s.jobStorage.TakeEngineValue(ctx, jobID, key)
}

var _ interfaces.EngineDataService = (*Service)(nil)
