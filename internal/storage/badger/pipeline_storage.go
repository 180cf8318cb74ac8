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

const pipelineSequence = "pipelines"

// PipelineStorage implements the PipelineStorage interface for Badger
type PipelineStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewPipelineStorage creates a new PipelineStorage instance
func NewPipelineStorage(db *BadgerDB, logger arbor.ILogger) interfaces.PipelineStorage {
	return &PipelineStorage{
		db:     db,
		logger: logger,
	}
}

// SavePipeline inserts a new pipeline (ID == 0) or replaces an existing one
func (s *PipelineStorage) SavePipeline(ctx context.Context, pipeline *models.Pipeline) error {
	if pipeline == nil {
		return fmt.Errorf("pipeline is required")
	}

	now := time.Now().UTC()
	pipeline.UpdatedAt = now
	if pipeline.CreatedAt.IsZero() {
		pipeline.CreatedAt = now
	}

	return s.db.Update(ctx, func(txn *badger.Txn) error {
		if pipeline.ID == 0 {
			id, err := s.db.nextID(txn, pipelineSequence)
			if err != nil {
				return err
			}
			pipeline.ID = id
		}
		if err := s.db.Store().TxUpsert(txn, pipeline.ID, pipeline); err != nil {
			return fmt.Errorf("failed to save pipeline: %w", err)
		}
		return nil
	})
}

// GetPipeline returns the pipeline or interfaces.ErrPipelineNotFound
func (s *PipelineStorage) GetPipeline(ctx context.Context, pipelineID int64) (*models.Pipeline, error) {
	var pipeline models.Pipeline
	if err := s.db.Store().Get(pipelineID, &pipeline); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("%w: %d", interfaces.ErrPipelineNotFound, pipelineID)
		}
		return nil, fmt.Errorf("failed to get pipeline: %w", err)
	}
	return &pipeline, nil
}

// GetPipelineByName returns the pipeline with the given name
func (s *PipelineStorage) GetPipelineByName(ctx context.Context, name string) (*models.Pipeline, error) {
	var pipelines []models.Pipeline
	if err := s.db.Store().Find(&pipelines, badgerhold.Where("Name").Eq(name).Limit(1)); err != nil {
		return nil, fmt.Errorf("failed to find pipeline: %w", err)
	}
	if len(pipelines) == 0 {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrPipelineNotFound, name)
	}
	return &pipelines[0], nil
}

// ListPipelines returns all pipelines ordered by id
func (s *PipelineStorage) ListPipelines(ctx context.Context) ([]*models.Pipeline, error) {
	var pipelines []models.Pipeline
	if err := s.db.Store().Find(&pipelines, badgerhold.Where("ID").Gt(int64(0)).SortBy("ID")); err != nil {
		return nil, fmt.Errorf("failed to list pipelines: %w", err)
	}

	result := make([]*models.Pipeline, len(pipelines))
	for i := range pipelines {
		result[i] = &pipelines[i]
	}
	return result, nil
}

// DeletePipeline removes a pipeline
func (s *PipelineStorage) DeletePipeline(ctx context.Context, pipelineID int64) error {
	if err := s.db.Store().Delete(pipelineID, &models.Pipeline{}); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return fmt.Errorf("%w: %d", interfaces.ErrPipelineNotFound, pipelineID)
		}
		return fmt.Errorf("failed to delete pipeline: %w", err)
	}
	return nil
}
