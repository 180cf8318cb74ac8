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

const flowSequence = "flows"

// FlowStorage implements the FlowStorage interface for Badger
type FlowStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewFlowStorage creates a new FlowStorage instance
func NewFlowStorage(db *BadgerDB, logger arbor.ILogger) interfaces.FlowStorage {
	return &FlowStorage{
		db:     db,
		logger: logger,
	}
}

// SaveFlow inserts a new flow (ID == 0) or replaces an existing one.
// New flows get their flow_step_ids rewritten to include the assigned id.
func (s *FlowStorage) SaveFlow(ctx context.Context, flow *models.Flow) error {
	if flow == nil {
		return fmt.Errorf("flow is required")
	}

	now := time.Now().UTC()
	flow.UpdatedAt = now
	if flow.CreatedAt.IsZero() {
		flow.CreatedAt = now
	}

	return s.db.Update(ctx, func(txn *badger.Txn) error {
		if flow.ID == 0 {
			id, err := s.db.nextID(txn, flowSequence)
			if err != nil {
				return err
			}
			flow.ID = id
			flow.FlowConfig = rekeyFlowConfig(flow.FlowConfig, id)
		}
		if err := s.db.Store().TxUpsert(txn, flow.ID, flow); err != nil {
			return fmt.Errorf("failed to save flow: %w", err)
		}
		return nil
	})
}

// rekeyFlowConfig rebuilds flow_step_ids once the flow id is known
func rekeyFlowConfig(fc models.FlowConfig, flowID int64) models.FlowConfig {
	rekeyed := make(models.FlowConfig, len(fc))
	for key, step := range fc {
		if step == nil {
			continue
		}
		pipelineStepID := step.PipelineStepID
		if pipelineStepID == "" {
			pipelineStepID = key
		}
		step.PipelineStepID = pipelineStepID
		step.FlowID = flowID
		step.FlowStepID = models.FlowStepID(pipelineStepID, flowID)
		rekeyed[step.FlowStepID] = step
	}
	return rekeyed
}

// GetFlow returns the flow or interfaces.ErrFlowNotFound
func (s *FlowStorage) GetFlow(ctx context.Context, flowID int64) (*models.Flow, error) {
	var flow models.Flow
	if err := s.db.Store().Get(flowID, &flow); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("%w: %d", interfaces.ErrFlowNotFound, flowID)
		}
		return nil, fmt.Errorf("failed to get flow: %w", err)
	}
	return &flow, nil
}

// GetFlowByName returns the flow with the given name
func (s *FlowStorage) GetFlowByName(ctx context.Context, name string) (*models.Flow, error) {
	var flows []models.Flow
	if err := s.db.Store().Find(&flows, badgerhold.Where("Name").Eq(name).Limit(1)); err != nil {
		return nil, fmt.Errorf("failed to find flow: %w", err)
	}
	if len(flows) == 0 {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrFlowNotFound, name)
	}
	return &flows[0], nil
}

// ListFlows returns flows ordered by id
func (s *FlowStorage) ListFlows(ctx context.Context, opts *interfaces.FlowListOptions) ([]*models.Flow, error) {
	query := badgerhold.Where("ID").Gt(int64(0))
	if opts != nil {
		if opts.PipelineID > 0 {
			query = query.And("PipelineID").Eq(opts.PipelineID)
		}
		query = query.SortBy("ID")
		if opts.Offset > 0 {
			query = query.Skip(opts.Offset)
		}
		if opts.Limit > 0 {
			query = query.Limit(opts.Limit)
		}
	} else {
		query = query.SortBy("ID")
	}

	var flows []models.Flow
	if err := s.db.Store().Find(&flows, query); err != nil {
		return nil, fmt.Errorf("failed to list flows: %w", err)
	}

	result := make([]*models.Flow, len(flows))
	for i := range flows {
		result[i] = &flows[i]
	}
	return result, nil
}

// DeleteFlow removes a flow
func (s *FlowStorage) DeleteFlow(ctx context.Context, flowID int64) error {
	if err := s.db.Store().Delete(flowID, &models.Flow{}); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return fmt.Errorf("%w: %d", interfaces.ErrFlowNotFound, flowID)
		}
		return fmt.Errorf("failed to delete flow: %w", err)
	}
	return nil
}

// UpdateFlow applies fn to the stored flow inside one transaction
func (s *FlowStorage) UpdateFlow(ctx context.Context, flowID int64, fn func(flow *models.Flow) error) (*models.Flow, error) {
	var updated models.Flow
	err := s.db.Update(ctx, func(txn *badger.Txn) error {
		var flow models.Flow
		if err := s.db.Store().TxGet(txn, flowID, &flow); err != nil {
			if errors.Is(err, badgerhold.ErrNotFound) {
				return fmt.Errorf("%w: %d", interfaces.ErrFlowNotFound, flowID)
			}
			return err
		}
		if err := fn(&flow); err != nil {
			return err
		}
		flow.UpdatedAt = time.Now().UTC()
		updated = flow
		return s.db.Store().TxUpsert(txn, flowID, &flow)
	})
	if errors.Is(err, errNoChange) {
		return s.GetFlow(ctx, flowID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update flow %d: %w", flowID, err)
	}
	return &updated, nil
}
