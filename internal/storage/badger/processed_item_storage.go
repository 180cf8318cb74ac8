package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/saraichinwag/data-machine-sub002/internal/interfaces"
	"github.com/saraichinwag/data-machine-sub002/internal/models"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"
)

// ProcessedItemStorage implements the ProcessedItemStorage interface for Badger
type ProcessedItemStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewProcessedItemStorage creates a new ProcessedItemStorage instance
func NewProcessedItemStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ProcessedItemStorage {
	return &ProcessedItemStorage{
		db:     db,
		logger: logger,
	}
}

// MarkProcessed records that a flow step handled a source item
func (s *ProcessedItemStorage) MarkProcessed(ctx context.Context, item *models.ProcessedItem) error {
	if item.FlowStepID == "" || item.ItemID == "" {
		return fmt.Errorf("flow_step_id and item_id are required")
	}
	item.Key = models.ProcessedItemKey(item.FlowStepID, item.SourceType, item.ItemID)
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	if err := s.db.Store().Upsert(item.Key, item); err != nil {
		return fmt.Errorf("failed to mark item processed: %w", err)
	}
	return nil
}

// HasProcessed reports whether the item was already handled by the flow step
func (s *ProcessedItemStorage) HasProcessed(ctx context.Context, flowStepID, sourceType, itemID string) (bool, error) {
	var item models.ProcessedItem
	err := s.db.Store().Get(models.ProcessedItemKey(flowStepID, sourceType, itemID), &item)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check processed item: %w", err)
	}
	return true, nil
}

// HasHistory reports whether the flow step has ever processed an item
func (s *ProcessedItemStorage) HasHistory(ctx context.Context, flowStepID string) (bool, error) {
	var items []models.ProcessedItem
	if err := s.db.Store().Find(&items, badgerhold.Where("FlowStepID").Eq(flowStepID).Limit(1)); err != nil {
		return false, fmt.Errorf("failed to check processed history: %w", err)
	}
	return len(items) > 0, nil
}

// DeleteByJob removes the markers recorded by a job
func (s *ProcessedItemStorage) DeleteByJob(ctx context.Context, jobID int64) (int, error) {
	query := badgerhold.Where("JobID").Eq(jobID)
	count, err := s.db.Store().Count(&models.ProcessedItem{}, query)
	if err != nil {
		return 0, fmt.Errorf("failed to count processed items: %w", err)
	}
	if count == 0 {
		return 0, nil
	}
	if err := s.db.Store().DeleteMatching(&models.ProcessedItem{}, badgerhold.Where("JobID").Eq(jobID)); err != nil {
		return 0, fmt.Errorf("failed to delete processed items: %w", err)
	}
	return int(count), nil
}
