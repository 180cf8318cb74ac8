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

// PacketStorage stages each job's data packets under a flow-isolated key
type PacketStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewPacketStorage creates a new PacketStorage instance
func NewPacketStorage(db *BadgerDB, logger arbor.ILogger) interfaces.PacketStorage {
	return &PacketStorage{
		db:     db,
		logger: logger,
	}
}

// Store replaces the staged packets of a job
func (s *PacketStorage) Store(ctx context.Context, jobID int64, flowRef string, packets []models.DataPacket) error {
	stage := &models.PacketStage{
		Key:       models.PacketStageKey(flowRef, jobID),
		JobID:     jobID,
		FlowRef:   flowRef,
		Packets:   packets,
		UpdatedAt: time.Now().UTC(),
	}
	if err := s.db.Store().Upsert(stage.Key, stage); err != nil {
		return fmt.Errorf("failed to store packets for job %d: %w", jobID, err)
	}
	return nil
}

// RetrieveByJob returns the staged packets of a job, newest first
func (s *PacketStorage) RetrieveByJob(ctx context.Context, jobID int64) ([]models.DataPacket, error) {
	var stages []models.PacketStage
	if err := s.db.Store().Find(&stages, badgerhold.Where("JobID").Eq(jobID).Limit(1)); err != nil {
		return nil, fmt.Errorf("failed to retrieve packets for job %d: %w", jobID, err)
	}
	if len(stages) == 0 {
		return []models.DataPacket{}, nil
	}
	return stages[0].Packets, nil
}

// Cleanup removes the staged packets of a job
func (s *PacketStorage) Cleanup(ctx context.Context, jobID int64) error {
	err := s.db.Store().DeleteMatching(&models.PacketStage{}, badgerhold.Where("JobID").Eq(jobID))
	if err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
		return fmt.Errorf("failed to clean up packets for job %d: %w", jobID, err)
	}
	return nil
}
