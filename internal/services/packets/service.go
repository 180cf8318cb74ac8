package packets

import (
	"context"

	"github.com/saraichinwag/data-machine-sub002/internal/interfaces"
	"github.com/saraichinwag/data-machine-sub002/internal/models"
	"github.com/ternarybob/arbor"
)

// Service stages each job's data packets between steps.
// Packets are kept newest first and delivered in the order they were stored.
type Service struct {
	storage interfaces.PacketStorage
	logger  arbor.ILogger
}

// NewService creates a new packet pipeline service
func NewService(storage interfaces.PacketStorage, logger arbor.ILogger) *Service {
	return &Service{
		storage: storage,
		logger:  logger,
	}
}

// Store persists the packets for the job's next step. An empty list is not stored.
func (s *Service) Store(ctx context.Context, jobID int64, flowRef string, packets []models.DataPacket) error {
	if len(packets) == 0 {
		return nil
	}
	if err := s.storage.Store(ctx, jobID, flowRef, packets); err != nil {
		return err
	}

	s.logger.Debug().
		Int64("job_id", jobID).
		Str("flow_id", flowRef).
		Int("packets", len(packets)).
		Msg("Data packets staged")
	return nil
}

// Retrieve returns the job's accumulated packets, newest first
func (s *Service) Retrieve(ctx context.Context, jobID int64) ([]models.DataPacket, error) {
	return s.storage.RetrieveByJob(ctx, jobID)
}

// Cleanup removes the job's staged packets
func (s *Service) Cleanup(ctx context.Context, jobID int64) error {
	if err := s.storage.Cleanup(ctx, jobID); err != nil {
		s.logger.Warn().Err(err).Int64("job_id", jobID).Msg("Failed to clean up data packets")
		return err
	}
	return nil
}
