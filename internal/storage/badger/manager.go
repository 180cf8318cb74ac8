package badger

import (
	"context"

	"github.com/saraichinwag/data-machine-sub002/internal/common"
	"github.com/saraichinwag/data-machine-sub002/internal/interfaces"
	"github.com/saraichinwag/data-machine-sub002/internal/models"
	"github.com/ternarybob/arbor"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db            *BadgerDB
	job           interfaces.JobStorage
	flow          interfaces.FlowStorage
	pipeline      interfaces.PipelineStorage
	packet        interfaces.PacketStorage
	processedItem interfaces.ProcessedItemStorage
	chatSession   interfaces.ChatSessionStorage
	logger        arbor.ILogger
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (interfaces.StorageManager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := newManagerFromDB(db, logger)

	logger.Info().Msg("Badger storage manager initialized")

	return manager, nil
}

func newManagerFromDB(db *BadgerDB, logger arbor.ILogger) *Manager {
	return &Manager{
		db:            db,
		job:           NewJobStorage(db, logger),
		flow:          NewFlowStorage(db, logger),
		pipeline:      NewPipelineStorage(db, logger),
		packet:        NewPacketStorage(db, logger),
		processedItem: NewProcessedItemStorage(db, logger),
		chatSession:   NewChatSessionStorage(db, logger),
		logger:        logger,
	}
}

// JobStorage returns the Job storage interface
func (m *Manager) JobStorage() interfaces.JobStorage {
	return m.job
}

// FlowStorage returns the Flow storage interface
func (m *Manager) FlowStorage() interfaces.FlowStorage {
	return m.flow
}

// PipelineStorage returns the Pipeline storage interface
func (m *Manager) PipelineStorage() interfaces.PipelineStorage {
	return m.pipeline
}

// PacketStorage returns the data packet staging interface
func (m *Manager) PacketStorage() interfaces.PacketStorage {
	return m.packet
}

// ProcessedItemStorage returns the processed item storage interface
func (m *Manager) ProcessedItemStorage() interfaces.ProcessedItemStorage {
	return m.processedItem
}

// ChatSessionStorage returns the chat session storage interface
func (m *Manager) ChatSessionStorage() interfaces.ChatSessionStorage {
	return m.chatSession
}

// DB returns the underlying badgerhold store
func (m *Manager) DB() interface{} {
	if m.db != nil {
		return m.db.Store()
	}
	return nil
}

// LoadFlowDefinitionsFromFiles loads pipelines and flows from definition files
func (m *Manager) LoadFlowDefinitionsFromFiles(ctx context.Context, dirPath string) ([]*models.Flow, error) {
	return LoadFlowDefinitionsFromFiles(ctx, m.pipeline, m.flow, dirPath, m.logger)
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
