package interfaces

import (
	"context"

	"github.com/saraichinwag/data-machine-sub002/internal/models"
)

// JobListOptions filters ListJobs queries
type JobListOptions struct {
	BaseStatus  models.JobStatus
	FlowRef     string
	PipelineRef string
	Source      models.JobSource
	Limit       int
	Offset      int
}

// JobStorage persists job records and their engine data.
// Every mutation is a read-modify-write inside one transaction.
type JobStorage interface {
	CreateJob(ctx context.Context, job *models.Job) (*models.Job, error)
	GetJob(ctx context.Context, jobID int64) (*models.Job, error)
	ListJobs(ctx context.Context, opts *JobListOptions) ([]*models.Job, error)
	CountJobs(ctx context.Context, opts *JobListOptions) (int, error)
	DeleteJob(ctx context.Context, jobID int64) error

	// StartJob moves pending to processing. Returns false if the job was not pending.
	StartJob(ctx context.Context, jobID int64) (bool, error)

	// FinishJob moves processing to a terminal status. Returns false if the job
	// was not processing, leaving it untouched.
	FinishJob(ctx context.Context, jobID int64, status models.JobStatus) (bool, error)

	// ForceStatus sets any status regardless of lifecycle. Manual recovery only.
	ForceStatus(ctx context.Context, jobID int64, status models.JobStatus) error

	// MergeEngineData deep-merges patch into the stored engine data and returns the result
	MergeEngineData(ctx context.Context, jobID int64, patch models.EngineData) (models.EngineData, error)

	// TakeEngineValue removes key from engine data and returns the removed value.
	// Concurrent callers never both receive the same value.
	TakeEngineValue(ctx context.Context, jobID int64, key string) (interface{}, bool, error)
}

// FlowListOptions filters ListFlows queries
type FlowListOptions struct {
	PipelineID int64
	Limit      int
	Offset     int
}

// FlowStorage persists flows
type FlowStorage interface {
	SaveFlow(ctx context.Context, flow *models.Flow) error
	GetFlow(ctx context.Context, flowID int64) (*models.Flow, error)
	GetFlowByName(ctx context.Context, name string) (*models.Flow, error)
	ListFlows(ctx context.Context, opts *FlowListOptions) ([]*models.Flow, error)
	DeleteFlow(ctx context.Context, flowID int64) error

	// UpdateFlow applies fn to the stored flow inside one transaction
	UpdateFlow(ctx context.Context, flowID int64, fn func(flow *models.Flow) error) (*models.Flow, error)
}

// PipelineStorage persists pipelines
type PipelineStorage interface {
	SavePipeline(ctx context.Context, pipeline *models.Pipeline) error
	GetPipeline(ctx context.Context, pipelineID int64) (*models.Pipeline, error)
	GetPipelineByName(ctx context.Context, name string) (*models.Pipeline, error)
	ListPipelines(ctx context.Context) ([]*models.Pipeline, error)
	DeletePipeline(ctx context.Context, pipelineID int64) error
}

// PacketStorage stages data packets between steps, isolated per flow
type PacketStorage interface {
	Store(ctx context.Context, jobID int64, flowRef string, packets []models.DataPacket) error
	RetrieveByJob(ctx context.Context, jobID int64) ([]models.DataPacket, error)
	Cleanup(ctx context.Context, jobID int64) error
}

// ProcessedItemStorage records which source items a flow step has handled
type ProcessedItemStorage interface {
	MarkProcessed(ctx context.Context, item *models.ProcessedItem) error
	HasProcessed(ctx context.Context, flowStepID, sourceType, itemID string) (bool, error)
	HasHistory(ctx context.Context, flowStepID string) (bool, error)
	DeleteByJob(ctx context.Context, jobID int64) (int, error)
}

// ChatSessionStorage persists chat agent sessions
type ChatSessionStorage interface {
	SaveSession(ctx context.Context, session *models.ChatSession) error
	GetSession(ctx context.Context, sessionID string) (*models.ChatSession, error)
	ListSessions(ctx context.Context, limit int) ([]*models.ChatSession, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

// StorageManager exposes every storage backend over one database
type StorageManager interface {
	JobStorage() JobStorage
	FlowStorage() FlowStorage
	PipelineStorage() PipelineStorage
	PacketStorage() PacketStorage
	ProcessedItemStorage() ProcessedItemStorage
	ChatSessionStorage() ChatSessionStorage

	// DB returns the underlying database handle for components sharing it (queue)
	DB() interface{}

	// LoadFlowDefinitionsFromFiles upserts pipelines/flows declared in dirPath
	LoadFlowDefinitionsFromFiles(ctx context.Context, dirPath string) ([]*models.Flow, error)
	Close() error
}
