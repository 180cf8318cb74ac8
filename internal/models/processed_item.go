package models

import "time"

// ProcessedItem marks a source item as handled by a flow step
type ProcessedItem struct {
	Key        string    `json:"key"`
	FlowStepID string    `json:"flow_step_id"`
	SourceType string    `json:"source_type"`
	ItemID     string    `json:"item_id"`
	JobID      int64     `json:"job_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// ProcessedItemKey builds the storage key of a processed item
func ProcessedItemKey(flowStepID, sourceType, itemID string) string {
	return flowStepID + "|" + sourceType + "|" + itemID
}

// PacketStage holds the staged data packets of one job, isolated per flow
type PacketStage struct {
	Key       string       `json:"key"`
	JobID     int64        `json:"job_id"`
	FlowRef   string       `json:"flow_ref"`
	Packets   []DataPacket `json:"packets"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// PacketStageKey builds the flow-isolated key of a job's staged packets
func PacketStageKey(flowRef string, jobID int64) string {
	return "flow_" + flowRef + "/job_" + FormatRef(jobID)
}
