package models

import "time"

// Data packet types
const (
	PacketTypeFetch       = "fetch"
	PacketTypeAIResponse  = "ai_response"
	PacketTypeToolResult  = "tool_result"
	PacketTypeAIHandler   = "ai_handler_complete"
	PacketTypePublish     = "publish"
	PacketTypeUpdate      = "update"
	PacketTypeStepFailure = "step_failure"
)

// Data packet metadata keys
const (
	PacketMetaSuccess     = "success"
	PacketMetaHandlerTool = "handler_tool"
	PacketMetaToolName    = "tool_name"
	PacketMetaToolResult  = "tool_result"
	PacketMetaToolCallID  = "tool_call_id"
	PacketMetaError       = "error"
	PacketMetaSourceURL   = "source_url"
	PacketMetaTitle       = "title"
	PacketMetaFlowStepID  = "flow_step_id"
)

// DataPacket is one step's structured output, chained to the next step.
// A job's packets are kept newest first.
type DataPacket struct {
	Type      string                 `json:"type"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Content   PacketContent          `json:"content"`
	Timestamp time.Time              `json:"timestamp"`
}

// PacketContent holds the textual payload of a packet
type PacketContent struct {
	Title string `json:"title,omitempty"`
	Body  string `json:"body,omitempty"`
}

// NewDataPacket creates a packet stamped with the current time
func NewDataPacket(packetType string, title, body string, metadata map[string]interface{}) DataPacket {
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	return DataPacket{
		Type:      packetType,
		Metadata:  metadata,
		Content:   PacketContent{Title: title, Body: body},
		Timestamp: time.Now().UTC(),
	}
}

// IsFailure reports whether metadata.success is explicitly false
func (p *DataPacket) IsFailure() bool {
	if p.Metadata == nil {
		return false
	}
	success, ok := p.Metadata[PacketMetaSuccess].(bool)
	return ok && !success
}

// ErrorMessage returns metadata.error, if set
func (p *DataPacket) ErrorMessage() string {
	if p.Metadata == nil {
		return ""
	}
	msg, _ := p.Metadata[PacketMetaError].(string)
	return msg
}

// MetaString returns a string metadata value
func (p *DataPacket) MetaString(key string) string {
	if p.Metadata == nil {
		return ""
	}
	s, _ := p.Metadata[key].(string)
	return s
}

// IsToolResult reports whether the packet records a tool execution
func (p *DataPacket) IsToolResult() bool {
	return p.Type == PacketTypeToolResult || p.Type == PacketTypeAIHandler
}

// PrependPackets returns a new list with outputs ahead of history
func PrependPackets(outputs []DataPacket, history []DataPacket) []DataPacket {
	result := make([]DataPacket, 0, len(outputs)+len(history))
	result = append(result, outputs...)
	result = append(result, history...)
	return result
}
