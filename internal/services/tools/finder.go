package tools

import (
	"encoding/json"

	"github.com/saraichinwag/data-machine-sub002/internal/models"
)

// FindToolResult returns the newest tool-result packet recorded for handlerSlug.
// The handler must match exactly.
func FindToolResult(packets []models.DataPacket, handlerSlug string) (*models.DataPacket, bool) {
	if handlerSlug == "" {
		return nil, false
	}
	for i := range packets {
		packet := &packets[i]
		if !packet.IsToolResult() {
			continue
		}
		if packet.MetaString(models.PacketMetaHandlerTool) == handlerSlug {
			return packet, true
		}
	}
	return nil, false
}

// ResultPacket records a tool execution as a data packet. Handler tool results
// are typed ai_handler_complete so downstream steps can confirm them. Only handler
// tools carry the success flag; a failed lookup tool the agent recovered from must
// not fail the step.
func ResultPacket(definition *models.ToolDefinition, callID string, flowStepID string, params map[string]interface{}, result *models.ToolResult) models.DataPacket {
	packetType := models.PacketTypeToolResult
	if definition.Handler != "" && result.Success {
		packetType = models.PacketTypeAIHandler
	}

	metadata := map[string]interface{}{
		models.PacketMetaToolName:   definition.Name,
		models.PacketMetaToolCallID: callID,
		models.PacketMetaToolResult: result.Data,
		"tool_success":              result.Success,
		"parameters":                params,
	}
	if definition.Handler != "" {
		metadata[models.PacketMetaHandlerTool] = definition.Handler
		metadata[models.PacketMetaSuccess] = result.Success
	}
	if flowStepID != "" {
		metadata[models.PacketMetaFlowStepID] = flowStepID
	}
	if result.Error != "" {
		metadata[models.PacketMetaError] = result.Error
	}

	title := "Tool: " + definition.Name
	return models.NewDataPacket(packetType, title, ResultContent(result), metadata)
}

// ResultContent renders a result as the text returned to the AI
func ResultContent(result *models.ToolResult) string {
	data, err := json.Marshal(result)
	if err != nil {
		if result.Success {
			return "success"
		}
		return "error: " + result.Error
	}
	return string(data)
}
