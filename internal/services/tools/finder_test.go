package tools

import (
	"testing"

	"github.com/saraichinwag/data-machine-sub002/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindToolResult(t *testing.T) {
	publishDef := definition("publish", "markdown_file")
	updateDef := definition("update", "markdown_file_update")
	searchDef := definition("search", "")

	older := ResultPacket(&publishDef, "call-1", "ai_1", nil, Success("publish", map[string]interface{}{"path": "old.md"}))
	newer := ResultPacket(&publishDef, "call-2", "ai_1", nil, Success("publish", map[string]interface{}{"path": "new.md"}))
	packets := []models.DataPacket{
		ResultPacket(&searchDef, "call-4", "ai_1", nil, Success("search", nil)),
		ResultPacket(&updateDef, "call-3", "ai_1", nil, Success("update", nil)),
		newer,
		models.NewDataPacket(models.PacketTypeFetch, "source", "body", map[string]interface{}{models.PacketMetaHandlerTool: "markdown_file"}),
		older,
	}

	found, ok := FindToolResult(packets, "markdown_file")
	require.True(t, ok)
	assert.Equal(t, "call-2", found.MetaString(models.PacketMetaToolCallID))
	assert.Equal(t, models.PacketTypeAIHandler, found.Type)

	_, ok = FindToolResult(packets, "markdown")
	assert.False(t, ok, "partial slugs never match")

	_, ok = FindToolResult(packets, "")
	assert.False(t, ok)

	_, ok = FindToolResult(nil, "markdown_file")
	assert.False(t, ok)
}

func TestResultPacket(t *testing.T) {
	handlerDef := definition("publish", "markdown_file")
	failed := ResultPacket(&handlerDef, "c1", "ai_1", nil, Failure("publish", "disk full"))
	assert.Equal(t, models.PacketTypeToolResult, failed.Type)
	assert.True(t, failed.IsFailure())
	assert.Equal(t, "disk full", failed.ErrorMessage())

	lookupDef := definition("search", "")
	lookup := ResultPacket(&lookupDef, "c2", "ai_1", nil, Failure("search", "no results"))
	assert.False(t, lookup.IsFailure(), "only handler tools flag the step")
	assert.Equal(t, false, lookup.Metadata["tool_success"])
	assert.Contains(t, lookup.Content.Body, "no results")
}
