package chat

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/saraichinwag/data-machine-sub002/internal/common"
	"github.com/saraichinwag/data-machine-sub002/internal/interfaces"
	"github.com/saraichinwag/data-machine-sub002/internal/models"
	badgerstore "github.com/saraichinwag/data-machine-sub002/internal/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func newTestService(t *testing.T, provider *scriptedProvider, maxTurns int) (*Service, *toolHarness) {
	t.Helper()
	logger := arbor.NewLogger()
	manager, err := badgerstore.NewManager(logger, &common.BadgerConfig{Path: filepath.Join(t.TempDir(), "db")})
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })

	h := newToolHarness(t)
	loop := NewConversationLoop(provider, h.executor, logger)
	return NewService(manager.ChatSessionStorage(), loop, h.registry, Options{Provider: "claude", MaxTurns: maxTurns}, logger), h
}

func TestService_SendAndContinue(t *testing.T) {
	provider := &scriptedProvider{responses: []*interfaces.CompletionResponse{
		call("c1", "lookup", nil),
		answer("Here you go."),
		answer("Second answer."),
	}}
	service, h := newTestService(t, provider, 0)
	ctx := context.Background()

	session, err := service.Send(ctx, "", "find it", true)
	require.NoError(t, err)
	require.NotEmpty(t, session.ID)
	assert.False(t, session.Completed)
	assert.Equal(t, 1, session.TurnCount)
	assert.Equal(t, "claude", session.Provider)

	session, err = service.Continue(ctx, session.ID)
	require.NoError(t, err)
	assert.True(t, session.Completed)
	assert.Equal(t, 2, session.TurnCount)
	assert.Equal(t, 1, h.lookups)

	unchanged, err := service.Continue(ctx, session.ID)
	require.NoError(t, err)
	assert.Len(t, unchanged.Messages, len(session.Messages))
	assert.Equal(t, 2, provider.calls())

	session, err = service.Send(ctx, session.ID, "and again", false)
	require.NoError(t, err)
	assert.True(t, session.Completed)
	assert.Equal(t, 3, session.TurnCount)

	stored, err := service.Get(ctx, session.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Messages, 6)

	list, err := service.List(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, service.Delete(ctx, session.ID))
	_, err = service.Get(ctx, session.ID)
	assert.ErrorIs(t, err, interfaces.ErrSessionNotFound)
}

func TestService_TurnLimitIsPerMessage(t *testing.T) {
	provider := &scriptedProvider{responses: []*interfaces.CompletionResponse{
		call("c1", "lookup", nil),
		call("c2", "lookup", nil),
		answer("Recovered."),
	}}
	service, _ := newTestService(t, provider, 1)
	ctx := context.Background()

	session, err := service.Send(ctx, "", "first", false)
	require.NoError(t, err)
	assert.True(t, session.MaxTurnsReached)
	assert.False(t, session.Completed)

	session, err = service.Send(ctx, session.ID, "second", false)
	require.NoError(t, err)
	assert.True(t, session.MaxTurnsReached, "one turn allowed for the second message too")
	assert.Equal(t, 2, session.TurnCount)
}

func TestService_Validation(t *testing.T) {
	service, _ := newTestService(t, &scriptedProvider{}, 0)

	_, err := service.Send(context.Background(), "", "   ", false)
	assert.Error(t, err)

	_, err = service.Send(context.Background(), "missing", "hello", false)
	assert.ErrorIs(t, err, interfaces.ErrSessionNotFound)

	assert.Equal(t, "", Directive(models.AgentType("unknown")))
}

func TestService_SendAnswersInterruptedToolCallsFirst(t *testing.T) {
	provider := &scriptedProvider{responses: []*interfaces.CompletionResponse{answer("Done.")}}
	service, h := newTestService(t, provider, 0)
	ctx := context.Background()

	interrupted := &models.ChatSession{
		ID:        "s-1",
		TurnCount: 1,
		Messages: []models.ConversationMessage{
			{Role: models.RoleUser, Content: "find it"},
			{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{{ID: "c1", Name: "lookup"}}},
		},
	}
	require.NoError(t, service.sessions.SaveSession(ctx, interrupted))

	session, err := service.Send(ctx, "s-1", "anything new?", false)
	require.NoError(t, err)
	assert.True(t, session.Completed)
	assert.Equal(t, 1, h.lookups)

	roles := make([]string, 0, len(session.Messages))
	for _, msg := range session.Messages {
		roles = append(roles, msg.Role)
	}
	assert.Equal(t, []string{
		models.RoleUser, models.RoleAssistant, models.RoleTool, models.RoleUser, models.RoleAssistant,
	}, roles)
	assert.Equal(t, "c1", session.Messages[2].ToolCallID)
	assert.Equal(t, "anything new?", session.Messages[3].Content)
}
