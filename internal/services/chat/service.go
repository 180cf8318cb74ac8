package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/saraichinwag/data-machine-sub002/internal/interfaces"
	"github.com/saraichinwag/data-machine-sub002/internal/models"
	"github.com/saraichinwag/data-machine-sub002/internal/services/tools"
	"github.com/ternarybob/arbor"
)

// Options are the chat agent defaults
type Options struct {
	Provider string
	Model    string
	MaxTurns int
}

// Service manages persisted chat-agent sessions
type Service struct {
	sessions interfaces.ChatSessionStorage
	loop     *ConversationLoop
	registry *tools.Registry
	options  Options
	logger   arbor.ILogger
}

// NewService creates a new chat service
func NewService(sessions interfaces.ChatSessionStorage, loop *ConversationLoop, registry *tools.Registry, options Options, logger arbor.ILogger) *Service {
	return &Service{
		sessions: sessions,
		loop:     loop,
		registry: registry,
		options:  options,
		logger:   logger,
	}
}

// Send appends a user message and runs the agent. An empty sessionID starts
// a new session. With singleTurn the agent stops after one turn and the
// caller polls Continue.
func (s *Service) Send(ctx context.Context, sessionID string, message string, singleTurn bool) (*models.ChatSession, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, fmt.Errorf("message is required")
	}

	var session *models.ChatSession
	if sessionID == "" {
		session = &models.ChatSession{
			ID:       uuid.New().String(),
			Provider: s.options.Provider,
			Model:    s.options.Model,
		}
	} else {
		var err error
		if session, err = s.sessions.GetSession(ctx, sessionID); err != nil {
			return nil, err
		}
	}

	// Tool results must directly follow the assistant message that requested them
	session.Messages = s.loop.AnswerPending(ctx, s.loopRequest(session, 0, false))

	session.Messages = append(session.Messages, models.ConversationMessage{
		Role:      models.RoleUser,
		Content:   message,
		CreatedAt: time.Now().UTC(),
	})
	session.Completed = false
	session.MaxTurnsReached = false

	s.logger.Info().
		Str("session_id", session.ID).
		Int("messages", len(session.Messages)).
		Msg("Chat message received")

	return s.advance(ctx, session, singleTurn)
}

// Continue advances a session by one turn. A completed session is returned unchanged.
func (s *Service) Continue(ctx context.Context, sessionID string) (*models.ChatSession, error) {
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Completed {
		return session, nil
	}
	return s.advance(ctx, session, true)
}

func (s *Service) loopRequest(session *models.ChatSession, maxTurns int, singleTurn bool) LoopRequest {
	return LoopRequest{
		Messages:   session.Messages,
		Tools:      s.registry.Discover(tools.DiscoveryContext{AgentType: models.AgentTypeChat}),
		Provider:   session.Provider,
		Model:      session.Model,
		AgentType:  models.AgentTypeChat,
		Context:    map[string]interface{}{tools.ParamSessionID: session.ID},
		MaxTurns:   maxTurns,
		SingleTurn: singleTurn,
		TurnCount:  session.TurnCount,
		Completed:  session.Completed,
	}
}

func (s *Service) advance(ctx context.Context, session *models.ChatSession, singleTurn bool) (*models.ChatSession, error) {
	maxTurns := s.options.MaxTurns
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	// Turn counts accumulate across a session, so the limit applies per user message
	maxTurns += turnsBeforeLastUserMessage(session)

	result, err := s.loop.Run(ctx, s.loopRequest(session, maxTurns, singleTurn))
	if result != nil {
		session.Messages = result.Messages
		session.TurnCount = result.TurnCount
		session.Completed = result.Completed
		session.MaxTurnsReached = result.MaxTurnsReached
	}

	if saveErr := s.sessions.SaveSession(ctx, session); saveErr != nil {
		return nil, saveErr
	}
	if err != nil {
		s.logger.Error().Err(err).Str("session_id", session.ID).Msg("Chat turn failed")
		return session, err
	}

	s.logger.Debug().
		Str("session_id", session.ID).
		Int("turns", session.TurnCount).
		Bool("completed", session.Completed).
		Bool("max_turns_reached", session.MaxTurnsReached).
		Msg("Chat session advanced")
	return session, nil
}

// turnsBeforeLastUserMessage counts assistant turns recorded before the newest user message
func turnsBeforeLastUserMessage(session *models.ChatSession) int {
	last := -1
	for i, msg := range session.Messages {
		if msg.Role == models.RoleUser {
			last = i
		}
	}
	turns := 0
	for _, msg := range session.Messages[:max(last, 0)] {
		if msg.Role == models.RoleAssistant {
			turns++
		}
	}
	return turns
}

// Get returns a session
func (s *Service) Get(ctx context.Context, sessionID string) (*models.ChatSession, error) {
	return s.sessions.GetSession(ctx, sessionID)
}

// List returns the most recently updated sessions
func (s *Service) List(ctx context.Context, limit int) ([]*models.ChatSession, error) {
	return s.sessions.ListSessions(ctx, limit)
}

// Delete removes a session
func (s *Service) Delete(ctx context.Context, sessionID string) error {
	return s.sessions.DeleteSession(ctx, sessionID)
}
