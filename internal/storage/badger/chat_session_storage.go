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

// ChatSessionStorage implements the ChatSessionStorage interface for Badger
type ChatSessionStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewChatSessionStorage creates a new ChatSessionStorage instance
func NewChatSessionStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ChatSessionStorage {
	return &ChatSessionStorage{
		db:     db,
		logger: logger,
	}
}

func (s *ChatSessionStorage) SaveSession(ctx context.Context, session *models.ChatSession) error {
	if session.ID == "" {
		return fmt.Errorf("session ID is required")
	}
	now := time.Now().UTC()
	session.UpdatedAt = now
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	if err := s.db.Store().Upsert(session.ID, session); err != nil {
		return fmt.Errorf("failed to save chat session: %w", err)
	}
	return nil
}

func (s *ChatSessionStorage) GetSession(ctx context.Context, sessionID string) (*models.ChatSession, error) {
	var session models.ChatSession
	if err := s.db.Store().Get(sessionID, &session); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", interfaces.ErrSessionNotFound, sessionID)
		}
		return nil, fmt.Errorf("failed to get chat session: %w", err)
	}
	return &session, nil
}

func (s *ChatSessionStorage) ListSessions(ctx context.Context, limit int) ([]*models.ChatSession, error) {
	query := badgerhold.Where("ID").Ne("").SortBy("UpdatedAt").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}

	var sessions []models.ChatSession
	if err := s.db.Store().Find(&sessions, query); err != nil {
		return nil, fmt.Errorf("failed to list chat sessions: %w", err)
	}

	result := make([]*models.ChatSession, len(sessions))
	for i := range sessions {
		result[i] = &sessions[i]
	}
	return result, nil
}

func (s *ChatSessionStorage) DeleteSession(ctx context.Context, sessionID string) error {
	if err := s.db.Store().Delete(sessionID, &models.ChatSession{}); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return fmt.Errorf("%w: %s", interfaces.ErrSessionNotFound, sessionID)
		}
		return fmt.Errorf("failed to delete chat session: %w", err)
	}
	return nil
}
