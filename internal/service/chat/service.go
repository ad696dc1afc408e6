package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/zhouzirui/medlens/backend/internal/model/chat"
)

var ErrSessionNotFound = errors.New("session not found")

// DefaultMaxSessions bounds how many conversations are kept in memory.
const DefaultMaxSessions = 256

// Service hands out independent sessions sharing one model and condenser.
// The least recently used session is evicted once the registry is full.
type Service struct {
	model     model.BaseChatModel
	condenser Condenser
	sessions  *lru.Cache[string, *Session]
}

// NewService bootstraps the in-memory session registry.
func NewService(chatModel model.BaseChatModel, condenser Condenser, maxSessions int) (*Service, error) {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}

	cache, err := lru.New[string, *Session](maxSessions)
	if err != nil {
		return nil, fmt.Errorf("create session cache: %w", err)
	}

	return &Service{model: chatModel, condenser: condenser, sessions: cache}, nil
}

// Enabled reports whether turns can reach a model.
func (s *Service) Enabled() bool {
	return s != nil && s.model != nil
}

// CreateSession provisions an anonymous session.
func (s *Service) CreateSession(_ context.Context) (*Session, error) {
	session := NewSession(uuid.NewString(), s.model, s.condenser)
	s.sessions.Add(session.ID(), session)
	return session, nil
}

// GetSession retrieves a session by identifier.
func (s *Service) GetSession(_ context.Context, sessionID string) (*Session, error) {
	session, ok := s.sessions.Get(sessionID)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// DeleteSession forgets a session.
func (s *Service) DeleteSession(_ context.Context, sessionID string) error {
	if !s.sessions.Remove(sessionID) {
		return ErrSessionNotFound
	}
	return nil
}

// LoadTranscript returns the full history of a session.
func (s *Service) LoadTranscript(ctx context.Context, sessionID string) ([]chat.Turn, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return session.History().Turns(), nil
}
