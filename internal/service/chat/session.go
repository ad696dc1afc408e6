package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/medlens/backend/internal/model/analysis"
	"github.com/zhouzirui/medlens/backend/internal/model/chat"
	"github.com/zhouzirui/medlens/backend/pkg/logger"
)

const (
	brevityInstruction = "Please provide brief and concise responses suitable for voice output. Limit to 2-3 short sentences when possible."
	brevityReminder    = "Remember to keep your response brief and concise for voice output. Focus only on the most important information."
	groundingTemplate  = "Based on the analysis results: %s, please provide a concise response to: %s"

	// ApologyMessage answers every failed turn.
	ApologyMessage = "Sorry, I encountered an error while processing your query."
)

// Condenser derives the voice-ready version of an answer.
type Condenser interface {
	Condense(ctx context.Context, full string) string
}

// Session owns one conversation: its history and the optional analysis record used
// to ground follow-up questions. Turns are serialised.
type Session struct {
	id        string
	createdAt time.Time

	model     model.BaseChatModel
	condenser Condenser
	log       zerolog.Logger

	turnMu  sync.Mutex
	history *History

	ctxMu   sync.RWMutex
	context *analysis.Record
}

// NewSession builds a session around its collaborators.
func NewSession(id string, chatModel model.BaseChatModel, condenser Condenser) *Session {
	return &Session{
		id:        id,
		createdAt: time.Now().UTC(),
		model:     chatModel,
		condenser: condenser,
		history:   NewHistory(),
		log:       logger.Component("chat").With().Str("session", id).Logger(),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Info returns the session metadata.
func (s *Session) Info() chat.Session {
	return chat.Session{
		ID:         s.id,
		CreatedAt:  s.createdAt,
		TurnCount:  s.history.Len(),
		HasContext: s.Context() != nil,
	}
}

// History exposes the session log for export.
func (s *Session) History() *History { return s.history }

// Submit runs one turn. It never fails: a model error becomes the apology turn.
func (s *Session) Submit(ctx context.Context, query string) chat.QueryResponse {
	s.turnMu.Lock()
	defer s.turnMu.Unlock()

	query = strings.TrimSpace(query)
	s.history.Append(chat.Turn{Role: chat.RoleUser, Content: query})

	messages, err := s.buildMessages(query)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to build prompt")
		return s.apologise()
	}

	if s.model == nil {
		s.log.Warn().Msg("no chat model configured")
		return s.apologise()
	}

	resp, err := s.model.Generate(ctx, messages)
	if err != nil || resp == nil {
		s.log.Error().Err(err).Msg("completion failed")
		return s.apologise()
	}

	full := strings.TrimSpace(resp.Content)
	s.history.Append(chat.Turn{Role: chat.RoleAssistant, Content: full})

	concise := full
	if s.condenser != nil {
		concise = s.condenser.Condense(ctx, full)
	}

	s.log.Info().Int("turns", s.history.Len()).Int("full_len", len(full)).Msg("turn complete")
	return chat.QueryResponse{Full: full, Concise: concise}
}

func (s *Session) apologise() chat.QueryResponse {
	s.history.Append(chat.Turn{Role: chat.RoleAssistant, Content: ApologyMessage})
	return chat.QueryResponse{Full: ApologyMessage, Concise: ApologyMessage, Failed: true}
}

// buildMessages assembles brevity instruction, history window, optional grounding
// and the closing reminder. The window already contains the current query.
func (s *Session) buildMessages(query string) ([]*schema.Message, error) {
	window := s.history.Window()

	messages := make([]*schema.Message, 0, len(window)+3)
	messages = append(messages, schema.SystemMessage(brevityInstruction))
	for _, turn := range window {
		messages = append(messages, turn.Message())
	}

	if rec := s.Context(); rec != nil {
		body, err := json.MarshalIndent(rec, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode grounding record: %w", err)
		}
		messages = append(messages, schema.SystemMessage(fmt.Sprintf(groundingTemplate, body, query)))
	}

	messages = append(messages, schema.SystemMessage(brevityReminder))
	return messages, nil
}

// Reset empties the history. The grounding record is kept.
func (s *Session) Reset() {
	s.turnMu.Lock()
	defer s.turnMu.Unlock()
	s.history.Reset()
}

// SetContext replaces the grounding record used from the next turn on.
func (s *Session) SetContext(rec analysis.Record) {
	s.ctxMu.Lock()
	s.context = &rec
	s.ctxMu.Unlock()
}

// ClearContext drops the grounding record.
func (s *Session) ClearContext() {
	s.ctxMu.Lock()
	s.context = nil
	s.ctxMu.Unlock()
}

// Context returns the current grounding record or nil.
func (s *Session) Context() *analysis.Record {
	s.ctxMu.RLock()
	defer s.ctxMu.RUnlock()
	return s.context
}
