package extraction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/medlens/backend/internal/analysis/extract"
	"github.com/zhouzirui/medlens/backend/internal/model/analysis"
	"github.com/zhouzirui/medlens/backend/internal/model/task"
	"github.com/zhouzirui/medlens/backend/pkg/logger"
)

var (
	ErrDisabled     = errors.New("extraction model not configured")
	ErrInvalidImage = errors.New("image could not be decoded")
	ErrTransport    = errors.New("vision model request failed")
	ErrUnknownTask  = errors.New("unknown extraction task")
)

// Service turns an uploaded image into a structured analysis record. It holds no
// per-call state and never retries: a failed extraction is surfaced to the caller.
type Service struct {
	model model.BaseChatModel
	tasks task.Store
	log   zerolog.Logger
}

// NewService wires the extractor. A nil model yields a disabled service.
func NewService(chatModel model.BaseChatModel, tasks task.Store) *Service {
	return &Service{
		model: chatModel,
		tasks: tasks,
		log:   logger.Component("extraction"),
	}
}

// Enabled reports whether a model is available.
func (s *Service) Enabled() bool {
	return s != nil && s.model != nil
}

// Extract sends image together with the task prompt for kind and decodes the answer.
// The record is nil whenever err is non-nil.
func (s *Service) Extract(ctx context.Context, image []byte, kind analysis.Kind) (*analysis.Record, error) {
	if !s.Enabled() {
		return nil, ErrDisabled
	}

	t, ok := s.tasks.FindByID(kind)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTask, kind)
	}

	jpeg, err := normalizeImage(image)
	if err != nil {
		s.log.Warn().Err(err).Str("kind", string(kind)).Msg("rejecting upload")
		return nil, err
	}

	started := time.Now()
	resp, err := s.model.Generate(ctx, []*schema.Message{buildRequest(t.Prompt, jpeg)})
	if err != nil {
		s.log.Error().Err(err).Str("kind", string(kind)).Msg("vision request failed")
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return nil, fmt.Errorf("%w: empty completion", ErrTransport)
	}

	rec, err := extract.Decode(resp.Content, kind)
	if err != nil {
		s.log.Warn().Err(err).Str("kind", string(kind)).Int("length", len(resp.Content)).Msg("could not decode model output")
		return nil, err
	}

	s.log.Info().
		Str("kind", string(kind)).
		Dur("elapsed", time.Since(started)).
		Str("summary", rec.Summary()).
		Msg("extraction complete")
	return &rec, nil
}

func buildRequest(prompt string, jpeg []byte) *schema.Message {
	return &schema.Message{
		Role: schema.User,
		MultiContent: []schema.ChatMessagePart{
			{Type: schema.ChatMessagePartTypeText, Text: prompt},
			{
				Type: schema.ChatMessagePartTypeImageURL,
				ImageURL: &schema.ChatMessageImageURL{
					URL:    dataURL(jpeg),
					Detail: schema.ImageURLDetailAuto,
				},
			},
		},
	}
}
