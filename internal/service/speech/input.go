package speech

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	speechmodel "github.com/zhouzirui/medlens/backend/internal/model/speech"
	"github.com/zhouzirui/medlens/backend/pkg/logger"
)

// DefaultCaptureTimeout bounds how long Capture waits for an utterance.
const DefaultCaptureTimeout = 5 * time.Second

// Recognizer turns audio into text.
type Recognizer interface {
	Recognize(ctx context.Context, audio []byte, format string) (speechmodel.Transcript, error)
}

// Input captures one utterance and transcribes it.
type Input struct {
	recognizer Recognizer
	timeout    time.Duration
	format     string
	log        zerolog.Logger
}

// NewInput builds an Input. A non-positive timeout uses DefaultCaptureTimeout.
func NewInput(recognizer Recognizer, timeout time.Duration, format string) *Input {
	if timeout <= 0 {
		timeout = DefaultCaptureTimeout
	}
	if format == "" {
		format = "wav"
	}
	return &Input{
		recognizer: recognizer,
		timeout:    timeout,
		format:     format,
		log:        logger.Component("speech-input"),
	}
}

// Capture reads from src until the utterance ends or the capture timeout lapses.
// Hearing nothing is not an error: it returns (nil, nil). Audio received before
// the deadline is returned as is.
func (in *Input) Capture(ctx context.Context, src Source) ([]byte, error) {
	captureCtx, cancel := context.WithTimeout(ctx, in.timeout)
	defer cancel()

	var buf bytes.Buffer
	for {
		chunk, final, err := src.Read(captureCtx)
		switch {
		case err == nil:
			buf.Write(chunk)
			if final {
				return in.result(&buf), nil
			}
		case errors.Is(err, io.EOF):
			return in.result(&buf), nil
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			if buf.Len() == 0 {
				in.log.Info().Err(ErrCaptureTimeout).Dur("timeout", in.timeout).Msg("no speech detected")
				return nil, nil
			}
			return in.result(&buf), nil
		default:
			return nil, err
		}
	}
}

func (in *Input) result(buf *bytes.Buffer) []byte {
	if buf.Len() == 0 {
		in.log.Info().Err(ErrCaptureTimeout).Msg("source ended without audio")
		return nil
	}
	return buf.Bytes()
}

// Transcribe converts audio to text. Failures are ErrUnintelligible or
// ErrServiceUnavailable and are logged with distinct levels.
func (in *Input) Transcribe(ctx context.Context, audio []byte) (string, error) {
	if in.recognizer == nil {
		in.log.Error().Err(ErrServiceUnavailable).Msg("no recognizer configured")
		return "", ErrServiceUnavailable
	}
	if len(audio) == 0 {
		in.log.Warn().Err(ErrUnintelligible).Msg("empty audio buffer")
		return "", ErrUnintelligible
	}

	t, err := in.recognizer.Recognize(ctx, audio, in.format)
	switch {
	case err == nil && t.Text != "":
		in.log.Debug().Int("chars", len(t.Text)).Float64("confidence", t.Confidence).Msg("transcribed")
		return t.Text, nil
	case err == nil, errors.Is(err, ErrUnintelligible):
		in.log.Warn().Err(ErrUnintelligible).AnErr("cause", err).Msg("could not understand audio")
		return "", ErrUnintelligible
	default:
		in.log.Error().Err(err).Msg("recognition backend failed")
		if errors.Is(err, ErrServiceUnavailable) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
}
