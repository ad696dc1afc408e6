package speech

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/medlens/backend/internal/model/chat"
	speechmodel "github.com/zhouzirui/medlens/backend/internal/model/speech"
	"github.com/zhouzirui/medlens/backend/pkg/logger"
)

// Submitter answers one text query; *chat.Session from the chat service satisfies it.
type Submitter interface {
	Submit(ctx context.Context, query string) chat.QueryResponse
}

// StatusFunc receives interim status updates.
type StatusFunc func(speechmodel.Status)

// TurnResult describes one voice turn.
type TurnResult struct {
	Transcript string             `json:"transcript,omitempty"`
	Response   chat.QueryResponse `json:"response"`
	Spoken     bool               `json:"spoken"`
	NoSpeech   bool               `json:"noSpeech,omitempty"`
	Err        error              `json:"-"`
	Elapsed    time.Duration      `json:"elapsed"`
}

// VoiceChain runs capture, transcription, the chat turn and playback strictly in order.
type VoiceChain struct {
	input  *Input
	output *Output
	log    zerolog.Logger
}

// NewVoiceChain 创建语音轮次处理链。
func NewVoiceChain(input *Input, output *Output) *VoiceChain {
	return &VoiceChain{input: input, output: output, log: logger.Component("voice")}
}

// RunTurn processes a single utterance. Audio failures never abort the text answer:
// a failed Speak still returns the response.
func (vc *VoiceChain) RunTurn(ctx context.Context, session Submitter, src Source, player Player, status StatusFunc) TurnResult {
	started := time.Now()
	emit := func(s speechmodel.Status) {
		if status != nil {
			status(s)
		}
	}
	done := func(res TurnResult) TurnResult {
		res.Elapsed = time.Since(started)
		emit(speechmodel.StatusReady)
		return res
	}

	emit(speechmodel.StatusListening)
	audio, err := vc.input.Capture(ctx, src)
	if err != nil {
		vc.log.Warn().Err(err).Msg("capture aborted")
		return done(TurnResult{Err: err})
	}
	if audio == nil {
		emit(speechmodel.StatusNoSpeech)
		return done(TurnResult{NoSpeech: true})
	}

	emit(speechmodel.StatusProcessing)
	text, err := vc.input.Transcribe(ctx, audio)
	if err != nil {
		if errors.Is(err, ErrUnintelligible) {
			emit(speechmodel.StatusNotUnderstood)
		} else {
			emit(speechmodel.StatusUnavailable)
		}
		return done(TurnResult{Err: err})
	}

	emit(speechmodel.StatusThinking)
	resp := session.Submit(ctx, text)

	emit(speechmodel.StatusSpeaking)
	spoken := vc.output.Speak(ctx, resp.Concise, player)

	vc.log.Info().Bool("spoken", spoken).Bool("failed", resp.Failed).Msg("voice turn complete")
	return done(TurnResult{Transcript: text, Response: resp, Spoken: spoken})
}
