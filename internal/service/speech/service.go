package speech

import (
	"context"

	speechmodel "github.com/zhouzirui/medlens/backend/internal/model/speech"
)

// Service 聚合 ASR 与 TTS 客户端。
type Service struct {
	cfg *speechmodel.Config
	asr *ASRClient
	tts *TTSClient
}

// NewService 创建语音服务实例。
func NewService(cfg *speechmodel.Config) *Service {
	return &Service{
		cfg: cfg,
		asr: NewASRClient(cfg),
		tts: NewTTSClient(cfg),
	}
}

// Enabled 表示语音凭证是否齐全。
func (s *Service) Enabled() bool {
	return s != nil && s.cfg.Enabled()
}

// Recognize implements Recognizer.
func (s *Service) Recognize(ctx context.Context, audio []byte, format string) (speechmodel.Transcript, error) {
	return s.asr.Recognize(ctx, audio, format)
}

// Synthesize implements Synthesizer.
func (s *Service) Synthesize(ctx context.Context, text, lang string) (speechmodel.Synthesis, error) {
	return s.tts.Synthesize(ctx, text, lang)
}
