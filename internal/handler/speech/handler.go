package speech

import (
	"context"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	speechmodel "github.com/zhouzirui/medlens/backend/internal/model/speech"
	chatservice "github.com/zhouzirui/medlens/backend/internal/service/chat"
	speechsvc "github.com/zhouzirui/medlens/backend/internal/service/speech"
	"github.com/zhouzirui/medlens/backend/pkg/logger"
	"github.com/zhouzirui/medlens/backend/pkg/utils"
)

const maxAudioBytes = 32 << 20

// Backend 抽象语音识别与合成，便于测试与替换实现
type Backend interface {
	Enabled() bool
	Recognize(ctx context.Context, audio []byte, format string) (speechmodel.Transcript, error)
	Synthesize(ctx context.Context, text, lang string) (speechmodel.Synthesis, error)
}

// Handler 语音服务的HTTP处理器
type Handler struct {
	backend Backend
	chain   *speechsvc.VoiceChain
	chatSvc *chatservice.Service
	log     zerolog.Logger
}

// New 创建语音处理器。chain 或 chatSvc 为 nil 时不提供实时语音链路。
func New(backend Backend, chain *speechsvc.VoiceChain, chatSvc *chatservice.Service) *Handler {
	return &Handler{
		backend: backend,
		chain:   chain,
		chatSvc: chatSvc,
		log:     logger.Component("speech"),
	}
}

// RegisterRoutes 注册语音相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/speech", func(speechRouter chi.Router) {
		speechRouter.Post("/transcribe", h.handleTranscribe)
		speechRouter.Post("/synthesize", h.handleSynthesize)
		speechRouter.Get("/health", h.handleHealth)

		if h.chain != nil && h.chatSvc != nil {
			NewWebSocketHandler(h.chain, h.chatSvc).RegisterWebSocketRoutes(speechRouter)
		} else {
			speechRouter.Get("/ws/{sessionID}", func(w http.ResponseWriter, _ *http.Request) {
				utils.RespondError(w, http.StatusNotImplemented, "speech websocket not available")
			})
		}
	})
}

// handleTranscribe 处理语音转文本请求
func (h *Handler) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if !h.backend.Enabled() {
		utils.RespondError(w, http.StatusServiceUnavailable, speechmodel.StatusUnavailable.String())
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxAudioBytes)
	if err := r.ParseMultipartForm(maxAudioBytes); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("audio")
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "audio file is required")
		return
	}
	defer file.Close()

	audio, err := io.ReadAll(file)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "failed to read audio")
		return
	}

	input := speechsvc.NewInput(h.backend, 0, inferAudioFormat(header.Filename))
	text, err := input.Transcribe(r.Context(), audio)
	switch {
	case err == nil:
		utils.RespondJSON(w, http.StatusOK, map[string]string{"text": text})
	case errors.Is(err, speechsvc.ErrUnintelligible):
		utils.RespondError(w, http.StatusUnprocessableEntity, speechmodel.StatusNotUnderstood.String())
	default:
		utils.RespondRetryable(w, http.StatusServiceUnavailable, speechmodel.StatusUnavailable.String())
	}
}

// handleSynthesize 处理文本转语音请求，直接返回音频
func (h *Handler) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text     string `json:"text"`
		Language string `json:"language"`
	}
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		utils.RespondError(w, http.StatusBadRequest, "text is required")
		return
	}

	out, err := h.backend.Synthesize(r.Context(), req.Text, req.Language)
	if err != nil {
		h.log.Error().Err(err).Msg("synthesis failed")
		if errors.Is(err, speechsvc.ErrDisabled) {
			utils.RespondError(w, http.StatusServiceUnavailable, "speech service not configured")
			return
		}
		utils.RespondRetryable(w, http.StatusBadGateway, "speech synthesis failed")
		return
	}

	format := out.Format
	if format == "" {
		format = "mpeg"
	}
	w.Header().Set("Content-Type", "audio/"+format)
	w.Header().Set("Content-Length", strconv.Itoa(len(out.Audio)))
	w.Header().Set("Content-Disposition", "attachment; filename=speech."+format)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(out.Audio); err != nil {
		h.log.Warn().Err(err).Msg("failed to write audio response")
	}
}

// handleHealth 健康检查端点
func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := "healthy"
	if !h.backend.Enabled() {
		status = "disabled"
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"status":    status,
		"service":   "speech",
		"voiceTurn": h.chain != nil && h.chatSvc != nil,
	})
}

// inferAudioFormat 从文件名推断音频格式
func inferAudioFormat(filename string) string {
	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".mp3", ".wav", ".ogg", ".pcm":
		return strings.TrimPrefix(ext, ".")
	default:
		return "wav"
	}
}
