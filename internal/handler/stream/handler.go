package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	speechmodel "github.com/zhouzirui/medlens/backend/internal/model/speech"
	chatService "github.com/zhouzirui/medlens/backend/internal/service/chat"
	"github.com/zhouzirui/medlens/backend/pkg/logger"
	"github.com/zhouzirui/medlens/backend/pkg/utils"
)

// Handler 以 Server-Sent Events 推送一轮问答的状态与结果
type Handler struct {
	chatSvc *chatService.Service
	log     zerolog.Logger
}

// New creates a new stream handler
func New(chatSvc *chatService.Service) *Handler {
	return &Handler{chatSvc: chatSvc, log: logger.Component("stream")}
}

// Event 是一条 SSE 数据
type Event struct {
	SessionID string `json:"sessionId"`
	Content   string `json:"content,omitempty"`
	Failed    bool   `json:"failed,omitempty"`
}

// RegisterRoutes 注册流式问答路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/stream/{sessionID}", h.handleStream)
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	message := strings.TrimSpace(r.URL.Query().Get("message"))
	if message == "" {
		utils.RespondError(w, http.StatusBadRequest, "message query parameter is required")
		return
	}

	if _, ok := w.(http.Flusher); !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	if _, err := h.chatSvc.GetSession(r.Context(), sessionID); err != nil {
		if errors.Is(err, chatService.ErrSessionNotFound) {
			utils.RespondError(w, http.StatusNotFound, "session not found")
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := h.HandleStreamRequest(r.Context(), w, sessionID, message); err != nil {
		h.log.Warn().Err(err).Str("session", sessionID).Msg("stream aborted")
	}
}

// HandleStreamRequest runs one turn and emits status, message, summary and end events.
func (h *Handler) HandleStreamRequest(ctx context.Context, w http.ResponseWriter, sessionID, message string) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("streaming unsupported")
	}

	session, err := h.chatSvc.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	send := func(event string, payload Event) error {
		payload.SessionID = sessionID
		return utils.SendSSEEvent(w, flusher, event, payload)
	}

	if err := send("status", Event{Content: string(speechmodel.StatusThinking)}); err != nil {
		return err
	}

	resp := session.Submit(ctx, message)

	if err := send("message", Event{Content: resp.Full, Failed: resp.Failed}); err != nil {
		return err
	}
	if err := send("summary", Event{Content: resp.Concise, Failed: resp.Failed}); err != nil {
		return err
	}
	if err := send("end", Event{}); err != nil {
		return err
	}

	h.log.Info().Str("session", sessionID).Bool("failed", resp.Failed).Msg("stream completed")
	return nil
}
