package chat

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/medlens/backend/internal/model/chat"
	"github.com/zhouzirui/medlens/backend/internal/service/archive"
	chatService "github.com/zhouzirui/medlens/backend/internal/service/chat"
	"github.com/zhouzirui/medlens/backend/pkg/utils"
)

// Handler 会话服务的HTTP处理器
type Handler struct {
	chatSvc *chatService.Service
	archive *archive.Store
}

// New 创建会话处理器。archive 为 nil 时保存接口返回 503。
func New(chatSvc *chatService.Service, store *archive.Store) *Handler {
	return &Handler{chatSvc: chatSvc, archive: store}
}

// RegisterRoutes 注册会话相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/sessions", func(sr chi.Router) {
		sr.Post("/", h.handleCreateSession)
		sr.Route("/{sessionID}", func(one chi.Router) {
			one.Get("/", h.handleGetSession)
			one.Delete("/", h.handleDeleteSession)
			one.Get("/history", h.handleHistory)
			one.Post("/messages", h.handleSubmit)
			one.Post("/reset", h.handleReset)
			one.Post("/save", h.handleSave)
			one.Delete("/context", h.handleClearContext)
		})
	})
}

// HistoryResponse 会话元数据与完整对话记录
type HistoryResponse struct {
	Session chat.Session `json:"session"`
	Turns   []chat.Turn  `json:"turns"`
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.chatSvc.CreateSession(r.Context())
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusCreated, session.Info())
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	utils.RespondJSON(w, http.StatusOK, session.Info())
}

func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.chatSvc.DeleteSession(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		h.respondLookupError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	utils.RespondJSON(w, http.StatusOK, HistoryResponse{
		Session: session.Info(),
		Turns:   session.History().Turns(),
	})
}

// handleSubmit 处理一轮文字提问。模型失败时仍返回 200，正文为致歉语并带 failed 标记。
func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Message string `json:"message"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(payload.Message) == "" {
		utils.RespondError(w, http.StatusBadRequest, "message is required")
		return
	}

	session, ok := h.session(w, r)
	if !ok {
		return
	}

	utils.RespondJSON(w, http.StatusOK, session.Submit(r.Context(), payload.Message))
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	session.Reset()
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSave(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "archive not configured")
		return
	}

	session, ok := h.session(w, r)
	if !ok {
		return
	}

	path, err := h.archive.SaveConversation(session.History().Turns())
	if err != nil {
		if errors.Is(err, archive.ErrEmptyConversation) {
			utils.RespondError(w, http.StatusConflict, "conversation is empty")
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, "failed to save conversation")
		return
	}

	utils.RespondJSON(w, http.StatusCreated, map[string]string{"path": path})
}

func (h *Handler) handleClearContext(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	session.ClearContext()
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*chatService.Session, bool) {
	session, err := h.chatSvc.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.respondLookupError(w, err)
		return nil, false
	}
	return session, true
}

func (h *Handler) respondLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, chatService.ErrSessionNotFound) {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}
	utils.RespondError(w, http.StatusInternalServerError, err.Error())
}
