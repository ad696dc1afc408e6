package analysis

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/medlens/backend/internal/analysis/extract"
	"github.com/zhouzirui/medlens/backend/internal/model/analysis"
	"github.com/zhouzirui/medlens/backend/internal/service/archive"
	chatservice "github.com/zhouzirui/medlens/backend/internal/service/chat"
	"github.com/zhouzirui/medlens/backend/internal/service/extraction"
	"github.com/zhouzirui/medlens/backend/pkg/logger"
	"github.com/zhouzirui/medlens/backend/pkg/utils"
)

const maxUploadBytes = 20 << 20

// Handler 图像分析的HTTP处理器
type Handler struct {
	extractor *extraction.Service
	archive   *archive.Store
	chatSvc   *chatservice.Service
	log       zerolog.Logger
}

// New 创建分析处理器。archive 与 chatSvc 可以为 nil。
func New(extractor *extraction.Service, store *archive.Store, chatSvc *chatservice.Service) *Handler {
	return &Handler{
		extractor: extractor,
		archive:   store,
		chatSvc:   chatSvc,
		log:       logger.Component("analysis"),
	}
}

// Response 是一次成功分析的结果。
type Response struct {
	Kind       analysis.Kind   `json:"kind"`
	Summary    string          `json:"summary"`
	Record     analysis.Record `json:"record"`
	ArchivedAs string          `json:"archivedAs,omitempty"`
	SessionID  string          `json:"sessionId,omitempty"`
}

// RegisterRoutes 注册分析相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/analysis/{kind}", h.handleAnalyze)
}

func (h *Handler) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	kind, err := analysis.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, err.Error())
		return
	}

	if !h.extractor.Enabled() {
		utils.RespondError(w, http.StatusServiceUnavailable, "analysis model not configured")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, _, err := r.FormFile("image")
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "image file is required")
		return
	}
	defer file.Close()

	image, err := io.ReadAll(file)
	if err != nil || len(image) == 0 {
		utils.RespondError(w, http.StatusBadRequest, "image file is empty")
		return
	}

	var session *chatservice.Session
	sessionID := strings.TrimSpace(r.FormValue("sessionId"))
	if sessionID != "" && h.chatSvc != nil {
		session, err = h.chatSvc.GetSession(r.Context(), sessionID)
		if err != nil {
			utils.RespondError(w, http.StatusNotFound, "session not found")
			return
		}
	}

	rec, err := h.extractor.Extract(r.Context(), image, kind)
	if err != nil {
		h.respondExtractError(w, kind, err)
		return
	}

	resp := Response{Kind: kind, Summary: rec.Summary(), Record: *rec}

	if h.archive != nil {
		path, err := h.archive.SaveRecord(*rec)
		if err != nil {
			h.log.Warn().Err(err).Str("kind", string(kind)).Msg("failed to archive record")
		} else {
			resp.ArchivedAs = path
		}
	}

	if session != nil {
		session.SetContext(*rec)
		resp.SessionID = session.ID()
	}

	utils.RespondJSON(w, http.StatusOK, resp)
}

func (h *Handler) respondExtractError(w http.ResponseWriter, kind analysis.Kind, err error) {
	switch {
	case errors.Is(err, extraction.ErrInvalidImage):
		utils.RespondError(w, http.StatusBadRequest, "image could not be decoded")
	case errors.Is(err, extraction.ErrUnknownTask):
		utils.RespondError(w, http.StatusNotFound, "unknown analysis task")
	case errors.Is(err, extraction.ErrDisabled):
		utils.RespondError(w, http.StatusServiceUnavailable, "analysis model not configured")
	case errors.Is(err, extract.ErrNoStructureFound), errors.Is(err, extract.ErrMalformedStructure):
		utils.RespondRetryable(w, http.StatusBadGateway, "model response could not be parsed, please retry")
	default:
		h.log.Error().Err(err).Str("kind", string(kind)).Msg("analysis failed")
		utils.RespondRetryable(w, http.StatusBadGateway, "analysis failed, please retry")
	}
}
