package task

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/medlens/backend/internal/model/task"
	"github.com/zhouzirui/medlens/backend/pkg/utils"
)

// Handler 分析任务目录的HTTP处理器
type Handler struct {
	tasks task.Store
}

// New 创建任务处理器
func New(tasks task.Store) *Handler {
	return &Handler{tasks: tasks}
}

// RegisterRoutes 注册任务相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/tasks", h.handleListTasks)
}

func (h *Handler) handleListTasks(w http.ResponseWriter, _ *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.tasks.List())
}
