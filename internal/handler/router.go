package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	analysisHandler "github.com/zhouzirui/medlens/backend/internal/handler/analysis"
	"github.com/zhouzirui/medlens/backend/internal/handler/chat"
	"github.com/zhouzirui/medlens/backend/internal/handler/speech"
	"github.com/zhouzirui/medlens/backend/internal/handler/stream"
	taskHandler "github.com/zhouzirui/medlens/backend/internal/handler/task"
	middlewarePkg "github.com/zhouzirui/medlens/backend/internal/middleware"
	"github.com/zhouzirui/medlens/backend/internal/model/task"
	"github.com/zhouzirui/medlens/backend/internal/service/archive"
	chatService "github.com/zhouzirui/medlens/backend/internal/service/chat"
	"github.com/zhouzirui/medlens/backend/internal/service/extraction"
	speechService "github.com/zhouzirui/medlens/backend/internal/service/speech"
)

// Deps 汇总路由需要的服务。Speech 与 VoiceChain 可以为 nil。
type Deps struct {
	Tasks      task.Store
	Extractor  *extraction.Service
	Archive    *archive.Store
	Chat       *chatService.Service
	Speech     speech.Backend
	VoiceChain *speechService.VoiceChain
	// RateLimitPerMin 限制分析接口，0 表示不限流。
	RateLimitPerMin int
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	limiter := middlewarePkg.NewRateLimiter(deps.RateLimitPerMin)

	r.Route("/api", func(api chi.Router) {
		taskHandler.New(deps.Tasks).RegisterRoutes(api)

		// 图像分析调用视觉模型，按客户端限流。
		api.Group(func(limited chi.Router) {
			limited.Use(limiter.Handler)
			analysisHandler.New(deps.Extractor, deps.Archive, deps.Chat).RegisterRoutes(limited)
		})

		chat.New(deps.Chat, deps.Archive).RegisterRoutes(api)
		stream.New(deps.Chat).RegisterRoutes(api)

		if deps.Speech != nil {
			speech.New(deps.Speech, deps.VoiceChain, deps.Chat).RegisterRoutes(api)
		}
	})

	return r
}
