package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/polyglot-chat/backend/internal/handler/chat"
	"github.com/zhouzirui/polyglot-chat/backend/internal/handler/realtime"
	"github.com/zhouzirui/polyglot-chat/backend/internal/handler/speech"
	middlewarePkg "github.com/zhouzirui/polyglot-chat/backend/internal/middleware"
	"github.com/zhouzirui/polyglot-chat/backend/internal/model/user"
	chatService "github.com/zhouzirui/polyglot-chat/backend/internal/service/chat"
	"github.com/zhouzirui/polyglot-chat/backend/pkg/utils"
)

// Services 聚合路由层需要的服务；Speech 为空时语音接口返回 503
type Services struct {
	Realtime *realtime.Handler
	Chat     *chatService.Service
	Speech   speech.SpeechService
	Users    user.Store
}

// NewRouter wires HTTP routes to core services.
func NewRouter(svc Services) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// websocket 连接不经过请求日志中间件，避免长连接日志混乱
	svc.Realtime.RegisterRoutes(r)

	r.Route("/api", func(api chi.Router) {
		api.Use(middleware.Logger)

		svc.Realtime.RegisterAPIRoutes(api)
		chat.New(svc.Chat).RegisterRoutes(api)
		speech.New(svc.Speech, svc.Users).RegisterRoutes(api)
	})

	return r
}
