package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/ligochat/internal/handler/chat"
	middlewarePkg "github.com/zhouzirui/ligochat/internal/middleware"
	chatService "github.com/zhouzirui/ligochat/internal/service/chat"
	pkglog "github.com/zhouzirui/ligochat/pkg/log"
	"github.com/zhouzirui/ligochat/pkg/utils"
)

// RouterOptions tunes the HTTP bridge.
type RouterOptions struct {
	AllowedOrigins []string
	KeepAlive      time.Duration
}

// NewRouter wires HTTP routes to the session registry.
func NewRouter(sessions *chatService.Service, logger zerolog.Logger, opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(pkglog.HTTPMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(opts.AllowedOrigins))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"status":   "ok",
			"sessions": sessions.Len(),
		})
	})

	chatHandler := chat.New(sessions).WithKeepAlive(opts.KeepAlive)

	r.Route("/api", func(api chi.Router) {
		chatHandler.RegisterRoutes(api)
	})

	return r
}
