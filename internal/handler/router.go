package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/optinbot/widget/internal/config"
	"github.com/optinbot/widget/internal/handler/assets"
	"github.com/optinbot/widget/internal/handler/stream"
	"github.com/optinbot/widget/internal/handler/widget"
	middlewarePkg "github.com/optinbot/widget/internal/middleware"
	"github.com/optinbot/widget/internal/service/mount"
	"github.com/optinbot/widget/pkg/utils"
)

type healthResponse struct {
	Status string `json:"status"`
	Mounts int    `json:"mounts"`
}

// NewRouter wires HTTP routes to the mount registry.
func NewRouter(cfg *config.Config, mounts *mount.Registry, loader *assets.Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.AllowOrigins(cfg.Server.AllowedOrigins))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, healthResponse{Status: "ok", Mounts: mounts.Len()})
	})
	loader.RegisterRoutes(r)

	var guards []func(http.Handler) http.Handler
	if cfg.Mounts.CreateRate > 0 {
		guards = append(guards, middlewarePkg.RateLimit(rate.Limit(cfg.Mounts.CreateRate), max(cfg.Mounts.CreateBurst, 1)))
	}

	widgetHandler := widget.New(mounts, guards...)
	streamHandler := stream.New(mounts, stream.DefaultKeepAlive)

	r.Route("/api", func(api chi.Router) {
		widgetHandler.RegisterRoutes(api)
		streamHandler.RegisterRoutes(api)
	})

	return r
}

// NewDevHookRouter serves the local webhook stand-in.
func NewDevHookRouter(hooks interface{ RegisterRoutes(chi.Router) }) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middlewarePkg.RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	hooks.RegisterRoutes(r)
	return r
}
