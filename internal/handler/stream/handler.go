// Package stream pushes mount state to renderers over Server-Sent Events.
package stream

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/optinbot/widget/internal/service/mount"
	"github.com/optinbot/widget/pkg/utils"
)

// DefaultKeepAlive is how often an idle stream receives a comment line.
const DefaultKeepAlive = 15 * time.Second

// EventState is the SSE event name carrying a mount.Snapshot.
const EventState = "state"

// Handler streams snapshots of a mount.
type Handler struct {
	mounts    *mount.Registry
	keepAlive time.Duration
}

// New creates a stream handler. A non-positive keepAlive uses DefaultKeepAlive.
func New(mounts *mount.Registry, keepAlive time.Duration) *Handler {
	if keepAlive <= 0 {
		keepAlive = DefaultKeepAlive
	}
	return &Handler{mounts: mounts, keepAlive: keepAlive}
}

// RegisterRoutes 注册SSE路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/widget/mounts/{mountID}/stream", h.handleStream)
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	c, err := h.mounts.Get(chi.URLParam(r, "mountID"))
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	updates, unsubscribe := c.Subscribe()
	defer unsubscribe()

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	log.Debug().Str("mount", c.ID()).Msg("[sse] stream opened")
	defer log.Debug().Str("mount", c.ID()).Msg("[sse] stream closed")

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-updates:
			if !ok {
				utils.SendSSEEvent(w, flusher, "closed", map[string]string{"mountId": c.ID()})
				return
			}
			if err := utils.SendSSEEvent(w, flusher, EventState, snap); err != nil {
				return
			}
		case <-ticker.C:
			if err := utils.SendSSEComment(w, flusher, "keepalive"); err != nil {
				return
			}
		}
	}
}
