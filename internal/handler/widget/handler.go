package widget

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/optinbot/widget/internal/service/mount"
	"github.com/optinbot/widget/pkg/utils"
)

const maxBodyBytes = 64 << 10

// Handler 挂件挂载与事件的HTTP处理器
type Handler struct {
	mounts   *mount.Registry
	guards   []func(http.Handler) http.Handler
	upgrader websocket.Upgrader
}

// New 创建挂件处理器，guards 仅作用于新建挂载
func New(mounts *mount.Registry, guards ...func(http.Handler) http.Handler) *Handler {
	return &Handler{
		mounts: mounts,
		guards: guards,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

// RegisterRoutes 注册挂件相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/widget/defaults", h.handleDefaults)
	r.With(h.guards...).Post("/widget/mounts", h.handleMount)
	r.Get("/widget/mounts/{mountID}", h.handleState)
	r.Delete("/widget/mounts/{mountID}", h.handleUnmount)
	r.Post("/widget/mounts/{mountID}/events", h.handleEvent)
	r.Get("/widget/mounts/{mountID}/ws", h.handleWebSocket)
}

type mountResponse struct {
	MountID string         `json:"mountId"`
	State   mount.Snapshot `json:"state"`
}

// handleDefaults 返回内置默认配置
func (h *Handler) handleDefaults(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.mounts.Defaults())
}

// handleMount 创建挂载
func (h *Handler) handleMount(w http.ResponseWriter, r *http.Request) {
	var req mount.Request
	if err := utils.DecodeJSON(w, r, maxBodyBytes, &req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	c, err := h.mounts.Mount(r.Context(), req)
	if err != nil {
		if errors.Is(err, mount.ErrInvalidConfig) {
			utils.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Error().Err(err).Msg("[widget] mount failed")
		utils.RespondError(w, http.StatusInternalServerError, "mount failed")
		return
	}

	utils.RespondJSON(w, http.StatusCreated, mountResponse{MountID: c.ID(), State: c.Snapshot()})
}

// handleState 返回当前状态
func (h *Handler) handleState(w http.ResponseWriter, r *http.Request) {
	c, ok := h.lookup(w, r)
	if !ok {
		return
	}
	utils.RespondJSON(w, http.StatusOK, c.Snapshot())
}

// handleUnmount 卸载挂件
func (h *Handler) handleUnmount(w http.ResponseWriter, r *http.Request) {
	if err := h.mounts.Unmount(chi.URLParam(r, "mountID")); err != nil {
		utils.RespondError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleEvent 处理渲染层上报的交互事件
func (h *Handler) handleEvent(w http.ResponseWriter, r *http.Request) {
	c, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if !c.Allow() {
		utils.RespondError(w, http.StatusTooManyRequests, "too many events")
		return
	}

	var ev Event
	if err := utils.DecodeJSON(w, r, maxBodyBytes, &ev); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	snap, err := applyEvent(c, ev)
	if err != nil {
		utils.RespondError(w, statusFor(err), err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusAccepted, snap)
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (*mount.Controller, bool) {
	c, err := h.mounts.Get(chi.URLParam(r, "mountID"))
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, err.Error())
		return nil, false
	}
	return c, true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errInvalidEvent):
		return http.StatusBadRequest
	case errors.Is(err, mount.ErrUnavailable):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
