// Package devhook stands in for the chat and status webhooks during local development.
package devhook

import (
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/optinbot/widget/internal/service/assistant"
	"github.com/optinbot/widget/internal/service/transcript"
	"github.com/optinbot/widget/pkg/utils"
)

const maxBodyBytes = 64 << 10

type chatResponse struct {
	Output string `json:"output"`
}

type statusRequest struct {
	ClientID string `json:"clientId"`
}

type statusResponse struct {
	Status string `json:"status"`
}

// Handler 模拟 n8n 的聊天与账户状态 webhook
type Handler struct {
	replier       assistant.Replier
	defaultStatus string

	mu       sync.RWMutex
	statuses map[string]string
	ended    map[string]int
}

// New 创建模拟处理器，statuses 按 clientId 覆盖默认状态
func New(replier assistant.Replier, defaultStatus string, statuses map[string]string) *Handler {
	copied := make(map[string]string, len(statuses))
	for k, v := range statuses {
		copied[k] = v
	}
	return &Handler{
		replier:       replier,
		defaultStatus: defaultStatus,
		statuses:      copied,
		ended:         make(map[string]int),
	}
}

// RegisterRoutes 注册模拟 webhook 路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/webhook/chat", h.handleChat)
	r.Post("/webhook/status", h.handleStatus)
}

// SetStatus 修改某个客户的账户状态
func (h *Handler) SetStatus(clientID, status string) {
	h.mu.Lock()
	h.statuses[clientID] = status
	h.mu.Unlock()
}

// Ended 返回某会话收到的结束通知次数
func (h *Handler) Ended(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.ended[sessionID]
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var req transcript.Request
	if err := utils.DecodeJSON(w, r, maxBodyBytes, &req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Event == transcript.EventConversationEnded {
		h.mu.Lock()
		h.ended[req.SessionID]++
		h.mu.Unlock()
		h.replier.End(req.SessionID)
		log.Info().Str("clientId", req.ClientID).Str("sessionId", req.SessionID).Msg("[devhook] conversation ended")
		utils.RespondJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}

	if strings.TrimSpace(req.ChatInput) == "" || req.SessionID == "" {
		utils.RespondError(w, http.StatusBadRequest, "chatInput and sessionId are required")
		return
	}

	reply, err := h.replier.Reply(r.Context(), req.SessionID, req.ChatInput)
	if err != nil {
		log.Error().Err(err).Str("sessionId", req.SessionID).Msg("[devhook] reply failed")
		utils.RespondError(w, http.StatusBadGateway, "reply failed")
		return
	}
	utils.RespondJSON(w, http.StatusOK, chatResponse{Output: reply})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := utils.DecodeJSON(w, r, maxBodyBytes, &req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	h.mu.RLock()
	status, ok := h.statuses[req.ClientID]
	h.mu.RUnlock()
	if !ok {
		status = h.defaultStatus
	}

	log.Debug().Str("clientId", req.ClientID).Str("status", status).Msg("[devhook] status lookup")
	utils.RespondJSON(w, http.StatusOK, statusResponse{Status: status})
}
