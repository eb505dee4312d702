// Package status resolves whether a client account may run the chat widget.
package status

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/optinbot/widget/internal/model/widget"
	"github.com/optinbot/widget/internal/service/webhook"
)

// DefaultEndpoint is the status webhook used when none is configured.
const DefaultEndpoint = "https://hooks.optinbot.io/webhook/7e99a537-9bd6-4eb6-8a56-4c80471f1988"

const keyPrefix = "optinbot_status_"

type statusRequest struct {
	ClientID string `json:"clientId"`
}

type statusResponse struct {
	Status json.RawMessage `json:"status"`
}

// Gate resolves an account's gating state, failing closed.
type Gate struct {
	poster   webhook.Poster
	endpoint string
	cache    Cache
}

// NewGate wires a gate. A nil cache disables caching.
func NewGate(poster webhook.Poster, endpoint string, cache Cache) *Gate {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Gate{poster: poster, endpoint: endpoint, cache: cache}
}

// CacheKey scopes the per-client key to one browser tab.
func CacheKey(scope, clientID string) string {
	return scope + ":" + keyPrefix + clientID
}

// Resolve returns active or inactive for clientID. Cached results are served
// without a network call; failures resolve inactive and are never cached.
func (g *Gate) Resolve(ctx context.Context, scope, clientID string) widget.GatingState {
	key := CacheKey(scope, clientID)
	if g.cache != nil && scope != "" {
		if state, ok := g.cache.Get(key); ok {
			return state
		}
	}

	var resp statusResponse
	if err := g.poster.PostJSON(ctx, g.endpoint, statusRequest{ClientID: clientID}, &resp); err != nil {
		log.Warn().Err(err).Str("clientId", clientID).Msg("[status] lookup failed, failing closed")
		return widget.GatingInactive
	}

	raw := ""
	if len(resp.Status) > 0 && string(resp.Status) != "null" {
		if err := json.Unmarshal(resp.Status, &raw); err != nil {
			log.Warn().Str("clientId", clientID).RawJSON("status", resp.Status).Msg("[status] malformed status, failing closed")
			return widget.GatingInactive
		}
	}

	state := Normalize(raw)
	if g.cache != nil && scope != "" {
		g.cache.Put(key, state)
	}
	log.Debug().Str("clientId", clientID).Str("raw", raw).Str("state", string(state)).Msg("[status] resolved")
	return state
}

// Normalize maps a raw remote status onto a gating state.
func Normalize(raw string) widget.GatingState {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "active", "trial":
		return widget.GatingActive
	default:
		return widget.GatingInactive
	}
}
