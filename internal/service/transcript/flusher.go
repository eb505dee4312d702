// Package transcript notifies the chat webhook that a conversation ended.
package transcript

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/optinbot/widget/internal/service/webhook"
)

const (
	// EndMarker is sent as chatInput so the workflow can tell the flush apart from a visitor turn.
	EndMarker = "[conversation_ended]"
	// EventConversationEnded tags the flush payload.
	EventConversationEnded = "conversation_ended"
)

// Request is the flush payload.
type Request struct {
	ChatInput string `json:"chatInput"`
	ClientID  string `json:"clientId"`
	SessionID string `json:"sessionId"`
	Event     string `json:"event"`
}

// SessionSource yields the mount's session id.
type SessionSource interface {
	ID() string
}

// History reports whether the visitor took part in the conversation.
type History interface {
	HasUserMessage() bool
}

// Flusher sends at most one end-of-conversation notice per mount.
type Flusher struct {
	poster     webhook.Poster
	webhookURL string
	clientID   string
	preview    bool
	sessions   SessionSource
	history    History
	timeout    time.Duration

	flushed atomic.Bool
	done    chan struct{}
}

// New builds a flusher. Preview mounts never flush.
func New(poster webhook.Poster, webhookURL, clientID string, preview bool, sessions SessionSource, history History, timeout time.Duration) *Flusher {
	if timeout <= 0 {
		timeout = webhook.DefaultTimeout
	}
	return &Flusher{
		poster:     poster,
		webhookURL: webhookURL,
		clientID:   clientID,
		preview:    preview,
		sessions:   sessions,
		history:    history,
		timeout:    timeout,
		done:       make(chan struct{}),
	}
}

// Flush fires the notice in the background and reports whether it was issued.
// The request outlives ctx cancellation; its outcome is logged and otherwise ignored.
func (f *Flusher) Flush(ctx context.Context) bool {
	if f.preview || !f.history.HasUserMessage() {
		return false
	}
	sessionID := f.sessions.ID()
	if sessionID == "" {
		return false
	}
	if !f.flushed.CompareAndSwap(false, true) {
		return false
	}

	req := Request{
		ChatInput: EndMarker,
		ClientID:  f.clientID,
		SessionID: sessionID,
		Event:     EventConversationEnded,
	}
	detached, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.timeout)
	go func() {
		defer close(f.done)
		defer cancel()
		if err := f.poster.PostJSON(detached, f.webhookURL, req, nil); err != nil {
			log.Debug().Err(err).Str("sessionId", sessionID).Msg("[transcript] flush failed")
			return
		}
		log.Info().Str("sessionId", sessionID).Msg("[transcript] conversation ended")
	}()
	return true
}

// Flushed reports whether the notice has been issued.
func (f *Flusher) Flushed() bool {
	return f.flushed.Load()
}

// Done is closed once an issued flush has completed.
func (f *Flusher) Done() <-chan struct{} {
	return f.done
}
