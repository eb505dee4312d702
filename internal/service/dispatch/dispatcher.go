// Package dispatch sends visitor messages to the chat webhook and records replies.
package dispatch

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/optinbot/widget/internal/model/chat"
	"github.com/optinbot/widget/internal/service/webhook"
)

const (
	// FallbackNoOutput replaces a successful reply that carries no output.
	FallbackNoOutput = "Sorry, I could not process your request."
	// FallbackError replaces a reply that failed in transport or decoding.
	FallbackError = "Oops! Something went wrong. Please try again."
)

// Request is the chat webhook payload.
type Request struct {
	ChatInput string `json:"chatInput"`
	ClientID  string `json:"clientId"`
	SessionID string `json:"sessionId"`
}

type response struct {
	Output json.RawMessage `json:"output"`
}

// SessionSource yields the mount's session id, "" when none is issued yet.
type SessionSource interface {
	ID() string
}

// Transcript is the subset of the conversation store the dispatcher writes to.
type Transcript interface {
	Append(role chat.Role, text string) chat.Message
	BeginPending()
	EndPending()
}

// Dispatcher performs request/response exchanges one at a time per mount.
type Dispatcher struct {
	poster     webhook.Poster
	webhookURL string
	clientID   string
	sessions   SessionSource
	store      Transcript

	mu sync.Mutex

	// queue holds accepted messages in send order; one worker drains it.
	qmu      sync.Mutex
	queue    []string
	draining bool
	wg       sync.WaitGroup
}

// New builds a dispatcher for one mount.
func New(poster webhook.Poster, webhookURL, clientID string, sessions SessionSource, store Transcript) *Dispatcher {
	return &Dispatcher{
		poster:     poster,
		webhookURL: webhookURL,
		clientID:   clientID,
		sessions:   sessions,
		store:      store,
	}
}

// Accept validates text and appends it to the transcript. It returns false,
// leaving everything untouched, for blank text or a mount without a session.
func (d *Dispatcher) Accept(text string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || d.sessions.ID() == "" {
		return "", false
	}
	d.store.Append(chat.RoleUser, trimmed)
	d.store.BeginPending()
	return trimmed, true
}

// Exchange sends an accepted message and appends exactly one bot reply.
// Concurrent exchanges never overlap; use Enqueue when replies must follow send order.
func (d *Dispatcher) Exchange(ctx context.Context, text string) chat.Message {
	defer d.store.EndPending()

	d.mu.Lock()
	defer d.mu.Unlock()

	reply := d.post(ctx, text)
	return d.store.Append(chat.RoleBot, reply)
}

// Enqueue accepts text and schedules its exchange behind every message
// accepted before it. It reports whether text was accepted.
func (d *Dispatcher) Enqueue(ctx context.Context, text string) bool {
	d.qmu.Lock()
	defer d.qmu.Unlock()

	trimmed, ok := d.Accept(text)
	if !ok {
		return false
	}
	d.queue = append(d.queue, trimmed)
	if !d.draining {
		d.draining = true
		d.wg.Add(1)
		go d.drain(ctx)
	}
	return true
}

// Wait blocks until every enqueued message has its reply.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) drain(ctx context.Context) {
	defer d.wg.Done()
	for {
		d.qmu.Lock()
		if len(d.queue) == 0 {
			d.draining = false
			d.qmu.Unlock()
			return
		}
		text := d.queue[0]
		d.queue = d.queue[1:]
		d.qmu.Unlock()

		d.Exchange(ctx, text)
	}
}

// Send is Accept followed by Exchange.
func (d *Dispatcher) Send(ctx context.Context, text string) bool {
	trimmed, ok := d.Accept(text)
	if !ok {
		return false
	}
	d.Exchange(ctx, trimmed)
	return true
}

func (d *Dispatcher) post(ctx context.Context, text string) string {
	req := Request{ChatInput: text, ClientID: d.clientID, SessionID: d.sessions.ID()}

	var resp response
	if err := d.poster.PostJSON(ctx, d.webhookURL, req, &resp); err != nil {
		log.Warn().Err(err).Str("sessionId", req.SessionID).Msg("[dispatch] webhook call failed")
		return FallbackError
	}

	var output string
	if len(resp.Output) > 0 {
		if err := json.Unmarshal(resp.Output, &output); err != nil {
			log.Warn().Str("sessionId", req.SessionID).RawJSON("output", resp.Output).Msg("[dispatch] output is not text")
		}
	}
	if output == "" {
		return FallbackNoOutput
	}
	return output
}
