package transcript

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optinbot/widget/internal/service/webhook"
)

type fixedSession string

func (s fixedSession) ID() string { return string(s) }

type history bool

func (h history) HasUserMessage() bool { return bool(h) }

type capture struct {
	mu       sync.Mutex
	requests []Request
}

func (c *capture) server(t *testing.T, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Request
		json.NewDecoder(r.Body).Decode(&req)
		c.mu.Lock()
		c.requests = append(c.requests, req)
		c.mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func (c *capture) snapshot() []Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Request(nil), c.requests...)
}

func (c *capture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

func TestFlushSendsOnce(t *testing.T) {
	c := &capture{}
	srv := c.server(t, http.StatusOK)
	f := New(webhook.NewClient(time.Second), srv.URL, "client_1", false, fixedSession("session-1"), history(true), time.Second)

	require.True(t, f.Flush(context.Background()))
	assert.False(t, f.Flush(context.Background()))

	select {
	case <-f.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("flush did not complete")
	}

	reqs := c.snapshot()
	require.Len(t, reqs, 1)
	assert.Equal(t, Request{
		ChatInput: EndMarker,
		ClientID:  "client_1",
		SessionID: "session-1",
		Event:     EventConversationEnded,
	}, reqs[0])
}

func TestFlushSkipped(t *testing.T) {
	c := &capture{}
	srv := c.server(t, http.StatusOK)
	client := webhook.NewClient(time.Second)

	tests := []struct {
		name string
		f    *Flusher
	}{
		{name: "preview", f: New(client, srv.URL, "client_1", true, fixedSession("session-1"), history(true), time.Second)},
		{name: "no user message", f: New(client, srv.URL, "client_1", false, fixedSession("session-1"), history(false), time.Second)},
		{name: "no session", f: New(client, srv.URL, "client_1", false, fixedSession(""), history(true), time.Second)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.False(t, tt.f.Flush(context.Background()))
			assert.False(t, tt.f.Flushed())
		})
	}
	assert.Zero(t, c.count())
}

func TestFlushSurvivesCancelledContext(t *testing.T) {
	c := &capture{}
	srv := c.server(t, http.StatusOK)
	f := New(webhook.NewClient(time.Second), srv.URL, "client_1", false, fixedSession("session-1"), history(true), time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	require.True(t, f.Flush(ctx))
	cancel()

	<-f.Done()
	assert.Equal(t, 1, c.count())
}

func TestFlushErrorIsSwallowed(t *testing.T) {
	c := &capture{}
	srv := c.server(t, http.StatusInternalServerError)
	f := New(webhook.NewClient(time.Second), srv.URL, "client_1", false, fixedSession("session-1"), history(true), time.Second)

	require.True(t, f.Flush(context.Background()))
	<-f.Done()
	assert.True(t, f.Flushed())
	assert.False(t, f.Flush(context.Background()))
}
