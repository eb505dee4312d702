package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optinbot/widget/internal/model/chat"
	"github.com/optinbot/widget/internal/service/conversation"
	"github.com/optinbot/widget/internal/service/webhook"
)

type fixedSession string

func (s fixedSession) ID() string { return string(s) }

func newDispatcher(t *testing.T, url string, session string) (*Dispatcher, *conversation.Store) {
	t.Helper()
	store := conversation.NewStore()
	return New(webhook.NewClient(time.Second), url, "client_1", fixedSession(session), store), store
}

func TestSendAppendsUserThenBot(t *testing.T) {
	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(map[string]string{"output": "Hello back"})
	}))
	defer srv.Close()

	d, store := newDispatcher(t, srv.URL, "session-1")
	require.True(t, d.Send(context.Background(), "  hi there  "))

	assert.Equal(t, Request{ChatInput: "hi there", ClientID: "client_1", SessionID: "session-1"}, got)

	msgs := store.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, chat.RoleUser, msgs[0].Role)
	assert.Equal(t, "hi there", msgs[0].Text)
	assert.Equal(t, chat.RoleBot, msgs[1].Role)
	assert.Equal(t, "Hello back", msgs[1].Text)
	assert.False(t, store.Loading())
}

func TestSendIgnoresBlankOrSessionless(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	d, store := newDispatcher(t, srv.URL, "session-1")
	assert.False(t, d.Send(context.Background(), "   \n\t"))

	noSession, store2 := newDispatcher(t, srv.URL, "")
	assert.False(t, noSession.Send(context.Background(), "hello"))

	assert.Zero(t, hits.Load())
	assert.Zero(t, store.Len())
	assert.Zero(t, store2.Len())
}

func TestSendFallbacks(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    string
	}{
		{name: "missing output", handler: func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"reply":"wrong key"}`))
		}, want: FallbackNoOutput},
		{name: "empty output", handler: func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"output":""}`))
		}, want: FallbackNoOutput},
		{name: "non text output", handler: func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"output":{"text":"nested"}}`))
		}, want: FallbackNoOutput},
		{name: "server error", handler: func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}, want: FallbackError},
		{name: "malformed json", handler: func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"output":`))
		}, want: FallbackError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			d, store := newDispatcher(t, srv.URL, "session-1")
			require.True(t, d.Send(context.Background(), "hello"))

			msgs := store.Messages()
			require.Len(t, msgs, 2)
			assert.Equal(t, chat.RoleBot, msgs[1].Role)
			assert.Equal(t, tt.want, msgs[1].Text)
			assert.False(t, store.Loading())
		})
	}
}

func TestConcurrentSendsKeepReplyOrder(t *testing.T) {
	firstArrived := make(chan struct{})
	releaseFirst := make(chan struct{})
	var inflight, maxInflight atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inflight.Add(1)
		defer inflight.Add(-1)
		if n > maxInflight.Load() {
			maxInflight.Store(n)
		}

		var req Request
		json.NewDecoder(r.Body).Decode(&req)
		if req.ChatInput == "first" {
			close(firstArrived)
			<-releaseFirst
		}
		json.NewEncoder(w).Encode(map[string]string{"output": "re: " + req.ChatInput})
	}))
	defer srv.Close()

	d, store := newDispatcher(t, srv.URL, "session-1")

	first, ok := d.Accept("first")
	require.True(t, ok)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		d.Exchange(context.Background(), first)
	}()
	<-firstArrived

	second, ok := d.Accept("second")
	require.True(t, ok)
	wg.Add(1)
	go func() {
		defer wg.Done()
		d.Exchange(context.Background(), second)
	}()

	assert.True(t, store.Loading())
	close(releaseFirst)
	wg.Wait()

	var texts []string
	for _, m := range store.Messages() {
		texts = append(texts, m.Text)
	}
	assert.Equal(t, []string{"first", "second", "re: first", "re: second"}, texts)
	assert.EqualValues(t, 1, maxInflight.Load())
	assert.False(t, store.Loading())
}

func TestEnqueueRepliesInSendOrder(t *testing.T) {
	var inflight, maxInflight atomic.Int32
	var mu sync.Mutex
	var received []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inflight.Add(1)
		defer inflight.Add(-1)
		if n > maxInflight.Load() {
			maxInflight.Store(n)
		}

		var req Request
		json.NewDecoder(r.Body).Decode(&req)
		mu.Lock()
		received = append(received, req.ChatInput)
		mu.Unlock()
		if req.ChatInput == "first" {
			time.Sleep(30 * time.Millisecond)
		}
		json.NewEncoder(w).Encode(map[string]string{"output": "re: " + req.ChatInput})
	}))
	defer srv.Close()

	d, store := newDispatcher(t, srv.URL, "session-1")

	require.True(t, d.Enqueue(context.Background(), "first"))
	require.True(t, d.Enqueue(context.Background(), "second"))
	require.True(t, d.Enqueue(context.Background(), "third"))
	assert.False(t, d.Enqueue(context.Background(), "   "))
	d.Wait()

	var texts []string
	for _, m := range store.Messages() {
		texts = append(texts, m.Text)
	}
	assert.Equal(t, []string{"first", "second", "third", "re: first", "re: second", "re: third"}, texts)
	assert.Equal(t, []string{"first", "second", "third"}, received)
	assert.EqualValues(t, 1, maxInflight.Load())
	assert.False(t, store.Loading())
}
