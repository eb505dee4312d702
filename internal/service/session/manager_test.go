package session

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureIsIdempotent(t *testing.T) {
	m := NewManager("client_1")
	assert.Equal(t, "", m.ID())

	first := m.Ensure()
	require.True(t, strings.HasPrefix(first, "session-"))
	assert.Equal(t, first, m.Ensure())
	assert.Equal(t, first, m.ID())

	s, ok := m.Session()
	require.True(t, ok)
	assert.Equal(t, "client_1", s.ClientID)
	assert.False(t, s.CreatedAt.IsZero())
}

func TestEnsureConcurrentCallersShareID(t *testing.T) {
	m := NewManager("client_1")

	var wg sync.WaitGroup
	ids := make([]string, 16)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i] = m.Ensure()
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestNewIDIsUnique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		id := NewID()
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %s", id)
		seen[id] = struct{}{}
	}
}
