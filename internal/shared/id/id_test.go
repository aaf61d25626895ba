package id

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateUnique(t *testing.T) {
	gen := NewGenerator()
	assert.NotEqual(t, gen.Generate(), gen.Generate())
	assert.Len(t, gen.GenerateString(), 26)
}

func TestGenerateMonotonic(t *testing.T) {
	gen := NewGenerator()

	prev := gen.GenerateString()
	for i := 0; i < 1000; i++ {
		next := gen.GenerateString()
		require.Greater(t, next, prev)
		prev = next
	}
}

func TestTypedIDs(t *testing.T) {
	tests := []struct {
		prefix string
		id     string
	}{
		{"sess", NewSessionID().String()},
		{"req", NewRequestID().String()},
	}

	for _, tt := range tests {
		t.Run(tt.prefix, func(t *testing.T) {
			parts := strings.Split(tt.id, "_")
			require.Len(t, parts, 2)
			assert.Equal(t, tt.prefix, parts[0])
			assert.True(t, IsValid(tt.id))
			assert.True(t, IsValid(parts[1]))
		})
	}
}

func TestConnectionID(t *testing.T) {
	connID := NewConnectionID().String()
	require.True(t, strings.HasPrefix(connID, "conn_"))

	_, err := uuid.Parse(strings.TrimPrefix(connID, "conn_"))
	assert.NoError(t, err)
	assert.NotEqual(t, connID, NewConnectionID().String())
}

func TestIsValid(t *testing.T) {
	for _, id := range []string{"", "invalid", "1234567890", "zzzzzzzzzzzzzzzzzzzzzzzzzz"} {
		assert.False(t, IsValid(id), id)
	}
}

func TestTimestamp(t *testing.T) {
	before := time.Now().UnixMilli()
	id := NewSessionID().String()
	after := time.Now().UnixMilli()

	ts, err := Timestamp(id)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, ts.UnixMilli(), before)
	assert.LessOrEqual(t, ts.UnixMilli(), after)
}

func TestConcurrentGeneration(t *testing.T) {
	gen := NewGenerator()

	const goroutines = 50
	const perGoroutine = 100

	var wg sync.WaitGroup
	ids := make(chan string, goroutines*perGoroutine)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				ids <- gen.GenerateString()
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	assert.Len(t, seen, goroutines*perGoroutine)
}

func TestDefaultGenerator(t *testing.T) {
	assert.Same(t, Default(), Default())
}

func BenchmarkGenerateWithPrefix(b *testing.B) {
	gen := NewGenerator()
	for i := 0; i < b.N; i++ {
		_ = gen.GenerateWithPrefix(SessionPrefix)
	}
}
