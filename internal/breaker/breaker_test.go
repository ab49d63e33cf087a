package breaker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memPersister is an in-memory Persister standing in for
// store.BreakerStateStore so the state machine can be tested without SQLite.
type memPersister struct {
	mu   sync.Mutex
	rows map[string]PersistedState
}

func newMemPersister() *memPersister {
	return &memPersister{rows: map[string]PersistedState{}}
}

func (m *memPersister) Save(ctx context.Context, s PersistedState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[s.Backend] = s
	return nil
}

func (m *memPersister) LoadAll(ctx context.Context) ([]PersistedState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PersistedState, 0, len(m.rows))
	for _, r := range m.rows {
		out = append(out, r)
	}
	return out, nil
}

func TestBreaker_OpensAtThreshold(t *testing.T) {
	b := newBreaker("claude", 3, time.Hour, newMemPersister())

	assert.True(t, b.IsAvailable())
	b.OnFailure()
	assert.Equal(t, "closed", b.Snapshot().State)
	b.OnFailure()
	assert.True(t, b.IsAvailable(), "still closed below threshold")
	b.OnFailure()

	assert.Equal(t, "open", b.Snapshot().State)
	assert.False(t, b.IsAvailable())
}

func TestBreaker_HalfOpenAfterResetTimeout(t *testing.T) {
	b := newBreaker("codex", 1, 10*time.Millisecond, newMemPersister())
	b.OnFailure()
	require.Equal(t, "open", b.Snapshot().State)
	assert.False(t, b.IsAvailable())

	time.Sleep(15 * time.Millisecond)
	assert.True(t, b.IsAvailable(), "first probe after reset_timeout should be admitted")
	assert.Equal(t, "half_open", b.Snapshot().State)
	// A second concurrent probe must be denied: half-open admits exactly one trial.
	assert.False(t, b.IsAvailable())
}

func TestBreaker_HalfOpenSuccessCloses(t *testing.T) {
	b := newBreaker("copilot", 1, 10*time.Millisecond, newMemPersister())
	b.OnFailure()
	time.Sleep(15 * time.Millisecond)
	require.True(t, b.IsAvailable())

	b.OnSuccess()
	assert.Equal(t, "closed", b.Snapshot().State)
	assert.Equal(t, 0, b.Snapshot().Failures)
	assert.True(t, b.IsAvailable())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := newBreaker("copilot", 1, 10*time.Millisecond, newMemPersister())
	b.OnFailure()
	time.Sleep(15 * time.Millisecond)
	require.True(t, b.IsAvailable())

	b.OnFailure()
	assert.Equal(t, "open", b.Snapshot().State)
	assert.False(t, b.IsAvailable())
}

func TestBreaker_Reset(t *testing.T) {
	b := newBreaker("claude", 1, time.Hour, newMemPersister())
	b.OnFailure()
	require.Equal(t, "open", b.Snapshot().State)

	b.Reset()
	snap := b.Snapshot()
	assert.Equal(t, "closed", snap.State)
	assert.Equal(t, 0, snap.Failures)
	assert.True(t, b.IsAvailable())
}

func TestRegistry_GetCreatesAndReusesBreaker(t *testing.T) {
	r := NewRegistry(newMemPersister(), 3, time.Hour)
	b1 := r.Get("claude")
	b2 := r.Get("claude")
	assert.Same(t, b1, b2)
}

func TestRegistry_LoadSeedsFromPersistedState(t *testing.T) {
	persist := newMemPersister()
	persist.rows["claude"] = PersistedState{Backend: "claude", State: "open", Failures: 5, OpenedAtMs: time.Now().UnixMilli()}

	r := NewRegistry(persist, 3, time.Hour)
	require.NoError(t, r.Load(context.Background()))

	b := r.Get("claude")
	assert.Equal(t, "open", b.Snapshot().State)
	assert.Equal(t, 5, b.Snapshot().Failures)
	assert.False(t, b.IsAvailable())
}

func TestRegistry_Snapshot(t *testing.T) {
	r := NewRegistry(newMemPersister(), 3, time.Hour)
	r.Get("claude")
	r.Get("codex")
	snaps := r.Snapshot()
	assert.Len(t, snaps, 2)
}
