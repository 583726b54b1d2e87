package chat

import (
	"sync"
	"testing"
	"time"

	"PPRoom/tools/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnManager_Index(t *testing.T) {
	m := NewConnManager(ManagerConf{SweepEvery: time.Hour}, "gw-1")
	defer m.CloseAll(nil)
	assert.Equal(t, "gw-1", m.GwId())

	a1 := testSession("a1", 1, 42, 4)
	a2 := testSession("a2", 1, 43, 4)
	b := testSession("b", 2, 42, 4)
	for _, s := range []*Session{a1, a2, b} {
		require.NoError(t, m.Add(s))
	}
	assert.Error(t, m.Add(a1), "duplicate id")
	assert.Equal(t, 3, m.Len())
	assert.Len(t, m.ListUser(1), 2)

	require.Len(t, m.ListUser(2), 1)
	assert.Same(t, b, m.ListUser(2)[0])

	m.Remove(a1)
	m.Remove(a1)
	assert.Len(t, m.ListUser(1), 1)
	m.Remove(a2)
	assert.Empty(t, m.ListUser(1))
	assert.Equal(t, 1, m.Len())
}

func TestConnManager_SweepIdle(t *testing.T) {
	now := time.Now()
	var (
		mu      sync.Mutex
		touched []string
	)
	m := NewConnManager(ManagerConf{
		IdleTimeout: time.Minute,
		SweepEvery:  time.Hour,
		OnLive: func(s *Session) {
			mu.Lock()
			touched = append(touched, s.ID())
			mu.Unlock()
		},
	}, "gw")
	defer m.CloseAll(nil)

	idle := testSession("idle", 1, 42, 4)
	idle.lastActivity.Store(now.Add(-2 * time.Minute).UnixNano())
	fresh := testSession("fresh", 2, 42, 4)
	fresh.lastActivity.Store(now.UnixNano())
	require.NoError(t, m.Add(idle))
	require.NoError(t, m.Add(fresh))

	assert.Equal(t, 1, m.sweepOnce(now))
	assert.Equal(t, StateClosing, idle.State())
	assert.True(t, errs.ErrSessionClosed.Is(idle.Err()))
	assert.Equal(t, StateActive, fresh.State())
	assert.Equal(t, []string{"fresh"}, touched)
}

func TestConnManager_SweepDisabled(t *testing.T) {
	m := NewConnManager(ManagerConf{SweepEvery: time.Hour}, "gw")
	defer m.CloseAll(nil)
	s := testSession("s", 1, 42, 4)
	s.lastActivity.Store(0)
	require.NoError(t, m.Add(s))
	assert.Equal(t, 0, m.sweepOnce(time.Now()))
	assert.Equal(t, StateActive, s.State())
}

func TestConnManager_CloseAll(t *testing.T) {
	m := NewConnManager(ManagerConf{SweepEvery: time.Hour}, "gw")
	s := testSession("s", 1, 42, 4)
	require.NoError(t, m.Add(s))

	assert.Equal(t, 1, m.CloseAll(errs.ErrSessionClosed.Wrap()))
	assert.Equal(t, StateClosing, s.State())
	err := m.Add(testSession("late", 2, 42, 4))
	assert.True(t, errs.ErrSessionClosed.Is(err))
	assert.Equal(t, 1, m.CloseAll(nil), "entries stay until each session tears down")
}
