package cooldown

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var key = Key{Identity: "uid_u1", HallID: "north-ave", Action: "waitTime"}

func TestGateWindow(t *testing.T) {
	g := NewGate(NewMemoryStore(), 300*time.Second)
	t0 := time.Date(2025, 10, 17, 12, 0, 0, 0, time.UTC)

	d, err := g.Check(key, t0)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Zero(t, d.Remaining)

	require.NoError(t, g.Record(key, t0))

	d, err = g.Check(key, t0.Add(299*time.Second))
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, time.Second, d.Remaining)

	d, err = g.Check(key, t0.Add(300*time.Second))
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Zero(t, d.Remaining)
}

func TestGateKeysAreIndependent(t *testing.T) {
	g := NewGate(NewMemoryStore(), 0)
	assert.Equal(t, DefaultWindow, g.Window())
	now := time.Now()
	require.NoError(t, g.Record(key, now))

	others := []Key{
		{Identity: "uid_u2", HallID: key.HallID, Action: key.Action},
		{Identity: key.Identity, HallID: "willage", Action: key.Action},
		{Identity: key.Identity, HallID: key.HallID, Action: "seating"},
	}
	for _, k := range others {
		d, err := g.Check(k, now)
		require.NoError(t, err)
		assert.True(t, d.Allowed, k.String())
	}
}

func TestGateRecordOverwrites(t *testing.T) {
	g := NewGate(NewMemoryStore(), time.Minute)
	t0 := time.Now()
	require.NoError(t, g.Record(key, t0))
	require.NoError(t, g.Record(key, t0.Add(50*time.Second)))

	d, err := g.Check(key, t0.Add(70*time.Second))
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 40*time.Second, d.Remaining)
}

func TestGateRejectsIncompleteKey(t *testing.T) {
	g := NewGate(NewMemoryStore(), time.Minute)
	_, err := g.Check(Key{HallID: "north-ave", Action: "seating"}, time.Now())
	assert.Error(t, err)
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "local", "cooldowns.db")
	t0 := time.Date(2025, 10, 17, 12, 0, 0, 123, time.UTC)

	s, err := OpenSQLite(path)
	require.NoError(t, err)

	_, ok, err := s.Last(key.String())
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, NewGate(s, 0).Record(key, t0))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()

	last, ok, err := s.Last(key.String())
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, last.Equal(t0))

	d, err := NewGate(s, 300*time.Second).Check(key, t0.Add(10*time.Second))
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 290*time.Second, d.Remaining)
}
