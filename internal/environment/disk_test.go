package environment

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/sharedhealth/internal/world"
)

func newRegistry(t *testing.T) *DiskRegistry {
	t.Helper()
	r, err := NewDiskRegistry(t.TempDir(), "lobby")
	require.NoError(t, err)
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}
	return r
}

func TestCreateWritesLevelAndRegisters(t *testing.T) {
	r := newRegistry(t)

	env, err := r.Create("world_1", 99)
	require.NoError(t, err)
	assert.False(t, env.Waiting)
	assert.FileExists(t, filepath.Join(env.Dir, "level.json"))

	got, ok := r.Get("world_1")
	require.True(t, ok)
	assert.Same(t, env, got)

	lobby, err := r.Create("lobby", 0)
	require.NoError(t, err)
	assert.True(t, lobby.Waiting)
}

func TestCreateRejectsDuplicatesAndBadNames(t *testing.T) {
	r := newRegistry(t)
	_, err := r.Create("world_1", 1)
	require.NoError(t, err)

	_, err = r.Create("world_1", 2)
	assert.ErrorIs(t, err, ErrExists)

	_, err = r.Create("../escape", 1)
	assert.Error(t, err)
}

func TestUnloadAndOpen(t *testing.T) {
	r := newRegistry(t)
	env, err := r.Create("world_1", 5)
	require.NoError(t, err)

	require.NoError(t, r.Unload(env))
	_, ok := r.Get("world_1")
	assert.False(t, ok)
	assert.ErrorIs(t, r.Unload(env), ErrNotFound)

	reopened, err := r.Open("world_1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), reopened.Seed)
	assert.True(t, env.CreatedAt.Equal(reopened.CreatedAt))

	_, err = r.Open("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHistoryMostRecentFirst(t *testing.T) {
	r := newRegistry(t)
	for _, name := range []string{"lobby", "world_1", "world_2", "world_3"} {
		_, err := r.Create(name, 0)
		require.NoError(t, err)
	}
	// Stray directory without level.json is ignored.
	require.NoError(t, os.MkdirAll(filepath.Join(r.Root, "junk"), 0o755))

	hist, err := r.History()
	require.NoError(t, err)
	var names []string
	for _, e := range hist {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"world_3", "world_2", "world_1", "lobby"}, names)
	assert.True(t, hist[3].Waiting)
}

func TestDiskListChildrenMissingPath(t *testing.T) {
	_, err := Disk{}.ListChildren(filepath.Join(t.TempDir(), "nope"))
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestWriteRegionsRoundTrip(t *testing.T) {
	m, err := world.SimplexGenerator{Config: world.SmallTestConfig()}.Generate(context.Background(), 3, nil)
	require.NoError(t, err)

	dir := t.TempDir()
	var reports int
	n, err := WriteRegions(context.Background(), dir, m, func(done, total int) { reports++ })
	require.NoError(t, err)
	assert.Positive(t, n)
	assert.Positive(t, reports)

	var total int
	entries, err := os.ReadDir(filepath.Join(dir, "region"))
	require.NoError(t, err)
	assert.Equal(t, reports, len(entries))
	for _, e := range entries {
		hexes, err := ReadRegion(filepath.Join(dir, "region", e.Name()))
		require.NoError(t, err)
		total += len(hexes)
	}
	assert.Equal(t, m.HexCount(), total)
}

func TestRegionOfFloorsNegativeCoordinates(t *testing.T) {
	assert.Equal(t, RegionKey{Q: -1, R: 0}, RegionOf(world.HexCoord{Q: -1, R: 0}))
	assert.Equal(t, RegionKey{Q: 0, R: -1}, RegionOf(world.HexCoord{Q: 7, R: -8}))
	assert.Equal(t, RegionKey{Q: -2, R: 1}, RegionOf(world.HexCoord{Q: -9, R: 8}))
}
