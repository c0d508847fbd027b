package world

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateIsDeterministicForSeed(t *testing.T) {
	gen := SimplexGenerator{Config: SmallTestConfig()}

	a, err := gen.Generate(context.Background(), 42, nil)
	require.NoError(t, err)
	b, err := gen.Generate(context.Background(), 42, nil)
	require.NoError(t, err)

	require.Equal(t, a.HexCount(), b.HexCount())
	for coord, h := range a.Hexes {
		other := b.Get(coord)
		require.NotNil(t, other)
		assert.Equal(t, h.Terrain, other.Terrain, "terrain at %v", coord)
		assert.InDelta(t, h.Elevation, other.Elevation, 1e-12)
	}
}

func TestGenerateFillsRadius(t *testing.T) {
	cfg := SmallTestConfig()
	m, err := SimplexGenerator{Config: cfg}.Generate(context.Background(), 7, nil)
	require.NoError(t, err)

	// A hex grid of radius R has 3R(R+1)+1 cells.
	assert.Equal(t, 3*cfg.Radius*(cfg.Radius+1)+1, m.HexCount())
	assert.Equal(t, int64(7), m.Seed)
}

func TestGenerateReportsEveryColumn(t *testing.T) {
	cfg := SmallTestConfig()
	var calls, lastDone, lastTotal int
	_, err := SimplexGenerator{Config: cfg}.Generate(context.Background(), 1, func(done, total int) {
		calls++
		assert.Greater(t, done, lastDone)
		lastDone, lastTotal = done, total
	})
	require.NoError(t, err)
	assert.Equal(t, 2*cfg.Radius+1, calls)
	assert.Equal(t, lastTotal, lastDone)
}

func TestGenerateStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := SimplexGenerator{Config: SmallTestConfig()}.Generate(ctx, 1, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFindSpawnPrefersDryLandNearCentre(t *testing.T) {
	m := NewMap(2)
	for q := -2; q <= 2; q++ {
		for r := -2; r <= 2; r++ {
			c := HexCoord{Q: q, R: r}
			if m.InBounds(c) {
				m.Set(&Hex{Coord: c, Terrain: TerrainOcean})
			}
		}
	}
	m.Get(HexCoord{Q: 1, R: 0}).Terrain = TerrainPlains
	m.Get(HexCoord{Q: 2, R: -2}).Terrain = TerrainPlains

	hex, ok := FindSpawn(m)
	require.True(t, ok)
	assert.Equal(t, HexCoord{Q: 1, R: 0}, hex.Coord)
}

func TestFindSpawnWithoutLand(t *testing.T) {
	m := NewMap(1)
	m.Set(&Hex{Coord: HexCoord{}, Terrain: TerrainOcean})

	hex, ok := FindSpawn(m)
	assert.False(t, ok)
	assert.Equal(t, HexCoord{}, hex.Coord)
}

func TestCenterOfStandsOnTerrain(t *testing.T) {
	loc := CenterOf("w", &Hex{Coord: HexCoord{Q: 0, R: 0}, Elevation: 0.5})
	assert.Equal(t, "w", loc.World)
	assert.Equal(t, 0.5, loc.X)
	assert.Equal(t, 0.5, loc.Z)
	assert.Equal(t, SeaLevelY+32+1, loc.Y)
}
