// Spawn placement: picks the hex where participants arrive in a new world.
package world

import (
	"sort"
)

// FindSpawn returns the best dry hex near the centre of m. The boolean is
// false when the map has no dry land at all; the centre hex is returned so
// callers still have somewhere to put participants.
func FindSpawn(m *Map) (*Hex, bool) {
	type scored struct {
		hex   *Hex
		score float64
	}
	var candidates []scored

	origin := HexCoord{}
	for _, hex := range m.Sorted() {
		if !hex.Dry() {
			continue
		}
		s := spawnScore(m, hex) - float64(Distance(origin, hex.Coord))*0.35
		candidates = append(candidates, scored{hex, s})
	}

	if len(candidates) == 0 {
		if h := m.Get(origin); h != nil {
			return h, false
		}
		return &Hex{Coord: origin, Terrain: TerrainOcean}, false
	}

	// Stable sort keeps the (q, r) order for equal scores.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	return candidates[0].hex, true
}

// spawnScore prefers open flat land with dry neighbours.
func spawnScore(m *Map, hex *Hex) float64 {
	score := 0.0
	switch hex.Terrain {
	case TerrainPlains:
		score += 3.0
	case TerrainCoast:
		score += 2.0
	case TerrainForest:
		score += 1.5
	case TerrainDesert, TerrainTundra:
		score += 0.5
	case TerrainSwamp:
		score += 0.3
	case TerrainMountain:
		score += 0.1
	}

	for _, nc := range hex.Coord.Neighbors() {
		nh := m.Get(nc)
		if nh != nil && nh.Dry() {
			score += 0.2
		}
	}
	return score
}
