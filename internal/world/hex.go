// Package world provides the procedural content generator for new
// environments: a hex grid of terrain sampled from layered simplex noise,
// plus spawn point selection.
// Uses axial coordinates (q, r) for the hex grid.
package world

// HexCoord represents a position on the hex grid using axial coordinates.
// The third cube coordinate s is derived: s = -q - r.
type HexCoord struct {
	Q int `json:"q"`
	R int `json:"r"`
}

// S returns the implicit third cube coordinate.
func (h HexCoord) S() int {
	return -h.Q - h.R
}

// Terrain types for hex tiles.
type Terrain uint8

const (
	TerrainPlains Terrain = iota
	TerrainForest
	TerrainMountain
	TerrainCoast
	TerrainRiver
	TerrainDesert
	TerrainSwamp
	TerrainTundra
	TerrainOcean
)

// Hex represents a single tile of generated terrain.
type Hex struct {
	Coord   HexCoord `json:"coord"`
	Terrain Terrain  `json:"terrain"`

	Elevation   float64 `json:"elevation"`   // 0.0 (sea level) to 1.0 (peak)
	Rainfall    float64 `json:"rainfall"`    // 0.0 (arid) to 1.0 (tropical)
	Temperature float64 `json:"temperature"` // 0.0 (frozen) to 1.0 (hot)
}

// Dry reports whether a participant can stand on the hex.
func (h *Hex) Dry() bool {
	return h.Terrain != TerrainOcean && h.Terrain != TerrainRiver
}

// HexNeighborDirections defines the six neighbor offsets in axial coordinates.
var HexNeighborDirections = [6]HexCoord{
	{Q: 1, R: 0},
	{Q: 1, R: -1},
	{Q: 0, R: -1},
	{Q: -1, R: 0},
	{Q: -1, R: 1},
	{Q: 0, R: 1},
}

// Neighbors returns the six adjacent hex coordinates.
func (h HexCoord) Neighbors() [6]HexCoord {
	var result [6]HexCoord
	for i, dir := range HexNeighborDirections {
		result[i] = HexCoord{Q: h.Q + dir.Q, R: h.R + dir.R}
	}
	return result
}

// Distance returns the hex distance between two coordinates.
func Distance(a, b HexCoord) int {
	dq := abs(a.Q - b.Q)
	dr := abs(a.R - b.R)
	ds := abs(a.S() - b.S())
	return max(dq, dr, ds)
}
