package world

import (
	"fmt"
	"sort"
)

// Map holds the generated hex grid of one environment.
type Map struct {
	Hexes  map[HexCoord]*Hex `json:"-"`
	Radius int               `json:"radius"`
	Seed   int64             `json:"seed"`
}

// NewMap creates an empty map with the given radius.
// A hex grid of radius R contains hexes where max(|q|, |r|, |s|) <= R.
func NewMap(radius int) *Map {
	return &Map{
		Hexes:  make(map[HexCoord]*Hex),
		Radius: radius,
	}
}

// Get returns the hex at the given coordinate, or nil if out of bounds.
func (m *Map) Get(coord HexCoord) *Hex {
	return m.Hexes[coord]
}

// Set places a hex at the given coordinate.
func (m *Map) Set(hex *Hex) {
	m.Hexes[hex.Coord] = hex
}

// InBounds returns true if the coordinate is within the map radius.
func (m *Map) InBounds(coord HexCoord) bool {
	return max(abs(coord.Q), abs(coord.R), abs(coord.S())) <= m.Radius
}

// HexCount returns the total number of hexes in the map.
func (m *Map) HexCount() int {
	return len(m.Hexes)
}

// Sorted returns all hexes ordered by (q, r). Used wherever output must be
// stable across runs, e.g. region files.
func (m *Map) Sorted() []*Hex {
	out := make([]*Hex, 0, len(m.Hexes))
	for _, h := range m.Hexes {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Coord.Q != out[j].Coord.Q {
			return out[i].Coord.Q < out[j].Coord.Q
		}
		return out[i].Coord.R < out[j].Coord.R
	})
	return out
}

// String returns a summary of the map.
func (m *Map) String() string {
	return fmt.Sprintf("Map(radius=%d, hexes=%d, seed=%d)", m.Radius, m.HexCount(), m.Seed)
}
