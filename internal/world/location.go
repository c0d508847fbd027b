package world

import (
	"fmt"
	"math"
)

// HexSize is the width of one hex tile in blocks.
const HexSize = 16.0

// SeaLevelY is the block height of elevation 0.
const SeaLevelY = 62.0

// Location is a point inside a named environment.
type Location struct {
	World string  `json:"world"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
}

// String formats the location for logs and notices.
func (l Location) String() string {
	return fmt.Sprintf("%s(%.1f, %.1f, %.1f)", l.World, l.X, l.Y, l.Z)
}

// CenterOf converts an axial coordinate to the block position of the hex
// centre, standing on top of the terrain.
func CenterOf(world string, h *Hex) Location {
	x := (float64(h.Coord.Q) + float64(h.Coord.R)*0.5) * HexSize
	z := float64(h.Coord.R) * math.Sqrt(3.0) / 2.0 * HexSize
	return Location{
		World: world,
		X:     math.Floor(x) + 0.5,
		Y:     SeaLevelY + math.Round(h.Elevation*64) + 1,
		Z:     math.Floor(z) + 0.5,
	}
}
