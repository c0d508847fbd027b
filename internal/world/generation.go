// World generation using layered simplex noise.
// Generates elevation, rainfall, and temperature maps, then derives terrain.
package world

import (
	"context"
	"math"
	"math/rand"

	opensimplex "github.com/ojrac/opensimplex-go"
)

// Generator materializes the content of a new environment from a seed.
// report is called with the number of finished columns out of total and may
// be nil.
type Generator interface {
	Generate(ctx context.Context, seed int64, report func(done, total int)) (*Map, error)
}

// GenConfig holds world generation parameters.
type GenConfig struct {
	Radius      int     `yaml:"radius" env:"RADIUS"`
	SeaLevel    float64 `yaml:"sea_level" env:"SEA_LEVEL"`
	MountainLvl float64 `yaml:"mountain_level" env:"MOUNTAIN_LEVEL"`
}

// DefaultGenConfig returns a reasonable starting configuration.
func DefaultGenConfig() GenConfig {
	return GenConfig{
		Radius:      22,
		SeaLevel:    0.25,
		MountainLvl: 0.72,
	}
}

// SmallTestConfig returns a tiny world for rapid iteration.
func SmallTestConfig() GenConfig {
	return GenConfig{
		Radius:      5,
		SeaLevel:    0.30,
		MountainLvl: 0.75,
	}
}

// SimplexGenerator is the default Generator.
type SimplexGenerator struct {
	Config GenConfig
}

// Generate creates a complete world map with terrain.
func (g SimplexGenerator) Generate(ctx context.Context, seed int64, report func(done, total int)) (*Map, error) {
	cfg := g.Config
	if seed == 0 {
		seed = rand.Int63()
	}

	// Three noise generators for independent layers.
	elevNoise := opensimplex.NewNormalized(seed)
	rainNoise := opensimplex.NewNormalized(seed + 1)
	tempNoise := opensimplex.NewNormalized(seed + 2)

	m := NewMap(cfg.Radius)
	m.Seed = seed

	total := 2*cfg.Radius + 1
	for q := -cfg.Radius; q <= cfg.Radius; q++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for r := -cfg.Radius; r <= cfg.Radius; r++ {
			coord := HexCoord{Q: q, R: r}
			if !m.InBounds(coord) {
				continue
			}

			// Hex axial → cartesian: x = q + r*0.5, y = r * sqrt(3)/2
			x := float64(q) + float64(r)*0.5
			y := float64(r) * math.Sqrt(3.0) / 2.0

			elev := octaveNoise(elevNoise, x, y, 4, 0.08, 0.5)
			rain := octaveNoise(rainNoise, x, y, 3, 0.06, 0.5)
			temp := octaveNoise(tempNoise, x, y, 3, 0.05, 0.5)

			// Continental shaping: reduce elevation near edges to create ocean border.
			distFromCenter := math.Sqrt(x*x+y*y) / float64(cfg.Radius)
			edgeFalloff := 1.0 - math.Pow(distFromCenter, 3.5)
			if edgeFalloff < 0 {
				edgeFalloff = 0
			}
			elev *= edgeFalloff

			temp = temp*0.6 + (1.0-math.Abs(y)/float64(cfg.Radius))*0.3 + (1.0-elev)*0.1

			m.Set(&Hex{
				Coord:       coord,
				Terrain:     deriveTerrain(elev, rain, temp, cfg),
				Elevation:   elev,
				Rainfall:    rain,
				Temperature: temp,
			})
		}
		if report != nil {
			report(q+cfg.Radius+1, total)
		}
	}

	markCoastalHexes(m)
	placeRivers(m, seed)

	return m, nil
}

// deriveTerrain determines terrain type from environmental parameters.
func deriveTerrain(elev, rain, temp float64, cfg GenConfig) Terrain {
	if elev < cfg.SeaLevel {
		return TerrainOcean
	}
	if elev > cfg.MountainLvl {
		return TerrainMountain
	}
	if temp < 0.25 {
		return TerrainTundra
	}
	if rain < 0.25 && temp > 0.5 {
		return TerrainDesert
	}
	if rain > 0.7 && elev < 0.45 {
		return TerrainSwamp
	}
	if rain > 0.45 && elev > 0.45 {
		return TerrainForest
	}
	return TerrainPlains
}

// markCoastalHexes converts low land hexes adjacent to ocean into coast.
func markCoastalHexes(m *Map) {
	var toMark []HexCoord
	for coord, hex := range m.Hexes {
		if hex.Terrain == TerrainOcean {
			continue
		}
		for _, neighbor := range coord.Neighbors() {
			nh := m.Get(neighbor)
			if nh != nil && nh.Terrain == TerrainOcean {
				toMark = append(toMark, coord)
				break
			}
		}
	}

	for _, coord := range toMark {
		hex := m.Get(coord)
		if (hex.Terrain == TerrainPlains || hex.Terrain == TerrainForest) && hex.Elevation < 0.5 {
			hex.Terrain = TerrainCoast
		}
	}
}

// placeRivers traces paths from high elevation to coast/ocean, marking hexes as river.
func placeRivers(m *Map, seed int64) {
	rng := rand.New(rand.NewSource(seed + 100))

	var sources []HexCoord
	for _, hex := range m.Sorted() {
		if hex.Elevation > 0.65 && hex.Terrain != TerrainOcean {
			sources = append(sources, hex.Coord)
		}
	}

	numRivers := min(max(len(sources)/8, 2), 10)

	rng.Shuffle(len(sources), func(i, j int) {
		sources[i], sources[j] = sources[j], sources[i]
	})
	if len(sources) > numRivers {
		sources = sources[:numRivers]
	}

	for _, start := range sources {
		traceRiver(m, start)
	}
}

// traceRiver follows the steepest descent from a source hex until reaching
// ocean or running out of downhill path.
func traceRiver(m *Map, start HexCoord) {
	current := start
	visited := make(map[HexCoord]bool)

	for step := 0; step < 50; step++ {
		visited[current] = true
		hex := m.Get(current)
		if hex == nil || hex.Terrain == TerrainOcean {
			break
		}

		if hex.Terrain != TerrainMountain && hex.Terrain != TerrainCoast {
			hex.Terrain = TerrainRiver
		}

		var next *HexCoord
		bestElev := hex.Elevation
		for _, nc := range current.Neighbors() {
			if visited[nc] {
				continue
			}
			nh := m.Get(nc)
			if nh == nil {
				continue
			}
			if nh.Elevation < bestElev {
				bestElev = nh.Elevation
				c := nc
				next = &c
			}
		}

		if next == nil {
			break
		}
		current = *next
	}
}

// octaveNoise generates fractal noise by layering multiple frequencies.
func octaveNoise(noise opensimplex.Noise, x, y float64, octaves int, frequency, persistence float64) float64 {
	total := 0.0
	amplitude := 1.0
	maxVal := 0.0

	for i := 0; i < octaves; i++ {
		total += noise.Eval2(x*frequency, y*frequency) * amplitude
		maxVal += amplitude
		amplitude *= persistence
		frequency *= 2
	}

	return total / maxVal
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// TerrainCounts returns a summary of terrain type distribution.
func TerrainCounts(m *Map) map[Terrain]int {
	counts := make(map[Terrain]int)
	for _, hex := range m.Hexes {
		counts[hex.Terrain]++
	}
	return counts
}

// TerrainName returns a human-readable name for a terrain type.
func TerrainName(t Terrain) string {
	switch t {
	case TerrainPlains:
		return "Plains"
	case TerrainForest:
		return "Forest"
	case TerrainMountain:
		return "Mountain"
	case TerrainCoast:
		return "Coast"
	case TerrainRiver:
		return "River"
	case TerrainDesert:
		return "Desert"
	case TerrainSwamp:
		return "Swamp"
	case TerrainTundra:
		return "Tundra"
	case TerrainOcean:
		return "Ocean"
	default:
		return "Unknown"
	}
}
