package environment

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/klauspost/compress/zstd"

	"github.com/talgya/sharedhealth/internal/world"
)

// RegionSize is the edge length, in hexes, of one region file.
const RegionSize = 8

// RegionKey identifies a region by floor-divided axial coordinates.
type RegionKey struct {
	Q int `json:"q"`
	R int `json:"r"`
}

// RegionOf returns the region containing c.
func RegionOf(c world.HexCoord) RegionKey {
	return RegionKey{Q: floorDiv(c.Q, RegionSize), R: floorDiv(c.R, RegionSize)}
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// RegionPath returns where a region file lives inside an environment.
func RegionPath(dir string, k RegionKey) string {
	return filepath.Join(dir, "region", fmt.Sprintf("r.%d.%d.json.zst", k.Q, k.R))
}

// WriteRegions warms an environment up by writing its terrain as
// zstd-compressed region files. It touches only the filesystem, so it may
// run off the main context. report receives finished regions out of total.
func WriteRegions(ctx context.Context, dir string, m *world.Map, report func(done, total int)) (int64, error) {
	groups := make(map[RegionKey][]*world.Hex)
	for _, h := range m.Sorted() {
		k := RegionOf(h.Coord)
		groups[k] = append(groups[k], h)
	}
	keys := make([]RegionKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Q != keys[j].Q {
			return keys[i].Q < keys[j].Q
		}
		return keys[i].R < keys[j].R
	})

	if err := os.MkdirAll(filepath.Join(dir, "region"), 0o755); err != nil {
		return 0, err
	}

	var written int64
	for i, k := range keys {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		n, err := writeRegion(RegionPath(dir, k), groups[k])
		if err != nil {
			return written, fmt.Errorf("region %d,%d: %w", k.Q, k.R, err)
		}
		written += n
		if report != nil {
			report(i+1, len(keys))
		}
	}
	return written, nil
}

func writeRegion(path string, hexes []*world.Hex) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return 0, err
	}
	if err := json.NewEncoder(enc).Encode(hexes); err != nil {
		_ = enc.Close()
		return 0, err
	}
	if err := enc.Close(); err != nil {
		return 0, err
	}
	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// ReadRegion decodes one region file.
func ReadRegion(path string) ([]*world.Hex, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var hexes []*world.Hex
	if err := json.NewDecoder(dec).Decode(&hexes); err != nil {
		return nil, err
	}
	return hexes, nil
}
