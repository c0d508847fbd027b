package retention

import (
	"errors"
	"io/fs"
	"log/slog"

	"github.com/dustin/go-humanize"

	"github.com/talgya/sharedhealth/internal/environment"
)

// Report summarizes one cleanup.
type Report struct {
	Deleted  []string
	Files    int
	Bytes    int64
	Failures int
}

// Sweeper unloads and deletes environments beyond the retention count.
type Sweeper struct {
	Registry environment.Registry
	Storage  environment.Storage
}

// Cleanup keeps the first keep environments of history (most recent first)
// and deletes the rest. The waiting environment is never a candidate.
// Failures are logged and counted; they never stop the sweep.
func (s *Sweeper) Cleanup(history []*environment.Environment, keep int) Report {
	var candidates []*environment.Environment
	for _, env := range history {
		if env.Waiting {
			continue
		}
		candidates = append(candidates, env)
	}
	keep = max(keep, 0)
	if len(candidates) <= keep {
		return Report{}
	}

	var rep Report
	for _, env := range candidates[keep:] {
		if live, ok := s.Registry.Get(env.Name); ok {
			if err := s.Registry.Unload(live); err != nil {
				slog.Warn("unload failed", "environment", env.Name, "error", err)
			}
		}

		st := RemoveAll(s.Storage, env.Dir)
		rep.Files += st.Files
		rep.Bytes += st.Bytes
		rep.Failures += st.Failures
		if st.Failures == 0 {
			rep.Deleted = append(rep.Deleted, env.Name)
		}
		slog.Info("environment deleted",
			"environment", env.Name,
			"files", st.Files,
			"freed", humanize.Bytes(uint64(st.Bytes)),
			"failures", st.Failures,
		)
	}
	return rep
}

// RemoveStats counts what RemoveAll did.
type RemoveStats struct {
	Files    int
	Bytes    int64
	Failures int
}

// RemoveAll deletes path and everything below it, children first. A missing
// path is a no-op. A failure on one entry is logged and the walk continues.
func RemoveAll(st environment.Storage, path string) RemoveStats {
	var stats RemoveStats
	removeTree(st, path, &stats)
	return stats
}

func removeTree(st environment.Storage, path string, stats *RemoveStats) {
	children, err := st.ListChildren(path)
	if errors.Is(err, fs.ErrNotExist) {
		return
	}
	if err != nil {
		slog.Warn("list failed", "path", path, "error", err)
		stats.Failures++
		return
	}

	for _, c := range children {
		if c.Dir {
			removeTree(st, c.Path, stats)
			continue
		}
		if err := st.Remove(c.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("delete failed", "path", c.Path, "error", err)
			stats.Failures++
			continue
		}
		stats.Files++
		stats.Bytes += c.Size
	}

	if err := st.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("delete failed", "path", path, "error", err)
		stats.Failures++
	}
}
