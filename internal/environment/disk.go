package environment

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"
)

const levelFile = "level.json"

// Disk is the os-backed Storage.
type Disk struct{}

func (Disk) ListChildren(path string) ([]Child, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	out := make([]Child, 0, len(entries))
	for _, e := range entries {
		c := Child{Path: filepath.Join(path, e.Name()), Dir: e.IsDir()}
		if info, err := e.Info(); err == nil && !e.IsDir() {
			c.Size = info.Size()
		}
		out = append(out, c)
	}
	return out, nil
}

func (Disk) Remove(path string) error {
	return os.Remove(path)
}

// DiskRegistry keeps one directory per environment under Root, each with a
// level.json describing it.
type DiskRegistry struct {
	Root    string
	waiting string
	live    map[string]*Environment
	now     func() time.Time
}

// NewDiskRegistry creates the root directory if needed. waiting names the
// environment that is flagged as the waiting area when created or opened.
func NewDiskRegistry(root, waiting string) (*DiskRegistry, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create registry root: %w", err)
	}
	return &DiskRegistry{
		Root:    root,
		waiting: waiting,
		live:    make(map[string]*Environment),
		now:     time.Now,
	}, nil
}

func (r *DiskRegistry) Create(name string, seed int64) (*Environment, error) {
	if name == "" || filepath.Base(name) != name {
		return nil, fmt.Errorf("invalid environment name %q", name)
	}
	if _, ok := r.live[name]; ok {
		return nil, fmt.Errorf("%s: %w", name, ErrExists)
	}
	dir := filepath.Join(r.Root, name)
	if _, err := os.Stat(dir); err == nil {
		return nil, fmt.Errorf("%s: %w", name, ErrExists)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", name, err)
	}

	env := &Environment{
		Name:      name,
		Seed:      seed,
		CreatedAt: r.now().UTC(),
		Waiting:   name == r.waiting,
		Dir:       dir,
	}
	b, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(dir, levelFile), b, 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", levelFile, err)
	}

	r.live[name] = env
	slog.Info("environment created", "name", name, "seed", seed, "waiting", env.Waiting)
	return env, nil
}

func (r *DiskRegistry) Get(name string) (*Environment, bool) {
	env, ok := r.live[name]
	return env, ok
}

func (r *DiskRegistry) Open(name string) (*Environment, error) {
	if env, ok := r.live[name]; ok {
		return env, nil
	}
	env, err := r.readLevel(filepath.Join(r.Root, name))
	if err != nil {
		return nil, err
	}
	r.live[name] = env
	return env, nil
}

func (r *DiskRegistry) Unload(env *Environment) error {
	if _, ok := r.live[env.Name]; !ok {
		return fmt.Errorf("%s: %w", env.Name, ErrNotFound)
	}
	delete(r.live, env.Name)
	slog.Debug("environment unloaded", "name", env.Name)
	return nil
}

// Loaded returns the names of loaded environments, sorted.
func (r *DiskRegistry) Loaded() []string {
	out := make([]string, 0, len(r.live))
	for name := range r.live {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (r *DiskRegistry) History() ([]*Environment, error) {
	entries, err := os.ReadDir(r.Root)
	if err != nil {
		return nil, fmt.Errorf("scan registry: %w", err)
	}

	var out []*Environment
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if env, ok := r.live[e.Name()]; ok {
			out = append(out, env)
			continue
		}
		env, err := r.readLevel(filepath.Join(r.Root, e.Name()))
		if err != nil {
			// Not an environment directory.
			continue
		}
		out = append(out, env)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Name > out[j].Name
	})
	return out, nil
}

func (r *DiskRegistry) readLevel(dir string) (*Environment, error) {
	b, err := os.ReadFile(filepath.Join(dir, levelFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", filepath.Base(dir), ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var env Environment
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Join(dir, levelFile), err)
	}
	env.Dir = dir
	env.Waiting = env.Name == r.waiting
	return &env, nil
}
