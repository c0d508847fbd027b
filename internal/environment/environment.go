// Package environment manages the disposable shared spaces participants
// occupy: the long-lived waiting area and a succession of generated worlds,
// each backed by a directory on disk.
package environment

import (
	"errors"
	"time"

	"github.com/talgya/sharedhealth/internal/world"
)

var (
	ErrNotFound = errors.New("environment not found")
	ErrExists   = errors.New("environment already exists")
)

// Environment is one named shared space.
type Environment struct {
	Name      string    `json:"name"`
	Seed      int64     `json:"seed"`
	CreatedAt time.Time `json:"created_at"`
	Waiting   bool      `json:"waiting"`

	// Dir is the backing storage; not persisted in level.json.
	Dir string `json:"-"`

	// Terrain is attached once generation finishes. The waiting area has none.
	Terrain *world.Map `json:"-"`
}

// Registry is the live set of environments. Implementations are used from
// the main context only.
type Registry interface {
	// Create registers a new, empty environment.
	Create(name string, seed int64) (*Environment, error)
	// Get returns a loaded environment.
	Get(name string) (*Environment, bool)
	// Open loads an environment that exists on disk but is not loaded.
	Open(name string) (*Environment, error)
	// Unload drops env from the live set without saving it.
	Unload(env *Environment) error
	// History lists every environment on disk, most recent first.
	History() ([]*Environment, error)
}

// Storage is the filesystem view used by the retention sweep.
type Storage interface {
	// ListChildren returns the direct children of a directory. A missing
	// path returns an error satisfying errors.Is(err, fs.ErrNotExist).
	ListChildren(path string) ([]Child, error)
	// Remove deletes one file or one empty directory.
	Remove(path string) error
}

// Child is one directory entry.
type Child struct {
	Path string
	Dir  bool
	Size int64
}
