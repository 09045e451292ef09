// Package statefile saves and restores the serialised engine state.
package statefile

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/banshee-data/expression.report/internal/fsutil"
)

// Extension is the conventional suffix for state files.
const Extension = ".expr"

var ErrNotFound = errors.New("statefile: no state file")

// Serializer produces the state buffer.
type Serializer interface {
	Serialize() ([]byte, error)
}

// Deserializer replaces its state from a buffer.
type Deserializer interface {
	Deserialize(data []byte) error
}

// Save writes s's state to path atomically.
func Save(fsys fsutil.FileSystem, path string, s Serializer) (int, error) {
	if filepath.Ext(path) != Extension {
		return 0, fmt.Errorf("statefile: %s must have extension %s", path, Extension)
	}
	data, err := s.Serialize()
	if err != nil {
		return 0, fmt.Errorf("statefile: serialise: %w", err)
	}
	if err := fsutil.WriteFileAtomic(fsys, path, data, 0o600); err != nil {
		return 0, fmt.Errorf("statefile: write %s: %w", path, err)
	}
	return len(data), nil
}

// Load reads path into d. A missing file returns ErrNotFound and leaves d
// untouched.
func Load(fsys fsutil.FileSystem, path string, d Deserializer) error {
	if !fsys.Exists(path) {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	data, err := fsys.ReadFile(path)
	if err != nil {
		return fmt.Errorf("statefile: read %s: %w", path, err)
	}
	if err := d.Deserialize(data); err != nil {
		return fmt.Errorf("statefile: load %s: %w", path, err)
	}
	return nil
}
