// Package home manages the conditionsdb home directory layout.
//
// The home directory owns all persistent state. Which parts exist depends on
// the configured store type.
//
// Layout:
//
//	<root>/
//	  conditions.db                    (sqlite store)
//	  badger/                          (badger store)
//	  raft/
//	    raft.db                        (boltdb: raft log + stable store)
//	    snapshots/                     (raft file snapshot store)
//	  node_id                          (raft server identity)
package home

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Dir represents a conditionsdb home directory.
type Dir struct {
	root string
}

// New creates a Dir with an explicit root path.
func New(root string) Dir {
	return Dir{root: root}
}

// Default returns a Dir using the platform-appropriate default location:
//   - Linux:   ~/.config/conditionsdb
//   - macOS:   ~/Library/Application Support/conditionsdb
//   - Windows: %APPDATA%/conditionsdb
func Default() (Dir, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return Dir{}, fmt.Errorf("determine config directory: %w", err)
	}
	return Dir{root: filepath.Join(base, "conditionsdb")}, nil
}

// Root returns the home directory path.
func (d Dir) Root() string {
	return d.root
}

// DatabasePath returns the path of the SQLite database.
func (d Dir) DatabasePath() string {
	return filepath.Join(d.root, "conditions.db")
}

// BadgerDir returns the directory of the Badger database.
func (d Dir) BadgerDir() string {
	return filepath.Join(d.root, "badger")
}

// RaftDir returns the directory for Raft persistent state (log store, snapshots).
func (d Dir) RaftDir() string {
	return filepath.Join(d.root, "raft")
}

// EnsureExists creates the home directory (and parents) if it doesn't exist.
func (d Dir) EnsureExists() error {
	if err := os.MkdirAll(d.root, 0o750); err != nil {
		return fmt.Errorf("create home directory %s: %w", d.root, err)
	}
	return nil
}

// NodeID reads the persistent node identity from <root>/node_id.
// If the file doesn't exist, a new UUIDv7 is generated and written.
func (d Dir) NodeID() (string, error) {
	return d.readOrCreate("node_id", func() string {
		return uuid.Must(uuid.NewV7()).String()
	})
}

// readOrCreate reads a single-line value from <root>/<filename>.
// If the file doesn't exist, generate() provides the default which is persisted.
func (d Dir) readOrCreate(filename string, generate func() string) (string, error) {
	p := filepath.Join(d.root, filename)
	data, err := os.ReadFile(p) //nolint:gosec // G304: path is home dir + constant filename
	if err == nil {
		if v := strings.TrimSpace(string(data)); v != "" {
			return v, nil
		}
	}
	v := generate()
	if err := os.WriteFile(p, []byte(v+"\n"), 0o640); err != nil { //nolint:gosec // G306: node-id is not secret
		return "", fmt.Errorf("write %s: %w", filename, err)
	}
	return v, nil
}
