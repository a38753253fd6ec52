// Package authorize implements the accessory authorization source: a
// scan-based selection surface and a persisted record of the authorized
// ring, replayed as the activation event at process start.
package authorize

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cyrilzakka/Halo/internal/ring"
)

// Store persists the authorized device identity as a small JSON file.
type Store struct {
	path string
}

// DefaultPath returns the default identity file location.
func DefaultPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "halo", "device.json")
}

// NewStore creates a store backed by the given file path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load returns the stored identity, or nil if none has been saved.
func (s *Store) Load() (*ring.DeviceIdentity, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("authorize: read device record: %w", err)
	}
	var id ring.DeviceIdentity
	if err := json.Unmarshal(data, &id); err != nil {
		return nil, fmt.Errorf("authorize: parse device record: %w", err)
	}
	if id.ID == "" {
		return nil, nil
	}
	return &id, nil
}

// Save writes the identity, creating parent directories as needed.
func (s *Store) Save(id ring.DeviceIdentity) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("authorize: create config dir: %w", err)
	}
	data, err := json.MarshalIndent(id, "", "  ")
	if err != nil {
		return fmt.Errorf("authorize: encode device record: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("authorize: write device record: %w", err)
	}
	return nil
}

// Remove forgets the stored identity. Removing a record that does not
// exist is not an error.
func (s *Store) Remove() error {
	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
