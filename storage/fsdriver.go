package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FSDriver is a filesystem-backed Driver, one JSON file of key-value
// pairs per store — the direct continuation of the teacher's own
// approach in internal/server/storage.go (os.MkdirAll + os.ReadFile /
// os.WriteFile around a single JSON blob, guarded by a mutex).
type FSDriver struct {
	mu   sync.RWMutex
	path string
	data map[string]string
}

// NewFSDriver opens (or creates) a JSON-backed key-value file at path.
func NewFSDriver(path string) (*FSDriver, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	d := &FSDriver{path: path, data: make(map[string]string)}
	if raw, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(raw, &d.data); err != nil {
			return nil, fmt.Errorf("fsdriver: corrupt store %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}
	return d, nil
}

func (d *FSDriver) Get(_ context.Context, key string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.data[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (d *FSDriver) Set(_ context.Context, key, value string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.data[key] = value
	return d.saveLocked()
}

func (d *FSDriver) Remove(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.data, key)
	return d.saveLocked()
}

func (d *FSDriver) saveLocked() error {
	raw, err := json.MarshalIndent(d.data, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(d.path, raw, 0600)
}

var _ Driver = (*FSDriver)(nil)
