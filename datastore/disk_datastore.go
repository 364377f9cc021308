package datastore

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

type (
	// DiskDataStore is the local staging area. Each run gets its own directory under rootPath.
	DiskDataStore struct {
		rootPath string
	}
)

func NewDiskDataStore(rootPath string) (*DiskDataStore, error) {
	if rootPath == "" {
		return nil, fmt.Errorf("empty root path")
	}
	if err := os.MkdirAll(rootPath, 0o755); err != nil {
		return nil, fmt.Errorf("error in os.MkdirAll: %w", err)
	}
	dds := &DiskDataStore{
		rootPath: rootPath,
	}

	return dds, nil
}

// RunDir creates and returns the directory for runID.
func (dds *DiskDataStore) RunDir(runID string) (string, error) {
	dir := filepath.Join(dds.rootPath, runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("error in os.MkdirAll: %w", err)
	}
	return dir, nil
}

// Path joins elems under the run directory without creating anything.
func (dds *DiskDataStore) Path(runID string, elems ...string) string {
	return filepath.Join(append([]string{dds.rootPath, runID}, elems...)...)
}

// ListFiles returns the regular files directly inside dir, sorted by name.
func (dds *DiskDataStore) ListFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("error in os.ReadDir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

func (dds *DiskDataStore) Cleanup(runID string) error {
	if err := os.RemoveAll(dds.Path(runID)); err != nil {
		return fmt.Errorf("error in os.RemoveAll: %w", err)
	}
	return nil
}
