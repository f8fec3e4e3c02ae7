package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// snapshotFile is the on-disk resume state, one per mode.
type snapshotFile struct {
	SavedAt time.Time `json:"saved_at"`
	State   *State    `json:"state"`
}

func snapshotPath(dataDir, mode string) string {
	return filepath.Join(dataDir, fmt.Sprintf("state_%s.json", mode))
}

// saveSnapshot writes the state atomically: temp file in the same directory,
// fsync, then rename. A crash mid-write leaves the previous snapshot intact.
func saveSnapshot(path string, st *State) error {
	raw, err := json.MarshalIndent(snapshotFile{SavedAt: time.Now(), State: st}, "", "  ")
	if err != nil {
		return fmt.Errorf("engine: marshal snapshot: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("engine: snapshot dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".state-*.tmp")
	if err != nil {
		return fmt.Errorf("engine: snapshot temp: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("engine: write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("engine: sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("engine: close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("engine: rename snapshot: %w", err)
	}
	return nil
}

// loadSnapshot reads the resume state. A missing file is not an error; a
// corrupt one is, so the operator notices instead of silently starting flat.
func loadSnapshot(path string) (*State, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("engine: read snapshot: %w", err)
	}
	var f snapshotFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("engine: parse snapshot %s: %w", path, err)
	}
	if f.State != nil && f.State.Positions == nil {
		f.State.Positions = map[string]*Position{}
	}
	return f.State, nil
}
