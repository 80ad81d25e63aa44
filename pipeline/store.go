// ABOUTME: Filesystem-backed Run Store: per-run directory with params.json, status.json, run.log, artifacts/.
// ABOUTME: Status documents are written atomically; log reads are offset-based, idempotent, and monotonic.
package pipeline

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// RunStore persists run state and log content under a base directory, one
// subdirectory per run. The engine is the only writer for a given run; status
// and log reads are non-blocking snapshots for concurrent observers.
type RunStore struct {
	baseDir string
	mu      sync.RWMutex
}

// NewRunStore creates a run store rooted at baseDir, creating it if needed.
func NewRunStore(baseDir string) (*RunStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("create runs dir: %w", err)
	}
	return &RunStore{baseDir: baseDir}, nil
}

// BaseDir returns the store's root directory.
func (s *RunStore) BaseDir() string {
	return s.baseDir
}

// RunDir returns the directory for a run ID. The directory may not exist.
func (s *RunStore) RunDir(runID string) string {
	return filepath.Join(s.baseDir, runID)
}

// CreateRun allocates the run directory and writes the initial params.json,
// status.json, and empty run.log. Fails if the run already exists.
func (s *RunStore) CreateRun(rec *RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	runDir := s.RunDir(rec.RunID)
	if _, err := os.Stat(runDir); err == nil {
		return fmt.Errorf("run %q already exists", rec.RunID)
	}
	if err := os.MkdirAll(filepath.Join(runDir, "artifacts"), 0755); err != nil {
		return fmt.Errorf("create run directory: %w", err)
	}

	if err := writeJSONAtomic(filepath.Join(runDir, "params.json"), RedactParams(rec.Params)); err != nil {
		return fmt.Errorf("write params: %w", err)
	}
	if err := writeJSONAtomic(filepath.Join(runDir, "status.json"), rec); err != nil {
		return fmt.Errorf("write status: %w", err)
	}
	if err := os.WriteFile(filepath.Join(runDir, "run.log"), nil, 0644); err != nil {
		return fmt.Errorf("create log file: %w", err)
	}
	return nil
}

// SaveStatus persists the run record's current projection. Called by the run
// controller after every step transition, before the next step begins.
func (s *RunStore) SaveStatus(rec *RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	runDir := s.RunDir(rec.RunID)
	if _, err := os.Stat(runDir); os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrRunNotFound, rec.RunID)
	}
	if err := writeJSONAtomic(filepath.Join(runDir, "status.json"), rec); err != nil {
		return fmt.Errorf("write status: %w", err)
	}
	return nil
}

// GetStatus loads a full, internally consistent run record snapshot. The
// atomic status writes guarantee a reader never sees a partially written
// step result.
func (s *RunStore) GetStatus(runID string) (*RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getStatusUnlocked(runID)
}

func (s *RunStore) getStatusUnlocked(runID string) (*RunRecord, error) {
	data, err := os.ReadFile(filepath.Join(s.RunDir(runID), "status.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, fmt.Errorf("read status for %q: %w", runID, err)
	}
	var rec RunRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse status for %q: %w", runID, err)
	}

	// Reattach the redacted parameters for callers that want the full view.
	if pdata, err := os.ReadFile(filepath.Join(s.RunDir(runID), "params.json")); err == nil {
		var params Params
		if json.Unmarshal(pdata, &params) == nil {
			rec.Params = params
		}
	}
	return &rec, nil
}

// AppendLog appends text to the run's log. The log is append-only: content
// is never retracted or reordered.
func (s *RunStore) AppendLog(runID string, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.RunDir(runID), "run.log")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("open log for %q: %w", runID, err)
	}
	defer f.Close()
	if _, err := f.WriteString(text); err != nil {
		return fmt.Errorf("append log for %q: %w", runID, err)
	}
	return nil
}

// ReadLog returns log content from the given byte offset and the new offset
// for the next poll. Reading the same offset twice without new appends yields
// identical bytes and the same new offset.
func (s *RunStore) ReadLog(runID string, offset int64) ([]byte, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	path := filepath.Join(s.RunDir(runID), "run.log")
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, offset, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, offset, fmt.Errorf("open log for %q: %w", runID, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, offset, fmt.Errorf("stat log for %q: %w", runID, err)
	}
	size := info.Size()
	if offset < 0 {
		offset = 0
	}
	if offset >= size {
		return nil, offset, nil
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, offset, fmt.Errorf("seek log for %q: %w", runID, err)
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, offset, fmt.Errorf("read log for %q: %w", runID, err)
	}
	return data, offset + int64(len(data)), nil
}

// ListRunIDs returns all run IDs present on disk, newest first. ULIDs are
// lexically time-ordered, so a reverse sort by name is a sort by creation.
func (s *RunStore) ListRunIDs() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("read runs dir: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(ids)))
	return ids, nil
}

// PruneRuns removes the oldest run directories beyond the keep count and
// returns how many were removed. Runs in a non-terminal state are never
// pruned.
func (s *RunStore) PruneRuns(keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return 0, fmt.Errorf("read runs dir: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	if len(ids) <= keep {
		return 0, nil
	}
	sort.Sort(sort.Reverse(sort.StringSlice(ids)))

	removed := 0
	for _, id := range ids[keep:] {
		rec, err := s.getStatusUnlocked(id)
		if err == nil && !rec.OverallState.Terminal() {
			continue
		}
		if err := os.RemoveAll(s.RunDir(id)); err != nil {
			continue
		}
		removed++
	}
	return removed, nil
}

// writeJSONAtomic writes a JSON document via temp file + rename so readers
// never observe a partial write.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
