// ABOUTME: Scheduler: admits run requests under a concurrency bound and dispatches each to its own goroutine.
// ABOUTME: The run table is guarded by one mutex so the concurrently-running count stays exact.
package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"
)

// Scheduler accepts run requests, enforces the concurrency bound, and serves
// fast non-blocking status and log reads against the run store.
type Scheduler struct {
	cfg   *Config
	store *RunStore
	index *RunIndex

	mu     sync.Mutex
	active map[string]struct{}
	done   map[string]chan struct{}

	events EventHandler
}

// NewScheduler opens the run store and index and returns a ready scheduler.
func NewScheduler(cfg *Config) (*Scheduler, error) {
	store, err := NewRunStore(cfg.RunsDir)
	if err != nil {
		return nil, err
	}
	indexPath := cfg.IndexPath
	if indexPath == "" {
		indexPath = filepath.Join(cfg.RunsDir, "index.db")
	}
	index, err := OpenRunIndex(indexPath)
	if err != nil {
		return nil, err
	}
	return &Scheduler{
		cfg:    cfg,
		store:  store,
		index:  index,
		active: make(map[string]struct{}),
		done:   make(map[string]chan struct{}),
	}, nil
}

// SetEventHandler installs an observer for engine lifecycle events. Must be
// called before the first Submit.
func (s *Scheduler) SetEventHandler(h EventHandler) {
	s.events = h
}

// Store exposes the underlying run store for read paths (log tailing,
// artifact listing).
func (s *Scheduler) Store() *RunStore {
	return s.store
}

// Submit admits a new run for the given flow and starts it on its own
// goroutine. Returns ErrAdmissionRejected when the number of non-terminal
// runs has reached the configured bound. Submit returns as soon as the run
// record exists; it never waits for completion.
func (s *Scheduler) Submit(flow *Flow, params Params, opts RunOptions) (string, error) {
	runID := NewRunID()
	runDir := s.store.RunDir(runID)
	rec := NewRunRecord(runID, flow, params, runDir)

	// Admission check and run-table mutation happen under one lock so
	// concurrent submits cannot oversubscribe the bound.
	s.mu.Lock()
	if len(s.active) >= s.cfg.MaxConcurrentRuns {
		s.mu.Unlock()
		return "", fmt.Errorf("%w (bound %d)", ErrAdmissionRejected, s.cfg.MaxConcurrentRuns)
	}
	s.active[runID] = struct{}{}
	doneCh := make(chan struct{})
	s.done[runID] = doneCh
	s.mu.Unlock()

	if err := s.store.CreateRun(rec); err != nil {
		s.release(runID)
		return "", err
	}
	if err := s.index.Upsert(rec); err != nil {
		s.release(runID)
		return "", err
	}

	executor := &StepExecutor{Timeout: time.Duration(s.cfg.StepTimeout)}
	ctrl := NewController(flow, rec, opts, s.store, s.index, executor, s.events)

	go func() {
		// Release before signaling completion so a caller returning from
		// WaitRun always observes the freed capacity.
		defer close(doneCh)
		defer s.release(runID)
		// Run failures are contained in the run record; nothing here may
		// take down the hosting process.
		_ = ctrl.Run(context.Background())
	}()

	return runID, nil
}

// release removes a run from the active table.
func (s *Scheduler) release(runID string) {
	s.mu.Lock()
	delete(s.active, runID)
	s.mu.Unlock()
}

// ActiveCount returns the number of currently non-terminal runs.
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// WaitRun blocks until the given run reaches a terminal state. Runs unknown
// to this scheduler instance (e.g. from a previous process) return
// immediately.
func (s *Scheduler) WaitRun(runID string) {
	s.mu.Lock()
	ch, ok := s.done[runID]
	s.mu.Unlock()
	if ok {
		<-ch
	}
}

// Status returns a consistent snapshot of the run's record.
func (s *Scheduler) Status(runID string) (*RunRecord, error) {
	return s.store.GetStatus(runID)
}

// ListRuns returns summaries of all known runs, newest first.
func (s *Scheduler) ListRuns() ([]RunSummary, error) {
	return s.index.List()
}

// ReadLog returns log content from the given offset plus the next offset.
func (s *Scheduler) ReadLog(runID string, offset int64) ([]byte, int64, error) {
	return s.store.ReadLog(runID, offset)
}

// Prune removes old terminal run directories beyond the configured keep
// count and drops their index rows.
func (s *Scheduler) Prune() (int, error) {
	if s.cfg.KeepRuns <= 0 {
		return 0, nil
	}
	removed, err := s.store.PruneRuns(s.cfg.KeepRuns)
	if err != nil {
		return removed, err
	}
	if removed > 0 {
		if err := s.index.Rebuild(s.store); err != nil {
			return removed, err
		}
	}
	return removed, nil
}

// Close releases the index. Active runs keep executing; Close is for
// shutdown paths after WaitRun or at process exit.
func (s *Scheduler) Close() error {
	return s.index.Close()
}
