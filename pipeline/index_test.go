// ABOUTME: Tests for the SQLite run index: upsert, listing order, delete, rebuild.
// ABOUTME: The index is a projection; rebuilding from the store must reproduce it.
package pipeline

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestIndex(t *testing.T) *RunIndex {
	t.Helper()
	idx, err := OpenRunIndex(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { idx.Close() })
	return idx
}

func indexRecord(id string, state RunState) *RunRecord {
	flow := &Flow{Kind: FlowJira, Steps: []StepDescriptor{{Name: "a"}, {Name: "b"}}}
	rec := NewRunRecord(id, flow, nil, "")
	rec.OverallState = state
	return rec
}

func TestIndexUpsertAndList(t *testing.T) {
	idx := newTestIndex(t)

	first := NewRunID()
	time.Sleep(2 * time.Millisecond)
	second := NewRunID()

	if err := idx.Upsert(indexRecord(first, RunRunning)); err != nil {
		t.Fatal(err)
	}
	if err := idx.Upsert(indexRecord(second, RunRunning)); err != nil {
		t.Fatal(err)
	}

	runs, err := idx.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Fatalf("runs = %v", runs)
	}
	if runs[0].RunID != second {
		t.Errorf("listing not newest first: %v", runs)
	}

	// Upsert of the same run updates in place.
	rec := indexRecord(first, RunSuccess)
	rec.Steps[0].State = StepSuccess
	rec.Steps[1].State = StepSkipped
	if err := idx.Upsert(rec); err != nil {
		t.Fatal(err)
	}
	runs, err = idx.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Fatalf("upsert duplicated a row: %v", runs)
	}
	var updated RunSummary
	for _, r := range runs {
		if r.RunID == first {
			updated = r
		}
	}
	if updated.OverallState != RunSuccess || updated.StepsDone != 2 {
		t.Errorf("updated row = %+v", updated)
	}
}

func TestIndexDelete(t *testing.T) {
	idx := newTestIndex(t)
	id := NewRunID()
	if err := idx.Upsert(indexRecord(id, RunSuccess)); err != nil {
		t.Fatal(err)
	}
	if err := idx.Delete(id); err != nil {
		t.Fatal(err)
	}
	runs, err := idx.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 0 {
		t.Errorf("runs = %v, want empty", runs)
	}
}

func TestIndexRebuildFromStore(t *testing.T) {
	store, err := NewRunStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	flow := &Flow{Kind: FlowJitbit, Steps: []StepDescriptor{{Name: "a"}}}
	var ids []string
	for i := 0; i < 2; i++ {
		id := NewRunID()
		ids = append(ids, id)
		rec := NewRunRecord(id, flow, nil, store.RunDir(id))
		rec.OverallState = RunSuccess
		if err := store.CreateRun(rec); err != nil {
			t.Fatal(err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	idx := newTestIndex(t)
	// Seed a stale row that the rebuild must discard.
	if err := idx.Upsert(indexRecord("00000000000000000000000000", RunFailed)); err != nil {
		t.Fatal(err)
	}

	if err := idx.Rebuild(store); err != nil {
		t.Fatal(err)
	}
	runs, err := idx.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Fatalf("runs = %v, want the 2 on-disk runs", runs)
	}
	if runs[0].RunID != ids[1] || runs[1].RunID != ids[0] {
		t.Errorf("rebuild order = %v, created = %v", runs, ids)
	}
}
