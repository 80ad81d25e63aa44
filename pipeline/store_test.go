// ABOUTME: Tests for the filesystem run store: layout, status snapshots, offset-based log reads.
// ABOUTME: Log reads must be idempotent at a fixed offset and monotonic across appends.
package pipeline

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newStoreWithRun(t *testing.T, runID string) (*RunStore, *RunRecord) {
	t.Helper()
	store, err := NewRunStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	flow := &Flow{Kind: FlowJitbit, Steps: []StepDescriptor{{Name: "export-tickets"}, {Name: "llm-process"}}}
	rec := NewRunRecord(runID, flow, Params{"start_id": 5000, "api_token": "secret"}, store.RunDir(runID))
	if err := store.CreateRun(rec); err != nil {
		t.Fatal(err)
	}
	return store, rec
}

func TestCreateRunLayout(t *testing.T) {
	store, rec := newStoreWithRun(t, "run1")

	runDir := store.RunDir(rec.RunID)
	for _, name := range []string{"params.json", "status.json", "run.log"} {
		if _, err := os.Stat(filepath.Join(runDir, name)); err != nil {
			t.Errorf("missing %s: %v", name, err)
		}
	}
	info, err := os.Stat(filepath.Join(runDir, "artifacts"))
	if err != nil || !info.IsDir() {
		t.Errorf("artifacts dir missing: %v", err)
	}

	// A second create for the same ID must fail.
	if err := store.CreateRun(rec); err == nil {
		t.Error("duplicate CreateRun succeeded")
	}
}

func TestParamsPersistedRedacted(t *testing.T) {
	store, rec := newStoreWithRun(t, "run1")

	got, err := store.GetStatus(rec.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Params["start_id"] == nil {
		t.Error("harmless param missing from snapshot")
	}
	if _, ok := got.Params["api_token"]; ok {
		t.Error("credential param persisted")
	}
}

func TestSaveAndGetStatus(t *testing.T) {
	store, rec := newStoreWithRun(t, "run1")

	now := time.Now()
	code := 0
	rec.OverallState = RunRunning
	rec.Steps[0].State = StepSuccess
	rec.Steps[0].StartedAt = &now
	rec.Steps[0].ExitCode = &code
	rec.Steps[0].ProducedArtifacts = []string{"JitBit_relevante_Tickets.json"}
	if err := store.SaveStatus(rec); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetStatus(rec.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if got.OverallState != RunRunning {
		t.Errorf("state = %v", got.OverallState)
	}
	if got.Steps[0].State != StepSuccess || got.Steps[0].ExitCode == nil || *got.Steps[0].ExitCode != 0 {
		t.Errorf("step[0] = %+v", got.Steps[0])
	}
	if len(got.Steps[0].ProducedArtifacts) != 1 {
		t.Errorf("artifacts = %v", got.Steps[0].ProducedArtifacts)
	}
}

func TestGetStatusUnknownRun(t *testing.T) {
	store, _ := newStoreWithRun(t, "run1")
	if _, err := store.GetStatus("nope"); err == nil {
		t.Fatal("expected error for unknown run")
	}
}

func TestReadLogOffsets(t *testing.T) {
	store, rec := newStoreWithRun(t, "run1")

	if err := store.AppendLog(rec.RunID, "line one\n"); err != nil {
		t.Fatal(err)
	}

	data, off1, err := store.ReadLog(rec.RunID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "line one\n" {
		t.Errorf("first read = %q", data)
	}

	// Idempotent: same offset, no new appends, identical result.
	again, offAgain, err := store.ReadLog(rec.RunID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if string(again) != "line one\n" || offAgain != off1 {
		t.Errorf("repeat read = %q offset %d, want %q offset %d", again, offAgain, data, off1)
	}

	// Reading at the end yields nothing and the same offset.
	empty, offEnd, err := store.ReadLog(rec.RunID, off1)
	if err != nil {
		t.Fatal(err)
	}
	if len(empty) != 0 || offEnd != off1 {
		t.Errorf("end read = %q offset %d", empty, offEnd)
	}

	// Monotonic: new content appears exactly once at the new offset.
	if err := store.AppendLog(rec.RunID, "line two\n"); err != nil {
		t.Fatal(err)
	}
	data, off2, err := store.ReadLog(rec.RunID, off1)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "line two\n" || off2 <= off1 {
		t.Errorf("incremental read = %q offset %d", data, off2)
	}

	// Negative offsets clamp to the start.
	all, _, err := store.ReadLog(rec.RunID, -5)
	if err != nil {
		t.Fatal(err)
	}
	if string(all) != "line one\nline two\n" {
		t.Errorf("clamped read = %q", all)
	}
}

func TestListRunIDsNewestFirst(t *testing.T) {
	store, err := NewRunStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	flow := &Flow{Kind: FlowJitbit, Steps: []StepDescriptor{{Name: "a"}}}
	var ids []string
	for i := 0; i < 3; i++ {
		id := NewRunID()
		ids = append(ids, id)
		rec := NewRunRecord(id, flow, nil, store.RunDir(id))
		if err := store.CreateRun(rec); err != nil {
			t.Fatal(err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	got, err := store.ListRunIDs()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("ids = %v", got)
	}
	// ULIDs sort by creation time, so newest first means reverse order.
	if got[0] != ids[2] || got[2] != ids[0] {
		t.Errorf("order = %v, created = %v", got, ids)
	}
}

func TestPruneRunsKeepsNonTerminal(t *testing.T) {
	store, err := NewRunStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	flow := &Flow{Kind: FlowJitbit, Steps: []StepDescriptor{{Name: "a"}}}

	var ids []string
	for i := 0; i < 4; i++ {
		id := NewRunID()
		ids = append(ids, id)
		rec := NewRunRecord(id, flow, nil, store.RunDir(id))
		if i == 0 {
			rec.OverallState = RunRunning // oldest run still in flight
		} else {
			rec.OverallState = RunSuccess
		}
		if err := store.CreateRun(rec); err != nil {
			t.Fatal(err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	removed, err := store.PruneRuns(2)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	// The running run survives even though it is beyond the keep count.
	if _, err := store.GetStatus(ids[0]); err != nil {
		t.Errorf("non-terminal run was pruned: %v", err)
	}
	if _, err := store.GetStatus(ids[1]); err == nil {
		t.Error("oldest terminal run was not pruned")
	}
}
