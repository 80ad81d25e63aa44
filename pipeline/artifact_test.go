// ABOUTME: Tests for artifact validation and collection.
// ABOUTME: Covers missing, empty, malformed-JSON, and directory artifact cases.
package pipeline

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestValidateArtifactMissing(t *testing.T) {
	dir := t.TempDir()
	if err := ValidateArtifact(filepath.Join(dir, "nope.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidateArtifactEmptyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.txt")
	writeFile(t, path, "")
	if err := ValidateArtifact(path); err == nil {
		t.Fatal("expected error for empty file")
	}
}

func TestValidateArtifactInvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.json")
	writeFile(t, path, `{"tickets": [`)
	if err := ValidateArtifact(path); err == nil {
		t.Fatal("expected error for truncated JSON")
	}
}

func TestValidateArtifactValidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ok.json")
	writeFile(t, path, `{"tickets": []}`)
	if err := ValidateArtifact(path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateArtifactNonJSONFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.csv")
	writeFile(t, path, "id,summary\n1,hello\n")
	if err := ValidateArtifact(path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateArtifactDirectory(t *testing.T) {
	dir := t.TempDir()

	empty := filepath.Join(dir, "empty")
	if err := os.MkdirAll(empty, 0755); err != nil {
		t.Fatal(err)
	}
	if err := ValidateArtifact(empty); err == nil {
		t.Fatal("expected error for empty directory")
	}

	full := filepath.Join(dir, "full")
	writeFile(t, filepath.Join(full, "doc.docx"), "content")
	if err := ValidateArtifact(full); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateOutputsFirstFailure(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.json"), `{}`)

	err := ValidateOutputs(dir, []string{"a.json", "b.json"})
	if err == nil {
		t.Fatal("expected error for missing second output")
	}
}

func TestCollectArtifacts(t *testing.T) {
	runDir := t.TempDir()
	writeFile(t, filepath.Join(runDir, "out.json"), `{"n": 1}`)
	writeFile(t, filepath.Join(runDir, "documents/jira/t1.docx"), "doc")

	collected, err := CollectArtifacts(runDir, []string{"out.json", "documents/jira", "missing.json"})
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(collected) != 2 {
		t.Fatalf("collected = %v, want 2 entries", collected)
	}

	if _, err := os.Stat(filepath.Join(runDir, "artifacts", "out.json")); err != nil {
		t.Errorf("copied file missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(runDir, "artifacts", "jira", "t1.docx")); err != nil {
		t.Errorf("copied dir content missing: %v", err)
	}
}
