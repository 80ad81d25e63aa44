// ABOUTME: Tests for the step executor: exit codes, output streaming, timeout kills.
// ABOUTME: Stage programs are simulated with /bin/sh one-liners.
package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestExecuteSuccess(t *testing.T) {
	dir := t.TempDir()
	e := &StepExecutor{Timeout: 10 * time.Second}

	var lines []string
	outcome, err := e.Execute(context.Background(),
		[]string{"/bin/sh", "-c", "echo hello; echo world 1>&2"},
		dir, func(l string) { lines = append(lines, l) })
	if err != nil {
		t.Fatal(err)
	}
	if outcome.ExitCode != 0 || outcome.TimedOut {
		t.Errorf("outcome = %+v", outcome)
	}
	// Both streams arrive through the same channel.
	if len(lines) != 2 {
		t.Errorf("lines = %v", lines)
	}
}

func TestExecuteRunsInRunDir(t *testing.T) {
	dir := t.TempDir()
	e := &StepExecutor{Timeout: 10 * time.Second}

	outcome, err := e.Execute(context.Background(),
		[]string{"/bin/sh", "-c", "printf '{}' > out.json"},
		dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	if outcome.ExitCode != 0 {
		t.Fatalf("exit = %d", outcome.ExitCode)
	}
	if _, err := os.Stat(filepath.Join(dir, "out.json")); err != nil {
		t.Errorf("output not written relative to run dir: %v", err)
	}
}

func TestExecuteNonZeroExit(t *testing.T) {
	e := &StepExecutor{Timeout: 10 * time.Second}
	outcome, err := e.Execute(context.Background(),
		[]string{"/bin/sh", "-c", "echo failing; exit 3"},
		t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if outcome.ExitCode != 3 || outcome.TimedOut {
		t.Errorf("outcome = %+v", outcome)
	}
}

func TestExecuteTimeout(t *testing.T) {
	e := &StepExecutor{Timeout: 200 * time.Millisecond}
	start := time.Now()
	outcome, err := e.Execute(context.Background(),
		[]string{"/bin/sh", "-c", "sleep 30"},
		t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if !outcome.TimedOut {
		t.Fatal("expected timeout")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("kill took too long: %v", elapsed)
	}
}

func TestExecuteContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	e := &StepExecutor{Timeout: time.Minute}
	outcome, err := e.Execute(ctx, []string{"/bin/sh", "-c", "sleep 30"}, t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if !outcome.TimedOut {
		t.Fatal("cancellation must report as timed out termination")
	}
}

func TestExecuteLaunchFailure(t *testing.T) {
	e := &StepExecutor{Timeout: time.Second}
	if _, err := e.Execute(context.Background(), []string{"/no/such/binary"}, t.TempDir(), nil); err == nil {
		t.Fatal("expected launch error")
	}
	if _, err := e.Execute(context.Background(), nil, t.TempDir(), nil); err == nil {
		t.Fatal("expected error for empty command")
	}
}
