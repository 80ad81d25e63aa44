// ABOUTME: Step Executor: launches one external stage program as an isolated child process.
// ABOUTME: Streams merged stdout/stderr line-by-line, enforces a wall-clock timeout, kills the process group.
package pipeline

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// StepOutcome is the terminal result of one external program invocation.
// TimedOut is reported distinctly from a non-zero exit code: both are
// failures, but they carry different diagnostics.
type StepOutcome struct {
	ExitCode int
	TimedOut bool
	Duration time.Duration
}

// StepExecutor runs external stage programs with a per-step timeout.
type StepExecutor struct {
	Timeout time.Duration
}

// maxLogLineBytes bounds the scanner buffer for a single output line.
const maxLogLineBytes = 1024 * 1024

// killGracePeriod is how long a terminated process group gets between
// SIGTERM and SIGKILL.
const killGracePeriod = 2 * time.Second

// Execute launches argv with the run directory as working directory and its
// own process group. Every line of merged stdout/stderr is forwarded to
// onLine as produced; this is the only channel through which the opaque
// program's progress becomes visible. On timeout or context cancellation the
// whole process tree is terminated.
func (e *StepExecutor) Execute(ctx context.Context, argv []string, runDir string, onLine func(string)) (*StepOutcome, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = runDir
	// Own process group so the entire tree can be killed on timeout.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	// Merge stdout and stderr into a single pipe so interleaving matches
	// what the program actually emitted.
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("create output pipe: %w", err)
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	start := time.Now()
	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return nil, fmt.Errorf("start %q: %w", argv[0], err)
	}
	// The child holds its own copy of the write end; close ours so the
	// reader sees EOF when the process tree exits.
	pw.Close()

	streamDone := make(chan struct{})
	go func() {
		defer close(streamDone)
		defer pr.Close()
		scanner := bufio.NewScanner(pr)
		scanner.Buffer(make([]byte, 64*1024), maxLogLineBytes)
		for scanner.Scan() {
			if onLine != nil {
				onLine(scanner.Text())
			}
		}
	}()

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	timeout := e.Timeout
	if timeout <= 0 {
		timeout = time.Hour
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var waitErr error
	timedOut := false
	select {
	case waitErr = <-waitCh:
	case <-timer.C:
		timedOut = true
		terminateProcessGroup(cmd.Process)
		waitErr = <-waitCh
	case <-ctx.Done():
		timedOut = true
		terminateProcessGroup(cmd.Process)
		waitErr = <-waitCh
	}

	// Drain remaining output before reporting the outcome so the log holds
	// everything the program managed to write.
	<-streamDone

	exitCode := 0
	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	return &StepOutcome{
		ExitCode: exitCode,
		TimedOut: timedOut,
		Duration: time.Since(start),
	}, nil
}

// terminateProcessGroup sends SIGTERM to the process group, escalating to
// SIGKILL after a grace period in case the group ignores the first signal.
func terminateProcessGroup(p *os.Process) {
	if p == nil {
		return
	}
	pgid, err := syscall.Getpgid(p.Pid)
	if err != nil {
		_ = p.Kill()
		return
	}
	_ = syscall.Kill(-pgid, syscall.SIGTERM)
	time.AfterFunc(killGracePeriod, func() {
		_ = syscall.Kill(-pgid, syscall.SIGKILL)
	})
}
