// ABOUTME: CLI entrypoint for the ticketflow orchestration engine.
// ABOUTME: Subcommands submit and supervise runs, serve the HTTP API, and inspect run history.
package main

import (
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/2389-research/ticketflow/pipeline"
)

var version = "dev"

// Exit codes for the submit surface: distinct values for parameter
// validation problems and admission rejection so callers can react
// differently.
const (
	exitOK        = 0
	exitRunFailed = 1
	exitBadParams = 2
	exitRejected  = 3
)

func main() {
	loadDotEnv(".env")
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		printUsage(os.Stderr)
		return exitBadParams
	}

	switch args[0] {
	case "run-jitbit":
		return cmdRunJitbit(args[1:])
	case "run-jira":
		return cmdRunJira(args[1:])
	case "serve":
		return cmdServe(args[1:])
	case "env-check":
		return cmdEnvCheck(args[1:])
	case "list-runs":
		return cmdListRuns(args[1:])
	case "status":
		return cmdStatus(args[1:])
	case "tail-log":
		return cmdTailLog(args[1:])
	case "version", "-version", "--version":
		fmt.Printf("ticketflow %s\n", version)
		return exitOK
	case "help", "-h", "-help", "--help":
		printUsage(os.Stdout)
		return exitOK
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", args[0])
		printUsage(os.Stderr)
		return exitBadParams
	}
}

func printUsage(w *os.File) {
	fmt.Fprintf(w, `ticketflow %s - ticket processing pipeline orchestrator

Usage:
  ticketflow run-jitbit --start-id N [options]   run the Jitbit workflow
  ticketflow run-jira --resolved-after DATE [options]
                                                 run the Jira workflow
  ticketflow serve [--host H] [--port P]         start the HTTP API
  ticketflow env-check [--flow KIND]             validate environment variables
  ticketflow list-runs                           list known runs
  ticketflow status RUN_ID                       show a run's status
  ticketflow tail-log RUN_ID [--offset N] [--follow]
                                                 read a run's log
  ticketflow version                             print version

Common options:
  --config PATH    engine config file (default ticketflow.yaml)

Exit codes: 0 success, 1 run failed, 2 invalid parameters, 3 admission rejected.
`, version)
}

// commonFlags registers flags shared by every subcommand.
func commonFlags(fs *flag.FlagSet) *string {
	return fs.String("config", "ticketflow.yaml", "engine config file")
}

// runFlags registers the execution flags shared by run-jitbit and run-jira.
func runFlags(fs *flag.FlagSet, opts *pipeline.RunOptions) {
	fs.BoolVar(&opts.SkipExisting, "skip-existing", true, "skip steps whose valid outputs already exist")
	fs.BoolVar(&opts.Overwrite, "overwrite", false, "force every step to run, overwriting outputs")
	fs.BoolVar(&opts.Append, "append", false, "append to existing outputs where supported")
}

func cmdRunJitbit(args []string) int {
	fs := flag.NewFlagSet("run-jitbit", flag.ExitOnError)
	configPath := commonFlags(fs)
	startID := fs.Int("start-id", 0, "starting ticket ID for the export (required)")
	llmLimit := fs.Int("llm-limit", 0, "limit number of tickets for LLM processing")
	llmMaxCalls := fs.Int("llm-max-calls", 0, "maximum LLM API calls")
	llmSaveInterval := fs.Int("llm-save-interval", 50, "save interval for LLM processing")
	newestFirst := fs.Bool("newest-first", false, "process newest tickets first")
	opts := pipeline.DefaultRunOptions()
	runFlags(fs, &opts)
	fs.Parse(args)

	if *startID <= 0 {
		fmt.Fprintln(os.Stderr, "error: --start-id is required and must be positive")
		return exitBadParams
	}

	params := pipeline.Params{
		"start_id":          *startID,
		"llm_save_interval": *llmSaveInterval,
	}
	if *llmLimit > 0 {
		params["llm_limit"] = *llmLimit
	}
	if *llmMaxCalls > 0 {
		params["llm_max_calls"] = *llmMaxCalls
	}
	if *newestFirst {
		params["newest_first"] = true
	}

	return submitAndWait(*configPath, pipeline.FlowJitbit, params, opts)
}

func cmdRunJira(args []string) int {
	fs := flag.NewFlagSet("run-jira", flag.ExitOnError)
	configPath := commonFlags(fs)
	project := fs.String("project", "SUP", fmt.Sprintf("Jira project (%s)", strings.Join(pipeline.JiraProjects, "/")))
	resolvedAfter := fs.String("resolved-after", "", "resolved after date, YYYY-MM-DD or YYYYMMDD (required)")
	resolvedBefore := fs.String("resolved-before", "", "resolved before date")
	jiraLimit := fs.Int("jira-limit", 0, "limit number of tickets to export")
	llmLimit := fs.Int("llm-limit", 0, "limit number of tickets for LLM processing")
	llmMaxCalls := fs.Int("llm-max-calls", 0, "maximum LLM API calls")
	dedupThreshold := fs.Float64("dedup-threshold", 0.84, "deduplication similarity threshold")
	dedupThresholdLow := fs.Float64("dedup-threshold-low", 0.78, "lower bound of the needs-review zone")
	progress := fs.Bool("progress", false, "show detailed progress during the export")
	opts := pipeline.DefaultRunOptions()
	fs.BoolVar(&opts.SkipDedup, "skip-dedup", false, "skip the deduplication stage")
	runFlags(fs, &opts)
	fs.Parse(args)

	if *resolvedAfter == "" {
		fmt.Fprintln(os.Stderr, "error: --resolved-after is required")
		return exitBadParams
	}

	params := pipeline.Params{
		"project":             *project,
		"resolved_after":      *resolvedAfter,
		"dedup_threshold":     *dedupThreshold,
		"dedup_threshold_low": *dedupThresholdLow,
	}
	if *resolvedBefore != "" {
		params["resolved_before"] = *resolvedBefore
	}
	if *jiraLimit > 0 {
		params["jira_limit"] = *jiraLimit
	}
	if *llmLimit > 0 {
		params["llm_limit"] = *llmLimit
	}
	if *llmMaxCalls > 0 {
		params["llm_max_calls"] = *llmMaxCalls
	}
	if *progress {
		params["progress"] = true
	}

	return submitAndWait(*configPath, pipeline.FlowJira, params, opts)
}

// submitAndWait runs a flow synchronously: submit, stream the run log to
// stdout while it executes, then report the terminal state.
func submitAndWait(configPath string, kind pipeline.FlowKind, params pipeline.Params, opts pipeline.RunOptions) int {
	cfg, err := pipeline.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitRunFailed
	}

	flow, err := pipeline.BuildFlow(kind, params, opts, cfg)
	if err != nil {
		var valErr *pipeline.ValidationError
		if errors.As(err, &valErr) {
			fmt.Fprintf(os.Stderr, "error: %v\n", valErr)
			return exitBadParams
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitRunFailed
	}

	sched, err := pipeline.NewScheduler(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitRunFailed
	}
	defer sched.Close()

	runID, err := sched.Submit(flow, params, opts)
	if err != nil {
		if errors.Is(err, pipeline.ErrAdmissionRejected) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return exitRejected
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitRunFailed
	}

	fmt.Printf("run %s started (%s flow)\n", runID, kind)
	streamLogUntilDone(sched, runID)

	rec, err := sched.Status(runID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitRunFailed
	}
	if rec.OverallState == pipeline.RunSuccess {
		fmt.Printf("run %s completed successfully\n", runID)
		fmt.Printf("run directory: %s\n", rec.RunDir)
		return exitOK
	}
	fmt.Fprintf(os.Stderr, "run %s failed: %s\n", runID, rec.Error)
	fmt.Fprintf(os.Stderr, "run directory: %s\n", rec.RunDir)
	return exitRunFailed
}

// streamLogUntilDone copies new log content to stdout until the run reaches
// a terminal state, then drains the remainder.
func streamLogUntilDone(sched *pipeline.Scheduler, runID string) {
	done := make(chan struct{})
	go func() {
		sched.WaitRun(runID)
		close(done)
	}()

	var offset int64
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		data, newOffset, err := sched.ReadLog(runID, offset)
		if err == nil && len(data) > 0 {
			os.Stdout.Write(data)
			offset = newOffset
		}
		select {
		case <-done:
			// Final drain after the run finished.
			if data, _, err := sched.ReadLog(runID, offset); err == nil && len(data) > 0 {
				os.Stdout.Write(data)
			}
			return
		case <-ticker.C:
		}
	}
}

func cmdServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := commonFlags(fs)
	host := fs.String("host", "127.0.0.1", "host to bind")
	port := fs.Int("port", 8787, "port to bind")
	fs.Parse(args)

	cfg, err := pipeline.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitRunFailed
	}
	sched, err := pipeline.NewScheduler(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitRunFailed
	}
	defer sched.Close()

	// Reclaim disk from old terminal runs before accepting new work.
	if removed, err := sched.Prune(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: prune old runs: %v\n", err)
	} else if removed > 0 {
		fmt.Printf("pruned %d old run(s)\n", removed)
	}

	addr := fmt.Sprintf("%s:%d", *host, *port)
	fmt.Printf("ticketflow %s serving on http://%s\n", version, addr)
	if err := http.ListenAndServe(addr, pipeline.NewServer(sched)); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitRunFailed
	}
	return exitOK
}

func cmdEnvCheck(args []string) int {
	fs := flag.NewFlagSet("env-check", flag.ExitOnError)
	flowName := fs.String("flow", "", "flow to check (jitbit or jira); empty checks both")
	fs.Parse(args)

	kinds := []pipeline.FlowKind{pipeline.FlowJitbit, pipeline.FlowJira}
	if *flowName != "" {
		kinds = []pipeline.FlowKind{pipeline.FlowKind(*flowName)}
	}

	ok := true
	for _, kind := range kinds {
		checks, err := pipeline.EnvChecksForFlow(kind)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return exitBadParams
		}
		result := pipeline.RunPreflight(checks)
		fmt.Printf("%s flow:\n", kind)
		for _, name := range result.Passed {
			fmt.Printf("  ok   %s\n", name)
		}
		for _, f := range result.Failed {
			fmt.Printf("  FAIL %s: %s\n", f.Name, f.Reason)
			ok = false
		}
	}
	if !ok {
		return exitRunFailed
	}
	fmt.Println("all checks passed")
	return exitOK
}

func cmdListRuns(args []string) int {
	fs := flag.NewFlagSet("list-runs", flag.ExitOnError)
	configPath := commonFlags(fs)
	fs.Parse(args)

	cfg, err := pipeline.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitRunFailed
	}
	sched, err := pipeline.NewScheduler(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitRunFailed
	}
	defer sched.Close()

	runs, err := sched.ListRuns()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitRunFailed
	}
	if len(runs) == 0 {
		fmt.Println("no runs")
		return exitOK
	}
	for _, r := range runs {
		fmt.Printf("%s  %-7s %-8s %d/%d steps  %s\n",
			r.RunID, r.FlowKind, r.OverallState, r.StepsDone, r.StepsTotal,
			r.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return exitOK
}

func cmdStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := commonFlags(fs)
	fs.Parse(args)
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: ticketflow status RUN_ID")
		return exitBadParams
	}
	runID := fs.Arg(0)

	cfg, err := pipeline.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitRunFailed
	}
	store, err := pipeline.NewRunStore(cfg.RunsDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitRunFailed
	}
	rec, err := store.GetStatus(runID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitRunFailed
	}

	fmt.Printf("run %s (%s flow): %s\n", rec.RunID, rec.FlowKind, rec.OverallState)
	if rec.Error != "" {
		fmt.Printf("error: %s\n", rec.Error)
	}
	for _, s := range rec.Steps {
		line := fmt.Sprintf("  %-20s %s", s.Name, s.State)
		if s.ExitCode != nil {
			line += fmt.Sprintf(" (exit %d)", *s.ExitCode)
		}
		if s.TimedOut {
			line += " (timed out)"
		}
		if s.ErrorSummary != "" {
			line += " - " + s.ErrorSummary
		}
		fmt.Println(line)
	}
	return exitOK
}

func cmdTailLog(args []string) int {
	fs := flag.NewFlagSet("tail-log", flag.ExitOnError)
	configPath := commonFlags(fs)
	offset := fs.Int64("offset", 0, "byte offset to read from")
	follow := fs.Bool("follow", false, "keep polling for new content")
	fs.Parse(args)
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: ticketflow tail-log RUN_ID [--offset N] [--follow]")
		return exitBadParams
	}
	runID := fs.Arg(0)

	cfg, err := pipeline.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitRunFailed
	}
	store, err := pipeline.NewRunStore(cfg.RunsDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitRunFailed
	}

	pos := *offset
	for {
		data, newOffset, err := store.ReadLog(runID, pos)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return exitRunFailed
		}
		if len(data) > 0 {
			os.Stdout.Write(data)
			pos = newOffset
		}
		if !*follow {
			return exitOK
		}
		rec, err := store.GetStatus(runID)
		if err == nil && rec.OverallState.Terminal() && len(data) == 0 {
			return exitOK
		}
		time.Sleep(500 * time.Millisecond)
	}
}
