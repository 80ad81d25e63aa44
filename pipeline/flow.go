// ABOUTME: Flow Definition builders for the Jitbit and Jira workflow variants.
// ABOUTME: Validates request parameters, then assembles the immutable ordered step list.
package pipeline

import (
	"fmt"
	"path/filepath"
)

// FlowKind identifies a workflow variant, one per ticket source.
type FlowKind string

const (
	FlowJitbit FlowKind = "jitbit"
	FlowJira   FlowKind = "jira"
)

// JiraProjects are the Jira project keys accepted by the jira flow.
var JiraProjects = []string{"SUP", "TMS"}

// Output file names produced by the stage programs, relative to the run
// directory.
const (
	fileJitbitExport      = "JitBit_relevante_Tickets.json"
	fileJitbitKBExport    = "JitBit_Knowledgebase.json"
	fileJitbitLLMOutput   = "Ticket_Data_Jitbit.json"
	fileJitbitNotRelevant = "Not_Relevant_Jitbit.json"
	fileJitbitDocxDir     = "documents/jitbit"
	fileJitbitKBDocx      = "documents/jitbit/Knowledgebase.docx"

	fileJiraExport      = "JIRA_relevante_Tickets.json"
	fileJiraLLMOutput   = "Ticket_Data_Jira.json"
	fileJiraNotRelevant = "Not_Relevant_Jira.json"
	fileJiraDedupOutput = "tickets_dedup_Jira.json"
	fileJiraDedupGroups = "duplicate_groups_Jira.json"
	fileJiraDedupReview = "needs_review_Jira.csv"
	fileJiraDocxDir     = "documents/jira"
)

// RunOptions are the per-run execution flags. Overwrite takes precedence over
// SkipExisting; Append is only honored by steps that support it.
type RunOptions struct {
	SkipExisting bool `json:"skip_existing"`
	Overwrite    bool `json:"overwrite"`
	Append       bool `json:"append"`
	SkipDedup    bool `json:"skip_dedup"`
}

// DefaultRunOptions mirrors the historical defaults: skip steps whose valid
// outputs already exist, never overwrite or append.
func DefaultRunOptions() RunOptions {
	return RunOptions{SkipExisting: true}
}

// Flow is the immutable ordered list of step descriptors for one workflow
// variant, built once from validated request parameters.
type Flow struct {
	Kind      FlowKind
	Steps     []StepDescriptor
	EnvChecks []PreflightCheck
}

// BuildFlow validates params for the given kind and assembles the flow.
// Parameter problems are reported as *ValidationError.
func BuildFlow(kind FlowKind, params Params, opts RunOptions, cfg *Config) (*Flow, error) {
	switch kind {
	case FlowJitbit:
		return buildJitbitFlow(params, cfg)
	case FlowJira:
		return buildJiraFlow(params, opts, cfg)
	default:
		return nil, &ValidationError{Param: "flow", Reason: fmt.Sprintf("unknown flow kind %q", kind)}
	}
}

func (c *Config) scriptPath(name string) string {
	return filepath.Join(c.ScriptsDir, name)
}

func buildJitbitFlow(params Params, cfg *Config) (*Flow, error) {
	if _, ok := params["start_id"]; !ok {
		return nil, &ValidationError{Param: "start_id", Reason: "required for the jitbit flow"}
	}

	steps := []StepDescriptor{
		{
			Name:    "export-tickets",
			Command: cfg.Interpreter,
			Args: []string{
				cfg.scriptPath(cfg.Scripts.JitbitExport),
				"--start-id", "{start_id}",
				"--yes",
			},
			DeclaredOutputs: []string{fileJitbitExport},
		},
		{
			Name:    "export-kb",
			Command: cfg.Interpreter,
			Args: []string{
				cfg.scriptPath(cfg.Scripts.JitbitKBExport),
				"--out", fileJitbitKBExport,
				"--yes",
			},
			DeclaredOutputs: []string{fileJitbitKBExport},
		},
		{
			Name:    "llm-process",
			Command: cfg.Interpreter,
			Args: []string{
				cfg.scriptPath(cfg.Scripts.LLMProcess),
				"--input", fileJitbitExport,
				"--output", fileJitbitLLMOutput,
				"--not-relevant-out", fileJitbitNotRelevant,
			},
			OptionalArgs: []OptionalArg{
				{Flag: "--limit", Param: "llm_limit"},
				{Flag: "--max-calls", Param: "llm_max_calls"},
				{Flag: "--save-interval", Param: "llm_save_interval"},
				{Flag: "--newest-first", Param: "newest_first", Boolean: true},
			},
			RequiredInputs:  []string{fileJitbitExport},
			DeclaredOutputs: []string{fileJitbitLLMOutput, fileJitbitNotRelevant},
			SupportsAppend:  true,
		},
		{
			Name:    "tickets-to-docx",
			Command: cfg.Interpreter,
			Args: []string{
				cfg.scriptPath(cfg.Scripts.TicketsToDocx),
				"--input", fileJitbitLLMOutput,
				"--output-dir", fileJitbitDocxDir,
				"--verbose", "true",
			},
			RequiredInputs:  []string{fileJitbitLLMOutput},
			DeclaredOutputs: []string{fileJitbitDocxDir},
		},
		{
			Name:    "kb-to-docx",
			Command: cfg.Interpreter,
			Args: []string{
				cfg.scriptPath(cfg.Scripts.KBToDocx),
				"--input", fileJitbitKBExport,
				"--output", fileJitbitKBDocx,
			},
			RequiredInputs:  []string{fileJitbitKBExport},
			DeclaredOutputs: []string{fileJitbitKBDocx},
		},
	}

	return &Flow{
		Kind:      FlowJitbit,
		Steps:     steps,
		EnvChecks: append(jitbitEnvChecks(), llmEnvChecks()...),
	}, nil
}

func buildJiraFlow(params Params, opts RunOptions, cfg *Config) (*Flow, error) {
	if _, ok := params["resolved_after"]; !ok {
		return nil, &ValidationError{Param: "resolved_after", Reason: "required for the jira flow"}
	}

	project := "SUP"
	if v, ok := params["project"]; ok {
		s, isString := v.(string)
		if !isString {
			return nil, &ValidationError{Param: "project", Reason: "must be a string"}
		}
		if !validJiraProject(s) {
			return nil, &ValidationError{Param: "project", Reason: fmt.Sprintf("must be one of %v", JiraProjects)}
		}
		project = s
	}
	// The export step builds the JQL from the project key.
	params["project"] = project
	params["jql"] = fmt.Sprintf("project=%s order by resolutiondate DESC", project)

	steps := []StepDescriptor{
		{
			Name:    "export-tickets",
			Command: cfg.Interpreter,
			Args: []string{
				cfg.scriptPath(cfg.Scripts.JiraExport),
				"--jql", "{jql}",
				"--resolved-only",
				"--resolved-after", "{resolved_after}",
				"--export", fileJiraExport,
			},
			OptionalArgs: []OptionalArg{
				{Flag: "--resolved-before", Param: "resolved_before"},
				{Flag: "--limit", Param: "jira_limit"},
				{Flag: "--progress", Param: "progress", Boolean: true},
			},
			DeclaredOutputs: []string{fileJiraExport},
			SupportsAppend:  true,
		},
		{
			Name:    "llm-process",
			Command: cfg.Interpreter,
			Args: []string{
				cfg.scriptPath(cfg.Scripts.LLMProcess),
				"--input", fileJiraExport,
				"--output", fileJiraLLMOutput,
				"--not-relevant-out", fileJiraNotRelevant,
			},
			OptionalArgs: []OptionalArg{
				{Flag: "--limit", Param: "llm_limit"},
				{Flag: "--max-calls", Param: "llm_max_calls"},
			},
			RequiredInputs:  []string{fileJiraExport},
			DeclaredOutputs: []string{fileJiraLLMOutput, fileJiraNotRelevant},
			SupportsAppend:  true,
		},
	}

	// The render step consumes the deduplicated output when the dedup stage
	// is part of the flow, and the raw LLM output otherwise.
	renderInput := fileJiraDedupOutput
	if opts.SkipDedup {
		renderInput = fileJiraLLMOutput
	} else {
		steps = append(steps, StepDescriptor{
			Name:    "deduplicate",
			Command: cfg.Interpreter,
			Args: []string{
				cfg.scriptPath(cfg.Scripts.Dedup),
				"--input", fileJiraLLMOutput,
				"--out", fileJiraDedupOutput,
				"--groups-out", fileJiraDedupGroups,
				"--review-out", fileJiraDedupReview,
			},
			OptionalArgs: []OptionalArg{
				{Flag: "--threshold", Param: "dedup_threshold"},
				{Flag: "--threshold-low", Param: "dedup_threshold_low"},
			},
			RequiredInputs:  []string{fileJiraLLMOutput},
			DeclaredOutputs: []string{fileJiraDedupOutput, fileJiraDedupGroups, fileJiraDedupReview},
		})
	}

	steps = append(steps, StepDescriptor{
		Name:    "tickets-to-docx",
		Command: cfg.Interpreter,
		Args: []string{
			cfg.scriptPath(cfg.Scripts.TicketsToDocx),
			"--input", renderInput,
			"--output-dir", fileJiraDocxDir,
			"--verbose", "true",
		},
		RequiredInputs:  []string{renderInput},
		DeclaredOutputs: []string{fileJiraDocxDir},
	})

	return &Flow{
		Kind:      FlowJira,
		Steps:     steps,
		EnvChecks: append(jiraEnvChecks(), llmEnvChecks()...),
	}, nil
}

func validJiraProject(p string) bool {
	for _, v := range JiraProjects {
		if v == p {
			return true
		}
	}
	return false
}
