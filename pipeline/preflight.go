// ABOUTME: Pre-execution environment validation, run before a flow's first step.
// ABOUTME: Every check runs regardless of earlier failures so the caller sees the full picture.
package pipeline

import (
	"fmt"
	"net/url"
	"os"
	"strings"
)

// PreflightCheck is a single validation check run before any step executes.
type PreflightCheck struct {
	Name  string
	Check func() error
}

// PreflightResult aggregates the outcome of all checks.
type PreflightResult struct {
	Passed []string
	Failed []PreflightFailure
}

// PreflightFailure records one failed check with its reason.
type PreflightFailure struct {
	Name   string
	Reason string
}

// OK reports whether every check passed.
func (r PreflightResult) OK() bool {
	return len(r.Failed) == 0
}

// Error formats all failures as a multi-line string, empty when all passed.
func (r PreflightResult) Error() string {
	if len(r.Failed) == 0 {
		return ""
	}
	lines := make([]string, 0, len(r.Failed)+1)
	lines = append(lines, fmt.Sprintf("environment validation: %d check(s) failed:", len(r.Failed)))
	for _, f := range r.Failed {
		lines = append(lines, fmt.Sprintf("  - %s: %s", f.Name, f.Reason))
	}
	return strings.Join(lines, "\n")
}

// RunPreflight executes all checks and collects results.
func RunPreflight(checks []PreflightCheck) PreflightResult {
	result := PreflightResult{
		Passed: make([]string, 0, len(checks)),
		Failed: make([]PreflightFailure, 0),
	}
	for _, c := range checks {
		if err := c.Check(); err != nil {
			result.Failed = append(result.Failed, PreflightFailure{Name: c.Name, Reason: err.Error()})
		} else {
			result.Passed = append(result.Passed, c.Name)
		}
	}
	return result
}

// envCheck requires a non-empty environment variable.
func envCheck(name string) PreflightCheck {
	return PreflightCheck{
		Name: "env:" + name,
		Check: func() error {
			if strings.TrimSpace(os.Getenv(name)) == "" {
				return fmt.Errorf("required environment variable %s is not set", name)
			}
			return nil
		},
	}
}

// envURLCheck requires the variable to be set and parse as an http(s) URL.
func envURLCheck(name string) PreflightCheck {
	return PreflightCheck{
		Name: "env:" + name,
		Check: func() error {
			v := strings.TrimSpace(os.Getenv(name))
			if v == "" {
				return fmt.Errorf("required environment variable %s is not set", name)
			}
			u, err := url.Parse(v)
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				return fmt.Errorf("%s must be an http(s) URL, got %q", name, v)
			}
			return nil
		},
	}
}

// envEmailCheck requires the variable to look like an email address.
func envEmailCheck(name string) PreflightCheck {
	return PreflightCheck{
		Name: "env:" + name,
		Check: func() error {
			v := strings.TrimSpace(os.Getenv(name))
			if v == "" {
				return fmt.Errorf("required environment variable %s is not set", name)
			}
			at := strings.Index(v, "@")
			if at <= 0 || at == len(v)-1 {
				return fmt.Errorf("%s must be an email address, got %q", name, v)
			}
			return nil
		},
	}
}

// jitbitEnvChecks covers the ticket-export credentials for the jitbit flow.
func jitbitEnvChecks() []PreflightCheck {
	return []PreflightCheck{
		envCheck("JITBIT_API_TOKEN"),
		envURLCheck("JITBIT_BASE_URL"),
	}
}

// jiraEnvChecks covers the ticket-export credentials for the jira flow.
func jiraEnvChecks() []PreflightCheck {
	return []PreflightCheck{
		envEmailCheck("JIRA_EMAIL"),
		envCheck("JIRA_API_TOKEN"),
	}
}

// llmEnvChecks covers the summarization stage's provider credentials.
func llmEnvChecks() []PreflightCheck {
	return []PreflightCheck{
		envCheck("SCW_SECRET_KEY"),
		envURLCheck("SCW_OPENAI_BASE_URL"),
		envCheck("LLM_MODEL"),
	}
}

// EnvChecksForFlow returns the full set of environment checks for a flow
// kind, for use by the env-check command and the HTTP surface.
func EnvChecksForFlow(kind FlowKind) ([]PreflightCheck, error) {
	switch kind {
	case FlowJitbit:
		return append(jitbitEnvChecks(), llmEnvChecks()...), nil
	case FlowJira:
		return append(jiraEnvChecks(), llmEnvChecks()...), nil
	default:
		return nil, &ValidationError{Param: "flow", Reason: fmt.Sprintf("unknown flow kind %q", kind)}
	}
}
