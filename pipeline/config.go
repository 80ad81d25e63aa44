// ABOUTME: Engine configuration loaded from a YAML file, with defaults for every field.
// ABOUTME: Covers run storage, the stage program locations, concurrency bound, and step timeout.
package pipeline

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "45m" or "1h" parse directly.
type Duration time.Duration

// UnmarshalYAML parses a duration string such as "90s" or "1h30m".
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration in time.Duration string form.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Scripts locates the external stage programs, relative to ScriptsDir.
type Scripts struct {
	JitbitExport   string `yaml:"jitbit_export"`
	JitbitKBExport string `yaml:"jitbit_kb_export"`
	JiraExport     string `yaml:"jira_export"`
	LLMProcess     string `yaml:"llm_process"`
	Dedup          string `yaml:"dedup"`
	TicketsToDocx  string `yaml:"tickets_to_docx"`
	KBToDocx       string `yaml:"kb_to_docx"`
}

// Config holds all engine settings.
type Config struct {
	// RunsDir is the base directory for per-run directories.
	RunsDir string `yaml:"runs_dir"`
	// IndexPath is the SQLite run index location. Empty means RunsDir/index.db.
	IndexPath string `yaml:"index_path"`
	// ScriptsDir is the directory holding the external stage programs.
	ScriptsDir string `yaml:"scripts_dir"`
	// Interpreter invokes the stage programs (the stages are opaque scripts).
	Interpreter string `yaml:"interpreter"`
	// MaxConcurrentRuns bounds the number of simultaneously executing runs.
	MaxConcurrentRuns int `yaml:"max_concurrent_runs"`
	// StepTimeout is the wall-clock budget per step.
	StepTimeout Duration `yaml:"step_timeout"`
	// KeepRuns is how many run directories PruneRuns retains. 0 disables pruning.
	KeepRuns int `yaml:"keep_runs"`

	Scripts Scripts `yaml:"scripts"`
}

// DefaultConfig returns the configuration used when no file is present.
// Script names match the stage programs shipped alongside the engine.
func DefaultConfig() *Config {
	return &Config{
		RunsDir:           "runs",
		ScriptsDir:        ".",
		Interpreter:       "python3",
		MaxConcurrentRuns: 2,
		StepTimeout:       Duration(1 * time.Hour),
		KeepRuns:          50,
		Scripts: Scripts{
			JitbitExport:   "ticket_relevante_felder.py",
			JitbitKBExport: "kb_export_json.py",
			JiraExport:     "jira_relevant_tickets.py",
			LLMProcess:     "process_tickets_with_llm.py",
			Dedup:          "scripts/dedupe_tickets.py",
			TicketsToDocx:  "tickets_to_docx.py",
			KBToDocx:       "kb_to_docx.py",
		},
	}
}

// LoadConfig reads a YAML config file over the defaults. A missing file is
// not an error: the defaults are returned unchanged.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	if c.RunsDir == "" {
		return fmt.Errorf("runs_dir must not be empty")
	}
	if c.MaxConcurrentRuns < 1 {
		return fmt.Errorf("max_concurrent_runs must be at least 1, got %d", c.MaxConcurrentRuns)
	}
	if time.Duration(c.StepTimeout) <= 0 {
		return fmt.Errorf("step_timeout must be positive")
	}
	if c.KeepRuns < 0 {
		return fmt.Errorf("keep_runs must not be negative")
	}
	return nil
}
