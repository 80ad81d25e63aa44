// ABOUTME: Tests for step argument resolution: placeholders, optional args, append/overwrite flags.
// ABOUTME: An unresolved placeholder must be an error, never an empty argument.
package pipeline

import (
	"reflect"
	"testing"
)

func TestResolveArgsPlaceholders(t *testing.T) {
	sd := &StepDescriptor{
		Name:    "export",
		Command: "python3",
		Args:    []string{"export.py", "--start-id", "{start_id}", "--yes"},
	}
	argv, err := sd.ResolveArgs(Params{"start_id": 5000}, RunOptions{})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	want := []string{"python3", "export.py", "--start-id", "5000", "--yes"}
	if !reflect.DeepEqual(argv, want) {
		t.Errorf("argv = %v, want %v", argv, want)
	}
}

func TestResolveArgsUnresolvedPlaceholder(t *testing.T) {
	sd := &StepDescriptor{
		Name:    "export",
		Command: "python3",
		Args:    []string{"--start-id", "{start_id}"},
	}
	if _, err := sd.ResolveArgs(Params{}, RunOptions{}); err == nil {
		t.Fatal("expected error for unresolved placeholder")
	}
}

func TestResolveArgsOptional(t *testing.T) {
	sd := &StepDescriptor{
		Name:    "llm",
		Command: "python3",
		Args:    []string{"llm.py"},
		OptionalArgs: []OptionalArg{
			{Flag: "--limit", Param: "llm_limit"},
			{Flag: "--max-calls", Param: "llm_max_calls"},
			{Flag: "--newest-first", Param: "newest_first", Boolean: true},
		},
	}

	argv, err := sd.ResolveArgs(Params{"llm_limit": 20, "newest_first": true}, RunOptions{})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	want := []string{"python3", "llm.py", "--limit", "20", "--newest-first"}
	if !reflect.DeepEqual(argv, want) {
		t.Errorf("argv = %v, want %v", argv, want)
	}

	// A boolean param explicitly false must not emit its flag.
	argv, err = sd.ResolveArgs(Params{"newest_first": false}, RunOptions{})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	want = []string{"python3", "llm.py"}
	if !reflect.DeepEqual(argv, want) {
		t.Errorf("argv = %v, want %v", argv, want)
	}
}

func TestResolveArgsOverwriteAndAppend(t *testing.T) {
	sd := &StepDescriptor{
		Name:              "export",
		Command:           "python3",
		Args:              []string{"export.py"},
		SupportsAppend:    true,
		SupportsOverwrite: true,
	}

	argv, err := sd.ResolveArgs(Params{}, RunOptions{Overwrite: true, Append: true})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	want := []string{"python3", "export.py", "--overwrite", "--append"}
	if !reflect.DeepEqual(argv, want) {
		t.Errorf("argv = %v, want %v", argv, want)
	}

	// A step that supports neither ignores both options.
	plain := &StepDescriptor{Name: "render", Command: "python3", Args: []string{"render.py"}}
	argv, err = plain.ResolveArgs(Params{}, RunOptions{Overwrite: true, Append: true})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	want = []string{"python3", "render.py"}
	if !reflect.DeepEqual(argv, want) {
		t.Errorf("argv = %v, want %v", argv, want)
	}
}

func TestFormatParam(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{"text", "text"},
		{42, "42"},
		{int64(7), "7"},
		{true, "true"},
		// JSON numbers arrive as float64; integral values must not grow a
		// decimal point.
		{float64(20), "20"},
		{0.84, "0.84"},
	}
	for _, tt := range tests {
		if got := formatParam(tt.in); got != tt.want {
			t.Errorf("formatParam(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
