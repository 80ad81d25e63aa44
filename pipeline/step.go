// ABOUTME: Step Descriptor: the static definition of one pipeline stage and its file contract.
// ABOUTME: Resolves the concrete command line from run parameters, options, and the argument template.
package pipeline

import (
	"fmt"
	"strconv"
	"strings"
)

// OptionalArg pairs a command-line flag with the parameter that enables it.
// The flag (and the parameter's value, unless the flag is boolean) is appended
// to the resolved command line only when the parameter is present.
type OptionalArg struct {
	Flag    string
	Param   string
	Boolean bool // flag only, no value
}

// StepDescriptor is the immutable definition of one pipeline stage: the
// program to invoke, its argument template, and its declared input/output
// file contract. Paths are relative to the run directory.
type StepDescriptor struct {
	Name            string
	Command         string
	Args            []string // may contain {param} placeholders
	OptionalArgs    []OptionalArg
	RequiredInputs  []string
	DeclaredOutputs []string

	SupportsAppend    bool
	SupportsOverwrite bool
	AppendFlag        string // defaults to "--append"
	OverwriteFlag     string // defaults to "--overwrite"
}

// Params holds the captured request parameters for a run.
type Params map[string]any

// formatParam renders a parameter value for the command line.
func formatParam(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		// JSON decoding yields float64 for all numbers; render integral
		// values without a decimal point so --limit 5.000000 never happens.
		if x == float64(int64(x)) {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'g', -1, 64)
	default:
		return fmt.Sprintf("%v", x)
	}
}

// ResolveArgs builds the concrete argument vector for this step: placeholder
// substitution from params, optional arguments for parameters that are set,
// and the append/overwrite variant when requested and supported.
func (sd *StepDescriptor) ResolveArgs(params Params, opts RunOptions) ([]string, error) {
	argv := make([]string, 0, len(sd.Args)+2*len(sd.OptionalArgs)+2)
	argv = append(argv, sd.Command)

	for _, arg := range sd.Args {
		resolved, err := substitutePlaceholders(arg, params)
		if err != nil {
			return nil, fmt.Errorf("step %q: %w", sd.Name, err)
		}
		argv = append(argv, resolved)
	}

	for _, oa := range sd.OptionalArgs {
		v, ok := params[oa.Param]
		if !ok || v == nil {
			continue
		}
		if oa.Boolean {
			if b, isBool := v.(bool); isBool && !b {
				continue
			}
			argv = append(argv, oa.Flag)
			continue
		}
		argv = append(argv, oa.Flag, formatParam(v))
	}

	if opts.Overwrite && sd.SupportsOverwrite {
		flag := sd.OverwriteFlag
		if flag == "" {
			flag = "--overwrite"
		}
		argv = append(argv, flag)
	}
	if opts.Append && sd.SupportsAppend {
		flag := sd.AppendFlag
		if flag == "" {
			flag = "--append"
		}
		argv = append(argv, flag)
	}

	return argv, nil
}

// substitutePlaceholders replaces every {name} occurrence with the matching
// parameter value. An unresolved placeholder is an error: it means the flow
// builder admitted a run with incomplete parameters.
func substitutePlaceholders(arg string, params Params) (string, error) {
	if !strings.Contains(arg, "{") {
		return arg, nil
	}
	var b strings.Builder
	rest := arg
	for {
		open := strings.Index(rest, "{")
		if open < 0 {
			b.WriteString(rest)
			return b.String(), nil
		}
		close := strings.Index(rest[open:], "}")
		if close < 0 {
			b.WriteString(rest)
			return b.String(), nil
		}
		close += open
		b.WriteString(rest[:open])
		name := rest[open+1 : close]
		v, ok := params[name]
		if !ok || v == nil {
			return "", fmt.Errorf("unresolved placeholder {%s}", name)
		}
		b.WriteString(formatParam(v))
		rest = rest[close+1:]
	}
}
