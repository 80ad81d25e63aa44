// ABOUTME: Artifact Validator: decides whether a file on disk is usable as a completed step's output.
// ABOUTME: Also collects declared outputs into the run's artifacts directory after a successful step.
package pipeline

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ValidateArtifact checks that the path exists and is well-formed: files must
// be non-empty, .json files must parse, directories must contain at least one
// entry. Mere presence is not enough; a truncated prior artifact must not let
// a pipeline silently continue.
func ValidateArtifact(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("does not exist")
		}
		return fmt.Errorf("stat: %w", err)
	}

	if info.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			return fmt.Errorf("read dir: %w", err)
		}
		if len(entries) == 0 {
			return fmt.Errorf("directory is empty")
		}
		return nil
	}

	if info.Size() == 0 {
		return fmt.Errorf("file is empty")
	}

	if strings.HasSuffix(strings.ToLower(path), ".json") {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if !json.Valid(data) {
			return fmt.Errorf("not valid JSON")
		}
	}

	return nil
}

// ValidateOutputs checks every declared output of a step, resolved against
// the run directory. Returns the first failure.
func ValidateOutputs(runDir string, outputs []string) error {
	for _, out := range outputs {
		if err := ValidateArtifact(filepath.Join(runDir, out)); err != nil {
			return fmt.Errorf("output %q: %w", out, err)
		}
	}
	return nil
}

// CollectArtifacts copies the declared outputs of a completed step into the
// run's artifacts directory for later retrieval, and returns the run-relative
// paths of the outputs. Missing outputs are skipped here; validation has its
// own pass.
func CollectArtifacts(runDir string, outputs []string) ([]string, error) {
	artifactsDir := filepath.Join(runDir, "artifacts")
	if err := os.MkdirAll(artifactsDir, 0755); err != nil {
		return nil, fmt.Errorf("create artifacts dir: %w", err)
	}

	collected := make([]string, 0, len(outputs))
	for _, out := range outputs {
		src := filepath.Join(runDir, out)
		info, err := os.Stat(src)
		if err != nil {
			continue
		}
		dest := filepath.Join(artifactsDir, filepath.Base(out))
		if info.IsDir() {
			if err := copyDir(src, dest); err != nil {
				return nil, fmt.Errorf("copy artifact dir %q: %w", out, err)
			}
		} else {
			if err := copyFile(src, dest); err != nil {
				return nil, fmt.Errorf("copy artifact %q: %w", out, err)
			}
		}
		collected = append(collected, out)
	}
	return collected, nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func copyDir(src, dest string) error {
	// Replace any stale copy from a prior attempt of the same step.
	if err := os.RemoveAll(dest); err != nil {
		return err
	}
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		return copyFile(path, target)
	})
}
