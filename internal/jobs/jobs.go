// Package jobs provides the bundled job kinds: compiling a makefile,
// parsing compiler diagnostics, enriching diagnostics with source context
// and branching on the outcome of upstream jobs.
package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/me/jobsys/internal/jobsystem"
)

// Registered type names.
const (
	TypeCompile     = "COMPILE_JOB"
	TypeParse       = "PARSING_JOB"
	TypeEnrich      = "JSON_JOB"
	TypeConditional = "CONDITIONAL_JOB"
)

// Output status values shared by every kind.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Config holds the filesystem locations used by the job kinds.
type Config struct {
	// WorkDir receives scratch files while a job runs.
	WorkDir string
	// DataDir receives result files when a job is retired.
	DataDir string
	// MakeCommand is the build tool invoked by COMPILE_JOB.
	MakeCommand string
}

func (c Config) withDefaults() Config {
	if c.WorkDir == "" {
		c.WorkDir = os.TempDir()
	}
	if c.DataDir == "" {
		c.DataDir = "Data"
	}
	if c.MakeCommand == "" {
		c.MakeCommand = "make"
	}
	return c
}

// Register installs every bundled kind on sys.
func Register(sys *jobsystem.System, cfg Config) error {
	cfg = cfg.withDefaults()
	logger := sys.Logger().With("component", "jobs")

	kinds := map[string]jobsystem.Factory{
		TypeCompile:     newCompileFactory(cfg, logger),
		TypeParse:       newParseFactory(sys, cfg),
		TypeEnrich:      newEnrichFactory(sys, cfg),
		TypeConditional: newConditionalFactory(sys, logger),
	}
	var errs []error
	for _, name := range []string{TypeCompile, TypeParse, TypeEnrich, TypeConditional} {
		if err := sys.RegisterType(name, kinds[name]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// upstream is the subset of System used to read dependency results.
type upstream interface {
	Output(id int) (json.RawMessage, bool)
}

// firstDependencyOutput decodes the output of the job's first dependency
// into v. Further dependencies are ignored.
func firstDependencyOutput(src upstream, deps []int, v any) (int, error) {
	if len(deps) == 0 {
		return -1, errors.New("no dependencies: nothing to work with")
	}
	id := deps[0]
	raw, ok := src.Output(id)
	if !ok {
		return id, fmt.Errorf("dependency %d has no output", id)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return id, fmt.Errorf("decode output of dependency %d: %w", id, err)
	}
	return id, nil
}

// writeDataFile stores data as <dataDir>/<name>, creating the directory.
func writeDataFile(dataDir, name string, data []byte) error {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	path := filepath.Join(dataDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func decodeInput(input json.RawMessage, v any) error {
	if err := json.Unmarshal(input, v); err != nil {
		return fmt.Errorf("%w: %v", jobsystem.ErrInvalidInput, err)
	}
	return nil
}
