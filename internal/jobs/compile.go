package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/me/jobsys/internal/jobsystem"
	"github.com/me/jobsys/pkg/model"
)

// CompileOutput is the result of a COMPILE_JOB.
type CompileOutput struct {
	Status   string `json:"status"`
	ExitCode int    `json:"exitCode"`
	Content  string `json:"content"`
	Error    string `json:"error,omitempty"`
}

// CompileJob runs make against a makefile and captures its combined output.
type CompileJob struct {
	*jobsystem.Base

	Makefile   string `json:"makefile"`
	IsFilePath *bool  `json:"isFilePath"`
	Target     string `json:"target"`

	cfg    Config
	logger *slog.Logger
	result CompileOutput
}

func newCompileFactory(cfg Config, logger *slog.Logger) jobsystem.Factory {
	return func(base *jobsystem.Base, input json.RawMessage) (jobsystem.Job, error) {
		j := &CompileJob{Base: base, cfg: cfg, logger: logger}
		if err := decodeInput(input, j); err != nil {
			return nil, err
		}
		if j.Makefile == "" {
			return nil, fmt.Errorf("%w: makefile is required", jobsystem.ErrInvalidInput)
		}
		base.SetDefaultChannelMask(model.ChannelCompile)
		return j, nil
	}
}

func (j *CompileJob) fromFile() bool {
	return j.IsFilePath == nil || *j.IsFilePath
}

func (j *CompileJob) Execute(ctx context.Context) {
	j.result = j.run(ctx)
	_ = j.SetOutput(j.result)
}

func (j *CompileJob) run(ctx context.Context) CompileOutput {
	content := []byte(j.Makefile)
	dir := j.cfg.WorkDir
	if j.fromFile() {
		data, err := os.ReadFile(j.Makefile)
		if err != nil {
			return CompileOutput{Status: StatusFailure, ExitCode: -1, Error: fmt.Sprintf("read makefile: %v", err)}
		}
		content = data
		dir = filepath.Dir(j.Makefile)
	}

	// The scratch makefile is named after the job so concurrent compiles
	// never share it.
	if err := os.MkdirAll(j.cfg.WorkDir, 0o755); err != nil {
		return CompileOutput{Status: StatusFailure, ExitCode: -1, Error: fmt.Sprintf("create work dir: %v", err)}
	}
	scratch, err := os.CreateTemp(j.cfg.WorkDir, fmt.Sprintf("makefile-%d-*", j.ID()))
	if err != nil {
		return CompileOutput{Status: StatusFailure, ExitCode: -1, Error: fmt.Sprintf("create scratch makefile: %v", err)}
	}
	defer os.Remove(scratch.Name())

	if _, err := scratch.Write(content); err != nil {
		scratch.Close()
		return CompileOutput{Status: StatusFailure, ExitCode: -1, Error: fmt.Sprintf("write scratch makefile: %v", err)}
	}
	if err := scratch.Close(); err != nil {
		return CompileOutput{Status: StatusFailure, ExitCode: -1, Error: fmt.Sprintf("close scratch makefile: %v", err)}
	}

	path, err := filepath.Abs(scratch.Name())
	if err != nil {
		path = scratch.Name()
	}
	args := []string{"-f", path}
	if j.Target != "" {
		args = append(args, j.Target)
	}

	cmd := exec.CommandContext(ctx, j.cfg.MakeCommand, args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()

	res := CompileOutput{Status: StatusSuccess, Content: string(out)}
	if err != nil {
		res.Status = StatusFailure
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.ExitCode = -1
			res.Error = err.Error()
		}
	}
	j.logger.Debug("compile finished", "job_id", j.ID(), "exit_code", res.ExitCode)
	return res
}

// OnRetire writes the captured build output to the data directory.
func (j *CompileJob) OnRetire(context.Context) error {
	name := fmt.Sprintf("CompileJob-%d-output.txt", j.ID())
	return writeDataFile(j.cfg.DataDir, name, []byte(j.result.Content))
}
