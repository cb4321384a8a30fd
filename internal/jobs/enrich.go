package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/me/jobsys/internal/jobsystem"
	"github.com/me/jobsys/pkg/model"
)

// contextLines is how many source lines are attached on each side.
const contextLines = 2

// EnrichedDiagnostic is a Diagnostic with the surrounding source lines.
type EnrichedDiagnostic struct {
	Diagnostic
	ContextBefore string `json:"contextBefore"`
	ContextAfter  string `json:"contextAfter"`
}

// EnrichOutput is the result of a JSON_JOB.
type EnrichOutput struct {
	Status      string                          `json:"status"`
	JSONContent map[string][]EnrichedDiagnostic `json:"jsonContent,omitempty"`
	Error       string                          `json:"error,omitempty"`
}

// EnrichJob attaches source context to the diagnostics produced by its
// first dependency.
type EnrichJob struct {
	*jobsystem.Base

	// BaseDir resolves relative file names found in diagnostics.
	BaseDir string `json:"baseDir"`

	sys    upstream
	cfg    Config
	result EnrichOutput
}

func newEnrichFactory(sys upstream, cfg Config) jobsystem.Factory {
	return func(base *jobsystem.Base, input json.RawMessage) (jobsystem.Job, error) {
		j := &EnrichJob{Base: base, sys: sys, cfg: cfg}
		if err := decodeInput(input, j); err != nil {
			return nil, err
		}
		base.SetDefaultChannelMask(model.ChannelEnrich)
		return j, nil
	}
}

func (j *EnrichJob) Execute(context.Context) {
	var upstreamOut struct {
		JSONContent map[string][]Diagnostic `json:"jsonContent"`
	}
	depID, err := firstDependencyOutput(j.sys, j.Dependencies(), &upstreamOut)
	if err == nil && upstreamOut.JSONContent == nil {
		err = fmt.Errorf("dependency %d produced no diagnostics document", depID)
	}
	if err != nil {
		j.result = EnrichOutput{Status: StatusFailure, Error: err.Error()}
		_ = j.SetOutput(j.result)
		return
	}

	enriched := make(map[string][]EnrichedDiagnostic, len(upstreamOut.JSONContent))
	for file, diags := range upstreamOut.JSONContent {
		lines := j.readSource(file)
		out := make([]EnrichedDiagnostic, 0, len(diags))
		for _, d := range diags {
			before, after := surrounding(lines, d.LineNumber)
			out = append(out, EnrichedDiagnostic{Diagnostic: d, ContextBefore: before, ContextAfter: after})
		}
		enriched[file] = out
	}

	j.result = EnrichOutput{Status: StatusSuccess, JSONContent: enriched}
	_ = j.SetOutput(j.result)
}

// readSource returns the file's lines, or nil if it cannot be read. An
// unreadable file degrades to empty context rather than failing the job.
func (j *EnrichJob) readSource(file string) []string {
	path := file
	if j.BaseDir != "" && !filepath.IsAbs(path) {
		path = filepath.Join(j.BaseDir, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	return strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
}

// surrounding returns up to contextLines lines on each side of the
// 1-based line number, each terminated by a newline.
func surrounding(lines []string, lineNumber int) (string, string) {
	var before, after strings.Builder
	for n := lineNumber - contextLines; n < lineNumber; n++ {
		if n >= 1 && n <= len(lines) {
			before.WriteString(lines[n-1])
			before.WriteByte('\n')
		}
	}
	for n := lineNumber + 1; n <= lineNumber+contextLines; n++ {
		if n >= 1 && n <= len(lines) {
			after.WriteString(lines[n-1])
			after.WriteByte('\n')
		}
	}
	return before.String(), after.String()
}

// OnRetire writes the enriched document to the data directory.
func (j *EnrichJob) OnRetire(context.Context) error {
	data, err := json.MarshalIndent(j.result, "", "    ")
	if err != nil {
		return fmt.Errorf("marshal enriched diagnostics: %w", err)
	}
	return writeDataFile(j.cfg.DataDir, fmt.Sprintf("JsonJob-%d-output.json", j.ID()), data)
}
