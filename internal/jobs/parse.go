package jobs

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/me/jobsys/internal/jobsystem"
	"github.com/me/jobsys/pkg/model"
)

// Diagnostic is one compiler message located in a source file.
type Diagnostic struct {
	LineNumber int    `json:"lineNumber"`
	Column     int    `json:"column"`
	ErrorType  string `json:"errorType"`
	Message    string `json:"message"`
}

// ParseOutput is the result of a PARSING_JOB.
type ParseOutput struct {
	Status      string                  `json:"status"`
	JSONContent map[string][]Diagnostic `json:"jsonContent"`
	Counts      map[string]int          `json:"counts"`
	Error       string                  `json:"error,omitempty"`
}

var diagnosticKinds = map[string]bool{
	"error":       true,
	"fatal error": true,
	"warning":     true,
	"note":        true,
}

// ParseDiagnostics extracts "file:line:col: kind: message" diagnostics
// from compiler output, grouped by file in order of appearance. Lines that
// do not have that shape are skipped.
func ParseDiagnostics(content string) (map[string][]Diagnostic, map[string]int) {
	byFile := make(map[string][]Diagnostic)
	counts := make(map[string]int)

	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		file, d, ok := parseDiagnosticLine(scanner.Text())
		if !ok {
			continue
		}
		byFile[file] = append(byFile[file], d)
		counts[d.ErrorType]++
	}
	return byFile, counts
}

func parseDiagnosticLine(line string) (string, Diagnostic, bool) {
	parts := strings.SplitN(line, ":", 5)
	if len(parts) < 5 {
		return "", Diagnostic{}, false
	}
	lineNo, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return "", Diagnostic{}, false
	}
	col, err := strconv.Atoi(strings.TrimSpace(parts[2]))
	if err != nil {
		return "", Diagnostic{}, false
	}
	kind := strings.TrimSpace(parts[3])
	if !diagnosticKinds[kind] {
		return "", Diagnostic{}, false
	}
	return strings.TrimSpace(parts[0]), Diagnostic{
		LineNumber: lineNo,
		Column:     col,
		ErrorType:  kind,
		Message:    strings.TrimSpace(parts[4]),
	}, true
}

// ParseJob turns the build output of its first dependency into structured
// diagnostics.
type ParseJob struct {
	*jobsystem.Base

	sys    upstream
	cfg    Config
	result ParseOutput
}

func newParseFactory(sys upstream, cfg Config) jobsystem.Factory {
	return func(base *jobsystem.Base, input json.RawMessage) (jobsystem.Job, error) {
		j := &ParseJob{Base: base, sys: sys, cfg: cfg}
		if err := decodeInput(input, j); err != nil {
			return nil, err
		}
		base.SetDefaultChannelMask(model.ChannelParse)
		return j, nil
	}
}

func (j *ParseJob) Execute(context.Context) {
	var upstreamOut struct {
		Content string `json:"content"`
	}
	if _, err := firstDependencyOutput(j.sys, j.Dependencies(), &upstreamOut); err != nil {
		j.result = ParseOutput{Status: StatusFailure, Error: err.Error()}
		_ = j.SetOutput(j.result)
		return
	}

	byFile, counts := ParseDiagnostics(upstreamOut.Content)
	j.result = ParseOutput{Status: StatusSuccess, JSONContent: byFile, Counts: counts}
	_ = j.SetOutput(j.result)
}

// OnRetire writes the parsed diagnostics to the data directory.
func (j *ParseJob) OnRetire(context.Context) error {
	data, err := json.MarshalIndent(j.result.JSONContent, "", "    ")
	if err != nil {
		return fmt.Errorf("marshal diagnostics: %w", err)
	}
	return writeDataFile(j.cfg.DataDir, fmt.Sprintf("ParsingJob-%d-output.json", j.ID()), data)
}
