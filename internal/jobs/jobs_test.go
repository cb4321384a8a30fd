package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/me/jobsys/internal/jobsystem"
	"github.com/me/jobsys/pkg/model"
)

// staticJob publishes the "output" document of its input unchanged.
type staticJob struct {
	*jobsystem.Base
	Out json.RawMessage `json:"output"`
}

func (j *staticJob) Execute(context.Context) { j.SetRawOutput(j.Out) }

func newSystem(t *testing.T) (*jobsystem.System, Config) {
	t.Helper()
	cfg := Config{WorkDir: t.TempDir(), DataDir: t.TempDir()}
	sys := jobsystem.New(slog.New(slog.NewTextHandler(io.Discard, nil)),
		jobsystem.WithIdleBackoff(100*time.Microsecond, 2*time.Millisecond))
	require.NoError(t, Register(sys, cfg))
	require.NoError(t, sys.RegisterType("STATIC", func(base *jobsystem.Base, input json.RawMessage) (jobsystem.Job, error) {
		j := &staticJob{Base: base}
		return j, json.Unmarshal(input, j)
	}))
	t.Cleanup(func() { _ = sys.Shutdown(context.Background()) })
	return sys, cfg
}

func submit(t *testing.T, sys *jobsystem.System, typeName, input string, deps ...int) int {
	t.Helper()
	id, err := sys.SubmitRequest(model.JobRequest{Type: typeName, Input: json.RawMessage(input), Dependencies: deps})
	require.NoError(t, err)
	return id
}

// drain runs every claimable job on the calling goroutine.
func drain(t *testing.T, sys *jobsystem.System) {
	t.Helper()
	for {
		job := sys.ClaimJob(model.ChannelAll)
		if job == nil {
			return
		}
		job.Execute(context.Background())
		sys.OnJobCompleted(job)
	}
}

func outputOf(t *testing.T, sys *jobsystem.System, id int, v any) {
	t.Helper()
	raw, ok := sys.Output(id)
	require.True(t, ok, "job %d has no output", id)
	require.NoError(t, json.Unmarshal(raw, v))
}

func requireMake(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("make"); err != nil {
		t.Skip("make not available")
	}
}

func TestRegister_Types(t *testing.T) {
	sys, _ := newSystem(t)
	assert.Subset(t, sys.Types(), []string{TypeCompile, TypeParse, TypeEnrich, TypeConditional})
	assert.Error(t, Register(sys, Config{}), "registering twice must fail")
}

func TestDefaultChannels(t *testing.T) {
	sys, _ := newSystem(t)
	tests := []struct {
		typeName string
		input    string
		want     model.ChannelMask
	}{
		{TypeCompile, `{"makefile":"x","isFilePath":false}`, model.ChannelCompile},
		{TypeParse, `{}`, model.ChannelParse},
		{TypeEnrich, `{}`, model.ChannelEnrich},
		{TypeConditional, `{}`, model.ChannelGeneral},
		{TypeParse, `{"jobChannels":1}`, 1},
	}
	for _, tt := range tests {
		job, err := sys.CreateJob(tt.typeName, json.RawMessage(tt.input))
		require.NoError(t, err)
		assert.Equal(t, tt.want, job.ChannelMask(), tt.typeName)
	}
}

func TestCompileJob_InvalidInput(t *testing.T) {
	sys, _ := newSystem(t)
	_, err := sys.CreateJob(TypeCompile, json.RawMessage(`{}`))
	require.ErrorIs(t, err, jobsystem.ErrInvalidInput)
}

func TestCompileJob_MissingMakefileFails(t *testing.T) {
	sys, _ := newSystem(t)
	id := submit(t, sys, TypeCompile, `{"makefile":"/does/not/exist/Makefile"}`)
	drain(t, sys)

	var out CompileOutput
	outputOf(t, sys, id, &out)
	assert.Equal(t, StatusFailure, out.Status)
	assert.Equal(t, -1, out.ExitCode)
	assert.Contains(t, out.Error, "read makefile")
}

func TestCompileJob_InlineMakefile(t *testing.T) {
	requireMake(t)
	sys, cfg := newSystem(t)

	input, _ := json.Marshal(map[string]any{
		"makefile":   "all:\n\t@echo built-ok\nbroken:\n\t@echo oops && false\n",
		"isFilePath": false,
	})
	ok := submit(t, sys, TypeCompile, string(input))

	input, _ = json.Marshal(map[string]any{
		"makefile":   "all:\n\t@echo built-ok\nbroken:\n\t@echo oops && false\n",
		"isFilePath": false,
		"target":     "broken",
	})
	bad := submit(t, sys, TypeCompile, string(input))
	drain(t, sys)

	var out CompileOutput
	outputOf(t, sys, ok, &out)
	assert.Equal(t, StatusSuccess, out.Status)
	assert.Equal(t, 0, out.ExitCode)
	assert.Contains(t, out.Content, "built-ok")

	outputOf(t, sys, bad, &out)
	assert.Equal(t, StatusFailure, out.Status)
	assert.NotZero(t, out.ExitCode)
	assert.Contains(t, out.Content, "oops")

	require.NoError(t, sys.RetireOne(context.Background(), ok))
	data, err := os.ReadFile(filepath.Join(cfg.DataDir, fmt.Sprintf("CompileJob-%d-output.txt", ok)))
	require.NoError(t, err)
	assert.Contains(t, string(data), "built-ok")
}

func TestCompileJob_MakefileFromPathRunsInItsDirectory(t *testing.T) {
	requireMake(t)
	sys, _ := newSystem(t)

	project := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(project, "marker.txt"), []byte("from-project\n"), 0o644))
	makefile := filepath.Join(project, "Makefile")
	require.NoError(t, os.WriteFile(makefile, []byte("all:\n\t@cat marker.txt\n"), 0o644))

	input, _ := json.Marshal(map[string]any{"makefile": makefile})
	id := submit(t, sys, TypeCompile, string(input))
	drain(t, sys)

	var out CompileOutput
	outputOf(t, sys, id, &out)
	assert.Equal(t, StatusSuccess, out.Status, out.Content)
	assert.Contains(t, out.Content, "from-project")
}

func TestCompileJob_ConcurrentJobsKeepSeparateScratchFiles(t *testing.T) {
	requireMake(t)
	sys, cfg := newSystem(t)

	const n = 6
	ids := make([]int, n)
	for i := range ids {
		input, _ := json.Marshal(map[string]any{
			"makefile":   fmt.Sprintf("all:\n\t@sleep 0.05; echo token-%d\n", i),
			"isFilePath": false,
		})
		ids[i] = submit(t, sys, TypeCompile, string(input))
	}
	for i := 0; i < 3; i++ {
		_, err := sys.CreateWorker(fmt.Sprintf("compile-%d", i), model.ChannelCompile)
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			assert.NoError(t, sys.RetireOne(context.Background(), id))
		}(id)
	}
	wg.Wait()

	for i, id := range ids {
		var out CompileOutput
		outputOf(t, sys, id, &out)
		assert.Equal(t, StatusSuccess, out.Status)
		assert.Contains(t, out.Content, fmt.Sprintf("token-%d", i))
		for k := range ids {
			if k != i {
				assert.NotContains(t, out.Content, fmt.Sprintf("token-%d\n", k))
			}
		}
	}

	leftovers, err := filepath.Glob(filepath.Join(cfg.WorkDir, "makefile-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers, "scratch makefiles must be removed")
}

const clangOutput = `clang++ -c main.cpp
main.cpp:3:5: error: use of undeclared identifier 'foo'
main.cpp:7:12: warning: unused variable 'x' [-Wunused-variable]
util.h:1:9: note: previous definition is here: see above
make: *** [Makefile:2: all] Error 1
1 error generated.
`

func TestParseDiagnostics(t *testing.T) {
	byFile, counts := ParseDiagnostics(clangOutput)

	require.Len(t, byFile["main.cpp"], 2)
	assert.Equal(t, Diagnostic{LineNumber: 3, Column: 5, ErrorType: "error", Message: "use of undeclared identifier 'foo'"}, byFile["main.cpp"][0])
	assert.Equal(t, "warning", byFile["main.cpp"][1].ErrorType)

	require.Len(t, byFile["util.h"], 1)
	assert.Equal(t, "previous definition is here: see above", byFile["util.h"][0].Message)

	assert.Len(t, byFile, 2, "make's own error line is not a diagnostic")
	assert.Equal(t, map[string]int{"error": 1, "warning": 1, "note": 1}, counts)
}

func TestParseJob(t *testing.T) {
	sys, cfg := newSystem(t)

	upstream, _ := json.Marshal(map[string]any{"output": map[string]any{"status": "failure", "content": clangOutput}})
	src := submit(t, sys, "STATIC", string(upstream))
	parse := submit(t, sys, TypeParse, `{}`, src)
	orphan := submit(t, sys, TypeParse, `{}`)
	drain(t, sys)

	var out ParseOutput
	outputOf(t, sys, parse, &out)
	assert.Equal(t, StatusSuccess, out.Status)
	assert.Len(t, out.JSONContent["main.cpp"], 2)
	assert.Equal(t, 1, out.Counts["error"])

	outputOf(t, sys, orphan, &out)
	assert.Equal(t, StatusFailure, out.Status)

	require.NoError(t, sys.RetireOne(context.Background(), parse))
	data, err := os.ReadFile(filepath.Join(cfg.DataDir, fmt.Sprintf("ParsingJob-%d-output.json", parse)))
	require.NoError(t, err)
	assert.Contains(t, string(data), "undeclared identifier")
}

func TestSurrounding(t *testing.T) {
	lines := []string{"l1", "l2", "l3", "l4", "l5", "l6"}
	before, after := surrounding(lines, 3)
	assert.Equal(t, "l1\nl2\n", before)
	assert.Equal(t, "l4\nl5\n", after)

	before, after = surrounding(lines, 1)
	assert.Empty(t, before)
	assert.Equal(t, "l2\nl3\n", after)

	before, after = surrounding(lines, 6)
	assert.Equal(t, "l4\nl5\n", before)
	assert.Empty(t, after)

	before, after = surrounding(nil, 4)
	assert.Empty(t, before)
	assert.Empty(t, after)
}

func TestEnrichJob(t *testing.T) {
	sys, cfg := newSystem(t)

	srcDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "main.cpp"),
		[]byte("#include <x>\nint a;\nint b = foo;\nint c;\nint d;\n"), 0o644))

	doc := map[string]any{"output": map[string]any{
		"status": "success",
		"jsonContent": map[string]any{
			"main.cpp":    []Diagnostic{{LineNumber: 3, Column: 9, ErrorType: "error", Message: "boom"}},
			"missing.cpp": []Diagnostic{{LineNumber: 1, Column: 1, ErrorType: "note", Message: "gone"}},
		},
	}}
	upstream, _ := json.Marshal(doc)
	src := submit(t, sys, "STATIC", string(upstream))
	input, _ := json.Marshal(map[string]any{"baseDir": srcDir})
	enrich := submit(t, sys, TypeEnrich, string(input), src)
	drain(t, sys)

	var out EnrichOutput
	outputOf(t, sys, enrich, &out)
	assert.Equal(t, StatusSuccess, out.Status)
	require.Len(t, out.JSONContent["main.cpp"], 1)
	d := out.JSONContent["main.cpp"][0]
	assert.Equal(t, "#include <x>\nint a;\n", d.ContextBefore)
	assert.Equal(t, "int c;\nint d;\n", d.ContextAfter)
	assert.Equal(t, "boom", d.Message)

	require.Len(t, out.JSONContent["missing.cpp"], 1)
	assert.Empty(t, out.JSONContent["missing.cpp"][0].ContextBefore)

	require.NoError(t, sys.RetireOne(context.Background(), enrich))
	_, err := os.Stat(filepath.Join(cfg.DataDir, fmt.Sprintf("JsonJob-%d-output.json", enrich)))
	require.NoError(t, err)
}

func TestEnrichJob_UpstreamWithoutDiagnosticsFails(t *testing.T) {
	sys, _ := newSystem(t)
	src := submit(t, sys, "STATIC", `{"output":{"status":"success"}}`)
	enrich := submit(t, sys, TypeEnrich, `{}`, src)
	drain(t, sys)

	var out EnrichOutput
	outputOf(t, sys, enrich, &out)
	assert.Equal(t, StatusFailure, out.Status)
}
