package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/me/jobsys/internal/config"
	"github.com/me/jobsys/internal/jobsystem"
	"github.com/me/jobsys/internal/server"
	"github.com/me/jobsys/internal/store"
	"github.com/me/jobsys/pkg/model"
)

type noteJob struct {
	*jobsystem.Base
	Note string `json:"note"`
}

func (j *noteJob) Execute(context.Context) {
	_ = j.SetOutput(map[string]string{"status": "success", "note": j.Note})
}

// startTestServer starts a daemon with one all-channel worker, an
// in-memory archive and an adjustable log level, and returns its URL.
func startTestServer(t *testing.T) string {
	t.Helper()
	srvLogger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))

	st, err := store.NewSQLiteStore(":memory:", "cli-test", srvLogger)
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate test store: %v", err)
	}

	sys := jobsystem.New(srvLogger,
		jobsystem.WithIdleBackoff(100*time.Microsecond, 2*time.Millisecond),
		jobsystem.WithSink(st))
	err = sys.RegisterType("NOTE", func(base *jobsystem.Base, input json.RawMessage) (jobsystem.Job, error) {
		j := &noteJob{Base: base}
		return j, json.Unmarshal(input, j)
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := sys.CreateWorker("w1", model.ChannelAll); err != nil {
		t.Fatalf("create worker: %v", err)
	}

	srv := server.New(config.ServerConfig{}, sys, srvLogger,
		server.WithResultStore(st), server.WithLevelVar(new(slog.LevelVar)))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = sys.Shutdown(context.Background())
		st.Close()
	})
	return ts.URL
}

func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()

	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append([]string{"--no-color"}, args...))

	err := root.Execute()
	return buf.String(), err
}

func mustRun(t *testing.T, url string, args ...string) string {
	t.Helper()
	out, err := runCLI(t, "", append([]string{"--server", url}, args...)...)
	if err != nil {
		t.Fatalf("%v: %v\noutput: %s", args, err, out)
	}
	return out
}

func TestSubmitStatusOutputRetire(t *testing.T) {
	url := startTestServer(t)

	out := mustRun(t, url, "submit", "NOTE", "--input", `{"note":"hello"}`)
	if !strings.Contains(out, "Submitted job 0 (NOTE)") {
		t.Errorf("submit output = %q", out)
	}

	out = mustRun(t, url, "retire", "0", "--timeout", "5s")
	if !strings.Contains(out, "Retired job 0 (NOTE)") {
		t.Errorf("retire output = %q", out)
	}

	out = mustRun(t, url, "status", "0")
	if !strings.Contains(out, "Job 0 (NOTE): RETIRED") || !strings.Contains(out, "Worker:    w1") {
		t.Errorf("status output = %q", out)
	}

	out = mustRun(t, url, "output", "0")
	if !strings.Contains(out, `"note": "hello"`) {
		t.Errorf("output = %q", out)
	}
}

func TestSubmit_Errors(t *testing.T) {
	url := startTestServer(t)

	if _, err := runCLI(t, "", "--server", url, "submit", "NOTE", "--input", "{oops"); err == nil {
		t.Error("expected error for malformed input")
	}

	_, err := runCLI(t, "", "--server", url, "submit", "MISSING")
	if err == nil || !strings.Contains(err.Error(), "VALIDATION_ERROR") {
		t.Errorf("unknown type error = %v", err)
	}

	if _, err := runCLI(t, "", "--server", url, "status", "-3"); err == nil {
		t.Error("expected error for negative id")
	}
}

func TestSubmit_InputFileAndDependencies(t *testing.T) {
	url := startTestServer(t)
	path := filepath.Join(t.TempDir(), "input.json")
	if err := os.WriteFile(path, []byte(`{"note":"from file"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	mustRun(t, url, "submit", "NOTE", "--input-file", path)
	out := mustRun(t, url, "submit", "NOTE", "--after", "0", "--channels", "general")
	if !strings.Contains(out, "Submitted job 1") {
		t.Errorf("dependent submit output = %q", out)
	}

	mustRun(t, url, "retire", "0", "--timeout", "5s")
	out = mustRun(t, url, "output", "0")
	if !strings.Contains(out, "from file") {
		t.Errorf("output = %q", out)
	}
}

func TestRetireAllAndSummary(t *testing.T) {
	url := startTestServer(t)
	mustRun(t, url, "submit", "NOTE", "--input", `{"note":"a"}`)
	mustRun(t, url, "retire", "0", "--timeout", "5s")

	out := mustRun(t, url, "retire", "--all")
	if !strings.Contains(out, "Retired 0 job(s)") {
		t.Errorf("retire --all output = %q", out)
	}

	out = mustRun(t, url, "summary")
	if !strings.Contains(out, "1 jobs") || !strings.Contains(out, "RETIRED    1") {
		t.Errorf("summary output = %q", out)
	}

	out = mustRun(t, url, "types")
	if strings.TrimSpace(out) != "NOTE" {
		t.Errorf("types output = %q", out)
	}
}

func TestWorkersCommands(t *testing.T) {
	url := startTestServer(t)

	out := mustRun(t, url, "workers", "add", "--name", "w2", "--channels", "compile")
	if !strings.Contains(out, "Worker w2 started on 0x10000000") {
		t.Errorf("add output = %q", out)
	}

	out = mustRun(t, url, "workers")
	if !strings.Contains(out, "w1") || !strings.Contains(out, "w2") {
		t.Errorf("list output = %q", out)
	}

	out = mustRun(t, url, "workers", "set-channels", "w2", "parse")
	if !strings.Contains(out, "now claims 0x20000000") {
		t.Errorf("set-channels output = %q", out)
	}

	mustRun(t, url, "workers", "remove", "w2")
	out = mustRun(t, url, "workers", "list")
	if strings.Contains(out, "w2") {
		t.Errorf("w2 still listed: %q", out)
	}

	if _, err := runCLI(t, "", "--server", url, "workers", "remove", "w2"); err == nil {
		t.Error("expected error removing unknown worker")
	}
}

func TestPipelineCommand(t *testing.T) {
	url := startTestServer(t)
	path := filepath.Join(t.TempDir(), "notes.yaml")
	doc := "name: notes\nsteps:\n  - name: b\n    type: NOTE\n    after: [a]\n  - name: a\n    type: NOTE\n"
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	out := mustRun(t, url, "pipeline", path)
	if !strings.Contains(out, "Pipeline notes submitted") {
		t.Errorf("pipeline output = %q", out)
	}
	if strings.Index(out, " a\n") > strings.Index(out, " b\n") {
		t.Errorf("steps not listed in id order: %q", out)
	}
}

func TestResultsAndLogLevel(t *testing.T) {
	url := startTestServer(t)
	mustRun(t, url, "submit", "NOTE", "--input", `{"note":"kept"}`)
	mustRun(t, url, "retire", "0", "--timeout", "5s")

	out := mustRun(t, url, "results", "--type", "NOTE")
	if !strings.Contains(out, "NOTE") || !strings.Contains(out, "w1") {
		t.Errorf("results output = %q", out)
	}

	out = mustRun(t, url, "log-level", "error")
	if strings.TrimSpace(out) != "error" {
		t.Errorf("log-level set output = %q", out)
	}
	out = mustRun(t, url, "log-level")
	if strings.TrimSpace(out) != "error" {
		t.Errorf("log-level get output = %q", out)
	}
}

func TestShell(t *testing.T) {
	url := startTestServer(t)
	mustRun(t, url, "submit", "NOTE", "--input", `{"note":"shell"}`)

	script := strings.Join([]string{
		"job_types",
		"status",
		"0",
		"finishjob 0",
		"status 0",
		"status x",
		"",
		"history",
		"bogus",
		"finish",
		"stop",
		"history",
	}, "\n")
	out, err := runCLI(t, script, "--server", url, "shell")
	if err != nil {
		t.Fatalf("shell: %v\noutput: %s", err, out)
	}

	for _, want := range []string{
		"Job type 0: NOTE",
		"Enter ID of job to get status: Status for job (# 0) is:",
		"Job 0 (NOTE) retired",
		"Status for job (# 0) is: RETIRED",
		`Invalid job id "x"`,
		"1 jobs",
		"Invalid command",
		"Retired 0 job(s)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("shell output missing %q:\n%s", want, out)
		}
	}
	if strings.Count(out, "1 jobs") != 1 {
		t.Errorf("commands after stop were executed:\n%s", out)
	}
}

func TestShell_EOFEnds(t *testing.T) {
	url := startTestServer(t)
	if _, err := runCLI(t, "status", "--server", url, "shell"); err != nil {
		t.Errorf("shell at EOF: %v", err)
	}
}
