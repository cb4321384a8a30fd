package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/me/jobsys/pkg/model"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, time.Millisecond, cfg.Scheduler.IdleMin)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.RetireTimeout)
	assert.True(t, cfg.Scheduler.StrictDependencies)
	assert.Equal(t, "Data", cfg.Jobs.DataDir)

	pool, err := cfg.WorkerPool()
	require.NoError(t, err)
	require.Len(t, pool, 7)
	assert.Equal(t, PoolEntry{Name: "compile-1", Mask: model.ChannelCompile}, pool[0])
	assert.Equal(t, PoolEntry{Name: "general", Mask: model.ChannelGeneral}, pool[6])
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "jobsys.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: 127.0.0.1:9999
scheduler:
  idle_max: 200ms
  strict_dependencies: false
workers:
  - name: all
    channels: "0xffffffff"
    count: 3
store:
  db_path: ":memory:"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9999", cfg.Server.Addr)
	assert.Equal(t, 200*time.Millisecond, cfg.Scheduler.IdleMax)
	assert.Equal(t, time.Millisecond, cfg.Scheduler.IdleMin, "unset keys keep defaults")
	assert.False(t, cfg.Scheduler.StrictDependencies)
	assert.Equal(t, ":memory:", cfg.Store.DBPath)

	pool, err := cfg.WorkerPool()
	require.NoError(t, err)
	require.Len(t, pool, 3)
	assert.Equal(t, "all-3", pool[2].Name)
	assert.Equal(t, model.ChannelAll, pool[2].Mask)
}

func TestLoad_EnvironmentWins(t *testing.T) {
	path := writeConfig(t, "log:\n  level: debug\n")
	t.Setenv("JOBSYS_LOG_LEVEL", "error")
	t.Setenv("JOBSYS_SCHEDULER_RETIRE_TIMEOUT", "5s")
	t.Setenv("JOBSYS_SINK_S3_BUCKET", "archive")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.Log.Level)
	assert.Equal(t, 5*time.Second, cfg.Scheduler.RetireTimeout)
	assert.Equal(t, "archive", cfg.Sink.S3.Bucket)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"bad channel":     "workers:\n  - channels: purple\n",
		"duplicate names": "workers:\n  - name: w\n    channels: parse\n  - name: w\n    channels: compile\n",
		"idle inverted":   "scheduler:\n  idle_min: 10ms\n  idle_max: 1ms\n",
		"s3 no bucket":    "sink:\n  s3:\n    enabled: true\n",
		"log format":      "log:\n  format: xml\n",
		"log level":       "log:\n  level: loud\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			require.Error(t, err)
		})
	}
}

func TestWorkerPool_UnnamedEntries(t *testing.T) {
	cfg := &Config{Workers: []WorkerConfig{{Channels: "compile|parse"}}}
	pool, err := cfg.WorkerPool()
	require.NoError(t, err)
	require.Len(t, pool, 1)
	assert.Equal(t, "compile-parse", pool[0].Name)
	assert.Equal(t, model.ChannelCompile|model.ChannelParse, pool[0].Mask)
}
