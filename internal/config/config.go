// Package config loads daemon configuration from a YAML file, JOBSYS_*
// environment variables and built-in defaults, in that order of priority
// reversed: environment wins over file, file wins over defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/me/jobsys/internal/logging"
	"github.com/me/jobsys/pkg/model"
)

// EnvPrefix prefixes every environment override, e.g. JOBSYS_SERVER_ADDR.
const EnvPrefix = "JOBSYS"

// Config is the complete daemon configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Workers   []WorkerConfig  `mapstructure:"workers"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
	Store     StoreConfig     `mapstructure:"store"`
	Sink      SinkConfig      `mapstructure:"sink"`
}

// ServerConfig holds configuration for the HTTP API.
type ServerConfig struct {
	Addr string `mapstructure:"addr"` // Listen address (default ":8080")
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // text, json
}

// SchedulerConfig tunes the job system.
type SchedulerConfig struct {
	IdleMin            time.Duration `mapstructure:"idle_min"`
	IdleMax            time.Duration `mapstructure:"idle_max"`
	RetireTimeout      time.Duration `mapstructure:"retire_timeout"`
	StrictDependencies bool          `mapstructure:"strict_dependencies"`
}

// WorkerConfig describes Count workers sharing a channel mask.
type WorkerConfig struct {
	Name     string `mapstructure:"name"`
	Channels string `mapstructure:"channels"`
	Count    int    `mapstructure:"count"`
}

// JobsConfig holds the filesystem settings of the bundled job kinds.
type JobsConfig struct {
	WorkDir     string `mapstructure:"work_dir"`
	DataDir     string `mapstructure:"data_dir"`
	MakeCommand string `mapstructure:"make_command"`
}

// StoreConfig configures the SQLite result archive. An empty DBPath
// disables it.
type StoreConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// SinkConfig groups the optional remote result sinks.
type SinkConfig struct {
	S3 S3Config `mapstructure:"s3"`
}

// S3Config configures the S3 result sink.
type S3Config struct {
	Enabled         bool   `mapstructure:"enabled"`
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	Profile         string `mapstructure:"profile"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
}

// PoolEntry is one worker to start.
type PoolEntry struct {
	Name string
	Mask model.ChannelMask
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("scheduler.idle_min", time.Millisecond)
	v.SetDefault("scheduler.idle_max", 50*time.Millisecond)
	v.SetDefault("scheduler.retire_timeout", 30*time.Second)
	v.SetDefault("scheduler.strict_dependencies", true)

	// Two workers per pipeline stage plus one general-purpose worker.
	v.SetDefault("workers", []map[string]any{
		{"name": "compile", "channels": "compile", "count": 2},
		{"name": "parse", "channels": "parse", "count": 2},
		{"name": "enrich", "channels": "enrich", "count": 2},
		{"name": "general", "channels": "general", "count": 1},
	})

	v.SetDefault("jobs.work_dir", "")
	v.SetDefault("jobs.data_dir", "Data")
	v.SetDefault("jobs.make_command", "make")

	v.SetDefault("store.db_path", "jobsys.db")

	v.SetDefault("sink.s3.enabled", false)
	v.SetDefault("sink.s3.bucket", "")
	v.SetDefault("sink.s3.prefix", "jobsys")
	v.SetDefault("sink.s3.region", "")
	v.SetDefault("sink.s3.endpoint", "")
	v.SetDefault("sink.s3.profile", "")
	v.SetDefault("sink.s3.access_key_id", "")
	v.SetDefault("sink.s3.secret_access_key", "")
	v.SetDefault("sink.s3.force_path_style", false)
}

// Load reads configuration. With an explicit path the file must exist;
// otherwise jobsys.yaml is looked up in the working directory and
// $HOME/.jobsys and silently skipped when absent.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("jobsys")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.jobsys")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Defaults always decode.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if c.Scheduler.IdleMin <= 0 {
		errs = append(errs, errors.New("scheduler.idle_min must be positive"))
	}
	if c.Scheduler.IdleMax < c.Scheduler.IdleMin {
		errs = append(errs, errors.New("scheduler.idle_max must not be below scheduler.idle_min"))
	}
	if c.Scheduler.RetireTimeout < 0 {
		errs = append(errs, errors.New("scheduler.retire_timeout must not be negative"))
	}
	if _, err := c.WorkerPool(); err != nil {
		errs = append(errs, err)
	}
	if c.Sink.S3.Enabled && c.Sink.S3.Bucket == "" {
		errs = append(errs, errors.New("sink.s3.bucket is required when the S3 sink is enabled"))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be text or json", c.Log.Format))
	}
	return errors.Join(errs...)
}

// WorkerPool expands the worker entries into individually named workers.
// An entry with Count n > 1 yields name-1 .. name-n.
func (c *Config) WorkerPool() ([]PoolEntry, error) {
	var pool []PoolEntry
	seen := make(map[string]bool)
	for i, w := range c.Workers {
		mask, err := model.ParseChannelMask(w.Channels)
		if err != nil {
			return nil, fmt.Errorf("workers[%d]: %w", i, err)
		}
		if w.Count < 0 {
			return nil, fmt.Errorf("workers[%d]: count must not be negative", i)
		}
		count := w.Count
		if count == 0 {
			count = 1
		}
		name := w.Name
		if name == "" {
			name = strings.ReplaceAll(strings.ToLower(w.Channels), "|", "-")
		}
		for n := 1; n <= count; n++ {
			workerName := name
			if count > 1 {
				workerName = fmt.Sprintf("%s-%d", name, n)
			}
			if seen[workerName] {
				return nil, fmt.Errorf("workers[%d]: duplicate worker name %q", i, workerName)
			}
			seen[workerName] = true
			pool = append(pool, PoolEntry{Name: workerName, Mask: mask})
		}
	}
	return pool, nil
}
