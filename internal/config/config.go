// Package config resolves server configuration from CLI flags, environment
// variables, and an optional YAML file.
//
// Precedence, highest first: flag > SEATRACK_* environment variable >
// config file > built-in default. Flag names follow the historical CLI of
// the tracker; every flag has an env twin (--manager-password /
// SEATRACK_MANAGER_PASSWORD).
package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults for tunables the CLI does not usually touch.
const (
	DefaultPort           = 41234
	DefaultWorkers        = 8
	DefaultQueueDepth     = 256
	DefaultAuthFailLimit  = 5
	DefaultAuthFailWindow = 60 * time.Second
	DefaultAuthFailCool   = 5 * time.Minute
)

// Config is the fully resolved server configuration.
type Config struct {
	// Port carries UDP ingest; HTTPPort the HTTP listener (defaults to
	// Port).
	Port     int `yaml:"port"`
	HTTPPort int `yaml:"http_port"`

	// StaticDir, when set, is served at / for the map front-end.
	StaticDir string `yaml:"static_dir"`

	// DataDir is the root of the on-disk layout (events.json, html/...).
	DataDir string `yaml:"log_dir"`

	// AdminPassword drives single-event mode; ManagerPassword and
	// EventsFile drive multi-event mode.
	AdminPassword   string `yaml:"admin_password"`
	ManagerPassword string `yaml:"manager_password"`
	EventsFile      string `yaml:"events_file"`

	OwnTracksPassword string `yaml:"owntracks_password"`
	OwnTracksEID      int    `yaml:"owntracks_eid"`

	NoHTTP      bool `yaml:"no_http"`
	NoTrackLogs bool `yaml:"no_track_logs"`
	NoCurrent   bool `yaml:"no_current"`

	LogLevel  string `yaml:"log_level"`
	LogPretty bool   `yaml:"log_pretty"`

	// Ingest worker pool.
	Workers    int `yaml:"workers"`
	QueueDepth int `yaml:"queue_depth"`

	// Auth-failure backoff: AuthFailLimit failures within AuthFailWindow
	// trigger an AuthFailCooldown per (source, eid).
	AuthFailLimit    int           `yaml:"auth_fail_limit"`
	AuthFailWindow   time.Duration `yaml:"auth_fail_window"`
	AuthFailCooldown time.Duration `yaml:"auth_fail_cooldown"`

	// SyncTrackLogs forces an fsync per appended track-log line.
	SyncTrackLogs bool `yaml:"sync_track_logs"`
}

// MultiEvent reports whether the server runs the multi-event layout.
func (c *Config) MultiEvent() bool { return c.EventsFile != "" }

// Validate checks cross-field constraints. Callers exit 2 on error.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid http port %d", c.HTTPPort)
	}
	if c.MultiEvent() && c.ManagerPassword == "" {
		return fmt.Errorf("--manager-password is required with --events-file")
	}
	if !c.MultiEvent() && c.AdminPassword == "" {
		return fmt.Errorf("--admin-password is required in single-event mode")
	}
	if c.Workers < 1 {
		return fmt.Errorf("--workers must be at least 1")
	}
	return nil
}

// Load parses args (without the program name) into a Config.
func Load(args []string) (*Config, error) {
	fs := flag.NewFlagSet("seatrack", flag.ContinueOnError)

	var configPath string
	cfg := &Config{}

	fs.StringVar(&configPath, "config", "", "optional YAML config file")
	fs.IntVar(&cfg.Port, "port", DefaultPort, "UDP ingest port")
	fs.IntVar(&cfg.HTTPPort, "http-port", 0, "HTTP port (default: same as --port)")
	fs.StringVar(&cfg.StaticDir, "static-dir", "", "directory served at / for the map UI")
	fs.StringVar(&cfg.DataDir, "log-dir", ".", "data root for events.json and per-event files")
	fs.StringVar(&cfg.AdminPassword, "admin-password", "", "admin password (single-event mode)")
	fs.StringVar(&cfg.ManagerPassword, "manager-password", "", "manager password (multi-event mode)")
	fs.StringVar(&cfg.EventsFile, "events-file", "", "events.json path; enables multi-event mode")
	fs.StringVar(&cfg.OwnTracksPassword, "owntracks-password", "", "process-wide OwnTracks password fallback")
	fs.IntVar(&cfg.OwnTracksEID, "owntracks-eid", 0, "default event for OwnTracks packets without ?eid")
	fs.BoolVar(&cfg.NoHTTP, "no-http", false, "disable the HTTP listener")
	fs.BoolVar(&cfg.NoTrackLogs, "no-track-logs", false, "disable daily track logs")
	fs.BoolVar(&cfg.NoCurrent, "no-current", false, "disable current_positions.json snapshots")
	fs.StringVar(&cfg.LogLevel, "log-level", "info", "zerolog level")
	fs.BoolVar(&cfg.LogPretty, "log-pretty", false, "pretty console logging")
	fs.IntVar(&cfg.Workers, "workers", DefaultWorkers, "ingest worker pool size")
	fs.IntVar(&cfg.QueueDepth, "queue-depth", DefaultQueueDepth, "per-worker queue depth")
	fs.IntVar(&cfg.AuthFailLimit, "auth-fail-limit", DefaultAuthFailLimit, "auth failures before cool-down")
	fs.DurationVar(&cfg.AuthFailWindow, "auth-fail-window", DefaultAuthFailWindow, "auth failure counting window")
	fs.DurationVar(&cfg.AuthFailCooldown, "auth-fail-cooldown", DefaultAuthFailCool, "auth cool-down duration")
	fs.BoolVar(&cfg.SyncTrackLogs, "sync-track-logs", false, "fsync every track-log line")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if configPath == "" && !set["config"] {
		configPath = os.Getenv("SEATRACK_CONFIG")
	}
	if configPath != "" {
		if err := applyFile(fs, set, configPath); err != nil {
			return nil, err
		}
	}
	applyEnv(fs, set)

	if cfg.HTTPPort == 0 {
		cfg.HTTPPort = cfg.Port
	}
	return cfg, nil
}

// applyFile fills flags the CLI left unset from a YAML document keyed by
// flag name (dashes become underscores).
func applyFile(fs *flag.FlagSet, set map[string]bool, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	for key, val := range doc {
		name := flagName(key)
		if set[name] || fs.Lookup(name) == nil {
			continue
		}
		if err := fs.Set(name, fmt.Sprint(val)); err != nil {
			return fmt.Errorf("config %s: %s: %w", path, key, err)
		}
	}
	return nil
}

// applyEnv fills flags still unset from SEATRACK_* variables.
func applyEnv(fs *flag.FlagSet, set map[string]bool) {
	fs.VisitAll(func(f *flag.Flag) {
		if set[f.Name] {
			return
		}
		env := "SEATRACK_" + envName(f.Name)
		if val, ok := os.LookupEnv(env); ok {
			fs.Set(f.Name, val)
			set[f.Name] = true
		}
	})
}

func flagName(yamlKey string) string {
	out := make([]byte, len(yamlKey))
	for i := 0; i < len(yamlKey); i++ {
		if yamlKey[i] == '_' {
			out[i] = '-'
		} else {
			out[i] = yamlKey[i]
		}
	}
	return string(out)
}

func envName(flagName string) string {
	out := make([]byte, len(flagName))
	for i := 0; i < len(flagName); i++ {
		c := flagName[i]
		switch {
		case c == '-':
			out[i] = '_'
		case c >= 'a' && c <= 'z':
			out[i] = c - ('a' - 'A')
		default:
			out[i] = c
		}
	}
	return string(out)
}
