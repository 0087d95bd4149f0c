package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// ErrConfigNotFound is returned when an explicitly requested config file is
// missing.
var ErrConfigNotFound = errors.New("config file not found")

// Load reads the YAML file at path and layers it over the built-in
// defaults, then applies CORTEX_* environment overrides. An empty path
// skips the file and uses defaults plus environment only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}

		data = ExpandEnv(data)

		var user Config
		if err := yaml.Unmarshal(data, &user); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}

		// Non-zero user values override defaults.
		if err := mergo.Merge(cfg, &user, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merge config: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	applyHostDefaults(cfg)

	slog.Debug("Configuration loaded", "path", path)
	return cfg, nil
}

// applyEnvOverrides lets explicit environment variables win over YAML.
func applyEnvOverrides(cfg *Config) {
	setString(&cfg.Agent.ID, "CORTEX_AGENT_ID")
	setString(&cfg.Agent.MonitorURL, "CORTEX_MONITOR_URL")
	setString(&cfg.Agent.APIKey, "CORTEX_API_KEY")
	setString(&cfg.Agent.ParentID, "CORTEX_PARENT_ID")
	setInt(&cfg.Agent.Port, "CORTEX_PROBE_PORT")

	setString(&cfg.Schedule.Cron, "CORTEX_SCHEDULE_CRON")

	setInt(&cfg.Monitor.Port, "CORTEX_MONITOR_PORT")
	setString(&cfg.Monitor.RegistrationToken, "CORTEX_REGISTRATION_TOKEN")

	setString(&cfg.Upstream.URL, "CORTEX_UPSTREAM_URL")
	setString(&cfg.Upstream.APIKey, "CORTEX_UPSTREAM_API_KEY")

	setString(&cfg.LLM.Model, "CORTEX_LLM_MODEL")
	setString(&cfg.Auth.SecretKey, "CORTEX_AUTH_SECRET")

	setString(&cfg.Queue.Path, "CORTEX_QUEUE_PATH")
	setString(&cfg.Intent.Path, "CORTEX_INTENT_PATH")

	setString(&cfg.Logging.Level, "CORTEX_LOG_LEVEL")
	setString(&cfg.Logging.Format, "CORTEX_LOG_FORMAT")
}

// applyHostDefaults fills identity fields that default to the host name.
func applyHostDefaults(cfg *Config) {
	if cfg.Agent.Hostname == "" {
		if hostname, err := os.Hostname(); err == nil {
			cfg.Agent.Hostname = hostname
		}
	}
	if cfg.Agent.ID == "" {
		cfg.Agent.ID = cfg.Agent.Hostname
	}
}

// ValidateMonitor checks the fields the monitor binary cannot run without.
func ValidateMonitor(cfg *Config) error {
	if cfg.Monitor.RegistrationToken == "" {
		return errors.New("monitor.registration_token is required (or CORTEX_REGISTRATION_TOKEN)")
	}
	if cfg.Auth.SecretKey == "" {
		return errors.New("auth.secret_key is required (or CORTEX_AUTH_SECRET)")
	}
	if cfg.Monitor.Port <= 0 || cfg.Monitor.Port > 65535 {
		return fmt.Errorf("monitor.port out of range: %d", cfg.Monitor.Port)
	}
	return nil
}

// ValidateProbe checks the fields the probe binary cannot run without.
func ValidateProbe(cfg *Config) error {
	if cfg.Agent.ID == "" {
		return errors.New("agent.id is required")
	}
	if cfg.Agent.MonitorURL == "" {
		return errors.New("agent.monitor_url is required (or CORTEX_MONITOR_URL)")
	}
	if cfg.Schedule.Cron == "" {
		return errors.New("schedule.cron is required")
	}
	return nil
}

// Redacted returns a copy safe to expose over HTTP: secrets blanked.
func (c *Config) Redacted() *Config {
	out := *c
	if out.Agent.APIKey != "" {
		out.Agent.APIKey = "[redacted]"
	}
	if out.Monitor.RegistrationToken != "" {
		out.Monitor.RegistrationToken = "[redacted]"
	}
	if out.Upstream.APIKey != "" {
		out.Upstream.APIKey = "[redacted]"
	}
	if out.Auth.SecretKey != "" {
		out.Auth.SecretKey = "[redacted]"
	}
	return &out
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// SetupLogging installs the process-wide slog default per the logging
// section.
func SetupLogging(cfg LoggingConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// ParseDuration parses a duration string, falling back to a default when
// empty or invalid. Used for optional duration knobs read from env.
func ParseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
