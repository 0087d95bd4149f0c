// Package config loads and validates configuration for the probe and
// monitor binaries from YAML with environment overrides.
package config

import "time"

// Config is the full configuration tree. Probe and monitor share one file
// format; each binary reads the sections it needs.
type Config struct {
	Agent      AgentConfig      `yaml:"agent" json:"agent"`
	Schedule   ScheduleConfig   `yaml:"schedule" json:"schedule"`
	Thresholds ThresholdsConfig `yaml:"thresholds" json:"thresholds"`
	Queue      QueueConfig      `yaml:"queue" json:"queue"`
	Monitor    MonitorConfig    `yaml:"monitor" json:"monitor"`
	Upstream   UpstreamConfig   `yaml:"upstream" json:"upstream"`
	LLM        LLMConfig        `yaml:"llm" json:"llm"`
	Slack      SlackConfig      `yaml:"slack" json:"slack"`
	Auth       AuthConfig       `yaml:"auth" json:"auth"`
	Intent     IntentConfig     `yaml:"intent" json:"intent"`
	Retention  RetentionConfig  `yaml:"retention" json:"retention"`
	Heartbeat  HeartbeatConfig  `yaml:"heartbeat" json:"heartbeat"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
}

// AgentConfig identifies this node and its place in the tree.
type AgentConfig struct {
	ID         string `yaml:"id" json:"id"`                   // defaults to hostname
	Hostname   string `yaml:"hostname" json:"hostname"`       // defaults to os hostname
	MonitorURL string `yaml:"monitor_url" json:"monitor_url"` // parent monitor base URL
	APIKey     string `yaml:"api_key" json:"api_key"`         // key presented to the parent
	ParentID   string `yaml:"parent_id" json:"parent_id"`     // parent agent id, empty for root
	Port       int    `yaml:"port" json:"port"`               // probe local API port
}

// ScheduleConfig drives the probe inspection cadence. Timeout bounds one
// inspection run; a run past the deadline is recorded as timed out.
type ScheduleConfig struct {
	Cron    string        `yaml:"cron" json:"cron"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// ThresholdsConfig holds the metric breach thresholds in percent.
type ThresholdsConfig struct {
	CPUPercent    float64 `yaml:"cpu_percent" json:"cpu_percent"`
	MemoryPercent float64 `yaml:"memory_percent" json:"memory_percent"`
	DiskPercent   float64 `yaml:"disk_percent" json:"disk_percent"`
}

// QueueConfig bounds the durable local delivery queue.
type QueueConfig struct {
	Path         string        `yaml:"path" json:"path"`
	Capacity     int           `yaml:"capacity" json:"capacity"`
	MaxRetries   int           `yaml:"max_retries" json:"max_retries"`
	BatchSize    int           `yaml:"batch_size" json:"batch_size"`
	SendInterval time.Duration `yaml:"send_interval" json:"send_interval"`
}

// MonitorConfig configures the monitor HTTP server.
type MonitorConfig struct {
	Port                int           `yaml:"port" json:"port"`
	RegistrationToken   string        `yaml:"registration_token" json:"registration_token"`
	DedupWindow         time.Duration `yaml:"dedup_window" json:"dedup_window"`
	ReportRetentionDays int           `yaml:"report_retention_days" json:"report_retention_days"`
}

// UpstreamConfig points a mid-tier monitor at its parent. Empty URL means
// this monitor is the root of the tree.
type UpstreamConfig struct {
	URL    string `yaml:"url" json:"url"`
	APIKey string `yaml:"api_key" json:"api_key"`
}

// LLMConfig configures the decision engine model.
type LLMConfig struct {
	Model     string        `yaml:"model" json:"model"`
	MaxTokens int           `yaml:"max_tokens" json:"max_tokens"`
	Timeout   time.Duration `yaml:"timeout" json:"timeout"`
	APIKeyEnv string        `yaml:"api_key_env" json:"api_key_env"`
}

// SlackConfig configures human alert notifications.
type SlackConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	TokenEnv string `yaml:"token_env" json:"token_env"`
	Channel  string `yaml:"channel" json:"channel"`
}

// AuthConfig configures JWT signing and token lifetime.
type AuthConfig struct {
	SecretKey          string        `yaml:"secret_key" json:"secret_key"`
	AccessTokenExpiry  time.Duration `yaml:"access_token_expiry" json:"access_token_expiry"`
}

// IntentConfig configures the audit trail store.
type IntentConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

// RetentionConfig bounds how long processed data is kept.
type RetentionConfig struct {
	ReportRetentionDays int           `yaml:"report_retention_days" json:"report_retention_days"`
	QueueRetention      time.Duration `yaml:"queue_retention" json:"queue_retention"`
	CleanupInterval     time.Duration `yaml:"cleanup_interval" json:"cleanup_interval"`
}

// HeartbeatConfig drives agent liveness tracking.
type HeartbeatConfig struct {
	Interval time.Duration `yaml:"interval" json:"interval"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout"`
}

// LoggingConfig selects log level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`   // debug, info, warn, error
	Format string `yaml:"format" json:"format"` // text or json
}

// Default returns the built-in configuration. User YAML is merged on top.
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			Port: 8001,
		},
		Schedule: ScheduleConfig{
			Cron:    "*/5 * * * *",
			Timeout: 5 * time.Minute,
		},
		Thresholds: ThresholdsConfig{
			CPUPercent:    80,
			MemoryPercent: 85,
			DiskPercent:   90,
		},
		Queue: QueueConfig{
			Path:         "cortex-queue.db",
			Capacity:     1000,
			MaxRetries:   5,
			BatchSize:    10,
			SendInterval: 60 * time.Second,
		},
		Monitor: MonitorConfig{
			Port:                8000,
			DedupWindow:         30 * time.Minute,
			ReportRetentionDays: 30,
		},
		LLM: LLMConfig{
			Model:     "claude-sonnet-4-5",
			MaxTokens: 2000,
			Timeout:   30 * time.Second,
			APIKeyEnv: "ANTHROPIC_API_KEY",
		},
		Slack: SlackConfig{
			TokenEnv: "SLACK_BOT_TOKEN",
		},
		Auth: AuthConfig{
			AccessTokenExpiry: 60 * time.Minute,
		},
		Intent: IntentConfig{
			Enabled: true,
			Path:    "cortex-intents.db",
		},
		Retention: RetentionConfig{
			ReportRetentionDays: 30,
			QueueRetention:      7 * 24 * time.Hour,
			CleanupInterval:     time.Hour,
		},
		Heartbeat: HeartbeatConfig{
			Interval: 60 * time.Second,
			Timeout:  5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
