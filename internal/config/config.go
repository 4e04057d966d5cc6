package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/titanous/json5"
)

// Config is the root configuration for the sales agent service.
type Config struct {
	Project   string          `json:"project"`
	Broker    BrokerConfig    `json:"broker"`
	Database  DatabaseConfig  `json:"database"`
	AI        AIConfig        `json:"ai"`
	Gateway   GatewayConfig   `json:"gateway"`
	Buffer    BufferConfig    `json:"buffer"`
	FollowUp  FollowUpConfig  `json:"follow_up"`
	Sender    SenderConfig    `json:"sender"`
	Health    HealthConfig    `json:"health"`
	Hours     WorkingHours    `json:"working_hours"`
	Knowledge KnowledgeConfig `json:"knowledge"`
	Prompts   PromptsConfig   `json:"prompts"`
	LogLevel  string          `json:"log_level,omitempty"`
}

// BrokerConfig configures the RabbitMQ connection and queue names.
// URL is never read from the config file — only from env SALESAGENT_AMQP_URL.
type BrokerConfig struct {
	URL            string `json:"-"`
	IncomingQueue  string `json:"incoming_queue"`
	OutgoingQueue  string `json:"outgoing_queue"`
	ConnectRetries int    `json:"connect_retries,omitempty"`
}

// DatabaseConfig configures Postgres.
// DSN is never read from the config file — only from env SALESAGENT_POSTGRES_DSN.
type DatabaseConfig struct {
	PostgresDSN  string `json:"-"`
	MaxOpenConns int    `json:"max_open_conns,omitempty"`
}

// AIConfig configures the Gemini inference client.
type AIConfig struct {
	APIKey             string `json:"-"` // env SALESAGENT_GEMINI_API_KEY only
	Model              string `json:"model"`
	APIBase            string `json:"api_base,omitempty"`
	MaxContextMessages int    `json:"max_context_messages"`
}

// GatewayConfig configures the WhatsApp gateway (Wappi-compatible) HTTP API.
type GatewayConfig struct {
	BaseURL   string `json:"base_url"`
	Token     string `json:"-"` // env SALESAGENT_GATEWAY_TOKEN only
	ProfileID string `json:"profile_id"`
}

// BufferConfig configures the inbound debounce buffer.
type BufferConfig struct {
	DebounceSeconds int    `json:"debounce_seconds"`
	MaxMessages     int    `json:"max_messages"`
	SweepCron       string `json:"sweep_cron,omitempty"` // gronx expression, default hourly
}

// FollowUpConfig configures the follow-up scheduler.
type FollowUpConfig struct {
	Enabled       bool  `json:"enabled"`
	PollSeconds   int   `json:"poll_seconds"`
	StartAfterHrs int   `json:"start_after_hours"`
	IntervalHours []int `json:"interval_hours"` // indexed by touch number - 1
}

// SenderConfig configures the outbound sender worker.
type SenderConfig struct {
	MessagesPerMinute int `json:"messages_per_minute"`
	MaxRetries        int `json:"max_retries"`
}

// HealthConfig configures the health/stats HTTP listener.
type HealthConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// WorkingHours is the business-hours window used for scheduled calls.
type WorkingHours struct {
	Timezone string `json:"timezone"`
	Start    int    `json:"start"` // hour of day, inclusive
	End      int    `json:"end"`   // hour of day, exclusive
}

// KnowledgeConfig points at the sales knowledge base directory.
type KnowledgeConfig struct {
	Dir      string `json:"dir,omitempty"`
	MaxChars int    `json:"max_chars,omitempty"`
}

// PromptsConfig points at an optional prompt-template override directory.
type PromptsConfig struct {
	Dir string `json:"dir,omitempty"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Project: "salesagent",
		Broker: BrokerConfig{
			IncomingQueue:  "incoming_messages",
			OutgoingQueue:  "outgoing_messages",
			ConnectRetries: 5,
		},
		Database: DatabaseConfig{
			MaxOpenConns: 10,
		},
		AI: AIConfig{
			Model:              "gemini-2.0-flash",
			MaxContextMessages: 20,
		},
		Buffer: BufferConfig{
			DebounceSeconds: 4,
			MaxMessages:     10,
			SweepCron:       "0 * * * *",
		},
		FollowUp: FollowUpConfig{
			Enabled:       true,
			PollSeconds:   60,
			StartAfterHrs: 24,
			IntervalHours: []int{24, 72, 168, 336, 720},
		},
		Sender: SenderConfig{
			MessagesPerMinute: 20,
			MaxRetries:        3,
		},
		Health: HealthConfig{
			Host: "0.0.0.0",
			Port: 8001,
		},
		Hours: WorkingHours{
			Timezone: "Asia/Almaty",
			Start:    10,
			End:      18,
		},
		Knowledge: KnowledgeConfig{
			MaxChars: 3000,
		},
		LogLevel: "info",
	}
}

// Load reads config from a JSON file, then overlays env vars.
// A missing file is not an error — defaults plus env are enough to run.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	envStr("SALESAGENT_AMQP_URL", &c.Broker.URL)
	envStr("SALESAGENT_POSTGRES_DSN", &c.Database.PostgresDSN)
	envStr("SALESAGENT_GEMINI_API_KEY", &c.AI.APIKey)
	envStr("SALESAGENT_GEMINI_MODEL", &c.AI.Model)
	envStr("SALESAGENT_GATEWAY_URL", &c.Gateway.BaseURL)
	envStr("SALESAGENT_GATEWAY_TOKEN", &c.Gateway.Token)
	envStr("SALESAGENT_GATEWAY_PROFILE_ID", &c.Gateway.ProfileID)
	envStr("SALESAGENT_INCOMING_QUEUE", &c.Broker.IncomingQueue)
	envStr("SALESAGENT_OUTGOING_QUEUE", &c.Broker.OutgoingQueue)
	envStr("SALESAGENT_KNOWLEDGE_DIR", &c.Knowledge.Dir)
	envStr("SALESAGENT_PROMPTS_DIR", &c.Prompts.Dir)
	envStr("SALESAGENT_LOG_LEVEL", &c.LogLevel)
	envStr("SALESAGENT_TIMEZONE", &c.Hours.Timezone)
	envInt("SALESAGENT_HEALTH_PORT", &c.Health.Port)
	envInt("SALESAGENT_MAX_CONTEXT_MESSAGES", &c.AI.MaxContextMessages)

	if v := os.Getenv("SALESAGENT_ENABLE_FOLLOW_UPS"); v != "" {
		c.FollowUp.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("SALESAGENT_FOLLOW_UP_INTERVALS"); v != "" {
		var hours []int
		for _, part := range strings.Split(v, ",") {
			n, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil {
				hours = nil
				break
			}
			hours = append(hours, n)
		}
		if len(hours) > 0 {
			c.FollowUp.IntervalHours = hours
		}
	}
}

// Validate checks that all required settings are present.
// A failure here is fatal at startup.
func (c *Config) Validate() error {
	var missing []string
	if c.Broker.URL == "" {
		missing = append(missing, "SALESAGENT_AMQP_URL")
	}
	if c.Database.PostgresDSN == "" {
		missing = append(missing, "SALESAGENT_POSTGRES_DSN")
	}
	if c.AI.APIKey == "" {
		missing = append(missing, "SALESAGENT_GEMINI_API_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	if len(c.FollowUp.IntervalHours) < 5 {
		return fmt.Errorf("follow_up.interval_hours needs at least 5 entries, got %d", len(c.FollowUp.IntervalHours))
	}
	if _, err := time.LoadLocation(c.Hours.Timezone); err != nil {
		return fmt.Errorf("invalid working_hours.timezone %q: %w", c.Hours.Timezone, err)
	}
	return nil
}

// DebounceTimeout returns the buffer quiet period as a duration.
func (c *Config) DebounceTimeout() time.Duration {
	return time.Duration(c.Buffer.DebounceSeconds) * time.Second
}

// FollowUpIntervals returns the touch interval table as durations.
func (c *Config) FollowUpIntervals() []time.Duration {
	out := make([]time.Duration, len(c.FollowUp.IntervalHours))
	for i, h := range c.FollowUp.IntervalHours {
		out[i] = time.Duration(h) * time.Hour
	}
	return out
}
