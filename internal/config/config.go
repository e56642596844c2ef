// Package config loads service configuration for go-attention commands.
//
// Values come from a YAML file (config.yaml, or CONFIG_PATH), are then
// overridden by environment variables, and finally defaulted.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/teslashibe/go-attention/pkg/escalation"
)

// Default configuration values.
const (
	DefaultPort              = "8080"
	DefaultLogLevel          = "info"
	DefaultLLMProvider       = "anthropic"
	DefaultMessageTimeoutSec = 8
	DefaultOracleMode        = "off"
	DefaultOracleIntervalSec = 3
	DefaultOracleStaleSec    = 10
	DefaultMQTTTopic         = "attention/oracle/verdict"
	DefaultClassifyRate      = 10.0
	DefaultPollIntervalMs    = 500
	DefaultFirstEscalation   = 5
	DefaultSecondEscalation  = 10
	DefaultThirdEscalation   = 15
	DefaultFocusResetSec     = 30
)

// Oracle modes.
const (
	OracleOff    = "off"
	OracleVision = "vision"
	OracleMQTT   = "mqtt"
)

// Config holds all configuration for the attention service.
type Config struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"log_level"`

	// Message generation
	LLMProvider       string `yaml:"llm_provider"` // anthropic, openai, gemini, none
	LLMModel          string `yaml:"llm_model"`
	AnthropicAPIKey   string `yaml:"anthropic_api_key"`
	OpenAIAPIKey      string `yaml:"openai_api_key"`
	OpenAIBaseURL     string `yaml:"openai_base_url"`
	GoogleAPIKey      string `yaml:"google_api_key"`
	MessageTimeoutSec int    `yaml:"message_timeout_seconds"`

	// Secondary vision oracle
	OracleMode        string `yaml:"oracle_mode"` // off, vision, mqtt
	OracleIntervalSec int    `yaml:"oracle_interval_seconds"`
	OracleStaleSec    int    `yaml:"oracle_stale_seconds"`
	MQTTBroker        string `yaml:"mqtt_broker"`
	MQTTTopic         string `yaml:"mqtt_topic"`
	MQTTClientID      string `yaml:"mqtt_client_id"`
	MQTTUsername      string `yaml:"mqtt_username"`
	MQTTPassword      string `yaml:"mqtt_password"`

	// Terminal-level notifications
	SlackBotToken  string `yaml:"slack_bot_token"`
	SlackChannelID string `yaml:"slack_channel_id"`

	// Timing
	ClassifyRate   float64 `yaml:"classify_rate"`
	PollIntervalMs int     `yaml:"poll_interval_ms"`

	// Escalation ladder, in seconds
	FirstEscalationSec  int `yaml:"first_escalation_seconds"`
	SecondEscalationSec int `yaml:"second_escalation_seconds"`
	ThirdEscalationSec  int `yaml:"third_escalation_seconds"`
	FocusResetSec       int `yaml:"focus_reset_seconds"`
}

// MessageTimeout returns the message generation timeout.
func (c Config) MessageTimeout() time.Duration {
	return time.Duration(c.MessageTimeoutSec) * time.Second
}

// OracleInterval returns how often the vision oracle is consulted.
func (c Config) OracleInterval() time.Duration {
	return time.Duration(c.OracleIntervalSec) * time.Second
}

// OracleStaleAfter returns how long an oracle verdict stays usable.
func (c Config) OracleStaleAfter() time.Duration {
	return time.Duration(c.OracleStaleSec) * time.Second
}

// PollInterval returns the escalation poll interval.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// Escalation returns the ladder timing.
func (c Config) Escalation() escalation.Config {
	return escalation.Config{
		PollInterval:     c.PollInterval(),
		FirstEscalation:  time.Duration(c.FirstEscalationSec) * time.Second,
		SecondEscalation: time.Duration(c.SecondEscalationSec) * time.Second,
		ThirdEscalation:  time.Duration(c.ThirdEscalationSec) * time.Second,
		FocusReset:       time.Duration(c.FocusResetSec) * time.Second,
		MessageTimeout:   c.MessageTimeout(),
	}
}

// SlackEnabled reports whether terminal-level Slack notifications are configured.
func (c Config) SlackEnabled() bool {
	return c.SlackBotToken != "" && c.SlackChannelID != ""
}

// Load reads config.yaml (or CONFIG_PATH), applies environment overrides
// and defaults, and validates the result. A missing file is not an error.
func Load() (Config, error) {
	path := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		path = envPath
	}
	return LoadFile(path)
}

// LoadFile is Load with an explicit file path.
func LoadFile(path string) (Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the configuration is internally consistent.
func (c Config) Validate() error {
	switch c.OracleMode {
	case OracleOff, OracleVision:
	case OracleMQTT:
		if c.MQTTBroker == "" {
			return fmt.Errorf("config: oracle_mode=mqtt requires mqtt_broker")
		}
	default:
		return fmt.Errorf("config: unknown oracle_mode %q", c.OracleMode)
	}

	switch c.LLMProvider {
	case "anthropic", "openai", "gemini", "none":
	default:
		return fmt.Errorf("config: unknown llm_provider %q", c.LLMProvider)
	}

	if (c.SlackBotToken == "") != (c.SlackChannelID == "") {
		return fmt.Errorf("config: slack_bot_token and slack_channel_id must be set together")
	}
	if c.ClassifyRate <= 0 {
		return fmt.Errorf("config: classify_rate must be positive")
	}
	if c.PollIntervalMs <= 0 {
		return fmt.Errorf("config: poll_interval_ms must be positive")
	}
	if c.FirstEscalationSec <= 0 || c.SecondEscalationSec <= 0 || c.ThirdEscalationSec <= 0 || c.FocusResetSec <= 0 {
		return fmt.Errorf("config: escalation timings must be positive")
	}
	return nil
}

func applyEnv(cfg *Config) {
	envOverride(&cfg.Port, "PORT")
	envOverride(&cfg.LogLevel, "LOG_LEVEL")
	envOverride(&cfg.LLMProvider, "LLM_PROVIDER")
	envOverride(&cfg.LLMModel, "LLM_MODEL")
	envOverride(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	envOverride(&cfg.OpenAIAPIKey, "OPENAI_API_KEY")
	envOverride(&cfg.OpenAIBaseURL, "OPENAI_BASE_URL")
	envOverride(&cfg.GoogleAPIKey, "GOOGLE_API_KEY")
	envOverrideInt(&cfg.MessageTimeoutSec, "MESSAGE_TIMEOUT_SECONDS")
	envOverride(&cfg.OracleMode, "ORACLE_MODE")
	envOverrideInt(&cfg.OracleIntervalSec, "ORACLE_INTERVAL_SECONDS")
	envOverrideInt(&cfg.OracleStaleSec, "ORACLE_STALE_SECONDS")
	envOverride(&cfg.MQTTBroker, "MQTT_BROKER")
	envOverride(&cfg.MQTTTopic, "MQTT_TOPIC")
	envOverride(&cfg.MQTTClientID, "MQTT_CLIENT_ID")
	envOverride(&cfg.MQTTUsername, "MQTT_USERNAME")
	envOverride(&cfg.MQTTPassword, "MQTT_PASSWORD")
	envOverride(&cfg.SlackBotToken, "SLACK_BOT_TOKEN")
	envOverride(&cfg.SlackChannelID, "SLACK_CHANNEL_ID")
	envOverrideFloat(&cfg.ClassifyRate, "CLASSIFY_RATE")
	envOverrideInt(&cfg.PollIntervalMs, "POLL_INTERVAL_MS")
	envOverrideInt(&cfg.FirstEscalationSec, "FIRST_ESCALATION_SECONDS")
	envOverrideInt(&cfg.SecondEscalationSec, "SECOND_ESCALATION_SECONDS")
	envOverrideInt(&cfg.ThirdEscalationSec, "THIRD_ESCALATION_SECONDS")
	envOverrideInt(&cfg.FocusResetSec, "FOCUS_RESET_SECONDS")
}

func applyDefaults(cfg *Config) {
	if cfg.Port == "" {
		cfg.Port = DefaultPort
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}
	cfg.LLMProvider = strings.ToLower(cfg.LLMProvider)
	if cfg.LLMProvider == "" {
		cfg.LLMProvider = DefaultLLMProvider
	}
	if cfg.MessageTimeoutSec == 0 {
		cfg.MessageTimeoutSec = DefaultMessageTimeoutSec
	}
	cfg.OracleMode = strings.ToLower(cfg.OracleMode)
	if cfg.OracleMode == "" {
		cfg.OracleMode = DefaultOracleMode
	}
	if cfg.OracleIntervalSec == 0 {
		cfg.OracleIntervalSec = DefaultOracleIntervalSec
	}
	if cfg.OracleStaleSec == 0 {
		cfg.OracleStaleSec = DefaultOracleStaleSec
	}
	if cfg.MQTTTopic == "" {
		cfg.MQTTTopic = DefaultMQTTTopic
	}
	if cfg.MQTTClientID == "" {
		cfg.MQTTClientID = "go-attention"
	}
	if cfg.ClassifyRate == 0 {
		cfg.ClassifyRate = DefaultClassifyRate
	}
	if cfg.PollIntervalMs == 0 {
		cfg.PollIntervalMs = DefaultPollIntervalMs
	}
	if cfg.FirstEscalationSec == 0 {
		cfg.FirstEscalationSec = DefaultFirstEscalation
	}
	if cfg.SecondEscalationSec == 0 {
		cfg.SecondEscalationSec = DefaultSecondEscalation
	}
	if cfg.ThirdEscalationSec == 0 {
		cfg.ThirdEscalationSec = DefaultThirdEscalation
	}
	if cfg.FocusResetSec == 0 {
		cfg.FocusResetSec = DefaultFocusResetSec
	}
}

func envOverride(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func envOverrideInt(dst *int, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envOverrideFloat(dst *float64, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}
