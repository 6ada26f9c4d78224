// Package config provides environment configuration for the API server.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string        `mapstructure:"port"`
	ServerReadTimeout  time.Duration `mapstructure:"server_read_timeout"`
	ServerWriteTimeout time.Duration `mapstructure:"server_write_timeout"`
	PortalBaseURL      string        `mapstructure:"portal_base_url"`

	// Store settings
	StoreDriver string `mapstructure:"store_driver"`
	DatabaseURL string `mapstructure:"database_url"`

	// Event mirror settings
	EventsBackend string   `mapstructure:"events_backend"`
	NATSURL       string   `mapstructure:"nats_url"`
	NATSCAFile    string   `mapstructure:"nats_ca_file"`
	NATSCertFile  string   `mapstructure:"nats_cert_file"`
	NATSKeyFile   string   `mapstructure:"nats_key_file"`
	NATSToken     string   `mapstructure:"nats_token"`
	KafkaBrokers  []string `mapstructure:"kafka_brokers"`
	KafkaTopic    string   `mapstructure:"kafka_topic"`

	// Notification bus settings
	AMQPURL      string `mapstructure:"amqp_url"`
	AMQPExchange string `mapstructure:"amqp_exchange"`

	// JWT settings
	JWTSecret string `mapstructure:"jwt_secret"`

	// LLM settings
	AnthropicAPIKey       string        `mapstructure:"anthropic_api_key"`
	OpenAIAPIKey          string        `mapstructure:"openai_api_key"`
	DefaultLLM            string        `mapstructure:"default_llm"`
	ClassifierModel       string        `mapstructure:"classifier_model"`
	ClassifierTemperature float64       `mapstructure:"classifier_temperature"`
	ClassifierMaxTokens   int           `mapstructure:"classifier_max_tokens"`
	ClassifierTimeout     time.Duration `mapstructure:"classifier_timeout"`
	ReplyModel            string        `mapstructure:"reply_model"`
	ReplyTemperature      float64       `mapstructure:"reply_temperature"`
	ReplyMaxTokens        int           `mapstructure:"reply_max_tokens"`
	ReplyTimeout          time.Duration `mapstructure:"reply_timeout"`
	PromptsFile           string        `mapstructure:"prompts_file"`

	// Mail settings
	MailAPIURL      string        `mapstructure:"mail_api_url"`
	MailAPIKey      string        `mapstructure:"mail_api_key"`
	MailSender      string        `mapstructure:"mail_sender"`
	MailSenderName  string        `mapstructure:"mail_sender_name"`
	MailMaxAttempts int           `mapstructure:"mail_max_attempts"`
	MailBackoffBase time.Duration `mapstructure:"mail_backoff_base"`
	EscalationEmail string        `mapstructure:"escalation_email"`

	// Twilio settings
	TwilioAccountSID     string `mapstructure:"twilio_account_sid"`
	TwilioAuthToken      string `mapstructure:"twilio_auth_token"`
	TwilioWhatsAppNumber string `mapstructure:"twilio_whatsapp_number"`
	WebhookPublicURL     string `mapstructure:"whatsapp_webhook_url"`
	SkipTwilioSignature  bool   `mapstructure:"skip_twilio_signature"`

	// Rate limiting
	RateLimitRequests int           `mapstructure:"rate_limit_requests"`
	RateLimitWindow   time.Duration `mapstructure:"rate_limit_window"`
	SenderRateLimit   int           `mapstructure:"sender_rate_limit"`
	SenderRateWindow  time.Duration `mapstructure:"sender_rate_window"`

	// Logging
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	// Tracing
	TracingEndpoint string `mapstructure:"tracing_endpoint"`
	TracingEnabled  bool   `mapstructure:"tracing_enabled"`
}

var defaults = map[string]any{
	// Server
	"port":                 "8080",
	"server_read_timeout":  30 * time.Second,
	"server_write_timeout": 120 * time.Second,
	"portal_base_url":      "https://portal.lideresenseguros.com",

	// Store
	"store_driver": "memory",
	"database_url": "",

	// Event mirror
	"events_backend": "none",
	"nats_url":       "nats://localhost:4222",
	"nats_ca_file":   "",
	"nats_cert_file": "",
	"nats_key_file":  "",
	"nats_token":     "",
	"kafka_brokers":  []string{"localhost:9092"},
	"kafka_topic":    "chat-thread-events",

	// Notification bus
	"amqp_url":      "",
	"amqp_exchange": "notifications",

	// JWT
	"jwt_secret": "development-secret-change-in-production",

	// LLM
	"anthropic_api_key":      "",
	"openai_api_key":         "",
	"default_llm":            "anthropic",
	"classifier_model":       "",
	"classifier_temperature": 0.2,
	"classifier_max_tokens":  1024,
	"classifier_timeout":     20 * time.Second,
	"reply_model":            "",
	"reply_temperature":      0.6,
	"reply_max_tokens":       512,
	"reply_timeout":          25 * time.Second,
	"prompts_file":           "",

	// Mail
	"mail_api_url":      "https://api.zeptomail.com/v1.1/email",
	"mail_api_key":      "",
	"mail_sender":       "portal@lideresenseguros.com",
	"mail_sender_name":  "Líderes en Seguros",
	"mail_max_attempts": 3,
	"mail_backoff_base": time.Second,
	"escalation_email":  "contacto@lideresenseguros.com",

	// Twilio
	"twilio_account_sid":     "",
	"twilio_auth_token":      "",
	"twilio_whatsapp_number": "",
	"whatsapp_webhook_url":   "https://portal.lideresenseguros.com/api/whatsapp",
	"skip_twilio_signature":  false,

	// Rate limiting
	"rate_limit_requests": 60,
	"rate_limit_window":   time.Minute,
	"sender_rate_limit":   20,
	"sender_rate_window":  time.Minute,

	// Logging
	"log_level":  "info",
	"log_format": "json",

	// Tracing
	"tracing_endpoint": "localhost:4318",
	"tracing_enabled":  false,
}

// Load reads configuration from the environment and an optional config file
// named by CONFIG_FILE.
func Load() (*Config, error) {
	v := viper.New()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := v.GetString("config_file"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks settings that would otherwise fail late at startup.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case "memory":
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.StoreDriver)
	}

	switch c.EventsBackend {
	case "none", "nats", "kafka":
	default:
		return fmt.Errorf("unknown events backend %q", c.EventsBackend)
	}

	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}

	if c.MailMaxAttempts < 1 {
		return fmt.Errorf("MAIL_MAX_ATTEMPTS must be at least 1")
	}

	return nil
}
