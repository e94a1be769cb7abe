package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/atolye/mailwire/pkg/models"
)

// Config application configuration
type Config struct {
	// IMAP
	IMAPHost        string        `env:"IMAP_HOST"`
	IMAPPort        int           `env:"IMAP_PORT" envDefault:"993"`
	IMAPUsername    string        `env:"IMAP_USERNAME"`
	IMAPPassword    string        `env:"IMAP_PASSWORD"`
	IMAPEncryption  string        `env:"IMAP_ENCRYPTION" envDefault:"tls"` // "tls", "starttls" or "none"
	IMAPDialTimeout time.Duration `env:"IMAP_DIAL_TIMEOUT" envDefault:"30s"`

	// POP3
	POP3Host        string        `env:"POP3_HOST"`
	POP3Port        int           `env:"POP3_PORT" envDefault:"995"`
	POP3Username    string        `env:"POP3_USERNAME"`
	POP3Password    string        `env:"POP3_PASSWORD"`
	POP3Encryption  string        `env:"POP3_ENCRYPTION" envDefault:"tls"`
	POP3DialTimeout time.Duration `env:"POP3_DIAL_TIMEOUT" envDefault:"30s"`
	POP3MaxRetries  int           `env:"POP3_MAX_RETRIES" envDefault:"3"`
	POP3PoolSize    int           `env:"POP3_POOL_SIZE" envDefault:"3"`

	// SMTP
	SMTPHost        string        `env:"SMTP_HOST"`
	SMTPPort        int           `env:"SMTP_PORT" envDefault:"587"`
	SMTPUsername    string        `env:"SMTP_USERNAME"`
	SMTPPassword    string        `env:"SMTP_PASSWORD"`
	SMTPEncryption  string        `env:"SMTP_ENCRYPTION" envDefault:"starttls"`
	SMTPDialTimeout time.Duration `env:"SMTP_DIAL_TIMEOUT" envDefault:"30s"`
	SMTPMaxRetries  int           `env:"SMTP_MAX_RETRIES" envDefault:"3"`

	// Pool
	PoolMaxPerEndpoint int           `env:"POOL_MAX_PER_ENDPOINT" envDefault:"5"`
	PoolMaxIdle        time.Duration `env:"POOL_MAX_IDLE" envDefault:"5m"`
	PoolMaxAge         time.Duration `env:"POOL_MAX_AGE" envDefault:"1h"`
	PoolSweepInterval  time.Duration `env:"POOL_SWEEP_INTERVAL" envDefault:"1m"`

	// Database
	DatabasePath string `env:"DATABASE_PATH" envDefault:"./data/mailwire.db"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"` // "json" or "text"
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// IMAPEndpoint builds the configured IMAP endpoint.
func (c *Config) IMAPEndpoint() (models.Endpoint, error) {
	return c.endpoint("IMAP", c.IMAPHost, c.IMAPPort, c.IMAPUsername, c.IMAPPassword, c.IMAPEncryption, c.IMAPDialTimeout, 0)
}

// POP3Endpoint builds the configured POP3 endpoint.
func (c *Config) POP3Endpoint() (models.Endpoint, error) {
	return c.endpoint("POP3", c.POP3Host, c.POP3Port, c.POP3Username, c.POP3Password, c.POP3Encryption, c.POP3DialTimeout, c.POP3MaxRetries)
}

// SMTPEndpoint builds the configured SMTP endpoint.
func (c *Config) SMTPEndpoint() (models.Endpoint, error) {
	return c.endpoint("SMTP", c.SMTPHost, c.SMTPPort, c.SMTPUsername, c.SMTPPassword, c.SMTPEncryption, c.SMTPDialTimeout, c.SMTPMaxRetries)
}

func (c *Config) endpoint(proto, host string, port int, user, pass, enc string, timeout time.Duration, retries int) (models.Endpoint, error) {
	if host == "" {
		return models.Endpoint{}, fmt.Errorf("%s_HOST is not set", proto)
	}
	encryption, err := parseEncryption(enc)
	if err != nil {
		return models.Endpoint{}, fmt.Errorf("%s_ENCRYPTION: %w", proto, err)
	}
	return models.Endpoint{
		Host:        host,
		Port:        port,
		Username:    user,
		Password:    pass,
		Encryption:  encryption,
		DialTimeout: timeout,
		MaxRetries:  retries,
	}, nil
}

func parseEncryption(s string) (models.Encryption, error) {
	switch s {
	case "tls", "ssl":
		return models.EncryptionTLS, nil
	case "starttls":
		return models.EncryptionSTARTTLS, nil
	case "none", "":
		return models.EncryptionNone, nil
	default:
		return "", fmt.Errorf("unknown mode %q (want tls, starttls or none)", s)
	}
}
