package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment string

	DBHost     string
	DBPort     string
	DBUsername string
	DBPassword string
	DBName     string
	DBSSLMode  string

	IMAPHost     string
	IMAPUsername string
	IMAPPassword string
	IMAPMailbox  string

	SMTPHost     string
	SMTPUsername string
	SMTPPassword string
	FromAddress  string

	AnthropicAPIKey string
	AnthropicModel  string

	AssistantName string
	SecretKey     string

	HighThreshold float64
	LowThreshold  float64

	PollInterval       time.Duration
	AITimeout          time.Duration
	HistoryLimit       int
	InactivityDuration time.Duration

	Port     string
	Timezone string
}

func NewConfig() (*Config, error) {
	env := os.Getenv("TCMAIL_ENV")
	if env == "" {
		env = "development"
	}

	if env == "development" {
		if err := godotenv.Load(); err != nil {
			fmt.Println("Warning: .env file not found, using environment variables")
		}
	}

	highThreshold, err := getEnvFloat("TCMAIL_HIGH_THRESHOLD", 0.85)
	if err != nil {
		return nil, err
	}
	lowThreshold, err := getEnvFloat("TCMAIL_LOW_THRESHOLD", 0.4)
	if err != nil {
		return nil, err
	}
	pollInterval, err := getEnvDuration("TCMAIL_POLL_INTERVAL", 60*time.Second)
	if err != nil {
		return nil, err
	}
	aiTimeout, err := getEnvDuration("TCMAIL_AI_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}
	historyLimit, err := getEnvInt("TCMAIL_HISTORY_LIMIT", 10)
	if err != nil {
		return nil, err
	}
	inactivity, err := getEnvDuration("TCMAIL_THREAD_INACTIVITY", 14*24*time.Hour)
	if err != nil {
		return nil, err
	}

	config := &Config{
		Environment:        env,
		DBHost:             getEnvOrDefault("TCMAIL_DB_HOST", "localhost"),
		DBPort:             getEnvOrDefault("TCMAIL_DB_PORT", "5432"),
		DBUsername:         getEnvOrDefault("TCMAIL_DB_USER", "tcmail"),
		DBPassword:         os.Getenv("TCMAIL_DB_PASSWORD"),
		DBName:             getEnvOrDefault("TCMAIL_DB_NAME", "tcmail"),
		DBSSLMode:          getEnvOrDefault("TCMAIL_DB_SSLMODE", "disable"),
		IMAPHost:           os.Getenv("TCMAIL_IMAP_HOST"),
		IMAPUsername:       os.Getenv("TCMAIL_IMAP_USER"),
		IMAPPassword:       os.Getenv("TCMAIL_IMAP_PASSWORD"),
		IMAPMailbox:        getEnvOrDefault("TCMAIL_IMAP_MAILBOX", "INBOX"),
		SMTPHost:           os.Getenv("TCMAIL_SMTP_HOST"),
		SMTPUsername:       os.Getenv("TCMAIL_SMTP_USER"),
		SMTPPassword:       os.Getenv("TCMAIL_SMTP_PASSWORD"),
		FromAddress:        os.Getenv("TCMAIL_FROM_ADDRESS"),
		AnthropicAPIKey:    os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicModel:     getEnvOrDefault("TCMAIL_AI_MODEL", "claude-sonnet-4-5"),
		AssistantName:      getEnvOrDefault("TCMAIL_ASSISTANT_NAME", "Nicki"),
		SecretKey:          os.Getenv("TCMAIL_SECRET_KEY"),
		HighThreshold:      highThreshold,
		LowThreshold:       lowThreshold,
		PollInterval:       pollInterval,
		AITimeout:          aiTimeout,
		HistoryLimit:       historyLimit,
		InactivityDuration: inactivity,
		Port:               getEnvOrDefault("PORT", "8080"),
		Timezone:           getEnvOrDefault("TZ", "UTC"),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) Validate() error {
	if c.DBPassword == "" {
		return fmt.Errorf("TCMAIL_DB_PASSWORD is required")
	}

	if c.AnthropicAPIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required")
	}

	if c.SecretKey == "" {
		return fmt.Errorf("TCMAIL_SECRET_KEY is required")
	}

	if c.LowThreshold < 0 || c.HighThreshold > 1 || c.LowThreshold > c.HighThreshold {
		return fmt.Errorf("confidence thresholds must satisfy 0 <= low <= high <= 1, got low=%v high=%v", c.LowThreshold, c.HighThreshold)
	}

	if c.PollInterval <= 0 {
		return fmt.Errorf("TCMAIL_POLL_INTERVAL must be positive")
	}

	if c.HistoryLimit <= 0 {
		return fmt.Errorf("TCMAIL_HISTORY_LIMIT must be positive")
	}

	return nil
}

func (c *Config) GetDatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUsername,
		c.DBPassword,
		c.DBHost,
		c.DBPort,
		c.DBName,
		c.DBSSLMode,
	)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}

	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number, got %q", key, value)
	}
	return parsed, nil
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}

	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, value)
	}
	return parsed, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}

	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration like \"30s\", got %q", key, value)
	}
	return parsed, nil
}
