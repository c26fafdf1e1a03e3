package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// HTTP Server
	Port string

	// Database
	SQLiteDBPath string

	// AMQP
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Transaction source
	SourceBackend      string
	FlinksAPIURL       string
	FlinksCustomerID   string
	FlinksBearerToken  string
	FlinksRatePerMin   int
	MaxTransactionDays int

	// Fetch cache
	SessionTimeout       time.Duration
	UsePersistentStorage bool

	// Analysis
	SignificantChangeThreshold float64
	HistoryPeriods             int
	TaxonomyPath               string

	// API
	RateLimitPerMinute int
}

func Load() *Config {
	cfg := &Config{
		Port:         getEnv("PORT", "8081"),
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/rufous.db"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "rufous"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "recategorize_accounts"),

		SourceBackend:      getEnv("SOURCE_BACKEND", "memory"),
		FlinksAPIURL:       getEnv("FLINKS_API_URL", ""),
		FlinksCustomerID:   getEnv("FLINKS_CUSTOMER_ID", ""),
		FlinksBearerToken:  getEnv("FLINKS_BEARER_TOKEN", ""),
		FlinksRatePerMin:   getEnvInt("FLINKS_RATE_PER_MINUTE", 60),
		MaxTransactionDays: getEnvInt("MAX_TRANSACTION_DAYS", 365),

		SessionTimeout:       getEnvDuration("SESSION_TIMEOUT", 30*time.Minute),
		UsePersistentStorage: getEnvBool("USE_PERSISTENT_STORAGE", false),

		SignificantChangeThreshold: getEnvFloat("SIGNIFICANT_CHANGE_THRESHOLD", 0.20),
		HistoryPeriods:             getEnvInt("HISTORY_PERIODS", 3),
		TaxonomyPath:               getEnv("TAXONOMY_PATH", ""),

		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 60),
	}

	return cfg
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	// Validate port
	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	// Validate source backend
	validBackends := []string{"memory", "flinks"}
	isValidBackend := false
	for _, backend := range validBackends {
		if c.SourceBackend == backend {
			isValidBackend = true
			break
		}
	}
	if !isValidBackend {
		errors = append(errors, fmt.Sprintf("invalid source backend '%s': must be one of %v", c.SourceBackend, validBackends))
	}

	// Validate Flinks configuration if backend is flinks
	if c.SourceBackend == "flinks" {
		if c.FlinksAPIURL == "" {
			errors = append(errors, "Flinks API URL is required when using flinks backend")
		} else if parsedURL, err := url.Parse(c.FlinksAPIURL); err != nil || parsedURL.Scheme == "" {
			errors = append(errors, fmt.Sprintf("invalid Flinks API URL '%s'", c.FlinksAPIURL))
		}
		if c.FlinksCustomerID == "" {
			errors = append(errors, "Flinks customer ID is required when using flinks backend")
		}
	}

	// Validate SQLite configuration if persistence is enabled
	if c.UsePersistentStorage {
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when persistent storage is enabled")
		} else {
			// Check if directory exists or can be created
			dir := filepath.Dir(c.SQLiteDBPath)
			if dir != "." && dir != "" {
				if _, err := os.Stat(dir); os.IsNotExist(err) {
					if err := os.MkdirAll(dir, 0755); err != nil {
						errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
					}
				}
			}
		}
	}

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}

		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	// Validate cache and analysis tuning
	if c.SessionTimeout < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid session timeout %v: must be at least 1 minute", c.SessionTimeout))
	} else if c.SessionTimeout > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid session timeout %v: must be at most 24 hours", c.SessionTimeout))
	}

	if c.MaxTransactionDays < 1 || c.MaxTransactionDays > 365 {
		errors = append(errors, fmt.Sprintf("invalid max transaction days %d: must be between 1 and 365", c.MaxTransactionDays))
	}

	if c.SignificantChangeThreshold <= 0 || c.SignificantChangeThreshold > 1 {
		errors = append(errors, fmt.Sprintf("invalid significant change threshold %v: must be in (0, 1]", c.SignificantChangeThreshold))
	}

	if c.HistoryPeriods < 0 || c.HistoryPeriods > 12 {
		errors = append(errors, fmt.Sprintf("invalid history periods %d: must be between 0 and 12", c.HistoryPeriods))
	}

	if c.TaxonomyPath != "" {
		if _, err := os.Stat(c.TaxonomyPath); os.IsNotExist(err) {
			errors = append(errors, fmt.Sprintf("taxonomy file does not exist: %s", c.TaxonomyPath))
		}
	}

	if c.RateLimitPerMinute < 1 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %d: must be at least 1", c.RateLimitPerMinute))
	}

	// Return combined errors
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
