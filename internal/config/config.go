package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Ledger backends
const (
	BackendMemory = "memory"
	BackendActual = "actual"
	BackendSheets = "sheets"
)

type Config struct {
	// HTTP Server
	Port string

	// Logging
	LogLevel  string
	LogFormat string

	// Backend selection
	LedgerBackend string

	// Memory backend
	MemoryLedgerFile string

	// Actual Budget HTTP API
	ActualAPIURL             string
	ActualAPIKey             string
	ActualBudgetID           string
	ActualEncryptionPassword string
	ActualMaxConcurrency     int
	ActualTimeout            time.Duration

	// Google Sheets
	GoogleSpreadsheetID      string
	GoogleServiceAccountJSON string
	GoogleServiceAccountFile string

	// Cache
	CacheMaxAge            time.Duration
	CacheRetryBackoff      time.Duration
	CacheTransactionMonths int
	CacheBudgetMonths      int

	// Worker
	RefreshInterval  time.Duration
	RefreshTimeout   time.Duration
	RefreshRateLimit int // manual refreshes per minute per client

	// Extra proxy networks whose X-Forwarded-For is honored
	TrustedProxies []string

	// Refresh history
	HistoryEnabled   bool
	HistoryDBPath    string
	HistoryRetention time.Duration

	// AMQP (optional)
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string
}

func Load() *Config {
	cfg := &Config{
		Port: getEnv("PORT", "8081"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		LedgerBackend:    getEnv("LEDGER_BACKEND", BackendMemory),
		MemoryLedgerFile: getEnv("MEMORY_LEDGER_FILE", ""),

		ActualAPIURL:             getEnv("ACTUAL_API_URL", ""),
		ActualAPIKey:             getEnv("ACTUAL_API_KEY", ""),
		ActualBudgetID:           getEnv("ACTUAL_BUDGET_ID", ""),
		ActualEncryptionPassword: getEnv("ACTUAL_ENCRYPTION_PASSWORD", ""),
		ActualMaxConcurrency:     getEnvInt("ACTUAL_MAX_CONCURRENCY", 4),
		ActualTimeout:            getEnvDuration("ACTUAL_TIMEOUT", 30*time.Second),

		GoogleSpreadsheetID:      getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleServiceAccountJSON: getEnv("GOOGLE_SERVICE_ACCOUNT_JSON", ""),
		GoogleServiceAccountFile: getEnv("GOOGLE_SERVICE_ACCOUNT_FILE", ""),

		CacheMaxAge:            getEnvDuration("CACHE_MAX_AGE", 8*time.Hour),
		CacheRetryBackoff:      getEnvDuration("CACHE_RETRY_BACKOFF", 5*time.Minute),
		CacheTransactionMonths: getEnvInt("CACHE_TRANSACTION_MONTHS", 24),
		CacheBudgetMonths:      getEnvInt("CACHE_BUDGET_MONTHS", 24),

		RefreshInterval:  getEnvDuration("REFRESH_INTERVAL", time.Minute),
		RefreshTimeout:   getEnvDuration("REFRESH_TIMEOUT", 5*time.Minute),
		RefreshRateLimit: getEnvInt("REFRESH_RATE_LIMIT", 6),
		TrustedProxies:   getEnvList("TRUSTED_PROXIES"),

		HistoryEnabled:   getEnvBool("HISTORY_ENABLED", true),
		HistoryDBPath:    getEnv("HISTORY_DB_PATH", "./data/ledgercache.db"),
		HistoryRetention: getEnvDuration("HISTORY_RETENTION", 30*24*time.Hour),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "ledgercache"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "refresh_requests"),
	}

	return cfg
}

// Validate validates the configuration and returns an error listing every
// problem found.
func (c *Config) Validate() error {
	var errors []string

	// Validate port
	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be text or json", c.LogFormat))
	}

	// Validate ledger backend
	validBackends := []string{BackendMemory, BackendActual, BackendSheets}
	isValidBackend := false
	for _, backend := range validBackends {
		if c.LedgerBackend == backend {
			isValidBackend = true
			break
		}
	}
	if !isValidBackend {
		errors = append(errors, fmt.Sprintf("invalid ledger backend '%s': must be one of %v", c.LedgerBackend, validBackends))
	}

	if c.LedgerBackend == BackendMemory && c.MemoryLedgerFile != "" {
		if _, err := os.Stat(c.MemoryLedgerFile); err != nil && !os.IsNotExist(err) {
			errors = append(errors, fmt.Sprintf("cannot read memory ledger file '%s': %v", c.MemoryLedgerFile, err))
		}
	}

	// Validate Actual configuration if backend is actual
	if c.LedgerBackend == BackendActual {
		if c.ActualAPIURL == "" {
			errors = append(errors, "ACTUAL_API_URL is required when using actual backend")
		} else if u, err := url.Parse(c.ActualAPIURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			errors = append(errors, fmt.Sprintf("invalid ACTUAL_API_URL '%s': must be an http(s) URL", c.ActualAPIURL))
		}
		if c.ActualAPIKey == "" {
			errors = append(errors, "ACTUAL_API_KEY is required when using actual backend")
		}
		if c.ActualBudgetID == "" {
			errors = append(errors, "ACTUAL_BUDGET_ID is required when using actual backend")
		}
		if c.ActualMaxConcurrency < 1 || c.ActualMaxConcurrency > 32 {
			errors = append(errors, fmt.Sprintf("invalid actual max concurrency %d: must be between 1 and 32", c.ActualMaxConcurrency))
		}
		if c.ActualTimeout < time.Second {
			errors = append(errors, fmt.Sprintf("invalid actual timeout %v: must be at least 1 second", c.ActualTimeout))
		}
	}

	// Validate Google Sheets configuration if backend is sheets
	if c.LedgerBackend == BackendSheets {
		if c.GoogleSpreadsheetID == "" {
			errors = append(errors, "Google Spreadsheet ID is required when using sheets backend")
		}

		hasFile := c.GoogleServiceAccountFile != ""
		hasJSON := c.GoogleServiceAccountJSON != ""
		if !hasFile && !hasJSON {
			errors = append(errors, "either GOOGLE_SERVICE_ACCOUNT_FILE or GOOGLE_SERVICE_ACCOUNT_JSON must be provided for sheets backend")
		}

		if hasFile {
			if _, err := os.Stat(c.GoogleServiceAccountFile); os.IsNotExist(err) {
				errors = append(errors, fmt.Sprintf("Google service account file does not exist: %s", c.GoogleServiceAccountFile))
			}
		}
	}

	// Validate cache policy
	if c.CacheMaxAge < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid cache max age %v: must be at least 1 minute", c.CacheMaxAge))
	}
	if c.CacheRetryBackoff < time.Second {
		errors = append(errors, fmt.Sprintf("invalid cache retry backoff %v: must be at least 1 second", c.CacheRetryBackoff))
	}
	if c.CacheTransactionMonths < 1 || c.CacheTransactionMonths > 120 {
		errors = append(errors, fmt.Sprintf("invalid cache transaction months %d: must be between 1 and 120", c.CacheTransactionMonths))
	}
	if c.CacheBudgetMonths < 1 || c.CacheBudgetMonths > 120 {
		errors = append(errors, fmt.Sprintf("invalid cache budget months %d: must be between 1 and 120", c.CacheBudgetMonths))
	}

	// Validate worker configuration
	if c.RefreshInterval < time.Second {
		errors = append(errors, fmt.Sprintf("invalid refresh interval %v: must be at least 1 second", c.RefreshInterval))
	} else if c.RefreshInterval > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid refresh interval %v: must be at most 24 hours", c.RefreshInterval))
	}
	if c.RefreshTimeout < time.Second {
		errors = append(errors, fmt.Sprintf("invalid refresh timeout %v: must be at least 1 second", c.RefreshTimeout))
	}
	for _, cidr := range c.TrustedProxies {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			errors = append(errors, fmt.Sprintf("invalid trusted proxy '%s': must be a CIDR", cidr))
		}
	}
	if c.RefreshRateLimit < 1 {
		errors = append(errors, fmt.Sprintf("invalid refresh rate limit %d: must be at least 1", c.RefreshRateLimit))
	}

	// Validate history configuration
	if c.HistoryEnabled {
		if c.HistoryDBPath == "" {
			errors = append(errors, "history database path cannot be empty when history is enabled")
		} else {
			dir := filepath.Dir(c.HistoryDBPath)
			if dir != "." && dir != "" {
				if _, err := os.Stat(dir); os.IsNotExist(err) {
					if err := os.MkdirAll(dir, 0755); err != nil {
						errors = append(errors, fmt.Sprintf("cannot create history database directory '%s': %v", dir, err))
					}
				}
			}
		}
		if c.HistoryRetention < time.Hour {
			errors = append(errors, fmt.Sprintf("invalid history retention %v: must be at least 1 hour", c.HistoryRetention))
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

	// Return combined errors
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// getEnvList splits a comma-separated variable, dropping blanks.
func getEnvList(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
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

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
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
