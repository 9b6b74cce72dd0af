package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	werrors "sjsage522/noticewatcher/pkg/errors"
)

// State backends
const (
	StateBackendFile   = "file"
	StateBackendSQLite = "sqlite"
)

// Config represents the application configuration
type Config struct {
	// Environment
	Environment  string
	ErrorLogFile string

	// Sources and state
	SourcesFile  string
	StateBackend string
	StateFile    string

	// Driver configuration
	CrawlInterval     time.Duration
	FetchTimeout      time.Duration
	RetryMaxAttempts  int
	RetryInitialWait  time.Duration
	Workers           int
	NotifyOnFirstSeen bool

	// Notifiers lists the enabled notifiers: email, redis, log
	Notifiers []string

	// Email configuration
	FromEmail   string
	ToEmail     []string
	AppPassword string
	SMTPAddr    string

	// Redis configuration
	RedisAddr            string
	RedisDB              int
	RedisStream          string
	RedisStreamCount     int
	RedisStreamMaxLength int

	// Memcache configuration; empty keeps cooldowns in memory
	MemcacheAddr   string
	RateLimitBlock time.Duration

	// Browser configuration
	ChromeRemoteURL string
	ChromeBin       string

	// Notion configuration
	NotionAPIKey  string
	NotionDBID    string
	NotionBaseURL string
}

// LoadConfig loads the configuration from environment variables with defaults
func LoadConfig() *Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	redisStreamCount, _ := strconv.Atoi(getEnv("REDIS_STREAM_COUNT", "1"))
	redisStreamMaxLength, _ := strconv.Atoi(getEnv("REDIS_STREAM_MAX_LENGTH", "1000"))
	crawlInterval, _ := strconv.Atoi(getEnv("CRAWL_INTERVAL_SECONDS", "300"))
	fetchTimeout, _ := strconv.Atoi(getEnv("FETCH_TIMEOUT_SECONDS", "30"))
	retryMaxAttempts, _ := strconv.Atoi(getEnv("RETRY_MAX_ATTEMPTS", "3"))
	retryInitialWait, _ := strconv.Atoi(getEnv("RETRY_INITIAL_WAIT_MS", "1000"))
	workers, _ := strconv.Atoi(getEnv("WORKERS", "4"))
	blockSeconds, _ := strconv.Atoi(getEnv("RATE_LIMIT_BLOCK_SECONDS", "300"))
	notifyOnFirstSeen, _ := strconv.ParseBool(getEnv("NOTIFY_ON_FIRST_SEEN", "false"))

	cfg := &Config{
		Environment:          getEnv("WATCH_ENVIRONMENT", "development"),
		ErrorLogFile:         getEnv("ERROR_LOG_FILE", ""),
		SourcesFile:          getEnv("SOURCES_FILE", "sources.yaml"),
		StateBackend:         getEnv("STATE_BACKEND", StateBackendFile),
		StateFile:            getEnv("STATE_FILE", "storage.json"),
		CrawlInterval:        time.Duration(crawlInterval) * time.Second,
		FetchTimeout:         time.Duration(fetchTimeout) * time.Second,
		RetryMaxAttempts:     retryMaxAttempts,
		RetryInitialWait:     time.Duration(retryInitialWait) * time.Millisecond,
		Workers:              workers,
		NotifyOnFirstSeen:    notifyOnFirstSeen,
		Notifiers:            splitList(getEnv("NOTIFIERS", "")),
		FromEmail:            getEnv("FROM_EMAIL", ""),
		ToEmail:              splitList(getEnv("TO_EMAIL", "")),
		AppPassword:          getEnv("APP_PASSWORD", ""),
		SMTPAddr:             getEnv("SMTP_ADDR", "smtp.gmail.com:465"),
		RedisAddr:            getEnv("REDIS_ADDR", ""),
		RedisDB:              redisDB,
		RedisStream:          getEnv("REDIS_STREAM", "notices"),
		RedisStreamCount:     redisStreamCount,
		RedisStreamMaxLength: redisStreamMaxLength,
		MemcacheAddr:         getEnv("MEMCACHE_ADDR", ""),
		RateLimitBlock:       time.Duration(blockSeconds) * time.Second,
		ChromeRemoteURL:      getEnv("CHROME_REMOTE_URL", ""),
		ChromeBin:            getEnv("CHROME_BIN", ""),
		NotionAPIKey:         getEnv("NOTION_API_KEY", ""),
		NotionDBID:           getEnv("NOTION_DB_ID", ""),
		NotionBaseURL:        getEnv("NOTION_BASE_URL", ""),
	}

	if len(cfg.Notifiers) == 0 {
		cfg.Notifiers = cfg.defaultNotifiers()
	}

	return cfg
}

// defaultNotifiers enables every notifier that has its settings present
func (c *Config) defaultNotifiers() []string {
	var names []string
	if c.FromEmail != "" {
		names = append(names, "email")
	}
	if c.RedisAddr != "" {
		names = append(names, "redis")
	}
	if len(names) == 0 {
		names = append(names, "log")
	}
	return names
}

// IsProduction reports whether WATCH_ENVIRONMENT is production
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Validate checks the settings the driver depends on
func (c *Config) Validate() error {
	var problems []string

	switch c.StateBackend {
	case StateBackendFile, StateBackendSQLite:
	default:
		problems = append(problems, fmt.Sprintf("STATE_BACKEND must be %q or %q, got %q", StateBackendFile, StateBackendSQLite, c.StateBackend))
	}
	if c.StateFile == "" {
		problems = append(problems, "STATE_FILE is empty")
	}
	if c.CrawlInterval <= 0 {
		problems = append(problems, "CRAWL_INTERVAL_SECONDS must be positive")
	}
	if c.FetchTimeout <= 0 {
		problems = append(problems, "FETCH_TIMEOUT_SECONDS must be positive")
	}
	if c.RetryMaxAttempts < 1 {
		problems = append(problems, "RETRY_MAX_ATTEMPTS must be at least 1")
	}
	if c.Workers < 1 {
		problems = append(problems, "WORKERS must be at least 1")
	}

	for _, name := range c.Notifiers {
		switch name {
		case "email":
			if c.FromEmail == "" || len(c.ToEmail) == 0 {
				problems = append(problems, "email notifier needs FROM_EMAIL and TO_EMAIL")
			}
		case "redis":
			if c.RedisAddr == "" {
				problems = append(problems, "redis notifier needs REDIS_ADDR")
			}
		case "log":
		default:
			problems = append(problems, fmt.Sprintf("unknown notifier %q", name))
		}
	}

	if len(problems) > 0 {
		return werrors.NewConfiguration(strings.Join(problems, "; "), nil)
	}
	return nil
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// splitList splits a comma separated value, dropping blanks
func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
