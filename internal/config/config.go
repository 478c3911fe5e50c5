package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/kode4food/timebox"

	"github.com/kode4food/tollgate/internal/notify"
	"github.com/kode4food/tollgate/pkg/api"
	"github.com/kode4food/tollgate/pkg/log"
)

type (
	// Config holds configuration settings for the tollgate service
	Config struct {
		// API Server
		APIHost  string
		APIPort  int
		LogLevel string

		// Journal
		Journal   timebox.StoreConfig
		CacheSize int

		// Engine
		Mode             Mode
		StepLease        time.Duration
		PollInterval     time.Duration
		SweepInterval    time.Duration
		MaxInlineBackoff time.Duration
		ExecutionTimeout time.Duration
		Retry            api.RetryPolicy

		// Approvals
		ApprovalTimeout time.Duration
		Slack           notify.SlackConfig

		// Archiving
		RetentionPeriod  time.Duration
		ArchiveInterval  time.Duration
		ArchiveBucketURL string

		ShutdownTimeout time.Duration
	}

	// Mode selects how an execution behaves at an unresolved await
	Mode string
)

const (
	// ModeBlocking holds the invoking goroutine until the callback settles
	ModeBlocking Mode = "blocking"

	// ModeEphemeral ends the invocation and re-invokes the execution when
	// the callback settles or a scheduled resume time arrives
	ModeEphemeral Mode = "ephemeral"
)

const (
	DefaultAPIPort = 8080
	DefaultAPIHost = "0.0.0.0"
	MaxTCPPort     = 65535
	DefaultRedisDB = 0

	DefaultRedisEndpoint       = "localhost:6379"
	DefaultRedisPrefix         = "tollgate"
	DefaultSnapshotWorkers     = 4
	DefaultSnapshotQueueSize   = 1000
	DefaultSnapshotSaveTimeout = 30 * time.Second
	DefaultCacheSize           = 4096

	DefaultMode             = ModeEphemeral
	DefaultStepLease        = 30 * time.Second
	DefaultPollInterval     = 5 * time.Second
	DefaultSweepInterval    = time.Second
	DefaultMaxInlineBackoff = 5 * time.Second
	DefaultExecutionTimeout = 15 * time.Minute
	DefaultApprovalTimeout  = 3 * time.Minute
	DefaultRetryMaxDelay    = time.Minute

	DefaultRetentionPeriod = 30 * 24 * time.Hour
	DefaultArchiveInterval = time.Hour
	DefaultShutdownTimeout = 10 * time.Second

	MaxCacheSize        = 1_000_000
	MaxRetryMaxAttempts = 1000
	MaxDuration         = 365 * 24 * time.Hour
)

var (
	ErrInvalidAPIPort       = errors.New("invalid API port")
	ErrInvalidMode          = errors.New("invalid execution mode")
	ErrInvalidStepLease     = errors.New("step lease must be positive")
	ErrInvalidPollInterval  = errors.New("poll interval must be positive")
	ErrInvalidSweepInterval = errors.New("sweep interval must be positive")
	ErrInvalidRetryPolicy   = errors.New("invalid retry policy")
	ErrInvalidApproval      = errors.New(
		"approval timeout must be positive",
	)
	ErrInvalidRetention = errors.New(
		"retention period and archive interval must be positive",
	)
	ErrInvalidSlackConfig = errors.New("invalid slack configuration")
	ErrInvalidEnv         = errors.New("invalid environment variable")
)

// NewDefaultConfig creates a configuration with sensible defaults for the
// journal, engine timing, retry behavior, and archival
func NewDefaultConfig() *Config {
	return &Config{
		APIPort: DefaultAPIPort,
		APIHost: DefaultAPIHost,
		Journal: timebox.StoreConfig{
			Addr:         DefaultRedisEndpoint,
			Password:     "",
			DB:           DefaultRedisDB,
			Prefix:       DefaultRedisPrefix,
			WorkerCount:  DefaultSnapshotWorkers,
			MaxQueueSize: DefaultSnapshotQueueSize,
			SaveTimeout:  DefaultSnapshotSaveTimeout,
		},
		CacheSize:        DefaultCacheSize,
		Mode:             DefaultMode,
		StepLease:        DefaultStepLease,
		PollInterval:     DefaultPollInterval,
		SweepInterval:    DefaultSweepInterval,
		MaxInlineBackoff: DefaultMaxInlineBackoff,
		ExecutionTimeout: DefaultExecutionTimeout,
		Retry: api.RetryPolicy{
			MaxAttempts: api.DefaultMaxAttempts,
			BaseDelay:   api.DefaultBaseDelay,
			Multiplier:  api.DefaultMultiplier,
			MaxDelay:    DefaultRetryMaxDelay,
		},
		ApprovalTimeout: DefaultApprovalTimeout,
		Slack: notify.SlackConfig{
			APIURL:  notify.DefaultSlackAPIURL,
			Timeout: notify.DefaultSlackTimeout,
		},
		RetentionPeriod: DefaultRetentionPeriod,
		ArchiveInterval: DefaultArchiveInterval,
		ShutdownTimeout: DefaultShutdownTimeout,
		LogLevel:        "info",
	}
}

// LoadFromEnv populates configuration values from environment variables.
// Returns an error if any env var cannot be parsed.
func (c *Config) LoadFromEnv() error {
	LoadStoreConfigFromEnv(&c.Journal, "JOURNAL")

	if apiHost := os.Getenv("API_HOST"); apiHost != "" {
		c.APIHost = apiHost
	}
	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.LogLevel = logLevel
	}
	if mode := os.Getenv("EXECUTION_MODE"); mode != "" {
		c.Mode = Mode(mode)
	}
	if bucket := os.Getenv("ARCHIVE_BUCKET_URL"); bucket != "" {
		c.ArchiveBucketURL = bucket
	}
	if token := os.Getenv("SLACK_BOT_TOKEN"); token != "" {
		c.Slack.BotToken = token
	}
	if channel := os.Getenv("SLACK_CHANNEL"); channel != "" {
		c.Slack.Channel = channel
	}
	if apiURL := os.Getenv("SLACK_API_URL"); apiURL != "" {
		c.Slack.APIURL = apiURL
	}
	if secret := os.Getenv("SLACK_SIGNING_SECRET"); secret != "" {
		c.Slack.SigningSecret = secret
	}

	if err := loadEnvInt("API_PORT", &c.APIPort, 0, MaxTCPPort); err != nil {
		return err
	}
	if err := loadEnvInt(
		"JOURNAL_CACHE_SIZE", &c.CacheSize, 0, MaxCacheSize,
	); err != nil {
		return err
	}
	if err := loadEnvInt(
		"RETRY_MAX_ATTEMPTS", &c.Retry.MaxAttempts, 0, MaxRetryMaxAttempts,
	); err != nil {
		return err
	}
	if err := loadEnvFloat(
		"RETRY_MULTIPLIER", &c.Retry.Multiplier,
	); err != nil {
		return err
	}

	for key, dst := range map[string]*time.Duration{
		"STEP_LEASE":         &c.StepLease,
		"POLL_INTERVAL":      &c.PollInterval,
		"SWEEP_INTERVAL":     &c.SweepInterval,
		"MAX_INLINE_BACKOFF": &c.MaxInlineBackoff,
		"EXECUTION_TIMEOUT":  &c.ExecutionTimeout,
		"RETRY_BASE_DELAY":   &c.Retry.BaseDelay,
		"RETRY_MAX_DELAY":    &c.Retry.MaxDelay,
		"APPROVAL_TIMEOUT":   &c.ApprovalTimeout,
		"RETENTION_PERIOD":   &c.RetentionPeriod,
		"ARCHIVE_INTERVAL":   &c.ArchiveInterval,
		"SHUTDOWN_TIMEOUT":   &c.ShutdownTimeout,
	} {
		if err := loadEnvDuration(key, dst); err != nil {
			return err
		}
	}

	return nil
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if c.APIPort <= 0 || c.APIPort > MaxTCPPort {
		return fmt.Errorf("%w: %d", ErrInvalidAPIPort, c.APIPort)
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return err
	}

	if c.Mode != ModeBlocking && c.Mode != ModeEphemeral {
		return fmt.Errorf("%w: %q", ErrInvalidMode, c.Mode)
	}

	if c.StepLease <= 0 {
		return ErrInvalidStepLease
	}

	if c.PollInterval <= 0 {
		return ErrInvalidPollInterval
	}

	if c.SweepInterval <= 0 {
		return ErrInvalidSweepInterval
	}

	if err := c.Retry.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRetryPolicy, err)
	}

	if c.ApprovalTimeout <= 0 {
		return ErrInvalidApproval
	}

	if c.RetentionPeriod <= 0 || c.ArchiveInterval <= 0 {
		return ErrInvalidRetention
	}

	if c.Slack.Enabled() {
		if err := c.Slack.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidSlackConfig, err)
		}
	}

	return nil
}

// LoadStoreConfigFromEnv loads Redis store configuration from environment
// variables with the given prefix (e.g., "JOURNAL")
func LoadStoreConfigFromEnv(s *timebox.StoreConfig, prefix string) {
	if addr := os.Getenv(prefix + "_REDIS_ADDR"); addr != "" {
		s.Addr = addr
	}
	if password := os.Getenv(prefix + "_REDIS_PASSWORD"); password != "" {
		s.Password = password
	}
	if dbStr := os.Getenv(prefix + "_REDIS_DB"); dbStr != "" {
		db, err := strconv.Atoi(dbStr)
		if err == nil {
			s.DB = db
		}
	}
	if envPrefix := os.Getenv(prefix + "_REDIS_PREFIX"); envPrefix != "" {
		s.Prefix = envPrefix
	}
	if envCount := os.Getenv(prefix + "_SNAPSHOT_WORKERS"); envCount != "" {
		if wc, err := strconv.Atoi(envCount); err == nil && wc >= 0 {
			s.WorkerCount = wc
		}
	}
}

// loadEnvInt reads key from the environment, parses it as an integer, and
// sets *dst if the value is in the range (min, max]
func loadEnvInt[T ~int | ~int64](key string, dst *T, min, max T) error {
	s := os.Getenv(key)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %s: %q", ErrInvalidEnv, key, s)
	}
	tv := T(v)
	if tv <= min || tv > max {
		return fmt.Errorf("%w: %s: %d out of range [%d, %d]",
			ErrInvalidEnv, key, tv, min+1, max)
	}
	*dst = tv
	return nil
}

// loadEnvDuration reads key as a Go duration string such as "90s" or "3m"
// and sets *dst if it is positive and at most MaxDuration
func loadEnvDuration(key string, dst *time.Duration) error {
	s := os.Getenv(key)
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("%w: %s: %q", ErrInvalidEnv, key, s)
	}
	if d <= 0 || d > MaxDuration {
		return fmt.Errorf("%w: %s: %s out of range", ErrInvalidEnv, key, d)
	}
	*dst = d
	return nil
}

func loadEnvFloat(key string, dst *float64) error {
	s := os.Getenv(key)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("%w: %s: %q", ErrInvalidEnv, key, s)
	}
	*dst = v
	return nil
}
