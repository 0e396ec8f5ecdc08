// Package config loads client configuration from the environment.
// A .env file in the working directory is honored when present so the CLI
// can be pointed at a library server without exporting variables.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all settings for the library client and orchestration core.
type Config struct {
	// BaseURL is the root of the library file-service API, e.g. http://localhost:5577.
	BaseURL string

	// RequestTimeout bounds a single non-streamed API request.
	RequestTimeout time.Duration

	// StreamCeiling bounds one streamed directory move. Hitting it yields an
	// unknown outcome, not a success.
	StreamCeiling time.Duration

	// BatchCeiling bounds a whole transfer batch. Same unknown-outcome rule.
	BatchCeiling time.Duration

	// ThumbPollInterval is the delay between probes while a thumbnail is
	// still generating.
	ThumbPollInterval time.Duration

	// ThumbErrorBackoff is the longer delay after a transport error during
	// a probe, to distinguish congestion from "still generating".
	ThumbErrorBackoff time.Duration

	// ThumbWorkers bounds the number of concurrently active thumbnail
	// pollers across the process.
	ThumbWorkers int

	// ThumbMaxAttempts gives up on a thumbnail after this many probes.
	// Zero means no attempt limit; the caller's context bounds the wait.
	ThumbMaxAttempts int

	// HeuristicCompletion enables the legacy substring completion signal
	// ("completed" / "SUCCESS:" in a status line) on script channels.
	// When disabled those lines are logged and otherwise ignored; only the
	// named completed event terminates the channel successfully.
	HeuristicCompletion bool

	// ScriptHideDelay is how long a finished script progress display
	// lingers before auto-hiding.
	ScriptHideDelay time.Duration

	// ErrorHideDelay is how long a failed script progress display lingers.
	ErrorHideDelay time.Duration

	// Notifications enables desktop toasts for batch results.
	Notifications bool
}

// Defaults mirrored from the library server's own timing constants.
const (
	DefaultRequestTimeout    = 60 * time.Second
	DefaultStreamCeiling     = 10 * time.Minute
	DefaultBatchCeiling      = 5 * time.Minute
	DefaultThumbPollInterval = 2 * time.Second
	DefaultThumbErrorBackoff = 5 * time.Second
	DefaultThumbWorkers      = 4
	DefaultScriptHideDelay   = 3 * time.Second
	DefaultErrorHideDelay    = 5 * time.Second
)

// Load reads configuration from the environment, honoring a .env file when
// one exists. Missing values fall back to defaults; only BaseURL is required.
func Load() (*Config, error) {
	// Best-effort: absence of a .env file is normal.
	_ = godotenv.Load()

	cfg := &Config{
		BaseURL:             getEnv("CLU_BASE_URL", ""),
		RequestTimeout:      getDuration("CLU_REQUEST_TIMEOUT", DefaultRequestTimeout),
		StreamCeiling:       getDuration("CLU_STREAM_CEILING", DefaultStreamCeiling),
		BatchCeiling:        getDuration("CLU_BATCH_CEILING", DefaultBatchCeiling),
		ThumbPollInterval:   getDuration("CLU_THUMB_POLL_INTERVAL", DefaultThumbPollInterval),
		ThumbErrorBackoff:   getDuration("CLU_THUMB_ERROR_BACKOFF", DefaultThumbErrorBackoff),
		ThumbWorkers:        getInt("CLU_THUMB_WORKERS", DefaultThumbWorkers),
		ThumbMaxAttempts:    getInt("CLU_THUMB_MAX_ATTEMPTS", 0),
		HeuristicCompletion: getBool("CLU_HEURISTIC_COMPLETION", false),
		ScriptHideDelay:     getDuration("CLU_SCRIPT_HIDE_DELAY", DefaultScriptHideDelay),
		ErrorHideDelay:      getDuration("CLU_ERROR_HIDE_DELAY", DefaultErrorHideDelay),
		Notifications:       getBool("CLU_NOTIFICATIONS", true),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required fields and value sanity.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("CLU_BASE_URL is required (library server address)")
	}
	if _, err := url.ParseRequestURI(c.BaseURL); err != nil {
		return fmt.Errorf("CLU_BASE_URL is not a valid URL: %w", err)
	}
	if c.ThumbWorkers < 1 {
		return fmt.Errorf("CLU_THUMB_WORKERS must be at least 1, got %d", c.ThumbWorkers)
	}
	if c.StreamCeiling <= 0 || c.BatchCeiling <= 0 {
		return fmt.Errorf("stream and batch ceilings must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}

func getInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

func getBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return b
}
