package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ricirt/offline-sync/internal/domain"
)

// Config holds all runtime configuration loaded from environment variables.
// Every field has a sensible default; nothing is required.
type Config struct {
	// Loopback API
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// Storage: "sqlite" (default) or "memory"
	StoreDriver string
	DBPath      string

	// Bounds
	QueueCapacity   int
	JournalCapacity int

	// Dispatcher
	Workers          int
	BatchSize        int
	InterBatchDelay  time.Duration
	FallbackInterval time.Duration
	ReplayTimeout    time.Duration

	// Backoff: delay(n) = min(BackoffBase * 2^n, BackoffMax), optionally jittered
	BackoffBase   time.Duration
	BackoffMax    time.Duration
	BackoffJitter float64

	// Connectivity
	DebounceWindow  time.Duration
	PollInterval    time.Duration
	ReachabilityURL string
	ProbeTimeout    time.Duration

	// Per-kind retry budgets and replay rate limits (operations per second)
	MaxRetries map[domain.Kind]int
	RateLimits map[domain.Kind]int

	// Backends replayed against, one base URL per kind
	Backends       map[domain.Kind]string
	BackendTimeout time.Duration

	// Out-of-band escalation target for critical journal entries
	EscalationURL string
}

// fileOverrides is the optional YAML overlay named by SYNC_CONFIG_FILE.
type fileOverrides struct {
	MaxRetries map[string]int    `yaml:"max_retries"`
	RateLimits map[string]int    `yaml:"rate_limits"`
	Backends   map[string]string `yaml:"backends"`
}

func Load() (*Config, error) {
	cfg := &Config{
		HTTPAddr:        getEnv("SYNC_HTTP_ADDR", "127.0.0.1:8765"),
		ReadTimeout:     getDuration("SYNC_READ_TIMEOUT", 5*time.Second),
		WriteTimeout:    getDuration("SYNC_WRITE_TIMEOUT", 10*time.Second),
		ShutdownTimeout: getDuration("SYNC_SHUTDOWN_TIMEOUT", 15*time.Second),

		StoreDriver: getEnv("SYNC_STORE_DRIVER", "sqlite"),
		DBPath:      getEnv("SYNC_DB_PATH", "offline-sync.db"),

		QueueCapacity:   getInt("SYNC_QUEUE_CAPACITY", 100),
		JournalCapacity: getInt("SYNC_JOURNAL_CAPACITY", 500),

		Workers:          getInt("SYNC_WORKERS", 3),
		BatchSize:        getInt("SYNC_BATCH_SIZE", 3),
		InterBatchDelay:  getDuration("SYNC_INTER_BATCH_DELAY", 500*time.Millisecond),
		FallbackInterval: getDuration("SYNC_FALLBACK_INTERVAL", 30*time.Second),
		ReplayTimeout:    getDuration("SYNC_REPLAY_TIMEOUT", 15*time.Second),

		BackoffBase:   getDuration("SYNC_BACKOFF_BASE", time.Second),
		BackoffMax:    getDuration("SYNC_BACKOFF_MAX", 30*time.Second),
		BackoffJitter: getFloat("SYNC_BACKOFF_JITTER", 0),

		DebounceWindow:  getDuration("SYNC_DEBOUNCE_WINDOW", 2*time.Second),
		PollInterval:    getDuration("SYNC_POLL_INTERVAL", 5*time.Second),
		ReachabilityURL: getEnv("SYNC_REACHABILITY_URL", ""),
		ProbeTimeout:    getDuration("SYNC_PROBE_TIMEOUT", 3*time.Second),

		MaxRetries: make(map[domain.Kind]int, len(domain.Kinds)),
		RateLimits: make(map[domain.Kind]int, len(domain.Kinds)),
		Backends:   make(map[domain.Kind]string, len(domain.Kinds)),

		BackendTimeout: getDuration("SYNC_BACKEND_TIMEOUT", 10*time.Second),
		EscalationURL:  getEnv("SYNC_ESCALATION_URL", ""),
	}

	for _, k := range domain.Kinds {
		prefix := "SYNC_" + strings.ToUpper(string(k))
		cfg.MaxRetries[k] = getInt(prefix+"_MAX_RETRIES", k.DefaultMaxRetries())
		cfg.RateLimits[k] = getInt(prefix+"_RATE_LIMIT", 5)
		cfg.Backends[k] = getEnv(prefix+"_BACKEND_URL", "")
	}

	if path := os.Getenv("SYNC_CONFIG_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyFile overlays per-kind settings from a YAML file.
func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var ov fileOverrides
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &ov); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	for name, n := range ov.MaxRetries {
		k := domain.Kind(name)
		if !k.IsValid() {
			return fmt.Errorf("config file max_retries: %w", domain.ErrInvalidKind)
		}
		c.MaxRetries[k] = n
	}
	for name, n := range ov.RateLimits {
		k := domain.Kind(name)
		if !k.IsValid() {
			return fmt.Errorf("config file rate_limits: %w", domain.ErrInvalidKind)
		}
		c.RateLimits[k] = n
	}
	for name, url := range ov.Backends {
		k := domain.Kind(name)
		if !k.IsValid() {
			return fmt.Errorf("config file backends: %w", domain.ErrInvalidKind)
		}
		c.Backends[k] = url
	}
	return nil
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("SYNC_STORE_DRIVER must be sqlite or memory, got %q", c.StoreDriver)
	}
	if c.QueueCapacity < 1 {
		return fmt.Errorf("SYNC_QUEUE_CAPACITY must be positive")
	}
	if c.JournalCapacity < 1 {
		return fmt.Errorf("SYNC_JOURNAL_CAPACITY must be positive")
	}
	if c.Workers < 1 {
		return fmt.Errorf("SYNC_WORKERS must be positive")
	}
	if c.BatchSize < 1 {
		c.BatchSize = c.Workers
	}
	for k, n := range c.MaxRetries {
		if n < 1 {
			return fmt.Errorf("max retries for %s must be positive", k)
		}
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func getFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
