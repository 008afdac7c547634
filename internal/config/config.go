package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/dgnsrekt/oi_overlay/internal/optionchain"
)

// Config holds all configuration for the overlay daemon.
type Config struct {
	// CDP connection settings
	CDPAddress    string
	CDPPort       int
	TabURLFilter  string
	StartURL      string
	OpenTab       bool
	LaunchBrowser bool
	// BrowserProfileDir and BrowserHeadless apply only when LaunchBrowser is set.
	BrowserProfileDir string
	BrowserHeadless   bool
	EvalTimeoutMS     int

	// API
	BindAddr         string
	PortCandidates   []string
	PortAutoFallback bool

	// Table location
	LocateIntervalMS int
	LocateAttempts   int
	LocateBackoff    float64
	MinRows          int
	MinColumns       int

	// Scheduling
	DebounceMS      int
	RefreshSettleMS int
	LockReleaseMS   int

	// Display
	Radius       int
	MaxRadius    int
	Centering    bool
	SymmetricPad bool

	// History
	HistoryWindowSec      int
	HistoryMarginSec      int
	HistoryMinIntervalSec int
	HistoryMax            int

	// Persistence
	StoreBackend string
	StoreDir     string
	SQLitePath   string
	RedisAddr    string
	JournalDir   string
	SchemaFile   string
	// SnapshotDir holds API screenshots; SnapshotMaxAgeHours bounds their age, 0 keeps them.
	SnapshotDir         string
	SnapshotMaxAgeHours int

	MaintenanceSpec string
	NotifyEndpoint  string

	LogLevel string
	LogFile  string
}

// Load reads configuration from environment variables and optional .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &Config{
		CDPAddress:    getEnvOrDefault("CHROMIUM_CDP_ADDRESS", "127.0.0.1"),
		CDPPort:       getEnvIntOrDefault("CHROMIUM_CDP_PORT", 9220),
		TabURLFilter:  getEnvOrDefault("OVERLAY_TAB_URL_FILTER", "nseindia.com/option-chain"),
		StartURL:      getEnvOrDefault("OVERLAY_START_URL", "https://www.nseindia.com/option-chain"),
		OpenTab:       getEnvBoolOrDefault("OVERLAY_OPEN_TAB", true),
		LaunchBrowser: getEnvBoolOrDefault("OVERLAY_LAUNCH_BROWSER", false),
		EvalTimeoutMS: getEnvIntOrDefault("OVERLAY_EVAL_TIMEOUT_MS", 5000),

		BrowserProfileDir: getEnvOrDefault("OVERLAY_BROWSER_PROFILE_DIR", "./browser_profile"),
		BrowserHeadless:   getEnvBoolOrDefault("OVERLAY_BROWSER_HEADLESS", false),

		BindAddr:         getEnvOrDefault("OVERLAY_BIND_ADDR", "127.0.0.1:8190"),
		PortCandidates:   splitList(getEnvOrDefault("OVERLAY_PORT_CANDIDATES", "127.0.0.1:8191,127.0.0.1:8192")),
		PortAutoFallback: getEnvBoolOrDefault("OVERLAY_PORT_AUTO_FALLBACK", true),

		LocateIntervalMS: getEnvIntOrDefault("OVERLAY_LOCATE_INTERVAL_MS", 400),
		LocateAttempts:   getEnvIntOrDefault("OVERLAY_LOCATE_ATTEMPTS", 30),
		LocateBackoff:    getEnvFloatOrDefault("OVERLAY_LOCATE_BACKOFF", 1.25),
		MinRows:          getEnvIntOrDefault("OVERLAY_MIN_ROWS", 3),
		MinColumns:       getEnvIntOrDefault("OVERLAY_MIN_COLUMNS", 15),

		DebounceMS:      getEnvIntOrDefault("OVERLAY_DEBOUNCE_MS", 300),
		RefreshSettleMS: getEnvIntOrDefault("OVERLAY_REFRESH_SETTLE_MS", 1500),
		LockReleaseMS:   getEnvIntOrDefault("OVERLAY_LOCK_RELEASE_MS", 100),

		Radius:       getEnvIntOrDefault("OVERLAY_RADIUS", 5),
		MaxRadius:    getEnvIntOrDefault("OVERLAY_MAX_RADIUS", 40),
		Centering:    getEnvBoolOrDefault("OVERLAY_CENTERING", true),
		SymmetricPad: getEnvBoolOrDefault("OVERLAY_SYMMETRIC_PAD", false),

		HistoryWindowSec:      getEnvIntOrDefault("OVERLAY_HISTORY_WINDOW_SEC", 300),
		HistoryMarginSec:      getEnvIntOrDefault("OVERLAY_HISTORY_MARGIN_SEC", 60),
		HistoryMinIntervalSec: getEnvIntOrDefault("OVERLAY_HISTORY_MIN_INTERVAL_SEC", 60),
		HistoryMax:            getEnvIntOrDefault("OVERLAY_HISTORY_MAX", 60),

		StoreBackend: strings.ToLower(getEnvOrDefault("OVERLAY_STORE_BACKEND", "file")),
		StoreDir:     getEnvOrDefault("OVERLAY_STORE_DIR", "./overlay_data"),
		SQLitePath:   getEnvOrDefault("OVERLAY_SQLITE_PATH", "./overlay_data/overlay.db"),
		RedisAddr:    getEnvOrDefault("OVERLAY_REDIS_ADDR", "127.0.0.1:6379"),
		JournalDir:   getEnvOrDefault("OVERLAY_JOURNAL_DIR", ""),
		SchemaFile:   getEnvOrDefault("OVERLAY_SCHEMA_FILE", ""),

		SnapshotDir:         getEnvOrDefault("OVERLAY_SNAPSHOT_DIR", "./overlay_data/snapshots"),
		SnapshotMaxAgeHours: getEnvIntOrDefault("OVERLAY_SNAPSHOT_MAX_AGE_HOURS", 72),

		MaintenanceSpec: getEnvOrDefault("OVERLAY_MAINTENANCE_SPEC", "@every 30s"),
		NotifyEndpoint:  getEnvOrDefault("OVERLAY_NOTIFY_ENDPOINT", ""),

		LogLevel: strings.ToLower(getEnvOrDefault("OVERLAY_LOG_LEVEL", "info")),
		LogFile:  getEnvOrDefault("OVERLAY_LOG_FILE", "logs/oi_overlay.log"),
	}
	if cfg.EvalTimeoutMS < 1000 {
		cfg.EvalTimeoutMS = 1000
	}
	switch cfg.StoreBackend {
	case "file", "sqlite", "redis":
	default:
		return nil, fmt.Errorf("OVERLAY_STORE_BACKEND=%q: want file, sqlite or redis", cfg.StoreBackend)
	}
	if cfg.Radius < 1 || cfg.MaxRadius < 1 {
		return nil, fmt.Errorf("OVERLAY_RADIUS and OVERLAY_MAX_RADIUS must be positive")
	}
	return cfg, nil
}

// GetCDPURL returns the full CDP HTTP endpoint.
func (c *Config) GetCDPURL() string {
	return fmt.Sprintf("http://%s:%d", c.CDPAddress, c.CDPPort)
}

// Schema returns the known table schema, read from SchemaFile when set.
func (c *Config) Schema() (optionchain.Schema, error) {
	if c.SchemaFile == "" {
		return optionchain.DefaultSchema(), nil
	}
	return optionchain.LoadSchema(c.SchemaFile)
}

func (c *Config) EvalTimeout() time.Duration {
	return time.Duration(c.EvalTimeoutMS) * time.Millisecond
}

// LocatePolicy is the bounded retry used while the table is missing.
func (c *Config) LocatePolicy() optionchain.RetryPolicy {
	return optionchain.RetryPolicy{
		Interval:    ms(c.LocateIntervalMS),
		MaxAttempts: c.LocateAttempts,
		Backoff:     c.LocateBackoff,
		MaxInterval: 5 * time.Second,
	}
}

func (c *Config) Readiness() optionchain.Readiness {
	return optionchain.Readiness{MinRows: c.MinRows, MinColumns: c.MinColumns}
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func sec(v int) time.Duration { return time.Duration(v) * time.Second }

// Debounce, RefreshSettle and LockRelease expose the scheduler timings.
func (c *Config) Debounce() time.Duration      { return ms(c.DebounceMS) }
func (c *Config) RefreshSettle() time.Duration { return ms(c.RefreshSettleMS) }
func (c *Config) LockRelease() time.Duration   { return ms(c.LockReleaseMS) }

func (c *Config) HistoryWindow() time.Duration      { return sec(c.HistoryWindowSec) }
func (c *Config) HistoryMargin() time.Duration      { return sec(c.HistoryMarginSec) }
func (c *Config) HistoryMinInterval() time.Duration { return sec(c.HistoryMinIntervalSec) }

func (c *Config) SnapshotMaxAge() time.Duration {
	return time.Duration(c.SnapshotMaxAgeHours) * time.Hour
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloatOrDefault(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
