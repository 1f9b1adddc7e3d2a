// Package config provides configuration management for reelforge.
// Configuration is loaded from environment variables with sensible defaults;
// a .env file is honoured outside production.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	// Default values
	DefaultPort     = 8790
	DefaultLogLevel = "info"
	DefaultDataDir  = ".reelforge"

	DefaultDBDriver          = "sqlite"
	DefaultProviderBaseURL   = "https://api.replicate.com"
	DefaultConcatMode        = "ffmpeg"
	DefaultDispatchTimeout   = 30 * time.Second
	DefaultCompileTimeout    = 15 * time.Minute
	DefaultWebhookTolerance  = 5 * time.Minute
	DefaultRunnerInterval    = 5 * time.Second
	DefaultStaleJobAfter     = 15 * time.Minute
	DefaultAllowedOrigin     = "http://localhost:5173"
	DefaultPublicBaseURLFmt  = "http://127.0.0.1:%d"
	DefaultProviderTimeout   = 60 * time.Second
	DefaultConcatHTTPTimeout = 10 * time.Minute

	// Environment variable names
	EnvAppEnv   = "REELFORGE_ENV"
	EnvPort     = "REELFORGE_PORT"
	EnvLogLevel = "REELFORGE_LOG_LEVEL"
	EnvDataDir  = "REELFORGE_DATA_DIR"

	EnvDBDriver    = "REELFORGE_DB_DRIVER"
	EnvDatabaseURL = "REELFORGE_DATABASE_URL"

	EnvPublicBaseURL    = "REELFORGE_PUBLIC_BASE_URL"
	EnvModelsFile       = "REELFORGE_MODELS_FILE"
	EnvProviderBaseURL  = "REELFORGE_PROVIDER_BASE_URL"
	EnvProviderToken    = "REELFORGE_PROVIDER_TOKEN"
	EnvWebhookSecret    = "REELFORGE_WEBHOOK_SECRET"
	EnvWebhookTolerance = "REELFORGE_WEBHOOK_TOLERANCE"
	EnvDispatchTimeout  = "REELFORGE_DISPATCH_TIMEOUT"

	EnvConcatMode     = "REELFORGE_CONCAT_MODE"
	EnvConcatBaseURL  = "REELFORGE_CONCAT_BASE_URL"
	EnvConcatToken    = "REELFORGE_CONCAT_TOKEN"
	EnvFFmpegPath     = "REELFORGE_FFMPEG_PATH"
	EnvCompileTimeout = "REELFORGE_COMPILE_TIMEOUT"

	EnvRunnerInterval = "REELFORGE_RUNNER_INTERVAL"
	EnvStaleJobAfter  = "REELFORGE_STALE_JOB_AFTER"
	EnvAllowedOrigins = "REELFORGE_ALLOWED_ORIGINS"

	// Database filename
	DBFilename = "reelforge.db"
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	DataDir() string
	DBDriver() string
	DatabaseURL() string
	DBPath() string
	ArtifactsDir() string
	PublicBaseURL() string
	ModelsFile() string
	ProviderBaseURL() string
	ProviderToken() string
	WebhookSecret() string
	WebhookTolerance() time.Duration
	DispatchTimeout() time.Duration
	ConcatMode() string
	ConcatBaseURL() string
	ConcatToken() string
	FFmpegPath() string
	CompileTimeout() time.Duration
	RunnerInterval() time.Duration
	StaleJobAfter() time.Duration
	AllowedOrigins() []string
}

// EnvConfig reads configuration from environment variables
type EnvConfig struct {
	port     int
	logLevel string
	dataDir  string

	dbDriver    string
	databaseURL string

	publicBaseURL    string
	modelsFile       string
	providerBaseURL  string
	providerToken    string
	webhookSecret    string
	webhookTolerance time.Duration
	dispatchTimeout  time.Duration

	concatMode     string
	concatBaseURL  string
	concatToken    string
	ffmpegPath     string
	compileTimeout time.Duration

	runnerInterval time.Duration
	staleJobAfter  time.Duration
	allowedOrigins []string
}

// LoadDotEnv loads .env files into the process environment unless running in
// production, where variables are injected by the deployment.
// Missing files are ignored.
func LoadDotEnv(paths ...string) {
	if strings.EqualFold(os.Getenv(EnvAppEnv), "production") {
		return
	}
	_ = godotenv.Load(paths...)
}

// New creates a new EnvConfig with defaults and environment variable overrides
func New() (*EnvConfig, error) {
	cfg := &EnvConfig{
		port:             DefaultPort,
		logLevel:         DefaultLogLevel,
		dataDir:          defaultDataDir(),
		dbDriver:         DefaultDBDriver,
		providerBaseURL:  DefaultProviderBaseURL,
		webhookTolerance: DefaultWebhookTolerance,
		dispatchTimeout:  DefaultDispatchTimeout,
		concatMode:       DefaultConcatMode,
		compileTimeout:   DefaultCompileTimeout,
		runnerInterval:   DefaultRunnerInterval,
		staleJobAfter:    DefaultStaleJobAfter,
		allowedOrigins:   []string{DefaultAllowedOrigin},
	}

	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		if port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid %s: port must be between 1 and 65535", EnvPort)
		}
		cfg.port = port
	}

	if ll := os.Getenv(EnvLogLevel); ll != "" {
		cfg.logLevel = ll
	}

	if dd := os.Getenv(EnvDataDir); dd != "" {
		cfg.dataDir = dd
	}

	if d := os.Getenv(EnvDBDriver); d != "" {
		d = strings.ToLower(d)
		if d != "sqlite" && d != "postgres" {
			return nil, fmt.Errorf("invalid %s: must be sqlite or postgres", EnvDBDriver)
		}
		cfg.dbDriver = d
	}
	cfg.databaseURL = os.Getenv(EnvDatabaseURL)
	if cfg.dbDriver == "postgres" && cfg.databaseURL == "" {
		return nil, fmt.Errorf("%s is required when %s=postgres", EnvDatabaseURL, EnvDBDriver)
	}

	cfg.publicBaseURL = strings.TrimRight(os.Getenv(EnvPublicBaseURL), "/")
	if cfg.publicBaseURL == "" {
		cfg.publicBaseURL = fmt.Sprintf(DefaultPublicBaseURLFmt, cfg.port)
	}

	cfg.modelsFile = os.Getenv(EnvModelsFile)

	if u := os.Getenv(EnvProviderBaseURL); u != "" {
		cfg.providerBaseURL = strings.TrimRight(u, "/")
	}
	cfg.providerToken = os.Getenv(EnvProviderToken)
	cfg.webhookSecret = os.Getenv(EnvWebhookSecret)

	var err error
	if cfg.webhookTolerance, err = durationEnv(EnvWebhookTolerance, cfg.webhookTolerance); err != nil {
		return nil, err
	}
	if cfg.dispatchTimeout, err = durationEnv(EnvDispatchTimeout, cfg.dispatchTimeout); err != nil {
		return nil, err
	}

	if m := os.Getenv(EnvConcatMode); m != "" {
		m = strings.ToLower(m)
		if m != "ffmpeg" && m != "http" {
			return nil, fmt.Errorf("invalid %s: must be ffmpeg or http", EnvConcatMode)
		}
		cfg.concatMode = m
	}
	cfg.concatBaseURL = strings.TrimRight(os.Getenv(EnvConcatBaseURL), "/")
	cfg.concatToken = os.Getenv(EnvConcatToken)
	if cfg.concatMode == "http" && cfg.concatBaseURL == "" {
		return nil, fmt.Errorf("%s is required when %s=http", EnvConcatBaseURL, EnvConcatMode)
	}
	cfg.ffmpegPath = os.Getenv(EnvFFmpegPath)
	if cfg.compileTimeout, err = durationEnv(EnvCompileTimeout, cfg.compileTimeout); err != nil {
		return nil, err
	}

	if cfg.runnerInterval, err = durationEnv(EnvRunnerInterval, cfg.runnerInterval); err != nil {
		return nil, err
	}
	if cfg.staleJobAfter, err = durationEnv(EnvStaleJobAfter, cfg.staleJobAfter); err != nil {
		return nil, err
	}

	if origins := os.Getenv(EnvAllowedOrigins); origins != "" {
		cfg.allowedOrigins = splitList(origins)
	}

	return cfg, nil
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBDriver returns "sqlite" or "postgres".
func (c *EnvConfig) DBDriver() string {
	return c.dbDriver
}

// DatabaseURL returns the PostgreSQL DSN. Empty for sqlite.
func (c *EnvConfig) DatabaseURL() string {
	return c.databaseURL
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// ArtifactsDir is where locally compiled videos are written.
func (c *EnvConfig) ArtifactsDir() string {
	return filepath.Join(c.dataDir, "artifacts")
}

// PublicBaseURL is the externally reachable base of this service, used for
// webhook callbacks and artifact links.
func (c *EnvConfig) PublicBaseURL() string {
	return c.publicBaseURL
}

func (c *EnvConfig) ModelsFile() string {
	return c.modelsFile
}

func (c *EnvConfig) ProviderBaseURL() string {
	return c.providerBaseURL
}

func (c *EnvConfig) ProviderToken() string {
	return c.providerToken
}

func (c *EnvConfig) WebhookSecret() string {
	return c.webhookSecret
}

func (c *EnvConfig) WebhookTolerance() time.Duration {
	return c.webhookTolerance
}

// DispatchTimeout bounds the provider acceptance call.
func (c *EnvConfig) DispatchTimeout() time.Duration {
	return c.dispatchTimeout
}

// ConcatMode returns "ffmpeg" or "http".
func (c *EnvConfig) ConcatMode() string {
	return c.concatMode
}

func (c *EnvConfig) ConcatBaseURL() string {
	return c.concatBaseURL
}

func (c *EnvConfig) ConcatToken() string {
	return c.concatToken
}

func (c *EnvConfig) FFmpegPath() string {
	return c.ffmpegPath
}

func (c *EnvConfig) CompileTimeout() time.Duration {
	return c.compileTimeout
}

func (c *EnvConfig) RunnerInterval() time.Duration {
	return c.runnerInterval
}

// StaleJobAfter is how long a job may sit in flight before the runner polls
// the provider for it.
func (c *EnvConfig) StaleJobAfter() time.Duration {
	return c.staleJobAfter
}

func (c *EnvConfig) AllowedOrigins() []string {
	return c.allowedOrigins
}

func durationEnv(name string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", name)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
