package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"niftyscan/internal/domain"
)

// DefaultPath is used when NIFTYSCAN_CONFIG is unset.
const DefaultPath = "config/niftyscan.yaml"

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for niftyscan.
type Config struct {
	Storage  Storage        `yaml:"storage"`
	Server   Server         `yaml:"server"`
	Alpaca   Alpaca         `yaml:"alpaca"`
	Logging  Logging        `yaml:"logging"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Gather   GatherConfig   `yaml:"gather"`
	Client   ClientConfig   `yaml:"client"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Server holds network listener configuration.
type Server struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	GRPCPort int    `yaml:"grpc_port"`
}

// Addr returns the HTTP listen address.
func (s Server) Addr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

// GRPCAddr returns the health service listen address.
func (s Server) GRPCAddr() string { return fmt.Sprintf("%s:%d", s.Host, s.GRPCPort) }

// Alpaca holds credentials and endpoints for the Alpaca market data API.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	DataURL   string `yaml:"data_url"`
	Feed      string `yaml:"feed"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// AnalysisConfig controls what the analysis server streams.
type AnalysisConfig struct {
	Market       domain.Market `yaml:"market"`
	Universe     []string      `yaml:"universe"`
	DefaultStart string        `yaml:"default_start"`
	// PacePerMin bounds tickers streamed per minute; negative disables pacing.
	PacePerMin int `yaml:"pace_per_min"`
	// BarSource is "parquet" or "alpaca".
	BarSource string `yaml:"bar_source"`
}

// GatherConfig holds parameters for the daily bar gatherer.
type GatherConfig struct {
	StartDate       string `yaml:"start_date"`
	BatchSize       int    `yaml:"batch_size"`
	MaxWorkers      int    `yaml:"max_workers"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
}

// ClientConfig configures the terminal client.
type ClientConfig struct {
	ServerURL       string        `yaml:"server_url"`
	GRPCAddr        string        `yaml:"grpc_addr"`
	StartDate       string        `yaml:"start_date"`
	ShowProgress    bool          `yaml:"show_progress"`
	AutoRefresh     bool          `yaml:"auto_refresh"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	MaxLineBytes    int           `yaml:"max_line_bytes"`
	HistoryLimit    int           `yaml:"history_limit"`
}

// Bar source names.
const (
	BarSourceParquet = "parquet"
	BarSourceAlpaca  = "alpaca"
)

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Path returns the configuration path from NIFTYSCAN_CONFIG or DefaultPath.
func Path() string {
	if p := os.Getenv("NIFTYSCAN_CONFIG"); p != "" {
		return p
	}
	return DefaultPath
}

// Default returns a Config with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, fills defaults, applies environment variable overrides, and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields the defaults
// (still subject to environment overrides).
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg = Default()
		applyEnvOverrides(cfg)
		return cfg, cfg.Validate()
	}
	return cfg, err
}

func applyDefaults(cfg *Config) {
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "data"
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = "data/niftyscan.db"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 5000
	}
	if cfg.Server.GRPCPort == 0 {
		cfg.Server.GRPCPort = 5001
	}
	if cfg.Alpaca.Feed == "" {
		cfg.Alpaca.Feed = "iex"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}

	a := &cfg.Analysis
	if a.Market == "" {
		a.Market = domain.MarketIN
	}
	if len(a.Universe) == 0 {
		a.Universe = append([]string(nil), domain.Nifty50...)
	}
	if a.DefaultStart == "" {
		a.DefaultStart = "2008-01-01"
	}
	if a.PacePerMin == 0 {
		a.PacePerMin = 600
	}
	if a.BarSource == "" {
		a.BarSource = BarSourceParquet
	}

	g := &cfg.Gather
	if g.StartDate == "" {
		g.StartDate = a.DefaultStart
	}
	if g.BatchSize == 0 {
		g.BatchSize = 50
	}
	if g.MaxWorkers == 0 {
		g.MaxWorkers = 4
	}
	if g.RateLimitPerMin == 0 {
		g.RateLimitPerMin = 180
	}

	c := &cfg.Client
	if c.ServerURL == "" {
		c.ServerURL = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
	}
	if c.GRPCAddr == "" {
		c.GRPCAddr = fmt.Sprintf("localhost:%d", cfg.Server.GRPCPort)
	}
	if c.StartDate == "" {
		c.StartDate = a.DefaultStart
	}
	if c.RefreshInterval == 0 {
		c.RefreshInterval = 5 * time.Minute
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 2 * time.Minute
	}
	if c.MaxLineBytes == 0 {
		c.MaxLineBytes = 1 << 20
	}
	if c.HistoryLimit == 0 {
		c.HistoryLimit = 10
	}
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("SERVER_URL"); v != "" {
		cfg.Client.ServerURL = v
	}
	if v := os.Getenv("GRPC_ADDR"); v != "" {
		cfg.Client.GRPCAddr = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}

	// Standard Alpaca env vars (canonical names used by the SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}

// Validate reports the first configuration value that cannot work.
func (c *Config) Validate() error {
	if _, err := time.Parse("2006-01-02", c.Analysis.DefaultStart); err != nil {
		return fmt.Errorf("analysis.default_start: %w", err)
	}
	if _, err := time.Parse("2006-01-02", c.Client.StartDate); err != nil {
		return fmt.Errorf("client.start_date: %w", err)
	}
	switch c.Analysis.BarSource {
	case BarSourceParquet, BarSourceAlpaca:
	default:
		return fmt.Errorf("analysis.bar_source: unknown source %q", c.Analysis.BarSource)
	}
	if c.Client.RefreshInterval <= 0 {
		return fmt.Errorf("client.refresh_interval must be positive")
	}
	if c.Client.IdleTimeout <= 0 {
		return fmt.Errorf("client.idle_timeout must be positive")
	}
	if c.Client.MaxLineBytes < 1024 {
		return fmt.Errorf("client.max_line_bytes must be at least 1024")
	}
	if c.Server.Port <= 0 || c.Server.GRPCPort <= 0 {
		return fmt.Errorf("server ports must be positive")
	}
	return nil
}
