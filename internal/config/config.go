package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the astock services.
type Config struct {
	Storage Storage      `yaml:"storage"`
	Server  Server       `yaml:"server"`
	Logging Logging      `yaml:"logging"`
	Gather  GatherConfig `yaml:"gather"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	Backend    string `yaml:"backend"` // "parquet" (default) or "sqlite"
	SQLitePath string `yaml:"sqlite_path"`
}

// Server holds network listener configuration.
type Server struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	GRPCPort int    `yaml:"grpc_port"`
}

// Addr returns host:port for the HTTP listener.
func (s Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Logging configures the application logger.
type Logging struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"` // "text" or "json"
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// GatherConfig controls data gathering behaviour.
type GatherConfig struct {
	CNDaily GatherJobConfig `yaml:"cn_daily"`
}

// GatherJobConfig holds parameters for the CN daily history sync.
type GatherJobConfig struct {
	StartDate       string         `yaml:"start_date"` // YYYYMMDD epoch for symbols with no cache
	BatchSize       int            `yaml:"batch_size"`
	MaxWorkers      int            `yaml:"max_workers"`
	SymbolTimeout   time.Duration  `yaml:"symbol_timeout"`
	BatchPause      *time.Duration `yaml:"batch_pause"` // unset means 1s; 0s disables
	RateLimitPerMin int            `yaml:"rate_limit_per_min"`
	Schedule        string         `yaml:"schedule"` // cron spec with seconds; empty disables
	RefetchCorrupt  *bool          `yaml:"refetch_corrupt"`
	KlineURL        string         `yaml:"kline_url"`
	ListURL         string         `yaml:"list_url"`
	HTTPTimeout     time.Duration  `yaml:"http_timeout"`
}

// Pause returns the delay between batches: 1s when unset, none when zero or
// negative.
func (g GatherJobConfig) Pause() time.Duration {
	if g.BatchPause == nil {
		return time.Second
	}
	return max(*g.BatchPause, 0)
}

// Refetch reports whether an unreadable cache should be quarantined and
// fully re-fetched. Defaults to true.
func (g GatherJobConfig) Refetch() bool {
	return g.RefetchCorrupt == nil || *g.RefetchCorrupt
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, and then applies environment variable overrides and defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Path returns the config file path: ASTOCK_CONFIG if set, otherwise
// config/astock.yaml.
func Path() string {
	if p := os.Getenv("ASTOCK_CONFIG"); p != "" {
		return p
	}
	return "config/astock.yaml"
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}

	if v := os.Getenv("STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}

	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.Logging.File = v
	}

	if v := os.Getenv("CN_DAILY_SCHEDULE"); v != "" {
		cfg.Gather.CNDaily.Schedule = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "data"
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "parquet"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8081
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}

	job := &cfg.Gather.CNDaily
	if job.StartDate == "" {
		job.StartDate = "19800101"
	}
	if job.BatchSize <= 0 {
		job.BatchSize = 50
	}
	if job.MaxWorkers <= 0 {
		job.MaxWorkers = 8
	}
	if job.SymbolTimeout <= 0 {
		job.SymbolTimeout = 60 * time.Second
	}
	if job.HTTPTimeout <= 0 {
		job.HTTPTimeout = 30 * time.Second
	}
}

func (cfg *Config) validate() error {
	switch cfg.Storage.Backend {
	case "parquet":
	case "sqlite":
		if cfg.Storage.SQLitePath == "" {
			return fmt.Errorf("storage.sqlite_path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", cfg.Storage.Backend)
	}
	if _, err := time.Parse("20060102", cfg.Gather.CNDaily.StartDate); err != nil {
		return fmt.Errorf("gather.cn_daily.start_date: %w", err)
	}
	return nil
}
