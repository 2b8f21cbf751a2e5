package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/0xmhha/explorer-indexer/internal/constants"
	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// Indexer modes
const (
	ModeLive      = "live"
	ModeSynthetic = "synthetic"
)

// Config holds all configuration for the indexer
type Config struct {
	RPC       RPCConfig       `yaml:"rpc"`
	Database  DatabaseConfig  `yaml:"database"`
	Log       LogConfig       `yaml:"log"`
	Indexer   IndexerConfig   `yaml:"indexer"`
	Synthetic SyntheticConfig `yaml:"synthetic"`
	API       APIConfig       `yaml:"api"`
}

// RPCConfig holds RPC client configuration
type RPCConfig struct {
	Endpoint   string        `yaml:"endpoint"`
	WSEndpoint string        `yaml:"ws_endpoint"`
	Timeout    time.Duration `yaml:"timeout"`
	TLS        TLSConfig     `yaml:"tls"`
}

// TLSConfig holds TLS settings for https and wss endpoints
type TLSConfig struct {
	CAFile             string `yaml:"ca_file"`
	ServerName         string `yaml:"server_name"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path         string `yaml:"path"`
	ReadOnly     bool   `yaml:"readonly"`
	Cache        int    `yaml:"cache"`
	MaxOpenFiles int    `yaml:"max_open_files"`
	WriteBuffer  int    `yaml:"write_buffer"`
	Sync         bool   `yaml:"sync"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// IndexerConfig holds indexer-specific configuration
type IndexerConfig struct {
	// Mode is "live" or "synthetic"
	Mode           string        `yaml:"mode"`
	Workers        int           `yaml:"workers"`
	Lookahead      uint64        `yaml:"lookahead"`
	StartHeight    uint64        `yaml:"start_height"`
	ReportInterval time.Duration `yaml:"report_interval"`

	RestartBackoff time.Duration `yaml:"restart_backoff"`
	RestartRate    float64       `yaml:"restart_rate"`
	RestartBurst   int           `yaml:"restart_burst"`

	// Recipients restricts streamed mempool transactions to these addresses.
	// Empty delivers everything.
	Recipients []string `yaml:"recipients"`
}

// SyntheticConfig holds generated chain settings
type SyntheticConfig struct {
	Tip           uint64        `yaml:"tip"`
	TxsPerBlock   int           `yaml:"txs_per_block"`
	BlockInterval time.Duration `yaml:"block_interval"`
	TxInterval    time.Duration `yaml:"tx_interval"`
	Seed          uint64        `yaml:"seed"`
}

// APIConfig holds API server configuration
type APIConfig struct {
	Enabled            bool     `yaml:"enabled"`
	Host               string   `yaml:"host"`
	Port               int      `yaml:"port"`
	EnableGraphQL      bool     `yaml:"enable_graphql"`
	EnablePlayground   bool     `yaml:"enable_playground"`
	EnableCORS         bool     `yaml:"enable_cors"`
	AllowedOrigins     []string `yaml:"allowed_origins"`
	EnableRateLimit    bool     `yaml:"enable_rate_limit"`
	RateLimitPerSecond float64  `yaml:"rate_limit_per_second"`
	RateLimitBurst     int      `yaml:"rate_limit_burst"`
}

// NewConfig creates a new configuration with default values
func NewConfig() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults fills zero values. Worker counts depend on the mode and are
// left to the indexer when unset.
func (c *Config) SetDefaults() {
	// Database defaults
	if c.Database.Cache == 0 {
		c.Database.Cache = constants.DefaultCacheSize
	}
	if c.Database.MaxOpenFiles == 0 {
		c.Database.MaxOpenFiles = constants.DefaultMaxOpenFiles
	}
	if c.Database.WriteBuffer == 0 {
		c.Database.WriteBuffer = constants.DefaultWriteBuffer
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}

	// Indexer defaults
	if c.Indexer.Mode == "" {
		c.Indexer.Mode = ModeLive
	}
	if c.Indexer.Lookahead == 0 {
		c.Indexer.Lookahead = constants.DefaultLookahead
	}
	if c.Indexer.ReportInterval == 0 {
		c.Indexer.ReportInterval = constants.DefaultReportInterval
	}

	// Synthetic defaults
	if c.Synthetic.TxsPerBlock == 0 {
		c.Synthetic.TxsPerBlock = constants.DefaultSyntheticTxsPerBlock
	}
	if c.Synthetic.BlockInterval == 0 {
		c.Synthetic.BlockInterval = constants.DefaultSyntheticBlockInterval
	}
	if c.Synthetic.TxInterval == 0 {
		c.Synthetic.TxInterval = constants.DefaultSyntheticTxInterval
	}

	// API defaults
	if c.API.Host == "" {
		c.API.Host = constants.DefaultAPIHost
	}
	if c.API.Port == 0 {
		c.API.Port = constants.DefaultAPIPort
	}
	if c.API.AllowedOrigins == nil {
		c.API.AllowedOrigins = []string{"*"}
	}
	if c.API.RateLimitPerSecond == 0 {
		c.API.RateLimitPerSecond = constants.DefaultRateLimitPerSecond
	}
	if c.API.RateLimitBurst == 0 {
		c.API.RateLimitBurst = constants.DefaultRateLimitBurst
	}
}

// LoadFromEnv overrides configuration from INDEXER_* environment variables
func (c *Config) LoadFromEnv() error {
	// RPC configuration
	if endpoint := os.Getenv("INDEXER_RPC_ENDPOINT"); endpoint != "" {
		c.RPC.Endpoint = endpoint
	}
	if endpoint := os.Getenv("INDEXER_RPC_WS_ENDPOINT"); endpoint != "" {
		c.RPC.WSEndpoint = endpoint
	}
	if err := envDuration("INDEXER_RPC_TIMEOUT", &c.RPC.Timeout); err != nil {
		return err
	}
	if caFile := os.Getenv("INDEXER_RPC_TLS_CA_FILE"); caFile != "" {
		c.RPC.TLS.CAFile = caFile
	}
	if serverName := os.Getenv("INDEXER_RPC_TLS_SERVER_NAME"); serverName != "" {
		c.RPC.TLS.ServerName = serverName
	}
	if err := envBool("INDEXER_RPC_TLS_INSECURE", &c.RPC.TLS.InsecureSkipVerify); err != nil {
		return err
	}

	// Database configuration
	if path := os.Getenv("INDEXER_DB_PATH"); path != "" {
		c.Database.Path = path
	}
	if err := envBool("INDEXER_DB_READONLY", &c.Database.ReadOnly); err != nil {
		return err
	}
	if err := envInt("INDEXER_DB_CACHE", &c.Database.Cache); err != nil {
		return err
	}
	if err := envBool("INDEXER_DB_SYNC", &c.Database.Sync); err != nil {
		return err
	}

	// Log configuration
	if level := os.Getenv("INDEXER_LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
	if format := os.Getenv("INDEXER_LOG_FORMAT"); format != "" {
		c.Log.Format = format
	}

	// Indexer configuration
	if mode := os.Getenv("INDEXER_MODE"); mode != "" {
		c.Indexer.Mode = mode
	}
	if err := envInt("INDEXER_WORKERS", &c.Indexer.Workers); err != nil {
		return err
	}
	if err := envUint("INDEXER_LOOKAHEAD", &c.Indexer.Lookahead); err != nil {
		return err
	}
	if err := envUint("INDEXER_START_HEIGHT", &c.Indexer.StartHeight); err != nil {
		return err
	}
	if err := envDuration("INDEXER_REPORT_INTERVAL", &c.Indexer.ReportInterval); err != nil {
		return err
	}
	if err := envDuration("INDEXER_RESTART_BACKOFF", &c.Indexer.RestartBackoff); err != nil {
		return err
	}
	if err := envFloat("INDEXER_RESTART_RATE", &c.Indexer.RestartRate); err != nil {
		return err
	}
	if err := envInt("INDEXER_RESTART_BURST", &c.Indexer.RestartBurst); err != nil {
		return err
	}
	if recipients := os.Getenv("INDEXER_RECIPIENTS"); recipients != "" {
		c.Indexer.Recipients = splitList(recipients)
	}

	// Synthetic configuration
	if err := envUint("INDEXER_SYNTHETIC_TIP", &c.Synthetic.Tip); err != nil {
		return err
	}
	if err := envInt("INDEXER_SYNTHETIC_TXS_PER_BLOCK", &c.Synthetic.TxsPerBlock); err != nil {
		return err
	}
	if err := envDuration("INDEXER_SYNTHETIC_BLOCK_INTERVAL", &c.Synthetic.BlockInterval); err != nil {
		return err
	}
	if err := envDuration("INDEXER_SYNTHETIC_TX_INTERVAL", &c.Synthetic.TxInterval); err != nil {
		return err
	}
	if err := envUint("INDEXER_SYNTHETIC_SEED", &c.Synthetic.Seed); err != nil {
		return err
	}

	// API configuration
	if err := envBool("INDEXER_API_ENABLED", &c.API.Enabled); err != nil {
		return err
	}
	if host := os.Getenv("INDEXER_API_HOST"); host != "" {
		c.API.Host = host
	}
	if err := envInt("INDEXER_API_PORT", &c.API.Port); err != nil {
		return err
	}
	if err := envBool("INDEXER_API_GRAPHQL", &c.API.EnableGraphQL); err != nil {
		return err
	}
	if err := envBool("INDEXER_API_PLAYGROUND", &c.API.EnablePlayground); err != nil {
		return err
	}
	if err := envBool("INDEXER_API_CORS_ENABLED", &c.API.EnableCORS); err != nil {
		return err
	}
	if allowedOrigins := os.Getenv("INDEXER_API_CORS_ALLOWED_ORIGINS"); allowedOrigins != "" {
		origins := splitList(allowedOrigins)
		if len(origins) == 0 {
			origins = []string{"*"}
		}
		c.API.AllowedOrigins = origins
	}
	if err := envBool("INDEXER_API_RATE_LIMIT_ENABLED", &c.API.EnableRateLimit); err != nil {
		return err
	}
	if err := envFloat("INDEXER_API_RATE_LIMIT", &c.API.RateLimitPerSecond); err != nil {
		return err
	}
	if err := envInt("INDEXER_API_RATE_LIMIT_BURST", &c.API.RateLimitBurst); err != nil {
		return err
	}

	return nil
}

func envBool(key string, dst *bool) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	val, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = val
	return nil
}

func envInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	val, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = val
	return nil
}

func envUint(key string, dst *uint64) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	val, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = val
	return nil
}

func envFloat(key string, dst *float64) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	val, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = val
	return nil
}

func envDuration(key string, dst *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	val, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = val
	return nil
}

func splitList(s string) []string {
	out := make([]string, 0)
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate indexer mode first; it decides what else is required
	switch c.Indexer.Mode {
	case ModeLive:
		if c.RPC.Endpoint == "" {
			return fmt.Errorf("RPC endpoint is required in live mode")
		}
	case ModeSynthetic:
	default:
		return fmt.Errorf("invalid indexer mode %q, must be one of: live, synthetic", c.Indexer.Mode)
	}
	if c.RPC.Timeout < 0 {
		return fmt.Errorf("RPC timeout cannot be negative")
	}

	// Validate database configuration
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	if c.Database.ReadOnly {
		return fmt.Errorf("database cannot be read-only while indexing")
	}

	// Validate log configuration
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level %q, must be one of: debug, info, warn, error", c.Log.Level)
	}

	validLogFormats := map[string]bool{
		"json":    true,
		"console": true,
	}
	if !validLogFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format %q, must be one of: json, console", c.Log.Format)
	}

	// Validate indexer configuration
	if c.Indexer.Workers < 0 || c.Indexer.Workers > constants.MaxWorkers {
		return fmt.Errorf("worker count must be between 0 and %d", constants.MaxWorkers)
	}
	if c.Indexer.Lookahead == 0 {
		return fmt.Errorf("lookahead must be positive")
	}
	if c.Indexer.RestartBackoff < 0 || c.Indexer.RestartRate < 0 || c.Indexer.RestartBurst < 0 {
		return fmt.Errorf("restart policy values cannot be negative")
	}
	for _, r := range c.Indexer.Recipients {
		if !common.IsHexAddress(r) {
			return fmt.Errorf("invalid recipient address %q", r)
		}
	}

	// Validate synthetic configuration
	if c.Indexer.Mode == ModeSynthetic && c.Synthetic.TxsPerBlock < 1 {
		return fmt.Errorf("synthetic txs per block must be at least 1")
	}

	// Validate API configuration
	if c.API.Enabled {
		if c.API.Port < constants.MinPort || c.API.Port > constants.MaxPort {
			return fmt.Errorf("API port must be between %d and %d", constants.MinPort, constants.MaxPort)
		}
		if c.API.EnableRateLimit && c.API.RateLimitPerSecond <= 0 {
			return fmt.Errorf("API rate limit must be positive")
		}
	}

	return nil
}

// RecipientAddresses parses the configured recipient filter
func (c *Config) RecipientAddresses() []common.Address {
	out := make([]common.Address, 0, len(c.Indexer.Recipients))
	for _, r := range c.Indexer.Recipients {
		out = append(out, common.HexToAddress(r))
	}
	return out
}

// Load is a convenience method that loads configuration in the following order:
// 1. Set defaults
// 2. Load from file (if provided)
// 3. Load from environment variables (override file)
// 4. Apply overrides such as command-line flags (override env)
// 5. Validate
func Load(configFile string, overrides ...func(*Config)) (*Config, error) {
	cfg := NewConfig()

	// Load from file if provided
	if configFile != "" {
		if err := cfg.LoadFromFile(configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// Load from environment variables (override file)
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	for _, override := range overrides {
		override(cfg)
	}

	// Set defaults for any missing values
	cfg.SetDefaults()

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}
