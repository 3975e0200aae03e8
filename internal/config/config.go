package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type GlobalFlags struct {
	ConfigPath      string
	JSON            bool
	Plain           bool
	Select          string
	ResultsOnly     bool
	EnableCommands  string
	EnableProtocols string
	Timeout         string
	Retries         int
	MaxStale        string
	NoStale         bool
	NoCache         bool
	LogLevel        string
}

type Settings struct {
	OutputMode      string
	SelectFields    []string
	ResultsOnly     bool
	EnableCommands  []string
	EnableProtocols []string
	Timeout         time.Duration
	Retries         int
	MaxStale        time.Duration
	NoStale         bool
	CacheEnabled    bool
	CachePath       string
	CacheLockPath   string
	RedisAddr       string

	// RPC holds per-chain EVM endpoint overrides keyed by numeric chain ID.
	RPC       map[int64]string
	SolanaRPC string
	// ForkRPC points at an anvil-compatible fork used by the EVM simulator.
	ForkRPC string

	DebankAPIKey        string
	JupiterAPIKey       string
	HyperliquidEndpoint string

	LogLevel  string
	LogFormat string
	LogFile   string

	// Addresses overrides the built-in address table: protocol -> chain -> purpose -> address.
	Addresses map[string]map[int64]map[string]string
}

type keyConfig struct {
	APIKey    string `yaml:"api_key"`
	APIKeyEnv string `yaml:"api_key_env"`
}

func (k keyConfig) resolve() string {
	if k.APIKeyEnv != "" {
		if v := os.Getenv(k.APIKeyEnv); v != "" {
			return v
		}
	}
	return k.APIKey
}

type fileConfig struct {
	Output  string `yaml:"output"`
	Timeout string `yaml:"timeout"`
	Retries *int   `yaml:"retries"`
	Cache   struct {
		Enabled  *bool  `yaml:"enabled"`
		MaxStale string `yaml:"max_stale"`
		Path     string `yaml:"path"`
		LockPath string `yaml:"lock_path"`
	} `yaml:"cache"`
	RPC         map[int64]string `yaml:"rpc"`
	SolanaRPC   string           `yaml:"solana_rpc"`
	ForkRPC     string           `yaml:"fork_rpc"`
	Hyperliquid struct {
		Endpoint string `yaml:"endpoint"`
	} `yaml:"hyperliquid"`
	Redis struct {
		Addr string `yaml:"addr"`
	} `yaml:"redis"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		File   string `yaml:"file"`
	} `yaml:"log"`
	Providers struct {
		Debank  keyConfig `yaml:"debank"`
		Jupiter keyConfig `yaml:"jupiter"`
	} `yaml:"providers"`
	Addresses map[string]map[int64]map[string]string `yaml:"addresses"`
}

func Load(flags GlobalFlags) (Settings, error) {
	settings, err := defaultSettings()
	if err != nil {
		return Settings{}, err
	}

	cfgPath, err := resolveConfigPath(flags.ConfigPath)
	if err != nil {
		return Settings{}, err
	}

	if err := applyFileConfig(cfgPath, &settings); err != nil {
		return Settings{}, err
	}

	applyEnv(&settings)

	if err := applyFlags(flags, &settings); err != nil {
		return Settings{}, err
	}

	if settings.OutputMode == "" {
		settings.OutputMode = "json"
	}
	if settings.Timeout <= 0 {
		settings.Timeout = 15 * time.Second
	}
	if settings.Retries < 0 {
		settings.Retries = 0
	}
	if settings.MaxStale < 0 {
		settings.MaxStale = 5 * time.Minute
	}
	if settings.LogLevel == "" {
		settings.LogLevel = "warn"
	}

	return settings, nil
}

// RPCURL returns the configured endpoint for an EVM chain, or "" to use the
// built-in default.
func (s Settings) RPCURL(chainID int64) string {
	return strings.TrimSpace(s.RPC[chainID])
}

func defaultSettings() (Settings, error) {
	cachePath, lockPath, err := defaultCachePaths()
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		OutputMode:    "json",
		Timeout:       15 * time.Second,
		Retries:       2,
		MaxStale:      5 * time.Minute,
		CacheEnabled:  true,
		CachePath:     cachePath,
		CacheLockPath: lockPath,
		RPC:           map[int64]string{},
		LogLevel:      "warn",
		LogFormat:     "json",
	}, nil
}

func resolveConfigPath(input string) (string, error) {
	if strings.TrimSpace(input) != "" {
		return input, nil
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "defiact", "config.yaml"), nil
}

func defaultCachePaths() (string, string, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", "", err
		}
		base = filepath.Join(home, ".cache")
	}
	dir := filepath.Join(base, "defiact")
	return filepath.Join(dir, "cache.db"), filepath.Join(dir, "cache.lock"), nil
}

func applyFileConfig(path string, settings *Settings) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}

	if cfg.Output != "" {
		settings.OutputMode = strings.ToLower(cfg.Output)
	}
	if cfg.Timeout != "" {
		d, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return fmt.Errorf("config timeout: %w", err)
		}
		settings.Timeout = d
	}
	if cfg.Retries != nil {
		settings.Retries = *cfg.Retries
	}
	if cfg.Cache.Enabled != nil {
		settings.CacheEnabled = *cfg.Cache.Enabled
	}
	if cfg.Cache.MaxStale != "" {
		d, err := time.ParseDuration(cfg.Cache.MaxStale)
		if err != nil {
			return fmt.Errorf("config cache.max_stale: %w", err)
		}
		settings.MaxStale = d
	}
	if cfg.Cache.Path != "" {
		settings.CachePath = cfg.Cache.Path
	}
	if cfg.Cache.LockPath != "" {
		settings.CacheLockPath = cfg.Cache.LockPath
	}
	for chainID, url := range cfg.RPC {
		if strings.TrimSpace(url) != "" {
			settings.RPC[chainID] = strings.TrimSpace(url)
		}
	}
	if cfg.SolanaRPC != "" {
		settings.SolanaRPC = cfg.SolanaRPC
	}
	if cfg.ForkRPC != "" {
		settings.ForkRPC = cfg.ForkRPC
	}
	if cfg.Hyperliquid.Endpoint != "" {
		settings.HyperliquidEndpoint = cfg.Hyperliquid.Endpoint
	}
	if cfg.Redis.Addr != "" {
		settings.RedisAddr = cfg.Redis.Addr
	}
	if cfg.Log.Level != "" {
		settings.LogLevel = strings.ToLower(cfg.Log.Level)
	}
	if cfg.Log.Format != "" {
		settings.LogFormat = strings.ToLower(cfg.Log.Format)
	}
	if cfg.Log.File != "" {
		settings.LogFile = cfg.Log.File
	}
	if v := cfg.Providers.Debank.resolve(); v != "" {
		settings.DebankAPIKey = v
	}
	if v := cfg.Providers.Jupiter.resolve(); v != "" {
		settings.JupiterAPIKey = v
	}
	if len(cfg.Addresses) > 0 {
		settings.Addresses = cfg.Addresses
	}

	return nil
}

func applyEnv(settings *Settings) {
	if v := os.Getenv("DEFIACT_OUTPUT"); v != "" {
		settings.OutputMode = strings.ToLower(v)
	}
	if v := os.Getenv("DEFIACT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.Timeout = d
		}
	}
	if v := os.Getenv("DEFIACT_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			settings.Retries = n
		}
	}
	if v := os.Getenv("DEFIACT_MAX_STALE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.MaxStale = d
		}
	}
	if v := os.Getenv("DEFIACT_NO_STALE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.NoStale = b
		}
	}
	if v := os.Getenv("DEFIACT_NO_CACHE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.CacheEnabled = !b
		}
	}
	if v := os.Getenv("DEFIACT_CACHE_PATH"); v != "" {
		settings.CachePath = v
	}
	if v := os.Getenv("DEFIACT_CACHE_LOCK_PATH"); v != "" {
		settings.CacheLockPath = v
	}
	if v := os.Getenv("DEFIACT_REDIS_ADDR"); v != "" {
		settings.RedisAddr = v
	}
	if v := os.Getenv("DEFIACT_SOLANA_RPC"); v != "" {
		settings.SolanaRPC = v
	}
	if v := os.Getenv("DEFIACT_FORK_RPC"); v != "" {
		settings.ForkRPC = v
	}
	if v := os.Getenv("DEFIACT_HYPERLIQUID_ENDPOINT"); v != "" {
		settings.HyperliquidEndpoint = v
	}
	if v := os.Getenv("DEFIACT_DEBANK_API_KEY"); v != "" {
		settings.DebankAPIKey = v
	}
	if v := os.Getenv("DEFIACT_JUPITER_API_KEY"); v != "" {
		settings.JupiterAPIKey = v
	}
	if v := os.Getenv("DEFIACT_LOG_LEVEL"); v != "" {
		settings.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv("DEFIACT_LOG_FORMAT"); v != "" {
		settings.LogFormat = strings.ToLower(v)
	}
	if v := os.Getenv("DEFIACT_LOG_FILE"); v != "" {
		settings.LogFile = v
	}
	// DEFIACT_RPC_<chainID>=url
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, "DEFIACT_RPC_") || strings.TrimSpace(value) == "" {
			continue
		}
		chainID, err := strconv.ParseInt(strings.TrimPrefix(key, "DEFIACT_RPC_"), 10, 64)
		if err != nil {
			continue
		}
		settings.RPC[chainID] = strings.TrimSpace(value)
	}
}

func applyFlags(flags GlobalFlags, settings *Settings) error {
	if flags.JSON && flags.Plain {
		return fmt.Errorf("cannot use --json and --plain together")
	}
	if flags.JSON {
		settings.OutputMode = "json"
	}
	if flags.Plain {
		settings.OutputMode = "plain"
	}
	if fields := splitList(flags.Select); len(fields) > 0 {
		settings.SelectFields = fields
	}
	settings.ResultsOnly = flags.ResultsOnly
	if allowed := splitList(flags.EnableCommands); len(allowed) > 0 {
		settings.EnableCommands = allowed
	}
	if allowed := splitList(flags.EnableProtocols); len(allowed) > 0 {
		settings.EnableProtocols = allowed
	}

	if flags.Timeout != "" {
		d, err := time.ParseDuration(flags.Timeout)
		if err != nil {
			return fmt.Errorf("parse --timeout: %w", err)
		}
		settings.Timeout = d
	}
	if flags.Retries >= 0 {
		settings.Retries = flags.Retries
	}
	if flags.MaxStale != "" {
		d, err := time.ParseDuration(flags.MaxStale)
		if err != nil {
			return fmt.Errorf("parse --max-stale: %w", err)
		}
		settings.MaxStale = d
	}
	if flags.NoStale {
		settings.NoStale = true
	}
	if flags.NoCache {
		settings.CacheEnabled = false
	}
	if flags.LogLevel != "" {
		settings.LogLevel = strings.ToLower(flags.LogLevel)
	}

	if settings.OutputMode != "json" && settings.OutputMode != "plain" {
		return fmt.Errorf("output must be json or plain")
	}
	if settings.LogFormat != "json" && settings.LogFormat != "console" {
		return fmt.Errorf("log format must be json or console")
	}

	return nil
}

func splitList(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if f := strings.TrimSpace(part); f != "" {
			out = append(out, f)
		}
	}
	return out
}
