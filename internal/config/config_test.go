package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadPrecedenceFlagsOverEnvOverFile(t *testing.T) {
	configPath := writeConfig(t, "output: plain\nretries: 1\nlog:\n  level: info\n")

	t.Setenv("DEFIACT_OUTPUT", "json")
	t.Setenv("DEFIACT_LOG_LEVEL", "error")
	flags := GlobalFlags{ConfigPath: configPath, Plain: true, Retries: 5, LogLevel: "debug"}
	settings, err := Load(flags)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.OutputMode != "plain" {
		t.Fatalf("expected flag to win, got output=%s", settings.OutputMode)
	}
	if settings.Retries != 5 {
		t.Fatalf("expected retries from flags, got %d", settings.Retries)
	}
	if settings.LogLevel != "debug" {
		t.Fatalf("expected log level from flags, got %s", settings.LogLevel)
	}
}

func TestLoadMutuallyExclusiveOutputFlags(t *testing.T) {
	_, err := Load(GlobalFlags{JSON: true, Plain: true, Retries: -1})
	if err == nil {
		t.Fatal("expected error with --json and --plain")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_CACHE_HOME", "/tmp/cachehome")
	settings, err := Load(GlobalFlags{Retries: -1})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.LogLevel != "warn" || settings.LogFormat != "json" {
		t.Fatalf("unexpected log defaults: %s/%s", settings.LogLevel, settings.LogFormat)
	}
	if settings.Timeout != 15*time.Second || settings.Retries != 2 {
		t.Fatalf("unexpected transport defaults: %s/%d", settings.Timeout, settings.Retries)
	}
	if settings.CachePath != filepath.Join("/tmp/cachehome", "defiact", "cache.db") {
		t.Fatalf("unexpected cache path %s", settings.CachePath)
	}
}

func TestLoadEndpointsKeysAndAddressOverrides(t *testing.T) {
	configPath := writeConfig(t, `
rpc:
  42161: https://arb.example
  81457: https://blast.example
solana_rpc: https://sol.example
fork_rpc: http://127.0.0.1:8545
hyperliquid:
  endpoint: https://hl.example
redis:
  addr: localhost:6379
providers:
  debank:
    api_key: inline-key
  jupiter:
    api_key_env: TEST_JUP_KEY
addresses:
  aave:
    42161:
      pool: "0x0000000000000000000000000000000000000abc"
`)
	t.Setenv("TEST_JUP_KEY", "from-env")
	t.Setenv("DEFIACT_RPC_81457", "https://blast.env")

	settings, err := Load(GlobalFlags{ConfigPath: configPath, Retries: -1})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := settings.RPCURL(42161); got != "https://arb.example" {
		t.Fatalf("unexpected arbitrum rpc %q", got)
	}
	if got := settings.RPCURL(81457); got != "https://blast.env" {
		t.Fatalf("expected env to override file rpc, got %q", got)
	}
	if settings.RPCURL(1) != "" {
		t.Fatal("expected no override for mainnet")
	}
	if settings.SolanaRPC != "https://sol.example" || settings.ForkRPC != "http://127.0.0.1:8545" {
		t.Fatalf("unexpected rpc endpoints: %+v", settings)
	}
	if settings.HyperliquidEndpoint != "https://hl.example" || settings.RedisAddr != "localhost:6379" {
		t.Fatalf("unexpected service endpoints: %+v", settings)
	}
	if settings.DebankAPIKey != "inline-key" || settings.JupiterAPIKey != "from-env" {
		t.Fatalf("unexpected api keys: %q %q", settings.DebankAPIKey, settings.JupiterAPIKey)
	}
	if settings.Addresses["aave"][42161]["pool"] != "0x0000000000000000000000000000000000000abc" {
		t.Fatalf("unexpected address overrides: %+v", settings.Addresses)
	}
}

func TestLoadRejectsUnknownLogFormat(t *testing.T) {
	configPath := writeConfig(t, "log:\n  format: xml\n")
	if _, err := Load(GlobalFlags{ConfigPath: configPath, Retries: -1}); err == nil {
		t.Fatal("expected log format error")
	}
}

func TestLoadAllowlists(t *testing.T) {
	settings, err := Load(GlobalFlags{
		ConfigPath:      filepath.Join(t.TempDir(), "missing.yaml"),
		EnableCommands:  "build, positions list",
		EnableProtocols: "aave,,jupiter",
		Retries:         -1,
	})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(settings.EnableCommands) != 2 || settings.EnableCommands[1] != "positions list" {
		t.Fatalf("unexpected commands %v", settings.EnableCommands)
	}
	if len(settings.EnableProtocols) != 2 || settings.EnableProtocols[1] != "jupiter" {
		t.Fatalf("unexpected protocols %v", settings.EnableProtocols)
	}
}
