package registry

import (
	"fmt"
	"strings"
)

// Canonical default EVM RPC endpoints by chain ID.
// These values are used whenever a caller does not pass an RPC override.
var defaultRPCByChainID = map[int64]string{
	1:     "https://eth.llamarpc.com",
	10:    "https://mainnet.optimism.io",
	56:    "https://bsc-dataseed.binance.org",
	137:   "https://polygon-rpc.com",
	8453:  "https://mainnet.base.org",
	42161: "https://arb1.arbitrum.io/rpc",
	43114: "https://api.avax.network/ext/bc/C/rpc",
	81457: "https://rpc.blast.io",
}

const DefaultSolanaRPCURL = "https://api.mainnet-beta.solana.com"

func DefaultRPCURL(chainID int64) (string, bool) {
	value, ok := defaultRPCByChainID[chainID]
	return value, ok
}

// ResolveRPCURL prefers the per-call override; the default table is only
// consulted when no override is given.
func ResolveRPCURL(override string, chainID int64) (string, error) {
	if strings.TrimSpace(override) != "" {
		return strings.TrimSpace(override), nil
	}
	if value, ok := DefaultRPCURL(chainID); ok {
		return value, nil
	}
	return "", fmt.Errorf("no default rpc configured for chain id %d; provide --rpc-url", chainID)
}

func ResolveSolanaRPCURL(override string) string {
	if strings.TrimSpace(override) != "" {
		return strings.TrimSpace(override)
	}
	return DefaultSolanaRPCURL
}
