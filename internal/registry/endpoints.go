package registry

const (
	// Portfolio indexer.
	DebankBaseURL = "https://pro-openapi.debank.com"

	// Perpetuals venue info API.
	HyperliquidAPIURL = "https://api.hyperliquid.xyz"

	// Solana swap aggregator.
	JupiterLiteBaseURL = "https://lite-api.jup.ag/swap/v1"
	JupiterProBaseURL  = "https://api.jup.ag/swap/v1"

	// Price oracle.
	DefiLlamaCoinsURL = "https://coins.llama.fi"
)
