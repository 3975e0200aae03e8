package debank

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ggonzalez94/defi-actions/internal/cache"
	clierr "github.com/ggonzalez94/defi-actions/internal/errors"
	"github.com/ggonzalez94/defi-actions/internal/httpx"
	"github.com/ggonzalez94/defi-actions/internal/registry"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	positionsTTL   = 30 * time.Second
	positionsStale = 5 * time.Minute
)

// indexer chain ids by EVM chain id.
var chainIDs = map[int64]string{
	1:     "eth",
	10:    "op",
	56:    "bsc",
	137:   "matic",
	8453:  "base",
	42161: "arb",
	43114: "avax",
	81457: "blast",
}

// ChainID returns the indexer's identifier for an EVM chain.
func ChainID(evmChainID int64) (string, bool) {
	v, ok := chainIDs[evmChainID]
	return v, ok
}

// EVMChainID maps an indexer chain identifier back to an EVM chain id.
func EVMChainID(chain string) (int64, bool) {
	for k, v := range chainIDs {
		if v == chain {
			return k, true
		}
	}
	return 0, false
}

type Token struct {
	ID       string          `json:"id"`
	Chain    string          `json:"chain"`
	Symbol   string          `json:"symbol"`
	Decimals int             `json:"decimals"`
	Amount   decimal.Decimal `json:"amount"`
	Price    decimal.Decimal `json:"price"`
}

type Detail struct {
	Description     string   `json:"description"`
	HealthRate      *float64 `json:"health_rate"`
	SupplyTokenList []Token  `json:"supply_token_list"`
	BorrowTokenList []Token  `json:"borrow_token_list"`
	RewardTokenList []Token  `json:"reward_token_list"`
}

type Pool struct {
	ID         string `json:"id"`
	Controller string `json:"controller"`
}

type Stats struct {
	AssetUSDValue float64 `json:"asset_usd_value"`
	DebtUSDValue  float64 `json:"debt_usd_value"`
	NetUSDValue   float64 `json:"net_usd_value"`
}

// PortfolioItem is one position inside a protocol. Name is the indexer's
// category ("Lending", "Staked", "Liquidity Pool", ...).
type PortfolioItem struct {
	Name          string `json:"name"`
	PositionIndex string `json:"position_index"`
	Pool          Pool   `json:"pool"`
	Detail        Detail `json:"detail"`
	Stats         Stats  `json:"stats"`
}

type Protocol struct {
	ID                string          `json:"id"`
	Chain             string          `json:"chain"`
	Name              string          `json:"name"`
	PortfolioItemList []PortfolioItem `json:"portfolio_item_list"`
}

// Client talks to the DeBank pro API.
type Client struct {
	http    *httpx.Client
	baseURL string
	apiKey  string
	backend cache.Backend
	log     *zap.Logger
}

func New(httpClient *httpx.Client, apiKey string) *Client {
	return &Client{
		http:    httpClient,
		baseURL: registry.DebankBaseURL,
		apiKey:  strings.TrimSpace(apiKey),
		log:     zap.NewNop(),
	}
}

func (c *Client) WithBaseURL(baseURL string) *Client {
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

func (c *Client) WithCache(backend cache.Backend, log *zap.Logger) *Client {
	c.backend = backend
	if log != nil {
		c.log = log
	}
	return c
}

// ComplexProtocolList returns every protocol the account holds positions in on one chain.
func (c *Client) ComplexProtocolList(ctx context.Context, account, chainID string) ([]Protocol, error) {
	return getJSON[[]Protocol](ctx, c, "/v1/user/complex_protocol_list", url.Values{"id": {account}, "chain_id": {chainID}})
}

// UserProtocol returns the account's positions in one protocol. protocolID
// carries the chain prefix off mainnet, e.g. "arb_dolomite".
func (c *Client) UserProtocol(ctx context.Context, account, protocolID string) (Protocol, error) {
	return getJSON[Protocol](ctx, c, "/v1/user/protocol", url.Values{"id": {account}, "protocol_id": {protocolID}})
}

func getJSON[T any](ctx context.Context, c *Client, path string, query url.Values) (T, error) {
	if c.apiKey == "" {
		var zero T
		return zero, clierr.New(clierr.CodeAuth, "missing indexer access key (set DEFIACT_DEBANK_API_KEY)")
	}
	endpoint := fmt.Sprintf("%s%s?%s", c.baseURL, path, query.Encode())
	policy := cache.Policy{TTL: positionsTTL, MaxStale: positionsStale}
	return cache.FetchJSON(ctx, c.backend, c.log, "debank:"+path+"?"+query.Encode(), policy, func(ctx context.Context) (T, error) {
		var out T
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return out, clierr.Wrap(clierr.CodeInternal, "build indexer request", err)
		}
		req.Header.Set("AccessKey", c.apiKey)
		req.Header.Set("Accept", "application/json")
		if _, err := c.http.DoJSON(ctx, req, &out); err != nil {
			return out, err
		}
		return out, nil
	})
}
