package hyperliquid

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ggonzalez94/defi-actions/internal/cache"
	clierr "github.com/ggonzalez94/defi-actions/internal/errors"
	"github.com/ggonzalez94/defi-actions/internal/httpx"
	"github.com/ggonzalez94/defi-actions/internal/registry"
	"github.com/shopspring/decimal"
)

const (
	metaTTL   = 5 * time.Minute
	marketTTL = 30 * time.Second
)

// Market is one perpetual listed on the venue.
type Market struct {
	Name        string
	SzDecimals  int32
	MaxLeverage int64
	OraclePrice decimal.Decimal
	MarkPrice   decimal.Decimal
}

// Position is an open perpetual position. Size is signed: negative is short.
type Position struct {
	Coin          string
	Size          decimal.Decimal
	Leverage      int64
	EntryPrice    decimal.Decimal
	PositionValue decimal.Decimal
	UnrealizedPnl decimal.Decimal
}

type AccountState struct {
	AccountValue decimal.Decimal
	Withdrawable decimal.Decimal
	Positions    []Position
}

// Client reads market and account state from the venue's info endpoint.
// Metadata is cached in-process; account state is always fetched.
type Client struct {
	http    *httpx.Client
	baseURL string

	meta    *cache.TTL[string, map[string]int64]
	markets *cache.TTL[string, map[string]Market]
}

func New(httpClient *httpx.Client, baseURL string, now func() time.Time) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = registry.HyperliquidAPIURL
	}
	return &Client{
		http:    httpClient,
		baseURL: baseURL,
		meta:    cache.NewTTL[string, map[string]int64](metaTTL, now),
		markets: cache.NewTTL[string, map[string]Market](marketTTL, now),
	}
}

type universeEntry struct {
	Name        string `json:"name"`
	SzDecimals  int32  `json:"szDecimals"`
	MaxLeverage int64  `json:"maxLeverage"`
}

type metaResponse struct {
	Universe []universeEntry `json:"universe"`
}

type assetCtx struct {
	OraclePx string `json:"oraclePx"`
	MarkPx   string `json:"markPx"`
}

// MaxLeverage maps market name to the venue's leverage ceiling.
func (c *Client) MaxLeverage(ctx context.Context) (map[string]int64, error) {
	return c.meta.GetOrLoad("meta", func() (map[string]int64, error) {
		var resp metaResponse
		if err := c.info(ctx, map[string]any{"type": "meta"}, &resp); err != nil {
			return nil, err
		}
		out := make(map[string]int64, len(resp.Universe))
		for _, item := range resp.Universe {
			out[item.Name] = item.MaxLeverage
		}
		return out, nil
	})
}

// Markets maps market name to its listing and current prices.
func (c *Client) Markets(ctx context.Context) (map[string]Market, error) {
	return c.markets.GetOrLoad("markets", func() (map[string]Market, error) {
		var raw []json.RawMessage
		if err := c.info(ctx, map[string]any{"type": "metaAndAssetCtxs"}, &raw); err != nil {
			return nil, err
		}
		if len(raw) < 2 {
			return nil, clierr.New(clierr.CodeUnavailable, "hyperliquid metaAndAssetCtxs returned a short response")
		}
		var meta metaResponse
		if err := json.Unmarshal(raw[0], &meta); err != nil {
			return nil, clierr.Wrap(clierr.CodeUnavailable, "decode hyperliquid meta", err)
		}
		var ctxs []assetCtx
		if err := json.Unmarshal(raw[1], &ctxs); err != nil {
			return nil, clierr.Wrap(clierr.CodeUnavailable, "decode hyperliquid asset contexts", err)
		}
		out := make(map[string]Market, len(meta.Universe))
		for i, item := range meta.Universe {
			market := Market{Name: item.Name, SzDecimals: item.SzDecimals, MaxLeverage: item.MaxLeverage}
			if i < len(ctxs) {
				market.OraclePrice = parseDecimal(ctxs[i].OraclePx)
				market.MarkPrice = parseDecimal(ctxs[i].MarkPx)
			}
			out[item.Name] = market
		}
		return out, nil
	})
}

// FindMarket matches the venue's market name case-insensitively.
func (c *Client) FindMarket(ctx context.Context, name string) (Market, bool, error) {
	markets, err := c.Markets(ctx)
	if err != nil {
		return Market{}, false, err
	}
	if m, ok := markets[name]; ok {
		return m, true, nil
	}
	for key, m := range markets {
		if strings.EqualFold(key, name) {
			return m, true, nil
		}
	}
	return Market{}, false, nil
}

type clearinghouseResponse struct {
	MarginSummary struct {
		AccountValue string `json:"accountValue"`
	} `json:"marginSummary"`
	Withdrawable   string `json:"withdrawable"`
	AssetPositions []struct {
		Position struct {
			Coin     string `json:"coin"`
			Szi      string `json:"szi"`
			Leverage struct {
				Type  string `json:"type"`
				Value int64  `json:"value"`
			} `json:"leverage"`
			EntryPx       string `json:"entryPx"`
			PositionValue string `json:"positionValue"`
			UnrealizedPnl string `json:"unrealizedPnl"`
		} `json:"position"`
	} `json:"assetPositions"`
}

func (c *Client) AccountState(ctx context.Context, user string) (AccountState, error) {
	var resp clearinghouseResponse
	if err := c.info(ctx, map[string]any{"type": "clearinghouseState", "user": user}, &resp); err != nil {
		return AccountState{}, err
	}
	out := AccountState{
		AccountValue: parseDecimal(resp.MarginSummary.AccountValue),
		Withdrawable: parseDecimal(resp.Withdrawable),
		Positions:    make([]Position, 0, len(resp.AssetPositions)),
	}
	for _, item := range resp.AssetPositions {
		p := item.Position
		out.Positions = append(out.Positions, Position{
			Coin:          p.Coin,
			Size:          parseDecimal(p.Szi),
			Leverage:      p.Leverage.Value,
			EntryPrice:    parseDecimal(p.EntryPx),
			PositionValue: parseDecimal(p.PositionValue),
			UnrealizedPnl: parseDecimal(p.UnrealizedPnl),
		})
	}
	return out, nil
}

// OpenPosition returns the account's position in coin, if any.
func (c *Client) OpenPosition(ctx context.Context, user, coin string) (Position, bool, error) {
	state, err := c.AccountState(ctx, user)
	if err != nil {
		return Position{}, false, err
	}
	for _, p := range state.Positions {
		if strings.EqualFold(p.Coin, coin) {
			return p, true, nil
		}
	}
	return Position{}, false, nil
}

func (c *Client) info(ctx context.Context, body map[string]any, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return clierr.Wrap(clierr.CodeInternal, "encode hyperliquid request", err)
	}
	if _, err := httpx.DoBodyJSON(ctx, c.http, http.MethodPost, c.baseURL+"/info", raw, nil, out); err != nil {
		return clierr.Wrap(codeOf(err), fmt.Sprintf("hyperliquid %v request", body["type"]), err)
	}
	return nil
}

func codeOf(err error) clierr.Code {
	if typed, ok := clierr.As(err); ok {
		return typed.Code
	}
	return clierr.CodeUnavailable
}

func parseDecimal(v string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(v))
	if err != nil {
		return decimal.Zero
	}
	return d
}
