package defillama

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ggonzalez94/defi-actions/internal/cache"
	clierr "github.com/ggonzalez94/defi-actions/internal/errors"
	"github.com/ggonzalez94/defi-actions/internal/httpx"
	"github.com/ggonzalez94/defi-actions/internal/id"
	"github.com/ggonzalez94/defi-actions/internal/registry"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	batchSize    = 40
	maxInFlight  = 4
	priceTTL     = time.Minute
	priceStale   = 10 * time.Minute
	cacheKeyBase = "defillama:prices:"
)

// coins API chain keys that differ from our slugs.
var llamaChainKeys = map[string]string{
	"avalanche": "avax",
}

// Client quotes current USD prices from the DefiLlama coins API.
type Client struct {
	http    *httpx.Client
	baseURL string
	backend cache.Backend
	log     *zap.Logger
}

func New(httpClient *httpx.Client) *Client {
	return &Client{http: httpClient, baseURL: registry.DefiLlamaCoinsURL, log: zap.NewNop()}
}

// WithCache stores price responses in backend. A nil backend disables caching.
func (c *Client) WithCache(backend cache.Backend, log *zap.Logger) *Client {
	c.backend = backend
	if log != nil {
		c.log = log
	}
	return c
}

func (c *Client) WithBaseURL(baseURL string) *Client {
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

type coinPrice struct {
	Symbol   string          `json:"symbol"`
	Decimals int             `json:"decimals"`
	Price    decimal.Decimal `json:"price"`
}

type pricesResponse struct {
	Coins map[string]coinPrice `json:"coins"`
}

// Prices returns USD prices keyed by lowercase token address. The native
// marker is priced through the chain's wrapped native token. Tokens the
// oracle does not know are absent from the result.
func (c *Client) Prices(ctx context.Context, chain id.Chain, tokens []id.Token) (map[string]decimal.Decimal, error) {
	prefix := chainKey(chain)
	// coin key -> addresses asking for it
	wanted := map[string][]string{}
	for _, token := range tokens {
		addr := strings.TrimSpace(token.Address)
		if addr == "" {
			continue
		}
		lookup := addr
		if token.IsNative() {
			if wrapped, ok := id.WrappedNative(chain); ok {
				lookup = wrapped.Address
			}
		}
		if chain.IsEVM() {
			lookup = strings.ToLower(lookup)
		}
		key := prefix + ":" + lookup
		wanted[key] = append(wanted[key], strings.ToLower(addr))
	}
	if len(wanted) == 0 {
		return map[string]decimal.Decimal{}, nil
	}

	keys := make([]string, 0, len(wanted))
	for key := range wanted {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var (
		mu     sync.Mutex
		merged = map[string]coinPrice{}
	)
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(maxInFlight)
	for start := 0; start < len(keys); start += batchSize {
		batch := keys[start:min(start+batchSize, len(keys))]
		group.Go(func() error {
			resp, err := c.fetchBatch(gctx, batch)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			for k, v := range resp.Coins {
				merged[strings.ToLower(k)] = v
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]decimal.Decimal, len(tokens))
	for key, addrs := range wanted {
		price, ok := merged[strings.ToLower(key)]
		if !ok || !price.Price.IsPositive() {
			continue
		}
		for _, addr := range addrs {
			out[addr] = price.Price
		}
	}
	return out, nil
}

func (c *Client) fetchBatch(ctx context.Context, coins []string) (pricesResponse, error) {
	joined := strings.Join(coins, ",")
	policy := cache.Policy{TTL: priceTTL, MaxStale: priceStale}
	return cache.FetchJSON(ctx, c.backend, c.log, cacheKeyBase+joined, policy, func(ctx context.Context) (pricesResponse, error) {
		url := fmt.Sprintf("%s/prices/current/%s", c.baseURL, joined)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return pricesResponse{}, clierr.Wrap(clierr.CodeInternal, "build price request", err)
		}
		var resp pricesResponse
		if _, err := c.http.DoJSON(ctx, req, &resp); err != nil {
			return pricesResponse{}, err
		}
		return resp, nil
	})
}

func chainKey(chain id.Chain) string {
	if key, ok := llamaChainKeys[chain.Slug]; ok {
		return key
	}
	return chain.Slug
}
