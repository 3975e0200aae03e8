package jupiter

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	clierr "github.com/ggonzalez94/defi-actions/internal/errors"
	"github.com/ggonzalez94/defi-actions/internal/httpx"
	"github.com/ggonzalez94/defi-actions/internal/registry"
)

type Client struct {
	http    *httpx.Client
	baseURL string
	apiKey  string
}

// New selects the pro base when an API key is present.
func New(httpClient *httpx.Client, apiKey string) *Client {
	apiKey = strings.TrimSpace(apiKey)
	baseURL := registry.JupiterLiteBaseURL
	if apiKey != "" {
		baseURL = registry.JupiterProBaseURL
	}
	return &Client{http: httpClient, baseURL: baseURL, apiKey: apiKey}
}

// WithBaseURL points the client at another deployment, e.g. a test server.
func (c *Client) WithBaseURL(baseURL string) *Client {
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

type QuoteRequest struct {
	InputMint   string
	OutputMint  string
	Amount      *big.Int
	SlippageBps int64
}

// Quote keeps the raw response so it can be handed back to the swap endpoint unchanged.
type Quote struct {
	InAmount       string
	OutAmount      string
	PriceImpactPct float64
	Route          string
	raw            json.RawMessage
}

type quoteResponse struct {
	InAmount       string `json:"inAmount"`
	OutAmount      string `json:"outAmount"`
	PriceImpactPct string `json:"priceImpactPct"`
	RoutePlan      []struct {
		SwapInfo struct {
			Label string `json:"label"`
		} `json:"swapInfo"`
	} `json:"routePlan"`
}

func (c *Client) Quote(ctx context.Context, req QuoteRequest) (Quote, error) {
	if strings.TrimSpace(req.InputMint) == "" || strings.TrimSpace(req.OutputMint) == "" {
		return Quote{}, clierr.New(clierr.CodeUsage, "jupiter quote requires input and output mints")
	}
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return Quote{}, clierr.New(clierr.CodeUsage, "jupiter quote requires a positive amount")
	}
	slippage := req.SlippageBps
	if slippage <= 0 {
		slippage = 100
	}

	vals := url.Values{}
	vals.Set("inputMint", req.InputMint)
	vals.Set("outputMint", req.OutputMint)
	vals.Set("amount", req.Amount.String())
	vals.Set("slippageBps", strconv.FormatInt(slippage, 10))

	endpoint := fmt.Sprintf("%s/quote?%s", strings.TrimRight(c.baseURL, "/"), vals.Encode())
	hReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Quote{}, clierr.Wrap(clierr.CodeInternal, "build jupiter quote request", err)
	}
	if c.apiKey != "" {
		hReq.Header.Set("x-api-key", c.apiKey)
	}

	var raw json.RawMessage
	if _, err := c.http.DoJSON(ctx, hReq, &raw); err != nil {
		return Quote{}, err
	}
	var resp quoteResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Quote{}, clierr.Wrap(clierr.CodeUnavailable, "decode jupiter quote", err)
	}
	if strings.TrimSpace(resp.OutAmount) == "" {
		return Quote{}, clierr.New(clierr.CodeUnavailable, "jupiter quote missing output amount")
	}
	labels := make([]string, 0, len(resp.RoutePlan))
	for _, hop := range resp.RoutePlan {
		labels = append(labels, hop.SwapInfo.Label)
	}
	return Quote{
		InAmount:       resp.InAmount,
		OutAmount:      resp.OutAmount,
		PriceImpactPct: parsePriceImpactPct(resp.PriceImpactPct),
		Route:          routeFromLabels(labels),
		raw:            raw,
	}, nil
}

type swapRequest struct {
	QuoteResponse           json.RawMessage `json:"quoteResponse"`
	UserPublicKey           string          `json:"userPublicKey"`
	WrapAndUnwrapSol        bool            `json:"wrapAndUnwrapSol"`
	DynamicComputeUnitLimit bool            `json:"dynamicComputeUnitLimit"`
}

type swapResponse struct {
	SwapTransaction      string `json:"swapTransaction"`
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
}

// SwapTransaction assembles the unsigned versioned transaction for quote and
// returns its raw bytes.
func (c *Client) SwapTransaction(ctx context.Context, quote Quote, userPublicKey string) ([]byte, error) {
	if len(quote.raw) == 0 {
		return nil, clierr.New(clierr.CodeUsage, "jupiter swap requires a quote")
	}
	body, err := json.Marshal(swapRequest{
		QuoteResponse:           quote.raw,
		UserPublicKey:           userPublicKey,
		WrapAndUnwrapSol:        true,
		DynamicComputeUnitLimit: true,
	})
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "encode jupiter swap request", err)
	}
	headers := map[string]string{}
	if c.apiKey != "" {
		headers["x-api-key"] = c.apiKey
	}
	var resp swapResponse
	if _, err := httpx.DoBodyJSON(ctx, c.http, http.MethodPost, strings.TrimRight(c.baseURL, "/")+"/swap", body, headers, &resp); err != nil {
		return nil, err
	}
	if strings.TrimSpace(resp.SwapTransaction) == "" {
		return nil, clierr.New(clierr.CodeUnavailable, "jupiter swap missing transaction")
	}
	raw, err := base64.StdEncoding.DecodeString(resp.SwapTransaction)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "decode jupiter swap transaction", err)
	}
	return raw, nil
}

func parsePriceImpactPct(v string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || f < 0 {
		return 0
	}
	return f
}

func routeFromLabels(labels []string) string {
	parts := make([]string, 0, len(labels))
	for _, label := range labels {
		label = strings.TrimSpace(label)
		if label == "" {
			continue
		}
		if len(parts) == 0 || parts[len(parts)-1] != label {
			parts = append(parts, label)
		}
	}
	if len(parts) == 0 {
		return "jupiter"
	}
	return strings.Join(parts, " > ")
}
