package planner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/defi-actions/internal/errors"
	"github.com/ggonzalez94/defi-actions/internal/execution"
	"github.com/ggonzalez94/defi-actions/internal/id"
	"github.com/ggonzalez94/defi-actions/internal/providers/hyperliquid"
	"github.com/ggonzalez94/defi-actions/internal/registry"
	"github.com/shopspring/decimal"
)

var hyperliquidActions = []string{"deposit", "withdraw", "long", "short", "close"}

// markets quoted in thousands of units carry a lowercase k prefix on the venue.
var hyperliquidThousandMarkets = map[string]struct{}{
	"PEPE": {}, "BONK": {}, "FLOKI": {}, "LUNC": {}, "NEIRO": {}, "SHIB": {}, "DOGS": {},
}

var hyperliquidMinNotional = decimal.NewFromInt(10)

// PerpVenue is the read side of the perpetuals venue.
type PerpVenue interface {
	FindMarket(ctx context.Context, name string) (hyperliquid.Market, bool, error)
	MaxLeverage(ctx context.Context) (map[string]int64, error)
	OpenPosition(ctx context.Context, user, coin string) (hyperliquid.Position, bool, error)
	AccountState(ctx context.Context, user string) (hyperliquid.AccountState, error)
}

// Hyperliquid builds bridge deposits on-chain and describes every other
// action as an off-chain signing payload.
type Hyperliquid struct {
	book   *registry.AddressBook
	venue  PerpVenue
	prices PriceSource
	now    func() time.Time
}

// NewHyperliquid wires the venue client. prices may be nil, in which case
// USDC is valued at par for the minimum order check.
func NewHyperliquid(book *registry.AddressBook, venue PerpVenue, prices PriceSource) *Hyperliquid {
	return &Hyperliquid{book: book, venue: venue, prices: prices, now: time.Now}
}

func (h *Hyperliquid) Name() string { return "hyperliquid" }

func (h *Hyperliquid) Actions() []string { return append([]string(nil), hyperliquidActions...) }

func (h *Hyperliquid) Build(ctx context.Context, actx execution.ActionContext) (execution.BuilderResult, error) {
	base := actx.Common()
	if !containsAction(hyperliquidActions, base.Action) {
		return execution.BuilderResult{}, unsupportedAction("Hyperliquid", base.Action, hyperliquidActions)
	}
	perp, ok := actx.(execution.PerpContext)
	if !ok {
		return execution.BuilderResult{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("hyperliquid %s expects a perpetuals context", base.Action))
	}
	if base.Action != "close" && !strings.EqualFold(perp.Collateral.Token.Symbol, "USDC") {
		return execution.BuilderResult{}, clierr.New(clierr.CodeUnsupported,
			fmt.Sprintf("Token %s is not supported to %s on Hyperliquid. Only USDC is supported.", perp.Collateral.Token.Symbol, base.Action))
	}
	if !h.book.Deployed(h.Name(), base.Chain.EVMChainID) {
		return execution.BuilderResult{}, unsupportedCombination(base, perp.Collateral.Token.Symbol, "")
	}

	switch base.Action {
	case "deposit":
		return h.deposit(ctx, perp)
	case "withdraw":
		return h.withdraw(ctx, perp)
	case "long", "short":
		return h.open(ctx, perp)
	default:
		return h.close(ctx, perp)
	}
}

func (h *Hyperliquid) deposit(ctx context.Context, perp execution.PerpContext) (execution.BuilderResult, error) {
	if err := requireAmount(perp.Collateral); err != nil {
		return execution.BuilderResult{}, err
	}
	bridge, err := h.book.Contract(h.Name(), perp.Chain.EVMChainID, registry.PurposeBridge)
	if err != nil {
		return execution.BuilderResult{}, err
	}
	if !common.IsHexAddress(perp.Collateral.Token.Address) {
		return execution.BuilderResult{}, unsupportedCombination(perp.Base, perp.Collateral.Token.Symbol, "")
	}
	reader, release, err := openReader(ctx, perp.Base)
	if err != nil {
		return execution.BuilderResult{}, err
	}
	defer release()
	amount, err := requireBalance(ctx, reader, perp.Chain, perp.Collateral.Token, accountAddress(perp.Base), perp.Collateral.Amount)
	if err != nil {
		return execution.BuilderResult{}, err
	}
	data, err := packCall(plannerERC20ABI, "transfer", bridge.Address, amount)
	if err != nil {
		return execution.BuilderResult{}, err
	}
	var result execution.BuilderResult
	result.Append(evmTx(perp.Chain, tokenAddress(perp.Collateral.Token), nil, data), execution.LabelTransfer)
	return result, nil
}

func (h *Hyperliquid) withdraw(ctx context.Context, perp execution.PerpContext) (execution.BuilderResult, error) {
	var amount decimal.Decimal
	if perp.Collateral.IsAll() {
		state, err := h.venue.AccountState(ctx, perp.Account)
		if err != nil {
			return execution.BuilderResult{}, err
		}
		amount = state.Withdrawable
	} else {
		amount = decimal.NewFromBigInt(perp.Collateral.Amount, -int32(perp.Collateral.Token.Decimals))
	}
	if !amount.IsPositive() {
		return execution.BuilderResult{}, clierr.New(clierr.CodeInsufficient, "There is nothing to withdraw from Hyperliquid.")
	}
	return execution.BuilderResult{
		Transactions: []execution.Transaction{},
		Labels:       []string{},
		SignPayload: &execution.SignPayload{
			Kind:        "withdraw",
			Destination: perp.Account,
			Amount:      &amount,
			Time:        h.now().UnixMilli(),
		},
	}, nil
}

func (h *Hyperliquid) open(ctx context.Context, perp execution.PerpContext) (execution.BuilderResult, error) {
	if err := requireAmount(perp.Collateral); err != nil {
		return execution.BuilderResult{}, err
	}
	coin := hyperliquidCoin(perp.Market)
	market, ok, err := h.venue.FindMarket(ctx, coin)
	if err != nil {
		return execution.BuilderResult{}, err
	}
	if !ok {
		return execution.BuilderResult{}, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("Market %s is not available on Hyperliquid.", coin))
	}
	position, hasPosition, err := h.venue.OpenPosition(ctx, perp.Account, market.Name)
	if err != nil {
		return execution.BuilderResult{}, err
	}

	leverage := perp.Leverage
	if leverage > 0 {
		maxLeverage := market.MaxLeverage
		if table, err := h.venue.MaxLeverage(ctx); err == nil {
			if v, ok := table[market.Name]; ok {
				maxLeverage = v
			}
		}
		if leverage > maxLeverage {
			return execution.BuilderResult{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("Leverage multiplier out of range. Max leverage allowed is %d.", maxLeverage))
		}
		if hasPosition && leverage < position.Leverage {
			return execution.BuilderResult{}, clierr.New(clierr.CodeUsage, "Cannot decrease leverage with open position.")
		}
	} else if hasPosition && position.Leverage > 0 {
		leverage = position.Leverage
	} else {
		leverage = 1
	}

	price, err := orderPrice(perp, market)
	if err != nil {
		return execution.BuilderResult{}, err
	}
	notional := decimal.NewFromBigInt(perp.Collateral.Amount, -int32(perp.Collateral.Token.Decimals)).Mul(decimal.NewFromInt(leverage))
	if notional.Mul(h.usdcPrice(ctx, perp)).LessThan(hyperliquidMinNotional) {
		return execution.BuilderResult{}, clierr.New(clierr.CodeUsage,
			fmt.Sprintf("Hyperliquid only supports %s of at least $10. Please ensure your input amount is properly set and try again.", perp.Action))
	}
	size := notional.DivRound(price, 12).Truncate(market.SzDecimals)
	if !size.IsPositive() {
		return execution.BuilderResult{}, invalidHyperliquidSize()
	}
	side := "buy"
	if perp.Action == "short" {
		side = "sell"
	}
	return signOnly(&execution.SignPayload{
		Kind:     "order",
		Market:   hyperliquidMarketName(market.Name),
		Side:     side,
		Price:    &price,
		Size:     &size,
		Leverage: leverage,
	}), nil
}

func (h *Hyperliquid) close(ctx context.Context, perp execution.PerpContext) (execution.BuilderResult, error) {
	coin := hyperliquidCoin(perp.Market)
	position, ok, err := h.venue.OpenPosition(ctx, perp.Account, coin)
	if err != nil {
		return execution.BuilderResult{}, err
	}
	if !ok {
		return execution.BuilderResult{}, invalidHyperliquidSize()
	}
	size := position.Size.Abs().Mul(decimal.NewFromInt(perp.Percent)).Div(decimal.NewFromInt(100))
	if !size.IsPositive() {
		return execution.BuilderResult{}, invalidHyperliquidSize()
	}
	market, found, err := h.venue.FindMarket(ctx, position.Coin)
	if err != nil {
		return execution.BuilderResult{}, err
	}
	if !found {
		market = hyperliquid.Market{Name: position.Coin}
	}
	price, err := orderPrice(perp, market)
	if err != nil {
		return execution.BuilderResult{}, err
	}
	// closing a long sells, closing a short buys.
	side := "sell"
	if position.Size.IsNegative() {
		side = "buy"
	}
	return signOnly(&execution.SignPayload{
		Kind:       "order",
		Market:     hyperliquidMarketName(position.Coin),
		Side:       side,
		Price:      &price,
		Size:       &size,
		Leverage:   position.Leverage,
		ReduceOnly: true,
	}), nil
}

func (h *Hyperliquid) usdcPrice(ctx context.Context, perp execution.PerpContext) decimal.Decimal {
	if h.prices == nil || perp.Collateral.Token.Address == "" {
		return decimal.NewFromInt(1)
	}
	prices, err := h.prices.Prices(ctx, perp.Chain, []id.Token{perp.Collateral.Token})
	if err != nil {
		return decimal.NewFromInt(1)
	}
	if p, ok := prices[strings.ToLower(perp.Collateral.Token.Address)]; ok && p.IsPositive() {
		return p
	}
	return decimal.NewFromInt(1)
}

func orderPrice(perp execution.PerpContext, market hyperliquid.Market) (decimal.Decimal, error) {
	if perp.LimitPrice != nil && perp.LimitPrice.IsPositive() {
		return *perp.LimitPrice, nil
	}
	if market.OraclePrice.IsPositive() {
		return market.OraclePrice, nil
	}
	return decimal.Zero, clierr.New(clierr.CodeUnavailable, fmt.Sprintf("no oracle price for Hyperliquid market %s", market.Name))
}

// hyperliquidCoin turns "pepe", "BTC/USDC" or "eth-perp" into the venue's coin name.
func hyperliquidCoin(market string) string {
	coin := strings.TrimSpace(market)
	if i := strings.IndexAny(coin, "/-"); i >= 0 {
		coin = coin[:i]
	}
	upper := strings.ToUpper(coin)
	if strings.HasPrefix(upper, "K") {
		if _, ok := hyperliquidThousandMarkets[upper[1:]]; ok {
			return "k" + upper[1:]
		}
	}
	if _, ok := hyperliquidThousandMarkets[upper]; ok {
		return "k" + upper
	}
	return upper
}

func hyperliquidMarketName(coin string) string {
	return coin + "/USDC:USDC"
}

func invalidHyperliquidSize() error {
	return clierr.New(clierr.CodeUsage, "Invalid size for this Hyperliquid order, please try again with a more clear prompt.")
}

func signOnly(payload *execution.SignPayload) execution.BuilderResult {
	return execution.BuilderResult{Transactions: []execution.Transaction{}, Labels: []string{}, SignPayload: payload}
}
