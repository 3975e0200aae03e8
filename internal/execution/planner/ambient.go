package planner

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/defi-actions/internal/errors"
	"github.com/ggonzalez94/defi-actions/internal/execution"
	"github.com/ggonzalez94/defi-actions/internal/id"
	"github.com/ggonzalez94/defi-actions/internal/registry"
	"github.com/shopspring/decimal"
)

const ambientPoolIdx = 420

var ambientActions = []string{"deposit", "withdraw"}

var ambientCallpath = map[int64]uint16{
	1:     2,
	81457: 128,
}

// Liquidity command codes: range mint 11/12, ambient mint 31/32, range burn
// 21/22, ambient burn 41/42. The odd code takes qty in base token units.
const (
	ambientMintRangeBase   = 11
	ambientMintRangeQuote  = 12
	ambientBurnRangeBase   = 21
	ambientBurnRangeQuote  = 22
	ambientMintAmbientBase = 31
	ambientMintAmbientQuot = 32
	ambientBurnAmbientBase = 41
	ambientBurnAmbientQuot = 42
)

var ambientCmdArgs = func() abi.Arguments {
	mustType := func(name string) abi.Type {
		typ, err := abi.NewType(name, "", nil)
		if err != nil {
			panic(err)
		}
		return typ
	}
	return abi.Arguments{
		{Type: mustType("uint8")},
		{Type: mustType("address")},
		{Type: mustType("address")},
		{Type: mustType("uint256")},
		{Type: mustType("int24")},
		{Type: mustType("int24")},
		{Type: mustType("uint128")},
		{Type: mustType("uint128")},
		{Type: mustType("uint128")},
		{Type: mustType("uint8")},
		{Type: mustType("address")},
	}
}()

// PriceSource quotes USD prices keyed by lowercase token address.
type PriceSource interface {
	Prices(ctx context.Context, chain id.Chain, tokens []id.Token) (map[string]decimal.Decimal, error)
}

// TickLookup finds the ticks of an existing range position.
type TickLookup interface {
	RangeTicks(ctx context.Context, chain id.Chain, account, pool string) (lower, upper int64, found bool, err error)
}

// Ambient builds concentrated and full-range liquidity commands for the
// Ambient dex. The native asset is always the base side of a pair.
type Ambient struct {
	book   *registry.AddressBook
	prices PriceSource
	ticks  TickLookup
}

func NewAmbient(book *registry.AddressBook, prices PriceSource, ticks TickLookup) *Ambient {
	return &Ambient{book: book, prices: prices, ticks: ticks}
}

func (a *Ambient) Name() string { return "ambient" }

func (a *Ambient) Actions() []string { return append([]string(nil), ambientActions...) }

type ambientPair struct {
	name  string
	base  id.Token
	quote id.Token
}

func (p ambientPair) baseAddress() common.Address {
	if p.base.IsNative() {
		return common.Address{}
	}
	return tokenAddress(p.base)
}

func (p ambientPair) quoteAddress() common.Address {
	return tokenAddress(p.quote)
}

func (a *Ambient) Build(ctx context.Context, actx execution.ActionContext) (execution.BuilderResult, error) {
	base := actx.Common()
	stake, ok := actx.(execution.StakeContext)
	if !ok || !containsAction(ambientActions, base.Action) {
		return execution.BuilderResult{}, unsupportedAction(a.Name(), base.Action, ambientActions)
	}
	if base.Action == "deposit" {
		if err := requireAmount(stake.Primary); err != nil {
			return execution.BuilderResult{}, err
		}
	}
	pair, err := a.resolvePair(stake)
	if err != nil {
		return execution.BuilderResult{}, err
	}
	dex, err := a.book.Contract(a.Name(), base.Chain.EVMChainID, registry.PurposeDex)
	if err != nil {
		return execution.BuilderResult{}, err
	}
	query, err := a.book.Contract(a.Name(), base.Chain.EVMChainID, registry.PurposeQuery)
	if err != nil {
		return execution.BuilderResult{}, err
	}
	callpath, ok := ambientCallpath[base.Chain.EVMChainID]
	if !ok {
		return execution.BuilderResult{}, unsupportedCombination(base, stake.Primary.Token.Symbol, pair.name)
	}

	reader, release, err := openReader(ctx, base)
	if err != nil {
		return execution.BuilderResult{}, err
	}
	defer release()

	sqrtPrice, err := viewUint(ctx, reader, query.Address, ambientQueryABI, "queryPrice", pair.baseAddress(), pair.quoteAddress(), big.NewInt(ambientPoolIdx))
	if err != nil {
		return execution.BuilderResult{}, err
	}
	if sqrtPrice.Sign() == 0 {
		return execution.BuilderResult{}, clierr.New(clierr.CodeUnavailable, fmt.Sprintf("ambient pool %s is not initialized", pair.name))
	}
	limitLow, limitHigh := priceLimits(sqrtPrice)

	isRange, lower, upper, err := a.resolveTicks(ctx, stake, pair, sqrtPrice)
	if err != nil {
		return execution.BuilderResult{}, err
	}
	primaryIsBase := id.SameAsset(base.Chain, stake.Primary.Token.Symbol, pair.base.Symbol) ||
		strings.EqualFold(stake.Primary.Token.Address, pair.base.Address)

	result := execution.BuilderResult{}
	if base.Action == "deposit" {
		value, err := a.prepareDeposit(ctx, reader, &result, stake, pair, primaryIsBase, isRange, dex.Address)
		if err != nil {
			return result, err
		}
		code := depositCode(isRange, primaryIsBase)
		cmd, err := ambientCmdArgs.Pack(uint8(code), pair.baseAddress(), pair.quoteAddress(), big.NewInt(ambientPoolIdx),
			big.NewInt(lower), big.NewInt(upper), stake.Primary.Amount, limitLow, limitHigh, uint8(0), common.Address{})
		if err != nil {
			return result, clierr.Wrap(clierr.CodeInternal, "pack ambient command", err)
		}
		data, err := packCall(ambientDexABI, "userCmd", callpath, cmd)
		if err != nil {
			return result, err
		}
		result.Append(evmTx(base.Chain, dex.Address, value, data), base.Action)
		return result, nil
	}

	qty, err := a.withdrawQty(ctx, reader, query.Address, stake, pair, primaryIsBase, isRange, lower, upper)
	if err != nil {
		return result, err
	}
	code := withdrawCode(isRange, primaryIsBase)
	cmd, err := ambientCmdArgs.Pack(uint8(code), pair.baseAddress(), pair.quoteAddress(), big.NewInt(ambientPoolIdx),
		big.NewInt(lower), big.NewInt(upper), qty, limitLow, limitHigh, uint8(0), common.Address{})
	if err != nil {
		return result, clierr.Wrap(clierr.CodeInternal, "pack ambient command", err)
	}
	data, err := packCall(ambientDexABI, "userCmd", callpath, cmd)
	if err != nil {
		return result, err
	}
	result.Append(evmTx(base.Chain, dex.Address, nil, data), base.Action)
	return result, nil
}

// withdrawQty reads the caller's position and returns the quantity to burn,
// measured on the primary side. An omitted amount burns the whole side.
func (a *Ambient) withdrawQty(ctx context.Context, reader execution.ChainReader, query common.Address, stake execution.StakeContext, pair ambientPair, primaryIsBase, isRange bool, lower, upper int64) (*big.Int, error) {
	owner := accountAddress(stake.Base)
	var out []any
	var err error
	if isRange {
		out, err = callView(ctx, reader, query, ambientQueryABI, "queryRangeTokens", owner, pair.baseAddress(), pair.quoteAddress(),
			big.NewInt(ambientPoolIdx), big.NewInt(lower), big.NewInt(upper))
	} else {
		out, err = callView(ctx, reader, query, ambientQueryABI, "queryAmbientTokens", owner, pair.baseAddress(), pair.quoteAddress(),
			big.NewInt(ambientPoolIdx))
	}
	if err != nil {
		return nil, err
	}
	if len(out) < 3 {
		return nil, clierr.New(clierr.CodeUnavailable, "ambient position query returned too few values")
	}
	side := out[2]
	if primaryIsBase {
		side = out[1]
	}
	held, _ := side.(*big.Int)
	insufficient := clierr.New(clierr.CodeInsufficient, fmt.Sprintf("Insufficient %s to withdraw.", strings.ToLower(stake.Primary.Token.Symbol)))
	if held == nil || held.Sign() == 0 {
		return nil, insufficient
	}
	if stake.Primary.IsAll() {
		return held, nil
	}
	if held.Cmp(stake.Primary.Amount) < 0 {
		return nil, insufficient
	}
	return stake.Primary.Amount, nil
}

// resolvePair validates the pool against the pool table and orders the pair
// with the native asset as base.
func (a *Ambient) resolvePair(stake execution.StakeContext) (ambientPair, error) {
	name := stake.Pool
	if name == "" {
		if stake.Secondary == nil {
			return ambientPair{}, clierr.New(clierr.CodeUsage, "ambient requires a pool or both pool tokens")
		}
		name = strings.ToLower(stake.Primary.Token.Symbol + "-" + stake.Secondary.Token.Symbol)
	}
	name = normalizeWrappedPoolName(stake.Chain, name)
	pool, ok := a.book.Pool(a.Name(), stake.Chain.EVMChainID, name)
	if !ok || len(pool.Tokens) != 2 {
		return ambientPair{}, unsupportedCombination(stake.Base, stake.Primary.Token.Symbol, name)
	}
	if !id.SameAsset(stake.Chain, stake.Primary.Token.Symbol, pool.Tokens[0]) && !id.SameAsset(stake.Chain, stake.Primary.Token.Symbol, pool.Tokens[1]) {
		return ambientPair{}, unsupportedCombination(stake.Base, stake.Primary.Token.Symbol, pool.Name)
	}
	t0, err := id.ResolveToken(stake.Chain, pool.Tokens[0])
	if err != nil {
		return ambientPair{}, err
	}
	t1, err := id.ResolveToken(stake.Chain, pool.Tokens[1])
	if err != nil {
		return ambientPair{}, err
	}
	switch {
	case t0.IsNative():
	case t1.IsNative():
		t0, t1 = t1, t0
	case strings.ToLower(t0.Address) > strings.ToLower(t1.Address):
		t0, t1 = t1, t0
	}
	return ambientPair{name: pool.Name, base: t0, quote: t1}, nil
}

// normalizeWrappedPoolName folds the wrapped native symbol into the native one.
func normalizeWrappedPoolName(chain id.Chain, name string) string {
	wrapped := strings.ToLower(chain.WrappedNativeSymbol())
	native := strings.ToLower(chain.NativeSymbol)
	if wrapped == "" {
		return name
	}
	parts := strings.Split(name, "-")
	for i, part := range parts {
		if part == wrapped {
			parts[i] = native
		}
	}
	return strings.Join(parts, "-")
}

func (a *Ambient) resolveTicks(ctx context.Context, stake execution.StakeContext, pair ambientPair, sqrtPrice *big.Int) (bool, int64, int64, error) {
	if stake.LowerTick != nil && stake.UpperTick != nil {
		if *stake.LowerTick >= *stake.UpperTick {
			return false, 0, 0, clierr.New(clierr.CodeUsage, "lower tick must be below upper tick")
		}
		return true, *stake.LowerTick, *stake.UpperTick, nil
	}
	if stake.RangePct == 0 {
		return false, 0, 0, nil
	}
	if stake.Action == "withdraw" {
		if a.ticks == nil {
			return false, 0, 0, clierr.New(clierr.CodeUsage, "withdrawing a range position requires its ticks")
		}
		lower, upper, found, err := a.ticks.RangeTicks(ctx, stake.Chain, stake.Account, pair.name)
		if err != nil {
			return false, 0, 0, err
		}
		if !found {
			return false, 0, 0, clierr.New(clierr.CodeInsufficient, fmt.Sprintf("no range position found in ambient pool %s", pair.name))
		}
		return true, lower, upper, nil
	}
	lower, upper := rangeTicks(priceFromSqrtX64(sqrtPrice), stake.RangePct)
	return true, lower, upper, nil
}

// prepareDeposit appends approvals for the non-native sides and returns the
// native value to send.
func (a *Ambient) prepareDeposit(ctx context.Context, reader execution.ChainReader, result *execution.BuilderResult, stake execution.StakeContext, pair ambientPair, primaryIsBase, isRange bool, dex common.Address) (*big.Int, error) {
	primary := stake.Primary
	counterToken := pair.quote
	if !primaryIsBase {
		counterToken = pair.base
	}
	var counter *big.Int
	if stake.Secondary != nil && stake.Secondary.Amount != nil {
		counter = new(big.Int).Set(stake.Secondary.Amount)
	} else {
		derived, err := a.counterAmount(ctx, stake.Chain, primary, counterToken)
		if err != nil {
			return nil, err
		}
		counter = derived
	}

	owner := accountAddress(stake.Base)
	approvalFactor := int64(100)
	if isRange {
		approvalFactor = 120
	}
	value := new(big.Int)
	sides := []execution.TokenAmount{primary, {Token: counterToken, Amount: counter}}
	for _, side := range sides {
		if side.Token.IsNative() {
			value = nativeValue(side.Amount, isRange)
			continue
		}
		if err := appendApprovalIfNeeded(ctx, reader, result, stake.Chain, tokenAddress(side.Token), owner, dex, scale(side.Amount, approvalFactor, 100)); err != nil {
			return nil, err
		}
	}
	return value, nil
}

// nativeValue pads the native side of a mint: 20% for range positions, 1%
// otherwise. The same rule holds whether the native amount was supplied or
// derived from prices.
func nativeValue(amount *big.Int, isRange bool) *big.Int {
	if isRange {
		return scale(amount, 120, 100)
	}
	return scale(amount, 101, 100)
}

// counterAmount is amount0·p0/p1 converted across decimals, plus 1%.
func (a *Ambient) counterAmount(ctx context.Context, chain id.Chain, primary execution.TokenAmount, counter id.Token) (*big.Int, error) {
	if a.prices == nil {
		return nil, clierr.New(clierr.CodeUsage, "both token amounts are required when no price source is configured")
	}
	prices, err := a.prices.Prices(ctx, chain, []id.Token{primary.Token, counter})
	if err != nil {
		return nil, err
	}
	p0, ok0 := prices[strings.ToLower(primary.Token.Address)]
	p1, ok1 := prices[strings.ToLower(counter.Address)]
	if !ok0 || !ok1 || !p1.IsPositive() {
		return nil, clierr.New(clierr.CodeUnavailable, fmt.Sprintf("price unavailable for %s or %s", primary.Token.Symbol, counter.Symbol))
	}
	return deriveCounterAmount(primary.Amount, primary.Token.Decimals, counter.Decimals, p0, p1), nil
}

func deriveCounterAmount(amount0 *big.Int, decimals0, decimals1 int, p0, p1 decimal.Decimal) *big.Int {
	value := decimal.NewFromBigInt(amount0, 0).
		Mul(p0).
		Div(p1).
		Shift(int32(decimals1 - decimals0)).
		Mul(decimal.NewFromInt(101)).
		Div(decimal.NewFromInt(100))
	return value.Floor().BigInt()
}

func depositCode(isRange, qtyInBase bool) int {
	switch {
	case isRange && qtyInBase:
		return ambientMintRangeBase
	case isRange:
		return ambientMintRangeQuote
	case qtyInBase:
		return ambientMintAmbientBase
	default:
		return ambientMintAmbientQuot
	}
}

func withdrawCode(isRange, qtyInBase bool) int {
	switch {
	case isRange && qtyInBase:
		return ambientBurnRangeBase
	case isRange:
		return ambientBurnRangeQuote
	case qtyInBase:
		return ambientBurnAmbientBase
	default:
		return ambientBurnAmbientQuot
	}
}
