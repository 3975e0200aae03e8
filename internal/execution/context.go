package execution

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/defi-actions/internal/errors"
	"github.com/ggonzalez94/defi-actions/internal/id"
	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"
)

// ChainReader is the read-only slice of an EVM client builders use.
// *ethclient.Client satisfies it.
type ChainReader interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

type Family string

const (
	FamilySwap   Family = "swap"
	FamilyBridge Family = "bridge"
	FamilyLend   Family = "lend"
	FamilyStake  Family = "stake"
	FamilyPerp   Family = "perp"
)

// Intent is the normalized, still-untyped action request as it arrives from
// the caller. NewContext is the only place it is turned into a typed context.
type Intent struct {
	Account     string `yaml:"account"`
	Protocol    string `yaml:"protocol"`
	Action      string `yaml:"action"`
	Chain       string `yaml:"chain"`
	Token       string `yaml:"token"`
	Amount      string `yaml:"amount"`
	Token2      string `yaml:"token2"`
	Amount2     string `yaml:"amount2"`
	OutputToken string `yaml:"output_token"`
	Pool        string `yaml:"pool"`
	// RangePct is the +/- percentage band around the current price for
	// concentrated liquidity. Zero means full range.
	RangePct    int64  `yaml:"range_pct"`
	LowerTick   *int64 `yaml:"lower_tick"`
	UpperTick   *int64 `yaml:"upper_tick"`
	Leverage    int64  `yaml:"leverage"`
	LimitPrice  string `yaml:"limit_price"`
	Percent     int64  `yaml:"percent"`
	SlippageBps int64  `yaml:"slippage_bps"`
	Destination string `yaml:"destination"`
}

// ContextOptions carries request-scoped handles that are not part of the intent.
type ContextOptions struct {
	RPCURL string
	Client ChainReader
}

// Base is shared by every action family.
type Base struct {
	Account  string
	Protocol string
	Action   string
	Chain    id.Chain
	RPCURL   string
	Client   ChainReader
}

func (b Base) Common() Base { return b }

// TokenAmount pairs a resolved token with a base-unit amount. A nil Amount
// means "everything available" and is only accepted for reversing actions.
type TokenAmount struct {
	Token  id.Token
	Amount *big.Int
}

func (t TokenAmount) IsAll() bool { return t.Amount == nil }

// ActionContext is implemented by the per-family contexts below.
type ActionContext interface {
	Common() Base
	Family() Family
}

type SwapContext struct {
	Base
	In          TokenAmount
	Out         id.Token
	SlippageBps int64
}

func (SwapContext) Family() Family { return FamilySwap }

type BridgeContext struct {
	Base
	In          TokenAmount
	Destination id.Chain
}

func (BridgeContext) Family() Family { return FamilyBridge }

// LendContext covers lend, deposit, borrow, repay and withdraw on lending markets.
type LendContext struct {
	Base
	Asset TokenAmount
	// Collateral is supplied alongside a borrow when the account has no position yet.
	Collateral *TokenAmount
}

func (LendContext) Family() Family { return FamilyLend }

// StakeContext covers pool liquidity and staking actions.
type StakeContext struct {
	Base
	Primary   TokenAmount
	Secondary *TokenAmount
	Pool      string
	RangePct  int64
	LowerTick *int64
	UpperTick *int64
}

func (StakeContext) Family() Family { return FamilyStake }

// PerpContext covers perpetuals venues. Market is the venue's asset symbol,
// not an on-chain token.
type PerpContext struct {
	Base
	Market     string
	Collateral TokenAmount
	Leverage   int64
	LimitPrice *decimal.Decimal
	Percent    int64
}

func (PerpContext) Family() Family { return FamilyPerp }

var lendingProtocols = map[string]struct{}{"aave": {}, "dolomite": {}, "compound": {}}

var perpProtocols = map[string]struct{}{"hyperliquid": {}}

// reversing actions may omit the amount ("all").
var amountOptional = map[string]struct{}{
	"withdraw": {}, "unstake": {}, "claim": {}, "close": {}, "unlock": {}, "vote": {},
}

// FamilyFor classifies a protocol/action pair. Deposit and withdraw depend on
// what kind of protocol receives them.
func FamilyFor(protocol, action string) (Family, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	action = strings.ToLower(strings.TrimSpace(action))
	switch action {
	case "swap":
		return FamilySwap, nil
	case "bridge":
		return FamilyBridge, nil
	case "lend", "borrow", "repay":
		return FamilyLend, nil
	case "stake", "unstake", "claim", "lock", "unlock", "vote":
		return FamilyStake, nil
	case "long", "short", "close":
		return FamilyPerp, nil
	case "deposit", "withdraw":
		if _, ok := perpProtocols[protocol]; ok {
			return FamilyPerp, nil
		}
		if _, ok := lendingProtocols[protocol]; ok {
			return FamilyLend, nil
		}
		return FamilyStake, nil
	case "":
		return "", clierr.New(clierr.CodeUsage, "action is required")
	default:
		return "", clierr.New(clierr.CodeUnsupported, fmt.Sprintf("unsupported action %q", action))
	}
}

// NewContext validates an intent and builds the typed context for its
// family. Amount strings are converted to base units here and nowhere else.
func NewContext(intent Intent, opts ContextOptions) (ActionContext, error) {
	protocol := strings.ToLower(strings.TrimSpace(intent.Protocol))
	action := strings.ToLower(strings.TrimSpace(intent.Action))
	if protocol == "" {
		return nil, clierr.New(clierr.CodeUsage, "protocol is required")
	}
	family, err := FamilyFor(protocol, action)
	if err != nil {
		return nil, err
	}
	chain, err := id.ParseChain(intent.Chain)
	if err != nil {
		return nil, err
	}
	account, err := normalizeAccount(chain, intent.Account)
	if err != nil {
		return nil, err
	}
	base := Base{
		Account:  account,
		Protocol: protocol,
		Action:   action,
		Chain:    chain,
		RPCURL:   strings.TrimSpace(opts.RPCURL),
		Client:   opts.Client,
	}

	switch family {
	case FamilySwap:
		in, err := resolveTokenAmount(chain, action, intent.Token, intent.Amount)
		if err != nil {
			return nil, err
		}
		out, err := id.ResolveToken(chain, intent.OutputToken)
		if err != nil {
			return nil, err
		}
		slippage := intent.SlippageBps
		if slippage <= 0 {
			slippage = 100
		}
		return SwapContext{Base: base, In: in, Out: out, SlippageBps: slippage}, nil
	case FamilyBridge:
		in, err := resolveTokenAmount(chain, action, intent.Token, intent.Amount)
		if err != nil {
			return nil, err
		}
		dest, err := id.ParseChain(intent.Destination)
		if err != nil {
			return nil, err
		}
		return BridgeContext{Base: base, In: in, Destination: dest}, nil
	case FamilyLend:
		asset, err := resolveTokenAmount(chain, action, intent.Token, intent.Amount)
		if err != nil {
			return nil, err
		}
		out := LendContext{Base: base, Asset: asset}
		if strings.TrimSpace(intent.Token2) != "" {
			collateral, err := resolveTokenAmount(chain, "lend", intent.Token2, intent.Amount2)
			if err != nil {
				return nil, err
			}
			out.Collateral = &collateral
		}
		return out, nil
	case FamilyStake:
		if intent.RangePct < 0 || intent.RangePct >= 100 {
			return nil, clierr.New(clierr.CodeUsage, "range must be between 0 and 99 percent")
		}
		primary, err := resolveTokenAmount(chain, action, intent.Token, intent.Amount)
		if err != nil {
			return nil, err
		}
		out := StakeContext{
			Base:      base,
			Primary:   primary,
			Pool:      strings.ToLower(strings.TrimSpace(intent.Pool)),
			RangePct:  intent.RangePct,
			LowerTick: intent.LowerTick,
			UpperTick: intent.UpperTick,
		}
		if strings.TrimSpace(intent.Token2) != "" {
			secondary, err := resolveOptionalTokenAmount(chain, intent.Token2, intent.Amount2)
			if err != nil {
				return nil, err
			}
			out.Secondary = &secondary
		}
		return out, nil
	case FamilyPerp:
		return newPerpContext(base, intent)
	}
	return nil, clierr.New(clierr.CodeInternal, "unhandled action family")
}

func newPerpContext(base Base, intent Intent) (ActionContext, error) {
	out := PerpContext{Base: base, Leverage: intent.Leverage, Percent: intent.Percent}
	if price := strings.TrimSpace(intent.LimitPrice); price != "" {
		parsed, err := decimal.NewFromString(price)
		if err != nil || !parsed.IsPositive() {
			return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("invalid limit price %q", intent.LimitPrice))
		}
		out.LimitPrice = &parsed
	}
	switch base.Action {
	case "deposit", "withdraw":
		collateral, err := resolvePerpCollateral(base, intent.Token, intent.Amount)
		if err != nil {
			return nil, err
		}
		out.Collateral = collateral
	case "long", "short":
		out.Market = strings.TrimSpace(intent.Token)
		if out.Market == "" {
			return nil, clierr.New(clierr.CodeUsage, "market token is required")
		}
		input := intent.Token2
		if strings.TrimSpace(input) == "" {
			input = "USDC"
		}
		collateral, err := resolvePerpCollateral(base, input, intent.Amount)
		if err != nil {
			return nil, err
		}
		out.Collateral = collateral
	case "close":
		out.Market = strings.TrimSpace(intent.Token)
		if out.Market == "" {
			return nil, clierr.New(clierr.CodeUsage, "market token is required")
		}
		if out.Percent == 0 {
			out.Percent = 100
		}
		if out.Percent < 0 || out.Percent > 100 {
			return nil, clierr.New(clierr.CodeUsage, "close percent must be between 1 and 100")
		}
	}
	return out, nil
}

// resolvePerpCollateral keeps unregistered symbols so the venue builder can
// reject them with its own message.
func resolvePerpCollateral(base Base, token, amount string) (TokenAmount, error) {
	resolved, err := id.ResolveToken(base.Chain, token)
	if err != nil {
		if strings.TrimSpace(token) == "" {
			return TokenAmount{}, err
		}
		resolved = id.Token{Symbol: strings.ToUpper(strings.TrimSpace(token)), Decimals: 6, ChainID: base.Chain.CAIP2}
	}
	if isAll(amount) {
		if _, ok := amountOptional[base.Action]; ok {
			return TokenAmount{Token: resolved}, nil
		}
		return TokenAmount{}, clierr.New(clierr.CodeUsage, "amount is required")
	}
	value, err := id.ParseBaseUnits(amount, resolved.Decimals)
	if err != nil {
		return TokenAmount{}, err
	}
	return TokenAmount{Token: resolved, Amount: value}, nil
}

func resolveTokenAmount(chain id.Chain, action, token, amount string) (TokenAmount, error) {
	if isAll(amount) {
		if _, ok := amountOptional[action]; !ok {
			return TokenAmount{}, clierr.New(clierr.CodeUsage, "amount is required")
		}
		if strings.TrimSpace(token) == "" || strings.EqualFold(strings.TrimSpace(token), "all") {
			return TokenAmount{}, nil
		}
	}
	resolved, err := id.ResolveToken(chain, token)
	if err != nil {
		return TokenAmount{}, err
	}
	if isAll(amount) {
		return TokenAmount{Token: resolved}, nil
	}
	value, err := id.ParseBaseUnits(amount, resolved.Decimals)
	if err != nil {
		return TokenAmount{}, err
	}
	return TokenAmount{Token: resolved, Amount: value}, nil
}

func resolveOptionalTokenAmount(chain id.Chain, token, amount string) (TokenAmount, error) {
	resolved, err := id.ResolveToken(chain, token)
	if err != nil {
		return TokenAmount{}, err
	}
	if isAll(amount) {
		return TokenAmount{Token: resolved}, nil
	}
	value, err := id.ParseBaseUnits(amount, resolved.Decimals)
	if err != nil {
		return TokenAmount{}, err
	}
	return TokenAmount{Token: resolved, Amount: value}, nil
}

func isAll(amount string) bool {
	clean := strings.ToLower(strings.TrimSpace(amount))
	return clean == "" || clean == "all"
}

func normalizeAccount(chain id.Chain, account string) (string, error) {
	account = strings.TrimSpace(account)
	if account == "" {
		return "", clierr.New(clierr.CodeUsage, "account address is required")
	}
	if chain.IsSolana() {
		raw, err := base58.Decode(account)
		if err != nil || len(raw) != 32 {
			return "", clierr.New(clierr.CodeUsage, fmt.Sprintf("invalid solana account %q", account))
		}
		return account, nil
	}
	if !common.IsHexAddress(account) {
		return "", clierr.New(clierr.CodeUsage, fmt.Sprintf("invalid account address %q", account))
	}
	return common.HexToAddress(account).Hex(), nil
}
