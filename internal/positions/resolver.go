package positions

import (
	"context"
	"fmt"
	"sort"
	"strings"

	clierr "github.com/ggonzalez94/defi-actions/internal/errors"
	"github.com/ggonzalez94/defi-actions/internal/id"
	"github.com/ggonzalez94/defi-actions/internal/logging"
	"github.com/ggonzalez94/defi-actions/internal/providers/debank"
	"github.com/ggonzalez94/defi-actions/internal/providers/hyperliquid"
	"github.com/ggonzalez94/defi-actions/internal/registry"
	"go.uber.org/zap"
)

// Indexer is the portfolio indexer the resolver reads from.
type Indexer interface {
	ComplexProtocolList(ctx context.Context, account, chainID string) ([]debank.Protocol, error)
	UserProtocol(ctx context.Context, account, protocolID string) (debank.Protocol, error)
}

// AccountReader reads perpetuals account state.
type AccountReader interface {
	AccountState(ctx context.Context, user string) (hyperliquid.AccountState, error)
}

// Categories each reversing action may draw tokens from.
var actionCategories = map[string][]string{
	"claim":    {"Staked", "Rewards"},
	"withdraw": {"Liquidity Pool", "Deposit", "Farming", "Lending", "Yield"},
	"unstake":  {"Staked", "Yield", "Investment"},
	"unlock":   {"Locked", "Vesting"},
	"close":    {"Perpetuals"},
	"repay":    {},
}

const usdcDecimals = 6

// Resolver lists positions and the tokens an action can act upon.
type Resolver struct {
	indexer Indexer
	venue   AccountReader
	book    *registry.AddressBook
	log     *zap.Logger
}

func NewResolver(indexer Indexer, venue AccountReader, book *registry.AddressBook, log *zap.Logger) *Resolver {
	log = logging.OrNop(log)
	if book == nil {
		book = registry.DefaultAddressBook()
	}
	return &Resolver{indexer: indexer, venue: venue, book: book, log: log}
}

// ListPositions returns the account's positions on one chain. An empty
// protocol (or "all") asks the indexer for every protocol at once. Indexer
// failures are logged and produce an empty result.
func (r *Resolver) ListPositions(ctx context.Context, chainID int64, account, protocol string) ([]Portfolio, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	if strings.TrimSpace(account) == "" {
		return nil, clierr.New(clierr.CodeUsage, "account address is required")
	}
	if protocol == "hyperliquid" {
		return r.hyperliquidPositions(ctx, account), nil
	}

	if protocol != "" && protocol != "all" && chainID == 0 {
		if chains := r.book.Chains(protocol); len(chains) > 0 {
			chainID = chains[0]
		}
	}
	chain, ok := debank.ChainID(chainID)
	if !ok {
		return nil, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("positions are not indexed on chain %d", chainID))
	}
	log := r.log.With(zap.String("account", account), zap.String("chain", chain), zap.String("protocol", protocol))

	var raw []debank.Protocol
	if protocol == "" || protocol == "all" {
		list, err := r.indexer.ComplexProtocolList(ctx, account, chain)
		if err != nil {
			log.Warn("indexer positions lookup failed", zap.Error(err))
			return []Portfolio{}, nil
		}
		raw = list
	} else {
		p, err := r.indexer.UserProtocol(ctx, account, indexerProtocolID(protocol, chain))
		if err != nil {
			log.Warn("indexer protocol lookup failed", zap.Error(err))
			return []Portfolio{}, nil
		}
		raw = []debank.Protocol{p}
	}

	out := make([]Portfolio, 0, len(raw))
	for _, p := range raw {
		if p.Chain == "" {
			p.Chain = chain
		}
		portfolio, ok := r.normalizeProtocol(p)
		if !ok {
			continue
		}
		out = append(out, portfolio)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *Resolver) hyperliquidPositions(ctx context.Context, account string) []Portfolio {
	if r.venue == nil {
		return []Portfolio{}
	}
	state, err := r.venue.AccountState(ctx, account)
	if err != nil {
		r.log.Warn("perpetuals account lookup failed", zap.String("account", account), zap.Error(err))
		return []Portfolio{}
	}
	portfolio := Portfolio{Name: "hyperliquid", Positions: []Position{}}
	if state.Withdrawable.IsPositive() {
		portfolio.Positions = append(portfolio.Positions, Position{
			Name:     "Deposit",
			PoolName: "USDC",
			Supply:   []Token{{Symbol: "USDC", Amount: baseUnits(state.Withdrawable, usdcDecimals), Decimals: usdcDecimals}},
		})
	}
	for _, p := range state.Positions {
		if p.Size.IsZero() {
			continue
		}
		portfolio.Positions = append(portfolio.Positions, Position{
			Name:     "Perpetuals",
			PoolName: p.Coin,
			Supply:   []Token{{Symbol: p.Coin, Amount: baseUnits(p.PositionValue.Abs(), usdcDecimals), Decimals: usdcDecimals}},
		})
	}
	if len(portfolio.Positions) == 0 {
		return []Portfolio{}
	}
	return []Portfolio{portfolio}
}

// ListActionableTokens narrows the account's positions to the tokens action
// may touch, using the fixed category table.
func (r *Resolver) ListActionableTokens(ctx context.Context, account, action string, args ActionArgs) ([]Token, error) {
	action = strings.ToLower(strings.TrimSpace(action))
	protocol := strings.ToLower(strings.TrimSpace(args.Protocol))
	categories, ok := actionCategories[action]
	if !ok {
		return []Token{}, nil
	}
	if protocol == "" {
		return nil, clierr.New(clierr.CodeUsage, "protocol is required")
	}
	portfolios, err := r.ListPositions(ctx, args.ChainID, account, protocol)
	if err != nil {
		return nil, err
	}

	pool := strings.ToLower(strings.TrimSpace(args.Pool))
	filterPool := pool != "" && pool != "all" && (poolRequired[protocol] || protocol == "ambient")
	if protocol == "pendle" && action == "withdraw" {
		categories = append(append([]string(nil), categories...), "Staked")
	}

	tokens := []Token{}
	for _, portfolio := range portfolios {
		if portfolio.Name != protocol {
			continue
		}
		for _, pos := range portfolio.Positions {
			if filterPool && !matchesPool(protocol, pos.PoolName, pool) {
				continue
			}
			if protocol == "ambient" && (pos.LowerTick == nil || pos.UpperTick == nil) {
				continue
			}
			switch {
			case action == "repay":
				tokens = append(tokens, annotate(pos.Borrow, pos, false)...)
			case len(pos.Supply) > 0 && contains(categories, pos.Name):
				tokens = append(tokens, annotate(pos.Supply, pos, true)...)
			case action == "claim" && len(pos.Reward) > 0:
				tokens = append(tokens, annotate(pos.Reward, pos, false)...)
			}
		}
	}
	return tokens, nil
}

func matchesPool(protocol, have, want string) bool {
	if uniswapLike[protocol] || protocol == "ambient" {
		return samePool(have, want)
	}
	return strings.EqualFold(have, want)
}

func annotate(in []Token, pos Position, withTicks bool) []Token {
	out := make([]Token, 0, len(in))
	for _, t := range in {
		t.PoolName = pos.PoolName
		t.PositionIndex = pos.PositionIndex
		if withTicks {
			t.LowerTick = pos.LowerTick
			t.UpperTick = pos.UpperTick
		}
		out = append(out, t)
	}
	return out
}

// RangeTicks finds the ticks of the account's concentrated position in pool.
func (r *Resolver) RangeTicks(ctx context.Context, chain id.Chain, account, pool string) (lower, upper int64, found bool, err error) {
	tokens, err := r.ListActionableTokens(ctx, account, "withdraw", ActionArgs{Protocol: "ambient", Pool: pool, ChainID: chain.EVMChainID})
	if err != nil {
		return 0, 0, false, err
	}
	for _, t := range tokens {
		if t.LowerTick != nil && t.UpperTick != nil && *t.LowerTick != *t.UpperTick {
			return *t.LowerTick, *t.UpperTick, true, nil
		}
	}
	return 0, 0, false, nil
}
