package planner

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/defi-actions/internal/errors"
	"github.com/ggonzalez94/defi-actions/internal/execution"
	"github.com/ggonzalez94/defi-actions/internal/id"
	"github.com/ggonzalez94/defi-actions/internal/registry"
)

// A balance within 0.1% of the requested amount is spent in full instead of
// failing. Display rounding of "max" amounts lands in that band.
const (
	dustTolerance      = 999
	dustToleranceScale = 1000
)

// tokenBalance reads the wallet balance of a native or ERC-20 token.
func tokenBalance(ctx context.Context, reader execution.ChainReader, token id.Token, owner common.Address) (*big.Int, error) {
	if token.IsNative() {
		balance, err := reader.BalanceAt(ctx, owner, nil)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUnavailable, "read native balance", err)
		}
		return balance, nil
	}
	return viewUint(ctx, reader, tokenAddress(token), plannerERC20ABI, "balanceOf", owner)
}

// requireBalance checks that owner holds amount of token. It returns the
// amount to spend, which is the whole balance when the shortfall is dust.
func requireBalance(ctx context.Context, reader execution.ChainReader, chain id.Chain, token id.Token, owner common.Address, amount *big.Int) (*big.Int, error) {
	balance, err := tokenBalance(ctx, reader, token, owner)
	if err != nil {
		return nil, err
	}
	return coverAmount(chain, token, balance, amount)
}

func coverAmount(chain id.Chain, token id.Token, balance, amount *big.Int) (*big.Int, error) {
	if balance.Cmp(amount) >= 0 {
		return amount, nil
	}
	floor := new(big.Int).Mul(amount, big.NewInt(dustTolerance))
	if new(big.Int).Mul(balance, big.NewInt(dustToleranceScale)).Cmp(floor) > 0 {
		return new(big.Int).Set(balance), nil
	}
	return nil, insufficientBalance(chain, token, balance, amount)
}

func insufficientBalance(chain id.Chain, token id.Token, balance, amount *big.Int) error {
	missing := new(big.Int).Sub(amount, balance)
	return clierr.New(clierr.CodeInsufficient, registry.InsufficientBalanceMessage(
		chain.Name,
		token.Symbol,
		id.FormatBaseUnits(balance, token.Decimals),
		id.FormatBaseUnits(amount, token.Decimals),
		id.FormatBaseUnits(missing, token.Decimals),
	))
}

// ensureSpendable makes amount of token available to spend. The wrapped
// native token is topped up from the native balance; any other token must
// already be held.
func ensureSpendable(ctx context.Context, reader execution.ChainReader, result *execution.BuilderResult, chain id.Chain, token id.Token, owner common.Address, amount *big.Int) (*big.Int, error) {
	if wrapped, ok := id.WrappedNative(chain); ok && strings.EqualFold(wrapped.Address, token.Address) {
		if err := appendWrapIfNeeded(ctx, reader, result, chain, token, owner, amount); err != nil {
			return nil, err
		}
		return amount, nil
	}
	return requireBalance(ctx, reader, chain, token, owner, amount)
}
