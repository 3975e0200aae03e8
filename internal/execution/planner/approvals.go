package planner

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/defi-actions/internal/errors"
	"github.com/ggonzalez94/defi-actions/internal/execution"
	"github.com/ggonzalez94/defi-actions/internal/id"
)

// Tokens whose approve reverts when changing a nonzero allowance to another
// nonzero value. They are reset to zero first.
var resetAllowanceTokens = map[string]struct{}{
	"0xdac17f958d2ee523a2206206994597c13d831ec7": {}, // USDT mainnet
}

// appendApprovalIfNeeded reads the current allowance and appends an approval
// for amount when it is short. Native assets never need one.
func appendApprovalIfNeeded(ctx context.Context, reader execution.ChainReader, result *execution.BuilderResult, chain id.Chain, token, owner, spender common.Address, amount *big.Int) error {
	if strings.EqualFold(token.Hex(), id.NativeAddress) || token == (common.Address{}) {
		return nil
	}
	current, err := viewUint(ctx, reader, token, plannerERC20ABI, "allowance", owner, spender)
	if err != nil {
		return err
	}
	if current.Cmp(amount) >= 0 {
		return nil
	}
	if _, ok := resetAllowanceTokens[strings.ToLower(token.Hex())]; ok && current.Sign() > 0 {
		reset, err := packCall(plannerERC20ABI, "approve", spender, new(big.Int))
		if err != nil {
			return err
		}
		result.Append(evmTx(chain, token, nil, reset), execution.LabelApprove)
	}
	data, err := packCall(plannerERC20ABI, "approve", spender, amount)
	if err != nil {
		return err
	}
	result.Append(evmTx(chain, token, nil, data), execution.LabelApprove)
	return nil
}

// appendWrapIfNeeded wraps the shortfall when the caller pays with the wrapped
// native token but holds less of it than amount. The native balance must
// cover the shortfall.
func appendWrapIfNeeded(ctx context.Context, reader execution.ChainReader, result *execution.BuilderResult, chain id.Chain, token id.Token, owner common.Address, amount *big.Int) error {
	wrapped, ok := id.WrappedNative(chain)
	if !ok || !strings.EqualFold(wrapped.Address, token.Address) {
		return nil
	}
	target := tokenAddress(wrapped)
	balance, err := viewUint(ctx, reader, target, plannerERC20ABI, "balanceOf", owner)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) >= 0 {
		return nil
	}
	shortfall := new(big.Int).Sub(amount, balance)
	native, err := reader.BalanceAt(ctx, owner, nil)
	if err != nil {
		return clierr.Wrap(clierr.CodeUnavailable, "read native balance", err)
	}
	if native.Cmp(shortfall) < 0 {
		return insufficientBalance(chain, token, new(big.Int).Add(balance, native), amount)
	}
	data, err := packCall(plannerWrappedABI, "deposit")
	if err != nil {
		return err
	}
	result.Append(evmTx(chain, target, shortfall, data), execution.LabelWrap)
	return nil
}
