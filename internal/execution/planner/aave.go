package planner

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/defi-actions/internal/errors"
	"github.com/ggonzalez94/defi-actions/internal/execution"
	"github.com/ggonzalez94/defi-actions/internal/id"
	"github.com/ggonzalez94/defi-actions/internal/registry"
)

const aaveVariableRate = 2

var aaveActions = []string{"lend", "deposit", "borrow", "repay", "withdraw"}

// Aave builds supply, borrow, repay and withdraw calls against an Aave v3
// pool. Native assets route through the wrapped token gateway.
type Aave struct {
	book *registry.AddressBook
}

func NewAave(book *registry.AddressBook) *Aave {
	return &Aave{book: book}
}

func (a *Aave) Name() string { return "aave" }

func (a *Aave) Actions() []string { return append([]string(nil), aaveActions...) }

func (a *Aave) Build(ctx context.Context, actx execution.ActionContext) (execution.BuilderResult, error) {
	base := actx.Common()
	if !containsAction(aaveActions, base.Action) {
		return execution.BuilderResult{}, unsupportedAction(a.Name(), base.Action, aaveActions)
	}
	lend, ok := actx.(execution.LendContext)
	if !ok {
		return execution.BuilderResult{}, unsupportedAction(a.Name(), base.Action, aaveActions)
	}
	if !a.book.Deployed(a.Name(), base.Chain.EVMChainID) {
		return execution.BuilderResult{}, unsupportedCombination(base, lend.Asset.Token.Symbol, "")
	}
	provider, err := a.book.Contract(a.Name(), base.Chain.EVMChainID, registry.PurposePoolProvider)
	if err != nil {
		return execution.BuilderResult{}, err
	}

	reader, release, err := openReader(ctx, base)
	if err != nil {
		return execution.BuilderResult{}, err
	}
	defer release()

	pool, err := viewAddress(ctx, reader, provider.Address, aaveProviderABI, "getPool")
	if err != nil {
		return execution.BuilderResult{}, err
	}
	if pool == (common.Address{}) {
		return execution.BuilderResult{}, clierr.New(clierr.CodeUnavailable, "aave pool address is zero")
	}

	amount, err := aaveAmount(base.Action, lend.Asset)
	if err != nil {
		return execution.BuilderResult{}, err
	}
	if lend.Asset.Token.IsNative() {
		return a.buildNative(ctx, reader, base, lend.Asset.Token, provider.Address, pool, amount)
	}
	return a.buildERC20(ctx, reader, base, lend.Asset.Token, pool, amount)
}

// aaveAmount maps "all" to the pool's max sentinel for withdraw and repay.
func aaveAmount(action string, asset execution.TokenAmount) (*big.Int, error) {
	if !asset.IsAll() {
		return asset.Amount, nil
	}
	switch action {
	case "withdraw":
		return new(big.Int).Set(maxUint256), nil
	case "repay":
		if asset.Token.IsNative() {
			return nil, clierr.New(clierr.CodeUsage, "repaying native debt requires an explicit amount")
		}
		return new(big.Int).Set(maxUint256), nil
	}
	return nil, clierr.New(clierr.CodeUsage, "amount is required")
}

func (a *Aave) buildNative(ctx context.Context, reader execution.ChainReader, base execution.Base, token id.Token, provider, pool common.Address, amount *big.Int) (execution.BuilderResult, error) {
	gatewayContract, err := a.book.Contract(a.Name(), base.Chain.EVMChainID, registry.PurposeGateway)
	if err != nil {
		return execution.BuilderResult{}, err
	}
	gateway := gatewayContract.Address
	owner := accountAddress(base)
	result := execution.BuilderResult{}

	if base.Action == "lend" || base.Action == "deposit" || base.Action == "repay" {
		spend, err := requireBalance(ctx, reader, base.Chain, token, owner, amount)
		if err != nil {
			return result, err
		}
		amount = spend
	}

	switch base.Action {
	case "lend", "deposit":
		data, err := packCall(aaveGatewayABI, "depositETH", pool, owner, uint16(0))
		if err != nil {
			return result, err
		}
		result.Append(evmTx(base.Chain, gateway, amount, data), base.Action)
	case "borrow":
		_, _, debtToken, err := a.reserveTokens(ctx, reader, base.Chain, provider)
		if err != nil {
			return result, err
		}
		allowance, err := viewUint(ctx, reader, debtToken, aaveDebtTokenABI, "borrowAllowance", owner, gateway)
		if err != nil {
			return result, err
		}
		if allowance.Cmp(amount) < 0 {
			data, err := packCall(aaveDebtTokenABI, "approveDelegation", gateway, amount)
			if err != nil {
				return result, err
			}
			result.Append(evmTx(base.Chain, debtToken, nil, data), execution.LabelApproveDelegation)
		}
		data, err := packCall(aaveGatewayABI, "borrowETH", pool, amount, big.NewInt(aaveVariableRate), uint16(0))
		if err != nil {
			return result, err
		}
		result.Append(evmTx(base.Chain, gateway, nil, data), base.Action)
	case "repay":
		data, err := packCall(aaveGatewayABI, "repayETH", pool, amount, big.NewInt(aaveVariableRate), owner)
		if err != nil {
			return result, err
		}
		result.Append(evmTx(base.Chain, gateway, amount, data), base.Action)
	case "withdraw":
		_, aToken, _, err := a.reserveTokens(ctx, reader, base.Chain, provider)
		if err != nil {
			return result, err
		}
		if err := appendApprovalIfNeeded(ctx, reader, &result, base.Chain, aToken, owner, gateway, amount); err != nil {
			return result, err
		}
		data, err := packCall(aaveGatewayABI, "withdrawETH", pool, amount, owner)
		if err != nil {
			return result, err
		}
		result.Append(evmTx(base.Chain, gateway, nil, data), base.Action)
	}
	return result, nil
}

func (a *Aave) buildERC20(ctx context.Context, reader execution.ChainReader, base execution.Base, token id.Token, pool common.Address, amount *big.Int) (execution.BuilderResult, error) {
	owner := accountAddress(base)
	asset := tokenAddress(token)
	result := execution.BuilderResult{}

	switch base.Action {
	case "lend", "deposit", "repay":
		if amount.Cmp(maxUint256) != 0 {
			spend, err := ensureSpendable(ctx, reader, &result, base.Chain, token, owner, amount)
			if err != nil {
				return result, err
			}
			amount = spend
		}
		if err := appendApprovalIfNeeded(ctx, reader, &result, base.Chain, asset, owner, pool, amount); err != nil {
			return result, err
		}
		var data []byte
		var err error
		if base.Action == "repay" {
			data, err = packCall(aavePoolABI, "repay", asset, amount, big.NewInt(aaveVariableRate), owner)
		} else {
			data, err = packCall(aavePoolABI, "supply", asset, amount, owner, uint16(0))
		}
		if err != nil {
			return result, err
		}
		result.Append(evmTx(base.Chain, pool, nil, data), base.Action)
	case "borrow":
		data, err := packCall(aavePoolABI, "borrow", asset, amount, big.NewInt(aaveVariableRate), uint16(0), owner)
		if err != nil {
			return result, err
		}
		result.Append(evmTx(base.Chain, pool, nil, data), base.Action)
	case "withdraw":
		data, err := packCall(aavePoolABI, "withdraw", asset, amount, owner)
		if err != nil {
			return result, err
		}
		result.Append(evmTx(base.Chain, pool, nil, data), base.Action)
	}
	return result, nil
}

// reserveTokens returns the aToken, stable and variable debt tokens of the
// wrapped native reserve.
func (a *Aave) reserveTokens(ctx context.Context, reader execution.ChainReader, chain id.Chain, provider common.Address) (common.Address, common.Address, common.Address, error) {
	wrapped, ok := id.WrappedNative(chain)
	if !ok {
		return common.Address{}, common.Address{}, common.Address{}, clierr.New(clierr.CodeUnsupported, "wrapped native token is not registered for "+chain.Name)
	}
	dataProvider, err := viewAddress(ctx, reader, provider, aaveProviderABI, "getPoolDataProvider")
	if err != nil {
		return common.Address{}, common.Address{}, common.Address{}, err
	}
	out, err := callView(ctx, reader, dataProvider, aaveDataProviderABI, "getReserveTokensAddresses", tokenAddress(wrapped))
	if err != nil {
		return common.Address{}, common.Address{}, common.Address{}, err
	}
	if len(out) != 3 {
		return common.Address{}, common.Address{}, common.Address{}, clierr.New(clierr.CodeUnavailable, "invalid getReserveTokensAddresses response")
	}
	aToken, _ := out[0].(common.Address)
	stableDebt, _ := out[1].(common.Address)
	variableDebt, _ := out[2].(common.Address)
	if aToken == (common.Address{}) || variableDebt == (common.Address{}) {
		return common.Address{}, common.Address{}, common.Address{}, clierr.New(clierr.CodeUnavailable, "aave reserve tokens are not initialized")
	}
	return aToken, stableDebt, variableDebt, nil
}
