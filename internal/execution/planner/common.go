package planner

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	clierr "github.com/ggonzalez94/defi-actions/internal/errors"
	"github.com/ggonzalez94/defi-actions/internal/execution"
	"github.com/ggonzalez94/defi-actions/internal/id"
	"github.com/ggonzalez94/defi-actions/internal/registry"
)

var (
	plannerERC20ABI     = mustPlannerABI(registry.ERC20MinimalABI)
	plannerWrappedABI   = mustPlannerABI(registry.WrappedNativeABI)
	aaveProviderABI     = mustPlannerABI(registry.AavePoolAddressProviderABI)
	aavePoolABI         = mustPlannerABI(registry.AavePoolABI)
	aaveDataProviderABI = mustPlannerABI(registry.AaveDataProviderABI)
	aaveGatewayABI      = mustPlannerABI(registry.AaveWETHGatewayABI)
	aaveDebtTokenABI    = mustPlannerABI(registry.AaveDebtTokenABI)
	dolomiteMarginABI   = mustPlannerABI(registry.DolomiteMarginABI)
	dolomiteDepositABI  = mustPlannerABI(registry.DolomiteDepositProxyABI)
	dolomiteBorrowABI   = mustPlannerABI(registry.DolomiteBorrowProxyABI)
	dolomiteFactoryABI  = mustPlannerABI(registry.DolomiteVaultFactoryABI)
	dolomiteVaultABI    = mustPlannerABI(registry.DolomiteVaultABI)
	ambientDexABI       = mustPlannerABI(registry.AmbientDexABI)
	ambientQueryABI     = mustPlannerABI(registry.AmbientQueryABI)
	batchVaultABI       = mustPlannerABI(registry.BatchVaultABI)
)

var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

func mustPlannerABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

// openReader returns the context's injected client, or dials the chain's
// RPC endpoint. The returned func releases a dialed client.
func openReader(ctx context.Context, base execution.Base) (execution.ChainReader, func(), error) {
	if base.Client != nil {
		return base.Client, func() {}, nil
	}
	rpcURL, err := registry.ResolveRPCURL(base.RPCURL, base.Chain.EVMChainID)
	if err != nil {
		return nil, nil, clierr.Wrap(clierr.CodeUsage, "resolve rpc url", err)
	}
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, nil, clierr.Wrap(clierr.CodeUnavailable, "connect rpc", err)
	}
	return client, client.Close, nil
}

// callView packs, calls and unpacks a read-only contract method.
func callView(ctx context.Context, reader execution.ChainReader, target common.Address, parsed abi.ABI, method string, args ...any) ([]any, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, fmt.Sprintf("pack %s calldata", method), err)
	}
	raw, err := reader.CallContract(ctx, ethereum.CallMsg{To: &target, Data: data}, nil)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, fmt.Sprintf("call %s", method), err)
	}
	out, err := parsed.Unpack(method, raw)
	if err != nil || len(out) == 0 {
		return nil, clierr.Wrap(clierr.CodeUnavailable, fmt.Sprintf("decode %s", method), err)
	}
	return out, nil
}

func viewAddress(ctx context.Context, reader execution.ChainReader, target common.Address, parsed abi.ABI, method string, args ...any) (common.Address, error) {
	out, err := callView(ctx, reader, target, parsed, method, args...)
	if err != nil {
		return common.Address{}, err
	}
	switch v := out[0].(type) {
	case common.Address:
		return v, nil
	case *common.Address:
		if v != nil {
			return *v, nil
		}
	}
	return common.Address{}, clierr.New(clierr.CodeUnavailable, fmt.Sprintf("invalid %s response", method))
}

func viewUint(ctx context.Context, reader execution.ChainReader, target common.Address, parsed abi.ABI, method string, args ...any) (*big.Int, error) {
	out, err := callView(ctx, reader, target, parsed, method, args...)
	if err != nil {
		return nil, err
	}
	value, ok := out[0].(*big.Int)
	if !ok || value == nil {
		return nil, clierr.New(clierr.CodeUnavailable, fmt.Sprintf("invalid %s response", method))
	}
	return value, nil
}

func packCall(parsed abi.ABI, method string, args ...any) ([]byte, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, fmt.Sprintf("pack %s calldata", method), err)
	}
	return data, nil
}

func evmTx(chain id.Chain, to common.Address, value *big.Int, data []byte) execution.Transaction {
	if value == nil {
		value = new(big.Int)
	}
	return execution.Transaction{
		ChainID: chain.CAIP2,
		To:      to.Hex(),
		Value:   new(big.Int).Set(value),
		Data:    data,
	}
}

func accountAddress(base execution.Base) common.Address {
	return common.HexToAddress(base.Account)
}

func tokenAddress(token id.Token) common.Address {
	return common.HexToAddress(token.Address)
}

func unsupportedAction(protocol, action string, supported []string) error {
	return clierr.New(clierr.CodeUnsupported, registry.UnsupportedActionMessage(action, protocol, supported))
}

func unsupportedCombination(base execution.Base, token, pool string) error {
	return clierr.New(clierr.CodeUnsupported, registry.ProtocolErrorMessage(base.Action, token, base.Protocol, pool, base.Chain.Name))
}

func requireAmount(amount execution.TokenAmount) error {
	if amount.Amount == nil || amount.Amount.Sign() <= 0 {
		return clierr.New(clierr.CodeUsage, "amount is required")
	}
	return nil
}

func containsAction(actions []string, action string) bool {
	for _, candidate := range actions {
		if candidate == action {
			return true
		}
	}
	return false
}
