package planner

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ggonzalez94/defi-actions/internal/execution"
	"github.com/ggonzalez94/defi-actions/internal/id"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	mainnetUSDT = common.HexToAddress("0xdac17f958d2ee523a2206206994597c13d831ec7")
	testSpender = common.HexToAddress("0x00000000000000000000000000000000000000BB")
)

func mainnet(t *testing.T) id.Chain {
	t.Helper()
	chain, err := id.ParseChain("ethereum")
	require.NoError(t, err)
	return chain
}

func TestAppendApprovalSkipsSufficientAllowance(t *testing.T) {
	chain := newFakeChain()
	chain.returns(mainnetUSDC, plannerERC20ABI, "allowance", big.NewInt(10))
	var result execution.BuilderResult

	err := appendApprovalIfNeeded(context.Background(), chain, &result, mainnet(t), mainnetUSDC, common.HexToAddress(testAccount), testSpender, big.NewInt(10))
	require.NoError(t, err)
	assert.Empty(t, result.Transactions)
}

func TestAppendApprovalSkipsNativeAsset(t *testing.T) {
	chain := newFakeChain()
	var result execution.BuilderResult

	err := appendApprovalIfNeeded(context.Background(), chain, &result, mainnet(t), common.HexToAddress(id.NativeAddress), common.HexToAddress(testAccount), testSpender, big.NewInt(10))
	require.NoError(t, err)
	assert.Empty(t, result.Transactions)
	assert.Equal(t, 0, chain.called("allowance"))
}

func TestAppendApprovalResetsUSDTBeforeRaising(t *testing.T) {
	chain := newFakeChain()
	chain.returns(mainnetUSDT, plannerERC20ABI, "allowance", big.NewInt(5))
	var result execution.BuilderResult

	err := appendApprovalIfNeeded(context.Background(), chain, &result, mainnet(t), mainnetUSDT, common.HexToAddress(testAccount), testSpender, big.NewInt(50))
	require.NoError(t, err)
	require.Len(t, result.Transactions, 2)

	_, args := decodeCall(t, plannerERC20ABI, result.Transactions[0].Data)
	assert.Equal(t, 0, args[1].(*big.Int).Sign())
	_, args = decodeCall(t, plannerERC20ABI, result.Transactions[1].Data)
	assertUint(t, 50, args[1])
	assert.Equal(t, testSpender, args[0])
}

func TestAppendWrapOnlyForWrappedNative(t *testing.T) {
	chain := newFakeChain()
	chain.returns(mainnetWETH, plannerERC20ABI, "balanceOf", eth(3))
	var result execution.BuilderResult
	weth, ok := id.WrappedNative(mainnet(t))
	require.True(t, ok)

	require.NoError(t, appendWrapIfNeeded(context.Background(), chain, &result, mainnet(t), weth, common.HexToAddress(testAccount), eth(2)))
	assert.Empty(t, result.Transactions, "balance covers the amount")

	usdc, err := id.ResolveToken(mainnet(t), "USDC")
	require.NoError(t, err)
	require.NoError(t, appendWrapIfNeeded(context.Background(), chain, &result, mainnet(t), usdc, common.HexToAddress(testAccount), eth(2)))
	assert.Empty(t, result.Transactions)
	assert.Equal(t, 1, chain.called("balanceOf"))
}
