package planner

import (
	"context"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/defi-actions/internal/errors"
	"github.com/ggonzalez94/defi-actions/internal/execution"
	"github.com/ggonzalez94/defi-actions/internal/id"
	"github.com/ggonzalez94/defi-actions/internal/registry"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticPrices map[string]decimal.Decimal

func (s staticPrices) Prices(_ context.Context, _ id.Chain, tokens []id.Token) (map[string]decimal.Decimal, error) {
	out := map[string]decimal.Decimal{}
	for _, token := range tokens {
		key := strings.ToLower(token.Address)
		if p, ok := s[key]; ok {
			out[key] = p
		}
	}
	return out, nil
}

type staticTicks struct {
	lower, upper int64
	found        bool
}

func (s staticTicks) RangeTicks(context.Context, id.Chain, string, string) (int64, int64, bool, error) {
	return s.lower, s.upper, s.found, nil
}

// sqrt(3000e6 / 1e18) in Q64.64, i.e. ETH at 3000 USDC.
var testAmbientSqrtPrice = big.NewInt(1_010_362_479_768_000)

func ethUSDCPrices() staticPrices {
	return staticPrices{
		strings.ToLower(id.NativeAddress):     decimal.NewFromInt(3000),
		strings.ToLower(mainnetUSDC.Hex()): decimal.NewFromInt(1),
	}
}

func newAmbientChain(t *testing.T, book *registry.AddressBook) *fakeChain {
	t.Helper()
	chain := newFakeChain()
	query := mustAddress(t, book, "ambient", 1, registry.PurposeQuery)
	chain.on(query, ambientQueryABI, "queryPrice", func(args []any) []any {
		assert.Equal(t, common.Address{}, args[0], "native side must be the base")
		assert.Equal(t, mainnetUSDC, args[1])
		return []any{new(big.Int).Set(testAmbientSqrtPrice)}
	})
	chain.returns(mainnetUSDC, plannerERC20ABI, "allowance", big.NewInt(0))
	return chain
}

func decodeAmbientCmd(t *testing.T, data []byte) (uint16, []any) {
	t.Helper()
	method, args := decodeCall(t, ambientDexABI, data)
	require.Equal(t, "userCmd", method)
	fields, err := ambientCmdArgs.Unpack(args[1].([]byte))
	require.NoError(t, err)
	return args[0].(uint16), fields
}

func TestAmbientDepositDerivesCounterAmountFromPrices(t *testing.T) {
	book := registry.DefaultAddressBook()
	chain := newAmbientChain(t, book)
	actx := mustContext(t, execution.Intent{Protocol: "ambient", Action: "deposit", Chain: "ethereum", Token: "ETH", Amount: "1", Pool: "eth-usdc"}, chain)

	result, err := NewAmbient(book, ethUSDCPrices(), nil).Build(context.Background(), actx)
	require.NoError(t, err)
	require.NoError(t, result.Validate())
	assert.Equal(t, []string{execution.LabelApprove, "deposit"}, result.Labels)

	// 1 ETH · 3000 / 1 = 3000 USDC, plus 1%.
	_, args := decodeCall(t, plannerERC20ABI, result.Transactions[0].Data)
	assertUint(t, 3_030_000_000, args[1])

	deposit := result.Transactions[1]
	assert.Equal(t, 0, deposit.Value.Cmp(scale(eth(1), 101, 100)))
	callpath, fields := decodeAmbientCmd(t, deposit.Data)
	assert.Equal(t, uint16(2), callpath)
	assert.Equal(t, uint8(ambientMintAmbientBase), fields[0])
	assert.Equal(t, big.NewInt(ambientPoolIdx), fields[3])
	assert.Equal(t, 0, fields[6].(*big.Int).Cmp(eth(1)))
}

func TestAmbientRangeDepositPadsValueAndAlignsTicks(t *testing.T) {
	book := registry.DefaultAddressBook()
	chain := newAmbientChain(t, book)
	actx := mustContext(t, execution.Intent{Protocol: "ambient", Action: "deposit", Chain: "ethereum", Token: "ETH", Amount: "1", Pool: "usdc-weth", RangePct: 10}, chain)

	result, err := NewAmbient(book, ethUSDCPrices(), nil).Build(context.Background(), actx)
	require.NoError(t, err)
	deposit := result.Transactions[len(result.Transactions)-1]
	assert.Equal(t, 0, deposit.Value.Cmp(scale(eth(1), 120, 100)))

	_, args := decodeCall(t, plannerERC20ABI, result.Transactions[0].Data)
	assertUint(t, 3_636_000_000, args[1])

	_, fields := decodeAmbientCmd(t, deposit.Data)
	assert.Equal(t, uint8(ambientMintRangeBase), fields[0])
	lower := fields[4].(*big.Int).Int64()
	upper := fields[5].(*big.Int).Int64()
	current := tickAtPrice(priceFromSqrtX64(testAmbientSqrtPrice))
	assert.Less(t, lower, current)
	assert.Greater(t, upper, current)
	assert.Zero(t, lower%ambientTickGrid)
	assert.Zero(t, upper%ambientTickGrid)
}

func TestAmbientQuoteSideDepositSendsDerivedNativeValue(t *testing.T) {
	book := registry.DefaultAddressBook()
	chain := newAmbientChain(t, book)
	actx := mustContext(t, execution.Intent{Protocol: "ambient", Action: "deposit", Chain: "ethereum", Token: "USDC", Amount: "3000", Pool: "eth-usdc"}, chain)

	result, err := NewAmbient(book, ethUSDCPrices(), nil).Build(context.Background(), actx)
	require.NoError(t, err)
	deposit := result.Transactions[len(result.Transactions)-1]
	// derived 1.01 ETH, padded by the same 1% a supplied native amount gets
	assert.Equal(t, "1020100000000000000", deposit.Value.String())
	_, fields := decodeAmbientCmd(t, deposit.Data)
	assert.Equal(t, uint8(ambientMintAmbientQuot), fields[0])
}

func TestAmbientNativeValueRuleIsSideIndependent(t *testing.T) {
	book := registry.DefaultAddressBook()
	for _, tc := range []struct {
		name   string
		intent execution.Intent
		native *big.Int
	}{
		{"native supplied", execution.Intent{Token: "ETH", Amount: "1.01"}, scale(eth(101), 1, 100)},
		{"native derived", execution.Intent{Token: "USDC", Amount: "3000"}, scale(eth(101), 1, 100)},
	} {
		t.Run(tc.name, func(t *testing.T) {
			intent := tc.intent
			intent.Protocol, intent.Action, intent.Chain, intent.Pool, intent.RangePct = "ambient", "deposit", "ethereum", "eth-usdc", 10
			actx := mustContext(t, intent, newAmbientChain(t, book))
			result, err := NewAmbient(book, ethUSDCPrices(), nil).Build(context.Background(), actx)
			require.NoError(t, err)
			deposit := result.Transactions[len(result.Transactions)-1]
			assert.Equal(t, 0, deposit.Value.Cmp(scale(tc.native, 120, 100)), "value %s", deposit.Value)
		})
	}
}

func TestAmbientRangeWithdrawUsesPositionTicks(t *testing.T) {
	book := registry.DefaultAddressBook()
	chain := newAmbientChain(t, book)
	actx := mustContext(t, execution.Intent{Protocol: "ambient", Action: "withdraw", Chain: "ethereum", Token: "ETH", Amount: "1", Pool: "eth-usdc", RangePct: 5}, chain)

	query := mustAddress(t, book, "ambient", 1, registry.PurposeQuery)
	chain.on(query, ambientQueryABI, "queryRangeTokens", func(args []any) []any {
		assert.Equal(t, int64(-200064), args[4].(*big.Int).Int64())
		assert.Equal(t, int64(-199936), args[5].(*big.Int).Int64())
		return []any{big.NewInt(1), eth(2), big.NewInt(6_000_000_000)}
	})

	result, err := NewAmbient(book, nil, staticTicks{lower: -200064, upper: -199936, found: true}).Build(context.Background(), actx)
	require.NoError(t, err)
	require.Len(t, result.Transactions, 1)
	_, fields := decodeAmbientCmd(t, result.Transactions[0].Data)
	assert.Equal(t, uint8(ambientBurnRangeBase), fields[0])
	assert.Equal(t, int64(-200064), fields[4].(*big.Int).Int64())
	assert.Equal(t, int64(-199936), fields[5].(*big.Int).Int64())
	assert.Equal(t, 0, fields[6].(*big.Int).Cmp(eth(1)))
}

func TestAmbientWithdrawAllBurnsWholeSide(t *testing.T) {
	book := registry.DefaultAddressBook()
	chain := newAmbientChain(t, book)
	query := mustAddress(t, book, "ambient", 1, registry.PurposeQuery)
	chain.on(query, ambientQueryABI, "queryAmbientTokens", func(args []any) []any {
		assert.Equal(t, common.HexToAddress(testAccount), args[0])
		return []any{big.NewInt(1), eth(3), big.NewInt(9_000_000_000)}
	})
	actx := mustContext(t, execution.Intent{Protocol: "ambient", Action: "withdraw", Chain: "ethereum", Token: "USDC", Amount: "all", Pool: "eth-usdc"}, chain)

	result, err := NewAmbient(book, nil, nil).Build(context.Background(), actx)
	require.NoError(t, err)
	_, fields := decodeAmbientCmd(t, result.Transactions[0].Data)
	assert.Equal(t, uint8(ambientBurnAmbientQuot), fields[0])
	assertUint(t, 9_000_000_000, fields[6])
}

func TestAmbientWithdrawRejectsMoreThanPosition(t *testing.T) {
	book := registry.DefaultAddressBook()
	chain := newAmbientChain(t, book)
	query := mustAddress(t, book, "ambient", 1, registry.PurposeQuery)
	chain.returns(query, ambientQueryABI, "queryAmbientTokens", big.NewInt(1), eth(1), big.NewInt(3_000_000_000))
	actx := mustContext(t, execution.Intent{Protocol: "ambient", Action: "withdraw", Chain: "ethereum", Token: "ETH", Amount: "2", Pool: "eth-usdc"}, chain)

	_, err := NewAmbient(book, nil, nil).Build(context.Background(), actx)
	require.Error(t, err)
	assert.Equal(t, int(clierr.CodeInsufficient), clierr.ExitCode(err))
	assert.Equal(t, "Insufficient eth to withdraw.", err.Error())
}

func TestAmbientRejectsUnknownPool(t *testing.T) {
	book := registry.DefaultAddressBook()
	actx := mustContext(t, execution.Intent{Protocol: "ambient", Action: "deposit", Chain: "ethereum", Token: "ETH", Amount: "1", Pool: "eth-dai"}, newFakeChain())

	_, err := NewAmbient(book, ethUSDCPrices(), nil).Build(context.Background(), actx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "on the pool eth-dai")
}

func TestDeriveCounterAmountScalesAcrossDecimals(t *testing.T) {
	got := deriveCounterAmount(big.NewInt(2_000_000), 6, 18, decimal.NewFromInt(1), decimal.NewFromInt(2000))
	// 2 USDC / 2000 = 0.001 ETH, plus 1%.
	assert.Equal(t, "1010000000000000", got.String())
}
