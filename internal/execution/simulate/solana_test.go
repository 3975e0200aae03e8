package simulate

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"testing"

	"github.com/blocto/solana-go-sdk/client"
	"github.com/blocto/solana-go-sdk/common"
	"github.com/blocto/solana-go-sdk/types"
	clierr "github.com/ggonzalez94/defi-actions/internal/errors"
	"github.com/ggonzalez94/defi-actions/internal/execution"
	"github.com/ggonzalez94/defi-actions/internal/id"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const usdcMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"

var tokenProgram = common.PublicKeyFromString("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")

type fakeAccounts struct {
	infos map[string]client.AccountInfo
	asked []string
}

func (f *fakeAccounts) GetMultipleAccounts(_ context.Context, addrs []string) ([]client.AccountInfo, error) {
	f.asked = addrs
	out := make([]client.AccountInfo, len(addrs))
	for i, a := range addrs {
		out[i] = f.infos[a]
	}
	return out, nil
}

type cannedRPC struct {
	response any
	err      error
	method   string
	params   []any
}

func (c *cannedRPC) CallContext(_ context.Context, result any, method string, args ...any) error {
	c.method = method
	c.params = args
	if c.err != nil {
		return c.err
	}
	raw, err := json.Marshal(c.response)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, result)
}

func tokenAccountData(mint, owner common.PublicKey, amount uint64) []byte {
	data := make([]byte, 165)
	copy(data[0:32], mint.Bytes())
	copy(data[32:64], owner.Bytes())
	binary.LittleEndian.PutUint64(data[64:72], amount)
	return data
}

func solanaTx() []execution.Transaction {
	return []execution.Transaction{{ChainID: "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp", Data: []byte{1, 2, 3}}}
}

func TestSolanaSimulateDiffsBalances(t *testing.T) {
	wallet := types.NewAccount().PublicKey
	owner := wallet.ToBase58()
	mint := common.PublicKeyFromString(usdcMint)
	ata, _, err := common.FindAssociatedTokenAddress(wallet, mint)
	require.NoError(t, err)

	accounts := &fakeAccounts{infos: map[string]client.AccountInfo{
		owner: {Lamports: 2_000_000_000, Owner: common.SystemProgramID},
		// the USDC account does not exist before the swap
	}}
	rpcResp := map[string]any{"value": map[string]any{
		"err":  nil,
		"logs": []string{"Program log: swap"},
		"accounts": []any{
			map[string]any{"lamports": 1_000_000_000, "owner": common.SystemProgramID.ToBase58(), "data": []string{"", "base64"}},
			map[string]any{"lamports": 2039280, "owner": tokenProgram.ToBase58(), "data": []string{base64.StdEncoding.EncodeToString(tokenAccountData(mint, wallet, 150_000_000)), "base64"}},
		},
		"unitsConsumed": 85000,
	}}
	caller := &cannedRPC{response: rpcResp}

	res, err := NewSolana(accounts, caller, nil).Simulate(context.Background(), owner, solanaTx(), []string{id.SolanaNativeMint, usdcMint, usdcMint})
	require.NoError(t, err)

	assert.Equal(t, []string{owner, ata.ToBase58()}, accounts.asked)
	assert.Equal(t, "simulateTransaction", caller.method)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte{1, 2, 3}), caller.params[0])
	cfg := caller.params[1].(map[string]any)
	assert.Equal(t, false, cfg["sigVerify"])
	assert.Equal(t, true, cfg["replaceRecentBlockhash"])

	assert.True(t, res.Success)
	assert.Equal(t, uint64(85000), res.GasUsed)
	assert.Equal(t, "-1000000000", res.Deltas[id.SolanaNativeMint].String())
	assert.Equal(t, "150000000", res.Deltas[usdcMint].String())
}

func TestSolanaSimulateErrorReturnsLogs(t *testing.T) {
	owner := types.NewAccount().PublicKey.ToBase58()
	caller := &cannedRPC{response: map[string]any{"value": map[string]any{
		"err":           map[string]any{"InstructionError": []any{2, map[string]any{"Custom": 6001}}},
		"logs":          []string{"Program log: slippage exceeded"},
		"unitsConsumed": 4000,
	}}}

	res, err := NewSolana(&fakeAccounts{}, caller, nil).Simulate(context.Background(), owner, solanaTx(), []string{usdcMint})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Nil(t, res.Deltas)
	assert.Contains(t, res.Error, "InstructionError")
	assert.Equal(t, []string{"Program log: slippage exceeded"}, res.Logs)
}

func TestSolanaSimulateShortAccountData(t *testing.T) {
	owner := types.NewAccount().PublicKey.ToBase58()
	caller := &cannedRPC{response: map[string]any{"value": map[string]any{
		"err": nil,
		"accounts": []any{
			map[string]any{"lamports": 1, "owner": tokenProgram.ToBase58(), "data": []string{base64.StdEncoding.EncodeToString(make([]byte, 40)), "base64"}},
		},
	}}}
	_, err := NewSolana(&fakeAccounts{}, caller, nil).Simulate(context.Background(), owner, solanaTx(), []string{usdcMint})
	require.Error(t, err)
	assert.Equal(t, int(clierr.CodeUnavailable), clierr.ExitCode(err))
}

func TestSolanaSimulateTransportError(t *testing.T) {
	owner := types.NewAccount().PublicKey.ToBase58()
	caller := &cannedRPC{err: errors.New("connection refused")}
	_, err := NewSolana(&fakeAccounts{}, caller, nil).Simulate(context.Background(), owner, solanaTx(), []string{usdcMint})
	require.Error(t, err)
	assert.Equal(t, int(clierr.CodeUnavailable), clierr.ExitCode(err))
}

func TestSolanaSimulateRejectsBatches(t *testing.T) {
	owner := types.NewAccount().PublicKey.ToBase58()
	txs := append(solanaTx(), solanaTx()...)
	_, err := NewSolana(&fakeAccounts{}, &cannedRPC{}, nil).Simulate(context.Background(), owner, txs, nil)
	require.Error(t, err)
	assert.Equal(t, int(clierr.CodeUsage), clierr.ExitCode(err))
}
