package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ggonzalez94/defi-actions/internal/cache"
	"github.com/ggonzalez94/defi-actions/internal/config"
	"github.com/ggonzalez94/defi-actions/internal/execution"
	"github.com/ggonzalez94/defi-actions/internal/execution/simulate"
	"github.com/ggonzalez94/defi-actions/internal/httpx"
	"github.com/ggonzalez94/defi-actions/internal/id"
	"github.com/ggonzalez94/defi-actions/internal/providers/debank"
	"github.com/ggonzalez94/defi-actions/internal/providers/defillama"
	"github.com/ggonzalez94/defi-actions/internal/providers/hyperliquid"
	"github.com/ggonzalez94/defi-actions/internal/providers/jupiter"
	"github.com/ggonzalez94/defi-actions/internal/registry"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testAccount = "0x00000000000000000000000000000000000000aa"

type envelope struct {
	Success  bool            `json:"success"`
	Data     json.RawMessage `json:"data"`
	Warnings []string        `json:"warnings"`
	Error    *struct {
		Code    int               `json:"code"`
		Type    string            `json:"type"`
		Message string            `json:"message"`
		Details map[string]string `json:"details"`
	} `json:"error"`
	Meta struct {
		RequestID string `json:"request_id"`
		Command   string `json:"command"`
		Partial   bool   `json:"partial"`
		Providers []struct {
			Name   string `json:"name"`
			Status string `json:"status"`
		} `json:"providers"`
	} `json:"meta"`
}

type fakeValidator struct {
	result simulate.Result
	calls  int
	tokens []string
}

func (f *fakeValidator) Simulate(_ context.Context, _ string, _ []execution.Transaction, tokens []string) (simulate.Result, error) {
	f.calls++
	f.tokens = tokens
	return f.result, nil
}

// testRunner isolates config and cache dirs and points every provider at indexerURL.
func testRunner(t *testing.T, indexerURL string) (*Runner, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("XDG_CACHE_HOME", filepath.Join(dir, "cache"))

	useWalletRPC(t, new(big.Int).Exp(big.NewInt(10), big.NewInt(30), nil))

	var stdout, stderr bytes.Buffer
	r := NewRunnerWithWriters(&stdout, &stderr)
	r.newServices = func(settings config.Settings, backend cache.Backend, log *zap.Logger) (*services, error) {
		httpClient := httpx.New(2*time.Second, 0)
		base := indexerURL
		if base == "" {
			base = "http://127.0.0.1:0"
		}
		return wireServices(servicesConfig{
			book:    registry.DefaultAddressBook().WithOverrides(settings.Addresses),
			venue:   hyperliquid.New(httpClient, base, time.Now),
			router:  jupiter.New(httpClient, "").WithBaseURL(base),
			prices:  defillama.New(httpClient).WithBaseURL(base).WithCache(backend, log),
			indexer: debank.New(httpClient, "test-key").WithBaseURL(base).WithCache(backend, log),
			log:     log,
		})
	}
	r.newValidator = func(context.Context, id.Chain, string, *zap.Logger) (simulate.Validator, error) {
		t.Fatalf("unexpected validator dial")
		return nil, nil
	}
	return r, &stdout, &stderr
}

// useWalletRPC serves arbitrum reads for a wallet holding balance of every
// token and writes the endpoint into the isolated config file.
func useWalletRPC(t *testing.T, balance *big.Int) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		switch req.Method {
		case "eth_call":
			resp["result"] = hexutil.Encode(common.LeftPadBytes(balance.Bytes(), 32))
		case "eth_getBalance":
			resp["result"] = (*hexutil.Big)(balance)
		case "eth_chainId":
			resp["result"] = "0xa4b1"
		default:
			resp["error"] = map[string]any{"code": -32601, "message": "method not found"}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)

	dir := filepath.Join(os.Getenv("XDG_CONFIG_HOME"), "defiact")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	cfg := fmt.Sprintf("rpc:\n  42161: %s\n", srv.URL)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(cfg), 0o600))
}

func decode(t *testing.T, buf *bytes.Buffer) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(buf.Bytes(), &env), buf.String())
	return env
}

func depositArgs(extra ...string) []string {
	args := []string{"--protocol", "hyperliquid", "--action", "deposit", "--chain", "arbitrum",
		"--token", "USDC", "--amount", "25", "--account", testAccount, "--no-cache"}
	return append(args, extra...)
}

func TestTrimRootPath(t *testing.T) {
	assert.Equal(t, "positions list", trimRootPath("defiact positions list"))
	assert.Equal(t, "defiact", trimRootPath("defiact"))
}

func TestNeedsServices(t *testing.T) {
	assert.False(t, needsServices("version"))
	assert.False(t, needsServices("schema"))
	assert.True(t, needsServices("build"))
	assert.True(t, needsServices("positions list"))
}

func TestRunnerSchemaSkipsServices(t *testing.T) {
	r, stdout, stderr := testRunner(t, "")
	r.newServices = func(config.Settings, cache.Backend, *zap.Logger) (*services, error) {
		t.Fatalf("schema must not wire providers")
		return nil, nil
	}
	code := r.Run([]string{"schema", "build", "--no-cache"})
	require.Equal(t, 0, code, stderr.String())
	env := decode(t, stdout)
	assert.True(t, env.Success)
	assert.Equal(t, "schema", env.Meta.Command)
	assert.Contains(t, string(env.Data), "gas-multiplier")
}

func TestRunnerErrorEnvelopeIgnoresResultsOnly(t *testing.T) {
	r, _, stderr := testRunner(t, "")
	code := r.Run([]string{"chains", "--enable-commands", "build", "--results-only", "--no-cache"})
	require.Equal(t, 16, code)
	env := decode(t, stderr)
	assert.False(t, env.Success)
	require.NotNil(t, env.Error)
	assert.Equal(t, "command_blocked", env.Error.Type)
	assert.Equal(t, "chains", env.Meta.Command)
	assert.NotEmpty(t, env.Meta.RequestID)
}

func TestRunnerProtocolsList(t *testing.T) {
	r, stdout, stderr := testRunner(t, "")
	code := r.Run([]string{"protocols", "--results-only", "--no-cache"})
	require.Equal(t, 0, code, stderr.String())

	var got []struct {
		Protocol string   `json:"protocol"`
		Chains   []string `json:"chains"`
	}
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &got))
	names := make([]string, 0, len(got))
	for _, p := range got {
		names = append(names, p.Protocol)
	}
	want := []string{"aave", "ambient", "bladeswap", "dolomite", "hyperliquid", "jupiter"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Fatalf("protocols mismatch (-want +got):\n%s", diff)
	}
	for _, p := range got {
		if p.Protocol == "jupiter" {
			assert.Equal(t, []string{"solana"}, p.Chains)
		}
	}
}

func TestRunnerBuildDeposit(t *testing.T) {
	r, stdout, stderr := testRunner(t, "")
	code := r.Run(append([]string{"build"}, depositArgs()...))
	require.Equal(t, 0, code, stderr.String())

	env := decode(t, stdout)
	require.True(t, env.Success)
	var report struct {
		ChainID      string `json:"chain_id"`
		Transactions []struct {
			To   string `json:"to"`
			Data string `json:"data"`
			Gas  uint64 `json:"gas"`
		} `json:"transactions"`
		Labels []string `json:"labels"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &report))
	assert.Equal(t, "eip155:42161", report.ChainID)
	require.Len(t, report.Transactions, 1)
	assert.Equal(t, []string{execution.LabelTransfer}, report.Labels)
	assert.Contains(t, report.Transactions[0].Data, "a9059cbb")
	assert.Zero(t, report.Transactions[0].Gas)
}

func TestRunnerBuildInsufficientBalance(t *testing.T) {
	r, _, stderr := testRunner(t, "")
	useWalletRPC(t, big.NewInt(1_000_000))
	code := r.Run(append([]string{"build"}, depositArgs()...))
	assert.Equal(t, 18, code)
	env := decode(t, stderr)
	require.NotNil(t, env.Error)
	assert.Equal(t, "insufficient", env.Error.Type)
	assert.Equal(t, "Insufficient balance on Arbitrum. You have 1 USDC and need 25 USDC. Please onboard 24 more USDC and try again.", env.Error.Message)
}

func TestRunnerBuildBlockedProtocol(t *testing.T) {
	r, _, stderr := testRunner(t, "")
	code := r.Run(append([]string{"build", "--enable-protocols", "aave"}, depositArgs()...))
	assert.Equal(t, 16, code)
	env := decode(t, stderr)
	require.NotNil(t, env.Error)
	assert.Contains(t, env.Error.Message, "hyperliquid")
}

func TestRunnerBuildUnknownProtocol(t *testing.T) {
	r, _, stderr := testRunner(t, "")
	code := r.Run([]string{"build", "--protocol", "sushiswap", "--action", "swap", "--chain", "arbitrum",
		"--token", "USDC", "--amount", "1", "--output-token", "WETH", "--account", testAccount, "--no-cache"})
	assert.Equal(t, 13, code)
	env := decode(t, stderr)
	require.NotNil(t, env.Error)
	assert.Equal(t, "unsupported", env.Error.Type)
}

func TestRunnerIntentsFileMarksPartial(t *testing.T) {
	file := filepath.Join(t.TempDir(), "intents.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
- protocol: hyperliquid
  action: deposit
  token: USDC
  amount: "25"
- protocol: sushiswap
  action: swap
  token: USDC
  amount: "1"
  output_token: WETH
`), 0o600))

	r, stdout, stderr := testRunner(t, "")
	code := r.Run([]string{"build", "--file", file, "--chain", "arbitrum", "--account", testAccount, "--no-cache"})
	require.Equal(t, 0, code, stderr.String())

	env := decode(t, stdout)
	assert.True(t, env.Meta.Partial)
	require.Len(t, env.Warnings, 1)
	assert.Contains(t, env.Warnings[0], "intent 1")

	var reports []struct {
		Index        int             `json:"index"`
		Transactions []any           `json:"transactions"`
		Error        json.RawMessage `json:"error"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &reports))
	require.Len(t, reports, 2)
	assert.Len(t, reports[0].Transactions, 1)
	assert.Empty(t, reports[0].Error)
	assert.NotEmpty(t, reports[1].Error)
}

func TestRunnerSimulateAppliesGasHints(t *testing.T) {
	r, stdout, stderr := testRunner(t, "")
	fake := &fakeValidator{result: simulate.Result{Success: true, GasUsed: 50000, PerTxGas: []uint64{50000}}}
	r.newValidator = func(_ context.Context, chain id.Chain, endpoint string, _ *zap.Logger) (simulate.Validator, error) {
		assert.Equal(t, "http://127.0.0.1:8545", endpoint)
		assert.Equal(t, int64(42161), chain.EVMChainID)
		return fake, nil
	}
	code := r.Run(append([]string{"simulate", "--fork-rpc", "http://127.0.0.1:8545"}, depositArgs()...))
	require.Equal(t, 0, code, stderr.String())
	assert.Equal(t, 1, fake.calls)
	assert.Equal(t, []string{"0xaf88d065e77c8cC2239327C5EDb3A432268e5831"}, fake.tokens)

	env := decode(t, stdout)
	var report struct {
		Transactions []struct {
			Gas uint64 `json:"gas"`
		} `json:"transactions"`
		Simulation struct {
			Success bool `json:"success"`
		} `json:"simulation"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &report))
	assert.True(t, report.Simulation.Success)
	require.Len(t, report.Transactions, 1)
	assert.InDelta(t, 60000, report.Transactions[0].Gas, 1)
}

func TestRunnerSimulateFailureExitCode(t *testing.T) {
	r, stdout, stderr := testRunner(t, "")
	r.newValidator = func(context.Context, id.Chain, string, *zap.Logger) (simulate.Validator, error) {
		return &fakeValidator{result: simulate.Result{Success: false, Error: "execution reverted: transfer amount exceeds balance"}}, nil
	}
	code := r.Run(append([]string{"simulate", "--fork-rpc", "http://127.0.0.1:8545"}, depositArgs()...))
	assert.Equal(t, 19, code)

	// the report is still emitted so callers can inspect the failure
	assert.True(t, decode(t, stdout).Success)
	env := decode(t, stderr)
	require.NotNil(t, env.Error)
	assert.Equal(t, "simulation_failed", env.Error.Type)
	assert.Equal(t, "hyperliquid", env.Error.Details["protocol"])
	assert.Equal(t, "eip155:42161", env.Error.Details["chain"])
}

func TestRunnerKeepsLogsOffTheErrorStream(t *testing.T) {
	r, _, stderr := testRunner(t, "")
	var logs bytes.Buffer
	r.logs = &logs
	r.newValidator = func(context.Context, id.Chain, string, *zap.Logger) (simulate.Validator, error) {
		return &fakeValidator{result: simulate.Result{Success: false, Error: "execution reverted"}}, nil
	}
	code := r.Run(append([]string{"simulate", "--fork-rpc", "http://127.0.0.1:8545", "--log-level", "debug"}, depositArgs()...))
	assert.Equal(t, 19, code)

	dec := json.NewDecoder(bytes.NewReader(stderr.Bytes()))
	var env envelope
	require.NoError(t, dec.Decode(&env))
	assert.False(t, dec.More(), "stderr holds exactly one envelope")
	assert.Contains(t, logs.String(), "simulation failed")
}

func TestRunnerSimulateWithoutForkNode(t *testing.T) {
	r, _, stderr := testRunner(t, "")
	r.newValidator = newValidator
	code := r.Run(append([]string{"simulate"}, depositArgs()...))
	assert.Equal(t, 17, code)
	assert.Equal(t, "config_error", decode(t, stderr).Error.Type)
}

const dolomiteBody = `{
  "id": "arb_dolomite",
  "chain": "arb",
  "name": "Dolomite",
  "portfolio_item_list": [{
    "name": "Lending",
    "position_index": "0",
    "pool": {"id": "0x6bd780e7fdf01d77e4d475c821f1e7ae05409072"},
    "detail": {
      "health_rate": 1.8,
      "supply_token_list": [{"id": "0xaf88d065e77c8cc2239327c5edb3a432268e5831", "chain": "arb", "symbol": "USDC", "decimals": 6, "amount": 125.5}]
    }
  }]
}`

func TestRunnerPositionsList(t *testing.T) {
	var gotProtocol string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/user/protocol", r.URL.Path)
		gotProtocol = r.URL.Query().Get("protocol_id")
		_, _ = w.Write([]byte(dolomiteBody))
	}))
	defer srv.Close()

	r, stdout, stderr := testRunner(t, srv.URL)
	code := r.Run([]string{"positions", "list", "--account", testAccount, "--chain", "arbitrum", "--protocol", "dolomite", "--no-cache"})
	require.Equal(t, 0, code, stderr.String())
	assert.Equal(t, "arb_dolomite", gotProtocol)

	env := decode(t, stdout)
	require.Len(t, env.Meta.Providers, 1)
	assert.Equal(t, "debank", env.Meta.Providers[0].Name)
	assert.Equal(t, "ok", env.Meta.Providers[0].Status)

	var portfolios []struct {
		Name      string `json:"name"`
		Positions []struct {
			Name   string `json:"name"`
			Supply []struct {
				Symbol string      `json:"symbol"`
				Amount json.Number `json:"amount"`
			} `json:"supply"`
		} `json:"positions"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &portfolios))
	require.Len(t, portfolios, 1)
	assert.Equal(t, "dolomite", portfolios[0].Name)
	require.Len(t, portfolios[0].Positions, 1)
	assert.Equal(t, "Lending", portfolios[0].Positions[0].Name)
	assert.Equal(t, "USDC", portfolios[0].Positions[0].Supply[0].Symbol)
	assert.Equal(t, json.Number("125500000"), portfolios[0].Positions[0].Supply[0].Amount)
}

func TestRunnerPositionsRejectsSolana(t *testing.T) {
	r, _, _ := testRunner(t, "")
	code := r.Run([]string{"positions", "list", "--account", testAccount, "--chain", "solana", "--no-cache"})
	assert.Equal(t, 13, code)
}
