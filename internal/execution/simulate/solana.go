package simulate

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/blocto/solana-go-sdk/client"
	"github.com/blocto/solana-go-sdk/common"
	"github.com/ethereum/go-ethereum/rpc"
	clierr "github.com/ggonzalez94/defi-actions/internal/errors"
	"github.com/ggonzalez94/defi-actions/internal/execution"
	"github.com/ggonzalez94/defi-actions/internal/id"
	"github.com/ggonzalez94/defi-actions/internal/logging"
	"github.com/mr-tron/base58"
	"github.com/near/borsh-go"
	"go.uber.org/zap"
)

const tokenAccountLen = 72

// AccountFetcher reads current account state.
type AccountFetcher interface {
	GetMultipleAccounts(ctx context.Context, addrs []string) ([]client.AccountInfo, error)
}

// tokenAccount is the leading fixed-width part of an SPL token account.
type tokenAccount struct {
	Mint   [32]byte
	Owner  [32]byte
	Amount uint64
}

// Solana simulates a single serialized transaction with simulateTransaction
// and reads post-execution balances from the returned accounts.
type Solana struct {
	accounts AccountFetcher
	rpc      RPCCaller
	log      *zap.Logger
}

func NewSolana(accounts AccountFetcher, caller RPCCaller, log *zap.Logger) *Solana {
	log = logging.OrNop(log)
	return &Solana{accounts: accounts, rpc: caller, log: log}
}

// DialSolana connects both clients to rpcURL. The returned func closes them.
func DialSolana(ctx context.Context, rpcURL string, log *zap.Logger) (*Solana, func(), error) {
	caller, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, nil, clierr.Wrap(clierr.CodeUnavailable, "connect solana rpc", err)
	}
	return NewSolana(client.NewClient(rpcURL), caller, log), caller.Close, nil
}

type simulatedAccount struct {
	Lamports uint64   `json:"lamports"`
	Owner    string   `json:"owner"`
	Data     []string `json:"data"`
}

type simulateValue struct {
	Err           json.RawMessage     `json:"err"`
	Logs          []string            `json:"logs"`
	Accounts      []*simulatedAccount `json:"accounts"`
	UnitsConsumed uint64              `json:"unitsConsumed"`
}

type simulateResponse struct {
	Value simulateValue `json:"value"`
}

// watched pairs a requested mint with the account that holds it.
type watched struct {
	mint    string
	address string
}

func (s *Solana) Simulate(ctx context.Context, account string, txs []execution.Transaction, tokens []string) (Result, error) {
	if len(txs) != 1 || !txs[0].IsSolana() {
		return Result{}, clierr.New(clierr.CodeUsage, "solana simulation expects exactly one solana transaction")
	}
	if raw, err := base58.Decode(account); err != nil || len(raw) != 32 {
		return Result{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("invalid solana account %q", account))
	}
	accounts, err := tokenAccounts(account, tokens)
	if err != nil {
		return Result{}, err
	}
	addresses := make([]string, len(accounts))
	for i, w := range accounts {
		addresses[i] = w.address
	}

	infos, err := s.accounts.GetMultipleAccounts(ctx, addresses)
	if err != nil {
		return Result{}, clierr.Wrap(clierr.CodeUnavailable, "read token accounts", err)
	}
	before := make(map[string]*big.Int, len(accounts))
	for i, w := range accounts {
		before[w.mint] = new(big.Int)
		if i >= len(infos) {
			continue
		}
		// accounts that do not exist yet stay as zero-balance placeholders
		amount, err := balanceOf(infos[i].Owner.ToBase58(), infos[i].Lamports, infos[i].Data, w.mint)
		if err != nil {
			return Result{}, err
		}
		before[w.mint] = amount
	}

	config := map[string]any{
		"sigVerify":              false,
		"commitment":             "processed",
		"encoding":               "base64",
		"replaceRecentBlockhash": true,
		"accounts": map[string]any{
			"encoding":  "base64",
			"addresses": addresses,
		},
	}
	var resp simulateResponse
	encoded := base64.StdEncoding.EncodeToString(txs[0].Data)
	if err := s.rpc.CallContext(ctx, &resp, "simulateTransaction", encoded, config); err != nil {
		return Result{}, clierr.Wrap(clierr.CodeUnavailable, "simulate solana transaction", err)
	}
	value := resp.Value
	if len(value.Err) > 0 && string(value.Err) != "null" {
		s.log.Debug("solana simulation failed", zap.String("account", account), zap.ByteString("err", value.Err))
		return failed(string(value.Err), value.Logs, value.UnitsConsumed), nil
	}

	after := make(map[string]*big.Int, len(accounts))
	for i, w := range accounts {
		after[w.mint] = new(big.Int)
		if i >= len(value.Accounts) || value.Accounts[i] == nil {
			continue
		}
		acc := value.Accounts[i]
		var data []byte
		if len(acc.Data) > 0 && acc.Data[0] != "" {
			data, err = base64.StdEncoding.DecodeString(acc.Data[0])
			if err != nil {
				return Result{}, clierr.Wrap(clierr.CodeUnavailable, "decode simulated account", err)
			}
		}
		amount, err := balanceOf(acc.Owner, acc.Lamports, data, w.mint)
		if err != nil {
			return Result{}, err
		}
		after[w.mint] = amount
	}

	return Result{
		Success:  true,
		Deltas:   diff(before, after),
		GasUsed:  value.UnitsConsumed,
		PerTxGas: []uint64{value.UnitsConsumed},
		Logs:     value.Logs,
	}, nil
}

// tokenAccounts maps each mint to the account holding the owner's balance:
// the wallet itself for SOL, the associated token account otherwise.
func tokenAccounts(owner string, mints []string) ([]watched, error) {
	ownerKey := common.PublicKeyFromString(owner)
	seen := map[string]bool{}
	out := make([]watched, 0, len(mints))
	for _, mint := range mints {
		mint = strings.TrimSpace(mint)
		if mint == "" || seen[mint] {
			continue
		}
		seen[mint] = true
		if mint == id.SolanaNativeMint {
			out = append(out, watched{mint: mint, address: owner})
			continue
		}
		if raw, err := base58.Decode(mint); err != nil || len(raw) != 32 {
			return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("invalid solana mint %q", mint))
		}
		ata, _, err := common.FindAssociatedTokenAddress(ownerKey, common.PublicKeyFromString(mint))
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeInternal, "derive token account", err)
		}
		out = append(out, watched{mint: mint, address: ata.ToBase58()})
	}
	return out, nil
}

// balanceOf reads lamports from system-owned accounts and the token amount
// from everything else. Empty data on a non-system account means the
// account does not exist.
func balanceOf(owner string, lamports uint64, data []byte, mint string) (*big.Int, error) {
	if owner == common.SystemProgramID.ToBase58() {
		return new(big.Int).SetUint64(lamports), nil
	}
	if len(data) == 0 {
		return new(big.Int), nil
	}
	if len(data) < tokenAccountLen {
		return nil, clierr.New(clierr.CodeUnavailable, fmt.Sprintf("token account data for %s is %d bytes, want at least %d", mint, len(data), tokenAccountLen))
	}
	var acc tokenAccount
	if err := borsh.Deserialize(&acc, data[:tokenAccountLen]); err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "decode token account", err)
	}
	return new(big.Int).SetUint64(acc.Amount), nil
}
