package simulate

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	clierr "github.com/ggonzalez94/defi-actions/internal/errors"
	"github.com/ggonzalez94/defi-actions/internal/execution"
	"github.com/ggonzalez94/defi-actions/internal/id"
	"github.com/ggonzalez94/defi-actions/internal/logging"
	"go.uber.org/zap"
)

var balanceOfSelector = common.FromHex("0x70a08231")

// EVM runs a batch on a fork node (anvil or hardhat) as the impersonated
// caller, then reverts the fork to its snapshot.
type EVM struct {
	rpc          RPCCaller
	log          *zap.Logger
	pollInterval time.Duration
	receiptWait  time.Duration
}

func NewEVM(caller RPCCaller, log *zap.Logger) *EVM {
	log = logging.OrNop(log)
	return &EVM{rpc: caller, log: log, pollInterval: 200 * time.Millisecond, receiptWait: 30 * time.Second}
}

// DialEVM connects to a fork node. The returned func closes the connection.
func DialEVM(ctx context.Context, forkURL string, log *zap.Logger) (*EVM, func(), error) {
	caller, err := rpc.DialContext(ctx, forkURL)
	if err != nil {
		return nil, nil, clierr.Wrap(clierr.CodeUnavailable, "connect fork rpc", err)
	}
	return NewEVM(caller, log), caller.Close, nil
}

type sendArgs struct {
	From  common.Address  `json:"from"`
	To    *common.Address `json:"to,omitempty"`
	Value *hexutil.Big    `json:"value,omitempty"`
	Data  hexutil.Bytes   `json:"data,omitempty"`
	Gas   *hexutil.Uint64 `json:"gas,omitempty"`
}

type receipt struct {
	Status      hexutil.Uint64 `json:"status"`
	GasUsed     hexutil.Uint64 `json:"gasUsed"`
	BlockNumber hexutil.Uint64 `json:"blockNumber"`
}

func (e *EVM) Simulate(ctx context.Context, account string, txs []execution.Transaction, tokens []string) (Result, error) {
	if !common.IsHexAddress(account) {
		return Result{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("invalid account address %q", account))
	}
	if len(txs) == 0 {
		return Result{}, clierr.New(clierr.CodeUsage, "nothing to simulate")
	}
	from := common.HexToAddress(account)
	log := e.log.With(zap.String("account", from.Hex()), zap.Int("txs", len(txs)))

	var snapshot string
	if err := e.rpc.CallContext(ctx, &snapshot, "evm_snapshot"); err != nil {
		return Result{}, clierr.Wrap(clierr.CodeUnavailable, "snapshot fork", err)
	}
	defer func() {
		var reverted bool
		if err := e.rpc.CallContext(context.WithoutCancel(ctx), &reverted, "evm_revert", snapshot); err != nil || !reverted {
			log.Warn("fork revert failed", zap.String("snapshot", snapshot), zap.Error(err))
		}
	}()
	if err := e.rpc.CallContext(ctx, nil, "anvil_impersonateAccount", from); err != nil {
		return Result{}, clierr.Wrap(clierr.CodeUnavailable, "impersonate account", err)
	}

	before, err := e.balances(ctx, from, tokens)
	if err != nil {
		return Result{}, err
	}

	res := Result{PerTxGas: make([]uint64, 0, len(txs))}
	for i, tx := range txs {
		gas, failure, err := e.send(ctx, from, tx)
		if err != nil {
			return Result{}, err
		}
		res.GasUsed += gas
		res.PerTxGas = append(res.PerTxGas, gas)
		if failure != "" {
			log.Debug("simulated transaction reverted", zap.Int("index", i), zap.String("reason", failure))
			return failed(fmt.Sprintf("transaction %d reverted: %s", i, failure), nil, res.GasUsed), nil
		}
	}

	after, err := e.balances(ctx, from, tokens)
	if err != nil {
		return Result{}, err
	}
	res.Success = true
	res.Deltas = diff(before, after)
	return res, nil
}

// send submits one transaction. A revert is reported as failure, not err.
func (e *EVM) send(ctx context.Context, from common.Address, tx execution.Transaction) (uint64, string, error) {
	to := common.HexToAddress(tx.To)
	args := sendArgs{From: from, To: &to, Value: (*hexutil.Big)(tx.ValueOrZero()), Data: tx.Data}
	if tx.Gas > 0 {
		gas := hexutil.Uint64(tx.Gas)
		args.Gas = &gas
	}
	var hash common.Hash
	if err := e.rpc.CallContext(ctx, &hash, "eth_sendTransaction", args); err != nil {
		if reason, ok := revertReason(err); ok {
			return 0, reason, nil
		}
		return 0, "", clierr.Wrap(clierr.CodeUnavailable, "send simulated transaction", err)
	}

	rcpt, err := e.waitReceipt(ctx, hash)
	if err != nil {
		return 0, "", err
	}
	if rcpt.Status == 1 {
		return uint64(rcpt.GasUsed), "", nil
	}
	// replay as a call against the parent block to recover the revert reason
	reason := "execution reverted"
	callErr := e.rpc.CallContext(ctx, new(hexutil.Bytes), "eth_call", args, replayBlock(rcpt))
	if r, ok := revertReason(callErr); ok {
		reason = r
	}
	return uint64(rcpt.GasUsed), reason, nil
}

// replayBlock is the state the mined transaction executed on. Fork nodes
// automine one transaction per block.
func replayBlock(rcpt *receipt) string {
	if rcpt.BlockNumber == 0 {
		return "latest"
	}
	return hexutil.EncodeUint64(uint64(rcpt.BlockNumber) - 1)
}

func (e *EVM) waitReceipt(ctx context.Context, hash common.Hash) (*receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, e.receiptWait)
	defer cancel()
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()
	for {
		var rcpt *receipt
		if err := e.rpc.CallContext(waitCtx, &rcpt, "eth_getTransactionReceipt", hash); err != nil {
			return nil, clierr.Wrap(clierr.CodeUnavailable, "read simulated receipt", err)
		}
		if rcpt != nil {
			return rcpt, nil
		}
		select {
		case <-waitCtx.Done():
			return nil, clierr.Wrap(clierr.CodeUnavailable, fmt.Sprintf("receipt for %s", hash.Hex()), waitCtx.Err())
		case <-ticker.C:
		}
	}
}

func (e *EVM) balances(ctx context.Context, owner common.Address, tokens []string) (map[string]*big.Int, error) {
	out := make(map[string]*big.Int, len(tokens))
	for _, token := range tokens {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		key := strings.ToLower(token)
		if _, ok := out[key]; ok {
			continue
		}
		if strings.EqualFold(token, id.NativeAddress) {
			var bal hexutil.Big
			if err := e.rpc.CallContext(ctx, &bal, "eth_getBalance", owner, "latest"); err != nil {
				return nil, clierr.Wrap(clierr.CodeUnavailable, "read native balance", err)
			}
			out[key] = bal.ToInt()
			continue
		}
		if !common.IsHexAddress(token) {
			return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("invalid token address %q", token))
		}
		target := common.HexToAddress(token)
		call := sendArgs{From: owner, To: &target, Data: append(append([]byte(nil), balanceOfSelector...), common.LeftPadBytes(owner.Bytes(), 32)...)}
		var raw hexutil.Bytes
		if err := e.rpc.CallContext(ctx, &raw, "eth_call", call, "latest"); err != nil {
			return nil, clierr.Wrap(clierr.CodeUnavailable, fmt.Sprintf("read %s balance", token), err)
		}
		out[key] = new(big.Int).SetBytes(raw)
	}
	return out, nil
}

// JSON-RPC codes nodes use for a reverted execution.
const (
	rpcCodeExecutionReverted = 3
	rpcCodeServerError       = -32000
)

// revertReason extracts the decoded reason from a JSON-RPC execution error.
// Only execution reverts qualify; any other node error is not a revert.
func revertReason(err error) (string, bool) {
	if err == nil {
		return "", false
	}
	var rpcErr rpc.Error
	if !errors.As(err, &rpcErr) {
		return "", false
	}
	data, hasData := rpcRevertData(err)
	switch {
	case rpcErr.ErrorCode() == rpcCodeExecutionReverted:
	case rpcErr.ErrorCode() == rpcCodeServerError && hasData:
	case strings.Contains(strings.ToLower(rpcErr.Error()), "execution reverted"):
	default:
		return "", false
	}
	if hasData {
		if reason, err := abi.UnpackRevert(data); err == nil {
			return reason, true
		}
	}
	return rpcErr.Error(), true
}

func rpcRevertData(err error) ([]byte, bool) {
	var dataErr rpc.DataError
	if !errors.As(err, &dataErr) {
		return nil, false
	}
	s, ok := dataErr.ErrorData().(string)
	if !ok || !strings.HasPrefix(s, "0x") || len(s) <= 2 {
		return nil, false
	}
	return common.FromHex(s), true
}
