// Package simulate runs a transaction batch against sandboxed chain state and
// reports what it did to the caller's balances.
package simulate

import (
	"context"
	"math/big"

	"github.com/ggonzalez94/defi-actions/internal/execution"
)

// Result is the outcome of one simulated batch. Deltas are keyed by token
// address, with the native asset under its marker address. A failed
// simulation carries Error and the chain logs but no deltas.
type Result struct {
	Success bool                `json:"success"`
	Deltas  map[string]*big.Int `json:"deltas,omitempty"`
	GasUsed uint64              `json:"gas_used"`
	// PerTxGas feeds execution.WithGasHints.
	PerTxGas []uint64 `json:"per_tx_gas,omitempty"`
	Logs     []string `json:"logs,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// Validator simulates txs sent by account and diffs the balances of tokens.
// Transport failures are errors; a batch that fails on chain is a Result
// with Success false.
type Validator interface {
	Simulate(ctx context.Context, account string, txs []execution.Transaction, tokens []string) (Result, error)
}

// RPCCaller is the JSON-RPC surface both validators need.
type RPCCaller interface {
	CallContext(ctx context.Context, result any, method string, args ...any) error
}

func failed(message string, logs []string, gas uint64) Result {
	return Result{Success: false, Error: message, Logs: logs, GasUsed: gas}
}

func diff(before, after map[string]*big.Int) map[string]*big.Int {
	out := make(map[string]*big.Int, len(after))
	for key, post := range after {
		pre, ok := before[key]
		if !ok {
			pre = new(big.Int)
		}
		out[key] = new(big.Int).Sub(post, pre)
	}
	for key, pre := range before {
		if _, ok := out[key]; !ok {
			out[key] = new(big.Int).Neg(pre)
		}
	}
	return out
}
