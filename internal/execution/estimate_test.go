package execution

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/ethclient"
)

type estimateRPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      json.RawMessage   `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
}

func TestEstimateResultGasSingleStep(t *testing.T) {
	rpc := newEstimateRPCServer(t, false)
	defer rpc.Close()

	client, err := ethclient.Dial(rpc.URL)
	if err != nil {
		t.Fatalf("dial rpc: %v", err)
	}
	defer client.Close()

	result := BuilderResult{}
	result.Append(Transaction{ChainID: "eip155:1", To: "0x00000000000000000000000000000000000000bb", Value: big.NewInt(0)}, "deposit")

	hinted, estimate, err := EstimateResultGas(context.Background(), client, "0x00000000000000000000000000000000000000aa", result, DefaultEstimateOptions())
	if err != nil {
		t.Fatalf("EstimateResultGas failed: %v", err)
	}
	if estimate.BlockTag != string(EstimateBlockTagPending) {
		t.Fatalf("expected block tag pending, got %s", estimate.BlockTag)
	}
	if estimate.ChainID != "eip155:1" {
		t.Fatalf("unexpected chain id: %s", estimate.ChainID)
	}
	if len(estimate.Steps) != 1 {
		t.Fatalf("expected one estimated step, got %d", len(estimate.Steps))
	}
	step := estimate.Steps[0]
	if step.GasEstimateRaw != "21000" {
		t.Fatalf("expected raw gas 21000, got %s", step.GasEstimateRaw)
	}
	if step.GasLimit != "25200" {
		t.Fatalf("expected gas limit 25200, got %s", step.GasLimit)
	}
	if step.BaseFeePerGasWei != "1000000000" {
		t.Fatalf("expected base fee 1 gwei, got %s", step.BaseFeePerGasWei)
	}
	if step.MaxPriorityFeePerGasWei != "2000000000" {
		t.Fatalf("expected tip cap 2 gwei, got %s", step.MaxPriorityFeePerGasWei)
	}
	if step.MaxFeePerGasWei != "4000000000" {
		t.Fatalf("expected fee cap 4 gwei, got %s", step.MaxFeePerGasWei)
	}
	if step.LikelyFeeWei != "75600000000000" {
		t.Fatalf("unexpected likely fee: %s", step.LikelyFeeWei)
	}
	if step.WorstCaseFeeWei != "100800000000000" {
		t.Fatalf("unexpected worst-case fee: %s", step.WorstCaseFeeWei)
	}
	if estimate.LikelyFeeWei != step.LikelyFeeWei {
		t.Fatalf("expected likely total %s, got %s", step.LikelyFeeWei, estimate.LikelyFeeWei)
	}
	if hinted.Transactions[0].Gas != 25200 {
		t.Fatalf("expected gas hint 25200, got %d", hinted.Transactions[0].Gas)
	}
	if result.Transactions[0].Gas != 0 {
		t.Fatal("estimation must not mutate the input result")
	}
}

func TestEstimateResultGasMarksDependentStepsUnavailable(t *testing.T) {
	rpc := newEstimateRPCServer(t, true)
	defer rpc.Close()

	client, err := ethclient.Dial(rpc.URL)
	if err != nil {
		t.Fatalf("dial rpc: %v", err)
	}
	defer client.Close()

	result := BuilderResult{}
	result.Append(Transaction{ChainID: "eip155:1", To: "0x00000000000000000000000000000000000000bb"}, LabelApprove)
	result.Append(Transaction{ChainID: "eip155:1", To: "0x00000000000000000000000000000000000000cc", Data: []byte{0xde, 0xad, 0xbe, 0xef}}, "lend")

	hinted, estimate, err := EstimateResultGas(context.Background(), client, "0x00000000000000000000000000000000000000aa", result, DefaultEstimateOptions())
	if err != nil {
		t.Fatalf("EstimateResultGas failed: %v", err)
	}
	if estimate.Steps[1].Unavailable == "" {
		t.Fatal("expected second step to be reported unavailable")
	}
	if hinted.Transactions[1].Gas != 0 {
		t.Fatalf("expected no gas hint for dependent step, got %d", hinted.Transactions[1].Gas)
	}
	if hinted.Labels[1] != "lend" {
		t.Fatalf("labels must be preserved, got %v", hinted.Labels)
	}
}

func TestEstimateResultGasRejectsBadOptions(t *testing.T) {
	result := BuilderResult{}
	result.Append(Transaction{To: "0x00000000000000000000000000000000000000bb"}, "deposit")
	opts := DefaultEstimateOptions()
	opts.GasMultiplier = 1
	if _, _, err := EstimateResultGas(context.Background(), nil, "0x00000000000000000000000000000000000000aa", result, opts); err == nil {
		t.Fatal("expected multiplier validation error")
	}
	opts = DefaultEstimateOptions()
	opts.BlockTag = "safe"
	if _, _, err := EstimateResultGas(context.Background(), nil, "0x00000000000000000000000000000000000000aa", result, opts); err == nil {
		t.Fatal("expected block tag validation error")
	}
}

func TestWithGasHints(t *testing.T) {
	result := BuilderResult{}
	result.Append(Transaction{To: "0x00000000000000000000000000000000000000bb"}, LabelApprove)
	result.Append(Transaction{To: "0x00000000000000000000000000000000000000cc"}, "stake")
	hinted := WithGasHints(result, []uint64{50000, 0}, 1.2)
	if hinted.Transactions[0].Gas != 60000 || hinted.Transactions[1].Gas != 0 {
		t.Fatalf("unexpected hints: %d %d", hinted.Transactions[0].Gas, hinted.Transactions[1].Gas)
	}
}

func newEstimateRPCServer(t *testing.T, revertWithData bool) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var req estimateRPCRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		switch req.Method {
		case "eth_chainId":
			writeEstimateRPCResult(t, w, req.ID, "0x1")
		case "eth_estimateGas":
			if len(req.Params) < 2 {
				writeEstimateRPCError(w, req.ID, -32602, "missing block tag")
				return
			}
			var tag string
			if err := json.Unmarshal(req.Params[1], &tag); err != nil {
				writeEstimateRPCError(w, req.ID, -32602, "invalid block tag")
				return
			}
			if tag != "pending" && tag != "latest" {
				writeEstimateRPCError(w, req.ID, -32602, "unsupported block tag")
				return
			}
			var call map[string]any
			_ = json.Unmarshal(req.Params[0], &call)
			if _, hasData := call["data"]; hasData && revertWithData {
				writeEstimateRPCError(w, req.ID, 3, "execution reverted: ERC20: insufficient allowance")
				return
			}
			writeEstimateRPCResult(t, w, req.ID, "0x5208")
		case "eth_maxPriorityFeePerGas":
			writeEstimateRPCResult(t, w, req.ID, "0x77359400")
		case "eth_getBlockByNumber":
			writeEstimateRPCResult(t, w, req.ID, map[string]any{
				"baseFeePerGas": "0x3b9aca00",
			})
		default:
			writeEstimateRPCError(w, req.ID, -32601, fmt.Sprintf("method not supported in test: %s", req.Method))
		}
	}))
}

func writeEstimateRPCResult(t *testing.T, w http.ResponseWriter, id json.RawMessage, result any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	resp := map[string]any{
		"jsonrpc": "2.0",
		"id":      decodeEstimateRPCID(id),
		"result":  result,
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		t.Fatalf("encode rpc result: %v", err)
	}
}

func writeEstimateRPCError(w http.ResponseWriter, id json.RawMessage, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	resp := map[string]any{
		"jsonrpc": "2.0",
		"id":      decodeEstimateRPCID(id),
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func decodeEstimateRPCID(raw json.RawMessage) any {
	if len(raw) == 0 {
		return 1
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return 1
	}
	return out
}
