package execution

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	clierr "github.com/ggonzalez94/defi-actions/internal/errors"
)

type EstimateBlockTag string

const (
	EstimateBlockTagLatest  EstimateBlockTag = "latest"
	EstimateBlockTagPending EstimateBlockTag = "pending"
)

type EstimateOptions struct {
	GasMultiplier      float64
	MaxFeeGwei         string
	MaxPriorityFeeGwei string
	BlockTag           EstimateBlockTag
}

type GasEstimate struct {
	ChainID         string            `json:"chain_id"`
	BlockTag        string            `json:"block_tag"`
	Steps           []GasEstimateStep `json:"steps"`
	LikelyFeeWei    string            `json:"likely_fee_wei"`
	WorstCaseFeeWei string            `json:"worst_case_fee_wei"`
}

type GasEstimateStep struct {
	Index                   int    `json:"index"`
	Label                   string `json:"label"`
	GasEstimateRaw          string `json:"gas_estimate_raw"`
	GasLimit                string `json:"gas_limit"`
	BaseFeePerGasWei        string `json:"base_fee_per_gas_wei"`
	MaxPriorityFeePerGasWei string `json:"max_priority_fee_per_gas_wei"`
	MaxFeePerGasWei         string `json:"max_fee_per_gas_wei"`
	LikelyFeeWei            string `json:"likely_fee_wei"`
	WorstCaseFeeWei         string `json:"worst_case_fee_wei"`
	// Unavailable is set when the step depends on state an earlier step creates.
	Unavailable string `json:"unavailable,omitempty"`
}

func DefaultEstimateOptions() EstimateOptions {
	return EstimateOptions{
		GasMultiplier: 1.2,
		BlockTag:      EstimateBlockTagPending,
	}
}

// EstimateResultGas estimates every EVM transaction against live state and
// returns a copy of result with gas hints filled in. Transactions that only
// succeed after an earlier step lands (an approval, a wrap) cannot be
// estimated in isolation; they keep a zero hint and are reported as unavailable.
func EstimateResultGas(ctx context.Context, client *ethclient.Client, from string, result BuilderResult, opts EstimateOptions) (BuilderResult, GasEstimate, error) {
	if len(result.Transactions) == 0 {
		return result, GasEstimate{}, clierr.New(clierr.CodeUsage, "result has no transactions to estimate")
	}
	if opts.GasMultiplier <= 1 {
		return result, GasEstimate{}, clierr.New(clierr.CodeUsage, "--gas-multiplier must be > 1")
	}
	blockTag, err := normalizeEstimateBlockTag(opts.BlockTag)
	if err != nil {
		return result, GasEstimate{}, err
	}
	if !common.IsHexAddress(strings.TrimSpace(from)) {
		return result, GasEstimate{}, clierr.New(clierr.CodeUsage, "estimate requires an EVM sender address")
	}
	fromAddress := common.HexToAddress(strings.TrimSpace(from))

	chainID, err := client.ChainID(ctx)
	if err != nil {
		return result, GasEstimate{}, clierr.Wrap(clierr.CodeUnavailable, "read chain id", err)
	}
	tipCap, err := resolveTipCap(ctx, client, opts.MaxPriorityFeeGwei)
	if err != nil {
		return result, GasEstimate{}, err
	}
	baseFee, err := baseFeeAtBlockTag(ctx, client, blockTag)
	if err != nil {
		return result, GasEstimate{}, err
	}
	feeCap, err := resolveFeeCap(baseFee, tipCap, opts.MaxFeeGwei)
	if err != nil {
		return result, GasEstimate{}, err
	}
	effectiveGasPrice := new(big.Int).Add(new(big.Int).Set(baseFee), tipCap)
	if effectiveGasPrice.Cmp(feeCap) > 0 {
		effectiveGasPrice = new(big.Int).Set(feeCap)
	}

	out := BuilderResult{SignPayload: result.SignPayload}
	estimate := GasEstimate{ChainID: fmt.Sprintf("eip155:%d", chainID.Int64()), BlockTag: string(blockTag)}
	likelyTotal := big.NewInt(0)
	worstTotal := big.NewInt(0)
	for i, tx := range result.Transactions {
		hinted := tx
		step := GasEstimateStep{Index: i, Label: result.Labels[i]}
		rawGas, err := estimateGasWithBlockTag(ctx, client, transactionCallMsg(tx, fromAddress), blockTag)
		if err != nil {
			if i == 0 {
				return result, GasEstimate{}, clierr.Wrap(clierr.CodeUnavailable, "estimate gas", err)
			}
			step.Unavailable = err.Error()
			estimate.Steps = append(estimate.Steps, step)
			out.Append(hinted, result.Labels[i])
			continue
		}
		gasLimit := uint64(float64(rawGas) * opts.GasMultiplier)
		hinted.Gas = gasLimit

		gasLimitBI := new(big.Int).SetUint64(gasLimit)
		likelyFee := new(big.Int).Mul(new(big.Int).Set(gasLimitBI), effectiveGasPrice)
		worstFee := new(big.Int).Mul(new(big.Int).Set(gasLimitBI), feeCap)
		likelyTotal.Add(likelyTotal, likelyFee)
		worstTotal.Add(worstTotal, worstFee)

		step.GasEstimateRaw = strconvUint64(rawGas)
		step.GasLimit = strconvUint64(gasLimit)
		step.BaseFeePerGasWei = baseFee.String()
		step.MaxPriorityFeePerGasWei = tipCap.String()
		step.MaxFeePerGasWei = feeCap.String()
		step.LikelyFeeWei = likelyFee.String()
		step.WorstCaseFeeWei = worstFee.String()
		estimate.Steps = append(estimate.Steps, step)
		out.Append(hinted, result.Labels[i])
	}
	estimate.LikelyFeeWei = likelyTotal.String()
	estimate.WorstCaseFeeWei = worstTotal.String()
	return out, estimate, nil
}

// WithGasHints returns a copy of result whose hints are measured gas padded by multiplier.
func WithGasHints(result BuilderResult, measured []uint64, multiplier float64) BuilderResult {
	out := BuilderResult{SignPayload: result.SignPayload}
	for i, tx := range result.Transactions {
		hinted := tx
		if i < len(measured) && measured[i] > 0 {
			hinted.Gas = uint64(float64(measured[i]) * multiplier)
		}
		out.Append(hinted, result.Labels[i])
	}
	return out
}

func transactionCallMsg(tx Transaction, from common.Address) ethereum.CallMsg {
	target := common.HexToAddress(strings.TrimSpace(tx.To))
	return ethereum.CallMsg{
		From:  from,
		To:    &target,
		Value: tx.ValueOrZero(),
		Data:  tx.Data,
	}
}

func normalizeEstimateBlockTag(input EstimateBlockTag) (EstimateBlockTag, error) {
	switch strings.ToLower(strings.TrimSpace(string(input))) {
	case "", string(EstimateBlockTagPending):
		return EstimateBlockTagPending, nil
	case string(EstimateBlockTagLatest):
		return EstimateBlockTagLatest, nil
	default:
		return "", clierr.New(clierr.CodeUsage, "--block-tag must be one of: pending,latest")
	}
}

func estimateGasWithBlockTag(ctx context.Context, client *ethclient.Client, msg ethereum.CallMsg, blockTag EstimateBlockTag) (uint64, error) {
	arg := map[string]any{
		"from": msg.From.Hex(),
	}
	if msg.To != nil {
		arg["to"] = msg.To.Hex()
	}
	if len(msg.Data) > 0 {
		arg["data"] = hexutil.Bytes(msg.Data)
	}
	if msg.Value != nil {
		arg["value"] = (*hexutil.Big)(msg.Value)
	}

	var estimated hexutil.Uint64
	if err := client.Client().CallContext(ctx, &estimated, "eth_estimateGas", arg, string(blockTag)); err != nil {
		if blockTag == EstimateBlockTagPending {
			if retryErr := client.Client().CallContext(ctx, &estimated, "eth_estimateGas", arg, string(EstimateBlockTagLatest)); retryErr == nil {
				return uint64(estimated), nil
			}
		}
		return 0, err
	}
	return uint64(estimated), nil
}

func baseFeeAtBlockTag(ctx context.Context, client *ethclient.Client, blockTag EstimateBlockTag) (*big.Int, error) {
	var block struct {
		BaseFeePerGas *hexutil.Big `json:"baseFeePerGas"`
	}
	if err := client.Client().CallContext(ctx, &block, "eth_getBlockByNumber", string(blockTag), false); err != nil {
		if blockTag == EstimateBlockTagPending {
			if retryErr := client.Client().CallContext(ctx, &block, "eth_getBlockByNumber", string(EstimateBlockTagLatest), false); retryErr == nil {
				if block.BaseFeePerGas == nil {
					return big.NewInt(1_000_000_000), nil
				}
				return new(big.Int).Set((*big.Int)(block.BaseFeePerGas)), nil
			}
		}
		return nil, clierr.Wrap(clierr.CodeUnavailable, "fetch latest block", err)
	}
	if block.BaseFeePerGas == nil {
		return big.NewInt(1_000_000_000), nil
	}
	return new(big.Int).Set((*big.Int)(block.BaseFeePerGas)), nil
}

func resolveTipCap(ctx context.Context, client *ethclient.Client, overrideGwei string) (*big.Int, error) {
	if strings.TrimSpace(overrideGwei) != "" {
		v, err := parseGwei(overrideGwei)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUsage, "parse --max-priority-fee-gwei", err)
		}
		return v, nil
	}
	tipCap, err := client.SuggestGasTipCap(ctx)
	if err != nil {
		return big.NewInt(2_000_000_000), nil // 2 gwei fallback
	}
	return tipCap, nil
}

func resolveFeeCap(baseFee, tipCap *big.Int, overrideGwei string) (*big.Int, error) {
	if strings.TrimSpace(overrideGwei) != "" {
		v, err := parseGwei(overrideGwei)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUsage, "parse --max-fee-gwei", err)
		}
		if v.Cmp(tipCap) < 0 {
			return nil, clierr.New(clierr.CodeUsage, "--max-fee-gwei must be >= --max-priority-fee-gwei")
		}
		return v, nil
	}
	feeCap := new(big.Int).Mul(baseFee, big.NewInt(2))
	feeCap.Add(feeCap, tipCap)
	return feeCap, nil
}

func parseGwei(v string) (*big.Int, error) {
	clean := strings.TrimSpace(v)
	if clean == "" {
		return nil, fmt.Errorf("empty gwei value")
	}
	rat, ok := new(big.Rat).SetString(clean)
	if !ok {
		return nil, fmt.Errorf("invalid numeric value %q", v)
	}
	if rat.Sign() < 0 {
		return nil, fmt.Errorf("value must be non-negative")
	}
	rat.Mul(rat, big.NewRat(1_000_000_000, 1))
	if !rat.IsInt() {
		return nil, fmt.Errorf("value must resolve to an integer wei amount")
	}
	return new(big.Int).Set(rat.Num()), nil
}

func strconvUint64(v uint64) string {
	return new(big.Int).SetUint64(v).String()
}
