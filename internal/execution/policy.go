package execution

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/defi-actions/internal/errors"
	"github.com/ggonzalez94/defi-actions/internal/registry"
)

var (
	policyERC20ABI     = mustPolicyABI(registry.ERC20MinimalABI)
	policyDebtTokenABI = mustPolicyABI(registry.AaveDebtTokenABI)
	policyWrapABI      = mustPolicyABI(registry.WrappedNativeABI)

	policyApproveSelector    = policyERC20ABI.Methods["approve"].ID
	policyDelegationSelector = policyDebtTokenABI.Methods["approveDelegation"].ID
	policyWrapSelector       = policyWrapABI.Methods["deposit"].ID
)

type stepKind int

const (
	stepKindWrap stepKind = iota
	stepKindApproval
	stepKindAction
)

// Validate checks the structural invariants every builder result must hold:
// parallel labels, well-formed targets, non-negative values, and preparation
// steps (wraps, then approvals) strictly before the economic transactions.
func (r BuilderResult) Validate() error {
	if len(r.Transactions) != len(r.Labels) {
		return clierr.New(clierr.CodeInternal, fmt.Sprintf("builder produced %d transactions but %d labels", len(r.Transactions), len(r.Labels)))
	}
	if len(r.Transactions) == 0 && r.SignPayload == nil {
		return clierr.New(clierr.CodeInternal, "builder produced neither transactions nor a signing payload")
	}
	last := stepKindWrap
	for i, tx := range r.Transactions {
		if strings.TrimSpace(r.Labels[i]) == "" {
			return clierr.New(clierr.CodeInternal, fmt.Sprintf("transaction %d has no label", i))
		}
		if tx.Value != nil && tx.Value.Sign() < 0 {
			return clierr.New(clierr.CodeInternal, fmt.Sprintf("transaction %d has a negative value", i))
		}
		if tx.IsSolana() {
			continue
		}
		if !common.IsHexAddress(tx.To) {
			return clierr.New(clierr.CodeInternal, fmt.Sprintf("transaction %d has invalid target %q", i, tx.To))
		}
		kind := classifyStep(tx)
		if kind < last {
			return clierr.New(clierr.CodeInternal, fmt.Sprintf("transaction %d (%s) is ordered after the transaction it prepares", i, r.Labels[i]))
		}
		if kind == stepKindApproval {
			if err := validateApprovalCall(tx.Data); err != nil {
				return err
			}
		}
		last = kind
	}
	return nil
}

func classifyStep(tx Transaction) stepKind {
	if len(tx.Data) < 4 {
		return stepKindAction
	}
	selector := tx.Data[:4]
	switch {
	case bytes.Equal(selector, policyWrapSelector) && len(tx.Data) == 4:
		return stepKindWrap
	case bytes.Equal(selector, policyApproveSelector), bytes.Equal(selector, policyDelegationSelector):
		return stepKindApproval
	default:
		return stepKindAction
	}
}

func validateApprovalCall(data []byte) error {
	method := policyERC20ABI.Methods["approve"]
	if bytes.Equal(data[:4], policyDelegationSelector) {
		method = policyDebtTokenABI.Methods["approveDelegation"]
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil || len(args) != 2 {
		return clierr.New(clierr.CodeInternal, "approval calldata is invalid")
	}
	spender, ok := args[0].(common.Address)
	if !ok || spender == (common.Address{}) {
		return clierr.New(clierr.CodeInternal, "approval has invalid spender")
	}
	return nil
}

func mustPolicyABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}
