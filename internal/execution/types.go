package execution

import (
	"encoding/base64"
	"encoding/json"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
)

// Standard step labels. Builders may also use the action verb itself.
const (
	LabelApprove           = "Approve"
	LabelApproveDelegation = "Approve Delegation"
	LabelWrap              = "Deposit"
	LabelTransfer          = "Transfer"
	LabelCreateAndDeposit  = "Create Vault And Deposit"
)

// Transaction is one call a caller signs and submits. Builders never mutate a
// Transaction after appending it to a result.
type Transaction struct {
	ChainID string
	To      string
	Value   *big.Int
	Data    []byte
	// Gas is an optional hint filled from simulation or estimation.
	Gas uint64
}

type transactionJSON struct {
	ChainID string `json:"chain_id"`
	To      string `json:"to"`
	Value   string `json:"value"`
	Data    string `json:"data"`
	Gas     uint64 `json:"gas,omitempty"`
}

// MarshalJSON renders EVM calldata as 0x-hex and Solana transactions as base64.
func (t Transaction) MarshalJSON() ([]byte, error) {
	out := transactionJSON{ChainID: t.ChainID, To: t.To, Value: "0", Gas: t.Gas}
	if t.Value != nil {
		out.Value = t.Value.String()
	}
	if t.IsSolana() {
		out.Data = base64.StdEncoding.EncodeToString(t.Data)
	} else {
		out.Data = hexutil.Encode(t.Data)
	}
	return json.Marshal(out)
}

func (t Transaction) IsSolana() bool {
	return strings.HasPrefix(strings.ToLower(t.ChainID), "solana:")
}

// ValueOrZero never returns nil.
func (t Transaction) ValueOrZero() *big.Int {
	if t.Value == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(t.Value)
}

// SignPayload describes an off-chain signed instruction for venues whose
// actions settle off-chain instead of through a transaction.
type SignPayload struct {
	Kind        string           `json:"kind"`
	Market      string           `json:"market,omitempty"`
	Side        string           `json:"side,omitempty"`
	Price       *decimal.Decimal `json:"price,omitempty"`
	Size        *decimal.Decimal `json:"size,omitempty"`
	Leverage    int64            `json:"leverage,omitempty"`
	ReduceOnly  bool             `json:"reduce_only,omitempty"`
	Destination string           `json:"destination,omitempty"`
	Amount      *decimal.Decimal `json:"amount,omitempty"`
	Time        int64            `json:"time,omitempty"`
}

// BuilderResult is the ordered output of a protocol builder. Labels[i] names
// the economic effect of Transactions[i].
type BuilderResult struct {
	Transactions []Transaction `json:"transactions"`
	Labels       []string      `json:"labels"`
	SignPayload  *SignPayload  `json:"sign_payload,omitempty"`
}

func (r *BuilderResult) Append(tx Transaction, label string) {
	r.Transactions = append(r.Transactions, tx)
	r.Labels = append(r.Labels, label)
}

// Merge appends other after r, preserving order.
func (r *BuilderResult) Merge(other BuilderResult) {
	for i := range other.Transactions {
		r.Append(other.Transactions[i], other.Labels[i])
	}
	if other.SignPayload != nil {
		r.SignPayload = other.SignPayload
	}
}
