package planner

import (
	"context"
	"fmt"

	"github.com/blocto/solana-go-sdk/types"
	clierr "github.com/ggonzalez94/defi-actions/internal/errors"
	"github.com/ggonzalez94/defi-actions/internal/execution"
	"github.com/ggonzalez94/defi-actions/internal/providers/jupiter"
	"github.com/mr-tron/base58"
)

var jupiterActions = []string{"swap"}

// SwapRouter quotes a Solana swap and assembles its unsigned transaction.
type SwapRouter interface {
	Quote(ctx context.Context, req jupiter.QuoteRequest) (jupiter.Quote, error)
	SwapTransaction(ctx context.Context, quote jupiter.Quote, userPublicKey string) ([]byte, error)
}

// Jupiter builds Solana swaps through the Jupiter aggregator. The result is a
// single transaction whose Data is the serialized versioned transaction with
// zero-filled signature slots.
type Jupiter struct {
	router SwapRouter
}

func NewJupiter(router SwapRouter) *Jupiter {
	return &Jupiter{router: router}
}

func (j *Jupiter) Name() string { return "jupiter" }

func (j *Jupiter) Actions() []string { return append([]string(nil), jupiterActions...) }

func (j *Jupiter) Build(ctx context.Context, actx execution.ActionContext) (execution.BuilderResult, error) {
	base := actx.Common()
	if !containsAction(jupiterActions, base.Action) {
		return execution.BuilderResult{}, unsupportedAction("Jupiter", base.Action, jupiterActions)
	}
	swap, ok := actx.(execution.SwapContext)
	if !ok {
		return execution.BuilderResult{}, clierr.New(clierr.CodeUsage, "jupiter swap expects a swap context")
	}
	if !base.Chain.IsSolana() {
		return execution.BuilderResult{}, unsupportedCombination(base, swap.In.Token.Symbol, "")
	}
	if err := requireAmount(swap.In); err != nil {
		return execution.BuilderResult{}, err
	}
	for _, mint := range []string{swap.In.Token.Address, swap.Out.Address} {
		if !validMint(mint) {
			return execution.BuilderResult{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("invalid solana mint %q", mint))
		}
	}
	if swap.In.Token.Address == swap.Out.Address {
		return execution.BuilderResult{}, clierr.New(clierr.CodeUsage, "input and output tokens must differ")
	}

	quote, err := j.router.Quote(ctx, jupiter.QuoteRequest{
		InputMint:   swap.In.Token.Address,
		OutputMint:  swap.Out.Address,
		Amount:      swap.In.Amount,
		SlippageBps: swap.SlippageBps,
	})
	if err != nil {
		return execution.BuilderResult{}, err
	}
	raw, err := j.router.SwapTransaction(ctx, quote, base.Account)
	if err != nil {
		return execution.BuilderResult{}, err
	}
	data, err := clearSignatures(raw, base.Account)
	if err != nil {
		return execution.BuilderResult{}, err
	}

	var result execution.BuilderResult
	result.Append(execution.Transaction{ChainID: base.Chain.CAIP2, To: base.Account, Data: data}, "Swap")
	return result, nil
}

// clearSignatures decodes an unsigned transaction, checks the fee payer and
// re-serializes it with one zeroed 64-byte slot per required signer.
func clearSignatures(raw []byte, feePayer string) ([]byte, error) {
	tx, err := types.TransactionDeserialize(raw)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "decode swap transaction", err)
	}
	keys := tx.Message.Accounts
	if len(keys) == 0 || keys[0].ToBase58() != feePayer {
		return nil, clierr.New(clierr.CodeUnavailable, "swap transaction fee payer does not match the account")
	}
	required := int(tx.Message.Header.NumRequireSignatures)
	if required < 1 {
		required = 1
	}
	tx.Signatures = make([]types.Signature, required)
	for i := range tx.Signatures {
		tx.Signatures[i] = make(types.Signature, 64)
	}
	out, err := tx.Serialize()
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "serialize swap transaction", err)
	}
	return out, nil
}

func validMint(mint string) bool {
	raw, err := base58.Decode(mint)
	return err == nil && len(raw) == 32
}
