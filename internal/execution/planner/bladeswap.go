package planner

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/defi-actions/internal/errors"
	"github.com/ggonzalez94/defi-actions/internal/execution"
	"github.com/ggonzalez94/defi-actions/internal/id"
	"github.com/ggonzalez94/defi-actions/internal/registry"
)

const bladeLockPool = "veblade"

var bladeswapActions = []string{"deposit", "withdraw", "claim", "lock", "unlock", "vote"}

// Bladeswap compiles vault operations into a single execute() call on the
// batch vault.
type Bladeswap struct {
	book *registry.AddressBook
}

func NewBladeswap(book *registry.AddressBook) *Bladeswap {
	return &Bladeswap{book: book}
}

func (b *Bladeswap) Name() string { return "bladeswap" }

func (b *Bladeswap) Actions() []string { return append([]string(nil), bladeswapActions...) }

func (b *Bladeswap) Build(ctx context.Context, actx execution.ActionContext) (execution.BuilderResult, error) {
	base := actx.Common()
	stake, ok := actx.(execution.StakeContext)
	if !ok || !containsAction(bladeswapActions, base.Action) {
		return execution.BuilderResult{}, unsupportedAction(b.Name(), base.Action, bladeswapActions)
	}
	vault, err := b.book.Contract(b.Name(), base.Chain.EVMChainID, registry.PurposeVault)
	if err != nil {
		return execution.BuilderResult{}, err
	}
	pool, err := b.resolvePool(stake)
	if err != nil {
		return execution.BuilderResult{}, err
	}

	ops, paid, err := b.operations(stake, pool)
	if err != nil {
		return execution.BuilderResult{}, err
	}
	batch, err := compileBatch(ops)
	if err != nil {
		return execution.BuilderResult{}, err
	}

	result := execution.BuilderResult{}
	value := new(big.Int)
	owner := accountAddress(base)
	if len(paid) > 0 {
		reader, release, err := openReader(ctx, base)
		if err != nil {
			return result, err
		}
		defer release()
		for _, slot := range paid {
			if strings.EqualFold(slot.Token.Hex(), id.NativeAddress) {
				value.Add(value, slot.Amount)
				continue
			}
			if err := appendApprovalIfNeeded(ctx, reader, &result, base.Chain, slot.Token, owner, vault.Address, slot.Amount); err != nil {
				return result, err
			}
		}
	}
	data, err := packCall(batchVaultABI, "execute", batch.TokenRefs, batch.Deposits, batch.Ops)
	if err != nil {
		return result, err
	}
	result.Append(evmTx(base.Chain, vault.Address, value, data), base.Action)
	return result, nil
}

func (b *Bladeswap) resolvePool(stake execution.StakeContext) (registry.Pool, error) {
	name := stake.Pool
	switch {
	case stake.Action == "lock" || stake.Action == "unlock":
		name = bladeLockPool
	case name == "" && stake.Secondary != nil:
		name = strings.ToLower(stake.Primary.Token.Symbol + "-" + stake.Secondary.Token.Symbol)
	}
	if name == "" {
		return registry.Pool{}, clierr.New(clierr.CodeUsage, "bladeswap requires a pool")
	}
	name = normalizeWrappedPoolName(stake.Chain, name)
	pool, ok := b.book.Pool(b.Name(), stake.Chain.EVMChainID, name)
	if !ok || !common.IsHexAddress(pool.Address) {
		return registry.Pool{}, unsupportedCombination(stake.Base, stake.Primary.Token.Symbol, name)
	}
	return pool, nil
}

// operations returns the batch plus the token amounts the caller pays in.
func (b *Bladeswap) operations(stake execution.StakeContext, pool registry.Pool) ([]batchOp, []batchAmount, error) {
	poolAddr := common.HexToAddress(pool.Address)
	lp := poolAddr
	gauge := common.Address{}
	if common.IsHexAddress(pool.Gauge) {
		gauge = common.HexToAddress(pool.Gauge)
	}

	switch stake.Action {
	case "deposit":
		inputs, paid, err := b.poolInputs(stake, pool)
		if err != nil {
			return nil, nil, err
		}
		slots := append([]batchAmount{}, inputs...)
		slots = append(slots, batchAmount{Token: lp, Type: amountAtMost, Amount: new(big.Int)})
		ops := []batchOp{{Kind: batchOpSwap, Pool: poolAddr, Tokens: slots}}
		if gauge != (common.Address{}) {
			ops = append(ops, batchOp{Kind: batchOpGauge, Pool: gauge, Tokens: []batchAmount{
				{Token: lp, Type: amountAll, Amount: new(big.Int).Set(int128Max)},
			}})
		}
		return ops, paid, nil
	case "withdraw":
		outputs, err := b.poolOutputs(stake, pool)
		if err != nil {
			return nil, nil, err
		}
		lpType, lpAmount := amountExactly, stake.Primary.Amount
		if stake.Primary.Amount == nil {
			lpType, lpAmount = amountAll, new(big.Int).Set(int128Max)
		}
		ops := []batchOp{}
		var paid []batchAmount
		if gauge != (common.Address{}) {
			unstake := new(big.Int).Neg(lpAmount)
			ops = append(ops, batchOp{Kind: batchOpGauge, Pool: gauge, Tokens: []batchAmount{
				{Token: lp, Type: lpType, Amount: unstake},
			}})
		} else if lpType == amountExactly {
			paid = append(paid, batchAmount{Token: lp, Amount: lpAmount})
		}
		slots := []batchAmount{{Token: lp, Type: lpType, Amount: lpAmount}}
		slots = append(slots, outputs...)
		ops = append(ops, batchOp{Kind: batchOpSwap, Pool: poolAddr, Tokens: slots})
		return ops, paid, nil
	case "claim":
		if gauge == (common.Address{}) {
			return nil, nil, unsupportedCombination(stake.Base, stake.Primary.Token.Symbol, pool.Name)
		}
		reward, err := id.ResolveToken(stake.Chain, "BLADE")
		if err != nil {
			return nil, nil, err
		}
		return []batchOp{{Kind: batchOpGauge, Pool: gauge, Tokens: []batchAmount{
			{Token: batchTokenAddress(reward), Type: amountAtMost, Amount: new(big.Int)},
		}}}, nil, nil
	case "lock", "unlock":
		if err := requireAmount(stake.Primary); err != nil {
			return nil, nil, err
		}
		blade, err := id.ResolveToken(stake.Chain, "BLADE")
		if err != nil {
			return nil, nil, err
		}
		in, out := batchTokenAddress(blade), poolAddr
		if stake.Action == "unlock" {
			in, out = out, in
		}
		paid := batchAmount{Token: in, Type: amountExactly, Amount: stake.Primary.Amount}
		return []batchOp{{Kind: batchOpSwap, Pool: poolAddr, Tokens: []batchAmount{
			paid,
			{Token: out, Type: amountAtMost, Amount: new(big.Int)},
		}}}, []batchAmount{paid}, nil
	case "vote":
		if err := requireAmount(stake.Primary); err != nil {
			return nil, nil, err
		}
		if gauge == (common.Address{}) {
			return nil, nil, unsupportedCombination(stake.Base, stake.Primary.Token.Symbol, pool.Name)
		}
		lockPool, ok := b.book.Pool(b.Name(), stake.Chain.EVMChainID, bladeLockPool)
		if !ok {
			return nil, nil, unsupportedCombination(stake.Base, stake.Primary.Token.Symbol, pool.Name)
		}
		return []batchOp{{Kind: batchOpVote, Pool: gauge, Tokens: []batchAmount{
			{Token: common.HexToAddress(lockPool.Address), Type: amountExactly, Amount: stake.Primary.Amount},
		}}}, nil, nil
	}
	return nil, nil, unsupportedAction(b.Name(), stake.Action, bladeswapActions)
}

// poolInputs maps the supplied amounts onto the pool's tokens. The native
// slot takes everything sent as value, so it is encoded as "all".
func (b *Bladeswap) poolInputs(stake execution.StakeContext, pool registry.Pool) ([]batchAmount, []batchAmount, error) {
	if err := requireAmount(stake.Primary); err != nil {
		return nil, nil, err
	}
	supplied := []execution.TokenAmount{stake.Primary}
	if stake.Secondary != nil && stake.Secondary.Amount != nil {
		supplied = append(supplied, *stake.Secondary)
	}
	slots, paid := []batchAmount{}, []batchAmount{}
	for _, amount := range supplied {
		if !poolHasToken(stake.Chain, pool, amount.Token.Symbol) {
			return nil, nil, unsupportedCombination(stake.Base, amount.Token.Symbol, pool.Name)
		}
		token := batchTokenAddress(amount.Token)
		paid = append(paid, batchAmount{Token: token, Type: amountExactly, Amount: amount.Amount})
		if amount.Token.IsNative() {
			slots = append(slots, batchAmount{Token: token, Type: amountAll, Amount: new(big.Int).Set(int128Max)})
			continue
		}
		slots = append(slots, batchAmount{Token: token, Type: amountExactly, Amount: amount.Amount})
	}
	return slots, paid, nil
}

// poolOutputs lists the tokens the caller receives back: the named pool
// token for a single-sided exit, otherwise every pool token.
func (b *Bladeswap) poolOutputs(stake execution.StakeContext, pool registry.Pool) ([]batchAmount, error) {
	symbols := pool.Tokens
	if symbol := stake.Primary.Token.Symbol; symbol != "" && poolHasToken(stake.Chain, pool, symbol) {
		symbols = []string{symbol}
	}
	out := []batchAmount{}
	for _, symbol := range symbols {
		if !poolHasToken(stake.Chain, pool, symbol) {
			return nil, unsupportedCombination(stake.Base, symbol, pool.Name)
		}
		token, err := id.ResolveToken(stake.Chain, symbol)
		if err != nil {
			return nil, err
		}
		out = append(out, batchAmount{Token: batchTokenAddress(token), Type: amountAtMost, Amount: new(big.Int)})
	}
	return out, nil
}

func poolHasToken(chain id.Chain, pool registry.Pool, symbol string) bool {
	for _, candidate := range pool.Tokens {
		if id.SameAsset(chain, candidate, symbol) {
			return true
		}
	}
	return false
}
