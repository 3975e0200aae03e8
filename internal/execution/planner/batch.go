package planner

import (
	"bytes"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/defi-actions/internal/errors"
	"github.com/ggonzalez94/defi-actions/internal/id"
)

// Operation kinds understood by the batch vault.
const (
	batchOpSwap  uint8 = 0
	batchOpGauge uint8 = 1
	batchOpVote  uint8 = 3
)

// Amount types of a token slot inside one operation.
const (
	amountExactly   uint8 = 0
	amountAtMost    uint8 = 1
	amountAll       uint8 = 2
	amountFlashloan uint8 = 3
)

const batchTokenSpecERC20 uint8 = 0

var (
	int128Max = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	int128Min = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))
	two128    = new(big.Int).Lsh(big.NewInt(1), 128)
)

// batchAmount is one token slot of an operation. Positive amounts flow from
// the caller into the pool.
type batchAmount struct {
	Token  common.Address
	Type   uint8
	Amount *big.Int
}

type batchOp struct {
	Kind   uint8
	Pool   common.Address
	Tokens []batchAmount
}

// vaultOp mirrors the execute() ops tuple.
type vaultOp struct {
	PoolId            [32]byte
	TokenInformations [][32]byte
	Data              []byte
}

type compiledBatch struct {
	TokenRefs [][32]byte
	Deposits  []*big.Int
	Ops       []vaultOp
}

// compileBatch lays out the shared token table and encodes each operation
// against it. Token refs are unique and sorted ascending, and so are the
// token informations of every operation.
func compileBatch(ops []batchOp) (compiledBatch, error) {
	seen := map[[32]byte]struct{}{}
	refs := [][32]byte{}
	for _, op := range ops {
		for _, slot := range op.Tokens {
			ref := tokenRef(slot.Token)
			if _, ok := seen[ref]; ok {
				continue
			}
			seen[ref] = struct{}{}
			refs = append(refs, ref)
		}
	}
	sort.Slice(refs, func(i, j int) bool { return bytes.Compare(refs[i][:], refs[j][:]) < 0 })
	index := make(map[[32]byte]int, len(refs))
	for i, ref := range refs {
		index[ref] = i
	}

	out := compiledBatch{TokenRefs: refs, Deposits: make([]*big.Int, len(refs))}
	for i := range out.Deposits {
		out.Deposits[i] = new(big.Int)
	}
	for _, op := range ops {
		encoded := vaultOp{PoolId: poolID(op.Kind, op.Pool), Data: []byte{0x00}}
		for _, slot := range op.Tokens {
			info, err := tokenInformation(index[tokenRef(slot.Token)], slot.Type, slot.Amount)
			if err != nil {
				return compiledBatch{}, err
			}
			encoded.TokenInformations = append(encoded.TokenInformations, info)
		}
		sort.Slice(encoded.TokenInformations, func(i, j int) bool {
			return bytes.Compare(encoded.TokenInformations[i][:], encoded.TokenInformations[j][:]) < 0
		})
		out.Ops = append(out.Ops, encoded)
	}
	return out, nil
}

// tokenRef is packed(uint8 spec, uint88 id, address).
func tokenRef(token common.Address) [32]byte {
	var ref [32]byte
	ref[0] = batchTokenSpecERC20
	copy(ref[12:], token.Bytes())
	return ref
}

// poolID is packed(uint8 kind, uint88 0, address).
func poolID(kind uint8, pool common.Address) [32]byte {
	var out [32]byte
	out[0] = kind
	copy(out[12:], pool.Bytes())
	return out
}

// tokenInformation is packed(uint8 index, uint8 amountType, uint112 0, int128 amount).
func tokenInformation(index int, amountType uint8, amount *big.Int) ([32]byte, error) {
	var out [32]byte
	if index > 255 {
		return out, clierr.New(clierr.CodeInternal, "batch token table exceeds 256 entries")
	}
	if amount == nil {
		amount = new(big.Int)
	}
	if amount.Cmp(int128Max) > 0 || amount.Cmp(int128Min) < 0 {
		return out, clierr.New(clierr.CodeUsage, "batch amount does not fit in int128")
	}
	out[0] = byte(index)
	out[1] = amountType
	encoded := new(big.Int).Set(amount)
	if encoded.Sign() < 0 {
		encoded.Add(encoded, two128)
	}
	encoded.FillBytes(out[16:])
	return out, nil
}

// batchTokenAddress maps the native marker onto itself and everything else to its address.
func batchTokenAddress(token id.Token) common.Address {
	if token.IsNative() {
		return common.HexToAddress(id.NativeAddress)
	}
	return common.HexToAddress(strings.TrimSpace(token.Address))
}
