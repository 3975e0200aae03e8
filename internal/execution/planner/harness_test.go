package planner

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ggonzalez94/defi-actions/internal/execution"
	"github.com/ggonzalez94/defi-actions/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAccount = "0x00000000000000000000000000000000000000AA"

type viewStub struct {
	parsed abi.ABI
	method string
	fn     func(args []any) []any
}

// fakeChain answers eth_call by matching the target address and selector
// against registered stubs. Unmatched calls fail the read, except balanceOf
// which reports a funded wallet unless stubbed.
type fakeChain struct {
	mu     sync.Mutex
	stubs  map[common.Address][]viewStub
	calls  []string
	native *big.Int
}

// fundedBalance is what unstubbed balance reads return.
var fundedBalance = new(big.Int).Exp(big.NewInt(10), big.NewInt(30), nil)

func newFakeChain() *fakeChain {
	return &fakeChain{stubs: map[common.Address][]viewStub{}}
}

func (f *fakeChain) on(target common.Address, parsed abi.ABI, method string, fn func(args []any) []any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stubs[target] = append(f.stubs[target], viewStub{parsed: parsed, method: method, fn: fn})
}

func (f *fakeChain) returns(target common.Address, parsed abi.ABI, method string, out ...any) {
	f.on(target, parsed, method, func([]any) []any { return out })
}

func (f *fakeChain) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if msg.To == nil || len(msg.Data) < 4 {
		return nil, fmt.Errorf("malformed call")
	}
	f.mu.Lock()
	stubs := append([]viewStub(nil), f.stubs[*msg.To]...)
	f.mu.Unlock()
	for _, stub := range stubs {
		method := stub.parsed.Methods[stub.method]
		if !bytes.Equal(method.ID, msg.Data[:4]) {
			continue
		}
		args, err := method.Inputs.Unpack(msg.Data[4:])
		if err != nil {
			return nil, err
		}
		f.mu.Lock()
		f.calls = append(f.calls, stub.method)
		f.mu.Unlock()
		return method.Outputs.Pack(stub.fn(args)...)
	}
	if balanceOf := plannerERC20ABI.Methods["balanceOf"]; bytes.Equal(balanceOf.ID, msg.Data[:4]) {
		f.mu.Lock()
		f.calls = append(f.calls, "balanceOf")
		f.mu.Unlock()
		return balanceOf.Outputs.Pack(fundedBalance)
	}
	return nil, fmt.Errorf("unexpected call to %s selector %x", msg.To.Hex(), msg.Data[:4])
}

func (f *fakeChain) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "BalanceAt")
	if f.native == nil {
		return new(big.Int).Set(fundedBalance), nil
	}
	return new(big.Int).Set(f.native), nil
}

func (f *fakeChain) called(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == method {
			n++
		}
	}
	return n
}

func mustContext(t *testing.T, intent execution.Intent, client execution.ChainReader) execution.ActionContext {
	t.Helper()
	if intent.Account == "" {
		intent.Account = testAccount
	}
	actx, err := execution.NewContext(intent, execution.ContextOptions{Client: client})
	if err != nil {
		t.Fatalf("NewContext failed: %v", err)
	}
	return actx
}

func mustAddress(t *testing.T, book *registry.AddressBook, protocol string, chainID int64, purpose registry.Purpose) common.Address {
	t.Helper()
	raw, err := book.Address(protocol, chainID, purpose)
	if err != nil {
		t.Fatalf("address %s/%d/%s: %v", protocol, chainID, purpose, err)
	}
	return common.HexToAddress(raw)
}

// decodeCall returns the method name and arguments of emitted calldata.
func decodeCall(t *testing.T, parsed abi.ABI, data []byte) (string, []any) {
	t.Helper()
	if len(data) < 4 {
		t.Fatalf("calldata too short: %x", data)
	}
	method, err := parsed.MethodById(data[:4])
	if err != nil {
		t.Fatalf("unknown selector %x: %v", data[:4], err)
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		t.Fatalf("unpack %s: %v", method.Name, err)
	}
	return method.Name, args
}

func eth(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000_000_000_000))
}

func sameAddress(a string, b common.Address) bool {
	return strings.EqualFold(a, b.Hex())
}

// assertUint compares a decoded uint256 argument by value.
func assertUint(t *testing.T, want int64, got any) {
	t.Helper()
	value, ok := got.(*big.Int)
	require.True(t, ok, "argument is %T", got)
	assert.Equal(t, 0, value.Cmp(big.NewInt(want)), "got %s want %d", value, want)
}
