package registry

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	clierr "github.com/ggonzalez94/defi-actions/internal/errors"
)

func TestExecutionABIConstantsParse(t *testing.T) {
	abis := []string{
		ERC20MinimalABI,
		WrappedNativeABI,
		AavePoolAddressProviderABI,
		AavePoolABI,
		AaveDataProviderABI,
		AaveWETHGatewayABI,
		AaveDebtTokenABI,
		DolomiteMarginABI,
		DolomiteDepositProxyABI,
		DolomiteBorrowProxyABI,
		DolomiteVaultFactoryABI,
		DolomiteVaultABI,
		AmbientDexABI,
		AmbientQueryABI,
		BatchVaultABI,
	}
	for _, raw := range abis {
		if _, err := abi.JSON(strings.NewReader(raw)); err != nil {
			t.Fatalf("failed to parse abi json: %v", err)
		}
	}
}

func TestAddressBookContract(t *testing.T) {
	book := DefaultAddressBook()
	contract, err := book.Contract("Dolomite", 42161, PurposeMargin)
	if err != nil {
		t.Fatalf("resolve dolomite margin: %v", err)
	}
	if _, ok := contract.ABI.Methods["getMarketIdByTokenAddress"]; !ok {
		t.Fatal("expected margin abi to expose getMarketIdByTokenAddress")
	}
	if contract.Protocol != "dolomite" {
		t.Fatalf("unexpected normalized protocol %q", contract.Protocol)
	}
}

func TestAddressBookMissingAddressIsConfigError(t *testing.T) {
	book := DefaultAddressBook()
	_, err := book.Contract("dolomite", 1, PurposeMargin)
	if err == nil {
		t.Fatal("expected missing address error")
	}
	typed, ok := clierr.As(err)
	if !ok || typed.Code != clierr.CodeConfig {
		t.Fatalf("expected config error, got %v", err)
	}
	if !strings.Contains(typed.Message, "chain 1") || !strings.Contains(typed.Message, "margin") {
		t.Fatalf("message must name contract role and chain: %q", typed.Message)
	}
}

func TestAddressBookMissingABIIsConfigError(t *testing.T) {
	book := DefaultAddressBook().WithOverrides(map[string]map[int64]map[string]string{
		"dolomite": {42161: {"oracle": "0x0000000000000000000000000000000000000abc"}},
	})
	_, err := book.Contract("dolomite", 42161, Purpose("oracle"))
	typed, ok := clierr.As(err)
	if !ok || typed.Code != clierr.CodeConfig {
		t.Fatalf("expected config error, got %v", err)
	}
	if !strings.HasPrefix(typed.Message, "ABI for contract 0x0000000000000000000000000000000000000abc on chain 42161") {
		t.Fatalf("unexpected abi message %q", typed.Message)
	}
}

func TestAddressBookOverridesDoNotMutateDefaults(t *testing.T) {
	base := DefaultAddressBook()
	override := base.WithOverrides(map[string]map[int64]map[string]string{
		"Ambient": {1: {"dex": "0x00000000000000000000000000000000000000aa"}},
	})
	got, err := override.Address("ambient", 1, PurposeDex)
	if err != nil || got != "0x00000000000000000000000000000000000000aa" {
		t.Fatalf("override not applied: %q %v", got, err)
	}
	orig, _ := base.Address("ambient", 1, PurposeDex)
	if orig == got {
		t.Fatal("override leaked into the base book")
	}
}

func TestAddressBookChainsAscending(t *testing.T) {
	chains := DefaultAddressBook().Chains("aave")
	for i := 1; i < len(chains); i++ {
		if chains[i-1] >= chains[i] {
			t.Fatalf("chains not ascending: %v", chains)
		}
	}
	if len(chains) == 0 || chains[0] != 1 {
		t.Fatalf("unexpected aave chains %v", chains)
	}
}

func TestPoolLookupIgnoresOrder(t *testing.T) {
	book := DefaultAddressBook()
	pool, ok := book.Pool("ambient", 81457, "USDB-ETH")
	if !ok || pool.Name != "eth-usdb" {
		t.Fatalf("expected reversed pool match, got %+v ok=%v", pool, ok)
	}
	if _, ok := book.Pool("ambient", 81457, "eth-dai"); ok {
		t.Fatal("did not expect unknown pool")
	}
	gm, ok := book.PoolByAddress("gmx", 42161, "0x1addd80e6039594ee970e5872d247bf0414c8903")
	if !ok || gm.Name != "glp" {
		t.Fatalf("expected glp address match, got %+v", gm)
	}
}

func TestMessageTemplates(t *testing.T) {
	got := ProtocolErrorMessage("deposit", "usdc", "ambient", "eth-dai", "blast")
	want := "Performing a deposit on the token usdc on protocol ambient on the pool eth-dai on chain blast is not supported. Please try again."
	if got != want {
		t.Fatalf("unexpected protocol message:\n%s\n%s", got, want)
	}
	got = ProtocolErrorMessage("lend", "usdc", "aave", "", "blast")
	if strings.Contains(got, "pool") {
		t.Fatalf("pool clause must be omitted: %s", got)
	}
	got = UnsupportedActionMessage("swap", "dolomite", []string{"borrow", "claim"})
	if got != "Action swap is not supported for Dolomite. Supported actions are borrow, claim" {
		t.Fatalf("unexpected action message %q", got)
	}
	got = InsufficientBalanceMessage("Arbitrum", "USDC", "4.5", "10", "5.5")
	if got != "Insufficient balance on Arbitrum. You have 4.5 USDC and need 10 USDC. Please onboard 5.5 more USDC and try again." {
		t.Fatalf("unexpected balance message %q", got)
	}
}

func TestDefaultRPCURL(t *testing.T) {
	if rpc, ok := DefaultRPCURL(81457); !ok || rpc == "" {
		t.Fatalf("expected blast rpc default, got ok=%v rpc=%q", ok, rpc)
	}
	if _, ok := DefaultRPCURL(999999); ok {
		t.Fatal("did not expect rpc default for unsupported chain")
	}
}

func TestResolveRPCURL(t *testing.T) {
	override, err := ResolveRPCURL(" https://rpc.example.test ", 1)
	if err != nil {
		t.Fatalf("resolve with override: %v", err)
	}
	if override != "https://rpc.example.test" {
		t.Fatalf("unexpected override value: %q", override)
	}
	if _, err := ResolveRPCURL("", 999999); err == nil {
		t.Fatal("expected missing chain default rpc error")
	}
	if got := ResolveSolanaRPCURL(""); got != DefaultSolanaRPCURL {
		t.Fatalf("unexpected solana default %q", got)
	}
}
