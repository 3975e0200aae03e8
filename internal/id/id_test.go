package id

import "testing"

func TestParseChainVariants(t *testing.T) {
	chain, err := ParseChain("base")
	if err != nil {
		t.Fatalf("ParseChain(base) failed: %v", err)
	}
	if chain.CAIP2 != "eip155:8453" {
		t.Fatalf("unexpected CAIP2: %s", chain.CAIP2)
	}

	chain, err = ParseChain("8453")
	if err != nil {
		t.Fatalf("ParseChain(8453) failed: %v", err)
	}
	if chain.Slug != "base" {
		t.Fatalf("unexpected slug: %s", chain.Slug)
	}

	chain, err = ParseChain("eip155:999999")
	if err != nil {
		t.Fatalf("ParseChain(eip155:999999) failed: %v", err)
	}
	if chain.EVMChainID != 999999 {
		t.Fatalf("unexpected chain ID: %d", chain.EVMChainID)
	}
}

func TestParseAssetSymbolAndAddress(t *testing.T) {
	chain, _ := ParseChain("ethereum")

	asset, err := ParseAsset("USDC", chain)
	if err != nil {
		t.Fatalf("ParseAsset(USDC) failed: %v", err)
	}
	if asset.AssetID == "" || asset.Decimals != 6 {
		t.Fatalf("unexpected asset result: %+v", asset)
	}

	asset2, err := ParseAsset("0xA0B86991C6218B36C1D19D4A2E9EB0CE3606EB48", chain)
	if err != nil {
		t.Fatalf("ParseAsset(address) failed: %v", err)
	}
	if asset2.Symbol != "USDC" {
		t.Fatalf("expected USDC, got %s", asset2.Symbol)
	}
}

func TestParseAssetChainMismatch(t *testing.T) {
	chain, _ := ParseChain("base")
	_, err := ParseAsset("eip155:1/erc20:0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", chain)
	if err == nil {
		t.Fatal("expected chain mismatch error")
	}
}

func TestResolveTokenNativeAndWrapped(t *testing.T) {
	chain, err := ParseChain("blast")
	if err != nil {
		t.Fatalf("ParseChain(blast) failed: %v", err)
	}
	if chain.EVMChainID != 81457 {
		t.Fatalf("unexpected blast chain id: %d", chain.EVMChainID)
	}

	eth, err := ResolveToken(chain, "eth")
	if err != nil {
		t.Fatalf("ResolveToken(eth) failed: %v", err)
	}
	if !eth.IsNative() || eth.Decimals != 18 || eth.ChainID != "eip155:81457" {
		t.Fatalf("unexpected native token: %+v", eth)
	}

	weth, err := ResolveToken(chain, "WETH")
	if err != nil {
		t.Fatalf("ResolveToken(WETH) failed: %v", err)
	}
	if weth.IsNative() || weth.Address != "0x4300000000000000000000000000000000000004" {
		t.Fatalf("unexpected wrapped token: %+v", weth)
	}

	wrapped, ok := WrappedNative(chain)
	if !ok || wrapped.Address != weth.Address {
		t.Fatalf("WrappedNative mismatch: %+v", wrapped)
	}
}

func TestResolveTokenUnknownSymbol(t *testing.T) {
	chain, _ := ParseChain("arbitrum")
	if _, err := ResolveToken(chain, "NOPE"); err == nil {
		t.Fatal("expected unknown symbol error")
	}
}

func TestSameAssetFoldsNativeAlias(t *testing.T) {
	chain, _ := ParseChain("ethereum")
	cases := []struct {
		a, b string
		want bool
	}{
		{"ETH", "weth", true},
		{"weth", "eth", true},
		{"usdc", "USDC", true},
		{"eth", "usdc", false},
		{"wbtc", "btc", false},
	}
	for _, tc := range cases {
		if got := SameAsset(chain, tc.a, tc.b); got != tc.want {
			t.Fatalf("SameAsset(%s,%s)=%v want %v", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestKnownChainsOrdered(t *testing.T) {
	chains := KnownChains()
	if len(chains) < 2 {
		t.Fatalf("expected several chains, got %d", len(chains))
	}
	for i := 1; i < len(chains)-1; i++ {
		if chains[i-1].EVMChainID >= chains[i].EVMChainID {
			t.Fatalf("chains out of order at %d: %+v", i, chains)
		}
	}
	if !chains[len(chains)-1].IsSolana() {
		t.Fatalf("expected solana last, got %+v", chains[len(chains)-1])
	}
}
