package planner

import (
	"math/big"
	"testing"
)

func TestSnapTickFloorsNegative(t *testing.T) {
	cases := map[int64]int64{
		0:    0,
		15:   0,
		16:   16,
		33:   32,
		-1:   -16,
		-16:  -16,
		-17:  -32,
		-200: -208,
	}
	for in, want := range cases {
		if got := snapTick(in, ambientTickGrid); got != want {
			t.Fatalf("snapTick(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestTickAtPrice(t *testing.T) {
	if got := tickAtPrice(1); got != 0 {
		t.Fatalf("tick at price 1 = %d", got)
	}
	if got := tickAtPrice(1.0001 * 1.0001); got != 2 && got != 1 {
		t.Fatalf("unexpected tick for 1.0001^2: %d", got)
	}
	if got := tickAtPrice(0.5); got >= 0 {
		t.Fatalf("expected negative tick below parity, got %d", got)
	}
}

func TestRangeTicksBracketCurrentPrice(t *testing.T) {
	price := 3000.0
	lower, upper := rangeTicks(price, 10)
	current := tickAtPrice(price)
	if lower >= current || upper <= current {
		t.Fatalf("expected %d < %d < %d", lower, current, upper)
	}
	if lower%ambientTickGrid != 0 || upper%ambientTickGrid != 0 {
		t.Fatalf("ticks not grid aligned: %d %d", lower, upper)
	}
}

func TestPriceFromSqrtX64(t *testing.T) {
	two64 := new(big.Int).Lsh(big.NewInt(1), 64)
	if got := priceFromSqrtX64(two64); got != 1 {
		t.Fatalf("expected parity price, got %v", got)
	}
	doubled := new(big.Int).Mul(two64, big.NewInt(2))
	if got := priceFromSqrtX64(doubled); got != 4 {
		t.Fatalf("expected price 4, got %v", got)
	}
	low, high := priceLimits(big.NewInt(1000))
	if low.Int64() != 990 || high.Int64() != 1010 {
		t.Fatalf("unexpected limits %s %s", low, high)
	}
}
