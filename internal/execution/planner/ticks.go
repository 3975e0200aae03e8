package planner

import (
	"math"
	"math/big"
)

const (
	ambientTickGrid = 16
	tickBase        = 1.0001
)

var q64 = new(big.Float).SetInt(new(big.Int).Lsh(big.NewInt(1), 64))

// priceFromSqrtX64 converts a Q64.64 square-root price to a plain price ratio.
func priceFromSqrtX64(sqrtPriceX64 *big.Int) float64 {
	root, _ := new(big.Float).Quo(new(big.Float).SetInt(sqrtPriceX64), q64).Float64()
	return root * root
}

// tickAtPrice is floor(log_1.0001(price)).
func tickAtPrice(price float64) int64 {
	return int64(math.Floor(math.Log(price) / math.Log(tickBase)))
}

// snapTick floors tick onto the grid, rounding toward negative infinity.
func snapTick(tick, grid int64) int64 {
	q := tick / grid
	if tick%grid != 0 && tick < 0 {
		q--
	}
	return q * grid
}

// rangeTicks returns grid-aligned ticks bounding current·(100∓pct)/100.
func rangeTicks(price float64, pct int64) (int64, int64) {
	lower := price * float64(100-pct) / 100
	upper := price * float64(100+pct) / 100
	return snapTick(tickAtPrice(lower), ambientTickGrid), snapTick(tickAtPrice(upper), ambientTickGrid)
}

// priceLimits is the ±1% band on the square-root price used as slippage limits.
func priceLimits(sqrtPriceX64 *big.Int) (*big.Int, *big.Int) {
	low := new(big.Int).Mul(sqrtPriceX64, big.NewInt(99))
	low.Quo(low, big.NewInt(100))
	high := new(big.Int).Mul(sqrtPriceX64, big.NewInt(101))
	high.Quo(high, big.NewInt(100))
	return low, high
}

// scale returns v·num/den with integer division.
func scale(v *big.Int, num, den int64) *big.Int {
	out := new(big.Int).Mul(v, big.NewInt(num))
	return out.Quo(out, big.NewInt(den))
}
