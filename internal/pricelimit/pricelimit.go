// Package pricelimit computes sqrtPriceLimitX96 values that keep a swap one
// unit past the current price without crossing the protocol bounds.
package pricelimit

import (
	"math/big"

	xerrors "flowforge/internal/errors"
)

var (
	// MinSqrtPrice is the sqrt price at MIN_TICK.
	MinSqrtPrice = big.NewInt(4295128739)
	// MaxSqrtPrice is the sqrt price at MAX_TICK.
	MaxSqrtPrice, _ = new(big.Int).SetString("1461446703485210103287273052203988822378723970342", 10)
)

var one = big.NewInt(1)

// Limit returns the price limit for a swap in the given direction.
//
// zeroForOne swaps push the price down, so the limit sits one below current
// and never at or below min. The opposite direction sits one above current
// and fails when that would reach max.
func Limit(current *big.Int, zeroForOne bool, min, max *big.Int) (*big.Int, error) {
	if current == nil || current.Sign() == 0 {
		return nil, xerrors.New(xerrors.CodePoolUninitialized, "pool not initialized (sqrtPriceX96 = 0)")
	}
	if zeroForOne {
		limit := new(big.Int).Sub(current, one)
		if limit.Cmp(min) <= 0 {
			return new(big.Int).Add(min, one), nil
		}
		return limit, nil
	}
	limit := new(big.Int).Add(current, one)
	if limit.Cmp(max) >= 0 {
		return nil, xerrors.New(xerrors.CodePriceAtBound,
			"pool price at maximum; cannot swap oneForZero",
			xerrors.WithMetadata("sqrtPriceX96", current.String()),
		)
	}
	return limit, nil
}

// Fallback returns the most permissive limit in the swap direction. Using it
// disables price protection; callers should warn.
func Fallback(zeroForOne bool, min, max *big.Int) *big.Int {
	if zeroForOne {
		return new(big.Int).Add(min, one)
	}
	return new(big.Int).Sub(max, one)
}

// DefaultLimit is Limit against the protocol bounds.
func DefaultLimit(current *big.Int, zeroForOne bool) (*big.Int, error) {
	return Limit(current, zeroForOne, MinSqrtPrice, MaxSqrtPrice)
}

// DefaultFallback is Fallback against the protocol bounds.
func DefaultFallback(zeroForOne bool) *big.Int {
	return Fallback(zeroForOne, MinSqrtPrice, MaxSqrtPrice)
}
