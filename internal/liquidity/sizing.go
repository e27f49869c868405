package liquidity

import (
	"math/big"

	"github.com/holiman/uint256"

	xerrors "flowforge/internal/errors"
)

var maxUint128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

func sortPair(a, b *big.Int) (*big.Int, *big.Int) {
	if a.Cmp(b) > 0 {
		return b, a
	}
	return a, b
}

// ForAmount0 is amount0 * sqrtA * sqrtB / (Q96 * (sqrtB - sqrtA)).
func ForAmount0(sqrtA, sqrtB, amount0 *big.Int) *big.Int {
	sqrtA, sqrtB = sortPair(sqrtA, sqrtB)
	num := new(big.Int).Mul(amount0, sqrtA)
	num.Mul(num, sqrtB)
	den := new(big.Int).Sub(sqrtB, sqrtA)
	den.Mul(den, Q96)
	return num.Quo(num, den)
}

// ForAmount1 is amount1 * Q96 / (sqrtB - sqrtA).
func ForAmount1(sqrtA, sqrtB, amount1 *big.Int) *big.Int {
	sqrtA, sqrtB = sortPair(sqrtA, sqrtB)
	num := new(big.Int).Mul(amount1, Q96)
	den := new(big.Int).Sub(sqrtB, sqrtA)
	return num.Quo(num, den)
}

// MaxLiquidity returns the largest liquidity a position over
// [tickLower, tickUpper] can take at the current price without exceeding
// either desired amount.
func MaxLiquidity(tickLower, tickUpper int32, current, amount0, amount1 *big.Int) (*big.Int, error) {
	if tickLower >= tickUpper {
		return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "tickLower %d must be below tickUpper %d", tickLower, tickUpper)
	}
	if current == nil || current.Sign() <= 0 {
		return nil, xerrors.New(xerrors.CodePoolUninitialized, "current sqrt price must be positive")
	}
	if amount0 == nil || amount1 == nil || amount0.Sign() < 0 || amount1.Sign() < 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "desired amounts must be non-negative")
	}
	sqrtA, err := SqrtRatioAtTick(tickLower)
	if err != nil {
		return nil, err
	}
	sqrtB, err := SqrtRatioAtTick(tickUpper)
	if err != nil {
		return nil, err
	}
	return MaxLiquidityForAmounts(current, sqrtA, sqrtB, amount0, amount1), nil
}

// MaxLiquidityForAmounts is the three region sizing rule on raw sqrt prices.
func MaxLiquidityForAmounts(current, sqrtA, sqrtB, amount0, amount1 *big.Int) *big.Int {
	sqrtA, sqrtB = sortPair(sqrtA, sqrtB)
	switch {
	case current.Cmp(sqrtA) <= 0:
		return ForAmount0(sqrtA, sqrtB, amount0)
	case current.Cmp(sqrtB) < 0:
		l0 := ForAmount0(current, sqrtB, amount0)
		l1 := ForAmount1(sqrtA, current, amount1)
		if l0.Cmp(l1) < 0 {
			return l0
		}
		return l1
	default:
		return ForAmount1(sqrtA, sqrtB, amount1)
	}
}

// Amount0ForLiquidity is the token0 owed for liquidity over [sqrtA, sqrtB],
// rounded down.
func Amount0ForLiquidity(sqrtA, sqrtB, liquidity *big.Int) *big.Int {
	sqrtA, sqrtB = sortPair(sqrtA, sqrtB)
	num := new(big.Int).Lsh(liquidity, 96)
	num.Mul(num, new(big.Int).Sub(sqrtB, sqrtA))
	num.Quo(num, sqrtB)
	return num.Quo(num, sqrtA)
}

// Amount1ForLiquidity is the token1 owed for liquidity over [sqrtA, sqrtB],
// rounded down.
func Amount1ForLiquidity(sqrtA, sqrtB, liquidity *big.Int) *big.Int {
	sqrtA, sqrtB = sortPair(sqrtA, sqrtB)
	out := new(big.Int).Sub(sqrtB, sqrtA)
	out.Mul(out, liquidity)
	return out.Quo(out, Q96)
}

// AmountsForLiquidity returns the token amounts a position of the given
// liquidity holds at the current price.
func AmountsForLiquidity(current, sqrtA, sqrtB, liquidity *big.Int) (amount0, amount1 *big.Int) {
	sqrtA, sqrtB = sortPair(sqrtA, sqrtB)
	switch {
	case current.Cmp(sqrtA) <= 0:
		return Amount0ForLiquidity(sqrtA, sqrtB, liquidity), new(big.Int)
	case current.Cmp(sqrtB) < 0:
		return Amount0ForLiquidity(current, sqrtB, liquidity), Amount1ForLiquidity(sqrtA, current, liquidity)
	default:
		return new(big.Int), Amount1ForLiquidity(sqrtA, sqrtB, liquidity)
	}
}

// CheckUint128 verifies v fits the uint128 liquidity and amount fields.
func CheckUint128(name string, v *big.Int) error {
	if v == nil || v.Sign() < 0 || v.Cmp(maxUint128) > 0 {
		return xerrors.Newf(xerrors.CodeInvalidArgument, "%s does not fit in uint128", name)
	}
	return nil
}

// CheckUint256 verifies v fits a uint256 word.
func CheckUint256(name string, v *big.Int) error {
	if v == nil || v.Sign() < 0 {
		return xerrors.Newf(xerrors.CodeInvalidArgument, "%s must be non-negative", name)
	}
	if _, overflow := uint256.FromBig(v); overflow {
		return xerrors.Newf(xerrors.CodeInvalidArgument, "%s overflows uint256", name)
	}
	return nil
}
