// Package liquidity implements concentrated liquidity tick math and position
// sizing in exact integer arithmetic.
package liquidity

import (
	"math/big"

	"github.com/holiman/uint256"

	xerrors "flowforge/internal/errors"
)

const (
	MinTick int32 = -887272
	MaxTick int32 = 887272
)

// Q96 is the fixed point base of sqrtPriceX96 values.
var Q96 = new(big.Int).Lsh(big.NewInt(1), 96)

var (
	ratioOddTick = uint256.MustFromHex("0xfffcb933bd6fad37aa2d162d1a594001")
	ratioOne     = new(uint256.Int).Lsh(uint256.NewInt(1), 128)
	maxUint256   = new(uint256.Int).SetAllOne()
	lowMask32    = uint256.NewInt(0xffffffff)

	// tickFactors[i] applies when bit i+1 of |tick| is set.
	tickFactors = []*uint256.Int{
		uint256.MustFromHex("0xfff97272373d413259a46990580e213a"),
		uint256.MustFromHex("0xfff2e50f5f656932ef12357cf3c7fdcc"),
		uint256.MustFromHex("0xffe5caca7e10e4e61c3624eaa0941cd0"),
		uint256.MustFromHex("0xffcb9843d60f6159c9db58835c926644"),
		uint256.MustFromHex("0xff973b41fa98c081472e6896dfb254c0"),
		uint256.MustFromHex("0xff2ea16466c96a3843ec78b326b52861"),
		uint256.MustFromHex("0xfe5dee046a99a2a811c461f1969c3053"),
		uint256.MustFromHex("0xfcbe86c7900a88aedcffc83b479aa3a4"),
		uint256.MustFromHex("0xf987a7253ac413176f2b074cf7815e54"),
		uint256.MustFromHex("0xf3392b0822b70005940c7a398e4b70f3"),
		uint256.MustFromHex("0xe7159475a2c29b7443b29c7fa6e889d9"),
		uint256.MustFromHex("0xd097f3bdfd2022b8845ad8f792aa5825"),
		uint256.MustFromHex("0xa9f746462d870fdf8a65dc1f90e061e5"),
		uint256.MustFromHex("0x70d869a156d2a1b890bb3df62baf32f7"),
		uint256.MustFromHex("0x31be135f97d08fd981231505542fcfa6"),
		uint256.MustFromHex("0x9aa508b5b7a84e1c677de54f3e99bc9"),
		uint256.MustFromHex("0x5d6af8dedb81196699c329225ee604"),
		uint256.MustFromHex("0x2216e584f5fa1ea926041bedfe98"),
		uint256.MustFromHex("0x48a170391f7dc42444e8fa2"),
	}
)

// SqrtRatioAtTick returns sqrt(1.0001^tick) * 2^96 rounded up, matching the
// on-chain TickMath library bit for bit.
func SqrtRatioAtTick(tick int32) (*big.Int, error) {
	if tick < MinTick || tick > MaxTick {
		return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "tick %d out of range [%d, %d]", tick, MinTick, MaxTick)
	}
	absTick := uint32(tick)
	if tick < 0 {
		absTick = uint32(-tick)
	}

	ratio := new(uint256.Int)
	if absTick&1 != 0 {
		ratio.Set(ratioOddTick)
	} else {
		ratio.Set(ratioOne)
	}
	// ratio stays below 2^129 and every factor below 2^128, so the product
	// never wraps.
	for i, factor := range tickFactors {
		if absTick&(1<<(i+1)) != 0 {
			ratio.Mul(ratio, factor)
			ratio.Rsh(ratio, 128)
		}
	}
	if tick > 0 {
		ratio.Div(maxUint256, ratio)
	}

	rem := new(uint256.Int).And(ratio, lowMask32)
	ratio.Rsh(ratio, 32)
	if !rem.IsZero() {
		ratio.AddUint64(ratio, 1)
	}
	return ratio.ToBig(), nil
}

// AlignTick rounds tick toward negative infinity onto the spacing grid.
func AlignTick(tick, spacing int32) int32 {
	if spacing <= 0 {
		return tick
	}
	q := tick / spacing
	if tick%spacing != 0 && tick < 0 {
		q--
	}
	return q * spacing
}
