// Package amount converts between raw on-chain integer amounts and their
// decimal string representation without going through floating point.
package amount

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	xerrors "flowforge/internal/errors"
)

// Amount is a raw token amount that always travels with its precision.
type Amount struct {
	Address  common.Address
	Raw      *big.Int
	Decimals uint8
}

// String renders the amount in human units.
func (a Amount) String() string {
	return ToDecimalString(a.Raw, a.Decimals)
}

// ToDecimalString renders raw as a base-10 string with decimals fractional
// digits. A nil raw renders as zero. Negative values keep their sign in front
// of the scaled magnitude.
func ToDecimalString(raw *big.Int, decimals uint8) string {
	if raw == nil {
		raw = new(big.Int)
	}
	sign := ""
	if raw.Sign() < 0 {
		sign = "-"
	}
	digits := new(big.Int).Abs(raw).String()
	if decimals == 0 {
		return sign + digits
	}
	d := int(decimals)
	if len(digits) <= d {
		return sign + "0." + strings.Repeat("0", d-len(digits)) + digits
	}
	cut := len(digits) - d
	return sign + digits[:cut] + "." + digits[cut:]
}

// ToRawAmount parses a decimal string into its raw integer form at the given
// precision. Extra fractional digits are truncated, missing ones are padded.
func ToRawAmount(s string, decimals uint8) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "amount is empty")
	}
	if strings.HasPrefix(s, "-") {
		return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "amount %q is negative", s)
	}
	whole, frac, _ := strings.Cut(s, ".")
	if strings.Contains(frac, ".") {
		return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "amount %q has more than one decimal point", s)
	}
	if whole == "" && frac == "" {
		return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "amount %q has no digits", s)
	}
	d := int(decimals)
	if len(frac) > d {
		frac = frac[:d]
	} else {
		frac += strings.Repeat("0", d-len(frac))
	}
	joined := whole + frac
	if joined == "" {
		joined = "0"
	}
	for _, r := range joined {
		if r < '0' || r > '9' {
			return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "amount %q is not a decimal number", s)
		}
	}
	out, ok := new(big.Int).SetString(joined, 10)
	if !ok {
		return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "amount %q is not a decimal number", s)
	}
	return out, nil
}

// ParseRaw parses an integer string such as the amounts carried in workflow
// configuration ("1000000").
func ParseRaw(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	out, ok := new(big.Int).SetString(s, 10)
	if !ok || out.Sign() < 0 {
		return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "invalid raw amount %q", s)
	}
	return out, nil
}

// ApplySlippage returns floor(quoted * (100 - tolerancePercent) / 100).
func ApplySlippage(quoted *big.Int, tolerancePercent decimal.Decimal) (*big.Int, error) {
	if quoted == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "quoted amount is nil")
	}
	hundred := decimal.NewFromInt(100)
	if tolerancePercent.IsNegative() || tolerancePercent.GreaterThan(hundred) {
		return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "slippage tolerance %s out of range", tolerancePercent)
	}
	keep := hundred.Sub(tolerancePercent)
	out := decimal.NewFromBigInt(quoted, 0).Mul(keep).Div(hundred).Floor()
	return out.BigInt(), nil
}

// SlippageFraction converts a percentage to the fractional form expected by
// quote services, e.g. 0.5 becomes "0.005".
func SlippageFraction(percent decimal.Decimal) string {
	return percent.Div(decimal.NewFromInt(100)).String()
}
