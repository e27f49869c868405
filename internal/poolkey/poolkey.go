// Package poolkey orders currency pairs and derives the pool identifier used
// by singleton pool managers.
package poolkey

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	xerrors "flowforge/internal/errors"
)

const (
	DefaultFee         uint32 = 3000
	DefaultTickSpacing int32  = 60
)

// Key identifies a pool. Currency0 sorts before Currency1.
type Key struct {
	Currency0   common.Address
	Currency1   common.Address
	Fee         uint32
	TickSpacing int32
	Hooks       common.Address
}

var keyArguments = mustArguments("address", "address", "uint24", "int24", "address")

func mustArguments(types ...string) abi.Arguments {
	args := make(abi.Arguments, 0, len(types))
	for _, t := range types {
		typ, err := abi.NewType(t, "", nil)
		if err != nil {
			panic("poolkey: " + err.Error())
		}
		args = append(args, abi.Argument{Type: typ})
	}
	return args
}

// Less reports whether a sorts before b under case-insensitive hex order.
func Less(a, b common.Address) bool {
	return strings.ToLower(a.Hex()) < strings.ToLower(b.Hex())
}

// Order returns the pair in canonical order and whether source is currency0.
func Order(source, dest common.Address) (currency0, currency1 common.Address, zeroForOne bool) {
	if Less(source, dest) {
		return source, dest, true
	}
	return dest, source, false
}

// Resolve builds the canonical key for a swap from source to dest and the
// swap direction. Callers never need to pre-sort the pair.
func Resolve(source, dest common.Address, fee uint32, tickSpacing int32, hooks common.Address) (Key, bool, error) {
	if source == dest {
		return Key{}, false, xerrors.New(xerrors.CodeInvalidArgument, "source and destination tokens are identical")
	}
	if fee >= 1<<24 {
		return Key{}, false, xerrors.Newf(xerrors.CodeInvalidArgument, "fee %d exceeds uint24", fee)
	}
	if tickSpacing <= 0 || tickSpacing >= 1<<23 {
		return Key{}, false, xerrors.Newf(xerrors.CodeInvalidArgument, "tick spacing %d out of range", tickSpacing)
	}
	key := Key{Currency0: source, Currency1: dest, Fee: fee, TickSpacing: tickSpacing, Hooks: hooks}.Canonical()
	return key, key.Currency0 == source, nil
}

// Canonical returns a copy of k with the currencies in canonical order.
func (k Key) Canonical() Key {
	c0, c1, _ := Order(k.Currency0, k.Currency1)
	k.Currency0, k.Currency1 = c0, c1
	return k
}

// Encode returns abi.encode(currency0, currency1, fee, tickSpacing, hooks).
func (k Key) Encode() ([]byte, error) {
	return keyArguments.Pack(
		k.Currency0, k.Currency1,
		new(big.Int).SetUint64(uint64(k.Fee)),
		big.NewInt(int64(k.TickSpacing)),
		k.Hooks,
	)
}

// PoolID returns keccak256 of the encoded key.
func PoolID(k Key) (common.Hash, error) {
	encoded, err := k.Encode()
	if err != nil {
		return common.Hash{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encode pool key")
	}
	return crypto.Keccak256Hash(encoded), nil
}
