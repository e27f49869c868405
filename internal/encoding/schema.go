// Package encoding produces the fixed layout ABI payloads consumed by the
// on-chain receiver contracts. Every action kind is described by a schema;
// one encoder and one decoder serve all of them.
package encoding

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/accounts/abi"

	xerrors "flowforge/internal/errors"
)

// Kind names an action layout.
type Kind string

const (
	KindLending        Kind = "lending"
	KindSwap           Kind = "swap"
	KindCall           Kind = "call"
	KindMintPosition   Kind = "mint_position"
	KindPositionUnlock Kind = "position_unlock"
)

// Field is one positional slot of a schema.
//
// Optional fields may be omitted and encode as the zero value of their type.
// NonZero marks address fields where the zero address means the value was
// never configured.
type Field struct {
	Name     string
	Type     string
	Optional bool
	NonZero  bool
}

// Schema is the ordered field list of a kind. Field order and widths are a
// wire contract with the receiver contracts.
type Schema struct {
	Kind   Kind
	Fields []Field

	args abi.Arguments
}

// Arguments returns the go-ethereum argument list backing the schema.
func (s Schema) Arguments() abi.Arguments { return s.args }

// Signature renders the schema the way parseAbiParameters expects it.
func (s Schema) Signature() string {
	out := ""
	for i, f := range s.Fields {
		if i > 0 {
			out += ", "
		}
		out += f.Type + " " + f.Name
	}
	return out
}

func (s Schema) field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

var registry = map[Kind]Schema{}

func register(kind Kind, fields ...Field) {
	args := make(abi.Arguments, 0, len(fields))
	for _, f := range fields {
		typ, err := abi.NewType(f.Type, "", nil)
		if err != nil {
			panic(fmt.Sprintf("encoding: schema %s field %s: %v", kind, f.Name, err))
		}
		args = append(args, abi.Argument{Name: f.Name, Type: typ})
	}
	registry[kind] = Schema{Kind: kind, Fields: fields, args: args}
}

func required(name, typ string) Field { return Field{Name: name, Type: typ} }
func optional(name, typ string) Field { return Field{Name: name, Type: typ, Optional: true} }
func account(name string) Field { return Field{Name: name, Type: "address", NonZero: true} }

func init() {
	register(KindLending,
		required("operation", "uint8"),
		account("poolAddress"),
		account("asset"),
		required("amount", "uint256"),
		account("walletAddress"),
		account("onBehalfOf"),
		required("interestRateMode", "uint256"),
		optional("referralCode", "uint16"),
		optional("aTokenAddress", "address"),
	)
	register(KindSwap,
		required("currency0", "address"),
		required("currency1", "address"),
		required("fee", "uint24"),
		required("tickSpacing", "int24"),
		optional("hooks", "address"),
		required("zeroForOne", "bool"),
		required("amountIn", "uint256"),
		optional("amountOutMin", "uint256"),
		optional("hookData", "bytes"),
		account("recipient"),
		required("deadline", "uint256"),
		account("poolSwapTestAddress"),
		account("poolManagerAddress"),
		required("sqrtPriceLimitX96", "uint160"),
	)
	register(KindCall,
		account("target"),
		required("callData", "bytes"),
		optional("value", "uint256"),
		optional("tokenIn", "address"),
		required("amountIn", "uint256"),
		account("recipient"),
	)
	// The pool key is a static tuple, so its members encode inline exactly
	// as the PositionManager MINT_POSITION params expect.
	register(KindMintPosition,
		required("currency0", "address"),
		required("currency1", "address"),
		required("fee", "uint24"),
		required("tickSpacing", "int24"),
		optional("hooks", "address"),
		required("tickLower", "int24"),
		required("tickUpper", "int24"),
		required("liquidity", "uint256"),
		required("amount0Max", "uint128"),
		required("amount1Max", "uint128"),
		account("owner"),
		optional("hookData", "bytes"),
	)
	register(KindPositionUnlock,
		required("actions", "bytes"),
		required("params", "bytes[]"),
	)
}

// SchemaFor returns the schema registered for kind.
func SchemaFor(kind Kind) (Schema, error) {
	s, ok := registry[kind]
	if !ok {
		return Schema{}, xerrors.Newf(xerrors.CodeInvalidArgument, "unknown action kind %q", kind)
	}
	return s, nil
}

// Kinds lists the registered kinds in name order.
func Kinds() []Kind {
	out := make([]Kind, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
