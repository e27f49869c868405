package encoding

import (
	"fmt"
	"math/big"
	"reflect"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	xerrors "flowforge/internal/errors"
)

// Descriptor is one action to encode. Values are keyed by schema field name.
//
// Accepted inputs per ABI type:
//   - address: common.Address, *common.Address or a hex string
//   - intN/uintN: *big.Int, any Go integer, or a base-10 string
//   - bool: bool
//   - bytes: []byte, hexutil.Bytes or a 0x-prefixed hex string
//   - bytes[]: [][]byte
type Descriptor struct {
	Kind   Kind
	Values map[string]any
}

// Encode writes the descriptor in schema order.
func Encode(d Descriptor) ([]byte, error) {
	schema, values, err := normalize(d)
	if err != nil {
		return nil, err
	}
	packed, err := schema.args.Pack(values...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, fmt.Sprintf("encode %s action", d.Kind))
	}
	return packed, nil
}

// Normalize returns the descriptor with defaults applied and every value
// converted to the type Decode produces.
func Normalize(d Descriptor) (Descriptor, error) {
	schema, values, err := normalize(d)
	if err != nil {
		return Descriptor{}, err
	}
	out := Descriptor{Kind: d.Kind, Values: make(map[string]any, len(values))}
	for i, f := range schema.Fields {
		out.Values[f.Name] = values[i]
	}
	return out, nil
}

// Decode reads a payload back into a descriptor using the schema for kind.
func Decode(kind Kind, data []byte) (Descriptor, error) {
	schema, err := SchemaFor(kind)
	if err != nil {
		return Descriptor{}, err
	}
	values, err := schema.args.Unpack(data)
	if err != nil {
		return Descriptor{}, xerrors.Wrap(xerrors.CodeInvalidCollaboratorResponse, err, fmt.Sprintf("decode %s action", kind))
	}
	out := Descriptor{Kind: kind, Values: make(map[string]any, len(values))}
	for i, f := range schema.Fields {
		out.Values[f.Name] = values[i]
	}
	return out, nil
}

func normalize(d Descriptor) (Schema, []any, error) {
	schema, err := SchemaFor(d.Kind)
	if err != nil {
		return Schema{}, nil, err
	}
	var unknown []string
	for name := range d.Values {
		if _, ok := schema.field(name); !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return Schema{}, nil, xerrors.Newf(xerrors.CodeInvalidArgument,
			"%s action has unknown fields: %s", d.Kind, strings.Join(unknown, ", "))
	}

	values := make([]any, len(schema.Fields))
	for i, f := range schema.Fields {
		typ := schema.args[i].Type
		raw, present := d.Values[f.Name]
		if !present || raw == nil {
			if !f.Optional {
				return Schema{}, nil, xerrors.Newf(xerrors.CodeMissingConfiguration, "%s is required for %s action", f.Name, d.Kind)
			}
			values[i] = zeroValue(typ)
			continue
		}
		v, err := convert(typ, raw)
		if err != nil {
			return Schema{}, nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, fmt.Sprintf("%s.%s", d.Kind, f.Name))
		}
		if f.NonZero {
			if addr, ok := v.(common.Address); ok && addr == (common.Address{}) {
				return Schema{}, nil, xerrors.Newf(xerrors.CodeMissingConfiguration, "%s is required for %s action", f.Name, d.Kind)
			}
		}
		values[i] = v
	}
	return schema, values, nil
}

func zeroValue(typ abi.Type) any {
	switch typ.T {
	case abi.AddressTy:
		return common.Address{}
	case abi.BoolTy:
		return false
	case abi.BytesTy:
		return []byte{}
	case abi.SliceTy:
		return reflect.MakeSlice(typ.GetType(), 0, 0).Interface()
	case abi.IntTy, abi.UintTy:
		v, _ := fitInteger(typ, new(big.Int))
		return v
	default:
		return reflect.Zero(typ.GetType()).Interface()
	}
}

func convert(typ abi.Type, raw any) (any, error) {
	switch typ.T {
	case abi.AddressTy:
		return toAddress(raw)
	case abi.BoolTy:
		b, ok := raw.(bool)
		if !ok {
			return nil, fmt.Errorf("expected bool, got %T", raw)
		}
		return b, nil
	case abi.BytesTy:
		return toBytes(raw)
	case abi.SliceTy:
		if typ.Elem.T != abi.BytesTy {
			return nil, fmt.Errorf("unsupported slice type %s", typ.String())
		}
		switch v := raw.(type) {
		case [][]byte:
			return v, nil
		case []hexutil.Bytes:
			out := make([][]byte, len(v))
			for i := range v {
				out[i] = v[i]
			}
			return out, nil
		default:
			return nil, fmt.Errorf("expected [][]byte, got %T", raw)
		}
	case abi.IntTy, abi.UintTy:
		n, err := toBigInt(raw)
		if err != nil {
			return nil, err
		}
		return fitInteger(typ, n)
	default:
		return nil, fmt.Errorf("unsupported abi type %s", typ.String())
	}
}

func toAddress(raw any) (common.Address, error) {
	switch v := raw.(type) {
	case common.Address:
		return v, nil
	case *common.Address:
		if v == nil {
			return common.Address{}, nil
		}
		return *v, nil
	case string:
		s := strings.TrimSpace(v)
		if !common.IsHexAddress(s) {
			return common.Address{}, fmt.Errorf("invalid address %q", v)
		}
		return common.HexToAddress(s), nil
	default:
		return common.Address{}, fmt.Errorf("expected address, got %T", raw)
	}
}

func toBytes(raw any) ([]byte, error) {
	switch v := raw.(type) {
	case []byte:
		if v == nil {
			return []byte{}, nil
		}
		return v, nil
	case hexutil.Bytes:
		if v == nil {
			return []byte{}, nil
		}
		return []byte(v), nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" || s == "0x" {
			return []byte{}, nil
		}
		b, err := hexutil.Decode(s)
		if err != nil {
			return nil, fmt.Errorf("invalid hex bytes %q: %w", v, err)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("expected bytes, got %T", raw)
	}
}

func toBigInt(raw any) (*big.Int, error) {
	switch v := raw.(type) {
	case *big.Int:
		if v == nil {
			return new(big.Int), nil
		}
		return new(big.Int).Set(v), nil
	case string:
		n, ok := new(big.Int).SetString(strings.TrimSpace(v), 10)
		if !ok {
			return nil, fmt.Errorf("invalid integer %q", v)
		}
		return n, nil
	}
	rv := reflect.ValueOf(raw)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return big.NewInt(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return new(big.Int).SetUint64(rv.Uint()), nil
	}
	return nil, fmt.Errorf("expected integer, got %T", raw)
}

// fitInteger range checks n against the declared width and converts it to
// the Go type go-ethereum packs for that width.
func fitInteger(typ abi.Type, n *big.Int) (any, error) {
	bits := uint(typ.Size)
	var lo, hi *big.Int
	if typ.T == abi.UintTy {
		lo = new(big.Int)
		hi = new(big.Int).Lsh(big.NewInt(1), bits)
	} else {
		hi = new(big.Int).Lsh(big.NewInt(1), bits-1)
		lo = new(big.Int).Neg(hi)
	}
	if n.Cmp(lo) < 0 || n.Cmp(hi) >= 0 {
		return nil, fmt.Errorf("value %s does not fit %s", n, typ.String())
	}
	goType := typ.GetType()
	if goType == reflect.TypeOf(&big.Int{}) {
		return n, nil
	}
	if typ.T == abi.UintTy {
		return reflect.ValueOf(n.Uint64()).Convert(goType).Interface(), nil
	}
	return reflect.ValueOf(n.Int64()).Convert(goType).Interface(), nil
}
