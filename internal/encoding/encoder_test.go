package encoding

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	xerrors "flowforge/internal/errors"
)

var (
	pool     = common.HexToAddress("0x794a61358D6845594F94dc1DB02A252b5b4814aD")
	usdc     = common.HexToAddress("0xaf88d065e77c8cC2239327C5EDb3A432268e5831")
	weth     = common.HexToAddress("0x82aF49447D8a07e3bd95BD0d56f35241523fBab1")
	wallet   = common.HexToAddress("0x1111111111111111111111111111111111111111")
	receiver = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

func requireSameValues(t *testing.T, want, got Descriptor) {
	t.Helper()
	require.Equal(t, want.Kind, got.Kind)
	require.Len(t, got.Values, len(want.Values))
	for name, w := range want.Values {
		g, ok := got.Values[name]
		require.True(t, ok, "missing field %s", name)
		switch wv := w.(type) {
		case *big.Int:
			gv, ok := g.(*big.Int)
			require.True(t, ok, "field %s: got %T", name, g)
			require.Zero(t, wv.Cmp(gv), "field %s: want %s got %s", name, wv, gv)
		case []byte:
			gv, ok := g.([]byte)
			require.True(t, ok, "field %s: got %T", name, g)
			require.True(t, bytes.Equal(wv, gv), "field %s", name)
		case [][]byte:
			gv, ok := g.([][]byte)
			require.True(t, ok, "field %s: got %T", name, g)
			require.Len(t, gv, len(wv))
			for i := range wv {
				require.True(t, bytes.Equal(wv[i], gv[i]), "field %s[%d]", name, i)
			}
		default:
			require.Equal(t, w, g, "field %s", name)
		}
	}
}

func roundTrip(t *testing.T, d Descriptor) []byte {
	t.Helper()
	encoded, err := Encode(d)
	require.NoError(t, err)
	decoded, err := Decode(d.Kind, encoded)
	require.NoError(t, err)
	normalized, err := Normalize(d)
	require.NoError(t, err)
	requireSameValues(t, normalized, decoded)
	return encoded
}

func TestLendingRoundTrip(t *testing.T) {
	encoded := roundTrip(t, Descriptor{Kind: KindLending, Values: map[string]any{
		"operation":        uint8(1),
		"poolAddress":      pool,
		"asset":            usdc,
		"amount":           "1000000",
		"walletAddress":    wallet,
		"onBehalfOf":       wallet,
		"interestRateMode": 2,
		"referralCode":     uint16(7),
		"aTokenAddress":    "0x724dc807b04555b71ed48a6896b6F41593b8C637",
	}})
	require.Len(t, encoded, 9*32)
	require.Equal(t, byte(1), encoded[31])
	require.Equal(t, pool.Bytes(), encoded[44:64])
	require.Equal(t, big.NewInt(1_000_000).Bytes(), bytes.TrimLeft(encoded[96:128], "\x00"))
	require.Equal(t, byte(7), encoded[7*32+31])
}

func TestLendingOptionalFieldsDefaultToZero(t *testing.T) {
	encoded, err := Encode(Descriptor{Kind: KindLending, Values: map[string]any{
		"operation":        uint8(0),
		"poolAddress":      pool,
		"asset":            usdc,
		"amount":           big.NewInt(5),
		"walletAddress":    wallet,
		"onBehalfOf":       wallet,
		"interestRateMode": big.NewInt(2),
	}})
	require.NoError(t, err)
	require.Len(t, encoded, 9*32, "absent optional fields still occupy their slots")
	require.Equal(t, make([]byte, 64), encoded[7*32:])

	decoded, err := Decode(KindLending, encoded)
	require.NoError(t, err)
	require.Equal(t, uint16(0), decoded.Values["referralCode"])
	require.Equal(t, common.Address{}, decoded.Values["aTokenAddress"])
}

func TestSwapRoundTrip(t *testing.T) {
	limit, _ := new(big.Int).SetString("79228162514264337593543950335", 10)
	roundTrip(t, Descriptor{Kind: KindSwap, Values: map[string]any{
		"currency0":           weth,
		"currency1":           usdc,
		"fee":                 uint32(3000),
		"tickSpacing":         int32(-60),
		"hooks":               common.Address{},
		"zeroForOne":          true,
		"amountIn":            "1000000000000000",
		"amountOutMin":        "0",
		"hookData":            "0x",
		"recipient":           wallet,
		"deadline":            uint64(1_700_001_200),
		"poolSwapTestAddress": receiver,
		"poolManagerAddress":  pool,
		"sqrtPriceLimitX96":   limit,
	}})
}

func TestSwapHookDataIsDynamic(t *testing.T) {
	base := map[string]any{
		"currency0": weth, "currency1": usdc, "fee": 500, "tickSpacing": 10,
		"zeroForOne": false, "amountIn": 1, "recipient": wallet, "deadline": 1,
		"poolSwapTestAddress": receiver, "poolManagerAddress": pool, "sqrtPriceLimitX96": 4295128740,
	}
	empty, err := Encode(Descriptor{Kind: KindSwap, Values: base})
	require.NoError(t, err)
	require.Len(t, empty, 15*32, "14 head words plus the empty bytes length word")

	base["hookData"] = []byte{0xde, 0xad}
	withData := roundTrip(t, Descriptor{Kind: KindSwap, Values: base})
	require.Len(t, withData, 16*32)
}

func TestCallRoundTrip(t *testing.T) {
	roundTrip(t, Descriptor{Kind: KindCall, Values: map[string]any{
		"target":    receiver,
		"callData":  []byte{0x12, 0x34, 0x56, 0x78, 0x9a},
		"value":     0,
		"tokenIn":   usdc,
		"amountIn":  big.NewInt(2_500_000),
		"recipient": wallet,
	}})
}

func TestMintPositionMatchesTupleLayout(t *testing.T) {
	values := map[string]any{
		"currency0":   weth,
		"currency1":   usdc,
		"fee":         500,
		"tickSpacing": 10,
		"tickLower":   -120,
		"tickUpper":   120,
		"liquidity":   "167175499835819766909",
		"amount0Max":  "1000000000000000000",
		"amount1Max":  "1000000000000000000",
		"owner":       wallet,
	}
	flat := roundTrip(t, Descriptor{Kind: KindMintPosition, Values: values})

	tupleType, err := abi.NewType("tuple", "", []abi.ArgumentMarshaling{
		{Name: "currency0", Type: "address"},
		{Name: "currency1", Type: "address"},
		{Name: "fee", Type: "uint24"},
		{Name: "tickSpacing", Type: "int24"},
		{Name: "hooks", Type: "address"},
	})
	require.NoError(t, err)
	mustType := func(s string) abi.Type {
		typ, err := abi.NewType(s, "", nil)
		require.NoError(t, err)
		return typ
	}
	args := abi.Arguments{
		{Type: tupleType}, {Type: mustType("int24")}, {Type: mustType("int24")},
		{Type: mustType("uint256")}, {Type: mustType("uint128")}, {Type: mustType("uint128")},
		{Type: mustType("address")}, {Type: mustType("bytes")},
	}
	type poolKey struct {
		Currency0   common.Address
		Currency1   common.Address
		Fee         *big.Int
		TickSpacing *big.Int
		Hooks       common.Address
	}
	liq, _ := new(big.Int).SetString("167175499835819766909", 10)
	max, _ := new(big.Int).SetString("1000000000000000000", 10)
	nested, err := args.Pack(
		poolKey{Currency0: weth, Currency1: usdc, Fee: big.NewInt(500), TickSpacing: big.NewInt(10)},
		big.NewInt(-120), big.NewInt(120), liq, max, max, wallet, []byte{},
	)
	require.NoError(t, err)
	require.Equal(t, nested, flat)
}

func TestPositionUnlockRoundTrip(t *testing.T) {
	roundTrip(t, Descriptor{Kind: KindPositionUnlock, Values: map[string]any{
		"actions": []byte{0x02, 0x12, 0x12},
		"params":  [][]byte{{0x01}, bytes.Repeat([]byte{0xab}, 40), {}},
	}})
}

func TestMissingRequiredField(t *testing.T) {
	_, err := Encode(Descriptor{Kind: KindCall, Values: map[string]any{
		"callData": []byte{0x01},
		"amountIn": 1,
		"target":   receiver,
	}})
	require.Equal(t, xerrors.CodeMissingConfiguration, xerrors.CodeOf(err))
	require.Contains(t, xerrors.MessageOf(err), "recipient")
}

func TestZeroAccountAddressIsMissing(t *testing.T) {
	_, err := Encode(Descriptor{Kind: KindCall, Values: map[string]any{
		"target":    common.Address{},
		"callData":  []byte{0x01},
		"amountIn":  1,
		"recipient": wallet,
	}})
	require.Equal(t, xerrors.CodeMissingConfiguration, xerrors.CodeOf(err))
}

func TestRejectsOutOfRangeAndUnknown(t *testing.T) {
	_, err := Encode(Descriptor{Kind: KindLending, Values: map[string]any{
		"operation": 256, "poolAddress": pool, "asset": usdc, "amount": 1,
		"walletAddress": wallet, "onBehalfOf": wallet, "interestRateMode": 2,
	}})
	require.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))

	_, err = Encode(Descriptor{Kind: KindCall, Values: map[string]any{
		"target": receiver, "callData": []byte{}, "amountIn": 1, "recipient": wallet, "gasLimit": 1,
	}})
	require.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))
	require.Contains(t, xerrors.MessageOf(err), "gasLimit")

	_, err = Encode(Descriptor{Kind: "unknown"})
	require.Error(t, err)

	_, err = Encode(Descriptor{Kind: KindCall, Values: map[string]any{
		"target": "not-an-address", "callData": []byte{}, "amountIn": 1, "recipient": wallet,
	}})
	require.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))
}

func TestDecodeRejectsTruncatedPayload(t *testing.T) {
	_, err := Decode(KindLending, make([]byte, 64))
	require.Equal(t, xerrors.CodeInvalidCollaboratorResponse, xerrors.CodeOf(err))
}

func TestSchemaSignatures(t *testing.T) {
	s, err := SchemaFor(KindLending)
	require.NoError(t, err)
	require.Equal(t,
		"uint8 operation, address poolAddress, address asset, uint256 amount, address walletAddress, address onBehalfOf, uint256 interestRateMode, uint16 referralCode, address aTokenAddress",
		s.Signature())

	s, err = SchemaFor(KindSwap)
	require.NoError(t, err)
	require.Equal(t,
		"address currency0, address currency1, uint24 fee, int24 tickSpacing, address hooks, bool zeroForOne, uint256 amountIn, uint256 amountOutMin, bytes hookData, address recipient, uint256 deadline, address poolSwapTestAddress, address poolManagerAddress, uint160 sqrtPriceLimitX96",
		s.Signature())

	s, err = SchemaFor(KindCall)
	require.NoError(t, err)
	require.Equal(t,
		"address target, bytes callData, uint256 value, address tokenIn, uint256 amountIn, address recipient",
		s.Signature())

	require.Equal(t, []Kind{KindCall, KindLending, KindMintPosition, KindPositionUnlock, KindSwap}, Kinds())
}
