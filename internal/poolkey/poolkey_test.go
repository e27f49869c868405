package poolkey

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

var (
	tokenA = common.HexToAddress("0xAAAaaaaAaaaaaaaaAaaAaAaAaaaAAaaaaaAaAaaa")
	tokenB = common.HexToAddress("0xbBbBBBBbbBBBbbbBbbBbbbbBBbBbbbbBbBbbBBbB")
	usdc   = common.HexToAddress("0xaf88d065e77c8cC2239327C5EDb3A432268e5831")
	weth   = common.HexToAddress("0x82aF49447D8a07e3bd95BD0d56f35241523fBab1")
)

func TestOrderScenario(t *testing.T) {
	c0, c1, zeroForOne := Order(tokenA, tokenB)
	require.Equal(t, tokenA, c0)
	require.Equal(t, tokenB, c1)
	require.True(t, zeroForOne)
}

func TestOrderIsDeterministic(t *testing.T) {
	a0, a1, az := Order(usdc, weth)
	b0, b1, bz := Order(weth, usdc)
	require.Equal(t, a0, b0)
	require.Equal(t, a1, b1)
	require.NotEqual(t, az, bz)
	require.Equal(t, weth, a0, "0x82.. sorts before 0xaf..")
}

func TestOrderIgnoresChecksumCase(t *testing.T) {
	// Mixed-case checksums must not change the outcome.
	lower := common.HexToAddress("0x00000000000000000000000000000000000000ab")
	upper := common.HexToAddress("0x00000000000000000000000000000000000000AC")
	c0, _, _ := Order(upper, lower)
	require.Equal(t, lower, c0)
}

func TestPoolIDSymmetric(t *testing.T) {
	k1, z1, err := Resolve(usdc, weth, DefaultFee, DefaultTickSpacing, common.Address{})
	require.NoError(t, err)
	k2, z2, err := Resolve(weth, usdc, DefaultFee, DefaultTickSpacing, common.Address{})
	require.NoError(t, err)
	require.Equal(t, k1, k2)
	require.NotEqual(t, z1, z2)

	id1, err := PoolID(k1)
	require.NoError(t, err)
	id2, err := PoolID(k2)
	require.NoError(t, err)
	require.Equal(t, id1, id2)
}

func TestPoolIDMatchesManualLayout(t *testing.T) {
	key := Key{Currency0: tokenA, Currency1: tokenB, Fee: 500, TickSpacing: -10, Hooks: common.Address{0x01}}
	encoded, err := key.Encode()
	require.NoError(t, err)
	require.Len(t, encoded, 5*32)

	require.Equal(t, tokenA.Bytes(), encoded[12:32])
	require.Equal(t, tokenB.Bytes(), encoded[44:64])
	require.Equal(t, byte(0x01), encoded[94])
	require.Equal(t, byte(0xf4), encoded[95])
	// int24 -10 is sign extended across the word.
	require.Equal(t, byte(0xff), encoded[96])
	require.Equal(t, byte(0xf6), encoded[127])

	id, err := PoolID(key)
	require.NoError(t, err)
	require.Equal(t, crypto.Keccak256Hash(encoded), id)
}

func TestResolveValidation(t *testing.T) {
	_, _, err := Resolve(usdc, usdc, DefaultFee, DefaultTickSpacing, common.Address{})
	require.Error(t, err)
	_, _, err = Resolve(usdc, weth, 1<<24, DefaultTickSpacing, common.Address{})
	require.Error(t, err)
	_, _, err = Resolve(usdc, weth, DefaultFee, 0, common.Address{})
	require.Error(t, err)
}

func TestResolveReturnsCanonicalKey(t *testing.T) {
	key, zeroForOne, err := Resolve(usdc, weth, 500, 10, common.Address{})
	require.NoError(t, err)
	require.False(t, zeroForOne)
	require.Equal(t, weth, key.Currency0)
	require.Equal(t, key, key.Canonical())

	flipped := Key{Currency0: usdc, Currency1: weth, Fee: 500, TickSpacing: 10}.Canonical()
	require.Equal(t, key, flipped)
}
