package workflow

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"flowforge/internal/encoding"
	xerrors "flowforge/internal/errors"
	"flowforge/internal/outcome"
	"flowforge/internal/pricelimit"
)

func swapConfig() SwapConfig {
	return SwapConfig{
		Chain:               "ARBITRUM",
		ChainSelectorName:   "ethereum-mainnet-arbitrum-1",
		SwapReceiverAddress: receiverAddr.Hex(),
		PoolSwapTestAddress: swapTestAddr.Hex(),
		PoolManagerAddress:  managerAddr.Hex(),
		StateViewAddress:    stateViewAddr.Hex(),
		GasLimit:            "500000",
		InputConfig: SwapInput{
			SourceToken:      Token{Address: tokenA.Hex(), Symbol: "USDC"},
			DestinationToken: Token{Address: tokenB.Hex(), Symbol: "WETH"},
			Amount:           "1000000",
			SwapType:         swapExactInput,
			WalletAddress:    walletAddr.Hex(),
			AmountOutMinimum: "990000",
		},
	}
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func decodeReport(t *testing.T, kind encoding.Kind, req []byte) map[string]any {
	t.Helper()
	d, err := encoding.Decode(kind, req)
	require.NoError(t, err)
	return d.Values
}

func TestRunSwapEncodesReport(t *testing.T) {
	chain := newStubChain().on(stateViewAddr, slot0Handler(t, q96, 0))
	writer := successWriter()
	rt := newTestRuntime(chain, writer)

	out := RunSwap(t.Context(), rt, mustJSON(t, swapConfig()), nil)
	require.NoError(t, out.Err)
	res := out.Value.(outcome.Result)
	require.True(t, res.Success)
	require.Equal(t, "0xfeed", res.TxHash)
	require.Equal(t, "1000000", res.AmountIn)
	require.Equal(t, "990000", res.AmountOut)

	req := writer.only(t)
	require.Equal(t, receiverAddr, req.Receiver)
	require.Equal(t, uint64(500000), req.GasLimit)
	require.Equal(t, "ethereum-mainnet-arbitrum-1", req.Chain)

	v := decodeReport(t, encoding.KindSwap, req.Report.Payload)
	require.Equal(t, tokenA, v["currency0"])
	require.Equal(t, tokenB, v["currency1"])
	require.Equal(t, true, v["zeroForOne"])
	require.Equal(t, "3000", v["fee"].(*big.Int).String())
	require.Equal(t, "60", v["tickSpacing"].(*big.Int).String())
	require.Equal(t, common.Address{}, v["hooks"])
	require.Equal(t, "1000000", v["amountIn"].(*big.Int).String())
	require.Equal(t, "990000", v["amountOutMin"].(*big.Int).String())
	require.Equal(t, walletAddr, v["recipient"])
	require.Equal(t, big.NewInt(testNow+1200).String(), v["deadline"].(*big.Int).String())
	require.Equal(t, swapTestAddr, v["poolSwapTestAddress"])
	require.Equal(t, managerAddr, v["poolManagerAddress"])
	require.Equal(t, new(big.Int).Sub(q96, big.NewInt(1)).String(), v["sqrtPriceLimitX96"].(*big.Int).String())
}

func TestRunSwapReverseDirection(t *testing.T) {
	chain := newStubChain().on(stateViewAddr, slot0Handler(t, q96, 0))
	writer := successWriter()
	rt := newTestRuntime(chain, writer)

	cfg := swapConfig()
	cfg.InputConfig.SourceToken, cfg.InputConfig.DestinationToken = cfg.InputConfig.DestinationToken, cfg.InputConfig.SourceToken
	cfg.PoolConfig = &PoolConfig{Fee: ptr(uint32(500)), TickSpacing: ptr(int32(10))}

	out := RunSwap(t.Context(), rt, mustJSON(t, cfg), nil)
	require.NoError(t, out.Err)

	v := decodeReport(t, encoding.KindSwap, writer.only(t).Report.Payload)
	require.Equal(t, tokenA, v["currency0"])
	require.Equal(t, false, v["zeroForOne"])
	require.Equal(t, "500", v["fee"].(*big.Int).String())
	require.Equal(t, "10", v["tickSpacing"].(*big.Int).String())
	require.Equal(t, new(big.Int).Add(q96, big.NewInt(1)).String(), v["sqrtPriceLimitX96"].(*big.Int).String())
}

func TestRunSwapDerivesMinimumFromQuote(t *testing.T) {
	chain := newStubChain().
		on(stateViewAddr, slot0Handler(t, q96, 0)).
		on(quoterAddr, func(data []byte) ([]byte, error) {
			method := quoterABI.Methods["quoteExactInputSingle"]
			require.Equal(t, selector(method.ID), selector(data))
			return method.Outputs.Pack(big.NewInt(1_000_000), q96, uint32(1), big.NewInt(90_000))
		})
	writer := successWriter()
	rt := newTestRuntime(chain, writer)

	cfg := swapConfig()
	cfg.QuoterAddress = quoterAddr.Hex()
	cfg.InputConfig.AmountOutMinimum = ""

	out := RunSwap(t.Context(), rt, mustJSON(t, cfg), nil)
	require.NoError(t, out.Err)
	v := decodeReport(t, encoding.KindSwap, writer.only(t).Report.Payload)
	require.Equal(t, "995000", v["amountOutMin"].(*big.Int).String())
}

func TestRunSwapWithoutProtectionUsesZero(t *testing.T) {
	chain := newStubChain().on(stateViewAddr, slot0Handler(t, q96, 0))
	writer := successWriter()
	rt := newTestRuntime(chain, writer)

	cfg := swapConfig()
	cfg.InputConfig.AmountOutMinimum = ""
	out := RunSwap(t.Context(), rt, mustJSON(t, cfg), nil)
	require.NoError(t, out.Err)
	v := decodeReport(t, encoding.KindSwap, writer.only(t).Report.Payload)
	require.Equal(t, "0", v["amountOutMin"].(*big.Int).String())
}

func TestRunSwapPriceLimitFallback(t *testing.T) {
	writer := successWriter()
	rt := newTestRuntime(newStubChain(), writer)

	cfg := swapConfig()
	cfg.StateViewAddress = ""
	out := RunSwap(t.Context(), rt, mustJSON(t, cfg), nil)
	require.NoError(t, out.Err)
	v := decodeReport(t, encoding.KindSwap, writer.only(t).Report.Payload)
	require.Equal(t, pricelimit.DefaultFallback(true).String(), v["sqrtPriceLimitX96"].(*big.Int).String())
}

func TestRunSwapRequirePriceState(t *testing.T) {
	writer := successWriter()
	rt := newTestRuntime(newStubChain(), writer)

	cfg := swapConfig()
	cfg.StateViewAddress = ""
	cfg.RequirePriceState = true
	out := RunSwap(t.Context(), rt, mustJSON(t, cfg), nil)
	require.Equal(t, xerrors.CodeMissingConfiguration, xerrors.CodeOf(out.Err))
	require.Empty(t, writer.requests)
}

func TestRunSwapTestnetStateViewDefault(t *testing.T) {
	chain := newStubChain().on(common.HexToAddress(testnetStateView), slot0Handler(t, q96, 0))
	writer := successWriter()
	rt := newTestRuntime(chain, writer)

	cfg := swapConfig()
	cfg.Chain = "ARBITRUM_SEPOLIA"
	cfg.StateViewAddress = ""
	out := RunSwap(t.Context(), rt, mustJSON(t, cfg), nil)
	require.NoError(t, out.Err)
	require.Equal(t, 1, chain.callCount())
}

func TestRunSwapUninitializedPool(t *testing.T) {
	chain := newStubChain().on(stateViewAddr, slot0Handler(t, new(big.Int), 0))
	writer := successWriter()
	rt := newTestRuntime(chain, writer)

	out := RunSwap(t.Context(), rt, mustJSON(t, swapConfig()), nil)
	require.Equal(t, xerrors.CodePoolUninitialized, xerrors.CodeOf(out.Err))
	res := out.Value.(outcome.Result)
	require.False(t, res.Success)
	require.Equal(t, "1000000", res.AmountIn)
	require.Empty(t, writer.requests)
}

func TestRunSwapMissingAddresses(t *testing.T) {
	cases := map[string]struct {
		mutate  func(*SwapConfig)
		message string
	}{
		"receiver": {
			mutate:  func(c *SwapConfig) { c.SwapReceiverAddress = "" },
			message: "swapReceiverAddress is required; deploy SwapReceiver and set in config",
		},
		"pool swap test": {
			mutate:  func(c *SwapConfig) { c.PoolSwapTestAddress = "" },
			message: "poolSwapTestAddress is required (Uniswap V4 PoolSwapTest); set in config",
		},
		"pool manager": {
			mutate:  func(c *SwapConfig) { c.PoolManagerAddress = "" },
			message: "poolManagerAddress is required (Uniswap V4 PoolManager); set in config",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			writer := successWriter()
			rt := newTestRuntime(newStubChain(), writer)
			cfg := swapConfig()
			tc.mutate(&cfg)

			out := RunSwap(t.Context(), rt, mustJSON(t, cfg), nil)
			require.Equal(t, xerrors.CodeMissingConfiguration, xerrors.CodeOf(out.Err))
			res := out.Value.(outcome.Result)
			require.False(t, res.Success)
			require.Equal(t, tc.message, res.Error)
			require.Empty(t, writer.requests)
		})
	}
}

func TestRunSwapDeprecatedRouterAddress(t *testing.T) {
	chain := newStubChain().on(stateViewAddr, slot0Handler(t, q96, 0))
	writer := successWriter()
	rt := newTestRuntime(chain, writer)

	cfg := swapConfig()
	cfg.PoolSwapTestAddress = ""
	cfg.RouterAddress = swapTestAddr.Hex()
	out := RunSwap(t.Context(), rt, mustJSON(t, cfg), nil)
	require.NoError(t, out.Err)
	v := decodeReport(t, encoding.KindSwap, writer.only(t).Report.Payload)
	require.Equal(t, swapTestAddr, v["poolSwapTestAddress"])
}

func TestRunSwapRevertedSettlement(t *testing.T) {
	chain := newStubChain().on(stateViewAddr, slot0Handler(t, q96, 0))
	writer := &stubWriter{outcome: outcome.TxOutcome{Status: outcome.StatusReverted, TxHash: "0xdead"}}
	rt := newTestRuntime(chain, writer)

	out := RunSwap(t.Context(), rt, mustJSON(t, swapConfig()), nil)
	require.Equal(t, xerrors.CodeNonSuccessSettlement, xerrors.CodeOf(out.Err))
	res := out.Value.(outcome.Result)
	require.False(t, res.Success)
	require.Equal(t, "0xdead", res.TxHash)
	require.Equal(t, "tx status: 1", res.Error)
	require.Empty(t, res.AmountOut)
}

func TestRunSwapOverride(t *testing.T) {
	chain := newStubChain().on(stateViewAddr, slot0Handler(t, q96, 0))
	writer := successWriter()
	rt := newTestRuntime(chain, writer)

	out := RunSwap(t.Context(), rt, mustJSON(t, swapConfig()), []byte(`{"inputConfig":{"amount":"42","deadline":1800000000}}`))
	require.NoError(t, out.Err)
	require.Equal(t, "42", out.Value.(outcome.Result).AmountIn)

	v := decodeReport(t, encoding.KindSwap, writer.only(t).Report.Payload)
	require.Equal(t, "42", v["amountIn"].(*big.Int).String())
	require.Equal(t, "1800000000", v["deadline"].(*big.Int).String())
	require.Equal(t, "990000", v["amountOutMin"].(*big.Int).String(), "sibling fields survive the merge")
}

func TestRunSwapMalformedOverrideFallsBack(t *testing.T) {
	chain := newStubChain().on(stateViewAddr, slot0Handler(t, q96, 0))
	writer := successWriter()
	rt := newTestRuntime(chain, writer)

	out := RunSwap(t.Context(), rt, mustJSON(t, swapConfig()), []byte(`{"inputConfig":`))
	require.NoError(t, out.Err)
	require.Equal(t, "1000000", out.Value.(outcome.Result).AmountIn)
}

func TestRunSwapExplicitPriceLimit(t *testing.T) {
	writer := successWriter()
	rt := newTestRuntime(newStubChain().on(stateViewAddr, slot0Handler(t, q96, 0)), writer)

	cfg := swapConfig()
	cfg.SqrtPriceLimitX96 = "4295128740"
	out := RunSwap(t.Context(), rt, mustJSON(t, cfg), nil)
	require.NoError(t, out.Err)
	v := decodeReport(t, encoding.KindSwap, writer.only(t).Report.Payload)
	require.Equal(t, "4295128740", v["sqrtPriceLimitX96"].(*big.Int).String())

	cfg.SqrtPriceLimitX96 = pricelimit.MinSqrtPrice.String()
	out = RunSwap(t.Context(), newTestRuntime(newStubChain(), successWriter()), mustJSON(t, cfg), nil)
	require.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(out.Err))
}

func TestRunSwapExplicitPriceLimitMustMatchDirection(t *testing.T) {
	above := new(big.Int).Add(q96, big.NewInt(1)).String()
	below := new(big.Int).Sub(q96, big.NewInt(1)).String()

	cases := map[string]struct {
		reverse bool
		limit   string
		ok      bool
	}{
		"zeroForOne below price": {limit: below, ok: true},
		"zeroForOne above price": {limit: above},
		"zeroForOne at price":    {limit: q96.String()},
		"oneForZero above price": {reverse: true, limit: above, ok: true},
		"oneForZero below price": {reverse: true, limit: below},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			writer := successWriter()
			rt := newTestRuntime(newStubChain().on(stateViewAddr, slot0Handler(t, q96, 0)), writer)

			cfg := swapConfig()
			if tc.reverse {
				cfg.InputConfig.SourceToken, cfg.InputConfig.DestinationToken = cfg.InputConfig.DestinationToken, cfg.InputConfig.SourceToken
			}
			cfg.SqrtPriceLimitX96 = tc.limit
			out := RunSwap(t.Context(), rt, mustJSON(t, cfg), nil)
			if !tc.ok {
				require.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(out.Err))
				require.Empty(t, writer.requests)
				return
			}
			require.NoError(t, out.Err)
			v := decodeReport(t, encoding.KindSwap, writer.only(t).Report.Payload)
			require.Equal(t, tc.limit, v["sqrtPriceLimitX96"].(*big.Int).String())
		})
	}
}

func TestRunSwapExplicitPriceLimitWithoutStateView(t *testing.T) {
	writer := successWriter()
	rt := newTestRuntime(newStubChain(), writer)

	cfg := swapConfig()
	cfg.StateViewAddress = ""
	cfg.RequirePriceState = true
	cfg.SqrtPriceLimitX96 = "4295128740"
	out := RunSwap(t.Context(), rt, mustJSON(t, cfg), nil)
	require.NoError(t, out.Err)
	v := decodeReport(t, encoding.KindSwap, writer.only(t).Report.Payload)
	require.Equal(t, "4295128740", v["sqrtPriceLimitX96"].(*big.Int).String())
}

func ptr[T any](v T) *T { return &v }
