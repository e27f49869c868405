package workflow

import (
	"context"
	"encoding/json"
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"flowforge/internal/amount"
	"flowforge/internal/encoding"
	xerrors "flowforge/internal/errors"
	"flowforge/internal/outcome"
	"flowforge/internal/poolkey"
	"flowforge/internal/pricelimit"
)

const (
	swapExactInput  = "EXACT_INPUT"
	swapExactOutput = "EXACT_OUTPUT"

	defaultSwapDeadline = 20 * time.Minute
	// StateView on Arbitrum Sepolia, used when a testnet config omits it.
	testnetStateView = "0x9d467fa9062b6e9b1a46e26007ad82db116c67cb"
)

// SwapConfig configures the Uniswap V4 swap workflow.
type SwapConfig struct {
	Chain               string      `json:"chain"`
	ChainSelectorName   string      `json:"chainSelectorName"`
	SwapReceiverAddress string      `json:"swapReceiverAddress"`
	PoolSwapTestAddress string      `json:"poolSwapTestAddress"`
	PoolManagerAddress  string      `json:"poolManagerAddress"`
	StateViewAddress    string      `json:"stateViewAddress,omitempty"`
	QuoterAddress       string      `json:"quoterAddress,omitempty"`
	GasLimit            string      `json:"gasLimit"`
	RequirePriceState   bool        `json:"requirePriceState,omitempty"`
	InputConfig         SwapInput   `json:"inputConfig"`
	PoolConfig          *PoolConfig `json:"poolConfig,omitempty"`
	SqrtPriceLimitX96   string      `json:"sqrtPriceLimitX96,omitempty"`
	// Deprecated: use PoolConfig.Fee.
	FeeTier *uint32 `json:"feeTier,omitempty"`
	// Deprecated: use PoolSwapTestAddress.
	RouterAddress string `json:"routerAddress,omitempty"`
}

// SwapInput is the intent part of a swap config.
type SwapInput struct {
	SourceToken       Token            `json:"sourceToken"`
	DestinationToken  Token            `json:"destinationToken"`
	Amount            string           `json:"amount"`
	SwapType          string           `json:"swapType"`
	WalletAddress     string           `json:"walletAddress"`
	SlippageTolerance *decimal.Decimal `json:"slippageTolerance,omitempty"`
	Deadline          *uint64          `json:"deadline,omitempty"`
	AmountOutMinimum  string           `json:"amountOutMinimum,omitempty"`
	AmountInMaximum   string           `json:"amountInMaximum,omitempty"`
}

// PoolConfig selects the pool; absent members take the protocol defaults.
type PoolConfig struct {
	Fee         *uint32 `json:"fee,omitempty"`
	TickSpacing *int32  `json:"tickSpacing,omitempty"`
	Hooks       string  `json:"hooks,omitempty"`
}

func (c SwapConfig) poolSwapTest() string {
	if strings.TrimSpace(c.PoolSwapTestAddress) != "" {
		return c.PoolSwapTestAddress
	}
	return c.RouterAddress
}

func (c SwapConfig) poolParams() (fee uint32, tickSpacing int32, hooks string) {
	fee, tickSpacing = poolkey.DefaultFee, poolkey.DefaultTickSpacing
	if c.FeeTier != nil {
		fee = *c.FeeTier
	}
	if c.PoolConfig != nil {
		if c.PoolConfig.Fee != nil {
			fee = *c.PoolConfig.Fee
		}
		if c.PoolConfig.TickSpacing != nil {
			tickSpacing = *c.PoolConfig.TickSpacing
		}
		hooks = c.PoolConfig.Hooks
	}
	return fee, tickSpacing, hooks
}

func (c SwapConfig) stateView() string {
	if strings.TrimSpace(c.StateViewAddress) != "" {
		return c.StateViewAddress
	}
	if isTestnet(c.Chain) {
		return testnetStateView
	}
	return ""
}

// RunSwap executes a single-pool Uniswap V4 swap through the swap receiver.
func RunSwap(ctx context.Context, rt *Runtime, params json.RawMessage, override []byte) Output {
	cfg, err := decodeParams[SwapConfig](rt, params, override)
	if err != nil {
		return writeOutput(outcome.Result{}, err)
	}
	res, err := runSwap(ctx, rt, cfg)
	res.AmountIn = cfg.InputConfig.Amount
	return writeOutput(res, err)
}

func runSwap(ctx context.Context, rt *Runtime, cfg SwapConfig) (outcome.Result, error) {
	receiver, err := requireAddress(cfg.SwapReceiverAddress, "swapReceiverAddress is required; deploy SwapReceiver and set in config")
	if err != nil {
		return outcome.Result{}, err
	}
	swapTest, err := requireAddress(cfg.poolSwapTest(), "poolSwapTestAddress is required (Uniswap V4 PoolSwapTest); set in config")
	if err != nil {
		return outcome.Result{}, err
	}
	manager, err := requireAddress(cfg.PoolManagerAddress, "poolManagerAddress is required (Uniswap V4 PoolManager); set in config")
	if err != nil {
		return outcome.Result{}, err
	}
	gasLimit, err := parseGasLimit(cfg.GasLimit)
	if err != nil {
		return outcome.Result{}, err
	}

	in := cfg.InputConfig
	source, err := requireAddress(in.SourceToken.Address, "sourceToken.address is required")
	if err != nil {
		return outcome.Result{}, err
	}
	dest, err := requireAddress(in.DestinationToken.Address, "destinationToken.address is required")
	if err != nil {
		return outcome.Result{}, err
	}
	recipient, err := requireAddress(in.WalletAddress, "walletAddress is required")
	if err != nil {
		return outcome.Result{}, err
	}
	amountIn, err := amount.ParseRaw(in.Amount)
	if err != nil {
		return outcome.Result{}, err
	}

	fee, tickSpacing, hooksRaw := cfg.poolParams()
	hooks, err := parseAddress(hooksRaw)
	if err != nil {
		return outcome.Result{}, err
	}
	key, zeroForOne, err := poolkey.Resolve(source, dest, fee, tickSpacing, hooks)
	if err != nil {
		return outcome.Result{}, err
	}
	chain := cfg.ChainSelectorName
	logger := rt.log().With("chain", chain, "workflow", "uniswap")

	amountOutMin, err := minimumOutput(ctx, rt, cfg, key, zeroForOne, amountIn)
	if err != nil {
		return outcome.Result{}, err
	}

	deadline := rt.now() + uint64(defaultSwapDeadline/time.Second)
	if in.Deadline != nil && *in.Deadline > 0 {
		deadline = *in.Deadline
	}

	limit, err := swapPriceLimit(ctx, rt, cfg, key, zeroForOne)
	if err != nil {
		return outcome.Result{}, err
	}

	logger.Info("v4 swap",
		"currency0", key.Currency0.Hex(),
		"currency1", key.Currency1.Hex(),
		"zeroForOne", zeroForOne,
		"amountIn", amountIn.String(),
		"amountOutMin", amountOutMin.String(),
		"recipient", recipient.Hex(),
		"deadline", deadline,
		"sqrtPriceLimitX96", limit.String(),
	)

	tx, err := rt.submit(ctx, chain, receiver, gasLimit, encoding.Descriptor{
		Kind: encoding.KindSwap,
		Values: map[string]any{
			"currency0":           key.Currency0,
			"currency1":           key.Currency1,
			"fee":                 key.Fee,
			"tickSpacing":         key.TickSpacing,
			"hooks":               key.Hooks,
			"zeroForOne":          zeroForOne,
			"amountIn":            amountIn,
			"amountOutMin":        amountOutMin,
			"recipient":           recipient,
			"deadline":            deadline,
			"poolSwapTestAddress": swapTest,
			"poolManagerAddress":  manager,
			"sqrtPriceLimitX96":   limit,
		},
	})
	if err != nil {
		return outcome.Result{}, err
	}
	res := outcome.Classify(tx)
	if res.Success {
		res.AmountOut = amountOutMin.String()
		logger.Info("swap tx succeeded", "txHash", res.TxHash)
	}
	return res, nil
}

// minimumOutput resolves amountOutMin for the swap. Exact-output swaps and
// unprotected exact-input swaps use zero.
func minimumOutput(ctx context.Context, rt *Runtime, cfg SwapConfig, key poolkey.Key, zeroForOne bool, amountIn *big.Int) (*big.Int, error) {
	in := cfg.InputConfig
	switch in.SwapType {
	case swapExactInput, "":
	case swapExactOutput:
		return new(big.Int), nil
	default:
		return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "unsupported swapType %q", in.SwapType)
	}

	if strings.TrimSpace(in.AmountOutMinimum) != "" {
		v, err := amount.ParseRaw(in.AmountOutMinimum)
		if err != nil {
			return nil, err
		}
		if v.Sign() > 0 {
			return v, nil
		}
	}

	if strings.TrimSpace(cfg.QuoterAddress) != "" {
		quoter, err := parseAddress(cfg.QuoterAddress)
		if err != nil {
			return nil, err
		}
		tokenIn, tokenOut := key.Currency0, key.Currency1
		if !zeroForOne {
			tokenIn, tokenOut = tokenOut, tokenIn
		}
		quoted, err := rt.quoteExactInput(ctx, cfg.ChainSelectorName, quoter, quoteParams{
			TokenIn:           tokenIn,
			TokenOut:          tokenOut,
			AmountIn:          amountIn,
			Fee:               new(big.Int).SetUint64(uint64(key.Fee)),
			SqrtPriceLimitX96: new(big.Int),
		})
		if err != nil {
			return nil, err
		}
		tolerance := decimal.NewFromFloat(0.5)
		if in.SlippageTolerance != nil {
			tolerance = *in.SlippageTolerance
		}
		minOut, err := amount.ApplySlippage(quoted, tolerance)
		if err != nil {
			return nil, err
		}
		rt.log().Info("amountOutMinimum derived from quote",
			"quoted", quoted.String(), "slippageTolerance", tolerance.String(), "amountOutMin", minOut.String())
		return minOut, nil
	}

	rt.log().Warn("amountOutMinimum not set; using 0 (no slippage protection). Set amountOutMinimum in config.")
	return new(big.Int), nil
}

// swapPriceLimit picks sqrtPriceLimitX96: an explicit override, the limit
// derived from live pool state, or the permissive fallback.
func swapPriceLimit(ctx context.Context, rt *Runtime, cfg SwapConfig, key poolkey.Key, zeroForOne bool) (*big.Int, error) {
	var override *big.Int
	if raw := strings.TrimSpace(cfg.SqrtPriceLimitX96); raw != "" {
		limit, err := amount.ParseRaw(raw)
		if err != nil {
			return nil, err
		}
		if limit.Cmp(pricelimit.MinSqrtPrice) <= 0 || limit.Cmp(pricelimit.MaxSqrtPrice) >= 0 {
			return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "sqrtPriceLimitX96 %s outside the protocol bounds", raw)
		}
		override = limit
	}

	stateView := cfg.stateView()
	if stateView == "" {
		if override != nil {
			return override, nil
		}
		if cfg.RequirePriceState {
			return nil, xerrors.New(xerrors.CodeMissingConfiguration,
				"stateViewAddress is required when requirePriceState is set")
		}
		limit := pricelimit.DefaultFallback(zeroForOne)
		rt.log().Warn("no stateViewAddress; using the permissive price limit",
			"zeroForOne", zeroForOne, "sqrtPriceLimitX96", limit.String())
		return limit, nil
	}

	addr, err := parseAddress(stateView)
	if err != nil {
		return nil, err
	}
	poolID, err := poolkey.PoolID(key)
	if err != nil {
		return nil, err
	}
	slot0, err := rt.readSlot0(ctx, cfg.ChainSelectorName, addr, poolID)
	if err != nil {
		return nil, err
	}
	limit, err := pricelimit.DefaultLimit(slot0.SqrtPriceX96, zeroForOne)
	if err != nil {
		if xerrors.HasCode(err, xerrors.CodePoolUninitialized) {
			return nil, xerrors.New(xerrors.CodePoolUninitialized, "Pool not initialized; create the pool first",
				xerrors.WithMetadata("poolId", poolID.Hex()))
		}
		return nil, err
	}
	if override == nil {
		return limit, nil
	}
	// A zeroForOne swap moves the price down, so its limit must sit below
	// the current price; the other direction needs a limit above it.
	cmp := override.Cmp(slot0.SqrtPriceX96)
	if (zeroForOne && cmp >= 0) || (!zeroForOne && cmp <= 0) {
		side := "below"
		if !zeroForOne {
			side = "above"
		}
		return nil, xerrors.Newf(xerrors.CodeInvalidArgument,
			"sqrtPriceLimitX96 %s must be %s the current price %s for this swap direction",
			override.String(), side, slot0.SqrtPriceX96.String())
	}
	return override, nil
}
