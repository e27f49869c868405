package workflow

import (
	"context"
	"encoding/json"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"flowforge/internal/amount"
	"flowforge/internal/encoding"
	xerrors "flowforge/internal/errors"
	"flowforge/internal/liquidity"
	"flowforge/internal/outcome"
	"flowforge/internal/poolkey"
)

const (
	defaultPositionDeadlineSeconds = 600
	operationMintPosition          = "MINT_POSITION"
)

// PositionManager action bytes: MINT_POSITION, CLOSE_CURRENCY, CLOSE_CURRENCY.
var mintActions = []byte{0x02, 0x12, 0x12}

var maxUint128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

var addressArgs = func() abi.Arguments {
	typ, err := abi.NewType("address", "", nil)
	if err != nil {
		panic("workflow: " + err.Error())
	}
	return abi.Arguments{{Type: typ}}
}()

// LiquidityConfig configures the liquidity provisioning workflow.
type LiquidityConfig struct {
	ChainSelectorName      string        `json:"chainSelectorName"`
	ReceiverAddress        string        `json:"receiverAddress"`
	PositionManagerAddress string        `json:"positionManagerAddress"`
	StateViewAddress       string        `json:"stateViewAddress,omitempty"`
	GasLimit               string        `json:"gasLimit"`
	Pool                   LiquidityPool `json:"pool"`
	TickLower              int32         `json:"tickLower"`
	TickUpper              int32         `json:"tickUpper"`
	Amount0                string        `json:"amount0"`
	Amount1                string        `json:"amount1"`
	Recipient              string        `json:"recipient"`
	DeadlineSeconds        *uint64       `json:"deadlineSeconds,omitempty"`
}

// LiquidityPool names the pool to add liquidity to. Currencies may be given
// in either order; amounts follow their currency.
type LiquidityPool struct {
	Currency0   string  `json:"currency0"`
	Currency1   string  `json:"currency1"`
	Fee         *uint32 `json:"fee,omitempty"`
	TickSpacing *int32  `json:"tickSpacing,omitempty"`
	Hooks       string  `json:"hooks,omitempty"`
}

func (c LiquidityConfig) stateView() string {
	if strings.TrimSpace(c.StateViewAddress) != "" {
		return c.StateViewAddress
	}
	if isTestnet(c.ChainSelectorName) {
		return testnetStateView
	}
	return ""
}

// RunLiquidity sizes a full mint against the current pool price and submits
// the PositionManager call through the call receiver.
func RunLiquidity(ctx context.Context, rt *Runtime, params json.RawMessage, override []byte) Output {
	cfg, err := decodeParams[LiquidityConfig](rt, params, override)
	if err != nil {
		return writeOutput(outcome.Result{Operation: operationMintPosition}, err)
	}
	res, err := runLiquidity(ctx, rt, cfg)
	res.Operation = operationMintPosition
	return writeOutput(res, err)
}

func runLiquidity(ctx context.Context, rt *Runtime, cfg LiquidityConfig) (outcome.Result, error) {
	receiver, err := requireAddress(cfg.ReceiverAddress, "receiverAddress is required; deploy the call receiver and set in config")
	if err != nil {
		return outcome.Result{}, err
	}
	manager, err := requireAddress(cfg.PositionManagerAddress, "positionManagerAddress is required (Uniswap V4 PositionManager); set in config")
	if err != nil {
		return outcome.Result{}, err
	}
	recipient, err := requireAddress(cfg.Recipient, "recipient is required")
	if err != nil {
		return outcome.Result{}, err
	}
	gasLimit, err := parseGasLimit(cfg.GasLimit)
	if err != nil {
		return outcome.Result{}, err
	}
	tokenA, err := requireAddress(cfg.Pool.Currency0, "pool.currency0 is required")
	if err != nil {
		return outcome.Result{}, err
	}
	tokenB, err := requireAddress(cfg.Pool.Currency1, "pool.currency1 is required")
	if err != nil {
		return outcome.Result{}, err
	}
	hooks, err := parseAddress(cfg.Pool.Hooks)
	if err != nil {
		return outcome.Result{}, err
	}
	amountA, err := amount.ParseRaw(cfg.Amount0)
	if err != nil {
		return outcome.Result{}, err
	}
	amountB, err := amount.ParseRaw(cfg.Amount1)
	if err != nil {
		return outcome.Result{}, err
	}
	if err := liquidity.CheckUint256("amount0", amountA); err != nil {
		return outcome.Result{}, err
	}
	if err := liquidity.CheckUint256("amount1", amountB); err != nil {
		return outcome.Result{}, err
	}

	fee, tickSpacing := poolkey.DefaultFee, poolkey.DefaultTickSpacing
	if cfg.Pool.Fee != nil {
		fee = *cfg.Pool.Fee
	}
	if cfg.Pool.TickSpacing != nil {
		tickSpacing = *cfg.Pool.TickSpacing
	}
	key, ordered, err := poolkey.Resolve(tokenA, tokenB, fee, tickSpacing, hooks)
	if err != nil {
		return outcome.Result{}, err
	}
	// Resolve reports zeroForOne, which holds exactly when tokenA sorted first.
	amount0, amount1 := amountA, amountB
	if !ordered {
		amount0, amount1 = amountB, amountA
	}

	if cfg.TickLower >= cfg.TickUpper {
		return outcome.Result{}, xerrors.Newf(xerrors.CodeInvalidArgument,
			"tickLower %d must be below tickUpper %d", cfg.TickLower, cfg.TickUpper)
	}
	if liquidity.AlignTick(cfg.TickLower, tickSpacing) != cfg.TickLower ||
		liquidity.AlignTick(cfg.TickUpper, tickSpacing) != cfg.TickUpper {
		return outcome.Result{}, xerrors.Newf(xerrors.CodeInvalidArgument,
			"ticks [%d, %d] must be multiples of tickSpacing %d", cfg.TickLower, cfg.TickUpper, tickSpacing)
	}

	stateViewRaw := cfg.stateView()
	if stateViewRaw == "" {
		return outcome.Result{}, xerrors.New(xerrors.CodeMissingConfiguration,
			"stateViewAddress is required to size liquidity against the pool price")
	}
	stateView, err := parseAddress(stateViewRaw)
	if err != nil {
		return outcome.Result{}, err
	}
	poolID, err := poolkey.PoolID(key)
	if err != nil {
		return outcome.Result{}, err
	}
	chain := cfg.ChainSelectorName
	slot0, err := rt.readSlot0(ctx, chain, stateView, poolID)
	if err != nil {
		return outcome.Result{}, err
	}
	if slot0.SqrtPriceX96 == nil || slot0.SqrtPriceX96.Sign() == 0 {
		return outcome.Result{}, xerrors.New(xerrors.CodePoolUninitialized, "Pool not initialized; create the pool first",
			xerrors.WithMetadata("poolId", poolID.Hex()))
	}

	liq, err := liquidity.MaxLiquidity(cfg.TickLower, cfg.TickUpper, slot0.SqrtPriceX96, amount0, amount1)
	if err != nil {
		return outcome.Result{}, err
	}
	if liq.Sign() == 0 {
		return outcome.Result{}, xerrors.New(xerrors.CodeInvalidArgument, "desired amounts produce zero liquidity for the given range")
	}
	if err := liquidity.CheckUint128("liquidity", liq); err != nil {
		return outcome.Result{}, err
	}

	unlockData, err := encodeMintUnlock(key, cfg.TickLower, cfg.TickUpper, liq, recipient)
	if err != nil {
		return outcome.Result{}, err
	}
	deadlineSeconds := uint64(defaultPositionDeadlineSeconds)
	if cfg.DeadlineSeconds != nil && *cfg.DeadlineSeconds > 0 {
		deadlineSeconds = *cfg.DeadlineSeconds
	}
	deadline := new(big.Int).SetUint64(rt.now() + deadlineSeconds)
	callData, err := positionManagerABI.Pack("modifyLiquidities", unlockData, deadline)
	if err != nil {
		return outcome.Result{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "pack modifyLiquidities")
	}

	logger := rt.log().With("chain", chain, "workflow", "liquidity", "poolId", poolID.Hex())
	logger.Info("mint position",
		"tick", slot0.Tick,
		"tickLower", cfg.TickLower,
		"tickUpper", cfg.TickUpper,
		"liquidity", liq.String(),
		"amount0", amount0.String(),
		"amount1", amount1.String(),
	)

	tx, err := rt.submit(ctx, chain, receiver, gasLimit, encoding.Descriptor{
		Kind: encoding.KindCall,
		Values: map[string]any{
			"target":    manager,
			"callData":  callData,
			"value":     new(big.Int),
			"tokenIn":   common.Address{},
			"amountIn":  new(big.Int),
			"recipient": recipient,
		},
	})
	if err != nil {
		return outcome.Result{}, err
	}
	res := outcome.Classify(tx)
	if res.Success {
		res.Amount = liq.String()
		logger.Info("mint position tx succeeded", "txHash", res.TxHash)
	}
	return res, nil
}

// encodeMintUnlock builds the PositionManager unlock data for a single mint
// that settles both currencies.
func encodeMintUnlock(key poolkey.Key, tickLower, tickUpper int32, liq *big.Int, owner common.Address) ([]byte, error) {
	mint, err := encoding.Encode(encoding.Descriptor{
		Kind: encoding.KindMintPosition,
		Values: map[string]any{
			"currency0":   key.Currency0,
			"currency1":   key.Currency1,
			"fee":         key.Fee,
			"tickSpacing": key.TickSpacing,
			"hooks":       key.Hooks,
			"tickLower":   tickLower,
			"tickUpper":   tickUpper,
			"liquidity":   liq,
			"amount0Max":  maxUint128,
			"amount1Max":  maxUint128,
			"owner":       owner,
			"hookData":    []byte{},
		},
	})
	if err != nil {
		return nil, err
	}
	close0, err := addressArgs.Pack(key.Currency0)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encode close currency0")
	}
	close1, err := addressArgs.Pack(key.Currency1)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encode close currency1")
	}
	return encoding.Encode(encoding.Descriptor{
		Kind: encoding.KindPositionUnlock,
		Values: map[string]any{
			"actions": mintActions,
			"params":  [][]byte{mint, close0, close1},
		},
	})
}
