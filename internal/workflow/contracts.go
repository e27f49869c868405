package workflow

import (
	"context"
	"fmt"
	"math/big"
	"reflect"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	xerrors "flowforge/internal/errors"
)

const stateViewABIJSON = `[{"type":"function","name":"getSlot0","stateMutability":"view",
"inputs":[{"name":"poolId","type":"bytes32"}],
"outputs":[{"name":"sqrtPriceX96","type":"uint160"},{"name":"tick","type":"int24"},{"name":"protocolFee","type":"uint24"},{"name":"lpFee","type":"uint24"}]}]`

const quoterABIJSON = `[{"type":"function","name":"quoteExactInputSingle","stateMutability":"nonpayable",
"inputs":[{"name":"params","type":"tuple","components":[
{"name":"tokenIn","type":"address"},{"name":"tokenOut","type":"address"},{"name":"amountIn","type":"uint256"},
{"name":"fee","type":"uint24"},{"name":"sqrtPriceLimitX96","type":"uint160"}]}],
"outputs":[{"name":"amountOut","type":"uint256"},{"name":"sqrtPriceX96After","type":"uint160"},
{"name":"initializedTicksCrossed","type":"uint32"},{"name":"gasEstimate","type":"uint256"}]}]`

const poolABIJSON = `[{"type":"function","name":"getReserveData","stateMutability":"view",
"inputs":[{"name":"asset","type":"address"}],
"outputs":[{"name":"","type":"tuple","components":[
{"name":"configuration","type":"uint256"},{"name":"liquidityIndex","type":"uint128"},
{"name":"currentLiquidityRate","type":"uint128"},{"name":"variableBorrowIndex","type":"uint128"},
{"name":"currentVariableBorrowRate","type":"uint128"},{"name":"currentStableBorrowRate","type":"uint128"},
{"name":"lastUpdateTimestamp","type":"uint40"},{"name":"id","type":"uint16"},
{"name":"aTokenAddress","type":"address"},{"name":"stableDebtTokenAddress","type":"address"},
{"name":"variableDebtTokenAddress","type":"address"},{"name":"interestRateStrategyAddress","type":"address"},
{"name":"accruedToTreasuryScaled","type":"uint128"},{"name":"unbacked","type":"uint128"},
{"name":"isolationModeTotalDebt","type":"uint128"}]}]}]`

const positionManagerABIJSON = `[{"type":"function","name":"modifyLiquidities","stateMutability":"payable",
"inputs":[{"name":"unlockData","type":"bytes"},{"name":"deadline","type":"uint256"}],"outputs":[]}]`

var (
	stateViewABI       = mustParseABI(stateViewABIJSON)
	quoterABI          = mustParseABI(quoterABIJSON)
	lendingPoolABI     = mustParseABI(poolABIJSON)
	positionManagerABI = mustParseABI(positionManagerABIJSON)
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("workflow: parse abi: %v", err))
	}
	return parsed
}

// Slot0 is the subset of pool state used for price limits and sizing.
type Slot0 struct {
	SqrtPriceX96 *big.Int
	Tick         int32
}

// readSlot0 calls StateView.getSlot0(poolId).
func (rt *Runtime) readSlot0(ctx context.Context, chain string, stateView common.Address, poolID common.Hash) (Slot0, error) {
	data, err := stateViewABI.Pack("getSlot0", poolID)
	if err != nil {
		return Slot0{}, fmt.Errorf("pack getSlot0: %w", err)
	}
	raw, err := rt.call(ctx, chain, stateView, data)
	if err != nil {
		return Slot0{}, err
	}
	out, err := stateViewABI.Unpack("getSlot0", raw)
	if err != nil {
		return Slot0{}, xerrors.Wrap(xerrors.CodeInvalidCollaboratorResponse, err, "decode getSlot0")
	}
	price, ok := out[0].(*big.Int)
	if !ok {
		return Slot0{}, xerrors.Newf(xerrors.CodeInvalidCollaboratorResponse, "getSlot0: unexpected sqrtPriceX96 type %T", out[0])
	}
	tick, ok := out[1].(*big.Int)
	if !ok {
		return Slot0{}, xerrors.Newf(xerrors.CodeInvalidCollaboratorResponse, "getSlot0: unexpected tick type %T", out[1])
	}
	return Slot0{SqrtPriceX96: price, Tick: int32(tick.Int64())}, nil
}

type quoteParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	AmountIn          *big.Int
	Fee               *big.Int
	SqrtPriceLimitX96 *big.Int
}

// quoteExactInput calls QuoterV2.quoteExactInputSingle and returns amountOut.
// The quoter uses the V3-style interface, so its quote may come from a
// different venue than the V4 pool the swap executes against; the derived
// minimum is a bound, not a prediction for that pool.
func (rt *Runtime) quoteExactInput(ctx context.Context, chain string, quoter common.Address, p quoteParams) (*big.Int, error) {
	data, err := quoterABI.Pack("quoteExactInputSingle", p)
	if err != nil {
		return nil, fmt.Errorf("pack quoteExactInputSingle: %w", err)
	}
	raw, err := rt.call(ctx, chain, quoter, data)
	if err != nil {
		return nil, err
	}
	out, err := quoterABI.Unpack("quoteExactInputSingle", raw)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidCollaboratorResponse, err, "decode quoteExactInputSingle")
	}
	amountOut, ok := out[0].(*big.Int)
	if !ok {
		return nil, xerrors.Newf(xerrors.CodeInvalidCollaboratorResponse, "quote: unexpected amountOut type %T", out[0])
	}
	return amountOut, nil
}

// readATokenAddress calls Pool.getReserveData(asset) and returns aTokenAddress.
func (rt *Runtime) readATokenAddress(ctx context.Context, chain string, pool, asset common.Address) (common.Address, error) {
	data, err := lendingPoolABI.Pack("getReserveData", asset)
	if err != nil {
		return common.Address{}, fmt.Errorf("pack getReserveData: %w", err)
	}
	raw, err := rt.call(ctx, chain, pool, data)
	if err != nil {
		return common.Address{}, err
	}
	out, err := lendingPoolABI.Unpack("getReserveData", raw)
	if err != nil {
		return common.Address{}, xerrors.Wrap(xerrors.CodeInvalidCollaboratorResponse, err, "decode getReserveData")
	}
	// The tuple decodes into a generated struct; fields follow the ABI names.
	field := reflect.ValueOf(out[0]).FieldByName("ATokenAddress")
	if !field.IsValid() {
		return common.Address{}, xerrors.New(xerrors.CodeInvalidCollaboratorResponse, "getReserveData: aTokenAddress missing")
	}
	aToken, ok := field.Interface().(common.Address)
	if !ok {
		return common.Address{}, xerrors.Newf(xerrors.CodeInvalidCollaboratorResponse, "getReserveData: unexpected aTokenAddress type %s", field.Type())
	}
	if aToken == (common.Address{}) {
		return common.Address{}, xerrors.Newf(xerrors.CodeInvalidCollaboratorResponse, "no aToken registered for asset %s", asset.Hex())
	}
	return aToken, nil
}
