package workflow

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"flowforge/internal/amount"
	"flowforge/internal/encoding"
	xerrors "flowforge/internal/errors"
	"flowforge/internal/outcome"
)

// Lending operation codes understood by the lending receiver.
const (
	OpSupply   uint8 = 0
	OpWithdraw uint8 = 1
	OpBorrow   uint8 = 2
	OpRepay    uint8 = 3
)

const (
	rateModeStable   = 1
	rateModeVariable = 2
)

var defaultLendingPools = map[string]string{
	"ARBITRUM":         "0x794a61358D6845594F94dc1DB02A252b5b4814aD",
	"ARBITRUM_SEPOLIA": "0xBfC91D59fdAA134A4ED45f7B584cAf96D7792Eff",
}

var lendingOps = map[string]uint8{
	"SUPPLY":   OpSupply,
	"WITHDRAW": OpWithdraw,
	"BORROW":   OpBorrow,
	"REPAY":    OpRepay,
}

// LendingConfig configures the Aave lending workflow.
type LendingConfig struct {
	Chain               string       `json:"chain"`
	ChainSelectorName   string       `json:"chainSelectorName"`
	AaveReceiverAddress string       `json:"aaveReceiverAddress"`
	PoolAddress         string       `json:"poolAddress,omitempty"`
	GasLimit            string       `json:"gasLimit"`
	InputConfig         LendingInput `json:"inputConfig"`
}

// LendingInput is the intent part of a lending config.
type LendingInput struct {
	Operation        string       `json:"operation"`
	Asset            LendingAsset `json:"asset"`
	Amount           string       `json:"amount"`
	WalletAddress    string       `json:"walletAddress"`
	InterestRateMode string       `json:"interestRateMode,omitempty"`
	OnBehalfOf       string       `json:"onBehalfOf,omitempty"`
	ReferralCode     *uint16      `json:"referralCode,omitempty"`
}

// LendingAsset is a reserve asset. ATokenAddress is only needed for
// withdrawals and is looked up when absent.
type LendingAsset struct {
	Token
	ATokenAddress string `json:"aTokenAddress,omitempty"`
}

func (c LendingConfig) pool() string {
	if strings.TrimSpace(c.PoolAddress) != "" {
		return c.PoolAddress
	}
	return defaultLendingPools[c.Chain]
}

func interestRateMode(mode string) int {
	if mode == "STABLE" {
		return rateModeStable
	}
	return rateModeVariable
}

// RunLending executes one Aave pool operation through the lending receiver.
func RunLending(ctx context.Context, rt *Runtime, params json.RawMessage, override []byte) Output {
	cfg, err := decodeParams[LendingConfig](rt, params, override)
	if err != nil {
		return writeOutput(outcome.Result{}, err)
	}
	res, err := runLending(ctx, rt, cfg)
	res.Operation = cfg.InputConfig.Operation
	res.Amount = cfg.InputConfig.Amount
	return writeOutput(res, err)
}

func runLending(ctx context.Context, rt *Runtime, cfg LendingConfig) (outcome.Result, error) {
	in := cfg.InputConfig
	receiver, err := requireAddress(cfg.AaveReceiverAddress, "aaveReceiverAddress is required; deploy AaveReceiver and set in config")
	if err != nil {
		return outcome.Result{}, err
	}
	if in.Operation == "ENABLE_COLLATERAL" || in.Operation == "DISABLE_COLLATERAL" {
		return outcome.Result{}, xerrors.New(xerrors.CodeInvalidArgument,
			"ENABLE_COLLATERAL and DISABLE_COLLATERAL must be called directly by the user; use Pool.setUserUseReserveAsCollateral(asset, useAsCollateral)")
	}
	op, ok := lendingOps[in.Operation]
	if !ok {
		return outcome.Result{}, xerrors.Newf(xerrors.CodeInvalidArgument, "unsupported operation %q", in.Operation)
	}
	pool, err := requireAddress(cfg.pool(), "poolAddress not configured for chain: "+cfg.Chain)
	if err != nil {
		return outcome.Result{}, err
	}
	gasLimit, err := parseGasLimit(cfg.GasLimit)
	if err != nil {
		return outcome.Result{}, err
	}
	asset, err := requireAddress(in.Asset.Address, "asset.address is required")
	if err != nil {
		return outcome.Result{}, err
	}
	wallet, err := requireAddress(in.WalletAddress, "walletAddress is required")
	if err != nil {
		return outcome.Result{}, err
	}
	onBehalfOf := wallet
	if strings.TrimSpace(in.OnBehalfOf) != "" {
		if onBehalfOf, err = parseAddress(in.OnBehalfOf); err != nil {
			return outcome.Result{}, err
		}
	}
	value, err := amount.ParseRaw(in.Amount)
	if err != nil {
		return outcome.Result{}, err
	}
	var referral uint16
	if in.ReferralCode != nil {
		referral = *in.ReferralCode
	}

	chain := cfg.ChainSelectorName
	aToken, err := parseAddress(in.Asset.ATokenAddress)
	if err != nil {
		return outcome.Result{}, err
	}
	if op == OpWithdraw && aToken == (common.Address{}) {
		if aToken, err = rt.readATokenAddress(ctx, chain, pool, asset); err != nil {
			return outcome.Result{}, err
		}
	}

	logger := rt.log().With("chain", chain, "workflow", "aave", "operation", in.Operation)
	logger.Info("aave operation",
		"asset", asset.Hex(),
		"amount", value.String(),
		"wallet", wallet.Hex(),
		"onBehalfOf", onBehalfOf.Hex(),
	)

	tx, err := rt.submit(ctx, chain, receiver, gasLimit, encoding.Descriptor{
		Kind: encoding.KindLending,
		Values: map[string]any{
			"operation":        op,
			"poolAddress":      pool,
			"asset":            asset,
			"amount":           value,
			"walletAddress":    wallet,
			"onBehalfOf":       onBehalfOf,
			"interestRateMode": interestRateMode(in.InterestRateMode),
			"referralCode":     referral,
			"aTokenAddress":    aToken,
		},
	})
	if err != nil {
		return outcome.Result{}, err
	}
	res := outcome.Classify(tx)
	if res.Success {
		logger.Info("aave tx succeeded", "txHash", res.TxHash)
	}
	return res, nil
}
