package workflow

import (
	"context"
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"flowforge/internal/amount"
	"flowforge/internal/encoding"
	xerrors "flowforge/internal/errors"
	"flowforge/internal/offchain/lifi"
	"flowforge/internal/outcome"
)

// AggregatorSwapConfig configures the LI.FI aggregator swap workflow.
type AggregatorSwapConfig struct {
	Chain               string              `json:"chain"`
	ChainSelectorName   string              `json:"chainSelectorName"`
	SwapReceiverAddress string              `json:"swapReceiverAddress"`
	GasLimit            string              `json:"gasLimit"`
	QuoteURL            string              `json:"quoteUrl,omitempty"`
	Integrator          string              `json:"integrator,omitempty"`
	InputConfig         AggregatorSwapInput `json:"inputConfig"`
}

// AggregatorSwapInput is the intent part of an aggregator swap config.
type AggregatorSwapInput struct {
	SourceToken       Token            `json:"sourceToken"`
	DestinationToken  Token            `json:"destinationToken"`
	Amount            string           `json:"amount"`
	SwapType          string           `json:"swapType"`
	WalletAddress     string           `json:"walletAddress"`
	SlippageTolerance *decimal.Decimal `json:"slippageTolerance,omitempty"`
}

// RunAggregatorSwap fetches a LI.FI quote and hands its transaction request
// to the call receiver.
func RunAggregatorSwap(ctx context.Context, rt *Runtime, params json.RawMessage, override []byte) Output {
	cfg, err := decodeParams[AggregatorSwapConfig](rt, params, override)
	if err != nil {
		return writeOutput(outcome.Result{}, err)
	}
	res, err := runAggregatorSwap(ctx, rt, cfg)
	res.AmountIn = cfg.InputConfig.Amount
	return writeOutput(res, err)
}

func runAggregatorSwap(ctx context.Context, rt *Runtime, cfg AggregatorSwapConfig) (outcome.Result, error) {
	in := cfg.InputConfig
	receiver, err := requireAddress(cfg.SwapReceiverAddress, "swapReceiverAddress is required; deploy LifiReceiver and set in config")
	if err != nil {
		return outcome.Result{}, err
	}
	gasLimit, err := parseGasLimit(cfg.GasLimit)
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
	tokenIn := common.Address{}
	if !lifi.IsNativeToken(in.SourceToken.Address) {
		if tokenIn, err = requireAddress(in.SourceToken.Address, "sourceToken.address is required"); err != nil {
			return outcome.Result{}, err
		}
	}

	logger := rt.log().With("chain", cfg.ChainSelectorName, "workflow", "lifi")
	client, err := lifi.NewClient(cfg.QuoteURL, rt.HTTP)
	if err != nil {
		return outcome.Result{}, err
	}
	logger.Info("fetching quote from LI.FI")
	quote, err := client.Quote(ctx, lifi.QuoteRequest{
		Chain:           cfg.Chain,
		FromToken:       in.SourceToken.Address,
		ToToken:         in.DestinationToken.Address,
		FromAmount:      in.Amount,
		FromAddress:     in.WalletAddress,
		SlippagePercent: in.SlippageTolerance,
		Integrator:      cfg.Integrator,
	})
	if err != nil {
		code := xerrors.CodeOf(err)
		if code == xerrors.CodeUnknown {
			code = xerrors.CodeInvalidCollaboratorResponse
		}
		logger.Warn("quote request failed", "error", err)
		return outcome.Result{}, xerrors.New(code, "Failed to fetch quote: "+xerrors.MessageOf(err))
	}
	call, err := quote.Call()
	if err != nil {
		return outcome.Result{}, err
	}
	logger.Info("quote received", "tool", quote.Tool, "expectedOutput", call.ToAmount, "target", call.Target.Hex())

	tx, err := rt.submit(ctx, cfg.ChainSelectorName, receiver, gasLimit, encoding.Descriptor{
		Kind: encoding.KindCall,
		Values: map[string]any{
			"target":    call.Target,
			"callData":  call.CallData,
			"value":     call.Value,
			"tokenIn":   tokenIn,
			"amountIn":  amountIn,
			"recipient": recipient,
		},
	})
	if err != nil {
		return outcome.Result{}, err
	}
	res := outcome.Classify(tx)
	if !res.Success {
		return res, nil
	}
	res.AmountOut = call.ToAmount
	if res.TxHash != "" {
		logger.Info("swap executed", "txHash", res.TxHash, "explorer", lifi.ExplorerLink(cfg.Chain, res.TxHash))
	} else {
		logger.Info("swap executed")
	}
	return res, nil
}
