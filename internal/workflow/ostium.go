package workflow

import (
	"context"
	"encoding/json"
	"strings"

	xerrors "flowforge/internal/errors"
	"flowforge/internal/offchain/ostium"
	"flowforge/internal/outcome"
	"flowforge/internal/signing"
)

// TradeConfig configures the Ostium perpetuals workflow.
type TradeConfig struct {
	Network       string         `json:"network"`
	Market        string         `json:"market"`
	Side          string         `json:"side"`
	Collateral    ostium.Number  `json:"collateral"`
	Leverage      ostium.Number  `json:"leverage"`
	TraderAddress string         `json:"traderAddress"`
	ServiceURL    string         `json:"serviceUrl"`
	SLPrice       *ostium.Number `json:"slPrice,omitempty"`
	TPPrice       *ostium.Number `json:"tpPrice,omitempty"`
	SecretID      string         `json:"secretId,omitempty"`
}

// Validate checks the enumerated fields.
func (c TradeConfig) Validate() error {
	switch c.Network {
	case "testnet", "mainnet":
	default:
		return xerrors.Newf(xerrors.CodeInvalidArgument, "network must be testnet or mainnet, got %q", c.Network)
	}
	switch c.Side {
	case "long", "short":
	default:
		return xerrors.Newf(xerrors.CodeInvalidArgument, "side must be long or short, got %q", c.Side)
	}
	if strings.TrimSpace(c.Market) == "" {
		return xerrors.New(xerrors.CodeMissingConfiguration, "market is required")
	}
	if strings.TrimSpace(c.TraderAddress) == "" {
		return xerrors.New(xerrors.CodeMissingConfiguration, "traderAddress is required")
	}
	return nil
}

func (c TradeConfig) secretID() string {
	if strings.TrimSpace(c.SecretID) != "" {
		return c.SecretID
	}
	return ostium.DefaultSecretID
}

// RunTrade opens a position through the signed trading service.
func RunTrade(ctx context.Context, rt *Runtime, params json.RawMessage, override []byte) Output {
	cfg, err := decodeParams[TradeConfig](rt, params, override)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		return writeOutput(outcome.Result{}, err)
	}
	return writeOutput(runTrade(ctx, rt, cfg))
}

func runTrade(ctx context.Context, rt *Runtime, cfg TradeConfig) (outcome.Result, error) {
	logger := rt.log().With("workflow", "ostium", "market", cfg.Market)
	logger.Info("preparing to open position",
		"side", cfg.Side,
		"collateral", cfg.Collateral.Decimal().String(),
		"leverage", cfg.Leverage.Decimal().String(),
	)
	if rt.Secrets == nil {
		return outcome.Result{}, xerrors.New(xerrors.CodeMissingConfiguration, "Missing "+cfg.secretID())
	}

	signer := signing.NewSigner(rt.Secrets, cfg.secretID(), rt.Clock)
	client, err := ostium.NewClient(cfg.ServiceURL, signer, rt.HTTP)
	if err != nil {
		return outcome.Result{}, err
	}
	resp, err := client.OpenPosition(ctx, ostium.OpenPositionRequest{
		Network:       cfg.Network,
		Market:        cfg.Market,
		Side:          cfg.Side,
		Collateral:    cfg.Collateral,
		Leverage:      cfg.Leverage,
		TraderAddress: cfg.TraderAddress,
		SLPrice:       cfg.SLPrice,
		TPPrice:       cfg.TPPrice,
	})
	if err != nil {
		if xerrors.HasCode(err, xerrors.CodeMissingConfiguration) {
			logger.Warn("signing secret is missing", "secretId", cfg.secretID())
			return outcome.Result{}, err
		}
		code := xerrors.CodeOf(err)
		if code == xerrors.CodeUnknown {
			code = xerrors.CodeInvalidCollaboratorResponse
		}
		logger.Warn("trade request failed", "error", err)
		return outcome.Result{}, xerrors.New(code, "Failed to execute request: "+xerrors.MessageOf(err))
	}

	if resp.Success {
		txHash := resp.TxHash()
		logger.Info("position opened", "txHash", txHash)
		return outcome.Result{Success: true, TxHash: txHash}, nil
	}
	msg := resp.ErrorMessage()
	logger.Warn("error opening position", "error", msg)
	return outcome.Result{Success: false, Error: msg}, nil
}
