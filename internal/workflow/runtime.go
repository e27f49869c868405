// Package workflow turns configured intents into on-chain or off-chain
// actions. Each workflow kind is one sequential pipeline over the numeric
// core; collaborators are injected through Runtime.
package workflow

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"flowforge/internal/capability"
	"flowforge/internal/config"
	"flowforge/internal/encoding"
	xerrors "flowforge/internal/errors"
	"flowforge/internal/outcome"
	"flowforge/internal/web3"
)

// Runtime bundles the collaborators a workflow may use.
type Runtime struct {
	Contracts capability.ContractReader
	Signer    capability.ReportSigner
	Writer    capability.ReportWriter
	Secrets   capability.SecretStore
	HTTP      *http.Client
	Clock     capability.Clock
	Logger    *slog.Logger
}

func (rt *Runtime) now() uint64 {
	clock := rt.Clock
	if clock == nil {
		clock = capability.SystemClock{}
	}
	return uint64(clock.Now().Unix())
}

func (rt *Runtime) log() *slog.Logger {
	if rt.Logger == nil {
		return slog.Default()
	}
	return rt.Logger
}

// Output is what a workflow run produces. Value is the JSON body handed back
// to the trigger; Err is the first failure, already reflected in Value.
type Output struct {
	Value any
	Err   error
}

// Succeeded reports whether the run completed without failure.
func (o Output) Succeeded() bool { return o.Err == nil }

// JSON renders Value.
func (o Output) JSON() (json.RawMessage, error) {
	return json.Marshal(o.Value)
}

// writeOutput turns a write result into an Output. A non-nil err marks the
// result failed with the error's message.
func writeOutput(res outcome.Result, err error) Output {
	if err != nil {
		res.Success = false
		res.Error = xerrors.MessageOf(err)
		return Output{Value: res, Err: err}
	}
	if !res.Success {
		return Output{Value: res, Err: xerrors.New(xerrors.CodeNonSuccessSettlement, res.Error)}
	}
	return Output{Value: res}
}

// decodeParams decodes base params into T and applies the trigger override.
// A malformed override is logged and ignored.
func decodeParams[T any](rt *Runtime, params json.RawMessage, override []byte) (T, error) {
	var cfg T
	if len(params) > 0 {
		if err := json.Unmarshal(params, &cfg); err != nil {
			return cfg, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "decode workflow params")
		}
	}
	if len(override) == 0 {
		return cfg, nil
	}
	merged, err := config.MergeOverride(cfg, override)
	if err != nil {
		rt.log().Warn("ignoring malformed override; using base config", "error", err)
		return cfg, nil
	}
	return merged, nil
}

// submit encodes the descriptor, signs it and delivers it to receiver.
func (rt *Runtime) submit(ctx context.Context, chain string, receiver common.Address, gasLimit uint64, d encoding.Descriptor) (outcome.TxOutcome, error) {
	if rt.Signer == nil || rt.Writer == nil {
		return outcome.TxOutcome{}, xerrors.New(xerrors.CodeMissingConfiguration, "report signer and writer are required for write workflows")
	}
	payload, err := encoding.Encode(d)
	if err != nil {
		return outcome.TxOutcome{}, err
	}
	report, err := rt.Signer.SignReport(ctx, payload)
	if err != nil {
		return outcome.TxOutcome{}, err
	}
	return rt.Writer.WriteReport(ctx, capability.WriteRequest{
		Chain:    chain,
		Receiver: receiver,
		Report:   report,
		GasLimit: gasLimit,
	})
}

// call performs a read-only call, failing early when no reader is wired.
func (rt *Runtime) call(ctx context.Context, chain string, to common.Address, data []byte) ([]byte, error) {
	if rt.Contracts == nil {
		return nil, xerrors.New(xerrors.CodeMissingConfiguration, "contract reader not configured")
	}
	return rt.Contracts.CallContract(ctx, capability.CallMsg{Chain: chain, To: to, Data: data})
}

// Token is a token reference as it appears in workflow configs.
type Token struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol,omitempty"`
	Decimals *uint8 `json:"decimals,omitempty"`
}

func requireAddress(value, message string) (common.Address, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return common.Address{}, xerrors.New(xerrors.CodeMissingConfiguration, message)
	}
	return parseAddress(value)
}

func parseAddress(value string) (common.Address, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(value) {
		return common.Address{}, xerrors.Newf(xerrors.CodeInvalidArgument, "invalid address %q", value)
	}
	return common.HexToAddress(value), nil
}

func parseGasLimit(value string) (uint64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	n, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "invalid gasLimit")
	}
	return n, nil
}

func isTestnet(chain string) bool { return web3.IsTestnet(chain) }
