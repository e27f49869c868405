package oracle

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"flowforge/internal/capability"
	xerrors "flowforge/internal/errors"
)

const aggregatorABIJSON = `[
  {"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
  {"type":"function","name":"description","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
  {"type":"function","name":"latestRoundData","stateMutability":"view","inputs":[],"outputs":[
    {"name":"roundId","type":"uint80"},
    {"name":"answer","type":"int256"},
    {"name":"startedAt","type":"uint256"},
    {"name":"updatedAt","type":"uint256"},
    {"name":"answeredInRound","type":"uint80"}
  ]}
]`

var aggregatorABI = mustParseABI(aggregatorABIJSON)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("oracle: parse aggregator abi: %v", err))
	}
	return parsed
}

// Reading is one aggregator round. It is fetched fresh for every read.
type Reading struct {
	RoundID         *big.Int
	Answer          *big.Int
	Decimals        uint8
	StartedAt       uint64
	UpdatedAt       uint64
	AnsweredInRound *big.Int
}

// Feed identifies an aggregator on a chain.
type Feed struct {
	Name    string
	Chain   string
	Address common.Address
}

// Reader fetches aggregator state through a ContractReader.
type Reader struct {
	contracts capability.ContractReader
}

// NewReader wraps a ContractReader.
func NewReader(contracts capability.ContractReader) *Reader {
	return &Reader{contracts: contracts}
}

// Decimals reads decimals().
func (r *Reader) Decimals(ctx context.Context, feed Feed) (uint8, error) {
	out, err := r.call(ctx, feed, "decimals")
	if err != nil {
		return 0, err
	}
	v, ok := out[0].(uint8)
	if !ok {
		return 0, invalidResponse(feed, "decimals", fmt.Errorf("unexpected type %T", out[0]))
	}
	return v, nil
}

// Description reads description().
func (r *Reader) Description(ctx context.Context, feed Feed) (string, error) {
	out, err := r.call(ctx, feed, "description")
	if err != nil {
		return "", err
	}
	v, ok := out[0].(string)
	if !ok {
		return "", invalidResponse(feed, "description", fmt.Errorf("unexpected type %T", out[0]))
	}
	return v, nil
}

// LatestRound reads decimals() and latestRoundData() and combines them.
func (r *Reader) LatestRound(ctx context.Context, feed Feed) (Reading, error) {
	decimals, err := r.Decimals(ctx, feed)
	if err != nil {
		return Reading{}, err
	}
	out, err := r.invoke(ctx, feed, "latestRoundData", PackLatestRoundData())
	if err != nil {
		return Reading{}, err
	}
	reading, err := roundFromOutputs(out)
	if err != nil {
		return Reading{}, invalidResponse(feed, "latestRoundData", err)
	}
	reading.Decimals = decimals
	return reading, nil
}

func (r *Reader) call(ctx context.Context, feed Feed, method string) ([]any, error) {
	data, err := aggregatorABI.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	return r.invoke(ctx, feed, method, data)
}

func (r *Reader) invoke(ctx context.Context, feed Feed, method string, data []byte) ([]any, error) {
	if r == nil || r.contracts == nil {
		return nil, xerrors.New(xerrors.CodeMissingConfiguration, "contract reader not configured")
	}
	raw, err := r.contracts.CallContract(ctx, capability.CallMsg{Chain: feed.Chain, To: feed.Address, Data: data})
	if err != nil {
		return nil, fmt.Errorf("call %s on %s: %w", method, feed.Address.Hex(), err)
	}
	out, err := aggregatorABI.Unpack(method, raw)
	if err != nil {
		return nil, invalidResponse(feed, method, err)
	}
	if len(out) == 0 {
		return nil, invalidResponse(feed, method, fmt.Errorf("empty output"))
	}
	return out, nil
}

func roundFromOutputs(out []any) (Reading, error) {
	if len(out) != 5 {
		return Reading{}, fmt.Errorf("expected 5 outputs, got %d", len(out))
	}
	ints := make([]*big.Int, 5)
	for i, v := range out {
		b, ok := v.(*big.Int)
		if !ok {
			return Reading{}, fmt.Errorf("output %d has type %T", i, v)
		}
		ints[i] = b
	}
	if !ints[2].IsUint64() || !ints[3].IsUint64() {
		return Reading{}, fmt.Errorf("timestamps exceed uint64")
	}
	return Reading{
		RoundID:         ints[0],
		Answer:          ints[1],
		StartedAt:       ints[2].Uint64(),
		UpdatedAt:       ints[3].Uint64(),
		AnsweredInRound: ints[4],
	}, nil
}

func invalidResponse(feed Feed, method string, cause error) error {
	return xerrors.Wrap(xerrors.CodeInvalidCollaboratorResponse, cause,
		fmt.Sprintf("decode %s from %s", method, feed.Address.Hex()),
		xerrors.WithMetadata("feed", feed.Name),
	)
}

// PackLatestRoundData returns the calldata for latestRoundData().
func PackLatestRoundData() []byte {
	data, _ := aggregatorABI.Pack("latestRoundData")
	return data
}

// EncodeRound produces latestRoundData() return data.
func EncodeRound(r Reading) ([]byte, error) {
	return aggregatorABI.Methods["latestRoundData"].Outputs.Pack(
		r.RoundID, r.Answer,
		new(big.Int).SetUint64(r.StartedAt), new(big.Int).SetUint64(r.UpdatedAt),
		r.AnsweredInRound,
	)
}

// EncodeDecimals produces decimals() return data.
func EncodeDecimals(d uint8) ([]byte, error) {
	return aggregatorABI.Methods["decimals"].Outputs.Pack(d)
}

// EncodeDescription produces description() return data.
func EncodeDescription(s string) ([]byte, error) {
	return aggregatorABI.Methods["description"].Outputs.Pack(s)
}

// MethodID reports which aggregator method the calldata selects.
func MethodID(data []byte) (string, bool) {
	if len(data) < 4 {
		return "", false
	}
	m, err := aggregatorABI.MethodById(data[:4])
	if err != nil {
		return "", false
	}
	return m.Name, true
}
