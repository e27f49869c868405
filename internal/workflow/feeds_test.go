package workflow

import (
	"encoding/json"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	xerrors "flowforge/internal/errors"
	"flowforge/internal/oracle"
)

var (
	ethUSD = common.HexToAddress("0x639Fe6ab55C921f74e7fac1ee960C0B6293ba612")
	btcUSD = common.HexToAddress("0x6ce185860a4963106506C203335A2910413708e9")
)

func aggregatorHandler(t *testing.T, round oracle.Reading, description string) callHandler {
	return func(data []byte) ([]byte, error) {
		method, ok := oracle.MethodID(data)
		require.True(t, ok)
		switch method {
		case "decimals":
			return oracle.EncodeDecimals(round.Decimals)
		case "latestRoundData":
			return oracle.EncodeRound(round)
		case "description":
			if description == "" {
				return nil, errors.New("execution reverted")
			}
			return oracle.EncodeDescription(description)
		}
		return nil, errors.New("unexpected method " + method)
	}
}

func reading(answer int64, updatedAt uint64) oracle.Reading {
	return oracle.Reading{
		RoundID:         big.NewInt(1_000_042),
		Answer:          big.NewInt(answer),
		Decimals:        8,
		StartedAt:       updatedAt,
		UpdatedAt:       updatedAt,
		AnsweredInRound: big.NewInt(1_000_042),
	}
}

func feedParams(t *testing.T, cfg FeedsConfig) json.RawMessage {
	raw, err := json.Marshal(cfg)
	require.NoError(t, err)
	return raw
}

func TestRunFeedsReadsEveryFeed(t *testing.T) {
	chain := newStubChain().
		on(ethUSD, aggregatorHandler(t, reading(200012345678, uint64(testNow-60)), "ETH / USD")).
		on(btcUSD, aggregatorHandler(t, reading(6500000000000, uint64(testNow-30)), ""))
	rt := newTestRuntime(chain, nil)

	out := RunFeeds(t.Context(), rt, feedParams(t, FeedsConfig{
		ChainName: "ethereum-testnet-sepolia-arbitrum-1",
		Feeds: []FeedConfig{
			{Name: "ETH/USD", Address: ethUSD.Hex()},
			{Name: "BTC/USD", Address: btcUSD.Hex()},
		},
	}), nil)

	require.NoError(t, out.Err)
	readings, ok := out.Value.([]FeedReading)
	require.True(t, ok)
	require.Len(t, readings, 2)

	eth := readings[0]
	require.Equal(t, "CHAINLINK", eth.Provider)
	require.Equal(t, "ETH / USD", eth.Description)
	require.Equal(t, uint8(8), eth.Decimals)
	require.Equal(t, "200012345678", eth.Answer)
	require.Equal(t, "2000.12345678", eth.FormattedAnswer)
	require.Empty(t, eth.Error)

	btc := readings[1]
	require.Empty(t, btc.Description, "description failures are ignored")
	require.Equal(t, "65000.00000000", btc.FormattedAnswer)
}

func TestRunFeedsRecordsPerFeedErrors(t *testing.T) {
	window := uint64(3600)
	chain := newStubChain().
		on(ethUSD, aggregatorHandler(t, reading(200000000000, uint64(testNow-7200)), "ETH / USD")).
		on(btcUSD, aggregatorHandler(t, reading(6500000000000, uint64(testNow-10)), "BTC / USD"))
	rt := newTestRuntime(chain, nil)

	out := RunFeeds(t.Context(), rt, feedParams(t, FeedsConfig{
		ChainName:         "ethereum-mainnet-arbitrum-1",
		StaleAfterSeconds: &window,
		Feeds: []FeedConfig{
			{Name: "ETH/USD", Address: ethUSD.Hex()},
			{Name: "BROKEN", Address: "0x0000000000000000000000000000000000000bad"},
			{Name: "BTC/USD", Address: btcUSD.Hex()},
		},
	}), nil)

	require.NoError(t, out.Err, "a partial failure is not a run failure")
	readings := out.Value.([]FeedReading)
	require.Len(t, readings, 3)
	require.Contains(t, readings[0].Error, "stale")
	require.Empty(t, readings[0].Answer)
	require.NotEmpty(t, readings[1].Error)
	require.Empty(t, readings[2].Error)
	require.Equal(t, "6500000000000", readings[2].Answer)
}

func TestRunFeedsAllFailed(t *testing.T) {
	rt := newTestRuntime(newStubChain(), nil)
	out := RunFeeds(t.Context(), rt, feedParams(t, FeedsConfig{
		ChainName: "ethereum-mainnet-arbitrum-1",
		Feeds:     []FeedConfig{{Name: "ETH/USD", Address: ethUSD.Hex()}},
	}), nil)
	require.Error(t, out.Err)
	require.Len(t, out.Value.([]FeedReading), 1)
}

func TestRunFeedsRequiresChain(t *testing.T) {
	rt := newTestRuntime(newStubChain(), nil)
	out := RunFeeds(t.Context(), rt, feedParams(t, FeedsConfig{}), nil)
	require.Equal(t, xerrors.CodeMissingConfiguration, xerrors.CodeOf(out.Err))
}

func TestRunFeedsOverrideReplacesFeedList(t *testing.T) {
	chain := newStubChain().
		on(btcUSD, aggregatorHandler(t, reading(6500000000000, uint64(testNow)), "BTC / USD"))
	rt := newTestRuntime(chain, nil)
	base := feedParams(t, FeedsConfig{
		ChainName: "ethereum-mainnet-arbitrum-1",
		Feeds:     []FeedConfig{{Name: "ETH/USD", Address: ethUSD.Hex()}},
	})

	out := RunFeeds(t.Context(), rt, base, []byte(`{"feeds":[{"name":"BTC/USD","address":"`+btcUSD.Hex()+`"}]}`))
	require.NoError(t, out.Err)
	readings := out.Value.([]FeedReading)
	require.Len(t, readings, 1)
	require.Equal(t, btcUSD.Hex(), readings[0].AggregatorAddress)
}
