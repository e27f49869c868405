package workflow

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"flowforge/internal/amount"
	xerrors "flowforge/internal/errors"
	"flowforge/internal/oracle"
)

// FeedsConfig configures the price feed reader.
type FeedsConfig struct {
	ChainName         string       `json:"chainName"`
	Feeds             []FeedConfig `json:"feeds"`
	StaleAfterSeconds *uint64      `json:"staleAfterSeconds,omitempty"`
}

// FeedConfig names one aggregator proxy.
type FeedConfig struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// Validate checks the parts every run needs.
func (c FeedsConfig) Validate() error {
	if strings.TrimSpace(c.ChainName) == "" {
		return xerrors.New(xerrors.CodeMissingConfiguration, "chainName is required")
	}
	return nil
}

// FeedReading is one entry of the feeds workflow output.
type FeedReading struct {
	Provider          string `json:"provider"`
	Chain             string `json:"chain"`
	AggregatorAddress string `json:"aggregatorAddress"`
	Description       string `json:"description,omitempty"`
	Decimals          uint8  `json:"decimals"`
	RoundID           string `json:"roundId"`
	AnsweredInRound   string `json:"answeredInRound"`
	StartedAt         uint64 `json:"startedAt"`
	UpdatedAt         uint64 `json:"updatedAt"`
	Answer            string `json:"answer"`
	FormattedAnswer   string `json:"formattedAnswer"`
	Error             string `json:"error,omitempty"`
}

const providerChainlink = "CHAINLINK"

// RunFeeds reads every configured feed in order. A failing feed is recorded
// in its own entry and does not stop the remaining feeds.
func RunFeeds(ctx context.Context, rt *Runtime, params json.RawMessage, override []byte) Output {
	cfg, err := decodeParams[FeedsConfig](rt, params, override)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		return Output{Value: []FeedReading{}, Err: err}
	}

	reader := oracle.NewReader(rt.Contracts)
	results := make([]FeedReading, 0, len(cfg.Feeds))
	failed := 0
	for _, f := range cfg.Feeds {
		entry := readFeed(ctx, rt, reader, cfg, f)
		if entry.Error != "" {
			failed++
		}
		results = append(results, entry)
	}

	out := Output{Value: results}
	if failed > 0 && failed == len(cfg.Feeds) {
		out.Err = xerrors.Newf(xerrors.CodeInvalidCollaboratorResponse, "all %d feeds failed", failed)
	}
	return out
}

func readFeed(ctx context.Context, rt *Runtime, reader *oracle.Reader, cfg FeedsConfig, f FeedConfig) FeedReading {
	entry := FeedReading{Provider: providerChainlink, Chain: cfg.ChainName, AggregatorAddress: f.Address}
	logger := rt.log().With("chain", cfg.ChainName, "feed", f.Name, "address", f.Address)

	addr, err := parseAddress(f.Address)
	if err == nil && addr == (common.Address{}) {
		err = xerrors.Newf(xerrors.CodeMissingConfiguration, "address is required for feed %s", f.Name)
	}
	if err != nil {
		entry.Error = xerrors.MessageOf(err)
		logger.Warn("price feed skipped", "error", entry.Error)
		return entry
	}
	feed := oracle.Feed{Name: f.Name, Chain: cfg.ChainName, Address: addr}

	reading, err := reader.LatestRound(ctx, feed)
	if err != nil {
		entry.Error = xerrors.MessageOf(err)
		logger.Warn("price feed read failed", "error", entry.Error)
		return entry
	}
	// description() is optional on some aggregators.
	if desc, err := reader.Description(ctx, feed); err == nil {
		entry.Description = desc
	}

	if err := oracle.CheckStaleness(f.Name, reading.UpdatedAt, rt.now(), cfg.StaleAfterSeconds); err != nil {
		entry.Error = xerrors.MessageOf(err)
		logger.Warn("stale price rejected", "error", entry.Error)
		return entry
	}

	entry.Decimals = reading.Decimals
	entry.RoundID = reading.RoundID.String()
	entry.AnsweredInRound = reading.AnsweredInRound.String()
	entry.StartedAt = reading.StartedAt
	entry.UpdatedAt = reading.UpdatedAt
	entry.Answer = reading.Answer.String()
	entry.FormattedAnswer = amount.ToDecimalString(reading.Answer, reading.Decimals)

	logger.Info("price feed read",
		"decimals", reading.Decimals,
		"latestAnswerRaw", entry.Answer,
		"latestAnswerScaled", entry.FormattedAnswer,
	)
	return entry
}
