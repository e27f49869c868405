// Package lifi is a small client for the LI.FI quote API. A quote carries a
// ready-made transaction request that the call receiver contract executes.
package lifi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"

	"flowforge/internal/amount"
	xerrors "flowforge/internal/errors"
)

const (
	// DefaultBaseURL is the public LI.FI endpoint.
	DefaultBaseURL = "https://li.quest"
	// DefaultIntegrator identifies quotes requested by this service.
	DefaultIntegrator = "flowforge-cre-template"
	// DefaultHTTPTimeout bounds a single quote request.
	DefaultHTTPTimeout = 15 * time.Second
)

// DefaultSlippagePercent applies when a request leaves slippage unset.
var DefaultSlippagePercent = decimal.NewFromFloat(0.5)

// ChainID maps a configured chain name to the LI.FI chain id. Unknown names
// fall back to Arbitrum One.
func ChainID(chain string) uint64 {
	switch chain {
	case "ARBITRUM_SEPOLIA":
		return 421614
	default:
		return 42161
	}
}

// QuoteRequest describes a same-chain swap quote.
type QuoteRequest struct {
	Chain           string
	FromToken       string
	ToToken         string
	FromAmount      string
	FromAddress     string
	SlippagePercent *decimal.Decimal
	Integrator      string
}

// TransactionRequest is the transaction LI.FI expects to be sent.
type TransactionRequest struct {
	To    string `json:"to"`
	Data  string `json:"data"`
	Value string `json:"value"`
}

// Estimate carries the expected output of a quote.
type Estimate struct {
	FromAmount  string `json:"fromAmount"`
	ToAmount    string `json:"toAmount"`
	ToAmountMin string `json:"toAmountMin"`
}

// Quote is the subset of the quote response used downstream.
type Quote struct {
	Tool               string              `json:"tool"`
	TransactionRequest *TransactionRequest `json:"transactionRequest"`
	Estimate           *Estimate           `json:"estimate"`
}

// Call is a validated transaction request ready for encoding.
type Call struct {
	Target   common.Address
	CallData []byte
	Value    *big.Int
	ToAmount string
}

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Code       json.Number `json:"code"`
	Message    string      `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("lifi api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("lifi api error (%d): %s", e.StatusCode, e.Message)
}

// Client requests quotes from LI.FI.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// NewClient builds a client for rawURL, defaulting to the public endpoint.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	if strings.TrimSpace(rawURL) == "" {
		rawURL = DefaultBaseURL
	}
	parsed, err := url.Parse(strings.TrimRight(rawURL, "/"))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "invalid quote url")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// QueryValues renders the quote query string parameters.
func (r QuoteRequest) QueryValues() url.Values {
	chainID := fmt.Sprintf("%d", ChainID(r.Chain))
	slippage := DefaultSlippagePercent
	if r.SlippagePercent != nil && r.SlippagePercent.IsPositive() {
		slippage = *r.SlippagePercent
	}
	integrator := r.Integrator
	if integrator == "" {
		integrator = DefaultIntegrator
	}
	values := url.Values{}
	values.Set("fromChain", chainID)
	values.Set("toChain", chainID)
	values.Set("fromToken", r.FromToken)
	values.Set("toToken", r.ToToken)
	values.Set("fromAmount", r.FromAmount)
	values.Set("fromAddress", r.FromAddress)
	values.Set("slippage", amount.SlippageFraction(slippage))
	values.Set("integrator", integrator)
	return values
}

// Quote fetches a quote. Transport failures are returned as plain errors;
// non-2xx statuses and undecodable bodies carry INVALID_COLLABORATOR_RESPONSE.
func (c *Client) Quote(ctx context.Context, req QuoteRequest) (Quote, error) {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/quote"
	u.RawQuery = req.QueryValues().Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Quote{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Quote{}, fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Quote{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		_ = json.Unmarshal(data, apiErr)
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return Quote{}, xerrors.Wrap(xerrors.CodeInvalidCollaboratorResponse, apiErr, "quote request rejected")
	}

	var quote Quote
	if err := json.Unmarshal(data, &quote); err != nil {
		return Quote{}, xerrors.Wrap(xerrors.CodeInvalidCollaboratorResponse, err, "decode quote response")
	}
	return quote, nil
}

// Call validates the transaction request of a quote.
func (q Quote) Call() (Call, error) {
	tx := q.TransactionRequest
	if tx == nil || strings.TrimSpace(tx.To) == "" || strings.TrimSpace(tx.Data) == "" {
		return Call{}, xerrors.New(xerrors.CodeInvalidCollaboratorResponse,
			"LI.FI response did not include valid transactionRequest data. Check token config.")
	}
	if !common.IsHexAddress(tx.To) {
		return Call{}, xerrors.Newf(xerrors.CodeInvalidCollaboratorResponse, "transactionRequest.to %q is not an address", tx.To)
	}
	callData, err := hexutil.Decode(tx.Data)
	if err != nil {
		return Call{}, xerrors.Wrap(xerrors.CodeInvalidCollaboratorResponse, err, "transactionRequest.data is not hex")
	}
	value := new(big.Int)
	if raw := strings.TrimSpace(tx.Value); raw != "" {
		// LI.FI sends the value as 0x-prefixed hex; decimal is accepted too.
		if _, ok := value.SetString(raw, 0); !ok || value.Sign() < 0 {
			return Call{}, xerrors.Newf(xerrors.CodeInvalidCollaboratorResponse, "transactionRequest.value %q is not an integer", tx.Value)
		}
	}
	toAmount := "0"
	if q.Estimate != nil && q.Estimate.ToAmount != "" {
		toAmount = q.Estimate.ToAmount
	}
	return Call{Target: common.HexToAddress(tx.To), CallData: callData, Value: value, ToAmount: toAmount}, nil
}

// IsNativeToken reports whether addr denotes the chain's native asset.
func IsNativeToken(addr string) bool {
	lower := strings.ToLower(strings.TrimSpace(addr))
	return lower == "0x0000000000000000000000000000000000000000" ||
		lower == "0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee"
}

// ExplorerLink returns the block explorer URL for a transaction hash.
func ExplorerLink(chain, txHash string) string {
	if !strings.HasPrefix(txHash, "0x") {
		txHash = "0x" + txHash
	}
	if chain == "ARBITRUM" {
		return "https://arbiscan.io/tx/" + txHash
	}
	return "https://sepolia.arbiscan.io/tx/" + txHash
}
