// Package ostium talks to the Ostium trading service over signed HTTP.
package ostium

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	xerrors "flowforge/internal/errors"
	"flowforge/internal/signing"
)

const (
	// OpenPositionPath is the signed endpoint for opening a position.
	OpenPositionPath = "/v1/positions/open"
	// DefaultSecretID names the HMAC secret used to sign requests.
	DefaultSecretID = "OSTIUM_HMAC_SECRET"
	// DefaultHTTPTimeout bounds a single request.
	DefaultHTTPTimeout = 30 * time.Second
)

// Number is a decimal that encodes as a bare JSON number.
type Number decimal.Decimal

// NewNumber wraps d.
func NewNumber(d decimal.Decimal) Number { return Number(d) }

// Decimal returns the wrapped value.
func (n Number) Decimal() decimal.Decimal { return decimal.Decimal(n) }

// MarshalJSON implements json.Marshaler.
func (n Number) MarshalJSON() ([]byte, error) {
	return []byte(decimal.Decimal(n).String()), nil
}

// UnmarshalJSON accepts both quoted and bare numbers.
func (n *Number) UnmarshalJSON(data []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(data); err != nil {
		return err
	}
	*n = Number(d)
	return nil
}

// OpenPositionRequest mirrors the service's position open payload.
type OpenPositionRequest struct {
	Network       string  `json:"network"`
	Market        string  `json:"market"`
	Side          string  `json:"side"`
	Collateral    Number  `json:"collateral"`
	Leverage      Number  `json:"leverage"`
	TraderAddress string  `json:"traderAddress"`
	SLPrice       *Number `json:"slPrice,omitempty"`
	TPPrice       *Number `json:"tpPrice,omitempty"`
}

// Response is the service envelope.
type Response struct {
	Success bool          `json:"success"`
	Data    *ResponseData `json:"data,omitempty"`
	Error   *ServiceError `json:"error,omitempty"`
}

// ResponseData carries the transaction details of a successful call.
type ResponseData struct {
	TxHash string `json:"txHash,omitempty"`
	Result *struct {
		Receipt *struct {
			TransactionHash string `json:"transactionHash"`
		} `json:"receipt,omitempty"`
	} `json:"result,omitempty"`
}

// ServiceError is the error object returned by the service.
type ServiceError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// TxHash returns the receipt hash, then data.txHash, then "unknown".
func (r Response) TxHash() string {
	if r.Data != nil {
		if r.Data.Result != nil && r.Data.Result.Receipt != nil && r.Data.Result.Receipt.TransactionHash != "" {
			return r.Data.Result.Receipt.TransactionHash
		}
		if r.Data.TxHash != "" {
			return r.Data.TxHash
		}
	}
	return "unknown"
}

// ErrorMessage returns the service error or a generic message.
func (r Response) ErrorMessage() string {
	if r.Error != nil && r.Error.Message != "" {
		return r.Error.Message
	}
	return "Unknown error occurred from Ostium Service"
}

// Client sends signed requests to the service.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	signer     *signing.Signer
}

// NewClient builds a client for the service at rawURL.
func NewClient(rawURL string, signer *signing.Signer, httpClient *http.Client) (*Client, error) {
	if strings.TrimSpace(rawURL) == "" {
		return nil, xerrors.New(xerrors.CodeMissingConfiguration, "serviceUrl is required")
	}
	parsed, err := url.Parse(strings.TrimRight(rawURL, "/"))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "invalid serviceUrl")
	}
	if signer == nil {
		return nil, xerrors.New(xerrors.CodeMissingConfiguration, "request signer not configured")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient, signer: signer}, nil
}

// OpenPosition posts a signed position request. The returned Response may
// still report success=false; only transport, signing and decoding
// problems surface as errors.
func (c *Client) OpenPosition(ctx context.Context, req OpenPositionRequest) (Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("encode request: %w", err)
	}

	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + OpenPositionPath
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if err := c.signer.Apply(ctx, httpReq, OpenPositionPath, body); err != nil {
		return Response{}, err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}
	var out Response
	if err := json.Unmarshal(data, &out); err != nil {
		return Response{}, xerrors.Wrap(xerrors.CodeInvalidCollaboratorResponse, err,
			fmt.Sprintf("decode response (status %d)", resp.StatusCode))
	}
	return out, nil
}
