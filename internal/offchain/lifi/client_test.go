package lifi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	xerrors "flowforge/internal/errors"
)

func TestQuoteSendsExpectedQuery(t *testing.T) {
	var got *http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"tool": "uniswap",
			"transactionRequest": {"to": "0x1231DEB6f5749EF6cE6943a275A1D3E7486F4EaE", "data": "0xdeadbeef", "value": "0x2386f26fc10000"},
			"estimate": {"fromAmount": "1000000", "toAmount": "998000"}
		}`))
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	require.NoError(t, err)

	slippage := decimal.NewFromInt(1)
	quote, err := client.Quote(context.Background(), QuoteRequest{
		Chain:           "ARBITRUM_SEPOLIA",
		FromToken:       "0xaaaa",
		ToToken:         "0xbbbb",
		FromAmount:      "1000000",
		FromAddress:     "0xcccc",
		SlippagePercent: &slippage,
	})
	require.NoError(t, err)

	require.Equal(t, "/v1/quote", got.URL.Path)
	q := got.URL.Query()
	require.Equal(t, "421614", q.Get("fromChain"))
	require.Equal(t, "421614", q.Get("toChain"))
	require.Equal(t, "0.01", q.Get("slippage"))
	require.Equal(t, DefaultIntegrator, q.Get("integrator"))
	require.Equal(t, "application/json", got.Header.Get("Accept"))

	call, err := quote.Call()
	require.NoError(t, err)
	require.Equal(t, "0x1231DEB6f5749EF6cE6943a275A1D3E7486F4EaE", call.Target.Hex())
	require.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, call.CallData)
	require.Equal(t, "10000000000000000", call.Value.String())
	require.Equal(t, "998000", call.ToAmount)
}

func TestQueryDefaults(t *testing.T) {
	q := QuoteRequest{Chain: "ARBITRUM"}.QueryValues()
	require.Equal(t, "42161", q.Get("fromChain"))
	require.Equal(t, "0.005", q.Get("slippage"))
	require.Equal(t, uint64(42161), ChainID("SOMETHING_ELSE"))
}

func TestQuoteRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"code": 1002, "message": "No available quotes for the requested transfer"}`))
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	require.NoError(t, err)
	_, err = client.Quote(context.Background(), QuoteRequest{Chain: "ARBITRUM"})
	require.Equal(t, xerrors.CodeInvalidCollaboratorResponse, xerrors.CodeOf(err))
	require.Contains(t, err.Error(), "No available quotes")
}

func TestCallRequiresTransactionRequest(t *testing.T) {
	cases := []Quote{
		{},
		{TransactionRequest: &TransactionRequest{To: "0x1231DEB6f5749EF6cE6943a275A1D3E7486F4EaE"}},
		{TransactionRequest: &TransactionRequest{Data: "0x00"}},
		{TransactionRequest: &TransactionRequest{To: "not-an-address", Data: "0x00"}},
		{TransactionRequest: &TransactionRequest{To: "0x1231DEB6f5749EF6cE6943a275A1D3E7486F4EaE", Data: "zz"}},
	}
	for _, q := range cases {
		_, err := q.Call()
		require.Equal(t, xerrors.CodeInvalidCollaboratorResponse, xerrors.CodeOf(err))
	}

	call, err := Quote{TransactionRequest: &TransactionRequest{To: "0x1231DEB6f5749EF6cE6943a275A1D3E7486F4EaE", Data: "0x01"}}.Call()
	require.NoError(t, err)
	require.Zero(t, call.Value.Sign())
	require.Equal(t, "0", call.ToAmount)
}

func TestNativeTokenAndExplorer(t *testing.T) {
	require.True(t, IsNativeToken("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE"))
	require.True(t, IsNativeToken("0x0000000000000000000000000000000000000000"))
	require.False(t, IsNativeToken("0xaf88d065e77c8cC2239327C5EDb3A432268e5831"))
	require.Equal(t, "https://arbiscan.io/tx/0xab", ExplorerLink("ARBITRUM", "ab"))
	require.Equal(t, "https://sepolia.arbiscan.io/tx/0xab", ExplorerLink("ARBITRUM_SEPOLIA", "0xab"))
}
