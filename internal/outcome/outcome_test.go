package outcome

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	xerrors "flowforge/internal/errors"
)

func TestClassifySuccess(t *testing.T) {
	res := Classify(TxOutcome{Status: StatusSuccess, TxHash: "0xabc"})
	require.True(t, res.Success)
	require.Equal(t, "0xabc", res.TxHash)
	require.Empty(t, res.Error)

	res = Classify(TxOutcome{Status: StatusSuccess})
	require.True(t, res.Success, "success without a hash is still success")
}

func TestClassifyFailureUsesProviderMessage(t *testing.T) {
	res := Classify(TxOutcome{Status: StatusReverted, ErrorMessage: "execution reverted: STF"})
	require.False(t, res.Success)
	require.Equal(t, "execution reverted: STF", res.Error)
}

func TestClassifyFailureWithoutMessageEmbedsStatus(t *testing.T) {
	res := Classify(TxOutcome{Status: StatusFatal})
	require.False(t, res.Success)
	require.Equal(t, "tx status: 0", res.Error)

	res = Classify(TxOutcome{Status: Status(7), ErrorMessage: "   "})
	require.Equal(t, "tx status: 7", res.Error)
}

func TestOutcomeErr(t *testing.T) {
	require.NoError(t, TxOutcome{Status: StatusSuccess}.Err())

	err := TxOutcome{Status: StatusReverted, TxHash: "0x1"}.Err()
	require.Error(t, err)
	require.Equal(t, xerrors.CodeNonSuccessSettlement, xerrors.CodeOf(err))
	require.Equal(t, "tx status: 1", xerrors.MessageOf(err))
}

func TestResultJSONOmitsEmptyFields(t *testing.T) {
	raw, err := json.Marshal(Result{Success: true, TxHash: "0x1", AmountIn: "100"})
	require.NoError(t, err)
	require.JSONEq(t, `{"success":true,"txHash":"0x1","amountIn":"100"}`, string(raw))

	raw, err = json.Marshal(Failure(errors.New("boom")))
	require.NoError(t, err)
	require.JSONEq(t, `{"success":false,"error":"boom"}`, string(raw))
}
