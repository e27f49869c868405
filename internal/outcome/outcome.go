// Package outcome maps settlement status into the caller facing result
// record.
package outcome

import (
	"fmt"
	"strings"

	xerrors "flowforge/internal/errors"
)

// Status mirrors the numeric transaction status reported by the submission
// capability.
type Status int

const (
	StatusFatal    Status = 0
	StatusReverted Status = 1
	StatusSuccess  Status = 2
)

func (s Status) String() string {
	switch s {
	case StatusFatal:
		return "fatal"
	case StatusReverted:
		return "reverted"
	case StatusSuccess:
		return "success"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// TxOutcome is what the submission capability reports for one submission.
type TxOutcome struct {
	Status       Status
	TxHash       string
	ErrorMessage string
}

// Result is returned for every write invocation, successful or not.
type Result struct {
	Success   bool   `json:"success"`
	TxHash    string `json:"txHash,omitempty"`
	Operation string `json:"operation,omitempty"`
	Amount    string `json:"amount,omitempty"`
	AmountIn  string `json:"amountIn,omitempty"`
	AmountOut string `json:"amountOut,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Classify converts a settlement outcome into a Result. It never fails.
func Classify(o TxOutcome) Result {
	if o.Status == StatusSuccess {
		return Result{Success: true, TxHash: o.TxHash}
	}
	msg := strings.TrimSpace(o.ErrorMessage)
	if msg == "" {
		msg = fmt.Sprintf("tx status: %d", int(o.Status))
	}
	return Result{Success: false, TxHash: o.TxHash, Error: msg}
}

// Err returns a NON_SUCCESS_SETTLEMENT error for failed outcomes and nil
// otherwise, for callers that sequence further steps on success.
func (o TxOutcome) Err() error {
	if o.Status == StatusSuccess {
		return nil
	}
	r := Classify(o)
	return xerrors.New(xerrors.CodeNonSuccessSettlement, r.Error,
		xerrors.WithMetadata("status", o.Status.String()),
		xerrors.WithMetadata("txHash", o.TxHash),
	)
}

// Failure builds the terminal result for an error met anywhere in a pipeline.
func Failure(err error) Result {
	if err == nil {
		return Result{Success: false, Error: "unknown error"}
	}
	return Result{Success: false, Error: xerrors.MessageOf(err)}
}
