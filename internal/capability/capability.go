// Package capability declares the collaborators an action pipeline depends
// on. Concrete adapters live in internal/web3, internal/secrets and the
// off-chain clients; tests substitute in-memory stubs.
package capability

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"flowforge/internal/outcome"
)

// CallMsg is a single read-only contract call on a named chain.
type CallMsg struct {
	Chain string
	To    common.Address
	Data  []byte
}

// ContractReader performs a read-only call and returns the raw return data.
type ContractReader interface {
	CallContract(ctx context.Context, msg CallMsg) ([]byte, error)
}

// Report is an encoded action payload together with the signature produced
// over it.
type Report struct {
	Payload     []byte
	Signature   []byte
	Signer      common.Address
	EncoderName string
	SigningAlgo string
	HashingAlgo string
}

// ReportSigner turns an encoded payload into a signed report.
type ReportSigner interface {
	SignReport(ctx context.Context, payload []byte) (Report, error)
}

// WriteRequest asks a ReportWriter to deliver a report to a receiver
// contract.
type WriteRequest struct {
	Chain    string
	Receiver common.Address
	Report   Report
	GasLimit uint64
}

// ReportWriter submits a signed report and reports how the submission
// settled. Transport failures are returned as errors; settled transactions
// always come back as an outcome, including reverts.
type ReportWriter interface {
	WriteReport(ctx context.Context, req WriteRequest) (outcome.TxOutcome, error)
}

// SecretStore resolves credentials at call time.
type SecretStore interface {
	GetSecret(ctx context.Context, id string) (string, error)
}

// Clock abstracts wall time so deadlines and staleness checks are testable.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the host clock.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock always returns the same instant.
type FixedClock time.Time

// Now implements Clock.
func (c FixedClock) Now() time.Time { return time.Time(c) }
