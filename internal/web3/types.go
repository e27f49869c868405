package web3

import (
	"context"
	"math/big"

	"flowforge/internal/capability"
)

// Client is a connection to one chain. It serves read-only calls and
// delivers signed reports to receiver contracts.
type Client interface {
	capability.ContractReader
	capability.ReportWriter
	Name() string
	ChainID(ctx context.Context) (*big.Int, error)
	Close()
}
