package workflow

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"flowforge/internal/capability"
	"flowforge/internal/outcome"
)

const testNow = int64(1_700_000_000)

var (
	tokenA        = common.HexToAddress("0x1111111111111111111111111111111111111111")
	tokenB        = common.HexToAddress("0x2222222222222222222222222222222222222222")
	receiverAddr  = common.HexToAddress("0xaAaAaAaaAaAaAaaAaAAAAAAAAaaaAaAaAaaAaaAa")
	swapTestAddr  = common.HexToAddress("0xbBbBBBBbbBBBbbbBbbBbbbbBBbBbbbbBbBbbBBbB")
	managerAddr   = common.HexToAddress("0xCcCCccccCCCCcCCCCCCcCcCccCcCCCcCcccccccC")
	stateViewAddr = common.HexToAddress("0xdDdDddDdDdddDDddDDddDDDDdDdDDdDDdDDDDDDd")
	quoterAddr    = common.HexToAddress("0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee")
	walletAddr    = common.HexToAddress("0x9999999999999999999999999999999999999999")
)

// q96 is sqrtPriceX96 at price 1.
var q96 = new(big.Int).Lsh(big.NewInt(1), 96)

type callHandler func(data []byte) ([]byte, error)

// stubChain answers eth_call by target address.
type stubChain struct {
	mu       sync.Mutex
	handlers map[common.Address]callHandler
	calls    []capability.CallMsg
}

func newStubChain() *stubChain {
	return &stubChain{handlers: map[common.Address]callHandler{}}
}

func (s *stubChain) on(addr common.Address, h callHandler) *stubChain {
	s.handlers[addr] = h
	return s
}

func (s *stubChain) CallContract(_ context.Context, msg capability.CallMsg) ([]byte, error) {
	s.mu.Lock()
	s.calls = append(s.calls, msg)
	h, ok := s.handlers[msg.To]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("execution reverted: no code at %s", msg.To.Hex())
	}
	return h(msg.Data)
}

func (s *stubChain) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type stubSigner struct{}

func (stubSigner) SignReport(_ context.Context, payload []byte) (capability.Report, error) {
	return capability.Report{
		Payload:     payload,
		Signature:   make([]byte, 65),
		EncoderName: "evm",
		SigningAlgo: "ecdsa",
		HashingAlgo: "keccak256",
	}, nil
}

// stubWriter records requests and settles them with a fixed outcome.
type stubWriter struct {
	mu       sync.Mutex
	outcome  outcome.TxOutcome
	err      error
	requests []capability.WriteRequest
}

func (w *stubWriter) WriteReport(_ context.Context, req capability.WriteRequest) (outcome.TxOutcome, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.requests = append(w.requests, req)
	if w.err != nil {
		return outcome.TxOutcome{}, w.err
	}
	return w.outcome, nil
}

func (w *stubWriter) only(t *testing.T) capability.WriteRequest {
	t.Helper()
	w.mu.Lock()
	defer w.mu.Unlock()
	require.Len(t, w.requests, 1)
	return w.requests[0]
}

func successWriter() *stubWriter {
	return &stubWriter{outcome: outcome.TxOutcome{Status: outcome.StatusSuccess, TxHash: "0xfeed"}}
}

func newTestRuntime(chain *stubChain, writer *stubWriter) *Runtime {
	return &Runtime{
		Contracts: chain,
		Signer:    stubSigner{},
		Writer:    writer,
		Clock:     capability.FixedClock(time.Unix(testNow, 0)),
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func word(v *big.Int) []byte {
	return common.LeftPadBytes(v.Bytes(), 32)
}

func selector(data []byte) string {
	if len(data) < 4 {
		return ""
	}
	return hex.EncodeToString(data[:4])
}

func slot0Handler(t *testing.T, price *big.Int, tick int64) callHandler {
	return func(data []byte) ([]byte, error) {
		require.Equal(t, selector(stateViewABI.Methods["getSlot0"].ID), selector(data))
		return stateViewABI.Methods["getSlot0"].Outputs.Pack(price, big.NewInt(tick), big.NewInt(0), big.NewInt(3000))
	}
}
