package ethereum

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient/simulated"

	"flowforge/internal/capability"
	"flowforge/internal/outcome"
)

const (
	// returns uint256(42) for any call.
	answerContractBin = "0x600a600c600039600a6000f3602a60005260206000f3"
	// reverts every call with empty data.
	revertContractBin = "0x6005600c60003960056000f360006000fd"
)

// committingBackend mines a block after every accepted transaction.
type committingBackend struct {
	simulated.Client
	sim *simulated.Backend
}

func (b committingBackend) SendTransaction(ctx context.Context, tx *coretypes.Transaction) error {
	if err := b.Client.SendTransaction(ctx, tx); err != nil {
		return err
	}
	b.sim.Commit()
	return nil
}

type simEnv struct {
	client *Client
	sim    *simulated.Backend
	from   common.Address
	key    []byte
}

func newSimEnv(t *testing.T) *simEnv {
	t.Helper()

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	from := crypto.PubkeyToAddress(key.PublicKey)
	balance := new(big.Int).Exp(big.NewInt(10), big.NewInt(20), nil)
	sim := simulated.NewBackend(coretypes.GenesisAlloc{from: {Balance: balance}})
	t.Cleanup(func() { _ = sim.Close() })

	client, err := NewBackendClient(committingBackend{Client: sim.Client(), sim: sim}, Config{
		Name:           "simulated",
		ReadBlock:      "latest",
		SubmitterKey:   key,
		ReceiptTimeout: 5 * time.Second,
		PollInterval:   10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(client.Close)
	return &simEnv{client: client, sim: sim, from: from, key: crypto.FromECDSA(key)}
}

func (e *simEnv) deploy(t *testing.T, bin string) common.Address {
	t.Helper()
	ctx := context.Background()
	backend := e.sim.Client()

	nonce, err := backend.PendingNonceAt(ctx, e.from)
	if err != nil {
		t.Fatalf("nonce: %v", err)
	}
	head, err := backend.HeaderByNumber(ctx, nil)
	if err != nil {
		t.Fatalf("header: %v", err)
	}
	key, err := crypto.ToECDSA(e.key)
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	chainID, err := backend.ChainID(ctx)
	if err != nil {
		t.Fatalf("chain id: %v", err)
	}
	tx := coretypes.NewTx(&coretypes.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: big.NewInt(1),
		GasFeeCap: new(big.Int).Add(new(big.Int).Mul(head.BaseFee, big.NewInt(2)), big.NewInt(1)),
		Gas:       200_000,
		Data:      common.FromHex(bin),
	})
	signed, err := coretypes.SignTx(tx, coretypes.LatestSignerForChainID(chainID), key)
	if err != nil {
		t.Fatalf("sign deploy: %v", err)
	}
	if err := backend.SendTransaction(ctx, signed); err != nil {
		t.Fatalf("send deploy: %v", err)
	}
	e.sim.Commit()
	return crypto.CreateAddress(e.from, nonce)
}

func TestClientCallContract(t *testing.T) {
	env := newSimEnv(t)
	addr := env.deploy(t, answerContractBin)

	out, err := env.client.CallContract(context.Background(), capability.CallMsg{To: addr, Data: []byte{0x01, 0x02, 0x03, 0x04}})
	if err != nil {
		t.Fatalf("call contract: %v", err)
	}
	if got := new(big.Int).SetBytes(out); got.Cmp(big.NewInt(42)) != 0 {
		t.Fatalf("unexpected return data %x", out)
	}

	id, err := env.client.ChainID(context.Background())
	if err != nil {
		t.Fatalf("chain id: %v", err)
	}
	if id.Sign() <= 0 {
		t.Fatalf("unexpected chain id %s", id)
	}
}

func TestClientWriteReportSuccess(t *testing.T) {
	env := newSimEnv(t)
	key, err := crypto.ToECDSA(env.key)
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	signer, err := NewKeySigner(key)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	report, err := signer.SignReport(context.Background(), []byte("payload"))
	if err != nil {
		t.Fatalf("sign report: %v", err)
	}

	receiver := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	got, err := env.client.WriteReport(context.Background(), capability.WriteRequest{Receiver: receiver, Report: report})
	if err != nil {
		t.Fatalf("write report: %v", err)
	}
	if got.Status != outcome.StatusSuccess {
		t.Fatalf("expected success, got %+v", got)
	}
	receipt, err := env.sim.Client().TransactionReceipt(context.Background(), common.HexToHash(got.TxHash))
	if err != nil {
		t.Fatalf("receipt: %v", err)
	}
	if receipt.Status != coretypes.ReceiptStatusSuccessful {
		t.Fatalf("receipt status %d", receipt.Status)
	}

	tx, _, err := env.sim.Client().TransactionByHash(context.Background(), receipt.TxHash)
	if err != nil {
		t.Fatalf("tx by hash: %v", err)
	}
	args, err := receiverABI.Methods["onReport"].Inputs.Unpack(tx.Data()[4:])
	if err != nil {
		t.Fatalf("unpack onReport: %v", err)
	}
	if string(args[1].([]byte)) != "payload" {
		t.Fatalf("report payload not forwarded: %x", args[1])
	}
	if len(args[0].([]byte)) != 65 {
		t.Fatalf("metadata should carry the signature, got %d bytes", len(args[0].([]byte)))
	}
}

func TestClientWriteReportReverted(t *testing.T) {
	env := newSimEnv(t)
	receiver := env.deploy(t, revertContractBin)

	got, err := env.client.WriteReport(context.Background(), capability.WriteRequest{
		Receiver: receiver,
		Report:   capability.Report{Payload: []byte{0x01}},
		GasLimit: 100_000,
	})
	if err != nil {
		t.Fatalf("write report: %v", err)
	}
	if got.Status != outcome.StatusReverted || got.TxHash == "" {
		t.Fatalf("expected reverted outcome, got %+v", got)
	}
	if !strings.Contains(got.ErrorMessage, "reverted") {
		t.Fatalf("unexpected message %q", got.ErrorMessage)
	}
}

type stubBackend struct {
	sendErr error
}

func (stubBackend) CallContract(context.Context, gethcore.CallMsg, *big.Int) ([]byte, error) {
	return nil, nil
}
func (stubBackend) ChainID(context.Context) (*big.Int, error) { return big.NewInt(1337), nil }
func (stubBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return 0, nil
}
func (stubBackend) SuggestGasTipCap(context.Context) (*big.Int, error) { return big.NewInt(1), nil }
func (stubBackend) HeaderByNumber(context.Context, *big.Int) (*coretypes.Header, error) {
	return &coretypes.Header{BaseFee: big.NewInt(7)}, nil
}
func (stubBackend) EstimateGas(context.Context, gethcore.CallMsg) (uint64, error) {
	return 50_000, nil
}
func (b stubBackend) SendTransaction(context.Context, *coretypes.Transaction) error {
	return b.sendErr
}
func (stubBackend) TransactionReceipt(context.Context, common.Hash) (*coretypes.Receipt, error) {
	return nil, gethcore.NotFound
}

func newStubClient(t *testing.T, backend Backend) *Client {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	client, err := NewBackendClient(backend, Config{
		Name:           "stub",
		SubmitterKey:   key,
		ReceiptTimeout: 50 * time.Millisecond,
		PollInterval:   5 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestClientWriteReportSendRejected(t *testing.T) {
	client := newStubClient(t, stubBackend{sendErr: errors.New("insufficient funds")})
	got, err := client.WriteReport(context.Background(), capability.WriteRequest{
		Receiver: common.HexToAddress("0x01"),
		Report:   capability.Report{Payload: []byte{0x01}},
	})
	if err != nil {
		t.Fatalf("write report: %v", err)
	}
	if got.Status != outcome.StatusFatal || got.ErrorMessage != "insufficient funds" {
		t.Fatalf("expected fatal outcome, got %+v", got)
	}
}

func TestClientWriteReportReceiptTimeout(t *testing.T) {
	client := newStubClient(t, stubBackend{})
	got, err := client.WriteReport(context.Background(), capability.WriteRequest{
		Receiver: common.HexToAddress("0x01"),
		Report:   capability.Report{Payload: []byte{0x01}},
	})
	if err != nil {
		t.Fatalf("write report: %v", err)
	}
	if got.Status != outcome.StatusFatal || got.TxHash == "" {
		t.Fatalf("expected fatal outcome with hash, got %+v", got)
	}
}

func TestClientWriteReportRequiresSubmitter(t *testing.T) {
	client, err := NewBackendClient(stubBackend{}, Config{})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.WriteReport(context.Background(), capability.WriteRequest{Receiver: common.HexToAddress("0x01")}); err == nil {
		t.Fatal("expected error without submitter key")
	}
}

func TestParseReadBlock(t *testing.T) {
	if _, err := parseReadBlock("pending-ish"); err == nil {
		t.Fatal("expected error for unknown tag")
	}
	latest, err := parseReadBlock("latest")
	if err != nil || latest != nil {
		t.Fatalf("latest should map to nil block, got %v %v", latest, err)
	}
	finalized, err := parseReadBlock("")
	if err != nil || finalized.Int64() != -3 {
		t.Fatalf("default should be finalized, got %v %v", finalized, err)
	}
}

func TestKeySignerRecoverable(t *testing.T) {
	key, err := KeyFromHex("0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	if err != nil {
		t.Fatalf("key from hex: %v", err)
	}
	signer, err := NewKeySigner(key)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	report, err := signer.SignReport(context.Background(), []byte{0xde, 0xad})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if report.EncoderName != EncoderEVM || report.SigningAlgo != SigningECDSA || report.HashingAlgo != HashKeccak256 {
		t.Fatalf("unexpected report metadata %+v", report)
	}
	addr, err := RecoverSigner(report)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if addr != signer.Address() {
		t.Fatalf("recovered %s, want %s", addr.Hex(), signer.Address().Hex())
	}
	if _, err := KeyFromHex(""); err == nil {
		t.Fatal("expected error for empty key")
	}
}
