package ethereum

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"flowforge/internal/capability"
	"flowforge/internal/outcome"
)

// Config describes how to construct an EVM compatible client.
type Config struct {
	Name   string
	RPCURL string
	// ReadBlock selects the block tag for read calls: finalized (default),
	// safe or latest.
	ReadBlock      string
	SubmitterKey   *ecdsa.PrivateKey
	GasLimit       uint64
	ReceiptTimeout time.Duration
	PollInterval   time.Duration
	Notes          string
}

// Backend is the subset of ethclient used by the client. The simulated
// backend satisfies it as well.
type Backend interface {
	CallContract(ctx context.Context, msg gethcore.CallMsg, blockNumber *big.Int) ([]byte, error)
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*coretypes.Header, error)
	EstimateGas(ctx context.Context, msg gethcore.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *coretypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*coretypes.Receipt, error)
}

// Client implements web3.Client for EVM compatible chains.
type Client struct {
	name      string
	notes     string
	rpcClient *gethrpc.Client
	eth       *ethclient.Client
	backend   Backend

	readBlock      *big.Int
	submitter      *ecdsa.PrivateKey
	gasLimit       uint64
	receiptTimeout time.Duration
	pollInterval   time.Duration

	chainMu sync.Mutex
	chainID *big.Int
	// sendMu serialises nonce assignment for the submitter account.
	sendMu sync.Mutex
}

const onReportABIJSON = `[{"type":"function","name":"onReport","stateMutability":"nonpayable","inputs":[{"name":"metadata","type":"bytes"},{"name":"report","type":"bytes"}],"outputs":[]}]`

var receiverABI = mustParseABI(onReportABIJSON)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("ethereum: parse receiver abi: %v", err))
	}
	return parsed
}

// NewClient dials the configured RPC endpoint and returns a ready-to-use client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置以太坊 RPC 地址")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接以太坊节点失败: %w", err)
	}
	eth := ethclient.NewClient(rpcClient)

	client, err := NewBackendClient(eth, cfg)
	if err != nil {
		eth.Close()
		return nil, err
	}
	client.rpcClient = rpcClient
	client.eth = eth
	return client, nil
}

// NewBackendClient wraps an existing backend, such as the go-ethereum
// simulated backend in tests.
func NewBackendClient(backend Backend, cfg Config) (*Client, error) {
	if backend == nil {
		return nil, errors.New("未提供链访问后端")
	}
	readBlock, err := parseReadBlock(cfg.ReadBlock)
	if err != nil {
		return nil, err
	}
	receiptTimeout := cfg.ReceiptTimeout
	if receiptTimeout <= 0 {
		receiptTimeout = 2 * time.Minute
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 1500 * time.Millisecond
	}
	return &Client{
		name:           cfg.Name,
		notes:          cfg.Notes,
		backend:        backend,
		readBlock:      readBlock,
		submitter:      cfg.SubmitterKey,
		gasLimit:       cfg.GasLimit,
		receiptTimeout: receiptTimeout,
		pollInterval:   pollInterval,
	}, nil
}

func parseReadBlock(tag string) (*big.Int, error) {
	switch strings.ToLower(strings.TrimSpace(tag)) {
	case "", "finalized":
		return big.NewInt(int64(gethrpc.FinalizedBlockNumber)), nil
	case "safe":
		return big.NewInt(int64(gethrpc.SafeBlockNumber)), nil
	case "latest":
		return nil, nil
	default:
		return nil, fmt.Errorf("不支持的区块标签: %s", tag)
	}
}

// Name returns the chain selector name the client was registered under.
func (c *Client) Name() string { return c.name }

// ChainID returns the chain id, cached after the first successful lookup.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	c.chainMu.Lock()
	defer c.chainMu.Unlock()
	if c.chainID != nil {
		return new(big.Int).Set(c.chainID), nil
	}
	id, err := c.backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取链 ID 失败: %w", err)
	}
	c.chainID = id
	return new(big.Int).Set(id), nil
}

// Close releases network connections held by the client.
func (c *Client) Close() {
	if c == nil {
		return
	}
	if c.eth != nil {
		c.eth.Close()
		c.eth = nil
	}
	c.rpcClient = nil
}

// CallContract performs a read-only call against the configured block tag.
func (c *Client) CallContract(ctx context.Context, msg capability.CallMsg) ([]byte, error) {
	if c == nil || c.backend == nil {
		return nil, errors.New("未初始化的以太坊客户端")
	}
	to := msg.To
	out, err := c.backend.CallContract(ctx, gethcore.CallMsg{To: &to, Data: msg.Data}, c.readBlock)
	if err != nil {
		return nil, fmt.Errorf("调用合约 %s 失败: %w", to.Hex(), err)
	}
	return out, nil
}

// WriteReport calls onReport(metadata, report) on the receiver, with the
// report signature as metadata, and waits for the receipt.
func (c *Client) WriteReport(ctx context.Context, req capability.WriteRequest) (outcome.TxOutcome, error) {
	if c == nil || c.backend == nil {
		return outcome.TxOutcome{}, errors.New("未初始化的以太坊客户端")
	}
	if c.submitter == nil {
		return outcome.TxOutcome{}, errors.New("未配置报告提交账户")
	}
	if req.Receiver == (common.Address{}) {
		return outcome.TxOutcome{}, errors.New("报告接收合约地址为空")
	}

	data, err := receiverABI.Pack("onReport", req.Report.Signature, req.Report.Payload)
	if err != nil {
		return outcome.TxOutcome{}, fmt.Errorf("编码 onReport 调用失败: %w", err)
	}

	tx, err := c.buildTransaction(ctx, req.Receiver, data, req.GasLimit)
	if err != nil {
		return outcome.TxOutcome{}, err
	}
	if err := c.backend.SendTransaction(ctx, tx); err != nil {
		c.sendMu.Unlock()
		return outcome.TxOutcome{Status: outcome.StatusFatal, ErrorMessage: err.Error()}, nil
	}
	c.sendMu.Unlock()

	return c.waitReceipt(ctx, tx.Hash())
}

// buildTransaction signs the transaction and returns with sendMu held so the
// nonce stays reserved until the send attempt finishes.
func (c *Client) buildTransaction(ctx context.Context, to common.Address, data []byte, gasLimit uint64) (*coretypes.Transaction, error) {
	chainID, err := c.ChainID(ctx)
	if err != nil {
		return nil, err
	}
	from := crypto.PubkeyToAddress(c.submitter.PublicKey)

	if gasLimit == 0 {
		gasLimit = c.gasLimit
	}
	if gasLimit == 0 {
		estimated, err := c.backend.EstimateGas(ctx, gethcore.CallMsg{From: from, To: &to, Data: data})
		if err != nil {
			return nil, fmt.Errorf("估算 gas 失败: %w", err)
		}
		gasLimit = estimated
	}

	tip, err := c.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取小费建议失败: %w", err)
	}
	head, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("获取最新区块头失败: %w", err)
	}
	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}

	c.sendMu.Lock()
	nonce, err := c.backend.PendingNonceAt(ctx, from)
	if err != nil {
		c.sendMu.Unlock()
		return nil, fmt.Errorf("查询交易计数失败: %w", err)
	}
	tx := coretypes.NewTx(&coretypes.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &to,
		Data:      data,
	})
	signed, err := coretypes.SignTx(tx, coretypes.LatestSignerForChainID(chainID), c.submitter)
	if err != nil {
		c.sendMu.Unlock()
		return nil, fmt.Errorf("签名交易失败: %w", err)
	}
	return signed, nil
}

func (c *Client) waitReceipt(ctx context.Context, hash common.Hash) (outcome.TxOutcome, error) {
	ctx, cancel := context.WithTimeout(ctx, c.receiptTimeout)
	defer cancel()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		receipt, err := c.backend.TransactionReceipt(ctx, hash)
		switch {
		case err == nil && receipt != nil:
			return receiptOutcome(receipt), nil
		case err != nil && !errors.Is(err, gethcore.NotFound) && ctx.Err() == nil:
			return outcome.TxOutcome{}, fmt.Errorf("查询交易回执失败: %w", err)
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return outcome.TxOutcome{
					Status:       outcome.StatusFatal,
					TxHash:       hash.Hex(),
					ErrorMessage: fmt.Sprintf("receipt for %s not found within %s", hash.Hex(), c.receiptTimeout),
				}, nil
			}
			return outcome.TxOutcome{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func receiptOutcome(receipt *coretypes.Receipt) outcome.TxOutcome {
	hash := receipt.TxHash.Hex()
	if receipt.Status == coretypes.ReceiptStatusSuccessful {
		return outcome.TxOutcome{Status: outcome.StatusSuccess, TxHash: hash}
	}
	return outcome.TxOutcome{
		Status:       outcome.StatusReverted,
		TxHash:       hash,
		ErrorMessage: fmt.Sprintf("transaction %s reverted", hash),
	}
}
