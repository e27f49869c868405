package provider

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"flowforge/internal/capability"
	"flowforge/internal/config"
	"flowforge/internal/outcome"
	"flowforge/internal/web3"
	"flowforge/internal/web3/ethereum"
)

// Registry manages a set of chain clients keyed by chain selector name. It
// implements capability.ContractReader and capability.ReportWriter by routing
// on the chain named in each request.
type Registry struct {
	defaultChain string
	clients      map[string]web3.Client
}

// NewRegistry loads chain definitions and instantiates concrete clients.
// The submitter key may be nil, in which case every client is read-only.
func NewRegistry(ctx context.Context, cfg config.Web3Config, submitter *ecdsa.PrivateKey) (*Registry, error) {
	defs, err := web3.LoadChainDefinitions(cfg.ChainConfig)
	if err != nil {
		return nil, err
	}

	base := ethereum.Config{
		SubmitterKey:   submitter,
		GasLimit:       cfg.GasLimit,
		ReceiptTimeout: time.Duration(cfg.ReceiptTimeoutSecond) * time.Second,
		PollInterval:   time.Duration(cfg.PollIntervalMillis) * time.Millisecond,
	}

	clients := make(map[string]web3.Client)
	closeAll := func() {
		for _, c := range clients {
			c.Close()
		}
	}
	for name, chain := range defs.Chains {
		chainType := strings.ToLower(strings.TrimSpace(chain.Type))
		if chainType == "" {
			chainType = "evm"
		}
		switch chainType {
		case "evm":
			clientCfg := base
			clientCfg.Name = name
			clientCfg.RPCURL = chain.RPCURL
			clientCfg.ReadBlock = chain.ReadBlock
			clientCfg.Notes = chain.Description
			client, err := ethereum.NewClient(ctx, clientCfg)
			if err != nil {
				closeAll()
				return nil, fmt.Errorf("初始化链 %s 失败: %w", name, err)
			}
			clients[name] = client
		default:
			closeAll()
			return nil, fmt.Errorf("链 %s 使用了不支持的类型 %s", name, chain.Type)
		}
	}

	if len(clients) == 0 && strings.TrimSpace(cfg.RPCURL) != "" {
		clientCfg := base
		clientCfg.Name = "default"
		clientCfg.RPCURL = cfg.RPCURL
		client, err := ethereum.NewClient(ctx, clientCfg)
		if err != nil {
			return nil, err
		}
		clients["default"] = client
		if cfg.DefaultChain == "" {
			cfg.DefaultChain = "default"
		}
	}

	registry, err := New(cfg.DefaultChain, clients)
	if err != nil {
		closeAll()
		return nil, err
	}
	return registry, nil
}

// New builds a registry around already constructed clients.
func New(defaultChain string, clients map[string]web3.Client) (*Registry, error) {
	if len(clients) == 0 {
		return nil, errors.New("未配置任何链的 RPC 端点")
	}
	owned := make(map[string]web3.Client, len(clients))
	for name, client := range clients {
		owned[name] = client
	}
	r := &Registry{clients: owned}
	if defaultChain == "" {
		defaultChain = r.Chains()[0]
	}
	if _, ok := owned[defaultChain]; !ok {
		return nil, fmt.Errorf("默认链 %s 未在配置中找到", defaultChain)
	}
	r.defaultChain = defaultChain
	return r, nil
}

// DefaultClient returns the client configured as default chain.
func (r *Registry) DefaultClient() (web3.Client, error) {
	if r == nil {
		return nil, errors.New("未初始化的链客户端注册表")
	}
	client, ok := r.clients[r.defaultChain]
	if !ok {
		return nil, fmt.Errorf("默认链 %s 未在注册表中", r.defaultChain)
	}
	return client, nil
}

// Client returns the chain client identified by name.
func (r *Registry) Client(name string) (web3.Client, bool) {
	if r == nil {
		return nil, false
	}
	client, ok := r.clients[name]
	return client, ok
}

// resolve 根据链名称选择客户端，空名称回退到默认链。
func (r *Registry) resolve(name string) (web3.Client, error) {
	if strings.TrimSpace(name) == "" {
		return r.DefaultClient()
	}
	client, ok := r.Client(name)
	if !ok {
		return nil, fmt.Errorf("链 %s 未在注册表中", name)
	}
	return client, nil
}

// CallContract routes the call to the chain named in msg.
func (r *Registry) CallContract(ctx context.Context, msg capability.CallMsg) ([]byte, error) {
	client, err := r.resolve(msg.Chain)
	if err != nil {
		return nil, err
	}
	return client.CallContract(ctx, msg)
}

// WriteReport routes the submission to the chain named in req.
func (r *Registry) WriteReport(ctx context.Context, req capability.WriteRequest) (outcome.TxOutcome, error) {
	client, err := r.resolve(req.Chain)
	if err != nil {
		return outcome.TxOutcome{}, err
	}
	return client.WriteReport(ctx, req)
}

// Close releases all clients managed by the registry.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	for name, client := range r.clients {
		if client != nil {
			client.Close()
		}
		delete(r.clients, name)
	}
}

// Chains returns the list of registered chain names.
func (r *Registry) Chains() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
