package ethereum

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"flowforge/internal/capability"
)

// Report metadata advertised by KeySigner.
const (
	EncoderEVM    = "evm"
	SigningECDSA  = "ecdsa"
	HashKeccak256 = "keccak256"
)

// KeySigner signs report payloads with a local secp256k1 key.
type KeySigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewKeySigner wraps the given private key.
func NewKeySigner(key *ecdsa.PrivateKey) (*KeySigner, error) {
	if key == nil {
		return nil, errors.New("未提供签名私钥")
	}
	return &KeySigner{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

// KeyFromHex parses a hex encoded private key, with or without 0x prefix.
func KeyFromHex(raw string) (*ecdsa.PrivateKey, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if trimmed == "" {
		return nil, errors.New("私钥为空")
	}
	key, err := crypto.HexToECDSA(trimmed)
	if err != nil {
		return nil, fmt.Errorf("解析私钥失败: %w", err)
	}
	return key, nil
}

// Address returns the signer address.
func (s *KeySigner) Address() common.Address { return s.address }

// SignReport signs keccak256(payload) and returns the report envelope.
func (s *KeySigner) SignReport(_ context.Context, payload []byte) (capability.Report, error) {
	if s == nil || s.key == nil {
		return capability.Report{}, errors.New("未初始化的报告签名器")
	}
	digest := crypto.Keccak256(payload)
	sig, err := crypto.Sign(digest, s.key)
	if err != nil {
		return capability.Report{}, fmt.Errorf("签名报告失败: %w", err)
	}
	return capability.Report{
		Payload:     append([]byte(nil), payload...),
		Signature:   sig,
		Signer:      s.address,
		EncoderName: EncoderEVM,
		SigningAlgo: SigningECDSA,
		HashingAlgo: HashKeccak256,
	}, nil
}

// RecoverSigner returns the address that produced the report signature.
func RecoverSigner(report capability.Report) (common.Address, error) {
	pub, err := crypto.SigToPub(crypto.Keccak256(report.Payload), report.Signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("恢复签名地址失败: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
