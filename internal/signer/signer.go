// Package signer owns the private key material used to authenticate
// with venues and to approve/move on-chain allowances. Every other
// package talks to it through the Signer interface — the key itself
// never leaves this package.
package signer

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/polyarb/agent/internal/config"
)

// Signer is the closed set of signing/sending operations a venue
// adapter is allowed to perform with a user's wallet. Implementations
// must never expose the underlying private key.
type Signer interface {
	// Address returns the EOA address derived from the private key.
	Address() common.Address

	// FunderAddress returns the proxy/funder wallet address that holds
	// funds and receives fills (equal to Address for plain EOA wallets).
	FunderAddress() common.Address

	// ChainID returns the configured chain ID.
	ChainID() *big.Int

	// SignMessage signs an arbitrary message with the EOA key.
	SignMessage(msg []byte) ([]byte, error)

	// SignTypedData signs an EIP-712 typed-data payload, normalizing the
	// recovery byte to 27/28.
	SignTypedData(domain *apitypes.TypedDataDomain, typesDef apitypes.Types, message apitypes.TypedDataMessage, primaryType string) ([]byte, error)

	// SendTransaction submits a signed transaction via the given sender
	// function and returns its hash.
	SendTransaction(ctx context.Context, tx *types.Transaction, send func(context.Context, *types.Transaction) error) (common.Hash, error)
}

// ecdsaSigner is the default Signer backed by a raw ECDSA private key.
type ecdsaSigner struct {
	privateKey    *ecdsa.PrivateKey
	address       common.Address
	funderAddress common.Address
	chainID       *big.Int
	sigType       int
}

// New builds a Signer from a user's wallet config.
func New(cfg config.WalletConfig) (Signer, error) {
	keyHex := cfg.PrivateKey
	if len(keyHex) >= 2 && keyHex[:2] == "0x" {
		keyHex = keyHex[2:]
	}

	privateKey, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	address := crypto.PubkeyToAddress(privateKey.PublicKey)

	funder := address
	if cfg.FunderAddress != "" {
		funder = common.HexToAddress(cfg.FunderAddress)
	}

	return &ecdsaSigner{
		privateKey:    privateKey,
		address:       address,
		funderAddress: funder,
		chainID:       big.NewInt(int64(cfg.ChainID)),
		sigType:       cfg.SignatureType,
	}, nil
}

func (s *ecdsaSigner) Address() common.Address       { return s.address }
func (s *ecdsaSigner) FunderAddress() common.Address { return s.funderAddress }
func (s *ecdsaSigner) ChainID() *big.Int             { return s.chainID }

// SignMessage signs a message with the Ethereum personal-message prefix.
func (s *ecdsaSigner) SignMessage(msg []byte) ([]byte, error) {
	prefixed := []byte(fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(msg), msg))
	hash := crypto.Keccak256(prefixed)

	sig, err := crypto.Sign(hash, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("sign message: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return sig, nil
}

// SignTypedData signs EIP-712 typed data and adjusts V to 27/28.
func (s *ecdsaSigner) SignTypedData(
	domain *apitypes.TypedDataDomain,
	typesDef apitypes.Types,
	message apitypes.TypedDataMessage,
	primaryType string,
) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types:       typesDef,
		PrimaryType: primaryType,
		Domain:      *domain,
		Message:     message,
	}

	hash, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return nil, fmt.Errorf("typed data hash: %w", err)
	}

	sig, err := crypto.Sign(hash, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("sign typed data: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return sig, nil
}

// SendTransaction delegates the actual broadcast to the caller-supplied
// send function (venue adapters hold the chain RPC client, not the
// signer), after signing with the EIP-155 chain signer.
func (s *ecdsaSigner) SendTransaction(ctx context.Context, tx *types.Transaction, send func(context.Context, *types.Transaction) error) (common.Hash, error) {
	signer := types.NewEIP155Signer(s.chainID)
	signedTx, err := types.SignTx(tx, signer, s.privateKey)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign transaction: %w", err)
	}

	if err := send(ctx, signedTx); err != nil {
		return common.Hash{}, fmt.Errorf("send transaction: %w", err)
	}

	return signedTx.Hash(), nil
}
