package signer

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/polyarb/agent/internal/config"
)

const testPrivateKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestNewDerivesAddressFromPrivateKey(t *testing.T) {
	s, err := New(config.WalletConfig{PrivateKey: testPrivateKey, ChainID: 137})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.FunderAddress() != s.Address() {
		t.Error("FunderAddress should default to Address for a plain EOA wallet")
	}
	if s.ChainID().Int64() != 137 {
		t.Errorf("ChainID = %d, want 137", s.ChainID().Int64())
	}
}

func TestNewUsesExplicitFunderAddress(t *testing.T) {
	funder := "0x000000000000000000000000000000000000dEaD"
	s, err := New(config.WalletConfig{PrivateKey: testPrivateKey, ChainID: 137, FunderAddress: funder, SignatureType: 1})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.FunderAddress().Hex() != funder {
		t.Errorf("FunderAddress = %s, want %s", s.FunderAddress().Hex(), funder)
	}
	if s.Address() == s.FunderAddress() {
		t.Error("Address and FunderAddress should differ for a proxy wallet")
	}
}

func TestNewRejectsMalformedKey(t *testing.T) {
	if _, err := New(config.WalletConfig{PrivateKey: "not-hex", ChainID: 137}); err == nil {
		t.Fatal("expected error for malformed private key")
	}
}

func TestNewAcceptsHexPrefixedKey(t *testing.T) {
	if _, err := New(config.WalletConfig{PrivateKey: "0x" + testPrivateKey, ChainID: 137}); err != nil {
		t.Fatalf("New with 0x-prefixed key: %v", err)
	}
}

func TestSignMessageProducesNormalizedRecoveryByte(t *testing.T) {
	s, err := New(config.WalletConfig{PrivateKey: testPrivateKey, ChainID: 137})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sig, err := s.SignMessage([]byte("hello"))
	if err != nil {
		t.Fatalf("SignMessage: %v", err)
	}
	if len(sig) != 65 {
		t.Fatalf("len(sig) = %d, want 65", len(sig))
	}
	if sig[64] != 27 && sig[64] != 28 {
		t.Errorf("recovery byte = %d, want 27 or 28", sig[64])
	}
}

func TestSignTypedDataProducesNormalizedRecoveryByte(t *testing.T) {
	s, err := New(config.WalletConfig{PrivateKey: testPrivateKey, ChainID: 137})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	domain := &apitypes.TypedDataDomain{Name: "Test", Version: "1"}
	typesDef := apitypes.Types{
		"EIP712Domain": {
			{Name: "name", Type: "string"},
			{Name: "version", Type: "string"},
		},
		"Order": {
			{Name: "amount", Type: "uint256"},
		},
	}
	message := apitypes.TypedDataMessage{"amount": "100"}

	sig, err := s.SignTypedData(domain, typesDef, message, "Order")
	if err != nil {
		t.Fatalf("SignTypedData: %v", err)
	}
	if len(sig) != 65 {
		t.Fatalf("len(sig) = %d, want 65", len(sig))
	}
	if sig[64] != 27 && sig[64] != 28 {
		t.Errorf("recovery byte = %d, want 27 or 28", sig[64])
	}
}

func TestSendTransactionDelegatesToSendFunc(t *testing.T) {
	s, err := New(config.WalletConfig{PrivateKey: testPrivateKey, ChainID: 137})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	tx := gethtypes.NewTransaction(0, s.Address(), nil, 21000, big.NewInt(1), nil)

	var called bool
	var sentHash common.Hash
	hash, err := s.SendTransaction(context.Background(), tx, func(ctx context.Context, signed *gethtypes.Transaction) error {
		called = true
		sentHash = signed.Hash()
		if signed.Hash() == tx.Hash() {
			t.Error("expected signed transaction hash to differ from the unsigned input")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("SendTransaction: %v", err)
	}
	if !called {
		t.Error("send func was not called")
	}
	if hash != sentHash {
		t.Errorf("returned hash = %v, want %v", hash, sentHash)
	}
}
