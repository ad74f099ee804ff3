// Package eth provides the signing wallet and network identity used to submit slips.
package eth

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Wallet wraps an ECDSA private key for Ethereum signing.
type Wallet struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewWallet creates a wallet from a hex-encoded private key.
func NewWallet(hexKey string) (*Wallet, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")

	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	return &Wallet{
		privateKey: key,
		address:    crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// GenerateWallet creates a wallet with a fresh random key. Used in paper mode.
func GenerateWallet() (*Wallet, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return &Wallet{privateKey: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

// Address returns the wallet's Ethereum address.
func (w *Wallet) Address() common.Address {
	return w.address
}

// AddressHex returns the wallet address as a checksummed hex string.
func (w *Wallet) AddressHex() string {
	return w.address.Hex()
}

// Transactor returns signing options bound to chainID. value is the amount of
// native currency sent with the call and may be nil.
func (w *Wallet) Transactor(ctx context.Context, chainID *big.Int, value *big.Int) (*bind.TransactOpts, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(w.privateKey, chainID)
	if err != nil {
		return nil, fmt.Errorf("transactor: %w", err)
	}
	opts.Context = ctx
	if value != nil {
		opts.Value = new(big.Int).Set(value)
	}
	return opts, nil
}

// ParseAddress validates and parses a hex address.
func ParseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}
