package eth

import (
	"context"
	"math/big"
	"testing"
)

// Well-known development key (hardhat account #0).
const devKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
const devAddr = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"

func TestNewWallet(t *testing.T) {
	w, err := NewWallet(devKey)
	if err != nil {
		t.Fatalf("NewWallet() error = %v", err)
	}
	if got := w.AddressHex(); got != devAddr {
		t.Errorf("AddressHex() = %s, want %s", got, devAddr)
	}

	if _, err := NewWallet("not-a-key"); err == nil {
		t.Error("expected error for bad key")
	}
}

func TestTransactor(t *testing.T) {
	w, err := NewWallet(devKey)
	if err != nil {
		t.Fatal(err)
	}
	fee := big.NewInt(500)
	opts, err := w.Transactor(context.Background(), big.NewInt(int64(DefaultChainID)), fee)
	if err != nil {
		t.Fatalf("Transactor() error = %v", err)
	}
	if opts.From != w.Address() {
		t.Errorf("From = %s", opts.From.Hex())
	}
	if opts.Value.Cmp(fee) != 0 {
		t.Errorf("Value = %s, want 500", opts.Value)
	}
	fee.SetInt64(1)
	if opts.Value.Int64() != 500 {
		t.Error("Transactor should copy the value")
	}
}

func TestNetworkCheck(t *testing.T) {
	n := DefaultNetworkConfig()
	if err := n.Check(DefaultChainID); err != nil {
		t.Errorf("Check(default) error = %v", err)
	}
	if err := n.Check(1); err == nil {
		t.Error("Check(1) should fail")
	}
}

func TestParseAddress(t *testing.T) {
	if _, err := ParseAddress(devAddr); err != nil {
		t.Errorf("ParseAddress() error = %v", err)
	}
	if _, err := ParseAddress("0x123"); err == nil {
		t.Error("expected error for short address")
	}
}
