package crypto

import (
	"context"
	"math/big"
	"strings"
	"testing"

	"github.com/liqguard/liquidator/internal/domain"
)

const testPrivateKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestSignerAddressIsDeterministic(t *testing.T) {
	s1, err := NewSigner(testPrivateKey, 1)
	if err != nil {
		t.Fatalf("NewSigner() error = %v", err)
	}
	s2, err := NewSigner("0x"+testPrivateKey, 1)
	if err != nil {
		t.Fatalf("NewSigner() with 0x prefix error = %v", err)
	}
	if s1.Address() != s2.Address() {
		t.Fatalf("addresses differ with/without 0x prefix: %s vs %s", s1.Address(), s2.Address())
	}
	if !strings.HasPrefix(s1.Address(), "0x") {
		t.Fatalf("expected 0x-prefixed address, got %s", s1.Address())
	}
}

func TestSignProducesRecoverableTx(t *testing.T) {
	s, err := NewSigner(testPrivateKey, 1)
	if err != nil {
		t.Fatalf("NewSigner() error = %v", err)
	}

	gas := domain.GasEstimate{
		GasLimit:          300000,
		MaxFeePerGas:      big.NewInt(50_000_000_000),
		MaxPriorityPerGas: big.NewInt(2_000_000_000),
	}
	signed, err := s.Sign(context.Background(), "0x1111111111111111111111111111111111111111", []byte{0xde, 0xad, 0xbe, 0xef}, big.NewInt(0), gas, 7)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if signed.Hash == "" {
		t.Fatal("expected non-empty tx hash")
	}
	if len(signed.Raw) == 0 {
		t.Fatal("expected non-empty raw tx bytes")
	}
}
