package statemachine

import (
	"math"
	"testing"

	"github.com/liqguard/liquidator/internal/domain"
)

func TestClassifyBoundaries(t *testing.T) {
	bands := Bands{Watch: 1.10, Critical: 1.04, Liquidatable: 1.00}

	cases := []struct {
		hf   float64
		want domain.BorrowerState
	}{
		{2.00, domain.StateSafe},
		{1.11, domain.StateSafe},
		{1.10, domain.StateWatch},
		{1.05, domain.StateWatch},
		{1.04, domain.StateCritical},
		{1.01, domain.StateCritical},
		{1.00, domain.StateLiquidatable},
		{0.50, domain.StateLiquidatable},
		{math.Inf(1), domain.StateSafe},
	}

	for _, c := range cases {
		if got := Classify(c.hf, bands); got != c.want {
			t.Errorf("Classify(%v) = %v, want %v", c.hf, got, c.want)
		}
	}
}

func TestClassifyMonotonicInWatchBoundary(t *testing.T) {
	lower := Bands{Watch: 1.05, Critical: 1.04, Liquidatable: 1.00}
	higher := Bands{Watch: 1.10, Critical: 1.04, Liquidatable: 1.00}

	hf := 1.07
	if got := Classify(hf, lower); got != domain.StateSafe {
		t.Fatalf("expected SAFE with lower watch boundary, got %v", got)
	}
	if got := Classify(hf, higher); got != domain.StateWatch {
		t.Fatalf("expected WATCH with higher watch boundary, got %v", got)
	}
}

func TestClearsCache(t *testing.T) {
	cases := []struct {
		from, to domain.BorrowerState
		want     bool
	}{
		{domain.StateCritical, domain.StateWatch, true},
		{domain.StateLiquidatable, domain.StateSafe, true},
		{domain.StateCritical, domain.StateLiquidatable, false},
		{domain.StateWatch, domain.StateSafe, false},
		{domain.StateSafe, domain.StateWatch, false},
	}
	for _, c := range cases {
		if got := ClearsCache(c.from, c.to); got != c.want {
			t.Errorf("ClearsCache(%v, %v) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}
