package swap

import (
	"math/big"
	"testing"
)

func TestApplySlippage(t *testing.T) {
	tests := []struct {
		name           string
		estimatedOut   *big.Int
		maxSlippageBps int64
		want           *big.Int
	}{
		{"50bps", big.NewInt(10000), 50, big.NewInt(9950)},
		{"zero_slippage", big.NewInt(10000), 0, big.NewInt(10000)},
		{"100pct_impossible_but_math_holds", big.NewInt(10000), 10000, big.NewInt(0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := applySlippage(tt.estimatedOut, tt.maxSlippageBps)
			if got.Cmp(tt.want) != 0 {
				t.Errorf("applySlippage(%v, %d) = %v, want %v", tt.estimatedOut, tt.maxSlippageBps, got, tt.want)
			}
		})
	}
}
