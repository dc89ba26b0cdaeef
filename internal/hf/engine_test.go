package hf

import (
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/liqguard/liquidator/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const (
	weth = "0x000000000000000000000000000000000000e1"
	usdc = "0x000000000000000000000000000000000000c1"
)

func newTestBorrower() *domain.Borrower {
	b := domain.NewBorrower("0xborrower", time.Now())
	b.Hydrated = true
	wethAmt, _ := new(big.Int).SetString("10000000000000000000", 10) // 10 * 1e18
	usdcAmt, _ := new(big.Int).SetString("10000000000", 10)          // 10000 * 1e6
	b.Collateral.Set(weth, wethAmt)
	b.Debt.Set(usdc, usdcAmt)
	return b
}

func testAssets() *domain.AssetTable {
	return domain.NewAssetTable([]domain.Asset{
		{Symbol: "WETH", Address: weth, Decimals: 18, LiquidationThreshold: 0.825},
		{Symbol: "USDC", Address: usdc, Decimals: 6, LiquidationThreshold: 0.85},
	})
}

func testPrices() domain.PriceMap {
	now := time.Now()
	return domain.PriceMap{
		weth: {Asset: weth, USD: 2000, CapturedAt: now, Source: domain.PriceSourceBinance},
		usdc: {Asset: usdc, USD: 1, CapturedAt: now, Source: domain.PriceSourceBinance},
	}
}

func TestComputeHF(t *testing.T) {
	e := New(testAssets(), 0.05, testLogger())
	b := newTestBorrower()

	got := e.Compute(b, testPrices())
	want := 1.65 // (10*2000*0.825)/10000
	if diff := got - want; diff > 0.01 || diff < -0.01 {
		t.Fatalf("Compute() = %v, want ~%v", got, want)
	}
}

func TestComputeHFZeroDebtIsInf(t *testing.T) {
	e := New(testAssets(), 0.05, testLogger())
	b := newTestBorrower()
	b.Debt = domain.BalanceSet{}

	got := e.Compute(b, testPrices())
	if !IsInfHelper(got) {
		t.Fatalf("Compute() = %v, want +Inf", got)
	}
}

func TestBestLiquidation(t *testing.T) {
	e := New(testAssets(), 0.05, testLogger())
	b := newTestBorrower()

	cand, ok := e.BestLiquidation(b, testPrices())
	if !ok {
		t.Fatal("expected a liquidation candidate")
	}
	if cand.DebtAsset != usdc || cand.CollateralAsset != weth {
		t.Fatalf("unexpected pair: %+v", cand)
	}
	if cand.DebtValueUSD != 5000 {
		t.Fatalf("DebtValueUSD = %v, want 5000", cand.DebtValueUSD)
	}
	if cand.ProfitUSD != 250 {
		t.Fatalf("ProfitUSD = %v, want 250", cand.ProfitUSD)
	}
	wantRequired, _ := new(big.Int).SetString("2625000000000000000", 10) // 2.625e18
	if cand.RequiredCollateralAmt.Cmp(wantRequired) != 0 {
		t.Fatalf("RequiredCollateralAmt = %v, want %v", cand.RequiredCollateralAmt, wantRequired)
	}
}

func TestBestLiquidationInsufficientCollateral(t *testing.T) {
	e := New(testAssets(), 0.05, testLogger())
	b := newTestBorrower()
	b.Collateral.Set(weth, big.NewInt(1)) // dust, far below what's required

	if _, ok := e.BestLiquidation(b, testPrices()); ok {
		t.Fatal("expected no candidate when required collateral exceeds holdings")
	}
}

// IsInfHelper avoids importing math in the test twice for a one-line check.
func IsInfHelper(f float64) bool {
	return f > 1e300
}
