// Package hf computes off-chain health factors and liquidation profit
// estimates from cached borrower balances and cached prices.
package hf

import (
	"log/slog"
	"math"
	"math/big"

	"github.com/liqguard/liquidator/internal/domain"
)

// Engine computes health factors and liquidation candidates given the
// current asset table and a snapshot of latest prices.
type Engine struct {
	assets *domain.AssetTable
	bonus  float64
	logger *slog.Logger
}

// New builds an Engine. bonus is the liquidation bonus (0.05 default).
func New(assets *domain.AssetTable, bonus float64, logger *slog.Logger) *Engine {
	return &Engine{
		assets: assets,
		bonus:  bonus,
		logger: logger.With(slog.String("component", "hf_engine")),
	}
}

// scaledFloat converts a base-units integer amount to a float64 after
// dividing by 10^decimals, following the wide-integer-until-the-final-ratio
// convention: token amounts stay big.Int up to this point.
func scaledFloat(amount *big.Int, decimals int) float64 {
	if amount == nil || amount.Sign() == 0 {
		return 0
	}
	f := new(big.Float).SetInt(amount)
	scale := new(big.Float).SetFloat64(math.Pow10(decimals))
	f.Quo(f, scale)
	out, _ := f.Float64()
	return out
}

// Compute returns the predicted health factor for a borrower given a price
// snapshot. Debt of zero yields +Inf. An asset with a missing price
// contributes zero to its side of the ratio; the omission is logged but
// does not fail the computation.
func (e *Engine) Compute(b *domain.Borrower, prices domain.PriceMap) float64 {
	var totalDebtUSD, weightedCollateralUSD float64

	for assetAddr, bal := range b.Debt {
		price, ok := prices.Lookup(assetAddr)
		if !ok {
			e.logger.Warn("missing price for debt asset, contributing zero",
				slog.String("borrower", b.Address), slog.String("asset", assetAddr))
			continue
		}
		decimals, _ := e.assets.Decimals(assetAddr)
		totalDebtUSD += scaledFloat(bal.BaseUnits, decimals) * price
	}

	for assetAddr, bal := range b.Collateral {
		price, ok := prices.Lookup(assetAddr)
		if !ok {
			e.logger.Warn("missing price for collateral asset, contributing zero",
				slog.String("borrower", b.Address), slog.String("asset", assetAddr))
			continue
		}
		decimals, _ := e.assets.Decimals(assetAddr)
		threshold := e.assets.Threshold(assetAddr)
		weightedCollateralUSD += scaledFloat(bal.BaseUnits, decimals) * price * threshold
	}

	if totalDebtUSD == 0 {
		return math.Inf(1)
	}
	return weightedCollateralUSD / totalDebtUSD
}

// LiquidationCandidate describes the best (debt, collateral) pair for a
// prepare attempt.
type LiquidationCandidate struct {
	DebtAsset             string
	CollateralAsset       string
	DebtAmount            *big.Int // close-factor-adjusted (50%)
	DebtValueUSD          float64
	RequiredCollateralAmt *big.Int
	ProfitUSD             float64
}

// BestLiquidation evaluates every (debtAsset, collateralAsset) pair the
// borrower holds and returns the one maximizing ProfitUSD. Returns
// (candidate, false) if no pair clears the required-collateral check.
func (e *Engine) BestLiquidation(b *domain.Borrower, prices domain.PriceMap) (LiquidationCandidate, bool) {
	var best LiquidationCandidate
	found := false

	for debtAsset, debtBal := range b.Debt {
		debtPrice, ok := prices.Lookup(debtAsset)
		if !ok || debtBal.IsZero() {
			continue
		}
		debtDecimals, _ := e.assets.Decimals(debtAsset)

		// close factor 50%, floored.
		debtAmount := new(big.Int).Rsh(new(big.Int).Set(debtBal.BaseUnits), 1)
		if debtAmount.Sign() == 0 {
			continue
		}
		debtValueUSD := scaledFloat(debtAmount, debtDecimals) * debtPrice
		requiredCollateralUSD := debtValueUSD * (1 + e.bonus)

		for collAsset, collBal := range b.Collateral {
			if collBal.IsZero() {
				continue
			}
			collPrice, ok := prices.Lookup(collAsset)
			if !ok || collPrice <= 0 {
				continue
			}
			collDecimals, _ := e.assets.Decimals(collAsset)

			requiredCollateralAmt := ceilCollateralAmount(requiredCollateralUSD, collDecimals, collPrice)
			if requiredCollateralAmt.Cmp(collBal.BaseUnits) > 0 {
				continue
			}

			profitUSD := debtValueUSD * e.bonus
			if !found || profitUSD > best.ProfitUSD {
				best = LiquidationCandidate{
					DebtAsset:             debtAsset,
					CollateralAsset:       collAsset,
					DebtAmount:            debtAmount,
					DebtValueUSD:          debtValueUSD,
					RequiredCollateralAmt: requiredCollateralAmt,
					ProfitUSD:             profitUSD,
				}
				found = true
			}
		}
	}

	return best, found
}

// ceilCollateralAmount computes ceil(requiredUSD * 10^decimals / price).
func ceilCollateralAmount(requiredUSD float64, decimals int, price float64) *big.Int {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	q := new(big.Rat).SetFloat64(requiredUSD)
	q.Mul(q, new(big.Rat).SetInt(scale))
	q.Quo(q, new(big.Rat).SetFloat64(price))
	// The quotient is exact; integer division truncates toward zero, so add
	// one unit if there was a remainder to match ceiling semantics.
	amt, rem := new(big.Int).QuoRem(q.Num(), q.Denom(), new(big.Int))
	if rem.Sign() > 0 {
		amt.Add(amt, big.NewInt(1))
	}
	return amt
}
