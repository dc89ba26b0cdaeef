// Package eventrouter subscribes to pool events, keeps the registry's
// balances in sync, and fans out borrower-updated notifications consumed by
// the prepare/execute recompute pipeline.
package eventrouter

import (
	"context"
	"log/slog"
	"math/big"
	"time"

	"github.com/liqguard/liquidator/internal/domain"
	"github.com/liqguard/liquidator/internal/registry"
)

// Router subscribes to Borrow, Repay, Supply, Withdraw, and LiquidationCall
// events and refreshes registry balances in response.
type Router struct {
	sub        domain.EventSubscriber
	chain      domain.ChainClient
	registry   *registry.Registry
	audit      domain.AuditStore
	notifier   domain.AuditNotifier

	collateralAssets []domain.ReserveData
	debtAssets       []domain.ReserveData
	minDebtUSD       float64

	updated chan string // borrower addresses with a fresh balance write

	logger *slog.Logger
}

// New builds a Router. collateralAssets/debtAssets are the configured
// target reserves whose balances are refreshed on every touching event.
func New(
	sub domain.EventSubscriber,
	chain domain.ChainClient,
	reg *registry.Registry,
	audit domain.AuditStore,
	notifier domain.AuditNotifier,
	collateralAssets, debtAssets []domain.ReserveData,
	minDebtUSD float64,
	logger *slog.Logger,
) *Router {
	return &Router{
		sub:              sub,
		chain:            chain,
		registry:         reg,
		audit:            audit,
		notifier:         notifier,
		collateralAssets: collateralAssets,
		debtAssets:       debtAssets,
		minDebtUSD:       minDebtUSD,
		updated:          make(chan string, 1024),
		logger:           logger.With(slog.String("component", "event_router")),
	}
}

// Updated returns the channel of borrower addresses whose balances changed,
// consumed by the recompute fan-out.
func (r *Router) Updated() <-chan string {
	return r.updated
}

// Run subscribes and processes events until ctx is cancelled.
func (r *Router) Run(ctx context.Context) error {
	subscription, err := r.sub.Subscribe(ctx, []domain.PoolEventKind{
		domain.EventBorrow, domain.EventRepay, domain.EventSupply,
		domain.EventWithdraw, domain.EventLiquidationCall,
	})
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-subscription.Events():
			if !ok {
				if err := subscription.Err(); err != nil {
					return err
				}
				return nil
			}
			r.handle(ctx, ev)
		}
	}
}

func (r *Router) handle(ctx context.Context, ev domain.PoolEvent) {
	addr := domain.NormalizeAddress(ev.OnBehalfOf)
	now := time.Now()

	if ev.Kind == domain.EventRepay {
		if _, ok := r.registry.Get(addr); !ok {
			return
		}
	}

	isNew := false
	b, existed := r.registry.Get(addr)
	if !existed {
		b = r.registry.Upsert(addr, now)
		isNew = true
	}
	b.LastEventAt = now

	if err := r.refreshBalances(ctx, addr); err != nil {
		r.logger.Warn("balance refresh failed, borrower left unhydrated",
			slog.String("borrower", addr), slog.String("error", err.Error()))
		return
	}
	r.registry.MarkHydrated(addr)

	if ev.Kind == domain.EventLiquidationCall {
		r.handleLiquidationCall(ctx, addr)
		return
	}

	if isNew && (ev.Kind == domain.EventBorrow || ev.Kind == domain.EventSupply || ev.Kind == domain.EventWithdraw) {
		totalDebtUSD, err := r.totalDebtUSDOracle(ctx, b)
		if err != nil {
			r.logger.Warn("transient failure computing oracle debt, keeping borrower",
				slog.String("borrower", addr), slog.String("error", err.Error()))
		} else if totalDebtUSD < r.minDebtUSD {
			r.registry.Remove(addr)
			r.auditLog(ctx, "borrower.removed_below_min_debt", map[string]any{
				"borrower": addr, "total_debt_usd": totalDebtUSD,
			})
			return
		}
	}

	r.notifyUpdated(addr)
}

// handleLiquidationCall is authoritative: balances have already been
// refreshed above. If every tracked debt balance is now zero the borrower
// is removed; otherwise the event is classified for audit purposes only.
func (r *Router) handleLiquidationCall(ctx context.Context, addr string) {
	b, ok := r.registry.Get(addr)
	if !ok {
		return
	}
	if b.TotalDebtZero() {
		r.registry.Remove(addr)
		r.auditLog(ctx, "borrower.liquidated_fully", map[string]any{"borrower": addr})
		return
	}

	reason := r.classifyLiquidationCall(b)
	r.auditLog(ctx, "liquidation_call.observed", map[string]any{
		"borrower": addr,
		"reason":   string(reason),
	})
	r.notifyUpdated(addr)
}

// pipelineSkipToCallReason maps the pipeline's LastSkipReason (recorded by
// prepare/execute) to the coarser LiquidationCallSkipReason vocabulary used
// for audit classification of a LiquidationCall this agent did not
// originate. The two enums use different string values for the same
// concept (e.g. ReasonGasGuard="gas_guard" vs SkipFilteredByGas=
// "filtered_by_gas"), so this is a real mapping, not a cast.
var pipelineSkipToCallReason = map[string]domain.LiquidationCallSkipReason{
	domain.ReasonBelowMinDebt:          domain.SkipBelowMinDebt,
	domain.ReasonOracleNotLiquidatable: domain.SkipOracleNotLiquidatable,
	domain.ReasonProfitFloor:           domain.SkipFilteredByProfit,
	domain.ReasonGasGuard:              domain.SkipFilteredByGas,
}

func (r *Router) classifyLiquidationCall(b *domain.Borrower) domain.LiquidationCallSkipReason {
	switch {
	case !b.Hydrated:
		return domain.SkipNotInWatchSet
	case b.State != domain.StateCritical && b.State != domain.StateLiquidatable:
		return domain.SkipRaced
	}
	if reason, ok := pipelineSkipToCallReason[b.LastSkipReason]; ok {
		return reason
	}
	return domain.SkipUnknown
}

// refreshBalances reads the interest-bearing-token balance for every
// configured collateral asset and the variable-debt-token balance for
// every configured debt asset. Zero balances are omitted.
func (r *Router) refreshBalances(ctx context.Context, addr string) error {
	b, ok := r.registry.Get(addr)
	if !ok {
		return domain.ErrBorrowerUnknown
	}

	for _, reserve := range r.collateralAssets {
		amt, err := r.chain.TokenBalance(ctx, reserve.ATokenAddress, addr)
		if err != nil {
			return err
		}
		b.Collateral.Set(reserve.Asset, amt)
	}
	for _, reserve := range r.debtAssets {
		amt, err := r.chain.TokenBalance(ctx, reserve.VariableDebtAddress, addr)
		if err != nil {
			return err
		}
		b.Debt.Set(reserve.Asset, amt)
	}
	return nil
}

func (r *Router) totalDebtUSDOracle(ctx context.Context, b *domain.Borrower) (float64, error) {
	var total float64
	for assetAddr, bal := range b.Debt {
		price, err := r.chain.OraclePrice(ctx, assetAddr)
		if err != nil {
			return 0, err
		}
		decimals, err := r.chain.TokenDecimals(ctx, assetAddr)
		if err != nil {
			return 0, err
		}
		total += scaledFloat(bal.BaseUnits, decimals) * price
	}
	return total, nil
}

func scaledFloat(amount *big.Int, decimals int) float64 {
	if amount == nil || amount.Sign() == 0 {
		return 0
	}
	f := new(big.Float).SetInt(amount)
	scale := new(big.Float).SetInt64(1)
	ten := big.NewFloat(10)
	for i := 0; i < decimals; i++ {
		scale.Mul(scale, ten)
	}
	f.Quo(f, scale)
	out, _ := f.Float64()
	return out
}

func (r *Router) notifyUpdated(addr string) {
	select {
	case r.updated <- addr:
	default:
		r.logger.Warn("borrower_updated channel full, dropping notification", slog.String("borrower", addr))
	}
}

// auditLog writes best-effort; a failure here must never block event
// processing.
func (r *Router) auditLog(ctx context.Context, event string, detail map[string]any) {
	if r.audit != nil {
		if err := r.audit.Log(ctx, event, detail); err != nil {
			r.logger.Warn("audit log failed", slog.String("event", event), slog.String("error", err.Error()))
		}
	}
	if r.notifier != nil {
		r.notifier.Notify(ctx, event, event, "")
	}
}

// Seed inserts a one-time discovery batch as SAFE and unhydrated. The
// discovery mechanism itself is out of scope; subsequent on-chain events
// transition these borrowers to hydrated.
func (r *Router) Seed(seeds []domain.SeedBorrower, now time.Time) {
	for _, s := range seeds {
		b := r.registry.Upsert(s.Address, now)
		for k, v := range s.Collateral {
			b.Collateral[k] = v
		}
		for k, v := range s.Debt {
			b.Debt[k] = v
		}
	}
}
