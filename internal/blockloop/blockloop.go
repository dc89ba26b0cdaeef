// Package blockloop periodically recomputes health factors for every
// WATCH and CRITICAL borrower using the latest aggregated off-chain prices,
// and drives newly-LIQUIDATABLE borrowers into the execute path.
package blockloop

import (
	"context"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/liqguard/liquidator/internal/domain"
	"github.com/liqguard/liquidator/internal/execpipeline"
	"github.com/liqguard/liquidator/internal/hf"
	"github.com/liqguard/liquidator/internal/priceagg"
	"github.com/liqguard/liquidator/internal/registry"
)

// BlockLoop is the periodic recompute driver. Its periodic sweep never
// calls Prepare: CRITICAL borrowers are prepared from Recompute, which the
// fan-out of event and price updates calls; the sweep only re-scores them on
// a fixed cadence as a backstop and dispatches execution once a borrower
// crosses into LIQUIDATABLE.
type BlockLoop struct {
	reg       *registry.Registry
	engine    *hf.Engine
	prices    *priceagg.Aggregator
	pipeline  *execpipeline.Pipeline
	chain     domain.ChainClient
	snapshots domain.BorrowerSnapshotStore // optional; nil disables snapshot persistence

	interval   time.Duration
	statsEvery uint64

	feeMu        sync.RWMutex
	blockHeight  uint64
	gasTipCap    *big.Int
	gasFeeCap    *big.Int

	logger *slog.Logger
}

// New builds a BlockLoop. interval is BLOCK_POLL_INTERVAL. snapshots may be
// nil, in which case borrower-population snapshots are never persisted.
func New(
	reg *registry.Registry,
	engine *hf.Engine,
	prices *priceagg.Aggregator,
	pipeline *execpipeline.Pipeline,
	chain domain.ChainClient,
	snapshots domain.BorrowerSnapshotStore,
	interval time.Duration,
	logger *slog.Logger,
) *BlockLoop {
	return &BlockLoop{
		reg: reg, engine: engine, prices: prices, pipeline: pipeline, chain: chain,
		snapshots:  snapshots,
		interval:   interval,
		statsEvery: 100,
		logger:     logger.With(slog.String("component", "block_loop")),
	}
}

// Run ticks every interval until ctx is cancelled, recomputing HF for every
// WATCH/CRITICAL borrower and executing any that become LIQUIDATABLE.
func (l *BlockLoop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	var ticks uint64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			ticks++
			l.tick(ctx)
			if ticks%l.statsEvery == 0 {
				l.logStats()
				l.persistSnapshots(ctx)
			}
		}
	}
}

// Recompute re-scores a single borrower immediately, used by the event and
// price-update fan-outs in addition to this loop's own periodic sweep.
func (l *BlockLoop) Recompute(ctx context.Context, addr string) {
	b, ok := l.reg.Get(addr)
	if !ok || !b.Hydrated {
		return
	}
	prices := l.prices.Snapshot()
	predicted := l.engine.Compute(b, prices)

	_, _, to := l.reg.UpdateHF(addr, predicted, nil, time.Now())
	switch {
	case to == domain.StateLiquidatable:
		go l.execute(ctx, addr)
	case to == domain.StateCritical && b.CachedTx == nil:
		go l.pipeline.Prepare(ctx, addr)
	}
}

// refreshChainState reads the current block height and fee data once per
// tick and caches them for the loop's own bookkeeping. A failed read is
// logged and does not abort the sweep: HF recomputation only needs prices,
// not chain state, and prepare/execute re-read fee data themselves.
func (l *BlockLoop) refreshChainState(ctx context.Context) {
	height, err := l.chain.BlockNumber(ctx)
	if err != nil {
		l.logger.Warn("block height read failed", slog.String("error", err.Error()))
	}
	tip, tipErr := l.chain.SuggestGasTipCap(ctx)
	if tipErr != nil {
		l.logger.Warn("gas tip cap read failed", slog.String("error", tipErr.Error()))
	}
	feeCap, feeErr := l.chain.SuggestGasFeeCap(ctx)
	if feeErr != nil {
		l.logger.Warn("gas fee cap read failed", slog.String("error", feeErr.Error()))
	}

	l.feeMu.Lock()
	defer l.feeMu.Unlock()
	if err == nil {
		l.blockHeight = height
	}
	if tipErr == nil {
		l.gasTipCap = tip
	}
	if feeErr == nil {
		l.gasFeeCap = feeCap
	}
}

// CurrentBlock returns the block height observed on the most recent tick.
func (l *BlockLoop) CurrentBlock() uint64 {
	l.feeMu.RLock()
	defer l.feeMu.RUnlock()
	return l.blockHeight
}

// CurrentGasFees returns the gas tip and fee caps observed on the most
// recent tick.
func (l *BlockLoop) CurrentGasFees() (tip, feeCap *big.Int) {
	l.feeMu.RLock()
	defer l.feeMu.RUnlock()
	return l.gasTipCap, l.gasFeeCap
}

func (l *BlockLoop) tick(ctx context.Context) {
	l.refreshChainState(ctx)

	prices := l.prices.Snapshot()
	now := time.Now()

	candidates := l.reg.ByStates(map[domain.BorrowerState]bool{
		domain.StateWatch:    true,
		domain.StateCritical: true,
	})

	for _, b := range candidates {
		if !b.Hydrated {
			continue
		}
		predicted := l.engine.Compute(b, prices)
		_, _, to := l.reg.UpdateHF(b.Address, predicted, nil, now)
		if to == domain.StateLiquidatable {
			go l.execute(ctx, b.Address)
		}
	}
}

func (l *BlockLoop) execute(ctx context.Context, addr string) {
	res := l.pipeline.Execute(ctx, addr)
	switch res.Kind {
	case domain.ResultOk:
		l.logger.Info("liquidation executed", slog.String("borrower", addr), slog.String("tx_hash", res.Value))
	case domain.ResultSkip:
		l.logger.Debug("liquidation skipped", slog.String("borrower", addr), slog.String("reason", res.SkipReason))
	case domain.ResultTransient:
		l.logger.Warn("liquidation execute transient failure", slog.String("borrower", addr), slog.String("error", res.Err.Error()))
	case domain.ResultFatal:
		l.logger.Error("liquidation execute fatal failure", slog.String("borrower", addr), slog.String("error", res.Err.Error()))
	}
}

// persistSnapshots writes a point-in-time projection of every tracked
// borrower to the snapshot store, on the same cadence as logStats. It is a
// best-effort write: a failure is logged and never blocks or aborts the
// loop, matching the non-hot-path guarantee for persistence.
func (l *BlockLoop) persistSnapshots(ctx context.Context) {
	if l.snapshots == nil {
		return
	}
	now := time.Now()
	borrowers := l.reg.All()
	if len(borrowers) == 0 {
		return
	}
	batch := make([]domain.BorrowerSnapshot, 0, len(borrowers))
	for _, b := range borrowers {
		batch = append(batch, domain.BorrowerSnapshot{
			Address:     b.Address,
			State:       b.State,
			PredictedHF: b.PredictedHF,
			OracleHF:    b.OracleHF,
			RecordedAt:  now,
		})
	}
	if err := l.snapshots.InsertBatch(ctx, batch); err != nil {
		l.logger.Warn("snapshot batch insert failed", slog.String("error", err.Error()))
	}
}

func (l *BlockLoop) logStats() {
	s := l.reg.Stats()
	l.logger.Info("borrower population snapshot",
		slog.Int("safe", s.Safe),
		slog.Int("watch", s.Watch),
		slog.Int("critical", s.Critical),
		slog.Int("liquidatable", s.Liquidatable),
		slog.Int("total", s.Total),
		slog.Int("active_executions", l.pipeline.ActiveExecutions()),
	)
}
