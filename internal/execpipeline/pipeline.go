// Package execpipeline implements the simulate-then-execute pipeline:
// prepare builds and validates a candidate liquidation transaction under a
// per-borrower advisory lock; execute re-validates it against the oracle
// and dispatches the signed broadcast.
package execpipeline

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/liqguard/liquidator/internal/domain"
	"github.com/liqguard/liquidator/internal/hf"
	"github.com/liqguard/liquidator/internal/priceagg"
	"github.com/liqguard/liquidator/internal/registry"
)

// Config carries every tunable gate the pipeline consults.
type Config struct {
	MinDebtUSD             float64
	MaxGasUSD              float64
	MinProfitUSD           float64
	MaxConcurrentTx        int
	TxCacheTTLBlocks       uint64
	MaxSlippageBps         int64
	EnableExecution        bool
	DryRun                 bool
	FlashLoanMode          bool
	PoolAddress            string
	FlashLiquidatorAddress string
	HFLiquidatable         float64
	TxTimeout              time.Duration
}

// Pipeline wires the registry, HF engine, price aggregator, and every
// external collaborator needed to prepare and execute a liquidation.
type Pipeline struct {
	reg    *registry.Registry
	engine *hf.Engine
	prices *priceagg.Aggregator

	chain   domain.ChainClient
	quoter  domain.SwapQuoter
	signer  domain.TxSigner
	sender  domain.Broadcaster
	audit   domain.AuditStore
	notify  domain.AuditNotifier

	cfg Config

	activeMu sync.Mutex
	active   int

	logger *slog.Logger
}

// New builds a Pipeline.
func New(
	reg *registry.Registry,
	engine *hf.Engine,
	prices *priceagg.Aggregator,
	chain domain.ChainClient,
	quoter domain.SwapQuoter,
	signer domain.TxSigner,
	sender domain.Broadcaster,
	audit domain.AuditStore,
	notify domain.AuditNotifier,
	cfg Config,
	logger *slog.Logger,
) *Pipeline {
	return &Pipeline{
		reg: reg, engine: engine, prices: prices,
		chain: chain, quoter: quoter, signer: signer, sender: sender,
		audit: audit, notify: notify, cfg: cfg,
		logger: logger.With(slog.String("component", "execpipeline")),
	}
}

// ActiveExecutions returns the current value of the global concurrency
// counter, exported for the operator status surface.
func (p *Pipeline) ActiveExecutions() int {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	return p.active
}

// Prepare builds and validates a candidate liquidation for addr. It is a
// no-op (Skip) if the advisory lock is already held for that borrower —
// duplicate schedules must not queue.
func (p *Pipeline) Prepare(ctx context.Context, addr string) domain.Result[*domain.CachedTx] {
	b, ok := p.reg.Get(addr)
	if !ok {
		return domain.Skip[*domain.CachedTx]("borrower_unknown")
	}
	if b.State != domain.StateCritical {
		return domain.Skip[*domain.CachedTx]("not_critical")
	}

	_, oracleDebtUSD, _, err := p.chain.GetUserAccountData(ctx, addr)
	if err != nil {
		return domain.Transient[*domain.CachedTx](fmt.Errorf("execpipeline: oracle account data: %w", err))
	}
	if oracleDebtUSD < p.cfg.MinDebtUSD {
		p.recordSkip(ctx, addr, domain.ReasonBelowMinDebt, nil)
		return domain.Skip[*domain.CachedTx](domain.ReasonBelowMinDebt)
	}

	if !p.reg.TryAcquire(addr) {
		return domain.Skip[*domain.CachedTx]("lock_held")
	}
	defer p.reg.Release(addr)

	return p.prepareLocked(ctx, b, p.prices.Snapshot())
}

func (p *Pipeline) prepareLocked(ctx context.Context, b *domain.Borrower, prices domain.PriceMap) domain.Result[*domain.CachedTx] {
	now := time.Now()

	if p.prices.IsStale(now) || !p.prices.AnyConnected() {
		return domain.Skip[*domain.CachedTx](domain.ReasonPriceFeedStale)
	}

	candidate, ok := p.engine.BestLiquidation(b, prices)
	if !ok {
		return domain.Skip[*domain.CachedTx]("no_viable_pair")
	}

	payload, target, value, err := p.buildPayload(ctx, b.Address, candidate)
	if err != nil {
		return domain.Transient[*domain.CachedTx](fmt.Errorf("execpipeline: build payload: %w", err))
	}

	simReq := domain.SimulationRequest{Target: target, Payload: payload, Value: value, FromAddr: p.signer.Address()}
	if err := p.chain.StaticCall(ctx, simReq); err != nil {
		p.recordSkip(ctx, b.Address, domain.ReasonSimulationFailed, err)
		return domain.Skip[*domain.CachedTx](domain.ReasonSimulationFailed)
	}

	gasEst, err := p.chain.EstimateGas(ctx, simReq)
	if err != nil {
		return domain.Transient[*domain.CachedTx](fmt.Errorf("execpipeline: estimate gas: %w", err))
	}
	nativePrice, err := p.chain.NativeAssetPriceUSD(ctx)
	if err != nil {
		return domain.Transient[*domain.CachedTx](fmt.Errorf("execpipeline: native price: %w", err))
	}
	gasUSD := gasCostUSD(gasEst, nativePrice)
	if gasUSD > p.cfg.MaxGasUSD {
		p.recordSkip(ctx, b.Address, domain.ReasonGasGuard, nil)
		return domain.Skip[*domain.CachedTx](domain.ReasonGasGuard)
	}

	if candidate.ProfitUSD < p.cfg.MinProfitUSD {
		p.recordSkip(ctx, b.Address, domain.ReasonProfitFloor, nil)
		return domain.Skip[*domain.CachedTx](domain.ReasonProfitFloor)
	}

	blockNum, err := p.chain.BlockNumber(ctx)
	if err != nil {
		return domain.Transient[*domain.CachedTx](fmt.Errorf("execpipeline: block number: %w", err))
	}

	tx := &domain.CachedTx{
		ID:                   uuid.NewString(),
		Kind:                 kindFor(p.cfg.FlashLoanMode),
		Target:               target,
		Payload:              payload,
		Value:                value,
		GasLimit:             gasEst.GasLimit,
		MaxFeePerGas:         gasEst.MaxFeePerGas,
		DebtAsset:            candidate.DebtAsset,
		CollateralAsset:      candidate.CollateralAsset,
		DebtAmount:           candidate.DebtAmount,
		ExpectedProfitUSD:    candidate.ProfitUSD,
		EstimatedGasUSD:      gasUSD,
		PreparedAt:           now,
	}
	tx.MaxPriorityFeePerGas = gasEst.MaxPriorityPerGas

	if p.cfg.FlashLoanMode {
		quote, err := p.quoter.Quote(ctx, candidate.CollateralAsset, candidate.DebtAsset, candidate.RequiredCollateralAmt, p.signer.Address())
		if err != nil {
			return domain.Transient[*domain.CachedTx](fmt.Errorf("execpipeline: swap quote: %w", err))
		}
		tx.SwapPayload = quote.Payload
		tx.MinSwapOut = quote.MinOut
	}

	b2, ok := p.reg.Get(b.Address)
	if ok {
		b2.CachedTx = tx
		b2.PreparedBlock = blockNum
	}

	return domain.Ok(tx)
}

// buildPayload encodes the exact call prepare will later ask the
// broadcaster to send, branching on the configured execution mode.
func (p *Pipeline) buildPayload(ctx context.Context, borrower string, c hf.LiquidationCandidate) (payload []byte, target string, value *big.Int, err error) {
	if p.cfg.FlashLoanMode {
		payload, err = p.chain.EncodeFlashExecute(borrower, c.DebtAsset, c.CollateralAsset, c.DebtAmount, nil)
		return payload, p.cfg.FlashLiquidatorAddress, big.NewInt(0), err
	}
	payload, err = p.chain.EncodeLiquidationCall(c.CollateralAsset, c.DebtAsset, borrower, c.DebtAmount, false)
	return payload, p.cfg.PoolAddress, big.NewInt(0), err
}

func kindFor(flash bool) domain.CachedTxKind {
	if flash {
		return domain.CachedTxFlash
	}
	return domain.CachedTxDirect
}

func gasCostUSD(est domain.GasEstimate, nativePriceUSD float64) float64 {
	if est.MaxFeePerGas == nil {
		return 0
	}
	weiCost := new(big.Int).Mul(big.NewInt(int64(est.GasLimit)), est.MaxFeePerGas)
	f := new(big.Float).SetInt(weiCost)
	eth := new(big.Float).Quo(f, big.NewFloat(1e18))
	ethF, _ := eth.Float64()
	return ethF * nativePriceUSD
}

// Execute re-validates a LIQUIDATABLE borrower's cached transaction against
// the oracle and dispatches the signed broadcast. The ordering is
// load-bearing: cheap predicates precede expensive RPC calls, and the
// oracle HF is the final authority.
func (p *Pipeline) Execute(ctx context.Context, addr string) domain.Result[string] {
	b, ok := p.reg.Get(addr)
	if !ok {
		return domain.Skip[string]("borrower_unknown")
	}
	if b.State != domain.StateLiquidatable {
		return domain.Skip[string]("not_liquidatable")
	}

	if !p.reg.TryAcquire(addr) {
		return domain.Skip[string]("lock_held")
	}
	defer p.reg.Release(addr)

	return p.executeLocked(ctx, addr)
}

func (p *Pipeline) executeLocked(ctx context.Context, addr string) domain.Result[string] {
	b, ok := p.reg.Get(addr)
	if !ok {
		return domain.Skip[string]("borrower_unknown")
	}
	now := time.Now()
	b.LastExecutionAttemptAt = now

	_, oracleDebtUSD, _, err := p.chain.GetUserAccountData(ctx, addr)
	if err != nil {
		return domain.Transient[string](fmt.Errorf("execpipeline: oracle account data: %w", err))
	}
	if oracleDebtUSD < p.cfg.MinDebtUSD {
		p.recordSkip(ctx, addr, domain.ReasonBelowMinDebt, nil)
		return domain.Skip[string](domain.ReasonBelowMinDebt)
	}

	if !p.prices.CanExecute(now) {
		return domain.Skip[string](domain.ReasonPriceFeedPolicy)
	}
	if p.prices.IsStale(now) {
		return domain.Skip[string](domain.ReasonPriceFeedStale)
	}

	if p.ActiveExecutions() >= p.cfg.MaxConcurrentTx {
		return domain.Skip[string](domain.ReasonConcurrencyCap)
	}

	prices := p.prices.Snapshot()
	if b.CachedTx == nil {
		// Cheap predicates precede expensive RPC calls: a cold cache defers
		// to prepare and returns here rather than folding the whole
		// prepare+execute sequence into one invocation.
		p.prepareLocked(ctx, b, prices)
		return domain.Skip[string](domain.ReasonCacheMiss)
	}

	currentBlock, err := p.chain.BlockNumber(ctx)
	if err != nil {
		return domain.Transient[string](fmt.Errorf("execpipeline: block number: %w", err))
	}
	if p.reg.IsCacheStale(addr, currentBlock, p.cfg.TxCacheTTLBlocks) {
		p.reg.InvalidateCache(addr, "ttl_expired")
		res := p.prepareLocked(ctx, b, prices)
		if !res.IsOk() {
			return domain.Skip[string](domain.ReasonCacheMiss)
		}
	}

	_, _, oracleHF, err := p.chain.GetUserAccountData(ctx, addr)
	if err != nil {
		return domain.Transient[string](fmt.Errorf("execpipeline: refresh oracle hf: %w", err))
	}
	oracleHFCopy := oracleHF
	p.reg.UpdateHF(addr, b.PredictedHF, &oracleHFCopy, now)

	if oracleHF >= 1.0 || oracleHF > p.cfg.HFLiquidatable {
		p.recordSkip(ctx, addr, domain.ReasonOracleNotLiquidatable, nil)
		return domain.Skip[string](domain.ReasonOracleNotLiquidatable)
	}

	tx := b.CachedTx
	if tx == nil {
		return domain.Skip[string](domain.ReasonCacheMiss)
	}

	netProfit := tx.ExpectedProfitUSD - tx.EstimatedGasUSD
	if netProfit < p.cfg.MinProfitUSD || tx.ExpectedProfitUSD < p.cfg.MinProfitUSD {
		p.recordSkip(ctx, addr, domain.ReasonProfitFloor, nil)
		return domain.Skip[string](domain.ReasonProfitFloor)
	}
	if tx.EstimatedGasUSD > p.cfg.MaxGasUSD {
		p.recordSkip(ctx, addr, domain.ReasonGasGuard, nil)
		return domain.Skip[string](domain.ReasonGasGuard)
	}

	if !p.cfg.EnableExecution || p.cfg.DryRun {
		p.logger.Info("dry-run: would broadcast liquidation",
			slog.String("borrower", addr),
			slog.Float64("expected_profit_usd", tx.ExpectedProfitUSD),
			slog.Float64("estimated_gas_usd", tx.EstimatedGasUSD),
		)
		return domain.Skip[string](domain.ReasonDryRun)
	}

	return p.dispatch(ctx, addr, tx)
}

func (p *Pipeline) dispatch(ctx context.Context, addr string, tx *domain.CachedTx) domain.Result[string] {
	p.activeMu.Lock()
	p.active++
	p.activeMu.Unlock()
	defer func() {
		p.activeMu.Lock()
		p.active--
		p.activeMu.Unlock()
	}()

	nonce, err := p.chain.PendingNonce(ctx, p.signer.Address())
	if err != nil {
		return domain.Transient[string](fmt.Errorf("execpipeline: nonce: %w", err))
	}

	signed, err := p.signer.Sign(ctx, tx.Target, tx.Payload, tx.Value, domain.GasEstimate{
		GasLimit: tx.GasLimit, MaxFeePerGas: tx.MaxFeePerGas, MaxPriorityPerGas: tx.MaxPriorityFeePerGas,
	}, nonce)
	if err != nil {
		return domain.Transient[string](fmt.Errorf("execpipeline: sign: %w", err))
	}

	if err := p.sender.Send(ctx, signed); err != nil {
		p.recordSkip(ctx, addr, "broadcast_failed", err)
		return domain.Transient[string](fmt.Errorf("execpipeline: broadcast: %w", err))
	}

	receipt, err := p.sender.Wait(ctx, signed.Hash, p.cfg.TxTimeout)
	if err != nil {
		p.recordSkip(ctx, addr, "receipt_failed", err)
		return domain.Transient[string](fmt.Errorf("execpipeline: await receipt: %w", err))
	}

	if p.audit != nil {
		_ = p.audit.Log(ctx, "liquidation.executed", map[string]any{
			"borrower": addr, "tx_hash": receipt.TxHash, "success": receipt.Success,
		})
	}
	return domain.Ok(receipt.TxHash)
}

func (p *Pipeline) recordSkip(ctx context.Context, addr, reason string, cause error) {
	if b, ok := p.reg.Get(addr); ok {
		b.LastSkipReason = reason
	}
	detail := map[string]any{"borrower": addr, "reason": reason}
	if cause != nil {
		detail["error"] = cause.Error()
	}
	if p.audit != nil {
		_ = p.audit.Log(ctx, "liquidation.skipped", detail)
	}
	if p.notify != nil {
		p.notify.Notify(ctx, "liquidation.skipped", reason, addr)
	}
}
