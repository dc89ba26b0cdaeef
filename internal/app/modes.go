package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/liqguard/liquidator/internal/domain"
	"github.com/liqguard/liquidator/internal/server"
	"github.com/liqguard/liquidator/internal/server/handler"
)

// leaderLockKey is the Redis key contended by every agent instance sharing a
// borrower population. Only the holder runs the periodic recompute loop;
// event ingestion and price aggregation run unconditionally on every
// instance so followers stay hot and can take over immediately.
const leaderLockKey = "liquidator:block_loop_leader"

const leaderLockTTL = 5 * time.Minute

// archiverLockKey elects a single instance to ship cold-storage batches so
// multiple instances never race on the same retention cutoff.
const archiverLockKey = "liquidator:archiver_leader"

const archiverLockTTL = 5 * time.Minute

// RunLoop starts every long-running goroutine and blocks until the context
// is cancelled or one of them returns a fatal error.
func (a *App) RunLoop(ctx context.Context, deps *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)

	if err := a.seedBorrowers(ctx, deps); err != nil {
		a.logger.WarnContext(ctx, "startup seed scan failed, continuing with event-driven discovery only",
			slog.String("error", err.Error()))
	}

	// Each consumer of price-update notifications needs its own channel: a
	// single shared channel would split ticks across the two goroutines
	// below instead of delivering every tick to both.
	recomputeUpdates := deps.Prices.Subscribe()
	cacheUpdates := deps.Prices.Subscribe()

	g.Go(func() error {
		return deps.Prices.Run(ctx, deps.Sources)
	})

	g.Go(func() error {
		return deps.Router.Run(ctx)
	})

	g.Go(func() error {
		return a.runRecomputeFanout(ctx, deps, recomputeUpdates)
	})

	g.Go(func() error {
		return a.runPriceCacheWriteThrough(ctx, deps, cacheUpdates)
	})

	g.Go(func() error {
		return a.leaderLoop(ctx, deps, leaderLockKey, leaderLockTTL, func(ctx context.Context) error {
			return deps.BlockLoop.Run(ctx)
		})
	})

	g.Go(func() error {
		return a.leaderLoop(ctx, deps, archiverLockKey, archiverLockTTL, func(ctx context.Context) error {
			return a.runArchiver(ctx, deps)
		})
	})

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// seedBorrowers performs the one-time startup discovery scan: it walks
// recent Borrow/Supply logs and pre-populates the registry so freshly
// started instances do not wait for the next on-chain event before they
// have anything to track.
func (a *App) seedBorrowers(ctx context.Context, deps *Dependencies) error {
	if a.cfg.Chain.SeedLookbackBlocks == 0 {
		return nil
	}
	addrs, err := deps.Chain.ScanRecentBorrowers(ctx, a.cfg.Chain.SeedLookbackBlocks, a.cfg.Chain.MaxCandidates)
	if err != nil {
		return fmt.Errorf("scan recent borrowers: %w", err)
	}
	seeds := make([]domain.SeedBorrower, 0, len(addrs))
	for _, addr := range addrs {
		seeds = append(seeds, domain.SeedBorrower{Address: addr})
	}
	deps.Router.Seed(seeds, time.Now())
	a.logger.InfoContext(ctx, "startup seed scan complete", slog.Int("candidates", len(seeds)))
	return nil
}

// runRecomputeFanout bridges the two independent update signals (on-chain
// events and off-chain price ticks) into a single recompute call per
// affected borrower. Prices affect every borrower with exposure to the
// updated asset, so a price tick fans out to every WATCH, CRITICAL and
// LIQUIDATABLE borrower holding that asset instead of a single address.
func (a *App) runRecomputeFanout(ctx context.Context, deps *Dependencies, priceUpdates <-chan string) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case addr, ok := <-deps.Router.Updated():
			if !ok {
				return nil
			}
			deps.BlockLoop.Recompute(ctx, addr)
		case asset, ok := <-priceUpdates:
			if !ok {
				return nil
			}
			a.recomputeExposedTo(ctx, deps, asset)
		}
	}
}

// recomputeExposedTo re-scores every WATCH/CRITICAL/LIQUIDATABLE borrower
// holding a position in the asset whose price just changed. For a
// CRITICAL or LIQUIDATABLE borrower whose cached transaction was built
// against the touched asset, the cache is invalidated before the
// recomputation so a stale price never survives into a broadcast.
func (a *App) recomputeExposedTo(ctx context.Context, deps *Dependencies, asset string) {
	candidates := deps.Registry.ByStates(map[domain.BorrowerState]bool{
		domain.StateWatch:        true,
		domain.StateCritical:     true,
		domain.StateLiquidatable: true,
	})
	for _, b := range candidates {
		_, inCollateral := b.Collateral[asset]
		_, inDebt := b.Debt[asset]
		if !inCollateral && !inDebt {
			continue
		}

		if b.State == domain.StateCritical || b.State == domain.StateLiquidatable {
			if cachedTxTouchesAsset(b.CachedTx, asset) {
				deps.Registry.InvalidateCache(b.Address, "price_update")
			}
		}

		deps.BlockLoop.Recompute(ctx, b.Address)
	}
}

func cachedTxTouchesAsset(tx *domain.CachedTx, asset string) bool {
	if tx == nil {
		return false
	}
	return tx.DebtAsset == asset || tx.CollateralAsset == asset
}

// runPriceCacheWriteThrough persists every aggregated price to the shared
// Redis cache. The cache is only written: nothing in this module reads it
// back when an instance starts.
func (a *App) runPriceCacheWriteThrough(ctx context.Context, deps *Dependencies, priceUpdates <-chan string) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case asset, ok := <-priceUpdates:
			if !ok {
				return nil
			}
			snap := deps.Prices.Snapshot()
			p, ok := snap[asset]
			if !ok {
				continue
			}
			if err := deps.PriceCache.SetPrice(ctx, asset, p.USD, p.CapturedAt); err != nil {
				a.logger.WarnContext(ctx, "price cache write-through failed",
					slog.String("asset", asset), slog.String("error", err.Error()))
			}
		}
	}
}

// runArchiver periodically ships audit-log and borrower-snapshot batches
// older than the configured retention window to cold storage. It never
// blocks the hot path: a failed batch is logged and retried on the next
// tick, not surfaced as a run-loop error.
func (a *App) runArchiver(ctx context.Context, deps *Dependencies) error {
	interval := a.cfg.S3.ArchiveInterval.Duration
	if interval <= 0 {
		interval = time.Hour
	}
	retention := time.Duration(a.cfg.S3.RetentionDays) * 24 * time.Hour

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.archiveOnce(ctx, deps, retention)
		}
	}
}

func (a *App) archiveOnce(ctx context.Context, deps *Dependencies, retention time.Duration) {
	before := time.Now().Add(-retention)

	auditCount, err := deps.Archiver.ArchiveAuditLog(ctx, before)
	if err != nil {
		a.logger.WarnContext(ctx, "audit log archival failed", slog.String("error", err.Error()))
	} else if auditCount > 0 {
		a.logger.InfoContext(ctx, "archived audit log batch", slog.Int64("count", auditCount))
	}

	snapCount, err := deps.Archiver.ArchiveBorrowerSnapshots(ctx, before)
	if err != nil {
		a.logger.WarnContext(ctx, "borrower snapshot archival failed", slog.String("error", err.Error()))
	} else if snapCount > 0 {
		a.logger.InfoContext(ctx, "archived borrower snapshot batch", slog.Int64("count", snapCount))
	}
}

// leaderLoop ensures at most one agent instance runs fn at a time when
// multiple instances share a Redis-backed lock manager. It retries
// acquisition on a fixed interval; the lock is held for leaderLockTTL with
// no renewal, so a long-running leader silently gives another instance a
// chance to take over roughly every TTL. This is deliberate: the block loop
// is a backstop recompute sweep, not the primary execution path, so a brief
// dual-leader window during handover only causes redundant work, not
// missed liquidations.
func (a *App) leaderLoop(ctx context.Context, deps *Dependencies, key string, ttl time.Duration, fn func(context.Context) error) error {
	const retryInterval = 10 * time.Second
	for {
		unlock, err := deps.LockManager.Acquire(ctx, key, ttl)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(retryInterval):
					continue
				}
			}
			return fmt.Errorf("leader election: %w", err)
		}

		a.logger.InfoContext(ctx, "acquired block-loop leadership")
		err = fn(ctx)
		unlock()
		if err != nil {
			return err
		}
		return nil
	}
}

// startHTTPServer adds the read-only operator HTTP server to the errgroup.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	handlers := server.Handlers{
		Health: handler.NewHealthHandler(a.logger),
		Ready:  handler.NewReadyHandler(deps.Chain, deps.PgPool, deps.Redis),
		Status: handler.NewStatusHandler(deps.Registry, deps.Pipeline),
		Audit:  handler.NewAuditHandler(deps.AuditStore, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}, handlers, deps.RateLimiter, a.logger)

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
