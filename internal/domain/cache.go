package domain

import (
	"context"
	"time"
)

// PriceCache is a process-external store of the latest known prices,
// distinct from the in-process aggregator. The agent writes every
// aggregated price through to it; nothing in this module reads it back, so
// a restarted instance starts with an empty aggregator.
type PriceCache interface {
	SetPrice(ctx context.Context, assetID string, price float64, ts time.Time) error
	GetPrice(ctx context.Context, assetID string) (float64, time.Time, error)
	GetPrices(ctx context.Context, assetIDs []string) (map[string]float64, error)
}

// RateLimiter provides distributed rate limiting, used to bound outbound
// RPC call rates when running multiple agent instances against shared
// upstream quota.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides a distributed lock shared by agent instances. The app
// uses it for leader election of the block loop and the archiver; the
// per-borrower advisory lock is the in-process registry lock only.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}
