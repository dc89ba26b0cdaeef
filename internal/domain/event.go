package domain

import (
	"math/big"
	"time"
)

// PoolEventKind is one of the five pool events the router subscribes to.
type PoolEventKind string

const (
	EventBorrow          PoolEventKind = "Borrow"
	EventRepay           PoolEventKind = "Repay"
	EventSupply          PoolEventKind = "Supply"
	EventWithdraw        PoolEventKind = "Withdraw"
	EventLiquidationCall PoolEventKind = "LiquidationCall"
)

// PoolEvent is a decoded log from the lending pool. Only OnBehalfOf and
// Kind are required by every handler; the remaining fields are populated
// when present in the underlying log.
type PoolEvent struct {
	Kind        PoolEventKind
	OnBehalfOf  string // the borrower affected by this event
	Asset       string // reserve touched, when applicable
	Amount      *big.Int
	BlockNumber uint64
	TxHash      string
	LogIndex    uint
	ObservedAt  time.Time
}

// LiquidationCallSkipReason enumerates why an observed LiquidationCall
// against a tracked borrower was not something this agent originated.
type LiquidationCallSkipReason string

const (
	SkipNotInWatchSet        LiquidationCallSkipReason = "not_in_watch_set"
	SkipBelowMinDebt         LiquidationCallSkipReason = "below_min_debt"
	SkipRaced                LiquidationCallSkipReason = "raced"
	SkipOracleNotLiquidatable LiquidationCallSkipReason = "oracle_not_liquidatable"
	SkipFilteredByProfit     LiquidationCallSkipReason = "filtered_by_profit"
	SkipFilteredByGas        LiquidationCallSkipReason = "filtered_by_gas"
	SkipUnknown              LiquidationCallSkipReason = "unknown"
)

// Abort reasons produced by prepare/execute. The simulation, gas, profit,
// minimum-debt and oracle reasons are also recorded as LastSkipReason and in
// audit entries; the price-feed, concurrency, cache-miss and dry-run reasons
// are only returned in the Result.
const (
	ReasonSimulationFailed = "simulation_failed"
	ReasonGasGuard         = "gas_guard"
	ReasonProfitFloor      = "profit_floor"
	ReasonBelowMinDebt     = "below_min_debt"
	ReasonPriceFeedPolicy  = "price_feed_policy"
	ReasonPriceFeedStale   = "price_feed_stale"
	ReasonOracleNotLiquidatable = "oracle_not_liquidatable"
	ReasonConcurrencyCap   = "concurrency_cap"
	ReasonCacheMiss        = "cache_miss"
	ReasonDryRun           = "dry_run"
)
