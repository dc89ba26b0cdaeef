package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrRateLimited     = errors.New("rate limited")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrSigningFailed   = errors.New("signing failed")
	ErrWSDisconnect    = errors.New("websocket disconnected")
	ErrContextDone     = errors.New("context cancelled")
	ErrLockHeld        = errors.New("lock already held")
	ErrBorrowerUnknown = errors.New("borrower not registered")
	ErrAssetUnknown    = errors.New("asset not registered")
	ErrPriceStale      = errors.New("price stale")
	ErrPriceUnavailable = errors.New("no price source available")
	ErrPolicyBlocked   = errors.New("execution blocked by policy gate")
	ErrNotLiquidatable = errors.New("borrower not liquidatable")
	ErrSimulationFailed = errors.New("simulation reverted")
	ErrGasCapExceeded  = errors.New("estimated gas cost exceeds cap")
	ErrProfitTooLow    = errors.New("estimated profit below floor")
	ErrConcurrencyCap  = errors.New("max concurrent executions reached")
)
