package domain

import "time"

// PriceSourceName identifies one of the two independent off-chain feeds.
type PriceSourceName string

const (
	PriceSourceBinance PriceSourceName = "binance"
	PriceSourcePyth    PriceSourceName = "pyth"
)

// Price is an immutable observation of an asset's USD price. An update
// produces a new Price rather than mutating an existing one.
type Price struct {
	Asset      string // lowercased internal asset identifier
	USD        float64
	CapturedAt time.Time
	Source     PriceSourceName
}

// PriceMap is a per-asset snapshot of the latest known price, keyed by
// lowercased asset identifier. It is a plain read-only view handed to the
// HF engine; the aggregator owns the mutable, synchronized original.
type PriceMap map[string]Price

// Lookup returns the USD price for an asset, or (0, false) if unknown.
func (m PriceMap) Lookup(asset string) (float64, bool) {
	p, ok := m[NormalizeAddress(asset)]
	if !ok {
		return 0, false
	}
	return p.USD, true
}
