package domain

import (
	"context"
	"math/big"
	"time"
)

// ReserveData is the subset of the pool's per-asset reserve configuration
// the core needs: which tokens represent supplied and borrowed positions.
type ReserveData struct {
	Asset               string
	ATokenAddress       string // interest-bearing collateral token
	VariableDebtAddress string // variable-debt token
	LiquidationThreshold float64
	Decimals            int
}

// SimulationRequest is the exact payload prepare will later ask the
// broadcaster to send, submitted first as a static/staticCall-style dry
// run so a revert never reaches the mempool.
type SimulationRequest struct {
	Target   string
	Payload  []byte
	Value    *big.Int
	FromAddr string
}

// GasEstimate is the chain's opinion of what a transaction will cost.
type GasEstimate struct {
	GasLimit             uint64
	MaxFeePerGas         *big.Int
	MaxPriorityPerGas    *big.Int
}

// ChainClient is the RPC surface the core consumes. It is treated as an
// opaque collaborator: reconnection and transport-level retries are its own
// concern, not the core's.
type ChainClient interface {
	BlockNumber(ctx context.Context) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	SuggestGasFeeCap(ctx context.Context) (*big.Int, error)
	PendingNonce(ctx context.Context, address string) (uint64, error)
	NativeAssetPriceUSD(ctx context.Context) (float64, error)

	// GetUserAccountData returns the pool's aggregate view of a borrower,
	// used as the on-chain oracle cross-check at execute time.
	GetUserAccountData(ctx context.Context, borrower string) (totalCollateralUSD, totalDebtUSD, healthFactor float64, err error)
	GetReserveData(ctx context.Context, asset string) (ReserveData, error)
	OraclePrice(ctx context.Context, asset string) (float64, error)
	TokenBalance(ctx context.Context, token, holder string) (*big.Int, error)
	TokenDecimals(ctx context.Context, token string) (int, error)

	EncodeLiquidationCall(collateralAsset, debtAsset, user string, debtToCover *big.Int, receiveAToken bool) ([]byte, error)
	EncodeFlashExecute(borrower, debtAsset, collateralAsset string, debtAmount *big.Int, swapPayload []byte) ([]byte, error)

	EstimateGas(ctx context.Context, req SimulationRequest) (GasEstimate, error)
	StaticCall(ctx context.Context, req SimulationRequest) error
}

// EventSubscription streams decoded pool events. Close(...) via context
// cancellation stops the underlying subscription.
type EventSubscription interface {
	// Events returns a channel of decoded pool events. The channel is
	// closed when the subscription ends (context cancellation or fatal
	// transport error).
	Events() <-chan PoolEvent
	// Err returns the terminal error, if any, after the channel closes.
	Err() error
}

// EventSubscriber opens a subscription for the given event kinds.
type EventSubscriber interface {
	Subscribe(ctx context.Context, kinds []PoolEventKind) (EventSubscription, error)
}

// PriceSource is a single independent push feed. Binance and Pyth
// connectors both implement this; the aggregator treats them
// interchangeably.
type PriceSource interface {
	Name() PriceSourceName
	// Run connects and streams price updates to out until ctx is
	// cancelled or a fatal error occurs. Reconnection with bounded
	// backoff is the source's own responsibility.
	Run(ctx context.Context, out chan<- Price) error
}

// SwapQuote is the result of asking the swap quoter for an exchange path.
type SwapQuote struct {
	Payload      []byte
	EstimatedOut *big.Int
	MinOut       *big.Int // EstimatedOut * (10000-MAX_SLIPPAGE_BPS)/10000
}

// SwapQuoter is the off-chain collaborator used only in flash-loan mode to
// price the seized-collateral-to-debt-asset leg. It MUST be treated as an
// opaque external collaborator; the core must not embed a fallback
// approximation of its behavior.
type SwapQuoter interface {
	Quote(ctx context.Context, sellAsset, buyAsset string, amountIn *big.Int, recipient string) (SwapQuote, error)
}

// SignedTx is a transaction ready for broadcast.
type SignedTx struct {
	Hash string
	Raw  []byte
}

// TxReceipt is the outcome of a confirmed (or failed) broadcast.
type TxReceipt struct {
	TxHash  string
	Success bool
	GasUsed uint64
}

// Broadcaster dispatches signed transactions via the configured relay mode
// (public, private relay, or custom endpoint) and awaits confirmation.
type Broadcaster interface {
	Send(ctx context.Context, tx SignedTx) error
	Wait(ctx context.Context, txHash string, timeout time.Duration) (TxReceipt, error)
}

// TxSigner produces a SignedTx from a prepared call. Key resolution and
// chain-id binding are the signer's own concern.
type TxSigner interface {
	Address() string
	Sign(ctx context.Context, to string, payload []byte, value *big.Int, gas GasEstimate, nonce uint64) (SignedTx, error)
}

// AuditNotifier is the best-effort out-of-band channel used to surface
// skip/abort/success events. Failures here must never propagate back into
// the event or execution path.
type AuditNotifier interface {
	Notify(ctx context.Context, event, title, message string)
}

// SeedBorrower is one entry of the one-time startup discovery batch.
type SeedBorrower struct {
	Address    string
	Collateral BalanceSet
	Debt       BalanceSet
}
