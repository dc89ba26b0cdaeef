package execpipeline

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/liqguard/liquidator/internal/domain"
	"github.com/liqguard/liquidator/internal/hf"
	"github.com/liqguard/liquidator/internal/priceagg"
	"github.com/liqguard/liquidator/internal/registry"
	"github.com/liqguard/liquidator/internal/statemachine"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeChain struct {
	oracleHF      float64
	oracleDebtUSD float64
}

func (f *fakeChain) BlockNumber(ctx context.Context) (uint64, error) { return 100, nil }
func (f *fakeChain) SuggestGasTipCap(ctx context.Context) (*big.Int, error) { return big.NewInt(1), nil }
func (f *fakeChain) SuggestGasFeeCap(ctx context.Context) (*big.Int, error) { return big.NewInt(1), nil }
func (f *fakeChain) PendingNonce(ctx context.Context, address string) (uint64, error) { return 1, nil }
func (f *fakeChain) NativeAssetPriceUSD(ctx context.Context) (float64, error) { return 2000, nil }
func (f *fakeChain) GetUserAccountData(ctx context.Context, borrower string) (float64, float64, float64, error) {
	return 0, f.oracleDebtUSD, f.oracleHF, nil
}
func (f *fakeChain) GetReserveData(ctx context.Context, asset string) (domain.ReserveData, error) {
	return domain.ReserveData{}, nil
}
func (f *fakeChain) OraclePrice(ctx context.Context, asset string) (float64, error) { return 1, nil }
func (f *fakeChain) TokenBalance(ctx context.Context, token, holder string) (*big.Int, error) {
	return big.NewInt(0), nil
}
func (f *fakeChain) TokenDecimals(ctx context.Context, token string) (int, error) { return 18, nil }
func (f *fakeChain) EncodeLiquidationCall(collateralAsset, debtAsset, user string, debtToCover *big.Int, receiveAToken bool) ([]byte, error) {
	return []byte("payload"), nil
}
func (f *fakeChain) EncodeFlashExecute(borrower, debtAsset, collateralAsset string, debtAmount *big.Int, swapPayload []byte) ([]byte, error) {
	return []byte("flash-payload"), nil
}
func (f *fakeChain) EstimateGas(ctx context.Context, req domain.SimulationRequest) (domain.GasEstimate, error) {
	return domain.GasEstimate{GasLimit: 300000, MaxFeePerGas: big.NewInt(1e9), MaxPriorityPerGas: big.NewInt(1e9)}, nil
}
func (f *fakeChain) StaticCall(ctx context.Context, req domain.SimulationRequest) error { return nil }

type fakeQuoter struct{}

func (fakeQuoter) Quote(ctx context.Context, sellAsset, buyAsset string, amountIn *big.Int, recipient string) (domain.SwapQuote, error) {
	return domain.SwapQuote{Payload: []byte("swap"), EstimatedOut: amountIn, MinOut: amountIn}, nil
}

type fakeSigner struct{}

func (fakeSigner) Address() string { return "0xsigner" }
func (fakeSigner) Sign(ctx context.Context, to string, payload []byte, value *big.Int, gas domain.GasEstimate, nonce uint64) (domain.SignedTx, error) {
	return domain.SignedTx{Hash: "0xhash", Raw: payload}, nil
}

type fakeBroadcaster struct{ sent int }

func (f *fakeBroadcaster) Send(ctx context.Context, tx domain.SignedTx) error { f.sent++; return nil }
func (f *fakeBroadcaster) Wait(ctx context.Context, txHash string, timeout time.Duration) (domain.TxReceipt, error) {
	return domain.TxReceipt{TxHash: txHash, Success: true, GasUsed: 200000}, nil
}

const (
	weth = "0x000000000000000000000000000000000000e1"
	usdc = "0x000000000000000000000000000000000000c1"
)

func setup(t *testing.T) (*Pipeline, *registry.Registry, *priceagg.Aggregator) {
	t.Helper()
	assets := domain.NewAssetTable([]domain.Asset{
		{Symbol: "WETH", Address: weth, Decimals: 18, LiquidationThreshold: 0.825},
		{Symbol: "USDC", Address: usdc, Decimals: 6, LiquidationThreshold: 0.85},
	})
	engine := hf.New(assets, 0.05, testLogger())
	agg := priceagg.New(time.Millisecond, 5*time.Second, []domain.PriceSourceName{domain.PriceSourceBinance, domain.PriceSourcePyth}, testLogger())
	reg := registry.New(statemachine.Bands{Watch: 1.10, Critical: 1.04, Liquidatable: 1.00}, testLogger())

	cfg := Config{
		MinDebtUSD: 50, MaxGasUSD: 1000, MinProfitUSD: 1,
		MaxConcurrentTx: 1, TxCacheTTLBlocks: 5,
		EnableExecution: true, DryRun: false, HFLiquidatable: 1.00,
		PoolAddress: "0xpool", TxTimeout: time.Second,
	}
	p := New(reg, engine, agg, &fakeChain{oracleHF: 0.5, oracleDebtUSD: 10000}, fakeQuoter{}, fakeSigner{}, &fakeBroadcaster{}, nil, nil, cfg, testLogger())
	return p, reg, agg
}

func seedCriticalBorrower(reg *registry.Registry, agg *priceagg.Aggregator) *domain.Borrower {
	now := time.Now()
	b := reg.Upsert("0xborrower", now)
	b.Hydrated = true
	wethAmt, _ := new(big.Int).SetString("10000000000000000000", 10)
	usdcAmt, _ := new(big.Int).SetString("10000000000", 10)
	b.Collateral.Set(weth, wethAmt)
	b.Debt.Set(usdc, usdcAmt)

	agg.Ingest(domain.Price{Asset: weth, USD: 2000, CapturedAt: now, Source: domain.PriceSourceBinance})
	agg.Ingest(domain.Price{Asset: usdc, USD: 1, CapturedAt: now, Source: domain.PriceSourceBinance})

	reg.UpdateHF(b.Address, 1.02, nil, now) // -> CRITICAL
	return b
}

func TestPrepareThenExecuteHappyPath(t *testing.T) {
	p, reg, agg := setup(t)
	b := seedCriticalBorrower(reg, agg)

	res := p.Prepare(context.Background(), b.Address)
	if !res.IsOk() {
		t.Fatalf("Prepare() = %+v, want Ok", res)
	}

	reg.UpdateHF(b.Address, 0.5, nil, time.Now()) // -> LIQUIDATABLE

	execRes := p.Execute(context.Background(), b.Address)
	if !execRes.IsOk() {
		t.Fatalf("Execute() = %+v, want Ok", execRes)
	}
}

func TestExecuteFailClosedWhenSourcesDown(t *testing.T) {
	p, reg, agg := setup(t)
	b := seedCriticalBorrower(reg, agg)
	p.Prepare(context.Background(), b.Address)
	reg.UpdateHF(b.Address, 0.5, nil, time.Now())

	time.Sleep(20 * time.Millisecond) // both sources go stale relative to the 5s window is fine, force via time

	// Simulate total silence by marking both sources disconnected.
	agg.MarkDisconnected(domain.PriceSourceBinance)
	agg.MarkDisconnected(domain.PriceSourcePyth)

	res := p.Execute(context.Background(), b.Address)
	if res.Kind != domain.ResultSkip || res.SkipReason != domain.ReasonPriceFeedPolicy {
		t.Fatalf("Execute() = %+v, want Skip(%s)", res, domain.ReasonPriceFeedPolicy)
	}
}

func TestMutexExclusion(t *testing.T) {
	p, reg, agg := setup(t)
	b := seedCriticalBorrower(reg, agg)

	if !reg.TryAcquire(b.Address) {
		t.Fatal("expected to acquire lock")
	}

	res := p.Prepare(context.Background(), b.Address)
	if res.Kind != domain.ResultSkip || res.SkipReason != "lock_held" {
		t.Fatalf("Prepare() while locked = %+v, want Skip(lock_held)", res)
	}

	reg.Release(b.Address)
	if reg.IsLocked(b.Address) {
		t.Fatal("expected lock released")
	}
}
