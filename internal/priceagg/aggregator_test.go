package priceagg

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/liqguard/liquidator/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDebounceIdempotence(t *testing.T) {
	a := New(20*time.Millisecond, time.Second, []domain.PriceSourceName{domain.PriceSourceBinance}, testLogger())
	updates := a.Subscribe()

	asset := "0xasset"
	for i := 0; i < 5; i++ {
		a.Ingest(domain.Price{Asset: asset, USD: float64(100 + i), CapturedAt: time.Now(), Source: domain.PriceSourceBinance})
		time.Sleep(2 * time.Millisecond)
	}

	select {
	case <-updates:
		t.Fatal("notification fired before debounce window elapsed")
	default:
	}

	select {
	case got := <-updates:
		if got != asset {
			t.Fatalf("got notification for %q, want %q", got, asset)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("expected exactly one debounced notification")
	}

	select {
	case <-updates:
		t.Fatal("expected exactly one notification, got a second")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribeFansOutToEveryListener(t *testing.T) {
	a := New(time.Millisecond, time.Second, []domain.PriceSourceName{domain.PriceSourceBinance}, testLogger())
	first := a.Subscribe()
	second := a.Subscribe()

	asset := "0xasset"
	a.Ingest(domain.Price{Asset: asset, USD: 100, CapturedAt: time.Now(), Source: domain.PriceSourceBinance})

	for _, ch := range []<-chan string{first, second} {
		select {
		case got := <-ch:
			if got != asset {
				t.Fatalf("got notification for %q, want %q", got, asset)
			}
		case <-time.After(200 * time.Millisecond):
			t.Fatal("expected every subscriber to receive the update")
		}
	}
}

func TestPolicyGateFailClosed(t *testing.T) {
	a := New(time.Millisecond, 50*time.Millisecond, []domain.PriceSourceName{domain.PriceSourceBinance, domain.PriceSourcePyth}, testLogger())
	now := time.Now()

	if a.CanExecute(now) {
		t.Fatal("expected execute denied with zero sources live")
	}

	a.Ingest(domain.Price{Asset: "0xasset", USD: 100, CapturedAt: now, Source: domain.PriceSourceBinance})
	if !a.CanExecute(now) {
		t.Fatal("expected execute allowed with one source live")
	}

	stale := now.Add(100 * time.Millisecond)
	if a.CanExecute(stale) {
		t.Fatal("expected execute denied once the only live source goes stale")
	}
}

func TestIsStaleDistinctFromPolicyGate(t *testing.T) {
	a := New(time.Millisecond, 50*time.Millisecond, []domain.PriceSourceName{domain.PriceSourceBinance, domain.PriceSourcePyth}, testLogger())
	now := time.Now()

	a.Ingest(domain.Price{Asset: "0xasset", USD: 100, CapturedAt: now, Source: domain.PriceSourceBinance})
	// Pyth never connects: IsStale should be false because it only inspects
	// configured *and connected* sources, but if Binance itself goes stale
	// IsStale must flip true even though it's still "connected".
	later := now.Add(100 * time.Millisecond)
	if !a.IsStale(later) {
		t.Fatal("expected stale once the connected source's update predates the window")
	}
}
