// Package feed implements the two independent off-chain price connectors
// consumed by the aggregator: Binance (WebSocket push) and Pyth (HTTP
// polling). Each owns its own reconnection policy.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/liqguard/liquidator/internal/domain"
)

const (
	binanceWriteWait     = 10 * time.Second
	binancePongWait      = 60 * time.Second
	binancePingPeriod    = (binancePongWait * 9) / 10
	binanceReconnectBase = 1 * time.Second
	binanceReconnectMax  = 5 * time.Second
)

// BinanceConnector streams mark prices for a set of Binance symbols over
// the combined-stream WebSocket endpoint and translates them into the
// aggregator's internal asset identifiers via symbolMap.
type BinanceConnector struct {
	baseURL   string
	symbols   []string          // e.g. "ethusdt"
	symbolMap map[string]string // lowercased binance symbol -> internal asset address
	logger    *slog.Logger
}

// NewBinanceConnector builds a connector. baseURL is typically
// "wss://stream.binance.com:9443".
func NewBinanceConnector(baseURL string, symbols []string, symbolMap map[string]string, logger *slog.Logger) *BinanceConnector {
	return &BinanceConnector{
		baseURL:   strings.TrimRight(baseURL, "/"),
		symbols:   symbols,
		symbolMap: symbolMap,
		logger:    logger.With(slog.String("component", "feed_binance")),
	}
}

func (c *BinanceConnector) Name() domain.PriceSourceName { return domain.PriceSourceBinance }

func (c *BinanceConnector) streamURL() string {
	streams := make([]string, len(c.symbols))
	for i, s := range c.symbols {
		streams[i] = strings.ToLower(s) + "@miniTicker"
	}
	return fmt.Sprintf("%s/stream?streams=%s", c.baseURL, strings.Join(streams, "/"))
}

// Run connects and streams price updates until ctx is cancelled,
// reconnecting with bounded backoff on any read or dial error.
func (c *BinanceConnector) Run(ctx context.Context, out chan<- domain.Price) error {
	backoff := binanceReconnectBase
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := c.runOnce(ctx, out); err != nil {
			c.logger.Warn("binance connection dropped, reconnecting",
				slog.String("error", err.Error()), slog.Duration("backoff", backoff))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > binanceReconnectMax {
			backoff = binanceReconnectMax
		}
	}
}

func (c *BinanceConnector) runOnce(ctx context.Context, out chan<- domain.Price) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.streamURL(), nil)
	if err != nil {
		return fmt.Errorf("feed/binance: dial: %w", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(binancePongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(binancePongWait))
		return nil
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(binancePingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(binanceWriteWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("feed/binance: read: %w", err)
		}

		p, ok := c.parse(raw)
		if !ok {
			continue
		}
		select {
		case out <- p:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

type binanceEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type binanceMiniTicker struct {
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Close     string `json:"c"`
}

func (c *BinanceConnector) parse(raw []byte) (domain.Price, bool) {
	var env binanceEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return domain.Price{}, false
	}
	var tick binanceMiniTicker
	if err := json.Unmarshal(env.Data, &tick); err != nil {
		return domain.Price{}, false
	}

	asset, ok := c.symbolMap[strings.ToLower(tick.Symbol)]
	if !ok {
		return domain.Price{}, false
	}
	price, err := strconv.ParseFloat(tick.Close, 64)
	if err != nil || price <= 0 {
		return domain.Price{}, false
	}

	return domain.Price{
		Asset:      domain.NormalizeAddress(asset),
		USD:        price,
		CapturedAt: time.UnixMilli(tick.EventTime),
		Source:     domain.PriceSourceBinance,
	}, true
}
