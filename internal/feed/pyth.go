package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/liqguard/liquidator/internal/domain"
)

const (
	pythPollInterval   = 2 * time.Second
	pythRequestTimeout = 5 * time.Second
)

// PythConnector polls the Pyth Hermes REST API for the latest price of a
// configured set of feed IDs. Polling rather than a persistent WebSocket
// keeps the connector simple; the aggregator does not distinguish push
// from poll sources, only liveness.
type PythConnector struct {
	baseURL  string
	feedIDs  []string
	feedMap  map[string]string // lowercased feed id -> internal asset address
	client   *http.Client
	logger   *slog.Logger
}

// NewPythConnector builds a connector. baseURL is typically
// "https://hermes.pyth.network".
func NewPythConnector(baseURL string, feedIDs []string, feedMap map[string]string, logger *slog.Logger) *PythConnector {
	return &PythConnector{
		baseURL: strings.TrimRight(baseURL, "/"),
		feedIDs: feedIDs,
		feedMap: feedMap,
		client:  &http.Client{Timeout: pythRequestTimeout},
		logger:  logger.With(slog.String("component", "feed_pyth")),
	}
}

func (c *PythConnector) Name() domain.PriceSourceName { return domain.PriceSourcePyth }

// Run polls on a fixed interval until ctx is cancelled. A single failed
// poll is logged and retried on the next tick rather than treated as fatal;
// the aggregator's own staleness tracking will reflect a silent feed.
func (c *PythConnector) Run(ctx context.Context, out chan<- domain.Price) error {
	ticker := time.NewTicker(pythPollInterval)
	defer ticker.Stop()

	if err := c.poll(ctx, out); err != nil {
		c.logger.Warn("pyth poll failed", slog.String("error", err.Error()))
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := c.poll(ctx, out); err != nil {
				c.logger.Warn("pyth poll failed", slog.String("error", err.Error()))
			}
		}
	}
}

type pythLatestPriceResponse struct {
	Parsed []struct {
		ID    string `json:"id"`
		Price struct {
			Price    string `json:"price"`
			Expo     int    `json:"expo"`
			PublishTime int64 `json:"publish_time"`
		} `json:"price"`
	} `json:"parsed"`
}

func (c *PythConnector) poll(ctx context.Context, out chan<- domain.Price) error {
	url := c.baseURL + "/v2/updates/price/latest"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("feed/pyth: build request: %w", err)
	}
	q := req.URL.Query()
	for _, id := range c.feedIDs {
		q.Add("ids[]", id)
	}
	req.URL.RawQuery = q.Encode()

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("feed/pyth: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("feed/pyth: unexpected status %d", resp.StatusCode)
	}

	var parsed pythLatestPriceResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return fmt.Errorf("feed/pyth: decode: %w", err)
	}

	now := time.Now()
	for _, item := range parsed.Parsed {
		asset, ok := c.feedMap[strings.ToLower(item.ID)]
		if !ok {
			continue
		}
		mantissa, err := strconv.ParseFloat(item.Price.Price, 64)
		if err != nil {
			continue
		}
		price := mantissa * pow10(item.Price.Expo)
		if price <= 0 {
			continue
		}

		p := domain.Price{
			Asset:      domain.NormalizeAddress(asset),
			USD:        price,
			CapturedAt: now,
			Source:     domain.PriceSourcePyth,
		}
		select {
		case out <- p:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func pow10(exp int) float64 {
	result := 1.0
	if exp >= 0 {
		for i := 0; i < exp; i++ {
			result *= 10
		}
		return result
	}
	for i := 0; i < -exp; i++ {
		result /= 10
	}
	return result
}
