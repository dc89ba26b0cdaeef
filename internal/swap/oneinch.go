// Package swap implements domain.SwapQuoter against the 1inch aggregation
// API, used only in flash-loan mode to price the seized-collateral-to-
// debt-asset leg. It is treated as an opaque external collaborator: no
// fallback approximation of its quote is computed locally.
package swap

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/liqguard/liquidator/internal/domain"
)

const requestTimeout = 5 * time.Second

// OneInchQuoter calls the 1inch swap API for a firm quote and payload.
type OneInchQuoter struct {
	baseURL        string
	apiKey         string
	chainID        int64
	maxSlippageBps int64
	client         *http.Client
}

// NewOneInchQuoter builds a quoter. baseURL is typically
// "https://api.1inch.dev/swap/v6.0/<chainId>"; apiKey is sent as a bearer
// token.
func NewOneInchQuoter(baseURL, apiKey string, chainID, maxSlippageBps int64) *OneInchQuoter {
	return &OneInchQuoter{
		baseURL:        strings.TrimRight(baseURL, "/"),
		apiKey:         apiKey,
		chainID:        chainID,
		maxSlippageBps: maxSlippageBps,
		client:         &http.Client{Timeout: requestTimeout},
	}
}

type oneInchSwapResponse struct {
	ToAmount string `json:"toAmount"`
	Tx       struct {
		To    string `json:"to"`
		Data  string `json:"data"`
		Value string `json:"value"`
	} `json:"tx"`
}

// Quote asks 1inch for a firm swap: sellAsset -> buyAsset for amountIn,
// with output delivered to recipient (the flash-liquidator contract).
func (q *OneInchQuoter) Quote(ctx context.Context, sellAsset, buyAsset string, amountIn *big.Int, recipient string) (domain.SwapQuote, error) {
	url := q.baseURL + "/swap"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.SwapQuote{}, fmt.Errorf("swap/oneinch: build request: %w", err)
	}
	if q.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+q.apiKey)
	}

	slippagePct := float64(q.maxSlippageBps) / 100.0
	query := req.URL.Query()
	query.Set("src", sellAsset)
	query.Set("dst", buyAsset)
	query.Set("amount", amountIn.String())
	query.Set("from", recipient)
	query.Set("slippage", strconv.FormatFloat(slippagePct, 'f', -1, 64))
	query.Set("disableEstimate", "true")
	req.URL.RawQuery = query.Encode()

	resp, err := q.client.Do(req)
	if err != nil {
		return domain.SwapQuote{}, fmt.Errorf("swap/oneinch: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.SwapQuote{}, fmt.Errorf("swap/oneinch: unexpected status %d", resp.StatusCode)
	}

	var parsed oneInchSwapResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return domain.SwapQuote{}, fmt.Errorf("swap/oneinch: decode: %w", err)
	}

	estimatedOut, ok := new(big.Int).SetString(parsed.ToAmount, 10)
	if !ok {
		return domain.SwapQuote{}, fmt.Errorf("swap/oneinch: invalid toAmount %q", parsed.ToAmount)
	}
	minOut := applySlippage(estimatedOut, q.maxSlippageBps)

	payload, err := hex.DecodeString(strings.TrimPrefix(parsed.Tx.Data, "0x"))
	if err != nil {
		return domain.SwapQuote{}, fmt.Errorf("swap/oneinch: invalid tx data: %w", err)
	}

	return domain.SwapQuote{
		Payload:      payload,
		EstimatedOut: estimatedOut,
		MinOut:       minOut,
	}, nil
}

// applySlippage returns estimatedOut * (10000 - maxSlippageBps) / 10000.
func applySlippage(estimatedOut *big.Int, maxSlippageBps int64) *big.Int {
	num := new(big.Int).Mul(estimatedOut, big.NewInt(10000-maxSlippageBps))
	return num.Div(num, big.NewInt(10000))
}

