package chain

import (
	"context"
	"fmt"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/liqguard/liquidator/internal/domain"
)

// ScanRecentBorrowers performs the one-time startup discovery scan: it
// walks Borrow and Supply logs over the last lookbackBlocks blocks and
// returns the deduplicated set of borrower addresses observed, capped at
// maxCandidates. It never inspects balances or health factors -- that is
// the job of the event router once these addresses are seeded and
// subsequent events hydrate them.
func (c *Client) ScanRecentBorrowers(ctx context.Context, lookbackBlocks uint64, maxCandidates int) ([]string, error) {
	head, err := c.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain: seed scan: block number: %w", err)
	}

	var from uint64
	if head > lookbackBlocks {
		from = head - lookbackBlocks
	}

	topics := []common.Hash{eventTopics[domain.EventBorrow], eventTopics[domain.EventSupply]}

	logs, err := c.eth.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(head),
		Addresses: []common.Address{c.poolAddress},
		Topics:    [][]common.Hash{topics},
	})
	if err != nil {
		return nil, fmt.Errorf("chain: seed scan: filter logs: %w", err)
	}

	seen := make(map[string]bool, len(logs))
	out := make([]string, 0, len(logs))
	for _, lg := range logs {
		ev, ok := decodeLog(lg)
		if !ok {
			continue
		}
		if seen[ev.OnBehalfOf] {
			continue
		}
		seen[ev.OnBehalfOf] = true
		out = append(out, ev.OnBehalfOf)
		if len(out) >= maxCandidates {
			break
		}
	}
	return out, nil
}
