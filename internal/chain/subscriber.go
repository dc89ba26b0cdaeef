package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/liqguard/liquidator/internal/domain"
)

var eventTopics = map[domain.PoolEventKind]common.Hash{
	domain.EventBorrow:          poolABI.Events["Borrow"].ID,
	domain.EventRepay:           poolABI.Events["Repay"].ID,
	domain.EventSupply:          poolABI.Events["Supply"].ID,
	domain.EventWithdraw:        poolABI.Events["Withdraw"].ID,
	domain.EventLiquidationCall: poolABI.Events["LiquidationCall"].ID,
}

var topicToKind = map[common.Hash]domain.PoolEventKind{
	poolABI.Events["Borrow"].ID:          domain.EventBorrow,
	poolABI.Events["Repay"].ID:           domain.EventRepay,
	poolABI.Events["Supply"].ID:          domain.EventSupply,
	poolABI.Events["Withdraw"].ID:        domain.EventWithdraw,
	poolABI.Events["LiquidationCall"].ID: domain.EventLiquidationCall,
}

// Subscriber implements domain.EventSubscriber against the pool contract's
// log stream, using a polling FilterLogs loop rather than a native
// eth_subscribe websocket — this keeps it usable against plain HTTP RPC
// endpoints, at the cost of confirmation latency bounded by pollInterval.
type Subscriber struct {
	client        *Client
	poolAddress   common.Address
	pollInterval  time.Duration
	confirmations uint64
	logger        *slog.Logger
}

// NewSubscriber builds a Subscriber. confirmations delays log delivery
// until a block has that many confirmations, guarding against reorgs.
func NewSubscriber(client *Client, poolAddress string, pollInterval time.Duration, confirmations uint64, logger *slog.Logger) *Subscriber {
	return &Subscriber{
		client:        client,
		poolAddress:   common.HexToAddress(poolAddress),
		pollInterval:  pollInterval,
		confirmations: confirmations,
		logger:        logger.With(slog.String("component", "chain_subscriber")),
	}
}

type subscription struct {
	events chan domain.PoolEvent
	err    error
}

func (s *subscription) Events() <-chan domain.PoolEvent { return s.events }
func (s *subscription) Err() error                      { return s.err }

// Subscribe starts a background poll loop over the given event kinds and
// returns immediately with a live subscription.
func (s *Subscriber) Subscribe(ctx context.Context, kinds []domain.PoolEventKind) (domain.EventSubscription, error) {
	topics := make([]common.Hash, 0, len(kinds))
	for _, k := range kinds {
		if t, ok := eventTopics[k]; ok {
			topics = append(topics, t)
		}
	}

	startBlock, err := s.client.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain: subscribe: initial block number: %w", err)
	}

	sub := &subscription{events: make(chan domain.PoolEvent, 1024)}
	go s.run(ctx, topics, startBlock, sub)
	return sub, nil
}

func (s *Subscriber) run(ctx context.Context, topics []common.Hash, fromBlock uint64, sub *subscription) {
	defer close(sub.events)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	next := fromBlock
	for {
		select {
		case <-ctx.Done():
			sub.err = ctx.Err()
			return
		case <-ticker.C:
			head, err := s.client.BlockNumber(ctx)
			if err != nil {
				s.logger.Warn("poll: block number failed", slog.String("error", err.Error()))
				continue
			}
			if head < s.confirmations {
				continue
			}
			safeHead := head - s.confirmations
			if safeHead < next {
				continue
			}

			logs, err := s.client.eth.FilterLogs(ctx, ethereum.FilterQuery{
				FromBlock: new(big.Int).SetUint64(next),
				ToBlock:   new(big.Int).SetUint64(safeHead),
				Addresses: []common.Address{s.poolAddress},
				Topics:    [][]common.Hash{topics},
			})
			if err != nil {
				s.logger.Warn("poll: filter logs failed", slog.String("error", err.Error()))
				continue
			}

			for _, lg := range logs {
				ev, ok := decodeLog(lg)
				if !ok {
					continue
				}
				select {
				case sub.events <- ev:
				case <-ctx.Done():
					sub.err = ctx.Err()
					return
				}
			}
			next = safeHead + 1
		}
	}
}

// decodeLog turns a raw pool log into a domain.PoolEvent. onBehalfOf/user is
// always the second indexed topic across the five event shapes tracked
// here except LiquidationCall, whose subject is its third indexed topic.
func decodeLog(lg types.Log) (domain.PoolEvent, bool) {
	if len(lg.Topics) == 0 {
		return domain.PoolEvent{}, false
	}
	kind, ok := topicToKind[lg.Topics[0]]
	if !ok {
		return domain.PoolEvent{}, false
	}

	reserve := common.BytesToAddress(lg.Topics[1].Bytes())
	var onBehalfOf common.Hash
	var amount *big.Int

	switch kind {
	case domain.EventBorrow, domain.EventSupply:
		if len(lg.Topics) < 3 {
			return domain.PoolEvent{}, false
		}
		onBehalfOf = lg.Topics[2]
		vals, err := poolABI.Events[string(eventName(kind))].Inputs.NonIndexed().Unpack(lg.Data)
		if err != nil || len(vals) < 2 {
			return domain.PoolEvent{}, false
		}
		amount, _ = vals[1].(*big.Int)
	case domain.EventRepay, domain.EventWithdraw:
		if len(lg.Topics) < 3 {
			return domain.PoolEvent{}, false
		}
		onBehalfOf = lg.Topics[2]
		vals, err := poolABI.Events[string(eventName(kind))].Inputs.NonIndexed().Unpack(lg.Data)
		if err != nil || len(vals) == 0 {
			return domain.PoolEvent{}, false
		}
		amount, _ = vals[0].(*big.Int)
	case domain.EventLiquidationCall:
		if len(lg.Topics) < 4 {
			return domain.PoolEvent{}, false
		}
		onBehalfOf = lg.Topics[3]
		vals, err := poolABI.Events["LiquidationCall"].Inputs.NonIndexed().Unpack(lg.Data)
		if err != nil || len(vals) == 0 {
			return domain.PoolEvent{}, false
		}
		amount, _ = vals[0].(*big.Int)
	default:
		return domain.PoolEvent{}, false
	}

	return domain.PoolEvent{
		Kind:        kind,
		OnBehalfOf:  domain.NormalizeAddress(common.BytesToAddress(onBehalfOf.Bytes()).Hex()),
		Asset:       domain.NormalizeAddress(reserve.Hex()),
		Amount:      amount,
		BlockNumber: lg.BlockNumber,
		TxHash:      lg.TxHash.Hex(),
		LogIndex:    uint(lg.Index),
		ObservedAt:  time.Now(),
	}, true
}

func eventName(kind domain.PoolEventKind) string {
	switch kind {
	case domain.EventBorrow:
		return "Borrow"
	case domain.EventRepay:
		return "Repay"
	case domain.EventSupply:
		return "Supply"
	case domain.EventWithdraw:
		return "Withdraw"
	case domain.EventLiquidationCall:
		return "LiquidationCall"
	default:
		return ""
	}
}
