package chain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/liqguard/liquidator/internal/domain"
)

// PublicBroadcaster sends transactions via eth_sendRawTransaction on the
// client it wraps and polls that client for the receipt. wire.go uses it
// for every relay mode: over the chain RPC client for none/public, and over
// a client dialed to the configured private relay URL for flashbots/custom.
type PublicBroadcaster struct {
	client *Client
}

// NewPublicBroadcaster wraps a Client for public mempool submission.
func NewPublicBroadcaster(client *Client) *PublicBroadcaster {
	return &PublicBroadcaster{client: client}
}

func (b *PublicBroadcaster) Send(ctx context.Context, tx domain.SignedTx) error {
	var signedTx types.Transaction
	if err := signedTx.UnmarshalBinary(tx.Raw); err != nil {
		return fmt.Errorf("chain/broadcaster: unmarshal signed tx: %w", err)
	}
	if err := b.client.eth.SendTransaction(ctx, &signedTx); err != nil {
		return fmt.Errorf("chain/broadcaster: send transaction: %w", err)
	}
	return nil
}

func (b *PublicBroadcaster) Wait(ctx context.Context, txHash string, timeout time.Duration) (domain.TxReceipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	hash := common.HexToHash(txHash)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-waitCtx.Done():
			return domain.TxReceipt{}, fmt.Errorf("chain/broadcaster: wait for %s: %w", txHash, waitCtx.Err())
		case <-ticker.C:
			receipt, err := b.client.eth.TransactionReceipt(waitCtx, hash)
			if err != nil {
				if errors.Is(err, ethereum.NotFound) {
					continue
				}
				return domain.TxReceipt{}, fmt.Errorf("chain/broadcaster: fetch receipt: %w", err)
			}
			return domain.TxReceipt{
				TxHash:  receipt.TxHash.Hex(),
				Success: receipt.Status == types.ReceiptStatusSuccessful,
				GasUsed: receipt.GasUsed,
			}, nil
		}
	}
}
