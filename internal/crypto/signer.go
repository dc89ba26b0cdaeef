package crypto

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/liqguard/liquidator/internal/domain"
)

// Signer produces EIP-1559 dynamic-fee transactions signed with a secp256k1
// key. It implements domain.TxSigner.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    *big.Int
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key and
// the target chain ID.
func NewSigner(privateKeyHex string, chainID int64) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}

	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		chainID:    big.NewInt(chainID),
	}, nil
}

// Address returns the lowercased hex address derived from the signer's key.
func (s *Signer) Address() string {
	return domain.NormalizeAddress(s.address.Hex())
}

// Sign builds and signs an EIP-1559 dynamic-fee transaction. Nonce
// resolution is the caller's responsibility (domain.ChainClient.PendingNonce);
// this keeps the signer itself free of chain state.
func (s *Signer) Sign(ctx context.Context, to string, payload []byte, value *big.Int, gas domain.GasEstimate, nonce uint64) (domain.SignedTx, error) {
	if value == nil {
		value = big.NewInt(0)
	}
	toAddr := common.HexToAddress(to)

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   s.chainID,
		Nonce:     nonce,
		GasTipCap: gas.MaxPriorityPerGas,
		GasFeeCap: gas.MaxFeePerGas,
		Gas:       gas.GasLimit,
		To:        &toAddr,
		Value:     value,
		Data:      payload,
	})

	signer := types.NewLondonSigner(s.chainID)
	signedTx, err := types.SignTx(tx, signer, s.privateKey)
	if err != nil {
		return domain.SignedTx{}, fmt.Errorf("crypto/signer: sign tx: %w", err)
	}

	raw, err := signedTx.MarshalBinary()
	if err != nil {
		return domain.SignedTx{}, fmt.Errorf("crypto/signer: marshal signed tx: %w", err)
	}

	return domain.SignedTx{
		Hash: signedTx.Hash().Hex(),
		Raw:  raw,
	}, nil
}
