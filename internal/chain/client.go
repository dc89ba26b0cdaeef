// Package chain implements domain.ChainClient against a real EVM node via
// go-ethereum's ethclient, and domain.EventSubscriber against the pool's
// log stream.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/liqguard/liquidator/internal/domain"
)

// aaveHealthFactorScale is the fixed-point scale Aave-v3 pools report
// getUserAccountData's healthFactor in.
const aaveHealthFactorScale = 1e18

// aaveOracleScale is the fixed-point scale the price oracle's
// getAssetPrice returns, denominated in the pool's base currency (USD with
// 8 decimals for the default Aave oracle configuration).
const aaveOracleScale = 1e8

// noDebtSentinel is uint256 max, returned as healthFactor when a borrower
// has no debt.
var noDebtSentinel = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// rpcRateLimitKey is the shared bucket every outbound RPC call throttles
// against. A single key means the limit caps total RPC volume per instance
// rather than per method, matching how node providers meter requests.
const rpcRateLimitKey = "chain_rpc"

// Client wraps an ethclient.Client with the pool, oracle, and token ABI
// calls the core needs.
type Client struct {
	eth *ethclient.Client

	poolAddress   common.Address
	oracleAddress common.Address
	nativeAsset   string // address of the oracle's native-asset entry (e.g. WETH), for gas-to-USD conversion

	limiter domain.RateLimiter // optional; nil disables outbound RPC throttling
}

// New dials rpcURL and returns a Client bound to the given pool and oracle
// contracts.
func New(rpcURL, poolAddress, oracleAddress, nativeAsset string) (*Client, error) {
	eth, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", rpcURL, err)
	}
	return &Client{
		eth:           eth,
		poolAddress:   common.HexToAddress(poolAddress),
		oracleAddress: common.HexToAddress(oracleAddress),
		nativeAsset:   nativeAsset,
	}, nil
}

// WithRateLimiter attaches a shared rate limiter that the RPC methods in
// this file wait on before hitting the node, so multiple instances behind
// the same provider stay under its request quota. Log filtering (seed scan
// and subscriber polling) and the broadcaster's send/receipt calls use the
// underlying ethclient directly and are not throttled. Passing nil restores
// unthrottled calls.
func (c *Client) WithRateLimiter(limiter domain.RateLimiter) *Client {
	c.limiter = limiter
	return c
}

// throttle blocks until the shared rate limiter admits another request. It
// is a no-op when no limiter is configured, so a bare Client (e.g. in tests)
// never needs one wired in.
func (c *Client) throttle(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx, rpcRateLimitKey); err != nil {
		return fmt.Errorf("chain: rate limit: %w", err)
	}
	return nil
}

// Raw exposes the underlying ethclient for components (e.g. the event
// subscriber) that need the wider RPC surface.
func (c *Client) Raw() *ethclient.Client { return c.eth }

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	if err := c.throttle(ctx); err != nil {
		return 0, err
	}
	return c.eth.BlockNumber(ctx)
}

func (c *Client) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	if err := c.throttle(ctx); err != nil {
		return nil, err
	}
	return c.eth.SuggestGasTipCap(ctx)
}

func (c *Client) SuggestGasFeeCap(ctx context.Context) (*big.Int, error) {
	tip, err := c.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain: suggest tip cap: %w", err)
	}
	if err := c.throttle(ctx); err != nil {
		return nil, err
	}
	head, err := c.eth.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: head header: %w", err)
	}
	if head.BaseFee == nil {
		return tip, nil
	}
	feeCap := new(big.Int).Add(tip, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	return feeCap, nil
}

func (c *Client) PendingNonce(ctx context.Context, address string) (uint64, error) {
	if err := c.throttle(ctx); err != nil {
		return 0, err
	}
	return c.eth.PendingNonceAt(ctx, common.HexToAddress(address))
}

func (c *Client) NativeAssetPriceUSD(ctx context.Context) (float64, error) {
	if c.nativeAsset == "" {
		return 0, errors.New("chain: no native asset address configured")
	}
	return c.OraclePrice(ctx, c.nativeAsset)
}

func (c *Client) GetUserAccountData(ctx context.Context, borrower string) (totalCollateralUSD, totalDebtUSD, healthFactor float64, err error) {
	if err := c.throttle(ctx); err != nil {
		return 0, 0, 0, err
	}
	calldata, err := poolABI.Pack("getUserAccountData", common.HexToAddress(borrower))
	if err != nil {
		return 0, 0, 0, fmt.Errorf("chain: pack getUserAccountData: %w", err)
	}
	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &c.poolAddress, Data: calldata}, nil)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("chain: call getUserAccountData: %w", err)
	}
	vals, err := poolABI.Unpack("getUserAccountData", out)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("chain: unpack getUserAccountData: %w", err)
	}
	// [totalCollateralBase, totalDebtBase, availableBorrowsBase, currentLiquidationThreshold, ltv, healthFactor]
	collateralBase := vals[0].(*big.Int)
	debtBase := vals[1].(*big.Int)
	hfRaw := vals[5].(*big.Int)

	totalCollateralUSD = scaledFloat(collateralBase, 8)
	totalDebtUSD = scaledFloat(debtBase, 8)
	if hfRaw.Cmp(noDebtSentinel) == 0 {
		healthFactor = math.Inf(1)
	} else {
		hfFloat := new(big.Float).SetInt(hfRaw)
		hfFloat.Quo(hfFloat, big.NewFloat(aaveHealthFactorScale))
		healthFactor, _ = hfFloat.Float64()
	}
	return totalCollateralUSD, totalDebtUSD, healthFactor, nil
}

func (c *Client) GetReserveData(ctx context.Context, asset string) (domain.ReserveData, error) {
	if err := c.throttle(ctx); err != nil {
		return domain.ReserveData{}, err
	}
	calldata, err := poolABI.Pack("getReserveData", common.HexToAddress(asset))
	if err != nil {
		return domain.ReserveData{}, fmt.Errorf("chain: pack getReserveData: %w", err)
	}
	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &c.poolAddress, Data: calldata}, nil)
	if err != nil {
		return domain.ReserveData{}, fmt.Errorf("chain: call getReserveData: %w", err)
	}
	vals, err := poolABI.Unpack("getReserveData", out)
	if err != nil {
		return domain.ReserveData{}, fmt.Errorf("chain: unpack getReserveData: %w", err)
	}
	aToken := vals[8].(common.Address)
	variableDebtToken := vals[10].(common.Address)

	decimals, err := c.TokenDecimals(ctx, asset)
	if err != nil {
		return domain.ReserveData{}, err
	}

	return domain.ReserveData{
		Asset:               domain.NormalizeAddress(asset),
		ATokenAddress:       domain.NormalizeAddress(aToken.Hex()),
		VariableDebtAddress: domain.NormalizeAddress(variableDebtToken.Hex()),
		Decimals:            decimals,
	}, nil
}

func (c *Client) OraclePrice(ctx context.Context, asset string) (float64, error) {
	if err := c.throttle(ctx); err != nil {
		return 0, err
	}
	calldata, err := oracleABI.Pack("getAssetPrice", common.HexToAddress(asset))
	if err != nil {
		return 0, fmt.Errorf("chain: pack getAssetPrice: %w", err)
	}
	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &c.oracleAddress, Data: calldata}, nil)
	if err != nil {
		return 0, fmt.Errorf("chain: call getAssetPrice: %w", err)
	}
	vals, err := oracleABI.Unpack("getAssetPrice", out)
	if err != nil {
		return 0, fmt.Errorf("chain: unpack getAssetPrice: %w", err)
	}
	raw := vals[0].(*big.Int)
	return scaledFloat(raw, 8), nil
}

func (c *Client) TokenBalance(ctx context.Context, token, holder string) (*big.Int, error) {
	if err := c.throttle(ctx); err != nil {
		return nil, err
	}
	tokenAddr := common.HexToAddress(token)
	calldata, err := erc20ABI.Pack("balanceOf", common.HexToAddress(holder))
	if err != nil {
		return nil, fmt.Errorf("chain: pack balanceOf: %w", err)
	}
	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &tokenAddr, Data: calldata}, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: call balanceOf: %w", err)
	}
	vals, err := erc20ABI.Unpack("balanceOf", out)
	if err != nil {
		return nil, fmt.Errorf("chain: unpack balanceOf: %w", err)
	}
	return vals[0].(*big.Int), nil
}

func (c *Client) TokenDecimals(ctx context.Context, token string) (int, error) {
	if err := c.throttle(ctx); err != nil {
		return 0, err
	}
	tokenAddr := common.HexToAddress(token)
	calldata, err := erc20ABI.Pack("decimals")
	if err != nil {
		return 0, fmt.Errorf("chain: pack decimals: %w", err)
	}
	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &tokenAddr, Data: calldata}, nil)
	if err != nil {
		return 0, fmt.Errorf("chain: call decimals: %w", err)
	}
	vals, err := erc20ABI.Unpack("decimals", out)
	if err != nil {
		return 0, fmt.Errorf("chain: unpack decimals: %w", err)
	}
	return int(vals[0].(uint8)), nil
}

func (c *Client) EncodeLiquidationCall(collateralAsset, debtAsset, user string, debtToCover *big.Int, receiveAToken bool) ([]byte, error) {
	return poolABI.Pack("liquidationCall",
		common.HexToAddress(collateralAsset),
		common.HexToAddress(debtAsset),
		common.HexToAddress(user),
		debtToCover,
		receiveAToken,
	)
}

func (c *Client) EncodeFlashExecute(borrower, debtAsset, collateralAsset string, debtAmount *big.Int, swapPayload []byte) ([]byte, error) {
	return flashLiquidatorABI.Pack("execute",
		common.HexToAddress(borrower),
		common.HexToAddress(debtAsset),
		common.HexToAddress(collateralAsset),
		debtAmount,
		swapPayload,
	)
}

func (c *Client) EstimateGas(ctx context.Context, req domain.SimulationRequest) (domain.GasEstimate, error) {
	to := common.HexToAddress(req.Target)
	from := common.HexToAddress(req.FromAddr)
	value := req.Value
	if value == nil {
		value = big.NewInt(0)
	}

	if err := c.throttle(ctx); err != nil {
		return domain.GasEstimate{}, err
	}
	limit, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Data: req.Payload, Value: value})
	if err != nil {
		return domain.GasEstimate{}, fmt.Errorf("chain: estimate gas: %w", err)
	}
	// add 20% headroom: prepare's simulation runs against the current block,
	// execute may land a block or two later.
	limit = limit + limit/5

	tip, err := c.SuggestGasTipCap(ctx)
	if err != nil {
		return domain.GasEstimate{}, err
	}
	feeCap, err := c.SuggestGasFeeCap(ctx)
	if err != nil {
		return domain.GasEstimate{}, err
	}

	return domain.GasEstimate{GasLimit: limit, MaxFeePerGas: feeCap, MaxPriorityPerGas: tip}, nil
}

func (c *Client) StaticCall(ctx context.Context, req domain.SimulationRequest) error {
	to := common.HexToAddress(req.Target)
	from := common.HexToAddress(req.FromAddr)
	value := req.Value
	if value == nil {
		value = big.NewInt(0)
	}
	if err := c.throttle(ctx); err != nil {
		return err
	}
	_, err := c.eth.CallContract(ctx, ethereum.CallMsg{From: from, To: &to, Data: req.Payload, Value: value}, nil)
	if err != nil {
		return fmt.Errorf("chain: static call reverted: %w", err)
	}
	return nil
}

func scaledFloat(amount *big.Int, decimals int) float64 {
	if amount == nil || amount.Sign() == 0 {
		return 0
	}
	f := new(big.Float).SetInt(amount)
	scale := new(big.Float).SetFloat64(math.Pow10(decimals))
	f.Quo(f, scale)
	out, _ := f.Float64()
	return out
}
