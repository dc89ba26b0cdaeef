package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Minimal ABI fragments for exactly the calls the liquidator makes. Full
// interfaces are not needed: abi.JSON only requires the entries actually
// packed or unpacked below.
const (
	poolABIJSON = `[
		{"name":"liquidationCall","type":"function","stateMutability":"nonpayable",
		 "inputs":[
			{"name":"collateralAsset","type":"address"},
			{"name":"debtAsset","type":"address"},
			{"name":"user","type":"address"},
			{"name":"debtToCover","type":"uint256"},
			{"name":"receiveAToken","type":"bool"}
		 ],"outputs":[]},
		{"name":"getUserAccountData","type":"function","stateMutability":"view",
		 "inputs":[{"name":"user","type":"address"}],
		 "outputs":[
			{"name":"totalCollateralBase","type":"uint256"},
			{"name":"totalDebtBase","type":"uint256"},
			{"name":"availableBorrowsBase","type":"uint256"},
			{"name":"currentLiquidationThreshold","type":"uint256"},
			{"name":"ltv","type":"uint256"},
			{"name":"healthFactor","type":"uint256"}
		 ]},
		{"name":"getReserveData","type":"function","stateMutability":"view",
		 "inputs":[{"name":"asset","type":"address"}],
		 "outputs":[
			{"name":"configuration","type":"uint256"},
			{"name":"liquidityIndex","type":"uint128"},
			{"name":"currentLiquidityRate","type":"uint128"},
			{"name":"variableBorrowIndex","type":"uint128"},
			{"name":"currentVariableBorrowRate","type":"uint128"},
			{"name":"currentStableBorrowRate","type":"uint128"},
			{"name":"lastUpdateTimestamp","type":"uint40"},
			{"name":"id","type":"uint16"},
			{"name":"aTokenAddress","type":"address"},
			{"name":"stableDebtTokenAddress","type":"address"},
			{"name":"variableDebtTokenAddress","type":"address"},
			{"name":"interestRateStrategyAddress","type":"address"},
			{"name":"accruedToTreasury","type":"uint128"},
			{"name":"unbacked","type":"uint128"},
			{"name":"isolationModeTotalDebt","type":"uint128"}
		 ]},
		{"anonymous":false,"name":"Borrow","type":"event","inputs":[
			{"name":"reserve","type":"address","indexed":true},
			{"name":"user","type":"address","indexed":false},
			{"name":"onBehalfOf","type":"address","indexed":true},
			{"name":"amount","type":"uint256","indexed":false},
			{"name":"interestRateMode","type":"uint8","indexed":false},
			{"name":"borrowRate","type":"uint256","indexed":false},
			{"name":"referralCode","type":"uint16","indexed":true}
		]},
		{"anonymous":false,"name":"Repay","type":"event","inputs":[
			{"name":"reserve","type":"address","indexed":true},
			{"name":"user","type":"address","indexed":true},
			{"name":"repayer","type":"address","indexed":true},
			{"name":"amount","type":"uint256","indexed":false},
			{"name":"useATokens","type":"bool","indexed":false}
		]},
		{"anonymous":false,"name":"Supply","type":"event","inputs":[
			{"name":"reserve","type":"address","indexed":true},
			{"name":"user","type":"address","indexed":false},
			{"name":"onBehalfOf","type":"address","indexed":true},
			{"name":"amount","type":"uint256","indexed":false},
			{"name":"referralCode","type":"uint16","indexed":true}
		]},
		{"anonymous":false,"name":"Withdraw","type":"event","inputs":[
			{"name":"reserve","type":"address","indexed":true},
			{"name":"user","type":"address","indexed":true},
			{"name":"to","type":"address","indexed":true},
			{"name":"amount","type":"uint256","indexed":false}
		]},
		{"anonymous":false,"name":"LiquidationCall","type":"event","inputs":[
			{"name":"collateralAsset","type":"address","indexed":true},
			{"name":"debtAsset","type":"address","indexed":true},
			{"name":"user","type":"address","indexed":true},
			{"name":"debtToCover","type":"uint256","indexed":false},
			{"name":"liquidatedCollateralAmount","type":"uint256","indexed":false},
			{"name":"liquidator","type":"address","indexed":false},
			{"name":"receiveAToken","type":"bool","indexed":false}
		]}
	]`

	oracleABIJSON = `[
		{"name":"getAssetPrice","type":"function","stateMutability":"view",
		 "inputs":[{"name":"asset","type":"address"}],
		 "outputs":[{"name":"price","type":"uint256"}]}
	]`

	erc20ABIJSON = `[
		{"name":"balanceOf","type":"function","stateMutability":"view",
		 "inputs":[{"name":"account","type":"address"}],
		 "outputs":[{"name":"","type":"uint256"}]},
		{"name":"decimals","type":"function","stateMutability":"view",
		 "inputs":[],"outputs":[{"name":"","type":"uint8"}]}
	]`

	flashLiquidatorABIJSON = `[
		{"name":"execute","type":"function","stateMutability":"nonpayable",
		 "inputs":[
			{"name":"borrower","type":"address"},
			{"name":"debtAsset","type":"address"},
			{"name":"collateralAsset","type":"address"},
			{"name":"debtAmount","type":"uint256"},
			{"name":"swapPayload","type":"bytes"}
		 ],"outputs":[]}
	]`
)

var (
	poolABI            = mustParseABI(poolABIJSON)
	oracleABI          = mustParseABI(oracleABIJSON)
	erc20ABI           = mustParseABI(erc20ABIJSON)
	flashLiquidatorABI = mustParseABI(flashLiquidatorABIJSON)
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("chain: invalid embedded ABI: " + err.Error())
	}
	return parsed
}
