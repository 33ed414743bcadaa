package aave

import "github.com/alanyoungcy/lendwatch/internal/platform/evm"

// Only the read methods the adapters call are declared.

var poolABI = evm.MustParseABI(`[
{"type":"function","name":"getUserAccountData","stateMutability":"view",
 "inputs":[{"name":"user","type":"address"}],
 "outputs":[
  {"name":"totalCollateralBase","type":"uint256"},
  {"name":"totalDebtBase","type":"uint256"},
  {"name":"availableBorrowsBase","type":"uint256"},
  {"name":"currentLiquidationThreshold","type":"uint256"},
  {"name":"ltv","type":"uint256"},
  {"name":"healthFactor","type":"uint256"}]},
{"type":"function","name":"getReservesList","stateMutability":"view",
 "inputs":[],
 "outputs":[{"name":"","type":"address[]"}]}
]`)

var dataProviderABI = evm.MustParseABI(`[
{"type":"function","name":"getUserReserveData","stateMutability":"view",
 "inputs":[{"name":"asset","type":"address"},{"name":"user","type":"address"}],
 "outputs":[
  {"name":"currentATokenBalance","type":"uint256"},
  {"name":"currentStableDebt","type":"uint256"},
  {"name":"currentVariableDebt","type":"uint256"},
  {"name":"principalStableDebt","type":"uint256"},
  {"name":"scaledVariableDebt","type":"uint256"},
  {"name":"stableBorrowRate","type":"uint256"},
  {"name":"liquidityRate","type":"uint256"},
  {"name":"stableRateLastUpdated","type":"uint40"},
  {"name":"usageAsCollateralEnabled","type":"bool"}]}
]`)

var oracleABI = evm.MustParseABI(`[
{"type":"function","name":"getAssetPrice","stateMutability":"view",
 "inputs":[{"name":"asset","type":"address"}],
 "outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"getAssetsPrices","stateMutability":"view",
 "inputs":[{"name":"assets","type":"address[]"}],
 "outputs":[{"name":"","type":"uint256[]"}]}
]`)

var erc20ABI = evm.MustParseABI(`[
{"type":"function","name":"symbol","stateMutability":"view",
 "inputs":[],"outputs":[{"name":"","type":"string"}]},
{"type":"function","name":"decimals","stateMutability":"view",
 "inputs":[],"outputs":[{"name":"","type":"uint8"}]}
]`)
