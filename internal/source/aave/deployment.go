// Package aave implements position adapters for Aave V3 style lending pools:
// direct contract reads and the protocol subgraph.
package aave

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/lendwatch/internal/domain"
)

// Deployment is the static address table of one Aave-style market.
type Deployment struct {
	Network      domain.Network
	Pool         common.Address
	DataProvider common.Address
	Oracle       common.Address
	// BaseCurrencyDecimals scales account totals and oracle prices.
	BaseCurrencyDecimals int32
	SubgraphID           string
}

// EthereumV3 is the Aave V3 core market on Ethereum mainnet. Its base
// currency is USD with 8 decimals.
var EthereumV3 = Deployment{
	Network:              domain.NetworkEthereum,
	Pool:                 common.HexToAddress("0x87870Bca3F3fD6335C3F4ce8392D69350B4fA4E2"),
	DataProvider:         common.HexToAddress("0x7B4EB56E7CD4b454BA8ff71E4518426369a138a3"),
	Oracle:               common.HexToAddress("0x54586bE62E3c3580375aE3723C145253060Ca0C2"),
	BaseCurrencyDecimals: 8,
	SubgraphID:           "JCNWRypm7FYwV8fx5HhzZPSFaMxgkPuw4TnR3Gpi81zk",
}

// DefaultDeployments returns the built-in deployments keyed by network.
func DefaultDeployments() map[domain.Network]Deployment {
	return map[domain.Network]Deployment{
		domain.NetworkEthereum: EthereumV3,
	}
}
