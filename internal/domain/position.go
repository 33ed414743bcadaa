package domain

import "strings"

// Protocol identifies an on-chain lending market.
type Protocol string

const (
	ProtocolAave     Protocol = "AAVE"
	ProtocolSilo     Protocol = "SILO"
	ProtocolOrbit    Protocol = "ORBIT"
	ProtocolIronclad Protocol = "IRONCLAD"
	ProtocolLendle   Protocol = "LENDLE"
)

var knownProtocols = []Protocol{
	ProtocolAave, ProtocolSilo, ProtocolOrbit, ProtocolIronclad, ProtocolLendle,
}

// ParseProtocol resolves a protocol name case-insensitively.
func ParseProtocol(s string) (Protocol, bool) {
	for _, p := range knownProtocols {
		if strings.EqualFold(string(p), strings.TrimSpace(s)) {
			return p, true
		}
	}
	return "", false
}

// Valid reports whether p belongs to the supported protocol set.
func (p Protocol) Valid() bool {
	_, ok := ParseProtocol(string(p))
	return ok
}

// Network identifies the chain a protocol deployment lives on.
type Network string

const (
	NetworkEthereum Network = "ethereum"
	NetworkArbitrum Network = "arbitrum"
	NetworkMantle   Network = "mantle"
)

var knownNetworks = []Network{NetworkEthereum, NetworkArbitrum, NetworkMantle}

// ParseNetwork resolves a network name case-insensitively.
func ParseNetwork(s string) (Network, bool) {
	for _, n := range knownNetworks {
		if strings.EqualFold(string(n), strings.TrimSpace(s)) {
			return n, true
		}
	}
	return "", false
}

// Valid reports whether n belongs to the supported network set.
func (n Network) Valid() bool {
	_, ok := ParseNetwork(string(n))
	return ok
}

// HealthFactorUnavailable is reported when a source cannot compute a health
// factor, including accounts that carry no debt.
const HealthFactorUnavailable = "N/A"

// Position is a normalized snapshot of one user's exposure to one protocol at
// one instant. Quantities are decimal strings in the protocol's base currency.
// Collateral and Debt are nil when the source could not resolve account data.
type Position struct {
	Protocol        Protocol         `json:"protocol"`
	Network         Network          `json:"network"`
	UserAddress     string           `json:"userAddress"`
	Collateral      *string          `json:"collateral"`
	Debt            *string          `json:"debt"`
	HealthFactor    string           `json:"healthFactor"`
	LiquidationRisk *LiquidationRisk `json:"liquidationRisk,omitempty"`
	BorrowedAssets  []BorrowedAsset  `json:"borrowedAssets"`
	Timestamp       int64            `json:"timestamp"`
	PeriodStart     *int64           `json:"periodStart,omitempty"`
	PeriodEnd       *int64           `json:"periodEnd,omitempty"`
	Source          SourceType       `json:"source,omitempty"`
}

// LiquidationRisk pairs the liquidation threshold with the current
// loan-to-value ratio, both as decimal fractions.
type LiquidationRisk struct {
	Threshold  string `json:"threshold"`
	CurrentLTV string `json:"currentLTV"`
}

// BorrowedAsset is one outstanding debt line of a position.
type BorrowedAsset struct {
	Symbol              string `json:"symbol"`
	Amount              string `json:"amount"`
	ValueInBaseCurrency string `json:"valueInBaseCurrency"`
}

// StringPtr returns a pointer to s, for populating nullable quantities.
func StringPtr(s string) *string {
	return &s
}
