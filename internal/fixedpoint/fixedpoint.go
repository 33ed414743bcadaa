// Package fixedpoint converts raw on-chain integers into decimal strings with
// one scaling rule shared by every source: value = raw / 10^decimals.
package fixedpoint

import (
	"math/big"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/lendwatch/internal/domain"
)

// Common scales.
const (
	WadDecimals = 18 // health factor, ETH amounts
	BpsDecimals = 4  // liquidation threshold, LTV in basis points
)

// Scale returns raw / 10^decimals as an exact decimal.
func Scale(raw *big.Int, decimals int32) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -decimals)
}

// Format returns raw / 10^decimals without trailing zeros.
func Format(raw *big.Int, decimals int32) string {
	return Scale(raw, decimals).String()
}

// ParseInt reads a base-10 integer string such as a subgraph BigInt. Failures
// wrap domain.ErrDataFormat.
func ParseInt(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, domain.DataFormatf("not an integer: %q", s)
	}
	return v, nil
}

// Ratio returns num/den rounded to places, or "0" when num is zero. A zero
// denominator with a non-zero numerator also yields "0".
func Ratio(num, den *big.Int, places int32) string {
	if num == nil || den == nil || num.Sign() == 0 || den.Sign() == 0 {
		return "0"
	}
	return decimal.NewFromBigInt(num, 0).
		DivRound(decimal.NewFromBigInt(den, 0), places).
		String()
}

// Value prices an amount: (amount / 10^amountDecimals) * (price / 10^priceDecimals).
func Value(amount *big.Int, amountDecimals int32, price *big.Int, priceDecimals int32) string {
	return Scale(amount, amountDecimals).Mul(Scale(price, priceDecimals)).String()
}

// IsZero reports whether raw is nil or zero.
func IsZero(raw *big.Int) bool {
	return raw == nil || raw.Sign() == 0
}
