package fixedpoint

import (
	"errors"
	"math/big"
	"testing"

	"github.com/alanyoungcy/lendwatch/internal/domain"
)

func mustInt(t *testing.T, s string) *big.Int {
	t.Helper()
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		t.Fatalf("bad int %q", s)
	}
	return v
}

func TestFormat(t *testing.T) {
	tests := []struct {
		raw      string
		decimals int32
		want     string
	}{
		{"1000000000000000000000", 18, "1000"},
		{"1500000000000000000", 18, "1.5"},
		{"123456789", 8, "1.23456789"},
		{"100000", 8, "0.001"},
		{"0", 18, "0"},
		{"8250", 4, "0.825"},
		{"42", 0, "42"},
	}
	for _, tt := range tests {
		if got := Format(mustInt(t, tt.raw), tt.decimals); got != tt.want {
			t.Errorf("Format(%s, %d) = %q, want %q", tt.raw, tt.decimals, got, tt.want)
		}
	}
	if got := Format(nil, 18); got != "0" {
		t.Errorf("Format(nil) = %q", got)
	}
}

func TestParseInt(t *testing.T) {
	v, err := ParseInt(" 1500000000000000000 ")
	if err != nil || v.String() != "1500000000000000000" {
		t.Fatalf("ParseInt = %v, %v", v, err)
	}
	for _, bad := range []string{"", "1.5", "0x10", "abc"} {
		if _, err := ParseInt(bad); !errors.Is(err, domain.ErrDataFormat) {
			t.Errorf("ParseInt(%q) err = %v, want ErrDataFormat", bad, err)
		}
	}
}

func TestRatio(t *testing.T) {
	if got := Ratio(big.NewInt(500), big.NewInt(1000), 4); got != "0.5" {
		t.Errorf("Ratio = %q", got)
	}
	if got := Ratio(big.NewInt(1), big.NewInt(3), 4); got != "0.3333" {
		t.Errorf("Ratio = %q", got)
	}
	if got := Ratio(big.NewInt(0), big.NewInt(1000), 4); got != "0" {
		t.Errorf("Ratio with no debt = %q", got)
	}
	if got := Ratio(big.NewInt(5), big.NewInt(0), 4); got != "0" {
		t.Errorf("Ratio with zero denominator = %q", got)
	}
}

func TestValue(t *testing.T) {
	// 250 USDC (6 decimals) at 1.0002 USD (8 decimals).
	got := Value(big.NewInt(250_000_000), 6, big.NewInt(100_020_000), 8)
	if got != "250.05" {
		t.Errorf("Value = %q, want 250.05", got)
	}
}
