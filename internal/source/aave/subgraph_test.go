package aave

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alanyoungcy/lendwatch/internal/domain"
)

type fakeQueryClient struct {
	data      string
	err       error
	variables map[string]any
}

func (f *fakeQueryClient) Query(_ context.Context, _ string, variables map[string]any) (json.RawMessage, error) {
	f.variables = variables
	if f.err != nil {
		return nil, f.err
	}
	return json.RawMessage(f.data), nil
}

func newTestSubgraph(data string) (*SubgraphAdapter, *fakeQueryClient) {
	qc := &fakeQueryClient{data: data}
	a := NewSubgraphAdapter(qc, domain.NetworkEthereum, nil)
	a.now = func() time.Time { return time.Unix(1700000000, 0) }
	return a, qc
}

const borrowerData = `{
  "userReserves": [
    {"currentATokenBalance": "2000000000000000000", "currentStableDebt": "0", "currentVariableDebt": "0",
     "reserve": {"symbol": "WETH", "decimals": 18, "price": {"priceInEth": "1000000000000000000"}}},
    {"currentATokenBalance": "0", "currentStableDebt": "0", "currentVariableDebt": "500000000",
     "reserve": {"symbol": "USDC", "decimals": 6, "price": {"priceInEth": "500000000000000"}}},
    {"currentATokenBalance": "0", "currentStableDebt": "1000", "currentVariableDebt": "0",
     "reserve": {"symbol": "BAD", "decimals": 18, "price": {"priceInEth": "n/a"}}}
  ],
  "user": {"healthFactor": "1650000000000000000", "totalCollateralETH": "2000000000000000000", "totalDebtETH": "250000000000000000"}
}`

func TestSubgraphBorrower(t *testing.T) {
	a, qc := newTestSubgraph(borrowerData)
	q := domain.Query{UserAddress: "0xABCDEF0000000000000000000000000000000001"}

	got, err := a.Fetch(context.Background(), q)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if qc.variables["userAddress"] != "0xabcdef0000000000000000000000000000000001" {
		t.Errorf("userAddress variable = %v, want lowercase", qc.variables["userAddress"])
	}
	if len(got) != 1 {
		t.Fatalf("len = %d", len(got))
	}
	p := got[0]
	if *p.Collateral != "2" || *p.Debt != "0.25" || p.HealthFactor != "1.65" {
		t.Errorf("collateral/debt/hf = %s/%s/%s", *p.Collateral, *p.Debt, p.HealthFactor)
	}
	if len(p.BorrowedAssets) != 1 {
		t.Fatalf("borrowed = %+v, want USDC only", p.BorrowedAssets)
	}
	b := p.BorrowedAssets[0]
	if b.Symbol != "USDC" || b.Amount != "500" || b.ValueInBaseCurrency != "0.25" {
		t.Errorf("borrowed = %+v", b)
	}
	if p.Source != domain.SourceSubgraph || p.LiquidationRisk != nil {
		t.Errorf("source = %s, risk = %+v", p.Source, p.LiquidationRisk)
	}
}

func TestSubgraphUnknownUser(t *testing.T) {
	a, _ := newTestSubgraph(`{"userReserves": [], "user": null}`)
	got, err := a.Fetch(context.Background(), domain.Query{UserAddress: testUser})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("got %#v, want empty", got)
	}
}

func TestSubgraphReservesWithoutUser(t *testing.T) {
	a, _ := newTestSubgraph(`{"userReserves": [
	  {"currentATokenBalance": "10", "currentStableDebt": "0", "currentVariableDebt": "0",
	   "reserve": {"symbol": "WETH", "decimals": 18, "price": {"priceInEth": "1000000000000000000"}}}
	], "user": null}`)

	got, err := a.Fetch(context.Background(), domain.Query{UserAddress: testUser})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d", len(got))
	}
	p := got[0]
	if p.Collateral != nil || p.Debt != nil || p.HealthFactor != domain.HealthFactorUnavailable {
		t.Errorf("position = %+v", p)
	}
}

func TestSubgraphZeroTotals(t *testing.T) {
	a, _ := newTestSubgraph(`{"userReserves": [], "user": {"healthFactor": "0", "totalCollateralETH": "0", "totalDebtETH": "0"}}`)
	got, err := a.Fetch(context.Background(), domain.Query{UserAddress: testUser})
	if err != nil || len(got) != 0 {
		t.Fatalf("Fetch = %v, %v; want empty", got, err)
	}
}

func TestSubgraphNoDebtHealthFactor(t *testing.T) {
	a, _ := newTestSubgraph(`{"userReserves": [], "user": {"healthFactor": "garbage", "totalCollateralETH": "1000000000000000000", "totalDebtETH": "0"}}`)
	got, err := a.Fetch(context.Background(), domain.Query{UserAddress: testUser})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got[0].HealthFactor != domain.HealthFactorUnavailable {
		t.Errorf("healthFactor = %q", got[0].HealthFactor)
	}
}

func TestSubgraphDecimalHealthFactor(t *testing.T) {
	a, _ := newTestSubgraph(`{"userReserves": [], "user": {"healthFactor": "1.50", "totalCollateralETH": "3", "totalDebtETH": "2"}}`)
	got, err := a.Fetch(context.Background(), domain.Query{UserAddress: testUser})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got[0].HealthFactor != "1.5" {
		t.Errorf("healthFactor = %q", got[0].HealthFactor)
	}
}

func TestSubgraphMalformedTotals(t *testing.T) {
	a, _ := newTestSubgraph(`{"userReserves": [], "user": {"healthFactor": "1", "totalCollateralETH": "1.2.3", "totalDebtETH": "0"}}`)
	_, err := a.Fetch(context.Background(), domain.Query{UserAddress: testUser})
	if !errors.Is(err, domain.ErrDataFormat) {
		t.Fatalf("err = %v, want data format", err)
	}
}

func TestSubgraphUndecodablePayload(t *testing.T) {
	a, _ := newTestSubgraph(`{"userReserves": "nope"}`)
	_, err := a.Fetch(context.Background(), domain.Query{UserAddress: testUser})
	if !errors.Is(err, domain.ErrDataFormat) {
		t.Fatalf("err = %v, want data format", err)
	}
}

func TestSubgraphClientErrorPassesThrough(t *testing.T) {
	a, qc := newTestSubgraph("")
	qc.err = domain.Transient(errors.New("502"))
	_, err := a.Fetch(context.Background(), domain.Query{UserAddress: testUser})
	if !errors.Is(err, domain.ErrTransientSource) {
		t.Fatalf("err = %v, want transient", err)
	}
}

func TestSubgraphRejectsBadAddress(t *testing.T) {
	a, qc := newTestSubgraph(`{"userReserves": [], "user": null}`)
	_, err := a.Fetch(context.Background(), domain.Query{UserAddress: "0xnothex"})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("err = %v, want validation", err)
	}
	if qc.variables != nil {
		t.Error("malformed address must not reach the subgraph")
	}
}
