package aave

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/lendwatch/internal/domain"
	"github.com/alanyoungcy/lendwatch/internal/fixedpoint"
)

// QueryClient runs a GraphQL document and returns its data object.
// *subgraph.Client satisfies it.
type QueryClient interface {
	Query(ctx context.Context, document string, variables map[string]any) (json.RawMessage, error)
}

const userPositionsQuery = `query GetUserPositions($userAddress: String!) {
  userReserves(where: { user: $userAddress }) {
    currentATokenBalance
    currentStableDebt
    currentVariableDebt
    reserve {
      symbol
      decimals
      price {
        priceInEth
      }
    }
  }
  user(id: $userAddress) {
    healthFactor
    totalCollateralETH
    totalDebtETH
  }
}`

type userReserve struct {
	CurrentATokenBalance string `json:"currentATokenBalance"`
	CurrentStableDebt    string `json:"currentStableDebt"`
	CurrentVariableDebt  string `json:"currentVariableDebt"`
	Reserve              struct {
		Symbol   string `json:"symbol"`
		Decimals int32  `json:"decimals"`
		Price    *struct {
			PriceInEth string `json:"priceInEth"`
		} `json:"price"`
	} `json:"reserve"`
}

type userAccount struct {
	HealthFactor       string `json:"healthFactor"`
	TotalCollateralETH string `json:"totalCollateralETH"`
	TotalDebtETH       string `json:"totalDebtETH"`
}

type userPositionsData struct {
	UserReserves []userReserve `json:"userReserves"`
	User         *userAccount  `json:"user"`
}

// SubgraphAdapter reads positions from the protocol's indexed subgraph.
// Totals are denominated in ETH with 18 decimals.
type SubgraphAdapter struct {
	client  QueryClient
	network domain.Network
	logger  *slog.Logger
	now     func() time.Time
}

// NewSubgraphAdapter creates an adapter for one network's subgraph.
func NewSubgraphAdapter(client QueryClient, network domain.Network, logger *slog.Logger) *SubgraphAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubgraphAdapter{
		client:  client,
		network: network,
		logger:  logger.With(slog.String("component", "aave_subgraph"), slog.String("network", string(network))),
		now:     time.Now,
	}
}

// Fetch returns at most one position for the user.
func (a *SubgraphAdapter) Fetch(ctx context.Context, q domain.Query) ([]domain.Position, error) {
	if !common.IsHexAddress(q.UserAddress) {
		return nil, fmt.Errorf("%w: %q is not an EVM address", domain.ErrValidation, q.UserAddress)
	}
	user := strings.ToLower(q.UserAddress)
	raw, err := a.client.Query(ctx, userPositionsQuery, map[string]any{"userAddress": user})
	if err != nil {
		return nil, fmt.Errorf("aave subgraph: %w", err)
	}

	var data userPositionsData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, domain.DataFormatf("aave subgraph: decode user positions: %v", err)
	}

	borrowed, held, err := a.borrowedAssets(ctx, data.UserReserves)
	if err != nil {
		return nil, fmt.Errorf("aave subgraph: %w", err)
	}

	pos := domain.Position{
		Protocol:       domain.ProtocolAave,
		Network:        a.network,
		UserAddress:    user,
		HealthFactor:   domain.HealthFactorUnavailable,
		BorrowedAssets: borrowed,
		Timestamp:      a.now().Unix(),
		PeriodStart:    q.From,
		PeriodEnd:      q.To,
		Source:         domain.SourceSubgraph,
	}

	if data.User == nil {
		if !held {
			return []domain.Position{}, nil
		}
		return []domain.Position{pos}, nil
	}

	collateral, err := fixedpoint.ParseInt(data.User.TotalCollateralETH)
	if err != nil {
		return nil, fmt.Errorf("aave subgraph: totalCollateralETH: %w", err)
	}
	debt, err := fixedpoint.ParseInt(data.User.TotalDebtETH)
	if err != nil {
		return nil, fmt.Errorf("aave subgraph: totalDebtETH: %w", err)
	}
	if fixedpoint.IsZero(collateral) && fixedpoint.IsZero(debt) {
		return []domain.Position{}, nil
	}

	pos.Collateral = domain.StringPtr(fixedpoint.Format(collateral, fixedpoint.WadDecimals))
	pos.Debt = domain.StringPtr(fixedpoint.Format(debt, fixedpoint.WadDecimals))
	if !fixedpoint.IsZero(debt) {
		hf, err := parseHealthFactor(data.User.HealthFactor)
		if err != nil {
			return nil, fmt.Errorf("aave subgraph: healthFactor: %w", err)
		}
		pos.HealthFactor = hf
	}
	return []domain.Position{pos}, nil
}

// borrowedAssets converts reserves with outstanding debt. held reports
// whether any reserve carries a balance at all. Debt amounts that do not
// parse fail the whole fetch; a missing or malformed price drops the asset.
func (a *SubgraphAdapter) borrowedAssets(ctx context.Context, reserves []userReserve) ([]domain.BorrowedAsset, bool, error) {
	assets := []domain.BorrowedAsset{}
	held := false
	for _, r := range reserves {
		supplied, err := parseOptionalInt(r.CurrentATokenBalance)
		if err != nil {
			return nil, false, err
		}
		stable, err := parseOptionalInt(r.CurrentStableDebt)
		if err != nil {
			return nil, false, err
		}
		variable, err := parseOptionalInt(r.CurrentVariableDebt)
		if err != nil {
			return nil, false, err
		}
		debt := new(big.Int).Add(stable, variable)
		if supplied.Sign() != 0 || debt.Sign() != 0 {
			held = true
		}
		if debt.Sign() == 0 {
			continue
		}

		if r.Reserve.Price == nil {
			a.logger.WarnContext(ctx, "reserve has no price", slog.String("symbol", r.Reserve.Symbol))
			continue
		}
		price, err := fixedpoint.ParseInt(r.Reserve.Price.PriceInEth)
		if err != nil {
			a.logger.WarnContext(ctx, "skipping reserve with bad price",
				slog.String("symbol", r.Reserve.Symbol),
				slog.String("error", err.Error()),
			)
			continue
		}
		assets = append(assets, domain.BorrowedAsset{
			Symbol:              r.Reserve.Symbol,
			Amount:              fixedpoint.Format(debt, r.Reserve.Decimals),
			ValueInBaseCurrency: fixedpoint.Value(debt, r.Reserve.Decimals, price, fixedpoint.WadDecimals),
		})
	}
	return assets, held, nil
}

func parseOptionalInt(s string) (*big.Int, error) {
	if strings.TrimSpace(s) == "" {
		return new(big.Int), nil
	}
	return fixedpoint.ParseInt(s)
}

// parseHealthFactor accepts either a raw 18-decimal integer or an already
// scaled decimal string, depending on the subgraph version.
func parseHealthFactor(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return domain.HealthFactorUnavailable, nil
	}
	if !strings.ContainsAny(s, ".eE") {
		raw, err := fixedpoint.ParseInt(s)
		if err != nil {
			return "", err
		}
		return fixedpoint.Format(raw, fixedpoint.WadDecimals), nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return "", domain.DataFormatf("not a decimal: %q", s)
	}
	return d.String(), nil
}

var _ domain.SourceAdapter = (*SubgraphAdapter)(nil)
