package aave

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/lendwatch/internal/domain"
	"github.com/alanyoungcy/lendwatch/internal/fixedpoint"
)

// ContractCaller performs read-only contract calls. *evm.Client satisfies it.
type ContractCaller interface {
	CallReadOnly(ctx context.Context, contract common.Address, contractABI *abi.ABI, method string, args ...any) ([]any, error)
}

// OnChainAdapter reads positions straight from the pool contracts.
type OnChainAdapter struct {
	caller     ContractCaller
	deployment Deployment
	logger     *slog.Logger
	now        func() time.Time

	// ERC-20 metadata never changes, so it is fetched once per asset.
	tokens sync.Map // common.Address -> tokenMeta
}

type tokenMeta struct {
	symbol   string
	decimals int32
}

type accountData struct {
	collateral           *big.Int
	debt                 *big.Int
	liquidationThreshold *big.Int
	healthFactor         *big.Int
}

type debtLine struct {
	asset  common.Address
	meta   tokenMeta
	amount *big.Int
}

// NewOnChainAdapter creates an adapter for one deployment.
func NewOnChainAdapter(caller ContractCaller, d Deployment, logger *slog.Logger) *OnChainAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &OnChainAdapter{
		caller:     caller,
		deployment: d,
		logger:     logger.With(slog.String("component", "aave_onchain"), slog.String("network", string(d.Network))),
		now:        time.Now,
	}
}

// Fetch returns at most one position. Accounts with neither collateral nor
// debt yield an empty slice.
func (a *OnChainAdapter) Fetch(ctx context.Context, q domain.Query) ([]domain.Position, error) {
	if !common.IsHexAddress(q.UserAddress) {
		return nil, fmt.Errorf("%w: %q is not an EVM address", domain.ErrValidation, q.UserAddress)
	}
	user := common.HexToAddress(q.UserAddress)

	acct, err := a.accountData(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("aave onchain: account data: %w", err)
	}
	if fixedpoint.IsZero(acct.collateral) && fixedpoint.IsZero(acct.debt) {
		return []domain.Position{}, nil
	}

	borrowed, err := a.borrowedAssets(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("aave onchain: borrowed assets: %w", err)
	}

	base := a.deployment.BaseCurrencyDecimals
	pos := domain.Position{
		Protocol:       domain.ProtocolAave,
		Network:        a.deployment.Network,
		UserAddress:    q.UserAddress,
		Collateral:     domain.StringPtr(fixedpoint.Format(acct.collateral, base)),
		Debt:           domain.StringPtr(fixedpoint.Format(acct.debt, base)),
		HealthFactor:   domain.HealthFactorUnavailable,
		BorrowedAssets: borrowed,
		Timestamp:      a.now().Unix(),
		PeriodStart:    q.From,
		PeriodEnd:      q.To,
		Source:         domain.SourceOnChain,
	}
	if !fixedpoint.IsZero(acct.debt) {
		pos.HealthFactor = fixedpoint.Format(acct.healthFactor, fixedpoint.WadDecimals)
	}
	if !fixedpoint.IsZero(acct.collateral) {
		pos.LiquidationRisk = &domain.LiquidationRisk{
			Threshold:  fixedpoint.Format(acct.liquidationThreshold, fixedpoint.BpsDecimals),
			CurrentLTV: fixedpoint.Ratio(acct.debt, acct.collateral, 4),
		}
	}
	return []domain.Position{pos}, nil
}

func (a *OnChainAdapter) accountData(ctx context.Context, user common.Address) (accountData, error) {
	out, err := a.caller.CallReadOnly(ctx, a.deployment.Pool, poolABI, "getUserAccountData", user)
	if err != nil {
		return accountData{}, err
	}
	if len(out) != 6 {
		return accountData{}, domain.DataFormatf("getUserAccountData returned %d values", len(out))
	}
	vals := make([]*big.Int, len(out))
	for i := range out {
		v, err := bigAt(out, i)
		if err != nil {
			return accountData{}, err
		}
		vals[i] = v
	}
	return accountData{
		collateral:           vals[0],
		debt:                 vals[1],
		liquidationThreshold: vals[3],
		healthFactor:         vals[5],
	}, nil
}

// borrowedAssets walks every reserve and keeps those with outstanding debt.
// Failures on a single reserve drop that reserve only; cancellation aborts.
func (a *OnChainAdapter) borrowedAssets(ctx context.Context, user common.Address) ([]domain.BorrowedAsset, error) {
	assets := []domain.BorrowedAsset{}

	reserves, err := a.reservesList(ctx)
	if err != nil {
		if isCancel(err) {
			return nil, err
		}
		a.logger.WarnContext(ctx, "reserves list unavailable", slog.String("error", err.Error()))
		return assets, nil
	}

	var lines []debtLine
	for _, asset := range reserves {
		amount, err := a.reserveDebt(ctx, asset, user)
		if err == nil && amount.Sign() == 0 {
			continue
		}
		var meta tokenMeta
		if err == nil {
			meta, err = a.tokenMeta(ctx, asset)
		}
		if err != nil {
			if isCancel(err) {
				return nil, err
			}
			a.logger.WarnContext(ctx, "skipping reserve",
				slog.String("asset", asset.Hex()),
				slog.String("error", err.Error()),
			)
			continue
		}
		lines = append(lines, debtLine{asset: asset, meta: meta, amount: amount})
	}
	if len(lines) == 0 {
		return assets, nil
	}

	prices, err := a.prices(ctx, lines)
	if err != nil {
		return nil, err
	}
	for _, l := range lines {
		price, ok := prices[l.asset]
		if !ok {
			continue
		}
		assets = append(assets, domain.BorrowedAsset{
			Symbol:              l.meta.symbol,
			Amount:              fixedpoint.Format(l.amount, l.meta.decimals),
			ValueInBaseCurrency: fixedpoint.Value(l.amount, l.meta.decimals, price, a.deployment.BaseCurrencyDecimals),
		})
	}
	return assets, nil
}

func (a *OnChainAdapter) reservesList(ctx context.Context) ([]common.Address, error) {
	out, err := a.caller.CallReadOnly(ctx, a.deployment.Pool, poolABI, "getReservesList")
	if err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, domain.DataFormatf("getReservesList returned %d values", len(out))
	}
	list, ok := out[0].([]common.Address)
	if !ok {
		return nil, domain.DataFormatf("getReservesList returned %T", out[0])
	}
	return list, nil
}

// reserveDebt returns stable plus variable debt for one reserve.
func (a *OnChainAdapter) reserveDebt(ctx context.Context, asset, user common.Address) (*big.Int, error) {
	out, err := a.caller.CallReadOnly(ctx, a.deployment.DataProvider, dataProviderABI, "getUserReserveData", asset, user)
	if err != nil {
		return nil, err
	}
	if len(out) < 3 {
		return nil, domain.DataFormatf("getUserReserveData returned %d values", len(out))
	}
	stable, err := bigAt(out, 1)
	if err != nil {
		return nil, err
	}
	variable, err := bigAt(out, 2)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Add(stable, variable), nil
}

func (a *OnChainAdapter) tokenMeta(ctx context.Context, asset common.Address) (tokenMeta, error) {
	if v, ok := a.tokens.Load(asset); ok {
		return v.(tokenMeta), nil
	}

	out, err := a.caller.CallReadOnly(ctx, asset, erc20ABI, "symbol")
	if err != nil {
		return tokenMeta{}, err
	}
	symbol, ok := firstAs[string](out)
	if !ok {
		return tokenMeta{}, domain.DataFormatf("symbol() of %s is not a string", asset.Hex())
	}

	out, err = a.caller.CallReadOnly(ctx, asset, erc20ABI, "decimals")
	if err != nil {
		return tokenMeta{}, err
	}
	decimals, ok := firstAs[uint8](out)
	if !ok {
		return tokenMeta{}, domain.DataFormatf("decimals() of %s is not a uint8", asset.Hex())
	}

	meta := tokenMeta{symbol: symbol, decimals: int32(decimals)}
	a.tokens.Store(asset, meta)
	return meta, nil
}

// prices asks the oracle for every borrowed asset in one call and falls back
// to per-asset reads when the batch fails. Assets without a price are left
// out of the returned map.
func (a *OnChainAdapter) prices(ctx context.Context, lines []debtLine) (map[common.Address]*big.Int, error) {
	addrs := make([]common.Address, len(lines))
	for i, l := range lines {
		addrs[i] = l.asset
	}

	res := make(map[common.Address]*big.Int, len(addrs))
	out, err := a.caller.CallReadOnly(ctx, a.deployment.Oracle, oracleABI, "getAssetsPrices", addrs)
	if err == nil {
		batch, ok := firstAs[[]*big.Int](out)
		if ok && len(batch) == len(addrs) {
			for i, p := range batch {
				res[addrs[i]] = p
			}
			return res, nil
		}
		err = domain.DataFormatf("getAssetsPrices returned %d prices for %d assets", len(batch), len(addrs))
	}
	if isCancel(err) {
		return nil, err
	}
	a.logger.WarnContext(ctx, "batch price read failed, reading per asset", slog.String("error", err.Error()))

	for _, addr := range addrs {
		out, err := a.caller.CallReadOnly(ctx, a.deployment.Oracle, oracleABI, "getAssetPrice", addr)
		if err != nil {
			if isCancel(err) {
				return nil, err
			}
			a.logger.WarnContext(ctx, "price unavailable",
				slog.String("asset", addr.Hex()),
				slog.String("error", err.Error()),
			)
			continue
		}
		if p, ok := firstAs[*big.Int](out); ok {
			res[addr] = p
		}
	}
	return res, nil
}

func bigAt(out []any, i int) (*big.Int, error) {
	v, ok := out[i].(*big.Int)
	if !ok || v == nil {
		return nil, domain.DataFormatf("value %d is %T, want uint256", i, out[i])
	}
	return v, nil
}

func firstAs[T any](out []any) (T, bool) {
	var zero T
	if len(out) == 0 {
		return zero, false
	}
	v, ok := out[0].(T)
	return v, ok
}

func isCancel(err error) bool {
	return errors.Is(err, domain.ErrCancelled) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

var _ domain.SourceAdapter = (*OnChainAdapter)(nil)
