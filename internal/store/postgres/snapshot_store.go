package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/lendwatch/internal/domain"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// SnapshotStore implements domain.SnapshotStore. Rows are append-only.
type SnapshotStore struct {
	pool *pgxpool.Pool
}

// NewSnapshotStore creates a SnapshotStore backed by pool.
func NewSnapshotStore(pool *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

const snapshotSelectCols = `protocol, network, user_address, collateral, debt,
	health_factor, liquidation_threshold, current_ltv, borrowed_assets,
	source, observed_at, period_start, period_end`

// Save inserts one row per position in a single batch.
func (s *SnapshotStore) Save(ctx context.Context, positions []domain.Position) error {
	if len(positions) == 0 {
		return nil
	}

	const query = `
		INSERT INTO position_snapshots (
			protocol, network, user_address, collateral, debt,
			health_factor, liquidation_threshold, current_ltv, borrowed_assets,
			source, observed_at, period_start, period_end
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	batch := &pgx.Batch{}
	for _, p := range positions {
		borrowed := p.BorrowedAssets
		if borrowed == nil {
			borrowed = []domain.BorrowedAsset{}
		}
		assets, err := json.Marshal(borrowed)
		if err != nil {
			return fmt.Errorf("postgres: encode borrowed assets: %w", err)
		}
		var threshold, ltv *string
		if p.LiquidationRisk != nil {
			threshold = &p.LiquidationRisk.Threshold
			ltv = &p.LiquidationRisk.CurrentLTV
		}
		batch.Queue(query,
			string(p.Protocol), string(p.Network), strings.ToLower(p.UserAddress),
			p.Collateral, p.Debt,
			p.HealthFactor, threshold, ltv, assets,
			string(p.Source), time.Unix(p.Timestamp, 0).UTC(), p.PeriodStart, p.PeriodEnd,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range positions {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: save snapshot: %w", err)
		}
	}
	return nil
}

// ListHistory returns snapshots for key, newest first.
func (s *SnapshotStore) ListHistory(ctx context.Context, key domain.PositionKey, opts domain.ListOpts) ([]domain.Position, error) {
	query, args := historyQuery(key, opts)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list history: %w", err)
	}
	defer rows.Close()

	positions, err := scanSnapshotRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan history: %w", err)
	}
	return positions, nil
}

// Latest returns the most recent snapshot for key.
func (s *SnapshotStore) Latest(ctx context.Context, key domain.PositionKey) (domain.Position, error) {
	query := `SELECT ` + snapshotSelectCols + ` FROM position_snapshots
		WHERE protocol = $1 AND network = $2 AND user_address = $3
		ORDER BY observed_at DESC, id DESC LIMIT 1`

	p, err := scanSnapshot(s.pool.QueryRow(ctx, query,
		string(key.Protocol), string(key.Network), strings.ToLower(key.UserAddress)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, fmt.Errorf("postgres: latest snapshot: %w", domain.ErrNotFound)
		}
		return domain.Position{}, fmt.Errorf("postgres: latest snapshot: %w", err)
	}
	return p, nil
}

// historyQuery builds the filtered, paginated history statement.
func historyQuery(key domain.PositionKey, opts domain.ListOpts) (string, []any) {
	var b strings.Builder
	b.WriteString(`SELECT ` + snapshotSelectCols + ` FROM position_snapshots
		WHERE protocol = $1 AND network = $2 AND user_address = $3`)
	args := []any{string(key.Protocol), string(key.Network), strings.ToLower(key.UserAddress)}

	if opts.Since != nil {
		args = append(args, opts.Since.UTC())
		fmt.Fprintf(&b, " AND observed_at >= $%d", len(args))
	}
	if opts.Until != nil {
		args = append(args, opts.Until.UTC())
		fmt.Fprintf(&b, " AND observed_at <= $%d", len(args))
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}
	args = append(args, limit, offset)
	fmt.Fprintf(&b, " ORDER BY observed_at DESC, id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	return b.String(), args
}

func scanSnapshot(row pgx.Row) (domain.Position, error) {
	var (
		p                 domain.Position
		protocol, network string
		source            string
		threshold, ltv    *string
		assets            []byte
		observedAt        time.Time
	)
	if err := row.Scan(
		&protocol, &network, &p.UserAddress, &p.Collateral, &p.Debt,
		&p.HealthFactor, &threshold, &ltv, &assets,
		&source, &observedAt, &p.PeriodStart, &p.PeriodEnd,
	); err != nil {
		return domain.Position{}, err
	}

	p.Protocol = domain.Protocol(protocol)
	p.Network = domain.Network(network)
	p.Source = domain.SourceType(source)
	p.Timestamp = observedAt.Unix()
	if threshold != nil && ltv != nil {
		p.LiquidationRisk = &domain.LiquidationRisk{Threshold: *threshold, CurrentLTV: *ltv}
	}
	p.BorrowedAssets = []domain.BorrowedAsset{}
	if len(assets) > 0 {
		if err := json.Unmarshal(assets, &p.BorrowedAssets); err != nil {
			return domain.Position{}, fmt.Errorf("decode borrowed assets: %w", err)
		}
	}
	return p, nil
}

func scanSnapshotRows(rows pgx.Rows) ([]domain.Position, error) {
	positions := []domain.Position{}
	for rows.Next() {
		p, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

var _ domain.SnapshotStore = (*SnapshotStore)(nil)
