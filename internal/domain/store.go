package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PositionKey identifies the owner of a position history.
type PositionKey struct {
	Protocol    Protocol
	Network     Network
	UserAddress string
}

// Key returns the history key of the position.
func (p Position) Key() PositionKey {
	return PositionKey{Protocol: p.Protocol, Network: p.Network, UserAddress: p.UserAddress}
}

// SnapshotStore persists position snapshots for historical queries.
type SnapshotStore interface {
	Save(ctx context.Context, positions []Position) error
	ListHistory(ctx context.Context, key PositionKey, opts ListOpts) ([]Position, error)
	Latest(ctx context.Context, key PositionKey) (Position, error)
}
