// Package ledger stores the append-only trade history and the FIFO cost-basis
// lots per (client, symbol). It abstracts the storage engine from the profit
// engine; the badger implementation is the production one, the in-memory
// implementation backs tests.
package ledger

import (
	"context"
	"time"

	"grid-trade-engine-go/internal/models"
)

// Ledger is the persistence surface the profit engine builds on. Trades are
// immutable once appended; lots are mutated as disposals consume them.
type Ledger interface {
	// AppendTrade stores an immutable trade record and returns its id.
	AppendTrade(ctx context.Context, trade models.TradeRecord) (string, error)

	// QueryTrades returns trades for a client in execution order. An empty
	// symbol matches all symbols; a zero since matches all history.
	QueryTrades(ctx context.Context, clientID int64, symbol string, since time.Time) ([]models.TradeRecord, error)

	// AppendLot stores a new cost-basis lot and returns its id. Ids order
	// lots by acquisition, oldest first.
	AppendLot(ctx context.Context, lot models.CostBasisLot) (string, error)

	// Lots returns all remaining lots for (client, symbol), oldest first.
	Lots(ctx context.Context, clientID int64, symbol string) ([]models.CostBasisLot, error)

	// UpdateLot rewrites a lot after partial consumption.
	UpdateLot(ctx context.Context, lot models.CostBasisLot) error

	// DeleteLot removes an exhausted lot.
	DeleteLot(ctx context.Context, clientID int64, symbol, lotID string) error

	Close() error
}
