package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"grid-trade-engine-go/internal/models"
)

// memoryLedger is a mutex-guarded in-memory Ledger for tests.
type memoryLedger struct {
	mu     sync.Mutex
	trades []models.TradeRecord
	lots   map[string][]models.CostBasisLot // keyed client/symbol
	nextID uint64
}

// NewMemoryLedger returns an empty in-memory ledger.
func NewMemoryLedger() Ledger {
	return &memoryLedger{lots: make(map[string][]models.CostBasisLot)}
}

func pairKey(clientID int64, symbol string) string {
	return fmt.Sprintf("%d/%s", clientID, symbol)
}

func (l *memoryLedger) AppendTrade(ctx context.Context, trade models.TradeRecord) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if trade.ID == "" {
		trade.ID = uuid.NewString()
	}
	l.trades = append(l.trades, trade)
	return trade.ID, nil
}

func (l *memoryLedger) QueryTrades(ctx context.Context, clientID int64, symbol string, since time.Time) ([]models.TradeRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.TradeRecord
	for _, t := range l.trades {
		if t.ClientID != clientID {
			continue
		}
		if symbol != "" && t.Symbol != symbol {
			continue
		}
		if !since.IsZero() && t.ExecutedAt.Before(since) {
			continue
		}
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ExecutedAt.Before(out[j].ExecutedAt)
	})
	return out, nil
}

func (l *memoryLedger) AppendLot(ctx context.Context, lot models.CostBasisLot) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	lot.ID = fmt.Sprintf("%011d", l.nextID)
	key := pairKey(lot.ClientID, lot.Symbol)
	l.lots[key] = append(l.lots[key], lot)
	return lot.ID, nil
}

func (l *memoryLedger) Lots(ctx context.Context, clientID int64, symbol string) ([]models.CostBasisLot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	src := l.lots[pairKey(clientID, symbol)]
	out := make([]models.CostBasisLot, len(src))
	copy(out, src)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].AcquiredAt.Equal(out[j].AcquiredAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].AcquiredAt.Before(out[j].AcquiredAt)
	})
	return out, nil
}

func (l *memoryLedger) UpdateLot(ctx context.Context, lot models.CostBasisLot) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := pairKey(lot.ClientID, lot.Symbol)
	for i := range l.lots[key] {
		if l.lots[key][i].ID == lot.ID {
			l.lots[key][i] = lot
			return nil
		}
	}
	return fmt.Errorf("lot %s not found", lot.ID)
}

func (l *memoryLedger) DeleteLot(ctx context.Context, clientID int64, symbol, lotID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := pairKey(clientID, symbol)
	for i := range l.lots[key] {
		if l.lots[key][i].ID == lotID {
			l.lots[key] = append(l.lots[key][:i], l.lots[key][i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("lot %s not found", lotID)
}

func (l *memoryLedger) Close() error { return nil }
