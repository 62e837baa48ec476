package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/google/uuid"
	"github.com/jxskiss/base62"

	"grid-trade-engine-go/internal/models"
)

// seqWidth is the left-padded width of base62 sequence suffixes. 11 base62
// digits cover the full uint64 range, so keys stay lexicographically ordered
// by append order.
const seqWidth = 11

// badgerLedger is the BadgerDB implementation of Ledger.
type badgerLedger struct {
	db       *badger.DB
	tradeSeq *badger.Sequence
	lotSeq   *badger.Sequence
}

// NewBadgerLedger opens (or creates) a badger database at dir.
func NewBadgerLedger(dir string) (Ledger, error) {
	opts := badger.DefaultOptions(dir)
	// Badger's own logging is noisy; errors still surface from operations.
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	tradeSeq, err := db.GetSequence([]byte("seq/trade"), 128)
	if err != nil {
		db.Close()
		return nil, err
	}
	lotSeq, err := db.GetSequence([]byte("seq/lot"), 128)
	if err != nil {
		tradeSeq.Release()
		db.Close()
		return nil, err
	}

	return &badgerLedger{db: db, tradeSeq: tradeSeq, lotSeq: lotSeq}, nil
}

// NewInMemoryBadgerLedger opens a badger ledger without disk backing. Used in
// tests and dry runs.
func NewInMemoryBadgerLedger() (Ledger, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	tradeSeq, err := db.GetSequence([]byte("seq/trade"), 128)
	if err != nil {
		db.Close()
		return nil, err
	}
	lotSeq, err := db.GetSequence([]byte("seq/lot"), 128)
	if err != nil {
		tradeSeq.Release()
		db.Close()
		return nil, err
	}
	return &badgerLedger{db: db, tradeSeq: tradeSeq, lotSeq: lotSeq}, nil
}

func encodeSeq(n uint64) string {
	s := string(base62.FormatUint(n))
	for len(s) < seqWidth {
		s = "0" + s
	}
	return s
}

func tradeKey(clientID int64, symbol, seq string) []byte {
	return []byte(fmt.Sprintf("trade/%d/%s/%s", clientID, symbol, seq))
}

func tradePrefix(clientID int64, symbol string) []byte {
	if symbol == "" {
		return []byte(fmt.Sprintf("trade/%d/", clientID))
	}
	return []byte(fmt.Sprintf("trade/%d/%s/", clientID, symbol))
}

func lotKey(clientID int64, symbol, id string) []byte {
	return []byte(fmt.Sprintf("lot/%d/%s/%s", clientID, symbol, id))
}

func lotPrefix(clientID int64, symbol string) []byte {
	return []byte(fmt.Sprintf("lot/%d/%s/", clientID, symbol))
}

func (l *badgerLedger) AppendTrade(ctx context.Context, trade models.TradeRecord) (string, error) {
	if trade.ID == "" {
		trade.ID = uuid.NewString()
	}
	seq, err := l.tradeSeq.Next()
	if err != nil {
		return "", err
	}

	data, err := json.Marshal(trade)
	if err != nil {
		return "", err
	}

	key := tradeKey(trade.ClientID, trade.Symbol, encodeSeq(seq))
	err = l.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
	if err != nil {
		return "", err
	}
	return trade.ID, nil
}

func (l *badgerLedger) QueryTrades(ctx context.Context, clientID int64, symbol string, since time.Time) ([]models.TradeRecord, error) {
	var trades []models.TradeRecord
	prefix := tradePrefix(clientID, symbol)

	err := l.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var t models.TradeRecord
				if err := json.Unmarshal(val, &t); err != nil {
					return err
				}
				if since.IsZero() || !t.ExecutedAt.Before(since) {
					trades = append(trades, t)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	// Key order is approximate across base62 digit classes; execution time is
	// the authoritative order.
	sort.SliceStable(trades, func(i, j int) bool {
		return trades[i].ExecutedAt.Before(trades[j].ExecutedAt)
	})
	return trades, nil
}

func (l *badgerLedger) AppendLot(ctx context.Context, lot models.CostBasisLot) (string, error) {
	seq, err := l.lotSeq.Next()
	if err != nil {
		return "", err
	}
	lot.ID = encodeSeq(seq)

	data, err := json.Marshal(lot)
	if err != nil {
		return "", err
	}

	err = l.db.Update(func(txn *badger.Txn) error {
		return txn.Set(lotKey(lot.ClientID, lot.Symbol, lot.ID), data)
	})
	if err != nil {
		return "", err
	}
	return lot.ID, nil
}

func (l *badgerLedger) Lots(ctx context.Context, clientID int64, symbol string) ([]models.CostBasisLot, error) {
	var lots []models.CostBasisLot
	prefix := lotPrefix(clientID, symbol)

	err := l.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var lot models.CostBasisLot
				if err := json.Unmarshal(val, &lot); err != nil {
					return err
				}
				lots = append(lots, lot)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(lots, func(i, j int) bool {
		return lots[i].AcquiredAt.Before(lots[j].AcquiredAt)
	})
	return lots, nil
}

func (l *badgerLedger) UpdateLot(ctx context.Context, lot models.CostBasisLot) error {
	data, err := json.Marshal(lot)
	if err != nil {
		return err
	}
	return l.db.Update(func(txn *badger.Txn) error {
		return txn.Set(lotKey(lot.ClientID, lot.Symbol, lot.ID), data)
	})
}

func (l *badgerLedger) DeleteLot(ctx context.Context, clientID int64, symbol, lotID string) error {
	return l.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(lotKey(clientID, symbol, lotID))
	})
}

func (l *badgerLedger) Close() error {
	l.tradeSeq.Release()
	l.lotSeq.Release()
	return l.db.Close()
}
