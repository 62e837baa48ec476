package exchange

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"grid-trade-engine-go/internal/models"
)

// Adapter is the boundary between the trading engine and an exchange. All
// implementations must classify failures so callers can distinguish retryable
// transport problems from hard rejections (see IsRejection / IsAuth).
type Adapter interface {
	GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	GetTradingRules(ctx context.Context, symbol string) (models.TradingRules, error)
	PlaceLimitOrder(ctx context.Context, symbol string, side models.Side, quantity, price decimal.Decimal) (*models.Order, error)
	CancelOrder(ctx context.Context, symbol string, orderID int64) error
	GetOrderStatus(ctx context.Context, symbol string, orderID int64) (models.OrderStatus, error)
	Close() error
}

// ErrAuth marks authentication/permission failures. These are never retried
// and drive the affected grid to STOPPED.
var ErrAuth = errors.New("exchange: authentication failed")

// ErrRejected marks hard order rejections: precision or filter violations,
// insufficient balance, minimum notional. The level that caused one is marked
// FAILED and excluded until the next reset cycle.
var ErrRejected = errors.New("exchange: order rejected")

// RejectionError wraps an exchange rejection with the computed order values
// so the failure can be logged with full context.
type RejectionError struct {
	Reason string
}

func (e *RejectionError) Error() string { return "exchange: order rejected: " + e.Reason }

func (e *RejectionError) Unwrap() error { return ErrRejected }

// IsRejection reports whether err is a non-retryable order rejection.
func IsRejection(err error) bool { return errors.Is(err, ErrRejected) }

// IsAuth reports whether err is an authentication failure.
func IsAuth(err error) bool { return errors.Is(err, ErrAuth) }

// IsTransient reports whether err should be retried with backoff. Anything
// that is not a classified rejection or auth failure is treated as transient:
// timeouts, rate limits, connectivity.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return !IsRejection(err) && !IsAuth(err)
}
