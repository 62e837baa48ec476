package exchange

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"grid-trade-engine-go/internal/models"
)

// SimExchange is an in-memory Adapter for tests and dry runs. Orders rest
// until the test fills or cancels them; PlaceHook lets a test inject
// rejections or transport failures for specific submissions.
type SimExchange struct {
	mu      sync.Mutex
	price   decimal.Decimal
	rules   models.TradingRules
	orders  map[int64]*models.Order
	nextID  int64
	cancels []int64

	// PlaceHook, when set, runs before an order is accepted; a non-nil
	// return is surfaced to the caller and the order is not created.
	PlaceHook func(symbol string, side models.Side, quantity, price decimal.Decimal) error
	// CancelErr, when set, is returned by every CancelOrder call.
	CancelErr error
}

// NewSimExchange creates a simulated exchange at the given price.
func NewSimExchange(rules models.TradingRules, price decimal.Decimal) *SimExchange {
	return &SimExchange{
		price:  price,
		rules:  rules,
		orders: make(map[int64]*models.Order),
		nextID: 1,
	}
}

func (e *SimExchange) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.price, nil
}

func (e *SimExchange) GetTradingRules(ctx context.Context, symbol string) (models.TradingRules, error) {
	return e.rules, nil
}

func (e *SimExchange) PlaceLimitOrder(ctx context.Context, symbol string, side models.Side, quantity, price decimal.Decimal) (*models.Order, error) {
	e.mu.Lock()
	hook := e.PlaceHook
	e.mu.Unlock()
	if hook != nil {
		if err := hook(symbol, side, quantity, price); err != nil {
			return nil, err
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.rules.MeetsMinNotional(price, quantity) {
		return nil, &RejectionError{Reason: fmt.Sprintf("notional %s below minimum %s", price.Mul(quantity), e.rules.MinNotional)}
	}

	order := &models.Order{
		OrderID:  e.nextID,
		Symbol:   symbol,
		Side:     side,
		Price:    price,
		Quantity: quantity,
		Status:   models.OrderOpen,
	}
	e.orders[order.OrderID] = order
	e.nextID++
	return order, nil
}

func (e *SimExchange) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	if e.CancelErr != nil {
		return e.CancelErr
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if o, ok := e.orders[orderID]; ok && o.Status == models.OrderOpen {
		o.Status = models.OrderCancelled
		e.cancels = append(e.cancels, orderID)
	}
	return nil
}

func (e *SimExchange) GetOrderStatus(ctx context.Context, symbol string, orderID int64) (models.OrderStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[orderID]
	if !ok {
		return "", fmt.Errorf("order %d not found", orderID)
	}
	return o.Status, nil
}

func (e *SimExchange) Close() error { return nil }

// SetPrice moves the simulated market price.
func (e *SimExchange) SetPrice(price decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.price = price
}

// MarkFilled flips a resting order to FILLED, simulating an execution.
func (e *SimExchange) MarkFilled(orderID int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if o, ok := e.orders[orderID]; ok {
		o.Status = models.OrderFilled
	}
}

// Order returns a copy of the order with the given id.
func (e *SimExchange) Order(orderID int64) (models.Order, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[orderID]
	if !ok {
		return models.Order{}, false
	}
	return *o, true
}

// OpenOrders returns all currently resting orders.
func (e *SimExchange) OpenOrders() []models.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []models.Order
	for _, o := range e.orders {
		if o.Status == models.OrderOpen {
			out = append(out, *o)
		}
	}
	return out
}

// CancelledOrders returns the ids of orders cancelled so far.
func (e *SimExchange) CancelledOrders() []int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]int64, len(e.cancels))
	copy(out, e.cancels)
	return out
}
