package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"grid-trade-engine-go/internal/models"
)

const (
	liveWSBaseURL    = "wss://stream.binance.com:9443"
	testnetWSBaseURL = "wss://testnet.binance.vision"

	// A streamed price older than this falls back to a REST lookup.
	streamedPriceMaxAge = 10 * time.Second
)

type streamedPrice struct {
	price decimal.Decimal
	at    time.Time
}

// LiveExchange implements Adapter against Binance spot. Transient failures
// are retried with the configured policy inside each method; rejections and
// auth failures are classified and returned to the caller untouched.
type LiveExchange struct {
	client    *binance.Client
	wsBaseURL string
	retry     RetryPolicy
	logger    *zap.SugaredLogger

	mu         sync.RWMutex
	lastPrices map[string]streamedPrice
	rules      map[string]models.TradingRules

	cancelStreams context.CancelFunc
	streamCtx     context.Context
	streamWG      sync.WaitGroup
}

// NewLiveExchange builds a Binance-backed adapter.
func NewLiveExchange(apiKey, secretKey string, testnet bool, retry RetryPolicy, logger *zap.SugaredLogger) *LiveExchange {
	binance.UseTestnet = testnet
	wsBase := liveWSBaseURL
	if testnet {
		wsBase = testnetWSBaseURL
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	return &LiveExchange{
		client:        binance.NewClient(apiKey, secretKey),
		wsBaseURL:     wsBase,
		retry:         retry,
		logger:        logger,
		lastPrices:    make(map[string]streamedPrice),
		rules:         make(map[string]models.TradingRules),
		streamCtx:     streamCtx,
		cancelStreams: cancel,
	}
}

// classify maps Binance API errors onto the adapter error taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	apiErr, ok := err.(*common.APIError)
	if !ok {
		return err // network-level problem, treated as transient
	}
	switch apiErr.Code {
	case -1002, -1022, -2014, -2015:
		return fmt.Errorf("%w: %s", ErrAuth, apiErr.Message)
	case -1013, -1111, -1121, -2010:
		return &RejectionError{Reason: fmt.Sprintf("code=%d %s", apiErr.Code, apiErr.Message)}
	}
	return err
}

// GetPrice returns the most recent streamed price for the symbol when fresh,
// otherwise it asks the REST API.
func (e *LiveExchange) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	e.mu.RLock()
	sp, ok := e.lastPrices[symbol]
	e.mu.RUnlock()
	if ok && time.Since(sp.at) < streamedPriceMaxAge {
		return sp.price, nil
	}

	var price decimal.Decimal
	err := e.retry.Do(ctx, "GetPrice "+symbol, func() error {
		prices, err := e.client.NewListPricesService().Symbol(symbol).Do(ctx)
		if err != nil {
			return classify(err)
		}
		if len(prices) == 0 {
			return fmt.Errorf("no price returned for %s", symbol)
		}
		p, err := decimal.NewFromString(prices[0].Price)
		if err != nil {
			return fmt.Errorf("unparseable price %q for %s: %w", prices[0].Price, symbol, err)
		}
		price = p
		return nil
	})
	return price, err
}

// GetTradingRules fetches and caches the symbol's precision and filter
// constraints. Rules change rarely; the cache lives for the process lifetime.
func (e *LiveExchange) GetTradingRules(ctx context.Context, symbol string) (models.TradingRules, error) {
	e.mu.RLock()
	if r, ok := e.rules[symbol]; ok {
		e.mu.RUnlock()
		return r, nil
	}
	e.mu.RUnlock()

	var rules models.TradingRules
	err := e.retry.Do(ctx, "GetTradingRules "+symbol, func() error {
		info, err := e.client.NewExchangeInfoService().Symbol(symbol).Do(ctx)
		if err != nil {
			return classify(err)
		}
		for _, s := range info.Symbols {
			if s.Symbol != symbol {
				continue
			}
			rules = rulesFromSymbol(s)
			return nil
		}
		return fmt.Errorf("symbol %s not present in exchange info", symbol)
	})
	if err != nil {
		return models.TradingRules{}, err
	}

	e.mu.Lock()
	e.rules[symbol] = rules
	e.mu.Unlock()
	return rules, nil
}

// rulesFromSymbol extracts the grid-relevant constraints from a symbol's
// exchange filters.
func rulesFromSymbol(s binance.Symbol) models.TradingRules {
	rules := models.TradingRules{Symbol: s.Symbol}
	if pf := s.PriceFilter(); pf != nil {
		rules.TickSize, _ = decimal.NewFromString(pf.TickSize)
		rules.PricePrecision = precisionFromStep(pf.TickSize)
	}
	if lf := s.LotSizeFilter(); lf != nil {
		rules.StepSize, _ = decimal.NewFromString(lf.StepSize)
		rules.QuantityPrecision = precisionFromStep(lf.StepSize)
	}
	if nf := s.NotionalFilter(); nf != nil {
		rules.MinNotional, _ = decimal.NewFromString(nf.MinNotional)
	}
	return rules
}

// PlaceLimitOrder submits a GTC limit order. Quantity and price must already
// be quantized by the caller; the exchange rejects anything off-grid.
func (e *LiveExchange) PlaceLimitOrder(ctx context.Context, symbol string, side models.Side, quantity, price decimal.Decimal) (*models.Order, error) {
	var order *models.Order
	err := e.retry.Do(ctx, fmt.Sprintf("PlaceLimitOrder %s %s", symbol, side), func() error {
		resp, err := e.client.NewCreateOrderService().
			Symbol(symbol).
			Side(binance.SideType(side)).
			Type(binance.OrderTypeLimit).
			TimeInForce(binance.TimeInForceTypeGTC).
			Quantity(quantity.String()).
			Price(price.String()).
			Do(ctx)
		if err != nil {
			return classify(err)
		}
		order = &models.Order{
			OrderID:  resp.OrderID,
			Symbol:   symbol,
			Side:     side,
			Price:    price,
			Quantity: quantity,
			Status:   models.OrderOpen,
		}
		return nil
	})
	return order, err
}

// CancelOrder cancels a resting order. An "unknown order" rejection is
// treated as success: the order is already terminal.
func (e *LiveExchange) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	err := e.retry.Do(ctx, fmt.Sprintf("CancelOrder %s %d", symbol, orderID), func() error {
		_, err := e.client.NewCancelOrderService().Symbol(symbol).OrderID(orderID).Do(ctx)
		if err != nil {
			if apiErr, ok := err.(*common.APIError); ok && apiErr.Code == -2011 {
				return nil
			}
			return classify(err)
		}
		return nil
	})
	return err
}

// GetOrderStatus maps the exchange's order states onto the adapter's
// three-state view.
func (e *LiveExchange) GetOrderStatus(ctx context.Context, symbol string, orderID int64) (models.OrderStatus, error) {
	var status models.OrderStatus
	err := e.retry.Do(ctx, fmt.Sprintf("GetOrderStatus %s %d", symbol, orderID), func() error {
		o, err := e.client.NewGetOrderService().Symbol(symbol).OrderID(orderID).Do(ctx)
		if err != nil {
			return classify(err)
		}
		switch o.Status {
		case binance.OrderStatusTypeFilled:
			status = models.OrderFilled
		case binance.OrderStatusTypeNew, binance.OrderStatusTypePartiallyFilled:
			status = models.OrderOpen
		default: // CANCELED, REJECTED, EXPIRED
			status = models.OrderCancelled
		}
		return nil
	})
	return status, err
}

// StartPriceStream launches a background aggTrade stream for the symbol and
// keeps lastPrices warm. The stream reconnects until Close is called.
func (e *LiveExchange) StartPriceStream(symbol string) {
	e.streamWG.Add(1)
	go func() {
		defer e.streamWG.Done()
		e.streamLoop(symbol)
	}()
}

func (e *LiveExchange) streamLoop(symbol string) {
	wsURL := fmt.Sprintf("%s/ws/%s@aggTrade", e.wsBaseURL, strings.ToLower(symbol))
	for {
		select {
		case <-e.streamCtx.Done():
			return
		default:
		}

		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		if err != nil {
			e.logger.Warnf("price stream dial failed for %s: %v, retrying in 5s", symbol, err)
			select {
			case <-e.streamCtx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}

		if err := e.readStream(conn, symbol); err != nil {
			e.logger.Warnf("price stream for %s dropped: %v, reconnecting", symbol, err)
		}
		conn.Close()
	}
}

// readStream consumes one established connection with a ping/pong keepalive
// and blocks until the connection breaks or the exchange is closed.
func (e *LiveExchange) readStream(conn *websocket.Conn, symbol string) error {
	const (
		pongWait   = 60 * time.Second
		pingPeriod = (pongWait * 9) / 10
	)

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	pingTicker := time.NewTicker(pingPeriod)
	defer pingTicker.Stop()

	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-pingTicker.C:
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-done:
				return
			case <-e.streamCtx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-e.streamCtx.Done():
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return nil
		default:
			_, message, err := conn.ReadMessage()
			if err != nil {
				return err
			}

			var tick struct {
				Price string `json:"p"`
			}
			if err := json.Unmarshal(message, &tick); err != nil {
				continue
			}
			price, err := decimal.NewFromString(tick.Price)
			if err != nil {
				continue
			}

			e.mu.Lock()
			e.lastPrices[symbol] = streamedPrice{price: price, at: time.Now()}
			e.mu.Unlock()
		}
	}
}

// Close stops all price streams.
func (e *LiveExchange) Close() error {
	e.cancelStreams()
	e.streamWG.Wait()
	return nil
}

// precisionFromStep derives the number of meaningful decimals from a step
// string like "0.00100000".
func precisionFromStep(step string) int32 {
	dot := strings.Index(step, ".")
	if dot < 0 {
		return 0
	}
	frac := strings.TrimRight(step[dot+1:], "0")
	return int32(len(frac))
}
