package exchange

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"bitget-trader/internal/config"
)

// Client 封装 Bitget 的 ccxt 客户端，负责限流与错误归一化。
// 所有写操作不做自动重试，超时一律按网络故障上抛。
type Client struct {
	cfg      config.ExchangeConfig
	logger   *zap.Logger
	exchange *ccxt.Bitget
	limiter  *rate.Limiter

	marketsMu sync.Mutex
	markets   map[string]Market
}

// NewClient 构造 Bitget 客户端。sandbox 为真时切换到模拟盘。
func NewClient(cfg config.ExchangeConfig, sandbox bool, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	userConfig := map[string]interface{}{
		"enableRateLimit": true,
		"timeout":         cfg.RequestTimeout.Milliseconds(),
		"options": map[string]interface{}{
			"defaultType": "swap",
		},
	}

	if cfg.APIKey != "" {
		userConfig["apiKey"] = cfg.APIKey
	}
	if cfg.APISecret != "" {
		userConfig["secret"] = cfg.APISecret
	}
	if cfg.APIPass != "" {
		userConfig["password"] = cfg.APIPass
	}

	ex := ccxt.NewBitget(userConfig)
	if sandbox {
		ex.SetSandboxMode(true)
	}

	budget := cfg.RequestBudget
	if budget <= 0 {
		budget = 10
	}

	return &Client{
		cfg:      cfg,
		logger:   logger,
		exchange: ex,
		limiter:  rate.NewLimiter(rate.Limit(budget), budget),
	}, nil
}

// Raw 返回底层 ccxt 客户端。
func (c *Client) Raw() *ccxt.Bitget {
	return c.exchange
}

// call 统一处理限流、取消与错误归一化。
func (c *Client) call(ctx context.Context, op string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return Classify(op, err)
	}
	if !c.limiter.Allow() {
		return fmt.Errorf("%s: %w", op, ErrRateLimit)
	}

	start := time.Now()
	err := fn()
	if err != nil {
		normalized := Classify(op, err)
		c.logger.Warn("交易所调用失败",
			zap.String("operation", op),
			zap.Duration("latency", time.Since(start)),
			zap.Error(normalized),
		)
		return normalized
	}
	return nil
}

// Markets 拉取并缓存市场目录。目录只在进程内加载一次，
// 属于静态元数据，不涉及仓位状态。
func (c *Client) Markets(ctx context.Context) (map[string]Market, error) {
	c.marketsMu.Lock()
	defer c.marketsMu.Unlock()

	if c.markets != nil {
		return c.markets, nil
	}

	var raw map[string]ccxt.MarketInterface
	attempts := c.cfg.Retry.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	delay := c.cfg.Retry.MinDelay

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = c.call(ctx, "load_markets", func() error {
			result, loadErr := c.exchange.LoadMarkets()
			if loadErr != nil {
				return loadErr
			}
			raw = result
			return nil
		})
		if err == nil {
			break
		}
		if !IsRetryable(err) || attempt == attempts {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, Classify("load_markets", ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
		if c.cfg.Retry.MaxDelay > 0 && delay > c.cfg.Retry.MaxDelay {
			delay = c.cfg.Retry.MaxDelay
		}
	}

	markets := make(map[string]Market, len(raw))
	for key, m := range raw {
		converted := convertMarket(m)
		if converted.Symbol == "" {
			converted.Symbol = key
		}
		markets[converted.Symbol] = converted
	}

	c.markets = markets
	c.logger.Info("市场目录加载完成", zap.Int("count", len(markets)))
	return markets, nil
}

// Ticker 获取最新行情。
func (c *Client) Ticker(ctx context.Context, symbol string) (Ticker, error) {
	var raw ccxt.Ticker
	err := c.call(ctx, "fetch_ticker", func() error {
		result, err := c.exchange.FetchTicker(symbol)
		if err != nil {
			return err
		}
		raw = result
		return nil
	})
	if err != nil {
		return Ticker{}, err
	}

	t := Ticker{
		Symbol: symbol,
		Last:   derefFloat(raw.Last),
		Bid:    derefFloat(raw.Bid),
		Ask:    derefFloat(raw.Ask),
		High:   derefFloat(raw.High),
		Low:    derefFloat(raw.Low),
	}
	if raw.Timestamp != nil {
		t.Timestamp = time.UnixMilli(*raw.Timestamp).UTC()
	} else {
		t.Timestamp = time.Now().UTC()
	}
	if t.Last == 0 {
		t.Last = derefFloat(raw.Close)
	}
	return t, nil
}

// Candles 获取指定周期的K线数据。
func (c *Client) Candles(ctx context.Context, symbol, timeframe string, limit int64) ([]Candle, error) {
	if limit <= 0 {
		limit = 100
	}

	var raw []ccxt.OHLCV
	err := c.call(ctx, fmt.Sprintf("fetch_ohlcv_%s", timeframe), func() error {
		result, err := c.exchange.FetchOHLCV(
			symbol,
			ccxt.WithFetchOHLCVTimeframe(timeframe),
			ccxt.WithFetchOHLCVLimit(limit),
		)
		if err != nil {
			return err
		}
		raw = result
		return nil
	})
	if err != nil {
		return nil, err
	}

	candles := make([]Candle, 0, len(raw))
	for _, item := range raw {
		candles = append(candles, Candle{
			Timestamp: time.UnixMilli(item.Timestamp).UTC(),
			Open:      item.Open,
			High:      item.High,
			Low:       item.Low,
			Close:     item.Close,
			Volume:    item.Volume,
		})
	}
	return candles, nil
}

// OrderBook 获取订单簿快照。
func (c *Client) OrderBook(ctx context.Context, symbol string, depth int64) (OrderBookSnapshot, error) {
	if depth <= 0 {
		depth = 50
	}

	var raw ccxt.OrderBook
	err := c.call(ctx, "fetch_order_book", func() error {
		result, err := c.exchange.FetchOrderBook(symbol, ccxt.WithFetchOrderBookLimit(depth))
		if err != nil {
			return err
		}
		raw = result
		return nil
	})
	if err != nil {
		return OrderBookSnapshot{}, err
	}

	snapshot := OrderBookSnapshot{Symbol: symbol}
	for _, level := range raw.Bids {
		if len(level) < 2 {
			continue
		}
		snapshot.Bids = append(snapshot.Bids, OrderBookLevel{Price: level[0], Amount: level[1]})
	}
	for _, level := range raw.Asks {
		if len(level) < 2 {
			continue
		}
		snapshot.Asks = append(snapshot.Asks, OrderBookLevel{Price: level[0], Amount: level[1]})
	}
	if raw.Timestamp != nil {
		snapshot.Timestamp = time.UnixMilli(*raw.Timestamp).UTC()
	} else {
		snapshot.Timestamp = time.Now().UTC()
	}
	return snapshot, nil
}

// Balances 获取账户余额。
func (c *Client) Balances(ctx context.Context) ([]Balance, error) {
	var raw ccxt.Balances
	err := c.call(ctx, "fetch_balance", func() error {
		result, err := c.exchange.FetchBalance()
		if err != nil {
			return err
		}
		raw = result
		return nil
	})
	if err != nil {
		return nil, err
	}

	balances := make([]Balance, 0, len(raw.Total))
	for asset, total := range raw.Total {
		b := Balance{Asset: asset, Total: derefFloat(total)}
		if raw.Free != nil {
			b.Free = derefFloat(raw.Free[asset])
		}
		if raw.Used != nil {
			b.Used = derefFloat(raw.Used[asset])
		}
		if b.Total == 0 && b.Free == 0 && b.Used == 0 {
			continue
		}
		balances = append(balances, b)
	}
	return balances, nil
}

// Positions 获取持仓。symbol 为空时返回全部。
func (c *Client) Positions(ctx context.Context, symbol string) ([]Position, error) {
	var raw []ccxt.Position
	err := c.call(ctx, "fetch_positions", func() error {
		var opts []ccxt.FetchPositionsOptions
		if symbol != "" {
			opts = append(opts, ccxt.WithFetchPositionsSymbols([]string{symbol}))
		}
		result, err := c.exchange.FetchPositions(opts...)
		if err != nil {
			return err
		}
		raw = result
		return nil
	})
	if err != nil {
		return nil, err
	}

	positions := make([]Position, 0, len(raw))
	for _, p := range raw {
		size := derefFloat(p.Contracts)
		if size == 0 {
			continue
		}
		posSymbol := derefString(p.Symbol)
		if symbol != "" && !strings.EqualFold(posSymbol, symbol) {
			continue
		}
		side := strings.ToLower(strings.TrimSpace(derefString(p.Side)))
		if side == "" {
			side = "long"
		}
		positions = append(positions, Position{
			Symbol:        posSymbol,
			Side:          side,
			Contracts:     size,
			EntryPrice:    derefFloat(p.EntryPrice),
			MarkPrice:     derefFloat(p.MarkPrice),
			Leverage:      derefFloat(p.Leverage),
			MarginMode:    strings.ToLower(derefString(p.MarginMode)),
			UnrealizedPnl: derefFloat(p.UnrealizedPnl),
		})
	}
	return positions, nil
}

// OpenOrders 获取未成交委托。trigger 为真时拉取计划委托。
func (c *Client) OpenOrders(ctx context.Context, symbol string, trigger bool) ([]Order, error) {
	var raw []ccxt.Order
	err := c.call(ctx, "fetch_open_orders", func() error {
		opts := []ccxt.FetchOpenOrdersOptions{}
		if symbol != "" {
			opts = append(opts, ccxt.WithFetchOpenOrdersSymbol(symbol))
		}
		if trigger {
			opts = append(opts, ccxt.WithFetchOpenOrdersParams(map[string]interface{}{
				"trigger": true,
			}))
		}
		result, err := c.exchange.FetchOpenOrders(opts...)
		if err != nil {
			return err
		}
		raw = result
		return nil
	})
	if err != nil {
		return nil, err
	}

	orders := make([]Order, 0, len(raw))
	for _, o := range raw {
		orders = append(orders, convertOrder(o))
	}
	return orders, nil
}

// PlaceOrder 提交委托。属性通过 ccxt 参数表透传给 Bitget。
func (c *Client) PlaceOrder(ctx context.Context, spec OrderSpec) (Order, error) {
	params := map[string]interface{}{}
	if spec.ReduceOnly {
		params["reduceOnly"] = true
	}
	if spec.MarginMode != "" {
		params["marginMode"] = spec.MarginMode
	}
	if spec.Hedged {
		params["hedged"] = true
	}
	if spec.TriggerPrice > 0 {
		params["triggerPrice"] = spec.TriggerPrice
	}
	if spec.StopLossPrice > 0 {
		params["stopLossPrice"] = spec.StopLossPrice
	}
	if spec.TakeProfitPrice > 0 {
		params["takeProfitPrice"] = spec.TakeProfitPrice
	}
	if spec.ClientID != "" {
		params["clientOrderId"] = spec.ClientID
	}

	var raw ccxt.Order
	err := c.call(ctx, "create_order", func() error {
		opts := []ccxt.CreateOrderOptions{}
		if spec.Type == "limit" {
			opts = append(opts, ccxt.WithCreateOrderPrice(spec.Price))
		}
		if len(params) > 0 {
			opts = append(opts, ccxt.WithCreateOrderParams(params))
		}
		result, err := c.exchange.CreateOrder(spec.Symbol, spec.Type, spec.Side, spec.Amount, opts...)
		if err != nil {
			return err
		}
		raw = result
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	order := convertOrder(raw)
	if order.Symbol == "" {
		order.Symbol = spec.Symbol
	}
	if order.ClientID == "" {
		order.ClientID = spec.ClientID
	}
	return order, nil
}

// CancelOrder 按订单号撤销普通委托。
func (c *Client) CancelOrder(ctx context.Context, symbol, id string) error {
	return c.call(ctx, "cancel_order", func() error {
		_, err := c.exchange.CancelOrder(id, ccxt.WithCancelOrderSymbol(symbol))
		return err
	})
}

// CancelPlanOrder 按订单号或客户端编号撤销计划委托。
func (c *Client) CancelPlanOrder(ctx context.Context, symbol, id, clientID string) error {
	params := map[string]interface{}{
		"trigger": true,
	}
	if clientID != "" {
		params["clientOrderId"] = clientID
	}
	return c.call(ctx, "cancel_plan_order", func() error {
		_, err := c.exchange.CancelOrder(id,
			ccxt.WithCancelOrderSymbol(symbol),
			ccxt.WithCancelOrderParams(params),
		)
		return err
	})
}

// SetLeverage 设置杠杆倍数。
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	return c.call(ctx, "set_leverage", func() error {
		_, err := c.exchange.SetLeverage(int64(leverage), ccxt.WithSetLeverageSymbol(symbol))
		return err
	})
}

// SetMarginMode 设置保证金模式（isolated / cross）。
func (c *Client) SetMarginMode(ctx context.Context, symbol, mode string) error {
	return c.call(ctx, "set_margin_mode", func() error {
		_, err := c.exchange.SetMarginMode(mode, ccxt.WithSetMarginModeSymbol(symbol))
		return err
	})
}

// SetPositionMode 切换单向/双向持仓模式。
func (c *Client) SetPositionMode(ctx context.Context, symbol string, hedged bool) error {
	return c.call(ctx, "set_position_mode", func() error {
		_, err := c.exchange.SetPositionMode(hedged, ccxt.WithSetPositionModeSymbol(symbol))
		return err
	})
}

// BorrowMargin 借入杠杆资产。cross 为假时走逐仓接口，需给出交易对。
func (c *Client) BorrowMargin(ctx context.Context, asset string, amount float64, cross bool, symbol string) error {
	if cross {
		return c.call(ctx, "borrow_cross_margin", func() error {
			res := <-c.exchange.BorrowCrossMargin(asset, amount)
			if ccxt.IsError(res) {
				return ccxt.CreateReturnError(res)
			}
			return nil
		})
	}
	return c.call(ctx, "borrow_isolated_margin", func() error {
		res := <-c.exchange.BorrowIsolatedMargin(symbol, asset, amount)
		if ccxt.IsError(res) {
			return ccxt.CreateReturnError(res)
		}
		return nil
	})
}

// RepayMargin 归还杠杆借款。
func (c *Client) RepayMargin(ctx context.Context, asset string, amount float64, cross bool, symbol string) error {
	if cross {
		return c.call(ctx, "repay_cross_margin", func() error {
			res := <-c.exchange.RepayCrossMargin(asset, amount)
			if ccxt.IsError(res) {
				return ccxt.CreateReturnError(res)
			}
			return nil
		})
	}
	return c.call(ctx, "repay_isolated_margin", func() error {
		res := <-c.exchange.RepayIsolatedMargin(symbol, asset, amount)
		if ccxt.IsError(res) {
			return ccxt.CreateReturnError(res)
		}
		return nil
	})
}

func convertMarket(m ccxt.MarketInterface) Market {
	product := ProductSpot
	if derefBool(m.Contract) {
		product = ProductContract
	}
	return Market{
		Symbol:     derefString(m.Symbol),
		Base:       derefString(m.BaseCurrency),
		Quote:      derefString(m.QuoteCurrency),
		Settle:     derefString(m.Settle),
		Product:    product,
		Active:     derefBool(m.Active),
		PriceStep:  derefFloat(m.Precision.Price),
		AmountStep: derefFloat(m.Precision.Amount),
		MinAmount:  derefFloat(m.Limits.Amount.Min),
		MaxAmount:  derefFloat(m.Limits.Amount.Max),
		MinPrice:   derefFloat(m.Limits.Price.Min),
		MaxPrice:   derefFloat(m.Limits.Price.Max),
		MinCost:    derefFloat(m.Limits.Cost.Min),
	}
}

func convertOrder(o ccxt.Order) Order {
	order := Order{
		ID:           derefString(o.Id),
		ClientID:     derefString(o.ClientOrderId),
		Symbol:       derefString(o.Symbol),
		Type:         strings.ToLower(derefString(o.Type)),
		Side:         strings.ToLower(derefString(o.Side)),
		Price:        derefFloat(o.Price),
		Amount:       derefFloat(o.Amount),
		Filled:       derefFloat(o.Filled),
		ReduceOnly:   derefBool(o.ReduceOnly),
		TriggerPrice: derefFloat(o.TriggerPrice),
		Status:       strings.ToLower(derefString(o.Status)),
	}
	if o.Info != nil {
		if planType, ok := o.Info["planType"].(string); ok {
			order.PlanType = planType
		}
	}
	return order
}

func derefFloat(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func derefBool(v *bool) bool {
	if v == nil {
		return false
	}
	return *v
}
