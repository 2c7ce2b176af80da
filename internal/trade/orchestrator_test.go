package trade

import (
	"context"
	"fmt"
	"math"
	"strings"
	"testing"

	"bitget-trader/internal/command"
	"bitget-trader/internal/config"
	"bitget-trader/internal/exchange"
)

type mockAPI struct {
	calls []string

	ticker    exchange.Ticker
	positions []exchange.Position
	// positionsFn 优先于 positions，便于模拟随挂单推进变化的仓位。
	positionsFn func() []exchange.Position
	openOrders  []exchange.Order

	placed    []exchange.OrderSpec
	placeErrs []error // 按调用顺序消费，nil 表示成功

	modeSwitches []bool
}

func (m *mockAPI) Ticker(ctx context.Context, symbol string) (exchange.Ticker, error) {
	m.calls = append(m.calls, "Ticker")
	return m.ticker, nil
}

func (m *mockAPI) Positions(ctx context.Context, symbol string) ([]exchange.Position, error) {
	m.calls = append(m.calls, "Positions")
	if m.positionsFn != nil {
		return m.positionsFn(), nil
	}
	return m.positions, nil
}

func (m *mockAPI) OpenOrders(ctx context.Context, symbol string, trigger bool) ([]exchange.Order, error) {
	m.calls = append(m.calls, "OpenOrders")
	return m.openOrders, nil
}

func (m *mockAPI) PlaceOrder(ctx context.Context, spec exchange.OrderSpec) (exchange.Order, error) {
	m.calls = append(m.calls, "PlaceOrder")
	idx := len(m.placed)
	m.placed = append(m.placed, spec)
	if idx < len(m.placeErrs) && m.placeErrs[idx] != nil {
		return exchange.Order{}, m.placeErrs[idx]
	}
	return exchange.Order{ID: fmt.Sprintf("order-%d", idx+1), Symbol: spec.Symbol}, nil
}

func (m *mockAPI) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	m.calls = append(m.calls, "SetLeverage")
	return nil
}

func (m *mockAPI) SetMarginMode(ctx context.Context, symbol, mode string) error {
	m.calls = append(m.calls, "SetMarginMode")
	return nil
}

func (m *mockAPI) SetPositionMode(ctx context.Context, symbol string, hedged bool) error {
	m.calls = append(m.calls, "SetPositionMode")
	m.modeSwitches = append(m.modeSwitches, hedged)
	return nil
}

func testMarket() exchange.Market {
	return exchange.Market{
		Symbol:     "BTC/USDT:USDT",
		Base:       "BTC",
		Quote:      "USDT",
		Settle:     "USDT",
		Product:    exchange.ProductContract,
		Active:     true,
		PriceStep:  0.1,
		AmountStep: 0.001,
		MinAmount:  0.001,
	}
}

func testConfig() config.TradingConfig {
	return config.TradingConfig{
		DefaultLeverage: 1,
		RestingDepthPct: 0.5,
		FallbackSymbol:  "BTC/USDT:USDT",
	}
}

func modeConflictErr() error {
	return fmt.Errorf("place order: %w: bitget 40774", exchange.ErrModeConflict)
}

func TestExecute_DryRunMakesNoMutatingCalls(t *testing.T) {
	api := &mockAPI{ticker: exchange.Ticker{Last: 50000}}
	orch := NewOrchestrator(api, testConfig(), nil)

	intent := &command.TradingIntent{
		Raw:      "10x long btc/usdt tp 1%,2%,3% amount 9 --dry-run",
		Leverage: 10,
		Side:     command.SideLong,
		Quantity: 9,
		TakeProfits: []command.TakeProfit{
			{Target: command.Value{Amount: 1, Percent: true}},
			{Target: command.Value{Amount: 2, Percent: true}},
			{Target: command.Value{Amount: 3, Percent: true}},
		},
		AllowHedgedFallback: true,
		DryRun:              true,
	}

	report, err := orch.Execute(context.Background(), intent, testMarket(), true)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if !report.DryRun {
		t.Errorf("report should be marked dry-run")
	}
	for _, call := range api.calls {
		if call != "Ticker" {
			t.Errorf("dry-run must only read market data, saw %s", call)
		}
	}
	if len(api.placed) != 0 {
		t.Errorf("dry-run placed %d orders", len(api.placed))
	}

	if len(report.TPPreview) != 3 {
		t.Fatalf("tp preview: got %d want 3", len(report.TPPreview))
	}
	for i, tp := range report.TPPreview {
		if math.Abs(tp.Size-3) > 1e-9 {
			t.Errorf("tp preview #%d size: got %g want 3", i+1, tp.Size)
		}
	}
}

func TestExecute_SingleTPAttachedInline(t *testing.T) {
	api := &mockAPI{
		ticker:    exchange.Ticker{Last: 50000},
		positions: []exchange.Position{{Symbol: "BTC/USDT:USDT", Side: "long", Contracts: 0.01}},
	}
	orch := NewOrchestrator(api, testConfig(), nil)

	sl := command.Value{Amount: -1, Percent: true, Signed: true}
	intent := &command.TradingIntent{
		Leverage: 10,
		Side:     command.SideLong,
		Quantity: 0.01,
		StopLoss: &sl,
		TakeProfits: []command.TakeProfit{
			{Target: command.Value{Amount: 1, Percent: true}},
		},
		AllowHedgedFallback: true,
	}

	report, err := orch.Execute(context.Background(), intent, testMarket(), false)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}

	if len(api.placed) != 1 {
		t.Fatalf("expected single combined entry order, got %d", len(api.placed))
	}
	entry := api.placed[0]
	if entry.Type != "market" || entry.Side != "buy" {
		t.Errorf("entry order: got type=%s side=%s", entry.Type, entry.Side)
	}
	if entry.StopLossPrice != 49500 {
		t.Errorf("inline stop loss: got %g want 49500", entry.StopLossPrice)
	}
	if entry.TakeProfitPrice != 50500 {
		t.Errorf("inline take profit: got %g want 50500", entry.TakeProfitPrice)
	}
	if report.EntryPrice != 50000 {
		t.Errorf("entry price: got %g want 50000", report.EntryPrice)
	}
}

func TestExecute_MultiTPEqualSplit(t *testing.T) {
	live := 9.0
	api := &mockAPI{ticker: exchange.Ticker{Last: 50000}}
	api.positionsFn = func() []exchange.Position {
		return []exchange.Position{{Symbol: "BTC/USDT:USDT", Side: "long", Contracts: live}}
	}
	orch := NewOrchestrator(api, testConfig(), nil)

	intent := &command.TradingIntent{
		Leverage: 10,
		Side:     command.SideLong,
		Quantity: 9,
		TakeProfits: []command.TakeProfit{
			{Target: command.Value{Amount: 1, Percent: true}},
			{Target: command.Value{Amount: 2, Percent: true}},
			{Target: command.Value{Amount: 3, Percent: true}},
		},
		AllowHedgedFallback: true,
	}

	_, err := orch.Execute(context.Background(), intent, testMarket(), false)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}

	// 进场单 + 三笔止盈
	if len(api.placed) != 4 {
		t.Fatalf("expected 4 orders, got %d", len(api.placed))
	}
	for i, spec := range api.placed[1:] {
		if math.Abs(spec.Amount-3) > 1e-9 {
			t.Errorf("tp #%d amount: got %g want 3", i+1, spec.Amount)
		}
		if spec.Type != "limit" || spec.Side != "sell" || !spec.ReduceOnly {
			t.Errorf("tp #%d: got type=%s side=%s reduceOnly=%v", i+1, spec.Type, spec.Side, spec.ReduceOnly)
		}
		if !strings.HasPrefix(spec.ClientID, fmt.Sprintf("tp%d-", i+1)) {
			t.Errorf("tp #%d client id: got %q", i+1, spec.ClientID)
		}
	}
}

func TestExecute_SizedTPClampedToExposure(t *testing.T) {
	api := &mockAPI{ticker: exchange.Ticker{Last: 50000}}
	api.positionsFn = func() []exchange.Position {
		return []exchange.Position{{Symbol: "BTC/USDT:USDT", Side: "long", Contracts: 4}}
	}
	orch := NewOrchestrator(api, testConfig(), nil)

	size := command.Value{Amount: 10}
	intent := &command.TradingIntent{
		Leverage: 1,
		Side:     command.SideLong,
		Quantity: 4,
		TakeProfits: []command.TakeProfit{
			{Target: command.Value{Amount: 1, Percent: true}, Size: &size},
			{Target: command.Value{Amount: 2, Percent: true}},
		},
		AllowHedgedFallback: true,
	}

	_, err := orch.Execute(context.Background(), intent, testMarket(), false)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}

	if len(api.placed) < 2 {
		t.Fatalf("expected entry plus first tp, got %d orders", len(api.placed))
	}
	if got := api.placed[1].Amount; got != 4 {
		t.Errorf("oversized tp should clamp to live exposure: got %g want 4", got)
	}
	// 第一笔吃满敞口后，第二笔应因无剩余敞口被跳过。
	if len(api.placed) != 2 {
		t.Errorf("second tp should be skipped, got %d orders", len(api.placed))
	}
}

func TestExecute_TPBelowMinimumSkippedAndReallocated(t *testing.T) {
	market := testMarket()
	market.MinAmount = 1

	api := &mockAPI{ticker: exchange.Ticker{Last: 50000}}
	api.positionsFn = func() []exchange.Position {
		return []exchange.Position{{Symbol: "BTC/USDT:USDT", Side: "long", Contracts: 1.5}}
	}
	orch := NewOrchestrator(api, testConfig(), nil)

	intent := &command.TradingIntent{
		Leverage: 1,
		Side:     command.SideLong,
		Quantity: 1.5,
		TakeProfits: []command.TakeProfit{
			{Target: command.Value{Amount: 1, Percent: true}},
			{Target: command.Value{Amount: 2, Percent: true}},
		},
		AllowHedgedFallback: true,
	}

	report, err := orch.Execute(context.Background(), intent, market, false)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}

	// 均分后第一笔 0.75 低于最小下单量 1 被跳过；跳过的份额
	// 回流给最后一个未定量目标，第二笔以 1.5 挂出。
	if len(api.placed) != 2 {
		t.Fatalf("expected entry plus reallocated tp, got %d orders", len(api.placed))
	}
	if got := api.placed[1].Amount; math.Abs(got-1.5) > 1e-9 {
		t.Errorf("reallocated tp amount: got %g want 1.5", got)
	}
	if len(report.Warnings) == 0 {
		t.Errorf("expected a warning for the skipped take profit")
	}
}

func TestExecute_HedgedFallbackOnModeConflict(t *testing.T) {
	api := &mockAPI{
		ticker:    exchange.Ticker{Last: 50000},
		placeErrs: []error{modeConflictErr(), nil},
	}
	api.positionsFn = func() []exchange.Position { return nil }
	orch := NewOrchestrator(api, testConfig(), nil)

	intent := &command.TradingIntent{
		Leverage:            5,
		Side:                command.SideShort,
		Quantity:            0.5,
		AllowHedgedFallback: true,
	}

	report, err := orch.Execute(context.Background(), intent, testMarket(), false)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}

	if len(api.placed) != 2 {
		t.Fatalf("expected entry retry, got %d orders", len(api.placed))
	}
	if len(api.modeSwitches) == 0 || !api.modeSwitches[len(api.modeSwitches)-1] {
		t.Errorf("expected switch to hedged mode before retry")
	}
	if !api.placed[1].Hedged {
		t.Errorf("retried entry should carry hedged flag")
	}
	if report.PositionMode != "hedged" {
		t.Errorf("report position mode: got %q want hedged", report.PositionMode)
	}
	if len(report.Warnings) == 0 {
		t.Errorf("fallback should leave a warning in the report")
	}
}

func TestExecute_ModeConflictFatalWhenFallbackDisabled(t *testing.T) {
	api := &mockAPI{
		ticker:    exchange.Ticker{Last: 50000},
		placeErrs: []error{modeConflictErr()},
	}
	orch := NewOrchestrator(api, testConfig(), nil)

	intent := &command.TradingIntent{
		Leverage:            5,
		Side:                command.SideLong,
		Quantity:            0.5,
		AllowHedgedFallback: false,
	}

	_, err := orch.Execute(context.Background(), intent, testMarket(), false)
	if err == nil {
		t.Fatalf("expected fatal error when fallback disabled")
	}
	if !exchange.IsModeConflict(err) {
		t.Errorf("error should keep the mode conflict in its chain: %v", err)
	}
	if len(api.placed) != 1 {
		t.Errorf("no retry expected, got %d orders", len(api.placed))
	}
	if len(api.modeSwitches) != 0 {
		t.Errorf("position mode must not be touched, got %v", api.modeSwitches)
	}
}

func TestExecute_OneWayStrictFlattensOpposingSide(t *testing.T) {
	first := true
	api := &mockAPI{ticker: exchange.Ticker{Last: 50000}}
	api.positionsFn = func() []exchange.Position {
		if first {
			first = false
			return []exchange.Position{{Symbol: "BTC/USDT:USDT", Side: "short", Contracts: 2}}
		}
		return []exchange.Position{{Symbol: "BTC/USDT:USDT", Side: "long", Contracts: 0.5}}
	}
	orch := NewOrchestrator(api, testConfig(), nil)

	intent := &command.TradingIntent{
		Leverage:            3,
		Side:                command.SideLong,
		Quantity:            0.5,
		PositionMode:        command.PositionOneWay,
		OneWayStrict:        true,
		AllowHedgedFallback: true,
	}

	_, err := orch.Execute(context.Background(), intent, testMarket(), false)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}

	if len(api.placed) < 2 {
		t.Fatalf("expected pre-flatten close plus entry, got %d orders", len(api.placed))
	}
	closeOrder := api.placed[0]
	if !closeOrder.ReduceOnly || closeOrder.Side != "buy" || closeOrder.Amount != 2 {
		t.Errorf("pre-flatten close: got %+v", closeOrder)
	}
	entry := api.placed[1]
	if entry.ReduceOnly || entry.Side != "buy" {
		t.Errorf("entry after pre-flatten: got %+v", entry)
	}
}

func TestExecute_OneWayStrictFailureIsFatal(t *testing.T) {
	api := &mockAPI{
		ticker:    exchange.Ticker{Last: 50000},
		positions: []exchange.Position{{Symbol: "BTC/USDT:USDT", Side: "short", Contracts: 2}},
		placeErrs: []error{fmt.Errorf("insufficient margin")},
	}
	orch := NewOrchestrator(api, testConfig(), nil)

	intent := &command.TradingIntent{
		Leverage:            3,
		Side:                command.SideLong,
		Quantity:            0.5,
		OneWayStrict:        true,
		AllowHedgedFallback: true,
	}

	_, err := orch.Execute(context.Background(), intent, testMarket(), false)
	if err == nil {
		t.Fatalf("expected fatal error when pre-flatten fails")
	}
	// 平仓失败后绝不能继续进场。
	if len(api.placed) != 1 {
		t.Errorf("entry must not be attempted, got %d orders", len(api.placed))
	}
}

func TestExecute_StopLossPlacedSeparatelyInStrictMode(t *testing.T) {
	api := &mockAPI{ticker: exchange.Ticker{Last: 50000}}
	api.positionsFn = func() []exchange.Position {
		return []exchange.Position{{Symbol: "BTC/USDT:USDT", Side: "long", Contracts: 0.5}}
	}
	orch := NewOrchestrator(api, testConfig(), nil)

	sl := command.Value{Amount: 2, Percent: true}
	intent := &command.TradingIntent{
		Leverage:            3,
		Side:                command.SideLong,
		Quantity:            0.5,
		StopLoss:            &sl,
		OneWayStrict:        true,
		AllowHedgedFallback: true,
	}

	_, err := orch.Execute(context.Background(), intent, testMarket(), false)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}

	var slOrder *exchange.OrderSpec
	for i := range api.placed {
		if api.placed[i].TriggerPrice > 0 {
			slOrder = &api.placed[i]
		}
	}
	if slOrder == nil {
		t.Fatalf("expected a standalone stop loss trigger order")
	}
	if slOrder.TriggerPrice != 49000 {
		t.Errorf("stop trigger: got %g want 49000", slOrder.TriggerPrice)
	}
	if !slOrder.ReduceOnly || slOrder.Side != "sell" || slOrder.Type != "market" {
		t.Errorf("stop loss order: got %+v", slOrder)
	}
}

func TestExecute_MissingQuantityFallsBackToMinimum(t *testing.T) {
	api := &mockAPI{ticker: exchange.Ticker{Last: 50000}}
	api.positionsFn = func() []exchange.Position { return nil }
	orch := NewOrchestrator(api, testConfig(), nil)

	intent := &command.TradingIntent{
		Leverage:            1,
		Side:                command.SideLong,
		AllowHedgedFallback: true,
	}

	report, err := orch.Execute(context.Background(), intent, testMarket(), false)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if report.Amount != 0.001 {
		t.Errorf("amount: got %g want market minimum 0.001", report.Amount)
	}
	if len(report.Warnings) == 0 {
		t.Errorf("expected warning about defaulted quantity")
	}
}

func TestExecute_RestingConvertsMarketToLimit(t *testing.T) {
	api := &mockAPI{ticker: exchange.Ticker{Last: 50000}}
	api.positionsFn = func() []exchange.Position { return nil }
	orch := NewOrchestrator(api, testConfig(), nil)

	depth := command.Value{Amount: 1, Percent: true}
	intent := &command.TradingIntent{
		Leverage:            2,
		Side:                command.SideLong,
		Quantity:            0.01,
		Resting:             true,
		RestingDepth:        &depth,
		AllowHedgedFallback: true,
	}

	report, err := orch.Execute(context.Background(), intent, testMarket(), false)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}

	entry := api.placed[0]
	if entry.Type != "limit" {
		t.Errorf("resting entry should be a limit order, got %s", entry.Type)
	}
	if entry.Price != 49500 {
		t.Errorf("resting long should rest below market: got %g want 49500", entry.Price)
	}
	if report.OrderType != "limit" {
		t.Errorf("report order type: got %s want limit", report.OrderType)
	}
}

func TestExecute_RestingShortRestsAboveMarket(t *testing.T) {
	api := &mockAPI{ticker: exchange.Ticker{Last: 50000}}
	api.positionsFn = func() []exchange.Position { return nil }
	orch := NewOrchestrator(api, testConfig(), nil)

	intent := &command.TradingIntent{
		Leverage:            2,
		Side:                command.SideShort,
		Quantity:            0.01,
		Resting:             true,
		AllowHedgedFallback: true,
	}

	_, err := orch.Execute(context.Background(), intent, testMarket(), false)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}

	// 默认让价 0.5%，空头挂在市价上方。
	if got := api.placed[0].Price; got != 50250 {
		t.Errorf("resting short price: got %g want 50250", got)
	}
}

func TestExecute_RestingLimitWithoutPriceAppliesDepth(t *testing.T) {
	api := &mockAPI{ticker: exchange.Ticker{Last: 50000}}
	api.positionsFn = func() []exchange.Position { return nil }
	orch := NewOrchestrator(api, testConfig(), nil)

	intent := &command.TradingIntent{
		Leverage:            2,
		Side:                command.SideLong,
		EntryType:           command.EntryLimit,
		Quantity:            0.01,
		Resting:             true,
		AllowHedgedFallback: true,
	}

	report, err := orch.Execute(context.Background(), intent, testMarket(), false)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}

	// 未给限价时按默认让价 0.5% 挂在市价下方，而不是贴着市价成交。
	if got := api.placed[0].Price; got != 49750 {
		t.Errorf("resting limit without price: got %g want 49750", got)
	}
	if report.RestingDepth != "0.5%" {
		t.Errorf("report resting depth: got %q want 0.5%%", report.RestingDepth)
	}
}

func TestExecute_RestingExplicitLimitPriceWins(t *testing.T) {
	api := &mockAPI{ticker: exchange.Ticker{Last: 50000}}
	api.positionsFn = func() []exchange.Position { return nil }
	orch := NewOrchestrator(api, testConfig(), nil)

	intent := &command.TradingIntent{
		Leverage:            2,
		Side:                command.SideLong,
		EntryType:           command.EntryLimit,
		EntryPrice:          49000,
		Quantity:            0.01,
		Resting:             true,
		AllowHedgedFallback: true,
	}

	report, err := orch.Execute(context.Background(), intent, testMarket(), false)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}

	if got := api.placed[0].Price; got != 49000 {
		t.Errorf("explicit limit price must not be shifted: got %g want 49000", got)
	}
	if report.RestingDepth != "" {
		t.Errorf("depth not applied, report should omit it: got %q", report.RestingDepth)
	}
}

func TestExecute_StopLossFailureDegradesToWarning(t *testing.T) {
	api := &mockAPI{
		ticker:    exchange.Ticker{Last: 50000},
		placeErrs: []error{nil, fmt.Errorf("trigger rejected")},
	}
	api.positionsFn = func() []exchange.Position {
		return []exchange.Position{{Symbol: "BTC/USDT:USDT", Side: "long", Contracts: 0.5}}
	}
	orch := NewOrchestrator(api, testConfig(), nil)

	sl := command.Value{Amount: 2, Percent: true}
	intent := &command.TradingIntent{
		Leverage:            3,
		Side:                command.SideLong,
		Quantity:            0.5,
		StopLoss:            &sl,
		OneWayStrict:        true,
		AllowHedgedFallback: true,
	}

	report, err := orch.Execute(context.Background(), intent, testMarket(), false)
	if err != nil {
		t.Fatalf("stop loss failure must not fail the trade: %v", err)
	}

	found := false
	for _, warning := range report.Warnings {
		if strings.Contains(warning, "止损") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected stop loss warning, got %v", report.Warnings)
	}
}
