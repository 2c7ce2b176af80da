package trade

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"bitget-trader/internal/command"
	"bitget-trader/internal/config"
	"bitget-trader/internal/exchange"
	"bitget-trader/internal/symbol"
)

// ExchangeAPI 是编排器需要的交易所能力子集。
type ExchangeAPI interface {
	Ticker(ctx context.Context, symbol string) (exchange.Ticker, error)
	Positions(ctx context.Context, symbol string) ([]exchange.Position, error)
	OpenOrders(ctx context.Context, symbol string, trigger bool) ([]exchange.Order, error)
	PlaceOrder(ctx context.Context, spec exchange.OrderSpec) (exchange.Order, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	SetMarginMode(ctx context.Context, symbol, mode string) error
	SetPositionMode(ctx context.Context, symbol string, hedged bool) error
}

// Orchestrator 驱动一次交易意图走完进场、止损、止盈与汇总。
//
// 单次调用内所有交易所请求串行执行：后续步骤依赖前序步骤的
// 可见效果。跨进程的并发调用不在这里协调，敞口簿记只是参考，
// 每次定量前都重新查询实时仓位。
type Orchestrator struct {
	api    ExchangeAPI
	cfg    config.TradingConfig
	logger *zap.Logger
}

// NewOrchestrator 创建编排器。
func NewOrchestrator(api ExchangeAPI, cfg config.TradingConfig, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{api: api, cfg: cfg, logger: logger}
}

// Execute 执行一次交易意图并返回最终凭证。
// 进场失败时返回错误（未开仓，无需补偿）；止损/止盈的失败
// 只降级为警告，凭证中的挂单列表是唯一可信的保护现状。
func (o *Orchestrator) Execute(ctx context.Context, intent *command.TradingIntent, market exchange.Market, sandbox bool) (*Report, error) {
	plan, err := o.buildPlan(ctx, intent, market)
	if err != nil {
		return nil, err
	}

	if intent.DryRun {
		return o.previewReport(intent, plan, sandbox), nil
	}

	o.prepareAccount(ctx, intent, plan)

	if intent.OneWayStrict {
		plan.State = StatePreFlattening
		if err := o.preFlatten(ctx, plan); err != nil {
			plan.State = StateFailed
			return nil, err
		}
	}

	plan.State = StateEntering
	if err := o.placeEntry(ctx, intent, plan); err != nil {
		plan.State = StateFailed
		return nil, err
	}

	plan.State = StateAttachingStopLoss
	o.placeStopLoss(ctx, plan)

	plan.State = StateAttachingTakeProfits
	o.placeTakeProfits(ctx, plan)

	plan.State = StateSummarizing
	report := o.summarize(ctx, intent, plan, sandbox)
	plan.State = StateCompleted
	return report, nil
}

// buildPlan 完成 Resolving 阶段：确定有效进场价、委托类型、
// 止损与止盈的绝对价位。只读调用，dry-run 也会走到这里。
func (o *Orchestrator) buildPlan(ctx context.Context, intent *command.TradingIntent, market exchange.Market) (*OrderPlan, error) {
	plan := &OrderPlan{
		State:      StateResolving,
		Market:     market,
		Side:       intent.Side,
		OpenType:   intent.EntryType.String(),
		MarginMode: intent.MarginMode.String(),
		Hedged:     intent.PositionMode == command.PositionHedged,
	}

	ticker, err := o.api.Ticker(ctx, market.Symbol)
	if err != nil {
		return nil, err
	}
	if ticker.Last <= 0 {
		return nil, fmt.Errorf("%s 无有效行情价格", market.Symbol)
	}

	entry := ticker.Last
	explicitPrice := intent.EntryType == command.EntryLimit && intent.EntryPrice > 0
	if explicitPrice {
		entry = intent.EntryPrice
	}

	// 挂单让价：未给显式限价时按深度偏离盘口挂限价单，方向
	// 离场（多头在市价下方、空头在上方）。显式限价优先，
	// 此时不再叠加让价。
	if intent.Resting && !explicitPrice {
		depth := command.Value{Amount: o.cfg.RestingDepthPct, Percent: true}
		if intent.RestingDepth != nil {
			depth = *intent.RestingDepth
		}
		offset := restingOffset(ticker.Last, depth)
		if intent.Side == command.SideLong {
			entry = ticker.Last - offset
		} else {
			entry = ticker.Last + offset
		}
		plan.OpenType = "limit"
		plan.RestingDepth = depth.String()
	}

	plan.EntryPrice = symbol.RoundPrice(market, entry)

	plan.Quantity = intent.Quantity
	if plan.Quantity <= 0 {
		plan.Quantity = market.MinAmount
		plan.warn(fmt.Sprintf("未指定数量，按市场最小下单量 %g 执行", plan.Quantity))
	}
	plan.Quantity = symbol.RoundAmount(market, plan.Quantity)
	if plan.Quantity <= 0 {
		return nil, fmt.Errorf("下单数量无效")
	}

	if intent.StopLoss != nil {
		plan.StopLoss = symbol.RoundPrice(market, resolveOffsetPrice(plan.EntryPrice, *intent.StopLoss, intent.Side, false))
	}

	for idx, tp := range intent.TakeProfits {
		price := symbol.RoundPrice(market, resolveOffsetPrice(plan.EntryPrice, tp.Target, intent.Side, true))
		plan.TakeProfits = append(plan.TakeProfits, PlannedTP{
			Index:    idx + 1,
			Target:   tp.Target,
			Size:     tp.Size,
			Price:    price,
			ClientID: fmt.Sprintf("tp%d-%s", idx+1, shortID()),
		})
	}

	// 单一止盈目标且不走严格单向时，随进场单一次性附带，
	// 交易所侧原子生效；多目标必须逐笔定量，走独立委托。
	plan.InlineTP = len(plan.TakeProfits) == 1 && !intent.OneWayStrict
	plan.InlineSL = plan.StopLoss > 0 && !intent.OneWayStrict

	return plan, nil
}

// prepareAccount 设置杠杆与保证金模式。两者都是尽力而为：
// 交易所在已有持仓时可能拒绝，失败记入警告后继续。
func (o *Orchestrator) prepareAccount(ctx context.Context, intent *command.TradingIntent, plan *OrderPlan) {
	if plan.Market.Product == exchange.ProductContract {
		if err := o.api.SetLeverage(ctx, plan.Market.Symbol, intent.Leverage); err != nil {
			plan.warn(fmt.Sprintf("设置杠杆失败: %v", err))
		}
	}
	if intent.MarginMode != command.MarginUnset {
		if err := o.api.SetMarginMode(ctx, plan.Market.Symbol, intent.MarginMode.String()); err != nil {
			plan.warn(fmt.Sprintf("设置保证金模式失败: %v", err))
		}
	}
	if intent.PositionMode != command.PositionUnset && plan.Market.Product == exchange.ProductContract {
		hedged := intent.PositionMode == command.PositionHedged
		if err := o.api.SetPositionMode(ctx, plan.Market.Symbol, hedged); err != nil {
			plan.warn(fmt.Sprintf("设置持仓模式失败: %v", err))
		}
	}
}

// preFlatten 在严格单向模式下先平掉反向敞口，避免交易所
// 因同品种双向持仓直接拒单。
func (o *Orchestrator) preFlatten(ctx context.Context, plan *OrderPlan) error {
	positions, err := o.api.Positions(ctx, plan.Market.Symbol)
	if err != nil {
		return err
	}

	want := plan.Side.String()
	for _, pos := range positions {
		if strings.EqualFold(pos.Side, want) || pos.Contracts <= 0 {
			continue
		}
		closeSide := "sell"
		if pos.Side == "short" {
			closeSide = "buy"
		}
		_, err := o.api.PlaceOrder(ctx, exchange.OrderSpec{
			Symbol:     plan.Market.Symbol,
			Type:       "market",
			Side:       closeSide,
			Amount:     pos.Contracts,
			ReduceOnly: true,
			ClientID:   "preflat-" + shortID(),
		})
		if err != nil {
			return fmt.Errorf("平掉反向仓位失败: %w", err)
		}
		o.logger.Info("已平掉反向仓位",
			zap.String("symbol", pos.Symbol),
			zap.String("side", pos.Side),
			zap.Float64("contracts", pos.Contracts),
		)
	}
	return nil
}

// placeEntry 提交进场单。唯一带自动恢复路径的失败是持仓
// 模式冲突：允许回退时切到双向模式重发一次，否则立即失败。
func (o *Orchestrator) placeEntry(ctx context.Context, intent *command.TradingIntent, plan *OrderPlan) error {
	result, err := o.submitEntry(ctx, plan)
	switch result {
	case stepOK:
		return nil
	case stepConflict:
		if !intent.AllowHedgedFallback {
			return fmt.Errorf("持仓模式冲突且已禁用双向回退: %w", err)
		}
		o.logger.Warn("持仓模式冲突，回退到双向模式重试", zap.Error(err))
		if modeErr := o.api.SetPositionMode(ctx, plan.Market.Symbol, true); modeErr != nil {
			return fmt.Errorf("切换双向持仓模式失败: %w", modeErr)
		}
		plan.Hedged = true
		result, err = o.submitEntry(ctx, plan)
		if result != stepOK {
			return fmt.Errorf("双向模式重试后进场仍失败: %w", err)
		}
		plan.warn("进场单在回退到双向持仓模式后成交")
		return nil
	default:
		return err
	}
}

func (o *Orchestrator) submitEntry(ctx context.Context, plan *OrderPlan) (stepResult, error) {
	spec := exchange.OrderSpec{
		Symbol:     plan.Market.Symbol,
		Type:       plan.OpenType,
		Side:       orderSide(plan.Side),
		Amount:     plan.Quantity,
		MarginMode: plan.MarginMode,
		Hedged:     plan.Hedged,
		ClientID:   "entry-" + shortID(),
	}
	if plan.OpenType == "limit" {
		spec.Price = plan.EntryPrice
	}
	if plan.InlineSL {
		spec.StopLossPrice = plan.StopLoss
	}
	if plan.InlineTP {
		spec.TakeProfitPrice = plan.TakeProfits[0].Price
	}

	order, err := o.api.PlaceOrder(ctx, spec)
	if err != nil {
		if exchange.IsModeConflict(err) {
			return stepConflict, err
		}
		return stepFatal, err
	}

	o.logger.Info("进场单已提交",
		zap.String("symbol", plan.Market.Symbol),
		zap.String("side", spec.Side),
		zap.String("type", spec.Type),
		zap.Float64("amount", spec.Amount),
		zap.Float64("price", spec.Price),
		zap.String("order_id", order.ID),
	)

	if plan.InlineTP {
		tp := &plan.TakeProfits[0]
		tp.Placed = true
		tp.Amount = plan.Quantity
		plan.PlacedTPSize = plan.Quantity
	}
	return stepOK, nil
}

// placeStopLoss 独立挂出止损触发单。仓位已经存在，这里失败
// 只会削弱保护，不回滚进场，记警告交由操作者补救。
func (o *Orchestrator) placeStopLoss(ctx context.Context, plan *OrderPlan) {
	if plan.StopLoss <= 0 || plan.InlineSL {
		return
	}

	_, err := o.api.PlaceOrder(ctx, exchange.OrderSpec{
		Symbol:       plan.Market.Symbol,
		Type:         "market",
		Side:         orderSide(opposite(plan.Side)),
		Amount:       plan.Quantity,
		ReduceOnly:   true,
		Hedged:       plan.Hedged,
		TriggerPrice: plan.StopLoss,
		ClientID:     "sl-" + shortID(),
	})
	if err != nil {
		plan.warn(fmt.Sprintf("止损单挂出失败，仓位暂无保护: %v", err))
		o.logger.Error("止损单挂出失败", zap.Error(err))
		return
	}
	o.logger.Info("止损单已挂出", zap.Float64("trigger", plan.StopLoss))
}

// placeTakeProfits 逐个挂出止盈单。每个目标独立成败；
// 定量前重新查询实时敞口，确保已挂止盈总量不超过仓位。
func (o *Orchestrator) placeTakeProfits(ctx context.Context, plan *OrderPlan) {
	for idx := range plan.TakeProfits {
		tp := &plan.TakeProfits[idx]
		if tp.Placed {
			continue
		}

		remaining, err := o.remainingExposure(ctx, plan)
		if err != nil {
			tp.SkipReason = fmt.Sprintf("查询敞口失败: %v", err)
			plan.warn(fmt.Sprintf("止盈 #%d 跳过: %s", tp.Index, tp.SkipReason))
			continue
		}
		if remaining <= 0 {
			tp.SkipReason = "无剩余敞口"
			plan.warn(fmt.Sprintf("止盈 #%d 跳过: 无剩余敞口", tp.Index))
			continue
		}

		size := o.sizeTakeProfit(plan, idx, remaining)
		size = symbol.RoundAmount(plan.Market, size)
		if symbol.BelowMinimum(plan.Market, size) {
			tp.SkipReason = "数量低于市场最小下单量"
			plan.warn(fmt.Sprintf("止盈 #%d 跳过: 数量 %g 低于最小下单量", tp.Index, size))
			continue
		}

		_, err = o.api.PlaceOrder(ctx, exchange.OrderSpec{
			Symbol:     plan.Market.Symbol,
			Type:       "limit",
			Side:       orderSide(opposite(plan.Side)),
			Amount:     size,
			Price:      tp.Price,
			ReduceOnly: true,
			Hedged:     plan.Hedged,
			ClientID:   tp.ClientID,
		})
		if err != nil {
			tp.SkipReason = err.Error()
			plan.warn(fmt.Sprintf("止盈 #%d 挂出失败: %v", tp.Index, err))
			o.logger.Error("止盈单挂出失败", zap.Int("index", tp.Index), zap.Error(err))
			continue
		}

		tp.Placed = true
		tp.Amount = size
		plan.PlacedTPSize += size
		o.logger.Info("止盈单已挂出",
			zap.Int("index", tp.Index),
			zap.Float64("price", tp.Price),
			zap.Float64("size", size),
		)
	}
}

// remainingExposure 返回当前方向实时仓位减去本次已挂止盈的
// 剩余可分配敞口。实时查询优先于本地簿记：并发调用下簿记
// 只是参考值。
func (o *Orchestrator) remainingExposure(ctx context.Context, plan *OrderPlan) (float64, error) {
	positions, err := o.api.Positions(ctx, plan.Market.Symbol)
	if err != nil {
		return 0, err
	}

	var live float64
	want := plan.Side.String()
	for _, pos := range positions {
		if strings.EqualFold(pos.Side, want) {
			live += pos.Contracts
		}
	}
	return live - plan.PlacedTPSize, nil
}

// sizeTakeProfit 解析单个止盈目标的数量：显式绝对值、剩余
// 敞口百分比、或未指定时在未定量目标间均分。超出敞口的请求
// 夹取而不是拒绝。
func (o *Orchestrator) sizeTakeProfit(plan *OrderPlan, idx int, remaining float64) float64 {
	tp := plan.TakeProfits[idx]
	spec := tp.Size

	var size float64
	switch {
	case spec == nil:
		unresolved := 0
		for _, later := range plan.TakeProfits[idx:] {
			if !later.Placed && later.Size == nil && later.SkipReason == "" {
				unresolved++
			}
		}
		if unresolved == 0 {
			unresolved = 1
		}
		size = remaining / float64(unresolved)
	case spec.Percent:
		size = remaining * math.Abs(spec.Amount) / 100
	default:
		size = spec.Amount
	}

	if size > remaining {
		size = remaining
	}
	return size
}

// summarize 重新查询持仓与挂单作为最终凭证。
func (o *Orchestrator) summarize(ctx context.Context, intent *command.TradingIntent, plan *OrderPlan, sandbox bool) *Report {
	report := o.baseReport(intent, plan, sandbox)

	positions, err := o.api.Positions(ctx, plan.Market.Symbol)
	if err != nil {
		plan.warn(fmt.Sprintf("汇总阶段查询持仓失败: %v", err))
	} else {
		report.Positions = positions
	}

	orders, err := o.api.OpenOrders(ctx, plan.Market.Symbol, false)
	if err != nil {
		plan.warn(fmt.Sprintf("汇总阶段查询挂单失败: %v", err))
	}
	planOrders, planErr := o.api.OpenOrders(ctx, plan.Market.Symbol, true)
	if planErr != nil {
		plan.warn(fmt.Sprintf("汇总阶段查询计划委托失败: %v", planErr))
	}
	report.OpenOrders = append(orders, planOrders...)
	report.Warnings = plan.Warnings
	return report
}

// previewReport 生成 dry-run 凭证：零状态变更调用。
func (o *Orchestrator) previewReport(intent *command.TradingIntent, plan *OrderPlan, sandbox bool) *Report {
	report := o.baseReport(intent, plan, sandbox)
	report.DryRun = true
	report.Positions = []exchange.Position{}
	report.OpenOrders = []exchange.Order{}

	remaining := plan.Quantity
	unresolved := 0
	for _, tp := range plan.TakeProfits {
		if tp.Size == nil {
			unresolved++
		}
	}
	for _, tp := range plan.TakeProfits {
		size := 0.0
		spec := tp.Size
		switch {
		case spec == nil && unresolved > 0:
			size = plan.Quantity / float64(unresolved)
		case spec != nil && spec.Percent:
			size = remaining * math.Abs(spec.Amount) / 100
		case spec != nil:
			size = spec.Amount
		}
		if size > remaining {
			size = remaining
		}
		size = symbol.RoundAmount(plan.Market, size)
		remaining -= size
		report.TPPreview = append(report.TPPreview, TPPreview{
			Idx:    tp.Index,
			Target: tp.Target.String(),
			Price:  tp.Price,
			Size:   size,
		})
	}
	report.Warnings = plan.Warnings
	return report
}

func (o *Orchestrator) baseReport(intent *command.TradingIntent, plan *OrderPlan, sandbox bool) *Report {
	positionMode := "oneway"
	if plan.Hedged {
		positionMode = "hedged"
	}
	marginMode := plan.MarginMode
	if marginMode == "" {
		marginMode = "cross"
	}
	report := &Report{
		Input:        intent.Raw,
		Sandbox:      sandbox,
		Symbol:       plan.Market.Symbol,
		Side:         plan.Side.String(),
		Leverage:     intent.Leverage,
		MarginMode:   marginMode,
		PositionMode: positionMode,
		OrderType:    plan.OpenType,
		Amount:       plan.Quantity,
		EntryPrice:   plan.EntryPrice,
		Resting:      intent.Resting,
		Positions:    []exchange.Position{},
		OpenOrders:   []exchange.Order{},
	}
	report.RestingDepth = plan.RestingDepth
	return report
}

func orderSide(side command.Side) string {
	if side == command.SideShort {
		return "sell"
	}
	return "buy"
}

func opposite(side command.Side) command.Side {
	if side == command.SideLong {
		return command.SideShort
	}
	return command.SideLong
}

func shortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
