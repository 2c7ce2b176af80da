package maintenance

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"bitget-trader/internal/exchange"
)

// API 是维护操作需要的交易所能力子集。
type API interface {
	Positions(ctx context.Context, symbol string) ([]exchange.Position, error)
	OpenOrders(ctx context.Context, symbol string, trigger bool) ([]exchange.Order, error)
	PlaceOrder(ctx context.Context, spec exchange.OrderSpec) (exchange.Order, error)
	CancelOrder(ctx context.Context, symbol, id string) error
	CancelPlanOrder(ctx context.Context, symbol, id, clientID string) error
	SetPositionMode(ctx context.Context, symbol string, hedged bool) error
}

// ItemResult 记录单个仓位或订单的处理结论。尽力而为的子步骤
// 不吞错误，全部显式带出。
type ItemResult struct {
	Target string `json:"target"`
	Action string `json:"action"`
	Err    string `json:"error,omitempty"`
}

// OK 判断该条目是否处理成功。
func (r ItemResult) OK() bool {
	return r.Err == ""
}

// Result 为一次维护操作的完整结论。
type Result struct {
	Symbol string       `json:"symbol"`
	Items  []ItemResult `json:"items"`
}

// Failed 返回失败条目数。
func (r Result) Failed() int {
	n := 0
	for _, item := range r.Items {
		if !item.OK() {
			n++
		}
	}
	return n
}

// Service 提供平仓与撤销止盈两类维护操作，既可独立调用，
// 也被编排器用作恢复动作。
type Service struct {
	api    API
	logger *zap.Logger
}

// NewService 创建维护服务。
func NewService(api API, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{api: api, logger: logger}
}

// Flatten 平掉指定交易对的全部仓位：对每个非零仓位提交反向
// 只减仓市价单。首次遇到持仓模式冲突时切换到双向模式重试
// 一次，第二次失败视为致命；各仓位之间互不阻塞。
func (s *Service) Flatten(ctx context.Context, symbol string) (Result, error) {
	result := Result{Symbol: symbol}

	positions, err := s.api.Positions(ctx, symbol)
	if err != nil {
		return result, fmt.Errorf("查询持仓失败: %w", err)
	}
	if len(positions) == 0 {
		s.logger.Info("无持仓可平", zap.String("symbol", symbol))
		return result, nil
	}

	modeSwitched := false
	for _, pos := range positions {
		if pos.Contracts <= 0 {
			continue
		}

		item := ItemResult{
			Target: fmt.Sprintf("%s %s %g", pos.Symbol, pos.Side, pos.Contracts),
			Action: "close",
		}

		err := s.closePosition(ctx, pos, modeSwitched)
		if err != nil && exchange.IsModeConflict(err) && !modeSwitched {
			s.logger.Warn("平仓遇到持仓模式冲突，切换双向模式重试", zap.Error(err))
			if modeErr := s.api.SetPositionMode(ctx, pos.Symbol, true); modeErr != nil {
				return result, fmt.Errorf("切换双向持仓模式失败: %w", modeErr)
			}
			modeSwitched = true
			err = s.closePosition(ctx, pos, true)
		}
		if err != nil {
			if exchange.IsModeConflict(err) {
				// 模式切换后仍冲突，没有进一步的恢复手段。
				item.Err = err.Error()
				result.Items = append(result.Items, item)
				return result, fmt.Errorf("切换模式后平仓仍失败: %w", err)
			}
			item.Err = err.Error()
			s.logger.Error("平仓失败", zap.String("target", item.Target), zap.Error(err))
		} else {
			s.logger.Info("仓位已平", zap.String("target", item.Target))
		}
		result.Items = append(result.Items, item)
	}

	return result, nil
}

// closePosition 提交反向只减仓市价单。切换到双向模式后的
// 重试必须带上双向标记，否则同样的单向委托会再次冲突。
func (s *Service) closePosition(ctx context.Context, pos exchange.Position, hedged bool) error {
	side := "sell"
	if strings.EqualFold(pos.Side, "short") {
		side = "buy"
	}
	_, err := s.api.PlaceOrder(ctx, exchange.OrderSpec{
		Symbol:     pos.Symbol,
		Type:       "market",
		Side:       side,
		Amount:     pos.Contracts,
		ReduceOnly: true,
		Hedged:     hedged,
	})
	return err
}

// CancelTakeProfits 撤销指定交易对的全部止盈类委托。
// 单笔撤销失败只记录，不影响批次内其余订单。
func (s *Service) CancelTakeProfits(ctx context.Context, symbol string) (Result, error) {
	result := Result{Symbol: symbol}

	orders, err := s.api.OpenOrders(ctx, symbol, false)
	if err != nil {
		return result, fmt.Errorf("查询挂单失败: %w", err)
	}
	planOrders, err := s.api.OpenOrders(ctx, symbol, true)
	if err != nil {
		return result, fmt.Errorf("查询计划委托失败: %w", err)
	}

	for _, order := range orders {
		if !IsTakeProfitLike(order) {
			continue
		}
		item := ItemResult{Target: order.ID, Action: "cancel"}
		if err := s.api.CancelOrder(ctx, symbol, order.ID); err != nil {
			item.Err = err.Error()
			s.logger.Error("撤销止盈单失败", zap.String("order_id", order.ID), zap.Error(err))
		}
		result.Items = append(result.Items, item)
	}

	for _, order := range planOrders {
		if !IsTakeProfitLike(order) {
			continue
		}
		item := ItemResult{Target: order.ID, Action: "cancel_plan"}
		if err := s.api.CancelPlanOrder(ctx, symbol, order.ID, order.ClientID); err != nil {
			item.Err = err.Error()
			s.logger.Error("撤销止盈计划委托失败", zap.String("order_id", order.ID), zap.Error(err))
		}
		result.Items = append(result.Items, item)
	}

	return result, nil
}

// IsTakeProfitLike 判定一笔委托是否属于止盈类：
// 只减仓限价单、客户端编号带 tp 前缀、或交易所标记为盈利计划。
func IsTakeProfitLike(order exchange.Order) bool {
	if order.ReduceOnly && order.Type == "limit" {
		return true
	}
	if strings.HasPrefix(strings.ToLower(order.ClientID), "tp") {
		return true
	}
	switch strings.ToLower(order.PlanType) {
	case "profit_plan", "pos_profit", "profit_loss":
		return true
	}
	return false
}
