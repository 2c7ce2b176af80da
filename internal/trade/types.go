package trade

import (
	"bitget-trader/internal/command"
	"bitget-trader/internal/exchange"
)

// State 标记编排状态机所处的阶段。
type State int

const (
	StateResolving State = iota
	StatePreFlattening
	StateEntering
	StateAttachingStopLoss
	StateAttachingTakeProfits
	StateSummarizing
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateResolving:
		return "resolving"
	case StatePreFlattening:
		return "pre_flattening"
	case StateEntering:
		return "entering"
	case StateAttachingStopLoss:
		return "attaching_stop_loss"
	case StateAttachingTakeProfits:
		return "attaching_take_profits"
	case StateSummarizing:
		return "summarizing"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// stepResult 是每个编排步骤的归一化结论：成功、可恢复的
// 模式冲突、或致命失败。取代逐层嵌套的异常处理。
type stepResult int

const (
	stepOK stepResult = iota
	stepConflict
	stepFatal
)

// PlannedTP 为单个止盈目标的执行记录。
type PlannedTP struct {
	Index      int
	Target     command.Value
	Size       *command.Value // 用户显式给出的数量，nil 表示均分
	Price      float64
	Amount     float64
	ClientID   string
	Placed     bool
	SkipReason string
}

// OrderPlan 是编排器的工作状态：每次交易请求新建，
// 只被编排器修改，请求结束即丢弃，不跨调用持久化。
type OrderPlan struct {
	State        State
	Market       exchange.Market
	Side         command.Side
	EntryPrice   float64
	OpenType     string
	MarginMode   string
	Hedged       bool // 可能在执行中途因模式冲突回退翻转
	Quantity     float64
	RestingDepth string // 实际生效的让价深度，未让价时为空
	StopLoss     float64
	TakeProfits  []PlannedTP
	InlineTP     bool // 止盈随进场单一次性附带
	InlineSL     bool
	PlacedTPSize float64
	Warnings     []string
}

func (p *OrderPlan) warn(msg string) {
	p.Warnings = append(p.Warnings, msg)
}

// TPPreview 为 dry-run 模式下的止盈预览。
type TPPreview struct {
	Idx    int     `json:"idx"`
	Target string  `json:"target"`
	Price  float64 `json:"price"`
	Size   float64 `json:"size"`
}

// Report 是调用方可见的最终凭证：由于止损与止盈步骤允许
// 部分失败，真实结果以重新查询到的持仓与挂单为准。
type Report struct {
	Input        string              `json:"input"`
	Sandbox      bool                `json:"sandbox"`
	Symbol       string              `json:"symbol"`
	Side         string              `json:"side"`
	Leverage     int                 `json:"leverage"`
	MarginMode   string              `json:"marginMode"`
	PositionMode string              `json:"positionMode"`
	OrderType    string              `json:"orderType"`
	Amount       float64             `json:"amount"`
	EntryPrice   float64             `json:"entryPrice"`
	Resting      bool                `json:"resting"`
	RestingDepth string              `json:"restingDepth,omitempty"`
	Positions    []exchange.Position `json:"positions"`
	OpenOrders   []exchange.Order    `json:"openOrders"`
	TPPreview    []TPPreview         `json:"tpPreview,omitempty"`
	Warnings     []string            `json:"warnings,omitempty"`
	DryRun       bool                `json:"dryRun"`
}
