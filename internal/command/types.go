package command

import "fmt"

// Kind 区分指令类别。
type Kind int

const (
	KindTrade Kind = iota
	KindFlatten
	KindCancelTPs
	KindBorrow
	KindRepay
)

// Side 表示交易方向。buy/sell 按保证金交易语义映射到 long/short。
type Side int

const (
	SideUnset Side = iota
	SideLong
	SideShort
)

// String 输出交易所使用的方向名。
func (s Side) String() string {
	switch s {
	case SideLong:
		return "long"
	case SideShort:
		return "short"
	default:
		return ""
	}
}

// EntryType 表示进场方式。
type EntryType int

const (
	EntryMarket EntryType = iota
	EntryLimit
)

func (t EntryType) String() string {
	if t == EntryLimit {
		return "limit"
	}
	return "market"
}

// MarginMode 表示保证金模式。
type MarginMode int

const (
	MarginUnset MarginMode = iota
	MarginIsolated
	MarginCross
)

func (m MarginMode) String() string {
	switch m {
	case MarginIsolated:
		return "isolated"
	case MarginCross:
		return "cross"
	default:
		return ""
	}
}

// PositionMode 表示持仓模式。
type PositionMode int

const (
	PositionUnset PositionMode = iota
	PositionOneWay
	PositionHedged
)

func (p PositionMode) String() string {
	switch p {
	case PositionOneWay:
		return "oneway"
	case PositionHedged:
		return "hedged"
	default:
		return ""
	}
}

// Value 表示一个数值，可以是绝对值或百分比。
// Signed 记录用户是否显式写了正负号：带符号的百分比
// 按原样套用，不带符号的百分比方向由仓位方向推断。
type Value struct {
	Amount  float64
	Percent bool
	Signed  bool
}

// String 按输入习惯回显数值。
func (v Value) String() string {
	if v.Percent {
		if v.Signed && v.Amount > 0 {
			return fmt.Sprintf("+%g%%", v.Amount)
		}
		return fmt.Sprintf("%g%%", v.Amount)
	}
	return fmt.Sprintf("%g", v.Amount)
}

// TakeProfit 描述单个止盈目标，Size 为空表示按剩余敞口均分。
type TakeProfit struct {
	Target Value
	Size   *Value
}

// TradingIntent 为解析产物，构造后只读。
type TradingIntent struct {
	Raw                 string
	Leverage            int
	Side                Side
	EntryType           EntryType
	EntryPrice          float64
	SymbolToken         string
	Quantity            float64
	StopLoss            *Value
	TakeProfits         []TakeProfit
	MarginMode          MarginMode
	PositionMode        PositionMode
	Sandbox             *bool
	Spot                bool
	Resting             bool
	RestingDepth        *Value
	OneWayStrict        bool
	AllowHedgedFallback bool
	DryRun              bool
	JSONOutput          bool
}

// MarginTransfer 描述现货杠杆借还请求。
type MarginTransfer struct {
	Asset       string
	Amount      float64
	Cross       bool
	SymbolToken string
}

// Command 为一次完整的指令。
type Command struct {
	Kind     Kind
	Intent   *TradingIntent
	Symbol   string
	Transfer *MarginTransfer
	Sandbox  *bool
}

// ParseError 标明缺失或歧义的字段，解析失败不会触发任何交易所调用。
type ParseError struct {
	Field   string
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("指令解析失败 [%s]: %s", e.Field, e.Message)
}

func parseError(field, format string, args ...interface{}) *ParseError {
	return &ParseError{Field: field, Message: fmt.Sprintf(format, args...)}
}
