package trade

import (
	"math"

	"bitget-trader/internal/command"
)

// resolveOffsetPrice 把价格或百分比解析为绝对价格。
//
// 约定（沿用既有习惯，刻意不做对称化）：
//   - 带符号百分比严格按 entry*(1+pct/100) 套用，方向与仓位无关；
//   - 无符号止盈百分比朝盈利方向移动（多头向上、空头向下）；
//   - 无符号止损百分比朝亏损方向移动（多头向下、空头向上）。
func resolveOffsetPrice(entry float64, v command.Value, side command.Side, profit bool) float64 {
	if !v.Percent {
		return v.Amount
	}

	pct := v.Amount
	if !v.Signed {
		magnitude := math.Abs(pct)
		up := (side == command.SideLong) == profit
		if up {
			pct = magnitude
		} else {
			pct = -magnitude
		}
	}
	return entry * (1 + pct/100)
}

// restingOffset 计算挂单让价的绝对偏移量。
func restingOffset(base float64, depth command.Value) float64 {
	if depth.Percent {
		return base * math.Abs(depth.Amount) / 100
	}
	return math.Abs(depth.Amount)
}
