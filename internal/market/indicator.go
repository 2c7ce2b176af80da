package market

import (
	talib "github.com/markcheno/go-talib"

	"bitget-trader/internal/exchange"
)

// IndicatorSet 为快照附带的常用技术指标终值。
type IndicatorSet struct {
	EMA20   float64 `json:"ema20"`
	EMA50   float64 `json:"ema50"`
	RSI14   float64 `json:"rsi14"`
	ATR14   float64 `json:"atr14"`
	PivotR1 float64 `json:"pivotR1"`
	PivotS1 float64 `json:"pivotS1"`
	Pivot   float64 `json:"pivot"`
}

const minIndicatorCandles = 51

// ComputeIndicators 基于K线序列计算指标。样本不足时返回 nil，
// 不输出半截结果。
func ComputeIndicators(candles []exchange.Candle) *IndicatorSet {
	if len(candles) < minIndicatorCandles {
		return nil
	}

	closes := make([]float64, len(candles))
	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
		highs[i] = c.High
		lows[i] = c.Low
	}

	ema20 := talib.Ema(closes, 20)
	ema50 := talib.Ema(closes, 50)
	rsi14 := talib.Rsi(closes, 14)
	atr14 := talib.Atr(highs, lows, closes, 14)

	last := len(candles) - 1
	prev := candles[last-1]
	pivot := (prev.High + prev.Low + prev.Close) / 3

	return &IndicatorSet{
		EMA20:   ema20[last],
		EMA50:   ema50[last],
		RSI14:   rsi14[last],
		ATR14:   atr14[last],
		Pivot:   pivot,
		PivotR1: 2*pivot - prev.Low,
		PivotS1: 2*pivot - prev.High,
	}
}
