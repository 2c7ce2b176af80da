package symbol

import (
	"github.com/shopspring/decimal"

	"bitget-trader/internal/exchange"
)

// roundToStep 把数值向下对齐到步长的整数倍。
// 浮点步长直接取模会累积误差，这里走 decimal。
func roundToStep(value, step float64) float64 {
	if step <= 0 || value <= 0 {
		return value
	}
	d := decimal.NewFromFloat(value)
	s := decimal.NewFromFloat(step)
	result, _ := d.Div(s).Floor().Mul(s).Float64()
	return result
}

// RoundPrice 按市场价格精度对齐并夹取到价格上下界。
func RoundPrice(m exchange.Market, price float64) float64 {
	price = roundToStep(price, m.PriceStep)
	if m.MinPrice > 0 && price < m.MinPrice {
		price = m.MinPrice
	}
	if m.MaxPrice > 0 && price > m.MaxPrice {
		price = m.MaxPrice
	}
	return price
}

// RoundAmount 按市场数量精度对齐并夹取到数量上界。
// 低于最小下单量的结果不在这里拦截，由调用方决定跳过或报错。
func RoundAmount(m exchange.Market, amount float64) float64 {
	amount = roundToStep(amount, m.AmountStep)
	if m.MaxAmount > 0 && amount > m.MaxAmount {
		amount = m.MaxAmount
	}
	return amount
}

// BelowMinimum 判断数量是否低于市场最小下单量。
func BelowMinimum(m exchange.Market, amount float64) bool {
	if amount <= 0 {
		return true
	}
	return m.MinAmount > 0 && amount < m.MinAmount
}
