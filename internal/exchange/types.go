package exchange

import "time"

// ProductType 区分合约与现货市场。
type ProductType string

const (
	ProductContract ProductType = "contract"
	ProductSpot     ProductType = "spot"
)

// Market 描述一个可交易市场的元数据。
type Market struct {
	Symbol          string
	Base            string
	Quote           string
	Settle          string
	Product         ProductType
	Active          bool
	PriceStep       float64
	AmountStep      float64
	MinAmount       float64
	MaxAmount       float64
	MinPrice        float64
	MaxPrice        float64
	MinCost         float64
}

// Ticker 为最新行情。
type Ticker struct {
	Symbol    string    `json:"symbol"`
	Last      float64   `json:"last"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Timestamp time.Time `json:"timestamp"`
}

// Candle 代表单根K线。
type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// OrderBookLevel 表示盘口档位。
type OrderBookLevel struct {
	Price  float64 `json:"price"`
	Amount float64 `json:"amount"`
}

// OrderBookSnapshot 为订单簿快照。
type OrderBookSnapshot struct {
	Symbol    string           `json:"symbol"`
	Bids      []OrderBookLevel `json:"bids"`
	Asks      []OrderBookLevel `json:"asks"`
	Timestamp time.Time        `json:"timestamp"`
}

// Balance 描述单个币种的余额。
type Balance struct {
	Asset string  `json:"asset"`
	Free  float64 `json:"free"`
	Used  float64 `json:"used"`
	Total float64 `json:"total"`
}

// Position 为交易所返回的持仓投影，每次编排步骤前重新拉取，绝不跨步骤缓存。
type Position struct {
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"` // long | short
	Contracts     float64 `json:"contracts"`
	EntryPrice    float64 `json:"entryPrice"`
	MarkPrice     float64 `json:"markPrice"`
	Leverage      float64 `json:"leverage"`
	MarginMode    string  `json:"marginMode"`
	UnrealizedPnl float64 `json:"unrealizedPnl"`
}

// Order 为委托（含计划委托）的统一投影。
type Order struct {
	ID           string  `json:"id"`
	ClientID     string  `json:"clientId,omitempty"`
	Symbol       string  `json:"symbol"`
	Type         string  `json:"type"` // market | limit
	Side         string  `json:"side"` // buy | sell
	Price        float64 `json:"price"`
	Amount       float64 `json:"amount"`
	Filled       float64 `json:"filled"`
	ReduceOnly   bool    `json:"reduceOnly"`
	TriggerPrice float64 `json:"triggerPrice,omitempty"`
	PlanType     string  `json:"planType,omitempty"`
	Status       string  `json:"status"`
}

// OrderSpec 描述一次下单请求。零值字段表示不使用对应能力。
type OrderSpec struct {
	Symbol          string
	Type            string // market | limit
	Side            string // buy | sell
	Amount          float64
	Price           float64
	ReduceOnly      bool
	MarginMode      string // isolated | cross，空值沿用账户默认
	Hedged          bool   // 双向持仓账户下的开仓标记
	TriggerPrice    float64
	StopLossPrice   float64
	TakeProfitPrice float64
	ClientID        string
}
