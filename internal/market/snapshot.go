package market

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"bitget-trader/internal/exchange"
)

type dataClient interface {
	Ticker(ctx context.Context, symbol string) (exchange.Ticker, error)
	Candles(ctx context.Context, symbol, timeframe string, limit int64) ([]exchange.Candle, error)
	OrderBook(ctx context.Context, symbol string, depth int64) (exchange.OrderBookSnapshot, error)
}

// Snapshot 聚合行情、K线、盘口与指标，用于工具端的市场概览。
type Snapshot struct {
	Symbol      string                    `json:"symbol"`
	Ticker      exchange.Ticker           `json:"ticker"`
	Candles     []exchange.Candle         `json:"candles"`
	OrderBook   exchange.OrderBookSnapshot `json:"orderBook"`
	Indicators  *IndicatorSet             `json:"indicators,omitempty"`
	RetrievedAt time.Time                 `json:"retrievedAt"`
}

// Request 控制一次快照采集的参数。
type Request struct {
	Timeframe      string
	CandleLimit    int64
	OrderBookDepth int64
	WithIndicators bool
}

// Service 并发采集市场数据。行情读取彼此独立，可以安全并行；
// 与订单编排不同，这里没有顺序依赖。
type Service struct {
	client dataClient
	logger *zap.Logger
}

// NewService 创建市场数据服务。
func NewService(client dataClient, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{client: client, logger: logger}
}

// GetSnapshot 拉取指定交易对的市场快照。
func (s *Service) GetSnapshot(ctx context.Context, symbol string, req Request) (Snapshot, error) {
	if req.Timeframe == "" {
		req.Timeframe = "1h"
	}
	if req.CandleLimit <= 0 {
		req.CandleLimit = 100
	}
	if req.OrderBookDepth <= 0 {
		req.OrderBookDepth = 50
	}

	var (
		ticker    exchange.Ticker
		candles   []exchange.Candle
		orderBook exchange.OrderBookSnapshot
	)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		data, err := s.client.Ticker(groupCtx, symbol)
		if err != nil {
			return err
		}
		ticker = data
		return nil
	})

	group.Go(func() error {
		data, err := s.client.Candles(groupCtx, symbol, req.Timeframe, req.CandleLimit)
		if err != nil {
			return err
		}
		candles = data
		return nil
	})

	group.Go(func() error {
		data, err := s.client.OrderBook(groupCtx, symbol, req.OrderBookDepth)
		if err != nil {
			return err
		}
		orderBook = data
		return nil
	})

	if err := group.Wait(); err != nil {
		return Snapshot{}, err
	}

	snapshot := Snapshot{
		Symbol:      symbol,
		Ticker:      ticker,
		Candles:     candles,
		OrderBook:   orderBook,
		RetrievedAt: time.Now().UTC(),
	}
	if req.WithIndicators {
		snapshot.Indicators = ComputeIndicators(candles)
	}

	s.logger.Debug("市场快照采集完成",
		zap.String("symbol", symbol),
		zap.String("timeframe", req.Timeframe),
		zap.Int("candles", len(candles)),
	)
	return snapshot, nil
}
