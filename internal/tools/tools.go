package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"bitget-trader/internal/app"
	"bitget-trader/internal/assist"
	"bitget-trader/internal/command"
	"bitget-trader/internal/config"
	"bitget-trader/internal/exchange"
	"bitget-trader/internal/market"
	"bitget-trader/internal/symbol"
)

// Registry 把交易与行情能力注册为自动化协议工具。
// 所有写操作最终都走 Runner 的统一分发，与命令行共用一条路径。
type Registry struct {
	runner   *app.Runner
	rewriter *assist.Rewriter
	cfg      *config.Config
	logger   *zap.Logger
}

// NewRegistry 创建工具注册器。rewriter 允许为 nil。
func NewRegistry(runner *app.Runner, rewriter *assist.Rewriter, cfg *config.Config, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{runner: runner, rewriter: rewriter, cfg: cfg, logger: logger}
}

// Register 把全部工具挂到服务器上。
func (r *Registry) Register(s *server.MCPServer) {
	s.AddTool(mcp.NewTool("get_price",
		mcp.WithDescription("查询指定交易对的最新行情（最新价、买一卖一、24h 高低与成交量）"),
		mcp.WithString("symbol", mcp.Required(), mcp.Description("交易对，如 btc/usdt")),
		mcp.WithBoolean("sandbox", mcp.Description("true 走模拟盘，缺省跟随环境配置")),
	), r.handleGetPrice)

	s.AddTool(mcp.NewTool("get_orderbook",
		mcp.WithDescription("查询指定交易对的盘口深度"),
		mcp.WithString("symbol", mcp.Required(), mcp.Description("交易对，如 btc/usdt")),
		mcp.WithNumber("depth", mcp.Description("档位数量，默认 50")),
		mcp.WithBoolean("sandbox", mcp.Description("true 走模拟盘，缺省跟随环境配置")),
	), r.handleGetOrderBook)

	s.AddTool(mcp.NewTool("get_candles",
		mcp.WithDescription("查询指定交易对的K线序列"),
		mcp.WithString("symbol", mcp.Required(), mcp.Description("交易对，如 btc/usdt")),
		mcp.WithString("timeframe", mcp.Description("K线周期，默认 1h")),
		mcp.WithNumber("limit", mcp.Description("K线数量，默认 100")),
		mcp.WithBoolean("sandbox", mcp.Description("true 走模拟盘，缺省跟随环境配置")),
	), r.handleGetCandles)

	s.AddTool(mcp.NewTool("get_market_snapshot",
		mcp.WithDescription("一次性获取行情、K线、盘口与常用技术指标（EMA/RSI/ATR/枢轴位）"),
		mcp.WithString("symbol", mcp.Required(), mcp.Description("交易对，如 btc/usdt")),
		mcp.WithString("timeframe", mcp.Description("K线周期，默认 1h")),
		mcp.WithBoolean("sandbox", mcp.Description("true 走模拟盘，缺省跟随环境配置")),
	), r.handleGetSnapshot)

	s.AddTool(mcp.NewTool("get_balance",
		mcp.WithDescription("查询账户余额"),
		mcp.WithBoolean("sandbox", mcp.Description("true 走模拟盘，缺省跟随环境配置")),
	), r.handleGetBalance)

	s.AddTool(mcp.NewTool("get_positions",
		mcp.WithDescription("查询当前持仓，可按交易对过滤"),
		mcp.WithString("symbol", mcp.Description("交易对过滤，留空返回全部")),
		mcp.WithBoolean("sandbox", mcp.Description("true 走模拟盘，缺省跟随环境配置")),
	), r.handleGetPositions)

	s.AddTool(mcp.NewTool("get_open_orders",
		mcp.WithDescription("查询当前挂单，包含普通挂单与计划委托"),
		mcp.WithString("symbol", mcp.Description("交易对过滤，留空返回全部")),
		mcp.WithBoolean("sandbox", mcp.Description("true 走模拟盘，缺省跟随环境配置")),
	), r.handleGetOpenOrders)

	s.AddTool(mcp.NewTool("place_trade",
		mcp.WithDescription("按指令文法执行一笔交易，例如：10x long btc/usdt @ market amount 0.01 sl -2% tp 1%,2%,3%。"+
			"支持 isolated/cross、oneway/hedged、sandbox、--resting、--dry-run 等修饰。"+
			"执行会依次完成进场、挂止损、挂多笔止盈并返回凭证。"),
		mcp.WithString("command", mcp.Required(), mcp.Description("一行交易指令")),
	), r.handlePlaceTrade)

	s.AddTool(mcp.NewTool("flatten_positions",
		mcp.WithDescription("以市价只减仓单平掉指定交易对的全部持仓"),
		mcp.WithString("symbol", mcp.Required(), mcp.Description("交易对，如 btc/usdt")),
		mcp.WithBoolean("sandbox", mcp.Description("true 走模拟盘，缺省跟随环境配置")),
	), r.handleFlatten)

	s.AddTool(mcp.NewTool("cancel_take_profits",
		mcp.WithDescription("撤销指定交易对的全部止盈挂单（普通挂单与计划委托）"),
		mcp.WithString("symbol", mcp.Required(), mcp.Description("交易对，如 btc/usdt")),
		mcp.WithBoolean("sandbox", mcp.Description("true 走模拟盘，缺省跟随环境配置")),
	), r.handleCancelTPs)

	s.AddTool(mcp.NewTool("set_leverage",
		mcp.WithDescription("设置指定交易对的杠杆倍数"),
		mcp.WithString("symbol", mcp.Required(), mcp.Description("交易对，如 btc/usdt")),
		mcp.WithNumber("leverage", mcp.Required(), mcp.Description("杠杆倍数")),
		mcp.WithBoolean("sandbox", mcp.Description("true 走模拟盘，缺省跟随环境配置")),
	), r.handleSetLeverage)
}

func (r *Registry) sandboxFor(req mcp.CallToolRequest) bool {
	return req.GetBool("sandbox", r.cfg.Exchange.UseSandbox)
}

// resolveMarket 取客户端并把用户写法解析成交易所正式交易对。
func (r *Registry) resolveMarket(ctx context.Context, sandbox bool, token string) (*exchange.Client, exchange.Market, error) {
	client, err := r.runner.Client(sandbox)
	if err != nil {
		return nil, exchange.Market{}, err
	}
	catalog, err := client.Markets(ctx)
	if err != nil {
		return nil, exchange.Market{}, err
	}
	resolved, err := symbol.Resolve(catalog, token, exchange.ProductContract, r.cfg.Trading.FallbackSymbol)
	if err != nil {
		return nil, exchange.Market{}, err
	}
	return client, resolved, nil
}

func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError("序列化结果失败: " + err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (r *Registry) handleGetPrice(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	token, err := req.RequireString("symbol")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	client, resolved, err := r.resolveMarket(ctx, r.sandboxFor(req), token)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	ticker, err := client.Ticker(ctx, resolved.Symbol)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(ticker)
}

func (r *Registry) handleGetOrderBook(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	token, err := req.RequireString("symbol")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	depth := int64(req.GetFloat("depth", 50))
	client, resolved, err := r.resolveMarket(ctx, r.sandboxFor(req), token)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	book, err := client.OrderBook(ctx, resolved.Symbol, depth)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(book)
}

func (r *Registry) handleGetCandles(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	token, err := req.RequireString("symbol")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	timeframe := req.GetString("timeframe", "1h")
	limit := int64(req.GetFloat("limit", 100))
	client, resolved, err := r.resolveMarket(ctx, r.sandboxFor(req), token)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	candles, err := client.Candles(ctx, resolved.Symbol, timeframe, limit)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(candles)
}

func (r *Registry) handleGetSnapshot(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	token, err := req.RequireString("symbol")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	client, resolved, err := r.resolveMarket(ctx, r.sandboxFor(req), token)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	svc := market.NewService(client, r.logger)
	snapshot, err := svc.GetSnapshot(ctx, resolved.Symbol, market.Request{
		Timeframe:      req.GetString("timeframe", "1h"),
		WithIndicators: true,
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(snapshot)
}

func (r *Registry) handleGetBalance(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	client, err := r.runner.Client(r.sandboxFor(req))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	balances, err := client.Balances(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(balances)
}

func (r *Registry) handleGetPositions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sandbox := r.sandboxFor(req)
	token := req.GetString("symbol", "")

	filter := ""
	client, err := r.runner.Client(sandbox)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if token != "" {
		var resolved exchange.Market
		client, resolved, err = r.resolveMarket(ctx, sandbox, token)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		filter = resolved.Symbol
	}

	positions, err := client.Positions(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(positions)
}

func (r *Registry) handleGetOpenOrders(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sandbox := r.sandboxFor(req)
	token := req.GetString("symbol", "")

	filter := ""
	client, err := r.runner.Client(sandbox)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if token != "" {
		var resolved exchange.Market
		client, resolved, err = r.resolveMarket(ctx, sandbox, token)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		filter = resolved.Symbol
	}

	regular, err := client.OpenOrders(ctx, filter, false)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	plans, err := client.OpenOrders(ctx, filter, true)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(append(regular, plans...))
}

func (r *Registry) handlePlaceTrade(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := req.RequireString("command")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	cmd, err := command.Parse(text)
	if err != nil && r.rewriter != nil {
		rewritten, rewriteErr := r.rewriter.Rewrite(ctx, text)
		if rewriteErr == nil {
			cmd, err = command.Parse(rewritten)
		}
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	outcome, err := r.runner.Dispatch(ctx, cmd)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	switch {
	case outcome.Report != nil:
		return jsonResult(outcome.Report)
	case outcome.Maintenance != nil:
		return jsonResult(outcome.Maintenance)
	default:
		return mcp.NewToolResultText(outcome.Message), nil
	}
}

func (r *Registry) handleFlatten(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return r.runMaintenance(ctx, req, command.KindFlatten)
}

func (r *Registry) handleCancelTPs(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return r.runMaintenance(ctx, req, command.KindCancelTPs)
}

func (r *Registry) runMaintenance(ctx context.Context, req mcp.CallToolRequest, kind command.Kind) (*mcp.CallToolResult, error) {
	token, err := req.RequireString("symbol")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	cmd := &command.Command{Kind: kind, Symbol: strings.TrimSpace(token)}
	if sandbox := r.sandboxFor(req); sandbox != r.cfg.Exchange.UseSandbox {
		cmd.Sandbox = &sandbox
	}

	outcome, err := r.runner.Dispatch(ctx, cmd)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(outcome.Maintenance)
}

func (r *Registry) handleSetLeverage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	token, err := req.RequireString("symbol")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	leverage, err := req.RequireFloat("leverage")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if leverage < 1 {
		return mcp.NewToolResultError("杠杆倍数必须不小于1"), nil
	}

	client, resolved, err := r.resolveMarket(ctx, r.sandboxFor(req), token)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := client.SetLeverage(ctx, resolved.Symbol, int(leverage)); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("%s 杠杆已设置为 %dx", resolved.Symbol, int(leverage))), nil
}
