package app

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"bitget-trader/internal/command"
	"bitget-trader/internal/config"
	"bitget-trader/internal/exchange"
	"bitget-trader/internal/journal"
	"bitget-trader/internal/maintenance"
	"bitget-trader/internal/symbol"
	"bitget-trader/internal/trade"
)

// Outcome 为一次指令执行的结果，交由格式化层输出。
type Outcome struct {
	Report      *trade.Report
	Maintenance *maintenance.Result
	Title       string
	Message     string
	JSONOutput  bool
}

// Runner 聚合核心依赖，把解析后的指令分发到编排器或维护
// 操作。实盘与模拟盘各持一个客户端，按需惰性创建。
type Runner struct {
	cfg     *config.Config
	logger  *zap.Logger
	journal *journal.Journal

	clientMu sync.Mutex
	clients  map[bool]*exchange.Client
}

// NewRunner 创建 Runner。journal 允许为 nil。
func NewRunner(cfg *config.Config, logger *zap.Logger, jnl *journal.Journal) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		cfg:     cfg,
		logger:  logger,
		journal: jnl,
		clients: make(map[bool]*exchange.Client),
	}
}

// Client 返回指定盘口的交易所客户端。
func (r *Runner) Client(sandbox bool) (*exchange.Client, error) {
	r.clientMu.Lock()
	defer r.clientMu.Unlock()

	if client, ok := r.clients[sandbox]; ok {
		return client, nil
	}
	client, err := exchange.NewClient(r.cfg.Exchange, sandbox, r.logger)
	if err != nil {
		return nil, err
	}
	r.clients[sandbox] = client
	return client, nil
}

// Dispatch 执行一条指令并返回结果。
func (r *Runner) Dispatch(ctx context.Context, cmd *command.Command) (*Outcome, error) {
	switch cmd.Kind {
	case command.KindTrade:
		return r.runTrade(ctx, cmd.Intent)
	case command.KindFlatten:
		return r.runFlatten(ctx, cmd)
	case command.KindCancelTPs:
		return r.runCancelTPs(ctx, cmd)
	case command.KindBorrow, command.KindRepay:
		return r.runMarginTransfer(ctx, cmd)
	default:
		return nil, fmt.Errorf("未知指令类型 %d", cmd.Kind)
	}
}

// sandboxFor 决定本次指令走实盘还是模拟盘：指令显式指定
// 优先，否则落回环境默认。启动后不再重读环境。
func (r *Runner) sandboxFor(explicit *bool) bool {
	if explicit != nil {
		return *explicit
	}
	return r.cfg.Exchange.UseSandbox
}

func (r *Runner) runTrade(ctx context.Context, intent *command.TradingIntent) (*Outcome, error) {
	sandbox := r.sandboxFor(intent.Sandbox)

	client, err := r.Client(sandbox)
	if err != nil {
		return nil, err
	}

	catalog, err := client.Markets(ctx)
	if err != nil {
		return nil, err
	}

	product := exchange.ProductContract
	fallback := r.cfg.Trading.FallbackSymbol
	if intent.Spot {
		product = exchange.ProductSpot
		fallback = r.cfg.Trading.FallbackSpotSymbol
	}

	market, err := symbol.Resolve(catalog, intent.SymbolToken, product, fallback)
	if err != nil {
		return nil, err
	}

	orchestrator := trade.NewOrchestrator(client, r.cfg.Trading, r.logger)
	report, err := orchestrator.Execute(ctx, intent, market, sandbox)

	r.record(ctx, journal.Entry{
		Command: intent.Raw,
		Kind:    "trade",
		Symbol:  market.Symbol,
		Sandbox: sandbox,
		Outcome: outcomeLabel(err, report != nil && report.DryRun),
		Err:     errText(err),
	})
	if err != nil {
		return nil, err
	}

	return &Outcome{Report: report, JSONOutput: intent.JSONOutput}, nil
}

func (r *Runner) runFlatten(ctx context.Context, cmd *command.Command) (*Outcome, error) {
	sandbox := r.sandboxFor(cmd.Sandbox)
	svc, market, err := r.maintenanceFor(ctx, sandbox, cmd.Symbol)
	if err != nil {
		return nil, err
	}

	result, err := svc.Flatten(ctx, market.Symbol)
	r.record(ctx, journal.Entry{
		Command: "flatten " + cmd.Symbol,
		Kind:    "flatten",
		Symbol:  market.Symbol,
		Sandbox: sandbox,
		Outcome: outcomeLabel(err, false),
		Err:     errText(err),
	})
	if err != nil {
		return nil, err
	}
	return &Outcome{Maintenance: &result, Title: "平仓"}, nil
}

func (r *Runner) runCancelTPs(ctx context.Context, cmd *command.Command) (*Outcome, error) {
	sandbox := r.sandboxFor(cmd.Sandbox)
	svc, market, err := r.maintenanceFor(ctx, sandbox, cmd.Symbol)
	if err != nil {
		return nil, err
	}

	result, err := svc.CancelTakeProfits(ctx, market.Symbol)
	r.record(ctx, journal.Entry{
		Command: "cancel tps " + cmd.Symbol,
		Kind:    "cancel_tps",
		Symbol:  market.Symbol,
		Sandbox: sandbox,
		Outcome: outcomeLabel(err, false),
		Err:     errText(err),
	})
	if err != nil {
		return nil, err
	}
	return &Outcome{Maintenance: &result, Title: "撤销止盈"}, nil
}

func (r *Runner) runMarginTransfer(ctx context.Context, cmd *command.Command) (*Outcome, error) {
	sandbox := r.sandboxFor(cmd.Sandbox)
	client, err := r.Client(sandbox)
	if err != nil {
		return nil, err
	}

	transfer := cmd.Transfer
	pair := ""
	if transfer.SymbolToken != "" {
		catalog, err := client.Markets(ctx)
		if err != nil {
			return nil, err
		}
		market, err := symbol.Resolve(catalog, transfer.SymbolToken, exchange.ProductSpot, r.cfg.Trading.FallbackSpotSymbol)
		if err != nil {
			return nil, err
		}
		pair = market.Symbol
	}

	verb := "borrow"
	if cmd.Kind == command.KindRepay {
		verb = "repay"
		err = client.RepayMargin(ctx, transfer.Asset, transfer.Amount, transfer.Cross, pair)
	} else {
		err = client.BorrowMargin(ctx, transfer.Asset, transfer.Amount, transfer.Cross, pair)
	}

	r.record(ctx, journal.Entry{
		Command: fmt.Sprintf("spot %s %s %g", verb, transfer.Asset, transfer.Amount),
		Kind:    verb,
		Symbol:  pair,
		Sandbox: sandbox,
		Outcome: outcomeLabel(err, false),
		Err:     errText(err),
	})
	if err != nil {
		return nil, err
	}

	return &Outcome{Message: fmt.Sprintf("%s %g %s 完成", verb, transfer.Amount, transfer.Asset)}, nil
}

func (r *Runner) maintenanceFor(ctx context.Context, sandbox bool, token string) (*maintenance.Service, exchange.Market, error) {
	client, err := r.Client(sandbox)
	if err != nil {
		return nil, exchange.Market{}, err
	}
	catalog, err := client.Markets(ctx)
	if err != nil {
		return nil, exchange.Market{}, err
	}
	market, err := symbol.Resolve(catalog, token, exchange.ProductContract, r.cfg.Trading.FallbackSymbol)
	if err != nil {
		return nil, exchange.Market{}, err
	}
	return maintenance.NewService(client, r.logger), market, nil
}

func (r *Runner) record(ctx context.Context, entry journal.Entry) {
	if r.journal != nil {
		r.journal.Record(ctx, entry)
	}
}

func outcomeLabel(err error, dryRun bool) string {
	switch {
	case err != nil:
		return "failed"
	case dryRun:
		return "dry_run"
	default:
		return "completed"
	}
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
