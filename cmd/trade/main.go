package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"bitget-trader/internal/app"
	"bitget-trader/internal/assist"
	"bitget-trader/internal/command"
	"bitget-trader/internal/config"
	"bitget-trader/internal/journal"
	"bitget-trader/internal/log"
	"bitget-trader/internal/summary"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "配置文件路径，默认使用 configs/config.yaml")
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "用法: trade [-config path] <指令>")
		fmt.Fprintln(os.Stderr, `示例: trade "10x long btc/usdt @ market amount 0.01 sl -2% tp 1%,2%"`)
		os.Exit(1)
	}

	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	logger, err := log.NewLogger(cfg.Logging, "trade")
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer func(logger *zap.Logger) {
		_ = logger.Sync()
	}(logger)

	jnl, err := journal.Open(cfg.Journal, logger)
	if err != nil {
		logger.Error("初始化审计流水失败", zap.Error(err))
		os.Exit(1)
	}
	defer func() {
		if closeErr := jnl.Close(); closeErr != nil {
			logger.Warn("关闭审计流水失败", zap.Error(closeErr))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	text := strings.Join(flag.Args(), " ")
	cmd, err := command.Parse(text)
	if err != nil {
		rewriter := assist.NewRewriter(cfg.OpenAI, logger)
		if rewriter != nil {
			rewritten, rewriteErr := rewriter.Rewrite(ctx, text)
			if rewriteErr == nil {
				cmd, err = command.Parse(rewritten)
			}
		}
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	runner := app.NewRunner(cfg, logger, jnl)
	outcome, err := runner.Dispatch(ctx, cmd)
	if err != nil {
		logger.Error("指令执行失败", zap.String("command", text), zap.Error(err))
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	if err := render(outcome); err != nil {
		fmt.Fprintf(os.Stderr, "输出结果失败: %v\n", err)
		os.Exit(1)
	}
}

// render 把结果写到 stdout。JSON 模式下 stdout 只含结构化载荷，
// 警告一律走 stderr。
func render(outcome *app.Outcome) error {
	switch {
	case outcome.Report != nil:
		for _, warning := range outcome.Report.Warnings {
			fmt.Fprintf(os.Stderr, "警告: %s\n", warning)
		}
		if outcome.JSONOutput {
			return summary.RenderJSON(os.Stdout, outcome.Report)
		}
		return summary.RenderText(os.Stdout, outcome.Report)
	case outcome.Maintenance != nil:
		return summary.RenderMaintenance(os.Stdout, outcome.Title, *outcome.Maintenance, outcome.JSONOutput)
	default:
		_, err := fmt.Fprintln(os.Stdout, outcome.Message)
		return err
	}
}
