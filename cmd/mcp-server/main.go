package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"bitget-trader/internal/app"
	"bitget-trader/internal/assist"
	"bitget-trader/internal/config"
	"bitget-trader/internal/journal"
	"bitget-trader/internal/log"
	"bitget-trader/internal/tools"
)

const serverVersion = "1.0.0"

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "配置文件路径，默认使用 configs/config.yaml")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	logger, err := log.NewLogger(cfg.Logging, "mcp-server")
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

	runner := app.NewRunner(cfg, logger, jnl)
	rewriter := assist.NewRewriter(cfg.OpenAI, logger)

	mcpServer := server.NewMCPServer(
		"bitget-trader",
		serverVersion,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	tools.NewRegistry(runner, rewriter, cfg, logger).Register(mcpServer)

	logger.Info("MCP 服务启动", zap.Bool("sandbox_default", cfg.Exchange.UseSandbox))

	// 协议走 stdio，日志只能落在 stderr 侧。
	if err := server.ServeStdio(mcpServer); err != nil {
		logger.Error("MCP 服务异常退出", zap.Error(err))
		os.Exit(1)
	}
}
