package config

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Exchange ExchangeConfig `mapstructure:"exchange"`
	Trading  TradingConfig  `mapstructure:"trading"`
	OpenAI   OpenAIConfig   `mapstructure:"openai"`
	Journal  JournalConfig  `mapstructure:"journal"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// ExchangeConfig 描述 Bitget 连接信息。
type ExchangeConfig struct {
	APIKey         string        `mapstructure:"api_key"`
	APISecret      string        `mapstructure:"api_secret"`
	APIPass        string        `mapstructure:"api_password"`
	UseSandbox     bool          `mapstructure:"use_sandbox"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RequestBudget  int           `mapstructure:"request_budget"`
	Retry          RetryConfig   `mapstructure:"retry"`
}

// RetryConfig 统一控制重试机制。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// TradingConfig 控制下单的默认行为。
type TradingConfig struct {
	DefaultLeverage    int     `mapstructure:"default_leverage"`
	RestingDepthPct    float64 `mapstructure:"resting_depth_pct"`
	FallbackSymbol     string  `mapstructure:"fallback_symbol"`
	FallbackSpotSymbol string  `mapstructure:"fallback_spot_symbol"`
}

// OpenAIConfig 描述大模型调用参数，用于指令改写（可选）。
type OpenAIConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Enabled 判断指令改写功能是否开启。
func (c OpenAIConfig) Enabled() bool {
	return c.APIKey != ""
}

// JournalConfig 管理本地审计流水库。
type JournalConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Path         string `mapstructure:"path"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	InMemory     bool   `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if c.Exchange.RequestTimeout <= 0 {
		err = multierr.Append(err, errors.New("exchange.request_timeout 必须大于0"))
	}
	if c.Exchange.RequestBudget <= 0 {
		err = multierr.Append(err, errors.New("exchange.request_budget 必须大于0"))
	}
	if c.Exchange.Retry.MaxAttempts <= 0 {
		err = multierr.Append(err, errors.New("exchange.retry.max_attempts 必须大于0"))
	}
	if c.Exchange.Retry.MinDelay <= 0 || c.Exchange.Retry.MaxDelay <= 0 {
		err = multierr.Append(err, errors.New("exchange.retry.delay 必须为正"))
	}
	if c.Exchange.Retry.MinDelay > c.Exchange.Retry.MaxDelay {
		err = multierr.Append(err, errors.New("exchange.retry.min_delay 不能大于 max_delay"))
	}
	if c.Trading.DefaultLeverage <= 0 {
		err = multierr.Append(err, errors.New("trading.default_leverage 必须大于0"))
	}
	if c.Trading.RestingDepthPct <= 0 || c.Trading.RestingDepthPct >= 100 {
		err = multierr.Append(err, errors.New("trading.resting_depth_pct 必须位于(0,100)"))
	}
	if c.Trading.FallbackSymbol == "" {
		err = multierr.Append(err, errors.New("trading.fallback_symbol 不能为空"))
	}
	if c.OpenAI.Enabled() {
		if c.OpenAI.Model == "" {
			err = multierr.Append(err, errors.New("openai.model 不能为空"))
		}
		if c.OpenAI.Timeout <= 0 {
			err = multierr.Append(err, errors.New("openai.timeout 必须大于0"))
		}
	}
	if c.Journal.Enabled {
		if c.Journal.Path == "" && !c.Journal.InMemory {
			err = multierr.Append(err, errors.New("journal.path 不能为空"))
		}
		if c.Journal.MaxOpenConns <= 0 {
			err = multierr.Append(err, errors.New("journal.max_open_conns 必须大于0"))
		}
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}
