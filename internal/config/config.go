package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	defaultConfigPath = "configs/config.yaml"
	envPrefix         = "bitget"
)

// Load 读取配置文件并结合环境变量返回 Config。
// 配置文件缺失时仅依赖默认值与环境变量，方便纯环境变量部署。
func Load(path string) (*Config, error) {
	v := viper.New()

	explicit := path != ""
	if path == "" {
		path = defaultConfigPath
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envPrefix)
	replacer := strings.NewReplacer(".", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		missing := errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)
		if !missing {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		if explicit {
			return nil, fmt.Errorf("未找到配置文件 %q: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "development")

	v.SetDefault("exchange.api_key", "")
	v.SetDefault("exchange.api_secret", "")
	v.SetDefault("exchange.api_password", "")
	v.SetDefault("exchange.use_sandbox", false)
	v.SetDefault("exchange.request_timeout", "15s")
	v.SetDefault("exchange.request_budget", 10)
	v.SetDefault("exchange.retry.max_attempts", 3)
	v.SetDefault("exchange.retry.min_delay", "500ms")
	v.SetDefault("exchange.retry.max_delay", "5s")

	v.SetDefault("trading.default_leverage", 1)
	v.SetDefault("trading.resting_depth_pct", 0.5)
	v.SetDefault("trading.fallback_symbol", "BTC/USDT:USDT")
	v.SetDefault("trading.fallback_spot_symbol", "BTC/USDT")

	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.model", "gpt-4.1-mini")
	v.SetDefault("openai.timeout", "15s")

	v.SetDefault("journal.enabled", false)
	v.SetDefault("journal.path", "data/journal.db")
	v.SetDefault("journal.max_open_conns", 2)
	v.SetDefault("journal.in_memory", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.output_paths", []string{"stderr"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
