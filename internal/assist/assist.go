package assist

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"bitget-trader/internal/config"
)

const systemPrompt = `你是交易指令改写助手。把用户的自然语言交易描述改写成如下文法的一行指令，只输出指令本身，不要解释：
<N>x <long|short> <base>/<quote> [isolated|cross] [oneway|hedged] @ <market|limit [price]> [amount <qty>] [sl <price|±pct%>] [tp <target[@size]>[, ...]] [sandbox] [--resting] [--dry-run] [--json]
维护指令：flatten <symbol> [sandbox]、cancel tps <symbol> [sandbox]。
无法确定方向或交易对时输出 UNPARSEABLE。`

// Rewriter 调用大模型把自由文本改写成规范指令文法。
// 解析器本身保持纯函数，这里只是失败后的可选补救。
type Rewriter struct {
	client *openai.Client
	cfg    config.OpenAIConfig
	logger *zap.Logger
}

// NewRewriter 创建改写器，配置未启用时返回 nil。
func NewRewriter(cfg config.OpenAIConfig, logger *zap.Logger) *Rewriter {
	if !cfg.Enabled() {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &Rewriter{
		client: openai.NewClientWithConfig(clientCfg),
		cfg:    cfg,
		logger: logger,
	}
}

// Rewrite 返回规范化后的指令文本。
func (r *Rewriter) Rewrite(ctx context.Context, text string) (string, error) {
	if r == nil {
		return "", fmt.Errorf("指令改写未启用")
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	resp, err := r.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       r.cfg.Model,
		Temperature: 0,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
	})
	if err != nil {
		return "", fmt.Errorf("指令改写请求失败: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("指令改写返回为空")
	}

	rewritten := strings.TrimSpace(resp.Choices[0].Message.Content)
	if rewritten == "" || strings.EqualFold(rewritten, "UNPARSEABLE") {
		return "", fmt.Errorf("模型无法改写该指令")
	}

	r.logger.Info("指令已改写", zap.String("from", text), zap.String("to", rewritten))
	return rewritten, nil
}
