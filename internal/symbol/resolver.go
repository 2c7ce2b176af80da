package symbol

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"bitget-trader/internal/exchange"
)

// ErrResolution 表示没有找到符合产品类型的可交易市场。
var ErrResolution = errors.New("symbol resolution failed")

// Resolve 把口语化的交易对名映射到交易所的规范符号。
//
// 优先级：
//  1. USDT 计价的精确匹配（合约带 :USDT 结算后缀）；
//  2. 同一基础币种补上标准 USDT 后缀；
//  3. 配置的保底符号；
//  4. 目录中第一个基础币种匹配的可交易市场。
func Resolve(catalog map[string]exchange.Market, token string, product exchange.ProductType, fallback string) (exchange.Market, error) {
	base, quote := splitToken(token)
	if base == "" {
		return exchange.Market{}, fmt.Errorf("%w: 交易对 %q 无效", ErrResolution, token)
	}

	var candidates []string
	if quote != "" {
		candidates = append(candidates, canonical(base, quote, product))
	}
	if quote != "USDT" {
		candidates = append(candidates, canonical(base, "USDT", product))
	}
	if fallback != "" {
		candidates = append(candidates, strings.ToUpper(fallback))
	}

	for _, candidate := range candidates {
		if m, ok := catalog[candidate]; ok && m.Active && m.Product == product {
			return m, nil
		}
	}

	// 目录遍历兜底：取字典序第一个基础币种匹配的市场，保证可复现。
	keys := make([]string, 0, len(catalog))
	for key := range catalog {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		m := catalog[key]
		if m.Active && m.Product == product && strings.EqualFold(m.Base, base) {
			return m, nil
		}
	}

	return exchange.Market{}, fmt.Errorf("%w: 找不到 %q 对应的%s市场", ErrResolution, token, productName(product))
}

func canonical(base, quote string, product exchange.ProductType) string {
	s := base + "/" + quote
	if product == exchange.ProductContract && quote == "USDT" {
		s += ":USDT"
	}
	return s
}

func splitToken(token string) (base, quote string) {
	token = strings.ToUpper(strings.TrimSpace(token))
	if token == "" {
		return "", ""
	}
	if idx := strings.Index(token, "/"); idx >= 0 {
		base = token[:idx]
		quote = token[idx+1:]
		if sep := strings.Index(quote, ":"); sep >= 0 {
			quote = quote[:sep]
		}
		return base, quote
	}
	// 无斜杠时尝试剥离常见计价后缀（如 btcusdt）。
	for _, suffix := range []string{"USDT", "USDC", "BTC", "ETH"} {
		if strings.HasSuffix(token, suffix) && len(token) > len(suffix) {
			return strings.TrimSuffix(token, suffix), suffix
		}
	}
	return token, ""
}

func productName(product exchange.ProductType) string {
	if product == exchange.ProductContract {
		return "合约"
	}
	return "现货"
}
