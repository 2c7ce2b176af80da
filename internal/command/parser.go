package command

import (
	"regexp"
	"strconv"
	"strings"
)

var leveragePattern = regexp.MustCompile(`^(\d+)x$`)

// Parse 将自由文本指令转换为结构化 Command。
// 纯函数：不访问网络，不读环境。无法识别的残余片段一律报错，
// 不做静默丢弃。
func Parse(raw string) (*Command, error) {
	tokens := strings.Fields(strings.ToLower(strings.TrimSpace(raw)))
	if len(tokens) == 0 {
		return nil, parseError("input", "指令为空")
	}

	switch tokens[0] {
	case "flatten":
		return parseFlatten(tokens[1:])
	case "cancel":
		return parseCancel(tokens[1:])
	}
	if tokens[0] == "spot" && len(tokens) > 1 && (tokens[1] == "borrow" || tokens[1] == "repay") {
		return parseMarginTransfer(tokens[1], tokens[2:])
	}

	return parseTrade(raw, tokens)
}

func parseFlatten(tokens []string) (*Command, error) {
	if len(tokens) == 0 {
		return nil, parseError("symbol", "flatten 需要指定交易对")
	}
	cmd := &Command{Kind: KindFlatten, Symbol: tokens[0]}
	for _, tok := range tokens[1:] {
		switch tok {
		case "sandbox", "demo":
			cmd.Sandbox = boolPtr(true)
		default:
			return nil, parseError("token", "无法识别的指令片段 %q", tok)
		}
	}
	return cmd, nil
}

func parseCancel(tokens []string) (*Command, error) {
	if len(tokens) == 0 || (tokens[0] != "tps" && tokens[0] != "tp") {
		return nil, parseError("input", "cancel 仅支持 cancel tps <symbol>")
	}
	if len(tokens) < 2 {
		return nil, parseError("symbol", "cancel tps 需要指定交易对")
	}
	cmd := &Command{Kind: KindCancelTPs, Symbol: tokens[1]}
	for _, tok := range tokens[2:] {
		switch tok {
		case "sandbox", "demo":
			cmd.Sandbox = boolPtr(true)
		default:
			return nil, parseError("token", "无法识别的指令片段 %q", tok)
		}
	}
	return cmd, nil
}

func parseMarginTransfer(verb string, tokens []string) (*Command, error) {
	if len(tokens) < 3 {
		return nil, parseError("input", "%s 需要资产、数量与保证金模式", verb)
	}

	amount, err := strconv.ParseFloat(tokens[1], 64)
	if err != nil || amount <= 0 {
		return nil, parseError("amount", "借还数量 %q 无效", tokens[1])
	}

	transfer := &MarginTransfer{
		Asset:  strings.ToUpper(tokens[0]),
		Amount: amount,
	}
	switch tokens[2] {
	case "cross":
		transfer.Cross = true
	case "isolated":
		transfer.Cross = false
	default:
		return nil, parseError("marginMode", "保证金模式须为 cross 或 isolated，收到 %q", tokens[2])
	}

	kind := KindBorrow
	if verb == "repay" {
		kind = KindRepay
	}
	cmd := &Command{Kind: kind, Transfer: transfer}

	for _, tok := range tokens[3:] {
		switch {
		case tok == "sandbox" || tok == "demo":
			cmd.Sandbox = boolPtr(true)
		case strings.Contains(tok, "/"):
			transfer.SymbolToken = tok
		default:
			return nil, parseError("token", "无法识别的指令片段 %q", tok)
		}
	}

	if !transfer.Cross && transfer.SymbolToken == "" {
		return nil, parseError("symbol", "逐仓借还必须指定交易对")
	}

	return cmd, nil
}

func parseTrade(raw string, tokens []string) (*Command, error) {
	intent := &TradingIntent{
		Raw:                 strings.TrimSpace(raw),
		Leverage:            1,
		AllowHedgedFallback: true,
	}

	i := 0
	for i < len(tokens) {
		tok := tokens[i]
		switch {
		case leveragePattern.MatchString(tok):
			lev, _ := strconv.Atoi(leveragePattern.FindStringSubmatch(tok)[1])
			if lev <= 0 {
				return nil, parseError("leverage", "杠杆必须为正整数")
			}
			intent.Leverage = lev
		case tok == "long" || tok == "buy":
			intent.Side = SideLong
		case tok == "short" || tok == "sell":
			intent.Side = SideShort
		case tok == "isolated":
			intent.MarginMode = MarginIsolated
		case tok == "cross":
			intent.MarginMode = MarginCross
		case tok == "oneway" || tok == "one-way":
			intent.PositionMode = PositionOneWay
		case tok == "hedged":
			intent.PositionMode = PositionHedged
		case tok == "@" || tok == "market" || tok == "limit" || strings.HasPrefix(tok, "@"):
			var err error
			i, err = parseEntry(intent, tokens, i)
			if err != nil {
				return nil, err
			}
		case tok == "amount" || tok == "size" || tok == "qty":
			if i+1 >= len(tokens) {
				return nil, parseError("quantity", "%s 后缺少数量", tok)
			}
			qty, err := strconv.ParseFloat(tokens[i+1], 64)
			if err != nil || qty <= 0 {
				return nil, parseError("quantity", "数量 %q 无效", tokens[i+1])
			}
			intent.Quantity = qty
			i++
		case tok == "sl" || tok == "stop" || tok == "stoploss":
			if i+1 >= len(tokens) {
				return nil, parseError("stopLoss", "sl 后缺少价格或百分比")
			}
			v, err := parseValue(tokens[i+1])
			if err != nil {
				return nil, parseError("stopLoss", "止损值 %q 无效", tokens[i+1])
			}
			intent.StopLoss = &v
			i++
		case tok == "tp" || tok == "tps" || tok == "takeprofit":
			next, err := parseTakeProfits(intent, tokens, i+1)
			if err != nil {
				return nil, err
			}
			i = next
			continue
		case tok == "sandbox" || tok == "demo":
			intent.Sandbox = boolPtr(true)
		case tok == "spot":
			intent.Spot = true
		case tok == "--resting":
			intent.Resting = true
		case tok == "--resting-depth":
			if i+1 >= len(tokens) {
				return nil, parseError("restingDepth", "--resting-depth 后缺少数值")
			}
			v, err := parseValue(tokens[i+1])
			if err != nil {
				return nil, parseError("restingDepth", "挂单深度 %q 无效", tokens[i+1])
			}
			intent.RestingDepth = &v
			intent.Resting = true
			i++
		case tok == "--oneway-strict":
			intent.OneWayStrict = true
			if intent.PositionMode == PositionUnset {
				intent.PositionMode = PositionOneWay
			}
		case tok == "--no-hedged-fallback":
			intent.AllowHedgedFallback = false
		case tok == "--dry-run":
			intent.DryRun = true
		case tok == "--json":
			intent.JSONOutput = true
		case strings.Contains(tok, "/"):
			if intent.SymbolToken != "" {
				return nil, parseError("symbol", "交易对出现多次: %q 与 %q", intent.SymbolToken, tok)
			}
			intent.SymbolToken = tok
		default:
			return nil, parseError("token", "无法识别的指令片段 %q", tok)
		}
		i++
	}

	if intent.Side == SideUnset && intent.SymbolToken == "" {
		return nil, parseError("input", "缺少方向与交易对，无法推断交易意图")
	}
	if intent.Side == SideUnset {
		return nil, parseError("side", "缺少方向（long/short/buy/sell）")
	}
	if intent.SymbolToken == "" {
		return nil, parseError("symbol", "缺少交易对")
	}
	if intent.EntryType == EntryLimit && intent.EntryPrice <= 0 && !intent.Resting {
		return nil, parseError("entryPrice", "限价单必须给出价格")
	}

	return &Command{Kind: KindTrade, Intent: intent, Sandbox: intent.Sandbox}, nil
}

// parseEntry 处理 "@ <market|limit [price]>" 片段，返回最后消费的下标。
func parseEntry(intent *TradingIntent, tokens []string, i int) (int, error) {
	tok := tokens[i]
	if tok == "@" {
		if i+1 >= len(tokens) {
			return i, parseError("entryType", "@ 后缺少 market 或 limit")
		}
		i++
		tok = tokens[i]
	}
	tok = strings.TrimPrefix(tok, "@")

	switch tok {
	case "market":
		intent.EntryType = EntryMarket
	case "limit":
		intent.EntryType = EntryLimit
		if i+1 < len(tokens) {
			if price, err := strconv.ParseFloat(tokens[i+1], 64); err == nil {
				if price <= 0 {
					return i, parseError("entryPrice", "限价必须为正")
				}
				intent.EntryPrice = price
				i++
			}
		}
	default:
		return i, parseError("entryType", "进场方式须为 market 或 limit，收到 %q", tok)
	}
	return i, nil
}

// parseTakeProfits 收集 tp 之后的目标列表，支持空格或逗号分隔，
// 每个目标可用 @ 或 : 附带委托数量。返回下一个未消费的下标。
func parseTakeProfits(intent *TradingIntent, tokens []string, i int) (int, error) {
	if i >= len(tokens) {
		return i, parseError("takeProfits", "tp 后缺少目标列表")
	}

	var parts []string
	expectMore := true
	for i < len(tokens) {
		tok := tokens[i]
		if tok == "," {
			expectMore = true
			i++
			continue
		}
		trimmed := strings.Trim(tok, ",")
		if !expectMore && !strings.HasPrefix(tok, ",") {
			break
		}
		if !looksLikeTPItem(trimmed) {
			break
		}
		for _, piece := range strings.Split(trimmed, ",") {
			if piece != "" {
				parts = append(parts, piece)
			}
		}
		expectMore = strings.HasSuffix(tok, ",")
		i++
	}

	if len(parts) == 0 {
		return i, parseError("takeProfits", "tp 后缺少目标列表")
	}

	for _, part := range parts {
		tp, err := parseTakeProfit(part)
		if err != nil {
			return i, err
		}
		intent.TakeProfits = append(intent.TakeProfits, tp)
	}
	return i, nil
}

func parseTakeProfit(s string) (TakeProfit, error) {
	target := s
	var size string
	for _, sep := range []string{"@", ":"} {
		if idx := strings.Index(s, sep); idx >= 0 {
			target = s[:idx]
			size = s[idx+1:]
			break
		}
	}

	tv, err := parseValue(target)
	if err != nil {
		return TakeProfit{}, parseError("takeProfits", "止盈目标 %q 无效", target)
	}
	tp := TakeProfit{Target: tv}

	if size != "" {
		sv, err := parseValue(size)
		if err != nil {
			return TakeProfit{}, parseError("takeProfits", "止盈数量 %q 无效", size)
		}
		if sv.Amount <= 0 {
			return TakeProfit{}, parseError("takeProfits", "止盈数量必须为正")
		}
		tp.Size = &sv
	}
	return tp, nil
}

func looksLikeTPItem(s string) bool {
	if s == "" {
		return false
	}
	c := s[0]
	return c == '+' || c == '-' || (c >= '0' && c <= '9') || c == '.'
}

func parseValue(s string) (Value, error) {
	if s == "" {
		return Value{}, parseError("value", "数值为空")
	}
	v := Value{
		Signed:  strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-"),
		Percent: strings.HasSuffix(s, "%"),
	}
	num := strings.TrimSuffix(s, "%")
	amount, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return Value{}, err
	}
	v.Amount = amount
	return v, nil
}

func boolPtr(v bool) *bool {
	return &v
}
