package summary

import (
	"encoding/json"
	"fmt"
	"io"

	"bitget-trader/internal/maintenance"
	"bitget-trader/internal/trade"
)

// RenderJSON 把交易凭证以 JSON 输出。stdout 必须保持为干净的
// 结构化载荷，警告一律走日志侧。
func RenderJSON(w io.Writer, report *trade.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

// RenderText 输出人读格式的交易凭证。
func RenderText(w io.Writer, report *trade.Report) error {
	mode := "实盘"
	if report.Sandbox {
		mode = "模拟盘"
	}
	header := "交易完成"
	if report.DryRun {
		header = "预览（未提交任何订单）"
	}

	fmt.Fprintf(w, "%s [%s] %s %s %dx %s\n", header, mode, report.Symbol, report.Side, report.Leverage, report.OrderType)
	fmt.Fprintf(w, "  数量: %g  进场价: %g  保证金: %s  持仓模式: %s\n",
		report.Amount, report.EntryPrice, report.MarginMode, report.PositionMode)
	if report.RestingDepth != "" {
		fmt.Fprintf(w, "  挂单让价: %s\n", report.RestingDepth)
	}

	for _, tp := range report.TPPreview {
		fmt.Fprintf(w, "  止盈 #%d: 目标 %s → 价格 %g 数量 %g\n", tp.Idx, tp.Target, tp.Price, tp.Size)
	}

	if len(report.Positions) > 0 {
		fmt.Fprintln(w, "  持仓:")
		for _, pos := range report.Positions {
			fmt.Fprintf(w, "    %s %s %g @ %g (未实现盈亏 %g)\n",
				pos.Symbol, pos.Side, pos.Contracts, pos.EntryPrice, pos.UnrealizedPnl)
		}
	}
	if len(report.OpenOrders) > 0 {
		fmt.Fprintln(w, "  挂单:")
		for _, order := range report.OpenOrders {
			line := fmt.Sprintf("    %s %s %s %g @ %g", order.ID, order.Side, order.Type, order.Amount, order.Price)
			if order.TriggerPrice > 0 {
				line += fmt.Sprintf(" 触发 %g", order.TriggerPrice)
			}
			if order.ReduceOnly {
				line += " [只减仓]"
			}
			fmt.Fprintln(w, line)
		}
	}
	return nil
}

// RenderMaintenance 输出维护操作结论。
func RenderMaintenance(w io.Writer, title string, result maintenance.Result, jsonOutput bool) error {
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	fmt.Fprintf(w, "%s %s: 处理 %d 项，失败 %d 项\n", title, result.Symbol, len(result.Items), result.Failed())
	for _, item := range result.Items {
		status := "OK"
		if !item.OK() {
			status = "失败: " + item.Err
		}
		fmt.Fprintf(w, "  [%s] %s %s\n", item.Action, item.Target, status)
	}
	return nil
}
