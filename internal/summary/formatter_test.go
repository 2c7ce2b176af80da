package summary

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"bitget-trader/internal/maintenance"
	"bitget-trader/internal/trade"
)

func sampleReport() *trade.Report {
	return &trade.Report{
		Input:        "10x long btc/usdt @ market amount 0.002 sl -1% tp 1%,2%",
		Sandbox:      true,
		Symbol:       "BTC/USDT:USDT",
		Side:         "long",
		Leverage:     10,
		MarginMode:   "cross",
		PositionMode: "oneway",
		OrderType:    "market",
		Amount:       0.002,
		EntryPrice:   50000,
		Warnings:     []string{"设置杠杆失败: 已有持仓"},
	}
}

func TestRenderJSON_RoundTrips(t *testing.T) {
	var buf bytes.Buffer
	if err := RenderJSON(&buf, sampleReport()); err != nil {
		t.Fatalf("RenderJSON returned error: %v", err)
	}

	var decoded trade.Report
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded.Symbol != "BTC/USDT:USDT" || decoded.Leverage != 10 {
		t.Errorf("decoded report mismatch: %+v", decoded)
	}
	if !decoded.Sandbox {
		t.Errorf("sandbox flag lost in serialization")
	}
}

func TestRenderJSON_OmitsEmptyOptionalFields(t *testing.T) {
	report := sampleReport()
	report.Warnings = nil
	report.RestingDepth = ""

	var buf bytes.Buffer
	if err := RenderJSON(&buf, report); err != nil {
		t.Fatalf("RenderJSON returned error: %v", err)
	}
	out := buf.String()
	if strings.Contains(out, "warnings") || strings.Contains(out, "restingDepth") {
		t.Errorf("empty optional fields should be omitted:\n%s", out)
	}
}

func TestRenderText_MentionsKeyFacts(t *testing.T) {
	var buf bytes.Buffer
	if err := RenderText(&buf, sampleReport()); err != nil {
		t.Fatalf("RenderText returned error: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"模拟盘", "BTC/USDT:USDT", "long", "10x", "0.002"} {
		if !strings.Contains(out, want) {
			t.Errorf("text output missing %q:\n%s", want, out)
		}
	}
}

func TestRenderText_DryRunHeader(t *testing.T) {
	report := sampleReport()
	report.DryRun = true

	var buf bytes.Buffer
	if err := RenderText(&buf, report); err != nil {
		t.Fatalf("RenderText returned error: %v", err)
	}
	if !strings.Contains(buf.String(), "预览") {
		t.Errorf("dry-run output should be labeled as a preview:\n%s", buf.String())
	}
}

func TestRenderMaintenance(t *testing.T) {
	result := maintenance.Result{
		Symbol: "BTC/USDT:USDT",
		Items: []maintenance.ItemResult{
			{Target: "order-1", Action: "cancel"},
			{Target: "order-2", Action: "cancel", Err: "order already filled"},
		},
	}

	var buf bytes.Buffer
	if err := RenderMaintenance(&buf, "撤销止盈", result, false); err != nil {
		t.Fatalf("RenderMaintenance returned error: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "失败 1 项") {
		t.Errorf("failure count missing:\n%s", out)
	}
	if !strings.Contains(out, "order already filled") {
		t.Errorf("failure reason missing:\n%s", out)
	}

	buf.Reset()
	if err := RenderMaintenance(&buf, "撤销止盈", result, true); err != nil {
		t.Fatalf("RenderMaintenance json returned error: %v", err)
	}
	var decoded maintenance.Result
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("json output invalid: %v", err)
	}
	if decoded.Failed() != 1 {
		t.Errorf("decoded failure count: got %d want 1", decoded.Failed())
	}
}
