package symbol

import (
	"errors"
	"testing"

	"bitget-trader/internal/exchange"
)

func testCatalog() map[string]exchange.Market {
	return map[string]exchange.Market{
		"BTC/USDT:USDT": {
			Symbol: "BTC/USDT:USDT", Base: "BTC", Quote: "USDT", Settle: "USDT",
			Product: exchange.ProductContract, Active: true,
		},
		"BTC/USDT": {
			Symbol: "BTC/USDT", Base: "BTC", Quote: "USDT",
			Product: exchange.ProductSpot, Active: true,
		},
		"ETH/USDT:USDT": {
			Symbol: "ETH/USDT:USDT", Base: "ETH", Quote: "USDT", Settle: "USDT",
			Product: exchange.ProductContract, Active: true,
		},
		"SOL/USDC:USDC": {
			Symbol: "SOL/USDC:USDC", Base: "SOL", Quote: "USDC", Settle: "USDC",
			Product: exchange.ProductContract, Active: true,
		},
		"DOGE/USDT:USDT": {
			Symbol: "DOGE/USDT:USDT", Base: "DOGE", Quote: "USDT", Settle: "USDT",
			Product: exchange.ProductContract, Active: false,
		},
	}
}

func TestResolve_ExactContractMatch(t *testing.T) {
	m, err := Resolve(testCatalog(), "btc/usdt", exchange.ProductContract, "")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if m.Symbol != "BTC/USDT:USDT" {
		t.Errorf("got %q want BTC/USDT:USDT", m.Symbol)
	}
}

func TestResolve_SpotMatchWithoutSettleSuffix(t *testing.T) {
	m, err := Resolve(testCatalog(), "btc/usdt", exchange.ProductSpot, "")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if m.Symbol != "BTC/USDT" {
		t.Errorf("got %q want BTC/USDT", m.Symbol)
	}
}

func TestResolve_BareBaseToken(t *testing.T) {
	m, err := Resolve(testCatalog(), "ethusdt", exchange.ProductContract, "")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if m.Symbol != "ETH/USDT:USDT" {
		t.Errorf("got %q want ETH/USDT:USDT", m.Symbol)
	}
}

func TestResolve_NonUSDTQuoteFallsBackToScan(t *testing.T) {
	// SOL 没有 USDT 合约，应通过目录扫描命中 USDC 合约。
	m, err := Resolve(testCatalog(), "sol/usdt", exchange.ProductContract, "")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if m.Symbol != "SOL/USDC:USDC" {
		t.Errorf("got %q want SOL/USDC:USDC", m.Symbol)
	}
}

func TestResolve_InactiveMarketSkipped(t *testing.T) {
	_, err := Resolve(testCatalog(), "doge/usdt", exchange.ProductContract, "")
	if err == nil {
		t.Fatalf("inactive market must not resolve")
	}
	if !errors.Is(err, ErrResolution) {
		t.Errorf("expected ErrResolution, got %v", err)
	}
}

func TestResolve_FallbackSymbol(t *testing.T) {
	m, err := Resolve(testCatalog(), "xyz/usdt", exchange.ProductContract, "BTC/USDT:USDT")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if m.Symbol != "BTC/USDT:USDT" {
		t.Errorf("got %q want fallback BTC/USDT:USDT", m.Symbol)
	}
}

func TestResolve_UnknownWithoutFallback(t *testing.T) {
	_, err := Resolve(testCatalog(), "xyz/usdt", exchange.ProductContract, "")
	if err == nil || !errors.Is(err, ErrResolution) {
		t.Fatalf("expected ErrResolution, got %v", err)
	}
}

func TestSplitToken(t *testing.T) {
	cases := []struct {
		in          string
		base, quote string
	}{
		{"btc/usdt", "BTC", "USDT"},
		{"BTC/USDT:USDT", "BTC", "USDT"},
		{"ethusdt", "ETH", "USDT"},
		{"solusdc", "SOL", "USDC"},
		{"btc", "BTC", ""},
		{"", "", ""},
	}
	for _, tc := range cases {
		base, quote := splitToken(tc.in)
		if base != tc.base || quote != tc.quote {
			t.Errorf("splitToken(%q) = %q/%q, want %q/%q", tc.in, base, quote, tc.base, tc.quote)
		}
	}
}
