package exchange

import (
	"context"
	"errors"
	"fmt"
	"testing"

	ccxt "github.com/ccxt/ccxt/go/v4"
)

func TestClassify_Nil(t *testing.T) {
	if err := Classify("op", nil); err != nil {
		t.Errorf("nil should stay nil, got %v", err)
	}
}

func TestClassify_ModeConflictByCode(t *testing.T) {
	err := Classify("create order", fmt.Errorf(`bitget {"code":"40774","msg":"The order type is not supported in one-way mode"}`))
	if !IsModeConflict(err) {
		t.Errorf("40774 should classify as mode conflict, got %v", err)
	}
	if IsRetryable(err) || IsFatal(err) {
		t.Errorf("mode conflict is neither retryable nor fatal: %v", err)
	}
}

func TestClassify_ContextCancellation(t *testing.T) {
	err := Classify("fetch ticker", context.Canceled)
	if !errors.Is(err, ErrNetwork) {
		t.Errorf("cancellation should classify as network, got %v", err)
	}
	if !IsRetryable(err) {
		t.Errorf("network errors are retryable")
	}
}

func TestClassify_CcxtErrorTypes(t *testing.T) {
	cases := []struct {
		name     string
		raw      error
		sentinel error
	}{
		{"authentication", &ccxt.Error{Type: ccxt.AuthenticationErrorErrType}, ErrAuth},
		{"rate limit", &ccxt.Error{Type: ccxt.RateLimitExceededErrType}, ErrRateLimit},
		{"ddos protection", &ccxt.Error{Type: ccxt.DDoSProtectionErrType}, ErrRateLimit},
		{"network", &ccxt.Error{Type: ccxt.NetworkErrorErrType}, ErrNetwork},
		{"timeout", &ccxt.Error{Type: ccxt.RequestTimeoutErrType}, ErrNetwork},
		{"unavailable", &ccxt.Error{Type: ccxt.ExchangeNotAvailableErrType}, ErrNetwork},
		{"insufficient funds", &ccxt.Error{Type: ccxt.InsufficientFundsErrType}, ErrValidation},
		{"bad symbol", &ccxt.Error{Type: ccxt.BadSymbolErrType}, ErrValidation},
	}

	for _, tc := range cases {
		err := Classify("op", tc.raw)
		if !errors.Is(err, tc.sentinel) {
			t.Errorf("%s: got %v want sentinel %v", tc.name, err, tc.sentinel)
		}
	}
}

func TestClassify_UnknownDefaultsToValidation(t *testing.T) {
	err := Classify("op", fmt.Errorf("something odd"))
	if !errors.Is(err, ErrValidation) {
		t.Errorf("unknown errors default to validation, got %v", err)
	}
	if !IsFatal(err) {
		t.Errorf("validation errors are fatal")
	}
}

func TestClassify_KeepsOperationAndCause(t *testing.T) {
	cause := fmt.Errorf("original failure")
	err := Classify("place order", cause)
	if !errors.Is(err, cause) {
		t.Errorf("original cause must stay in the chain: %v", err)
	}
}
