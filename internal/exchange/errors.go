package exchange

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	ccxt "github.com/ccxt/ccxt/go/v4"
)

// 错误分级：编排器依据哨兵错误决定中止、降级或自动回退。
var (
	// ErrAuth 表示凭证无效，整个操作不可恢复。
	ErrAuth = errors.New("exchange authentication failed")
	// ErrRateLimit 表示超出请求预算，是否重试由调用方决定。
	ErrRateLimit = errors.New("exchange rate limit exceeded")
	// ErrModeConflict 表示请求与账户持仓模式冲突（Bitget 40774），
	// 是唯一带自动恢复路径的错误。
	ErrModeConflict = errors.New("position mode conflict")
	// ErrValidation 表示交易所拒绝了请求参数。
	ErrValidation = errors.New("exchange rejected request")
	// ErrNetwork 表示网络或超时故障，当前步骤失败，不做静默重试。
	ErrNetwork = errors.New("exchange network failure")
)

// 单向持仓模式下单类型不匹配时 Bitget 返回的错误码。
const modeConflictCode = "40774"

// Classify 将底层错误归一化为本包的哨兵错误，保留原始错误链。
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %w", op, ErrNetwork, err)
	}

	if strings.Contains(err.Error(), modeConflictCode) {
		return fmt.Errorf("%s: %w: %w", op, ErrModeConflict, err)
	}

	var ccxtErr *ccxt.Error
	if errors.As(err, &ccxtErr) {
		switch ccxtErr.Type {
		case ccxt.AuthenticationErrorErrType:
			return fmt.Errorf("%s: %w: %w", op, ErrAuth, err)
		case ccxt.RateLimitExceededErrType, ccxt.DDoSProtectionErrType:
			return fmt.Errorf("%s: %w: %w", op, ErrRateLimit, err)
		case ccxt.NetworkErrorErrType,
			ccxt.RequestTimeoutErrType,
			ccxt.ExchangeNotAvailableErrType,
			ccxt.OnMaintenanceErrType,
			ccxt.BadResponseErrType,
			ccxt.NullResponseErrType:
			return fmt.Errorf("%s: %w: %w", op, ErrNetwork, err)
		default:
			return fmt.Errorf("%s: %w: %w", op, ErrValidation, err)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%s: %w: %w", op, ErrNetwork, err)
	}

	return fmt.Errorf("%s: %w: %w", op, ErrValidation, err)
}

// IsModeConflict 判断错误是否为持仓模式冲突。
func IsModeConflict(err error) bool {
	return errors.Is(err, ErrModeConflict)
}

// IsRetryable 判断错误是否适合调用方重试。
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimit) || errors.Is(err, ErrNetwork)
}

// IsFatal 判断错误是否不可恢复（凭证或参数问题）。
func IsFatal(err error) bool {
	return errors.Is(err, ErrAuth) || errors.Is(err, ErrValidation)
}
