package strava

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrCredentialExpired 令牌交换失败（用户撤销授权、refresh_token 失效等），选手本轮跳过
	ErrCredentialExpired = errors.New("strava: 凭据失效")
	// ErrUpstreamUnavailable 活动列表/详情不可用，选手本轮跳过
	ErrUpstreamUnavailable = errors.New("strava: 上游不可用")
	// ErrRateLimitExceeded 429，属于 ErrUpstreamUnavailable 的特例
	ErrRateLimitExceeded = errors.New("strava: 触发限流")
	// ErrCircuitOpen 熔断器打开，请求未发出
	ErrCircuitOpen = errors.New("strava: 熔断中")

	errTransport = errors.New("strava: 网络错误")
)

const (
	opToken    = "token"
	opList     = "list_activities"
	opDetail   = "get_activity"
	opExchange = "exchange_code"
)

// APIError 上游返回非 2xx
type APIError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("strava %s: HTTP %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("strava %s: HTTP %d: %s", e.Op, e.StatusCode, e.Message)
}

// Is 按状态码映射到错误分类
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrRateLimitExceeded:
		return e.StatusCode == http.StatusTooManyRequests
	case ErrCredentialExpired:
		return e.isTokenOp() || e.StatusCode == http.StatusUnauthorized
	case ErrUpstreamUnavailable:
		return !e.isTokenOp() || e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
	}
	return false
}

func (e *APIError) isTokenOp() bool {
	return e.Op == opToken || e.Op == opExchange
}

// isAvailabilityFailure 只有网络错误、429、5xx 计入熔断统计；凭据失效等属于正常业务结果
func isAvailabilityFailure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, errTransport) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	return false
}
