package httpclient

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"SegmentSync/internal/config"

	"github.com/sirupsen/logrus"
)

const (
	userAgent = "SegmentSync/1.0"

	// 任一窗口用量达到该比例即告警
	rateLimitWarnRatio = 0.9
)

// NewHTTPClient 上游HTTP客户端（代理、超时、限额用量告警）
func NewHTTPClient(cfg *config.StravaConfig, logger *logrus.Logger) *http.Client {
	transport := &http.Transport{
		MaxIdleConns:        10,
		IdleConnTimeout:     30 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	if cfg.Proxy != "" {
		proxyURL, err := url.Parse(cfg.Proxy)
		if err != nil {
			logger.WithError(err).WithField("proxy", cfg.Proxy).Warn("代理地址解析失败，将不使用代理")
		} else {
			transport.Proxy = http.ProxyURL(proxyURL)
			logger.WithField("proxy", cfg.Proxy).Info("HTTP客户端已配置代理")
		}
	}

	timeout := 30 * time.Second
	if cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout) * time.Second
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: &stravaTransport{base: transport, logger: logger},
	}
}

// stravaTransport 统一加 UA，并根据响应头记录上游限额用量
type stravaTransport struct {
	base   http.RoundTripper
	logger *logrus.Logger
}

func (t *stravaTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", userAgent)
	}
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	windows := parseRateLimit(resp.Header.Get("X-RateLimit-Usage"), resp.Header.Get("X-RateLimit-Limit"))
	for i, w := range windows {
		if w.limit <= 0 || float64(w.used) < float64(w.limit)*rateLimitWarnRatio {
			continue
		}
		t.logger.WithFields(logrus.Fields{
			"window": windowName(i),
			"used":   w.used,
			"limit":  w.limit,
			"path":   req.URL.Path,
		}).Warn("上游接口限额即将用尽")
	}
	return resp, nil
}

type rateWindow struct {
	used  int
	limit int
}

// parseRateLimit 解析 "15分钟,每日" 形式的用量与限额；格式不符返回 nil
func parseRateLimit(usage, limit string) []rateWindow {
	u := strings.Split(usage, ",")
	l := strings.Split(limit, ",")
	if usage == "" || limit == "" || len(u) != len(l) {
		return nil
	}
	out := make([]rateWindow, 0, len(u))
	for i := range u {
		used, err1 := strconv.Atoi(strings.TrimSpace(u[i]))
		lim, err2 := strconv.Atoi(strings.TrimSpace(l[i]))
		if err1 != nil || err2 != nil {
			return nil
		}
		out = append(out, rateWindow{used: used, limit: lim})
	}
	return out
}

func windowName(i int) string {
	switch i {
	case 0:
		return "15m"
	case 1:
		return "daily"
	default:
		return strconv.Itoa(i)
	}
}
