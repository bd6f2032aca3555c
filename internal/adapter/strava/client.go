package strava

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"SegmentSync/internal/config"
	"SegmentSync/internal/interfaces"
	"SegmentSync/internal/model"
	"SegmentSync/internal/utils/httpclient"

	"github.com/sirupsen/logrus"
	gobreaker "github.com/sony/gobreaker/v2"
)

const (
	breakerName          = "strava-api"
	breakerTripThreshold = 5
	maxErrorBody         = 512
)

// Client 上游运动平台客户端，所有调用经过熔断器
type Client struct {
	cfg        *config.StravaConfig
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[*response]
	logger     *logrus.Logger
}

type response struct {
	status int
	body   []byte
}

var _ interfaces.StravaClient = (*Client)(nil)

// NewClient 创建客户端
func NewClient(cfg *config.StravaConfig, logger *logrus.Logger) *Client {
	return newClient(cfg, httpclient.NewHTTPClient(cfg, logger), logger, time.Minute)
}

func newClient(cfg *config.StravaConfig, httpClient *http.Client, logger *logrus.Logger, openTimeout time.Duration) *Client {
	c := &Client{cfg: cfg, httpClient: httpClient, logger: logger}
	c.breaker = gobreaker.NewCircuitBreaker[*response](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Timeout:     openTimeout,
		// 连续 N 次不可用才熔断；凭据失效不算失败
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerTripThreshold
		},
		IsSuccessful: func(err error) bool {
			return !isAvailabilityFailure(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("熔断器状态变更")
		},
	})
	return c
}

// RefreshAccessToken grant_type=refresh_token；任何非200或响应缺 access_token 均视为凭据失效
func (c *Client) RefreshAccessToken(ctx context.Context, refreshToken string) (string, error) {
	form := url.Values{
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecret},
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}
	var token model.TokenResponse
	if err := c.postForm(ctx, opToken, form, &token); err != nil {
		return "", err
	}
	if token.AccessToken == "" {
		return "", fmt.Errorf("%w: 响应缺少 access_token", ErrCredentialExpired)
	}
	return token.AccessToken, nil
}

// ExchangeCode grant_type=authorization_code；注册回调使用
func (c *Client) ExchangeCode(ctx context.Context, code string) (*model.TokenResponse, error) {
	form := url.Values{
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecret},
		"grant_type":    {"authorization_code"},
		"code":          {code},
	}
	var token model.TokenResponse
	if err := c.postForm(ctx, opExchange, form, &token); err != nil {
		return nil, err
	}
	if token.AccessToken == "" || token.RefreshToken == "" || token.Athlete == nil || token.Athlete.ID == 0 {
		return nil, fmt.Errorf("%w: 授权码换取响应不完整", ErrCredentialExpired)
	}
	return &token, nil
}

// ListActivities GET /athlete/activities?after=&per_page=&page=
func (c *Client) ListActivities(ctx context.Context, accessToken string, after int64, page, perPage int) ([]model.SummaryActivity, error) {
	q := url.Values{}
	q.Set("after", strconv.FormatInt(after, 10))
	q.Set("per_page", strconv.Itoa(perPage))
	if page > 1 {
		q.Set("page", strconv.Itoa(page))
	}
	endpoint := fmt.Sprintf("%s/athlete/activities?%s", strings.TrimSuffix(c.cfg.BaseURL, "/"), q.Encode())

	var activities []model.SummaryActivity
	if err := c.get(ctx, opList, endpoint, accessToken, &activities); err != nil {
		return nil, err
	}
	return activities, nil
}

// GetActivity GET /activities/{id}
func (c *Client) GetActivity(ctx context.Context, accessToken string, activityID int64) (*model.DetailedActivity, error) {
	endpoint := fmt.Sprintf("%s/activities/%d", strings.TrimSuffix(c.cfg.BaseURL, "/"), activityID)
	var detail model.DetailedActivity
	if err := c.get(ctx, opDetail, endpoint, accessToken, &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

func (c *Client) postForm(ctx context.Context, op string, form url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.OAuthURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.doJSON(op, req, out, ErrCredentialExpired)
}

func (c *Client) get(ctx context.Context, op, endpoint, accessToken string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	return c.doJSON(op, req, out, ErrUpstreamUnavailable)
}

// doJSON 经熔断器发出请求并解码；malformedKind 决定响应无法解析时归入哪类错误
func (c *Client) doJSON(op string, req *http.Request, out interface{}, malformedKind error) error {
	resp, err := c.breaker.Execute(func() (*response, error) {
		return c.roundTrip(op, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("%w: %w", ErrUpstreamUnavailable, ErrCircuitOpen)
		}
		return err
	}
	if err := json.Unmarshal(resp.body, out); err != nil {
		return fmt.Errorf("%w: 解析%s响应失败: %v", malformedKind, op, err)
	}
	return nil
}

func (c *Client) roundTrip(op string, req *http.Request) (*response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		// 调用方取消不计入熔断
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %w: %s: %v", ErrUpstreamUnavailable, errTransport, op, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.WithError(err).Debug("关闭响应体失败")
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w: 读取%s响应失败: %v", ErrUpstreamUnavailable, errTransport, op, err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(body))
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		return nil, &APIError{Op: op, StatusCode: resp.StatusCode, Message: msg}
	}
	return &response{status: resp.StatusCode, body: body}, nil
}
