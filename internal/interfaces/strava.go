package interfaces

import (
	"context"

	"SegmentSync/internal/model"
)

// StravaClient 上游运动平台接口（令牌、活动列表、活动详情）
type StravaClient interface {
	// ExchangeCode 注册时用授权码换取令牌与选手身份
	ExchangeCode(ctx context.Context, code string) (*model.TokenResponse, error)
	// RefreshAccessToken 用长期 refresh_token 换取短期 access_token
	RefreshAccessToken(ctx context.Context, refreshToken string) (string, error)
	// ListActivities 拉取 after 之后的活动摘要（单页）
	ListActivities(ctx context.Context, accessToken string, after int64, page, perPage int) ([]model.SummaryActivity, error)
	// GetActivity 拉取活动详情（含路段记录）
	GetActivity(ctx context.Context, accessToken string, activityID int64) (*model.DetailedActivity, error)
}

// Pacer 阻塞式节流：Wait 返回前保证与上次调用的最小间隔
type Pacer interface {
	Wait(ctx context.Context) error
}
