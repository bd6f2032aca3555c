package service

import (
	"context"
	"fmt"

	"SegmentSync/internal/interfaces"
	"SegmentSync/internal/model"

	"github.com/sirupsen/logrus"
)

// FetchRequest 单个选手的一次拉取
type FetchRequest struct {
	AccessToken string
	After       int64 // 只拉取该时间（Unix秒）之后的活动
	MaxPages    int   // 增量为1，全量回填可翻多页
}

// FetchResult 拉取结果
type FetchResult struct {
	Details     []*model.DetailedActivity // 仅包含实际拉取了详情的活动
	Watermark   int64                     // 新水位候选，不小于 FetchRequest.After
	Examined    int                       // 检查过的活动数（含类型不符被跳过的）
	TypeSkipped int
	Truncated   bool // 翻到 MaxPages 时最后一页仍是满页，之后可能还有活动
}

// ActivityFetcher 顺序拉取活动列表与详情，详情调用之间强制最小间隔
type ActivityFetcher struct {
	client      interfaces.StravaClient
	detailPacer interfaces.Pacer
	challenge   *model.Challenge
	perPage     int
	logger      *logrus.Logger
}

func NewActivityFetcher(client interfaces.StravaClient, detailPacer interfaces.Pacer, challenge *model.Challenge, perPage int, logger *logrus.Logger) *ActivityFetcher {
	if perPage <= 0 {
		perPage = 50
	}
	return &ActivityFetcher{
		client:      client,
		detailPacer: detailPacer,
		challenge:   challenge,
		perPage:     perPage,
		logger:      logger,
	}
}

// Fetch 拉取 After 之后的活动。
// 水位取所有检查过的活动（包括类型不符被跳过的）中最大的 start_date，因为上游 after 过滤不会再返回它们。
// 列表或详情任一失败都返回原水位和空结果，选手本轮不前进。
func (f *ActivityFetcher) Fetch(ctx context.Context, req FetchRequest) (*FetchResult, error) {
	maxPages := req.MaxPages
	if maxPages <= 0 {
		maxPages = 1
	}
	unchanged := &FetchResult{Watermark: req.After}
	res := &FetchResult{Watermark: req.After}

	for page := 1; page <= maxPages; page++ {
		activities, err := f.client.ListActivities(ctx, req.AccessToken, req.After, page, f.perPage)
		if err != nil {
			return unchanged, fmt.Errorf("拉取活动列表失败(page=%d): %w", page, err)
		}

		for _, act := range activities {
			res.Examined++
			if ts := act.StartDate.Unix(); ts > res.Watermark {
				res.Watermark = ts
			}
			if !f.challenge.TracksActivityType(act.Type) {
				res.TypeSkipped++
				continue
			}

			if err := f.detailPacer.Wait(ctx); err != nil {
				return unchanged, err
			}
			detail, err := f.client.GetActivity(ctx, req.AccessToken, act.ID)
			if err != nil {
				return unchanged, fmt.Errorf("拉取活动详情失败(activity=%d): %w", act.ID, err)
			}
			if detail.StartDate.IsZero() {
				detail.StartDate = act.StartDate
			}
			if detail.Name == "" {
				detail.Name = act.Name
			}
			res.Details = append(res.Details, detail)
		}

		if len(activities) < f.perPage {
			break
		}
		if page == maxPages {
			res.Truncated = true
		}
	}

	f.logger.WithFields(logrus.Fields{
		"after":        req.After,
		"examined":     res.Examined,
		"type_skipped": res.TypeSkipped,
		"details":      len(res.Details),
		"watermark":    res.Watermark,
		"truncated":    res.Truncated,
	}).Debug("活动拉取完成")
	return res, nil
}
