package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"SegmentSync/internal/interfaces"
	"SegmentSync/internal/model"

	"github.com/sirupsen/logrus"
)

// RegistrationResult 注册结果
type RegistrationResult struct {
	Runner            model.RunnerRecord `json:"-"`
	AthleteID         int64              `json:"athlete_id"`
	Name              string             `json:"name"`
	TotalCount        int                `json:"total_count"`
	ReplacedAthleteID *int64             `json:"replaced_athlete_id,omitempty"` // 被合并掉的手工/占位选手
	BackfillError     string             `json:"backfill_error,omitempty"`
	FeedAppended      int                `json:"feed_appended"`
}

// RegistrationService OAuth 回调注册：换取令牌、按名字合并占位选手、立即全量回填
type RegistrationService struct {
	runners   interfaces.RunnerRepository
	feed      interfaces.FeedRepository
	client    interfaces.StravaClient
	fetcher   *ActivityFetcher
	challenge *model.Challenge
	fullPages int
	logger    *logrus.Logger
}

func NewRegistrationService(
	runners interfaces.RunnerRepository,
	feed interfaces.FeedRepository,
	client interfaces.StravaClient,
	challenge *model.Challenge,
	detailPacer interfaces.Pacer,
	settings SyncSettings,
	logger *logrus.Logger,
) *RegistrationService {
	fullPages := settings.FullResyncPages
	if fullPages <= 0 {
		fullPages = 1
	}
	return &RegistrationService{
		runners:   runners,
		feed:      feed,
		client:    client,
		fetcher:   NewActivityFetcher(client, detailPacer, challenge, settings.PerPage, logger),
		challenge: challenge,
		fullPages: fullPages,
		logger:    logger,
	}
}

// Register 用授权码注册选手。回填失败不影响注册：水位停在挑战开始时间，下一轮同步会走全量。
func (s *RegistrationService) Register(ctx context.Context, code string) (*RegistrationResult, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, fmt.Errorf("授权码为空")
	}
	token, err := s.client.ExchangeCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("授权码换取令牌失败: %w", err)
	}
	athlete := token.Athlete
	if athlete == nil || athlete.ID == 0 {
		return nil, fmt.Errorf("令牌响应缺少选手身份")
	}
	log := s.logger.WithFields(logrus.Fields{"athlete_id": athlete.ID, "runner": athlete.FullName()})

	if _, err := s.runners.Get(ctx, athlete.ID); err == nil {
		return nil, ErrAlreadyRegistered
	} else if !errors.Is(err, interfaces.ErrRunnerNotFound) {
		return nil, fmt.Errorf("查询选手失败: %w", err)
	}

	placeholder, err := s.findPlaceholder(ctx, athlete.FullName())
	if err != nil {
		return nil, err
	}

	rec := model.RunnerRecord{
		AthleteID:       athlete.ID,
		DisplayName:     strings.TrimSpace(athlete.FullName()),
		Credential:      model.LiveCredential(token.RefreshToken),
		LastSyncedEpoch: s.challenge.StartEpoch(),
		SegmentCounts:   s.challenge.Segments().ZeroCounts(),
	}
	result := &RegistrationResult{}

	var feed []model.FeedEntry
	fetched, err := s.fetcher.Fetch(ctx, FetchRequest{
		AccessToken: token.AccessToken,
		After:       s.challenge.StartEpoch(),
		MaxPages:    s.fullPages,
	})
	if err != nil {
		log.WithError(err).Warn("注册回填失败，等待下一轮同步")
		result.BackfillError = err.Error()
	} else {
		var batch model.SegmentCounts
		batch, feed = tallyActivities(rec.DisplayName, fetched.Details, s.challenge.Segments())
		rec = MergeTally(rec, batch, fetched.Watermark, model.SyncFull, s.challenge.Segments())
		if fetched.Truncated {
			// 水位停在已计数的最后一条活动，剩余部分由后续增量同步补齐
			log.WithField("watermark", rec.LastSyncedEpoch).Info("注册回填达到翻页上限")
		}
	}
	rec.RecomputeTotal()

	if err := s.runners.Upsert(ctx, rec); err != nil {
		return nil, fmt.Errorf("保存选手失败: %w", err)
	}
	if placeholder != nil {
		if err := s.runners.Delete(ctx, placeholder.AthleteID); err != nil {
			log.WithError(err).WithField("placeholder_id", placeholder.AthleteID).Warn("删除占位选手失败")
		} else {
			id := placeholder.AthleteID
			result.ReplacedAthleteID = &id
		}
	}

	if len(feed) > 0 {
		result.FeedAppended = s.appendFeed(ctx, log, feed)
	}

	result.Runner = rec
	result.AthleteID = rec.AthleteID
	result.Name = rec.DisplayName
	result.TotalCount = rec.TotalCount
	log.WithFields(logrus.Fields{"total": rec.TotalCount, "watermark": rec.LastSyncedEpoch}).Info("选手注册完成")
	return result, nil
}

// findPlaceholder 按去标记后的名字查找手工/占位选手
func (s *RegistrationService) findPlaceholder(ctx context.Context, name string) (*model.RunnerRecord, error) {
	all, _, err := s.runners.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("加载选手列表失败: %w", err)
	}
	key := model.RunnerKey(name)
	for i := range all {
		if all[i].Credential.IsLive() {
			continue
		}
		if model.RunnerKey(all[i].DisplayName) == key {
			return &all[i], nil
		}
	}
	return nil, nil
}

func (s *RegistrationService) appendFeed(ctx context.Context, log *logrus.Entry, entries []model.FeedEntry) int {
	known, err := s.feed.ListKeys(ctx)
	if err != nil {
		log.WithError(err).Warn("加载动态流去重键失败")
		known = make(map[string]struct{})
	}
	var pending []model.FeedEntry
	for _, e := range entries {
		if _, ok := known[e.Key()]; ok {
			continue
		}
		known[e.Key()] = struct{}{}
		pending = append(pending, e)
	}
	if len(pending) == 0 {
		return 0
	}
	n, err := s.feed.Append(ctx, pending)
	if err != nil {
		log.WithError(err).Warn("追加动态流失败")
	}
	return n
}
