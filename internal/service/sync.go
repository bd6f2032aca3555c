package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"SegmentSync/internal/interfaces"
	"SegmentSync/internal/model"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// SyncSettings 同步节奏与重试参数
type SyncSettings struct {
	PerPage           int
	FullResyncPages   int
	WriteRetries      int
	WriteRetryInitial time.Duration
}

// RunOptions 单轮同步选项
type RunOptions struct {
	ForceFull bool // 强制全量重算
}

// SyncSummary 单轮同步汇总（不含单个选手的错误细节）
type SyncSummary struct {
	CycleID      string    `json:"cycle_id"`
	ForceFull    bool      `json:"force_full"`
	Total        int       `json:"total"`
	Synced       int       `json:"synced"`    // 产生更新并写回
	Unchanged    int       `json:"unchanged"` // 拉取成功但无新活动
	Skipped      int       `json:"skipped"`   // 非 live 选手
	Failed       int       `json:"failed"`    // 凭据失效/上游不可用/记录无法解析
	Conflicts    int       `json:"conflicts"` // 本轮期间被管理员改动或删除，放弃写回
	FullResyncs  int       `json:"full_resyncs"`
	FeedAppended int       `json:"feed_appended"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}

type runnerOutcome int

const (
	outcomeUnchanged runnerOutcome = iota
	outcomeUpdated
	outcomeSkipped
	outcomeFailed
)

// runnerResult 单个选手的处理结果，只在内存中缓冲
type runnerResult struct {
	outcome runnerOutcome
	mode    model.SyncMode
	record  model.RunnerRecord
	feed    []model.FeedEntry
}

// SyncService 同步编排：逐个选手 刷新凭据→拉取→计数→合并，最后一次性写回
type SyncService struct {
	runners     interfaces.RunnerRepository
	feed        interfaces.FeedRepository
	state       interfaces.SyncStateRepository
	client      interfaces.StravaClient
	fetcher     *ActivityFetcher
	challenge   *model.Challenge
	runnerPacer interfaces.Pacer
	settings    SyncSettings
	logger      *logrus.Logger

	running sync.Mutex
	now     func() time.Time
}

func NewSyncService(
	runners interfaces.RunnerRepository,
	feed interfaces.FeedRepository,
	state interfaces.SyncStateRepository,
	client interfaces.StravaClient,
	challenge *model.Challenge,
	detailPacer interfaces.Pacer,
	runnerPacer interfaces.Pacer,
	settings SyncSettings,
	logger *logrus.Logger,
) *SyncService {
	if settings.FullResyncPages <= 0 {
		settings.FullResyncPages = 1
	}
	if settings.WriteRetryInitial <= 0 {
		settings.WriteRetryInitial = time.Second
	}
	return &SyncService{
		runners:     runners,
		feed:        feed,
		state:       state,
		client:      client,
		fetcher:     NewActivityFetcher(client, detailPacer, challenge, settings.PerPage, logger),
		challenge:   challenge,
		runnerPacer: runnerPacer,
		settings:    settings,
		logger:      logger,
		now:         time.Now,
	}
}

// RunCycle 执行一轮同步。单个选手的失败只影响自身；只有存储读写失败会返回错误。
func (s *SyncService) RunCycle(ctx context.Context, opts RunOptions) (*SyncSummary, error) {
	if !s.running.TryLock() {
		return nil, ErrSyncInProgress
	}
	defer s.running.Unlock()

	summary := &SyncSummary{
		CycleID:   uuid.NewString(),
		ForceFull: opts.ForceFull,
		StartedAt: s.now().UTC(),
	}
	log := s.logger.WithFields(logrus.Fields{"cycle_id": summary.CycleID, "force_full": opts.ForceFull})

	if err := s.state.MarkAttempt(ctx, summary.StartedAt, nil); err != nil {
		log.WithError(err).Warn("记录同步尝试失败")
	}

	records, unreadable, err := s.runners.ListAll(ctx)
	if err != nil {
		s.markFailure(ctx, log, err)
		return nil, fmt.Errorf("加载选手列表失败: %w", err)
	}
	for _, bad := range unreadable {
		log.WithError(bad.Err).WithField("athlete_id", bad.AthleteID).Warn("选手记录无法解析，本轮跳过")
	}
	summary.Total = len(records) + len(unreadable)
	summary.Failed = len(unreadable)
	log.Infof("开始同步，共%d名选手", summary.Total)

	knownFeed, err := s.feed.ListKeys(ctx)
	if err != nil {
		// 动态流仅用于展示，追加时仍按唯一键去重
		log.WithError(err).Warn("加载动态流去重键失败")
		knownFeed = make(map[string]struct{})
	}

	var (
		updates []model.RunnerRecord
		polled  int
	)
	feeds := make(map[int64][]model.FeedEntry)
	fulls := make(map[int64]bool)
	for _, rec := range records {
		if !rec.Credential.IsLive() {
			summary.Skipped++
			continue
		}
		if polled > 0 {
			if err := s.runnerPacer.Wait(ctx); err != nil {
				s.markFailure(ctx, log, err)
				return nil, err
			}
		}
		polled++

		result := s.syncRunner(ctx, rec, opts.ForceFull)
		if err := ctx.Err(); err != nil {
			s.markFailure(ctx, log, err)
			return nil, err
		}
		switch result.outcome {
		case outcomeFailed:
			summary.Failed++
			continue
		case outcomeUnchanged:
			summary.Unchanged++
			continue
		}

		summary.Synced++
		if result.mode == model.SyncFull {
			summary.FullResyncs++
			fulls[rec.AthleteID] = true
		}
		updates = append(updates, result.record)
		feeds[rec.AthleteID] = result.feed
	}

	var stale []int64
	if len(updates) > 0 {
		stale, err = s.saveWithRetry(ctx, log, updates)
		if err != nil {
			s.markFailure(ctx, log, err)
			return summary, fmt.Errorf("%w: %v", ErrStoreWrite, err)
		}
	}
	// 加载后被管理员改动或删除的选手，本轮结果整体作废（含动态流）
	for _, id := range stale {
		log.WithField("athlete_id", id).Warn("选手记录在本轮期间已被改动，放弃写回")
		delete(feeds, id)
		summary.Conflicts++
		summary.Synced--
		if fulls[id] {
			summary.FullResyncs--
		}
	}

	var pending []model.FeedEntry
	for _, rec := range updates {
		for _, entry := range feeds[rec.AthleteID] {
			key := entry.Key()
			if _, seen := knownFeed[key]; seen {
				continue
			}
			knownFeed[key] = struct{}{}
			pending = append(pending, entry)
		}
	}

	// 计数以选手表为准；动态流追加失败只记录日志
	if len(pending) > 0 {
		n, err := s.feed.Append(ctx, pending)
		if err != nil {
			log.WithError(err).WithField("entries", len(pending)).Warn("追加动态流失败")
		}
		summary.FeedAppended = n
	}

	summary.FinishedAt = s.now().UTC()
	if err := s.state.MarkSuccess(ctx, summary.FinishedAt, summary); err != nil {
		log.WithError(err).Warn("记录同步成功标记失败")
	}
	log.WithFields(logrus.Fields{
		"total":         summary.Total,
		"synced":        summary.Synced,
		"unchanged":     summary.Unchanged,
		"skipped":       summary.Skipped,
		"failed":        summary.Failed,
		"conflicts":     summary.Conflicts,
		"full_resyncs":  summary.FullResyncs,
		"feed_appended": summary.FeedAppended,
	}).Info("同步完成")
	return summary, nil
}

// syncRunner 处理单个 live 选手；任何失败都降级为“本轮无更新”
func (s *SyncService) syncRunner(ctx context.Context, rec model.RunnerRecord, forceFull bool) runnerResult {
	log := s.logger.WithFields(logrus.Fields{"athlete_id": rec.AthleteID, "runner": rec.DisplayName})

	repaired := rec.RecomputeTotal()
	if repaired {
		log.Warn("总数与路段计数之和不一致，已按路段重新计算")
	}

	refreshToken, _ := rec.Credential.RefreshToken()
	accessToken, err := s.client.RefreshAccessToken(ctx, refreshToken)
	if err != nil {
		log.WithError(err).Warn("刷新凭据失败，本轮跳过")
		return runnerResult{outcome: outcomeFailed}
	}

	startEpoch := s.challenge.StartEpoch()
	mode := ChooseSyncMode(forceFull, rec.LastSyncedEpoch, startEpoch)
	req := FetchRequest{AccessToken: accessToken, After: rec.LastSyncedEpoch, MaxPages: 1}
	if mode == model.SyncFull {
		req.After = startEpoch
		req.MaxPages = s.settings.FullResyncPages
	}

	fetched, err := s.fetcher.Fetch(ctx, req)
	if err != nil {
		log.WithError(err).WithField("mode", mode).Warn("拉取活动失败，本轮跳过")
		return runnerResult{outcome: outcomeFailed}
	}

	// 全量翻页到上限仍未取完，且未覆盖到原水位：写回会丢掉上限之后的活动，且水位不能回退
	if mode == model.SyncFull && fetched.Truncated && fetched.Watermark < rec.LastSyncedEpoch {
		log.WithFields(logrus.Fields{
			"pages":     req.MaxPages,
			"reached":   fetched.Watermark,
			"watermark": rec.LastSyncedEpoch,
		}).Warn("全量重算未能覆盖到当前水位，本轮跳过，请调大 full_resync_pages")
		return runnerResult{outcome: outcomeFailed}
	}

	batch, feed := s.tally(rec.DisplayName, fetched.Details)

	// 增量且没有新活动：无需写回（除非刚修复了总数）
	if mode == model.SyncIncremental && fetched.Examined == 0 && !repaired {
		return runnerResult{outcome: outcomeUnchanged, mode: mode}
	}

	merged := MergeTally(rec, batch, fetched.Watermark, mode, s.challenge.Segments())
	log.WithFields(logrus.Fields{
		"mode":      mode,
		"matches":   batch.Sum(),
		"total":     merged.TotalCount,
		"watermark": merged.LastSyncedEpoch,
	}).Info("选手同步完成")
	return runnerResult{outcome: outcomeUpdated, mode: mode, record: merged, feed: feed}
}

// tally 累计本轮所有活动的路段命中，并为命中的活动生成动态流条目
func (s *SyncService) tally(runnerName string, details []*model.DetailedActivity) (model.SegmentCounts, []model.FeedEntry) {
	return tallyActivities(runnerName, details, s.challenge.Segments())
}

func tallyActivities(runnerName string, details []*model.DetailedActivity, segments model.SegmentSet) (model.SegmentCounts, []model.FeedEntry) {
	batch := make(model.SegmentCounts)
	var feed []model.FeedEntry
	for _, d := range details {
		m := CountSegmentMatches(d, segments)
		if !m.Matched() {
			continue
		}
		batch.Add(m.Increments)
		feed = append(feed, newFeedEntry(runnerName, d, m.Matches))
	}
	return batch, feed
}

func newFeedEntry(runnerName string, d *model.DetailedActivity, matches int) model.FeedEntry {
	return model.FeedEntry{
		RunnerName:   runnerName,
		ActivityID:   d.ID,
		ActivityTime: d.StartDate.UTC(),
		Title:        d.Name,
		Description:  d.Description,
		DistanceKm:   math.Round(d.Distance/10) / 100,
		KudosCount:   d.KudosCount,
		Matches:      matches,
	}
}

// saveWithRetry 批量写回，失败按指数退避有限重试；返回加载后已被改动而未写回的选手
func (s *SyncService) saveWithRetry(ctx context.Context, log *logrus.Entry, updates []model.RunnerRecord) ([]int64, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = s.settings.WriteRetryInitial
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(s.settings.WriteRetries)), ctx)

	var (
		attempt int
		stale   []int64
	)
	err := backoff.RetryNotify(func() error {
		attempt++
		var err error
		stale, err = s.runners.SaveBatch(ctx, updates)
		if err != nil && errors.Is(err, context.Canceled) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		log.WithError(err).WithFields(logrus.Fields{"attempt": attempt, "retry_in": wait}).Warn("批量写回失败，准备重试")
	})
	if err != nil {
		return nil, err
	}
	return stale, nil
}

func (s *SyncService) markFailure(ctx context.Context, log *logrus.Entry, cause error) {
	log.WithError(cause).Error("同步失败")
	if err := s.state.MarkAttempt(context.WithoutCancel(ctx), s.now().UTC(), cause); err != nil {
		log.WithError(err).Warn("记录同步失败状态失败")
	}
}
