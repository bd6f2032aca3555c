package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"SegmentSync/internal/interfaces"
	"SegmentSync/internal/model"

	"github.com/sirupsen/logrus"
)

const (
	defaultFeedLimit = 50
	maxFeedLimit     = 200
)

// SegmentCount 单个路段的计数
type SegmentCount struct {
	SegmentID int64  `json:"segment_id"`
	Name      string `json:"name"`
	Count     int    `json:"count"`
}

// LeaderboardEntry 排行榜单行
type LeaderboardEntry struct {
	Rank           int            `json:"rank"`
	AthleteID      int64          `json:"athlete_id"`
	Name           string         `json:"name"`
	CredentialMode string         `json:"credential_mode"`
	TotalCount     int            `json:"total_count"`
	Segments       []SegmentCount `json:"segments,omitempty"`
	LastSynced     int64          `json:"last_synced"`
}

// SegmentLeaderboard 单路段排行榜
type SegmentLeaderboard struct {
	Segment model.Segment      `json:"segment"`
	Entries []LeaderboardEntry `json:"entries"`
}

// SyncStatus 最近同步状态
type SyncStatus struct {
	LastSuccessAt *time.Time      `json:"last_success_at"`
	LastAttemptAt *time.Time      `json:"last_attempt_at"`
	LastError     *string         `json:"last_error,omitempty"`
	LastCycle     json.RawMessage `json:"last_cycle,omitempty"`
	Segments      []model.Segment `json:"segments"`
	ChallengeFrom time.Time       `json:"challenge_start"`
}

// LeaderboardService 排行榜与动态流只读查询
type LeaderboardService struct {
	runners   interfaces.RunnerRepository
	feed      interfaces.FeedRepository
	state     interfaces.SyncStateRepository
	challenge *model.Challenge
	logger    *logrus.Logger
}

func NewLeaderboardService(runners interfaces.RunnerRepository, feed interfaces.FeedRepository, state interfaces.SyncStateRepository, challenge *model.Challenge, logger *logrus.Logger) *LeaderboardService {
	return &LeaderboardService{runners: runners, feed: feed, state: state, challenge: challenge, logger: logger}
}

// Overall 总榜：按总数降序、同分按名字
func (s *LeaderboardService) Overall(ctx context.Context) ([]LeaderboardEntry, error) {
	records, err := s.loadRunners(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]LeaderboardEntry, 0, len(records))
	for _, rec := range records {
		counts := s.challenge.Segments().Normalize(rec.SegmentCounts)
		entry := s.entry(rec, counts.Sum())
		for _, seg := range s.challenge.Segments().List() {
			entry.Segments = append(entry.Segments, SegmentCount{SegmentID: seg.ID, Name: seg.Name, Count: counts[seg.ID]})
		}
		entries = append(entries, entry)
	}
	rank(entries)
	return entries, nil
}

// loadRunners 无法解析的选手不上榜，只记日志
func (s *LeaderboardService) loadRunners(ctx context.Context) ([]model.RunnerRecord, error) {
	records, bad, err := s.runners.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("加载选手列表失败: %w", err)
	}
	for _, b := range bad {
		s.logger.WithError(b.Err).WithField("athlete_id", b.AthleteID).Warn("选手记录无法解析，未上榜")
	}
	return records, nil
}

// BySegment 单路段榜
func (s *LeaderboardService) BySegment(ctx context.Context, segmentID int64) (*SegmentLeaderboard, error) {
	name, ok := s.challenge.Segments().Name(segmentID)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownSegment, segmentID)
	}
	records, err := s.loadRunners(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]LeaderboardEntry, 0, len(records))
	for _, rec := range records {
		entries = append(entries, s.entry(rec, rec.SegmentCounts[segmentID]))
	}
	rank(entries)
	return &SegmentLeaderboard{Segment: model.Segment{ID: segmentID, Name: name}, Entries: entries}, nil
}

// Feed 动态流，最新在前
func (s *LeaderboardService) Feed(ctx context.Context, limit int) ([]model.FeedEntry, error) {
	if limit <= 0 {
		limit = defaultFeedLimit
	}
	if limit > maxFeedLimit {
		limit = maxFeedLimit
	}
	entries, err := s.feed.List(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("加载动态流失败: %w", err)
	}
	if entries == nil {
		entries = []model.FeedEntry{}
	}
	return entries, nil
}

// Status 最近一次同步状态
func (s *LeaderboardService) Status(ctx context.Context) (*SyncStatus, error) {
	st, err := s.state.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("加载同步状态失败: %w", err)
	}
	out := &SyncStatus{Segments: s.challenge.Segments().List(), ChallengeFrom: s.challenge.Start()}
	if st != nil {
		out.LastSuccessAt = st.LastSuccessAt
		out.LastAttemptAt = st.LastAttemptAt
		out.LastError = st.LastError
		if len(st.Stats) > 0 {
			out.LastCycle = json.RawMessage(st.Stats)
		}
	}
	return out, nil
}

func (s *LeaderboardService) entry(rec model.RunnerRecord, score int) LeaderboardEntry {
	return LeaderboardEntry{
		AthleteID:      rec.AthleteID,
		Name:           rec.DisplayName,
		CredentialMode: string(rec.Credential.Mode()),
		TotalCount:     score,
		LastSynced:     rec.LastSyncedEpoch,
	}
}

// rank 排序并按并列排名（1,1,3）
func rank(entries []LeaderboardEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].TotalCount != entries[j].TotalCount {
			return entries[i].TotalCount > entries[j].TotalCount
		}
		return entries[i].Name < entries[j].Name
	})
	for i := range entries {
		if i > 0 && entries[i].TotalCount == entries[i-1].TotalCount {
			entries[i].Rank = entries[i-1].Rank
			continue
		}
		entries[i].Rank = i + 1
	}
}
