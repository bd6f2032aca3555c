package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"gorm.io/datatypes"
)

// Runner 选手表，一名参赛者一行
type Runner struct {
	AthleteID      int64          `gorm:"column:athlete_id;primaryKey;autoIncrement:false;comment:上游选手ID（手工选手为负数合成ID）"`
	Name           string         `gorm:"column:name;type:varchar(128);not null;comment:展示名"`
	CredentialMode string         `gorm:"column:credential_mode;type:varchar(16);not null;default:live;comment:凭据类型：live/manual/scraped"`
	RefreshToken   *string        `gorm:"column:refresh_token;type:varchar(256);comment:长期凭据，仅live有效"`
	LastSynced     int64          `gorm:"column:last_synced;type:bigint;not null;comment:水位（Unix秒）"`
	TotalCount     int            `gorm:"column:total_count;type:int;not null;default:0;comment:路段总次数"`
	SegmentCounts  datatypes.JSON `gorm:"column:segment_counts;type:jsonb;not null;comment:各路段次数"`
	Revision       int64          `gorm:"column:revision;type:bigint;not null;default:0;comment:版本号（每次写入+1）"`
	CreatedAt      time.Time      `gorm:"column:created_at;type:timestamp;default:now();comment:创建时间"`
	UpdatedAt      time.Time      `gorm:"column:updated_at;type:timestamp;default:now();comment:更新时间"`
}

// ActivityFeed 动态流表，仅追加
type ActivityFeed struct {
	ID           uint64    `gorm:"column:id;primaryKey;autoIncrement;comment:自增主键ID"`
	RunnerKey    string    `gorm:"column:runner_key;type:varchar(128);not null;uniqueIndex:uk_feed_runner_time;comment:去标记后的选手名"`
	RunnerName   string    `gorm:"column:runner_name;type:varchar(128);not null;comment:选手展示名"`
	ActivityID   int64     `gorm:"column:activity_id;type:bigint;comment:上游活动ID"`
	ActivityTime time.Time `gorm:"column:activity_time;type:timestamp;not null;uniqueIndex:uk_feed_runner_time;comment:活动开始时间"`
	Title        string    `gorm:"column:title;type:varchar(256);comment:活动标题"`
	Description  string    `gorm:"column:description;type:text;comment:活动描述"`
	DistanceKm   float64   `gorm:"column:distance_km;type:numeric(10,2);default:0;comment:距离（公里）"`
	KudosCount   int       `gorm:"column:kudos_count;type:int;default:0;comment:点赞数"`
	Matches      int       `gorm:"column:matches;type:int;default:0;comment:命中路段次数"`
	CreatedAt    time.Time `gorm:"column:created_at;type:timestamp;default:now();comment:创建时间"`
}

// SyncState 同步状态（最近一次成功同步标记）
type SyncState struct {
	Scope         string         `gorm:"column:scope;primaryKey;type:varchar(32);comment:同步范围标识"`
	LastSuccessAt *time.Time     `gorm:"column:last_success_at;type:timestamp;comment:最近成功时间"`
	LastAttemptAt *time.Time     `gorm:"column:last_attempt_at;type:timestamp;comment:最近尝试时间"`
	LastError     *string        `gorm:"column:last_error;type:text;comment:最近错误信息"`
	Stats         datatypes.JSON `gorm:"column:stats;type:jsonb;comment:本轮统计JSON"`
}

func (Runner) TableName() string       { return "runners" }
func (ActivityFeed) TableName() string { return "activity_feed" }
func (SyncState) TableName() string    { return "sync_states" }

// EncodeSegmentCounts 路段计数 → jsonb（键为路段ID字符串）
func EncodeSegmentCounts(counts SegmentCounts) (datatypes.JSON, error) {
	raw := make(map[string]int, len(counts))
	for id, n := range counts {
		raw[strconv.FormatInt(id, 10)] = n
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("序列化路段计数失败: %w", err)
	}
	return b, nil
}

// DecodeSegmentCounts jsonb → 路段计数
func DecodeSegmentCounts(data datatypes.JSON) (SegmentCounts, error) {
	counts := make(SegmentCounts)
	if len(data) == 0 || string(data) == "null" {
		return counts, nil
	}
	var raw map[string]int
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("解析路段计数失败: %w", err)
	}
	for k, n := range raw {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("路段ID非法: %q", k)
		}
		counts[id] = n
	}
	return counts, nil
}

// ToRecord 表行 → 领域记录
func (r *Runner) ToRecord() (RunnerRecord, error) {
	cred, err := ParseCredential(r.CredentialMode, r.RefreshToken)
	if err != nil {
		return RunnerRecord{}, fmt.Errorf("选手%d: %w", r.AthleteID, err)
	}
	counts, err := DecodeSegmentCounts(r.SegmentCounts)
	if err != nil {
		return RunnerRecord{}, fmt.Errorf("选手%d: %w", r.AthleteID, err)
	}
	return RunnerRecord{
		AthleteID:       r.AthleteID,
		DisplayName:     r.Name,
		Credential:      cred,
		LastSyncedEpoch: r.LastSynced,
		TotalCount:      r.TotalCount,
		SegmentCounts:   counts,
		Revision:        r.Revision,
	}, nil
}

// RunnerFromRecord 领域记录 → 表行；总数一律按路段之和写入
func RunnerFromRecord(rec RunnerRecord) (*Runner, error) {
	counts, err := EncodeSegmentCounts(rec.SegmentCounts)
	if err != nil {
		return nil, err
	}
	row := &Runner{
		AthleteID:      rec.AthleteID,
		Name:           rec.DisplayName,
		CredentialMode: string(rec.Credential.Mode()),
		LastSynced:     rec.LastSyncedEpoch,
		TotalCount:     rec.SegmentCounts.Sum(),
		SegmentCounts:  counts,
		Revision:       rec.Revision,
		UpdatedAt:      time.Now(),
	}
	if tok, ok := rec.Credential.RefreshToken(); ok {
		row.RefreshToken = &tok
	}
	return row, nil
}

// FeedRowFromEntry 领域条目 → 表行
func FeedRowFromEntry(e FeedEntry) *ActivityFeed {
	return &ActivityFeed{
		RunnerKey:    RunnerKey(e.RunnerName),
		RunnerName:   e.RunnerName,
		ActivityID:   e.ActivityID,
		ActivityTime: e.ActivityTime.UTC(),
		Title:        e.Title,
		Description:  e.Description,
		DistanceKm:   e.DistanceKm,
		KudosCount:   e.KudosCount,
		Matches:      e.Matches,
	}
}

// ToEntry 表行 → 领域条目
func (f *ActivityFeed) ToEntry() FeedEntry {
	return FeedEntry{
		RunnerName:   f.RunnerName,
		ActivityID:   f.ActivityID,
		ActivityTime: f.ActivityTime.UTC(),
		Title:        f.Title,
		Description:  f.Description,
		DistanceKm:   f.DistanceKm,
		KudosCount:   f.KudosCount,
		Matches:      f.Matches,
	}
}
