package interfaces

import (
	"context"
	"errors"
	"time"

	"SegmentSync/internal/model"
)

// RunnerRepository 选手记录仓储
type RunnerRepository interface {
	Get(ctx context.Context, athleteID int64) (*model.RunnerRecord, error)
	// ListAll 返回可解析的全部选手；无法解析的行不中断加载，单独返回
	ListAll(ctx context.Context) ([]model.RunnerRecord, []UnreadableRunner, error)
	Upsert(ctx context.Context, rec model.RunnerRecord) error
	Delete(ctx context.Context, athleteID int64) error
	// SaveBatch 一次事务写回本轮所有更新。
	// 只写回 Revision 与存储一致的记录；加载后被删除或改动过的选手跳过，返回其 athlete_id。
	SaveBatch(ctx context.Context, recs []model.RunnerRecord) (stale []int64, err error)
}

// UnreadableRunner 存储中无法还原为领域记录的行
type UnreadableRunner struct {
	AthleteID int64
	Err       error
}

// FeedRepository 动态流仓储（仅追加，按去重键幂等）
type FeedRepository interface {
	ListKeys(ctx context.Context) (map[string]struct{}, error)
	Append(ctx context.Context, entries []model.FeedEntry) (int, error)
	List(ctx context.Context, limit int) ([]model.FeedEntry, error)
}

// SyncStateRepository 最近同步状态
type SyncStateRepository interface {
	Get(ctx context.Context) (*model.SyncState, error)
	MarkAttempt(ctx context.Context, at time.Time, syncErr error) error
	MarkSuccess(ctx context.Context, at time.Time, stats interface{}) error
}

// ErrRunnerNotFound 仓储中不存在该选手
var ErrRunnerNotFound = errors.New("选手不存在")
