package repository

import (
	"context"

	"SegmentSync/internal/interfaces"
	"SegmentSync/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const feedInsertBatchSize = 100

type FeedRepository struct {
	db *gorm.DB
}

func NewFeedRepository(db *gorm.DB) interfaces.FeedRepository {
	return &FeedRepository{db: db}
}

// ListKeys 已有动态的去重键
func (r *FeedRepository) ListKeys(ctx context.Context) (map[string]struct{}, error) {
	var rows []*model.ActivityFeed
	if err := r.db.WithContext(ctx).Select("runner_key", "activity_time").Find(&rows).Error; err != nil {
		return nil, err
	}
	keys := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		keys[model.FeedKey(row.RunnerKey, row.ActivityTime)] = struct{}{}
	}
	return keys, nil
}

// Append 追加动态；命中唯一索引 uk_feed_runner_time 的条目静默忽略，返回实际写入条数
func (r *FeedRepository) Append(ctx context.Context, entries []model.FeedEntry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	rows := make([]*model.ActivityFeed, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, model.FeedRowFromEntry(e))
	}
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "runner_key"}, {Name: "activity_time"}},
		DoNothing: true,
	}).CreateInBatches(rows, feedInsertBatchSize)
	if res.Error != nil {
		return 0, res.Error
	}
	return int(res.RowsAffected), nil
}

// List 最新在前
func (r *FeedRepository) List(ctx context.Context, limit int) ([]model.FeedEntry, error) {
	var rows []*model.ActivityFeed
	if err := r.db.WithContext(ctx).Order("activity_time DESC").Order("id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]model.FeedEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.ToEntry())
	}
	return out, nil
}
