package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"SegmentSync/internal/interfaces"
	"SegmentSync/internal/model"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SyncScope 同步状态表里唯一的一行
const SyncScope = "segment_sync"

type SyncStateRepository struct {
	db    *gorm.DB
	scope string
}

func NewSyncStateRepository(db *gorm.DB) interfaces.SyncStateRepository {
	return &SyncStateRepository{db: db, scope: SyncScope}
}

// Get 尚未同步过时返回 nil
func (r *SyncStateRepository) Get(ctx context.Context) (*model.SyncState, error) {
	var st model.SyncState
	if err := r.db.WithContext(ctx).Where("scope = ?", r.scope).First(&st).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &st, nil
}

// MarkAttempt 记录尝试时间；syncErr 非空时同时记录错误
func (r *SyncStateRepository) MarkAttempt(ctx context.Context, at time.Time, syncErr error) error {
	st := &model.SyncState{Scope: r.scope, LastAttemptAt: &at}
	columns := []string{"last_attempt_at"}
	if syncErr != nil {
		msg := syncErr.Error()
		st.LastError = &msg
		columns = append(columns, "last_error")
	}
	return r.upsert(ctx, st, columns)
}

// MarkSuccess 记录成功时间与本轮统计，并清空错误
func (r *SyncStateRepository) MarkSuccess(ctx context.Context, at time.Time, stats interface{}) error {
	raw, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("序列化同步统计失败: %w", err)
	}
	st := &model.SyncState{Scope: r.scope, LastSuccessAt: &at, Stats: datatypes.JSON(raw)}
	return r.upsert(ctx, st, []string{"last_success_at", "last_error", "stats"})
}

func (r *SyncStateRepository) upsert(ctx context.Context, st *model.SyncState, columns []string) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "scope"}},
		DoUpdates: clause.AssignmentColumns(columns),
	}).Create(st).Error
}
