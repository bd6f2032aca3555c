package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"SegmentSync/internal/interfaces"
	"SegmentSync/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// runnerUpsertColumns 冲突时覆盖的列（created_at 保留首次注册时间）
var runnerUpsertColumns = []string{"name", "credential_mode", "refresh_token", "last_synced", "total_count", "segment_counts", "updated_at"}

type RunnerRepository struct {
	db *gorm.DB
}

func NewRunnerRepository(db *gorm.DB) interfaces.RunnerRepository {
	return &RunnerRepository{db: db}
}

func (r *RunnerRepository) Get(ctx context.Context, athleteID int64) (*model.RunnerRecord, error) {
	var row model.Runner
	if err := r.db.WithContext(ctx).Where("athlete_id = ?", athleteID).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, interfaces.ErrRunnerNotFound
		}
		return nil, err
	}
	rec, err := row.ToRecord()
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListAll 按 athlete_id 排序，保证每轮同步的选手顺序稳定；坏行跳过并单独返回
func (r *RunnerRepository) ListAll(ctx context.Context) ([]model.RunnerRecord, []interfaces.UnreadableRunner, error) {
	var rows []*model.Runner
	if err := r.db.WithContext(ctx).Order("athlete_id ASC").Find(&rows).Error; err != nil {
		return nil, nil, err
	}
	out := make([]model.RunnerRecord, 0, len(rows))
	var bad []interfaces.UnreadableRunner
	for _, row := range rows {
		rec, err := row.ToRecord()
		if err != nil {
			bad = append(bad, interfaces.UnreadableRunner{AthleteID: row.AthleteID, Err: err})
			continue
		}
		out = append(out, rec)
	}
	return out, bad, nil
}

func (r *RunnerRepository) Upsert(ctx context.Context, rec model.RunnerRecord) error {
	row, err := model.RunnerFromRecord(rec)
	if err != nil {
		return err
	}
	return upsertRunner(r.db.WithContext(ctx), row)
}

func (r *RunnerRepository) Delete(ctx context.Context, athleteID int64) error {
	res := r.db.WithContext(ctx).Where("athlete_id = ?", athleteID).Delete(&model.Runner{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return interfaces.ErrRunnerNotFound
	}
	return nil
}

// SaveBatch 单事务写回本轮全部更新，任一失败整体回滚。
// 按 revision 做乐观校验：加载之后被管理员删除或改动过的行不覆盖，记入 stale。
func (r *RunnerRepository) SaveBatch(ctx context.Context, recs []model.RunnerRecord) ([]int64, error) {
	if len(recs) == 0 {
		return nil, nil
	}
	rows := make([]*model.Runner, 0, len(recs))
	for _, rec := range recs {
		row, err := model.RunnerFromRecord(rec)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}

	tx := r.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("开启事务失败: %w", tx.Error)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	now := time.Now()
	var stale []int64
	for _, row := range rows {
		res := tx.Model(&model.Runner{}).
			Where("athlete_id = ? AND revision = ?", row.AthleteID, row.Revision).
			Updates(map[string]interface{}{
				"last_synced":    row.LastSynced,
				"total_count":    row.TotalCount,
				"segment_counts": row.SegmentCounts,
				"updated_at":     now,
				"revision":       gorm.Expr("revision + 1"),
			})
		if res.Error != nil {
			tx.Rollback()
			return nil, fmt.Errorf("写回选手失败: %w, athlete_id: %d", res.Error, row.AthleteID)
		}
		if res.RowsAffected == 0 {
			stale = append(stale, row.AthleteID)
		}
	}

	if err := tx.Commit().Error; err != nil {
		return nil, fmt.Errorf("提交事务失败: %w", err)
	}
	return stale, nil
}

// upsertRunner 注册与管理员写入：冲突时覆盖并递增 revision，使进行中的同步放弃旧数据
func upsertRunner(db *gorm.DB, row *model.Runner) error {
	updates := clause.AssignmentColumns(runnerUpsertColumns)
	updates = append(updates, clause.Assignment{
		Column: clause.Column{Name: "revision"},
		Value:  gorm.Expr("runners.revision + 1"),
	})
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "athlete_id"}},
		DoUpdates: updates,
	}).Create(row).Error
}
