package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"SegmentSync/internal/interfaces"
	"SegmentSync/internal/model"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const maxSyntheticIDAttempts = 5

// AdminService 管理员直接修改选手记录；任何修改后都重新计算总数
type AdminService struct {
	runners   interfaces.RunnerRepository
	challenge *model.Challenge
	logger    *logrus.Logger
}

func NewAdminService(runners interfaces.RunnerRepository, challenge *model.Challenge, logger *logrus.Logger) *AdminService {
	return &AdminService{runners: runners, challenge: challenge, logger: logger}
}

// UpdateCounts 覆盖指定路段的计数，未提供的路段保持不变
func (s *AdminService) UpdateCounts(ctx context.Context, athleteID int64, counts model.SegmentCounts) (*model.RunnerRecord, error) {
	if err := s.validateCounts(counts); err != nil {
		return nil, err
	}
	rec, err := s.runners.Get(ctx, athleteID)
	if err != nil {
		return nil, err
	}

	next := rec.Clone()
	next.SegmentCounts = s.challenge.Segments().Normalize(next.SegmentCounts)
	for id, n := range counts {
		next.SegmentCounts[id] = n
	}
	s.recompute(&next)

	if err := s.runners.Upsert(ctx, next); err != nil {
		return nil, fmt.Errorf("保存选手失败: %w", err)
	}
	s.logger.WithFields(logrus.Fields{"athlete_id": athleteID, "total": next.TotalCount}).Info("管理员修改路段计数")
	return &next, nil
}

// AddManualRunner 新增手工录入选手（合成负数ID，名字带手工标记，不参与同步）
func (s *AdminService) AddManualRunner(ctx context.Context, name string, counts model.SegmentCounts) (*model.RunnerRecord, error) {
	return s.addOffline(ctx, model.MarkManualName(name), model.ManualCredential(), counts)
}

// AddPlaceholder 新增占位选手，等待本人授权后按名字合并
func (s *AdminService) AddPlaceholder(ctx context.Context, name string) (*model.RunnerRecord, error) {
	return s.addOffline(ctx, strings.TrimSpace(name), model.ScrapedCredential(), nil)
}

// DeleteRunner 删除选手
func (s *AdminService) DeleteRunner(ctx context.Context, athleteID int64) error {
	if err := s.runners.Delete(ctx, athleteID); err != nil {
		return err
	}
	s.logger.WithField("athlete_id", athleteID).Info("管理员删除选手")
	return nil
}

func (s *AdminService) addOffline(ctx context.Context, name string, cred model.Credential, counts model.SegmentCounts) (*model.RunnerRecord, error) {
	if model.StripNameMarker(name) == "" {
		return nil, ErrInvalidName
	}
	if err := s.validateCounts(counts); err != nil {
		return nil, err
	}
	id, err := s.syntheticID(ctx)
	if err != nil {
		return nil, err
	}

	rec := model.RunnerRecord{
		AthleteID:       id,
		DisplayName:     name,
		Credential:      cred,
		LastSyncedEpoch: s.challenge.StartEpoch(),
		SegmentCounts:   s.challenge.Segments().Normalize(counts),
	}
	s.recompute(&rec)
	if err := s.runners.Upsert(ctx, rec); err != nil {
		return nil, fmt.Errorf("保存选手失败: %w", err)
	}
	s.logger.WithFields(logrus.Fields{"athlete_id": id, "runner": name, "mode": cred.Mode()}).Info("管理员新增离线选手")
	return &rec, nil
}

// syntheticID 负数ID与上游选手ID不会冲突
func (s *AdminService) syntheticID(ctx context.Context) (int64, error) {
	for i := 0; i < maxSyntheticIDAttempts; i++ {
		id := -int64(uuid.New().ID())
		if id == 0 {
			continue
		}
		_, err := s.runners.Get(ctx, id)
		if errors.Is(err, interfaces.ErrRunnerNotFound) {
			return id, nil
		}
		if err != nil {
			return 0, fmt.Errorf("查询选手失败: %w", err)
		}
	}
	return 0, fmt.Errorf("生成选手ID失败")
}

func (s *AdminService) validateCounts(counts model.SegmentCounts) error {
	for id, n := range counts {
		if !s.challenge.Segments().Contains(id) {
			return fmt.Errorf("%w: %d", ErrUnknownSegment, id)
		}
		if n < 0 {
			return fmt.Errorf("%w: 路段%d=%d", ErrInvalidCount, id, n)
		}
	}
	return nil
}

// recompute 管理员修改绕过了合并逻辑，这里无条件重建总数
func (s *AdminService) recompute(rec *model.RunnerRecord) {
	if rec.RecomputeTotal() {
		s.logger.WithField("athlete_id", rec.AthleteID).Debug("管理员修改后重新计算总数")
	}
}
