package service

import "SegmentSync/internal/model"

// ChooseSyncMode 强制重算，或水位从未越过挑战开始时间时用全量；否则增量
func ChooseSyncMode(forceFull bool, watermark, challengeStart int64) model.SyncMode {
	if forceFull || watermark <= challengeStart {
		return model.SyncFull
	}
	return model.SyncIncremental
}

// MergeTally 合并本轮结果到选手记录，返回新记录（不修改入参）。
// 增量模式累加，全量模式替换；水位只前进不后退；总数始终由路段计数重新求和。
func MergeTally(current model.RunnerRecord, batch model.SegmentCounts, newWatermark int64, mode model.SyncMode, segments model.SegmentSet) model.RunnerRecord {
	next := current.Clone()

	switch mode {
	case model.SyncFull:
		next.SegmentCounts = segments.Normalize(batch)
	default:
		counts := segments.Normalize(current.SegmentCounts)
		counts.Add(segments.Normalize(batch))
		next.SegmentCounts = counts
	}

	if newWatermark > next.LastSyncedEpoch {
		next.LastSyncedEpoch = newWatermark
	}
	next.RecomputeTotal()
	return next
}
