package model

import (
	"fmt"
	"time"
)

// SyncMode 合并模式
type SyncMode string

const (
	SyncIncremental SyncMode = "incremental" // 增量：计数累加
	SyncFull        SyncMode = "full"        // 全量：计数替换（注册回填/强制重算）
)

// FeedEntry 动态流条目：仅命中追踪路段的活动才会产生
type FeedEntry struct {
	RunnerName   string    `json:"runner_name"`
	ActivityID   int64     `json:"activity_id"`
	ActivityTime time.Time `json:"activity_time"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	DistanceKm   float64   `json:"distance_km"`
	KudosCount   int       `json:"kudos_count"`
	Matches      int       `json:"matches"`
}

// Key 去重键：(去标记后的选手名, 活动时间)
func (e FeedEntry) Key() string {
	return FeedKey(e.RunnerName, e.ActivityTime)
}

func FeedKey(runnerName string, activityTime time.Time) string {
	return fmt.Sprintf("%s|%d", RunnerKey(runnerName), activityTime.Unix())
}
