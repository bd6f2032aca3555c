package model

import (
	"fmt"
	"sort"
	"time"
)

// Segment 追踪的路段（上游路段ID → 展示名）
type Segment struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// SegmentSet 追踪路段集合，构建后只读
type SegmentSet struct {
	ordered []Segment
	index   map[int64]int
}

// NewSegmentSet 按配置顺序构建路段集合；ID 必须为正且不可重复
func NewSegmentSet(segments []Segment) (SegmentSet, error) {
	set := SegmentSet{
		ordered: make([]Segment, 0, len(segments)),
		index:   make(map[int64]int, len(segments)),
	}
	for _, s := range segments {
		if s.ID <= 0 {
			return SegmentSet{}, fmt.Errorf("路段ID非法: %d", s.ID)
		}
		if _, dup := set.index[s.ID]; dup {
			return SegmentSet{}, fmt.Errorf("路段ID重复: %d", s.ID)
		}
		if s.Name == "" {
			s.Name = fmt.Sprintf("segment_%d", s.ID)
		}
		set.index[s.ID] = len(set.ordered)
		set.ordered = append(set.ordered, s)
	}
	return set, nil
}

// Contains 是否为追踪路段
func (s SegmentSet) Contains(id int64) bool {
	_, ok := s.index[id]
	return ok
}

// Name 路段展示名
func (s SegmentSet) Name(id int64) (string, bool) {
	i, ok := s.index[id]
	if !ok {
		return "", false
	}
	return s.ordered[i].Name, true
}

func (s SegmentSet) Len() int { return len(s.ordered) }

// List 返回副本，调用方修改不影响集合
func (s SegmentSet) List() []Segment {
	out := make([]Segment, len(s.ordered))
	copy(out, s.ordered)
	return out
}

// ZeroCounts 每个追踪路段一项、计数为0
func (s SegmentSet) ZeroCounts() SegmentCounts {
	counts := make(SegmentCounts, len(s.ordered))
	for _, seg := range s.ordered {
		counts[seg.ID] = 0
	}
	return counts
}

// Normalize 补齐缺失路段为0，丢弃非追踪路段，负数按0处理
func (s SegmentSet) Normalize(counts SegmentCounts) SegmentCounts {
	out := s.ZeroCounts()
	for id, n := range counts {
		if !s.Contains(id) || n < 0 {
			continue
		}
		out[id] = n
	}
	return out
}

// Challenge 进程级只读挑战配置，启动时构建一次后注入各服务
type Challenge struct {
	start         time.Time
	segments      SegmentSet
	activityTypes map[string]struct{}
}

func NewChallenge(start time.Time, segments SegmentSet, activityTypes []string) *Challenge {
	types := make(map[string]struct{}, len(activityTypes))
	for _, t := range activityTypes {
		types[t] = struct{}{}
	}
	return &Challenge{start: start.UTC(), segments: segments, activityTypes: types}
}

func (c *Challenge) Start() time.Time { return c.start }

// StartEpoch 挑战开始时间（Unix秒），也是新选手的初始水位
func (c *Challenge) StartEpoch() int64 { return c.start.Unix() }

func (c *Challenge) Segments() SegmentSet { return c.segments }

// TracksActivityType 活动类型是否计入统计（Run/Walk/Hike）
func (c *Challenge) TracksActivityType(activityType string) bool {
	_, ok := c.activityTypes[activityType]
	return ok
}

func (c *Challenge) ActivityTypes() []string {
	out := make([]string, 0, len(c.activityTypes))
	for t := range c.activityTypes {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
