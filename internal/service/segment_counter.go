package service

import "SegmentSync/internal/model"

// SegmentMatch 单个活动的路段命中结果
type SegmentMatch struct {
	Increments model.SegmentCounts // 仅包含命中的路段
	Matches    int
}

// Matched 至少命中一次才产生动态流条目
func (m SegmentMatch) Matched() bool { return m.Matches > 0 }

// CountSegmentMatches 统计活动详情中命中追踪路段的记录数。
// 同一活动里多次经过同一路段（往返跑）每次都计数。
func CountSegmentMatches(detail *model.DetailedActivity, segments model.SegmentSet) SegmentMatch {
	m := SegmentMatch{Increments: make(model.SegmentCounts)}
	if detail == nil {
		return m
	}
	for _, effort := range detail.SegmentEfforts {
		if !segments.Contains(effort.Segment.ID) {
			continue
		}
		m.Increments[effort.Segment.ID]++
		m.Matches++
	}
	return m
}
