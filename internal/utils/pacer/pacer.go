package pacer

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Interval 固定间隔闸门：相邻两次 Wait 返回的间隔不小于 interval
type Interval struct {
	limiter *rate.Limiter
}

// NewInterval burst=1 的令牌桶即固定间隔闸门
func NewInterval(interval time.Duration) *Interval {
	return &Interval{limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

func (p *Interval) Wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}

// Delay 每次 Wait 都阻塞固定时长（选手之间的安全间隔）
type Delay struct {
	d time.Duration
}

func NewDelay(d time.Duration) *Delay {
	return &Delay{d: d}
}

func (p *Delay) Wait(ctx context.Context) error {
	if p.d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(p.d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
