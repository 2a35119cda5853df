package scheduler

import (
	"context"
	"time"

	"babylon/internal/logger"
)

// AlignedRunner 周期对齐执行器：按 UTC 整周期边界触发（如 8h 资金费
// 在 00:00/08:00/16:00 结算），而不是以进程启动时刻为锚。
type AlignedRunner struct {
	Name           string
	Interval       time.Duration
	Offset         time.Duration
	RunImmediately bool

	ctx   context.Context
	nowFn func() time.Time
}

func NewAlignedRunner(ctx context.Context, name string, interval, offset time.Duration) *AlignedRunner {
	if ctx == nil {
		ctx = context.Background()
	}
	return &AlignedRunner{
		Name:     name,
		Interval: interval,
		Offset:   offset,
		ctx:      ctx,
		nowFn:    time.Now,
	}
}

func (s *AlignedRunner) Start(task func()) {
	if s == nil {
		return
	}
	if task == nil {
		logger.Warnf("AlignedRunner[%s]: task is nil, exit", s.Name)
		return
	}
	if s.Interval <= 0 {
		logger.Warnf("AlignedRunner[%s]: invalid interval=%s, exit", s.Name, s.Interval)
		return
	}
	if s.Offset < 0 {
		logger.Warnf("AlignedRunner[%s]: negative offset=%s, clamp to 0", s.Name, s.Offset)
		s.Offset = 0
	}
	if s.nowFn == nil {
		s.nowFn = time.Now
	}

	startAt := s.nowFn().UTC()
	logger.Infof("AlignedRunner[%s]: started interval=%s offset=%s run_immediately=%v at=%s",
		s.Name, s.Interval, s.Offset, s.RunImmediately, startAt.Format(time.RFC3339))

	if s.RunImmediately {
		task()
	}

	for {
		now := s.nowFn().UTC()
		boundary, wakeAt, wait := s.nextTimes(now)
		uptime := now.Sub(startAt)

		logger.Infof("AlignedRunner[%s]: 下一周期边界=%s 将在=%s 执行 (in %s) | uptime=%s",
			s.Name,
			boundary.Format(time.RFC3339),
			wakeAt.Format(time.RFC3339),
			wait.Truncate(time.Second),
			uptime.Truncate(time.Second),
		)

		if wait <= 0 {
			task()
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			logger.Infof("AlignedRunner[%s]: ctx done, exit", s.Name)
			return
		case <-timer.C:
		}
		task()
	}
}

// NextBoundary 返回 now 之后最近的周期边界（UTC 对齐）。
func (s *AlignedRunner) NextBoundary(now time.Time) time.Time {
	boundary, _, _ := s.nextTimes(now.UTC())
	return boundary
}

func (s *AlignedRunner) nextTimes(now time.Time) (boundary, wakeAt time.Time, wait time.Duration) {
	now = now.UTC()
	boundary = now.Truncate(s.Interval).Add(s.Interval)
	wakeAt = boundary.Add(s.Offset)
	wait = wakeAt.Sub(now)
	return boundary, wakeAt, wait
}
