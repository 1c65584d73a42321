package scheduler

import (
	"context"
	"time"

	"aegis/internal/logger"
)

// AlignedScheduler 在 interval 的整点边界（再加 offset）触发任务，
// 例如 interval=1d offset=5m 表示每天 00:05 UTC 执行一次。
type AlignedScheduler struct {
	Name           string
	Interval       time.Duration
	Offset         time.Duration
	RunImmediately bool

	nowFn func() time.Time
}

func NewAlignedScheduler(name string, interval, offset time.Duration) *AlignedScheduler {
	return &AlignedScheduler{
		Name:     name,
		Interval: interval,
		Offset:   offset,
		nowFn:    time.Now,
	}
}

// Run 阻塞直到 ctx 结束；task 串行执行，不会与自身重叠。
func (s *AlignedScheduler) Run(ctx context.Context, task func(context.Context)) {
	if s == nil {
		return
	}
	prefix := "AlignedScheduler"
	if s.Name != "" {
		prefix += "[" + s.Name + "]"
	}
	if task == nil {
		logger.Warnf("%s: task is nil, exit", prefix)
		return
	}
	if s.Interval <= 0 {
		logger.Warnf("%s: invalid interval=%s, exit", prefix, s.Interval)
		return
	}
	if s.Offset < 0 {
		logger.Warnf("%s: negative offset=%s, clamp to 0", prefix, s.Offset)
		s.Offset = 0
	}
	if s.nowFn == nil {
		s.nowFn = time.Now
	}

	startAt := s.nowFn().UTC()
	logger.Infof("%s: started interval=%s offset=%s run_immediately=%v at=%s",
		prefix, s.Interval, s.Offset, s.RunImmediately, startAt.Format(time.RFC3339))

	if s.RunImmediately {
		task(ctx)
	}

	for {
		now := s.nowFn().UTC()
		wakeAt, wait := s.nextRun(now)
		logger.Debugf("%s: 下一次执行=%s (in %s) | uptime=%s",
			prefix, wakeAt.Format(time.RFC3339), wait.Truncate(time.Millisecond), now.Sub(startAt).Truncate(time.Second))

		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				logger.Infof("%s: ctx done, exit", prefix)
				return
			case <-timer.C:
			}
		}
		if ctx.Err() != nil {
			return
		}
		task(ctx)
	}
}

// nextRun 返回下一个对齐边界加 offset 的时间点以及需要等待的时长。
func (s *AlignedScheduler) nextRun(now time.Time) (time.Time, time.Duration) {
	now = now.UTC()
	boundary := now.Truncate(s.Interval)
	wakeAt := boundary.Add(s.Offset)
	if !wakeAt.After(now) {
		wakeAt = boundary.Add(s.Interval).Add(s.Offset)
	}
	return wakeAt, wakeAt.Sub(now)
}
