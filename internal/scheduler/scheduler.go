package scheduler

import (
	"context"
	"time"

	"sealwatch/internal/logger"
)

// TickScheduler 按固定间隔对齐到整点触发任务，只在交易时段内执行。
// 任务执行期间错过的触发点直接跳过，不会补跑。
type TickScheduler struct {
	Name           string
	Interval       time.Duration
	Offset         time.Duration
	Sessions       Sessions
	RunImmediately bool

	ctx   context.Context
	nowFn func() time.Time
}

func NewTickScheduler(ctx context.Context, interval, offset time.Duration, sessions Sessions) *TickScheduler {
	if ctx == nil {
		ctx = context.Background()
	}
	return &TickScheduler{
		Interval: interval,
		Offset:   offset,
		Sessions: sessions,
		ctx:      ctx,
		nowFn:    time.Now,
	}
}

func (s *TickScheduler) prefix() string {
	if s.Name != "" {
		return "TickScheduler[" + s.Name + "]"
	}
	return "TickScheduler"
}

// Start 阻塞直到 ctx 结束。
func (s *TickScheduler) Start(task func(now time.Time)) {
	if s == nil {
		return
	}
	if task == nil {
		logger.Warnf("%s: task is nil, exit", s.prefix())
		return
	}
	if s.Interval <= 0 {
		logger.Warnf("%s: invalid interval=%s, exit", s.prefix(), s.Interval)
		return
	}
	if s.Offset < 0 {
		logger.Warnf("%s: negative offset=%s, clamp to 0", s.prefix(), s.Offset)
		s.Offset = 0
	}
	if s.nowFn == nil {
		s.nowFn = time.Now
	}

	startAt := s.nowFn()
	logger.Infof("%s: started interval=%s offset=%s sessions=%s run_immediately=%v at=%s",
		s.prefix(), s.Interval, s.Offset, s.Sessions, s.RunImmediately, startAt.Format(time.RFC3339))

	if s.RunImmediately && s.Sessions.Contains(startAt) {
		task(startAt)
	}

	var idleLogged bool
	for {
		now := s.nowFn()
		wakeAt := s.nextWake(now)
		if !s.Sessions.Contains(wakeAt) {
			open := s.Sessions.NextOpen(wakeAt)
			if !idleLogged {
				logger.Infof("%s: 非交易时段，下一次开盘=%s (in %s)", s.prefix(),
					open.Format(time.RFC3339), open.Sub(now).Truncate(time.Second))
				idleLogged = true
			}
			wakeAt = s.nextWake(open.Add(-time.Nanosecond))
		} else {
			idleLogged = false
		}
		if !s.waitUntil(wakeAt) {
			return
		}
		task(wakeAt)
	}
}

func (s *TickScheduler) nextWake(now time.Time) time.Time {
	next := now.Truncate(s.Interval).Add(s.Interval).Add(s.Offset)
	for !next.After(now) {
		next = next.Add(s.Interval)
	}
	return next
}

func (s *TickScheduler) waitUntil(target time.Time) bool {
	wait := target.Sub(s.nowFn())
	if wait <= 0 {
		select {
		case <-s.ctx.Done():
			logger.Infof("%s: ctx done, exit", s.prefix())
			return false
		default:
			return true
		}
	}
	timer := time.NewTimer(wait)
	select {
	case <-s.ctx.Done():
		timer.Stop()
		logger.Infof("%s: ctx done, exit", s.prefix())
		return false
	case <-timer.C:
		return true
	}
}
