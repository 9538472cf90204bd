package scheduler

import (
	"fmt"
	"strings"
	"time"
)

// Window 是一个交易时段，时间为当地时区当天的偏移。
type Window struct {
	Start time.Duration
	End   time.Duration
}

// Sessions 描述每日交易时段；为空表示全天。
type Sessions struct {
	Loc     *time.Location
	Windows []Window
	// Weekdays 为空时只排除周六周日。
	Weekdays []time.Weekday
}

// ParseSessions 解析 "09:30-11:30,13:00-15:00" 形式的时段列表。
func ParseSessions(spec string, loc *time.Location) (Sessions, error) {
	out := Sessions{Loc: loc}
	spec = strings.TrimSpace(spec)
	if spec == "" || spec == "*" {
		return out, nil
	}
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		bounds := strings.Split(part, "-")
		if len(bounds) != 2 {
			return Sessions{}, fmt.Errorf("invalid session %q", part)
		}
		start, err := parseClock(bounds[0])
		if err != nil {
			return Sessions{}, err
		}
		end, err := parseClock(bounds[1])
		if err != nil {
			return Sessions{}, err
		}
		if end <= start {
			return Sessions{}, fmt.Errorf("session %q ends before it starts", part)
		}
		out.Windows = append(out.Windows, Window{Start: start, End: end})
	}
	return out, nil
}

func parseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid clock %q: %w", s, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

func (s Sessions) location() *time.Location {
	if s.Loc != nil {
		return s.Loc
	}
	return time.Local
}

func (s Sessions) tradingDay(t time.Time) bool {
	if len(s.Weekdays) == 0 {
		return t.Weekday() != time.Saturday && t.Weekday() != time.Sunday
	}
	for _, d := range s.Weekdays {
		if t.Weekday() == d {
			return true
		}
	}
	return false
}

// Contains 判断 t 是否落在某个交易时段内（含开盘、收盘时刻）。
func (s Sessions) Contains(t time.Time) bool {
	if len(s.Windows) == 0 {
		return true
	}
	local := t.In(s.location())
	if !s.tradingDay(local) {
		return false
	}
	offset := local.Sub(midnight(local))
	for _, w := range s.Windows {
		if offset >= w.Start && offset <= w.End {
			return true
		}
	}
	return false
}

// NextOpen 返回 t 之后最近的开盘时刻；t 已在时段内时返回 t。
func (s Sessions) NextOpen(t time.Time) time.Time {
	if s.Contains(t) {
		return t
	}
	local := t.In(s.location())
	day := midnight(local)
	for i := 0; i < 14; i++ {
		if s.tradingDay(day) {
			for _, w := range s.Windows {
				open := day.Add(w.Start)
				if open.After(local) {
					return open
				}
			}
		}
		day = midnight(day.AddDate(0, 0, 1))
	}
	return t
}

func (s Sessions) String() string {
	if len(s.Windows) == 0 {
		return "*"
	}
	parts := make([]string, 0, len(s.Windows))
	for _, w := range s.Windows {
		parts = append(parts, clock(w.Start)+"-"+clock(w.End))
	}
	return strings.Join(parts, ",")
}

func clock(d time.Duration) string {
	return fmt.Sprintf("%02d:%02d", int(d.Hours()), int(d.Minutes())%60)
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
