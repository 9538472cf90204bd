// Package circuit 为外部依赖（快照源等）提供简单的连续失败熔断。
package circuit

import (
	"errors"
	"sync"
	"time"

	"sealwatch/internal/logger"
)

var ErrOpen = errors.New("circuit open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF-OPEN"
	default:
		return "UNKNOWN"
	}
}

// Stats 是熔断器的只读快照。
type Stats struct {
	Name        string    `json:"name"`
	State       string    `json:"state"`
	Consecutive int       `json:"consecutive_failures"`
	Trips       int       `json:"trips"`
	OpenedAt    time.Time `json:"opened_at,omitempty"`
}

// CircuitBreaker 连续失败 threshold 次后打开，cooldown 过后放行一次试探：
// 试探成功则关闭，失败则重新打开并重新计时。
type CircuitBreaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	mu          sync.Mutex
	state       State
	consecutive int
	trips       int
	openedAt    time.Time
	probing     bool
}

func NewCircuitBreaker(name string, threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 1
	}
	return &CircuitBreaker{name: name, threshold: threshold, cooldown: cooldown, now: time.Now}
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Stats{
		Name:        cb.name,
		State:       cb.state.String(),
		Consecutive: cb.consecutive,
		Trips:       cb.trips,
		OpenedAt:    cb.openedAt,
	}
}

// Do 在允许时执行 fn；打开状态下直接返回 ErrOpen，fn 不会被调用。
func (cb *CircuitBreaker) Do(fn func() error) error {
	if !cb.acquire() {
		return ErrOpen
	}
	err := fn()
	cb.release(err)
	return err
}

func (cb *CircuitBreaker) acquire() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.cooldown {
			return false
		}
		cb.setState(StateHalfOpen)
		cb.probing = true
		return true
	case StateHalfOpen:
		// 半开时只放行一个试探
		if cb.probing {
			return false
		}
		cb.probing = true
		return true
	default:
		return true
	}
}

func (cb *CircuitBreaker) release(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.probing = false
	if err == nil {
		cb.consecutive = 0
		if cb.state != StateClosed {
			cb.setState(StateClosed)
		}
		return
	}
	cb.consecutive++
	if cb.state == StateHalfOpen || cb.consecutive >= cb.threshold {
		cb.trip()
	}
}

func (cb *CircuitBreaker) trip() {
	cb.openedAt = cb.now()
	cb.trips++
	if cb.state != StateOpen {
		cb.setState(StateOpen)
	}
}

func (cb *CircuitBreaker) setState(to State) {
	from := cb.state
	cb.state = to
	logger.Warnf("circuit %s: %s -> %s (consecutive=%d/%d cooldown=%s trips=%d)",
		cb.name, from, to, cb.consecutive, cb.threshold, cb.cooldown, cb.trips)
}
