package circuit

import (
	"sync"
	"time"

	"babylon/internal/logger"
)

// 中文说明：
// 三态熔断器：连续失败达到阈值后打开，冷却期内拒绝放行；冷却结束后
// 进入半开，放行一次探测，成功关闭、失败重新打开。

type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker 以连续失败计数驱动的熔断器。零值不可用，经 NewBreaker 构造。
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
}

func NewBreaker(name string, threshold int, cooldown time.Duration) *Breaker {
	return &Breaker{
		name:      name,
		threshold: threshold,
		cooldown:  cooldown,
		state:     Closed,
	}
}

// Allow reports whether a call may proceed. An open breaker past its cooldown
// transitions to half-open and lets a single probe through.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open {
		if time.Since(b.openedAt) <= b.cooldown {
			return false
		}
		b.transition(HalfOpen)
	}
	return true
}

// RecordSuccess closes the breaker and resets the failure streak.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == HalfOpen {
		b.transition(Closed)
	}
	b.failures = 0
}

// RecordFailure counts one failure; a half-open probe failure or a streak
// reaching the threshold opens the breaker.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.openedAt = time.Now()
	if b.state == HalfOpen || (b.state == Closed && b.failures >= b.threshold) {
		b.transition(Open)
	}
}

// CurrentState 当前状态（观测用）。
func (b *Breaker) CurrentState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	logger.Warnf("breaker %s: %s -> %s (failures=%d/%d, cooldown=%s)",
		b.name, from, to, b.failures, b.threshold, b.cooldown)
}
