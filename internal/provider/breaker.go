package provider

import (
	"context"
	"fmt"
	"time"

	"babylon/internal/pkg/circuit"
)

// BreakerProvider 给模型提供方套一层熔断：连续失败达到阈值后，
// 冷却期内直接短路（该 tick 全员 hold），避免反复打一个挂掉的端点。
type BreakerProvider struct {
	inner ModelProvider
	cb    *circuit.Breaker
}

func NewBreakerProvider(inner ModelProvider, threshold int, cooldown time.Duration) *BreakerProvider {
	if threshold <= 0 {
		threshold = 3
	}
	if cooldown <= 0 {
		cooldown = 5 * time.Minute
	}
	return &BreakerProvider{
		inner: inner,
		cb:    circuit.NewBreaker(inner.ID(), threshold, cooldown),
	}
}

func (p *BreakerProvider) ID() string    { return p.inner.ID() }
func (p *BreakerProvider) Enabled() bool { return p.inner.Enabled() }

func (p *BreakerProvider) Call(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if !p.cb.Allow() {
		return "", fmt.Errorf("provider %s: circuit open, call skipped", p.inner.ID())
	}
	out, err := p.inner.Call(ctx, systemPrompt, userPrompt)
	if err != nil {
		p.cb.RecordFailure()
		return "", err
	}
	p.cb.RecordSuccess()
	return out, nil
}
