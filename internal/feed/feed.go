package feed

import (
	"context"
	"math/rand"
	"sync"

	"github.com/shopspring/decimal"
)

// Source 行情来源：按 ticker 返回最新指数价。
type Source interface {
	Prices(ctx context.Context, tickers []string) (map[string]decimal.Decimal, error)
}

// RandomWalkSource 模拟行情：有界随机游走，可播种保证可复现。
type RandomWalkSource struct {
	mu      sync.Mutex
	rng     *rand.Rand
	last    map[string]decimal.Decimal
	stepPct float64 // max per-tick move, e.g. 0.02
}

func NewRandomWalkSource(seed int64, initial map[string]decimal.Decimal, stepPct float64) *RandomWalkSource {
	if stepPct <= 0 {
		stepPct = 0.02
	}
	last := make(map[string]decimal.Decimal, len(initial))
	for t, p := range initial {
		last[t] = p
	}
	return &RandomWalkSource{
		rng:     rand.New(rand.NewSource(seed)),
		last:    last,
		stepPct: stepPct,
	}
}

func (s *RandomWalkSource) Prices(_ context.Context, tickers []string) (map[string]decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]decimal.Decimal, len(tickers))
	for _, t := range tickers {
		prev, ok := s.last[t]
		if !ok || !prev.IsPositive() {
			prev = decimal.NewFromInt(100)
		}
		// move in (-stepPct, +stepPct)
		move := (s.rng.Float64()*2 - 1) * s.stepPct
		next := prev.Mul(decimal.NewFromFloat(1 + move))
		if !next.IsPositive() {
			next = prev
		}
		s.last[t] = next
		out[t] = next
	}
	return out, nil
}
