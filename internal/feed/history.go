package feed

import (
	"sync"

	talib "github.com/markcheno/go-talib"
	"github.com/shopspring/decimal"
)

// History 保存每个 ticker 最近的标记价序列，供指标快照使用。
type History struct {
	mu     sync.RWMutex
	max    int
	series map[string][]float64
}

func NewHistory(max int) *History {
	if max <= 0 {
		max = 200
	}
	return &History{max: max, series: make(map[string][]float64)}
}

// Record appends the latest prices, dropping the oldest beyond the cap.
func (h *History) Record(prices map[string]decimal.Decimal) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ticker, price := range prices {
		f, _ := price.Float64()
		s := append(h.series[ticker], f)
		if len(s) > h.max {
			s = s[len(s)-h.max:]
		}
		h.series[ticker] = s
	}
}

// Indicators 给 NPC 上下文用的技术指标摘要。
type Indicators struct {
	SMA20 float64
	RSI14 float64
}

// Snapshot computes SMA(20) and RSI(14) over the recorded series.
// Returns false until enough ticks have accumulated.
func (h *History) Snapshot(ticker string) (Indicators, bool) {
	h.mu.RLock()
	s := h.series[ticker]
	h.mu.RUnlock()
	if len(s) < 21 {
		return Indicators{}, false
	}
	sma := talib.Sma(s, 20)
	rsi := talib.Rsi(s, 14)
	return Indicators{
		SMA20: sma[len(sma)-1],
		RSI14: rsi[len(rsi)-1],
	}, true
}
