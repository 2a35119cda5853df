package scheduler

import (
	"context"
	"sync"
	"time"

	"babylon/internal/decision"
	"babylon/internal/executor"
	"babylon/internal/feed"
	"babylon/internal/logger"
	"babylon/internal/market"
	"babylon/internal/pricing"

	"github.com/shopspring/decimal"
)

// 中文说明：
// 结算调度器是系统的时钟，驱动四条独立节奏：
//   - tick：行情推进 → 爆仓扫描 → 决策生成 → 交易执行
//   - sync：脏仓位批量落盘（默认 10s，尽力而为）
//   - funding：资金费结算（默认 8h，UTC 对齐）
//   - shutdown：停机前强制刷盘
// 各节奏互不阻塞；tick 内部串行。

// Config 调度节奏与资金费参数。
type Config struct {
	TickInterval    time.Duration
	SyncInterval    time.Duration
	FundingInterval time.Duration
	FundingRate     decimal.Decimal
	ShutdownGrace   time.Duration
	RunImmediately  bool

	// ImpactDepth 把净流折算成价格位移的分母：位移比例 = 净流/深度。
	// MaxImpactPct 单轮位移上限。
	ImpactDepth  decimal.Decimal
	MaxImpactPct decimal.Decimal
}

func (c *Config) applyDefaults() {
	if c.TickInterval <= 0 {
		c.TickInterval = time.Minute
	}
	if c.SyncInterval <= 0 {
		c.SyncInterval = 10 * time.Second
	}
	if c.FundingInterval <= 0 {
		c.FundingInterval = 8 * time.Hour
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 15 * time.Second
	}
	if !c.ImpactDepth.IsPositive() {
		c.ImpactDepth = decimal.NewFromInt(100000)
	}
	if !c.MaxImpactPct.IsPositive() {
		c.MaxImpactPct = decimal.NewFromFloat(0.01)
	}
}

// Scheduler 生产循环的编排者。
type Scheduler struct {
	cfg     Config
	store   *market.Store
	gen     *decision.Generator
	exec    *executor.Executor
	src     feed.Source
	history *feed.History
	sink    market.Persister

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	ticks   uint64
	stopped bool
}

func NewScheduler(cfg Config, store *market.Store, gen *decision.Generator, exec *executor.Executor, src feed.Source, history *feed.History, sink market.Persister) *Scheduler {
	cfg.applyDefaults()
	return &Scheduler{
		cfg:     cfg,
		store:   store,
		gen:     gen,
		exec:    exec,
		src:     src,
		history: history,
		sink:    sink,
	}
}

// SetFundingRate swaps the rate applied from the next funding settlement on,
// e.g. after a config hot reload.
func (s *Scheduler) SetFundingRate(rate decimal.Decimal) {
	s.mu.Lock()
	s.cfg.FundingRate = rate
	s.mu.Unlock()
}

func (s *Scheduler) fundingRate() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.FundingRate
}

// Start launches the tick, sync and funding loops. It returns immediately;
// call Stop to shut down.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	logger.Infof("scheduler: start tick=%s sync=%s funding=%s rate=%s",
		s.cfg.TickInterval, s.cfg.SyncInterval, s.cfg.FundingInterval, s.cfg.FundingRate)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.tickLoop(ctx)
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.syncLoop(ctx)
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		funding := NewAlignedRunner(ctx, "funding", s.cfg.FundingInterval, 0)
		funding.Start(s.settleFunding)
	}()
}

// Stop cancels the loops, waits up to the grace period, then performs the
// mandatory final flush so no dirty position is lost on shutdown.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.cfg.ShutdownGrace):
		logger.Warnf("scheduler: loops did not drain within %s, flushing anyway", s.cfg.ShutdownGrace)
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGrace)
	defer cancel()
	n, err := s.store.FlushDirty(ctx, s.sink)
	if err != nil {
		logger.Errorf("scheduler: final flush failed (flushed=%d): %v", n, err)
		return
	}
	logger.Infof("scheduler: final flush ok, entities=%d", n)
}

func (s *Scheduler) tickLoop(ctx context.Context) {
	if s.cfg.RunImmediately {
		s.Tick(ctx)
	}
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Infof("scheduler: tick loop exit")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one full settlement round: price advance, liquidation sweep,
// decision generation, execution.
func (s *Scheduler) Tick(ctx context.Context) {
	s.mu.Lock()
	s.ticks++
	n := s.ticks
	s.mu.Unlock()

	start := time.Now()
	s.advancePrices(ctx)
	liquidated := s.sweepLiquidations()

	decisions := s.gen.GenerateBatchDecisions(ctx)
	res := s.exec.ExecuteDecisionBatch(ctx, decisions)
	imp := executor.Aggregate(res.Executed)
	s.applyTradeImpacts(imp)

	logger.Infof("scheduler: tick=%d done in %s decisions=%d trades=%d holds=%d failed=%d liquidated=%d fees=%s",
		n, time.Since(start).Truncate(time.Millisecond),
		len(decisions), imp.Trades, imp.Holds, len(res.Failed), liquidated, imp.FeesCollected)
}

// advancePrices pulls fresh marks from the feed and pushes them through the
// store so every open position's uPnL is re-marked in one critical section.
func (s *Scheduler) advancePrices(ctx context.Context) {
	tickers := s.store.PerpTickers()
	if len(tickers) == 0 || s.src == nil {
		return
	}
	prices, err := s.src.Prices(ctx, tickers)
	if err != nil {
		logger.Warnf("scheduler: price feed failed, keep previous marks: %v", err)
		return
	}
	s.store.UpdatePerpPrices(prices)
	s.store.UpdateIndexPrices(prices)
	if s.history != nil {
		s.history.Record(prices)
	}
}

// applyTradeImpacts 把本轮 NPC 净流推回标记价：位移 = 净流/深度，
// 截断在 ±MaxImpactPct，之后走 UpdatePerpPrices 统一重算 uPnL。
func (s *Scheduler) applyTradeImpacts(imp executor.TradeImpacts) {
	if len(imp.PerpNetFlow) == 0 {
		return
	}
	one := decimal.NewFromInt(1)
	updates := make(map[string]decimal.Decimal, len(imp.PerpNetFlow))
	for ticker, flow := range imp.PerpNetFlow {
		if flow.IsZero() {
			continue
		}
		m, err := s.store.GetPerpMarket(ticker)
		if err != nil || !m.MarkPrice.IsPositive() {
			continue
		}
		shift := flow.Div(s.cfg.ImpactDepth)
		if shift.GreaterThan(s.cfg.MaxImpactPct) {
			shift = s.cfg.MaxImpactPct
		} else if shift.LessThan(s.cfg.MaxImpactPct.Neg()) {
			shift = s.cfg.MaxImpactPct.Neg()
		}
		updates[ticker] = m.MarkPrice.Mul(one.Add(shift))
	}
	if len(updates) == 0 {
		return
	}
	s.store.UpdatePerpPrices(updates)
	for ticker, price := range updates {
		logger.Debugf("scheduler: trade impact ticker=%s flow=%s mark=%s",
			ticker, imp.PerpNetFlow[ticker], price)
	}
}

// sweepLiquidations scans every open perp position and force-closes the ones
// whose mark crossed the liquidation price. Liquidate is idempotent, so a
// position liquidated by a concurrent close is skipped cleanly.
func (s *Scheduler) sweepLiquidations() int {
	count := 0
	for _, pos := range s.store.AllOpenPerpPositions() {
		if !pricing.Liquidatable(pos.Side, pos.CurrentPrice, pos.LiquidationPrice) {
			continue
		}
		ev, err := s.store.Liquidate(pos.ID)
		if err != nil {
			logger.Warnf("scheduler: liquidation of %s failed: %v", pos.ID, err)
			continue
		}
		count++
		logger.Infof("scheduler: 强制平仓 position=%s user=%s ticker=%s side=%s size=%s mark=%s lost_margin=%s",
			ev.PositionID, ev.UserID, ev.Ticker, ev.Side, ev.Size, ev.MarkPrice, ev.LostMargin)
	}
	return count
}

func (s *Scheduler) syncLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Infof("scheduler: sync loop exit")
			return
		case <-ticker.C:
			n, err := s.store.FlushDirty(ctx, s.sink)
			if err != nil {
				// best effort: the dirty set keeps these ids, next cycle retries
				logger.Warnf("scheduler: flush failed (flushed=%d): %v", n, err)
				continue
			}
			if n > 0 {
				logger.Debugf("scheduler: flushed %d dirty entities", n)
			}
		}
	}
}

// settleFunding runs one funding cycle across all perp markets.
func (s *Scheduler) settleFunding() {
	next := time.Now().UTC().Truncate(s.cfg.FundingInterval).Add(s.cfg.FundingInterval)
	rate := s.fundingRate()
	for _, ticker := range s.store.PerpTickers() {
		positions := s.store.OpenPerpPositionsByTicker(ticker)
		inputs := make([]pricing.PositionFunding, 0, len(positions))
		for _, p := range positions {
			inputs = append(inputs, pricing.PositionFunding{
				PositionID: p.ID,
				Side:       p.Side,
				Size:       p.Size,
			})
		}
		settlement := pricing.SettleFunding(inputs, rate)
		if err := s.store.SettleFunding(ticker, settlement); err != nil {
			logger.Errorf("scheduler: funding settlement for %s failed: %v", ticker, err)
			continue
		}
		if err := s.store.SetFundingRate(ticker, rate, next); err != nil {
			logger.Warnf("scheduler: set funding rate for %s failed: %v", ticker, err)
		}
		logger.Infof("scheduler: 资金费结算 ticker=%s positions=%d rate=%s residual=%s next=%s",
			ticker, len(settlement.Payments), rate, settlement.Residual, next.Format(time.RFC3339))
	}
}
