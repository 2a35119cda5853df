package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	bbcfg "babylon/internal/config"
	cfgloader "babylon/internal/config/loader"
	"babylon/internal/decision"
	"babylon/internal/executor"
	"babylon/internal/feed"
	"babylon/internal/logger"
	"babylon/internal/market"
	"babylon/internal/provider"
	"babylon/internal/scheduler"
	"babylon/internal/store/sqlite"
	"babylon/internal/store/tradelog"

	"github.com/shopspring/decimal"
)

// AppBuilder 按配置装配全部依赖。测试可通过 override 注入替身。
type AppBuilder struct {
	cfg *bbcfg.Config

	providerFn func(bbcfg.AIConfig) (provider.ModelProvider, error)
	feedFn     func(bbcfg.FeedConfig, map[string]decimal.Decimal) (feed.Source, error)

	stateStoreOverride *sqlite.SqliteStore
	worldOverride      decision.WorldProvider
}

type AppBuilderOption func(*AppBuilder)

// WithProvider replaces the model provider, e.g. with a canned one in tests.
func WithProvider(p provider.ModelProvider) AppBuilderOption {
	return func(b *AppBuilder) {
		b.providerFn = func(bbcfg.AIConfig) (provider.ModelProvider, error) { return p, nil }
	}
}

// WithWorld attaches an external world-context provider.
func WithWorld(w decision.WorldProvider) AppBuilderOption {
	return func(b *AppBuilder) { b.worldOverride = w }
}

func NewAppBuilder(cfg *bbcfg.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:        cfg,
		providerFn: buildModelProvider,
		feedFn:     buildFeedSource,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := b.cfg
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}

	mkt := market.NewStore()
	initialPrices, err := seedMarkets(mkt, cfg.Markets)
	if err != nil {
		return nil, err
	}

	stateStore := b.stateStoreOverride
	if stateStore == nil {
		stateStore, err = sqlite.NewSqliteStore(cfg.Database.StatePath)
		if err != nil {
			return nil, fmt.Errorf("open state store failed: %w", err)
		}
	}
	if err := restoreState(ctx, mkt, stateStore, cfg.Database.StatePath); err != nil {
		stateStore.Close()
		return nil, err
	}

	trades, err := tradelog.NewStore(cfg.Database.TradeLogPath)
	if err != nil {
		stateStore.Close()
		return nil, fmt.Errorf("open trade log failed: %w", err)
	}

	roster, err := cfgloader.NewRosterLoader(cfg.NPCs.RosterPath)
	if err != nil {
		stateStore.Close()
		trades.Close()
		return nil, err
	}
	snap := roster.Snapshot()
	seedBalances(mkt, snap.NPCs, cfg.Markets.InitialBalance)

	prov, err := b.providerFn(cfg.AI)
	if err != nil {
		stateStore.Close()
		trades.Close()
		roster.Close()
		return nil, err
	}

	src, err := b.feedFn(cfg.Feed, initialPrices)
	if err != nil {
		stateStore.Close()
		trades.Close()
		roster.Close()
		return nil, err
	}
	history := feed.NewHistory(cfg.Feed.HistoryMax)

	gen := decision.NewGenerator(mkt, b.worldOverride, prov, history, snap.NPCs, decision.Config{
		TokenBudget:    cfg.Decision.TokenBudget,
		TimeoutSeconds: cfg.Decision.TimeoutSeconds,
		Parallel:       cfg.Decision.Parallel,
	})
	gen.SetSink(stateStore)

	fees := executor.FeeConfig{
		Rate:          decimal.NewFromFloat(cfg.Fees.Rate),
		MinFee:        decimal.NewFromFloat(cfg.Fees.MinFee),
		ReferrerShare: decimal.NewFromFloat(cfg.Fees.ReferrerShare),
	}
	exec := executor.NewExecutor(mkt, fees, snap.Referrers())
	exec.SetAuditor(trades)

	// 花名册热更新：新 NPC 自动入场并拿到初始余额
	initial := decimal.NewFromFloat(cfg.Markets.InitialBalance)
	roster.Subscribe(func(s cfgloader.RosterSnapshot) {
		gen.SetRoster(s.NPCs)
		exec.SetReferrers(s.Referrers())
		for _, npc := range s.NPCs {
			if mkt.Balance(npc.ID).IsZero() && len(mkt.OpenPerpPositions(npc.ID)) == 0 {
				mkt.SetBalance(npc.ID, initial)
			}
		}
	})

	sched := scheduler.NewScheduler(scheduler.Config{
		TickInterval:    cfg.Scheduler.TickDuration(),
		SyncInterval:    cfg.Scheduler.SyncDuration(),
		FundingInterval: cfg.Scheduler.FundingDuration(),
		FundingRate:     decimal.NewFromFloat(cfg.Scheduler.FundingRate),
		ShutdownGrace:   secondsDuration(cfg.Scheduler.ShutdownGraceSeconds),
		RunImmediately:  cfg.Scheduler.RunImmediately,
		ImpactDepth:     decimal.NewFromFloat(cfg.Scheduler.ImpactDepth),
		MaxImpactPct:    decimal.NewFromFloat(cfg.Scheduler.MaxImpactPct),
	}, mkt, gen, exec, src, history, stateStore)

	return &App{
		cfg:        cfg,
		market:     mkt,
		stateStore: stateStore,
		trades:     trades,
		roster:     roster,
		exec:       exec,
		scheduler:  sched,
	}, nil
}

// restoreState reloads the persisted snapshot on boot: markets first (funding
// rate, insurance buffer, reserves, resolution state), then positions. Open
// interest comes from the positions, not the market rows.
func restoreState(ctx context.Context, mkt *market.Store, st *sqlite.SqliteStore, path string) error {
	perpMkts, err := st.LoadPerpMarkets(ctx)
	if err != nil {
		return fmt.Errorf("load persisted perp markets failed: %w", err)
	}
	mkt.RestorePerpMarkets(perpMkts)

	predMkts, err := st.LoadPredictionMarkets(ctx)
	if err != nil {
		return fmt.Errorf("load persisted prediction markets failed: %w", err)
	}
	mkt.RestorePredictionMarkets(predMkts)

	positions, err := st.LoadOpenPerpPositions(ctx)
	if err != nil {
		return fmt.Errorf("load persisted positions failed: %w", err)
	}
	if n := mkt.RestorePerpPositions(positions); n > 0 {
		logger.Infof("restored %d open perp positions from %s", n, path)
	}

	predPos, err := st.LoadPredictionPositions(ctx)
	if err != nil {
		return fmt.Errorf("load persisted prediction positions failed: %w", err)
	}
	if n := mkt.RestorePredictionPositions(predPos); n > 0 {
		logger.Infof("restored %d prediction positions from %s", n, path)
	}
	return nil
}

func buildModelProvider(ai bbcfg.AIConfig) (provider.ModelProvider, error) {
	for _, m := range ai.Models {
		if !m.Enabled {
			continue
		}
		client := &provider.OpenAIChatClient{
			BaseURL:     m.APIURL,
			APIKey:      m.APIKey,
			Model:       m.Model,
			Temperature: m.Temperature,
			Timeout:     secondsDuration(m.TimeoutSeconds),
		}
		logger.Infof("model provider: id=%s model=%s", m.ID, m.Model)
		base := provider.NewOpenAIModelProvider(m.ID, true, client)
		return provider.NewBreakerProvider(base, 3, 5*time.Minute), nil
	}
	return nil, fmt.Errorf("no enabled model in ai.models")
}

func buildFeedSource(cfg bbcfg.FeedConfig, initial map[string]decimal.Decimal) (feed.Source, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Source)) {
	case "binance":
		return feed.NewBinanceSource(cfg.APIKey, cfg.APISecret, cfg.SymbolMap), nil
	case "random", "":
		return feed.NewRandomWalkSource(cfg.Seed, initial, cfg.StepPct), nil
	default:
		return nil, fmt.Errorf("unknown feed source %q", cfg.Source)
	}
}

// seedMarkets registers configured markets and returns the perp initial
// prices (the random walk's starting point).
func seedMarkets(mkt *market.Store, cfg bbcfg.MarketsConfig) (map[string]decimal.Decimal, error) {
	prices := make(map[string]decimal.Decimal, len(cfg.Perps))
	for _, p := range cfg.Perps {
		ticker := strings.ToUpper(strings.TrimSpace(p.Ticker))
		price := decimal.NewFromFloat(p.InitialPrice)
		err := mkt.SeedPerpMarket(market.PerpMarket{
			Ticker:                ticker,
			LeverageMin:           1,
			LeverageMax:           p.MaxLeverage,
			MarkPrice:             price,
			IndexPrice:            price,
			MaintenanceMarginRate: decimal.NewFromFloat(p.MaintenanceMarginRate),
		})
		if err != nil {
			return nil, err
		}
		prices[ticker] = price
	}
	for _, p := range cfg.Predictions {
		err := mkt.SeedPredictionMarket(p.ID, p.Question,
			decimal.NewFromFloat(p.YesShares), decimal.NewFromFloat(p.NoShares))
		if err != nil {
			return nil, err
		}
	}
	return prices, nil
}

func seedBalances(mkt *market.Store, npcs []decision.NPC, initialBalance float64) {
	initial := decimal.NewFromFloat(initialBalance)
	for _, npc := range npcs {
		if mkt.Balance(npc.ID).IsZero() && len(mkt.OpenPerpPositions(npc.ID)) == 0 {
			mkt.SetBalance(npc.ID, initial)
		}
	}
}
