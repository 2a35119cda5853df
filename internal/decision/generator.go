package decision

import (
	"context"
	"sort"
	"sync"
	"time"

	"babylon/internal/feed"
	"babylon/internal/logger"
	"babylon/internal/market"
	"babylon/internal/provider"
	"babylon/internal/types"

	"golang.org/x/sync/errgroup"
)

// Config 决策生成参数。
type Config struct {
	TokenBudget    int  // per-batch prompt budget
	TimeoutSeconds int  // per-batch model timeout
	Parallel       bool // dispatch batches concurrently
}

// Sink 决策留痕（可选）：每条决策连同校验结论落库。
type Sink interface {
	AppendDecisionLog(ctx context.Context, d types.TradingDecision, accepted bool, rejectReason string) error
}

// Generator 决策生成器。一次 GenerateBatchDecisions 调用对应一个调度 tick。
type Generator struct {
	store   *market.Store
	world   WorldProvider
	prov    provider.ModelProvider
	history *feed.History
	cfg     Config
	sink    Sink

	rosterMu sync.RWMutex
	roster   []NPC
}

func NewGenerator(store *market.Store, world WorldProvider, prov provider.ModelProvider, history *feed.History, roster []NPC, cfg Config) *Generator {
	if cfg.TokenBudget <= 0 {
		cfg.TokenBudget = 8000
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 120
	}
	return &Generator{
		store:   store,
		world:   world,
		prov:    prov,
		history: history,
		roster:  roster,
		cfg:     cfg,
	}
}

// SetSink attaches the optional decision log sink.
func (g *Generator) SetSink(s Sink) { g.sink = s }

// SetRoster swaps the NPC roster. Safe to call while ticks are running; the
// next GenerateBatchDecisions pass sees the new roster.
func (g *Generator) SetRoster(roster []NPC) {
	g.rosterMu.Lock()
	g.roster = append([]NPC(nil), roster...)
	g.rosterMu.Unlock()
}

// GenerateBatchDecisions runs one full decision pass for every
// trading-enabled NPC and returns only decisions that survived structural
// validation. A failed batch contributes zero decisions; the next tick is
// the retry mechanism.
func (g *Generator) GenerateBatchDecisions(ctx context.Context) []types.TradingDecision {
	contexts := g.assembleContexts(ctx)
	if len(contexts) == 0 {
		return nil
	}
	board := g.buildBoard()
	batches := PackBatches(contexts, board, g.cfg.TokenBudget)
	logger.Infof("decision tick: %d npcs in %d batches", len(contexts), len(batches))

	results := make([][]types.TradingDecision, len(batches))
	grp, grpCtx := errgroup.WithContext(ctx)
	if !g.cfg.Parallel {
		grp.SetLimit(1)
	}
	for i := range batches {
		i := i
		grp.Go(func() error {
			results[i] = g.runBatch(grpCtx, board, batches[i], i)
			return nil // batch failures never abort sibling batches
		})
	}
	_ = grp.Wait()

	var all []types.TradingDecision
	for _, r := range results {
		all = append(all, r...)
	}

	valid, rejected := ValidateDecisions(g.store, all)
	for _, r := range rejected {
		logger.Warnf("decision rejected: npc=%s action=%s reason=%s", r.NPCID, r.Action, r.Reason)
	}
	g.logDecisions(ctx, all, rejected)
	return valid
}

func (g *Generator) runBatch(ctx context.Context, board Board, b Batch, idx int) []types.TradingDecision {
	timeout := time.Duration(g.cfg.TimeoutSeconds) * time.Second
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	raw, err := g.prov.Call(callCtx, SystemPrompt(), RenderUser(board, b))
	if err != nil {
		logger.Warnf("batch #%d model call failed (%d npcs hold this tick): %v",
			idx+1, len(b.Contexts), err)
		return nil
	}
	decisions, err := ParseBatch(raw, b)
	if err != nil {
		logger.Warnf("batch #%d output unparseable (%d npcs hold this tick): %v",
			idx+1, len(b.Contexts), err)
		return nil
	}
	return decisions
}

func (g *Generator) assembleContexts(ctx context.Context) []NPCContext {
	g.rosterMu.RLock()
	roster := g.roster
	g.rosterMu.RUnlock()

	out := make([]NPCContext, 0, len(roster))
	for _, npc := range roster {
		if !npc.TradingEnabled {
			continue
		}
		world := WorldContext{}
		if g.world != nil {
			w, err := g.world.NPCContext(ctx, npc.ID)
			if err != nil {
				logger.Warnf("world context for npc %s unavailable: %v", npc.ID, err)
			} else {
				world = w
			}
		}
		nc := NPCContext{
			NPC:           npc,
			World:         world,
			Balance:       g.store.Balance(npc.ID),
			PerpPositions: g.store.OpenPerpPositions(npc.ID),
		}
		for _, id := range g.store.PredictionMarketIDs() {
			if pos, ok := g.store.GetPosition(npc.ID, id); ok {
				if pos.YesShares.IsPositive() || pos.NoShares.IsPositive() {
					nc.PredPositions = append(nc.PredPositions, pos)
				}
			}
		}
		out = append(out, nc)
	}
	return out
}

func (g *Generator) buildBoard() Board {
	var board Board

	tickers := g.store.PerpTickers()
	sort.Strings(tickers)
	for _, t := range tickers {
		m, err := g.store.GetPerpMarket(t)
		if err != nil {
			continue
		}
		view := PerpView{
			Ticker:      m.Ticker,
			MarkPrice:   m.MarkPrice,
			FundingRate: m.FundingRate,
			LeverageMin: m.LeverageMin,
			LeverageMax: m.LeverageMax,
		}
		if g.history != nil {
			if ind, ok := g.history.Snapshot(t); ok {
				view.SMA20 = ind.SMA20
				view.RSI14 = ind.RSI14
				view.HasSignals = true
			}
		}
		board.Perps = append(board.Perps, view)
	}

	ids := g.store.PredictionMarketIDs()
	sort.Strings(ids)
	for _, id := range ids {
		m, err := g.store.GetPredictionMarket(id)
		if err != nil || m.Resolved {
			continue
		}
		board.Predictions = append(board.Predictions, PredictionView{
			ID:       m.ID,
			Question: m.Question,
			YesPrice: m.YesPrice(),
		})
	}
	return board
}

func (g *Generator) logDecisions(ctx context.Context, all []types.TradingDecision, rejected []Rejected) {
	if g.sink == nil {
		return
	}
	rejectedBy := make(map[string]string, len(rejected))
	for _, r := range rejected {
		rejectedBy[r.NPCID+"|"+r.Action] = r.Reason
	}
	for _, d := range all {
		reason, isRejected := rejectedBy[d.NPCID+"|"+string(d.Action)]
		if err := g.sink.AppendDecisionLog(ctx, d, !isRejected, reason); err != nil {
			logger.Warnf("decision log append failed: %v", err)
		}
	}
}
