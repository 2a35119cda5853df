package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"babylon/internal/logger"
	"babylon/internal/market"
	"babylon/internal/types"

	"github.com/google/uuid"
)

// 中文说明：
// 执行器消费一批决策，在变更前对最新市场状态复核（生成期的校验只是
// 必要条件），逐笔独立执行：单笔失败不影响其余（settle-all 语义）。

// Auditor 成交审计落盘（可选）。
type Auditor interface {
	Append(ctx context.Context, t types.ExecutedTrade) error
}

// FailedDecision 一笔执行失败的决策与原因。
type FailedDecision struct {
	Decision types.TradingDecision
	Err      error
}

// ExecutionResult 区分成功与失败的批执行结果。
type ExecutionResult struct {
	Executed []types.ExecutedTrade
	Failed   []FailedDecision
}

// Executor 交易执行器。
type Executor struct {
	store *market.Store
	audit Auditor
	nowFn func() time.Time

	feeMu sync.RWMutex
	fees  FeeConfig

	refMu     sync.RWMutex
	referrers map[string]string // npc id -> referrer id
}

func NewExecutor(store *market.Store, fees FeeConfig, referrers map[string]string) *Executor {
	if referrers == nil {
		referrers = map[string]string{}
	}
	return &Executor{
		store:     store,
		fees:      fees,
		referrers: referrers,
		nowFn:     time.Now,
	}
}

// SetAuditor attaches the optional trade audit log.
func (e *Executor) SetAuditor(a Auditor) { e.audit = a }

// SetFees swaps the fee model, e.g. after a config hot reload. In-flight
// decisions keep the snapshot they started with.
func (e *Executor) SetFees(fees FeeConfig) {
	e.feeMu.Lock()
	e.fees = fees
	e.feeMu.Unlock()
}

func (e *Executor) feeConfig() FeeConfig {
	e.feeMu.RLock()
	defer e.feeMu.RUnlock()
	return e.fees
}

// SetReferrers swaps the npc -> referrer lookup, e.g. after a roster reload.
func (e *Executor) SetReferrers(refs map[string]string) {
	if refs == nil {
		refs = map[string]string{}
	}
	e.refMu.Lock()
	e.referrers = refs
	e.refMu.Unlock()
}

func (e *Executor) referrerOf(npcID string) string {
	e.refMu.RLock()
	defer e.refMu.RUnlock()
	return e.referrers[npcID]
}

// ExecuteDecisionBatch applies each decision independently and collects both
// outcomes. Decisions run in the order the generator returned them.
func (e *Executor) ExecuteDecisionBatch(ctx context.Context, decisions []types.TradingDecision) ExecutionResult {
	var res ExecutionResult
	for _, d := range decisions {
		trade, err := e.ExecuteSingleDecision(ctx, d)
		if err != nil {
			logger.Warnf("decision failed: npc=%s action=%s: %v", d.NPCID, d.Action, err)
			res.Failed = append(res.Failed, FailedDecision{Decision: d, Err: err})
			continue
		}
		res.Executed = append(res.Executed, trade)
	}
	if len(res.Executed)+len(res.Failed) > 0 {
		logger.Infof("executed batch: ok=%d failed=%d", len(res.Executed), len(res.Failed))
	}
	return res
}

// ExecuteSingleDecision re-validates against live state and applies one
// decision atomically.
func (e *Executor) ExecuteSingleDecision(ctx context.Context, d types.TradingDecision) (types.ExecutedTrade, error) {
	if !d.Action.Valid() {
		return types.ExecutedTrade{}, types.Validationf("unknown action %q", d.Action)
	}

	var (
		trade types.ExecutedTrade
		err   error
	)
	switch d.Action {
	case types.ActionHold:
		trade = e.newTrade(d)
	case types.ActionOpenLong:
		trade, err = e.openPerp(d, types.SideLong)
	case types.ActionOpenShort:
		trade, err = e.openPerp(d, types.SideShort)
	case types.ActionBuyYes:
		trade, err = e.buyPrediction(d, true)
	case types.ActionBuyNo:
		trade, err = e.buyPrediction(d, false)
	case types.ActionClosePosition:
		trade, err = e.closePosition(d)
	}
	if err != nil {
		return types.ExecutedTrade{}, err
	}

	if e.audit != nil && d.Action != types.ActionHold {
		if aerr := e.audit.Append(ctx, trade); aerr != nil {
			logger.Warnf("trade audit append failed: %v", aerr)
		}
	}
	return trade, nil
}

func (e *Executor) newTrade(d types.TradingDecision) types.ExecutedTrade {
	return types.ExecutedTrade{
		ID:         uuid.NewString(),
		NPCID:      d.NPCID,
		Action:     d.Action,
		Ticker:     d.Ticker,
		MarketID:   d.MarketID,
		PositionID: d.PositionID,
		Amount:     d.Amount,
		ExecutedAt: e.nowFn(),
	}
}

func (e *Executor) openPerp(d types.TradingDecision, side types.Side) (types.ExecutedTrade, error) {
	fee := e.feeConfig().Compute(d.Amount, e.referrerOf(d.NPCID))
	pos, err := e.store.OpenPerp(d.NPCID, d.Ticker, d.Amount, d.Leverage, side, fee)
	if err != nil {
		return types.ExecutedTrade{}, err
	}
	trade := e.newTrade(d)
	trade.PositionID = pos.ID
	trade.Side = side
	trade.Fee = fee.Total()
	return trade, nil
}

func (e *Executor) buyPrediction(d types.TradingDecision, buyYes bool) (types.ExecutedTrade, error) {
	fees := e.feeConfig()
	fee := fees.Compute(d.Amount, e.referrerOf(d.NPCID))
	swap, err := e.store.BuyPrediction(d.NPCID, d.MarketID, d.Amount, buyYes, fees.Rate, fee)
	if err != nil {
		return types.ExecutedTrade{}, err
	}
	trade := e.newTrade(d)
	trade.Fee = fee.Total()
	trade.SharesOut = swap.SharesOut
	return trade, nil
}

func (e *Executor) closePosition(d types.TradingDecision) (types.ExecutedTrade, error) {
	if d.PositionID != "" {
		pos, ok := e.store.GetPerpPosition(d.PositionID)
		if !ok {
			return types.ExecutedTrade{}, fmt.Errorf("%w: perp position %s", types.ErrPositionNotFound, d.PositionID)
		}
		fee := e.feeConfig().Compute(pos.Size, e.referrerOf(d.NPCID))
		closed, realized, err := e.store.ClosePerp(d.PositionID, d.NPCID, fee)
		if err != nil {
			return types.ExecutedTrade{}, err
		}
		trade := e.newTrade(d)
		trade.Ticker = closed.Ticker
		trade.Amount = closed.Size
		trade.Side = closed.Side
		trade.Fee = fee.Total()
		trade.RealizedPnL = realized
		return trade, nil
	}

	if d.MarketID != "" {
		proceeds, fee, err := e.store.ExitPrediction(d.NPCID, d.MarketID, e.feeConfig().Rate)
		if err != nil {
			return types.ExecutedTrade{}, err
		}
		trade := e.newTrade(d)
		trade.Amount = proceeds
		trade.Fee = fee
		return trade, nil
	}
	return types.ExecutedTrade{}, types.Validationf("close_position without position_id or market_id")
}
