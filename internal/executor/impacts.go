package executor

import (
	"babylon/internal/types"

	"github.com/shopspring/decimal"
)

// TradeImpacts 单轮执行后的聚合影响，供调度与日志使用。
type TradeImpacts struct {
	// PerpNotional 各合约市场本轮新增/平仓名义规模（按绝对值累加）。
	PerpNotional map[string]decimal.Decimal
	// PerpNetFlow 各合约市场本轮的有向净流：开多/平空为正，开空/平多为负。
	// 调度器据此对标记价施加有界的冲击。
	PerpNetFlow map[string]decimal.Decimal
	// PredictionVolume 各预测市场本轮买入金额。
	PredictionVolume map[string]decimal.Decimal
	// FeesCollected 本轮平台费总额。
	FeesCollected decimal.Decimal
	// RealizedPnL 本轮平仓已实现盈亏合计。
	RealizedPnL decimal.Decimal
	Trades      int
	Holds       int
}

// Aggregate folds a batch of executed trades into per-market totals.
func Aggregate(trades []types.ExecutedTrade) TradeImpacts {
	imp := TradeImpacts{
		PerpNotional:     map[string]decimal.Decimal{},
		PerpNetFlow:      map[string]decimal.Decimal{},
		PredictionVolume: map[string]decimal.Decimal{},
	}
	for _, t := range trades {
		if t.Action == types.ActionHold {
			imp.Holds++
			continue
		}
		imp.Trades++
		imp.FeesCollected = imp.FeesCollected.Add(t.Fee)
		imp.RealizedPnL = imp.RealizedPnL.Add(t.RealizedPnL)
		switch {
		case t.Ticker != "":
			imp.PerpNotional[t.Ticker] = imp.PerpNotional[t.Ticker].Add(t.Amount.Abs())
			imp.PerpNetFlow[t.Ticker] = imp.PerpNetFlow[t.Ticker].Add(netFlow(t))
		case t.MarketID != "":
			imp.PredictionVolume[t.MarketID] = imp.PredictionVolume[t.MarketID].Add(t.Amount.Abs())
		}
	}
	return imp
}

// netFlow signs a perp trade's notional: a new long or a closed short is
// buy pressure, a new short or a closed long is sell pressure.
func netFlow(t types.ExecutedTrade) decimal.Decimal {
	size := t.Amount.Abs()
	switch t.Action {
	case types.ActionOpenLong:
		return size
	case types.ActionOpenShort:
		return size.Neg()
	case types.ActionClosePosition:
		if t.Side == types.SideShort {
			return size
		}
		return size.Neg()
	}
	return decimal.Zero
}
