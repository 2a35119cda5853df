package decision

import (
	"fmt"

	"babylon/internal/market"
	"babylon/internal/types"
)

// ValidateDecisions 结构校验（独立于模型调用）：
// 拒绝余额不足、市场不存在、动作不合法、仓位不属于该 NPC 或已关闭的决策。
// 被拒条目直接排除（不转为 hold），原因返回给调用方记录。
// 这里的校验是必要而非充分条件：执行器会对最新状态再复核一次。
func ValidateDecisions(store *market.Store, decisions []types.TradingDecision) (valid []types.TradingDecision, rejected []Rejected) {
	valid = make([]types.TradingDecision, 0, len(decisions))
	for _, d := range decisions {
		if reason := validateOne(store, d); reason != "" {
			rejected = append(rejected, Rejected{
				NPCID:  d.NPCID,
				Action: string(d.Action),
				Reason: reason,
			})
			continue
		}
		valid = append(valid, d)
	}
	return valid, rejected
}

func validateOne(store *market.Store, d types.TradingDecision) string {
	if d.NPCID == "" {
		return "missing npc_id"
	}
	if !d.Action.Valid() {
		return fmt.Sprintf("unknown action %q", d.Action)
	}

	switch d.Action {
	case types.ActionHold:
		return ""

	case types.ActionOpenLong, types.ActionOpenShort:
		if d.Ticker == "" {
			return "open without ticker"
		}
		m, err := store.GetPerpMarket(d.Ticker)
		if err != nil {
			return fmt.Sprintf("unknown ticker %q", d.Ticker)
		}
		if !d.Amount.IsPositive() {
			return "amount must be positive"
		}
		if d.Amount.GreaterThan(store.Balance(d.NPCID)) {
			return fmt.Sprintf("amount %s exceeds balance %s", d.Amount, store.Balance(d.NPCID))
		}
		if d.Leverage < m.LeverageMin || d.Leverage > m.LeverageMax {
			return fmt.Sprintf("leverage %d outside %d..%d", d.Leverage, m.LeverageMin, m.LeverageMax)
		}
		return ""

	case types.ActionBuyYes, types.ActionBuyNo:
		if d.MarketID == "" {
			return "buy without market_id"
		}
		m, err := store.GetPredictionMarket(d.MarketID)
		if err != nil {
			return fmt.Sprintf("unknown market %q", d.MarketID)
		}
		if m.Resolved {
			return fmt.Sprintf("market %q already resolved", d.MarketID)
		}
		if !d.Amount.IsPositive() {
			return "amount must be positive"
		}
		if d.Amount.GreaterThan(store.Balance(d.NPCID)) {
			return fmt.Sprintf("amount %s exceeds balance %s", d.Amount, store.Balance(d.NPCID))
		}
		return ""

	case types.ActionClosePosition:
		if d.PositionID != "" {
			pos, ok := store.GetPerpPosition(d.PositionID)
			if !ok {
				return fmt.Sprintf("unknown position %q", d.PositionID)
			}
			if pos.UserID != d.NPCID {
				return fmt.Sprintf("position %q not owned by %s", d.PositionID, d.NPCID)
			}
			if !pos.Open() {
				return fmt.Sprintf("position %q already closed", d.PositionID)
			}
			return ""
		}
		if d.MarketID != "" {
			pos, ok := store.GetPosition(d.NPCID, d.MarketID)
			if !ok || (pos.YesShares.IsZero() && pos.NoShares.IsZero()) {
				return fmt.Sprintf("no prediction position in %q", d.MarketID)
			}
			return ""
		}
		return "close without position_id or market_id"
	}
	return fmt.Sprintf("unhandled action %q", d.Action)
}
