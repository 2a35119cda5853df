package types

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Action 是 NPC 决策的六种合法动作。
type Action string

const (
	ActionOpenLong      Action = "open_long"
	ActionOpenShort     Action = "open_short"
	ActionBuyYes        Action = "buy_yes"
	ActionBuyNo         Action = "buy_no"
	ActionClosePosition Action = "close_position"
	ActionHold          Action = "hold"
)

// NormalizeAction 统一动作名称：大小写不敏感，并将 wait 视为 hold。
func NormalizeAction(a string) Action {
	s := strings.ToLower(strings.TrimSpace(a))
	s = strings.ReplaceAll(s, "-", "_")
	if s == "wait" {
		return ActionHold
	}
	return Action(s)
}

// Valid reports whether the action is one of the six recognized kinds.
func (a Action) Valid() bool {
	switch a {
	case ActionOpenLong, ActionOpenShort, ActionBuyYes, ActionBuyNo,
		ActionClosePosition, ActionHold:
		return true
	}
	return false
}

// IsPerp reports whether the action targets a perpetual market.
func (a Action) IsPerp() bool {
	return a == ActionOpenLong || a == ActionOpenShort
}

// IsPrediction reports whether the action targets a prediction market.
func (a Action) IsPrediction() bool {
	return a == ActionBuyYes || a == ActionBuyNo
}

// TradingDecision 单个 NPC 的一笔决策。由决策引擎生成、执行器消费，不落库。
type TradingDecision struct {
	NPCID      string          `json:"npc_id"`
	Action     Action          `json:"action"`
	Ticker     string          `json:"ticker,omitempty"`    // perp 开仓
	MarketID   string          `json:"market_id,omitempty"` // 预测市场买入
	Amount     decimal.Decimal `json:"amount,omitempty"`
	Leverage   int             `json:"leverage,omitempty"`
	PositionID string          `json:"position_id,omitempty"` // close_position
	Confidence int             `json:"confidence,omitempty"`
	Reasoning  string          `json:"reasoning,omitempty"`
}

// Hold returns the no-op decision for an NPC.
func Hold(npcID string) TradingDecision {
	return TradingDecision{NPCID: npcID, Action: ActionHold}
}

// UnmarshalJSON 宽容解析：模型输出的数字可能是字符串，字段可能缺失。
func (d *TradingDecision) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	d.NPCID = coerceString(raw["npc_id"])
	d.Action = NormalizeAction(coerceString(raw["action"]))
	d.Ticker = strings.ToUpper(coerceString(raw["ticker"]))
	d.MarketID = coerceString(raw["market_id"])
	d.Amount = coerceDecimal(raw["amount"])
	d.Leverage = coerceInt(raw["leverage"])
	d.PositionID = coerceString(raw["position_id"])
	d.Confidence = coerceInt(raw["confidence"])
	d.Reasoning = coerceString(raw["reasoning"])
	return nil
}

func coerceString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		if x {
			return "true"
		}
		return "false"
	default:
		return ""
	}
}

func coerceFloat64(v any) float64 {
	switch x := v.(type) {
	case nil:
		return 0
	case float64:
		return x
	case int:
		return float64(x)
	case int64:
		return float64(x)
	case json.Number:
		if f, err := x.Float64(); err == nil {
			return f
		}
		return 0
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return 0
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
		return 0
	default:
		return 0
	}
}

func coerceInt(v any) int {
	return int(coerceFloat64(v))
}

func coerceDecimal(v any) decimal.Decimal {
	if s, ok := v.(string); ok {
		if d, err := decimal.NewFromString(strings.TrimSpace(s)); err == nil {
			return d
		}
		return decimal.Zero
	}
	return decimal.NewFromFloat(coerceFloat64(v))
}

// Side 永续仓位方向。
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Sign returns +1 for long and -1 for short.
func (s Side) Sign() decimal.Decimal {
	if s == SideShort {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

// ExecutedTrade 执行结果审计记录，只追加。
type ExecutedTrade struct {
	ID          string          `json:"id"`
	NPCID       string          `json:"npc_id"`
	Action      Action          `json:"action"`
	Ticker      string          `json:"ticker,omitempty"`
	MarketID    string          `json:"market_id,omitempty"`
	PositionID  string          `json:"position_id,omitempty"`
	Side        Side            `json:"side,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	Fee         decimal.Decimal `json:"fee"`
	SharesOut   decimal.Decimal `json:"shares_out,omitempty"`
	RealizedPnL decimal.Decimal `json:"realized_pnl,omitempty"`
	ExecutedAt  time.Time       `json:"executed_at"`
}
