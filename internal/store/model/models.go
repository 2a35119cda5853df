package model

import (
	"gorm.io/datatypes"
)

// 持久化模型。金额/价格一律以十进制字符串存储，避免浮点漂移。

type PerpPositionModel struct {
	ID               string `gorm:"column:id;primaryKey"`
	UserID           string `gorm:"column:user_id;index"`
	Ticker           string `gorm:"column:ticker;index"`
	Side             string `gorm:"column:side"`
	Size             string `gorm:"column:size"`
	Leverage         int    `gorm:"column:leverage"`
	Margin           string `gorm:"column:margin"`
	EntryPrice       string `gorm:"column:entry_price"`
	CurrentPrice     string `gorm:"column:current_price"`
	LiquidationPrice string `gorm:"column:liquidation_price"`
	UnrealizedPnL    string `gorm:"column:unrealized_pnl"`
	RealizedPnL      string `gorm:"column:realized_pnl"`
	FundingPaid      string `gorm:"column:funding_paid"`
	Liquidated       bool   `gorm:"column:liquidated"`
	OpenedAtUnix     int64  `gorm:"column:opened_at"`
	ClosedAtUnix     *int64 `gorm:"column:closed_at"`
	UpdatedAtUnix    int64  `gorm:"column:updated_at"`
}

func (PerpPositionModel) TableName() string { return "perp_positions" }

type PerpMarketModel struct {
	Ticker            string `gorm:"column:ticker;primaryKey"`
	MarkPrice         string `gorm:"column:mark_price"`
	IndexPrice        string `gorm:"column:index_price"`
	FundingRate       string `gorm:"column:funding_rate"`
	OpenInterestLong  string `gorm:"column:open_interest_long"`
	OpenInterestShort string `gorm:"column:open_interest_short"`
	InsuranceBuffer   string `gorm:"column:insurance_buffer"`
	NextFundingUnix   int64  `gorm:"column:next_funding_at"`
	UpdatedAtUnix     int64  `gorm:"column:updated_at"`
}

func (PerpMarketModel) TableName() string { return "perp_markets" }

type PredictionMarketModel struct {
	ID            string `gorm:"column:id;primaryKey"`
	Question      string `gorm:"column:question"`
	YesShares     string `gorm:"column:yes_shares"`
	NoShares      string `gorm:"column:no_shares"`
	Resolved      bool   `gorm:"column:resolved"`
	Outcome       *bool  `gorm:"column:outcome"`
	UpdatedAtUnix int64  `gorm:"column:updated_at"`
}

func (PredictionMarketModel) TableName() string { return "prediction_markets" }

type PredictionPositionModel struct {
	UserID        string `gorm:"column:user_id;primaryKey"`
	MarketID      string `gorm:"column:market_id;primaryKey"`
	YesShares     string `gorm:"column:yes_shares"`
	NoShares      string `gorm:"column:no_shares"`
	TotalSpent    string `gorm:"column:total_spent"`
	TotalReceived string `gorm:"column:total_received"`
	HasClaimed    bool   `gorm:"column:has_claimed"`
	UpdatedAtUnix int64  `gorm:"column:updated_at"`
}

func (PredictionPositionModel) TableName() string { return "prediction_positions" }

// DecisionLogModel 每个 tick 的决策批次留痕：原始决策载荷与校验结论。
type DecisionLogModel struct {
	ID            int64          `gorm:"column:id;primaryKey;autoIncrement"`
	NPCID         string         `gorm:"column:npc_id;index"`
	Action        string         `gorm:"column:action"`
	Accepted      bool           `gorm:"column:accepted"`
	RejectReason  string         `gorm:"column:reject_reason"`
	PayloadJSON   datatypes.JSON `gorm:"column:payload_json;type:TEXT"`
	CreatedAtUnix int64          `gorm:"column:created_at"`
}

func (DecisionLogModel) TableName() string { return "decision_logs" }
