package market

import (
	"time"

	"babylon/internal/types"

	"github.com/shopspring/decimal"
)

// 中文说明：
// 本包持有全部可变市场状态（余额/储备/仓位），是唯一的写入方。
// 其他组件只能读快照，或通过执行器走校验过的入口提交变更。

// PredictionMarket 二元预测市场，CPMM 定价。
// 未解析时 YesShares>0 且 NoShares>0；两者乘积只增不减（手续费留存池内）。
type PredictionMarket struct {
	ID        string
	Question  string
	YesShares decimal.Decimal
	NoShares  decimal.Decimal
	Resolved  bool
	Outcome   *bool

	seq uint64
}

// YesPrice 当前 YES 概率价。
func (m *PredictionMarket) YesPrice() decimal.Decimal {
	total := m.YesShares.Add(m.NoShares)
	if total.IsZero() {
		return decimal.Zero
	}
	return m.NoShares.Div(total)
}

// Position 用户在一个预测市场内的持仓，首笔交易创建，完全退出后清零。
type Position struct {
	UserID        string
	MarketID      string
	YesShares     decimal.Decimal
	NoShares      decimal.Decimal
	TotalSpent    decimal.Decimal
	TotalReceived decimal.Decimal
	HasClaimed    bool

	seq uint64
}

// PerpMarket 永续合约市场。
type PerpMarket struct {
	Ticker                string
	LeverageMin           int
	LeverageMax           int
	MarkPrice             decimal.Decimal
	IndexPrice            decimal.Decimal
	FundingRate           decimal.Decimal
	NextFundingTime       time.Time
	OpenInterestLong      decimal.Decimal
	OpenInterestShort     decimal.Decimal
	MaintenanceMarginRate decimal.Decimal
	// InsuranceBuffer absorbs the funding residual when open interest is
	// imbalanced between longs and shorts.
	InsuranceBuffer decimal.Decimal

	seq uint64
}

// PerpPosition 杠杆仓位。Size 为 USD 名义值，Margin = Size/Leverage。
// 任何内存变更都会推进 seq 并进入 dirty 集，等待周期性落盘。
type PerpPosition struct {
	ID               string
	UserID           string
	Ticker           string
	Side             types.Side
	Size             decimal.Decimal
	Leverage         int
	Margin           decimal.Decimal
	EntryPrice       decimal.Decimal
	CurrentPrice     decimal.Decimal
	LiquidationPrice decimal.Decimal
	UnrealizedPnL    decimal.Decimal
	RealizedPnL      decimal.Decimal
	FundingPaid      decimal.Decimal
	OpenedAt         time.Time
	ClosedAt         *time.Time
	Liquidated       bool

	seq uint64 // mutation counter, drives the dirty-flag CAS
}

// Open reports whether the position has not been closed yet.
func (p *PerpPosition) Open() bool { return p.ClosedAt == nil }

// Seq returns the position's mutation counter.
func (p *PerpPosition) Seq() uint64 { return p.seq }

// LiquidationEvent 强平事件，先于常规平仓簿记发出。
type LiquidationEvent struct {
	PositionID string
	UserID     string
	Ticker     string
	Side       types.Side
	Size       decimal.Decimal
	MarkPrice  decimal.Decimal
	LostMargin decimal.Decimal
	At         time.Time
}
