package executor

import (
	"context"
	"sync"
	"testing"

	"babylon/internal/market"
	"babylon/internal/types"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type memAuditor struct {
	mu     sync.Mutex
	trades []types.ExecutedTrade
}

func (m *memAuditor) Append(_ context.Context, t types.ExecutedTrade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trades = append(m.trades, t)
	return nil
}

func newExecStore(t *testing.T) *market.Store {
	t.Helper()
	s := market.NewStore()
	require.NoError(t, s.SeedPerpMarket(market.PerpMarket{
		Ticker:                "TECH",
		LeverageMin:           1,
		LeverageMax:           20,
		MarkPrice:             d("100"),
		MaintenanceMarginRate: d("0.005"),
	}))
	require.NoError(t, s.SeedPredictionMarket("rain", "rain?", d("100"), d("100")))
	s.SetBalance("a", d("1000"))
	return s
}

func stdFees() FeeConfig {
	return FeeConfig{Rate: d("0.001")}
}

func TestExecuteSingleDecision_OpenLongScenario(t *testing.T) {
	s := newExecStore(t)
	e := NewExecutor(s, stdFees(), nil)
	audit := &memAuditor{}
	e.SetAuditor(audit)

	trade, err := e.ExecuteSingleDecision(context.Background(), types.TradingDecision{
		NPCID:    "a",
		Action:   types.ActionOpenLong,
		Ticker:   "TECH",
		Amount:   d("1000"),
		Leverage: 10,
	})
	require.NoError(t, err)

	// 1000 - 100 margin - 1 fee (0.1% of notional) = 899
	assert.True(t, s.Balance("a").Equal(d("899")), "balance=%s", s.Balance("a"))
	assert.True(t, trade.Fee.Equal(d("1")))
	assert.NotEmpty(t, trade.PositionID)
	require.Len(t, audit.trades, 1)

	// price up 10%, close
	s.UpdatePerpPrices(map[string]decimal.Decimal{"TECH": d("110")})
	closed, err := e.ExecuteSingleDecision(context.Background(), types.TradingDecision{
		NPCID:      "a",
		Action:     types.ActionClosePosition,
		PositionID: trade.PositionID,
	})
	require.NoError(t, err)
	assert.True(t, closed.RealizedPnL.Equal(d("100")))
	// 899 + 100 margin + 100 pnl - 1 close fee (0.1% of size) = 1098
	assert.True(t, s.Balance("a").Equal(d("1098")), "balance=%s", s.Balance("a"))
	assert.Len(t, audit.trades, 2)
}

func TestExecuteSingleDecision_BuyYes(t *testing.T) {
	s := newExecStore(t)
	e := NewExecutor(s, stdFees(), nil)

	trade, err := e.ExecuteSingleDecision(context.Background(), types.TradingDecision{
		NPCID:    "a",
		Action:   types.ActionBuyYes,
		MarketID: "rain",
		Amount:   d("10"),
	})
	require.NoError(t, err)
	assert.True(t, trade.SharesOut.IsPositive())

	m, _ := s.GetPredictionMarket("rain")
	assert.True(t, m.YesPrice().LessThan(d("0.5")))

	pos, ok := s.GetPosition("a", "rain")
	require.True(t, ok)
	assert.True(t, pos.TotalSpent.Equal(d("10")))
}

func TestExecuteSingleDecision_ClosePredictionByMarketID(t *testing.T) {
	s := newExecStore(t)
	e := NewExecutor(s, stdFees(), nil)

	_, err := e.ExecuteSingleDecision(context.Background(), types.TradingDecision{
		NPCID:    "a",
		Action:   types.ActionBuyYes,
		MarketID: "rain",
		Amount:   d("10"),
	})
	require.NoError(t, err)

	trade, err := e.ExecuteSingleDecision(context.Background(), types.TradingDecision{
		NPCID:    "a",
		Action:   types.ActionClosePosition,
		MarketID: "rain",
	})
	require.NoError(t, err)
	assert.True(t, trade.Amount.IsPositive(), "exit proceeds recorded as amount")
	assert.True(t, trade.Fee.IsPositive(), "pool-side sell fee recorded on the trade")

	pos, _ := s.GetPosition("a", "rain")
	assert.True(t, pos.YesShares.IsZero())
}

func TestExecuteSingleDecision_HoldIsNoOp(t *testing.T) {
	s := newExecStore(t)
	e := NewExecutor(s, stdFees(), nil)
	audit := &memAuditor{}
	e.SetAuditor(audit)

	trade, err := e.ExecuteSingleDecision(context.Background(), types.Hold("a"))
	require.NoError(t, err)
	assert.Equal(t, types.ActionHold, trade.Action)
	assert.True(t, s.Balance("a").Equal(d("1000")))
	assert.Empty(t, audit.trades, "holds are not audited")
}

func TestExecuteDecisionBatch_SettlesAll(t *testing.T) {
	s := newExecStore(t)
	e := NewExecutor(s, stdFees(), nil)

	res := e.ExecuteDecisionBatch(context.Background(), []types.TradingDecision{
		{NPCID: "a", Action: types.ActionOpenLong, Ticker: "TECH", Amount: d("100"), Leverage: 5},
		{NPCID: "a", Action: types.ActionOpenLong, Ticker: "TECH", Amount: d("99999"), Leverage: 5},
		types.Hold("a"),
	})

	assert.Len(t, res.Executed, 2)
	require.Len(t, res.Failed, 1)
	assert.ErrorIs(t, res.Failed[0].Err, types.ErrInsufficientBalance)
}

func TestFeeConfig_ReferrerSplit(t *testing.T) {
	fees := FeeConfig{Rate: d("0.001"), ReferrerShare: d("0.2")}

	fee := fees.Compute(d("1000"), "npc-ref")
	assert.True(t, fee.Platform.Equal(d("0.8")))
	assert.True(t, fee.Referrer.Equal(d("0.2")))
	assert.Equal(t, "npc-ref", fee.ReferrerID)

	// 无推荐人时全额归平台
	fee = fees.Compute(d("1000"), "")
	assert.True(t, fee.Platform.Equal(d("1")))
	assert.True(t, fee.Referrer.IsZero())
}

func TestFeeConfig_MinFeeFloor(t *testing.T) {
	fees := FeeConfig{Rate: d("0.001"), MinFee: d("0.5")}
	fee := fees.Compute(d("10"), "")
	assert.True(t, fee.Total().Equal(d("0.5")))
}

func TestExecutorReferrer_FlowsToBalance(t *testing.T) {
	s := newExecStore(t)
	e := NewExecutor(s, FeeConfig{Rate: d("0.001"), ReferrerShare: d("0.5")}, map[string]string{"a": "mentor"})

	_, err := e.ExecuteSingleDecision(context.Background(), types.TradingDecision{
		NPCID:    "a",
		Action:   types.ActionOpenLong,
		Ticker:   "TECH",
		Amount:   d("1000"),
		Leverage: 10,
	})
	require.NoError(t, err)
	assert.True(t, s.Balance("mentor").Equal(d("0.5")))
	assert.True(t, s.Balance(market.PlatformAccount).Equal(d("0.5")))
}

func TestAggregate(t *testing.T) {
	imp := Aggregate([]types.ExecutedTrade{
		{Action: types.ActionOpenLong, Ticker: "TECH", Side: types.SideLong, Amount: d("100"), Fee: d("0.1")},
		{Action: types.ActionOpenShort, Ticker: "TECH", Side: types.SideShort, Amount: d("50"), Fee: d("0.05")},
		{Action: types.ActionBuyYes, MarketID: "rain", Amount: d("10"), Fee: d("0.01")},
		{Action: types.ActionHold},
	})
	assert.Equal(t, 3, imp.Trades)
	assert.Equal(t, 1, imp.Holds)
	assert.True(t, imp.PerpNotional["TECH"].Equal(d("150")))
	assert.True(t, imp.PredictionVolume["rain"].Equal(d("10")))
	assert.True(t, imp.FeesCollected.Equal(d("0.16")))
	// 100 long - 50 short = +50 net buy pressure
	assert.True(t, imp.PerpNetFlow["TECH"].Equal(d("50")))
}

func TestAggregate_NetFlowSignsCloses(t *testing.T) {
	imp := Aggregate([]types.ExecutedTrade{
		{Action: types.ActionClosePosition, Ticker: "TECH", Side: types.SideLong, Amount: d("200")},
		{Action: types.ActionClosePosition, Ticker: "TECH", Side: types.SideShort, Amount: d("80")},
	})
	// closing a long sells, closing a short buys back
	assert.True(t, imp.PerpNetFlow["TECH"].Equal(d("-120")), "flow=%s", imp.PerpNetFlow["TECH"])
	assert.True(t, imp.PerpNotional["TECH"].Equal(d("280")))
}

func TestSetFees_AppliesToNextDecision(t *testing.T) {
	s := newExecStore(t)
	e := NewExecutor(s, FeeConfig{Rate: d("0.001")}, nil)

	tr, err := e.ExecuteSingleDecision(context.Background(), types.TradingDecision{
		NPCID:    "a",
		Action:   types.ActionOpenLong,
		Ticker:   "TECH",
		Amount:   d("1000"),
		Leverage: 10,
	})
	require.NoError(t, err)
	assert.True(t, tr.Fee.Equal(d("1")))

	e.SetFees(FeeConfig{Rate: d("0.01")})
	tr, err = e.ExecuteSingleDecision(context.Background(), types.TradingDecision{
		NPCID:    "a",
		Action:   types.ActionOpenShort,
		Ticker:   "TECH",
		Amount:   d("100"),
		Leverage: 5,
	})
	require.NoError(t, err)
	assert.True(t, tr.Fee.Equal(d("1")))
}
