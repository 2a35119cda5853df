package market

import (
	"context"
	"sync"
	"testing"

	"babylon/internal/pricing"
	"babylon/internal/types"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore()
	require.NoError(t, s.SeedPerpMarket(PerpMarket{
		Ticker:                "TECH",
		LeverageMin:           1,
		LeverageMax:           20,
		MarkPrice:             d("100"),
		IndexPrice:            d("100"),
		MaintenanceMarginRate: d("0.005"),
	}))
	require.NoError(t, s.SeedPredictionMarket("rain", "会下雨吗？", d("100"), d("100")))
	return s
}

func TestOpenPerp_DebitsMarginAndFee(t *testing.T) {
	s := newTestStore(t)
	s.SetBalance("npc-1", d("1000"))

	pos, err := s.OpenPerp("npc-1", "TECH", d("1000"), 10, types.SideLong, Fee{Platform: d("1")})
	require.NoError(t, err)

	// 1000 - 100 margin - 1 fee = 899
	assert.True(t, s.Balance("npc-1").Equal(d("899")), "balance=%s", s.Balance("npc-1"))
	assert.True(t, pos.Margin.Equal(d("100")))
	assert.True(t, pos.EntryPrice.Equal(d("100")))
	assert.True(t, pos.LiquidationPrice.Equal(d("90.5")))
	assert.True(t, s.Balance(PlatformAccount).Equal(d("1")))

	m, err := s.GetPerpMarket("TECH")
	require.NoError(t, err)
	assert.True(t, m.OpenInterestLong.Equal(d("1000")))
}

func TestOpenPerp_InsufficientBalanceLeavesNoTrace(t *testing.T) {
	s := newTestStore(t)
	s.SetBalance("npc-1", d("50"))

	_, err := s.OpenPerp("npc-1", "TECH", d("1000"), 10, types.SideLong, Fee{Platform: d("1")})
	require.ErrorIs(t, err, types.ErrInsufficientBalance)

	assert.True(t, s.Balance("npc-1").Equal(d("50")))
	assert.Empty(t, s.OpenPerpPositions("npc-1"))
	m, _ := s.GetPerpMarket("TECH")
	assert.True(t, m.OpenInterestLong.IsZero())
}

func TestOpenPerp_LeverageOutOfRange(t *testing.T) {
	s := newTestStore(t)
	s.SetBalance("npc-1", d("1000"))
	_, err := s.OpenPerp("npc-1", "TECH", d("100"), 50, types.SideLong, Fee{})
	assert.True(t, types.IsValidation(err), "err=%v", err)
}

func TestClosePerp_RealizesProfit(t *testing.T) {
	s := newTestStore(t)
	s.SetBalance("npc-1", d("1000"))

	pos, err := s.OpenPerp("npc-1", "TECH", d("1000"), 10, types.SideLong, Fee{Platform: d("1")})
	require.NoError(t, err)

	s.UpdatePerpPrices(map[string]decimal.Decimal{"TECH": d("110")})

	closed, realized, err := s.ClosePerp(pos.ID, "npc-1", Fee{Platform: d("1")})
	require.NoError(t, err)

	// +10% on 1000 notional = +100 realized
	assert.True(t, realized.Equal(d("100")), "realized=%s", realized)
	assert.False(t, closed.Open())
	// 899 + margin 100 + pnl 100 - close fee 1 = 1098
	assert.True(t, s.Balance("npc-1").Equal(d("1098")), "balance=%s", s.Balance("npc-1"))

	m, _ := s.GetPerpMarket("TECH")
	assert.True(t, m.OpenInterestLong.IsZero())
}

func TestClosePerp_FeeCappedAtGross(t *testing.T) {
	s := newTestStore(t)
	s.SetBalance("npc-1", d("1000"))

	pos, err := s.OpenPerp("npc-1", "TECH", d("1000"), 10, types.SideLong, Fee{})
	require.NoError(t, err)

	// wipe out nearly all margin, gross proceeds ~ 1
	s.UpdatePerpPrices(map[string]decimal.Decimal{"TECH": d("90.1")})
	balBefore := s.Balance("npc-1")

	_, _, err = s.ClosePerp(pos.ID, "npc-1", Fee{Platform: d("5")})
	require.NoError(t, err)
	// fee can never push the credit negative
	assert.True(t, s.Balance("npc-1").GreaterThanOrEqual(balBefore))
}

func TestClosePerp_WrongUser(t *testing.T) {
	s := newTestStore(t)
	s.SetBalance("npc-1", d("1000"))
	pos, err := s.OpenPerp("npc-1", "TECH", d("100"), 5, types.SideLong, Fee{})
	require.NoError(t, err)

	_, _, err = s.ClosePerp(pos.ID, "npc-2", Fee{})
	assert.ErrorIs(t, err, types.ErrPositionNotFound)
}

func TestLiquidate_IdempotentAndFundsInsurance(t *testing.T) {
	s := newTestStore(t)
	s.SetBalance("npc-1", d("1000"))

	pos, err := s.OpenPerp("npc-1", "TECH", d("1000"), 10, types.SideLong, Fee{})
	require.NoError(t, err)

	// above threshold: not liquidatable yet
	s.UpdatePerpPrices(map[string]decimal.Decimal{"TECH": d("95")})
	_, err = s.Liquidate(pos.ID)
	assert.True(t, types.IsValidation(err))

	s.UpdatePerpPrices(map[string]decimal.Decimal{"TECH": d("90")})
	ev, err := s.Liquidate(pos.ID)
	require.NoError(t, err)
	assert.True(t, ev.LostMargin.Equal(d("100")))

	got, ok := s.GetPerpPosition(pos.ID)
	require.True(t, ok)
	assert.True(t, got.Liquidated)
	assert.False(t, got.Open())
	assert.True(t, got.RealizedPnL.Equal(d("-100")))

	m, _ := s.GetPerpMarket("TECH")
	assert.True(t, m.InsuranceBuffer.Equal(d("100")))
	assert.True(t, m.OpenInterestLong.IsZero())

	// second sweep: already closed
	_, err = s.Liquidate(pos.ID)
	assert.ErrorIs(t, err, types.ErrStaleState)
	m, _ = s.GetPerpMarket("TECH")
	assert.True(t, m.InsuranceBuffer.Equal(d("100")), "buffer must not double count")
}

func TestSettleFunding_MovesBalancesAndResidual(t *testing.T) {
	s := newTestStore(t)
	s.SetBalance("long", d("1000"))
	s.SetBalance("short", d("1000"))

	lp, err := s.OpenPerp("long", "TECH", d("1000"), 10, types.SideLong, Fee{})
	require.NoError(t, err)
	sp, err := s.OpenPerp("short", "TECH", d("1000"), 10, types.SideShort, Fee{})
	require.NoError(t, err)

	settlement := pricing.SettleFunding([]pricing.PositionFunding{
		{PositionID: lp.ID, Side: types.SideLong, Size: lp.Size},
		{PositionID: sp.ID, Side: types.SideShort, Size: sp.Size},
	}, d("0.001"))
	require.NoError(t, s.SettleFunding("TECH", settlement))

	// 900 - 1 funding = 899; 900 + 1 = 901
	assert.True(t, s.Balance("long").Equal(d("899")), "long=%s", s.Balance("long"))
	assert.True(t, s.Balance("short").Equal(d("901")), "short=%s", s.Balance("short"))

	gotLong, _ := s.GetPerpPosition(lp.ID)
	assert.True(t, gotLong.FundingPaid.Equal(d("1")))

	m, _ := s.GetPerpMarket("TECH")
	assert.True(t, m.InsuranceBuffer.IsZero())
}

func TestRestorePerpPositions_RebuildsOpenInterest(t *testing.T) {
	s := newTestStore(t)
	n := s.RestorePerpPositions([]PerpPosition{
		{ID: "p1", UserID: "u", Ticker: "TECH", Side: types.SideLong, Size: d("500")},
		{ID: "p2", UserID: "u", Ticker: "GONE", Side: types.SideLong, Size: d("500")},
	})
	assert.Equal(t, 1, n)
	m, _ := s.GetPerpMarket("TECH")
	assert.True(t, m.OpenInterestLong.Equal(d("500")))
}

type memPersister struct {
	mu       sync.Mutex
	saved    [][]PerpPosition
	perpMkts []PerpMarket
	predMkts []PredictionMarket
	predPos  []Position
	fail     bool
}

func (m *memPersister) BatchUpsertPerpPositions(_ context.Context, positions []PerpPosition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return assert.AnError
	}
	cp := make([]PerpPosition, len(positions))
	copy(cp, positions)
	m.saved = append(m.saved, cp)
	return nil
}

func (m *memPersister) UpsertPerpMarket(_ context.Context, mkt PerpMarket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return assert.AnError
	}
	m.perpMkts = append(m.perpMkts, mkt)
	return nil
}

func (m *memPersister) UpsertPredictionMarket(_ context.Context, mkt PredictionMarket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return assert.AnError
	}
	m.predMkts = append(m.predMkts, mkt)
	return nil
}

func (m *memPersister) UpsertPredictionPosition(_ context.Context, p Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return assert.AnError
	}
	m.predPos = append(m.predPos, p)
	return nil
}

func TestFlushDirty_ClearsOnlyUnchangedSeq(t *testing.T) {
	s := newTestStore(t)
	s.SetBalance("npc-1", d("1000"))
	pos, err := s.OpenPerp("npc-1", "TECH", d("100"), 5, types.SideLong, Fee{})
	require.NoError(t, err)
	// the open dirties the position and the market
	require.Equal(t, 2, s.DirtyCount())

	p := &memPersister{}
	n, err := s.FlushDirty(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 0, s.DirtyCount())

	// re-mark after flush: stays dirty for the next cycle
	s.UpdatePerpPrices(map[string]decimal.Decimal{"TECH": d("101")})
	assert.Equal(t, 2, s.DirtyCount())
	_ = pos
}

func TestFlushDirty_FailureKeepsDirtySet(t *testing.T) {
	s := newTestStore(t)
	s.SetBalance("npc-1", d("1000"))
	_, err := s.OpenPerp("npc-1", "TECH", d("100"), 5, types.SideLong, Fee{})
	require.NoError(t, err)

	p := &memPersister{fail: true}
	_, err = s.FlushDirty(context.Background(), p)
	require.ErrorIs(t, err, types.ErrPersistence)
	assert.Equal(t, 2, s.DirtyCount(), "failed flush must keep ids for retry")
}

func TestFlushDirty_CoversMarketsAndPredictionState(t *testing.T) {
	s := newTestStore(t)
	s.SetBalance("npc-1", d("100"))

	_, err := s.BuyPrediction("npc-1", "rain", d("10"), true, decimal.Zero, Fee{})
	require.NoError(t, err)
	require.NoError(t, s.ResolveMarket("rain", true))
	_, err = s.ClaimPayout("npc-1", "rain")
	require.NoError(t, err)

	p := &memPersister{}
	_, err = s.FlushDirty(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, 0, s.DirtyCount())

	require.Len(t, p.predMkts, 1)
	assert.True(t, p.predMkts[0].Resolved)
	require.Len(t, p.predPos, 1)
	assert.True(t, p.predPos[0].HasClaimed, "claimed flag must reach the persister")
	assert.True(t, p.predPos[0].YesShares.IsZero())
}

func TestFlushDirty_CoversPerpMarketState(t *testing.T) {
	s := newTestStore(t)
	s.SetBalance("npc-1", d("1000"))

	pos, err := s.OpenPerp("npc-1", "TECH", d("1000"), 10, types.SideLong, Fee{})
	require.NoError(t, err)
	s.UpdatePerpPrices(map[string]decimal.Decimal{"TECH": d("90")})
	_, err = s.Liquidate(pos.ID)
	require.NoError(t, err)

	p := &memPersister{}
	_, err = s.FlushDirty(context.Background(), p)
	require.NoError(t, err)

	require.NotEmpty(t, p.perpMkts)
	last := p.perpMkts[len(p.perpMkts)-1]
	assert.True(t, last.InsuranceBuffer.Equal(d("100")), "insurance buffer must be persisted")
	assert.True(t, last.MarkPrice.Equal(d("90")))
}

func TestRestorePredictionPositions_ClaimedStaysClaimed(t *testing.T) {
	// first life: buy, resolve, claim
	s1 := newTestStore(t)
	s1.SetBalance("npc-1", d("100"))
	_, err := s1.BuyPrediction("npc-1", "rain", d("10"), true, decimal.Zero, Fee{})
	require.NoError(t, err)
	require.NoError(t, s1.ResolveMarket("rain", true))
	_, err = s1.ClaimPayout("npc-1", "rain")
	require.NoError(t, err)

	mkt, err := s1.GetPredictionMarket("rain")
	require.NoError(t, err)
	pos, ok := s1.GetPosition("npc-1", "rain")
	require.True(t, ok)

	// second life: restore the snapshot into a fresh store
	s2 := newTestStore(t)
	assert.Equal(t, 1, s2.RestorePredictionMarkets([]PredictionMarket{mkt}))
	assert.Equal(t, 1, s2.RestorePredictionPositions([]Position{pos}))

	// the payout cannot be claimed a second time across the restart
	_, err = s2.ClaimPayout("npc-1", "rain")
	assert.ErrorIs(t, err, types.ErrStaleState)
}

func TestRestorePerpMarkets_OverlaysDynamicStateOnly(t *testing.T) {
	s := newTestStore(t)
	n := s.RestorePerpMarkets([]PerpMarket{{
		Ticker:            "TECH",
		MarkPrice:         d("123"),
		IndexPrice:        d("122"),
		FundingRate:       d("0.0002"),
		InsuranceBuffer:   d("42"),
		OpenInterestLong:  d("9999"), // ignored: OI is rebuilt from positions
		OpenInterestShort: d("9999"),
	}, {
		Ticker: "GONE",
	}})
	assert.Equal(t, 1, n)

	m, err := s.GetPerpMarket("TECH")
	require.NoError(t, err)
	assert.True(t, m.MarkPrice.Equal(d("123")))
	assert.True(t, m.FundingRate.Equal(d("0.0002")))
	assert.True(t, m.InsuranceBuffer.Equal(d("42")))
	assert.True(t, m.OpenInterestLong.IsZero())
}

func TestConcurrentOpens_NeverOverdraw(t *testing.T) {
	s := newTestStore(t)
	s.SetBalance("npc-1", d("250"))

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// each open needs 100 margin; only two can succeed
			_, errs[i] = s.OpenPerp("npc-1", "TECH", d("1000"), 10, types.SideLong, Fee{})
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
		}
	}
	assert.Equal(t, 2, ok)
	assert.True(t, s.Balance("npc-1").Equal(d("50")))
	assert.False(t, s.Balance("npc-1").IsNegative())
}
