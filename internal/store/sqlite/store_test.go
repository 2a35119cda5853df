package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"babylon/internal/market"
	"babylon/internal/types"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SqliteStore {
	t.Helper()
	s, err := NewSqliteStore(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func samplePosition(id string) market.PerpPosition {
	return market.PerpPosition{
		ID:               id,
		UserID:           "npc-aldous",
		Ticker:           "TECH",
		Side:             types.SideLong,
		Size:             decimal.RequireFromString("1000"),
		Leverage:         10,
		Margin:           decimal.RequireFromString("100"),
		EntryPrice:       decimal.RequireFromString("100"),
		CurrentPrice:     decimal.RequireFromString("100"),
		LiquidationPrice: decimal.RequireFromString("90.5"),
		OpenedAt:         time.Now().Truncate(time.Second),
	}
}

func TestBatchUpsertAndLoadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	pos := samplePosition("p1")
	require.NoError(t, s.BatchUpsertPerpPositions(ctx, []market.PerpPosition{pos}))

	got, err := s.LoadOpenPerpPositions(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "p1", got[0].ID)
	assert.Equal(t, types.SideLong, got[0].Side)
	assert.True(t, got[0].Size.Equal(pos.Size))
	assert.True(t, got[0].LiquidationPrice.Equal(pos.LiquidationPrice))
	assert.Equal(t, 10, got[0].Leverage)
}

func TestBatchUpsert_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	pos := samplePosition("p1")
	require.NoError(t, s.BatchUpsertPerpPositions(ctx, []market.PerpPosition{pos}))

	// same id again with a fresher mark: must update in place, not duplicate
	pos.CurrentPrice = decimal.RequireFromString("110")
	require.NoError(t, s.BatchUpsertPerpPositions(ctx, []market.PerpPosition{pos}))

	got, err := s.LoadOpenPerpPositions(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].CurrentPrice.Equal(decimal.RequireFromString("110")))
}

func TestLoadOpenPerpPositions_SkipsClosed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	open := samplePosition("open")
	closed := samplePosition("closed")
	closedAt := time.Now()
	closed.ClosedAt = &closedAt

	require.NoError(t, s.BatchUpsertPerpPositions(ctx, []market.PerpPosition{open, closed}))

	got, err := s.LoadOpenPerpPositions(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "open", got[0].ID)
}

func TestUpsertPerpMarket_LoadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m := market.PerpMarket{
		Ticker:          "TECH",
		MarkPrice:       decimal.RequireFromString("100"),
		IndexPrice:      decimal.RequireFromString("100.2"),
		FundingRate:     decimal.RequireFromString("0.0001"),
		InsuranceBuffer: decimal.RequireFromString("5"),
		NextFundingTime: time.Now().Add(8 * time.Hour).Truncate(time.Second),
	}
	require.NoError(t, s.UpsertPerpMarket(ctx, m))

	m.MarkPrice = decimal.RequireFromString("105")
	require.NoError(t, s.UpsertPerpMarket(ctx, m))

	got, err := s.LoadPerpMarkets(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].MarkPrice.Equal(decimal.RequireFromString("105")))
	assert.True(t, got[0].FundingRate.Equal(m.FundingRate))
	assert.True(t, got[0].InsuranceBuffer.Equal(m.InsuranceBuffer))
	assert.True(t, got[0].NextFundingTime.Equal(m.NextFundingTime))
}

func TestUpsertPredictionMarket_LoadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	outcome := true
	m := market.PredictionMarket{
		ID:        "rain",
		Question:  "会下雨吗？",
		YesShares: decimal.RequireFromString("110"),
		NoShares:  decimal.RequireFromString("91.2"),
		Resolved:  true,
		Outcome:   &outcome,
	}
	require.NoError(t, s.UpsertPredictionMarket(ctx, m))

	got, err := s.LoadPredictionMarkets(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].YesShares.Equal(m.YesShares))
	assert.True(t, got[0].Resolved)
	require.NotNil(t, got[0].Outcome)
	assert.True(t, *got[0].Outcome)
}

func TestUpsertPredictionPosition_LoadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := market.Position{
		UserID:        "npc-aldous",
		MarketID:      "rain",
		TotalSpent:    decimal.RequireFromString("10"),
		TotalReceived: decimal.RequireFromString("19.6"),
		HasClaimed:    true,
	}
	require.NoError(t, s.UpsertPredictionPosition(ctx, p))

	// second upsert on the same (user, market) updates in place
	require.NoError(t, s.UpsertPredictionPosition(ctx, p))

	got, err := s.LoadPredictionPositions(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].HasClaimed, "claimed flag must survive the round trip")
	assert.True(t, got[0].TotalReceived.Equal(p.TotalReceived))
}

func TestAppendDecisionLog(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	d := types.TradingDecision{
		NPCID:    "npc-aldous",
		Action:   types.ActionOpenLong,
		Ticker:   "TECH",
		Amount:   decimal.RequireFromString("500"),
		Leverage: 5,
	}
	require.NoError(t, s.AppendDecisionLog(ctx, d, true, ""))
	require.NoError(t, s.AppendDecisionLog(ctx, d, false, "insufficient balance"))
}
