package tradelog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"babylon/internal/types"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "trades.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleTrade(id string, at time.Time) types.ExecutedTrade {
	return types.ExecutedTrade{
		ID:         id,
		NPCID:      "npc-aldous",
		Action:     types.ActionOpenLong,
		Ticker:     "TECH",
		Amount:     decimal.RequireFromString("1000"),
		Fee:        decimal.RequireFromString("1"),
		ExecutedAt: at,
	}
}

func TestAppendAndRecent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().Truncate(time.Second)

	require.NoError(t, s.Append(ctx, sampleTrade("t1", base)))
	require.NoError(t, s.Append(ctx, sampleTrade("t2", base.Add(time.Second))))
	require.NoError(t, s.Append(ctx, sampleTrade("t3", base.Add(2*time.Second))))

	got, err := s.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)

	// newest first
	assert.Equal(t, "t3", got[0].ID)
	assert.Equal(t, "t2", got[1].ID)
	assert.True(t, got[0].Amount.Equal(decimal.RequireFromString("1000")))
	assert.Equal(t, types.ActionOpenLong, got[0].Action)
}

func TestAppend_DuplicateIDFails(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tr := sampleTrade("dup", time.Now())
	require.NoError(t, s.Append(ctx, tr))
	assert.Error(t, s.Append(ctx, tr))
}

func TestRecent_EmptyStore(t *testing.T) {
	s := newTestStore(t)
	got, err := s.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}
