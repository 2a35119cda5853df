package pricing

import (
	"testing"

	"babylon/internal/types"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestMargin(t *testing.T) {
	assert.True(t, Margin(d("1000"), 10).Equal(d("100")))
	assert.True(t, Margin(d("1000"), 1).Equal(d("1000")))
}

func TestLiquidationPrice(t *testing.T) {
	mmr := d("0.005")

	long := LiquidationPrice(d("100"), 10, types.SideLong, mmr)
	// 100 * (1 - 0.1 + 0.005) = 90.5
	assert.True(t, long.Equal(d("90.5")), "long liq=%s", long)

	short := LiquidationPrice(d("100"), 10, types.SideShort, mmr)
	// 100 * (1 + 0.1 - 0.005) = 109.5
	assert.True(t, short.Equal(d("109.5")), "short liq=%s", short)
}

func TestUnrealizedPnL(t *testing.T) {
	// 1000 USD notional long from 100: qty 10
	up := UnrealizedPnL(types.SideLong, d("100"), d("110"), d("1000"))
	assert.True(t, up.Equal(d("100")), "upnl=%s", up)

	down := UnrealizedPnL(types.SideLong, d("100"), d("90"), d("1000"))
	assert.True(t, down.Equal(d("-100")))

	short := UnrealizedPnL(types.SideShort, d("100"), d("90"), d("1000"))
	assert.True(t, short.Equal(d("100")))

	assert.True(t, UnrealizedPnL(types.SideLong, decimal.Zero, d("5"), d("10")).IsZero())
}

func TestLiquidatable(t *testing.T) {
	liq := d("90.5")
	assert.False(t, Liquidatable(types.SideLong, d("95"), liq))
	assert.True(t, Liquidatable(types.SideLong, d("90.5"), liq))
	assert.True(t, Liquidatable(types.SideLong, d("80"), liq))

	liqS := d("109.5")
	assert.False(t, Liquidatable(types.SideShort, d("105"), liqS))
	assert.True(t, Liquidatable(types.SideShort, d("109.5"), liqS))
	assert.True(t, Liquidatable(types.SideShort, d("120"), liqS))
}
