package pricing

import (
	"babylon/internal/types"

	"github.com/shopspring/decimal"
)

// 永续合约的保证金、强平价与盈亏公式。
// 所有函数均为纯函数：非法数值（非正仓位、零杠杆等）由调用方先行拦截，
// 这里不做防御、不返回错误。

// Margin returns size/leverage.
func Margin(size decimal.Decimal, leverage int) decimal.Decimal {
	return size.Div(decimal.NewFromInt(int64(leverage)))
}

// LiquidationPrice 强平价。
// Long:  entry * (1 - 1/leverage + mmr)
// Short: entry * (1 + 1/leverage - mmr)
func LiquidationPrice(entry decimal.Decimal, leverage int, side types.Side, maintenanceMarginRate decimal.Decimal) decimal.Decimal {
	one := decimal.NewFromInt(1)
	inv := one.Div(decimal.NewFromInt(int64(leverage)))
	if side == types.SideLong {
		return entry.Mul(one.Sub(inv).Add(maintenanceMarginRate))
	}
	return entry.Mul(one.Add(inv).Sub(maintenanceMarginRate))
}

// UnrealizedPnL 未实现盈亏。
// Long:  (current - entry) * size/entry
// Short: (entry - current) * size/entry
func UnrealizedPnL(side types.Side, entry, current, size decimal.Decimal) decimal.Decimal {
	if entry.IsZero() {
		return decimal.Zero
	}
	qty := size.Div(entry)
	if side == types.SideLong {
		return current.Sub(entry).Mul(qty)
	}
	return entry.Sub(current).Mul(qty)
}

// Liquidatable reports whether the mark price has crossed the liquidation
// price for the given side.
func Liquidatable(side types.Side, current, liqPrice decimal.Decimal) bool {
	if side == types.SideLong {
		return current.LessThanOrEqual(liqPrice)
	}
	return current.GreaterThanOrEqual(liqPrice)
}
