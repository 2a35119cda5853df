package pricing

import (
	"sort"

	"babylon/internal/types"

	"github.com/shopspring/decimal"
)

// 资金费结算。
// 每个周期 payment = size * fundingRate；rate>0 多头付、空头收，rate<0 反之。
// 多空名义不平衡时，净额（residual）无法在持仓间轧平，由市场的保险缓冲吸收。

// FundingPayment 单仓位资金费。正数表示该仓位支付，负数表示收取。
func FundingPayment(size, rate decimal.Decimal, side types.Side) decimal.Decimal {
	return size.Mul(rate).Mul(side.Sign())
}

// PositionFunding 参与结算的仓位快照。
type PositionFunding struct {
	PositionID string
	Side       types.Side
	Size       decimal.Decimal
}

// FundingSettlement 一次结算的全部付款与残差。
type FundingSettlement struct {
	Payments map[string]decimal.Decimal // position id -> signed payment
	Residual decimal.Decimal            // open-interest imbalance, absorbed by the insurance buffer
}

// SettleFunding computes the funding payment for every open position on one
// market. Positions are processed in position-id order so the result is
// deterministic. With equal long and short notional the payments net to
// exactly zero and Residual is zero.
func SettleFunding(positions []PositionFunding, rate decimal.Decimal) FundingSettlement {
	sorted := make([]PositionFunding, len(positions))
	copy(sorted, positions)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].PositionID < sorted[j].PositionID })

	payments := make(map[string]decimal.Decimal, len(sorted))
	net := decimal.Zero
	for _, p := range sorted {
		if p.Size.IsZero() {
			continue
		}
		pay := FundingPayment(p.Size, rate, p.Side)
		payments[p.PositionID] = pay
		net = net.Add(pay)
	}
	return FundingSettlement{Payments: payments, Residual: net}
}
