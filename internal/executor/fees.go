package executor

import (
	"babylon/internal/market"

	"github.com/shopspring/decimal"
)

// FeeConfig 交易费模型：费率对每笔资金动作生效，设最低费下限，
// 平台与推荐人按比例分账。
type FeeConfig struct {
	Rate          decimal.Decimal // e.g. 0.001
	MinFee        decimal.Decimal // floor per monetary action
	ReferrerShare decimal.Decimal // 0..1 share of the fee for the referrer
}

// Compute returns the split fee for a monetary amount. The referrer share
// only applies when a referrer is attached to the NPC.
func (f FeeConfig) Compute(amount decimal.Decimal, referrerID string) market.Fee {
	fee := amount.Mul(f.Rate)
	if fee.LessThan(f.MinFee) {
		fee = f.MinFee
	}
	if referrerID == "" || !f.ReferrerShare.IsPositive() {
		return market.Fee{Platform: fee}
	}
	ref := fee.Mul(f.ReferrerShare)
	return market.Fee{
		Platform:   fee.Sub(ref),
		Referrer:   ref,
		ReferrerID: referrerID,
	}
}
