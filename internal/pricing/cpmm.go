package pricing

import "github.com/shopspring/decimal"

// 中文说明：
// 预测市场定价：恒定乘积做市（CPMM）。
// yes/no 两侧储备的乘积在交易前后保持不变，手续费留存在池内，
// 因此乘积只会因费率增长、不会降低。

// SwapResult 一次 CPMM 兑换的结果与新储备。
type SwapResult struct {
	SharesOut decimal.Decimal
	NewYes    decimal.Decimal
	NewNo     decimal.Decimal
	Fee       decimal.Decimal
}

// BuyShares swaps a USD amount into YES or NO shares.
// The effective input is amount*(1-feeRate); the fee stays in the pool, so
// newYes*newNo >= yes*no always holds.
//
// Buying YES grows the yes reserve by the full amount and shrinks the no
// reserve along the constant-product curve; the shares removed from the
// opposite reserve are what the buyer receives.
func BuyShares(yes, no, amount, feeRate decimal.Decimal, buyYes bool) SwapResult {
	fee := amount.Mul(feeRate)
	effective := amount.Sub(fee)
	product := yes.Mul(no)

	if buyYes {
		newYes := yes.Add(amount)
		newNo := divKeepProduct(product, yes.Add(effective), newYes)
		return SwapResult{
			SharesOut: no.Sub(newNo),
			NewYes:    newYes,
			NewNo:     newNo,
			Fee:       fee,
		}
	}
	newNo := no.Add(amount)
	newYes := divKeepProduct(product, no.Add(effective), newNo)
	return SwapResult{
		SharesOut: yes.Sub(newYes),
		NewYes:    newYes,
		NewNo:     newNo,
		Fee:       fee,
	}
}

// divKeepProduct computes the drained reserve product/denom. Div rounds at
// DivisionPrecision decimal places and may round down; when that would leave
// q*other below the pre-trade product, nudge q up one ulp. The buyer absorbs
// the ulp, the pool never does.
func divKeepProduct(product, denom, other decimal.Decimal) decimal.Decimal {
	q := product.Div(denom)
	if q.Mul(other).LessThan(product) {
		q = q.Add(decimal.New(1, -int32(decimal.DivisionPrecision)))
	}
	return q
}

// SellShares swaps shares back into USD. The returned Fee has already been
// deducted from Proceeds and credited back to the drained reserve.
func SellShares(yes, no, shares, feeRate decimal.Decimal, sellYes bool) SellResult {
	product := yes.Mul(no)

	if sellYes {
		newNo := no.Add(shares)
		gross := yes.Sub(divKeepProduct(product, newNo, newNo))
		fee := gross.Mul(feeRate)
		return SellResult{
			Proceeds: gross.Sub(fee),
			NewYes:   yes.Sub(gross).Add(fee),
			NewNo:    newNo,
			Fee:      fee,
		}
	}
	newYes := yes.Add(shares)
	gross := no.Sub(divKeepProduct(product, newYes, newYes))
	fee := gross.Mul(feeRate)
	return SellResult{
		Proceeds: gross.Sub(fee),
		NewYes:   newYes,
		NewNo:    no.Sub(gross).Add(fee),
		Fee:      fee,
	}
}

// SellResult 卖出股份的结果与新储备。
type SellResult struct {
	Proceeds decimal.Decimal
	NewYes   decimal.Decimal
	NewNo    decimal.Decimal
	Fee      decimal.Decimal
}

// YesPrice returns no/(yes+no): the probability-style price of YES.
func YesPrice(yes, no decimal.Decimal) decimal.Decimal {
	total := yes.Add(no)
	if total.IsZero() {
		return decimal.Zero
	}
	return no.Div(total)
}

// NoPrice returns yes/(yes+no). YesPrice+NoPrice == 1.
func NoPrice(yes, no decimal.Decimal) decimal.Decimal {
	total := yes.Add(no)
	if total.IsZero() {
		return decimal.Zero
	}
	return yes.Div(total)
}
