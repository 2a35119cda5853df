package pricing

import (
	"testing"

	"babylon/internal/types"

	"github.com/stretchr/testify/assert"
)

func TestFundingPayment_Signs(t *testing.T) {
	rate := d("0.001")
	// rate>0：多头付、空头收
	assert.True(t, FundingPayment(d("1000"), rate, types.SideLong).Equal(d("1")))
	assert.True(t, FundingPayment(d("1000"), rate, types.SideShort).Equal(d("-1")))
	// rate<0 反转
	assert.True(t, FundingPayment(d("1000"), d("-0.001"), types.SideLong).Equal(d("-1")))
}

func TestSettleFunding_BalancedBookNetsToZero(t *testing.T) {
	positions := []PositionFunding{
		{PositionID: "a", Side: types.SideLong, Size: d("1000")},
		{PositionID: "b", Side: types.SideShort, Size: d("1000")},
	}
	s := SettleFunding(positions, d("0.001"))

	assert.True(t, s.Payments["a"].Equal(d("1")))
	assert.True(t, s.Payments["b"].Equal(d("-1")))
	assert.True(t, s.Residual.IsZero(), "residual=%s", s.Residual)
}

func TestSettleFunding_ImbalanceLeavesResidual(t *testing.T) {
	positions := []PositionFunding{
		{PositionID: "a", Side: types.SideLong, Size: d("3000")},
		{PositionID: "b", Side: types.SideShort, Size: d("1000")},
	}
	s := SettleFunding(positions, d("0.001"))
	// 多头付 3，空头收 1，余 2 进保险缓冲
	assert.True(t, s.Residual.Equal(d("2")), "residual=%s", s.Residual)
}

func TestSettleFunding_SkipsZeroSize(t *testing.T) {
	s := SettleFunding([]PositionFunding{{PositionID: "x", Side: types.SideLong}}, d("0.001"))
	assert.Empty(t, s.Payments)
	assert.True(t, s.Residual.IsZero())
}
