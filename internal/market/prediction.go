package market

import (
	"fmt"

	"babylon/internal/pricing"
	"babylon/internal/types"

	"github.com/shopspring/decimal"
)

// BuyPrediction swaps USD into YES or NO shares through the CPMM pool.
// Debits amount+fee, updates the reserves and the user's position in one
// critical section.
func (s *Store) BuyPrediction(userID, marketID string, amount decimal.Decimal, buyYes bool, feeRate decimal.Decimal, fee Fee) (pricing.SwapResult, error) {
	unlock := s.locks.lock("user:"+userID, "pred:"+marketID)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.predMarkets[marketID]
	if !ok {
		return pricing.SwapResult{}, fmt.Errorf("%w: prediction market %s", types.ErrMarketNotFound, marketID)
	}
	if m.Resolved {
		return pricing.SwapResult{}, fmt.Errorf("%w: market %s already resolved", types.ErrStaleState, marketID)
	}
	if !amount.IsPositive() {
		return pricing.SwapResult{}, types.Validationf("amount must be positive, got %s", amount)
	}
	if err := s.debitLocked(userID, amount.Add(fee.Total())); err != nil {
		return pricing.SwapResult{}, err
	}
	s.creditFeeLocked(fee)

	// The pool-side fee stays in the reserves (BuyShares keeps it there),
	// which is what keeps yes*no non-decreasing.
	swap := pricing.BuyShares(m.YesShares, m.NoShares, amount, feeRate, buyYes)
	m.YesShares = swap.NewYes
	m.NoShares = swap.NewNo

	key := positionKey{UserID: userID, MarketID: marketID}
	pos, ok := s.positions[key]
	if !ok {
		pos = &Position{UserID: userID, MarketID: marketID}
		s.positions[key] = pos
	}
	if buyYes {
		pos.YesShares = pos.YesShares.Add(swap.SharesOut)
	} else {
		pos.NoShares = pos.NoShares.Add(swap.SharesOut)
	}
	pos.TotalSpent = pos.TotalSpent.Add(amount)
	s.touchPredMarketLocked(m)
	s.touchPredPositionLocked(pos)

	return swap, nil
}

// ExitPrediction sells the user's full holding in a market back into the
// pool and credits the proceeds. The position is zeroed on full exit.
// The returned fee stayed in the pool; it is reported for the audit trail.
func (s *Store) ExitPrediction(userID, marketID string, feeRate decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	unlock := s.locks.lock("user:"+userID, "pred:"+marketID)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.predMarkets[marketID]
	if !ok {
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w: prediction market %s", types.ErrMarketNotFound, marketID)
	}
	if m.Resolved {
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w: market %s already resolved", types.ErrStaleState, marketID)
	}
	key := positionKey{UserID: userID, MarketID: marketID}
	pos, ok := s.positions[key]
	if !ok || (pos.YesShares.IsZero() && pos.NoShares.IsZero()) {
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w: no prediction position for user %s in %s",
			types.ErrPositionNotFound, userID, marketID)
	}

	proceeds := decimal.Zero
	fee := decimal.Zero
	if pos.YesShares.IsPositive() {
		res := pricing.SellShares(m.YesShares, m.NoShares, pos.YesShares, feeRate, true)
		m.YesShares = res.NewYes
		m.NoShares = res.NewNo
		proceeds = proceeds.Add(res.Proceeds)
		fee = fee.Add(res.Fee)
	}
	if pos.NoShares.IsPositive() {
		res := pricing.SellShares(m.YesShares, m.NoShares, pos.NoShares, feeRate, false)
		m.YesShares = res.NewYes
		m.NoShares = res.NewNo
		proceeds = proceeds.Add(res.Proceeds)
		fee = fee.Add(res.Fee)
	}

	pos.YesShares = decimal.Zero
	pos.NoShares = decimal.Zero
	pos.TotalReceived = pos.TotalReceived.Add(proceeds)
	s.creditLocked(userID, proceeds)
	s.touchPredMarketLocked(m)
	s.touchPredPositionLocked(pos)

	return proceeds, fee, nil
}

// ResolveMarket 解析预测市场结果。解析后不再接受交易，只能 claim。
func (s *Store) ResolveMarket(marketID string, outcome bool) error {
	unlock := s.locks.lock("pred:" + marketID)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.predMarkets[marketID]
	if !ok {
		return fmt.Errorf("%w: prediction market %s", types.ErrMarketNotFound, marketID)
	}
	if m.Resolved {
		return fmt.Errorf("%w: market %s already resolved", types.ErrStaleState, marketID)
	}
	m.Resolved = true
	m.Outcome = &outcome
	s.touchPredMarketLocked(m)
	return nil
}

// ClaimPayout pays out winning shares at 1 USD each, exactly once.
func (s *Store) ClaimPayout(userID, marketID string) (decimal.Decimal, error) {
	unlock := s.locks.lock("user:"+userID, "pred:"+marketID)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.predMarkets[marketID]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: prediction market %s", types.ErrMarketNotFound, marketID)
	}
	if !m.Resolved || m.Outcome == nil {
		return decimal.Zero, fmt.Errorf("%w: market %s not resolved", types.ErrStaleState, marketID)
	}
	key := positionKey{UserID: userID, MarketID: marketID}
	pos, ok := s.positions[key]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: no prediction position for user %s in %s",
			types.ErrPositionNotFound, userID, marketID)
	}
	if pos.HasClaimed {
		return decimal.Zero, fmt.Errorf("%w: payout for %s/%s already claimed",
			types.ErrStaleState, userID, marketID)
	}

	payout := pos.NoShares
	if *m.Outcome {
		payout = pos.YesShares
	}
	pos.HasClaimed = true
	pos.YesShares = decimal.Zero
	pos.NoShares = decimal.Zero
	pos.TotalReceived = pos.TotalReceived.Add(payout)
	s.creditLocked(userID, payout)
	s.touchPredPositionLocked(pos)
	return payout, nil
}
