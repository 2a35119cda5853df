package market

import (
	"fmt"
	"time"

	"babylon/internal/pricing"
	"babylon/internal/types"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Fee 单笔交易费的分账结果。
type Fee struct {
	Platform   decimal.Decimal
	Referrer   decimal.Decimal
	ReferrerID string
}

// Total returns platform + referrer.
func (f Fee) Total() decimal.Decimal {
	return f.Platform.Add(f.Referrer)
}

func (s *Store) creditFeeLocked(f Fee) {
	if f.Platform.IsPositive() {
		s.creditLocked(PlatformAccount, f.Platform)
	}
	if f.Referrer.IsPositive() && f.ReferrerID != "" {
		s.creditLocked(f.ReferrerID, f.Referrer)
	}
}

// OpenPerp opens a leveraged position at the current mark price.
// Debits margin+fee atomically: validation happens before any write, so a
// failed open leaves no trace.
func (s *Store) OpenPerp(userID, ticker string, size decimal.Decimal, leverage int, side types.Side, fee Fee) (PerpPosition, error) {
	unlock := s.locks.lock("user:"+userID, "perp:"+ticker)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.perpMarkets[ticker]
	if !ok {
		return PerpPosition{}, fmt.Errorf("%w: perp market %s", types.ErrMarketNotFound, ticker)
	}
	if !size.IsPositive() {
		return PerpPosition{}, types.Validationf("size must be positive, got %s", size)
	}
	if leverage < m.LeverageMin || leverage > m.LeverageMax {
		return PerpPosition{}, types.Validationf("leverage %d outside %d..%d for %s",
			leverage, m.LeverageMin, m.LeverageMax, ticker)
	}
	if m.MarkPrice.IsZero() {
		return PerpPosition{}, fmt.Errorf("%w: no mark price for %s yet", types.ErrStaleState, ticker)
	}

	margin := pricing.Margin(size, leverage)
	if err := s.debitLocked(userID, margin.Add(fee.Total())); err != nil {
		return PerpPosition{}, err
	}
	s.creditFeeLocked(fee)

	pos := &PerpPosition{
		ID:               uuid.NewString(),
		UserID:           userID,
		Ticker:           ticker,
		Side:             side,
		Size:             size,
		Leverage:         leverage,
		Margin:           margin,
		EntryPrice:       m.MarkPrice,
		CurrentPrice:     m.MarkPrice,
		LiquidationPrice: pricing.LiquidationPrice(m.MarkPrice, leverage, side, m.MaintenanceMarginRate),
		OpenedAt:         s.now(),
	}
	s.perpPositions[pos.ID] = pos
	s.touchLocked(pos)

	if side == types.SideLong {
		m.OpenInterestLong = m.OpenInterestLong.Add(size)
	} else {
		m.OpenInterestShort = m.OpenInterestShort.Add(size)
	}
	s.touchPerpMarketLocked(m)
	return *pos, nil
}

// ClosePerp realizes PnL at the current mark and credits margin+realized
// minus the close fee. The fee is capped at the gross proceeds so a close
// never overdraws the account.
func (s *Store) ClosePerp(positionID, userID string, fee Fee) (PerpPosition, decimal.Decimal, error) {
	unlock := s.locks.lock("user:" + userID)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.perpPositions[positionID]
	if !ok || pos.UserID != userID {
		return PerpPosition{}, decimal.Zero, fmt.Errorf("%w: perp position %s for user %s",
			types.ErrPositionNotFound, positionID, userID)
	}
	if !pos.Open() {
		return PerpPosition{}, decimal.Zero, fmt.Errorf("%w: position %s already closed",
			types.ErrStaleState, positionID)
	}

	realized := pricing.UnrealizedPnL(pos.Side, pos.EntryPrice, pos.CurrentPrice, pos.Size)
	gross := pos.Margin.Add(realized)
	if gross.IsNegative() {
		gross = decimal.Zero
	}
	charged := fee
	if charged.Total().GreaterThan(gross) {
		charged = Fee{Platform: gross}
	}
	s.creditLocked(userID, gross.Sub(charged.Total()))
	s.creditFeeLocked(charged)

	now := s.now()
	pos.ClosedAt = &now
	pos.RealizedPnL = pos.RealizedPnL.Add(realized)
	pos.UnrealizedPnL = decimal.Zero
	s.touchLocked(pos)
	s.reduceOpenInterestLocked(pos)

	return *pos, realized, nil
}

// Liquidate force-closes a breached position with full collateral loss.
// Idempotent: an already-closed position returns ErrStaleState and a second
// sweep simply skips it.
func (s *Store) Liquidate(positionID string) (LiquidationEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.perpPositions[positionID]
	if !ok {
		return LiquidationEvent{}, fmt.Errorf("%w: perp position %s", types.ErrPositionNotFound, positionID)
	}
	if !pos.Open() {
		return LiquidationEvent{}, fmt.Errorf("%w: position %s already closed", types.ErrStaleState, positionID)
	}
	if !pricing.Liquidatable(pos.Side, pos.CurrentPrice, pos.LiquidationPrice) {
		return LiquidationEvent{}, types.Validationf("position %s not below liquidation threshold", positionID)
	}

	now := s.now()
	pos.ClosedAt = &now
	pos.Liquidated = true
	pos.RealizedPnL = pos.RealizedPnL.Sub(pos.Margin)
	pos.UnrealizedPnL = decimal.Zero
	s.touchLocked(pos)
	s.reduceOpenInterestLocked(pos)

	// Lost collateral feeds the insurance buffer.
	if m, ok := s.perpMarkets[pos.Ticker]; ok {
		m.InsuranceBuffer = m.InsuranceBuffer.Add(pos.Margin)
		s.touchPerpMarketLocked(m)
	}

	return LiquidationEvent{
		PositionID: pos.ID,
		UserID:     pos.UserID,
		Ticker:     pos.Ticker,
		Side:       pos.Side,
		Size:       pos.Size,
		MarkPrice:  pos.CurrentPrice,
		LostMargin: pos.Margin,
		At:         now,
	}, nil
}

func (s *Store) reduceOpenInterestLocked(pos *PerpPosition) {
	m, ok := s.perpMarkets[pos.Ticker]
	if !ok {
		return
	}
	if pos.Side == types.SideLong {
		m.OpenInterestLong = m.OpenInterestLong.Sub(pos.Size)
	} else {
		m.OpenInterestShort = m.OpenInterestShort.Sub(pos.Size)
	}
	s.touchPerpMarketLocked(m)
}

// UpdatePerpPrices 行情 tick：更新标记价并重算所有未平仓位的未实现盈亏。
// 单个临界区内完成，期间不会观察到半更新状态。
func (s *Store) UpdatePerpPrices(prices map[string]decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for ticker, price := range prices {
		m, ok := s.perpMarkets[ticker]
		if !ok || !price.IsPositive() {
			continue
		}
		m.MarkPrice = price
		s.touchPerpMarketLocked(m)
	}
	for _, pos := range s.perpPositions {
		if !pos.Open() {
			continue
		}
		price, ok := prices[pos.Ticker]
		if !ok || !price.IsPositive() {
			continue
		}
		pos.CurrentPrice = price
		pos.UnrealizedPnL = pricing.UnrealizedPnL(pos.Side, pos.EntryPrice, price, pos.Size)
		s.touchLocked(pos)
	}
}

// UpdateIndexPrices sets index prices from the external feed.
func (s *Store) UpdateIndexPrices(prices map[string]decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ticker, price := range prices {
		if m, ok := s.perpMarkets[ticker]; ok && price.IsPositive() {
			m.IndexPrice = price
			s.touchPerpMarketLocked(m)
		}
	}
}

// SettleFunding applies one funding cycle to every open position on the
// market. Payments move through balances (funding may overdraw: it is a
// collateral cost, not a trade), the per-position FundingPaid accumulates,
// and the open-interest residual lands in the insurance buffer.
func (s *Store) SettleFunding(ticker string, settlement pricing.FundingSettlement) error {
	unlock := s.locks.lock("perp:" + ticker)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.perpMarkets[ticker]
	if !ok {
		return fmt.Errorf("%w: perp market %s", types.ErrMarketNotFound, ticker)
	}
	for id, payment := range settlement.Payments {
		pos, ok := s.perpPositions[id]
		if !ok || !pos.Open() || pos.Ticker != ticker {
			continue
		}
		s.balances[pos.UserID] = s.balances[pos.UserID].Sub(payment)
		pos.FundingPaid = pos.FundingPaid.Add(payment)
		s.touchLocked(pos)
	}
	m.InsuranceBuffer = m.InsuranceBuffer.Add(settlement.Residual)
	s.touchPerpMarketLocked(m)
	return nil
}

// SetFundingRate updates the market's funding rate and next settlement time.
func (s *Store) SetFundingRate(ticker string, rate decimal.Decimal, next time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.perpMarkets[ticker]
	if !ok {
		return fmt.Errorf("%w: perp market %s", types.ErrMarketNotFound, ticker)
	}
	m.FundingRate = rate
	if !next.IsZero() {
		m.NextFundingTime = next
	}
	s.touchPerpMarketLocked(m)
	return nil
}
