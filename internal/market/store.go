package market

import (
	"fmt"
	"sync"
	"time"

	"babylon/internal/types"

	"github.com/shopspring/decimal"
)

// PlatformAccount 手续费归集账户。
const PlatformAccount = "__platform__"

type positionKey struct {
	UserID   string
	MarketID string
}

// Store 市场状态存储：余额、预测市场储备、永续市场与仓位的唯一持有者。
type Store struct {
	mu sync.RWMutex // guards the maps; per-entity mutation goes through locks

	locks *keyedLocks

	balances      map[string]decimal.Decimal
	predMarkets   map[string]*PredictionMarket
	perpMarkets   map[string]*PerpMarket
	positions     map[positionKey]*Position
	perpPositions map[string]*PerpPosition

	dirty         *dirtySet // perp positions
	dirtyPerpMkts *dirtySet
	dirtyPredMkts *dirtySet
	dirtyPredPos  *dirtySet // keyed userID + "/" + marketID

	nowFn func() time.Time
}

func NewStore() *Store {
	return &Store{
		locks:         newKeyedLocks(),
		balances:      make(map[string]decimal.Decimal),
		predMarkets:   make(map[string]*PredictionMarket),
		perpMarkets:   make(map[string]*PerpMarket),
		positions:     make(map[positionKey]*Position),
		perpPositions: make(map[string]*PerpPosition),
		dirty:         newDirtySet(),
		dirtyPerpMkts: newDirtySet(),
		dirtyPredMkts: newDirtySet(),
		dirtyPredPos:  newDirtySet(),
		nowFn:         time.Now,
	}
}

// SeedPredictionMarket registers a prediction market. Initial reserves must
// both be positive.
func (s *Store) SeedPredictionMarket(id, question string, yesShares, noShares decimal.Decimal) error {
	if !yesShares.IsPositive() || !noShares.IsPositive() {
		return types.Validationf("market %s: reserves must be positive", id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.predMarkets[id]; ok {
		return fmt.Errorf("prediction market %s already exists", id)
	}
	s.predMarkets[id] = &PredictionMarket{
		ID:        id,
		Question:  question,
		YesShares: yesShares,
		NoShares:  noShares,
	}
	return nil
}

// SeedPerpMarket registers a perpetual market.
func (s *Store) SeedPerpMarket(m PerpMarket) error {
	if m.Ticker == "" {
		return types.Validationf("perp market ticker is empty")
	}
	if m.LeverageMin <= 0 || m.LeverageMax < m.LeverageMin {
		return types.Validationf("perp market %s: bad leverage range %d..%d", m.Ticker, m.LeverageMin, m.LeverageMax)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.perpMarkets[m.Ticker]; ok {
		return fmt.Errorf("perp market %s already exists", m.Ticker)
	}
	cp := m
	s.perpMarkets[m.Ticker] = &cp
	return nil
}

// RestorePerpPositions re-injects persisted positions at startup and rebuilds
// each market's open interest. Positions on unknown markets are skipped.
func (s *Store) RestorePerpPositions(positions []PerpPosition) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	restored := 0
	for i := range positions {
		p := positions[i]
		m, ok := s.perpMarkets[p.Ticker]
		if !ok {
			continue
		}
		if _, dup := s.perpPositions[p.ID]; dup {
			continue
		}
		cp := p
		s.perpPositions[p.ID] = &cp
		if cp.Open() {
			if cp.Side == types.SideLong {
				m.OpenInterestLong = m.OpenInterestLong.Add(cp.Size)
			} else {
				m.OpenInterestShort = m.OpenInterestShort.Add(cp.Size)
			}
		}
		restored++
	}
	return restored
}

// RestorePerpMarkets overlays persisted dynamic state (prices, funding rate,
// insurance buffer) onto markets already seeded from config. Open interest is
// deliberately not taken from the snapshot: RestorePerpPositions rebuilds it
// from the positions themselves. Unknown tickers are skipped.
func (s *Store) RestorePerpMarkets(markets []PerpMarket) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	restored := 0
	for i := range markets {
		saved := markets[i]
		m, ok := s.perpMarkets[saved.Ticker]
		if !ok {
			continue
		}
		if saved.MarkPrice.IsPositive() {
			m.MarkPrice = saved.MarkPrice
		}
		if saved.IndexPrice.IsPositive() {
			m.IndexPrice = saved.IndexPrice
		}
		m.FundingRate = saved.FundingRate
		m.InsuranceBuffer = saved.InsuranceBuffer
		if !saved.NextFundingTime.IsZero() {
			m.NextFundingTime = saved.NextFundingTime
		}
		restored++
	}
	return restored
}

// RestorePredictionMarkets overlays persisted reserves and resolution state
// onto markets seeded from config.
func (s *Store) RestorePredictionMarkets(markets []PredictionMarket) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	restored := 0
	for i := range markets {
		saved := markets[i]
		m, ok := s.predMarkets[saved.ID]
		if !ok {
			continue
		}
		if saved.YesShares.IsPositive() && saved.NoShares.IsPositive() {
			m.YesShares = saved.YesShares
			m.NoShares = saved.NoShares
		}
		m.Resolved = saved.Resolved
		m.Outcome = saved.Outcome
		restored++
	}
	return restored
}

// RestorePredictionPositions re-injects persisted prediction positions,
// including the has-claimed flag so a paid-out win cannot be claimed twice
// after a restart. Positions on unknown markets are skipped.
func (s *Store) RestorePredictionPositions(positions []Position) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	restored := 0
	for i := range positions {
		p := positions[i]
		if _, ok := s.predMarkets[p.MarketID]; !ok {
			continue
		}
		key := positionKey{UserID: p.UserID, MarketID: p.MarketID}
		if _, dup := s.positions[key]; dup {
			continue
		}
		cp := p
		s.positions[key] = &cp
		restored++
	}
	return restored
}

// SetBalance 初始化/重置用户余额（引导期使用）。
func (s *Store) SetBalance(userID string, amount decimal.Decimal) {
	s.mu.Lock()
	s.balances[userID] = amount
	s.mu.Unlock()
}

// Balance returns the user's current balance (zero for unknown users).
func (s *Store) Balance(userID string) decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balances[userID]
}

func (s *Store) creditLocked(userID string, amount decimal.Decimal) {
	s.balances[userID] = s.balances[userID].Add(amount)
}

func (s *Store) debitLocked(userID string, amount decimal.Decimal) error {
	cur := s.balances[userID]
	if cur.LessThan(amount) {
		return fmt.Errorf("%w: user %s has %s, needs %s",
			types.ErrInsufficientBalance, userID, cur, amount)
	}
	s.balances[userID] = cur.Sub(amount)
	return nil
}

// GetPredictionMarket returns a snapshot copy of a prediction market.
func (s *Store) GetPredictionMarket(id string) (PredictionMarket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.predMarkets[id]
	if !ok {
		return PredictionMarket{}, fmt.Errorf("%w: prediction market %s", types.ErrMarketNotFound, id)
	}
	return *m, nil
}

// GetPerpMarket returns a snapshot copy of a perp market.
func (s *Store) GetPerpMarket(ticker string) (PerpMarket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.perpMarkets[ticker]
	if !ok {
		return PerpMarket{}, fmt.Errorf("%w: perp market %s", types.ErrMarketNotFound, ticker)
	}
	return *m, nil
}

// PerpTickers returns all registered perp market tickers.
func (s *Store) PerpTickers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.perpMarkets))
	for t := range s.perpMarkets {
		out = append(out, t)
	}
	return out
}

// PredictionMarketIDs returns all prediction market ids.
func (s *Store) PredictionMarketIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.predMarkets))
	for id := range s.predMarkets {
		out = append(out, id)
	}
	return out
}

// GetPosition returns a snapshot copy of a prediction position.
func (s *Store) GetPosition(userID, marketID string) (Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[positionKey{UserID: userID, MarketID: marketID}]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// GetPerpPosition returns a snapshot copy of a perp position by id.
func (s *Store) GetPerpPosition(id string) (PerpPosition, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.perpPositions[id]
	if !ok {
		return PerpPosition{}, false
	}
	return *p, true
}

// OpenPerpPositions returns snapshot copies of the user's open perp positions.
func (s *Store) OpenPerpPositions(userID string) []PerpPosition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]PerpPosition, 0, 4)
	for _, p := range s.perpPositions {
		if p.UserID == userID && p.Open() {
			out = append(out, *p)
		}
	}
	return out
}

// OpenPerpPositionsByTicker returns snapshot copies of all open positions on
// one market.
func (s *Store) OpenPerpPositionsByTicker(ticker string) []PerpPosition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]PerpPosition, 0, 8)
	for _, p := range s.perpPositions {
		if p.Ticker == ticker && p.Open() {
			out = append(out, *p)
		}
	}
	return out
}

// AllOpenPerpPositions returns snapshot copies of every open perp position.
func (s *Store) AllOpenPerpPositions() []PerpPosition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]PerpPosition, 0, len(s.perpPositions))
	for _, p := range s.perpPositions {
		if p.Open() {
			out = append(out, *p)
		}
	}
	return out
}

func (s *Store) now() time.Time { return s.nowFn() }

func (s *Store) touchLocked(p *PerpPosition) {
	p.seq++
	s.dirty.mark(p.ID, p.seq)
}

func (s *Store) touchPerpMarketLocked(m *PerpMarket) {
	m.seq++
	s.dirtyPerpMkts.mark(m.Ticker, m.seq)
}

func (s *Store) touchPredMarketLocked(m *PredictionMarket) {
	m.seq++
	s.dirtyPredMkts.mark(m.ID, m.seq)
}

func (s *Store) touchPredPositionLocked(p *Position) {
	p.seq++
	s.dirtyPredPos.mark(predPosKey(p.UserID, p.MarketID), p.seq)
}

func predPosKey(userID, marketID string) string { return userID + "/" + marketID }
