package market

import (
	"context"
	"fmt"

	"babylon/internal/types"
)

// 中文说明：
// dirty 集合以实体 id 为索引（永续仓位/永续市场/预测市场/预测持仓各一套），
// flush 只遍历集合而不是全量扫描。
// 清除采用 check-and-clear：flush 开始时记录该仓位的 seq，
// 落盘成功后仅当 seq 未变化才移除；期间被价格 tick 再次改写的条目保留，
// 留给下一轮。

type dirtySet struct {
	entries map[string]uint64 // position id -> seq at mark time
}

func newDirtySet() *dirtySet {
	return &dirtySet{entries: make(map[string]uint64)}
}

func (d *dirtySet) mark(id string, seq uint64) {
	d.entries[id] = seq
}

func (d *dirtySet) snapshot() map[string]uint64 {
	out := make(map[string]uint64, len(d.entries))
	for id, seq := range d.entries {
		out[id] = seq
	}
	return out
}

// clearIf removes the entry only when the recorded seq still matches.
func (d *dirtySet) clearIf(id string, seq uint64) {
	if cur, ok := d.entries[id]; ok && cur == seq {
		delete(d.entries, id)
	}
}

func (d *dirtySet) len() int { return len(d.entries) }

// Persister 由存储层实现：以实体 id 为键的幂等 upsert。
type Persister interface {
	BatchUpsertPerpPositions(ctx context.Context, positions []PerpPosition) error
	UpsertPerpMarket(ctx context.Context, m PerpMarket) error
	UpsertPredictionMarket(ctx context.Context, m PredictionMarket) error
	UpsertPredictionPosition(ctx context.Context, p Position) error
}

// MarkDirty re-marks a position for the next flush cycle.
func (s *Store) MarkDirty(positionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.perpPositions[positionID]; ok {
		s.touchLocked(p)
	}
}

// DirtyCount returns the number of entities awaiting a flush: perp positions
// and markets, prediction markets and positions.
func (s *Store) DirtyCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dirty.len() + s.dirtyPerpMkts.len() + s.dirtyPredMkts.len() + s.dirtyPredPos.len()
}

// FlushDirty persists every dirty entity through the persister and clears
// the flags that were not re-marked while the flush was in flight.
// On persistence failure the remaining entries stay dirty; the next cycle
// retries them. Returns the number of entities written.
func (s *Store) FlushDirty(ctx context.Context, persister Persister) (int, error) {
	s.mu.RLock()
	pendingPos := s.dirty.snapshot()
	posBatch := make([]PerpPosition, 0, len(pendingPos))
	for id := range pendingPos {
		if p, ok := s.perpPositions[id]; ok {
			posBatch = append(posBatch, *p)
		}
	}
	pendingPerpMkts := s.dirtyPerpMkts.snapshot()
	perpMkts := make([]PerpMarket, 0, len(pendingPerpMkts))
	for ticker := range pendingPerpMkts {
		if m, ok := s.perpMarkets[ticker]; ok {
			perpMkts = append(perpMkts, *m)
		}
	}
	pendingPredMkts := s.dirtyPredMkts.snapshot()
	predMkts := make([]PredictionMarket, 0, len(pendingPredMkts))
	for id := range pendingPredMkts {
		if m, ok := s.predMarkets[id]; ok {
			predMkts = append(predMkts, *m)
		}
	}
	pendingPredPos := s.dirtyPredPos.snapshot()
	predPos := make([]Position, 0, len(pendingPredPos))
	for key, pos := range s.positions {
		if _, ok := pendingPredPos[predPosKey(key.UserID, key.MarketID)]; ok {
			predPos = append(predPos, *pos)
		}
	}
	s.mu.RUnlock()

	flushed := 0
	if len(posBatch) > 0 {
		if err := persister.BatchUpsertPerpPositions(ctx, posBatch); err != nil {
			return flushed, fmt.Errorf("%w: %v", types.ErrPersistence, err)
		}
		s.mu.Lock()
		for id, seq := range pendingPos {
			s.dirty.clearIf(id, seq)
		}
		s.mu.Unlock()
		flushed += len(posBatch)
	}
	for i := range perpMkts {
		if err := persister.UpsertPerpMarket(ctx, perpMkts[i]); err != nil {
			return flushed, fmt.Errorf("%w: %v", types.ErrPersistence, err)
		}
		s.mu.Lock()
		s.dirtyPerpMkts.clearIf(perpMkts[i].Ticker, pendingPerpMkts[perpMkts[i].Ticker])
		s.mu.Unlock()
		flushed++
	}
	for i := range predMkts {
		if err := persister.UpsertPredictionMarket(ctx, predMkts[i]); err != nil {
			return flushed, fmt.Errorf("%w: %v", types.ErrPersistence, err)
		}
		s.mu.Lock()
		s.dirtyPredMkts.clearIf(predMkts[i].ID, pendingPredMkts[predMkts[i].ID])
		s.mu.Unlock()
		flushed++
	}
	for i := range predPos {
		key := predPosKey(predPos[i].UserID, predPos[i].MarketID)
		if err := persister.UpsertPredictionPosition(ctx, predPos[i]); err != nil {
			return flushed, fmt.Errorf("%w: %v", types.ErrPersistence, err)
		}
		s.mu.Lock()
		s.dirtyPredPos.clearIf(key, pendingPredPos[key])
		s.mu.Unlock()
		flushed++
	}
	return flushed, nil
}
