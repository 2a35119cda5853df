package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"babylon/internal/market"
	"babylon/internal/store/model"
	"babylon/internal/types"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// SqliteStore 基于 Gorm + SQLite 的持久层，所有写入均为按主键的幂等 upsert。
type SqliteStore struct {
	db *gorm.DB
}

func NewSqliteStore(path string) (*SqliteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(
		&model.PerpPositionModel{},
		&model.PerpMarketModel{},
		&model.PredictionMarketModel{},
		&model.PredictionPositionModel{},
		&model.DecisionLogModel{},
	); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: keep connection count low to avoid lock contention.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &SqliteStore{db: db}, nil
}

func (s *SqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// BatchUpsertPerpPositions implements market.Persister.
func (s *SqliteStore) BatchUpsertPerpPositions(ctx context.Context, positions []market.PerpPosition) error {
	if len(positions) == 0 {
		return nil
	}
	rows := make([]model.PerpPositionModel, 0, len(positions))
	now := time.Now().Unix()
	for i := range positions {
		rows = append(rows, perpPositionRow(&positions[i], now))
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&rows).Error
}

// UpsertPerpMarket persists one perp market snapshot.
func (s *SqliteStore) UpsertPerpMarket(ctx context.Context, m market.PerpMarket) error {
	row := model.PerpMarketModel{
		Ticker:            m.Ticker,
		MarkPrice:         m.MarkPrice.String(),
		IndexPrice:        m.IndexPrice.String(),
		FundingRate:       m.FundingRate.String(),
		OpenInterestLong:  m.OpenInterestLong.String(),
		OpenInterestShort: m.OpenInterestShort.String(),
		InsuranceBuffer:   m.InsuranceBuffer.String(),
		NextFundingUnix:   m.NextFundingTime.Unix(),
		UpdatedAtUnix:     time.Now().Unix(),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "ticker"}},
		UpdateAll: true,
	}).Create(&row).Error
}

// UpsertPredictionMarket persists one prediction market snapshot.
func (s *SqliteStore) UpsertPredictionMarket(ctx context.Context, m market.PredictionMarket) error {
	row := model.PredictionMarketModel{
		ID:            m.ID,
		Question:      m.Question,
		YesShares:     m.YesShares.String(),
		NoShares:      m.NoShares.String(),
		Resolved:      m.Resolved,
		Outcome:       m.Outcome,
		UpdatedAtUnix: time.Now().Unix(),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&row).Error
}

// UpsertPredictionPosition persists one prediction position snapshot.
func (s *SqliteStore) UpsertPredictionPosition(ctx context.Context, p market.Position) error {
	row := model.PredictionPositionModel{
		UserID:        p.UserID,
		MarketID:      p.MarketID,
		YesShares:     p.YesShares.String(),
		NoShares:      p.NoShares.String(),
		TotalSpent:    p.TotalSpent.String(),
		TotalReceived: p.TotalReceived.String(),
		HasClaimed:    p.HasClaimed,
		UpdatedAtUnix: time.Now().Unix(),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "market_id"}},
		UpdateAll: true,
	}).Create(&row).Error
}

// AppendDecisionLog records each decision with its validation outcome.
func (s *SqliteStore) AppendDecisionLog(ctx context.Context, d types.TradingDecision, accepted bool, rejectReason string) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return err
	}
	row := model.DecisionLogModel{
		NPCID:         d.NPCID,
		Action:        string(d.Action),
		Accepted:      accepted,
		RejectReason:  rejectReason,
		PayloadJSON:   datatypes.JSON(payload),
		CreatedAtUnix: time.Now().Unix(),
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

// LoadOpenPerpPositions 重启恢复：读回全部未平仓位。
func (s *SqliteStore) LoadOpenPerpPositions(ctx context.Context) ([]market.PerpPosition, error) {
	var rows []model.PerpPositionModel
	if err := s.db.WithContext(ctx).Where("closed_at IS NULL").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]market.PerpPosition, 0, len(rows))
	for i := range rows {
		out = append(out, perpPositionFromRow(&rows[i]))
	}
	return out, nil
}

// LoadPerpMarkets 重启恢复：读回全部永续市场快照。
func (s *SqliteStore) LoadPerpMarkets(ctx context.Context) ([]market.PerpMarket, error) {
	var rows []model.PerpMarketModel
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]market.PerpMarket, 0, len(rows))
	for i := range rows {
		row := &rows[i]
		m := market.PerpMarket{
			Ticker:            row.Ticker,
			MarkPrice:         mustDecimal(row.MarkPrice),
			IndexPrice:        mustDecimal(row.IndexPrice),
			FundingRate:       mustDecimal(row.FundingRate),
			OpenInterestLong:  mustDecimal(row.OpenInterestLong),
			OpenInterestShort: mustDecimal(row.OpenInterestShort),
			InsuranceBuffer:   mustDecimal(row.InsuranceBuffer),
		}
		if row.NextFundingUnix > 0 {
			m.NextFundingTime = time.Unix(row.NextFundingUnix, 0)
		}
		out = append(out, m)
	}
	return out, nil
}

// LoadPredictionMarkets 重启恢复：读回全部预测市场快照。
func (s *SqliteStore) LoadPredictionMarkets(ctx context.Context) ([]market.PredictionMarket, error) {
	var rows []model.PredictionMarketModel
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]market.PredictionMarket, 0, len(rows))
	for i := range rows {
		row := &rows[i]
		out = append(out, market.PredictionMarket{
			ID:        row.ID,
			Question:  row.Question,
			YesShares: mustDecimal(row.YesShares),
			NoShares:  mustDecimal(row.NoShares),
			Resolved:  row.Resolved,
			Outcome:   row.Outcome,
		})
	}
	return out, nil
}

// LoadPredictionPositions 重启恢复：读回全部预测持仓（含已领奖标记）。
func (s *SqliteStore) LoadPredictionPositions(ctx context.Context) ([]market.Position, error) {
	var rows []model.PredictionPositionModel
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]market.Position, 0, len(rows))
	for i := range rows {
		row := &rows[i]
		out = append(out, market.Position{
			UserID:        row.UserID,
			MarketID:      row.MarketID,
			YesShares:     mustDecimal(row.YesShares),
			NoShares:      mustDecimal(row.NoShares),
			TotalSpent:    mustDecimal(row.TotalSpent),
			TotalReceived: mustDecimal(row.TotalReceived),
			HasClaimed:    row.HasClaimed,
		})
	}
	return out, nil
}

func perpPositionRow(p *market.PerpPosition, now int64) model.PerpPositionModel {
	row := model.PerpPositionModel{
		ID:               p.ID,
		UserID:           p.UserID,
		Ticker:           p.Ticker,
		Side:             string(p.Side),
		Size:             p.Size.String(),
		Leverage:         p.Leverage,
		Margin:           p.Margin.String(),
		EntryPrice:       p.EntryPrice.String(),
		CurrentPrice:     p.CurrentPrice.String(),
		LiquidationPrice: p.LiquidationPrice.String(),
		UnrealizedPnL:    p.UnrealizedPnL.String(),
		RealizedPnL:      p.RealizedPnL.String(),
		FundingPaid:      p.FundingPaid.String(),
		Liquidated:       p.Liquidated,
		OpenedAtUnix:     p.OpenedAt.Unix(),
		UpdatedAtUnix:    now,
	}
	if p.ClosedAt != nil {
		closed := p.ClosedAt.Unix()
		row.ClosedAtUnix = &closed
	}
	return row
}

func perpPositionFromRow(row *model.PerpPositionModel) market.PerpPosition {
	p := market.PerpPosition{
		ID:               row.ID,
		UserID:           row.UserID,
		Ticker:           row.Ticker,
		Side:             types.Side(row.Side),
		Size:             mustDecimal(row.Size),
		Leverage:         row.Leverage,
		Margin:           mustDecimal(row.Margin),
		EntryPrice:       mustDecimal(row.EntryPrice),
		CurrentPrice:     mustDecimal(row.CurrentPrice),
		LiquidationPrice: mustDecimal(row.LiquidationPrice),
		UnrealizedPnL:    mustDecimal(row.UnrealizedPnL),
		RealizedPnL:      mustDecimal(row.RealizedPnL),
		FundingPaid:      mustDecimal(row.FundingPaid),
		Liquidated:       row.Liquidated,
		OpenedAt:         time.Unix(row.OpenedAtUnix, 0),
	}
	if row.ClosedAtUnix != nil {
		t := time.Unix(*row.ClosedAtUnix, 0)
		p.ClosedAt = &t
	}
	return p
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
