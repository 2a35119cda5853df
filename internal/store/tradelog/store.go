package tradelog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"babylon/internal/types"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

// 成交审计日志：只追加，独立于主库，便于单独归档。

const schema = `
CREATE TABLE IF NOT EXISTS executed_trades (
	id TEXT PRIMARY KEY,
	npc_id TEXT NOT NULL,
	action TEXT NOT NULL,
	ticker TEXT,
	market_id TEXT,
	position_id TEXT,
	side TEXT,
	amount TEXT NOT NULL,
	fee TEXT NOT NULL,
	shares_out TEXT,
	realized_pnl TEXT,
	executed_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_executed_trades_npc ON executed_trades(npc_id);
CREATE INDEX IF NOT EXISTS idx_executed_trades_time ON executed_trades(executed_at);
`

type Store struct {
	db *sql.DB
}

func NewStore(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("trade log path cannot be empty")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Append writes one executed trade. The id is the primary key, so a replayed
// append is a conflict error rather than a duplicate row.
func (s *Store) Append(ctx context.Context, t types.ExecutedTrade) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO executed_trades
		 (id, npc_id, action, ticker, market_id, position_id, side, amount, fee, shares_out, realized_pnl, executed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.NPCID, string(t.Action), t.Ticker, t.MarketID, t.PositionID, string(t.Side),
		t.Amount.String(), t.Fee.String(), t.SharesOut.String(), t.RealizedPnL.String(),
		t.ExecutedAt.Unix(),
	)
	return err
}

// Recent returns the latest n trades, newest first.
func (s *Store) Recent(ctx context.Context, n int) ([]types.ExecutedTrade, error) {
	if n <= 0 {
		n = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, npc_id, action, ticker, market_id, position_id, side, amount, fee, shares_out, realized_pnl, executed_at
		 FROM executed_trades ORDER BY executed_at DESC, id DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.ExecutedTrade
	for rows.Next() {
		var t types.ExecutedTrade
		var action, side, amount, fee, sharesOut, realized string
		var executedAt int64
		if err := rows.Scan(&t.ID, &t.NPCID, &action, &t.Ticker, &t.MarketID, &t.PositionID,
			&side, &amount, &fee, &sharesOut, &realized, &executedAt); err != nil {
			return nil, err
		}
		t.Action = types.Action(action)
		t.Side = types.Side(side)
		t.Amount = parseDecimal(amount)
		t.Fee = parseDecimal(fee)
		t.SharesOut = parseDecimal(sharesOut)
		t.RealizedPnL = parseDecimal(realized)
		t.ExecutedAt = time.Unix(executedAt, 0)
		out = append(out, t)
	}
	return out, rows.Err()
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
