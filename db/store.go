// Package db 提供SQLite持久化存储
package db

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"stockapi/market"
)

// Store 股票元数据与日K线的持久层
//
// The store is the single source of truth. Unlike the cache, its errors
// always propagate to the caller. The UNIQUE(stock_code, date) constraint
// is the correctness backstop for concurrent bar upserts.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS stocks (
    code VARCHAR(20) PRIMARY KEY,
    symbol VARCHAR(20) NOT NULL UNIQUE,
    name VARCHAR(100),
    market VARCHAR(10),
    type VARCHAR(20),
    update_time DATETIME
);
CREATE INDEX IF NOT EXISTS idx_stocks_name ON stocks(name);
CREATE INDEX IF NOT EXISTS idx_stocks_market ON stocks(market);
CREATE TABLE IF NOT EXISTS price_bars (
    id INTEGER PRIMARY KEY,
    stock_code VARCHAR(20) NOT NULL,
    date TEXT NOT NULL,
    open REAL,
    high REAL,
    low REAL,
    close REAL,
    volume REAL,
    UNIQUE(stock_code, date)
);
`

// Open 打开数据库并建表
func Open(path string) (*Store, error) {
	database, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_busy_timeout=5000", path))
	if err != nil {
		return nil, err
	}
	if _, err := database.Exec(schema); err != nil {
		database.Close()
		return nil, err
	}
	return &Store{db: database}, nil
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	return s.db.Close()
}

// FindStock 按code查找；不存在时返回(nil, nil)
func (s *Store) FindStock(code string) (*market.Stock, error) {
	var stock market.Stock
	err := s.db.QueryRow(`
        SELECT code, symbol, name, market, type, update_time
        FROM stocks
        WHERE code = ?`, code).
		Scan(&stock.Code, &stock.Symbol, &stock.Name, &stock.Market, &stock.Type, &stock.UpdateTime)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &stock, nil
}

// UpsertStock 插入或更新（name/market/update_time原地更新）
func (s *Store) UpsertStock(stock market.Stock) error {
	_, err := s.db.Exec(`
        INSERT INTO stocks (code, symbol, name, market, type, update_time)
        VALUES (?, ?, ?, ?, ?, ?)
        ON CONFLICT(code) DO UPDATE SET
            name = excluded.name,
            market = excluded.market,
            update_time = excluded.update_time`,
		stock.Code, stock.Symbol, stock.Name, stock.Market, stock.Type, stock.UpdateTime)
	return err
}

// FindBar 按(code, date)查找；不存在时返回(nil, nil)
func (s *Store) FindBar(code, date string) (*market.Bar, error) {
	var bar market.Bar
	err := s.db.QueryRow(`
        SELECT date, open, high, low, close, volume
        FROM price_bars
        WHERE stock_code = ? AND date = ?`, code, date).
		Scan(&bar.Date, &bar.Open, &bar.High, &bar.Low, &bar.Close, &bar.Volume)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &bar, nil
}

// UpsertBar 仅在(code, date)不存在时插入
//
// Historical OHLCV for a closed trading day is immutable, so this path is
// first-write-wins: an existing row is never overwritten.
func (s *Store) UpsertBar(code string, bar market.Bar) error {
	_, err := s.db.Exec(`
        INSERT OR IGNORE INTO price_bars (stock_code, date, open, high, low, close, volume)
        VALUES (?, ?, ?, ?, ?, ?, ?)`,
		code, bar.Date, bar.Open, bar.High, bar.Low, bar.Close, bar.Volume)
	return err
}

// CountBars 某股票的K线条数
func (s *Store) CountBars(code string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM price_bars WHERE stock_code = ?`, code).Scan(&n)
	return n, err
}

// Search 按code/symbol/name模糊查找，受limit限制
func (s *Store) Search(query string, limit int) ([]market.Stock, error) {
	pattern := "%" + query + "%"
	rows, err := s.db.Query(`
        SELECT code, symbol, name, market, type, update_time
        FROM stocks
        WHERE code LIKE ? OR symbol LIKE ? OR name LIKE ?
        LIMIT ?`, pattern, pattern, pattern, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStocks(rows)
}

// ListByMarket 某市场的全部股票
func (s *Store) ListByMarket(mkt string) ([]market.Stock, error) {
	rows, err := s.db.Query(`
        SELECT code, symbol, name, market, type, update_time
        FROM stocks
        WHERE market = ?
        ORDER BY code`, mkt)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStocks(rows)
}

func scanStocks(rows *sql.Rows) ([]market.Stock, error) {
	var stocks []market.Stock
	for rows.Next() {
		var stock market.Stock
		if err := rows.Scan(&stock.Code, &stock.Symbol, &stock.Name, &stock.Market, &stock.Type, &stock.UpdateTime); err != nil {
			return nil, err
		}
		stocks = append(stocks, stock)
	}
	return stocks, rows.Err()
}
