package candle

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Cache stores fetched candle series locally to avoid repeated provider calls.
type Cache struct {
	db *sql.DB
}

// NewCache opens (or creates) a candle series cache at dbPath.
func NewCache(dbPath string) (*Cache, error) {
	if dbPath == ":memory:" {
		dbPath = "file::memory:?cache=shared"
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, err
		}
	}

	c := &Cache{db: db}
	if err := c.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return c, nil
}

func (c *Cache) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS candle_series (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		date TEXT NOT NULL,
		bars_json TEXT NOT NULL,
		total_volume INTEGER NOT NULL,
		series_open INTEGER NOT NULL,
		series_close INTEGER NOT NULL,
		series_high INTEGER NOT NULL,
		series_low INTEGER NOT NULL,
		fetched_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(symbol, date)
	);

	CREATE INDEX IF NOT EXISTS idx_candle_series_symbol_date ON candle_series(symbol, date);
	`
	_, err := c.db.Exec(schema)
	return err
}

// Close closes the underlying database connection.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Get retrieves a cached series, or nil if it isn't cached.
func (c *Cache) Get(symbol string, date time.Time) (*Series, error) {
	dateStr := date.Format("2006-01-02")

	var barsJSON string
	err := c.db.QueryRow(
		"SELECT bars_json FROM candle_series WHERE symbol = ? AND date = ?",
		symbol, dateStr,
	).Scan(&barsJSON)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var bars []Candle
	if err := json.Unmarshal([]byte(barsJSON), &bars); err != nil {
		return nil, fmt.Errorf("unmarshal cached bars: %w", err)
	}

	return &Series{Symbol: symbol, Date: date, Bars: bars}, nil
}

// Put stores a series in the cache.
func (c *Cache) Put(s *Series) error {
	barsJSON, err := json.Marshal(s.Bars)
	if err != nil {
		return fmt.Errorf("marshal bars: %w", err)
	}

	dateStr := s.Date.Format("2006-01-02")

	_, err = c.db.Exec(`
		INSERT OR REPLACE INTO candle_series
		(symbol, date, bars_json, total_volume, series_open, series_close, series_high, series_low)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.Symbol, dateStr, string(barsJSON),
		s.TotalVolume(), s.Open(), s.Close(), s.High(), s.Low(),
	)
	return err
}

// ListCachedDates returns all cached dates for a symbol.
func (c *Cache) ListCachedDates(symbol string) ([]time.Time, error) {
	rows, err := c.db.Query(
		"SELECT date FROM candle_series WHERE symbol = ? ORDER BY date",
		symbol,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var dates []time.Time
	for rows.Next() {
		var dateStr string
		if err := rows.Scan(&dateStr); err != nil {
			return nil, err
		}
		date, err := time.Parse("2006-01-02", dateStr)
		if err != nil {
			continue
		}
		dates = append(dates, date)
	}

	return dates, rows.Err()
}

// CachedSeriesCount returns the number of cached series for a symbol.
func (c *Cache) CachedSeriesCount(symbol string) (int, error) {
	var count int
	err := c.db.QueryRow(
		"SELECT COUNT(*) FROM candle_series WHERE symbol = ?",
		symbol,
	).Scan(&count)
	return count, err
}

// GetRandomCachedSeries returns a random cached series for a symbol.
func (c *Cache) GetRandomCachedSeries(symbol string) (*Series, error) {
	var barsJSON string
	var dateStr string

	err := c.db.QueryRow(`
		SELECT date, bars_json FROM candle_series
		WHERE symbol = ?
		ORDER BY RANDOM()
		LIMIT 1`,
		symbol,
	).Scan(&dateStr, &barsJSON)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var bars []Candle
	if err := json.Unmarshal([]byte(barsJSON), &bars); err != nil {
		return nil, fmt.Errorf("unmarshal cached bars: %w", err)
	}

	date, _ := time.Parse("2006-01-02", dateStr)

	return &Series{Symbol: symbol, Date: date, Bars: bars}, nil
}
