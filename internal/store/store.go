package store

import (
	"database/sql"
	"time"

	_ "modernc.org/sqlite"
)

// Store provides SQLite persistence for matches, trades, and ratings.
type Store struct {
	db *sql.DB
}

// New creates a new Store and initializes the schema.
func New(dbPath string) (*Store, error) {
	// For in-memory databases, use shared cache mode so multiple connections
	// can access the same database. This is required for concurrent access.
	if dbPath == ":memory:" {
		dbPath = "file::memory:?cache=shared"
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// WAL mode allows concurrent readers while writing; busy_timeout makes
	// writers wait instead of failing immediately under contention.
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

	s := &Store{db: db}
	if err := s.Migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// MatchStatus enumerates the lifecycle of a persisted match.
type MatchStatus string

const (
	MatchStatusWaiting   MatchStatus = "WAITING"
	MatchStatusActive    MatchStatus = "ACTIVE"
	MatchStatusFinished  MatchStatus = "FINISHED"
	MatchStatusAbandoned MatchStatus = "ABANDONED"
)

// User is a minimal identity carrying the Elo rating and cumulative record;
// registration and credential management live outside this system.
type User struct {
	ID            string
	DisplayName   string
	Rating        int
	MatchesPlayed int
	MatchesWon    int
	CreatedAt     time.Time
}

// Match is the durable record of one 1v1 session.
type Match struct {
	ID              string
	Symbol          string
	DurationMinutes int
	TotalCandles    int
	Status          MatchStatus
	CreatorID       string
	OpponentID      sql.NullString
	StartingBalance int64
	CandleIndex     int
	Version         int
	StartedAt       sql.NullTime
	EndedAt         sql.NullTime
	CreatedAt       time.Time
}

// Trade is an append-only record of one executed order.
type Trade struct {
	ID          string
	MatchID     string
	UserID      string
	Symbol      string
	Side        string // BUY, SELL, SHORT, COVER
	Quantity    int64
	Price       int64
	CandleIndex int
	CreatedAt   time.Time
}

// MatchStats is the settled per-player result of a finished match.
type MatchStats struct {
	MatchID         string
	UserID          string
	FinalEquity     int64
	PeakEquity      int64
	MaxDrawdownPct  float64
	TradeCount      int
	CompositeScore  float64
	RatingDelta     int
	CreatedAt       time.Time
}
