package store

import (
	"database/sql"
	"fmt"
	"time"
)

// CreateMatch inserts a new match in WAITING status.
func (s *Store) CreateMatch(m *Match) error {
	_, err := s.db.Exec(`
		INSERT INTO matches
		(id, symbol, duration_minutes, total_candles, status, creator_id, starting_balance, candle_index, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, 0)`,
		m.ID, m.Symbol, m.DurationMinutes, m.TotalCandles, MatchStatusWaiting, m.CreatorID, m.StartingBalance,
	)
	return err
}

// GetMatch retrieves a match by id.
func (s *Store) GetMatch(id string) (*Match, error) {
	var m Match
	var status string
	err := s.db.QueryRow(`
		SELECT id, symbol, duration_minutes, total_candles, status, creator_id, opponent_id,
		       starting_balance, candle_index, version, started_at, ended_at, created_at
		FROM matches WHERE id = ?`, id,
	).Scan(&m.ID, &m.Symbol, &m.DurationMinutes, &m.TotalCandles, &status, &m.CreatorID, &m.OpponentID,
		&m.StartingBalance, &m.CandleIndex, &m.Version, &m.StartedAt, &m.EndedAt, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	m.Status = MatchStatus(status)
	return &m, nil
}

// ListOpenMatches returns every match still WAITING for an opponent,
// newest first, for the `GET /match/open` listing.
func (s *Store) ListOpenMatches() ([]Match, error) {
	rows, err := s.db.Query(`
		SELECT id, symbol, duration_minutes, total_candles, status, creator_id, opponent_id,
		       starting_balance, candle_index, version, started_at, ended_at, created_at
		FROM matches WHERE status = ? ORDER BY created_at DESC`, MatchStatusWaiting,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Match
	for rows.Next() {
		var m Match
		var status string
		if err := rows.Scan(&m.ID, &m.Symbol, &m.DurationMinutes, &m.TotalCandles, &status, &m.CreatorID, &m.OpponentID,
			&m.StartingBalance, &m.CandleIndex, &m.Version, &m.StartedAt, &m.EndedAt, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Status = MatchStatus(status)
		out = append(out, m)
	}
	return out, rows.Err()
}

// JoinMatch sets the opponent and flips the match to ACTIVE, starting the
// clock. It fails with sql.ErrNoRows if the match is no longer WAITING
// (already joined, or abandoned) — callers treat that as a room-full/invalid
// state error.
func (s *Store) JoinMatch(matchID, opponentID string) error {
	res, err := s.db.Exec(`
		UPDATE matches
		SET opponent_id = ?, status = ?, started_at = ?, version = version + 1
		WHERE id = ? AND status = ?`,
		opponentID, MatchStatusActive, time.Now().UTC(), matchID, MatchStatusWaiting,
	)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// AdvanceCandle bumps a match's candle index with an optimistic-concurrency
// check against expectedVersion, per spec's "version" column on matches.
// Returns false (no error) if the version no longer matches, meaning another
// writer already advanced this match.
func (s *Store) AdvanceCandle(matchID string, expectedVersion, newIndex int) (bool, error) {
	res, err := s.db.Exec(`
		UPDATE matches
		SET candle_index = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		newIndex, matchID, expectedVersion,
	)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// RecordTrade appends one executed trade.
func (s *Store) RecordTrade(t *Trade) error {
	_, err := s.db.Exec(`
		INSERT INTO trades (id, match_id, user_id, symbol, side, quantity, price, candle_index)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.MatchID, t.UserID, t.Symbol, t.Side, t.Quantity, t.Price, t.CandleIndex,
	)
	return err
}

// GetMatchTrades returns all trades for a match, oldest first.
func (s *Store) GetMatchTrades(matchID string) ([]Trade, error) {
	rows, err := s.db.Query(`
		SELECT id, match_id, user_id, symbol, side, quantity, price, candle_index, created_at
		FROM trades WHERE match_id = ? ORDER BY created_at ASC`, matchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []Trade
	for rows.Next() {
		var t Trade
		if err := rows.Scan(&t.ID, &t.MatchID, &t.UserID, &t.Symbol, &t.Side, &t.Quantity, &t.Price, &t.CandleIndex, &t.CreatedAt); err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// SettleMatch persists final stats for both players, flips the match to
// FINISHED, and folds the rating deltas + win/loss counts into each user —
// all in one transaction, mirroring the teacher's SaveMatch.
func (s *Store) SettleMatch(matchID string, stats []MatchStats, winnerID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, st := range stats {
		if _, err := tx.Exec(`
			INSERT INTO match_stats
			(match_id, user_id, final_equity, peak_equity, max_drawdown_pct, trade_count, composite_score, rating_delta)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			st.MatchID, st.UserID, st.FinalEquity, st.PeakEquity, st.MaxDrawdownPct, st.TradeCount, st.CompositeScore, st.RatingDelta,
		); err != nil {
			return fmt.Errorf("insert match_stats: %w", err)
		}

		won := 0
		if st.UserID == winnerID {
			won = 1
		}
		if _, err := tx.Exec(`
			UPDATE users
			SET rating = rating + ?, matches_played = matches_played + 1, matches_won = matches_won + ?
			WHERE id = ?`,
			st.RatingDelta, won, st.UserID,
		); err != nil {
			return fmt.Errorf("update user rating: %w", err)
		}
	}

	if _, err := tx.Exec(`
		UPDATE matches SET status = ?, ended_at = ?, version = version + 1 WHERE id = ?`,
		MatchStatusFinished, time.Now().UTC(), matchID,
	); err != nil {
		return fmt.Errorf("finish match: %w", err)
	}

	return tx.Commit()
}

// AbandonMatch marks a match ABANDONED (creator left before an opponent
// joined, or a disconnect outlasted the grace window).
func (s *Store) AbandonMatch(matchID string) error {
	_, err := s.db.Exec(`
		UPDATE matches SET status = ?, ended_at = ?, version = version + 1 WHERE id = ?`,
		MatchStatusAbandoned, time.Now().UTC(), matchID,
	)
	return err
}

// GetMatchStats returns the settled stats for both players of a match.
func (s *Store) GetMatchStats(matchID string) ([]MatchStats, error) {
	rows, err := s.db.Query(`
		SELECT match_id, user_id, final_equity, peak_equity, max_drawdown_pct, trade_count, composite_score, rating_delta, created_at
		FROM match_stats WHERE match_id = ?`, matchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MatchStats
	for rows.Next() {
		var st MatchStats
		if err := rows.Scan(&st.MatchID, &st.UserID, &st.FinalEquity, &st.PeakEquity, &st.MaxDrawdownPct, &st.TradeCount, &st.CompositeScore, &st.RatingDelta, &st.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}
