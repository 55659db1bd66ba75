package store

import (
	"database/sql"
	"fmt"
	"time"
)

// SessionStore session snapshot storage (for plotting profit curves)
type SessionStore struct {
	db *sql.DB
}

// SessionSnapshot point-in-time state of a trading session
type SessionSnapshot struct {
	ID            int64     `json:"id"`
	TraderID      string    `json:"trader_id"`
	Timestamp     time.Time `json:"timestamp"`
	Balance       float64   `json:"balance"`        // account balance after the trade
	SessionProfit float64   `json:"session_profit"` // cumulative profit since session start
	TotalTrades   int       `json:"total_trades"`   // settled contracts this session
	Wins          int       `json:"wins"`
	Losses        int       `json:"losses"`
	Step          int       `json:"step"` // staking ladder rung after the trade
}

// initTables initializes session tables
func (s *SessionStore) initTables() error {
	queries := []string{
		// Snapshot table - one row per settled contract
		`CREATE TABLE IF NOT EXISTS trader_session_snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			trader_id TEXT NOT NULL,
			timestamp DATETIME NOT NULL,
			balance REAL NOT NULL DEFAULT 0,
			session_profit REAL NOT NULL DEFAULT 0,
			total_trades INTEGER DEFAULT 0,
			wins INTEGER DEFAULT 0,
			losses INTEGER DEFAULT 0,
			step INTEGER DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		// Indexes
		`CREATE INDEX IF NOT EXISTS idx_session_trader_time ON trader_session_snapshots(trader_id, timestamp DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_session_timestamp ON trader_session_snapshots(timestamp DESC)`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute SQL: %w", err)
		}
	}

	return nil
}

// Record saves a session snapshot
func (s *SessionStore) Record(snapshot *SessionSnapshot) error {
	if snapshot.Timestamp.IsZero() {
		snapshot.Timestamp = time.Now().UTC()
	} else {
		snapshot.Timestamp = snapshot.Timestamp.UTC()
	}

	result, err := s.db.Exec(`
		INSERT INTO trader_session_snapshots (
			trader_id, timestamp, balance, session_profit,
			total_trades, wins, losses, step
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		snapshot.TraderID,
		snapshot.Timestamp.Format(time.RFC3339),
		snapshot.Balance,
		snapshot.SessionProfit,
		snapshot.TotalTrades,
		snapshot.Wins,
		snapshot.Losses,
		snapshot.Step,
	)
	if err != nil {
		return fmt.Errorf("failed to save session snapshot: %w", err)
	}

	id, _ := result.LastInsertId()
	snapshot.ID = id
	return nil
}

// Latest gets the latest N snapshots for a trader (returned oldest to newest,
// ready for plotting)
func (s *SessionStore) Latest(traderID string, limit int) ([]*SessionSnapshot, error) {
	rows, err := s.db.Query(`
		SELECT id, trader_id, timestamp, balance, session_profit,
		       total_trades, wins, losses, step
		FROM trader_session_snapshots
		WHERE trader_id = ?
		ORDER BY timestamp DESC
		LIMIT ?
	`, traderID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query session snapshots: %w", err)
	}
	defer rows.Close()

	snapshots, err := scanSnapshots(rows)
	if err != nil {
		return nil, err
	}

	// Reverse so time runs old to new
	for i, j := 0, len(snapshots)-1; i < j; i, j = i+1, j-1 {
		snapshots[i], snapshots[j] = snapshots[j], snapshots[i]
	}

	return snapshots, nil
}

// History gets snapshots within a time range, oldest first
func (s *SessionStore) History(traderID string, start, end time.Time) ([]*SessionSnapshot, error) {
	rows, err := s.db.Query(`
		SELECT id, trader_id, timestamp, balance, session_profit,
		       total_trades, wins, losses, step
		FROM trader_session_snapshots
		WHERE trader_id = ? AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC
	`, traderID, start.Format(time.RFC3339), end.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("failed to query session snapshots: %w", err)
	}
	defer rows.Close()

	return scanSnapshots(rows)
}

// AllTradersLatest gets the most recent snapshot per trader (for overviews)
func (s *SessionStore) AllTradersLatest() (map[string]*SessionSnapshot, error) {
	rows, err := s.db.Query(`
		SELECT t.id, t.trader_id, t.timestamp, t.balance, t.session_profit,
		       t.total_trades, t.wins, t.losses, t.step
		FROM trader_session_snapshots t
		INNER JOIN (
			SELECT trader_id, MAX(timestamp) as max_ts
			FROM trader_session_snapshots
			GROUP BY trader_id
		) latest ON t.trader_id = latest.trader_id AND t.timestamp = latest.max_ts
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest snapshots: %w", err)
	}
	defer rows.Close()

	result := make(map[string]*SessionSnapshot)
	for rows.Next() {
		snap := &SessionSnapshot{}
		var timestampStr string
		err := rows.Scan(
			&snap.ID, &snap.TraderID, &timestampStr, &snap.Balance,
			&snap.SessionProfit, &snap.TotalTrades, &snap.Wins, &snap.Losses, &snap.Step,
		)
		if err != nil {
			continue
		}
		snap.Timestamp, _ = time.Parse(time.RFC3339, timestampStr)
		result[snap.TraderID] = snap
	}

	return result, nil
}

// DeleteOlderThan cleans snapshots older than N days, returning the number removed
func (s *SessionStore) DeleteOlderThan(traderID string, days int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -days).Format(time.RFC3339)

	result, err := s.db.Exec(`
		DELETE FROM trader_session_snapshots
		WHERE trader_id = ? AND timestamp < ?
	`, traderID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean old snapshots: %w", err)
	}

	return result.RowsAffected()
}

// Count gets snapshot count for a trader
func (s *SessionStore) Count(traderID string) (int, error) {
	var count int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM trader_session_snapshots WHERE trader_id = ?
	`, traderID).Scan(&count)
	return count, err
}

func scanSnapshots(rows *sql.Rows) ([]*SessionSnapshot, error) {
	var snapshots []*SessionSnapshot
	for rows.Next() {
		snap := &SessionSnapshot{}
		var timestampStr string
		err := rows.Scan(
			&snap.ID, &snap.TraderID, &timestampStr, &snap.Balance,
			&snap.SessionProfit, &snap.TotalTrades, &snap.Wins, &snap.Losses, &snap.Step,
		)
		if err != nil {
			continue
		}
		snap.Timestamp, _ = time.Parse(time.RFC3339, timestampStr)
		snapshots = append(snapshots, snap)
	}
	return snapshots, nil
}
