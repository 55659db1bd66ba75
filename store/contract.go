package store

import (
	"database/sql"
	"fmt"
	"math"
	"time"
)

// Contract statuses as persisted. An OPEN row transitions exactly once to a
// terminal status.
const (
	ContractStatusOpen = "OPEN"
	ContractStatusWon  = "WON"
	ContractStatusLost = "LOST"
	ContractStatusSold = "SOLD"
)

// Contract one purchased binary option contract
type Contract struct {
	ID            int64     `json:"id"`
	TraderID      string    `json:"trader_id"`
	UserID        string    `json:"user_id"`
	ContractID    int64     `json:"contract_id"`    // broker contract id
	Symbol        string    `json:"symbol"`         // underlying, e.g. R_100
	ContractType  string    `json:"contract_type"`  // CALL/PUT/DIGITOVER/...
	Stake         float64   `json:"stake"`          // amount risked
	BuyPrice      float64   `json:"buy_price"`      // price actually paid
	Payout        float64   `json:"payout"`         // payout if won
	SellPrice     float64   `json:"sell_price"`     // settle value (payout, 0, or early-sell price)
	Profit        float64   `json:"profit"`         // sell_price - buy_price once settled
	Status        string    `json:"status"`         // OPEN/WON/LOST/SOLD
	EntrySpot     float64   `json:"entry_spot"`     // spot at entry
	ExitSpot      float64   `json:"exit_spot"`      // spot at settlement
	Barrier       string    `json:"barrier"`        // digit prediction or price barrier
	DurationTicks int       `json:"duration_ticks"` // contract length in ticks
	Reason        string    `json:"reason"`         // strategy signal reason
	PurchaseTime  time.Time `json:"purchase_time"`
	SettleTime    time.Time `json:"settle_time"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Settled reports whether the row reached a terminal status.
func (c *Contract) Settled() bool {
	return c.Status != ContractStatusOpen
}

// TraderStats aggregate trade metrics for one trader
type TraderStats struct {
	TotalTrades  int     `json:"total_trades"`  // settled contracts
	Wins         int     `json:"wins"`          // profit > 0
	Losses       int     `json:"losses"`        // profit < 0
	WinRate      float64 `json:"win_rate"`      // wins / settled (%)
	TotalStaked  float64 `json:"total_staked"`  // sum of buy prices
	TotalPayout  float64 `json:"total_payout"`  // sum of sell prices
	TotalProfit  float64 `json:"total_profit"`  // net result
	ProfitFactor float64 `json:"profit_factor"` // gross win / gross loss
	AvgStake     float64 `json:"avg_stake"`
	BestStreak   int     `json:"best_streak"`      // longest run of wins
	WorstStreak  int     `json:"worst_streak"`     // longest run of losses
	MaxDrawdown  float64 `json:"max_drawdown_pct"` // worst peak-to-trough on cumulative profit (%)
}

// ContractStore contract storage
type ContractStore struct {
	db *sql.DB
}

// NewContractStore creates contract storage instance
func NewContractStore(db *sql.DB) *ContractStore {
	return &ContractStore{db: db}
}

// InitTables initializes contract tables
func (s *ContractStore) InitTables() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS trader_contracts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			trader_id TEXT NOT NULL,
			user_id TEXT NOT NULL DEFAULT '',
			contract_id INTEGER NOT NULL,
			symbol TEXT NOT NULL,
			contract_type TEXT NOT NULL,
			stake REAL NOT NULL,
			buy_price REAL DEFAULT 0,
			payout REAL DEFAULT 0,
			sell_price REAL DEFAULT 0,
			profit REAL DEFAULT 0,
			status TEXT DEFAULT 'OPEN',
			entry_spot REAL DEFAULT 0,
			exit_spot REAL DEFAULT 0,
			barrier TEXT DEFAULT '',
			duration_ticks INTEGER DEFAULT 0,
			reason TEXT DEFAULT '',
			purchase_time DATETIME,
			settle_time DATETIME,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(trader_id, contract_id)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create trader_contracts table: %w", err)
	}

	// Indexes
	indices := []string{
		`CREATE INDEX IF NOT EXISTS idx_trader_contracts_trader ON trader_contracts(trader_id)`,
		`CREATE INDEX IF NOT EXISTS idx_trader_contracts_status ON trader_contracts(trader_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_trader_contracts_settle ON trader_contracts(trader_id, settle_time DESC)`,
	}
	for _, idx := range indices {
		if _, err := s.db.Exec(idx); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}

// Create records a purchased contract. Duplicate buy acks for the same
// (trader, contract) pair are ignored so a replayed stream cannot double-book.
func (s *ContractStore) Create(c *Contract) error {
	now := time.Now().Format(time.RFC3339)
	purchaseTime := now
	if !c.PurchaseTime.IsZero() {
		purchaseTime = c.PurchaseTime.Format(time.RFC3339)
	}
	if c.Status == "" {
		c.Status = ContractStatusOpen
	}

	result, err := s.db.Exec(`
		INSERT OR IGNORE INTO trader_contracts (
			trader_id, user_id, contract_id, symbol, contract_type,
			stake, buy_price, payout, sell_price, profit, status,
			entry_spot, exit_spot, barrier, duration_ticks, reason,
			purchase_time, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		c.TraderID, c.UserID, c.ContractID, c.Symbol, c.ContractType,
		c.Stake, c.BuyPrice, c.Payout, c.SellPrice, c.Profit, c.Status,
		c.EntrySpot, c.ExitSpot, c.Barrier, c.DurationTicks, c.Reason,
		purchaseTime, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to record contract: %w", err)
	}

	if rows, _ := result.RowsAffected(); rows == 0 {
		// already recorded
		return nil
	}

	id, _ := result.LastInsertId()
	c.ID = id
	return nil
}

// MarkSettled transitions an OPEN contract to a terminal status. It reports
// whether the update applied; a second settle of the same contract is a no-op.
func (s *ContractStore) MarkSettled(traderID string, contractID int64, status string, sellPrice, profit, exitSpot float64, settledAt time.Time) (bool, error) {
	if settledAt.IsZero() {
		settledAt = time.Now()
	}

	result, err := s.db.Exec(`
		UPDATE trader_contracts SET
			status = ?, sell_price = ?, profit = ?, exit_spot = ?,
			settle_time = ?, updated_at = ?
		WHERE trader_id = ? AND contract_id = ? AND status = 'OPEN'
	`,
		status, sellPrice, profit, exitSpot,
		settledAt.Format(time.RFC3339), time.Now().Format(time.RFC3339),
		traderID, contractID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to settle contract: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// GetByContractID gets a contract by broker contract id
func (s *ContractStore) GetByContractID(traderID string, contractID int64) (*Contract, error) {
	row := s.db.QueryRow(`
		SELECT `+contractColumns+`
		FROM trader_contracts WHERE trader_id = ? AND contract_id = ?
	`, traderID, contractID)
	return scanContract(row)
}

// GetOpen gets a trader's not-yet-settled contracts, oldest first
func (s *ContractStore) GetOpen(traderID string) ([]*Contract, error) {
	rows, err := s.db.Query(`
		SELECT `+contractColumns+`
		FROM trader_contracts
		WHERE trader_id = ? AND status = 'OPEN'
		ORDER BY purchase_time ASC
	`, traderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query open contracts: %w", err)
	}
	defer rows.Close()

	return s.scanContracts(rows)
}

// GetOpenAll gets every not-yet-settled contract across traders (for the
// global settle sweep)
func (s *ContractStore) GetOpenAll() ([]*Contract, error) {
	rows, err := s.db.Query(`
		SELECT ` + contractColumns + `
		FROM trader_contracts
		WHERE status = 'OPEN'
		ORDER BY trader_id, purchase_time ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query open contracts: %w", err)
	}
	defer rows.Close()

	return s.scanContracts(rows)
}

// ListByTrader gets a trader's most recent contracts, newest first
func (s *ContractStore) ListByTrader(traderID string, limit int) ([]*Contract, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT `+contractColumns+`
		FROM trader_contracts
		WHERE trader_id = ?
		ORDER BY purchase_time DESC
		LIMIT ?
	`, traderID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query contracts: %w", err)
	}
	defer rows.Close()

	return s.scanContracts(rows)
}

// GetStats computes aggregate trade metrics from the settled contracts
func (s *ContractStore) GetStats(traderID string) (*TraderStats, error) {
	stats := &TraderStats{}

	rows, err := s.db.Query(`
		SELECT buy_price, sell_price, profit
		FROM trader_contracts
		WHERE trader_id = ? AND status != 'OPEN'
		ORDER BY settle_time ASC
	`, traderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query contract stats: %w", err)
	}
	defer rows.Close()

	var profits []float64
	var grossWin, grossLoss float64
	var winStreak, lossStreak int

	for rows.Next() {
		var buyPrice, sellPrice, profit float64
		if err := rows.Scan(&buyPrice, &sellPrice, &profit); err != nil {
			continue
		}

		stats.TotalTrades++
		stats.TotalStaked += buyPrice
		stats.TotalPayout += sellPrice
		stats.TotalProfit += profit
		profits = append(profits, profit)

		switch {
		case profit > 0:
			stats.Wins++
			grossWin += profit
			winStreak++
			lossStreak = 0
		case profit < 0:
			stats.Losses++
			grossLoss += math.Abs(profit)
			lossStreak++
			winStreak = 0
		default:
			// break-even sell interrupts both streaks
			winStreak = 0
			lossStreak = 0
		}

		if winStreak > stats.BestStreak {
			stats.BestStreak = winStreak
		}
		if lossStreak > stats.WorstStreak {
			stats.WorstStreak = lossStreak
		}
	}

	if stats.TotalTrades > 0 {
		stats.WinRate = float64(stats.Wins) / float64(stats.TotalTrades) * 100
		stats.AvgStake = stats.TotalStaked / float64(stats.TotalTrades)
	}
	if grossLoss > 0 {
		stats.ProfitFactor = grossWin / grossLoss
	}
	if len(profits) > 0 {
		stats.MaxDrawdown = calculateMaxDrawdown(profits)
	}

	return stats, nil
}

// calculateMaxDrawdown computes the worst peak-to-trough decline (%) on the
// cumulative profit curve
func calculateMaxDrawdown(profits []float64) float64 {
	if len(profits) == 0 {
		return 0
	}

	var cumulative float64
	var peak float64
	var maxDD float64

	for _, p := range profits {
		cumulative += p
		if cumulative > peak {
			peak = cumulative
		}
		if peak > 0 {
			dd := (peak - cumulative) / peak * 100
			if dd > maxDD {
				maxDD = dd
			}
		}
	}

	return maxDD
}

const contractColumns = `id, trader_id, user_id, contract_id, symbol, contract_type,
	stake, buy_price, payout, sell_price, profit, status,
	entry_spot, exit_spot, barrier, duration_ticks, reason,
	purchase_time, settle_time, created_at, updated_at`

func scanContract(row interface{ Scan(...interface{}) error }) (*Contract, error) {
	var c Contract
	var purchaseTime, settleTime, createdAt, updatedAt sql.NullString

	err := row.Scan(
		&c.ID, &c.TraderID, &c.UserID, &c.ContractID, &c.Symbol, &c.ContractType,
		&c.Stake, &c.BuyPrice, &c.Payout, &c.SellPrice, &c.Profit, &c.Status,
		&c.EntrySpot, &c.ExitSpot, &c.Barrier, &c.DurationTicks, &c.Reason,
		&purchaseTime, &settleTime, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if purchaseTime.Valid {
		c.PurchaseTime, _ = time.Parse(time.RFC3339, purchaseTime.String)
	}
	if settleTime.Valid {
		c.SettleTime, _ = time.Parse(time.RFC3339, settleTime.String)
	}
	if createdAt.Valid {
		c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt.String)
	}
	if updatedAt.Valid {
		c.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt.String)
	}

	return &c, nil
}

// scanContracts scans contract rows into structs
func (s *ContractStore) scanContracts(rows *sql.Rows) ([]*Contract, error) {
	var contracts []*Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			continue
		}
		contracts = append(contracts, c)
	}
	return contracts, nil
}
