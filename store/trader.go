package store

import (
	"database/sql"
	"time"
)

// TraderStore trader storage
type TraderStore struct {
	db          *sql.DB
	decryptFunc func(string) string
}

// Trader trader configuration: one symbol, one strategy, one staking plan,
// bound to a broker account. Strategy parameters and the staking plan are
// stored as JSON columns so the engine layer owns their shapes.
type Trader struct {
	ID             string `json:"id"`
	UserID         string `json:"user_id"`
	Name           string `json:"name"`
	AccountID      string `json:"account_id"`
	StrategyID     string `json:"strategy_id,omitempty"` // preset this trader was created from
	Symbol         string `json:"symbol"`
	StrategyName   string `json:"strategy_name"`
	StrategyParams string `json:"strategy_params"` // JSON strategy params
	Staking        string `json:"staking"`         // JSON staking plan

	// Session stop conditions
	StopLoss             float64 `json:"stop_loss"`
	TakeProfit           float64 `json:"take_profit"`
	MaxConsecutiveLosses int     `json:"max_consecutive_losses"`
	PauseBetweenTrades   int     `json:"pause_between_trades"` // seconds between settle and next buy

	IsRunning bool      `json:"is_running"`
	LastError string    `json:"last_error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TraderFullConfig trader full configuration (includes broker account and preset)
type TraderFullConfig struct {
	Trader   *Trader
	Account  *DerivAccount
	Strategy *StrategyRecord // preset the trader references, nil when inline-only
}

func (s *TraderStore) initTables() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS traders (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL DEFAULT 'default',
			name TEXT NOT NULL,
			account_id TEXT NOT NULL,
			strategy_id TEXT DEFAULT '',
			symbol TEXT NOT NULL,
			strategy_name TEXT NOT NULL,
			strategy_params TEXT DEFAULT '{}',
			staking TEXT DEFAULT '{}',
			stop_loss REAL DEFAULT 0,
			take_profit REAL DEFAULT 0,
			max_consecutive_losses INTEGER DEFAULT 0,
			pause_between_trades INTEGER DEFAULT 1,
			is_running BOOLEAN DEFAULT 0,
			last_error TEXT DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return err
	}

	// Trigger
	_, err = s.db.Exec(`
		CREATE TRIGGER IF NOT EXISTS update_traders_updated_at
		AFTER UPDATE ON traders
		BEGIN
			UPDATE traders SET updated_at = CURRENT_TIMESTAMP WHERE id = NEW.id;
		END
	`)
	return err
}

func (s *TraderStore) decrypt(encrypted string) string {
	if s.decryptFunc != nil {
		return s.decryptFunc(encrypted)
	}
	return encrypted
}

const traderColumns = `id, user_id, name, account_id, COALESCE(strategy_id, ''),
	symbol, strategy_name, COALESCE(strategy_params, '{}'), COALESCE(staking, '{}'),
	COALESCE(stop_loss, 0), COALESCE(take_profit, 0), COALESCE(max_consecutive_losses, 0),
	COALESCE(pause_between_trades, 1), is_running, COALESCE(last_error, ''),
	created_at, updated_at`

func scanTrader(row interface{ Scan(...interface{}) error }) (*Trader, error) {
	var t Trader
	var createdAt, updatedAt string
	err := row.Scan(
		&t.ID, &t.UserID, &t.Name, &t.AccountID, &t.StrategyID,
		&t.Symbol, &t.StrategyName, &t.StrategyParams, &t.Staking,
		&t.StopLoss, &t.TakeProfit, &t.MaxConsecutiveLosses,
		&t.PauseBetweenTrades, &t.IsRunning, &t.LastError,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.CreatedAt, _ = time.Parse("2006-01-02 15:04:05", createdAt)
	t.UpdatedAt, _ = time.Parse("2006-01-02 15:04:05", updatedAt)
	return &t, nil
}

// Create creates trader
func (s *TraderStore) Create(trader *Trader) error {
	_, err := s.db.Exec(`
		INSERT INTO traders (id, user_id, name, account_id, strategy_id, symbol,
		                     strategy_name, strategy_params, staking,
		                     stop_loss, take_profit, max_consecutive_losses,
		                     pause_between_trades, is_running, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, trader.ID, trader.UserID, trader.Name, trader.AccountID, trader.StrategyID,
		trader.Symbol, trader.StrategyName, trader.StrategyParams, trader.Staking,
		trader.StopLoss, trader.TakeProfit, trader.MaxConsecutiveLosses,
		trader.PauseBetweenTrades, trader.IsRunning, trader.LastError)
	return err
}

// List gets user's trader list
func (s *TraderStore) List(userID string) ([]*Trader, error) {
	rows, err := s.db.Query(`
		SELECT `+traderColumns+`
		FROM traders WHERE user_id = ? ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var traders []*Trader
	for rows.Next() {
		t, err := scanTrader(rows)
		if err != nil {
			return nil, err
		}
		traders = append(traders, t)
	}
	return traders, nil
}

// ListAll gets all users' trader list
func (s *TraderStore) ListAll() ([]*Trader, error) {
	rows, err := s.db.Query(`
		SELECT ` + traderColumns + `
		FROM traders ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var traders []*Trader
	for rows.Next() {
		t, err := scanTrader(rows)
		if err != nil {
			return nil, err
		}
		traders = append(traders, t)
	}
	return traders, nil
}

// GetByID gets a trader by ID without requiring userID (for internal use)
func (s *TraderStore) GetByID(traderID string) (*Trader, error) {
	row := s.db.QueryRow(`
		SELECT `+traderColumns+`
		FROM traders WHERE id = ?
	`, traderID)
	return scanTrader(row)
}

// Get gets a trader scoped to its owner
func (s *TraderStore) Get(userID, traderID string) (*Trader, error) {
	row := s.db.QueryRow(`
		SELECT `+traderColumns+`
		FROM traders WHERE id = ? AND user_id = ?
	`, traderID, userID)
	return scanTrader(row)
}

// UpdateStatus updates trader running status
func (s *TraderStore) UpdateStatus(userID, id string, isRunning bool) error {
	_, err := s.db.Exec(`UPDATE traders SET is_running = ? WHERE id = ? AND user_id = ?`, isRunning, id, userID)
	return err
}

// SetLastError records why a trader stopped; empty clears it
func (s *TraderStore) SetLastError(id, message string) error {
	_, err := s.db.Exec(`UPDATE traders SET last_error = ? WHERE id = ?`, message, id)
	return err
}

// Update updates trader configuration
func (s *TraderStore) Update(trader *Trader) error {
	_, err := s.db.Exec(`
		UPDATE traders SET
			name = ?, account_id = ?, strategy_id = ?, symbol = ?,
			strategy_name = ?, strategy_params = ?, staking = ?,
			stop_loss = ?, take_profit = ?, max_consecutive_losses = ?,
			pause_between_trades = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND user_id = ?
	`, trader.Name, trader.AccountID, trader.StrategyID, trader.Symbol,
		trader.StrategyName, trader.StrategyParams, trader.Staking,
		trader.StopLoss, trader.TakeProfit, trader.MaxConsecutiveLosses,
		trader.PauseBetweenTrades, trader.ID, trader.UserID)
	return err
}

// Delete deletes trader and associated data
func (s *TraderStore) Delete(userID, id string) error {
	// Delete associated session snapshots first
	_, _ = s.db.Exec(`DELETE FROM trader_session_snapshots WHERE trader_id = ?`, id)

	// Delete the trader
	_, err := s.db.Exec(`DELETE FROM traders WHERE id = ? AND user_id = ?`, id, userID)
	return err
}

// GetFullConfig gets trader full configuration with the account token decrypted
func (s *TraderStore) GetFullConfig(userID, traderID string) (*TraderFullConfig, error) {
	var trader Trader
	var account DerivAccount
	var traderCreatedAt, traderUpdatedAt string
	var accountCreatedAt, accountUpdatedAt string

	err := s.db.QueryRow(`
		SELECT
			t.id, t.user_id, t.name, t.account_id, COALESCE(t.strategy_id, ''),
			t.symbol, t.strategy_name, COALESCE(t.strategy_params, '{}'), COALESCE(t.staking, '{}'),
			COALESCE(t.stop_loss, 0), COALESCE(t.take_profit, 0), COALESCE(t.max_consecutive_losses, 0),
			COALESCE(t.pause_between_trades, 1), t.is_running, COALESCE(t.last_error, ''),
			t.created_at, t.updated_at,
			a.id, a.user_id, a.name, COALESCE(a.app_id, ''), COALESCE(a.token, ''),
			COALESCE(a.currency, 'USD'), COALESCE(a.is_virtual, 0), COALESCE(a.is_default, 0),
			COALESCE(a.enabled, 1), a.created_at, a.updated_at
		FROM traders t
		JOIN deriv_accounts a ON t.account_id = a.id AND t.user_id = a.user_id
		WHERE t.id = ? AND t.user_id = ?
	`, traderID, userID).Scan(
		&trader.ID, &trader.UserID, &trader.Name, &trader.AccountID, &trader.StrategyID,
		&trader.Symbol, &trader.StrategyName, &trader.StrategyParams, &trader.Staking,
		&trader.StopLoss, &trader.TakeProfit, &trader.MaxConsecutiveLosses,
		&trader.PauseBetweenTrades, &trader.IsRunning, &trader.LastError,
		&traderCreatedAt, &traderUpdatedAt,
		&account.ID, &account.UserID, &account.Name, &account.AppID, &account.Token,
		&account.Currency, &account.IsVirtual, &account.IsDefault,
		&account.Enabled, &accountCreatedAt, &accountUpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	trader.CreatedAt, _ = time.Parse("2006-01-02 15:04:05", traderCreatedAt)
	trader.UpdatedAt, _ = time.Parse("2006-01-02 15:04:05", traderUpdatedAt)
	account.CreatedAt, _ = time.Parse("2006-01-02 15:04:05", accountCreatedAt)
	account.UpdatedAt, _ = time.Parse("2006-01-02 15:04:05", accountUpdatedAt)

	// Decrypt
	account.Token = s.decrypt(account.Token)

	// Load the referenced preset; fall back to the user's active one. The
	// inline columns stay authoritative, the preset fills in blanks.
	var preset *StrategyRecord
	if trader.StrategyID != "" {
		preset, _ = s.getPresetByID(userID, trader.StrategyID)
	}
	if preset == nil {
		preset, _ = s.getActivePreset(userID)
	}

	return &TraderFullConfig{
		Trader:   &trader,
		Account:  &account,
		Strategy: preset,
	}, nil
}

// getPresetByID internal method: gets preset by ID
func (s *TraderStore) getPresetByID(userID, presetID string) (*StrategyRecord, error) {
	var rec StrategyRecord
	var createdAt, updatedAt string
	err := s.db.QueryRow(`
		SELECT id, user_id, name, description, is_active, is_default, config, created_at, updated_at
		FROM strategies WHERE id = ? AND (user_id = ? OR is_default = 1)
	`, presetID, userID).Scan(
		&rec.ID, &rec.UserID, &rec.Name, &rec.Description,
		&rec.IsActive, &rec.IsDefault, &rec.Config, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.CreatedAt, _ = time.Parse("2006-01-02 15:04:05", createdAt)
	rec.UpdatedAt, _ = time.Parse("2006-01-02 15:04:05", updatedAt)
	return &rec, nil
}

// getActivePreset internal method: gets the user's active preset
func (s *TraderStore) getActivePreset(userID string) (*StrategyRecord, error) {
	var rec StrategyRecord
	var createdAt, updatedAt string
	err := s.db.QueryRow(`
		SELECT id, user_id, name, description, is_active, is_default, config, created_at, updated_at
		FROM strategies WHERE user_id = ? AND is_active = 1
	`, userID).Scan(
		&rec.ID, &rec.UserID, &rec.Name, &rec.Description,
		&rec.IsActive, &rec.IsDefault, &rec.Config, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.CreatedAt, _ = time.Parse("2006-01-02 15:04:05", createdAt)
	rec.UpdatedAt, _ = time.Parse("2006-01-02 15:04:05", updatedAt)
	return &rec, nil
}
