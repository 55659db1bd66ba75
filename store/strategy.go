package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"dtrader/kernel"
)

// StrategyStore strategy preset storage
type StrategyStore struct {
	db *sql.DB
}

// StrategyRecord a saved strategy preset: a registry strategy name plus its
// JSON-encoded parameters, staking plan and risk limits
type StrategyRecord struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	IsActive    bool      `json:"is_active"`  // a user can have at most one active preset
	IsDefault   bool      `json:"is_default"` // shipped with the system, read-only
	Config      string    `json:"config"`     // PresetConfig as JSON
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// PresetConfig the JSON document stored in the config column
type PresetConfig struct {
	// registry strategy name (risefall, digitover, autooverunder, ...)
	Strategy string `json:"strategy"`
	// strategy parameters, opaque to the store
	Params json.RawMessage `json:"params,omitempty"`
	// staking ladder
	Staking kernel.StakingPlan `json:"staking"`
	// session stop conditions
	Risk RiskConfig `json:"risk"`
}

// RiskConfig bounds a session independently of the staking ladder
type RiskConfig struct {
	StopLoss             float64 `json:"stop_loss"`              // halt when session loss reaches this
	TakeProfit           float64 `json:"take_profit"`            // halt when session profit reaches this
	MaxConsecutiveLosses int     `json:"max_consecutive_losses"` // 0 = ladder cap only
	PauseBetweenTrades   int     `json:"pause_between_trades"`   // seconds between settle and next buy
}

func (s *StrategyStore) initTables() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS strategies (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL,
			description TEXT DEFAULT '',
			is_active BOOLEAN DEFAULT 0,
			is_default BOOLEAN DEFAULT 0,
			config TEXT NOT NULL DEFAULT '{}',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return err
	}

	// create indexes
	_, _ = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_strategies_user_id ON strategies(user_id)`)
	_, _ = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_strategies_is_active ON strategies(is_active)`)

	// trigger: automatically update updated_at on update
	_, err = s.db.Exec(`
		CREATE TRIGGER IF NOT EXISTS update_strategies_updated_at
		AFTER UPDATE ON strategies
		BEGIN
			UPDATE strategies SET updated_at = CURRENT_TIMESTAMP WHERE id = NEW.id;
		END
	`)

	return err
}

// EnsureDefaults seeds the built-in presets. Re-running is a no-op; users
// customize by duplicating a default, never by editing it.
func (s *StrategyStore) EnsureDefaults() error {
	for _, preset := range defaultPresets() {
		_, err := s.db.Exec(`
			INSERT OR IGNORE INTO strategies (id, user_id, name, description, is_active, is_default, config)
			VALUES (?, '', ?, ?, 0, 1, ?)
		`, preset.ID, preset.Name, preset.Description, preset.Config)
		if err != nil {
			return fmt.Errorf("failed to seed preset %s: %w", preset.ID, err)
		}
	}
	return nil
}

func defaultPresets() []*StrategyRecord {
	mustConfig := func(cfg PresetConfig) string {
		data, err := json.Marshal(cfg)
		if err != nil {
			panic(err) // static configs, cannot fail
		}
		return string(data)
	}
	rawParams := func(v interface{}) json.RawMessage {
		data, _ := json.Marshal(v)
		return data
	}

	flat := kernel.StakingPlan{Mode: kernel.ModeFlat, BaseStake: 1}
	martingale := kernel.StakingPlan{
		Mode:       kernel.ModeMartingale,
		BaseStake:  0.35,
		Multiplier: 2.15,
		MaxSteps:   8,
		OnCap:      kernel.OnCapStop,
	}
	conservativeRisk := RiskConfig{StopLoss: 50, TakeProfit: 25, PauseBetweenTrades: 1}

	return []*StrategyRecord{
		{
			ID:          "default-risefall",
			Name:        "Rise/Fall — Flat",
			Description: "Fixed-direction rise contracts with a flat stake.",
			Config: mustConfig(PresetConfig{
				Strategy: "risefall",
				Params:   rawParams(map[string]interface{}{"contract_type": "CALL", "duration_ticks": 5}),
				Staking:  flat,
				Risk:     conservativeRisk,
			}),
		},
		{
			ID:          "default-digitover",
			Name:        "Digit Over — Martingale",
			Description: "Digit over 4, one tick, martingale recovery ladder.",
			Config: mustConfig(PresetConfig{
				Strategy: "digitover",
				Params:   rawParams(map[string]interface{}{"prediction": 4, "duration_ticks": 1}),
				Staking:  martingale,
				Risk:     conservativeRisk,
			}),
		},
		{
			ID:          "default-autooverunder",
			Name:        "Hub Over/Under",
			Description: "Trades digit over/under when one side dominates the window.",
			Config: mustConfig(PresetConfig{
				Strategy: "autooverunder",
				Params:   rawParams(map[string]interface{}{"window": 120, "threshold": 60}),
				Staking:  martingale,
				Risk:     conservativeRisk,
			}),
		},
		{
			ID:          "default-autoevenodd",
			Name:        "Hub Even/Odd",
			Description: "Trades digit parity on dominance plus a 3-digit streak.",
			Config: mustConfig(PresetConfig{
				Strategy: "autoevenodd",
				Params:   rawParams(map[string]interface{}{"window": 120, "threshold": 60}),
				Staking:  martingale,
				Risk:     conservativeRisk,
			}),
		},
		{
			ID:          "default-autotrend",
			Name:        "Hub Trend",
			Description: "Rise/fall from tick momentum over a short window.",
			Config: mustConfig(PresetConfig{
				Strategy: "autotrend",
				Params:   rawParams(map[string]interface{}{"window": 60, "threshold": 40, "duration_ticks": 5}),
				Staking:  flat,
				Risk:     conservativeRisk,
			}),
		},
	}
}

// Create create a preset
func (s *StrategyStore) Create(rec *StrategyRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO strategies (id, user_id, name, description, is_active, is_default, config)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.UserID, rec.Name, rec.Description, rec.IsActive, rec.IsDefault, rec.Config)
	return err
}

// Update update a preset
func (s *StrategyStore) Update(rec *StrategyRecord) error {
	_, err := s.db.Exec(`
		UPDATE strategies SET
			name = ?, description = ?, config = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND user_id = ?
	`, rec.Name, rec.Description, rec.Config, rec.ID, rec.UserID)
	return err
}

// Delete delete a preset
func (s *StrategyStore) Delete(userID, id string) error {
	// do not allow deleting the shipped presets
	var isDefault bool
	s.db.QueryRow(`SELECT is_default FROM strategies WHERE id = ?`, id).Scan(&isDefault)
	if isDefault {
		return fmt.Errorf("cannot delete a built-in preset")
	}

	_, err := s.db.Exec(`DELETE FROM strategies WHERE id = ? AND user_id = ?`, id, userID)
	return err
}

// List get user's presets plus the built-ins
func (s *StrategyStore) List(userID string) ([]*StrategyRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, name, description, is_active, is_default, config, created_at, updated_at
		FROM strategies
		WHERE user_id = ? OR is_default = 1
		ORDER BY is_default DESC, created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*StrategyRecord
	for rows.Next() {
		var rec StrategyRecord
		var createdAt, updatedAt string
		err := rows.Scan(
			&rec.ID, &rec.UserID, &rec.Name, &rec.Description,
			&rec.IsActive, &rec.IsDefault, &rec.Config,
			&createdAt, &updatedAt,
		)
		if err != nil {
			return nil, err
		}
		rec.CreatedAt, _ = time.Parse("2006-01-02 15:04:05", createdAt)
		rec.UpdatedAt, _ = time.Parse("2006-01-02 15:04:05", updatedAt)
		records = append(records, &rec)
	}
	return records, nil
}

// Get get a single preset
func (s *StrategyStore) Get(userID, id string) (*StrategyRecord, error) {
	var rec StrategyRecord
	var createdAt, updatedAt string
	err := s.db.QueryRow(`
		SELECT id, user_id, name, description, is_active, is_default, config, created_at, updated_at
		FROM strategies
		WHERE id = ? AND (user_id = ? OR is_default = 1)
	`, id, userID).Scan(
		&rec.ID, &rec.UserID, &rec.Name, &rec.Description,
		&rec.IsActive, &rec.IsDefault, &rec.Config,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.CreatedAt, _ = time.Parse("2006-01-02 15:04:05", createdAt)
	rec.UpdatedAt, _ = time.Parse("2006-01-02 15:04:05", updatedAt)
	return &rec, nil
}

// GetActive get the user's currently active preset, falling back to the
// first built-in
func (s *StrategyStore) GetActive(userID string) (*StrategyRecord, error) {
	var rec StrategyRecord
	var createdAt, updatedAt string
	err := s.db.QueryRow(`
		SELECT id, user_id, name, description, is_active, is_default, config, created_at, updated_at
		FROM strategies
		WHERE user_id = ? AND is_active = 1
	`, userID).Scan(
		&rec.ID, &rec.UserID, &rec.Name, &rec.Description,
		&rec.IsActive, &rec.IsDefault, &rec.Config,
		&createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return s.GetDefault()
	}
	if err != nil {
		return nil, err
	}
	rec.CreatedAt, _ = time.Parse("2006-01-02 15:04:05", createdAt)
	rec.UpdatedAt, _ = time.Parse("2006-01-02 15:04:05", updatedAt)
	return &rec, nil
}

// GetDefault get the first built-in preset
func (s *StrategyStore) GetDefault() (*StrategyRecord, error) {
	var rec StrategyRecord
	var createdAt, updatedAt string
	err := s.db.QueryRow(`
		SELECT id, user_id, name, description, is_active, is_default, config, created_at, updated_at
		FROM strategies
		WHERE is_default = 1
		ORDER BY id LIMIT 1
	`).Scan(
		&rec.ID, &rec.UserID, &rec.Name, &rec.Description,
		&rec.IsActive, &rec.IsDefault, &rec.Config,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.CreatedAt, _ = time.Parse("2006-01-02 15:04:05", createdAt)
	rec.UpdatedAt, _ = time.Parse("2006-01-02 15:04:05", updatedAt)
	return &rec, nil
}

// SetActive set the active preset (deactivates the user's others first)
func (s *StrategyStore) SetActive(userID, presetID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`UPDATE strategies SET is_active = 0 WHERE user_id = ?`, userID)
	if err != nil {
		return err
	}

	result, err := tx.Exec(`UPDATE strategies SET is_active = 1 WHERE id = ? AND (user_id = ? OR is_default = 1)`, presetID, userID)
	if err != nil {
		return err
	}
	if rowsAffected, _ := result.RowsAffected(); rowsAffected == 0 {
		return fmt.Errorf("preset not found: %s", presetID)
	}

	return tx.Commit()
}

// Duplicate copy a preset (used to customize a built-in)
func (s *StrategyStore) Duplicate(userID, sourceID, newID, newName string) error {
	source, err := s.Get(userID, sourceID)
	if err != nil {
		return fmt.Errorf("failed to get source preset: %w", err)
	}

	return s.Create(&StrategyRecord{
		ID:          newID,
		UserID:      userID,
		Name:        newName,
		Description: "Created based on [" + source.Name + "]",
		IsActive:    false,
		IsDefault:   false,
		Config:      source.Config,
	})
}

// ParseConfig parse the preset configuration JSON
func (r *StrategyRecord) ParseConfig() (*PresetConfig, error) {
	var config PresetConfig
	if err := json.Unmarshal([]byte(r.Config), &config); err != nil {
		return nil, fmt.Errorf("failed to parse preset configuration: %w", err)
	}
	return &config, nil
}

// SetConfig set the preset configuration
func (r *StrategyRecord) SetConfig(config *PresetConfig) error {
	data, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to serialize preset configuration: %w", err)
	}
	r.Config = string(data)
	return nil
}
