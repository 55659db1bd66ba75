package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"dtrader/logger"
)

// AccountStore broker account storage
type AccountStore struct {
	db          *sql.DB
	encryptFunc func(string) string
	decryptFunc func(string) string
}

// DerivAccount a stored broker account: the API token plus the app it
// belongs to. The token column is encrypted at rest.
type DerivAccount struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	AppID     string    `json:"app_id"`
	Token     string    `json:"-"`
	Currency  string    `json:"currency"`
	IsVirtual bool      `json:"is_virtual"`
	IsDefault bool      `json:"is_default"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s *AccountStore) encrypt(value string) string {
	if s.encryptFunc != nil && value != "" {
		return s.encryptFunc(value)
	}
	return value
}

func (s *AccountStore) decrypt(value string) string {
	if s.decryptFunc != nil && value != "" {
		return s.decryptFunc(value)
	}
	return value
}

func (s *AccountStore) initTables() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS deriv_accounts (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL DEFAULT 'default',
			name TEXT NOT NULL,
			app_id TEXT NOT NULL DEFAULT '',
			token TEXT NOT NULL DEFAULT '',
			currency TEXT DEFAULT 'USD',
			is_virtual BOOLEAN DEFAULT 0,
			is_default BOOLEAN DEFAULT 0,
			enabled BOOLEAN DEFAULT 1,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return err
	}

	_, _ = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_deriv_accounts_user ON deriv_accounts(user_id)`)

	// Trigger
	_, err = s.db.Exec(`
		CREATE TRIGGER IF NOT EXISTS update_deriv_accounts_updated_at
		AFTER UPDATE ON deriv_accounts
		BEGIN
			UPDATE deriv_accounts SET updated_at = CURRENT_TIMESTAMP WHERE id = NEW.id;
		END
	`)
	return err
}

// List gets user's broker accounts with tokens decrypted
func (s *AccountStore) List(userID string) ([]*DerivAccount, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, name, COALESCE(app_id, ''), COALESCE(token, ''),
		       COALESCE(currency, 'USD'), COALESCE(is_virtual, 0), COALESCE(is_default, 0),
		       COALESCE(enabled, 1), created_at, updated_at
		FROM deriv_accounts WHERE user_id = ? ORDER BY created_at ASC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []*DerivAccount
	for rows.Next() {
		var a DerivAccount
		var createdAt, updatedAt string
		err := rows.Scan(
			&a.ID, &a.UserID, &a.Name, &a.AppID, &a.Token,
			&a.Currency, &a.IsVirtual, &a.IsDefault, &a.Enabled,
			&createdAt, &updatedAt,
		)
		if err != nil {
			return nil, err
		}
		a.Token = s.decrypt(a.Token)
		a.CreatedAt, _ = time.Parse("2006-01-02 15:04:05", createdAt)
		a.UpdatedAt, _ = time.Parse("2006-01-02 15:04:05", updatedAt)
		accounts = append(accounts, &a)
	}
	return accounts, nil
}

// GetByID gets one broker account with the token decrypted
func (s *AccountStore) GetByID(userID, id string) (*DerivAccount, error) {
	var a DerivAccount
	var createdAt, updatedAt string
	err := s.db.QueryRow(`
		SELECT id, user_id, name, COALESCE(app_id, ''), COALESCE(token, ''),
		       COALESCE(currency, 'USD'), COALESCE(is_virtual, 0), COALESCE(is_default, 0),
		       COALESCE(enabled, 1), created_at, updated_at
		FROM deriv_accounts WHERE id = ? AND user_id = ?
	`, id, userID).Scan(
		&a.ID, &a.UserID, &a.Name, &a.AppID, &a.Token,
		&a.Currency, &a.IsVirtual, &a.IsDefault, &a.Enabled,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Token = s.decrypt(a.Token)
	a.CreatedAt, _ = time.Parse("2006-01-02 15:04:05", createdAt)
	a.UpdatedAt, _ = time.Parse("2006-01-02 15:04:05", updatedAt)
	return &a, nil
}

// Create creates a broker account, encrypting the token
func (s *AccountStore) Create(account *DerivAccount) error {
	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	if account.Name == "" {
		account.Name = "Default"
	}

	_, err := s.db.Exec(`
		INSERT INTO deriv_accounts (id, user_id, name, app_id, token, currency,
		                            is_virtual, is_default, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, datetime('now'), datetime('now'))
	`, account.ID, account.UserID, account.Name, account.AppID,
		s.encrypt(account.Token), account.Currency,
		account.IsVirtual, account.IsDefault, account.Enabled)
	return err
}

// Update updates a broker account. An empty token keeps the stored one so
// clients can edit the name or app id without re-entering the secret.
func (s *AccountStore) Update(account *DerivAccount) error {
	setClauses := []string{
		"name = ?", "app_id = ?", "currency = ?",
		"is_virtual = ?", "enabled = ?",
	}
	args := []interface{}{
		account.Name, account.AppID, account.Currency,
		account.IsVirtual, account.Enabled,
	}

	if account.Token != "" {
		setClauses = append(setClauses, "token = ?")
		args = append(args, s.encrypt(account.Token))
	}

	args = append(args, account.ID, account.UserID)
	query := fmt.Sprintf(`UPDATE deriv_accounts SET %s WHERE id = ? AND user_id = ?`,
		strings.Join(setClauses, ", "))

	result, err := s.db.Exec(query, args...)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return fmt.Errorf("account not found: %s", account.ID)
	}
	return nil
}

// SetDefault marks one account as the user's default
func (s *AccountStore) SetDefault(userID, id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`UPDATE deriv_accounts SET is_default = 0 WHERE user_id = ?`, userID); err != nil {
		return err
	}

	result, err := tx.Exec(`UPDATE deriv_accounts SET is_default = 1 WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return err
	}
	if rowsAffected, _ := result.RowsAffected(); rowsAffected == 0 {
		return fmt.Errorf("account not found: %s", id)
	}

	return tx.Commit()
}

// GetDefault gets the user's default account, falling back to the oldest one
func (s *AccountStore) GetDefault(userID string) (*DerivAccount, error) {
	var id string
	err := s.db.QueryRow(`
		SELECT id FROM deriv_accounts
		WHERE user_id = ? ORDER BY is_default DESC, created_at ASC LIMIT 1
	`, userID).Scan(&id)
	if err != nil {
		return nil, err
	}
	return s.GetByID(userID, id)
}

// Delete deletes a broker account
func (s *AccountStore) Delete(userID, id string) error {
	result, err := s.db.Exec(`DELETE FROM deriv_accounts WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return err
	}
	if rowsAffected, _ := result.RowsAffected(); rowsAffected == 0 {
		return fmt.Errorf("account not found: %s", id)
	}
	logger.Infof("🗑️  Deleted broker account %s (user %s)", id, userID)
	return nil
}
