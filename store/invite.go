package store

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"dtrader/logger"
)

// InviteStore invite code storage for gated registration
type InviteStore struct {
	db *sql.DB
}

// InviteCode one registration invite
type InviteCode struct {
	Code      string    `json:"code"`
	Used      bool      `json:"used"`
	UsedBy    string    `json:"used_by,omitempty"`
	UsedAt    time.Time `json:"used_at,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *InviteStore) initTables() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS invite_codes (
			code TEXT PRIMARY KEY,
			used BOOLEAN DEFAULT 0,
			used_by TEXT DEFAULT '',
			used_at DATETIME DEFAULT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

// Generate creates n random invite codes and stores them
func (s *InviteStore) Generate(n int) ([]string, error) {
	if n <= 0 {
		return nil, fmt.Errorf("invite count must be positive, got %d", n)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO invite_codes (code) VALUES (?)`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	codes := make([]string, 0, n)
	for i := 0; i < n; i++ {
		buf := make([]byte, 8)
		if _, err := rand.Read(buf); err != nil {
			return nil, err
		}
		code := hex.EncodeToString(buf)
		if _, err := stmt.Exec(code); err != nil {
			return nil, fmt.Errorf("failed to insert invite code: %w", err)
		}
		codes = append(codes, code)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return codes, nil
}

// LoadFromFile loads invite codes from a file, one per line, # comments skipped
func (s *InviteStore) LoadFromFile(filePath string) error {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read invite code file: %w", err)
	}

	lines := strings.Split(string(content), "\n")
	var codes []string
	for _, line := range lines {
		code := strings.TrimSpace(line)
		if code != "" && !strings.HasPrefix(code, "#") {
			codes = append(codes, code)
		}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT OR IGNORE INTO invite_codes (code) VALUES (?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	insertedCount := 0
	for _, code := range codes {
		result, err := stmt.Exec(code)
		if err != nil {
			logger.Warnf("failed to insert invite code %s: %v", code, err)
			continue
		}
		if rowsAffected, _ := result.RowsAffected(); rowsAffected > 0 {
			insertedCount++
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	logger.Infof("✅ Loaded %d invite codes into database (%d in file)", insertedCount, len(codes))
	return nil
}

// Validate reports whether the code exists and is unused
func (s *InviteStore) Validate(code string) (bool, error) {
	var used bool
	err := s.db.QueryRow(`SELECT used FROM invite_codes WHERE code = ?`, code).Scan(&used)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	return !used, nil
}

// Consume marks an invite code as used by the given account
func (s *InviteStore) Consume(code, userEmail string) error {
	result, err := s.db.Exec(`
		UPDATE invite_codes SET used = 1, used_by = ?, used_at = CURRENT_TIMESTAMP
		WHERE code = ? AND used = 0
	`, userEmail, code)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return fmt.Errorf("invite code is invalid or already used")
	}
	return nil
}

// List gets all invite codes, newest first
func (s *InviteStore) List() ([]*InviteCode, error) {
	rows, err := s.db.Query(`
		SELECT code, used, COALESCE(used_by, ''), used_at, created_at
		FROM invite_codes ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var codes []*InviteCode
	for rows.Next() {
		var c InviteCode
		var usedAt sql.NullString
		var createdAt string
		if err := rows.Scan(&c.Code, &c.Used, &c.UsedBy, &usedAt, &createdAt); err != nil {
			return nil, err
		}
		if usedAt.Valid {
			c.UsedAt, _ = time.Parse("2006-01-02 15:04:05", usedAt.String)
		}
		c.CreatedAt, _ = time.Parse("2006-01-02 15:04:05", createdAt)
		codes = append(codes, &c)
	}
	return codes, nil
}

// GetStats gets invite code usage counts
func (s *InviteStore) GetStats() (total, used int, err error) {
	err = s.db.QueryRow(`SELECT COUNT(*) FROM invite_codes`).Scan(&total)
	if err != nil {
		return 0, 0, err
	}
	err = s.db.QueryRow(`SELECT COUNT(*) FROM invite_codes WHERE used = 1`).Scan(&used)
	if err != nil {
		return 0, 0, err
	}
	return total, used, nil
}
