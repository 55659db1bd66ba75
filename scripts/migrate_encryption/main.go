// Migrates a database with plaintext broker tokens to the encrypted storage
// format. Safe to re-run: already-encrypted values are left untouched.
//
// Usage: go run ./scripts/migrate_encryption [db-path]
package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"

	"dtrader/crypto"

	_ "modernc.org/sqlite"
)

func main() {
	log.Println("🔄 Migrating database to encrypted token storage...")

	dbPath := "dtrader.db"
	if len(os.Args) > 1 {
		dbPath = os.Args[1]
	}

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		log.Fatalf("❌ Database file does not exist: %s", dbPath)
	}

	// Full-file backup before touching anything
	backupPath := fmt.Sprintf("%s.pre_encryption_backup", dbPath)
	log.Printf("📦 Backing up database to: %s", backupPath)
	input, err := os.ReadFile(dbPath)
	if err != nil {
		log.Fatalf("❌ Failed to read database: %v", err)
	}
	if err := os.WriteFile(backupPath, input, 0600); err != nil {
		log.Fatalf("❌ Backup failed: %v", err)
	}

	cryptoService, err := crypto.NewCryptoService()
	if err != nil {
		log.Fatalf("❌ Failed to initialize encryption service: %v (set DATA_ENCRYPTION_KEY and RSA_PRIVATE_KEY first)", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		log.Fatalf("❌ Failed to open database: %v", err)
	}
	defer db.Close()

	rows, err := db.Query(`SELECT id, token FROM deriv_accounts WHERE token != ''`)
	if err != nil {
		log.Fatalf("❌ Failed to query accounts: %v", err)
	}

	type pending struct{ id, token string }
	var work []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.id, &p.token); err != nil {
			log.Fatalf("❌ Scan failed: %v", err)
		}
		if cryptoService.IsEncryptedStorageValue(p.token) {
			continue
		}
		work = append(work, p)
	}
	rows.Close()

	if len(work) == 0 {
		log.Println("✅ Nothing to migrate, all tokens already encrypted")
		return
	}

	migrated := 0
	for _, p := range work {
		encrypted, err := cryptoService.EncryptForStorage(p.token)
		if err != nil {
			log.Printf("⚠️ Failed to encrypt token for account %s: %v", p.id, err)
			continue
		}
		if _, err := db.Exec(`UPDATE deriv_accounts SET token = ? WHERE id = ?`, encrypted, p.id); err != nil {
			log.Printf("⚠️ Failed to update account %s: %v", p.id, err)
			continue
		}
		migrated++
	}

	log.Printf("✅ Migration complete: %d/%d token(s) encrypted", migrated, len(work))
	log.Printf("💡 Backup kept at %s, delete it once you verified the service starts", backupPath)
}
