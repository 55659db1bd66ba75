// Generates the RSA key pair and AES data key the service expects in its
// environment: RSA_PRIVATE_KEY for encrypted credential submission and
// DATA_ENCRYPTION_KEY for token storage at rest.
//
// Usage: go run ./scripts/generate_rsa_keys
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"dtrader/crypto"
)

func main() {
	keysDir := "keys"
	if err := os.MkdirAll(keysDir, 0700); err != nil {
		fmt.Printf("Failed to create keys directory: %v\n", err)
		return
	}

	privateKeyPath := filepath.Join(keysDir, "rsa_private.key")
	publicKeyPath := filepath.Join(keysDir, "rsa_private.key.pub")

	if _, err := os.Stat(privateKeyPath); err == nil {
		fmt.Println("RSA key pair already exists:")
		fmt.Printf("  private key: %s\n", privateKeyPath)
		fmt.Printf("  public key:  %s\n", publicKeyPath)

		if publicKeyPEM, err := os.ReadFile(publicKeyPath); err == nil {
			fmt.Println("\nPublic key:")
			fmt.Println(string(publicKeyPEM))
		}
		return
	}

	fmt.Println("Generating a new RSA key pair...")
	privateKeyPEM, publicKeyPEM, err := crypto.GenerateKeyPair()
	if err != nil {
		fmt.Printf("Failed to generate RSA key pair: %v\n", err)
		return
	}

	if err := os.WriteFile(privateKeyPath, []byte(privateKeyPEM), 0600); err != nil {
		fmt.Printf("Failed to save private key: %v\n", err)
		return
	}
	if err := os.WriteFile(publicKeyPath, []byte(publicKeyPEM), 0644); err != nil {
		fmt.Printf("Failed to save public key: %v\n", err)
		return
	}

	dataKey, err := crypto.GenerateDataKey()
	if err != nil {
		fmt.Printf("Failed to generate data key: %v\n", err)
		return
	}

	fmt.Println("✓ Keys generated!")
	fmt.Printf("  private key: %s\n", privateKeyPath)
	fmt.Printf("  public key:  %s\n", publicKeyPath)
	fmt.Println("\nAdd to your .env:")
	fmt.Printf("  %s=\"%s\"\n", crypto.EnvRSAPrivateKey, strings.ReplaceAll(privateKeyPEM, "\n", "\\n"))
	fmt.Printf("  %s=%s\n", crypto.EnvDataEncryptionKey, dataKey)
	fmt.Println("\nKeep the private key out of version control.")
}
