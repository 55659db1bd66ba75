package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"dtrader/crypto"
)

// CryptoHandler serves the RSA public key and unwraps encrypted credential
// payloads so API tokens never travel in cleartext.
type CryptoHandler struct {
	service *crypto.CryptoService
}

func NewCryptoHandler(service *crypto.CryptoService) *CryptoHandler {
	return &CryptoHandler{service: service}
}

// HandleGetPublicKey returns the PEM public key the frontend encrypts
// sensitive fields against.
func (h *CryptoHandler) HandleGetPublicKey(c *gin.Context) {
	if h.service == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Encryption service not available"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"public_key": h.service.GetPublicKeyPEM(),
		"algorithm":  "RSA-OAEP-256 + AES-256-GCM",
	})
}

// DecryptToken unwraps an encrypted API token payload. Returns the plaintext
// token string.
func (h *CryptoHandler) DecryptToken(payload *crypto.EncryptedPayload) (string, error) {
	return h.service.DecryptSensitiveData(payload)
}

// Available reports whether the server holds a private key, i.e. whether
// encrypted submission is supported at all.
func (h *CryptoHandler) Available() bool {
	return h.service != nil
}
