package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"dtrader/crypto"
	"dtrader/store"
	"dtrader/trader"
)

// accountView is the wire shape for a broker account. The raw token never
// leaves the server; only a masked suffix does.
type accountView struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	AppID       string `json:"app_id"`
	TokenMasked string `json:"token_masked"`
	Currency    string `json:"currency"`
	IsVirtual   bool   `json:"is_virtual"`
	IsDefault   bool   `json:"is_default"`
	Enabled     bool   `json:"enabled"`
	CreatedAt   string `json:"created_at"`
}

func maskToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 4 {
		return "****"
	}
	return "****" + token[len(token)-4:]
}

func toAccountView(a *store.DerivAccount) accountView {
	return accountView{
		ID:          a.ID,
		Name:        a.Name,
		AppID:       a.AppID,
		TokenMasked: maskToken(a.Token),
		Currency:    a.Currency,
		IsVirtual:   a.IsVirtual,
		IsDefault:   a.IsDefault,
		Enabled:     a.Enabled,
		CreatedAt:   a.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// handleListAccounts List current user's broker accounts
func (s *Server) handleListAccounts(c *gin.Context) {
	userID := c.GetString("user_id")

	accounts, err := s.store.Account().List(userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	views := make([]accountView, 0, len(accounts))
	for _, a := range accounts {
		views = append(views, toAccountView(a))
	}
	c.JSON(http.StatusOK, gin.H{"accounts": views, "count": len(views)})
}

// handleCreateAccount Register a broker account. The token arrives either
// encrypted (preferred) or as plaintext over TLS.
func (s *Server) handleCreateAccount(c *gin.Context) {
	userID := c.GetString("user_id")

	var req struct {
		Name           string                   `json:"name" binding:"required"`
		AppID          string                   `json:"app_id"`
		Token          string                   `json:"token"`
		EncryptedToken *crypto.EncryptedPayload `json:"encrypted_token"`
		Currency       string                   `json:"currency"`
		IsVirtual      bool                     `json:"is_virtual"`
		IsDefault      bool                     `json:"is_default"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	token := strings.TrimSpace(req.Token)
	if req.EncryptedToken != nil {
		decrypted, err := s.cryptoHandler.DecryptToken(req.EncryptedToken)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to decrypt token: " + err.Error()})
			return
		}
		token = decrypted
	}
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "API token is required"})
		return
	}

	account := &store.DerivAccount{
		ID:        uuid.New().String(),
		UserID:    userID,
		Name:      req.Name,
		AppID:     strings.TrimSpace(req.AppID),
		Token:     token,
		Currency:  req.Currency,
		IsVirtual: req.IsVirtual,
		IsDefault: req.IsDefault,
		Enabled:   true,
	}
	if account.Currency == "" {
		account.Currency = "USD"
	}

	if err := s.store.Account().Create(account); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create account: " + err.Error()})
		return
	}
	if req.IsDefault {
		_ = s.store.Account().SetDefault(userID, account.ID)
	}

	c.JSON(http.StatusOK, gin.H{"account": toAccountView(account), "message": "Account created"})
}

// handleUpdateAccount Update name / app id / token / default flag
func (s *Server) handleUpdateAccount(c *gin.Context) {
	userID := c.GetString("user_id")
	accountID := c.Param("id")

	account, err := s.store.Account().GetByID(userID, accountID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Account not found"})
		return
	}

	var req struct {
		Name           *string                  `json:"name"`
		AppID          *string                  `json:"app_id"`
		Token          *string                  `json:"token"`
		EncryptedToken *crypto.EncryptedPayload `json:"encrypted_token"`
		Currency       *string                  `json:"currency"`
		Enabled        *bool                    `json:"enabled"`
		IsDefault      *bool                    `json:"is_default"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.Name != nil {
		account.Name = *req.Name
	}
	if req.AppID != nil {
		account.AppID = strings.TrimSpace(*req.AppID)
	}
	if req.Token != nil && strings.TrimSpace(*req.Token) != "" {
		account.Token = strings.TrimSpace(*req.Token)
	}
	if req.EncryptedToken != nil {
		decrypted, err := s.cryptoHandler.DecryptToken(req.EncryptedToken)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to decrypt token: " + err.Error()})
			return
		}
		account.Token = decrypted
	}
	if req.Currency != nil {
		account.Currency = *req.Currency
	}
	if req.Enabled != nil {
		account.Enabled = *req.Enabled
	}

	if err := s.store.Account().Update(account); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update account: " + err.Error()})
		return
	}
	if req.IsDefault != nil && *req.IsDefault {
		if err := s.store.Account().SetDefault(userID, account.ID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		account.IsDefault = true
	}

	// token changed: any cached sync session for this account is stale
	if s.syncManager != nil {
		s.syncManager.InvalidateCache(account.ID)
	}

	c.JSON(http.StatusOK, gin.H{"account": toAccountView(account), "message": "Account updated"})
}

// handleDeleteAccount Delete a broker account. Refused while a trader bound
// to it is running.
func (s *Server) handleDeleteAccount(c *gin.Context) {
	userID := c.GetString("user_id")
	accountID := c.Param("id")

	if _, err := s.store.Account().GetByID(userID, accountID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Account not found"})
		return
	}

	traders, err := s.store.Trader().List(userID)
	if err == nil {
		for _, t := range traders {
			if t.AccountID == accountID && t.IsRunning {
				c.JSON(http.StatusConflict, gin.H{"error": "A trader bound to this account is running, stop it first"})
				return
			}
		}
	}

	if err := s.store.Account().Delete(userID, accountID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if s.syncManager != nil {
		s.syncManager.InvalidateCache(accountID)
	}

	c.JSON(http.StatusOK, gin.H{"message": "Account deleted"})
}

// handleVerifyAccount Open a throwaway session with the stored token and
// report login id / balance, so the user can confirm the token works.
func (s *Server) handleVerifyAccount(c *gin.Context) {
	userID := c.GetString("user_id")
	accountID := c.Param("id")

	account, err := s.store.Account().GetByID(userID, accountID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Account not found"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	session, err := trader.Dial(ctx, account)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "Connection failed: " + err.Error()})
		return
	}
	defer session.Close()

	authInfo, err := session.Authorize(ctx)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization failed: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"valid":      true,
		"loginid":    authInfo.LoginID,
		"currency":   authInfo.Currency,
		"balance":    authInfo.Balance,
		"is_virtual": authInfo.IsVirtual == 1,
	})
}
