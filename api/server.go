// Package api exposes the dashboard surface: auth, broker accounts, trader
// lifecycle, contracts, statistics, presets and market data over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"dtrader/auth"
	"dtrader/config"
	"dtrader/crypto"
	"dtrader/deriv"
	"dtrader/logger"
	"dtrader/manager"
	"dtrader/store"
	"dtrader/trader"
)

// Server HTTP API server
type Server struct {
	router        *gin.Engine
	traderManager *manager.TraderManager
	store         *store.Store
	cryptoHandler *CryptoHandler
	marketClient  *deriv.Client // shared public session, for the symbol catalog
	syncManager   *trader.ContractSyncManager
	httpServer    *http.Server
	port          int
}

// NewServer creates the API server. marketClient and syncManager may be nil
// in tests; the handlers that need them degrade to errors.
func NewServer(traderManager *manager.TraderManager, st *store.Store, cryptoService *crypto.CryptoService, marketClient *deriv.Client, syncManager *trader.ContractSyncManager, port int) *Server {
	// Set to Release mode (reduce log output)
	gin.SetMode(gin.ReleaseMode)

	router := gin.Default()

	// Enable CORS
	router.Use(corsMiddleware())

	s := &Server{
		router:        router,
		traderManager: traderManager,
		store:         st,
		cryptoHandler: NewCryptoHandler(cryptoService),
		marketClient:  marketClient,
		syncManager:   syncManager,
		port:          port,
	}

	s.setupRoutes()

	return s
}

// corsMiddleware CORS middleware
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusOK)
			return
		}

		c.Next()
	}
}

// setupRoutes wires the route tree.
func (s *Server) setupRoutes() {
	api := s.router.Group("/api")
	{
		// Health check
		api.Any("/health", s.handleHealth)

		// System config (no authentication required, for the frontend to
		// discover registration mode and the broker app id)
		api.GET("/config", s.handleGetSystemConfig)

		// Crypto endpoint for encrypted credential submission
		api.GET("/crypto/public-key", s.cryptoHandler.HandleGetPublicKey)

		// Market catalog and built-in strategies (no authentication required)
		api.GET("/symbols", s.handleSymbols)
		api.GET("/strategies/builtin", s.handleBuiltinStrategies)

		// Authentication related routes
		api.POST("/register", s.handleRegister)
		api.POST("/complete-registration", s.handleCompleteRegistration)
		api.POST("/login", s.handleLogin)
		api.POST("/verify-otp", s.handleVerifyOTP)
		api.POST("/reset-password", s.handleResetPassword)

		// Routes requiring authentication
		protected := api.Group("/", s.authMiddleware())
		{
			protected.POST("/logout", s.handleLogout)

			// Broker accounts
			protected.GET("/accounts", s.handleListAccounts)
			protected.POST("/accounts", s.handleCreateAccount)
			protected.PUT("/accounts/:id", s.handleUpdateAccount)
			protected.DELETE("/accounts/:id", s.handleDeleteAccount)
			protected.POST("/accounts/:id/verify", s.handleVerifyAccount)

			// Trader management
			protected.GET("/traders", s.handleListTraders)
			protected.POST("/traders", s.handleCreateTrader)
			protected.GET("/traders/:id", s.handleGetTrader)
			protected.PUT("/traders/:id", s.handleUpdateTrader)
			protected.DELETE("/traders/:id", s.handleDeleteTrader)
			protected.POST("/traders/:id/start", s.handleStartTrader)
			protected.POST("/traders/:id/stop", s.handleStopTrader)
			protected.GET("/traders/:id/status", s.handleTraderStatus)
			protected.POST("/traders/:id/sell/:contract_id", s.handleSellContract)

			// Trade history and performance
			protected.GET("/contracts", s.handleContracts)
			protected.GET("/statistics", s.handleStatistics)
			protected.GET("/sessions", s.handleSessions)

			// Strategy presets
			protected.GET("/strategies", s.handleGetStrategies)
			protected.GET("/strategies/:id", s.handleGetStrategy)
			protected.POST("/strategies", s.handleCreateStrategy)
			protected.PUT("/strategies/:id", s.handleUpdateStrategy)
			protected.DELETE("/strategies/:id", s.handleDeleteStrategy)
			protected.POST("/strategies/:id/activate", s.handleActivateStrategy)
			protected.POST("/strategies/:id/duplicate", s.handleDuplicateStrategy)

			// Live market data
			protected.GET("/market/ticks", s.handleMarketTicks)
			protected.GET("/market/digits", s.handleMarketDigits)
		}
	}
}

// handleHealth Health check
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleGetSystemConfig Get system configuration (configuration that the
// client needs to know)
func (s *Server) handleGetSystemConfig(c *gin.Context) {
	cfg := config.Get()

	c.JSON(http.StatusOK, gin.H{
		"registration_enabled": cfg.RegistrationEnabled,
		"invite_code_required": cfg.InviteCodeRequired,
		"deriv_app_id":         cfg.DerivAppID,
	})
}

// ============================================================================
// Authentication
// ============================================================================

func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing Authorization header"})
			c.Abort()
			return
		}

		// Check Bearer token format
		tokenParts := strings.Split(authHeader, " ")
		if len(tokenParts) != 2 || tokenParts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid Authorization format"})
			c.Abort()
			return
		}

		tokenString := tokenParts[1]

		// Blacklist check
		if auth.IsTokenBlacklisted(tokenString) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Token expired, please login again"})
			c.Abort()
			return
		}

		// Validate JWT token
		claims, err := auth.ValidateJWT(tokenString)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token: " + err.Error()})
			c.Abort()
			return
		}

		// Store user information in context
		c.Set("user_id", claims.UserID)
		c.Set("email", claims.Email)
		c.Next()
	}
}

// handleLogout Add current token to blacklist
func (s *Server) handleLogout(c *gin.Context) {
	authHeader := c.GetHeader("Authorization")
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid Authorization format"})
		return
	}
	tokenString := parts[1]
	claims, err := auth.ValidateJWT(tokenString)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
		return
	}
	var exp time.Time
	if claims.ExpiresAt != nil {
		exp = claims.ExpiresAt.Time
	} else {
		exp = time.Now().Add(24 * time.Hour)
	}
	auth.BlacklistToken(tokenString, exp)
	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

// handleRegister Handle user registration request
func (s *Server) handleRegister(c *gin.Context) {
	// Check if registration is allowed
	if !config.Get().RegistrationEnabled {
		c.JSON(http.StatusForbidden, gin.H{"error": "Registration is disabled"})
		return
	}

	var req struct {
		Email      string `json:"email" binding:"required,email"`
		Password   string `json:"password" binding:"required,min=6"`
		InviteCode string `json:"invite_code"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Gated registration: the invite code is validated here and consumed
	// only when OTP setup completes
	if config.Get().InviteCodeRequired {
		ok, err := s.store.Invite().Validate(req.InviteCode)
		if err != nil || !ok {
			c.JSON(http.StatusForbidden, gin.H{"error": "Invalid or used invite code"})
			return
		}
	}

	// A user who registered but never finished OTP setup may fetch a fresh
	// secret; a verified account is a conflict
	if existing, err := s.store.User().GetByEmail(req.Email); err == nil {
		if existing.OTPVerified {
			c.JSON(http.StatusConflict, gin.H{"error": "Email already registered"})
			return
		}
		qrCodeURL := auth.GetOTPQRCodeURL(existing.OTPSecret, existing.Email)
		c.JSON(http.StatusOK, gin.H{
			"user_id":     existing.ID,
			"email":       existing.Email,
			"otp_secret":  existing.OTPSecret,
			"qr_code_url": qrCodeURL,
			"message":     "Registration already started, scan the QR code and verify OTP",
		})
		return
	}

	// Generate password hash
	passwordHash, err := auth.HashPassword(req.Password)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Password processing failed"})
		return
	}

	// Generate OTP secret
	otpSecret, err := auth.GenerateOTPSecret()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "OTP secret generation failed"})
		return
	}

	// Create user (unverified OTP status)
	userID := uuid.New().String()
	user := &store.User{
		ID:           userID,
		Email:        req.Email,
		PasswordHash: passwordHash,
		OTPSecret:    otpSecret,
		OTPVerified:  false,
	}

	if err := s.store.User().Create(user); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create user: " + err.Error()})
		return
	}

	// Return OTP setup information
	qrCodeURL := auth.GetOTPQRCodeURL(otpSecret, req.Email)
	c.JSON(http.StatusOK, gin.H{
		"user_id":     userID,
		"email":       req.Email,
		"otp_secret":  otpSecret,
		"qr_code_url": qrCodeURL,
		"message":     "Please scan the QR code with an authenticator app and verify OTP",
	})
}

// handleCompleteRegistration Complete registration (verify OTP)
func (s *Server) handleCompleteRegistration(c *gin.Context) {
	var req struct {
		UserID     string `json:"user_id" binding:"required"`
		OTPCode    string `json:"otp_code" binding:"required"`
		InviteCode string `json:"invite_code"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Get user information
	user, err := s.store.User().GetByID(req.UserID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User does not exist"})
		return
	}

	// Verify OTP
	if !auth.VerifyOTP(user.OTPSecret, req.OTPCode) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "OTP code error"})
		return
	}

	// Consume the invite code now that the account is real
	if config.Get().InviteCodeRequired {
		if err := s.store.Invite().Consume(req.InviteCode, user.Email); err != nil {
			c.JSON(http.StatusForbidden, gin.H{"error": "Invalid or used invite code"})
			return
		}
	}

	// Update user OTP verified status
	if err := s.store.User().UpdateOTPVerified(req.UserID, true); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update user status"})
		return
	}

	// Generate JWT token
	token, err := auth.GenerateJWT(user.ID, user.Email)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":   token,
		"user_id": user.ID,
		"email":   user.Email,
		"message": "Registration completed",
	})
}

// handleLogin Handle user login request
func (s *Server) handleLogin(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Get user information
	user, err := s.store.User().GetByEmail(req.Email)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Email or password incorrect"})
		return
	}

	// Verify password
	if !auth.CheckPassword(req.Password, user.PasswordHash) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Email or password incorrect"})
		return
	}

	// Check if OTP is verified
	if !user.OTPVerified {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":              "Account has not completed OTP setup",
			"user_id":            user.ID,
			"requires_otp_setup": true,
		})
		return
	}

	// Return status requiring OTP verification
	c.JSON(http.StatusOK, gin.H{
		"user_id":      user.ID,
		"email":        user.Email,
		"message":      "Please enter your authenticator code",
		"requires_otp": true,
	})
}

// handleVerifyOTP Verify OTP and complete login
func (s *Server) handleVerifyOTP(c *gin.Context) {
	var req struct {
		UserID  string `json:"user_id" binding:"required"`
		OTPCode string `json:"otp_code" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Get user information
	user, err := s.store.User().GetByID(req.UserID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User does not exist"})
		return
	}

	// Verify OTP
	if !auth.VerifyOTP(user.OTPSecret, req.OTPCode) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Verification code error"})
		return
	}

	// Generate JWT token
	token, err := auth.GenerateJWT(user.ID, user.Email)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":   token,
		"user_id": user.ID,
		"email":   user.Email,
		"message": "Login successful",
	})
}

// handleResetPassword Reset password (via email + OTP verification)
func (s *Server) handleResetPassword(c *gin.Context) {
	var req struct {
		Email       string `json:"email" binding:"required,email"`
		NewPassword string `json:"new_password" binding:"required,min=6"`
		OTPCode     string `json:"otp_code" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Query user
	user, err := s.store.User().GetByEmail(req.Email)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Email does not exist"})
		return
	}

	// Verify OTP
	if !auth.VerifyOTP(user.OTPSecret, req.OTPCode) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Authenticator code error"})
		return
	}

	// Generate new password hash
	newPasswordHash, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Password processing failed"})
		return
	}

	// Update password
	if err := s.store.User().UpdatePassword(user.ID, newPasswordHash); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Password update failed"})
		return
	}

	logger.Infof("✓ User %s password has been reset", user.Email)
	c.JSON(http.StatusOK, gin.H{"message": "Password reset successful, please login with new password"})
}

// ============================================================================
// Lifecycle
// ============================================================================

// Start Start server
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	logger.Infof("🌐 API server starting at http://localhost%s", addr)
	logger.Infof("📊 API Documentation:")
	logger.Infof("  • GET  /api/health                    - Health check")
	logger.Infof("  • GET  /api/symbols                   - Tradable symbol catalog (no auth required)")
	logger.Infof("  • GET  /api/strategies/builtin        - Built-in strategy names (no auth required)")
	logger.Infof("  • POST /api/register                  - Register (email + password [+ invite code])")
	logger.Infof("  • POST /api/login                     - Login step 1 (password)")
	logger.Infof("  • POST /api/verify-otp                - Login step 2 (authenticator code)")
	logger.Infof("  • GET  /api/accounts                  - List broker accounts")
	logger.Infof("  • POST /api/accounts/:id/verify       - Authorize check (login id + balance)")
	logger.Infof("  • GET  /api/traders                   - List traders")
	logger.Infof("  • POST /api/traders                   - Create trader")
	logger.Infof("  • POST /api/traders/:id/start         - Start trading session")
	logger.Infof("  • POST /api/traders/:id/stop          - Stop trading session")
	logger.Infof("  • GET  /api/traders/:id/status        - Live session status")
	logger.Infof("  • POST /api/traders/:id/sell/:contract_id - Sell an open contract at market")
	logger.Infof("  • GET  /api/contracts?trader_id=xxx   - Contract history")
	logger.Infof("  • GET  /api/statistics?trader_id=xxx  - Win rate, streaks, drawdown")
	logger.Infof("  • GET  /api/sessions?trader_id=xxx    - Session profit curve")
	logger.Infof("  • GET  /api/market/digits?symbol=xxx  - Live digit distribution")
	logger.Info()

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown Gracefully shutdown server
func (s *Server) Shutdown() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}
