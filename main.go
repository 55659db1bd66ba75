package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"dtrader/api"
	"dtrader/auth"
	"dtrader/config"
	"dtrader/crypto"
	"dtrader/deriv"
	"dtrader/logger"
	"dtrader/manager"
	"dtrader/market"
	"dtrader/metrics"
	"dtrader/notify"
	"dtrader/store"
	"dtrader/trader"
)

const tickWindowCapacity = 1000

// deriveMarketClient builds the shared unauthorized session. On reconnect the
// tick windows are refilled from history so strategies never act on a gap.
func deriveMarketClient(cfg *config.Config) *deriv.Client {
	return deriv.New(deriv.Config{
		URL:      cfg.DerivWSURL,
		AppID:    cfg.DerivAppID,
		Language: cfg.DerivLanguage,
		OnReconnect: func() {
			if market.Monitor != nil {
				market.Monitor.Rewarm()
			}
		},
	})
}

// warmupSymbols lists the symbols whose tick windows fill at boot. Everything
// else warms lazily when a trader or dashboard request first needs it.
func warmupSymbols() []string {
	raw := strings.TrimSpace(os.Getenv("WARMUP_SYMBOLS"))
	if raw == "" {
		return []string{"R_100"}
	}
	var symbols []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			symbols = append(symbols, s)
		}
	}
	return symbols
}

func main() {
	// Load environment variables from .env file if present (for local/dev runs)
	// In Docker Compose, variables are injected by the runtime and this is harmless.
	_ = godotenv.Load()

	// Initialize logging
	logger.Init(nil)

	logger.Info("╔════════════════════════════════════════════════════════════╗")
	logger.Info("║    📈 dtrader - Deriv binary options trading hub           ║")
	logger.Info("╚════════════════════════════════════════════════════════════╝")

	config.Init()
	cfg := config.Get()

	logger.Infof("📋 Opening database: %s", cfg.DatabasePath)
	st, err := store.New(cfg.DatabasePath)
	if err != nil {
		logger.Fatalf("❌ Failed to open database: %v", err)
	}
	defer st.Close()

	// Initialize encryption service
	logger.Info("🔐 Initializing encryption service...")
	cryptoService, err := crypto.NewCryptoService()
	if err != nil {
		logger.Fatalf("❌ Failed to initialize encryption service: %v", err)
	}
	encryptFunc := func(plaintext string) string {
		if plaintext == "" {
			return plaintext
		}
		encrypted, err := cryptoService.EncryptForStorage(plaintext)
		if err != nil {
			logger.Warnf("⚠️ Encryption failed: %v", err)
			return plaintext
		}
		return encrypted
	}
	decryptFunc := func(encrypted string) string {
		if encrypted == "" {
			return encrypted
		}
		if !cryptoService.IsEncryptedStorageValue(encrypted) {
			return encrypted
		}
		decrypted, err := cryptoService.DecryptFromStorage(encrypted)
		if err != nil {
			logger.Warnf("⚠️ Decryption failed: %v", err)
			return encrypted
		}
		return decrypted
	}
	st.SetCryptoFuncs(encryptFunc, decryptFunc)
	logger.Info("✅ Encryption service ready")

	if err := st.User().EnsureAdmin(); err != nil {
		logger.Warnf("⚠️ Failed to ensure admin user: %v", err)
	}

	// JWT secret (environment first, ephemeral fallback for dev runs)
	jwtSecret := cfg.JWTSecret
	if jwtSecret == "" {
		jwtSecret = config.EphemeralJWTSecret()
		logger.Warn("⚠️ JWT_SECRET not set, sessions will not survive a restart")
	} else {
		logger.Info("🔑 Using JWT secret from environment")
	}
	auth.SetJWTSecret(jwtSecret)

	// Invite codes for gated registration
	if path := strings.TrimSpace(os.Getenv("INVITE_CODES_FILE")); path != "" {
		if err := st.Invite().LoadFromFile(path); err != nil {
			logger.Warnf("⚠️ Failed to load invite codes from %s: %v", path, err)
		}
	}

	// Shared public broker session for the tick monitor and symbol catalog.
	// Trading sessions are dialed per account; this one stays unauthorized.
	marketClient := deriveMarketClient(cfg)
	if err := marketClient.Connect(context.Background()); err != nil {
		logger.Warnf("⚠️ Market session connect failed, tick windows warm up lazily: %v", err)
	}

	monitor := market.NewTickMonitor(marketClient, tickWindowCapacity)
	if symbols := warmupSymbols(); len(symbols) > 0 {
		if err := monitor.Start(context.Background(), symbols); err != nil {
			logger.Warnf("⚠️ Tick monitor warmup incomplete: %v", err)
		}
	}

	// Notifications: Telegram when configured, always the log sink
	var notifier notify.Notifier = notify.NewLogNotifier()
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != 0 {
		tg, err := notify.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID)
		if err != nil {
			logger.Warnf("⚠️ Telegram notifier disabled: %v", err)
		} else {
			notifier = notify.Multi{notify.NewLogNotifier(), tg}
			logger.Info("📣 Telegram notifications enabled")
		}
	}

	// Trader manager: load stored traders, resume the ones that were running
	traderManager := manager.NewTraderManager()
	traderManager.SetDeps(st, notifier)
	if err := traderManager.LoadTradersFromStore(); err != nil {
		logger.Warnf("⚠️ Failed to load traders: %v", err)
	}
	logger.Infof("✓ Loaded %d trader(s)", traderManager.Count())
	traderManager.AutoStartRunningTraders()

	// Safety net for contracts whose engine never saw the settlement
	syncManager := trader.NewContractSyncManager(st, notifier, 10*time.Second)
	syncManager.Start()

	// Prometheus endpoint (optional)
	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = metrics.Serve(cfg.MetricsAddr)
		logger.Infof("📈 Metrics on %s/metrics", cfg.MetricsAddr)
	}

	// Create and start the API server
	apiServer := api.NewServer(traderManager, st, cryptoService, marketClient, syncManager, cfg.APIServerPort)
	go func() {
		if err := apiServer.Start(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("❌ API server error: %v", err)
		}
	}()

	// Graceful exit
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logger.Info("📛 Received exit signal, shutting down...")

	// Step 1: stop all traders (waits for open contracts to drain)
	logger.Info("⏸️ Stopping all traders...")
	traderManager.StopAll()
	logger.Info("✅ All traders stopped")

	// Step 2: stop the contract sync sweep and the tick monitor
	logger.Info("📦 Stopping contract sync...")
	syncManager.Stop()
	monitor.Stop()
	_ = marketClient.Close()

	// Step 3: shut down the API server
	logger.Info("🛑 Stopping API server...")
	if err := apiServer.Shutdown(); err != nil {
		logger.Warnf("⚠️ Error shutting down API server: %v", err)
	}
	if metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = metricsServer.Shutdown(ctx)
		cancel()
	}

	// Step 4: close the database (all writes flushed)
	logger.Info("💾 Closing database...")
	if err := st.Close(); err != nil {
		logger.Errorf("❌ Failed to close database: %v", err)
	}

	logger.Info("👋 Bye")
	logger.Shutdown()
}
