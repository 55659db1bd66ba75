package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"dtrader/kernel"
	"dtrader/logger"
	"dtrader/store"
	"dtrader/strategy"
)

// handleListTraders List current user's traders with live status
func (s *Server) handleListTraders(c *gin.Context) {
	userID := c.GetString("user_id")

	rows, err := s.store.Trader().List(userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	list := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		item := gin.H{"trader": row, "is_running": row.IsRunning}
		// prefer the live engine state over the persisted flag
		if at, err := s.traderManager.GetTrader(row.ID); err == nil {
			item["is_running"] = at.IsRunning()
		}
		list = append(list, item)
	}

	c.JSON(http.StatusOK, gin.H{"traders": list, "count": len(list)})
}

type traderRequest struct {
	Name           string          `json:"name" binding:"required"`
	AccountID      string          `json:"account_id" binding:"required"`
	StrategyID     string          `json:"strategy_id"`
	Symbol         string          `json:"symbol" binding:"required"`
	StrategyName   string          `json:"strategy_name"`
	StrategyParams json.RawMessage `json:"strategy_params"`
	Staking        json.RawMessage `json:"staking"`

	StopLoss             float64 `json:"stop_loss"`
	TakeProfit           float64 `json:"take_profit"`
	MaxConsecutiveLosses int     `json:"max_consecutive_losses"`
	PauseBetweenTrades   int     `json:"pause_between_trades"`
}

// validate rejects shapes the engine would refuse later, so mistakes surface
// at creation time rather than at start.
func (r *traderRequest) validate() string {
	if r.StrategyName != "" {
		if _, err := strategy.New(r.StrategyName, strategy.Params{}); err != nil {
			return "Unknown strategy: " + r.StrategyName
		}
	}
	if len(r.Staking) > 0 {
		var plan kernel.StakingPlan
		if err := json.Unmarshal(r.Staking, &plan); err != nil {
			return "Invalid staking plan: " + err.Error()
		}
		if plan.Mode != "" {
			if err := plan.Validate(); err != nil {
				return "Invalid staking plan: " + err.Error()
			}
		}
	}
	if r.StopLoss < 0 || r.TakeProfit < 0 || r.MaxConsecutiveLosses < 0 || r.PauseBetweenTrades < 0 {
		return "Stop conditions must not be negative"
	}
	return ""
}

// handleCreateTrader Create trader
func (s *Server) handleCreateTrader(c *gin.Context) {
	userID := c.GetString("user_id")

	var req traderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if msg := req.validate(); msg != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}

	// the bound account must exist and belong to the caller
	if _, err := s.store.Account().GetByID(userID, req.AccountID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Broker account not found"})
		return
	}
	if req.StrategyID != "" {
		if _, err := s.store.Strategy().Get(userID, req.StrategyID); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Strategy preset not found"})
			return
		}
	}

	row := &store.Trader{
		ID:                   uuid.New().String(),
		UserID:               userID,
		Name:                 req.Name,
		AccountID:            req.AccountID,
		StrategyID:           req.StrategyID,
		Symbol:               req.Symbol,
		StrategyName:         req.StrategyName,
		StrategyParams:       string(req.StrategyParams),
		Staking:              string(req.Staking),
		StopLoss:             req.StopLoss,
		TakeProfit:           req.TakeProfit,
		MaxConsecutiveLosses: req.MaxConsecutiveLosses,
		PauseBetweenTrades:   req.PauseBetweenTrades,
	}

	if err := s.store.Trader().Create(row); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create trader: " + err.Error()})
		return
	}

	// build the engine now so config errors are visible immediately; a
	// failure leaves the row in place for editing
	if _, err := s.traderManager.LoadTrader(userID, row.ID); err != nil {
		logger.Warnf("⚠️ Trader %s created but engine not loaded: %v", row.ID, err)
		c.JSON(http.StatusOK, gin.H{"trader": row, "warning": err.Error()})
		return
	}

	logger.Infof("✓ Trader created: %s (%s on %s)", row.Name, row.StrategyName, row.Symbol)
	c.JSON(http.StatusOK, gin.H{"trader": row, "message": "Trader created"})
}

// handleGetTrader Get one trader with live status
func (s *Server) handleGetTrader(c *gin.Context) {
	userID := c.GetString("user_id")
	traderID := c.Param("id")

	row, err := s.store.Trader().Get(userID, traderID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Trader not found"})
		return
	}

	resp := gin.H{"trader": row, "is_running": row.IsRunning}
	if at, err := s.traderManager.GetTrader(traderID); err == nil {
		resp["is_running"] = at.IsRunning()
		resp["status"] = at.GetStatus()
	}
	c.JSON(http.StatusOK, resp)
}

// handleUpdateTrader Update configuration. Refused while running: the engine
// snapshots its config at load time.
func (s *Server) handleUpdateTrader(c *gin.Context) {
	userID := c.GetString("user_id")
	traderID := c.Param("id")

	row, err := s.store.Trader().Get(userID, traderID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Trader not found"})
		return
	}
	if at, err := s.traderManager.GetTrader(traderID); err == nil && at.IsRunning() {
		c.JSON(http.StatusConflict, gin.H{"error": "Trader is running, stop it before editing"})
		return
	}

	var req traderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if msg := req.validate(); msg != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}
	if _, err := s.store.Account().GetByID(userID, req.AccountID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Broker account not found"})
		return
	}

	row.Name = req.Name
	row.AccountID = req.AccountID
	row.StrategyID = req.StrategyID
	row.Symbol = req.Symbol
	row.StrategyName = req.StrategyName
	row.StrategyParams = string(req.StrategyParams)
	row.Staking = string(req.Staking)
	row.StopLoss = req.StopLoss
	row.TakeProfit = req.TakeProfit
	row.MaxConsecutiveLosses = req.MaxConsecutiveLosses
	row.PauseBetweenTrades = req.PauseBetweenTrades

	if err := s.store.Trader().Update(row); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update trader: " + err.Error()})
		return
	}

	// drop the stale engine; the next start rebuilds from the new config
	s.traderManager.RemoveTrader(traderID)
	if _, err := s.traderManager.LoadTrader(userID, traderID); err != nil {
		c.JSON(http.StatusOK, gin.H{"trader": row, "warning": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"trader": row, "message": "Trader updated"})
}

// handleDeleteTrader Delete a trader (stops it first if running). History
// rows are kept for audit.
func (s *Server) handleDeleteTrader(c *gin.Context) {
	userID := c.GetString("user_id")
	traderID := c.Param("id")

	if _, err := s.store.Trader().Get(userID, traderID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Trader not found"})
		return
	}

	s.traderManager.RemoveTrader(traderID)

	if err := s.store.Trader().Delete(userID, traderID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	logger.Infof("✓ Trader deleted: %s", traderID)
	c.JSON(http.StatusOK, gin.H{"message": "Trader deleted"})
}

// handleStartTrader Start a trading session. Engines are single-use, so a
// fresh one is always built from the stored config.
func (s *Server) handleStartTrader(c *gin.Context) {
	userID := c.GetString("user_id")
	traderID := c.Param("id")

	if _, err := s.store.Trader().Get(userID, traderID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Trader not found"})
		return
	}

	if at, err := s.traderManager.GetTrader(traderID); err == nil && at.IsRunning() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Trader is already running"})
		return
	}

	// rebuild: a stopped engine cannot run again
	s.traderManager.RemoveTrader(traderID)
	at, err := s.traderManager.LoadTrader(userID, traderID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to load trader: " + err.Error()})
		return
	}

	go func() {
		if err := at.Run(); err != nil {
			logger.Errorf("❌ Trader %s exited: %v", traderID, err)
		}
	}()

	if err := s.store.Trader().UpdateStatus(userID, traderID, true); err != nil {
		logger.Warnf("⚠️ Failed to persist running status for %s: %v", traderID, err)
	}

	logger.Infof("▶️ Trader started: %s", traderID)
	c.JSON(http.StatusOK, gin.H{"message": "Trader started", "trader_id": traderID})
}

// handleStopTrader Stop a running session. Blocks until the engine drains
// (bounded internally).
func (s *Server) handleStopTrader(c *gin.Context) {
	userID := c.GetString("user_id")
	traderID := c.Param("id")

	if _, err := s.store.Trader().Get(userID, traderID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Trader not found"})
		return
	}

	at, err := s.traderManager.GetTrader(traderID)
	if err != nil || !at.IsRunning() {
		// not loaded or already idle: just settle the persisted flag
		_ = s.store.Trader().UpdateStatus(userID, traderID, false)
		c.JSON(http.StatusOK, gin.H{"message": "Trader is not running"})
		return
	}

	at.Stop()
	_ = s.store.Trader().UpdateStatus(userID, traderID, false)

	logger.Infof("⏹️ Trader stopped: %s", traderID)
	c.JSON(http.StatusOK, gin.H{"message": "Trader stopped", "trader_id": traderID})
}

// handleTraderStatus Live session status (totals, ladder position, next stake)
func (s *Server) handleTraderStatus(c *gin.Context) {
	userID := c.GetString("user_id")
	traderID := c.Param("id")

	row, err := s.store.Trader().Get(userID, traderID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Trader not found"})
		return
	}

	if at, err := s.traderManager.GetTrader(traderID); err == nil {
		c.JSON(http.StatusOK, at.GetStatus())
		return
	}

	// engine not loaded: report what the store knows
	c.JSON(http.StatusOK, gin.H{
		"trader_id":  row.ID,
		"is_running": false,
		"last_error": row.LastError,
	})
}

// handleSellContract Sell an open contract back to the broker at market
func (s *Server) handleSellContract(c *gin.Context) {
	userID := c.GetString("user_id")
	traderID := c.Param("id")

	if _, err := s.store.Trader().Get(userID, traderID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Trader not found"})
		return
	}

	contractID, err := strconv.ParseInt(c.Param("contract_id"), 10, 64)
	if err != nil || contractID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid contract id"})
		return
	}

	at, err := s.traderManager.GetTrader(traderID)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "Trader is not loaded"})
		return
	}

	result, err := at.SellContract(contractID)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "Sell failed: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":        "Contract sold",
		"contract_id":    contractID,
		"sold_for":       result.SoldFor,
		"transaction_id": result.TransactionID,
	})
}

// ============================================================================
// History and performance
// ============================================================================

// ownTrader resolves a trader_id query param and checks ownership.
func (s *Server) ownTrader(c *gin.Context) (string, bool) {
	userID := c.GetString("user_id")
	traderID := c.Query("trader_id")
	if traderID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "trader_id is required"})
		return "", false
	}
	if _, err := s.store.Trader().Get(userID, traderID); err != nil {
		// distinguish someone else's trader from a missing one
		if _, err := s.store.Trader().GetByID(traderID); err == nil {
			c.JSON(http.StatusForbidden, gin.H{"error": "Not your trader"})
			return "", false
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "Trader not found"})
		return "", false
	}
	return traderID, true
}

// handleContracts Contract history for one trader, newest first
func (s *Server) handleContracts(c *gin.Context) {
	traderID, ok := s.ownTrader(c)
	if !ok {
		return
	}

	limit := 50
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	contracts, err := s.store.Contract().ListByTrader(traderID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"contracts": contracts, "count": len(contracts)})
}

// handleStatistics Aggregated performance for one trader
func (s *Server) handleStatistics(c *gin.Context) {
	traderID, ok := s.ownTrader(c)
	if !ok {
		return
	}

	stats, err := s.store.Contract().GetStats(traderID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"statistics": stats})
}

// handleSessions Session snapshots (profit curve) for one trader
func (s *Server) handleSessions(c *gin.Context) {
	traderID, ok := s.ownTrader(c)
	if !ok {
		return
	}

	hours := 24
	if v := c.Query("hours"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 24*30 {
			hours = n
		}
	}

	end := time.Now()
	start := end.Add(-time.Duration(hours) * time.Hour)
	snapshots, err := s.store.Session().History(traderID, start, end)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": snapshots, "count": len(snapshots)})
}
