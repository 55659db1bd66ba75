package api

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"dtrader/store"
	"dtrader/strategy"
)

// handleBuiltinStrategies Registry strategy names (not presets; the raw
// signal generators a preset or trader can reference)
func (s *Server) handleBuiltinStrategies(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"strategies": strategy.Names()})
}

// handleGetStrategies Get preset list (system defaults + the user's own)
func (s *Server) handleGetStrategies(c *gin.Context) {
	userID := c.GetString("user_id")

	presets, err := s.store.Strategy().List(userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get preset list: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"strategies": presets, "count": len(presets)})
}

// handleGetStrategy Get a single preset
func (s *Server) handleGetStrategy(c *gin.Context) {
	userID := c.GetString("user_id")
	presetID := c.Param("id")

	preset, err := s.store.Strategy().Get(userID, presetID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Preset not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"strategy": preset})
}

type presetRequest struct {
	Name        string             `json:"name" binding:"required"`
	Description string             `json:"description"`
	Config      store.PresetConfig `json:"config" binding:"required"`
}

func (r *presetRequest) validate() string {
	if r.Config.Strategy == "" {
		return "config.strategy is required"
	}
	if _, err := strategy.New(r.Config.Strategy, strategy.Params{}); err != nil {
		return "Unknown strategy: " + r.Config.Strategy
	}
	if r.Config.Staking.Mode != "" {
		if err := r.Config.Staking.Validate(); err != nil {
			return "Invalid staking plan: " + err.Error()
		}
	}
	risk := r.Config.Risk
	if risk.StopLoss < 0 || risk.TakeProfit < 0 || risk.MaxConsecutiveLosses < 0 || risk.PauseBetweenTrades < 0 {
		return "Risk limits must not be negative"
	}
	return ""
}

// handleCreateStrategy Create a user preset
func (s *Server) handleCreateStrategy(c *gin.Context) {
	userID := c.GetString("user_id")

	var req presetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if msg := req.validate(); msg != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}

	configJSON, err := json.Marshal(req.Config)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid config: " + err.Error()})
		return
	}

	rec := &store.StrategyRecord{
		ID:          uuid.New().String(),
		UserID:      userID,
		Name:        req.Name,
		Description: req.Description,
		Config:      string(configJSON),
	}
	if err := s.store.Strategy().Create(rec); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create preset: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"strategy": rec, "message": "Preset created"})
}

// handleUpdateStrategy Update a user preset. System defaults are read-only;
// duplicate one to customize it.
func (s *Server) handleUpdateStrategy(c *gin.Context) {
	userID := c.GetString("user_id")
	presetID := c.Param("id")

	rec, err := s.store.Strategy().Get(userID, presetID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Preset not found"})
		return
	}
	if rec.IsDefault {
		c.JSON(http.StatusForbidden, gin.H{"error": "Built-in presets are read-only, duplicate to customize"})
		return
	}

	var req presetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if msg := req.validate(); msg != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}

	configJSON, err := json.Marshal(req.Config)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid config: " + err.Error()})
		return
	}

	rec.Name = req.Name
	rec.Description = req.Description
	rec.Config = string(configJSON)
	if err := s.store.Strategy().Update(rec); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update preset: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"strategy": rec, "message": "Preset updated"})
}

// handleDeleteStrategy Delete a user preset
func (s *Server) handleDeleteStrategy(c *gin.Context) {
	userID := c.GetString("user_id")
	presetID := c.Param("id")

	rec, err := s.store.Strategy().Get(userID, presetID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Preset not found"})
		return
	}
	if rec.IsDefault {
		c.JSON(http.StatusForbidden, gin.H{"error": "Built-in presets cannot be deleted"})
		return
	}

	if err := s.store.Strategy().Delete(userID, presetID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Preset deleted"})
}

// handleActivateStrategy Mark one preset active for the user. New traders
// with no preset reference fall back to the active one.
func (s *Server) handleActivateStrategy(c *gin.Context) {
	userID := c.GetString("user_id")
	presetID := c.Param("id")

	if _, err := s.store.Strategy().Get(userID, presetID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Preset not found"})
		return
	}

	if err := s.store.Strategy().SetActive(userID, presetID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Preset activated", "strategy_id": presetID})
}

// handleDuplicateStrategy Copy a preset (typically a read-only default) into
// an editable user preset
func (s *Server) handleDuplicateStrategy(c *gin.Context) {
	userID := c.GetString("user_id")
	presetID := c.Param("id")

	source, err := s.store.Strategy().Get(userID, presetID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Preset not found"})
		return
	}

	var req struct {
		Name string `json:"name"`
	}
	_ = c.ShouldBindJSON(&req)
	if req.Name == "" {
		req.Name = source.Name + " (copy)"
	}

	newID := uuid.New().String()
	if err := s.store.Strategy().Duplicate(userID, presetID, newID, req.Name); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to duplicate preset: " + err.Error()})
		return
	}

	rec, err := s.store.Strategy().Get(userID, newID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"strategy": rec, "message": "Preset duplicated"})
}
