package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"dtrader/market"
	"dtrader/pool"
)

// handleSymbols Tradable symbol catalog over the shared public session
func (s *Server) handleSymbols(c *gin.Context) {
	if s.marketClient == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Market session not available"})
		return
	}

	symbols, err := pool.GetSymbolPool(c.Request.Context(), s.marketClient)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to fetch symbols: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"symbols": symbols, "count": len(symbols)})
}

// marketWindow resolves the shared tick monitor and the symbol query param.
func (s *Server) marketWindow(c *gin.Context) (*market.TickMonitor, string, bool) {
	if market.Monitor == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Tick monitor not running"})
		return nil, "", false
	}
	symbol := strings.ToUpper(strings.TrimSpace(c.Query("symbol")))
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol is required"})
		return nil, "", false
	}
	return market.Monitor, symbol, true
}

// handleMarketTicks Recent ticks from the rolling window
func (s *Server) handleMarketTicks(c *gin.Context) {
	monitor, symbol, ok := s.marketWindow(c)
	if !ok {
		return
	}

	count := 60
	if v := c.Query("count"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			count = n
		}
	}

	if err := monitor.EnsureSymbol(c.Request.Context(), symbol); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to subscribe symbol: " + err.Error()})
		return
	}

	ticks, err := monitor.LastTicks(symbol, count)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "ticks": ticks, "count": len(ticks)})
}

// handleMarketDigits Live last-digit distribution for a symbol window
func (s *Server) handleMarketDigits(c *gin.Context) {
	monitor, symbol, ok := s.marketWindow(c)
	if !ok {
		return
	}

	count := 100
	if v := c.Query("count"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			count = n
		}
	}

	if err := monitor.EnsureSymbol(c.Request.Context(), symbol); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to subscribe symbol: " + err.Error()})
		return
	}

	stats, err := monitor.Digits(symbol, count)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	most, mostPct := stats.Most()
	least, leastPct := stats.Least()
	c.JSON(http.StatusOK, gin.H{
		"symbol": symbol,
		"stats":  stats,
		"most":   gin.H{"digit": most, "percent": mostPct},
		"least":  gin.H{"digit": least, "percent": leastPct},
	})
}
