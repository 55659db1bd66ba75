package pool

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"dtrader/deriv"
)

// defaultVolatilityIndices is the fallback symbol pool: synthetic volatility
// indices trade around the clock, so they are always a safe default when the
// active_symbols call cannot be served.
var defaultVolatilityIndices = []string{
	"R_10", "R_25", "R_50", "R_75", "R_100",
	"1HZ10V", "1HZ25V", "1HZ50V", "1HZ75V", "1HZ100V",
}

// SymbolPoolConfig symbol pool configuration
type SymbolPoolConfig struct {
	RefreshTTL time.Duration // how long a fetched catalog stays fresh
	Market     string        // restrict the pool to one market; empty = all
}

var symbolPoolConfig = SymbolPoolConfig{
	RefreshTTL: 15 * time.Minute,
	Market:     "synthetic_index",
}

// symbolPoolCache caches the last successful active_symbols response.
type symbolPoolCache struct {
	mu        sync.RWMutex
	symbols   []deriv.ActiveSymbol
	fetchedAt time.Time
}

var poolCache symbolPoolCache

// SetRefreshTTL sets how long the cached catalog is considered fresh.
func SetRefreshTTL(ttl time.Duration) {
	if ttl > 0 {
		symbolPoolConfig.RefreshTTL = ttl
	}
}

// SetMarketFilter restricts the pool to one market ("" disables the filter).
func SetMarketFilter(market string) {
	symbolPoolConfig.Market = market
}

// SetDefaultSymbols overrides the fallback symbol list.
func SetDefaultSymbols(symbols []string) {
	if len(symbols) > 0 {
		defaultVolatilityIndices = symbols
		log.Printf("✓ Default symbol pool set (%d symbols): %v", len(symbols), symbols)
	}
}

// GetSymbolPool returns the tradable symbol catalog, served from cache while
// fresh. A failed fetch falls back to stale cache data, then to the static
// volatility index list.
func GetSymbolPool(ctx context.Context, client *deriv.Client) ([]deriv.ActiveSymbol, error) {
	poolCache.mu.RLock()
	fresh := time.Since(poolCache.fetchedAt) < symbolPoolConfig.RefreshTTL && len(poolCache.symbols) > 0
	cached := make([]deriv.ActiveSymbol, len(poolCache.symbols))
	copy(cached, poolCache.symbols)
	poolCache.mu.RUnlock()

	if fresh {
		return cached, nil
	}

	symbols, err := fetchSymbolPool(ctx, client)
	if err == nil {
		poolCache.mu.Lock()
		poolCache.symbols = symbols
		poolCache.fetchedAt = time.Now()
		poolCache.mu.Unlock()

		out := make([]deriv.ActiveSymbol, len(symbols))
		copy(out, symbols)
		return out, nil
	}

	if len(cached) > 0 {
		log.Printf("⚠️  Symbol catalog refresh failed (%v), using stale cache (%d symbols)", err, len(cached))
		return cached, nil
	}

	log.Printf("⚠️  Symbol catalog unavailable (%v), using default volatility indices", err)
	return convertSymbolsToActive(defaultVolatilityIndices), nil
}

// fetchSymbolPool executes the actual catalog request.
func fetchSymbolPool(ctx context.Context, client *deriv.Client) ([]deriv.ActiveSymbol, error) {
	if client == nil {
		return nil, fmt.Errorf("no market client")
	}
	log.Printf("🔄 Requesting active symbols...")

	all, err := client.ActiveSymbols(ctx)
	if err != nil {
		return nil, err
	}

	var symbols []deriv.ActiveSymbol
	for _, s := range all {
		if symbolPoolConfig.Market != "" && s.Market != symbolPoolConfig.Market {
			continue
		}
		symbols = append(symbols, s)
	}
	if len(symbols) == 0 {
		return nil, fmt.Errorf("symbol list is empty")
	}

	log.Printf("✓ Successfully fetched %d symbols", len(symbols))
	return symbols, nil
}

// GetAvailableSymbols returns the symbols currently open for trading.
func GetAvailableSymbols(ctx context.Context, client *deriv.Client) ([]string, error) {
	pool, err := GetSymbolPool(ctx, client)
	if err != nil {
		return nil, err
	}

	var symbols []string
	for _, s := range pool {
		if s.Tradable() {
			symbols = append(symbols, NormalizeSymbol(s.Symbol))
		}
	}
	if len(symbols) == 0 {
		return nil, fmt.Errorf("no tradable symbols")
	}
	return symbols, nil
}

// IsTradable reports whether a symbol exists in the pool and is open.
func IsTradable(ctx context.Context, client *deriv.Client, symbol string) bool {
	pool, err := GetSymbolPool(ctx, client)
	if err != nil {
		return false
	}
	symbol = NormalizeSymbol(symbol)
	for _, s := range pool {
		if NormalizeSymbol(s.Symbol) == symbol {
			return s.Tradable()
		}
	}
	return false
}

// NormalizeSymbol normalizes a symbol for comparisons and storage.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// convertSymbolsToActive wraps a bare symbol list in catalog entries.
func convertSymbolsToActive(symbols []string) []deriv.ActiveSymbol {
	out := make([]deriv.ActiveSymbol, 0, len(symbols))
	for _, s := range symbols {
		out = append(out, deriv.ActiveSymbol{
			Symbol:         NormalizeSymbol(s),
			DisplayName:    s,
			Market:         "synthetic_index",
			ExchangeIsOpen: 1,
		})
	}
	return out
}

// ResetPoolCache clears the catalog cache (used by tests and reconnects).
func ResetPoolCache() {
	poolCache.mu.Lock()
	poolCache.symbols = nil
	poolCache.fetchedAt = time.Time{}
	poolCache.mu.Unlock()
}
