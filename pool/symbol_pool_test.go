package pool

import (
	"context"
	"testing"

	"github.com/agiledragon/gomonkey/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dtrader/deriv"
)

func TestGetSymbolPool_FallsBackToDefaults(t *testing.T) {
	ResetPoolCache()

	pool, err := GetSymbolPool(context.Background(), nil)
	require.NoError(t, err, "the static fallback never errors")
	require.Len(t, pool, len(defaultVolatilityIndices))
	assert.Equal(t, "R_10", pool[0].Symbol)
	assert.True(t, pool[0].Tradable(), "volatility indices trade around the clock")
}

func TestGetAvailableSymbols_Fallback(t *testing.T) {
	ResetPoolCache()

	symbols, err := GetAvailableSymbols(context.Background(), nil)
	require.NoError(t, err)
	assert.Contains(t, symbols, "R_100")
	assert.Contains(t, symbols, "1HZ100V")
}

func TestIsTradable_Fallback(t *testing.T) {
	ResetPoolCache()

	assert.True(t, IsTradable(context.Background(), nil, "r_100"), "lookup is case-insensitive")
	assert.False(t, IsTradable(context.Background(), nil, "FRXEURUSD"), "unknown symbol")
}

func TestGetSymbolPool_CachesFetchedCatalog(t *testing.T) {
	ResetPoolCache()
	t.Cleanup(ResetPoolCache)

	calls := 0
	patches := gomonkey.ApplyFunc(fetchSymbolPool, func(ctx context.Context, client *deriv.Client) ([]deriv.ActiveSymbol, error) {
		calls++
		return []deriv.ActiveSymbol{
			{Symbol: "R_42", Market: "synthetic_index", ExchangeIsOpen: 1},
		}, nil
	})
	defer patches.Reset()

	client := &deriv.Client{}
	first, err := GetSymbolPool(context.Background(), client)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, "R_42", first[0].Symbol)

	// second call within the TTL is served from cache
	second, err := GetSymbolPool(context.Background(), client)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls)
}

func TestNormalizeSymbol(t *testing.T) {
	assert.Equal(t, "R_100", NormalizeSymbol("  r_100 "))
	assert.Equal(t, "1HZ10V", NormalizeSymbol("1hz10v"))
}
