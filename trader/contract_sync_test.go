package trader

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dtrader/deriv"
	"dtrader/store"
)

// seedTraderWithAccount creates the user/account/trader rows a sweep needs
// to resolve an OPEN contract back to a broker session.
func seedTraderWithAccount(t *testing.T, st *store.Store) {
	t.Helper()
	require.NoError(t, st.User().Create(&store.User{ID: "u-1", Email: "sweep@example.com", PasswordHash: "x"}))
	require.NoError(t, st.Account().Create(&store.DerivAccount{
		ID: "acc-1", UserID: "u-1", Name: "demo", Token: "test-token", Currency: "USD",
	}))
	require.NoError(t, st.Trader().Create(&store.Trader{
		ID: "t-1", UserID: "u-1", Name: "swept", AccountID: "acc-1",
		Symbol: "R_100", StrategyName: "risefall",
		StrategyParams: `{"contract_type":"CALL","duration_ticks":1}`,
		Staking:        `{"mode":"flat","base_stake":1}`,
	}))
}

func newSyncManager(t *testing.T, st *store.Store, api *fakeAPI) *ContractSyncManager {
	t.Helper()
	m := NewContractSyncManager(st, nil, time.Second)
	m.dial = func(context.Context, *store.DerivAccount) (API, error) { return api, nil }
	return m
}

func openRow(contractID int64, age time.Duration, stake float64) *store.Contract {
	return &store.Contract{
		TraderID: "t-1", UserID: "u-1", ContractID: contractID,
		Symbol: "R_100", ContractType: deriv.ContractCall,
		Stake: stake, BuyPrice: stake, DurationTicks: 1,
		PurchaseTime: time.Now().Add(-age),
	}
}

func TestContractSync_SettlesStaleOpenRow(t *testing.T) {
	st := newEngineStore(t)
	seedTraderWithAccount(t, st)

	api := newFakeAPI()
	api.states[42] = &deriv.OpenContract{
		ContractID: 42, Status: deriv.StatusWon, IsSold: 1, IsExpired: 1,
		Profit: 0.95, SellPrice: 1.95, ExitTick: 1234.99,
	}

	require.NoError(t, st.Contract().Create(openRow(42, 2*time.Minute, 1)))

	m := newSyncManager(t, st, api)
	m.sweep()

	row, err := st.Contract().GetByContractID("t-1", 42)
	require.NoError(t, err)
	assert.Equal(t, store.ContractStatusWon, row.Status)
	assert.InDelta(t, 0.95, row.Profit, 1e-9)
	assert.InDelta(t, 1.95, row.SellPrice, 1e-9)
}

func TestContractSync_LeavesFreshRowsToTheEngine(t *testing.T) {
	st := newEngineStore(t)
	seedTraderWithAccount(t, st)

	api := newFakeAPI()
	api.states[43] = &deriv.OpenContract{
		ContractID: 43, Status: deriv.StatusLost, IsSold: 1, Profit: -1,
	}

	// bought seconds ago: its engine is still watching the stream
	require.NoError(t, st.Contract().Create(openRow(43, 5*time.Second, 1)))

	m := newSyncManager(t, st, api)
	m.sweep()

	row, err := st.Contract().GetByContractID("t-1", 43)
	require.NoError(t, err)
	assert.Equal(t, store.ContractStatusOpen, row.Status)
}

func TestContractSync_ForceExpiresUnreachableContract(t *testing.T) {
	st := newEngineStore(t)
	seedTraderWithAccount(t, st)

	// the fake broker has no state for this id, so every poll errors
	api := newFakeAPI()

	require.NoError(t, st.Contract().Create(openRow(44, 30*time.Minute, 2.5)))

	m := newSyncManager(t, st, api)
	m.sweep()

	row, err := st.Contract().GetByContractID("t-1", 44)
	require.NoError(t, err)
	assert.Equal(t, store.ContractStatusLost, row.Status)
	assert.InDelta(t, -2.5, row.Profit, 1e-9, "written off as a full loss")
}

func TestContractSync_UnreachableButYoungStaysOpen(t *testing.T) {
	st := newEngineStore(t)
	seedTraderWithAccount(t, st)

	api := newFakeAPI()

	// stale enough to sweep, too young to write off
	require.NoError(t, st.Contract().Create(openRow(45, 90*time.Second, 1)))

	m := newSyncManager(t, st, api)
	m.sweep()

	row, err := st.Contract().GetByContractID("t-1", 45)
	require.NoError(t, err)
	assert.Equal(t, store.ContractStatusOpen, row.Status)
}

func TestContractSync_InvalidateCacheClosesSession(t *testing.T) {
	st := newEngineStore(t)
	api := newFakeAPI()

	m := newSyncManager(t, st, api)
	client, err := m.clientFor(&store.DerivAccount{ID: "acc-1", Token: "t"})
	require.NoError(t, err)
	require.NotNil(t, client)

	m.InvalidateCache("acc-1")
	api.mu.Lock()
	closed := api.closed
	api.mu.Unlock()
	assert.True(t, closed)

	m.mu.Lock()
	_, cached := m.clients["acc-1"]
	m.mu.Unlock()
	assert.False(t, cached)
}

func TestContractSync_StartStop(t *testing.T) {
	st := newEngineStore(t)
	m := newSyncManager(t, st, newFakeAPI())

	m.Start()
	time.Sleep(50 * time.Millisecond)
	m.Stop() // must not hang or panic with nothing to sweep
}
