package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// reversible stand-in for the real crypto hooks
func testCryptoFuncs() (func(string) string, func(string) string) {
	encrypt := func(v string) string { return "enc:" + v }
	decrypt := func(v string) string {
		if len(v) > 4 && v[:4] == "enc:" {
			return v[4:]
		}
		return v
	}
	return encrypt, decrypt
}

func TestStoreSystemConfig(t *testing.T) {
	s := newTestStore(t)

	// missing key reads as empty, not an error
	v, err := s.GetSystemConfig("nope")
	require.NoError(t, err)
	assert.Equal(t, "", v)

	require.NoError(t, s.SetSystemConfig("app_id", "1089"))
	require.NoError(t, s.SetSystemConfig("app_id", "36940")) // upsert

	v, err = s.GetSystemConfig("app_id")
	require.NoError(t, err)
	assert.Equal(t, "36940", v)
}

func TestUserStore(t *testing.T) {
	s := newTestStore(t)
	users := s.User()

	u := &User{
		ID:           "u-1",
		Email:        "trader@example.com",
		PasswordHash: "bcrypt-hash",
		OTPSecret:    "SECRET",
	}
	require.NoError(t, users.Create(u))

	got, err := users.GetByEmail("trader@example.com")
	require.NoError(t, err)
	assert.Equal(t, "u-1", got.ID)
	assert.Equal(t, "bcrypt-hash", got.PasswordHash)
	assert.False(t, got.OTPVerified)

	require.NoError(t, users.UpdateOTPVerified("u-1", true))
	require.NoError(t, users.UpdatePassword("u-1", "new-hash"))

	got, err = users.GetByID("u-1")
	require.NoError(t, err)
	assert.True(t, got.OTPVerified)
	assert.Equal(t, "new-hash", got.PasswordHash)

	// duplicate email rejected by the unique index
	err = users.Create(&User{ID: "u-2", Email: "trader@example.com", PasswordHash: "x"})
	assert.Error(t, err)

	// EnsureAdmin is idempotent
	require.NoError(t, users.EnsureAdmin())
	require.NoError(t, users.EnsureAdmin())
	admin, err := users.GetByID("admin")
	require.NoError(t, err)
	assert.True(t, admin.OTPVerified)

	ids, err := users.GetAllIDs()
	require.NoError(t, err)
	assert.Contains(t, ids, "u-1")
	assert.Contains(t, ids, "admin")
}

func TestAccountStoreEncryptsToken(t *testing.T) {
	s := newTestStore(t)
	s.SetCryptoFuncs(testCryptoFuncs())
	accounts := s.Account()

	acct := &DerivAccount{
		UserID:   "u-1",
		Name:     "Real USD",
		AppID:    "36940",
		Token:    "secret-token",
		Currency: "USD",
		Enabled:  true,
	}
	require.NoError(t, accounts.Create(acct))
	require.NotEmpty(t, acct.ID)

	// at rest the column holds ciphertext
	var stored string
	require.NoError(t, s.DB().QueryRow(
		`SELECT token FROM deriv_accounts WHERE id = ?`, acct.ID).Scan(&stored))
	assert.Equal(t, "enc:secret-token", stored)

	// reads decrypt transparently
	got, err := accounts.GetByID("u-1", acct.ID)
	require.NoError(t, err)
	assert.Equal(t, "secret-token", got.Token)

	list, err := accounts.List("u-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "secret-token", list[0].Token)
}

func TestAccountStoreUpdateKeepsToken(t *testing.T) {
	s := newTestStore(t)
	s.SetCryptoFuncs(testCryptoFuncs())
	accounts := s.Account()

	acct := &DerivAccount{UserID: "u-1", Name: "Main", Token: "original", Enabled: true}
	require.NoError(t, accounts.Create(acct))

	// editing the name with an empty token must not wipe the stored secret
	acct.Name = "Renamed"
	acct.Token = ""
	require.NoError(t, accounts.Update(acct))

	got, err := accounts.GetByID("u-1", acct.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)
	assert.Equal(t, "original", got.Token)

	// a non-empty token does replace it
	acct.Token = "rotated"
	require.NoError(t, accounts.Update(acct))

	got, err = accounts.GetByID("u-1", acct.ID)
	require.NoError(t, err)
	assert.Equal(t, "rotated", got.Token)

	// unknown id is reported
	err = accounts.Update(&DerivAccount{ID: "missing", UserID: "u-1", Name: "x"})
	assert.ErrorContains(t, err, "not found")
}

func TestAccountStoreSetDefault(t *testing.T) {
	s := newTestStore(t)
	accounts := s.Account()

	a := &DerivAccount{UserID: "u-1", Name: "A", Token: "t1", Enabled: true}
	b := &DerivAccount{UserID: "u-1", Name: "B", Token: "t2", Enabled: true}
	require.NoError(t, accounts.Create(a))
	require.NoError(t, accounts.Create(b))

	require.NoError(t, accounts.SetDefault("u-1", b.ID))

	def, err := accounts.GetDefault("u-1")
	require.NoError(t, err)
	assert.Equal(t, b.ID, def.ID)

	// flipping the default clears the old one
	require.NoError(t, accounts.SetDefault("u-1", a.ID))
	list, err := accounts.List("u-1")
	require.NoError(t, err)
	for _, acct := range list {
		assert.Equal(t, acct.ID == a.ID, acct.IsDefault)
	}
}

func TestTraderStoreFullConfig(t *testing.T) {
	s := newTestStore(t)
	s.SetCryptoFuncs(testCryptoFuncs())

	acct := &DerivAccount{UserID: "u-1", Name: "Main", AppID: "36940", Token: "api-token", Enabled: true}
	require.NoError(t, s.Account().Create(acct))

	tr := &Trader{
		ID:             "t-1",
		UserID:         "u-1",
		Name:           "Digits bot",
		AccountID:      acct.ID,
		StrategyID:     "default-digitover",
		Symbol:         "R_100",
		StrategyName:   "digitover",
		StrategyParams: `{"prediction":4,"duration_ticks":1}`,
		Staking:        `{"mode":"martingale","base_stake":0.35,"multiplier":2.15,"max_steps":8,"on_cap":"stop"}`,
		StopLoss:       50,
		TakeProfit:     25,
	}
	require.NoError(t, s.Trader().Create(tr))

	cfg, err := s.Trader().GetFullConfig("u-1", "t-1")
	require.NoError(t, err)
	assert.Equal(t, "Digits bot", cfg.Trader.Name)
	assert.Equal(t, "R_100", cfg.Trader.Symbol)
	assert.Equal(t, "api-token", cfg.Account.Token, "token must come back decrypted")
	require.NotNil(t, cfg.Strategy)
	assert.Equal(t, "default-digitover", cfg.Strategy.ID)

	// wrong owner sees nothing
	_, err = s.Trader().GetFullConfig("u-2", "t-1")
	assert.Error(t, err)
}

func TestTraderStoreLifecycle(t *testing.T) {
	s := newTestStore(t)

	acct := &DerivAccount{UserID: "u-1", Name: "Main", Token: "tok", Enabled: true}
	require.NoError(t, s.Account().Create(acct))

	tr := &Trader{
		ID: "t-1", UserID: "u-1", Name: "Bot", AccountID: acct.ID,
		Symbol: "R_50", StrategyName: "risefall",
		StrategyParams: `{}`, Staking: `{"mode":"flat","base_stake":1}`,
	}
	require.NoError(t, s.Trader().Create(tr))

	require.NoError(t, s.Trader().UpdateStatus("u-1", "t-1", true))
	got, err := s.Trader().GetByID("t-1")
	require.NoError(t, err)
	assert.True(t, got.IsRunning)

	require.NoError(t, s.Trader().SetLastError("t-1", "stop loss hit"))
	got, err = s.Trader().Get("u-1", "t-1")
	require.NoError(t, err)
	assert.Equal(t, "stop loss hit", got.LastError)

	tr.Name = "Bot v2"
	tr.Symbol = "R_100"
	require.NoError(t, s.Trader().Update(tr))
	got, _ = s.Trader().GetByID("t-1")
	assert.Equal(t, "Bot v2", got.Name)
	assert.Equal(t, "R_100", got.Symbol)

	// session snapshots go with the trader
	require.NoError(t, s.Session().Record(&SessionSnapshot{TraderID: "t-1", Balance: 100}))
	require.NoError(t, s.Trader().Delete("u-1", "t-1"))
	count, err := s.Session().Count("t-1")
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	list, err := s.Trader().List("u-1")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestContractStoreCreateAndSettle(t *testing.T) {
	s := newTestStore(t)
	contracts := s.Contract()

	c := &Contract{
		TraderID:      "t-1",
		UserID:        "u-1",
		ContractID:    123456,
		Symbol:        "R_100",
		ContractType:  "DIGITOVER",
		Stake:         0.35,
		BuyPrice:      0.35,
		Payout:        0.68,
		EntrySpot:     1234.56,
		Barrier:       "4",
		DurationTicks: 1,
	}
	require.NoError(t, contracts.Create(c))
	assert.NotZero(t, c.ID)

	// a replayed buy ack does not double-book
	dup := *c
	dup.ID = 0
	require.NoError(t, contracts.Create(&dup))

	open, err := contracts.GetOpen("t-1")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, int64(123456), open[0].ContractID)
	assert.Equal(t, ContractStatusOpen, open[0].Status)

	// first settle applies
	applied, err := contracts.MarkSettled("t-1", 123456, ContractStatusWon, 0.68, 0.33, 1234.60, time.Now())
	require.NoError(t, err)
	assert.True(t, applied)

	// second settle is a no-op
	applied, err = contracts.MarkSettled("t-1", 123456, ContractStatusLost, 0, -0.35, 1234.60, time.Now())
	require.NoError(t, err)
	assert.False(t, applied)

	got, err := contracts.GetByContractID("t-1", 123456)
	require.NoError(t, err)
	assert.Equal(t, ContractStatusWon, got.Status)
	assert.InDelta(t, 0.33, got.Profit, 1e-9)
	assert.True(t, got.Settled())

	open, err = contracts.GetOpen("t-1")
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestContractStoreOpenAcrossTraders(t *testing.T) {
	s := newTestStore(t)
	contracts := s.Contract()

	for i, traderID := range []string{"t-1", "t-2", "t-1"} {
		require.NoError(t, contracts.Create(&Contract{
			TraderID: traderID, ContractID: int64(1000 + i),
			Symbol: "R_50", ContractType: "CALL", Stake: 1, BuyPrice: 1,
		}))
	}
	_, err := contracts.MarkSettled("t-1", 1000, ContractStatusLost, 0, -1, 0, time.Now())
	require.NoError(t, err)

	all, err := contracts.GetOpenAll()
	require.NoError(t, err)
	assert.Len(t, all, 2)

	recent, err := contracts.ListByTrader("t-1", 10)
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}

func TestContractStoreStats(t *testing.T) {
	s := newTestStore(t)
	contracts := s.Contract()

	// W W L L L W settled in order: best streak 2, worst streak 3
	profits := []float64{0.33, 0.33, -0.35, -0.75, -1.61, 3.30}
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i, p := range profits {
		stake := 0.35
		if p < 0 {
			stake = -p
		}
		cid := int64(2000 + i)
		require.NoError(t, contracts.Create(&Contract{
			TraderID: "t-1", ContractID: cid, Symbol: "R_100",
			ContractType: "DIGITOVER", Stake: stake, BuyPrice: stake,
			PurchaseTime: base.Add(time.Duration(i) * time.Minute),
		}))
		status := ContractStatusWon
		sellPrice := stake + p
		if p < 0 {
			status = ContractStatusLost
			sellPrice = 0
		}
		_, err := contracts.MarkSettled("t-1", cid, status, sellPrice, p, 0,
			base.Add(time.Duration(i)*time.Minute+30*time.Second))
		require.NoError(t, err)
	}

	stats, err := contracts.GetStats("t-1")
	require.NoError(t, err)
	assert.Equal(t, 6, stats.TotalTrades)
	assert.Equal(t, 3, stats.Wins)
	assert.Equal(t, 3, stats.Losses)
	assert.InDelta(t, 50.0, stats.WinRate, 1e-9)
	assert.InDelta(t, 1.25, stats.TotalProfit, 1e-9)
	assert.Equal(t, 2, stats.BestStreak)
	assert.Equal(t, 3, stats.WorstStreak)
	assert.Greater(t, stats.ProfitFactor, 1.0)
	assert.Greater(t, stats.MaxDrawdown, 0.0)
}

func TestContractStoreStatsEmpty(t *testing.T) {
	s := newTestStore(t)

	stats, err := s.Contract().GetStats("nobody")
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalTrades)
	assert.Zero(t, stats.WinRate)
	assert.Zero(t, stats.ProfitFactor)
}

func TestSessionStoreLatestOrder(t *testing.T) {
	s := newTestStore(t)
	sessions := s.Session()

	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, sessions.Record(&SessionSnapshot{
			TraderID:      "t-1",
			Timestamp:     base.Add(time.Duration(i) * time.Minute),
			Balance:       100 + float64(i),
			SessionProfit: float64(i),
			TotalTrades:   i,
		}))
	}

	// limit clips to the newest, returned oldest-first for plotting
	latest, err := sessions.Latest("t-1", 3)
	require.NoError(t, err)
	require.Len(t, latest, 3)
	assert.InDelta(t, 2.0, latest[0].SessionProfit, 1e-9)
	assert.InDelta(t, 4.0, latest[2].SessionProfit, 1e-9)

	history, err := sessions.History("t-1", base, base.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Len(t, history, 3)

	all, err := sessions.AllTradersLatest()
	require.NoError(t, err)
	require.Contains(t, all, "t-1")
	assert.InDelta(t, 4.0, all["t-1"].SessionProfit, 1e-9)

	removed, err := sessions.DeleteOlderThan("t-1", 0)
	require.NoError(t, err)
	assert.EqualValues(t, 5, removed)
}

func TestStrategyStoreDefaults(t *testing.T) {
	s := newTestStore(t)
	presets := s.Strategy()

	// defaults are seeded once by New; a second pass changes nothing
	require.NoError(t, presets.EnsureDefaults())

	list, err := presets.List("u-1")
	require.NoError(t, err)
	require.NotEmpty(t, list)

	var names []string
	for _, rec := range list {
		assert.True(t, rec.IsDefault)
		names = append(names, rec.ID)

		cfg, err := rec.ParseConfig()
		require.NoError(t, err, "preset %s must carry valid config JSON", rec.ID)
		assert.NotEmpty(t, cfg.Strategy)
		require.NoError(t, cfg.Staking.Validate(), "preset %s staking plan must validate", rec.ID)
	}
	assert.Contains(t, names, "default-digitover")
	assert.Contains(t, names, "default-autooverunder")

	// built-ins cannot be deleted
	err = presets.Delete("u-1", "default-digitover")
	assert.ErrorContains(t, err, "built-in")
}

func TestStrategyStoreUserPresets(t *testing.T) {
	s := newTestStore(t)
	presets := s.Strategy()

	require.NoError(t, presets.Duplicate("u-1", "default-digitover", "my-digits", "My digits"))

	mine, err := presets.Get("u-1", "my-digits")
	require.NoError(t, err)
	assert.False(t, mine.IsDefault)
	assert.Contains(t, mine.Description, "Digit Over")

	// active preset resolution: none set → first default; set → the chosen one
	active, err := presets.GetActive("u-1")
	require.NoError(t, err)
	assert.True(t, active.IsDefault)

	require.NoError(t, presets.SetActive("u-1", "my-digits"))
	active, err = presets.GetActive("u-1")
	require.NoError(t, err)
	assert.Equal(t, "my-digits", active.ID)

	// updating config round-trips through ParseConfig/SetConfig
	cfg, err := mine.ParseConfig()
	require.NoError(t, err)
	cfg.Risk.TakeProfit = 100
	require.NoError(t, mine.SetConfig(cfg))
	require.NoError(t, presets.Update(mine))

	got, err := presets.Get("u-1", "my-digits")
	require.NoError(t, err)
	cfg2, err := got.ParseConfig()
	require.NoError(t, err)
	assert.InDelta(t, 100.0, cfg2.Risk.TakeProfit, 1e-9)

	require.NoError(t, presets.Delete("u-1", "my-digits"))
	_, err = presets.Get("u-1", "my-digits")
	assert.Error(t, err)
}

func TestInviteStore(t *testing.T) {
	s := newTestStore(t)
	invites := s.Invite()

	codes, err := invites.Generate(3)
	require.NoError(t, err)
	require.Len(t, codes, 3)

	ok, err := invites.Validate(codes[0])
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = invites.Validate("never-issued")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, invites.Consume(codes[0], "trader@example.com"))

	// consuming twice fails, validation now fails too
	err = invites.Consume(codes[0], "other@example.com")
	assert.Error(t, err)
	ok, _ = invites.Validate(codes[0])
	assert.False(t, ok)

	total, used, err := invites.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Equal(t, 1, used)

	list, err := invites.List()
	require.NoError(t, err)
	assert.Len(t, list, 3)
}

func TestInviteStoreLoadFromFile(t *testing.T) {
	s := newTestStore(t)

	path := filepath.Join(t.TempDir(), "codes.txt")
	content := "# comment line\nalpha-code\n\nbeta-code\nalpha-code\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	require.NoError(t, s.Invite().LoadFromFile(path))

	total, used, err := s.Invite().GetStats()
	require.NoError(t, err)
	assert.Equal(t, 2, total, "comments, blanks and duplicates are skipped")
	assert.Equal(t, 0, used)
}
