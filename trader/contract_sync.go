package trader

import (
	"context"
	"fmt"
	"sync"
	"time"

	"dtrader/deriv"
	"dtrader/logger"
	"dtrader/metrics"
	"dtrader/notify"
	"dtrader/store"
)

// syncGrace is how long a fresh OPEN row is left alone: the engine that
// bought it is still watching the stream.
const syncGrace = time.Minute

// forceExpireAfter is the age past the expected settle time at which an
// unreachable contract gets written off as lost.
const forceExpireAfter = 5 * time.Minute

// ContractSyncManager periodically sweeps OPEN contract rows and settles
// the ones their engines lost track of: engine crashes, dropped streams,
// process restarts. It is the safety net behind the per-engine watch; both
// paths settle through the same idempotent MarkSettled.
type ContractSyncManager struct {
	store    *store.Store
	dial     func(ctx context.Context, account *store.DerivAccount) (API, error)
	notifier notify.Notifier
	interval time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	clients map[string]API // account_id -> live session
}

// NewContractSyncManager creates the sweep with the given interval
// (default 10s).
func NewContractSyncManager(st *store.Store, notifier notify.Notifier, interval time.Duration) *ContractSyncManager {
	if interval == 0 {
		interval = 10 * time.Second
	}
	if notifier == nil {
		notifier = notify.NewLogNotifier()
	}
	return &ContractSyncManager{
		store:    st,
		dial:     Dial,
		notifier: notifier,
		interval: interval,
		stopCh:   make(chan struct{}),
		clients:  make(map[string]API),
	}
}

// Start launches the sweep loop.
func (m *ContractSyncManager) Start() {
	m.wg.Add(1)
	go m.run()
	logger.Info("📦 Contract sync manager started")
}

// Stop ends the sweep loop and closes every cached broker session.
func (m *ContractSyncManager) Stop() {
	close(m.stopCh)
	m.wg.Wait()

	m.mu.Lock()
	for id, client := range m.clients {
		client.Close()
		delete(m.clients, id)
	}
	m.mu.Unlock()

	logger.Info("📦 Contract sync manager stopped")
}

// InvalidateCache drops the cached session for an account, forcing the next
// sweep to redial it. Call after account credentials change.
func (m *ContractSyncManager) InvalidateCache(accountID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if client, ok := m.clients[accountID]; ok {
		client.Close()
		delete(m.clients, accountID)
	}
}

func (m *ContractSyncManager) run() {
	defer m.wg.Done()

	// first sweep immediately: restart recovery should not wait a tick
	m.sweep()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

// sweep settles every stale OPEN contract row.
func (m *ContractSyncManager) sweep() {
	contracts, err := m.store.Contract().GetOpenAll()
	if err != nil {
		logger.Warnf("⚠️ Contract sweep: load open contracts: %v", err)
		return
	}

	var stale []*store.Contract
	for _, c := range contracts {
		if time.Since(c.PurchaseTime) >= syncGrace {
			stale = append(stale, c)
		}
	}
	if len(stale) == 0 {
		return
	}

	logger.Infof("📦 Sweeping %d stale open contract(s)...", len(stale))

	byTrader := make(map[string][]*store.Contract)
	for _, c := range stale {
		byTrader[c.TraderID] = append(byTrader[c.TraderID], c)
	}

	for traderID, rows := range byTrader {
		m.syncTrader(traderID, rows)
	}
}

func (m *ContractSyncManager) syncTrader(traderID string, rows []*store.Contract) {
	fc, err := m.store.Trader().GetFullConfig(rows[0].UserID, traderID)
	if err != nil {
		logger.Warnf("⚠️ Contract sweep: config for trader %s: %v", traderID, err)
		return
	}
	if fc.Account == nil {
		logger.Warnf("⚠️ Contract sweep: trader %s has no broker account", traderID)
		return
	}

	client, err := m.clientFor(fc.Account)
	if err != nil {
		logger.Warnf("⚠️ Contract sweep: session for account %s: %v", fc.Account.ID, err)
		return
	}

	for _, row := range rows {
		if err := m.syncContract(client, row); err != nil {
			if deriv.IsTerminal(err) {
				// dead token: drop the session, stop touching this account
				m.InvalidateCache(fc.Account.ID)
				logger.Warnf("⚠️ Contract sweep: account %s session terminated: %v", fc.Account.ID, err)
				return
			}
			logger.Warnf("⚠️ Contract sweep: contract %d: %v", row.ContractID, err)
		}
	}
}

// syncContract resolves one OPEN row: settle it when the broker reports a
// terminal state, write it off when it is unreachable long past its expiry.
func (m *ContractSyncManager) syncContract(client API, row *store.Contract) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	state, err := client.OpenContractState(ctx, row.ContractID)
	cancel()

	if err == nil && state.Settled() {
		status, sellPrice, profit, exitSpot := classifySettle(state)
		applied, serr := m.store.Contract().MarkSettled(row.TraderID, row.ContractID, status, sellPrice, profit, exitSpot, settleTime(state))
		if serr != nil {
			return serr
		}
		if applied {
			result := "lost"
			if state.Won() {
				result = "won"
			} else if status == store.ContractStatusSold {
				result = "sold"
			}
			metrics.ContractsSettled.WithLabelValues(result).Inc()
			metrics.ProfitTotal.Add(profit)
			logger.Infof("📦 Swept contract #%d (trader %s): %s, profit %+.2f", row.ContractID, row.TraderID, result, profit)
		}
		return nil
	}

	if m.pastForceExpiry(row) {
		return m.forceExpire(row, err)
	}
	return err
}

// pastForceExpiry reports whether the row is so old that the contract must
// have settled broker-side even though we cannot read it.
func (m *ContractSyncManager) pastForceExpiry(row *store.Contract) bool {
	expected := row.PurchaseTime.Add(2 * time.Second * time.Duration(row.DurationTicks))
	return time.Since(expected) > forceExpireAfter
}

// forceExpire writes an unreachable, long-expired contract off as a full
// loss. Pessimistic on purpose: the martingale ladder must never assume a
// win it cannot verify.
func (m *ContractSyncManager) forceExpire(row *store.Contract, pollErr error) error {
	applied, err := m.store.Contract().MarkSettled(row.TraderID, row.ContractID, store.ContractStatusLost, 0, -row.BuyPrice, 0, time.Now())
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}

	metrics.ContractsSettled.WithLabelValues("expired").Inc()
	metrics.ProfitTotal.Add(-row.BuyPrice)
	logger.Warnf("⚠️ Force-expired contract #%d (trader %s) as lost after %s: %v",
		row.ContractID, row.TraderID, time.Since(row.PurchaseTime).Round(time.Second), pollErr)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = m.notifier.Send(ctx, notify.Event{
		Level: notify.LevelWarning,
		Title: "Contract force-expired",
		Message: fmt.Sprintf("Contract #%d on %s could not be verified and was written off as lost (%.2f)",
			row.ContractID, row.Symbol, row.BuyPrice),
	})
	return nil
}

// clientFor returns the cached session for an account, dialing on first use.
func (m *ContractSyncManager) clientFor(account *store.DerivAccount) (API, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if client, ok := m.clients[account.ID]; ok {
		return client, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	client, err := m.dial(ctx, account)
	if err != nil {
		return nil, err
	}
	m.clients[account.ID] = client
	return client, nil
}
