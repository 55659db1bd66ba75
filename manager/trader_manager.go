// Package manager owns the live trade engines: loading them from stored
// configs, starting the ones marked running, and tearing everything down
// on shutdown.
package manager

import (
	"fmt"
	"sync"

	"dtrader/logger"
	"dtrader/market"
	"dtrader/notify"
	"dtrader/store"
	"dtrader/trader"
)

// TraderManager is the concurrent-safe registry of live engines, keyed by
// trader id.
type TraderManager struct {
	mu      sync.RWMutex
	traders map[string]*trader.AutoTrader

	store    *store.Store
	notifier notify.Notifier
}

// NewTraderManager creates an empty registry.
func NewTraderManager() *TraderManager {
	return &TraderManager{
		traders: make(map[string]*trader.AutoTrader),
	}
}

// SetDeps wires the dependencies engines are built with. Must be called
// before any Load.
func (tm *TraderManager) SetDeps(st *store.Store, notifier notify.Notifier) {
	tm.store = st
	tm.notifier = notifier
}

// AddTrader registers an engine. An engine already registered under the
// same id is replaced; replacing a running engine is the caller's bug, so
// it is rejected.
func (tm *TraderManager) AddTrader(at *trader.AutoTrader) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if existing, ok := tm.traders[at.GetID()]; ok && existing.IsRunning() {
		return fmt.Errorf("trader %s is running, stop it before replacing", at.GetID())
	}
	tm.traders[at.GetID()] = at
	return nil
}

// GetTrader returns the engine for an id.
func (tm *TraderManager) GetTrader(id string) (*trader.AutoTrader, error) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	at, ok := tm.traders[id]
	if !ok {
		return nil, fmt.Errorf("trader %s not loaded", id)
	}
	return at, nil
}

// RemoveTrader drops an engine from the registry. Removing an id that is
// not registered is a no-op; a running engine is stopped first.
func (tm *TraderManager) RemoveTrader(id string) {
	tm.mu.Lock()
	at, ok := tm.traders[id]
	delete(tm.traders, id)
	tm.mu.Unlock()

	if ok && at != nil && at.IsRunning() {
		at.Stop()
	}
}

// Count returns the number of loaded engines.
func (tm *TraderManager) Count() int {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return len(tm.traders)
}

// ListUserTraders returns the loaded engines owned by a user.
func (tm *TraderManager) ListUserTraders(userID string) []*trader.AutoTrader {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	var out []*trader.AutoTrader
	for _, at := range tm.traders {
		if at.GetUserID() == userID {
			out = append(out, at)
		}
	}
	return out
}

// LoadTrader builds (or rebuilds) the engine for a stored trader and
// registers it. The stored inline config plus its preset and account are
// resolved through the store; decrypt failures surface here, before any
// broker traffic.
func (tm *TraderManager) LoadTrader(userID, traderID string) (*trader.AutoTrader, error) {
	if tm.store == nil {
		return nil, fmt.Errorf("trader manager has no store wired")
	}

	fc, err := tm.store.Trader().GetFullConfig(userID, traderID)
	if err != nil {
		return nil, fmt.Errorf("load trader %s: %w", traderID, err)
	}

	cfg, err := trader.ConfigFromStore(fc)
	if err != nil {
		return nil, err
	}

	at, err := trader.NewAutoTrader(cfg, fc.Account, market.Monitor, tm.store, tm.notifier)
	if err != nil {
		return nil, err
	}
	if err := tm.AddTrader(at); err != nil {
		return nil, err
	}
	return at, nil
}

// LoadUserTradersFromStore loads every stored trader of one user. Engines
// that fail to build are logged and skipped so one broken config cannot
// block the rest.
func (tm *TraderManager) LoadUserTradersFromStore(userID string) error {
	if tm.store == nil {
		return fmt.Errorf("trader manager has no store wired")
	}

	rows, err := tm.store.Trader().List(userID)
	if err != nil {
		return fmt.Errorf("list traders for %s: %w", userID, err)
	}

	for _, row := range rows {
		if _, ok := tm.peek(row.ID); ok {
			continue
		}
		if _, err := tm.LoadTrader(userID, row.ID); err != nil {
			logger.Warnf("⚠️ Skipping trader %s (%s): %v", row.ID, row.Name, err)
		}
	}
	return nil
}

// LoadTradersFromStore loads every stored trader across users. Called once
// at boot.
func (tm *TraderManager) LoadTradersFromStore() error {
	if tm.store == nil {
		return fmt.Errorf("trader manager has no store wired")
	}

	userIDs, err := tm.store.User().GetAllIDs()
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}

	for _, userID := range userIDs {
		if err := tm.LoadUserTradersFromStore(userID); err != nil {
			logger.Warnf("⚠️ Loading traders for user %s: %v", userID, err)
		}
	}
	logger.Infof("Loaded %d trader(s) from store", tm.Count())
	return nil
}

// AutoStartRunningTraders restarts every trader the store still marks
// running: the process died mid-session and the dashboard expects those
// sessions back.
func (tm *TraderManager) AutoStartRunningTraders() {
	if tm.store == nil {
		return
	}

	rows, err := tm.store.Trader().ListAll()
	if err != nil {
		logger.Warnf("⚠️ Auto-start: list traders: %v", err)
		return
	}

	started := 0
	for _, row := range rows {
		if !row.IsRunning {
			continue
		}
		at, err := tm.GetTrader(row.ID)
		if err != nil {
			at, err = tm.LoadTrader(row.UserID, row.ID)
		}
		if err != nil {
			logger.Warnf("⚠️ Auto-start trader %s: %v", row.ID, err)
			continue
		}
		go func(at *trader.AutoTrader) {
			if err := at.Run(); err != nil {
				logger.Errorf("❌ Trader %s exited: %v", at.GetID(), err)
			}
		}(at)
		started++
	}
	if started > 0 {
		logger.Infof("🚀 Auto-started %d trader(s)", started)
	}
}

// StopAll stops every running engine and waits for each to drain.
func (tm *TraderManager) StopAll() {
	tm.mu.RLock()
	engines := make([]*trader.AutoTrader, 0, len(tm.traders))
	for _, at := range tm.traders {
		engines = append(engines, at)
	}
	tm.mu.RUnlock()

	var wg sync.WaitGroup
	for _, at := range engines {
		if !at.IsRunning() {
			continue
		}
		wg.Add(1)
		go func(at *trader.AutoTrader) {
			defer wg.Done()
			at.Stop()
		}(at)
	}
	wg.Wait()
	logger.Info("All traders stopped")
}

func (tm *TraderManager) peek(id string) (*trader.AutoTrader, bool) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	at, ok := tm.traders[id]
	return at, ok
}
