package market

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"dtrader/deriv"
	"dtrader/metrics"
)

// DefaultCapacity is the per-symbol tick window size.
const DefaultCapacity = 1000

// TickMonitor keeps a rolling tick window per symbol over one shared public
// connection. Traders and the API read from it instead of opening their own
// market-data streams.
type TickMonitor struct {
	client   *deriv.Client
	capacity int

	ringMap sync.Map // symbol -> *tickRing
	subMap  sync.Map // symbol -> *deriv.TickSub

	subMu   sync.Mutex // serializes subscribe/warmup per symbol
	stopMu  sync.Mutex
	stopped bool
}

// Monitor is the process-wide tick monitor, set by NewTickMonitor.
var Monitor *TickMonitor

func NewTickMonitor(client *deriv.Client, capacity int) *TickMonitor {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	Monitor = &TickMonitor{client: client, capacity: capacity}
	return Monitor
}

// Start warms up and subscribes the initial symbol set. Symbols that fail
// are logged and skipped; traders can still pull them in later on demand.
func (m *TickMonitor) Start(ctx context.Context, symbols []string) error {
	log.Printf("Starting tick monitor (%d symbols, window %d)...", len(symbols), m.capacity)
	var failed int
	for _, symbol := range symbols {
		if err := m.EnsureSymbol(ctx, symbol); err != nil {
			log.Printf("❌ Failed to initialize %s: %v", symbol, err)
			failed++
		}
	}
	if failed == len(symbols) && len(symbols) > 0 {
		return fmt.Errorf("no symbol could be initialized")
	}
	log.Println("All symbol subscriptions completed")
	return nil
}

// EnsureSymbol makes a symbol available: loads its tick history into the
// window, then subscribes the live stream. Safe to call for a symbol that
// is already monitored.
func (m *TickMonitor) EnsureSymbol(ctx context.Context, symbol string) error {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return fmt.Errorf("empty symbol")
	}
	if _, ok := m.ringMap.Load(symbol); ok {
		return nil
	}

	m.subMu.Lock()
	defer m.subMu.Unlock()
	if _, ok := m.ringMap.Load(symbol); ok {
		return nil
	}

	// history first so strategies see a full window immediately
	ticks, err := m.client.TicksHistory(ctx, symbol, m.capacity)
	if err != nil {
		return fmt.Errorf("warm up %s: %w", symbol, err)
	}

	ring := newTickRing(m.capacity)
	ring.replace(ticks)
	m.ringMap.Store(symbol, ring)

	sub, err := m.client.SubscribeTicks(ctx, symbol)
	if err != nil {
		m.ringMap.Delete(symbol)
		return fmt.Errorf("subscribe %s: %w", symbol, err)
	}
	m.subMap.Store(symbol, sub)
	go m.consume(symbol, ring, sub)

	log.Printf("Loaded %s tick history: %d entries", symbol, len(ticks))
	return nil
}

// consume appends stream ticks to the window until the stream ends. A stream
// that dies while the monitor is still running is resubscribed once; the
// deriv client already replays streams across reconnects, so this only fires
// when a replay was rejected.
func (m *TickMonitor) consume(symbol string, ring *tickRing, sub *deriv.TickSub) {
	for tick := range sub.C {
		ring.push(tick)
		metrics.TicksTotal.WithLabelValues(symbol).Inc()
	}

	m.subMap.Delete(symbol)
	if m.isStopped() {
		return
	}

	log.Printf("⚠️ Tick stream for %s ended, resubscribing...", symbol)
	m.ringMap.Delete(symbol)
	time.Sleep(2 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := m.EnsureSymbol(ctx, symbol); err != nil {
		log.Printf("❌ Resubscribe %s failed: %v", symbol, err)
	}
}

// Rewarm refetches history for every monitored symbol so the windows stay
// contiguous across a reconnect gap. Wire it to the client's OnReconnect.
func (m *TickMonitor) Rewarm() {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	count := 0
	m.ringMap.Range(func(key, value interface{}) bool {
		symbol := key.(string)
		ring := value.(*tickRing)

		ticks, err := m.client.TicksHistory(ctx, symbol, m.capacity)
		if err != nil {
			log.Printf("⚠️ Re-warm %s failed: %v", symbol, err)
			return true
		}
		ring.replace(ticks)
		count++
		return true
	})
	log.Printf("🔄 Re-warmed %d tick windows after reconnect", count)
}

// ============================================================================
// Readers
// ============================================================================

// LastTicks returns a copy of the newest n ticks for a symbol, subscribing
// it on the fly when it isn't monitored yet.
func (m *TickMonitor) LastTicks(symbol string, n int) ([]deriv.Tick, error) {
	ring, err := m.ring(symbol)
	if err != nil {
		return nil, err
	}
	return ring.last(n), nil
}

// LastDigits returns the last digits of the newest n ticks, oldest first.
func (m *TickMonitor) LastDigits(symbol string, n int) ([]int, error) {
	ticks, err := m.LastTicks(symbol, n)
	if err != nil {
		return nil, err
	}
	digits := make([]int, len(ticks))
	for i, t := range ticks {
		digits[i] = LastDigit(t)
	}
	return digits, nil
}

// Digits returns the digit distribution over the newest n ticks.
func (m *TickMonitor) Digits(symbol string, n int) (DigitStats, error) {
	ticks, err := m.LastTicks(symbol, n)
	if err != nil {
		return DigitStats{}, err
	}
	return ComputeDigitStats(ticks), nil
}

// LastQuote returns the newest tick for a symbol without subscribing it.
func (m *TickMonitor) LastQuote(symbol string) (deriv.Tick, bool) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	value, ok := m.ringMap.Load(symbol)
	if !ok {
		return deriv.Tick{}, false
	}
	ticks := value.(*tickRing).last(1)
	if len(ticks) == 0 {
		return deriv.Tick{}, false
	}
	return ticks[0], true
}

// WindowSize reports how many ticks a symbol's window currently holds.
func (m *TickMonitor) WindowSize(symbol string) int {
	value, ok := m.ringMap.Load(strings.ToUpper(strings.TrimSpace(symbol)))
	if !ok {
		return 0
	}
	return value.(*tickRing).size()
}

// Symbols lists the symbols currently monitored.
func (m *TickMonitor) Symbols() []string {
	var symbols []string
	m.ringMap.Range(func(key, _ interface{}) bool {
		symbols = append(symbols, key.(string))
		return true
	})
	return symbols
}

func (m *TickMonitor) ring(symbol string) (*tickRing, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if value, ok := m.ringMap.Load(symbol); ok {
		return value.(*tickRing), nil
	}

	// not monitored yet: warm up and subscribe on demand, the same
	// path traders hit when they start on a fresh symbol
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := m.EnsureSymbol(ctx, symbol); err != nil {
		return nil, err
	}
	value, ok := m.ringMap.Load(symbol)
	if !ok {
		return nil, fmt.Errorf("symbol %s not available", symbol)
	}
	return value.(*tickRing), nil
}

// ============================================================================
// Lifecycle
// ============================================================================

func (m *TickMonitor) isStopped() bool {
	m.stopMu.Lock()
	defer m.stopMu.Unlock()
	return m.stopped
}

// Stop forgets every stream and stops resubscribing.
func (m *TickMonitor) Stop() {
	m.stopMu.Lock()
	m.stopped = true
	m.stopMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	m.subMap.Range(func(key, value interface{}) bool {
		if err := value.(*deriv.TickSub).Forget(ctx); err != nil {
			log.Printf("⚠️ Forget %s failed: %v", key.(string), err)
		}
		m.subMap.Delete(key)
		return true
	})
	log.Println("Tick monitor stopped")
}
