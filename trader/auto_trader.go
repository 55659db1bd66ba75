// Package trader runs the trade engines: one AutoTrader per configured
// trader, each driving a dedicated broker session through the strict
// propose -> buy -> settle -> pause cycle, plus the sync manager that
// settles contracts the engines lost track of.
package trader

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"dtrader/deriv"
	"dtrader/kernel"
	"dtrader/logger"
	"dtrader/metrics"
	"dtrader/notify"
	"dtrader/store"
	"dtrader/strategy"
)

// Stop reasons an engine can exit the session loop with.
const (
	StopReasonManual     = "stopped manually"
	StopReasonStopLoss   = "session stop-loss reached"
	StopReasonTakeProfit = "session take-profit reached"
	StopReasonLossStreak = "max consecutive losses reached"
	StopReasonStakeCap   = "staking ladder cap reached"
	StopReasonTerminal   = "broker session terminated"
)

// settleWait bounds how long Stop waits for an in-flight contract.
const settleWait = 60 * time.Second

// buyRetries is how often a stale quote is re-priced before giving up on
// the signal.
const buyRetries = 3

// SessionTotals accumulates one trading session. Reset on Run, snapshotted
// to the session store after every settle.
type SessionTotals struct {
	StartedAt         time.Time `json:"started_at"`
	Stake             float64   `json:"stake"`  // total placed
	Payout            float64   `json:"payout"` // total returned
	Profit            float64   `json:"profit"`
	Runs              int       `json:"runs"` // settled contracts
	Wins              int       `json:"wins"`
	Losses            int       `json:"losses"`
	ConsecutiveLosses int       `json:"consecutive_losses"`
	ConsecutiveWins   int       `json:"consecutive_wins"`
	Step              int       `json:"step"` // current ladder rung
	LastContractID    int64     `json:"last_contract_id"`
	LastProfit        float64   `json:"last_profit"`
}

// AutoTrader is one trade engine: a single symbol, a single strategy, a
// single staking ladder, at most one open contract at a time.
type AutoTrader struct {
	cfg  Config
	dial func(ctx context.Context) (API, error)

	window   Window
	store    *store.Store
	notifier notify.Notifier
	strat    strategy.Strategy

	isRunning atomic.Bool
	stopCh    chan struct{}
	stopOnce  sync.Once
	doneCh    chan struct{}

	mu         sync.RWMutex
	api        API // live session, nil outside Run
	session    SessionTotals
	stake      kernel.StakeState
	balance    float64
	loginID    string
	openID     int64 // broker contract id currently awaited, 0 = none
	lastError  string
	stopReason string
}

// NewAutoTrader builds an engine from a resolved config and its broker
// account. The staking plan and strategy are validated here so a broken
// config fails at creation, not mid-session.
func NewAutoTrader(cfg Config, account *store.DerivAccount, window Window, st *store.Store, notifier notify.Notifier) (*AutoTrader, error) {
	if cfg.Symbol == "" {
		return nil, fmt.Errorf("trader %s: no symbol configured", cfg.ID)
	}
	if err := cfg.Plan.Validate(); err != nil {
		return nil, fmt.Errorf("trader %s: staking plan: %w", cfg.ID, err)
	}
	strat, err := strategy.New(cfg.Strategy, cfg.Params)
	if err != nil {
		return nil, fmt.Errorf("trader %s: %w", cfg.ID, err)
	}
	if notifier == nil {
		notifier = notify.NewLogNotifier()
	}

	return &AutoTrader{
		cfg: cfg,
		dial: func(ctx context.Context) (API, error) {
			return Dial(ctx, account)
		},
		window:   window,
		store:    st,
		notifier: notifier,
		strat:    strat,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// GetID returns the trader id.
func (at *AutoTrader) GetID() string { return at.cfg.ID }

// GetUserID returns the owning user id.
func (at *AutoTrader) GetUserID() string { return at.cfg.UserID }

// GetName returns the display name.
func (at *AutoTrader) GetName() string { return at.cfg.Name }

// IsRunning reports whether the session loop is live.
func (at *AutoTrader) IsRunning() bool { return at.isRunning.Load() }

// ============================================================================
// Session Loop
// ============================================================================

// Run connects the broker session and trades until Stop, a stop condition
// or a terminal broker error. It is the goroutine body; a second concurrent
// Run is rejected.
func (at *AutoTrader) Run() error {
	if !at.isRunning.CompareAndSwap(false, true) {
		return fmt.Errorf("trader %s is already running", at.cfg.ID)
	}
	select {
	case <-at.stopCh:
		// engines are single-use: a stopped one is rebuilt from the store
		at.isRunning.Store(false)
		return fmt.Errorf("trader %s was stopped; reload it to run again", at.cfg.ID)
	default:
	}
	defer func() {
		at.isRunning.Store(false)
		close(at.doneCh)
		at.persistExit()
	}()

	logger.Infof("🚀 Trader %s (%s) starting: %s on %s", at.cfg.ID, at.cfg.Name, at.cfg.Strategy, at.cfg.Symbol)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	api, err := at.dial(ctx)
	cancel()
	if err != nil {
		at.setError(fmt.Sprintf("connect: %v", err))
		return err
	}
	defer api.Close()

	at.mu.Lock()
	at.api = api
	at.session = SessionTotals{StartedAt: time.Now()}
	at.stake = kernel.StakeState{}
	at.stopReason = ""
	at.lastError = ""
	at.mu.Unlock()

	if err := at.prepare(api); err != nil {
		at.setError(err.Error())
		return err
	}

	for {
		select {
		case <-at.stopCh:
			at.setStopReason(StopReasonManual)
			return nil
		default:
		}

		if err := at.cycle(api); err != nil {
			if deriv.IsTerminal(err) {
				at.setError(err.Error())
				at.setStopReason(StopReasonTerminal)
				at.notify(notify.LevelCritical, "Trader stopped",
					fmt.Sprintf("%s: broker session terminated: %v", at.cfg.Name, err))
				return err
			}
			logger.Warnf("⚠️ Trader %s: %v", at.cfg.ID, err)
			if apiErr, ok := deriv.AsAPIError(err); ok {
				metrics.APIErrors.WithLabelValues(apiErr.Code).Inc()
			}
			// transient: back off one poll interval and try again
			if !at.sleep(5 * time.Second) {
				at.setStopReason(StopReasonManual)
				return nil
			}
			continue
		}

		if reason := at.stopConditionHit(); reason != "" {
			at.setStopReason(reason)
			at.notify(notify.LevelWarning, "Session stopped",
				fmt.Sprintf("%s: %s (profit %.2f after %d trades)", at.cfg.Name, reason, at.Session().Profit, at.Session().Runs))
			return nil
		}

		if at.cfg.PauseBetweenTrades > 0 && !at.sleep(at.cfg.PauseBetweenTrades) {
			at.setStopReason(StopReasonManual)
			return nil
		}
	}
}

// prepare authorizes the session and warms the strategy window.
func (at *AutoTrader) prepare(api API) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	auth, err := api.Authorize(ctx)
	if err != nil {
		return fmt.Errorf("authorize: %w", err)
	}
	at.mu.Lock()
	at.loginID = auth.LoginID
	at.balance = auth.Balance
	at.mu.Unlock()

	if err := at.window.EnsureSymbol(ctx, at.cfg.Symbol); err != nil {
		return fmt.Errorf("market data for %s: %w", at.cfg.Symbol, err)
	}

	logger.Infof("Trader %s authorized as %s (balance %.2f %s)", at.cfg.ID, auth.LoginID, auth.Balance, auth.Currency)
	return nil
}

// cycle runs one propose -> buy -> settle pass. A nil signal is not an
// error; the engine just waits for the next tick.
func (at *AutoTrader) cycle(api API) error {
	sig, err := at.nextSignal()
	if err != nil {
		return err
	}
	if sig == nil {
		if !at.sleep(time.Second) {
			return nil
		}
		return nil
	}

	buy, stake, err := at.purchase(api, sig)
	if err != nil {
		return err
	}

	state, err := at.watchContract(api, buy.ContractID)
	if err != nil {
		return err
	}
	if state != nil {
		at.settle(state, stake)
	}
	return nil
}

// nextSignal asks the strategy for a trade once the window holds enough
// ticks. Short windows right after a start or a reconnect produce no signal
// rather than a decision over a gap.
func (at *AutoTrader) nextSignal() (*strategy.Signal, error) {
	warmup := at.strat.Warmup()
	if at.window.WindowSize(at.cfg.Symbol) < warmup {
		return nil, nil
	}

	n := warmup
	if n < 2 {
		n = 2
	}
	ticks, err := at.window.LastTicks(at.cfg.Symbol, n)
	if err != nil {
		return nil, fmt.Errorf("tick window: %w", err)
	}
	digits, err := at.window.LastDigits(at.cfg.Symbol, n)
	if err != nil {
		return nil, fmt.Errorf("digit window: %w", err)
	}
	if len(ticks) < warmup {
		return nil, nil
	}
	return at.strat.Next(ticks, digits), nil
}

// purchase prices and buys one contract for a signal. The stake comes from
// the staking ladder; a stale quote is re-priced up to buyRetries times.
// The contract row is persisted OPEN before the engine starts waiting on it.
func (at *AutoTrader) purchase(api API, sig *strategy.Signal) (*deriv.Buy, float64, error) {
	stake := at.cfg.Plan.NextStake(at.stakeState())

	at.mu.RLock()
	balance := at.balance
	at.mu.RUnlock()
	if balance > 0 && stake > balance {
		return nil, 0, &deriv.APIError{
			Code:    deriv.CodeInsufficientBalance,
			Message: fmt.Sprintf("stake %.2f exceeds balance %.2f", stake, balance),
		}
	}

	req := deriv.ProposalRequest{
		ContractType:  sig.ContractType,
		Symbol:        at.cfg.Symbol,
		Amount:        stake,
		Currency:      at.cfg.Currency,
		DurationTicks: sig.DurationTicks,
		Barrier:       sig.Barrier,
	}

	var buy *deriv.Buy
	for attempt := 0; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		prop, err := api.Proposal(ctx, req)
		cancel()
		if err != nil {
			return nil, 0, fmt.Errorf("proposal: %w", err)
		}
		if prop.Payout <= 0 {
			return nil, 0, fmt.Errorf("proposal for %s priced without payout", sig.ContractType)
		}

		ctx, cancel = context.WithTimeout(context.Background(), 15*time.Second)
		buy, err = api.Buy(ctx, prop.ID, prop.AskPrice)
		cancel()
		if err == nil {
			break
		}
		if deriv.IsPriceMoved(err) && attempt < buyRetries {
			logger.Debugf("Trader %s: quote moved, re-pricing (%d/%d)", at.cfg.ID, attempt+1, buyRetries)
			continue
		}
		return nil, 0, fmt.Errorf("buy: %w", err)
	}

	entrySpot := 0.0
	if tick, ok := at.lastQuote(); ok {
		entrySpot = tick.Quote
	}

	// persist before acting on the purchase so a crash cannot orphan it
	if err := at.store.Contract().Create(&store.Contract{
		TraderID:      at.cfg.ID,
		UserID:        at.cfg.UserID,
		ContractID:    buy.ContractID,
		Symbol:        at.cfg.Symbol,
		ContractType:  sig.ContractType,
		Stake:         stake,
		BuyPrice:      buy.BuyPrice,
		Payout:        buy.Payout,
		EntrySpot:     entrySpot,
		Barrier:       sig.Barrier,
		DurationTicks: sig.DurationTicks,
		Reason:        sig.Reason,
		PurchaseTime:  time.Unix(buy.PurchaseTime, 0),
	}); err != nil {
		logger.Errorf("❌ Trader %s: failed to record contract %d: %v", at.cfg.ID, buy.ContractID, err)
	}

	at.mu.Lock()
	at.openID = buy.ContractID
	if buy.BalanceAfter > 0 {
		at.balance = buy.BalanceAfter
	} else if at.balance > 0 {
		// broker omitted balance_after; debit the stake locally so the
		// affordability guard keeps tracking the real balance
		at.balance -= buy.BuyPrice
	}
	at.mu.Unlock()

	metrics.ContractsPurchased.WithLabelValues(at.cfg.Symbol, sig.ContractType).Inc()
	metrics.StakeVolume.Add(stake)

	logger.Infof("💰 Trader %s bought %s #%d: stake %.2f, payout %.2f (%s)",
		at.cfg.ID, sig.ContractType, buy.ContractID, buy.BuyPrice, buy.Payout, sig.Reason)
	return buy, stake, nil
}

// watchContract waits for the contract to reach a terminal state, first on
// the proposal_open_contract stream, then by polling when the stream dies.
// A nil state without error means the wait timed out; the sync manager
// owns the contract from there.
func (at *AutoTrader) watchContract(api API, contractID int64) (*deriv.OpenContract, error) {
	defer func() {
		at.mu.Lock()
		at.openID = 0
		at.mu.Unlock()
	}()

	// generous bound: tick contracts settle in seconds, so a contract that
	// is still open after this belongs to the sync sweep
	deadline := time.Now().Add(settleWait + 2*time.Second*time.Duration(at.cfg.Params.DurationTicks))

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	stream, err := api.SubscribeContract(ctx, contractID)
	cancel()
	if err != nil {
		logger.Warnf("⚠️ Trader %s: contract %d stream unavailable, polling: %v", at.cfg.ID, contractID, err)
		return at.pollContract(api, contractID, deadline)
	}

	for {
		select {
		case state, ok := <-stream.Updates():
			if !ok {
				// stream ended without a terminal state
				return at.pollContract(api, contractID, deadline)
			}
			if state.Settled() {
				fctx, fcancel := context.WithTimeout(context.Background(), 5*time.Second)
				_ = stream.Forget(fctx)
				fcancel()
				return &state, nil
			}
		case <-time.After(time.Until(deadline)):
			fctx, fcancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = stream.Forget(fctx)
			fcancel()
			logger.Warnf("⚠️ Trader %s: contract %d did not settle in time, leaving it to the sync sweep",
				at.cfg.ID, contractID)
			return nil, nil
		}
	}
}

// pollContract reads the contract state every 2 seconds until terminal or
// the deadline passes.
func (at *AutoTrader) pollContract(api API, contractID int64, deadline time.Time) (*deriv.OpenContract, error) {
	for time.Now().Before(deadline) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		state, err := api.OpenContractState(ctx, contractID)
		cancel()
		if err != nil {
			if deriv.IsTerminal(err) {
				return nil, err
			}
		} else if state.Settled() {
			return state, nil
		}
		if !at.sleep(2 * time.Second) {
			break
		}
	}
	return nil, nil
}

// ============================================================================
// Settlement
// ============================================================================

// classifySettle maps a terminal broker state onto the persisted row.
func classifySettle(state *deriv.OpenContract) (status string, sellPrice, profit, exitSpot float64) {
	profit = state.Profit
	sellPrice = state.SellPrice
	exitSpot = state.ExitTick
	if exitSpot == 0 {
		exitSpot = state.CurrentSpot
	}

	switch {
	case state.Status == deriv.StatusSold:
		status = store.ContractStatusSold
	case state.Won():
		status = store.ContractStatusWon
		if sellPrice == 0 {
			sellPrice = state.Payout
		}
	default:
		status = store.ContractStatusLost
	}
	return status, sellPrice, profit, exitSpot
}

// settleTime prefers the broker's sell timestamp over the local clock.
func settleTime(state *deriv.OpenContract) time.Time {
	if state.SellTime > 0 {
		return time.Unix(state.SellTime, 0)
	}
	return time.Now()
}

// settle books a terminal contract state: persist it, advance the staking
// ladder and session totals, snapshot the session. The ladder only moves
// when MarkSettled actually applied, so a contract the sync sweep already
// settled cannot advance it twice.
func (at *AutoTrader) settle(state *deriv.OpenContract, stake float64) {
	status, sellPrice, profit, exitSpot := classifySettle(state)

	applied, err := at.store.Contract().MarkSettled(at.cfg.ID, state.ContractID, status, sellPrice, profit, exitSpot, settleTime(state))
	if err != nil {
		logger.Errorf("❌ Trader %s: settle contract %d: %v", at.cfg.ID, state.ContractID, err)
		return
	}
	if !applied {
		logger.Debugf("Trader %s: contract %d already settled", at.cfg.ID, state.ContractID)
		return
	}

	won := status == store.ContractStatusWon || (status == store.ContractStatusSold && profit > 0)
	nextState, capHit := at.cfg.Plan.Advance(at.stakeState(), won, profit)

	at.mu.Lock()
	at.stake = nextState
	at.session.Runs++
	at.session.Stake += stake
	at.session.Payout += sellPrice
	at.session.Profit += profit
	at.session.LastContractID = state.ContractID
	at.session.LastProfit = profit
	switch {
	case profit > 0:
		at.session.Wins++
		at.session.ConsecutiveWins = nextState.ConsecutiveWins
		at.session.ConsecutiveLosses = 0
	case profit < 0:
		at.session.Losses++
		at.session.ConsecutiveLosses = nextState.ConsecutiveLosses
		at.session.ConsecutiveWins = 0
	}
	at.session.Step = nextState.Step
	// the stake left the balance at purchase, so the settle credits the
	// full sell price, not just the profit
	at.balance += sellPrice
	if capHit && at.cfg.Plan.OnCap == kernel.OnCapStop {
		at.stopReason = StopReasonStakeCap
	}
	session := at.session
	balance := at.balance
	at.mu.Unlock()

	result := "lost"
	emoji := "🔴"
	if won {
		result = "won"
		emoji = "🟢"
	} else if status == store.ContractStatusSold {
		result = "sold"
		emoji = "🟡"
	}
	metrics.ContractsSettled.WithLabelValues(result).Inc()
	metrics.ProfitTotal.Add(profit)

	logger.Infof("%s Trader %s contract #%d %s: profit %+.2f (session %+.2f, step %d)",
		emoji, at.cfg.ID, state.ContractID, result, profit, session.Profit, session.Step)

	if err := at.store.Session().Record(&store.SessionSnapshot{
		TraderID:      at.cfg.ID,
		Timestamp:     time.Now(),
		Balance:       balance,
		SessionProfit: session.Profit,
		TotalTrades:   session.Runs,
		Wins:          session.Wins,
		Losses:        session.Losses,
		Step:          session.Step,
	}); err != nil {
		logger.Warnf("⚠️ Trader %s: session snapshot: %v", at.cfg.ID, err)
	}

	at.notify(notify.LevelInfo, fmt.Sprintf("Contract %s", result),
		fmt.Sprintf("%s: %s #%d %s, profit %+.2f %s (session %+.2f)",
			at.cfg.Name, state.ContractType, state.ContractID, result, profit, at.cfg.Currency, session.Profit))
}

// stopConditionHit checks the session against the configured limits and
// returns the stop reason, or "" to keep trading.
func (at *AutoTrader) stopConditionHit() string {
	at.mu.RLock()
	defer at.mu.RUnlock()

	if at.stopReason != "" {
		return at.stopReason
	}
	if at.cfg.StopLoss > 0 && at.session.Profit <= -at.cfg.StopLoss {
		return StopReasonStopLoss
	}
	if at.cfg.TakeProfit > 0 && at.session.Profit >= at.cfg.TakeProfit {
		return StopReasonTakeProfit
	}
	if at.cfg.MaxConsecutiveLosses > 0 && at.session.ConsecutiveLosses >= at.cfg.MaxConsecutiveLosses {
		return StopReasonLossStreak
	}
	return ""
}

// ============================================================================
// Control Surface
// ============================================================================

// Stop ends the session loop. Purchasing stops immediately; an in-flight
// contract is given settleWait to resolve before Stop returns.
func (at *AutoTrader) Stop() {
	at.stopOnce.Do(func() { close(at.stopCh) })
	if !at.isRunning.Load() {
		return
	}
	select {
	case <-at.doneCh:
	case <-time.After(settleWait):
		logger.Warnf("⚠️ Trader %s did not drain within %s", at.cfg.ID, settleWait)
	}
}

// SellContract closes an open contract at market price on behalf of the
// dashboard. Settlement of the sold contract flows through the regular
// settle path (stream, poll, or sync sweep).
func (at *AutoTrader) SellContract(contractID int64) (*deriv.SellResult, error) {
	at.mu.RLock()
	api := at.api
	at.mu.RUnlock()
	if api == nil || !at.isRunning.Load() {
		return nil, fmt.Errorf("trader %s has no live broker session", at.cfg.ID)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	state, err := api.OpenContractState(ctx, contractID)
	if err != nil {
		return nil, fmt.Errorf("contract %d: %w", contractID, err)
	}
	if state.Settled() {
		return nil, fmt.Errorf("contract %d is already settled", contractID)
	}
	if state.IsValidToSell != 1 {
		return nil, fmt.Errorf("contract %d is not sellable right now", contractID)
	}

	// price 0 = sell at market
	res, err := api.Sell(ctx, contractID, 0)
	if err != nil {
		return nil, fmt.Errorf("sell contract %d: %w", contractID, err)
	}
	logger.Infof("🟡 Trader %s sold contract #%d for %.2f", at.cfg.ID, contractID, res.SoldFor)
	return res, nil
}

// GetStatus returns the dashboard status document.
func (at *AutoTrader) GetStatus() map[string]interface{} {
	at.mu.RLock()
	defer at.mu.RUnlock()

	return map[string]interface{}{
		"trader_id":     at.cfg.ID,
		"name":          at.cfg.Name,
		"symbol":        at.cfg.Symbol,
		"strategy":      at.cfg.Strategy,
		"is_running":    at.isRunning.Load(),
		"login_id":      at.loginID,
		"balance":       at.balance,
		"currency":      at.cfg.Currency,
		"open_contract": at.openID,
		"next_stake":    at.cfg.Plan.NextStake(at.stake),
		"session":       at.session,
		"stake_state":   at.stake,
		"stop_reason":   at.stopReason,
		"last_error":    at.lastError,
	}
}

// Session returns a copy of the session totals.
func (at *AutoTrader) Session() SessionTotals {
	at.mu.RLock()
	defer at.mu.RUnlock()
	return at.session
}

// ============================================================================
// Internals
// ============================================================================

func (at *AutoTrader) stakeState() kernel.StakeState {
	at.mu.RLock()
	defer at.mu.RUnlock()
	return at.stake
}

func (at *AutoTrader) lastQuote() (deriv.Tick, bool) {
	ticks, err := at.window.LastTicks(at.cfg.Symbol, 1)
	if err != nil || len(ticks) == 0 {
		return deriv.Tick{}, false
	}
	return ticks[0], true
}

// sleep waits d, returning false when Stop fired first.
func (at *AutoTrader) sleep(d time.Duration) bool {
	select {
	case <-at.stopCh:
		return false
	case <-time.After(d):
		return true
	}
}

func (at *AutoTrader) setError(msg string) {
	at.mu.Lock()
	at.lastError = msg
	at.mu.Unlock()
	logger.Errorf("❌ Trader %s: %s", at.cfg.ID, msg)
}

// notify pushes an event through the configured notifier without letting a
// slow backend stall the trading loop.
func (at *AutoTrader) notify(level notify.Level, title, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = at.notifier.Send(ctx, notify.Event{Level: level, Title: title, Message: message})
}

func (at *AutoTrader) setStopReason(reason string) {
	at.mu.Lock()
	if at.stopReason == "" {
		at.stopReason = reason
	}
	at.mu.Unlock()
	logger.Infof("🛑 Trader %s stopping: %s", at.cfg.ID, reason)
}

// persistExit records the final running state so a restart does not revive
// a trader that stopped itself.
func (at *AutoTrader) persistExit() {
	if at.store == nil {
		return
	}
	at.mu.RLock()
	reason := at.stopReason
	if at.lastError != "" {
		reason = at.lastError
	}
	at.mu.RUnlock()

	if err := at.store.Trader().UpdateStatus(at.cfg.UserID, at.cfg.ID, false); err != nil {
		logger.Warnf("⚠️ Trader %s: persist stop: %v", at.cfg.ID, err)
	}
	if reason != "" && reason != StopReasonManual {
		if err := at.store.Trader().SetLastError(at.cfg.ID, reason); err != nil {
			logger.Warnf("⚠️ Trader %s: persist stop reason: %v", at.cfg.ID, err)
		}
	}
}
