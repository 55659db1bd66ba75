package trader

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"dtrader/kernel"
	"dtrader/store"
	"dtrader/strategy"
)

// Config is everything one engine needs to trade a single symbol.
type Config struct {
	ID       string
	UserID   string
	Name     string
	Symbol   string
	Strategy string // registry name, e.g. "risefall"
	Params   strategy.Params
	Plan     kernel.StakingPlan
	Currency string

	// session stop conditions; zero disables the check
	StopLoss             float64
	TakeProfit           float64
	MaxConsecutiveLosses int
	PauseBetweenTrades   time.Duration
}

// ConfigFromStore builds an engine config from a stored trader. The inline
// trader columns are authoritative; blanks fall back to the referenced preset,
// the currency comes from the bound broker account.
func ConfigFromStore(fc *store.TraderFullConfig) (Config, error) {
	tr := fc.Trader
	if tr == nil {
		return Config{}, fmt.Errorf("trader config has no trader record")
	}

	cfg := Config{
		ID:                   tr.ID,
		UserID:               tr.UserID,
		Name:                 tr.Name,
		Symbol:               strings.ToUpper(strings.TrimSpace(tr.Symbol)),
		Strategy:             tr.StrategyName,
		StopLoss:             tr.StopLoss,
		TakeProfit:           tr.TakeProfit,
		MaxConsecutiveLosses: tr.MaxConsecutiveLosses,
		PauseBetweenTrades:   time.Duration(tr.PauseBetweenTrades) * time.Second,
	}

	paramsInline := hasJSON(tr.StrategyParams)
	if paramsInline {
		if err := json.Unmarshal([]byte(tr.StrategyParams), &cfg.Params); err != nil {
			return Config{}, fmt.Errorf("trader %s: strategy params: %w", tr.ID, err)
		}
	}
	stakingInline := hasJSON(tr.Staking)
	if stakingInline {
		if err := json.Unmarshal([]byte(tr.Staking), &cfg.Plan); err != nil {
			return Config{}, fmt.Errorf("trader %s: staking plan: %w", tr.ID, err)
		}
	}

	if fc.Strategy != nil {
		preset, err := fc.Strategy.ParseConfig()
		if err != nil {
			return Config{}, fmt.Errorf("trader %s: preset %s: %w", tr.ID, fc.Strategy.ID, err)
		}
		if cfg.Strategy == "" {
			cfg.Strategy = preset.Strategy
		}
		if !paramsInline && len(preset.Params) > 0 {
			if err := json.Unmarshal(preset.Params, &cfg.Params); err != nil {
				return Config{}, fmt.Errorf("trader %s: preset params: %w", tr.ID, err)
			}
		}
		if !stakingInline && preset.Staking.Mode != "" {
			cfg.Plan = preset.Staking
		}
		if cfg.StopLoss == 0 {
			cfg.StopLoss = preset.Risk.StopLoss
		}
		if cfg.TakeProfit == 0 {
			cfg.TakeProfit = preset.Risk.TakeProfit
		}
		if cfg.MaxConsecutiveLosses == 0 {
			cfg.MaxConsecutiveLosses = preset.Risk.MaxConsecutiveLosses
		}
		if cfg.PauseBetweenTrades == 0 && preset.Risk.PauseBetweenTrades > 0 {
			cfg.PauseBetweenTrades = time.Duration(preset.Risk.PauseBetweenTrades) * time.Second
		}
	}

	if fc.Account != nil && fc.Account.Currency != "" {
		cfg.Currency = fc.Account.Currency
	}
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	if cfg.Plan.Mode == "" {
		// nothing configured anywhere: trade flat at the broker minimum
		cfg.Plan = kernel.StakingPlan{Mode: kernel.ModeFlat, BaseStake: 0.35}
	}

	return cfg, nil
}

// hasJSON reports whether a JSON column actually carries a document.
func hasJSON(s string) bool {
	s = strings.TrimSpace(s)
	return s != "" && s != "{}" && s != "null"
}
