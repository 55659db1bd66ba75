// Package strategy holds the decision rules behind every trader variant:
// the fixed-contract widgets (rise/fall, higher/lower, the digit family)
// and the auto strategies that read the digit window before committing.
package strategy

import (
	"fmt"
	"sort"
	"strings"

	"dtrader/deriv"
)

// Params are the tunable knobs of a strategy. They are persisted as the
// JSON config of a stored strategy record, so every field is optional and
// falls back to the built-in default.
type Params struct {
	ContractType  string  `json:"contract_type,omitempty"`  // CALL or PUT where the direction is fixed
	DurationTicks int     `json:"duration_ticks,omitempty"` // contract length; 0 = strategy default
	Prediction    *int    `json:"prediction,omitempty"`     // digit 0-9 for the digit contracts
	Barrier       string  `json:"barrier,omitempty"`        // price offset for higher/lower, e.g. "+0.37"
	Window        int     `json:"window,omitempty"`         // digits inspected by the auto strategies
	Threshold     float64 `json:"threshold,omitempty"`      // dominance threshold, percent
}

// Signal is one trade decision. A nil Signal from Next means no trade.
type Signal struct {
	ContractType  string `json:"contract_type"`
	Barrier       string `json:"barrier,omitempty"`
	DurationTicks int    `json:"duration_ticks"`
	Reason        string `json:"reason"`
}

// Strategy turns the live tick window into trade signals. Implementations
// are pure — no I/O, no clocks. The engine owns timing and never calls Next
// with fewer than Warmup() ticks.
type Strategy interface {
	Name() string
	Warmup() int
	Next(ticks []deriv.Tick, digits []int) *Signal
}

// Defaults shared by the built-ins.
const (
	defaultDuration  = 5   // ticks, for rise/fall style contracts
	defaultWindow    = 120 // digits inspected by the auto strategies
	defaultThreshold = 60.0
)

type builder func(Params) (Strategy, error)

var builders = map[string]builder{
	"risefall":      newRiseFall,
	"higherlower":   newHigherLower,
	"digitover":     newDigitOver,
	"digitunder":    newDigitUnder,
	"digiteven":     newDigitEven,
	"digitodd":      newDigitOdd,
	"digitmatch":    newDigitMatch,
	"digitdiff":     newDigitDiff,
	"autooverunder": newAutoOverUnder,
	"autoevenodd":   newAutoEvenOdd,
	"autotrend":     newAutoTrend,
}

// New builds a named strategy from its parameters.
func New(name string, p Params) (Strategy, error) {
	b, ok := builders[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q (valid: %s)", name, strings.Join(Names(), ", "))
	}
	return b(p)
}

// Names lists every registered strategy, sorted.
func Names() []string {
	names := make([]string, 0, len(builders))
	for name := range builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (p Params) duration() int {
	if p.DurationTicks > 0 {
		return p.DurationTicks
	}
	return defaultDuration
}

// digit contracts default to the shortest duration the broker sells
func (p Params) digitDuration() int {
	if p.DurationTicks > 0 {
		return p.DurationTicks
	}
	return 1
}

func (p Params) window() int {
	if p.Window > 0 {
		return p.Window
	}
	return defaultWindow
}

func (p Params) threshold() float64 {
	if p.Threshold > 0 {
		return p.Threshold
	}
	return defaultThreshold
}
