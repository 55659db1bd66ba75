package strategy

import (
	"fmt"

	"dtrader/deriv"
)

// ============================================================================
// Trading Hub Auto Strategies
// ============================================================================

// autoOverUnder waits for one half of the digit range to dominate the window,
// then plays the matching over/under contract.
type autoOverUnder struct {
	window    int
	threshold float64
	duration  int
}

func newAutoOverUnder(p Params) (Strategy, error) {
	return &autoOverUnder{window: p.window(), threshold: p.threshold(), duration: p.digitDuration()}, nil
}

func (s *autoOverUnder) Name() string { return "autooverunder" }
func (s *autoOverUnder) Warmup() int  { return s.window }

func (s *autoOverUnder) Next(_ []deriv.Tick, digits []int) *Signal {
	if len(digits) < s.window {
		return nil
	}
	window := digits[len(digits)-s.window:]

	var high int
	for _, d := range window {
		if d >= 5 {
			high++
		}
	}
	highPct := float64(high) / float64(len(window)) * 100
	lowPct := 100 - highPct

	switch {
	case highPct >= s.threshold:
		return &Signal{
			ContractType:  deriv.ContractDigitOver,
			Barrier:       "4",
			DurationTicks: s.duration,
			Reason:        fmt.Sprintf("digits >=5 hold %.1f%% of the last %d", highPct, s.window),
		}
	case lowPct >= s.threshold:
		return &Signal{
			ContractType:  deriv.ContractDigitUnder,
			Barrier:       "5",
			DurationTicks: s.duration,
			Reason:        fmt.Sprintf("digits <=4 hold %.1f%% of the last %d", lowPct, s.window),
		}
	}
	return nil
}

// autoEvenOdd plays parity, but only once the window leans one way AND the
// last three digits confirm the lean — a dominance number alone flips too
// often on synthetic indices.
type autoEvenOdd struct {
	window    int
	threshold float64
	duration  int
}

func newAutoEvenOdd(p Params) (Strategy, error) {
	return &autoEvenOdd{window: p.window(), threshold: p.threshold(), duration: p.digitDuration()}, nil
}

func (s *autoEvenOdd) Name() string { return "autoevenodd" }

func (s *autoEvenOdd) Warmup() int {
	if s.window < 3 {
		return 3
	}
	return s.window
}

func (s *autoEvenOdd) Next(_ []deriv.Tick, digits []int) *Signal {
	if len(digits) < s.Warmup() {
		return nil
	}
	window := digits[len(digits)-s.window:]

	var even int
	for _, d := range window {
		if d%2 == 0 {
			even++
		}
	}
	evenPct := float64(even) / float64(len(window)) * 100
	oddPct := 100 - evenPct

	streak := window[len(window)-3:]
	evenStreak := streak[0]%2 == 0 && streak[1]%2 == 0 && streak[2]%2 == 0
	oddStreak := streak[0]%2 == 1 && streak[1]%2 == 1 && streak[2]%2 == 1

	switch {
	case evenPct >= s.threshold && evenStreak:
		return &Signal{
			ContractType:  deriv.ContractDigitEven,
			DurationTicks: s.duration,
			Reason:        fmt.Sprintf("even digits at %.1f%% with a 3-tick streak", evenPct),
		}
	case oddPct >= s.threshold && oddStreak:
		return &Signal{
			ContractType:  deriv.ContractDigitOdd,
			DurationTicks: s.duration,
			Reason:        fmt.Sprintf("odd digits at %.1f%% with a 3-tick streak", oddPct),
		}
	}
	return nil
}

// autoTrend plays rise/fall on tick momentum: the balance of up and down
// moves over the window, normalized to -100..100.
type autoTrend struct {
	window    int
	threshold float64
	duration  int
}

func newAutoTrend(p Params) (Strategy, error) {
	return &autoTrend{window: p.window(), threshold: p.threshold(), duration: p.duration()}, nil
}

func (s *autoTrend) Name() string { return "autotrend" }

// one extra tick so the window holds `window` moves
func (s *autoTrend) Warmup() int { return s.window + 1 }

func (s *autoTrend) Next(ticks []deriv.Tick, _ []int) *Signal {
	if len(ticks) < s.window+1 {
		return nil
	}
	window := ticks[len(ticks)-s.window-1:]

	var up, down int
	for i := 1; i < len(window); i++ {
		switch {
		case window[i].Quote > window[i-1].Quote:
			up++
		case window[i].Quote < window[i-1].Quote:
			down++
		}
	}
	moves := up + down
	if moves == 0 {
		return nil
	}
	score := float64(up-down) / float64(moves) * 100

	switch {
	case score >= s.threshold:
		return &Signal{
			ContractType:  deriv.ContractCall,
			DurationTicks: s.duration,
			Reason:        fmt.Sprintf("momentum score %.1f over %d moves", score, moves),
		}
	case score <= -s.threshold:
		return &Signal{
			ContractType:  deriv.ContractPut,
			DurationTicks: s.duration,
			Reason:        fmt.Sprintf("momentum score %.1f over %d moves", score, moves),
		}
	}
	return nil
}
