package kernel

import (
	"fmt"
	"math"
)

// ============================================================================
// Staking Plan Types
// ============================================================================

// Staking modes
const (
	ModeFlat       = "flat"       // same stake every contract
	ModeMartingale = "martingale" // stake grows after each loss
)

// Cap behaviors for martingale plans
const (
	OnCapReset = "reset" // drop back to the base stake and keep trading
	OnCapStop  = "stop"  // surface the cap so the engine halts the session
)

// hard bound on ladder length so a misconfigured plan cannot spin forever
const maxLadderRungs = 64

// StakingPlan describes how the stake for the next contract is chosen.
// The plan itself is pure configuration; the session carries a StakeState.
type StakingPlan struct {
	Mode       string  `json:"mode"`        // "flat" or "martingale"
	BaseStake  float64 `json:"base_stake"`  // stake at step 0, in account currency
	Multiplier float64 `json:"multiplier"`  // stake growth per loss (martingale)
	MaxSteps   int     `json:"max_steps"`   // ladder length; 0 = bounded by MaxStake only
	MaxStake   float64 `json:"max_stake"`   // largest stake ever placed; 0 = bounded by MaxSteps only
	OnCap      string  `json:"on_cap"`      // "reset" or "stop"; empty defaults to reset
}

// StakeState is the per-session position on the staking ladder.
type StakeState struct {
	Step              int `json:"step"`               // current ladder rung (0 = base)
	ConsecutiveLosses int `json:"consecutive_losses"` // losses since the last win
	ConsecutiveWins   int `json:"consecutive_wins"`   // wins since the last loss
}

// ============================================================================
// Validation
// ============================================================================

// Validate checks the plan before a session starts.
func (p StakingPlan) Validate() error {
	if p.BaseStake <= 0 {
		return fmt.Errorf("base_stake must be positive, got %.2f", p.BaseStake)
	}
	if p.MaxStake < 0 {
		return fmt.Errorf("max_stake cannot be negative, got %.2f", p.MaxStake)
	}
	if p.MaxSteps < 0 {
		return fmt.Errorf("max_steps cannot be negative, got %d", p.MaxSteps)
	}
	if p.MaxStake > 0 && p.MaxStake < p.BaseStake {
		return fmt.Errorf("max_stake %.2f is below base_stake %.2f", p.MaxStake, p.BaseStake)
	}

	switch p.OnCap {
	case "", OnCapReset, OnCapStop:
	default:
		return fmt.Errorf("unknown on_cap behavior: %s", p.OnCap)
	}

	switch p.Mode {
	case ModeFlat:
		return nil
	case ModeMartingale:
		if p.Multiplier <= 1 {
			return fmt.Errorf("martingale multiplier must be > 1, got %.2f", p.Multiplier)
		}
		if p.MaxSteps == 0 && p.MaxStake == 0 {
			return fmt.Errorf("martingale plan needs max_steps or max_stake")
		}
		return nil
	default:
		return fmt.Errorf("unknown staking mode: %s", p.Mode)
	}
}

// ============================================================================
// Ladder Math
// ============================================================================

// stakeAt returns the raw stake for a ladder rung before any cap is applied.
func (p StakingPlan) stakeAt(step int) float64 {
	if p.Mode != ModeMartingale || step <= 0 {
		return p.BaseStake
	}
	return p.BaseStake * math.Pow(p.Multiplier, float64(step))
}

// Steps returns the full stake ladder the plan can place: base·mult^i,
// truncated where MaxSteps or MaxStake ends it. A flat plan has one rung.
func (p StakingPlan) Steps() []float64 {
	if p.Mode != ModeMartingale {
		return []float64{p.BaseStake}
	}

	limit := p.MaxSteps
	if limit <= 0 || limit > maxLadderRungs {
		limit = maxLadderRungs
	}

	ladder := make([]float64, 0, limit)
	for i := 0; i < limit; i++ {
		stake := p.stakeAt(i)
		if p.MaxStake > 0 && stake > p.MaxStake {
			break
		}
		ladder = append(ladder, roundStake(stake))
	}
	if len(ladder) == 0 {
		// MaxStake below every rung shouldn't pass Validate, but never
		// return an empty ladder
		ladder = append(ladder, roundStake(p.BaseStake))
	}
	return ladder
}

// NextStake returns the stake for the session's current ladder position.
// The result is always positive and never exceeds MaxStake.
func (p StakingPlan) NextStake(st StakeState) float64 {
	if p.Mode != ModeMartingale {
		return roundStake(p.BaseStake)
	}
	ladder := p.Steps()
	step := st.Step
	if step >= len(ladder) {
		step = len(ladder) - 1
	}
	if step < 0 {
		step = 0
	}
	return ladder[step]
}

// Advance moves the ladder state after a settled contract. A break-even
// result (profit exactly 0, e.g. an early sell at cost) moves nothing.
// capHit reports that a loss pushed the session past the last rung; with
// OnCap "reset" the state is already back at the base, with "stop" the
// caller is expected to halt the session.
func (p StakingPlan) Advance(st StakeState, won bool, profit float64) (next StakeState, capHit bool) {
	if profit == 0 {
		return st, false
	}

	if won {
		st.Step = 0
		st.ConsecutiveLosses = 0
		st.ConsecutiveWins++
		return st, false
	}

	st.ConsecutiveWins = 0
	st.ConsecutiveLosses++

	if p.Mode != ModeMartingale {
		return st, false
	}

	st.Step++
	if st.Step < len(p.Steps()) {
		return st, false
	}

	if p.OnCap == OnCapStop {
		return st, true
	}
	st.Step = 0
	return st, true
}

// RecoveryFactor returns the smallest martingale multiplier that recovers
// every prior loss when a contract finally wins at the given payout ratio
// (profit per unit staked, e.g. 0.95 for a 195% payout). Derived from
// m^n·r ≥ (m^n−1)/(m−1) holding for all n, which needs m ≥ 1 + 1/r.
func RecoveryFactor(payoutRatio float64) float64 {
	if payoutRatio <= 0 {
		return 0
	}
	return 1 + 1/payoutRatio
}

// roundStake normalizes a stake to cents, the finest unit the broker accepts.
func roundStake(v float64) float64 {
	return math.Round(v*100) / 100
}
