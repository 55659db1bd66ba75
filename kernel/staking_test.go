package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func martingalePlan() StakingPlan {
	return StakingPlan{
		Mode:       ModeMartingale,
		BaseStake:  1.0,
		Multiplier: 2.0,
		MaxSteps:   4,
		MaxStake:   50,
		OnCap:      OnCapReset,
	}
}

func TestStakingPlan_Validate(t *testing.T) {
	assert.NoError(t, StakingPlan{Mode: ModeFlat, BaseStake: 0.35}.Validate())
	assert.NoError(t, martingalePlan().Validate())

	assert.Error(t, StakingPlan{Mode: ModeFlat, BaseStake: 0}.Validate(), "zero stake")
	assert.Error(t, StakingPlan{Mode: ModeFlat, BaseStake: -1}.Validate(), "negative stake")
	assert.Error(t, StakingPlan{Mode: "fibonacci", BaseStake: 1}.Validate(), "unknown mode")
	assert.Error(t, StakingPlan{Mode: ModeFlat, BaseStake: 1, OnCap: "explode"}.Validate(), "unknown on_cap")
	assert.Error(t, StakingPlan{Mode: ModeFlat, BaseStake: 2, MaxStake: 1}.Validate(), "cap below base")

	mult := martingalePlan()
	mult.Multiplier = 1.0
	assert.Error(t, mult.Validate(), "multiplier must exceed 1")

	unbounded := martingalePlan()
	unbounded.MaxSteps = 0
	unbounded.MaxStake = 0
	assert.Error(t, unbounded.Validate(), "martingale must be bounded")
}

func TestStakingPlan_Steps(t *testing.T) {
	flat := StakingPlan{Mode: ModeFlat, BaseStake: 2.5}
	assert.Equal(t, []float64{2.5}, flat.Steps())

	bySteps := martingalePlan() // base 1, x2, 4 steps
	assert.Equal(t, []float64{1, 2, 4, 8}, bySteps.Steps())

	byStake := martingalePlan()
	byStake.MaxSteps = 0
	byStake.MaxStake = 5
	assert.Equal(t, []float64{1, 2, 4}, byStake.Steps(), "next rung 8 exceeds the cap")

	cents := StakingPlan{Mode: ModeMartingale, BaseStake: 0.35, Multiplier: 2.1, MaxSteps: 3}
	steps := cents.Steps()
	require.Len(t, steps, 3)
	assert.Equal(t, 0.35, steps[0])
	assert.Equal(t, 0.74, steps[1], "stakes are rounded to cents")
	assert.Equal(t, 1.54, steps[2])
}

func TestStakingPlan_NextStake(t *testing.T) {
	plan := martingalePlan()

	assert.Equal(t, 1.0, plan.NextStake(StakeState{}))
	assert.Equal(t, 2.0, plan.NextStake(StakeState{Step: 1}))
	assert.Equal(t, 8.0, plan.NextStake(StakeState{Step: 3}))
	assert.Equal(t, 8.0, plan.NextStake(StakeState{Step: 9}), "beyond the ladder clamps to the last rung")

	flat := StakingPlan{Mode: ModeFlat, BaseStake: 0.35}
	assert.Equal(t, 0.35, flat.NextStake(StakeState{Step: 7}))
}

func TestStakingPlan_Advance_WinsAndLosses(t *testing.T) {
	plan := martingalePlan()
	st := StakeState{}

	st, capHit := plan.Advance(st, false, -1.0)
	assert.False(t, capHit)
	assert.Equal(t, StakeState{Step: 1, ConsecutiveLosses: 1}, st)

	st, capHit = plan.Advance(st, false, -2.0)
	assert.False(t, capHit)
	assert.Equal(t, 2, st.Step)
	assert.Equal(t, 2, st.ConsecutiveLosses)

	st, capHit = plan.Advance(st, true, 3.9)
	assert.False(t, capHit)
	assert.Equal(t, StakeState{ConsecutiveWins: 1}, st, "a win resets the ladder")
}

func TestStakingPlan_Advance_BreakEven(t *testing.T) {
	plan := martingalePlan()
	st := StakeState{Step: 2, ConsecutiveLosses: 2}

	next, capHit := plan.Advance(st, false, 0)
	assert.False(t, capHit)
	assert.Equal(t, st, next, "break-even moves nothing on the ladder")
}

func TestStakingPlan_Advance_FlatIgnoresLadder(t *testing.T) {
	plan := StakingPlan{Mode: ModeFlat, BaseStake: 1}

	st, capHit := plan.Advance(StakeState{}, false, -1)
	assert.False(t, capHit)
	assert.Equal(t, 0, st.Step, "flat mode never climbs")
	assert.Equal(t, 1, st.ConsecutiveLosses, "loss streaks still count for stop conditions")
}

func TestStakingPlan_Advance_CapReset(t *testing.T) {
	plan := martingalePlan() // 4 rungs
	st := StakeState{Step: 3, ConsecutiveLosses: 3}

	st, capHit := plan.Advance(st, false, -8)
	assert.True(t, capHit, "losing the last rung hits the cap")
	assert.Equal(t, 0, st.Step, "reset behavior drops back to base")
	assert.Equal(t, 4, st.ConsecutiveLosses)
	assert.Equal(t, 1.0, plan.NextStake(st))
}

func TestStakingPlan_Advance_CapStop(t *testing.T) {
	plan := martingalePlan()
	plan.OnCap = OnCapStop
	st := StakeState{Step: 3, ConsecutiveLosses: 3}

	st, capHit := plan.Advance(st, false, -8)
	assert.True(t, capHit)
	assert.Equal(t, 4, st.Step, "stop behavior leaves the state past the ladder")
}

func TestRecoveryFactor(t *testing.T) {
	assert.InDelta(t, 2.0526, RecoveryFactor(0.95), 0.0001)
	assert.Equal(t, 2.0, RecoveryFactor(1.0))
	assert.Equal(t, 0.0, RecoveryFactor(0))
	assert.Equal(t, 0.0, RecoveryFactor(-1))

	// a ladder built on the recovery factor ends every losing streak in profit
	payout := 0.87
	m := RecoveryFactor(payout) + 0.01
	stake, outlay := 1.0, 0.0
	for i := 0; i < 8; i++ {
		outlay += stake
		stake *= m
	}
	assert.Greater(t, stake*payout, outlay, "winning the next rung recovers the streak")
}
