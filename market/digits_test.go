package market

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dtrader/deriv"
)

func tick(quote float64, pipSize int) deriv.Tick {
	return deriv.Tick{Symbol: "R_100", Quote: quote, PipSize: pipSize}
}

func TestLastDigit(t *testing.T) {
	// the digit is taken from the displayed price, trailing zeros included
	assert.Equal(t, 5, LastDigit(tick(100.55, 2)))
	assert.Equal(t, 0, LastDigit(tick(100.5, 2)), "100.5 displays as 100.50")
	assert.Equal(t, 0, LastDigit(tick(100, 2)), "100 displays as 100.00")
	assert.Equal(t, 5, LastDigit(tick(50.5025, 4)))
	assert.Equal(t, 9, LastDigit(tick(50.50250009, 8)))
	assert.Equal(t, 3, LastDigit(tick(123, 0)))
}

func TestTickRing(t *testing.T) {
	r := newTickRing(3)
	assert.Equal(t, 0, r.size())
	assert.Empty(t, r.last(5))

	for i := 1; i <= 5; i++ {
		r.push(tick(float64(i), 2))
	}
	assert.Equal(t, 3, r.size(), "window keeps only the newest ticks")

	ticks := r.last(0)
	require.Len(t, ticks, 3)
	assert.Equal(t, 3.0, ticks[0].Quote)
	assert.Equal(t, 5.0, ticks[2].Quote)

	newest := r.last(2)
	require.Len(t, newest, 2)
	assert.Equal(t, 4.0, newest[0].Quote)

	// mutating the copy must not touch the window
	newest[0].Quote = 999
	assert.Equal(t, 4.0, r.last(2)[0].Quote)

	r.replace([]deriv.Tick{tick(7, 2)})
	assert.Equal(t, 1, r.size())

	r.replace([]deriv.Tick{tick(1, 2), tick(2, 2), tick(3, 2), tick(4, 2)})
	assert.Equal(t, 3, r.size(), "replace respects capacity")
	assert.Equal(t, 2.0, r.last(0)[0].Quote)
}

func TestComputeDigitStats(t *testing.T) {
	var ticks []deriv.Tick
	// digits: 1,2,3,4,5,6,7,8,9,0 twice -> uniform 10% each
	for round := 0; round < 2; round++ {
		for d := 1; d <= 10; d++ {
			ticks = append(ticks, tick(100.00+float64(d)/100, 2))
		}
	}
	st := ComputeDigitStats(ticks)

	assert.Equal(t, 20, st.Sample)
	for d := 0; d <= 9; d++ {
		assert.Equal(t, 2, st.Counts[d])
		assert.InDelta(t, 10.0, st.Percents[d], 0.001)
	}
	assert.Equal(t, 0, st.Last, "last tick is 100.10")
	assert.InDelta(t, 50.0, st.Even, 0.001)
	assert.InDelta(t, 50.0, st.Odd, 0.001)

	assert.InDelta(t, 50.0, st.OverPercent(4), 0.001, "digits 5..9")
	assert.InDelta(t, 40.0, st.UnderPercent(4), 0.001, "digits 0..3")
	assert.InDelta(t, 0.0, st.OverPercent(9), 0.001)
	assert.InDelta(t, 90.0, st.UnderPercent(9), 0.001)
}

func TestDigitStats_MostLeast(t *testing.T) {
	ticks := []deriv.Tick{
		tick(100.07, 2), tick(100.07, 2), tick(100.07, 2),
		tick(100.01, 2),
		tick(100.02, 2), tick(100.02, 2),
	}
	st := ComputeDigitStats(ticks)

	most, pct := st.Most()
	assert.Equal(t, 7, most)
	assert.InDelta(t, 50.0, pct, 0.001)

	least, pct := st.Least()
	assert.Equal(t, 0, least, "an absent digit is the least frequent")
	assert.Equal(t, 0.0, pct)
}

func TestDigitStats_Empty(t *testing.T) {
	st := ComputeDigitStats(nil)
	assert.Equal(t, 0, st.Sample)
	_, pct := st.Most()
	assert.Equal(t, 0.0, pct)
	d, pct := st.Least()
	assert.Equal(t, 0, d)
	assert.Equal(t, 0.0, pct)
}
