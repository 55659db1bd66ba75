package market

import (
	"strconv"
	"sync"

	"dtrader/deriv"
)

// tickRing is a fixed-capacity window of the most recent ticks for one symbol.
type tickRing struct {
	mu  sync.RWMutex
	buf []deriv.Tick
	cap int
}

func newTickRing(capacity int) *tickRing {
	return &tickRing{buf: make([]deriv.Tick, 0, capacity), cap: capacity}
}

func (r *tickRing) push(t deriv.Tick) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf = append(r.buf, t)
	if len(r.buf) > r.cap {
		r.buf = r.buf[1:]
	}
}

// replace swaps the whole window, used when re-warming from history.
func (r *tickRing) replace(ticks []deriv.Tick) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(ticks) > r.cap {
		ticks = ticks[len(ticks)-r.cap:]
	}
	r.buf = append(r.buf[:0], ticks...)
}

// last returns a copy of the newest n ticks (all of them when n <= 0).
func (r *tickRing) last(n int) []deriv.Tick {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if n <= 0 || n > len(r.buf) {
		n = len(r.buf)
	}
	out := make([]deriv.Tick, n)
	copy(out, r.buf[len(r.buf)-n:])
	return out
}

func (r *tickRing) size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.buf)
}

// ============================================================================
// Digit Statistics
// ============================================================================

// LastDigit returns the final digit of the quote as the platform displays it:
// the price rendered at the symbol's pip size, trailing zeros included.
// A quote of 100.5 at pip size 2 displays "100.50", so its digit is 0.
func LastDigit(t deriv.Tick) int {
	s := strconv.FormatFloat(t.Quote, 'f', t.PipSize, 64)
	if len(s) == 0 {
		return 0
	}
	c := s[len(s)-1]
	if c < '0' || c > '9' {
		return 0
	}
	return int(c - '0')
}

// DigitStats summarizes the last-digit distribution over a tick window.
type DigitStats struct {
	Counts   [10]int     `json:"counts"`
	Percents [10]float64 `json:"percents"`
	Last     int         `json:"last"`   // digit of the newest tick
	Sample   int         `json:"sample"` // ticks actually counted
	Even     float64     `json:"even"`   // share of even digits, percent
	Odd      float64     `json:"odd"`    // share of odd digits, percent
}

// ComputeDigitStats builds the distribution for a window of ticks.
func ComputeDigitStats(ticks []deriv.Tick) DigitStats {
	var st DigitStats
	st.Sample = len(ticks)
	if st.Sample == 0 {
		return st
	}

	for _, t := range ticks {
		d := LastDigit(t)
		st.Counts[d]++
		st.Last = d
	}
	for d, c := range st.Counts {
		st.Percents[d] = float64(c) / float64(st.Sample) * 100
		if d%2 == 0 {
			st.Even += st.Percents[d]
		} else {
			st.Odd += st.Percents[d]
		}
	}
	return st
}

// Most returns the most frequent digit and its share.
func (st DigitStats) Most() (digit int, percent float64) {
	for d, p := range st.Percents {
		if p > percent {
			digit, percent = d, p
		}
	}
	return digit, percent
}

// Least returns the least frequent digit and its share.
func (st DigitStats) Least() (digit int, percent float64) {
	if st.Sample == 0 {
		return 0, 0
	}
	percent = st.Percents[0]
	for d := 1; d < 10; d++ {
		if st.Percents[d] < percent {
			digit, percent = d, st.Percents[d]
		}
	}
	return digit, percent
}

// OverPercent returns the share of digits strictly greater than barrier.
func (st DigitStats) OverPercent(barrier int) float64 {
	var sum float64
	for d := barrier + 1; d <= 9; d++ {
		sum += st.Percents[d]
	}
	return sum
}

// UnderPercent returns the share of digits strictly less than barrier.
func (st DigitStats) UnderPercent(barrier int) float64 {
	var sum float64
	for d := 0; d < barrier && d < 10; d++ {
		sum += st.Percents[d]
	}
	return sum
}
