package strategy

import (
	"fmt"
	"strconv"

	"dtrader/deriv"
)

// ============================================================================
// Rise/Fall and Higher/Lower
// ============================================================================

// riseFall always plays the configured direction. The staking plan carries
// the session, not the entry rule.
type riseFall struct {
	contractType string
	duration     int
}

func newRiseFall(p Params) (Strategy, error) {
	ct, err := callOrPut(p.ContractType, "risefall")
	if err != nil {
		return nil, err
	}
	return &riseFall{contractType: ct, duration: p.duration()}, nil
}

func (s *riseFall) Name() string { return "risefall" }
func (s *riseFall) Warmup() int  { return 1 }

func (s *riseFall) Next(_ []deriv.Tick, _ []int) *Signal {
	return &Signal{
		ContractType:  s.contractType,
		DurationTicks: s.duration,
		Reason:        fmt.Sprintf("fixed %s entry", s.contractType),
	}
}

// higherLower is rise/fall with an explicit barrier offset from the spot.
type higherLower struct {
	contractType string
	barrier      string
	duration     int
}

func newHigherLower(p Params) (Strategy, error) {
	if p.Barrier == "" {
		return nil, fmt.Errorf("higherlower requires a barrier offset, e.g. \"+0.37\"")
	}
	ct, err := callOrPut(p.ContractType, "higherlower")
	if err != nil {
		return nil, err
	}
	return &higherLower{contractType: ct, barrier: p.Barrier, duration: p.duration()}, nil
}

func (s *higherLower) Name() string { return "higherlower" }
func (s *higherLower) Warmup() int  { return 1 }

func (s *higherLower) Next(_ []deriv.Tick, _ []int) *Signal {
	return &Signal{
		ContractType:  s.contractType,
		Barrier:       s.barrier,
		DurationTicks: s.duration,
		Reason:        fmt.Sprintf("fixed %s at barrier %s", s.contractType, s.barrier),
	}
}

func callOrPut(ct, name string) (string, error) {
	switch ct {
	case "":
		return deriv.ContractCall, nil
	case deriv.ContractCall, deriv.ContractPut:
		return ct, nil
	default:
		return "", fmt.Errorf("%s trades CALL or PUT, got %q", name, ct)
	}
}

// ============================================================================
// Digit Contracts
// ============================================================================

// digitTrade covers the six fixed digit contracts. The variants with a digit
// prediction send it as the proposal barrier.
type digitTrade struct {
	name         string
	contractType string
	prediction   int
	hasBarrier   bool
	duration     int
}

func newDigitOver(p Params) (Strategy, error) {
	pred := predictionOrDefault(p, 4)
	if pred < 0 || pred > 8 {
		return nil, fmt.Errorf("digitover needs a prediction of 0-8, got %d", pred)
	}
	return &digitTrade{name: "digitover", contractType: deriv.ContractDigitOver,
		prediction: pred, hasBarrier: true, duration: p.digitDuration()}, nil
}

func newDigitUnder(p Params) (Strategy, error) {
	pred := predictionOrDefault(p, 5)
	if pred < 1 || pred > 9 {
		return nil, fmt.Errorf("digitunder needs a prediction of 1-9, got %d", pred)
	}
	return &digitTrade{name: "digitunder", contractType: deriv.ContractDigitUnder,
		prediction: pred, hasBarrier: true, duration: p.digitDuration()}, nil
}

func newDigitEven(p Params) (Strategy, error) {
	return &digitTrade{name: "digiteven", contractType: deriv.ContractDigitEven,
		duration: p.digitDuration()}, nil
}

func newDigitOdd(p Params) (Strategy, error) {
	return &digitTrade{name: "digitodd", contractType: deriv.ContractDigitOdd,
		duration: p.digitDuration()}, nil
}

func newDigitMatch(p Params) (Strategy, error) {
	pred, err := requiredPrediction(p, "digitmatch")
	if err != nil {
		return nil, err
	}
	return &digitTrade{name: "digitmatch", contractType: deriv.ContractDigitMatch,
		prediction: pred, hasBarrier: true, duration: p.digitDuration()}, nil
}

func newDigitDiff(p Params) (Strategy, error) {
	pred, err := requiredPrediction(p, "digitdiff")
	if err != nil {
		return nil, err
	}
	return &digitTrade{name: "digitdiff", contractType: deriv.ContractDigitDiff,
		prediction: pred, hasBarrier: true, duration: p.digitDuration()}, nil
}

func (s *digitTrade) Name() string { return s.name }
func (s *digitTrade) Warmup() int  { return 1 }

func (s *digitTrade) Next(_ []deriv.Tick, _ []int) *Signal {
	sig := &Signal{
		ContractType:  s.contractType,
		DurationTicks: s.duration,
		Reason:        fmt.Sprintf("fixed %s entry", s.contractType),
	}
	if s.hasBarrier {
		sig.Barrier = strconv.Itoa(s.prediction)
		sig.Reason = fmt.Sprintf("fixed %s %d entry", s.contractType, s.prediction)
	}
	return sig
}

func predictionOrDefault(p Params, def int) int {
	if p.Prediction == nil {
		return def
	}
	return *p.Prediction
}

func requiredPrediction(p Params, name string) (int, error) {
	if p.Prediction == nil {
		return 0, fmt.Errorf("%s requires a digit prediction (0-9)", name)
	}
	if *p.Prediction < 0 || *p.Prediction > 9 {
		return 0, fmt.Errorf("%s needs a prediction of 0-9, got %d", name, *p.Prediction)
	}
	return *p.Prediction, nil
}
