package bkt

// Bayesian Knowledge Tracing over a single topic. The hidden mastery
// state is updated from binary correctness observations: Bayes posterior
// given the observation, then the learning transition.

const (
	DefaultPInit    = 0.2
	DefaultPTransit = 0.15
	DefaultPSlip    = 0.1
	DefaultPGuess   = 0.2

	// Floor for the observation likelihood so the posterior never
	// divides by zero.
	minObsProb = 1e-10
)

type State struct {
	PInit       float64
	PTransit    float64
	PSlip       float64
	PGuess      float64
	MasteryProb float64
}

// New returns a state with default parameters and mastery at p_init.
func New() *State {
	return &State{
		PInit:       DefaultPInit,
		PTransit:    DefaultPTransit,
		PSlip:       DefaultPSlip,
		PGuess:      DefaultPGuess,
		MasteryProb: DefaultPInit,
	}
}

// Update folds one correctness observation into the mastery estimate and
// returns the new value, clamped to [0,1].
func (s *State) Update(isCorrect bool) float64 {
	l := s.MasteryProb

	var pObs, posterior float64
	if isCorrect {
		pObs = l*(1-s.PSlip) + (1-l)*s.PGuess
		if pObs < minObsProb {
			pObs = minObsProb
		}
		posterior = l * (1 - s.PSlip) / pObs
	} else {
		pObs = l*s.PSlip + (1-l)*(1-s.PGuess)
		if pObs < minObsProb {
			pObs = minObsProb
		}
		posterior = l * s.PSlip / pObs
	}

	updated := posterior + (1-posterior)*s.PTransit
	s.MasteryProb = clamp01(updated)
	return s.MasteryProb
}

// ToMap serializes all parameters plus the mastery estimate.
func (s *State) ToMap() map[string]any {
	return map[string]any{
		"p_init":       s.PInit,
		"p_transit":    s.PTransit,
		"p_slip":       s.PSlip,
		"p_guess":      s.PGuess,
		"mastery_prob": s.MasteryProb,
	}
}

// FromMap restores a state. Missing parameters fall back to defaults; a
// missing mastery_prob falls back to the (possibly restored) p_init.
func FromMap(data map[string]any) *State {
	s := &State{
		PInit:    floatOr(data, "p_init", DefaultPInit),
		PTransit: floatOr(data, "p_transit", DefaultPTransit),
		PSlip:    floatOr(data, "p_slip", DefaultPSlip),
		PGuess:   floatOr(data, "p_guess", DefaultPGuess),
	}
	s.MasteryProb = floatOr(data, "mastery_prob", s.PInit)
	return s
}

func floatOr(data map[string]any, key string, def float64) float64 {
	v, ok := data[key]
	if !ok {
		return def
	}
	switch f := v.(type) {
	case float64:
		return f
	case float32:
		return float64(f)
	case int:
		return float64(f)
	case int64:
		return float64(f)
	default:
		return def
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
