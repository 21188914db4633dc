package bkt

import (
	"math"
	"testing"
)

func TestUpdateIncreasesOnCorrect(t *testing.T) {
	s := New()
	before := s.MasteryProb
	after := s.Update(true)
	if after <= before {
		t.Fatalf("mastery did not increase on correct answer: %v -> %v", before, after)
	}
	if after < 0 || after > 1 {
		t.Fatalf("mastery out of range: %v", after)
	}
}

func TestUpdateSequenceMonotoneOnCorrects(t *testing.T) {
	s := New()
	s.Update(false)
	s.Update(false)
	prev := s.MasteryProb
	for i := 0; i < 2; i++ {
		got := s.Update(true)
		if got <= prev {
			t.Fatalf("mastery not strictly increasing on correct #%d: %v -> %v", i+1, prev, got)
		}
		prev = got
	}
	if prev <= 0.5 {
		t.Fatalf("mastery after FFTT sequence = %v, want > 0.5", prev)
	}
}

func TestUpdateBoundaries(t *testing.T) {
	cases := []struct {
		name      string
		state     State
		isCorrect bool
		want      float64
	}{
		{
			name:      "perfect_mastery_stays_at_one",
			state:     State{PInit: 1, PTransit: 0.15, PSlip: 0, PGuess: 0, MasteryProb: 1},
			isCorrect: true,
			want:      1,
		},
		{
			name:      "zero_mastery_stays_at_zero",
			state:     State{PInit: 0, PTransit: 0, PSlip: 1, PGuess: 0, MasteryProb: 0},
			isCorrect: false,
			want:      0,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.state.Update(tc.isCorrect)
			if math.Abs(got-tc.want) > 1e-9 {
				t.Fatalf("Update(%v)=%v, want %v", tc.isCorrect, got, tc.want)
			}
		})
	}
}

func TestRoundTrip(t *testing.T) {
	s := New()
	s.Update(true)
	s.Update(false)

	restored := FromMap(s.ToMap())
	if math.Abs(restored.MasteryProb-s.MasteryProb) > 1e-9 {
		t.Fatalf("mastery_prob round trip: %v != %v", restored.MasteryProb, s.MasteryProb)
	}
	if restored.PSlip != s.PSlip || restored.PGuess != s.PGuess ||
		restored.PInit != s.PInit || restored.PTransit != s.PTransit {
		t.Fatalf("parameters did not round trip: %+v vs %+v", restored, s)
	}
}

func TestFromMapDefaults(t *testing.T) {
	s := FromMap(map[string]any{})
	if s.PInit != DefaultPInit || s.PTransit != DefaultPTransit ||
		s.PSlip != DefaultPSlip || s.PGuess != DefaultPGuess {
		t.Fatalf("missing params did not default: %+v", s)
	}
	if s.MasteryProb != s.PInit {
		t.Fatalf("missing mastery_prob should fall back to p_init, got %v", s.MasteryProb)
	}

	// mastery_prob follows a restored non-default p_init, never the
	// package default.
	s = FromMap(map[string]any{"p_init": 0.6})
	if s.MasteryProb != 0.6 {
		t.Fatalf("mastery_prob should track restored p_init, got %v", s.MasteryProb)
	}
}
