package fuzzy

import (
	"math"
	"testing"
	"time"

	"ktrdr/internal/domain"
	"ktrdr/internal/kerr"
)

func TestTriangular_ExactValues(t *testing.T) {
	s := Set{Name: "mid", Input: "rsi", A: 30, B: 50, C: 70}
	inputs := []float64{20, 30, 40, 50, 60, 70, 80}
	want := []float64{0, 0, 0.5, 1, 0.5, 0, 0}
	for i, x := range inputs {
		if got := s.Membership(x); got != want[i] {
			t.Errorf("mu(%v): expected %v, got %v", x, want[i], got)
		}
	}
}

func TestTriangular_Shoulders(t *testing.T) {
	left := Set{Name: "low", Input: "rsi", A: 30, B: 30, C: 50}
	if got := left.Membership(10); got != 1 {
		t.Errorf("left shoulder must hold 1 below b, got %v", got)
	}
	if got := left.Membership(40); got != 0.5 {
		t.Errorf("left shoulder falling edge: expected 0.5, got %v", got)
	}
	if got := left.Membership(60); got != 0 {
		t.Errorf("left shoulder past c: expected 0, got %v", got)
	}

	right := Set{Name: "high", Input: "rsi", A: 50, B: 70, C: 70}
	if got := right.Membership(90); got != 1 {
		t.Errorf("right shoulder must hold 1 above b, got %v", got)
	}
	if got := right.Membership(60); got != 0.5 {
		t.Errorf("right shoulder rising edge: expected 0.5, got %v", got)
	}
}

func TestMembership_UndefinedPropagates(t *testing.T) {
	s := Set{Name: "mid", Input: "rsi", A: 30, B: 50, C: 70}
	if got := s.Membership(domain.Undefined()); !domain.IsUndefined(got) {
		t.Errorf("undefined input must stay undefined, got %v", got)
	}
}

func TestMembership_LogScale(t *testing.T) {
	// Triangle over ln(x) peaking at ln(100).
	s := Set{Name: "vol", Input: "volume", A: math.Log(10), B: math.Log(100), C: math.Log(1000), Scale: ScaleLog}
	if got := s.Membership(100); got != 1 {
		t.Errorf("mu(100): expected 1, got %v", got)
	}
	if got := s.Membership(10); got != 0 {
		t.Errorf("mu(10): expected 0, got %v", got)
	}
	if got := s.Membership(-5); !domain.IsUndefined(got) {
		t.Errorf("non-positive input under log scale must be undefined, got %v", got)
	}
}

func TestSet_ValidateOrdering(t *testing.T) {
	bad := Set{Name: "x", Input: "rsi", A: 70, B: 50, C: 30}
	if err := bad.Validate(); !kerr.IsKind(err, kerr.KindConfig) {
		t.Errorf("expected config error for unordered points, got %v", err)
	}
}

func TestEngine_Evaluate(t *testing.T) {
	eng, err := NewEngine([]Set{
		{Name: "low", Input: "rsi", A: 0, B: 0, C: 50},
		{Name: "high", Input: "rsi", A: 50, B: 100, C: 100},
	})
	if err != nil {
		t.Fatal(err)
	}
	ts := []time.Time{
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
	}
	frame, err := eng.Evaluate(ts, map[string][]float64{"rsi": {25, 75}})
	if err != nil {
		t.Fatal(err)
	}
	if got := frame.Field("low")[0]; got != 0.5 {
		t.Errorf("low[0]: expected 0.5, got %v", got)
	}
	if got := frame.Field("high")[1]; got != 0.5 {
		t.Errorf("high[1]: expected 0.5, got %v", got)
	}
}

func TestEngine_UnknownInput(t *testing.T) {
	eng, err := NewEngine([]Set{{Name: "low", Input: "missing", A: 0, B: 1, C: 2}})
	if err != nil {
		t.Fatal(err)
	}
	_, err = eng.Evaluate([]time.Time{time.Now().UTC()}, map[string][]float64{"rsi": {50}})
	if !kerr.IsKind(err, kerr.KindConfig) {
		t.Errorf("expected config error for unknown input, got %v", err)
	}
}

func TestEngine_DuplicateName(t *testing.T) {
	_, err := NewEngine([]Set{
		{Name: "low", Input: "rsi", A: 0, B: 1, C: 2},
		{Name: "low", Input: "rsi", A: 1, B: 2, C: 3},
	})
	if !kerr.IsKind(err, kerr.KindConfig) {
		t.Errorf("expected config error for duplicate names, got %v", err)
	}
}
