package engine

import (
	"testing"
)

func TestPolicyWeightDefaults(t *testing.T) {
	ws := DefaultWeightSchedule()

	tests := []struct {
		count int
		want  float64
	}{
		{0, 0.50},
		{10, 0.65},
		{20, 0.85},
		{30, 0.90},
		{500, 0.90},
	}

	for _, tt := range tests {
		if got := ws.PolicyWeight(tt.count); !almostEqual(got, tt.want, 1e-9) {
			t.Errorf("PolicyWeight(%d) = %v, want %v", tt.count, got, tt.want)
		}
	}
}

func TestPolicyWeightMonotone(t *testing.T) {
	ws := DefaultWeightSchedule()
	prev := -1.0
	for n := 0; n <= 100; n++ {
		w := ws.PolicyWeight(n)
		if w < prev {
			t.Fatalf("PolicyWeight not monotone: w(%d)=%v < w(%d)=%v", n, w, n-1, prev)
		}
		if w < 0 || w > ws.MaxWeight {
			t.Fatalf("PolicyWeight(%d) = %v outside [0, %v]", n, w, ws.MaxWeight)
		}
		prev = w
	}
}

func TestLoadWeightScheduleEnvOverride(t *testing.T) {
	t.Setenv("HYBRID_INITIAL_WEIGHT", "0.3")
	t.Setenv("HYBRID_PHASE1_END", "5")
	t.Setenv("HYBRID_MAX_WEIGHT", "0.95")

	ws, err := LoadWeightSchedule()
	if err != nil {
		t.Fatal(err)
	}
	if ws.Initial != 0.3 || ws.Phase1End != 5 || ws.MaxWeight != 0.95 {
		t.Errorf("overrides not applied: %+v", ws)
	}
	if ws.Phase2End != 20 {
		t.Errorf("Phase2End = %d, want default 20", ws.Phase2End)
	}
}

func TestLoadWeightScheduleBadEnv(t *testing.T) {
	t.Setenv("HYBRID_PHASE1_END", "not-a-number")
	if _, err := LoadWeightSchedule(); err == nil {
		t.Fatal("expected error for malformed HYBRID_PHASE1_END")
	}
}

func TestWeightScheduleValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*WeightSchedule)
	}{
		{"initial above one", func(ws *WeightSchedule) { ws.Initial = 1.5 }},
		{"negative max", func(ws *WeightSchedule) { ws.MaxWeight = -0.1 }},
		{"phase1 end zero", func(ws *WeightSchedule) { ws.Phase1End = 0 }},
		{"phase2 before phase1", func(ws *WeightSchedule) { ws.Phase2End = 5 }},
		{"decreasing targets", func(ws *WeightSchedule) { ws.Phase1Target = 0.9; ws.Phase2Target = 0.6 }},
	}

	for _, tt := range tests {
		ws := DefaultWeightSchedule()
		tt.mutate(&ws)
		if err := ws.Validate(); err == nil {
			t.Errorf("%s: Validate() = nil, want error", tt.name)
		}
	}

	good := DefaultWeightSchedule()
	if err := good.Validate(); err != nil {
		t.Errorf("default schedule invalid: %v", err)
	}
}

func almostEqual(a, b, eps float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= eps
}
