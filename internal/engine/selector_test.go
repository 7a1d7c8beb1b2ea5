package engine

import (
	"math"
	"math/rand"
	"testing"

	"github.com/adaptest/backend/internal/models"
)

func testItem(id int64, a, b, c float64) models.Item {
	return models.Item{
		ID:                 id,
		Topic:              "algebra",
		Discrimination:     a,
		Difficulty:         b,
		Guessing:           c,
		TargetExposureRate: 0.3,
		Active:             true,
	}
}

func testBank() []models.Item {
	return []models.Item{
		testItem(1, 1.2, -2.0, 0.2),
		testItem(2, 1.0, -0.5, 0.2),
		testItem(3, 1.5, 0.0, 0.2),
		testItem(4, 1.3, 0.8, 0.25),
		testItem(5, 0.9, 2.2, 0.2),
	}
}

func testEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	eng, err := New(cfg, NewMemoryExposureStore(), rand.New(rand.NewSource(11)))
	if err != nil {
		t.Fatal(err)
	}
	return eng
}

func TestSelectNextSkipsInactiveAndAdministered(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WarmupItems = 0
	eng := testEngine(t, cfg)

	bank := testBank()
	bank[2].Active = false
	administered := map[int64]bool{2: true, 4: true}

	sel, err := eng.SelectNext(SelectionInput{
		Items:             bank,
		Administered:      administered,
		Context:           LearnerContext{Theta: 0, SEM: 1},
		SessionResponses:  5,
		LifetimeResponses: 5,
	})
	if err != nil {
		t.Fatal(err)
	}
	if sel == nil {
		t.Fatal("expected a selection")
	}
	if sel.Item.ID == 2 || sel.Item.ID == 3 || sel.Item.ID == 4 {
		t.Errorf("selected excluded item %d", sel.Item.ID)
	}
	if !administered[sel.Item.ID] {
		t.Error("selected item not marked administered")
	}
}

func TestSelectNextNeverRepeatsWithinSession(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WarmupItems = 0
	eng := testEngine(t, cfg)

	bank := testBank()
	administered := map[int64]bool{}
	seen := map[int64]bool{}

	for i := 0; i < len(bank); i++ {
		sel, err := eng.SelectNext(SelectionInput{
			Items:             bank,
			Administered:      administered,
			Context:           LearnerContext{Theta: 0.2, SEM: 0.8},
			SessionResponses:  i + 10,
			LifetimeResponses: i + 10,
		})
		if err != nil {
			t.Fatal(err)
		}
		if sel == nil {
			t.Fatalf("pool reported exhausted after %d of %d selections", i, len(bank))
		}
		if seen[sel.Item.ID] {
			t.Fatalf("item %d selected twice", sel.Item.ID)
		}
		seen[sel.Item.ID] = true
	}

	// Every item used; the next call must signal exhaustion.
	sel, err := eng.SelectNext(SelectionInput{
		Items:             bank,
		Administered:      administered,
		Context:           LearnerContext{Theta: 0.2, SEM: 0.8},
		SessionResponses:  20,
		LifetimeResponses: 20,
	})
	if err != nil {
		t.Fatal(err)
	}
	if sel != nil {
		t.Errorf("expected nil selection on exhausted pool, got item %d", sel.Item.ID)
	}
}

func TestSelectNextWarmupStaysInBand(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WarmupItems = 5
	cfg.WarmupBand = 1.0
	eng := testEngine(t, cfg)

	bank := testBank()
	for trial := 0; trial < 20; trial++ {
		sel, err := eng.SelectNext(SelectionInput{
			Items:             bank,
			Administered:      map[int64]bool{},
			Context:           LearnerContext{Theta: 0, SEM: math.Inf(1)},
			SessionResponses:  0,
			LifetimeResponses: 0,
		})
		if err != nil {
			t.Fatal(err)
		}
		if sel == nil {
			t.Fatal("expected a selection")
		}
		if sel.Strategy != StrategyWarmup {
			t.Fatalf("strategy = %q, want warmup", sel.Strategy)
		}
		if math.Abs(sel.Item.Difficulty) > cfg.WarmupBand {
			t.Errorf("warm-up item %d has |b|=%v outside band %v", sel.Item.ID, math.Abs(sel.Item.Difficulty), cfg.WarmupBand)
		}
		if sel.Rationale.Category != "warmup" {
			t.Errorf("rationale category = %q, want warmup", sel.Rationale.Category)
		}
	}
}

func TestSelectNextWarmupFallbackOutsideBand(t *testing.T) {
	cfg := DefaultConfig()
	eng := testEngine(t, cfg)

	// Nothing in the medium band; warm-up must still pick something.
	bank := []models.Item{
		testItem(1, 1.2, -2.5, 0.2),
		testItem(2, 1.2, 2.5, 0.2),
	}
	sel, err := eng.SelectNext(SelectionInput{
		Items:        bank,
		Administered: map[int64]bool{},
		Context:      LearnerContext{Theta: 0, SEM: math.Inf(1)},
	})
	if err != nil {
		t.Fatal(err)
	}
	if sel == nil {
		t.Fatal("expected fallback selection when band is empty")
	}
}

func TestSelectNextBaselinePicksMostInformative(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Strategy = StrategyBaseline
	eng := testEngine(t, cfg)

	// With theta=0 the bank's most informative item is the high-discrimination
	// item at b=0.
	sel, err := eng.SelectNext(SelectionInput{
		Items:             testBank(),
		Administered:      map[int64]bool{},
		Context:           LearnerContext{Theta: 0, SEM: 0.6},
		SessionResponses:  10,
		LifetimeResponses: 10,
	})
	if err != nil {
		t.Fatal(err)
	}
	if sel == nil {
		t.Fatal("expected a selection")
	}
	if sel.Item.ID != 3 {
		t.Errorf("baseline selected item %d, want 3 (max information at theta=0)", sel.Item.ID)
	}
	if sel.PolicyScore != 0 {
		t.Errorf("baseline policy score = %v, want 0", sel.PolicyScore)
	}
	if sel.Rationale.Category != "psychometric" {
		t.Errorf("rationale category = %q, want psychometric", sel.Rationale.Category)
	}
}

func TestSelectNextTieBreaksOnLowestID(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Strategy = StrategyBaseline
	eng := testEngine(t, cfg)

	// Identical parameters, identical scores; the lower ID must win.
	bank := []models.Item{
		testItem(9, 1.4, 0.1, 0.2),
		testItem(4, 1.4, 0.1, 0.2),
		testItem(7, 1.4, 0.1, 0.2),
	}
	sel, err := eng.SelectNext(SelectionInput{
		Items:             bank,
		Administered:      map[int64]bool{},
		Context:           LearnerContext{Theta: 0.1, SEM: 0.5},
		SessionResponses:  10,
		LifetimeResponses: 10,
	})
	if err != nil {
		t.Fatal(err)
	}
	if sel.Item.ID != 4 {
		t.Errorf("tie broke to item %d, want 4", sel.Item.ID)
	}
}

func TestSelectNextRejectsMalformedBankItem(t *testing.T) {
	cfg := DefaultConfig()
	eng := testEngine(t, cfg)

	bank := testBank()
	bank[1].Discrimination = -0.5

	_, err := eng.SelectNext(SelectionInput{
		Items:        bank,
		Administered: map[int64]bool{},
		Context:      LearnerContext{Theta: 0, SEM: 1},
	})
	if err == nil {
		t.Fatal("expected error for malformed item parameters")
	}
}

func TestFeatureVectorShape(t *testing.T) {
	ctx := LearnerContext{Theta: 1.5, SEM: 0.4, TopicMastery: 0.7, RecentAccuracy: 0.8, AvgLatency: 12}
	x := FeatureVector(ctx, testItem(1, 1.2, 0.5, 0.2))
	if len(x) != FeatureDim {
		t.Fatalf("feature vector length = %d, want %d", len(x), FeatureDim)
	}
	if x[0] != 1 {
		t.Errorf("bias term = %v, want 1", x[0])
	}
	for i, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Errorf("feature %d = %v, want finite", i, v)
		}
	}

	// Infinite SEM must still produce a finite feature.
	x = FeatureVector(LearnerContext{Theta: 0, SEM: math.Inf(1)}, testItem(1, 1.2, 0.5, 0.2))
	for i, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Errorf("feature %d = %v with infinite SEM, want finite", i, v)
		}
	}
}
