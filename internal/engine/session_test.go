package engine

import (
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/adaptest/backend/internal/models"
)

func newSnapshot(status models.SessionStatus) *Snapshot {
	return &Snapshot{
		Session: models.Session{
			ID:        "sess-1",
			UserID:    1,
			Topic:     "algebra",
			Status:    status,
			StartedAt: time.Now().Add(-time.Minute),
		},
		Administered: map[int64]bool{},
	}
}

func advance(t *testing.T, eng *Engine, snap *Snapshot, item models.Item, correct bool, bank []models.Item) *AdvanceResult {
	t.Helper()
	res, err := eng.RecordResponseAndAdvance(snap, ResponseEvent{Item: item, Correct: correct}, bank)
	if err != nil {
		t.Fatal(err)
	}
	snap.Session = res.Session
	snap.History = append(snap.History, res.Record)
	snap.Policy = res.Policy
	return res
}

func TestConsecutiveCorrectRaisesTheta(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TargetSEM = 0.05 // precision stop out of reach for this test
	eng := testEngine(t, cfg)

	item := testItem(100, 1.2, 1.0, 0.2)
	bank := testBank()
	snap := newSnapshot(models.SessionContinuing)

	var last *AdvanceResult
	for i := 0; i < 5; i++ {
		last = advance(t, eng, snap, item, true, bank)
		if snap.Session.Status != models.SessionContinuing {
			t.Fatalf("session terminated early at response %d: %s", i+1, snap.Session.Status)
		}
	}

	if last.Ability.Theta <= 0 {
		t.Errorf("theta = %v after 5 correct responses at b=1.0, want > 0", last.Ability.Theta)
	}
	if math.IsInf(last.Ability.SEM, 0) || math.IsNaN(last.Ability.SEM) {
		t.Errorf("SEM = %v, want finite", last.Ability.SEM)
	}
	if snap.Session.ItemCount != 5 {
		t.Errorf("item count = %d, want 5", snap.Session.ItemCount)
	}
	if last.Next == nil {
		t.Error("expected a next selection for a continuing session")
	}
}

func TestMaxItemsCompletesSession(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinItems = 0
	cfg.MaxItems = 1
	eng := testEngine(t, cfg)

	snap := newSnapshot(models.SessionContinuing)
	res := advance(t, eng, snap, testItem(100, 1.2, 0.0, 0.2), true, testBank())

	if res.Session.Status != models.SessionCompleted {
		t.Fatalf("status = %s, want completed", res.Session.Status)
	}
	if res.Session.StopReason != models.StopReasonMaxItems {
		t.Errorf("stop reason = %q, want %q", res.Session.StopReason, models.StopReasonMaxItems)
	}
	if res.Next != nil {
		t.Error("completed session must not carry a next selection")
	}
	if res.Session.CompletedAt == nil {
		t.Error("completed session missing completion time")
	}
}

func TestEmptyPoolCompletesAsExhausted(t *testing.T) {
	eng := testEngine(t, DefaultConfig())

	snap := newSnapshot(models.SessionContinuing)
	res := advance(t, eng, snap, testItem(100, 1.2, 0.0, 0.2), false, nil)

	if res.Session.Status != models.SessionCompleted {
		t.Fatalf("status = %s, want completed", res.Session.Status)
	}
	if res.Session.StopReason != models.StopReasonPoolExhausted {
		t.Errorf("stop reason = %q, want %q", res.Session.StopReason, models.StopReasonPoolExhausted)
	}
}

func TestRecordResponseRejectsTerminalSession(t *testing.T) {
	eng := testEngine(t, DefaultConfig())

	for _, status := range []models.SessionStatus{models.SessionCompleted, models.SessionAborted} {
		snap := newSnapshot(status)
		_, err := eng.RecordResponseAndAdvance(snap, ResponseEvent{Item: testItem(1, 1.2, 0, 0.2)}, testBank())
		if !errors.Is(err, ErrSessionNotContinuing) {
			t.Errorf("status %s: err = %v, want ErrSessionNotContinuing", status, err)
		}
	}
}

func TestRecordResponseRejectsResubmittedItem(t *testing.T) {
	eng := testEngine(t, DefaultConfig())

	snap := newSnapshot(models.SessionContinuing)
	item := testItem(100, 1.2, 0.0, 0.2)
	advance(t, eng, snap, item, false, testBank())

	// Same item again in the same session: exactly one record per
	// administered item.
	_, err := eng.RecordResponseAndAdvance(snap, ResponseEvent{Item: item, Correct: true}, testBank())
	if !errors.Is(err, ErrDuplicateResponse) {
		t.Fatalf("err = %v, want ErrDuplicateResponse", err)
	}

	// A record for the same item from an earlier session is history, not a
	// duplicate.
	other := testItem(101, 1.0, 0.5, 0.2)
	snap.History = append(snap.History, models.ResponseRecord{
		SessionID: "sess-0", ItemID: other.ID, Correct: true,
		Discrimination: other.Discrimination, Difficulty: other.Difficulty, Guessing: other.Guessing,
	})
	if _, err := eng.RecordResponseAndAdvance(snap, ResponseEvent{Item: other, Correct: true}, testBank()); err != nil {
		t.Fatalf("cross-session repeat rejected: %v", err)
	}
}

func TestSkippedCountsAsIncorrect(t *testing.T) {
	eng := testEngine(t, DefaultConfig())

	snap := newSnapshot(models.SessionContinuing)
	res, err := eng.RecordResponseAndAdvance(snap, ResponseEvent{
		Item:    testItem(100, 1.2, 0.0, 0.2),
		Correct: true,
		Skipped: true,
	}, testBank())
	if err != nil {
		t.Fatal(err)
	}
	if res.Record.Correct {
		t.Error("skipped response recorded as correct")
	}
	if !res.Record.Skipped {
		t.Error("skipped flag not carried onto the record")
	}
}

func TestRecordResponseCreatesAndTrainsPolicy(t *testing.T) {
	eng := testEngine(t, DefaultConfig())

	snap := newSnapshot(models.SessionContinuing)
	if snap.Policy != nil {
		t.Fatal("test expects a learner with no persisted policy")
	}
	res := advance(t, eng, snap, testItem(100, 1.2, 0.0, 0.2), true, testBank())

	if !res.Policy.Valid() {
		t.Fatal("policy not created on first response")
	}
	if res.Policy.Dim != FeatureDim {
		t.Errorf("policy dim = %d, want %d", res.Policy.Dim, FeatureDim)
	}
	if res.Policy.Updates != 1 {
		t.Errorf("policy updates = %d, want 1", res.Policy.Updates)
	}

	advance(t, eng, snap, testItem(101, 1.0, 0.5, 0.2), false, testBank())
	if snap.Policy.Updates != 2 {
		t.Errorf("policy updates = %d after second response, want 2", snap.Policy.Updates)
	}
}

func TestRecordResponseCountsAdministration(t *testing.T) {
	store := NewMemoryExposureStore()
	eng, err := New(DefaultConfig(), store, rand.New(rand.NewSource(11)))
	if err != nil {
		t.Fatal(err)
	}

	snap := newSnapshot(models.SessionContinuing)
	item := testItem(100, 1.2, 0.0, 0.2)
	if _, err := eng.RecordResponseAndAdvance(snap, ResponseEvent{Item: item, Correct: true}, testBank()); err != nil {
		t.Fatal(err)
	}

	stats, _ := store.Get(100)
	if stats.TimesAdministered != 1 {
		t.Errorf("TimesAdministered = %d, want 1", stats.TimesAdministered)
	}
}

func TestThetaAtAdminUsesPriorEstimate(t *testing.T) {
	eng := testEngine(t, DefaultConfig())

	snap := newSnapshot(models.SessionContinuing)
	res := advance(t, eng, snap, testItem(100, 1.2, 0.0, 0.2), true, testBank())
	if res.Record.ThetaAtAdmin != 0 {
		t.Errorf("first record ThetaAtAdmin = %v, want prior mean 0", res.Record.ThetaAtAdmin)
	}

	// Second record is tagged with the post-first-response estimate.
	res2 := advance(t, eng, snap, testItem(101, 1.0, 0.5, 0.2), true, testBank())
	if res2.Record.ThetaAtAdmin != res.Ability.Theta {
		t.Errorf("second record ThetaAtAdmin = %v, want %v", res2.Record.ThetaAtAdmin, res.Ability.Theta)
	}
}

func TestSelectFirstFreshLearnerWarmsUp(t *testing.T) {
	eng := testEngine(t, DefaultConfig())

	snap := newSnapshot(models.SessionContinuing)
	sel, err := eng.SelectFirst(snap, testBank())
	if err != nil {
		t.Fatal(err)
	}
	if sel == nil {
		t.Fatal("expected a first selection")
	}
	if sel.Strategy != StrategyWarmup {
		t.Errorf("fresh learner first pick strategy = %q, want warmup", sel.Strategy)
	}
}

func TestSelectFirstRejectsTerminalSession(t *testing.T) {
	eng := testEngine(t, DefaultConfig())
	snap := newSnapshot(models.SessionAborted)
	if _, err := eng.SelectFirst(snap, testBank()); !errors.Is(err, ErrSessionNotContinuing) {
		t.Errorf("err = %v, want ErrSessionNotContinuing", err)
	}
}

func TestAbort(t *testing.T) {
	eng := testEngine(t, DefaultConfig())
	now := time.Now()

	session := models.Session{ID: "s", Status: models.SessionContinuing, StartedAt: now.Add(-time.Minute)}
	if err := eng.Abort(&session, now); err != nil {
		t.Fatal(err)
	}
	if session.Status != models.SessionAborted || session.StopReason != models.StopReasonAborted {
		t.Errorf("session after abort = %s/%s", session.Status, session.StopReason)
	}
	if session.CompletedAt == nil || !session.CompletedAt.Equal(now) {
		t.Error("abort did not stamp completion time")
	}

	// Terminal states are absorbing.
	if err := eng.Abort(&session, now); !errors.Is(err, ErrSessionNotContinuing) {
		t.Errorf("second abort err = %v, want ErrSessionNotContinuing", err)
	}
}

func TestEvaluateStopPrecedence(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinItems = 5
	cfg.MaxItems = 30
	cfg.TargetSEM = 0.30
	cfg.MaxDuration = 45 * time.Minute
	eng := testEngine(t, cfg)

	tests := []struct {
		name    string
		count   int
		sem     float64
		elapsed time.Duration
		stop    bool
		reason  models.StopReason
	}{
		{"continuing", 10, 0.5, time.Minute, false, models.StopReasonNone},
		{"max items", 30, 0.5, time.Minute, true, models.StopReasonMaxItems},
		{"max items beats precision", 30, 0.1, time.Minute, true, models.StopReasonMaxItems},
		{"time limit", 10, 0.5, time.Hour, true, models.StopReasonTimeLimit},
		{"precision met", 10, 0.25, time.Minute, true, models.StopReasonSEMThreshold},
		{"precision below min items", 3, 0.25, time.Minute, false, models.StopReasonNone},
		{"infinite SEM never stops on precision", 10, math.Inf(1), time.Minute, false, models.StopReasonNone},
	}

	for _, tt := range tests {
		d := eng.evaluateStop(tt.count, tt.sem, tt.elapsed)
		if d.Stop != tt.stop || d.Reason != tt.reason {
			t.Errorf("%s: evaluateStop(%d, %v, %v) = %+v, want stop=%v reason=%q",
				tt.name, tt.count, tt.sem, tt.elapsed, d, tt.stop, tt.reason)
		}
	}
}

func TestEvaluateStopTimeLimitDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxDuration = 0
	eng := testEngine(t, cfg)

	if d := eng.evaluateStop(10, 0.5, 100*time.Hour); d.Stop {
		t.Errorf("stop fired with disabled time limit: %+v", d)
	}
}
