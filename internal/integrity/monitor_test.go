package integrity

import (
	"testing"

	"github.com/examdesk/examdesk-backend/internal/model"
)

func TestStrictModeThreeStrikes(t *testing.T) {
	m := NewMonitor(model.ExamModeStrict, 3, 0)

	warnings, terminates := 0, 0
	for i := 0; i < 3; i++ {
		switch m.Record(model.ViolationTabHidden) {
		case DecisionWarn:
			warnings++
		case DecisionTerminate:
			terminates++
		}
	}

	if warnings != 2 || terminates != 1 {
		t.Fatalf("got %d warnings and %d terminates, want 2 and 1", warnings, terminates)
	}
	if m.Count() != 3 {
		t.Fatalf("count = %d, want 3", m.Count())
	}
}

func TestPracticeModeIgnoresSignals(t *testing.T) {
	m := NewMonitor(model.ExamModePractice, 3, 0)

	for i := 0; i < 5; i++ {
		if d := m.Record(model.ViolationTabHidden); d != DecisionNone {
			t.Fatalf("practice mode decision = %v, want DecisionNone", d)
		}
	}
	if m.Count() != 0 {
		t.Fatalf("practice mode count = %d, want 0", m.Count())
	}
}

func TestNavigationCountsLikeVisibility(t *testing.T) {
	m := NewMonitor(model.ExamModeStrict, 3, 0)

	if d := m.Record(model.ViolationNavigation); d != DecisionWarn {
		t.Fatalf("first navigation decision = %v, want DecisionWarn", d)
	}
	if d := m.Record(model.ViolationWindowBlur); d != DecisionWarn {
		t.Fatalf("blur decision = %v, want DecisionWarn", d)
	}
	if d := m.Record(model.ViolationTabHidden); d != DecisionTerminate {
		t.Fatalf("third signal decision = %v, want DecisionTerminate", d)
	}
}

func TestTerminateFiresOnce(t *testing.T) {
	m := NewMonitor(model.ExamModeStrict, 1, 0)

	if d := m.Record(model.ViolationTabHidden); d != DecisionTerminate {
		t.Fatalf("decision = %v, want DecisionTerminate", d)
	}
	if d := m.Record(model.ViolationTabHidden); d != DecisionNone {
		t.Fatalf("post-termination decision = %v, want DecisionNone", d)
	}
}

func TestResumeKeepsAccumulatedCount(t *testing.T) {
	m := NewMonitor(model.ExamModeStrict, 3, 2)

	if got := m.Remaining(); got != 0 {
		t.Fatalf("Remaining() = %d, want 0", got)
	}
	if d := m.Record(model.ViolationTabHidden); d != DecisionTerminate {
		t.Fatalf("decision after resume = %v, want DecisionTerminate", d)
	}
}
