// Package integrity tracks focus/visibility violations for strict-mode exam
// sessions and decides when a warning escalates into forced termination.
//
// The cumulative-count scheme is used: every qualifying signal increments the
// violation count, and crossing MaxViolations terminates regardless of how
// quickly the student returned. The countdown-after-hidden variant (terminate
// if not back within GraceSeconds) is intentionally not implemented;
// GraceSeconds is kept in the config so the tolerance stays tunable if the
// policy changes.
package integrity

import (
	"github.com/examdesk/examdesk-backend/internal/model"
)

// TerminationReason is the machine-supplied reason attached to a forced
// submission caused by violation escalation.
const TerminationReason = "Terminated due to multiple tab switches"

// DefaultMaxViolations is the number of violations that forces termination.
const DefaultMaxViolations = 3

// Decision is the monitor's verdict for one recorded signal.
type Decision int

const (
	// DecisionNone means the signal was ignored (practice mode, or the
	// monitor already terminated).
	DecisionNone Decision = iota
	// DecisionWarn means a non-fatal warning should be surfaced. The timer
	// keeps running.
	DecisionWarn
	// DecisionTerminate means the violation limit was reached and the
	// session must be force-submitted with TerminationReason.
	DecisionTerminate
)

// Monitor counts integrity violations for a single session. It only decides;
// it never submits — the session engine owns the one submit path. Not safe
// for concurrent use; the engine's event loop is its sole caller.
type Monitor struct {
	mode          model.ExamMode
	maxViolations int
	count         int
	terminated    bool
}

// NewMonitor creates a monitor for the given exam mode. maxViolations <= 0
// falls back to DefaultMaxViolations. The starting count may be non-zero when
// resuming a session that already accumulated violations.
func NewMonitor(mode model.ExamMode, maxViolations, startCount int) *Monitor {
	if maxViolations <= 0 {
		maxViolations = DefaultMaxViolations
	}
	return &Monitor{
		mode:          mode,
		maxViolations: maxViolations,
		count:         startCount,
	}
}

// Record registers one integrity signal (tab hidden, window blur, navigation
// attempt — all are equivalent under the counting scheme) and returns the
// escalation decision. Practice mode never produces violations.
func (m *Monitor) Record(kind model.ViolationKind) Decision {
	_ = kind // all kinds share one escalation scheme
	if m.mode != model.ExamModeStrict || m.terminated {
		return DecisionNone
	}

	m.count++
	if m.count >= m.maxViolations {
		m.terminated = true
		return DecisionTerminate
	}
	return DecisionWarn
}

// Count returns the accumulated violation count.
func (m *Monitor) Count() int {
	return m.count
}

// Remaining returns how many further violations are tolerated before
// termination. Zero means the next violation terminates.
func (m *Monitor) Remaining() int {
	left := m.maxViolations - m.count - 1
	if left < 0 {
		return 0
	}
	return left
}
