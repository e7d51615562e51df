package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus enumerates exam session states.
type SessionStatus string

const (
	SessionStatusNotStarted SessionStatus = "NOT_STARTED"
	SessionStatusInProgress SessionStatus = "IN_PROGRESS"
	SessionStatusSubmitted  SessionStatus = "SUBMITTED"
	SessionStatusTerminated SessionStatus = "TERMINATED"
)

// Terminal reports whether the status admits no further mutation.
func (s SessionStatus) Terminal() bool {
	return s == SessionStatusSubmitted || s == SessionStatusTerminated
}

// QuestionOrder fixes the presentation of one question for the lifetime of a
// session: its position in the shuffled sequence and the shuffled order of its
// option keys. Answers are keyed against this snapshot, so it must never be
// regenerated on resume.
type QuestionOrder struct {
	QuestionID string   `json:"question_id"`
	OptionKeys []string `json:"option_keys"`
}

// PresentationOrder is the session-fixed shuffled sequence of questions.
type PresentationOrder []QuestionOrder

// QuestionIDs returns the shuffled question ids in order.
func (p PresentationOrder) QuestionIDs() []string {
	ids := make([]string, len(p))
	for i, q := range p {
		ids[i] = q.QuestionID
	}
	return ids
}

// AnswerMap maps question id to the selected option key(s). Single-answer
// questions hold at most one key; multi-answer questions hold a set. A missing
// or empty entry means unanswered.
type AnswerMap map[string][]string

// Clone returns a deep copy so snapshots never alias live engine state.
func (a AnswerMap) Clone() AnswerMap {
	out := make(AnswerMap, len(a))
	for qid, keys := range a {
		out[qid] = append([]string(nil), keys...)
	}
	return out
}

// Answered counts questions with at least one selected key.
func (a AnswerMap) Answered() int {
	n := 0
	for _, keys := range a {
		if len(keys) > 0 {
			n++
		}
	}
	return n
}

// Session represents a student's attempt at an exam.
type Session struct {
	ID                uuid.UUID         `json:"id"`
	ExamID            uuid.UUID         `json:"exam_id"`
	StudentID         int               `json:"student_id"`
	Status            SessionStatus     `json:"status"`
	ElapsedSeconds    int               `json:"elapsed_seconds"`
	Order             PresentationOrder `json:"order"`
	Answers           AnswerMap         `json:"answers"`
	ViolationCount    int               `json:"violation_count"`
	StartedAt         *time.Time        `json:"started_at,omitempty"`
	FinishedAt        *time.Time        `json:"finished_at,omitempty"`
	FinalScore        *float64          `json:"final_score,omitempty"`
	TerminationReason string            `json:"termination_reason,omitempty"`
}

// ViolationKind classifies an integrity signal.
type ViolationKind string

const (
	ViolationTabHidden  ViolationKind = "TAB_HIDDEN"
	ViolationWindowBlur ViolationKind = "WINDOW_BLUR"
	ViolationNavigation ViolationKind = "NAVIGATION"
)

// ViolationEvent is one recorded integrity incident.
type ViolationEvent struct {
	SessionID  uuid.UUID     `json:"session_id"`
	ExamID     uuid.UUID     `json:"exam_id"`
	StudentID  int           `json:"student_id"`
	Kind       ViolationKind `json:"kind"`
	Count      int           `json:"count"`
	RecordedAt time.Time     `json:"recorded_at"`
}
