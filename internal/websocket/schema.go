package websocket

import (
	"github.com/examdesk/examdesk-backend/internal/engine"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionStart      Action = "start"
	ActionAnswer     Action = "answer"
	ActionGoto       Action = "goto"
	ActionNext       Action = "next"
	ActionPrev       Action = "prev"
	ActionVisibility Action = "visibility"
	ActionNavAttempt Action = "navattempt"
	ActionSubmit     Action = "submit"
	ActionPing       Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// StartRequest moves the session off the start screen. Strict exams require
// the acknowledged flag.
type StartRequest struct {
	Action       Action `json:"action"`
	Acknowledged bool   `json:"acknowledged"`
}

// AnswerRequest records an option selection for a question.
type AnswerRequest struct {
	Action     Action `json:"action"`
	QuestionID string `json:"question_id"`
	OptionKey  string `json:"option_key"`
}

// GotoRequest jumps to a question by presentation-order index.
type GotoRequest struct {
	Action Action `json:"action"`
	Index  int    `json:"index"`
}

// VisibilityRequest reports a visibility loss (tab hidden / window blur).
type VisibilityRequest struct {
	Action Action `json:"action"`
	Kind   string `json:"kind"`
}

// SubmitRequest finishes the exam. Strict exams require the confirmed flag.
type SubmitRequest struct {
	Action    Action `json:"action"`
	Confirmed bool   `json:"confirmed"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventSnapshot   Event = "snapshot"
	EventWarning    Event = "warning"
	EventSubmitted  Event = "submitted"
	EventTerminated Event = "terminated"
	EventError      Event = "error"
	EventPong       Event = "pong"
)

// EventEnvelope is one server-pushed message.
type EventEnvelope struct {
	Event             Event               `json:"event"`
	Snapshot          *engine.RenderState `json:"snapshot,omitempty"`
	Message           string              `json:"message,omitempty"`
	ViolationCount    int                 `json:"violation_count,omitempty"`
	RemainingWarnings int                 `json:"remaining_warnings,omitempty"`
	Score             *float64            `json:"score,omitempty"`
	Reason            string              `json:"reason,omitempty"`
}

// FromNotice converts an engine notice into its wire form.
func FromNotice(n engine.Notice) EventEnvelope {
	var ev Event
	switch n.Kind {
	case engine.NoticeSnapshot:
		ev = EventSnapshot
	case engine.NoticeWarning:
		ev = EventWarning
	case engine.NoticeSubmitted:
		ev = EventSubmitted
	case engine.NoticeTerminated:
		ev = EventTerminated
	default:
		ev = EventError
	}
	return EventEnvelope{
		Event:             ev,
		Snapshot:          n.Snapshot,
		Message:           n.Message,
		ViolationCount:    n.ViolationCount,
		RemainingWarnings: n.RemainingWarnings,
		Score:             n.Score,
		Reason:            n.Reason,
	}
}

// PongResponse answers a keepalive ping.
type PongResponse struct {
	Event Event `json:"event"`
}
