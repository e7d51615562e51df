package engine

import (
	"github.com/examdesk/examdesk-backend/internal/model"
)

// RenderQuestion is the current question as the UI shell should display it:
// options re-ordered to the session's presentation order.
type RenderQuestion struct {
	ID      string         `json:"id"`
	Text    string         `json:"text"`
	Options []model.Option `json:"options"`
	IsMulti bool           `json:"is_multi"`
	Marks   float64        `json:"marks"`
}

// RenderState is the engine's render-state snapshot for the UI shell.
type RenderState struct {
	State            State           `json:"state"`
	ExamID           string          `json:"exam_id"`
	Title            string          `json:"title"`
	Subject          string          `json:"subject"`
	Mode             model.ExamMode  `json:"mode"`
	NotificationText string          `json:"notification_text,omitempty"`
	QuestionIndex    int             `json:"question_index"`
	QuestionCount    int             `json:"question_count"`
	Question         *RenderQuestion `json:"question,omitempty"`
	Selected         []string        `json:"selected"`
	AnsweredCount    int             `json:"answered_count"`
	ProgressPercent  float64         `json:"progress_percent"`
	ElapsedSeconds   int             `json:"elapsed_seconds"`
	RemainingSeconds int             `json:"remaining_seconds"`
	ViolationCount   int             `json:"violation_count"`
	CanSubmit        bool            `json:"can_submit"`
}

// Snapshot returns the current render state. Returns nil while loading or
// after a load failure.
func (e *Engine) Snapshot() *RenderState {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.payload == nil {
		return nil
	}
	return e.renderLocked()
}

func (e *Engine) renderLocked() *RenderState {
	rs := &RenderState{
		State:            e.state,
		ExamID:           e.cfg.ExamID.String(),
		Title:            e.payload.Title,
		Subject:          e.payload.Subject,
		Mode:             e.payload.Mode,
		NotificationText: e.payload.NotificationText,
		QuestionIndex:    e.currentIdx,
		QuestionCount:    len(e.order),
		AnsweredCount:    e.answers.Answered(),
		ElapsedSeconds:   e.elapsedLocked(),
		RemainingSeconds: e.remainingLocked(),
		ViolationCount:   e.monitor.Count(),
		CanSubmit:        e.state == StateInProgress,
	}
	if len(e.order) > 0 {
		rs.ProgressPercent = float64(rs.AnsweredCount) / float64(len(e.order)) * 100
	}

	if e.currentIdx >= 0 && e.currentIdx < len(e.order) {
		qo := e.order[e.currentIdx]
		if q, ok := e.questions[qo.QuestionID]; ok {
			byKey := make(map[string]model.Option, len(q.Options))
			for _, o := range q.Options {
				byKey[o.Key] = o
			}
			opts := make([]model.Option, 0, len(qo.OptionKeys))
			for _, k := range qo.OptionKeys {
				if o, ok := byKey[k]; ok {
					opts = append(opts, o)
				}
			}
			rs.Question = &RenderQuestion{
				ID:      qo.QuestionID,
				Text:    q.Text,
				Options: opts,
				IsMulti: q.IsMulti,
				Marks:   q.Marks,
			}
			rs.Selected = append([]string(nil), e.answers[qo.QuestionID]...)
		}
	}
	return rs
}

// NoticeKind classifies a server-pushed notice.
type NoticeKind string

const (
	NoticeSnapshot   NoticeKind = "snapshot"
	NoticeWarning    NoticeKind = "warning"
	NoticeSubmitted  NoticeKind = "submitted"
	NoticeTerminated NoticeKind = "terminated"
	NoticeError      NoticeKind = "error"
)

// Notice is one server-pushed event for the UI shell.
type Notice struct {
	Kind              NoticeKind   `json:"kind"`
	Snapshot          *RenderState `json:"snapshot,omitempty"`
	Message           string       `json:"message,omitempty"`
	ViolationCount    int          `json:"violation_count,omitempty"`
	RemainingWarnings int          `json:"remaining_warnings,omitempty"`
	Score             *float64     `json:"score,omitempty"`
	Reason            string       `json:"reason,omitempty"`
}

func snapshotNotice(rs *RenderState) Notice {
	return Notice{Kind: NoticeSnapshot, Snapshot: rs}
}

func warningNotice(count, remaining int) Notice {
	return Notice{
		Kind:              NoticeWarning,
		Message:           "leaving the exam window is recorded as a violation",
		ViolationCount:    count,
		RemainingWarnings: remaining,
	}
}

func errorNotice(msg string) Notice {
	return Notice{Kind: NoticeError, Message: msg}
}

func finalNotice(state State, score float64, reason string) Notice {
	kind := NoticeSubmitted
	if state == StateTerminated {
		kind = NoticeTerminated
	}
	return Notice{Kind: kind, Score: &score, Reason: reason}
}
