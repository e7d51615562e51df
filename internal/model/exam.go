package model

import (
	"time"

	"github.com/google/uuid"
)

// ExamMode selects the attempt/integrity policy for an exam.
type ExamMode string

const (
	// ExamModePractice allows unlimited attempts and disables integrity
	// monitoring entirely.
	ExamModePractice ExamMode = "PRACTICE"
	// ExamModeStrict enforces a single attempt and escalating violation
	// handling while the session is in progress.
	ExamModeStrict ExamMode = "STRICT"
)

// ExamStatus enumerates the possible states of an exam.
type ExamStatus string

const (
	ExamStatusDraft     ExamStatus = "DRAFT"
	ExamStatusPublished ExamStatus = "PUBLISHED"
	ExamStatusArchived  ExamStatus = "ARCHIVED"
)

// Exam represents an exam entity. Once a session starts the session works
// against the published snapshot, so later edits never affect a running
// attempt.
type Exam struct {
	ID               uuid.UUID  `json:"id"`
	Title            string     `json:"title"`
	Subject          string     `json:"subject"`
	Mode             ExamMode   `json:"mode"`
	DurationMinutes  int        `json:"duration_minutes"`
	WindowStart      *time.Time `json:"window_start,omitempty"`
	WindowEnd        *time.Time `json:"window_end,omitempty"`
	NotificationText string     `json:"notification_text,omitempty"`
	Status           ExamStatus `json:"status"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// AvailableAt reports whether the exam's scheduling window admits the given
// instant. A nil bound is open.
func (e *Exam) AvailableAt(t time.Time) bool {
	if e.WindowStart != nil && t.Before(*e.WindowStart) {
		return false
	}
	if e.WindowEnd != nil && t.After(*e.WindowEnd) {
		return false
	}
	return true
}

// ExamPayload is the Redis-cached snapshot served to students. It carries the
// normalized questions without any correctness data.
type ExamPayload struct {
	ExamID           uuid.UUID            `json:"exam_id"`
	Title            string               `json:"title"`
	Subject          string               `json:"subject"`
	Mode             ExamMode             `json:"mode"`
	DurationMinutes  int                  `json:"duration_minutes"`
	NotificationText string               `json:"notification_text,omitempty"`
	Questions        []QuestionForStudent `json:"questions"`
}

// QuestionForStudent is a question stripped of its answer key.
type QuestionForStudent struct {
	ID      uuid.UUID `json:"id"`
	Text    string    `json:"text"`
	Options []Option  `json:"options"`
	IsMulti bool      `json:"is_multi"`
	Marks   float64   `json:"marks"`
}
