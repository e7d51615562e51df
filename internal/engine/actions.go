package engine

import (
	"context"
	"fmt"

	"github.com/examdesk/examdesk-backend/internal/integrity"
	"github.com/examdesk/examdesk-backend/internal/model"
)

// SelectAnswer records a selection for a question in this session's
// presentation order. Single-answer questions replace the prior selection;
// multi-answer questions toggle the key in the selected set without touching
// unrelated keys. Every change is saved through the progress store so a
// reload never loses more than the in-flight keystroke.
func (e *Engine) SelectAnswer(ctx context.Context, questionID, optionKey string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateInProgress {
		return ErrNotInProgress
	}

	q, ok := e.questions[questionID]
	if !ok {
		return ErrUnknownQuestion
	}
	if !e.optionInOrderLocked(questionID, optionKey) {
		return ErrUnknownOption
	}

	if q.IsMulti {
		e.answers[questionID] = toggleKey(e.answers[questionID], optionKey)
	} else {
		e.answers[questionID] = []string{optionKey}
	}

	e.saveLocked(ctx)
	return nil
}

func (e *Engine) optionInOrderLocked(questionID, optionKey string) bool {
	for _, qo := range e.order {
		if qo.QuestionID != questionID {
			continue
		}
		for _, k := range qo.OptionKeys {
			if k == optionKey {
				return true
			}
		}
		return false
	}
	return false
}

// toggleKey adds the key to the set if absent, removes it if present.
func toggleKey(keys []string, key string) []string {
	for i, k := range keys {
		if k == key {
			return append(keys[:i], keys[i+1:]...)
		}
	}
	return append(keys, key)
}

// GoNext advances to the next question.
func (e *Engine) GoNext(ctx context.Context) error {
	return e.goTo(ctx, func(idx int) int { return idx + 1 })
}

// GoPrev moves back one question.
func (e *Engine) GoPrev(ctx context.Context) error {
	return e.goTo(ctx, func(idx int) int { return idx - 1 })
}

// GoTo jumps to the question at the given presentation-order index.
func (e *Engine) GoTo(ctx context.Context, index int) error {
	return e.goTo(ctx, func(int) int { return index })
}

func (e *Engine) goTo(ctx context.Context, next func(int) int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateInProgress {
		return ErrNotInProgress
	}
	idx := next(e.currentIdx)
	if idx < 0 || idx >= len(e.order) {
		return fmt.Errorf("question index %d out of range", idx)
	}
	e.currentIdx = idx
	// Position rides along on the next save; navigation itself is not worth
	// a durable write.
	return nil
}

// ReportHidden handles a visibility loss signal (tab hidden / window blur).
// In strict mode it counts as a violation; in practice mode it only triggers
// the on-hide save.
func (e *Engine) ReportHidden(ctx context.Context, kind model.ViolationKind) {
	e.signal(ctx, kind, true)
}

// ReportNavAttempt handles back/forward navigation or in-document link
// activation during a strict in-progress session. Counted exactly like a
// visibility loss.
func (e *Engine) ReportNavAttempt(ctx context.Context) {
	e.signal(ctx, model.ViolationNavigation, false)
}

func (e *Engine) signal(ctx context.Context, kind model.ViolationKind, saveOnSignal bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateInProgress {
		return
	}
	if saveOnSignal {
		e.saveLocked(ctx)
	}

	decision := e.monitor.Record(kind)
	if decision == integrity.DecisionNone {
		return
	}

	e.session.ViolationCount = e.monitor.Count()
	e.cfg.Sessions.RecordViolation(ctx, model.ViolationEvent{
		SessionID:  e.session.ID,
		ExamID:     e.cfg.ExamID,
		StudentID:  e.cfg.StudentID,
		Kind:       kind,
		Count:      e.monitor.Count(),
		RecordedAt: e.now(),
	}, decision == integrity.DecisionTerminate)

	switch decision {
	case integrity.DecisionWarn:
		e.log.Warn().
			Str("kind", string(kind)).
			Int("count", e.monitor.Count()).
			Msg("Integrity violation recorded")
		e.emitLocked(warningNotice(e.monitor.Count(), e.monitor.Remaining()))
	case integrity.DecisionTerminate:
		e.log.Warn().
			Int("count", e.monitor.Count()).
			Msg("Violation limit reached, forcing submission")
		e.finalSubmitLocked(ctx, integrity.TerminationReason)
	}
}

// RequestSubmit handles an explicit student submission. Strict mode requires
// the confirmation flag; practice mode may skip it. Forced submissions
// (expiry, integrity escalation) bypass this entirely.
func (e *Engine) RequestSubmit(ctx context.Context, confirmed bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.submitted {
		// Duplicate click after a successful submit: harmless no-op.
		return nil
	}
	if e.state != StateInProgress {
		return ErrNotInProgress
	}
	if e.payload.Mode == model.ExamModeStrict && !confirmed {
		return ErrConfirmationRequired
	}
	return e.finalSubmitLocked(ctx, "")
}

// finalSubmitLocked is the single submit path. Every trigger — user click,
// time expiry, integrity termination — funnels here, and the submitted flag
// guarantees at most one remote submission per engine no matter how many
// triggers fire.
func (e *Engine) finalSubmitLocked(ctx context.Context, terminationReason string) error {
	if e.submitted {
		return nil
	}
	e.state = StateSubmitting

	req := SubmitRequest{
		SessionID:         e.session.ID,
		ExamID:            e.cfg.ExamID,
		StudentID:         e.cfg.StudentID,
		Answers:           e.answers.Clone(),
		ElapsedSeconds:    e.elapsedLocked(),
		ViolationCount:    e.monitor.Count(),
		TerminationReason: terminationReason,
	}

	res, err := e.cfg.Sessions.Submit(ctx, req)
	if err != nil {
		// Resubmittable: answers and timer are preserved, the student can
		// retry. Distinct from AlreadySubmitted, which succeeds below.
		e.state = StateInProgress
		e.log.Error().Err(err).Msg("Submit failed, session remains in progress")
		e.emitLocked(errorNotice("submission failed, please retry"))
		return fmt.Errorf("submit session: %w", err)
	}

	e.submitted = true
	e.session.Status = res.Status
	e.session.FinalScore = &res.Score
	if res.Status == model.SessionStatusTerminated {
		e.state = StateTerminated
	} else {
		e.state = StateSubmitted
	}

	if err := e.cfg.Progress.Clear(ctx, e.cfg.ExamID, e.cfg.StudentID); err != nil {
		e.log.Warn().Err(err).Msg("Progress clear failed after submit")
	}
	e.runCancel()

	e.log.Info().
		Float64("score", res.Score).
		Int("elapsed", req.ElapsedSeconds).
		Str("reason", terminationReason).
		Bool("already_submitted", res.AlreadySubmitted).
		Msg("Session finalized")
	e.emitLocked(finalNotice(e.state, res.Score, terminationReason))
	return nil
}
