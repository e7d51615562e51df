// Package engine implements the exam session lifecycle state machine:
// loading → start_screen → in_progress → submitting → terminal. One Engine
// instance drives one active session. All mutable session state lives behind
// the engine's mutex; client events, the wall-clock ticker and snapshot reads
// all serialize through it, so overlapping timers and duplicate events can
// never race the one submit path.
package engine

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/examdesk/examdesk-backend/internal/integrity"
	"github.com/examdesk/examdesk-backend/internal/model"
	"github.com/examdesk/examdesk-backend/internal/progress"
	"github.com/examdesk/examdesk-backend/internal/shuffle"
)

// State is the engine's lifecycle state.
type State string

const (
	StateLoading     State = "LOADING"
	StateStartScreen State = "START_SCREEN"
	StateInProgress  State = "IN_PROGRESS"
	StateSubmitting  State = "SUBMITTING"
	StateSubmitted   State = "SUBMITTED"
	StateTerminated  State = "TERMINATED"
	StateError       State = "ERROR"
)

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	return s == StateSubmitted || s == StateTerminated || s == StateError
}

// Config wires an engine instance to its collaborators.
type Config struct {
	ExamID           uuid.UUID
	StudentID        int
	MaxViolations    int
	AutosaveInterval time.Duration

	Exams    ExamProvider
	Sessions SessionStore
	Progress ProgressStore

	Log zerolog.Logger
	// Clock overrides wall-clock reads in tests. Nil means time.Now.
	Clock func() time.Time
}

// Engine is the per-session state machine.
type Engine struct {
	cfg Config
	now func() time.Time
	log zerolog.Logger

	mu           sync.Mutex
	state        State
	payload      *model.ExamPayload
	questions    map[string]model.QuestionForStudent
	session      *model.Session
	order        model.PresentationOrder
	answers      model.AnswerMap
	currentIdx   int
	baseElapsed  int       // seconds accumulated before the current segment
	segmentStart time.Time // set when entering in_progress
	lastAutosave time.Time
	monitor      *integrity.Monitor
	version      int64
	submitted    bool // idempotence guard for the one-shot final submit
	expiredFired bool // debounce for overlapping expiry ticks
	loadErr      error

	notify func(Notice)

	runCtx    context.Context
	runCancel context.CancelFunc
}

// New creates an engine in the loading state. Call Load before anything else.
func New(cfg Config) *Engine {
	if cfg.AutosaveInterval <= 0 {
		cfg.AutosaveInterval = 30 * time.Second
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		cfg: cfg,
		now: now,
		log: cfg.Log.With().
			Str("component", "session_engine").
			Str("exam_id", cfg.ExamID.String()).
			Int("student_id", cfg.StudentID).
			Logger(),
		state:     StateLoading,
		answers:   model.AnswerMap{},
		runCtx:    ctx,
		runCancel: cancel,
	}
}

// SetNotify installs the sink for server-pushed notices (snapshots, warnings,
// terminal outcomes). Must be set before Run; Teardown clears it.
func (e *Engine) SetNotify(fn func(Notice)) {
	e.mu.Lock()
	e.notify = fn
	e.mu.Unlock()
}

// Load fetches the exam snapshot, validates or creates the session, merges
// saved progress and establishes the presentation order. Transitions to
// start_screen for a fresh session, straight to in_progress when resuming a
// started one, or to the error terminal on load failure / AlreadyCompleted.
func (e *Engine) Load(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateLoading {
		return nil
	}

	payload, err := e.cfg.Exams.Payload(ctx, e.cfg.ExamID)
	if err != nil {
		return e.failLoadLocked(err)
	}

	session, err := e.cfg.Sessions.ValidateOrCreate(ctx, payload, e.cfg.StudentID)
	if err != nil {
		return e.failLoadLocked(err)
	}

	rec, err := e.cfg.Progress.Load(ctx, e.cfg.ExamID, e.cfg.StudentID, session)
	if err != nil {
		return e.failLoadLocked(err)
	}

	e.payload = payload
	e.session = session
	e.questions = make(map[string]model.QuestionForStudent, len(payload.Questions))
	for _, q := range payload.Questions {
		e.questions[q.ID.String()] = q
	}

	// The presentation order is shuffled exactly once per session. A
	// persisted snapshot is reused verbatim so saved answers stay aligned
	// with the redisplayed options.
	if len(rec.Order) > 0 {
		e.order = rec.Order
	} else {
		rng := rand.New(rand.NewSource(e.now().UnixNano()))
		e.order = shuffle.BuildOrder(rng, payload.Questions)
	}

	e.answers = rec.Answers.Clone()
	e.baseElapsed = rec.ElapsedSeconds
	e.currentIdx = rec.CurrentIndex
	if e.currentIdx < 0 || e.currentIdx >= len(e.order) {
		e.currentIdx = 0
	}
	e.version = rec.Version
	e.monitor = integrity.NewMonitor(payload.Mode, e.cfg.MaxViolations, rec.ViolationCount)

	if session.Status == model.SessionStatusInProgress && session.StartedAt != nil {
		// Resume: the student reloaded mid-exam.
		e.state = StateInProgress
		e.segmentStart = e.now()
		e.lastAutosave = e.now()
		e.log.Info().
			Int("elapsed", e.baseElapsed).
			Int("answered", e.answers.Answered()).
			Msg("Session resumed")

		if e.remainingLocked() <= 0 && !e.expiredFired {
			// Time ran out while disconnected.
			e.expiredFired = true
			e.finalSubmitLocked(ctx, "")
		}
		return nil
	}

	e.state = StateStartScreen
	e.log.Info().Str("session_id", session.ID.String()).Msg("Session loaded")
	return nil
}

func (e *Engine) failLoadLocked(err error) error {
	e.state = StateError
	e.loadErr = err
	e.runCancel()
	e.log.Warn().Err(err).Msg("Session load failed")
	return err
}

// Start moves a loaded session from the start screen into progress. Strict
// exams require the rules acknowledgement first. The start timestamp is
// stamped server-side and the presentation order snapshot is persisted with
// the session.
func (e *Engine) Start(ctx context.Context, acknowledged bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateStartScreen {
		return ErrNotInProgress
	}
	if e.payload.Mode == model.ExamModeStrict && !acknowledged {
		return ErrAcknowledgementRequired
	}

	startedAt, err := e.cfg.Sessions.Start(ctx, e.session.ID, e.order)
	if err != nil {
		// Retriable: the student stays on the start screen.
		e.emitLocked(errorNotice("failed to start exam, please retry"))
		return err
	}

	e.session.StartedAt = &startedAt
	e.session.Status = model.SessionStatusInProgress
	e.state = StateInProgress
	e.segmentStart = e.now()
	e.lastAutosave = e.now()
	e.saveLocked(ctx)
	e.log.Info().Str("session_id", e.session.ID.String()).Msg("Exam started")
	e.emitLocked(snapshotNotice(e.renderLocked()))
	return nil
}

// Run drives the engine's wall-clock ticker until the context is cancelled
// or the session reaches a terminal state. Call in a goroutine.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.runCtx.Done():
			return
		case <-ticker.C:
			e.Tick(ctx)
		}
	}
}

// Tick advances time-driven behavior: expiry detection and the periodic
// autosave. Safe to call from any goroutine; no-op outside in_progress.
func (e *Engine) Tick(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateInProgress {
		return
	}

	if e.remainingLocked() <= 0 {
		if !e.expiredFired {
			e.expiredFired = true
			e.finalSubmitLocked(ctx, "")
		}
		return
	}

	if e.now().Sub(e.lastAutosave) >= e.cfg.AutosaveInterval {
		e.saveLocked(ctx)
	}
}

// Teardown releases the engine on connection loss or abandonment. A final
// best-effort save runs first so a reload resumes from the latest state. The
// session row stays IN_PROGRESS and resumable. The notify sink is cleared
// under the mutex: a tick racing teardown may still finalize the session,
// but it must never emit into a connection that is being torn down.
func (e *Engine) Teardown(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateInProgress {
		e.saveLocked(ctx)
	}
	e.notify = nil
	e.runCancel()
	e.log.Debug().Str("state", string(e.state)).Msg("Engine torn down")
}

// LoadError returns the error that put the engine into the error terminal.
func (e *Engine) LoadError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loadErr
}

// elapsedLocked is the single source of truth for elapsed time: the persisted
// offset plus wall-clock time in the current segment, capped at the exam
// duration. Ticking is anchored to real time, so backgrounded tabs or missed
// ticks cannot stretch the exam.
func (e *Engine) elapsedLocked() int {
	elapsed := e.baseElapsed
	if (e.state == StateInProgress || e.state == StateSubmitting) && !e.segmentStart.IsZero() {
		elapsed += int(e.now().Sub(e.segmentStart) / time.Second)
	}
	if limit := e.payload.DurationMinutes * 60; elapsed > limit {
		elapsed = limit
	}
	return elapsed
}

func (e *Engine) remainingLocked() int {
	remaining := e.payload.DurationMinutes*60 - e.elapsedLocked()
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// saveLocked writes the full progress record. Failures are logged and
// swallowed: autosave must never block or break the session.
func (e *Engine) saveLocked(ctx context.Context) {
	e.version++
	rec := &progress.Record{
		SessionID:      e.session.ID.String(),
		ExamID:         e.cfg.ExamID.String(),
		StudentID:      e.cfg.StudentID,
		Mode:           e.payload.Mode,
		Answers:        e.answers.Clone(),
		ElapsedSeconds: e.elapsedLocked(),
		CurrentIndex:   e.currentIdx,
		Order:          e.order,
		ViolationCount: e.monitor.Count(),
		Version:        e.version,
	}
	if err := e.cfg.Progress.Save(ctx, rec); err != nil {
		e.log.Warn().Err(err).Msg("Autosave failed, will retry on next save")
		return
	}
	e.lastAutosave = e.now()
}

func (e *Engine) emitLocked(n Notice) {
	if e.notify != nil {
		e.notify(n)
	}
}
