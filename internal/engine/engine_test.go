package engine

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/examdesk/examdesk-backend/internal/integrity"
	"github.com/examdesk/examdesk-backend/internal/model"
	"github.com/examdesk/examdesk-backend/internal/progress"
)

// ─── Fakes ──────────────────────────────────────────────────────────

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type fakeExams struct {
	payload *model.ExamPayload
	err     error
}

func (f *fakeExams) Payload(_ context.Context, _ uuid.UUID) (*model.ExamPayload, error) {
	return f.payload, f.err
}

type fakeSessions struct {
	session    *model.Session
	createErr  error
	startErr   error
	submitErr  error
	started    model.PresentationOrder
	submits    []SubmitRequest
	violations []model.ViolationEvent
	clock      *fakeClock
}

func (f *fakeSessions) ValidateOrCreate(_ context.Context, _ *model.ExamPayload, _ int) (*model.Session, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	return f.session, nil
}

func (f *fakeSessions) Start(_ context.Context, _ uuid.UUID, order model.PresentationOrder) (time.Time, error) {
	if f.startErr != nil {
		return time.Time{}, f.startErr
	}
	f.started = order
	return f.clock.Now(), nil
}

func (f *fakeSessions) Submit(_ context.Context, req SubmitRequest) (*SubmitResult, error) {
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	f.submits = append(f.submits, req)
	status := model.SessionStatusSubmitted
	if req.TerminationReason != "" {
		status = model.SessionStatusTerminated
	}
	return &SubmitResult{Status: status, Score: 100}, nil
}

func (f *fakeSessions) RecordViolation(_ context.Context, ev model.ViolationEvent, _ bool) {
	f.violations = append(f.violations, ev)
}

type fakeProgress struct {
	override *progress.Record
	saved    []*progress.Record
	cleared  int
	saveErr  error
}

func (f *fakeProgress) Load(_ context.Context, examID uuid.UUID, studentID int, durable *model.Session) (*progress.Record, error) {
	if f.override != nil {
		return f.override, nil
	}
	answers := durable.Answers.Clone()
	if answers == nil {
		answers = model.AnswerMap{}
	}
	return &progress.Record{
		SessionID:      durable.ID.String(),
		ExamID:         examID.String(),
		StudentID:      studentID,
		Answers:        answers,
		ElapsedSeconds: durable.ElapsedSeconds,
		Order:          durable.Order,
		ViolationCount: durable.ViolationCount,
	}, nil
}

func (f *fakeProgress) Save(_ context.Context, rec *progress.Record) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, rec)
	return nil
}

func (f *fakeProgress) Clear(_ context.Context, _ uuid.UUID, _ int) error {
	f.cleared++
	return nil
}

// ─── Fixture ────────────────────────────────────────────────────────

type fixture struct {
	engine   *Engine
	exams    *fakeExams
	sessions *fakeSessions
	progress *fakeProgress
	clock    *fakeClock
	notices  []Notice
	q1, q2   uuid.UUID
}

func threeOptions() []model.Option {
	return []model.Option{
		{Key: "A", Text: "first"},
		{Key: "B", Text: "second"},
		{Key: "C", Text: "third"},
	}
}

func newFixture(t *testing.T, mode model.ExamMode, durationMinutes int) *fixture {
	t.Helper()

	f := &fixture{
		clock: &fakeClock{t: time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)},
		q1:    uuid.New(),
		q2:    uuid.New(),
	}

	examID := uuid.New()
	f.exams = &fakeExams{payload: &model.ExamPayload{
		ExamID:          examID,
		Title:           "Algebra Final",
		Subject:         "Math",
		Mode:            mode,
		DurationMinutes: durationMinutes,
		Questions: []model.QuestionForStudent{
			{ID: f.q1, Text: "single", Options: threeOptions(), IsMulti: false, Marks: 1},
			{ID: f.q2, Text: "multi", Options: threeOptions(), IsMulti: true, Marks: 2},
		},
	}}
	f.sessions = &fakeSessions{
		clock: f.clock,
		session: &model.Session{
			ID:        uuid.New(),
			ExamID:    examID,
			StudentID: 42,
			Status:    model.SessionStatusNotStarted,
			Answers:   model.AnswerMap{},
		},
	}
	f.progress = &fakeProgress{}

	f.engine = New(Config{
		ExamID:           examID,
		StudentID:        42,
		MaxViolations:    3,
		AutosaveInterval: 30 * time.Second,
		Exams:            f.exams,
		Sessions:         f.sessions,
		Progress:         f.progress,
		Log:              zerolog.Nop(),
		Clock:            f.clock.Now,
	})
	f.engine.SetNotify(func(n Notice) { f.notices = append(f.notices, n) })
	return f
}

func (f *fixture) loadAndStart(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	if err := f.engine.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := f.engine.Start(ctx, true); err != nil {
		t.Fatalf("Start: %v", err)
	}
}

func (f *fixture) countNotices(kind NoticeKind) int {
	n := 0
	for _, notice := range f.notices {
		if notice.Kind == kind {
			n++
		}
	}
	return n
}

// ─── Lifecycle ──────────────────────────────────────────────────────

func TestLoadEstablishesShuffledOrder(t *testing.T) {
	f := newFixture(t, model.ExamModePractice, 10)

	if err := f.engine.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	snap := f.engine.Snapshot()
	if snap.State != StateStartScreen {
		t.Fatalf("state = %s, want START_SCREEN", snap.State)
	}

	f.engine.mu.Lock()
	ids := f.engine.order.QuestionIDs()
	f.engine.mu.Unlock()

	want := []string{f.q1.String(), f.q2.String()}
	sort.Strings(want)
	got := append([]string(nil), ids...)
	sort.Strings(got)
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("presentation order %v is not a permutation of %v", ids, want)
	}
}

func TestLoadAlreadyCompletedIsTerminal(t *testing.T) {
	f := newFixture(t, model.ExamModeStrict, 10)
	f.sessions.createErr = ErrAlreadyCompleted

	err := f.engine.Load(context.Background())
	if !errors.Is(err, ErrAlreadyCompleted) {
		t.Fatalf("Load error = %v, want ErrAlreadyCompleted", err)
	}
	if !errors.Is(f.engine.LoadError(), ErrAlreadyCompleted) {
		t.Fatalf("LoadError = %v, want ErrAlreadyCompleted", f.engine.LoadError())
	}
}

func TestStrictStartRequiresAcknowledgement(t *testing.T) {
	f := newFixture(t, model.ExamModeStrict, 10)
	ctx := context.Background()
	if err := f.engine.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if err := f.engine.Start(ctx, false); !errors.Is(err, ErrAcknowledgementRequired) {
		t.Fatalf("Start without ack = %v, want ErrAcknowledgementRequired", err)
	}
	if err := f.engine.Start(ctx, true); err != nil {
		t.Fatalf("Start with ack: %v", err)
	}
	if len(f.sessions.started) != 2 {
		t.Fatalf("order snapshot not persisted at start: %v", f.sessions.started)
	}
}

// ─── Answer semantics ───────────────────────────────────────────────

func TestSingleAnswerReplacesPriorSelection(t *testing.T) {
	f := newFixture(t, model.ExamModePractice, 10)
	f.loadAndStart(t)
	ctx := context.Background()

	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("SelectAnswer: %v", err)
		}
	}
	must(f.engine.SelectAnswer(ctx, f.q1.String(), "A"))
	must(f.engine.SelectAnswer(ctx, f.q1.String(), "B"))

	f.engine.mu.Lock()
	keys := f.engine.answers[f.q1.String()]
	f.engine.mu.Unlock()
	if len(keys) != 1 || keys[0] != "B" {
		t.Fatalf("answers[q1] = %v, want [B] (replace, not append)", keys)
	}
}

func TestMultiAnswerTogglesWithoutClearingOthers(t *testing.T) {
	f := newFixture(t, model.ExamModePractice, 10)
	f.loadAndStart(t)
	ctx := context.Background()
	qid := f.q2.String()

	for _, key := range []string{"A", "C", "C"} { // select A, select C, toggle C off
		if err := f.engine.SelectAnswer(ctx, qid, key); err != nil {
			t.Fatalf("SelectAnswer(%s): %v", key, err)
		}
	}

	f.engine.mu.Lock()
	keys := f.engine.answers[qid]
	f.engine.mu.Unlock()
	if len(keys) != 1 || keys[0] != "A" {
		t.Fatalf("answers[q2] = %v, want exactly [A]", keys)
	}
}

func TestAnswerRejectsUnknownQuestionAndOption(t *testing.T) {
	f := newFixture(t, model.ExamModePractice, 10)
	f.loadAndStart(t)
	ctx := context.Background()

	if err := f.engine.SelectAnswer(ctx, uuid.NewString(), "A"); !errors.Is(err, ErrUnknownQuestion) {
		t.Fatalf("unknown question error = %v", err)
	}
	if err := f.engine.SelectAnswer(ctx, f.q1.String(), "Z"); !errors.Is(err, ErrUnknownOption) {
		t.Fatalf("unknown option error = %v", err)
	}
}

// ─── Resume ─────────────────────────────────────────────────────────

func TestResumeRestoresSavedProgress(t *testing.T) {
	f := newFixture(t, model.ExamModeStrict, 10)
	startedAt := f.clock.Now().Add(-time.Minute)
	sess := f.sessions.session
	sess.Status = model.SessionStatusInProgress
	sess.StartedAt = &startedAt
	sess.Order = model.PresentationOrder{
		{QuestionID: f.q2.String(), OptionKeys: []string{"C", "A", "B"}},
		{QuestionID: f.q1.String(), OptionKeys: []string{"B", "C", "A"}},
	}
	f.progress.override = &progress.Record{
		SessionID:      sess.ID.String(),
		ExamID:         sess.ExamID.String(),
		StudentID:      42,
		Answers:        model.AnswerMap{f.q2.String(): {"C"}},
		ElapsedSeconds: 40,
		CurrentIndex:   1,
		Order:          sess.Order,
		ViolationCount: 1,
		Version:        9,
	}

	if err := f.engine.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	snap := f.engine.Snapshot()
	if snap.State != StateInProgress {
		t.Fatalf("state = %s, want IN_PROGRESS on resume", snap.State)
	}
	if snap.ElapsedSeconds != 40 {
		t.Fatalf("elapsed = %d, want exactly the saved 40", snap.ElapsedSeconds)
	}
	if snap.QuestionIndex != 1 {
		t.Fatalf("question index = %d, want saved 1", snap.QuestionIndex)
	}
	if snap.ViolationCount != 1 {
		t.Fatalf("violation count = %d, want saved 1", snap.ViolationCount)
	}

	// Restored order must be used verbatim, never reshuffled.
	f.engine.mu.Lock()
	first := f.engine.order[0]
	f.engine.mu.Unlock()
	if first.QuestionID != f.q2.String() || first.OptionKeys[0] != "C" {
		t.Fatalf("presentation order was regenerated on resume: %+v", first)
	}
}

func TestResumeAfterExpiryForcesSubmit(t *testing.T) {
	f := newFixture(t, model.ExamModePractice, 1)
	startedAt := f.clock.Now().Add(-2 * time.Minute)
	sess := f.sessions.session
	sess.Status = model.SessionStatusInProgress
	sess.StartedAt = &startedAt
	sess.Order = model.PresentationOrder{{QuestionID: f.q1.String(), OptionKeys: []string{"A", "B", "C"}}}
	sess.ElapsedSeconds = 60

	if err := f.engine.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(f.sessions.submits) != 1 {
		t.Fatalf("submit calls = %d, want 1 (expired while away)", len(f.sessions.submits))
	}
	if got := f.sessions.submits[0].ElapsedSeconds; got != 60 {
		t.Fatalf("submitted elapsed = %d, want capped 60", got)
	}
}

// ─── Timer ──────────────────────────────────────────────────────────

func TestElapsedTracksWallClockMonotonically(t *testing.T) {
	f := newFixture(t, model.ExamModePractice, 10)
	f.loadAndStart(t)

	prev := -1
	for i := 0; i < 5; i++ {
		f.clock.Advance(time.Second)
		f.engine.Tick(context.Background())
		snap := f.engine.Snapshot()
		if snap.ElapsedSeconds < prev {
			t.Fatalf("elapsed went backwards: %d after %d", snap.ElapsedSeconds, prev)
		}
		prev = snap.ElapsedSeconds
	}
	if prev != 5 {
		t.Fatalf("elapsed = %d after 5s, want 5", prev)
	}
}

func TestTimeExpiryAutoSubmitsExactlyOnce(t *testing.T) {
	f := newFixture(t, model.ExamModePractice, 1)
	f.loadAndStart(t)
	ctx := context.Background()

	f.clock.Advance(75 * time.Second)
	f.engine.Tick(ctx)
	f.engine.Tick(ctx) // overlapping tick after expiry must not resubmit

	if len(f.sessions.submits) != 1 {
		t.Fatalf("submit calls = %d, want 1", len(f.sessions.submits))
	}
	req := f.sessions.submits[0]
	if req.ElapsedSeconds != 60 {
		t.Fatalf("submitted elapsed = %d, want capped at 60 (never negative remaining)", req.ElapsedSeconds)
	}
	if req.TerminationReason != "" {
		t.Fatalf("time expiry carried termination reason %q, want none", req.TerminationReason)
	}
	if snap := f.engine.Snapshot(); snap.State != StateSubmitted {
		t.Fatalf("state = %s, want SUBMITTED", snap.State)
	}
}

func TestTeardownSilencesLateTicks(t *testing.T) {
	f := newFixture(t, model.ExamModeStrict, 1)
	f.loadAndStart(t)
	ctx := context.Background()

	f.engine.Teardown(ctx)
	before := len(f.notices)

	// A ticker callback can race teardown and still finalize an expired
	// session, but it must not reach the notify sink: the connection that
	// backed it is already gone.
	f.clock.Advance(2 * time.Minute)
	f.engine.Tick(ctx)

	if got := len(f.notices); got != before {
		t.Fatalf("notices after teardown = %d, want %d", got, before)
	}
}

func TestAutosaveCadenceAndVersionStamps(t *testing.T) {
	f := newFixture(t, model.ExamModePractice, 10)
	f.loadAndStart(t)
	ctx := context.Background()

	before := len(f.progress.saved)
	f.clock.Advance(30 * time.Second)
	f.engine.Tick(ctx)
	f.clock.Advance(30 * time.Second)
	f.engine.Tick(ctx)

	if got := len(f.progress.saved) - before; got != 2 {
		t.Fatalf("autosaves = %d, want 2", got)
	}
	var last int64
	for _, rec := range f.progress.saved {
		if rec.Version <= last {
			t.Fatalf("versions not strictly increasing: %d after %d", rec.Version, last)
		}
		last = rec.Version
	}
}

// ─── Submission ─────────────────────────────────────────────────────

func TestSubmitIsIdempotent(t *testing.T) {
	f := newFixture(t, model.ExamModePractice, 1)
	f.loadAndStart(t)
	ctx := context.Background()

	if err := f.engine.RequestSubmit(ctx, false); err != nil {
		t.Fatalf("RequestSubmit: %v", err)
	}
	// Double click plus a late expiry tick.
	if err := f.engine.RequestSubmit(ctx, false); err != nil {
		t.Fatalf("duplicate RequestSubmit: %v", err)
	}
	f.clock.Advance(2 * time.Minute)
	f.engine.Tick(ctx)

	if len(f.sessions.submits) != 1 {
		t.Fatalf("submit calls = %d, want exactly 1", len(f.sessions.submits))
	}
	if f.progress.cleared != 1 {
		t.Fatalf("progress cleared %d times, want 1", f.progress.cleared)
	}
}

func TestStrictSubmitRequiresConfirmation(t *testing.T) {
	f := newFixture(t, model.ExamModeStrict, 10)
	f.loadAndStart(t)
	ctx := context.Background()

	if err := f.engine.RequestSubmit(ctx, false); !errors.Is(err, ErrConfirmationRequired) {
		t.Fatalf("unconfirmed strict submit = %v, want ErrConfirmationRequired", err)
	}
	if err := f.engine.RequestSubmit(ctx, true); err != nil {
		t.Fatalf("confirmed submit: %v", err)
	}
}

func TestSubmitFailureKeepsSessionResubmittable(t *testing.T) {
	f := newFixture(t, model.ExamModePractice, 10)
	f.loadAndStart(t)
	ctx := context.Background()

	f.sessions.submitErr = errors.New("gateway timeout")
	if err := f.engine.RequestSubmit(ctx, false); err == nil {
		t.Fatal("submit succeeded despite store failure")
	}
	if snap := f.engine.Snapshot(); snap.State != StateInProgress {
		t.Fatalf("state after failed submit = %s, want IN_PROGRESS", snap.State)
	}

	f.sessions.submitErr = nil
	if err := f.engine.RequestSubmit(ctx, false); err != nil {
		t.Fatalf("retry submit: %v", err)
	}
	if snap := f.engine.Snapshot(); snap.State != StateSubmitted {
		t.Fatalf("state after retry = %s, want SUBMITTED", snap.State)
	}
}

// ─── Integrity ──────────────────────────────────────────────────────

func TestStrictThreeTabSwitchesForceTermination(t *testing.T) {
	f := newFixture(t, model.ExamModeStrict, 10)
	f.loadAndStart(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		f.engine.ReportHidden(ctx, model.ViolationTabHidden)
	}

	if got := f.countNotices(NoticeWarning); got != 2 {
		t.Fatalf("warnings = %d, want 2", got)
	}
	if got := f.countNotices(NoticeTerminated); got != 1 {
		t.Fatalf("terminated notices = %d, want 1", got)
	}
	if len(f.sessions.submits) != 1 {
		t.Fatalf("submit calls = %d, want 1 forced submission", len(f.sessions.submits))
	}
	req := f.sessions.submits[0]
	if req.TerminationReason != integrity.TerminationReason {
		t.Fatalf("termination reason = %q, want %q", req.TerminationReason, integrity.TerminationReason)
	}
	if req.ViolationCount != 3 {
		t.Fatalf("violation count = %d, want 3", req.ViolationCount)
	}
	if snap := f.engine.Snapshot(); snap.State != StateTerminated {
		t.Fatalf("state = %s, want TERMINATED", snap.State)
	}
}

func TestPracticeModeProducesNoViolationEvents(t *testing.T) {
	f := newFixture(t, model.ExamModePractice, 10)
	f.loadAndStart(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		f.engine.ReportHidden(ctx, model.ViolationTabHidden)
		f.engine.ReportNavAttempt(ctx)
	}

	if got := f.countNotices(NoticeWarning); got != 0 {
		t.Fatalf("warnings = %d, want 0 in practice mode", got)
	}
	if len(f.sessions.violations) != 0 {
		t.Fatalf("recorded violations = %d, want 0", len(f.sessions.violations))
	}
	if snap := f.engine.Snapshot(); snap.State != StateInProgress {
		t.Fatalf("state = %s, want IN_PROGRESS", snap.State)
	}
}

func TestNavAttemptCountsAsViolation(t *testing.T) {
	f := newFixture(t, model.ExamModeStrict, 10)
	f.loadAndStart(t)
	ctx := context.Background()

	f.engine.ReportNavAttempt(ctx)
	f.engine.ReportHidden(ctx, model.ViolationWindowBlur)
	f.engine.ReportNavAttempt(ctx)

	if len(f.sessions.submits) != 1 {
		t.Fatalf("submit calls = %d, want 1 after third signal", len(f.sessions.submits))
	}
}

// ─── End to end ─────────────────────────────────────────────────────

func TestPracticeExamEndToEnd(t *testing.T) {
	f := newFixture(t, model.ExamModePractice, 1)
	ctx := context.Background()
	if err := f.engine.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := f.engine.Start(ctx, false); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := f.engine.SelectAnswer(ctx, f.q1.String(), "B"); err != nil {
		t.Fatalf("answer q1: %v", err)
	}
	if err := f.engine.GoNext(ctx); err != nil {
		t.Fatalf("GoNext: %v", err)
	}
	if err := f.engine.SelectAnswer(ctx, f.q2.String(), "A"); err != nil {
		t.Fatalf("answer q2: %v", err)
	}

	f.clock.Advance(5 * time.Second)
	if err := f.engine.RequestSubmit(ctx, false); err != nil {
		t.Fatalf("RequestSubmit: %v", err)
	}

	if len(f.sessions.submits) != 1 {
		t.Fatalf("submit calls = %d, want 1", len(f.sessions.submits))
	}
	req := f.sessions.submits[0]
	if req.ElapsedSeconds != 5 {
		t.Fatalf("elapsed = %d, want 5", req.ElapsedSeconds)
	}
	if req.Answers.Answered() != 2 {
		t.Fatalf("answered = %d, want 2", req.Answers.Answered())
	}
	if req.TerminationReason != "" {
		t.Fatalf("unexpected termination reason %q", req.TerminationReason)
	}
	if snap := f.engine.Snapshot(); snap.State != StateSubmitted {
		t.Fatalf("state = %s, want SUBMITTED", snap.State)
	}
}

func TestSnapshotRendersPresentationOrder(t *testing.T) {
	f := newFixture(t, model.ExamModePractice, 10)
	f.loadAndStart(t)

	snap := f.engine.Snapshot()
	if snap.Question == nil {
		t.Fatal("snapshot has no current question")
	}
	if snap.QuestionCount != 2 {
		t.Fatalf("question count = %d, want 2", snap.QuestionCount)
	}

	f.engine.mu.Lock()
	wantKeys := f.engine.order[0].OptionKeys
	f.engine.mu.Unlock()
	for i, opt := range snap.Question.Options {
		if opt.Key != wantKeys[i] {
			t.Fatalf("option %d key = %s, want presentation-order %s", i, opt.Key, wantKeys[i])
		}
	}
}
