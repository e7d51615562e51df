package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Manager owns the live engines, one per active (exam, student) session. The
// server enforces a single writer per session: a second connection for the
// same session is refused while the first still holds the engine.
type Manager struct {
	exams    ExamProvider
	sessions SessionStore
	progress ProgressStore

	maxViolations    int
	autosaveInterval time.Duration
	log              zerolog.Logger

	mu      sync.Mutex
	engines map[string]*Engine
}

// NewManager creates the engine registry.
func NewManager(
	exams ExamProvider,
	sessions SessionStore,
	progress ProgressStore,
	maxViolations int,
	autosaveInterval time.Duration,
	log zerolog.Logger,
) *Manager {
	return &Manager{
		exams:            exams,
		sessions:         sessions,
		progress:         progress,
		maxViolations:    maxViolations,
		autosaveInterval: autosaveInterval,
		log:              log.With().Str("component", "engine_manager").Logger(),
		engines:          make(map[string]*Engine),
	}
}

func sessionKey(examID uuid.UUID, studentID int) string {
	return fmt.Sprintf("%s:%d", examID, studentID)
}

// Acquire creates, loads and runs the engine for the given exam and student.
// Fails with ErrSessionActive when another connection already drives it, and
// with the load error (e.g. ErrAlreadyCompleted) when loading fails.
func (m *Manager) Acquire(ctx context.Context, examID uuid.UUID, studentID int, notify func(Notice)) (*Engine, error) {
	key := sessionKey(examID, studentID)

	m.mu.Lock()
	if _, held := m.engines[key]; held {
		m.mu.Unlock()
		return nil, ErrSessionActive
	}
	e := New(Config{
		ExamID:           examID,
		StudentID:        studentID,
		MaxViolations:    m.maxViolations,
		AutosaveInterval: m.autosaveInterval,
		Exams:            m.exams,
		Sessions:         m.sessions,
		Progress:         m.progress,
		Log:              m.log,
	})
	m.engines[key] = e
	m.mu.Unlock()

	e.SetNotify(notify)
	if err := e.Load(ctx); err != nil {
		m.release(key, e)
		return nil, err
	}

	go e.Run(e.runCtx)
	return e, nil
}

// Release tears the engine down (best-effort final save) and frees the slot
// so the student can reconnect and resume.
func (m *Manager) Release(ctx context.Context, examID uuid.UUID, studentID int, e *Engine) {
	e.Teardown(ctx)
	m.release(sessionKey(examID, studentID), e)
}

func (m *Manager) release(key string, e *Engine) {
	m.mu.Lock()
	if held, ok := m.engines[key]; ok && held == e {
		delete(m.engines, key)
	}
	m.mu.Unlock()
}

// Active returns the number of live engines. Used by the health endpoint.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.engines)
}
