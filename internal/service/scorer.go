package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/examdesk/examdesk-backend/internal/model"
)

// Scorer grades a finished attempt. The default implementation grades against
// the cached answer key; deployments with external grading plug in their own.
type Scorer interface {
	Score(ctx context.Context, examID uuid.UUID, answers model.AnswerMap) (float64, error)
}

// KeyScorer grades against the Redis-cached answer key. Multi-answer
// questions earn their marks only on exact set equality; partial selections
// earn nothing.
type KeyScorer struct {
	exams *ExamService
}

// NewKeyScorer creates the default scorer.
func NewKeyScorer(exams *ExamService) *KeyScorer {
	return &KeyScorer{exams: exams}
}

// Score returns the attempt's score as a percentage of the total marks.
func (s *KeyScorer) Score(ctx context.Context, examID uuid.UUID, answers model.AnswerMap) (float64, error) {
	payload, err := s.exams.CachedPayload(ctx, examID)
	if err != nil {
		return 0, fmt.Errorf("load payload: %w", err)
	}
	key, err := s.exams.AnswerKey(ctx, examID)
	if err != nil {
		return 0, fmt.Errorf("load answer key: %w", err)
	}

	var total, earned float64
	for _, q := range payload.Questions {
		total += q.Marks
		correct, ok := key[q.ID.String()]
		if !ok {
			continue
		}
		if sameKeySet(answers[q.ID.String()], correct) {
			earned += q.Marks
		}
	}
	if total == 0 {
		return 0, nil
	}
	return earned / total * 100, nil
}

func sameKeySet(a, b []string) bool {
	if len(a) != len(b) || len(a) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, k := range a {
		set[k] = struct{}{}
	}
	for _, k := range b {
		if _, ok := set[k]; !ok {
			return false
		}
	}
	return true
}
