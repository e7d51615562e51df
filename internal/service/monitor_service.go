package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/examdesk/examdesk-backend/internal/model"
	"github.com/examdesk/examdesk-backend/internal/repository"
)

// recentViolationLimit bounds the snapshot's incident list.
const recentViolationLimit = 100

// MonitorSnapshot is the point-in-time view of one exam for proctors.
type MonitorSnapshot struct {
	ExamID          string                 `json:"exam_id"`
	InProgress      []int                  `json:"in_progress"`
	ViolationCounts map[int]int64          `json:"violation_counts"`
	Recent          []model.ViolationEvent `json:"recent_violations"`
}

// MonitorService assembles monitoring snapshots. Live updates flow over the
// Redis monitor channels; this covers the initial view and late joiners.
type MonitorService struct {
	monitorRepo *repository.MonitorRepository
	log         zerolog.Logger
}

// NewMonitorService creates a new MonitorService.
func NewMonitorService(monitorRepo *repository.MonitorRepository, log zerolog.Logger) *MonitorService {
	return &MonitorService{
		monitorRepo: monitorRepo,
		log:         log.With().Str("component", "monitor_service").Logger(),
	}
}

// Snapshot returns the current monitoring view for an exam.
func (s *MonitorService) Snapshot(ctx context.Context, examID uuid.UUID) (*MonitorSnapshot, error) {
	inProgress, err := s.monitorRepo.InProgressStudentIDs(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("in-progress students: %w", err)
	}
	counts, err := s.monitorRepo.ViolationCounts(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("violation counts: %w", err)
	}
	recent, err := s.monitorRepo.RecentViolations(ctx, examID, recentViolationLimit)
	if err != nil {
		return nil, fmt.Errorf("recent violations: %w", err)
	}

	if inProgress == nil {
		inProgress = []int{}
	}
	if recent == nil {
		recent = []model.ViolationEvent{}
	}
	return &MonitorSnapshot{
		ExamID:          examID.String(),
		InProgress:      inProgress,
		ViolationCounts: counts,
		Recent:          recent,
	}, nil
}
