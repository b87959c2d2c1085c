package reports

import (
	"context"
	"errors"
	"strings"
	"time"

	"hospital-patient-access/internal/ports/storage"

	"github.com/google/uuid"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("report not found")
)

const (
	defaultLimit = 50
	maxLimit     = 200
)

type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{
		repo: repo,
		now:  time.Now,
	}
}

type CreateInput struct {
	Type         ReportType
	Title        string
	Content      string
	ReportedAt   time.Time
	DepartmentID string
}

func (s *Service) Create(ctx context.Context, patientID, authorID string, in CreateInput) (Report, error) {
	patientID = strings.TrimSpace(patientID)
	if patientID == "" || strings.TrimSpace(authorID) == "" {
		return Report{}, ErrInvalidInput
	}
	if !in.Type.Valid() {
		return Report{}, ErrInvalidInput
	}
	if strings.TrimSpace(in.Title) == "" {
		return Report{}, ErrInvalidInput
	}

	now := s.now()
	reportedAt := in.ReportedAt
	if reportedAt.IsZero() {
		reportedAt = now
	}

	rep := Report{
		ID:           uuid.NewString(),
		PatientID:    patientID,
		Type:         in.Type,
		Title:        strings.TrimSpace(in.Title),
		Content:      strings.TrimSpace(in.Content),
		AuthorID:     strings.TrimSpace(authorID),
		DepartmentID: strings.TrimSpace(in.DepartmentID),
		ReportedAt:   reportedAt,
		CreatedAt:    now,
		Status:       ReportStatusFinal,
	}
	if err := s.repo.Create(ctx, rep); err != nil {
		return Report{}, err
	}
	return rep, nil
}

// Get exige que el informe sea del paciente de la ruta.
func (s *Service) Get(ctx context.Context, patientID, reportID string) (Report, error) {
	reportID = strings.TrimSpace(reportID)
	if reportID == "" {
		return Report{}, ErrNotFound
	}
	rep, err := s.repo.GetByID(ctx, reportID)
	if errors.Is(err, storage.ErrNotFound) {
		return Report{}, ErrNotFound
	}
	if err != nil {
		return Report{}, err
	}
	if rep.PatientID != patientID {
		return Report{}, ErrNotFound
	}
	return rep, nil
}

func (s *Service) ListByPatient(ctx context.Context, patientID string, filter ListFilter) ([]Report, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultLimit
	}
	if filter.Limit > maxLimit {
		filter.Limit = maxLimit
	}
	return s.repo.ListByPatient(ctx, strings.TrimSpace(patientID), filter)
}
