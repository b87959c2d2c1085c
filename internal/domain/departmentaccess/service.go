package departmentaccess

import (
	"context"
	"errors"
	"strings"
	"time"

	"hospital-patient-access/internal/domain/directory"
	"hospital-patient-access/internal/ports/storage"

	"github.com/google/uuid"
)

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrPatientNotFound = errors.New("patient not found")
)

type PatientLookup interface {
	Patient(ctx context.Context, id string) (directory.Patient, error)
}

type Service struct {
	repo     ReferralRepository
	patients PatientLookup
	now      func() time.Time
}

func NewService(repo ReferralRepository, patients PatientLookup) *Service {
	return &Service{
		repo:     repo,
		patients: patients,
		now:      time.Now,
	}
}

// Refer es idempotente: si el par ya existe devuelve created=false.
func (s *Service) Refer(ctx context.Context, patientID, departmentID, createdBy string) (Referral, bool, error) {
	patientID = strings.TrimSpace(patientID)
	departmentID = strings.TrimSpace(departmentID)
	if patientID == "" || departmentID == "" {
		return Referral{}, false, ErrInvalidInput
	}

	if _, err := s.patients.Patient(ctx, patientID); err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return Referral{}, false, ErrPatientNotFound
		}
		return Referral{}, false, err
	}

	ref := Referral{
		ID:           uuid.NewString(),
		PatientID:    patientID,
		DepartmentID: departmentID,
		CreatedBy:    strings.TrimSpace(createdBy),
		CreatedAt:    s.now(),
	}

	err := s.repo.Create(ctx, ref)
	if errors.Is(err, storage.ErrConflict) {
		existing, lerr := s.findExisting(ctx, patientID, departmentID)
		if lerr != nil {
			return Referral{}, false, lerr
		}
		return existing, false, nil
	}
	if err != nil {
		return Referral{}, false, err
	}
	return ref, true, nil
}

func (s *Service) ListByPatient(ctx context.Context, patientID string) ([]Referral, error) {
	patientID = strings.TrimSpace(patientID)
	if patientID == "" {
		return nil, ErrInvalidInput
	}
	return s.repo.ListByPatient(ctx, patientID)
}

func (s *Service) findExisting(ctx context.Context, patientID, departmentID string) (Referral, error) {
	items, err := s.repo.ListByPatient(ctx, patientID)
	if err != nil {
		return Referral{}, err
	}
	for _, r := range items {
		if r.DepartmentID == departmentID {
			return r, nil
		}
	}
	return Referral{}, storage.ErrNotFound
}
