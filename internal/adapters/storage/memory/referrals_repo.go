package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"hospital-patient-access/internal/domain/departmentaccess"
	"hospital-patient-access/internal/ports/storage"
)

type referralRepo struct {
	mu   sync.RWMutex
	byID map[string]departmentaccess.Referral
}

func NewReferralRepo() departmentaccess.ReferralRepository {
	return &referralRepo{
		byID: make(map[string]departmentaccess.Referral),
	}
}

func (r *referralRepo) Create(ctx context.Context, ref departmentaccess.Referral) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ref.ID == "" {
		return errors.New("referral id required")
	}
	for _, other := range r.byID {
		if other.ID == ref.ID || (other.PatientID == ref.PatientID && other.DepartmentID == ref.DepartmentID) {
			return storage.ErrConflict
		}
	}
	r.byID[ref.ID] = ref
	return nil
}

func (r *referralRepo) Exists(ctx context.Context, patientID, departmentID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, ref := range r.byID {
		if ref.PatientID == patientID && ref.DepartmentID == departmentID {
			return true, nil
		}
	}
	return false, nil
}

func (r *referralRepo) ListByPatient(ctx context.Context, patientID string) ([]departmentaccess.Referral, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]departmentaccess.Referral, 0)
	for _, ref := range r.byID {
		if ref.PatientID == patientID {
			out = append(out, ref)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}
