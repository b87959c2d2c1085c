package memory

import (
	"context"
	"errors"
	"strings"
	"sync"

	"hospital-patient-access/internal/domain/directory"
	"hospital-patient-access/internal/ports/storage"
)

type directoryRepo struct {
	mu       sync.RWMutex
	patients map[string]directory.Patient
	byGlobal map[string]string // global id normalizado -> id
	doctors  map[string]directory.Doctor
}

func NewDirectoryRepo() directory.Repository {
	return &directoryRepo{
		patients: make(map[string]directory.Patient),
		byGlobal: make(map[string]string),
		doctors:  make(map[string]directory.Doctor),
	}
}

func (r *directoryRepo) CreatePatient(ctx context.Context, p directory.Patient) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if strings.TrimSpace(p.ID) == "" {
		return errors.New("patient id required")
	}
	if _, exists := r.patients[p.ID]; exists {
		return storage.ErrConflict
	}
	key := strings.ToUpper(p.GlobalPatientID)
	if _, exists := r.byGlobal[key]; exists {
		return storage.ErrConflict
	}
	r.patients[p.ID] = p
	r.byGlobal[key] = p.ID
	return nil
}

func (r *directoryRepo) GetPatient(ctx context.Context, id string) (directory.Patient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.patients[id]
	if !ok {
		return directory.Patient{}, storage.ErrNotFound
	}
	return p, nil
}

func (r *directoryRepo) GetPatientByGlobalID(ctx context.Context, globalID string) (directory.Patient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byGlobal[strings.ToUpper(strings.TrimSpace(globalID))]
	if !ok {
		return directory.Patient{}, storage.ErrNotFound
	}
	return r.patients[id], nil
}

func (r *directoryRepo) CreateDoctor(ctx context.Context, d directory.Doctor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if strings.TrimSpace(d.ID) == "" {
		return errors.New("doctor id required")
	}
	if _, exists := r.doctors[d.ID]; exists {
		return storage.ErrConflict
	}
	r.doctors[d.ID] = d
	return nil
}

func (r *directoryRepo) GetDoctor(ctx context.Context, id string) (directory.Doctor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.doctors[id]
	if !ok {
		return directory.Doctor{}, storage.ErrNotFound
	}
	return d, nil
}
