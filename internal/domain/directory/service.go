package directory

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
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("already exists")
)

const globalIDPrefix = "PAT-"

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

type PatientInput struct {
	ID                  string // opcional: subject del proveedor de identidad
	FirstName           string
	LastName            string
	Email               string
	City                string
	Country             string
	PrimaryDepartmentID string
}

func (s *Service) RegisterPatient(ctx context.Context, in PatientInput) (Patient, error) {
	p := Patient{
		ID:                  strings.TrimSpace(in.ID),
		FirstName:           strings.TrimSpace(in.FirstName),
		LastName:            strings.TrimSpace(in.LastName),
		Email:               strings.TrimSpace(in.Email),
		City:                strings.TrimSpace(in.City),
		Country:             strings.TrimSpace(in.Country),
		PrimaryDepartmentID: strings.TrimSpace(in.PrimaryDepartmentID),
		CreatedAt:           s.now(),
	}
	if p.FirstName == "" || p.PrimaryDepartmentID == "" {
		return Patient{}, ErrInvalidInput
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.GlobalPatientID = NewGlobalPatientID()

	if err := s.repo.CreatePatient(ctx, p); err != nil {
		return Patient{}, mapRepoErr(err)
	}
	return p, nil
}

type DoctorInput struct {
	ID           string
	FirstName    string
	LastName     string
	Email        string
	DepartmentID string
}

func (s *Service) RegisterDoctor(ctx context.Context, in DoctorInput) (Doctor, error) {
	d := Doctor{
		ID:           strings.TrimSpace(in.ID),
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		Email:        strings.TrimSpace(in.Email),
		DepartmentID: strings.TrimSpace(in.DepartmentID),
		CreatedAt:    s.now(),
	}
	if d.FirstName == "" || d.DepartmentID == "" {
		return Doctor{}, ErrInvalidInput
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}

	if err := s.repo.CreateDoctor(ctx, d); err != nil {
		return Doctor{}, mapRepoErr(err)
	}
	return d, nil
}

func (s *Service) Patient(ctx context.Context, id string) (Patient, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Patient{}, ErrNotFound
	}
	p, err := s.repo.GetPatient(ctx, id)
	if err != nil {
		return Patient{}, mapRepoErr(err)
	}
	return p, nil
}

func (s *Service) Doctor(ctx context.Context, id string) (Doctor, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Doctor{}, ErrNotFound
	}
	d, err := s.repo.GetDoctor(ctx, id)
	if err != nil {
		return Doctor{}, mapRepoErr(err)
	}
	return d, nil
}

// FindPatient resuelve por global id exacto y, si el identificador es un UUID,
// cae a la clave primaria.
func (s *Service) FindPatient(ctx context.Context, identifier string) (Patient, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return Patient{}, ErrNotFound
	}

	p, err := s.repo.GetPatientByGlobalID(ctx, identifier)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return Patient{}, err
	}

	if _, perr := uuid.Parse(identifier); perr != nil {
		return Patient{}, ErrNotFound
	}
	return s.Patient(ctx, identifier)
}

// NewGlobalPatientID arma el identificador público a partir de un UUID aleatorio.
func NewGlobalPatientID() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return globalIDPrefix + strings.ToUpper(raw[:8])
}

func mapRepoErr(err error) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, storage.ErrConflict):
		return ErrConflict
	default:
		return err
	}
}
