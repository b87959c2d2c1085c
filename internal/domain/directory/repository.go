package directory

import "context"

// Repository devuelve storage.ErrNotFound si no existe y storage.ErrConflict
// si el id o el global id ya están tomados.
type Repository interface {
	CreatePatient(ctx context.Context, p Patient) error
	GetPatient(ctx context.Context, id string) (Patient, error)
	GetPatientByGlobalID(ctx context.Context, globalID string) (Patient, error)

	CreateDoctor(ctx context.Context, d Doctor) error
	GetDoctor(ctx context.Context, id string) (Doctor, error)
}
