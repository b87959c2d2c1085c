package departmentaccess

import "context"

type ReferralRepository interface {
	// Create devuelve storage.ErrConflict si ya existe el par (paciente, departamento).
	Create(ctx context.Context, r Referral) error
	Exists(ctx context.Context, patientID, departmentID string) (bool, error)
	ListByPatient(ctx context.Context, patientID string) ([]Referral, error)
}
