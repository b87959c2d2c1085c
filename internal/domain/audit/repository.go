package audit

import "context"

type Repository interface {
	Append(ctx context.Context, e Entry) error
	ListByPatient(ctx context.Context, patientID string, limit int) ([]Entry, error)
}
