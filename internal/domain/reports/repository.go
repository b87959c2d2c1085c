package reports

import (
	"context"
	"time"
)

type Repository interface {
	Create(ctx context.Context, r Report) error
	GetByID(ctx context.Context, id string) (Report, error)
	ListByPatient(ctx context.Context, patientID string, filter ListFilter) ([]Report, error)
}

type ListFilter struct {
	Types []ReportType
	From  *time.Time
	To    *time.Time
	Query string
	Limit int
}
