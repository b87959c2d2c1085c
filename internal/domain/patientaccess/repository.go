package patientaccess

import (
	"context"
	"time"

	"hospital-patient-access/internal/domain/audit"
	"hospital-patient-access/internal/domain/otp"
)

// Los repos devuelven storage.ErrNotFound / storage.ErrConflict.
type RequestRepository interface {
	// Create devuelve storage.ErrConflict si ya hay una pending para el par.
	Create(ctx context.Context, r AccessRequest) error
	Update(ctx context.Context, r AccessRequest) error
	GetByID(ctx context.Context, id string) (AccessRequest, error)

	// GetForUpdate bloquea la fila hasta el fin de la transacción.
	GetForUpdate(ctx context.Context, id string) (AccessRequest, error)

	FindPending(ctx context.Context, patientID, doctorID string) (AccessRequest, error)
	ListPendingByDoctor(ctx context.Context, doctorID string) ([]AccessRequest, error)
	ListPendingByPatient(ctx context.Context, patientID string) ([]AccessRequest, error)
	ListStalePending(ctx context.Context, createdBefore time.Time) ([]AccessRequest, error)
}

type GrantRepository interface {
	// Create devuelve storage.ErrConflict si la solicitud ya tiene grant.
	Create(ctx context.Context, g Grant) error
	Update(ctx context.Context, g Grant) error
	GetByID(ctx context.Context, id string) (Grant, error)

	FindEffective(ctx context.Context, doctorID, patientID string, now time.Time) (Grant, error)
	ListEffectiveByDoctor(ctx context.Context, doctorID string, now time.Time) ([]Grant, error)
	ListEffectiveByPatient(ctx context.Context, patientID string, now time.Time) ([]Grant, error)

	// ListExpiredActive: isActive && expiresAt <= now.
	ListExpiredActive(ctx context.Context, now time.Time) ([]Grant, error)
}

type Repos struct {
	Requests RequestRepository
	Grants   GrantRepository
	Codes    otp.Repository
	Audit    audit.Repository
}

// Store agrupa los repos que comparten transacción.
// Si fn devuelve error, nada de lo escrito dentro queda persistido.
type Store interface {
	Repos() Repos
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Repos) error) error
}
