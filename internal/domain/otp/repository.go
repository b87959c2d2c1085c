package otp

import (
	"context"
	"time"
)

// Repository devuelve storage.ErrNotFound cuando no hay fila.
type Repository interface {
	Create(ctx context.Context, c Code) error
	Update(ctx context.Context, c Code) error

	// InvalidateUnused marca como usados todos los códigos vivos de la solicitud.
	InvalidateUnused(ctx context.Context, accessRequestID string, at time.Time) error

	// FindLatestMatch busca el código más reciente con ese valor para la solicitud.
	FindLatestMatch(ctx context.Context, accessRequestID, code string) (Code, error)
	FindLatestUnused(ctx context.Context, accessRequestID string) (Code, error)
}
