package patientaccess

import "time"

const (
	MaxDurationHours     = 168
	DefaultDurationHours = 24
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// AccessRequest es el pedido de un médico para ver los datos de un paciente.
// Solo puede haber una pending por (paciente, médico).
type AccessRequest struct {
	ID string

	PatientID string
	DoctorID  string

	Reason        string
	DurationHours int

	Status Status

	ApprovedAt      *time.Time
	RejectedAt      *time.Time
	RejectionReason string
	ExpiresAt       *time.Time // solo al aprobar

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Grant es el acceso compartido que nace de una solicitud aprobada (una sola por solicitud).
type Grant struct {
	ID string

	PatientID       string
	DoctorID        string
	AccessRequestID string

	GrantedAt time.Time
	ExpiresAt time.Time

	IsActive  bool
	RevokedAt *time.Time
}

// Effective: la expiración es perezosa, el sweep solo baja el flag.
func (g Grant) Effective(now time.Time) bool {
	return g.IsActive && now.Before(g.ExpiresAt)
}

// PatientSummary es lo único que ve un médico al buscar: sin contacto ni datos clínicos.
type PatientSummary struct {
	ID              string
	GlobalPatientID string
	Name            string
	City            string
	Country         string
}

type SharedPatient struct {
	Patient PatientSummary
	Grant   Grant
}

type SweepReport struct {
	GrantsExpired   int
	RequestsExpired int
}
