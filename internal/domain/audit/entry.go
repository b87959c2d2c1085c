package audit

import (
	"time"

	"github.com/google/uuid"
)

// New arma una entrada con id y timestamp; details nil se normaliza a map vacío.
func New(action Action, patientID, doctorID string, details map[string]any, at time.Time) Entry {
	if details == nil {
		details = map[string]any{}
	}
	return Entry{
		ID:        uuid.NewString(),
		PatientID: patientID,
		DoctorID:  doctorID,
		Action:    action,
		Details:   details,
		CreatedAt: at,
	}
}

// WithIP devuelve una copia con la IP de origen.
func (e Entry) WithIP(ip string) Entry {
	e.IPAddress = ip
	return e
}
