package audit

import "time"

// Action es el enum cerrado de eventos auditables.
type Action string

const (
	ActionRequestCreated  Action = "REQUEST_CREATED"
	ActionRequestApproved Action = "REQUEST_APPROVED"
	ActionRequestRejected Action = "REQUEST_REJECTED"
	ActionRequestExpired  Action = "REQUEST_EXPIRED"
	ActionCodeResent      Action = "CODE_RESENT"
	ActionAccessGranted   Action = "ACCESS_GRANTED"
	ActionAccessExpired   Action = "ACCESS_EXPIRED"
	ActionAccessRevoked   Action = "ACCESS_REVOKED"
	ActionRecordViewed    Action = "RECORD_VIEWED"
)

func (a Action) Valid() bool {
	switch a {
	case ActionRequestCreated, ActionRequestApproved, ActionRequestRejected, ActionRequestExpired,
		ActionCodeResent, ActionAccessGranted, ActionAccessExpired, ActionAccessRevoked, ActionRecordViewed:
		return true
	}
	return false
}

// Entry es append-only: el core nunca la actualiza ni la borra.
type Entry struct {
	ID string

	PatientID string
	DoctorID  string // vacío en acciones solo del paciente

	Action  Action
	Details map[string]any

	IPAddress string
	CreatedAt time.Time
}
