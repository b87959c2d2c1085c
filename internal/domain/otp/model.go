package otp

import "time"

const (
	CodeTTL     = 15 * time.Minute
	MaxAttempts = 3
	CodeLength  = 6
)

// Code es un código de verificación de un solo uso ligado a una solicitud de acceso.
type Code struct {
	ID              string
	AccessRequestID string

	Code string

	GeneratedAt time.Time
	ExpiresAt   time.Time

	IsUsed bool
	UsedAt *time.Time

	Attempts    int
	MaxAttempts int
}

type Reason string

const (
	ReasonInvalid          Reason = "invalid"
	ReasonUsed             Reason = "used"
	ReasonExpired          Reason = "expired"
	ReasonAttemptsExceeded Reason = "attempts_exceeded"
)

// Result no es un error: el caller necesita el motivo para auditarlo.
type Result struct {
	Valid   bool
	Reason  Reason
	Message string
}

var messages = map[Reason]string{
	ReasonInvalid:          "Invalid OTP code",
	ReasonUsed:             "OTP code has already been used",
	ReasonExpired:          "OTP code has expired",
	ReasonAttemptsExceeded: "Maximum verification attempts exceeded",
}

func invalid(r Reason) Result {
	return Result{Valid: false, Reason: r, Message: messages[r]}
}
