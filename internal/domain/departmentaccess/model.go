package departmentaccess

import "time"

// Referral: su sola existencia autoriza al departamento a ver los informes del paciente.
type Referral struct {
	ID           string
	PatientID    string
	DepartmentID string
	CreatedBy    string
	CreatedAt    time.Time
}
