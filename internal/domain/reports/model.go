package reports

import "time"

// Report es un informe clínico de un paciente.
type Report struct {
	ID        string
	PatientID string

	Type ReportType

	Title   string
	Content string

	AuthorID     string
	DepartmentID string

	// ReportedAt es cuándo ocurrió el estudio; CreatedAt cuándo se cargó.
	ReportedAt time.Time
	CreatedAt  time.Time

	Status ReportStatus
}
