package directory

import "time"

// Patient es la ficha mínima que el resto de los módulos necesita.
// ID coincide con el subject del token del paciente.
type Patient struct {
	ID              string
	GlobalPatientID string // público, p.ej. PAT-3F9A1C2B

	FirstName string
	LastName  string
	Email     string

	City    string
	Country string

	PrimaryDepartmentID string

	CreatedAt time.Time
}

func (p Patient) FullName() string {
	return joinName(p.FirstName, p.LastName)
}

type Doctor struct {
	ID string

	FirstName string
	LastName  string
	Email     string

	DepartmentID string

	CreatedAt time.Time
}

func (d Doctor) FullName() string {
	return joinName(d.FirstName, d.LastName)
}

func joinName(first, last string) string {
	switch {
	case first == "":
		return last
	case last == "":
		return first
	}
	return first + " " + last
}
