package postgres

import (
	"context"
	"database/sql"
	"strings"

	"hospital-patient-access/internal/domain/directory"
	"hospital-patient-access/internal/ports/storage"
)

type DirectoryRepo struct {
	db *sql.DB
}

func NewDirectoryRepo(db *sql.DB) *DirectoryRepo {
	return &DirectoryRepo{db: db}
}

const patientColumns = `
	id, global_patient_id,
	first_name, last_name, email,
	city, country, primary_department_id,
	created_at`

func (r *DirectoryRepo) CreatePatient(ctx context.Context, p directory.Patient) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO patients (`+patientColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`,
		p.ID,
		strings.ToUpper(p.GlobalPatientID),
		p.FirstName,
		p.LastName,
		p.Email,
		p.City,
		p.Country,
		p.PrimaryDepartmentID,
		p.CreatedAt,
	)
	return mapErr(err)
}

func (r *DirectoryRepo) GetPatient(ctx context.Context, id string) (directory.Patient, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return directory.Patient{}, storage.ErrNotFound
	}
	return r.patient(ctx, `SELECT `+patientColumns+` FROM patients WHERE id = $1`, id)
}

func (r *DirectoryRepo) GetPatientByGlobalID(ctx context.Context, globalID string) (directory.Patient, error) {
	globalID = strings.ToUpper(strings.TrimSpace(globalID))
	if globalID == "" {
		return directory.Patient{}, storage.ErrNotFound
	}
	return r.patient(ctx, `SELECT `+patientColumns+` FROM patients WHERE global_patient_id = $1`, globalID)
}

func (r *DirectoryRepo) patient(ctx context.Context, query string, args ...any) (directory.Patient, error) {
	var p directory.Patient
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&p.ID,
		&p.GlobalPatientID,
		&p.FirstName,
		&p.LastName,
		&p.Email,
		&p.City,
		&p.Country,
		&p.PrimaryDepartmentID,
		&p.CreatedAt,
	); err != nil {
		return directory.Patient{}, mapErr(err)
	}
	return p, nil
}

func (r *DirectoryRepo) CreateDoctor(ctx context.Context, d directory.Doctor) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO doctors (id, first_name, last_name, email, department_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`,
		d.ID,
		d.FirstName,
		d.LastName,
		d.Email,
		d.DepartmentID,
		d.CreatedAt,
	)
	return mapErr(err)
}

func (r *DirectoryRepo) GetDoctor(ctx context.Context, id string) (directory.Doctor, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return directory.Doctor{}, storage.ErrNotFound
	}

	var d directory.Doctor
	if err := r.db.QueryRowContext(ctx, `
		SELECT id, first_name, last_name, email, department_id, created_at
		FROM doctors
		WHERE id = $1
	`, id).Scan(
		&d.ID,
		&d.FirstName,
		&d.LastName,
		&d.Email,
		&d.DepartmentID,
		&d.CreatedAt,
	); err != nil {
		return directory.Doctor{}, mapErr(err)
	}
	return d, nil
}
