package postgres

import (
	"context"
	"database/sql"
	"strings"

	"hospital-patient-access/internal/domain/departmentaccess"
)

type ReferralsRepo struct {
	db *sql.DB
}

func NewReferralsRepo(db *sql.DB) *ReferralsRepo {
	return &ReferralsRepo{db: db}
}

func (r *ReferralsRepo) Create(ctx context.Context, ref departmentaccess.Referral) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO department_referrals (id, patient_id, department_id, created_by, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`,
		ref.ID,
		ref.PatientID,
		ref.DepartmentID,
		ref.CreatedBy,
		ref.CreatedAt,
	)
	return mapErr(err)
}

func (r *ReferralsRepo) Exists(ctx context.Context, patientID, departmentID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM department_referrals
			WHERE patient_id = $1 AND department_id = $2
		)
	`, strings.TrimSpace(patientID), strings.TrimSpace(departmentID)).Scan(&exists)
	return exists, err
}

func (r *ReferralsRepo) ListByPatient(ctx context.Context, patientID string) ([]departmentaccess.Referral, error) {
	patientID = strings.TrimSpace(patientID)
	if patientID == "" {
		return []departmentaccess.Referral{}, nil
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, patient_id, department_id, created_by, created_at
		FROM department_referrals
		WHERE patient_id = $1
		ORDER BY created_at DESC
	`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]departmentaccess.Referral, 0)
	for rows.Next() {
		var ref departmentaccess.Referral
		if err := rows.Scan(&ref.ID, &ref.PatientID, &ref.DepartmentID, &ref.CreatedBy, &ref.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, ref)
	}
	return out, rows.Err()
}
