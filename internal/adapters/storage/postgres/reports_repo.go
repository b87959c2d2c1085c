package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"hospital-patient-access/internal/domain/reports"
	"hospital-patient-access/internal/ports/storage"
)

type ReportsRepo struct {
	db *sql.DB
}

func NewReportsRepo(db *sql.DB) *ReportsRepo {
	return &ReportsRepo{db: db}
}

const reportColumns = `
	id, patient_id,
	type, title, content,
	author_id, department_id,
	reported_at, created_at,
	status`

func (r *ReportsRepo) Create(ctx context.Context, rep reports.Report) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO reports (`+reportColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`,
		rep.ID,
		rep.PatientID,
		string(rep.Type),
		rep.Title,
		rep.Content,
		rep.AuthorID,
		rep.DepartmentID,
		rep.ReportedAt,
		rep.CreatedAt,
		string(rep.Status),
	)
	return mapErr(err)
}

func (r *ReportsRepo) GetByID(ctx context.Context, id string) (reports.Report, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return reports.Report{}, storage.ErrNotFound
	}

	rep, err := scanReport(r.db.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM reports WHERE id = $1`, id))
	if err != nil {
		return reports.Report{}, mapErr(err)
	}
	return rep, nil
}

func (r *ReportsRepo) ListByPatient(ctx context.Context, patientID string, filter reports.ListFilter) ([]reports.Report, error) {
	patientID = strings.TrimSpace(patientID)
	if patientID == "" {
		return []reports.Report{}, nil
	}

	sb := strings.Builder{}
	sb.WriteString(`SELECT ` + reportColumns + ` FROM reports WHERE patient_id = $1`)

	args := []any{patientID}
	argN := 2

	if len(filter.Types) > 0 {
		placeholders := make([]string, 0, len(filter.Types))
		for _, t := range filter.Types {
			placeholders = append(placeholders, fmt.Sprintf("$%d", argN))
			args = append(args, string(t))
			argN++
		}
		sb.WriteString(" AND type IN (" + strings.Join(placeholders, ",") + ")")
	}

	if filter.From != nil {
		sb.WriteString(fmt.Sprintf(" AND reported_at >= $%d", argN))
		args = append(args, *filter.From)
		argN++
	}
	if filter.To != nil {
		sb.WriteString(fmt.Sprintf(" AND reported_at <= $%d", argN))
		args = append(args, *filter.To)
		argN++
	}

	// q: búsqueda simple en title + content
	if q := strings.TrimSpace(filter.Query); q != "" {
		sb.WriteString(fmt.Sprintf(" AND (title ILIKE $%d OR content ILIKE $%d)", argN, argN))
		args = append(args, "%"+q+"%")
		argN++
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}

	sb.WriteString(" ORDER BY reported_at DESC")
	sb.WriteString(fmt.Sprintf(" LIMIT $%d", argN))
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]reports.Report, 0)
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rep)
	}
	return out, rows.Err()
}

func scanReport(s scanner) (reports.Report, error) {
	var rep reports.Report
	var typ, status string
	if err := s.Scan(
		&rep.ID,
		&rep.PatientID,
		&typ,
		&rep.Title,
		&rep.Content,
		&rep.AuthorID,
		&rep.DepartmentID,
		&rep.ReportedAt,
		&rep.CreatedAt,
		&status,
	); err != nil {
		return reports.Report{}, err
	}
	rep.Type = reports.ReportType(typ)
	rep.Status = reports.ReportStatus(status)
	return rep, nil
}
