package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"hospital-patient-access/internal/domain/audit"
	"hospital-patient-access/internal/domain/otp"
	"hospital-patient-access/internal/domain/patientaccess"
)

// PatientAccessStore implementa patientaccess.Store sobre database/sql.
type PatientAccessStore struct {
	db *sql.DB
}

func NewPatientAccessStore(db *sql.DB) *PatientAccessStore {
	return &PatientAccessStore{db: db}
}

func (s *PatientAccessStore) Repos() patientaccess.Repos {
	return reposOver(s.db)
}

// WithinTx corre fn en una transacción READ COMMITTED; GetForUpdate usa FOR UPDATE sobre ella.
func (s *PatientAccessStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx patientaccess.Repos) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(ctx, reposOver(tx)); err != nil {
		return err
	}
	return tx.Commit()
}

func reposOver(q querier) patientaccess.Repos {
	return patientaccess.Repos{
		Requests: &RequestsRepo{q: q},
		Grants:   &GrantsRepo{q: q},
		Codes:    &CodesRepo{q: q},
		Audit:    &AuditRepo{q: q},
	}
}

// -------------------------
// Access requests
// -------------------------

type RequestsRepo struct {
	q querier
}

const requestColumns = `
	id, patient_id, doctor_id,
	reason, duration_hours, status,
	approved_at, rejected_at, rejection_reason, expires_at,
	created_at, updated_at`

func (r *RequestsRepo) Create(ctx context.Context, ar patientaccess.AccessRequest) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO access_requests (`+requestColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`,
		ar.ID,
		ar.PatientID,
		ar.DoctorID,
		ar.Reason,
		ar.DurationHours,
		string(ar.Status),
		toNullTime(ar.ApprovedAt),
		toNullTime(ar.RejectedAt),
		ar.RejectionReason,
		toNullTime(ar.ExpiresAt),
		ar.CreatedAt,
		ar.UpdatedAt,
	)
	return mapErr(err)
}

func (r *RequestsRepo) Update(ctx context.Context, ar patientaccess.AccessRequest) error {
	return execOne(ctx, r.q, `
		UPDATE access_requests
		SET
			status = $2,
			approved_at = $3,
			rejected_at = $4,
			rejection_reason = $5,
			expires_at = $6,
			updated_at = $7
		WHERE id = $1
	`,
		ar.ID,
		string(ar.Status),
		toNullTime(ar.ApprovedAt),
		toNullTime(ar.RejectedAt),
		ar.RejectionReason,
		toNullTime(ar.ExpiresAt),
		ar.UpdatedAt,
	)
}

func (r *RequestsRepo) GetByID(ctx context.Context, id string) (patientaccess.AccessRequest, error) {
	return r.one(ctx, `SELECT `+requestColumns+` FROM access_requests WHERE id = $1`, strings.TrimSpace(id))
}

func (r *RequestsRepo) GetForUpdate(ctx context.Context, id string) (patientaccess.AccessRequest, error) {
	return r.one(ctx, `SELECT `+requestColumns+` FROM access_requests WHERE id = $1 FOR UPDATE`, strings.TrimSpace(id))
}

func (r *RequestsRepo) FindPending(ctx context.Context, patientID, doctorID string) (patientaccess.AccessRequest, error) {
	return r.one(ctx, `
		SELECT `+requestColumns+`
		FROM access_requests
		WHERE patient_id = $1 AND doctor_id = $2 AND status = 'pending'
		LIMIT 1
	`, patientID, doctorID)
}

func (r *RequestsRepo) ListPendingByDoctor(ctx context.Context, doctorID string) ([]patientaccess.AccessRequest, error) {
	return r.many(ctx, `
		SELECT `+requestColumns+`
		FROM access_requests
		WHERE doctor_id = $1 AND status = 'pending'
		ORDER BY created_at DESC, id DESC
	`, doctorID)
}

func (r *RequestsRepo) ListPendingByPatient(ctx context.Context, patientID string) ([]patientaccess.AccessRequest, error) {
	return r.many(ctx, `
		SELECT `+requestColumns+`
		FROM access_requests
		WHERE patient_id = $1 AND status = 'pending'
		ORDER BY created_at DESC, id DESC
	`, patientID)
}

func (r *RequestsRepo) ListStalePending(ctx context.Context, createdBefore time.Time) ([]patientaccess.AccessRequest, error) {
	return r.many(ctx, `
		SELECT `+requestColumns+`
		FROM access_requests
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at ASC
		FOR UPDATE SKIP LOCKED
	`, createdBefore)
}

func (r *RequestsRepo) one(ctx context.Context, query string, args ...any) (patientaccess.AccessRequest, error) {
	ar, err := scanRequest(r.q.QueryRowContext(ctx, query, args...))
	if err != nil {
		return patientaccess.AccessRequest{}, mapErr(err)
	}
	return ar, nil
}

func (r *RequestsRepo) many(ctx context.Context, query string, args ...any) ([]patientaccess.AccessRequest, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]patientaccess.AccessRequest, 0)
	for rows.Next() {
		ar, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ar)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRequest(s scanner) (patientaccess.AccessRequest, error) {
	var ar patientaccess.AccessRequest
	var status string
	var approvedAt, rejectedAt, expiresAt sql.NullTime

	if err := s.Scan(
		&ar.ID,
		&ar.PatientID,
		&ar.DoctorID,
		&ar.Reason,
		&ar.DurationHours,
		&status,
		&approvedAt,
		&rejectedAt,
		&ar.RejectionReason,
		&expiresAt,
		&ar.CreatedAt,
		&ar.UpdatedAt,
	); err != nil {
		return patientaccess.AccessRequest{}, err
	}

	ar.Status = patientaccess.Status(status)
	if !ar.Status.Valid() {
		return patientaccess.AccessRequest{}, fmt.Errorf("unknown access request status %q", status)
	}
	ar.ApprovedAt = fromNullTime(approvedAt)
	ar.RejectedAt = fromNullTime(rejectedAt)
	ar.ExpiresAt = fromNullTime(expiresAt)
	return ar, nil
}

// -------------------------
// Grants
// -------------------------

type GrantsRepo struct {
	q querier
}

const grantColumns = `
	id, patient_id, doctor_id, access_request_id,
	granted_at, expires_at, is_active, revoked_at`

func (r *GrantsRepo) Create(ctx context.Context, g patientaccess.Grant) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO shared_access_grants (`+grantColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`,
		g.ID,
		g.PatientID,
		g.DoctorID,
		g.AccessRequestID,
		g.GrantedAt,
		g.ExpiresAt,
		g.IsActive,
		toNullTime(g.RevokedAt),
	)
	return mapErr(err)
}

func (r *GrantsRepo) Update(ctx context.Context, g patientaccess.Grant) error {
	return execOne(ctx, r.q, `
		UPDATE shared_access_grants
		SET is_active = $2, revoked_at = $3
		WHERE id = $1
	`, g.ID, g.IsActive, toNullTime(g.RevokedAt))
}

func (r *GrantsRepo) GetByID(ctx context.Context, id string) (patientaccess.Grant, error) {
	g, err := scanGrant(r.q.QueryRowContext(ctx,
		`SELECT `+grantColumns+` FROM shared_access_grants WHERE id = $1`, strings.TrimSpace(id)))
	if err != nil {
		return patientaccess.Grant{}, mapErr(err)
	}
	return g, nil
}

func (r *GrantsRepo) FindEffective(ctx context.Context, doctorID, patientID string, now time.Time) (patientaccess.Grant, error) {
	g, err := scanGrant(r.q.QueryRowContext(ctx, `
		SELECT `+grantColumns+`
		FROM shared_access_grants
		WHERE doctor_id = $1 AND patient_id = $2 AND is_active AND expires_at > $3
		ORDER BY expires_at DESC
		LIMIT 1
	`, doctorID, patientID, now))
	if err != nil {
		return patientaccess.Grant{}, mapErr(err)
	}
	return g, nil
}

func (r *GrantsRepo) ListEffectiveByDoctor(ctx context.Context, doctorID string, now time.Time) ([]patientaccess.Grant, error) {
	return r.many(ctx, `
		SELECT `+grantColumns+`
		FROM shared_access_grants
		WHERE doctor_id = $1 AND is_active AND expires_at > $2
		ORDER BY expires_at DESC
	`, doctorID, now)
}

func (r *GrantsRepo) ListEffectiveByPatient(ctx context.Context, patientID string, now time.Time) ([]patientaccess.Grant, error) {
	return r.many(ctx, `
		SELECT `+grantColumns+`
		FROM shared_access_grants
		WHERE patient_id = $1 AND is_active AND expires_at > $2
		ORDER BY expires_at DESC
	`, patientID, now)
}

func (r *GrantsRepo) ListExpiredActive(ctx context.Context, now time.Time) ([]patientaccess.Grant, error) {
	return r.many(ctx, `
		SELECT `+grantColumns+`
		FROM shared_access_grants
		WHERE is_active AND expires_at <= $1
		ORDER BY expires_at ASC
		FOR UPDATE SKIP LOCKED
	`, now)
}

func (r *GrantsRepo) many(ctx context.Context, query string, args ...any) ([]patientaccess.Grant, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]patientaccess.Grant, 0)
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func scanGrant(s scanner) (patientaccess.Grant, error) {
	var g patientaccess.Grant
	var revokedAt sql.NullTime
	if err := s.Scan(
		&g.ID,
		&g.PatientID,
		&g.DoctorID,
		&g.AccessRequestID,
		&g.GrantedAt,
		&g.ExpiresAt,
		&g.IsActive,
		&revokedAt,
	); err != nil {
		return patientaccess.Grant{}, err
	}
	g.RevokedAt = fromNullTime(revokedAt)
	return g, nil
}

// -------------------------
// Verification codes
// -------------------------

type CodesRepo struct {
	q querier
}

const codeColumns = `
	id, access_request_id, code,
	generated_at, expires_at,
	is_used, used_at, attempts, max_attempts`

func (r *CodesRepo) Create(ctx context.Context, c otp.Code) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO otp_verifications (`+codeColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`,
		c.ID,
		c.AccessRequestID,
		c.Code,
		c.GeneratedAt,
		c.ExpiresAt,
		c.IsUsed,
		toNullTime(c.UsedAt),
		c.Attempts,
		c.MaxAttempts,
	)
	return mapErr(err)
}

func (r *CodesRepo) Update(ctx context.Context, c otp.Code) error {
	return execOne(ctx, r.q, `
		UPDATE otp_verifications
		SET is_used = $2, used_at = $3, attempts = $4
		WHERE id = $1
	`, c.ID, c.IsUsed, toNullTime(c.UsedAt), c.Attempts)
}

func (r *CodesRepo) InvalidateUnused(ctx context.Context, accessRequestID string, at time.Time) error {
	_, err := r.q.ExecContext(ctx, `
		UPDATE otp_verifications
		SET is_used = TRUE, used_at = $2
		WHERE access_request_id = $1 AND NOT is_used
	`, accessRequestID, at)
	return err
}

func (r *CodesRepo) FindLatestMatch(ctx context.Context, accessRequestID, code string) (otp.Code, error) {
	return r.one(ctx, `
		SELECT `+codeColumns+`
		FROM otp_verifications
		WHERE access_request_id = $1 AND code = $2
		ORDER BY generated_at DESC
		LIMIT 1
	`, accessRequestID, code)
}

func (r *CodesRepo) FindLatestUnused(ctx context.Context, accessRequestID string) (otp.Code, error) {
	return r.one(ctx, `
		SELECT `+codeColumns+`
		FROM otp_verifications
		WHERE access_request_id = $1 AND NOT is_used
		ORDER BY generated_at DESC
		LIMIT 1
	`, accessRequestID)
}

func (r *CodesRepo) one(ctx context.Context, query string, args ...any) (otp.Code, error) {
	var c otp.Code
	var usedAt sql.NullTime
	err := r.q.QueryRowContext(ctx, query, args...).Scan(
		&c.ID,
		&c.AccessRequestID,
		&c.Code,
		&c.GeneratedAt,
		&c.ExpiresAt,
		&c.IsUsed,
		&usedAt,
		&c.Attempts,
		&c.MaxAttempts,
	)
	if err != nil {
		return otp.Code{}, mapErr(err)
	}
	c.UsedAt = fromNullTime(usedAt)
	return c, nil
}

// -------------------------
// Audit (append-only)
// -------------------------

type AuditRepo struct {
	q querier
}

func (r *AuditRepo) Append(ctx context.Context, e audit.Entry) error {
	details, err := json.Marshal(e.Details)
	if err != nil {
		return fmt.Errorf("encode audit details: %w", err)
	}
	_, err = r.q.ExecContext(ctx, `
		INSERT INTO access_audit_log (
			id, patient_id, doctor_id,
			action, details, ip_address, created_at
		) VALUES ($1,$2,$3,$4,$5::text::jsonb,$6,$7)
	`,
		e.ID,
		e.PatientID,
		toNullString(e.DoctorID),
		string(e.Action),
		string(details),
		toNullString(e.IPAddress),
		e.CreatedAt,
	)
	return mapErr(err)
}

func (r *AuditRepo) ListByPatient(ctx context.Context, patientID string, limit int) ([]audit.Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, patient_id, doctor_id, action, details, ip_address, created_at
		FROM access_audit_log
		WHERE patient_id = $1
		ORDER BY created_at DESC, seq DESC
		LIMIT $2
	`, patientID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]audit.Entry, 0)
	for rows.Next() {
		var e audit.Entry
		var doctorID, ip sql.NullString
		var action string
		var details []byte

		if err := rows.Scan(&e.ID, &e.PatientID, &doctorID, &action, &details, &ip, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.DoctorID = doctorID.String
		e.IPAddress = ip.String
		e.Action = audit.Action(action)
		e.Details = map[string]any{}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, fmt.Errorf("decode audit details: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

var _ patientaccess.Store = (*PatientAccessStore)(nil)
