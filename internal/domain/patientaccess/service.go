package patientaccess

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"hospital-patient-access/internal/domain/audit"
	"hospital-patient-access/internal/domain/directory"
	"hospital-patient-access/internal/domain/otp"
	"hospital-patient-access/internal/platform/logger"
	"hospital-patient-access/internal/ports/storage"

	"github.com/google/uuid"
)

var (
	ErrValidation          = errors.New("validation failed")
	ErrConflict            = errors.New("a pending request already exists for this patient")
	ErrNotFound            = errors.New("not found")
	ErrNotFoundOrProcessed = errors.New("request not found or already processed")
	ErrForbidden           = errors.New("forbidden")
)

// Directory evita acoplar el servicio al storage de usuarios.
type Directory interface {
	FindPatient(ctx context.Context, identifier string) (directory.Patient, error)
	Patient(ctx context.Context, id string) (directory.Patient, error)
	Doctor(ctx context.Context, id string) (directory.Doctor, error)
}

// Notifier es best-effort: sus errores se loguean y nunca deshacen una transición.
type Notifier interface {
	CodeIssued(ctx context.Context, r AccessRequest, code otp.Code) error
	RequestApproved(ctx context.Context, r AccessRequest, g Grant) error
	RequestRejected(ctx context.Context, r AccessRequest) error
	AccessRevoked(ctx context.Context, g Grant) error
}

type Service struct {
	store    Store
	codes    *otp.Service
	dir      Directory
	notifier Notifier
	log      logger.Logger

	now        func() time.Time
	pendingTTL time.Duration
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithPendingTTL: solicitudes pending más viejas que ttl las expira el sweep. 0 desactiva.
func WithPendingTTL(ttl time.Duration) Option {
	return func(s *Service) { s.pendingTTL = ttl }
}

func NewService(store Store, dir Directory, notifier Notifier, log logger.Logger, opts ...Option) *Service {
	if log == nil {
		log = logger.Nop()
	}
	s := &Service{
		store:    store,
		dir:      dir,
		notifier: notifier,
		log:      log.With(map[string]any{"component": "patientaccess"}),
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	s.codes = otp.NewService(store.Repos().Codes, s.now)
	return s
}

type CreateRequestInput struct {
	PatientID     string
	DoctorID      string
	Reason        string
	DurationHours int
}

// CreateRequest crea la solicitud pending, su auditoría y el primer código en una sola
// transacción. El código solo viaja al paciente por el notifier.
func (s *Service) CreateRequest(ctx context.Context, in CreateRequestInput) (AccessRequest, error) {
	patientID := strings.TrimSpace(in.PatientID)
	doctorID := strings.TrimSpace(in.DoctorID)
	reason := strings.TrimSpace(in.Reason)

	if patientID == "" || doctorID == "" {
		return AccessRequest{}, fmt.Errorf("%w: patientId is required", ErrValidation)
	}
	if reason == "" {
		return AccessRequest{}, fmt.Errorf("%w: reason is required", ErrValidation)
	}
	if in.DurationHours <= 0 || in.DurationHours > MaxDurationHours {
		return AccessRequest{}, fmt.Errorf("%w: durationHours must be between 1 and %d", ErrValidation, MaxDurationHours)
	}

	if _, err := s.dir.Patient(ctx, patientID); err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return AccessRequest{}, ErrNotFound
		}
		return AccessRequest{}, err
	}

	now := s.now()
	req := AccessRequest{
		ID:            uuid.NewString(),
		PatientID:     patientID,
		DoctorID:      doctorID,
		Reason:        reason,
		DurationHours: in.DurationHours,
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	var code otp.Code
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx Repos) error {
		if _, err := tx.Requests.FindPending(ctx, patientID, doctorID); err == nil {
			return ErrConflict
		} else if !errors.Is(err, storage.ErrNotFound) {
			return err
		}

		if err := tx.Requests.Create(ctx, req); err != nil {
			if errors.Is(err, storage.ErrConflict) {
				return ErrConflict
			}
			return err
		}

		if err := tx.Audit.Append(ctx, audit.New(audit.ActionRequestCreated, patientID, doctorID, map[string]any{
			"accessRequestId": req.ID,
			"reason":          reason,
			"durationHours":   in.DurationHours,
		}, now)); err != nil {
			return err
		}

		c, err := s.codes.Bind(tx.Codes).Generate(ctx, req.ID)
		if err != nil {
			return err
		}
		code = c
		return nil
	})
	if err != nil {
		return AccessRequest{}, err
	}

	s.notify("code issued", req.ID, func() error { return s.notifier.CodeIssued(ctx, req, code) })
	return req, nil
}

// VerifyResult no es un error: un código inválido es un resultado esperable.
type VerifyResult struct {
	Valid     bool
	Reason    otp.Reason
	Message   string
	ExpiresAt time.Time
	Grant     Grant
}

// VerifyCodeByDoctor valida el código que el paciente le pasó al médico.
// La fila de la solicitud queda bloqueada durante toda la operación, así que dos
// verificaciones simultáneas producen una sola aprobación.
func (s *Service) VerifyCodeByDoctor(ctx context.Context, requestID, doctorID, code, ip string) (VerifyResult, error) {
	requestID = strings.TrimSpace(requestID)
	doctorID = strings.TrimSpace(doctorID)
	code = strings.TrimSpace(code)

	if requestID == "" || doctorID == "" {
		return VerifyResult{}, ErrNotFoundOrProcessed
	}
	if code == "" {
		return VerifyResult{}, fmt.Errorf("%w: otpCode is required", ErrValidation)
	}

	var (
		out VerifyResult
		req AccessRequest
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx Repos) error {
		r, err := s.lockPending(ctx, tx, requestID)
		if err != nil {
			return err
		}
		if r.DoctorID != doctorID {
			return ErrNotFoundOrProcessed
		}

		codes := s.codes.Bind(tx.Codes)
		res, err := codes.Verify(ctx, requestID, code)
		if err != nil {
			return err
		}

		now := s.now()
		if !res.Valid {
			// el intento consumido y la auditoría se confirman; la solicitud sigue pending
			out = VerifyResult{Valid: false, Reason: res.Reason, Message: res.Message}
			return tx.Audit.Append(ctx, audit.New(audit.ActionRequestRejected, r.PatientID, r.DoctorID, map[string]any{
				"accessRequestId": r.ID,
				"reason":          res.Message,
				"ipAddress":       ip,
			}, now).WithIP(ip))
		}

		if err := codes.MarkUsed(ctx, requestID, code); err != nil {
			return err
		}

		approved, g, err := s.approveLocked(ctx, tx, r, now, "otp", ip)
		if err != nil {
			return err
		}
		req = approved
		out = VerifyResult{Valid: true, ExpiresAt: g.ExpiresAt, Grant: g}
		return nil
	})
	if err != nil {
		return VerifyResult{}, err
	}

	if out.Valid {
		s.notify("request approved", req.ID, func() error { return s.notifier.RequestApproved(ctx, req, out.Grant) })
	}
	return out, nil
}

// ApproveRequest es el camino del paciente sin código. Mismo efecto atómico que la verificación.
func (s *Service) ApproveRequest(ctx context.Context, requestID, patientID string) (Grant, error) {
	requestID = strings.TrimSpace(requestID)
	patientID = strings.TrimSpace(patientID)
	if requestID == "" || patientID == "" {
		return Grant{}, ErrNotFoundOrProcessed
	}

	var (
		req   AccessRequest
		grant Grant
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx Repos) error {
		r, err := s.lockPending(ctx, tx, requestID)
		if err != nil {
			return err
		}
		if r.PatientID != patientID {
			return ErrNotFoundOrProcessed
		}

		now := s.now()
		if err := tx.Codes.InvalidateUnused(ctx, r.ID, now); err != nil {
			return err
		}

		approved, g, err := s.approveLocked(ctx, tx, r, now, "patient", "")
		if err != nil {
			return err
		}
		req, grant = approved, g
		return nil
	})
	if err != nil {
		return Grant{}, err
	}

	s.notify("request approved", req.ID, func() error { return s.notifier.RequestApproved(ctx, req, grant) })
	return grant, nil
}

// RejectRequest es terminal: una solicitud rechazada no se puede aprobar después.
func (s *Service) RejectRequest(ctx context.Context, requestID, patientID, reason string) (AccessRequest, error) {
	requestID = strings.TrimSpace(requestID)
	patientID = strings.TrimSpace(patientID)
	reason = strings.TrimSpace(reason)
	if requestID == "" || patientID == "" {
		return AccessRequest{}, ErrNotFoundOrProcessed
	}

	var req AccessRequest
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx Repos) error {
		r, err := s.lockPending(ctx, tx, requestID)
		if err != nil {
			return err
		}
		if r.PatientID != patientID {
			return ErrNotFoundOrProcessed
		}

		now := s.now()
		r.Status = StatusRejected
		r.RejectedAt = &now
		r.RejectionReason = reason
		r.UpdatedAt = now
		if err := tx.Requests.Update(ctx, r); err != nil {
			return err
		}
		if err := tx.Codes.InvalidateUnused(ctx, r.ID, now); err != nil {
			return err
		}
		if err := tx.Audit.Append(ctx, audit.New(audit.ActionRequestRejected, r.PatientID, r.DoctorID, map[string]any{
			"accessRequestId": r.ID,
			"reason":          reason,
			"rejectedBy":      "patient",
		}, now)); err != nil {
			return err
		}
		req = r
		return nil
	})
	if err != nil {
		return AccessRequest{}, err
	}

	s.notify("request rejected", req.ID, func() error { return s.notifier.RequestRejected(ctx, req) })
	return req, nil
}

// ResendCode emite un código nuevo; el anterior queda invalidado.
func (s *Service) ResendCode(ctx context.Context, requestID, doctorID string) error {
	requestID = strings.TrimSpace(requestID)
	doctorID = strings.TrimSpace(doctorID)
	if requestID == "" || doctorID == "" {
		return ErrNotFoundOrProcessed
	}

	var (
		req  AccessRequest
		code otp.Code
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx Repos) error {
		r, err := s.lockPending(ctx, tx, requestID)
		if err != nil {
			return err
		}
		if r.DoctorID != doctorID {
			return ErrNotFoundOrProcessed
		}

		c, err := s.codes.Bind(tx.Codes).Generate(ctx, r.ID)
		if err != nil {
			return err
		}
		if err := tx.Audit.Append(ctx, audit.New(audit.ActionCodeResent, r.PatientID, r.DoctorID, map[string]any{
			"accessRequestId": r.ID,
		}, c.GeneratedAt)); err != nil {
			return err
		}
		req, code = r, c
		return nil
	})
	if err != nil {
		return err
	}

	s.notify("code issued", req.ID, func() error { return s.notifier.CodeIssued(ctx, req, code) })
	return nil
}

// RevokeAccess lo ejecuta el paciente dueño de los datos. Idempotente.
func (s *Service) RevokeAccess(ctx context.Context, grantID, patientID string) (Grant, error) {
	grantID = strings.TrimSpace(grantID)
	patientID = strings.TrimSpace(patientID)
	if grantID == "" || patientID == "" {
		return Grant{}, ErrNotFound
	}

	var (
		grant   Grant
		changed bool
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx Repos) error {
		g, err := tx.Grants.GetByID(ctx, grantID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return ErrNotFound
			}
			return err
		}
		// no revelamos grants de otros pacientes
		if g.PatientID != patientID {
			return ErrNotFound
		}
		if !g.IsActive {
			grant = g
			return nil
		}

		now := s.now()
		g.IsActive = false
		g.RevokedAt = &now
		if err := tx.Grants.Update(ctx, g); err != nil {
			return err
		}
		if err := tx.Audit.Append(ctx, audit.New(audit.ActionAccessRevoked, g.PatientID, g.DoctorID, map[string]any{
			"grantId":         g.ID,
			"accessRequestId": g.AccessRequestID,
		}, now)); err != nil {
			return err
		}
		grant, changed = g, true
		return nil
	})
	if err != nil {
		return Grant{}, err
	}

	if changed {
		s.notify("access revoked", grant.AccessRequestID, func() error { return s.notifier.AccessRevoked(ctx, grant) })
	}
	return grant, nil
}

// HasAccess es una lectura indexada, sin efectos. La usan los endpoints que sirven datos.
func (s *Service) HasAccess(ctx context.Context, doctorID, patientID string) (bool, error) {
	doctorID = strings.TrimSpace(doctorID)
	patientID = strings.TrimSpace(patientID)
	if doctorID == "" || patientID == "" {
		return false, nil
	}

	_, err := s.store.Repos().Grants.FindEffective(ctx, doctorID, patientID, s.now())
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RecordView deja constancia de una lectura de datos hecha con un grant.
func (s *Service) RecordView(ctx context.Context, doctorID, patientID, ip string, details map[string]any) error {
	e := audit.New(audit.ActionRecordViewed, patientID, doctorID, details, s.now()).WithIP(ip)
	return s.store.Repos().Audit.Append(ctx, e)
}

func (s *Service) PendingForDoctor(ctx context.Context, doctorID string) ([]AccessRequest, error) {
	doctorID = strings.TrimSpace(doctorID)
	if doctorID == "" {
		return []AccessRequest{}, nil
	}
	return s.store.Repos().Requests.ListPendingByDoctor(ctx, doctorID)
}

func (s *Service) PendingForPatient(ctx context.Context, patientID string) ([]AccessRequest, error) {
	patientID = strings.TrimSpace(patientID)
	if patientID == "" {
		return []AccessRequest{}, nil
	}
	return s.store.Repos().Requests.ListPendingByPatient(ctx, patientID)
}

// SharedPatientsForDoctor lista los pacientes con grant efectivo para el médico.
func (s *Service) SharedPatientsForDoctor(ctx context.Context, doctorID string) ([]SharedPatient, error) {
	doctorID = strings.TrimSpace(doctorID)
	if doctorID == "" {
		return []SharedPatient{}, nil
	}

	grants, err := s.store.Repos().Grants.ListEffectiveByDoctor(ctx, doctorID, s.now())
	if err != nil {
		return nil, err
	}

	out := make([]SharedPatient, 0, len(grants))
	for _, g := range grants {
		summary := PatientSummary{ID: g.PatientID}
		p, err := s.dir.Patient(ctx, g.PatientID)
		switch {
		case err == nil:
			summary = toSummary(p)
		case !errors.Is(err, directory.ErrNotFound):
			return nil, err
		}
		out = append(out, SharedPatient{Patient: summary, Grant: g})
	}
	return out, nil
}

func (s *Service) GrantsForPatient(ctx context.Context, patientID string) ([]Grant, error) {
	patientID = strings.TrimSpace(patientID)
	if patientID == "" {
		return []Grant{}, nil
	}
	return s.store.Repos().Grants.ListEffectiveByPatient(ctx, patientID, s.now())
}

func (s *Service) AuditTrail(ctx context.Context, patientID string, limit int) ([]audit.Entry, error) {
	patientID = strings.TrimSpace(patientID)
	if patientID == "" {
		return []audit.Entry{}, nil
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.store.Repos().Audit.ListByPatient(ctx, patientID, limit)
}

// SearchPatient es una búsqueda de directorio: no requiere ni otorga acceso.
func (s *Service) SearchPatient(ctx context.Context, identifier string) (PatientSummary, error) {
	p, err := s.dir.FindPatient(ctx, identifier)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return PatientSummary{}, ErrNotFound
		}
		return PatientSummary{}, err
	}
	return toSummary(p), nil
}

// ExpireOldAccess baja los grants vencidos (isActive && expiresAt <= now) con una
// auditoría ACCESS_EXPIRED cada uno, y expira las solicitudes pending viejas.
// Correrlo dos veces no duplica efectos: la consulta excluye lo ya procesado.
func (s *Service) ExpireOldAccess(ctx context.Context) (SweepReport, error) {
	var rep SweepReport
	now := s.now()

	err := s.store.WithinTx(ctx, func(ctx context.Context, tx Repos) error {
		rep = SweepReport{}

		grants, err := tx.Grants.ListExpiredActive(ctx, now)
		if err != nil {
			return err
		}
		for _, g := range grants {
			g.IsActive = false
			if err := tx.Grants.Update(ctx, g); err != nil {
				return err
			}
			if err := tx.Audit.Append(ctx, audit.New(audit.ActionAccessExpired, g.PatientID, g.DoctorID, map[string]any{
				"grantId":   g.ID,
				"expiresAt": g.ExpiresAt,
			}, now)); err != nil {
				return err
			}
			rep.GrantsExpired++
		}

		if s.pendingTTL <= 0 {
			return nil
		}
		stale, err := tx.Requests.ListStalePending(ctx, now.Add(-s.pendingTTL))
		if err != nil {
			return err
		}
		for _, r := range stale {
			r.Status = StatusExpired
			r.UpdatedAt = now
			if err := tx.Requests.Update(ctx, r); err != nil {
				return err
			}
			if err := tx.Codes.InvalidateUnused(ctx, r.ID, now); err != nil {
				return err
			}
			if err := tx.Audit.Append(ctx, audit.New(audit.ActionRequestExpired, r.PatientID, r.DoctorID, map[string]any{
				"accessRequestId": r.ID,
				"createdAt":       r.CreatedAt,
			}, now)); err != nil {
				return err
			}
			rep.RequestsExpired++
		}
		return nil
	})
	if err != nil {
		return SweepReport{}, err
	}

	if rep.GrantsExpired > 0 || rep.RequestsExpired > 0 {
		s.log.Info("expired access", map[string]any{
			"grants":   rep.GrantsExpired,
			"requests": rep.RequestsExpired,
		})
	}
	return rep, nil
}

// lockPending bloquea la solicitud y exige que siga pending.
func (s *Service) lockPending(ctx context.Context, tx Repos, requestID string) (AccessRequest, error) {
	r, err := tx.Requests.GetForUpdate(ctx, requestID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return AccessRequest{}, ErrNotFoundOrProcessed
		}
		return AccessRequest{}, err
	}
	if r.Status != StatusPending {
		return AccessRequest{}, ErrNotFoundOrProcessed
	}
	return r, nil
}

// approveLocked asume la fila bloqueada por lockPending dentro de tx.
func (s *Service) approveLocked(ctx context.Context, tx Repos, r AccessRequest, now time.Time, method, ip string) (AccessRequest, Grant, error) {
	expiresAt := now.Add(time.Duration(r.DurationHours) * time.Hour)

	r.Status = StatusApproved
	r.ApprovedAt = &now
	r.ExpiresAt = &expiresAt
	r.UpdatedAt = now
	if err := tx.Requests.Update(ctx, r); err != nil {
		return AccessRequest{}, Grant{}, err
	}

	g := Grant{
		ID:              uuid.NewString(),
		PatientID:       r.PatientID,
		DoctorID:        r.DoctorID,
		AccessRequestID: r.ID,
		GrantedAt:       now,
		ExpiresAt:       expiresAt,
		IsActive:        true,
	}
	if err := tx.Grants.Create(ctx, g); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return AccessRequest{}, Grant{}, ErrNotFoundOrProcessed
		}
		return AccessRequest{}, Grant{}, err
	}

	approved := audit.New(audit.ActionRequestApproved, r.PatientID, r.DoctorID, map[string]any{
		"accessRequestId": r.ID,
		"method":          method,
	}, now)
	if ip != "" {
		approved = approved.WithIP(ip)
	}
	if err := tx.Audit.Append(ctx, approved); err != nil {
		return AccessRequest{}, Grant{}, err
	}
	if err := tx.Audit.Append(ctx, audit.New(audit.ActionAccessGranted, r.PatientID, r.DoctorID, map[string]any{
		"grantId":   g.ID,
		"expiresAt": expiresAt,
	}, now)); err != nil {
		return AccessRequest{}, Grant{}, err
	}
	return r, g, nil
}

func (s *Service) notify(what, requestID string, send func() error) {
	if s.notifier == nil {
		return
	}
	if err := send(); err != nil {
		s.log.Warn("notification failed", map[string]any{
			"notification":    what,
			"accessRequestId": requestID,
			"err":             err,
		})
	}
}

func toSummary(p directory.Patient) PatientSummary {
	return PatientSummary{
		ID:              p.ID,
		GlobalPatientID: p.GlobalPatientID,
		Name:            p.FullName(),
		City:            p.City,
		Country:         p.Country,
	}
}
