package patientaccess

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"hospital-patient-access/internal/domain/audit"
	"hospital-patient-access/internal/middleware"
	"hospital-patient-access/internal/ports/auth"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

// newValidator reporta los campos con su nombre JSON.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// RouteOptions: CodeLimiter envuelve verify-otp y resend-otp (puede ser nil).
// SharedReports sirve los datos del paciente detrás de un grant vigente; nil no monta la ruta.
type RouteOptions struct {
	CodeLimiter   func(http.Handler) http.Handler
	SharedReports http.Handler
}

func RegisterRoutes(r chi.Router, svc *Service, opts RouteOptions) {
	limited := opts.CodeLimiter
	if limited == nil {
		limited = func(next http.Handler) http.Handler { return next }
	}

	r.Route("/patient-access", func(pr chi.Router) {
		// Médico
		pr.Group(func(dr chi.Router) {
			dr.Use(middleware.RequireRole(auth.RoleDoctor))

			dr.Post("/search", searchPatientHandler(svc))
			dr.Post("/request", createRequestHandler(svc))
			dr.Get("/shared", sharedPatientsHandler(svc))
			if opts.SharedReports != nil {
				dr.Method(http.MethodGet, "/shared/{patientID}/reports", opts.SharedReports)
			}
			dr.Get("/requests/my-pending", doctorPendingHandler(svc))
			dr.With(limited).Post("/requests/{id}/verify-otp", verifyCodeHandler(svc))
			dr.With(limited).Post("/requests/{id}/resend-otp", resendCodeHandler(svc))
		})

		// Paciente
		pr.Group(func(pg chi.Router) {
			pg.Use(middleware.RequireRole(auth.RolePatient))

			pg.Get("/requests/pending", patientPendingHandler(svc))
			pg.Patch("/requests/{id}/approve", approveHandler(svc))
			pg.Patch("/requests/{id}/reject", rejectHandler(svc))
			pg.Get("/granted", grantedHandler(svc))
			pg.Patch("/granted/{grantID}/revoke", revokeHandler(svc))
			pg.Get("/audit", auditTrailHandler(svc))
		})
	})
}

type searchPatientRequest struct {
	PatientID string `json:"patientId" validate:"required"`
}

type createAccessRequest struct {
	PatientID     string `json:"patientId" validate:"required"`
	Reason        string `json:"reason" validate:"required"`
	DurationHours *int   `json:"durationHours" validate:"omitempty,min=1,max=168"`
}

type verifyCodeRequest struct {
	OTPCode string `json:"otpCode" validate:"required"`
}

type rejectRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type patientSummaryResponse struct {
	ID        string `json:"id"`
	PatientID string `json:"patientId"`
	Name      string `json:"name"`
	City      string `json:"city,omitempty"`
	Country   string `json:"country,omitempty"`
}

type accessRequestResponse struct {
	ID              string     `json:"id"`
	PatientID       string     `json:"patientId"`
	DoctorID        string     `json:"doctorId"`
	Reason          string     `json:"reason"`
	DurationHours   int        `json:"durationHours"`
	Status          Status     `json:"status"`
	ApprovedAt      *time.Time `json:"approvedAt,omitempty"`
	RejectedAt      *time.Time `json:"rejectedAt,omitempty"`
	RejectionReason string     `json:"rejectionReason,omitempty"`
	ExpiresAt       *time.Time `json:"expiresAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
}

type createdRequestResponse struct {
	ID        string    `json:"id"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

type grantResponse struct {
	ID              string     `json:"id"`
	PatientID       string     `json:"patientId"`
	DoctorID        string     `json:"doctorId"`
	AccessRequestID string     `json:"accessRequestId"`
	GrantedAt       time.Time  `json:"grantedAt"`
	ExpiresAt       time.Time  `json:"expiresAt"`
	IsActive        bool       `json:"isActive"`
	RevokedAt       *time.Time `json:"revokedAt,omitempty"`
}

type sharedPatientResponse struct {
	Patient   patientSummaryResponse `json:"patient"`
	GrantID   string                 `json:"grantId"`
	GrantedAt time.Time              `json:"grantedAt"`
	ExpiresAt time.Time              `json:"expiresAt"`
}

type auditEntryResponse struct {
	ID        string         `json:"id"`
	DoctorID  string         `json:"doctorId,omitempty"`
	Action    audit.Action   `json:"action"`
	Details   map[string]any `json:"details"`
	IPAddress string         `json:"ipAddress,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

type expiresAtResponse struct {
	Message   string    `json:"message"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// searchPatientHandler godoc
// @Summary Buscar paciente
// @Description Busca un paciente por su ID global (PAT-XXXXXXXX) o por su UUID. Devuelve solo nombre, ubicación e ID público; no otorga acceso.
// @Tags patient-access
// @Accept json
// @Produce json
// @Param X-Debug-User-ID header string false "Solo en modo dev, ID de usuario"
// @Param X-Debug-User-Role header string false "Solo en modo dev, rol (doctor)"
// @Param payload body searchPatientRequest true "Identificador del paciente"
// @Success 200 {object} map[string]patientSummaryResponse
// @Failure 400 {object} map[string]string
// @Failure 403 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /patient-access/search [post]
func searchPatientHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req searchPatientRequest
		if !decodeAndValidate(w, r, &req) {
			return
		}

		p, err := svc.SearchPatient(r.Context(), req.PatientID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"patient": toSummaryResponse(p)})
	}
}

// createRequestHandler godoc
// @Summary Solicitar acceso a un paciente
// @Description Crea una solicitud pending y envía un código de verificación al paciente. durationHours es opcional (1-168, por defecto 24).
// @Tags patient-access
// @Accept json
// @Produce json
// @Param X-Debug-User-ID header string false "Solo en modo dev, ID de usuario"
// @Param X-Debug-User-Role header string false "Solo en modo dev, rol (doctor)"
// @Param payload body createAccessRequest true "Solicitud"
// @Success 201 {object} createdRequestResponse
// @Failure 400 {object} map[string]string "campos faltantes, duración inválida o solicitud pending duplicada"
// @Failure 404 {object} map[string]string "paciente inexistente"
// @Router /patient-access/request [post]
func createRequestHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, _ := middleware.GetClaims(r.Context())

		var req createAccessRequest
		if !decodeAndValidate(w, r, &req) {
			return
		}

		hours := DefaultDurationHours
		if req.DurationHours != nil {
			hours = *req.DurationHours
		}

		ar, err := svc.CreateRequest(r.Context(), CreateRequestInput{
			PatientID:     req.PatientID,
			DoctorID:      claims.UserID,
			Reason:        req.Reason,
			DurationHours: hours,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, createdRequestResponse{
			ID:        ar.ID,
			Status:    ar.Status,
			CreatedAt: ar.CreatedAt,
		})
	}
}

// verifyCodeHandler godoc
// @Summary Verificar código del paciente
// @Description El médico envía el código que le compartió el paciente. Si es válido la solicitud pasa a approved y se crea el acceso compartido.
// @Tags patient-access
// @Accept json
// @Produce json
// @Param id path string true "ID de la solicitud"
// @Param payload body verifyCodeRequest true "Código de 6 dígitos"
// @Success 200 {object} expiresAtResponse
// @Failure 400 {object} map[string]string "código inválido, usado, vencido o solicitud ya procesada"
// @Failure 429 {object} map[string]string
// @Router /patient-access/requests/{id}/verify-otp [post]
func verifyCodeHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, _ := middleware.GetClaims(r.Context())

		var req verifyCodeRequest
		if !decodeAndValidate(w, r, &req) {
			return
		}

		res, err := svc.VerifyCodeByDoctor(r.Context(), chi.URLParam(r, "id"), claims.UserID, req.OTPCode, clientIP(r))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if !res.Valid {
			middleware.WriteError(w, http.StatusBadRequest, res.Message)
			return
		}

		writeJSON(w, http.StatusOK, expiresAtResponse{
			Message:   "Access granted",
			ExpiresAt: res.ExpiresAt,
		})
	}
}

// resendCodeHandler godoc
// @Summary Reenviar código
// @Description Invalida el código vigente y envía uno nuevo al paciente.
// @Tags patient-access
// @Produce json
// @Param id path string true "ID de la solicitud"
// @Success 200 {object} map[string]string
// @Failure 400 {object} map[string]string
// @Failure 429 {object} map[string]string
// @Router /patient-access/requests/{id}/resend-otp [post]
func resendCodeHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, _ := middleware.GetClaims(r.Context())

		if err := svc.ResendCode(r.Context(), chi.URLParam(r, "id"), claims.UserID); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": "Verification code sent"})
	}
}

// sharedPatientsHandler godoc
// @Summary Pacientes compartidos conmigo
// @Tags patient-access
// @Produce json
// @Success 200 {object} map[string][]sharedPatientResponse
// @Failure 403 {object} map[string]string
// @Router /patient-access/shared [get]
func sharedPatientsHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, _ := middleware.GetClaims(r.Context())

		items, err := svc.SharedPatientsForDoctor(r.Context(), claims.UserID)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		out := make([]sharedPatientResponse, 0, len(items))
		for _, sp := range items {
			out = append(out, sharedPatientResponse{
				Patient:   toSummaryResponse(sp.Patient),
				GrantID:   sp.Grant.ID,
				GrantedAt: sp.Grant.GrantedAt,
				ExpiresAt: sp.Grant.ExpiresAt,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"sharedPatients": out})
	}
}

// doctorPendingHandler godoc
// @Summary Mis solicitudes pendientes (médico)
// @Tags patient-access
// @Produce json
// @Success 200 {object} map[string][]accessRequestResponse
// @Router /patient-access/requests/my-pending [get]
func doctorPendingHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, _ := middleware.GetClaims(r.Context())

		items, err := svc.PendingForDoctor(r.Context(), claims.UserID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"requests": toRequestResponses(items)})
	}
}

// patientPendingHandler godoc
// @Summary Solicitudes pendientes sobre mis datos (paciente)
// @Tags patient-access
// @Produce json
// @Success 200 {object} map[string][]accessRequestResponse
// @Router /patient-access/requests/pending [get]
func patientPendingHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, _ := middleware.GetClaims(r.Context())

		items, err := svc.PendingForPatient(r.Context(), claims.UserID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"requests": toRequestResponses(items)})
	}
}

// approveHandler godoc
// @Summary Aprobar solicitud (paciente)
// @Tags patient-access
// @Produce json
// @Param id path string true "ID de la solicitud"
// @Success 200 {object} expiresAtResponse
// @Failure 400 {object} map[string]string "no pendiente o no es del paciente"
// @Router /patient-access/requests/{id}/approve [patch]
func approveHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, _ := middleware.GetClaims(r.Context())

		g, err := svc.ApproveRequest(r.Context(), chi.URLParam(r, "id"), claims.UserID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, expiresAtResponse{
			Message:   "Access request approved",
			ExpiresAt: g.ExpiresAt,
		})
	}
}

// rejectHandler godoc
// @Summary Rechazar solicitud (paciente)
// @Tags patient-access
// @Accept json
// @Produce json
// @Param id path string true "ID de la solicitud"
// @Param payload body rejectRequest false "Motivo opcional"
// @Success 200 {object} accessRequestResponse
// @Failure 400 {object} map[string]string
// @Router /patient-access/requests/{id}/reject [patch]
func rejectHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, _ := middleware.GetClaims(r.Context())

		var req rejectRequest
		if !decodeOptionalAndValidate(w, r, &req) {
			return
		}

		ar, err := svc.RejectRequest(r.Context(), chi.URLParam(r, "id"), claims.UserID, req.Reason)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toRequestResponse(ar))
	}
}

// grantedHandler godoc
// @Summary Accesos vigentes sobre mis datos (paciente)
// @Tags patient-access
// @Produce json
// @Success 200 {object} map[string][]grantResponse
// @Router /patient-access/granted [get]
func grantedHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, _ := middleware.GetClaims(r.Context())

		items, err := svc.GrantsForPatient(r.Context(), claims.UserID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		out := make([]grantResponse, 0, len(items))
		for _, g := range items {
			out = append(out, toGrantResponse(g))
		}
		writeJSON(w, http.StatusOK, map[string]any{"grants": out})
	}
}

// revokeHandler godoc
// @Summary Revocar acceso (paciente)
// @Tags patient-access
// @Produce json
// @Param grantID path string true "ID del acceso compartido"
// @Success 200 {object} grantResponse
// @Failure 404 {object} map[string]string
// @Router /patient-access/granted/{grantID}/revoke [patch]
func revokeHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, _ := middleware.GetClaims(r.Context())

		g, err := svc.RevokeAccess(r.Context(), chi.URLParam(r, "grantID"), claims.UserID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toGrantResponse(g))
	}
}

// auditTrailHandler godoc
// @Summary Auditoría de accesos a mis datos (paciente)
// @Tags patient-access
// @Produce json
// @Param limit query int false "Máximo de entradas (1-500). Por defecto 100"
// @Success 200 {object} map[string][]auditEntryResponse
// @Router /patient-access/audit [get]
func auditTrailHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, _ := middleware.GetClaims(r.Context())

		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		items, err := svc.AuditTrail(r.Context(), claims.UserID, limit)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		out := make([]auditEntryResponse, 0, len(items))
		for _, e := range items {
			out = append(out, auditEntryResponse{
				ID:        e.ID,
				DoctorID:  e.DoctorID,
				Action:    e.Action,
				Details:   e.Details,
				IPAddress: e.IPAddress,
				CreatedAt: e.CreatedAt,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"entries": out})
	}
}

func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

// decodeOptionalAndValidate acepta body vacío (también chunked, sin Content-Length).
func decodeOptionalAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		middleware.WriteError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request"
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "min", "max":
		if fe.Field() == "durationHours" {
			return "durationHours must be between 1 and 168"
		}
		return fe.Field() + " is out of range"
	default:
		return fe.Field() + " is invalid"
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrValidation):
		middleware.WriteError(w, http.StatusBadRequest, strings.TrimPrefix(err.Error(), ErrValidation.Error()+": "))
	case errors.Is(err, ErrConflict):
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFoundOrProcessed):
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		middleware.WriteError(w, http.StatusNotFound, "not found")
	case errors.Is(err, ErrForbidden):
		middleware.WriteError(w, http.StatusForbidden, "forbidden")
	default:
		middleware.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}

// clientIP usa RemoteAddr, que chimw.RealIP ya reemplazó por X-Real-IP/X-Forwarded-For.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func toSummaryResponse(p PatientSummary) patientSummaryResponse {
	return patientSummaryResponse{
		ID:        p.ID,
		PatientID: p.GlobalPatientID,
		Name:      p.Name,
		City:      p.City,
		Country:   p.Country,
	}
}

func toRequestResponse(ar AccessRequest) accessRequestResponse {
	return accessRequestResponse{
		ID:              ar.ID,
		PatientID:       ar.PatientID,
		DoctorID:        ar.DoctorID,
		Reason:          ar.Reason,
		DurationHours:   ar.DurationHours,
		Status:          ar.Status,
		ApprovedAt:      ar.ApprovedAt,
		RejectedAt:      ar.RejectedAt,
		RejectionReason: ar.RejectionReason,
		ExpiresAt:       ar.ExpiresAt,
		CreatedAt:       ar.CreatedAt,
	}
}

func toRequestResponses(items []AccessRequest) []accessRequestResponse {
	out := make([]accessRequestResponse, 0, len(items))
	for _, ar := range items {
		out = append(out, toRequestResponse(ar))
	}
	return out
}

func toGrantResponse(g Grant) grantResponse {
	return grantResponse{
		ID:              g.ID,
		PatientID:       g.PatientID,
		DoctorID:        g.DoctorID,
		AccessRequestID: g.AccessRequestID,
		GrantedAt:       g.GrantedAt,
		ExpiresAt:       g.ExpiresAt,
		IsActive:        g.IsActive,
		RevokedAt:       g.RevokedAt,
	}
}

// writeJSON está duplicado en los handlers de cada módulo, igual que en el resto de la API.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
