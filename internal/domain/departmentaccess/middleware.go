package departmentaccess

import (
	"net/http"
	"strings"

	"hospital-patient-access/internal/middleware"
	"hospital-patient-access/internal/platform/logger"
	"hospital-patient-access/internal/ports/auth"

	"github.com/go-chi/chi/v5"
)

// RequireReportAccess protege las rutas /patients/{patientID}/reports:
// - admin / super_admin: bypass
// - paciente: solo sus propios informes
// - médico: CanAccessPatientReports
// - el resto: 403
func RequireReportAccess(rule *Rule, log logger.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = logger.Nop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := middleware.GetClaims(r.Context())
			if !ok || strings.TrimSpace(claims.UserID) == "" {
				middleware.WriteError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			patientID := chi.URLParam(r, "patientID")

			switch {
			case claims.Role.IsAdmin():
				next.ServeHTTP(w, r)
				return
			case claims.Role == auth.RolePatient && claims.UserID == patientID:
				next.ServeHTTP(w, r)
				return
			case claims.Role == auth.RoleDoctor:
				allowed, err := rule.CanAccessPatientReports(r.Context(), claims.UserID, patientID)
				if err != nil {
					log.Error("report access check failed", map[string]any{
						"doctor_id":  claims.UserID,
						"patient_id": patientID,
						"err":        err,
					})
					middleware.WriteError(w, http.StatusInternalServerError, "internal error")
					return
				}
				if allowed {
					next.ServeHTTP(w, r)
					return
				}
			}

			middleware.WriteError(w, http.StatusForbidden, "Access denied: patient is not in your department and has no referral to it")
		})
	}
}
