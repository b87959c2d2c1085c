package departmentaccess

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"hospital-patient-access/internal/middleware"
	"hospital-patient-access/internal/ports/auth"

	"github.com/go-chi/chi/v5"
)

func RegisterRoutes(r chi.Router, svc *Service) {
	r.Route("/patients/{patientID}/referrals", func(rr chi.Router) {
		rr.Use(middleware.RequireRole(auth.RoleAdmin, auth.RoleSuperAdmin))

		rr.Post("/", createReferralHandler(svc))
		rr.Get("/", listReferralsHandler(svc))
	})
}

type createReferralRequest struct {
	DepartmentID string `json:"departmentId"`
}

type referralResponse struct {
	ID           string    `json:"id"`
	PatientID    string    `json:"patientId"`
	DepartmentID string    `json:"departmentId"`
	CreatedBy    string    `json:"createdBy,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// createReferralHandler godoc
// @Summary Derivar paciente a un departamento
// @Description Registra una derivación (paciente, departamento). Idempotente: si ya existe responde 200 con la existente.
// @Tags referrals
// @Accept json
// @Produce json
// @Param patientID path string true "ID del paciente"
// @Param payload body createReferralRequest true "Departamento destino"
// @Success 201 {object} referralResponse
// @Success 200 {object} referralResponse
// @Failure 400 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /patients/{patientID}/referrals [post]
func createReferralHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, _ := middleware.GetClaims(r.Context())

		var req createReferralRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "invalid json")
			return
		}
		if strings.TrimSpace(req.DepartmentID) == "" {
			middleware.WriteError(w, http.StatusBadRequest, "departmentId is required")
			return
		}

		ref, created, err := svc.Refer(r.Context(), chi.URLParam(r, "patientID"), req.DepartmentID, claims.UserID)
		if err != nil {
			switch {
			case errors.Is(err, ErrInvalidInput):
				middleware.WriteError(w, http.StatusBadRequest, err.Error())
			case errors.Is(err, ErrPatientNotFound):
				middleware.WriteError(w, http.StatusNotFound, err.Error())
			default:
				middleware.WriteError(w, http.StatusInternalServerError, "internal error")
			}
			return
		}

		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		writeJSON(w, status, toReferralResponse(ref))
	}
}

// listReferralsHandler godoc
// @Summary Listar derivaciones de un paciente
// @Tags referrals
// @Produce json
// @Param patientID path string true "ID del paciente"
// @Success 200 {array} referralResponse
// @Router /patients/{patientID}/referrals [get]
func listReferralsHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := svc.ListByPatient(r.Context(), chi.URLParam(r, "patientID"))
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, "internal error")
			return
		}
		out := make([]referralResponse, 0, len(items))
		for _, ref := range items {
			out = append(out, toReferralResponse(ref))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func toReferralResponse(r Referral) referralResponse {
	return referralResponse{
		ID:           r.ID,
		PatientID:    r.PatientID,
		DepartmentID: r.DepartmentID,
		CreatedBy:    r.CreatedBy,
		CreatedAt:    r.CreatedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
