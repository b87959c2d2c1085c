package directory

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"hospital-patient-access/internal/middleware"
	"hospital-patient-access/internal/ports/auth"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// RegisterRoutes expone el alta de pacientes y médicos. Solo administración.
func RegisterRoutes(r chi.Router, svc *Service) {
	r.Route("/directory", func(dr chi.Router) {
		dr.Use(middleware.RequireRole(auth.RoleAdmin, auth.RoleSuperAdmin))

		dr.Post("/patients", createPatientHandler(svc))
		dr.Get("/patients/{patientID}", getPatientHandler(svc))
		dr.Post("/doctors", createDoctorHandler(svc))
		dr.Get("/doctors/{doctorID}", getDoctorHandler(svc))
	})
}

type createPatientRequest struct {
	ID                  string `json:"id"`
	FirstName           string `json:"firstName" validate:"required,max=100"`
	LastName            string `json:"lastName" validate:"max=100"`
	Email               string `json:"email" validate:"omitempty,email"`
	City                string `json:"city"`
	Country             string `json:"country"`
	PrimaryDepartmentID string `json:"primaryDepartmentId" validate:"required"`
}

type createDoctorRequest struct {
	ID           string `json:"id"`
	FirstName    string `json:"firstName" validate:"required,max=100"`
	LastName     string `json:"lastName" validate:"max=100"`
	Email        string `json:"email" validate:"omitempty,email"`
	DepartmentID string `json:"departmentId" validate:"required"`
}

type patientResponse struct {
	ID                  string    `json:"id"`
	PatientID           string    `json:"patientId"`
	FirstName           string    `json:"firstName"`
	LastName            string    `json:"lastName"`
	Email               string    `json:"email,omitempty"`
	City                string    `json:"city,omitempty"`
	Country             string    `json:"country,omitempty"`
	PrimaryDepartmentID string    `json:"primaryDepartmentId"`
	CreatedAt           time.Time `json:"createdAt"`
}

type doctorResponse struct {
	ID           string    `json:"id"`
	FirstName    string    `json:"firstName"`
	LastName     string    `json:"lastName"`
	Email        string    `json:"email,omitempty"`
	DepartmentID string    `json:"departmentId"`
	CreatedAt    time.Time `json:"createdAt"`
}

// createPatientHandler godoc
// @Summary Alta de paciente
// @Description Registra un paciente y le asigna un identificador público (PAT-XXXXXXXX).
// @Tags directory
// @Accept json
// @Produce json
// @Param payload body createPatientRequest true "Paciente"
// @Success 201 {object} patientResponse
// @Failure 400 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Router /directory/patients [post]
func createPatientHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createPatientRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "invalid json")
			return
		}
		if err := validate.Struct(req); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "firstName and primaryDepartmentId are required")
			return
		}

		p, err := svc.RegisterPatient(r.Context(), PatientInput{
			ID:                  req.ID,
			FirstName:           req.FirstName,
			LastName:            req.LastName,
			Email:               req.Email,
			City:                req.City,
			Country:             req.Country,
			PrimaryDepartmentID: req.PrimaryDepartmentID,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toPatientResponse(p))
	}
}

// getPatientHandler godoc
// @Summary Ver paciente
// @Tags directory
// @Produce json
// @Param patientID path string true "ID del paciente"
// @Success 200 {object} patientResponse
// @Failure 404 {object} map[string]string
// @Router /directory/patients/{patientID} [get]
func getPatientHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := svc.Patient(r.Context(), chi.URLParam(r, "patientID"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toPatientResponse(p))
	}
}

// createDoctorHandler godoc
// @Summary Alta de médico
// @Tags directory
// @Accept json
// @Produce json
// @Param payload body createDoctorRequest true "Médico"
// @Success 201 {object} doctorResponse
// @Failure 400 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Router /directory/doctors [post]
func createDoctorHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createDoctorRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "invalid json")
			return
		}
		if err := validate.Struct(req); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "firstName and departmentId are required")
			return
		}

		d, err := svc.RegisterDoctor(r.Context(), DoctorInput{
			ID:           req.ID,
			FirstName:    req.FirstName,
			LastName:     req.LastName,
			Email:        req.Email,
			DepartmentID: req.DepartmentID,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toDoctorResponse(d))
	}
}

// getDoctorHandler godoc
// @Summary Ver médico
// @Tags directory
// @Produce json
// @Param doctorID path string true "ID del médico"
// @Success 200 {object} doctorResponse
// @Failure 404 {object} map[string]string
// @Router /directory/doctors/{doctorID} [get]
func getDoctorHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, err := svc.Doctor(r.Context(), chi.URLParam(r, "doctorID"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toDoctorResponse(d))
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		middleware.WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrConflict):
		middleware.WriteError(w, http.StatusConflict, err.Error())
	default:
		middleware.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}

func toPatientResponse(p Patient) patientResponse {
	return patientResponse{
		ID:                  p.ID,
		PatientID:           p.GlobalPatientID,
		FirstName:           p.FirstName,
		LastName:            p.LastName,
		Email:               p.Email,
		City:                p.City,
		Country:             p.Country,
		PrimaryDepartmentID: p.PrimaryDepartmentID,
		CreatedAt:           p.CreatedAt,
	}
}

func toDoctorResponse(d Doctor) doctorResponse {
	return doctorResponse{
		ID:           d.ID,
		FirstName:    d.FirstName,
		LastName:     d.LastName,
		Email:        d.Email,
		DepartmentID: d.DepartmentID,
		CreatedAt:    d.CreatedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
