package reports

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"hospital-patient-access/internal/middleware"
	"hospital-patient-access/internal/ports/auth"

	"github.com/go-chi/chi/v5"
)

// AccessChecker es el lado de lectura del flujo de acceso compartido (patientaccess).
type AccessChecker interface {
	HasAccess(ctx context.Context, doctorID, patientID string) (bool, error)
	RecordView(ctx context.Context, doctorID, patientID, ip string, details map[string]any) error
}

// RegisterRoutes monta los informes detrás de gate (la regla de departamento/derivación).
func RegisterRoutes(r chi.Router, svc *Service, gate func(http.Handler) http.Handler) {
	r.Route("/patients/{patientID}/reports", func(rr chi.Router) {
		rr.Use(gate)

		rr.With(middleware.RequireRole(auth.RoleDoctor, auth.RoleAdmin, auth.RoleSuperAdmin)).
			Post("/", createReportHandler(svc))
		rr.Get("/", listReportsHandler(svc))
		rr.Get("/{reportID}", getReportHandler(svc))
	})
}

type createReportRequest struct {
	Type         ReportType `json:"type"`
	Title        string     `json:"title"`
	Content      string     `json:"content"`
	ReportedAt   string     `json:"reportedAt"` // RFC3339 opcional
	DepartmentID string     `json:"departmentId"`
}

type reportResponse struct {
	ID           string       `json:"id"`
	PatientID    string       `json:"patientId"`
	Type         ReportType   `json:"type"`
	Title        string       `json:"title"`
	Content      string       `json:"content"`
	AuthorID     string       `json:"authorId"`
	DepartmentID string       `json:"departmentId,omitempty"`
	ReportedAt   time.Time    `json:"reportedAt"`
	CreatedAt    time.Time    `json:"createdAt"`
	Status       ReportStatus `json:"status"`
}

// createReportHandler godoc
// @Summary Cargar informe de un paciente
// @Description Crea un informe clínico. Médicos del departamento del paciente (o con derivación) y admins.
// @Tags reports
// @Accept json
// @Produce json
// @Param X-Debug-User-ID header string false "Solo en modo dev, ID de usuario"
// @Param X-Debug-User-Role header string false "Solo en modo dev, rol"
// @Param patientID path string true "ID del paciente"
// @Param payload body createReportRequest true "Informe; reportedAt en RFC3339"
// @Success 201 {object} reportResponse
// @Failure 400 {object} map[string]string
// @Failure 403 {object} map[string]string
// @Router /patients/{patientID}/reports [post]
func createReportHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, _ := middleware.GetClaims(r.Context())

		var req createReportRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "invalid json")
			return
		}

		var reportedAt time.Time
		if v := strings.TrimSpace(req.ReportedAt); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				middleware.WriteError(w, http.StatusBadRequest, "reportedAt must be RFC3339")
				return
			}
			reportedAt = t
		}

		rep, err := svc.Create(r.Context(), chi.URLParam(r, "patientID"), claims.UserID, CreateInput{
			Type:         req.Type,
			Title:        req.Title,
			Content:      req.Content,
			ReportedAt:   reportedAt,
			DepartmentID: req.DepartmentID,
		})
		if err != nil {
			if errors.Is(err, ErrInvalidInput) {
				middleware.WriteError(w, http.StatusBadRequest, "type and title are required")
				return
			}
			middleware.WriteError(w, http.StatusInternalServerError, "internal error")
			return
		}

		writeJSON(w, http.StatusCreated, toReportResponse(rep))
	}
}

// listReportsHandler godoc
// @Summary Listar informes de un paciente
// @Description Lista informes, más recientes primero. Permite filtrar por tipos, rango de fechas y texto.
// @Tags reports
// @Produce json
// @Param patientID path string true "ID del paciente"
// @Param limit query int false "Máximo a devolver (1-200). Por defecto 50"
// @Param types query string false "CSV de tipos (ej: LAB_RESULT,IMAGING)"
// @Param from query string false "reportedAt mínimo (RFC3339)"
// @Param to query string false "reportedAt máximo (RFC3339)"
// @Param q query string false "Texto libre en título/contenido"
// @Success 200 {array} reportResponse
// @Failure 400 {object} map[string]string
// @Failure 403 {object} map[string]string
// @Router /patients/{patientID}/reports [get]
func listReportsHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter, err := parseListFilter(r)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}

		items, err := svc.ListByPatient(r.Context(), chi.URLParam(r, "patientID"), filter)
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, toReportResponses(items))
	}
}

// getReportHandler godoc
// @Summary Ver un informe
// @Tags reports
// @Produce json
// @Param patientID path string true "ID del paciente"
// @Param reportID path string true "ID del informe"
// @Success 200 {object} reportResponse
// @Failure 403 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /patients/{patientID}/reports/{reportID} [get]
func getReportHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rep, err := svc.Get(r.Context(), chi.URLParam(r, "patientID"), chi.URLParam(r, "reportID"))
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				middleware.WriteError(w, http.StatusNotFound, err.Error())
				return
			}
			middleware.WriteError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, toReportResponse(rep))
	}
}

// SharedReportsHandler godoc
// @Summary Informes de un paciente que compartió su acceso
// @Description Requiere un acceso compartido vigente (solicitud aprobada por el paciente). Cada lectura queda auditada como RECORD_VIEWED.
// @Tags patient-access
// @Produce json
// @Param patientID path string true "ID del paciente"
// @Success 200 {array} reportResponse
// @Failure 403 {object} map[string]string
// @Router /patient-access/shared/{patientID}/reports [get]
func SharedReportsHandler(svc *Service, access AccessChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || strings.TrimSpace(claims.UserID) == "" {
			middleware.WriteError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		patientID := chi.URLParam(r, "patientID")

		allowed, err := access.HasAccess(r.Context(), claims.UserID, patientID)
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if !allowed {
			middleware.WriteError(w, http.StatusForbidden, "No active access to this patient's records")
			return
		}

		filter, err := parseListFilter(r)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		items, err := svc.ListByPatient(r.Context(), patientID, filter)
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, "internal error")
			return
		}

		if err := access.RecordView(r.Context(), claims.UserID, patientID, clientIP(r), map[string]any{
			"resource": "reports",
			"count":    len(items),
		}); err != nil {
			// sin auditoría no se sirven datos
			middleware.WriteError(w, http.StatusInternalServerError, "internal error")
			return
		}

		writeJSON(w, http.StatusOK, toReportResponses(items))
	}
}

func parseListFilter(r *http.Request) (ListFilter, error) {
	filter := ListFilter{Limit: defaultLimit}

	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= maxLimit {
			filter.Limit = n
		}
	}

	// types=LAB_RESULT,IMAGING
	if v := strings.TrimSpace(r.URL.Query().Get("types")); v != "" {
		for _, p := range strings.Split(v, ",") {
			t := ReportType(strings.ToUpper(strings.TrimSpace(p)))
			if t == "" {
				continue
			}
			if !t.Valid() {
				return ListFilter{}, errors.New("unknown report type: " + string(t))
			}
			filter.Types = append(filter.Types, t)
		}
	}

	if v := strings.TrimSpace(r.URL.Query().Get("from")); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return ListFilter{}, errors.New("from must be RFC3339")
		}
		filter.From = &t
	}
	if v := strings.TrimSpace(r.URL.Query().Get("to")); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return ListFilter{}, errors.New("to must be RFC3339")
		}
		filter.To = &t
	}

	filter.Query = strings.TrimSpace(r.URL.Query().Get("q"))
	return filter, nil
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func toReportResponse(rep Report) reportResponse {
	return reportResponse{
		ID:           rep.ID,
		PatientID:    rep.PatientID,
		Type:         rep.Type,
		Title:        rep.Title,
		Content:      rep.Content,
		AuthorID:     rep.AuthorID,
		DepartmentID: rep.DepartmentID,
		ReportedAt:   rep.ReportedAt,
		CreatedAt:    rep.CreatedAt,
		Status:       rep.Status,
	}
}

func toReportResponses(items []Report) []reportResponse {
	out := make([]reportResponse, 0, len(items))
	for _, rep := range items {
		out = append(out, toReportResponse(rep))
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
