package reports_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"hospital-patient-access/internal/adapters/storage/memory"
	"hospital-patient-access/internal/domain/reports"
	"hospital-patient-access/internal/middleware"
	"hospital-patient-access/internal/ports/auth"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreate_Validation(t *testing.T) {
	svc := reports.NewService(memory.NewReportRepo())
	ctx := context.Background()

	_, err := svc.Create(ctx, "p1", "d1", reports.CreateInput{Type: "XRAY", Title: "t"})
	assert.ErrorIs(t, err, reports.ErrInvalidInput)

	_, err = svc.Create(ctx, "p1", "d1", reports.CreateInput{Type: reports.ReportTypeLabResult, Title: "  "})
	assert.ErrorIs(t, err, reports.ErrInvalidInput)

	_, err = svc.Create(ctx, "", "d1", reports.CreateInput{Type: reports.ReportTypeLabResult, Title: "t"})
	assert.ErrorIs(t, err, reports.ErrInvalidInput)
}

func TestGet_OtherPatientIsNotFound(t *testing.T) {
	svc := reports.NewService(memory.NewReportRepo())
	ctx := context.Background()

	rep, err := svc.Create(ctx, "p1", "d1", reports.CreateInput{Type: reports.ReportTypeImaging, Title: "RX tórax"})
	require.NoError(t, err)
	assert.Equal(t, reports.ReportStatusFinal, rep.Status)
	assert.False(t, rep.ReportedAt.IsZero())

	got, err := svc.Get(ctx, "p1", rep.ID)
	require.NoError(t, err)
	assert.Equal(t, rep.ID, got.ID)

	_, err = svc.Get(ctx, "p2", rep.ID)
	assert.ErrorIs(t, err, reports.ErrNotFound)

	_, err = svc.Get(ctx, "p1", "missing")
	assert.ErrorIs(t, err, reports.ErrNotFound)
}

func TestListByPatient_Filters(t *testing.T) {
	svc := reports.NewService(memory.NewReportRepo())
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	seed := []reports.CreateInput{
		{Type: reports.ReportTypeLabResult, Title: "Hemograma", Content: "normal", ReportedAt: base},
		{Type: reports.ReportTypeImaging, Title: "Ecografía", Content: "sin hallazgos", ReportedAt: base.Add(24 * time.Hour)},
		{Type: reports.ReportTypeLabResult, Title: "Glucemia", Content: "elevada", ReportedAt: base.Add(48 * time.Hour)},
	}
	for _, in := range seed {
		_, err := svc.Create(ctx, "p1", "d1", in)
		require.NoError(t, err)
	}
	_, err := svc.Create(ctx, "p2", "d1", reports.CreateInput{Type: reports.ReportTypeNote, Title: "otro paciente"})
	require.NoError(t, err)

	all, err := svc.ListByPatient(ctx, "p1", reports.ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "Glucemia", all[0].Title)

	labs, err := svc.ListByPatient(ctx, "p1", reports.ListFilter{Types: []reports.ReportType{reports.ReportTypeLabResult}})
	require.NoError(t, err)
	assert.Len(t, labs, 2)

	from := base.Add(24 * time.Hour)
	recent, err := svc.ListByPatient(ctx, "p1", reports.ListFilter{From: &from})
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	q, err := svc.ListByPatient(ctx, "p1", reports.ListFilter{Query: "ELEVADA"})
	require.NoError(t, err)
	require.Len(t, q, 1)
	assert.Equal(t, "Glucemia", q[0].Title)

	one, err := svc.ListByPatient(ctx, "p1", reports.ListFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, one, 1)
}

// -------------------------
// Shared reports handler
// -------------------------

type fakeAccess struct {
	allowed bool
	err     error
	viewErr error
	views   []map[string]any
}

func (f *fakeAccess) HasAccess(ctx context.Context, doctorID, patientID string) (bool, error) {
	return f.allowed, f.err
}

func (f *fakeAccess) RecordView(ctx context.Context, doctorID, patientID, ip string, details map[string]any) error {
	if f.viewErr != nil {
		return f.viewErr
	}
	f.views = append(f.views, details)
	return nil
}

func sharedRouter(svc *reports.Service, access reports.AccessChecker) http.Handler {
	r := chi.NewRouter()
	r.Get("/shared/{patientID}/reports", reports.SharedReportsHandler(svc, access).ServeHTTP)
	return r
}

func doShared(t *testing.T, h http.Handler, withClaims bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/shared/p1/reports", nil)
	if withClaims {
		req = req.WithContext(middleware.WithClaims(req.Context(), auth.Claims{UserID: "d1", Role: auth.RoleDoctor}))
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestSharedReportsHandler(t *testing.T) {
	svc := reports.NewService(memory.NewReportRepo())
	_, err := svc.Create(context.Background(), "p1", "d9", reports.CreateInput{Type: reports.ReportTypeConsultation, Title: "Control"})
	require.NoError(t, err)

	t.Run("without claims", func(t *testing.T) {
		rr := doShared(t, sharedRouter(svc, &fakeAccess{allowed: true}), false)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("no grant", func(t *testing.T) {
		access := &fakeAccess{}
		rr := doShared(t, sharedRouter(svc, access), true)
		assert.Equal(t, http.StatusForbidden, rr.Code)
		assert.Empty(t, access.views)
	})

	t.Run("grant lookup error", func(t *testing.T) {
		rr := doShared(t, sharedRouter(svc, &fakeAccess{err: errors.New("db down")}), true)
		assert.Equal(t, http.StatusInternalServerError, rr.Code)
	})

	t.Run("audit failure hides data", func(t *testing.T) {
		rr := doShared(t, sharedRouter(svc, &fakeAccess{allowed: true, viewErr: errors.New("audit down")}), true)
		assert.Equal(t, http.StatusInternalServerError, rr.Code)
	})

	t.Run("grant records the view", func(t *testing.T) {
		access := &fakeAccess{allowed: true}
		rr := doShared(t, sharedRouter(svc, access), true)
		require.Equal(t, http.StatusOK, rr.Code)

		var body []map[string]any
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		require.Len(t, body, 1)
		assert.Equal(t, "Control", body[0]["title"])

		require.Len(t, access.views, 1)
		assert.Equal(t, "reports", access.views[0]["resource"])
		assert.Equal(t, 1, access.views[0]["count"])
	})
}
