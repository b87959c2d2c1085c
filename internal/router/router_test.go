package router_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"

	"hospital-patient-access/internal/platform/mail"
	"hospital-patient-access/internal/router"
)

type user struct {
	id   string
	role string
}

var (
	admin        = user{"admin-1", "admin"}
	patient      = user{"pat-1", "patient"}
	neurologist  = user{"doc-neuro", "doctor"}
	cardiologist = user{"doc-cardio", "doctor"}
)

// inbox guarda los mails en lugar de entregarlos.
type inbox struct {
	mu   sync.Mutex
	msgs []mail.Message
}

func (b *inbox) Send(_ context.Context, msg mail.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, msg)
	return nil
}

var codeRe = regexp.MustCompile(`médico: (\d{6})`)

// lastCode devuelve el último código enviado a addr.
func (b *inbox) lastCode(addr string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.msgs) - 1; i >= 0; i-- {
		m := b.msgs[i]
		if len(m.To) == 0 || m.To[0] != addr {
			continue
		}
		if sub := codeRe.FindStringSubmatch(m.Body); sub != nil {
			return sub[1]
		}
	}
	return ""
}

func newServer(t *testing.T) (*httptest.Server, *inbox) {
	t.Helper()
	box := &inbox{}
	ts := httptest.NewServer(router.NewRouter(router.Options{AuthVerifier: nil, Mailer: box}))
	t.Cleanup(ts.Close)
	return ts, box
}

func seedDirectory(t *testing.T, baseURL string) string {
	t.Helper()

	st, body := doReq(t, baseURL, "POST", "/directory/patients", admin, map[string]any{
		"id":                  patient.id,
		"firstName":           "Ana",
		"lastName":            "Pérez",
		"email":               "ana@example.com",
		"city":                "Rosario",
		"country":             "AR",
		"primaryDepartmentId": "cardiology",
	})
	if st != http.StatusCreated {
		t.Fatalf("expected 201 create patient, got %d body=%s", st, string(body))
	}
	var p struct {
		PatientID string `json:"patientId"`
	}
	_ = json.Unmarshal(body, &p)
	if p.PatientID == "" {
		t.Fatalf("create patient: missing patientId body=%s", string(body))
	}

	for _, d := range []struct{ id, first, dept, email string }{
		{neurologist.id, "Marta", "neurology", "marta@hospital.local"},
		{cardiologist.id, "Luis", "cardiology", "luis@hospital.local"},
	} {
		st, body := doReq(t, baseURL, "POST", "/directory/doctors", admin, map[string]any{
			"id":           d.id,
			"firstName":    d.first,
			"lastName":     "Gómez",
			"email":        d.email,
			"departmentId": d.dept,
		})
		if st != http.StatusCreated {
			t.Fatalf("expected 201 create doctor %s, got %d body=%s", d.id, st, string(body))
		}
	}
	return p.PatientID
}

func TestHTTP_EndToEnd_SharedAccessByCode(t *testing.T) {
	ts, box := newServer(t)
	globalID := seedDirectory(t, ts.URL)

	// 1) Cardiología carga un informe (mismo departamento)
	{
		st, body := doReq(t, ts.URL, "POST", "/patients/pat-1/reports", cardiologist, map[string]any{
			"type":  "LAB_RESULT",
			"title": "Hemograma",
		})
		if st != http.StatusCreated {
			t.Fatalf("expected 201 create report, got %d body=%s", st, string(body))
		}
	}

	// 2) Neurología no ve nada todavía
	{
		st, _ := doReq(t, ts.URL, "GET", "/patient-access/shared/pat-1/reports", neurologist, nil)
		if st != http.StatusForbidden {
			t.Fatalf("expected 403 shared reports before grant, got %d", st)
		}
	}

	// 3) Busca al paciente por su ID público
	{
		st, body := doReq(t, ts.URL, "POST", "/patient-access/search", neurologist, map[string]any{
			"patientId": globalID,
		})
		if st != http.StatusOK {
			t.Fatalf("expected 200 search, got %d body=%s", st, string(body))
		}
	}

	// 4) Solicita acceso; una segunda solicitud pending es rechazada
	requestID := ""
	{
		st, body := doReq(t, ts.URL, "POST", "/patient-access/request", neurologist, map[string]any{
			"patientId": patient.id,
			"reason":    "Interconsulta por cefalea",
		})
		if st != http.StatusCreated {
			t.Fatalf("expected 201 create request, got %d body=%s", st, string(body))
		}
		var resp struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		}
		_ = json.Unmarshal(body, &resp)
		if resp.ID == "" || resp.Status != "pending" {
			t.Fatalf("unexpected create response body=%s", string(body))
		}
		requestID = resp.ID
	}
	{
		st, _ := doReq(t, ts.URL, "POST", "/patient-access/request", neurologist, map[string]any{
			"patientId": patient.id,
			"reason":    "Otra vez",
		})
		if st != http.StatusBadRequest {
			t.Fatalf("expected 400 duplicate pending request, got %d", st)
		}
	}

	// 5) El paciente la ve pendiente
	{
		st, body := doReq(t, ts.URL, "GET", "/patient-access/requests/pending", patient, nil)
		if st != http.StatusOK {
			t.Fatalf("expected 200 patient pending, got %d body=%s", st, string(body))
		}
		var resp struct {
			Requests []struct {
				ID string `json:"id"`
			} `json:"requests"`
		}
		_ = json.Unmarshal(body, &resp)
		if len(resp.Requests) != 1 || resp.Requests[0].ID != requestID {
			t.Fatalf("expected the pending request, body=%s", string(body))
		}
	}

	// 5b) my-pending solo muestra las solicitudes del propio médico
	{
		for _, tc := range []struct {
			as   user
			want []string
		}{
			{neurologist, []string{requestID}},
			{cardiologist, []string{}},
		} {
			st, body := doReq(t, ts.URL, "GET", "/patient-access/requests/my-pending", tc.as, nil)
			if st != http.StatusOK {
				t.Fatalf("expected 200 my-pending as %s, got %d body=%s", tc.as.id, st, string(body))
			}
			var resp struct {
				Requests []struct {
					ID       string `json:"id"`
					DoctorID string `json:"doctorId"`
				} `json:"requests"`
			}
			_ = json.Unmarshal(body, &resp)
			if len(resp.Requests) != len(tc.want) {
				t.Fatalf("my-pending as %s: expected %d requests, body=%s", tc.as.id, len(tc.want), string(body))
			}
			for i, r := range resp.Requests {
				if r.ID != tc.want[i] || r.DoctorID != tc.as.id {
					t.Fatalf("my-pending as %s leaked %+v", tc.as.id, r)
				}
			}
		}
	}

	code := box.lastCode("ana@example.com")
	if code == "" {
		t.Fatalf("no code mailed to the patient")
	}

	// 6) Código equivocado: 400 y la solicitud sigue pending
	{
		wrong := "000000"
		if code == wrong {
			wrong = "111111"
		}
		st, _ := doReq(t, ts.URL, "POST", "/patient-access/requests/"+requestID+"/verify-otp", neurologist, map[string]any{
			"otpCode": wrong,
		})
		if st != http.StatusBadRequest {
			t.Fatalf("expected 400 wrong code, got %d", st)
		}
	}

	// 7) Otro médico no puede usar el código
	{
		st, _ := doReq(t, ts.URL, "POST", "/patient-access/requests/"+requestID+"/verify-otp", cardiologist, map[string]any{
			"otpCode": code,
		})
		if st == http.StatusOK {
			t.Fatalf("expected another doctor to be refused")
		}
	}

	// 8) Código correcto
	{
		st, body := doReq(t, ts.URL, "POST", "/patient-access/requests/"+requestID+"/verify-otp", neurologist, map[string]any{
			"otpCode": code,
		})
		if st != http.StatusOK {
			t.Fatalf("expected 200 verify, got %d body=%s", st, string(body))
		}
	}

	// 9) Reusar el código falla: la solicitud ya no está pending
	{
		st, _ := doReq(t, ts.URL, "POST", "/patient-access/requests/"+requestID+"/verify-otp", neurologist, map[string]any{
			"otpCode": code,
		})
		if st != http.StatusBadRequest {
			t.Fatalf("expected 400 reused code, got %d", st)
		}
	}

	// 10) Aparece en compartidos y se ven los informes
	{
		st, body := doReq(t, ts.URL, "GET", "/patient-access/shared", neurologist, nil)
		if st != http.StatusOK {
			t.Fatalf("expected 200 shared, got %d body=%s", st, string(body))
		}
		var resp struct {
			SharedPatients []struct {
				Patient struct {
					ID string `json:"id"`
				} `json:"patient"`
				GrantID string `json:"grantId"`
			} `json:"sharedPatients"`
		}
		_ = json.Unmarshal(body, &resp)
		if len(resp.SharedPatients) != 1 || resp.SharedPatients[0].Patient.ID != patient.id {
			t.Fatalf("expected one shared patient, body=%s", string(body))
		}
	}
	{
		st, body := doReq(t, ts.URL, "GET", "/patient-access/shared/pat-1/reports", neurologist, nil)
		if st != http.StatusOK {
			t.Fatalf("expected 200 shared reports, got %d body=%s", st, string(body))
		}
		var items []map[string]any
		_ = json.Unmarshal(body, &items)
		if len(items) != 1 {
			t.Fatalf("expected 1 report, body=%s", string(body))
		}
	}

	// 11) El paciente ve la auditoría y el grant
	grantID := ""
	{
		st, body := doReq(t, ts.URL, "GET", "/patient-access/audit", patient, nil)
		if st != http.StatusOK {
			t.Fatalf("expected 200 audit, got %d body=%s", st, string(body))
		}
		var resp struct {
			Entries []struct {
				Action string `json:"action"`
			} `json:"entries"`
		}
		_ = json.Unmarshal(body, &resp)
		if len(resp.Entries) == 0 || resp.Entries[0].Action != "RECORD_VIEWED" {
			t.Fatalf("expected RECORD_VIEWED as latest entry, body=%s", string(body))
		}
	}
	{
		st, body := doReq(t, ts.URL, "GET", "/patient-access/granted", patient, nil)
		if st != http.StatusOK {
			t.Fatalf("expected 200 granted, got %d body=%s", st, string(body))
		}
		var resp struct {
			Grants []struct {
				ID string `json:"id"`
			} `json:"grants"`
		}
		_ = json.Unmarshal(body, &resp)
		if len(resp.Grants) != 1 {
			t.Fatalf("expected one grant, body=%s", string(body))
		}
		grantID = resp.Grants[0].ID
	}

	// 12) Revoca: se corta el acceso
	{
		st, body := doReq(t, ts.URL, "PATCH", "/patient-access/granted/"+grantID+"/revoke", patient, nil)
		if st != http.StatusOK {
			t.Fatalf("expected 200 revoke, got %d body=%s", st, string(body))
		}
	}
	{
		st, _ := doReq(t, ts.URL, "GET", "/patient-access/shared/pat-1/reports", neurologist, nil)
		if st != http.StatusForbidden {
			t.Fatalf("expected 403 shared reports after revoke, got %d", st)
		}
	}
}

func TestHTTP_PatientApprovesAndRejects(t *testing.T) {
	ts, _ := newServer(t)
	seedDirectory(t, ts.URL)

	create := func(u user) string {
		t.Helper()
		st, body := doReq(t, ts.URL, "POST", "/patient-access/request", u, map[string]any{
			"patientId":     patient.id,
			"reason":        "Control",
			"durationHours": 48,
		})
		if st != http.StatusCreated {
			t.Fatalf("expected 201 create request, got %d body=%s", st, string(body))
		}
		var resp struct {
			ID string `json:"id"`
		}
		_ = json.Unmarshal(body, &resp)
		return resp.ID
	}

	approveID := create(neurologist)
	rejectID := create(cardiologist)

	st, body := doReq(t, ts.URL, "PATCH", "/patient-access/requests/"+approveID+"/approve", patient, nil)
	if st != http.StatusOK {
		t.Fatalf("expected 200 approve, got %d body=%s", st, string(body))
	}

	st, body = doReq(t, ts.URL, "PATCH", "/patient-access/requests/"+rejectID+"/reject", patient, map[string]any{
		"reason": "No lo conozco",
	})
	if st != http.StatusOK {
		t.Fatalf("expected 200 reject, got %d body=%s", st, string(body))
	}
	var rejected struct {
		Status string `json:"status"`
	}
	_ = json.Unmarshal(body, &rejected)
	if rejected.Status != "rejected" {
		t.Fatalf("expected rejected status, body=%s", string(body))
	}

	// una solicitud rechazada no se puede aprobar
	st, _ = doReq(t, ts.URL, "PATCH", "/patient-access/requests/"+rejectID+"/approve", patient, nil)
	if st != http.StatusBadRequest {
		t.Fatalf("expected 400 approving a rejected request, got %d", st)
	}

	st, _ = doReq(t, ts.URL, "GET", "/patient-access/shared/pat-1/reports", neurologist, nil)
	if st != http.StatusOK {
		t.Fatalf("expected 200 shared reports after approval, got %d", st)
	}
	st, _ = doReq(t, ts.URL, "GET", "/patient-access/shared/pat-1/reports", cardiologist, nil)
	if st != http.StatusForbidden {
		t.Fatalf("expected 403 shared reports after rejection, got %d", st)
	}
}

// Un reject sin body pero sin Content-Length (chunked) no es json inválido.
func TestHTTP_RejectAcceptsChunkedEmptyBody(t *testing.T) {
	ts, _ := newServer(t)
	seedDirectory(t, ts.URL)

	st, body := doReq(t, ts.URL, "POST", "/patient-access/request", neurologist, map[string]any{
		"patientId":     patient.id,
		"reason":        "Control",
		"durationHours": 24,
	})
	if st != http.StatusCreated {
		t.Fatalf("expected 201 create request, got %d body=%s", st, string(body))
	}
	var created struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(body, &created)

	reject := func(payload string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("PATCH", "/patient-access/requests/"+created.ID+"/reject", io.NopCloser(strings.NewReader(payload)))
		req.ContentLength = -1
		req.TransferEncoding = []string{"chunked"}
		req.Header.Set("X-Debug-User-ID", patient.id)
		req.Header.Set("X-Debug-User-Role", patient.role)
		rec := httptest.NewRecorder()
		ts.Config.Handler.ServeHTTP(rec, req)
		return rec
	}

	// body roto sigue siendo 400 y no toca la solicitud
	if rec := reject("{"); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d body=%s", rec.Code, rec.Body.String())
	}

	rec := reject("")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 reject with empty chunked body, got %d body=%s", rec.Code, rec.Body.String())
	}
	var rejected struct {
		Status string `json:"status"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &rejected)
	if rejected.Status != "rejected" {
		t.Fatalf("expected rejected status, body=%s", rec.Body.String())
	}
}

func TestHTTP_ReportsFollowDepartmentOrReferral(t *testing.T) {
	ts, _ := newServer(t)
	seedDirectory(t, ts.URL)

	st, _ := doReq(t, ts.URL, "GET", "/patients/pat-1/reports", cardiologist, nil)
	if st != http.StatusOK {
		t.Fatalf("expected 200 same department, got %d", st)
	}
	st, _ = doReq(t, ts.URL, "GET", "/patients/pat-1/reports", neurologist, nil)
	if st != http.StatusForbidden {
		t.Fatalf("expected 403 other department, got %d", st)
	}
	st, _ = doReq(t, ts.URL, "GET", "/patients/pat-1/reports", patient, nil)
	if st != http.StatusOK {
		t.Fatalf("expected 200 patient own reports, got %d", st)
	}
	st, _ = doReq(t, ts.URL, "GET", "/patients/pat-1/reports", user{"pat-2", "patient"}, nil)
	if st != http.StatusForbidden {
		t.Fatalf("expected 403 another patient, got %d", st)
	}

	st, body := doReq(t, ts.URL, "POST", "/patients/pat-1/referrals", admin, map[string]any{
		"departmentId": "neurology",
	})
	if st != http.StatusCreated {
		t.Fatalf("expected 201 referral, got %d body=%s", st, string(body))
	}
	st, _ = doReq(t, ts.URL, "POST", "/patients/pat-1/referrals", admin, map[string]any{
		"departmentId": "neurology",
	})
	if st != http.StatusOK {
		t.Fatalf("expected 200 repeated referral, got %d", st)
	}

	st, _ = doReq(t, ts.URL, "GET", "/patients/pat-1/reports", neurologist, nil)
	if st != http.StatusOK {
		t.Fatalf("expected 200 after referral, got %d", st)
	}
	st, _ = doReq(t, ts.URL, "GET", "/patients/pat-1/reports", admin, nil)
	if st != http.StatusOK {
		t.Fatalf("expected 200 admin bypass, got %d", st)
	}
}

func TestHTTP_RolesAndValidation(t *testing.T) {
	ts, _ := newServer(t)
	seedDirectory(t, ts.URL)

	cases := []struct {
		name   string
		method string
		path   string
		as     user
		body   any
		want   int
	}{
		{"no claims", "POST", "/patient-access/request", user{}, map[string]any{"patientId": "pat-1", "reason": "x"}, http.StatusUnauthorized},
		{"patient cannot request", "POST", "/patient-access/request", patient, map[string]any{"patientId": "pat-1", "reason": "x"}, http.StatusForbidden},
		{"doctor cannot approve", "PATCH", "/patient-access/requests/any/approve", neurologist, nil, http.StatusForbidden},
		{"doctor cannot register patients", "POST", "/directory/patients", neurologist, map[string]any{"firstName": "X", "primaryDepartmentId": "x"}, http.StatusForbidden},
		{"missing reason", "POST", "/patient-access/request", neurologist, map[string]any{"patientId": "pat-1"}, http.StatusBadRequest},
		{"duration out of range", "POST", "/patient-access/request", neurologist, map[string]any{"patientId": "pat-1", "reason": "x", "durationHours": 200}, http.StatusBadRequest},
		{"unknown patient", "POST", "/patient-access/request", neurologist, map[string]any{"patientId": "nope", "reason": "x"}, http.StatusNotFound},
		{"search unknown", "POST", "/patient-access/search", neurologist, map[string]any{"patientId": "PAT-00000000"}, http.StatusNotFound},
		{"empty code", "POST", "/patient-access/requests/any/verify-otp", neurologist, map[string]any{"otpCode": ""}, http.StatusBadRequest},
		{"revoke unknown grant", "PATCH", "/patient-access/granted/nope/revoke", patient, nil, http.StatusNotFound},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st, body := doReq(t, ts.URL, tc.method, tc.path, tc.as, tc.body)
			if st != tc.want {
				t.Fatalf("expected %d, got %d body=%s", tc.want, st, string(body))
			}
		})
	}
}

func TestHTTP_Health(t *testing.T) {
	ts, _ := newServer(t)

	st, body := doReq(t, ts.URL, "GET", "/health", user{}, nil)
	if st != http.StatusOK || string(body) != "ok" {
		t.Fatalf("expected 200 ok, got %d body=%s", st, string(body))
	}
}

func doReq(t *testing.T, baseURL, method, path string, as user, body any) (int, []byte) {
	t.Helper()

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("json marshal: %v", err)
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, baseURL+path, rdr)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if as.id != "" {
		req.Header.Set("X-Debug-User-ID", as.id)
		req.Header.Set("X-Debug-User-Role", as.role)
	}

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()

	respBody, _ := io.ReadAll(res.Body)
	return res.StatusCode, respBody
}
