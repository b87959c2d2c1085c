package patientaccess_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"hospital-patient-access/internal/adapters/storage/memory"
	"hospital-patient-access/internal/domain/audit"
	"hospital-patient-access/internal/domain/directory"
	"hospital-patient-access/internal/domain/otp"
	"hospital-patient-access/internal/domain/patientaccess"
	"hospital-patient-access/internal/platform/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -------------------------
// Fakes
// -------------------------

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// captureNotifier guarda el último código emitido por solicitud.
type captureNotifier struct {
	mu       sync.Mutex
	codes    map[string]string
	approved int
	rejected int
	revoked  int
	err      error
}

func newCaptureNotifier() *captureNotifier {
	return &captureNotifier{codes: map[string]string{}}
}

func (n *captureNotifier) CodeIssued(ctx context.Context, r patientaccess.AccessRequest, code otp.Code) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.codes[r.ID] = code.Code
	return n.err
}

func (n *captureNotifier) RequestApproved(ctx context.Context, r patientaccess.AccessRequest, g patientaccess.Grant) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.approved++
	return n.err
}

func (n *captureNotifier) RequestRejected(ctx context.Context, r patientaccess.AccessRequest) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rejected++
	return n.err
}

func (n *captureNotifier) AccessRevoked(ctx context.Context, g patientaccess.Grant) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.revoked++
	return n.err
}

func (n *captureNotifier) code(requestID string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.codes[requestID]
}

type fixture struct {
	svc      *patientaccess.Service
	store    *memory.PatientAccessStore
	notifier *captureNotifier
	clock    *clock
	dir      *directory.Service

	patient directory.Patient
	other   directory.Patient
	doctor  directory.Doctor
}

func newFixture(t *testing.T, opts ...patientaccess.Option) *fixture {
	t.Helper()
	ctx := context.Background()

	dir := directory.NewService(memory.NewDirectoryRepo())
	patient, err := dir.RegisterPatient(ctx, directory.PatientInput{
		ID: "pat-1", FirstName: "Ana", LastName: "Pérez", Email: "ana@example.com",
		City: "Rosario", Country: "AR", PrimaryDepartmentID: "cardiology",
	})
	require.NoError(t, err)
	other, err := dir.RegisterPatient(ctx, directory.PatientInput{
		ID: "pat-2", FirstName: "Luis", PrimaryDepartmentID: "oncology",
	})
	require.NoError(t, err)
	doctor, err := dir.RegisterDoctor(ctx, directory.DoctorInput{
		ID: "doc-1", FirstName: "Marta", LastName: "Gómez", Email: "marta@example.com", DepartmentID: "neurology",
	})
	require.NoError(t, err)

	clk := &clock{t: time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)}
	store := memory.NewPatientAccessStore()
	notifier := newCaptureNotifier()

	opts = append([]patientaccess.Option{patientaccess.WithClock(clk.Now)}, opts...)
	svc := patientaccess.NewService(store, dir, notifier, logger.Nop(), opts...)

	return &fixture{
		svc: svc, store: store, notifier: notifier, clock: clk, dir: dir,
		patient: patient, other: other, doctor: doctor,
	}
}

func (f *fixture) request(t *testing.T) patientaccess.AccessRequest {
	t.Helper()
	req, err := f.svc.CreateRequest(context.Background(), patientaccess.CreateRequestInput{
		PatientID:     f.patient.ID,
		DoctorID:      f.doctor.ID,
		Reason:        "Interconsulta por cefalea",
		DurationHours: patientaccess.DefaultDurationHours,
	})
	require.NoError(t, err)
	return req
}

func (f *fixture) status(t *testing.T, requestID string) patientaccess.Status {
	t.Helper()
	r, err := f.store.Repos().Requests.GetByID(context.Background(), requestID)
	require.NoError(t, err)
	return r.Status
}

func (f *fixture) actions(t *testing.T) []audit.Action {
	t.Helper()
	entries, err := f.svc.AuditTrail(context.Background(), f.patient.ID, 0)
	require.NoError(t, err)
	out := make([]audit.Action, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Action)
	}
	return out
}

func requestIDs(items []patientaccess.AccessRequest) []string {
	out := make([]string, 0, len(items))
	for _, r := range items {
		out = append(out, r.ID)
	}
	return out
}

// -------------------------
// Create
// -------------------------

func TestCreateRequest_IssuesCodeAndAudits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := f.request(t)
	assert.Equal(t, patientaccess.StatusPending, req.Status)
	assert.Regexp(t, `^\d{6}$`, f.notifier.code(req.ID))

	forPatient, err := f.svc.PendingForPatient(ctx, f.patient.ID)
	require.NoError(t, err)
	require.Len(t, forPatient, 1)
	assert.Equal(t, req.ID, forPatient[0].ID)

	forDoctor, err := f.svc.PendingForDoctor(ctx, f.doctor.ID)
	require.NoError(t, err)
	assert.Len(t, forDoctor, 1)

	assert.Equal(t, []audit.Action{audit.ActionRequestCreated}, f.actions(t))
}

func TestCreateRequest_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name string
		in   patientaccess.CreateRequestInput
		want error
	}{
		{"missing reason", patientaccess.CreateRequestInput{PatientID: f.patient.ID, DoctorID: f.doctor.ID, DurationHours: 24}, patientaccess.ErrValidation},
		{"zero hours", patientaccess.CreateRequestInput{PatientID: f.patient.ID, DoctorID: f.doctor.ID, Reason: "x"}, patientaccess.ErrValidation},
		{"too many hours", patientaccess.CreateRequestInput{PatientID: f.patient.ID, DoctorID: f.doctor.ID, Reason: "x", DurationHours: 169}, patientaccess.ErrValidation},
		{"missing patient", patientaccess.CreateRequestInput{DoctorID: f.doctor.ID, Reason: "x", DurationHours: 24}, patientaccess.ErrValidation},
		{"unknown patient", patientaccess.CreateRequestInput{PatientID: "nobody", DoctorID: f.doctor.ID, Reason: "x", DurationHours: 24}, patientaccess.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.CreateRequest(ctx, tc.in)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	pending, err := f.svc.PendingForPatient(ctx, f.patient.ID)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestCreateRequest_DuplicatePending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.request(t)

	_, err := f.svc.CreateRequest(ctx, patientaccess.CreateRequestInput{
		PatientID: f.patient.ID, DoctorID: f.doctor.ID, Reason: "otra vez", DurationHours: 2,
	})
	assert.ErrorIs(t, err, patientaccess.ErrConflict)

	// una vez resuelta la primera se puede volver a pedir
	_, err = f.svc.RejectRequest(ctx, first.ID, f.patient.ID, "no")
	require.NoError(t, err)
	_, err = f.svc.CreateRequest(ctx, patientaccess.CreateRequestInput{
		PatientID: f.patient.ID, DoctorID: f.doctor.ID, Reason: "otra vez", DurationHours: 2,
	})
	assert.NoError(t, err)
}

// -------------------------
// Verify
// -------------------------

func TestVerify_GrantsAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.request(t)

	res, err := f.svc.VerifyCodeByDoctor(ctx, req.ID, f.doctor.ID, f.notifier.code(req.ID), "10.0.0.7")
	require.NoError(t, err)
	require.True(t, res.Valid)
	assert.Equal(t, f.clock.Now().Add(24*time.Hour), res.ExpiresAt)
	assert.Equal(t, res.ExpiresAt, res.Grant.ExpiresAt)
	assert.True(t, res.Grant.IsActive)

	assert.Equal(t, patientaccess.StatusApproved, f.status(t, req.ID))

	ok, err := f.svc.HasAccess(ctx, f.doctor.ID, f.patient.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, []audit.Action{
		audit.ActionAccessGranted,
		audit.ActionRequestApproved,
		audit.ActionRequestCreated,
	}, f.actions(t))

	entries, err := f.svc.AuditTrail(ctx, f.patient.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, "otp", entries[1].Details["method"])
	assert.Equal(t, "10.0.0.7", entries[1].IPAddress)

	assert.Equal(t, 1, f.notifier.approved)

	// la misma verificación repetida ya no encuentra una solicitud pending
	_, err = f.svc.VerifyCodeByDoctor(ctx, req.ID, f.doctor.ID, f.notifier.code(req.ID), "10.0.0.7")
	assert.ErrorIs(t, err, patientaccess.ErrNotFoundOrProcessed)
}

func TestVerify_WrongCodeKeepsPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.request(t)

	res, err := f.svc.VerifyCodeByDoctor(ctx, req.ID, f.doctor.ID, "000000", "10.0.0.7")
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, otp.ReasonInvalid, res.Reason)
	assert.Equal(t, "Invalid OTP code", res.Message)

	assert.Equal(t, patientaccess.StatusPending, f.status(t, req.ID))

	entries, err := f.svc.AuditTrail(ctx, f.patient.ID, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, audit.ActionRequestRejected, entries[0].Action)
	assert.Equal(t, "Invalid OTP code", entries[0].Details["reason"])
	assert.Equal(t, "10.0.0.7", entries[0].IPAddress)

	ok, err := f.svc.HasAccess(ctx, f.doctor.ID, f.patient.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerify_AttemptsExhaustedThenResend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.request(t)
	good := f.notifier.code(req.ID)

	for i := 0; i < otp.MaxAttempts; i++ {
		res, err := f.svc.VerifyCodeByDoctor(ctx, req.ID, f.doctor.ID, "000000", "")
		require.NoError(t, err)
		require.False(t, res.Valid)
	}

	res, err := f.svc.VerifyCodeByDoctor(ctx, req.ID, f.doctor.ID, good, "")
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, otp.ReasonAttemptsExceeded, res.Reason)
	assert.Equal(t, patientaccess.StatusPending, f.status(t, req.ID))

	f.clock.Advance(time.Minute)
	require.NoError(t, f.svc.ResendCode(ctx, req.ID, f.doctor.ID))
	fresh := f.notifier.code(req.ID)

	res, err = f.svc.VerifyCodeByDoctor(ctx, req.ID, f.doctor.ID, fresh, "")
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Contains(t, f.actions(t), audit.ActionCodeResent)
}

func TestVerify_ExpiredCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.request(t)

	f.clock.Advance(otp.CodeTTL)

	res, err := f.svc.VerifyCodeByDoctor(ctx, req.ID, f.doctor.ID, f.notifier.code(req.ID), "")
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, otp.ReasonExpired, res.Reason)
}

func TestVerify_OtherDoctor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.request(t)

	_, err := f.svc.VerifyCodeByDoctor(ctx, req.ID, "doc-2", f.notifier.code(req.ID), "")
	assert.ErrorIs(t, err, patientaccess.ErrNotFoundOrProcessed)

	err = f.svc.ResendCode(ctx, req.ID, "doc-2")
	assert.ErrorIs(t, err, patientaccess.ErrNotFoundOrProcessed)

	_, err = f.svc.VerifyCodeByDoctor(ctx, req.ID, f.doctor.ID, "  ", "")
	assert.ErrorIs(t, err, patientaccess.ErrValidation)
}

func TestVerify_ConcurrentSingleGrant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.request(t)
	code := f.notifier.code(req.ID)

	const n = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		granted   int
		processed int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.VerifyCodeByDoctor(ctx, req.ID, f.doctor.ID, code, "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil && res.Valid:
				granted++
			case errors.Is(err, patientaccess.ErrNotFoundOrProcessed):
				processed++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, granted)
	assert.Equal(t, n-1, processed)

	grants, err := f.svc.GrantsForPatient(ctx, f.patient.ID)
	require.NoError(t, err)
	assert.Len(t, grants, 1)
}

// -------------------------
// Approve / Reject
// -------------------------

func TestApproveRequest_ByPatient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.request(t)

	_, err := f.svc.ApproveRequest(ctx, req.ID, f.other.ID)
	assert.ErrorIs(t, err, patientaccess.ErrNotFoundOrProcessed)

	g, err := f.svc.ApproveRequest(ctx, req.ID, f.patient.ID)
	require.NoError(t, err)
	assert.Equal(t, req.ID, g.AccessRequestID)
	assert.Equal(t, f.clock.Now().Add(24*time.Hour), g.ExpiresAt)

	entries, err := f.svc.AuditTrail(ctx, f.patient.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, audit.ActionRequestApproved, entries[1].Action)
	assert.Equal(t, "patient", entries[1].Details["method"])

	_, err = f.svc.ApproveRequest(ctx, req.ID, f.patient.ID)
	assert.ErrorIs(t, err, patientaccess.ErrNotFoundOrProcessed)

	grants, err := f.svc.GrantsForPatient(ctx, f.patient.ID)
	require.NoError(t, err)
	assert.Len(t, grants, 1)
}

func TestRejectRequest_IsTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.request(t)
	code := f.notifier.code(req.ID)

	_, err := f.svc.RejectRequest(ctx, req.ID, f.other.ID, "no")
	assert.ErrorIs(t, err, patientaccess.ErrNotFoundOrProcessed)

	rejected, err := f.svc.RejectRequest(ctx, req.ID, f.patient.ID, "No lo conozco")
	require.NoError(t, err)
	assert.Equal(t, patientaccess.StatusRejected, rejected.Status)
	assert.Equal(t, "No lo conozco", rejected.RejectionReason)
	require.NotNil(t, rejected.RejectedAt)
	assert.Equal(t, 1, f.notifier.rejected)

	_, err = f.svc.ApproveRequest(ctx, req.ID, f.patient.ID)
	assert.ErrorIs(t, err, patientaccess.ErrNotFoundOrProcessed)

	_, err = f.svc.VerifyCodeByDoctor(ctx, req.ID, f.doctor.ID, code, "")
	assert.ErrorIs(t, err, patientaccess.ErrNotFoundOrProcessed)

	_, err = f.svc.RejectRequest(ctx, req.ID, f.patient.ID, "otra vez")
	assert.ErrorIs(t, err, patientaccess.ErrNotFoundOrProcessed)

	ok, err := f.svc.HasAccess(ctx, f.doctor.ID, f.patient.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

// -------------------------
// HasAccess / sweep / revoke
// -------------------------

func TestHasAccess_Window(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.request(t)

	_, err := f.svc.ApproveRequest(ctx, req.ID, f.patient.ID)
	require.NoError(t, err)

	ok, err := f.svc.HasAccess(ctx, f.doctor.ID, f.patient.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	// otro paciente, otro médico
	ok, err = f.svc.HasAccess(ctx, f.doctor.ID, f.other.ID)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = f.svc.HasAccess(ctx, "doc-unknown", f.patient.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	f.clock.Advance(24*time.Hour - time.Second)
	ok, err = f.svc.HasAccess(ctx, f.doctor.ID, f.patient.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	// expiresAt <= now ya no autoriza, aunque el sweep no haya corrido
	f.clock.Advance(time.Second)
	ok, err = f.svc.HasAccess(ctx, f.doctor.ID, f.patient.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExpireOldAccess_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.request(t)

	g, err := f.svc.ApproveRequest(ctx, req.ID, f.patient.ID)
	require.NoError(t, err)

	rep, err := f.svc.ExpireOldAccess(ctx)
	require.NoError(t, err)
	assert.Equal(t, patientaccess.SweepReport{}, rep)

	f.clock.Advance(25 * time.Hour)

	rep, err = f.svc.ExpireOldAccess(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.GrantsExpired)

	rep, err = f.svc.ExpireOldAccess(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, rep.GrantsExpired)

	stored, err := f.store.Repos().Grants.GetByID(ctx, g.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)
	assert.Nil(t, stored.RevokedAt)

	expired := 0
	for _, a := range f.actions(t) {
		if a == audit.ActionAccessExpired {
			expired++
		}
	}
	assert.Equal(t, 1, expired)
}

func TestExpireOldAccess_StalePending(t *testing.T) {
	f := newFixture(t, patientaccess.WithPendingTTL(168*time.Hour))
	ctx := context.Background()
	req := f.request(t)

	f.clock.Advance(167 * time.Hour)
	rep, err := f.svc.ExpireOldAccess(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, rep.RequestsExpired)

	f.clock.Advance(2 * time.Hour)
	rep, err = f.svc.ExpireOldAccess(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.RequestsExpired)
	assert.Equal(t, patientaccess.StatusExpired, f.status(t, req.ID))
	assert.Contains(t, f.actions(t), audit.ActionRequestExpired)

	rep, err = f.svc.ExpireOldAccess(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, rep.RequestsExpired)
}

func TestRevokeAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.request(t)

	g, err := f.svc.ApproveRequest(ctx, req.ID, f.patient.ID)
	require.NoError(t, err)

	_, err = f.svc.RevokeAccess(ctx, g.ID, f.other.ID)
	assert.ErrorIs(t, err, patientaccess.ErrNotFound)
	_, err = f.svc.RevokeAccess(ctx, "missing", f.patient.ID)
	assert.ErrorIs(t, err, patientaccess.ErrNotFound)

	revoked, err := f.svc.RevokeAccess(ctx, g.ID, f.patient.ID)
	require.NoError(t, err)
	assert.False(t, revoked.IsActive)
	require.NotNil(t, revoked.RevokedAt)

	ok, err := f.svc.HasAccess(ctx, f.doctor.ID, f.patient.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	again, err := f.svc.RevokeAccess(ctx, g.ID, f.patient.ID)
	require.NoError(t, err)
	assert.False(t, again.IsActive)
	assert.Equal(t, 1, f.notifier.revoked)
	assert.Equal(t, audit.ActionAccessRevoked, f.actions(t)[0])
}

func TestNotificationFailureDoesNotRollback(t *testing.T) {
	f := newFixture(t)
	f.notifier.err = errors.New("smtp down")
	ctx := context.Background()

	req := f.request(t)
	assert.Equal(t, patientaccess.StatusPending, f.status(t, req.ID))

	res, err := f.svc.VerifyCodeByDoctor(ctx, req.ID, f.doctor.ID, f.notifier.code(req.ID), "")
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, patientaccess.StatusApproved, f.status(t, req.ID))
}

// -------------------------
// Lecturas
// -------------------------

func TestSearchPatient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	byGlobal, err := f.svc.SearchPatient(ctx, f.patient.GlobalPatientID)
	require.NoError(t, err)
	assert.Equal(t, patientaccess.PatientSummary{
		ID:              f.patient.ID,
		GlobalPatientID: f.patient.GlobalPatientID,
		Name:            "Ana Pérez",
		City:            "Rosario",
		Country:         "AR",
	}, byGlobal)

	_, err = f.svc.SearchPatient(ctx, "PAT-00000000")
	assert.ErrorIs(t, err, patientaccess.ErrNotFound)

	// la búsqueda no otorga acceso
	ok, err := f.svc.HasAccess(ctx, f.doctor.ID, f.patient.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSharedPatientsForDoctor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.request(t)

	shared, err := f.svc.SharedPatientsForDoctor(ctx, f.doctor.ID)
	require.NoError(t, err)
	assert.Empty(t, shared)

	g, err := f.svc.ApproveRequest(ctx, req.ID, f.patient.ID)
	require.NoError(t, err)

	shared, err = f.svc.SharedPatientsForDoctor(ctx, f.doctor.ID)
	require.NoError(t, err)
	require.Len(t, shared, 1)
	assert.Equal(t, "Ana Pérez", shared[0].Patient.Name)
	assert.Equal(t, g.ID, shared[0].Grant.ID)

	others, err := f.svc.GrantsForPatient(ctx, f.other.ID)
	require.NoError(t, err)
	assert.Empty(t, others)

	f.clock.Advance(48 * time.Hour)
	shared, err = f.svc.SharedPatientsForDoctor(ctx, f.doctor.ID)
	require.NoError(t, err)
	assert.Empty(t, shared)
}

func TestPendingLists_ScopedAndNewestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	second, err := f.dir.RegisterDoctor(ctx, directory.DoctorInput{
		ID: "doc-2", FirstName: "Luis", DepartmentID: "cardiology",
	})
	require.NoError(t, err)

	create := func(patientID, doctorID string) string {
		t.Helper()
		r, err := f.svc.CreateRequest(ctx, patientaccess.CreateRequestInput{
			PatientID: patientID, DoctorID: doctorID, Reason: "Control", DurationHours: 4,
		})
		require.NoError(t, err)
		f.clock.Advance(time.Minute)
		return r.ID
	}

	p1d1 := create(f.patient.ID, f.doctor.ID)
	p2d1 := create(f.other.ID, f.doctor.ID)
	p1d2 := create(f.patient.ID, second.ID)
	p2d2 := create(f.other.ID, second.ID)

	pending := func(forDoctor bool, id string) []string {
		t.Helper()
		var (
			items []patientaccess.AccessRequest
			err   error
		)
		if forDoctor {
			items, err = f.svc.PendingForDoctor(ctx, id)
		} else {
			items, err = f.svc.PendingForPatient(ctx, id)
		}
		require.NoError(t, err)
		for _, r := range items {
			assert.Equal(t, patientaccess.StatusPending, r.Status)
		}
		return requestIDs(items)
	}

	assert.Equal(t, []string{p2d1, p1d1}, pending(true, f.doctor.ID))
	assert.Equal(t, []string{p2d2, p1d2}, pending(true, second.ID))
	assert.Equal(t, []string{p1d2, p1d1}, pending(false, f.patient.ID))
	assert.Equal(t, []string{p2d2, p2d1}, pending(false, f.other.ID))

	// aprobadas y rechazadas salen de las listas
	_, err = f.svc.ApproveRequest(ctx, p1d1, f.patient.ID)
	require.NoError(t, err)
	_, err = f.svc.RejectRequest(ctx, p2d2, f.other.ID, "")
	require.NoError(t, err)

	assert.Equal(t, []string{p2d1}, pending(true, f.doctor.ID))
	assert.Equal(t, []string{p1d2}, pending(true, second.ID))
	assert.Equal(t, []string{p1d2}, pending(false, f.patient.ID))
	assert.Equal(t, []string{p2d1}, pending(false, f.other.ID))

	assert.Empty(t, pending(true, "doc-unknown"))
	assert.Empty(t, pending(false, ""))
}
