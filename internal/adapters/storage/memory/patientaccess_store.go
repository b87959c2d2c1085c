package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"hospital-patient-access/internal/domain/audit"
	"hospital-patient-access/internal/domain/otp"
	"hospital-patient-access/internal/domain/patientaccess"
	"hospital-patient-access/internal/ports/storage"
)

// paState son las tablas del flujo de acceso. Se clona entera al abrir una transacción.
type paState struct {
	requests map[string]patientaccess.AccessRequest
	grants   map[string]patientaccess.Grant
	codes    map[string]otp.Code
	audit    []audit.Entry
}

func newPAState() *paState {
	return &paState{
		requests: make(map[string]patientaccess.AccessRequest),
		grants:   make(map[string]patientaccess.Grant),
		codes:    make(map[string]otp.Code),
		audit:    make([]audit.Entry, 0),
	}
}

func (s *paState) clone() *paState {
	out := &paState{
		requests: make(map[string]patientaccess.AccessRequest, len(s.requests)),
		grants:   make(map[string]patientaccess.Grant, len(s.grants)),
		codes:    make(map[string]otp.Code, len(s.codes)),
		audit:    make([]audit.Entry, len(s.audit)),
	}
	for k, v := range s.requests {
		out.requests[k] = v
	}
	for k, v := range s.grants {
		out.grants[k] = v
	}
	for k, v := range s.codes {
		out.codes[k] = v
	}
	copy(out.audit, s.audit)
	return out
}

// paDB: fuera de una transacción cada llamada toma el lock del store.
// Dentro de WithinTx mu es nil porque el lock ya lo tiene la transacción.
type paDB struct {
	mu *sync.RWMutex
	st *paState
}

func (d *paDB) read() func() {
	if d.mu == nil {
		return func() {}
	}
	d.mu.RLock()
	return d.mu.RUnlock
}

func (d *paDB) write() func() {
	if d.mu == nil {
		return func() {}
	}
	d.mu.Lock()
	return d.mu.Unlock
}

// PatientAccessStore implementa patientaccess.Store en memoria.
// Las transacciones se serializan y se confirman reemplazando el estado completo.
type PatientAccessStore struct {
	root *paDB
}

func NewPatientAccessStore() *PatientAccessStore {
	return &PatientAccessStore{
		root: &paDB{mu: &sync.RWMutex{}, st: newPAState()},
	}
}

func (s *PatientAccessStore) Repos() patientaccess.Repos {
	return reposOver(s.root)
}

func (s *PatientAccessStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx patientaccess.Repos) error) error {
	s.root.mu.Lock()
	defer s.root.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	staged := &paDB{st: s.root.st.clone()}
	if err := fn(ctx, reposOver(staged)); err != nil {
		return err
	}
	s.root.st = staged.st
	return nil
}

func reposOver(db *paDB) patientaccess.Repos {
	return patientaccess.Repos{
		Requests: &requestRepo{db: db},
		Grants:   &grantRepo{db: db},
		Codes:    &codeRepo{db: db},
		Audit:    &auditRepo{db: db},
	}
}

// -------------------------
// Access requests
// -------------------------

type requestRepo struct{ db *paDB }

func (r *requestRepo) Create(ctx context.Context, ar patientaccess.AccessRequest) error {
	defer r.db.write()()

	if _, exists := r.db.st.requests[ar.ID]; exists {
		return storage.ErrConflict
	}
	if ar.Status == patientaccess.StatusPending {
		for _, other := range r.db.st.requests {
			if other.Status == patientaccess.StatusPending && other.PatientID == ar.PatientID && other.DoctorID == ar.DoctorID {
				return storage.ErrConflict
			}
		}
	}
	r.db.st.requests[ar.ID] = ar
	return nil
}

func (r *requestRepo) Update(ctx context.Context, ar patientaccess.AccessRequest) error {
	defer r.db.write()()

	if _, exists := r.db.st.requests[ar.ID]; !exists {
		return storage.ErrNotFound
	}
	r.db.st.requests[ar.ID] = ar
	return nil
}

func (r *requestRepo) GetByID(ctx context.Context, id string) (patientaccess.AccessRequest, error) {
	defer r.db.read()()

	ar, ok := r.db.st.requests[id]
	if !ok {
		return patientaccess.AccessRequest{}, storage.ErrNotFound
	}
	return ar, nil
}

// GetForUpdate: las transacciones en memoria ya son exclusivas.
func (r *requestRepo) GetForUpdate(ctx context.Context, id string) (patientaccess.AccessRequest, error) {
	return r.GetByID(ctx, id)
}

func (r *requestRepo) FindPending(ctx context.Context, patientID, doctorID string) (patientaccess.AccessRequest, error) {
	defer r.db.read()()

	for _, ar := range r.db.st.requests {
		if ar.Status == patientaccess.StatusPending && ar.PatientID == patientID && ar.DoctorID == doctorID {
			return ar, nil
		}
	}
	return patientaccess.AccessRequest{}, storage.ErrNotFound
}

func (r *requestRepo) ListPendingByDoctor(ctx context.Context, doctorID string) ([]patientaccess.AccessRequest, error) {
	return r.list(func(ar patientaccess.AccessRequest) bool {
		return ar.Status == patientaccess.StatusPending && ar.DoctorID == doctorID
	}), nil
}

func (r *requestRepo) ListPendingByPatient(ctx context.Context, patientID string) ([]patientaccess.AccessRequest, error) {
	return r.list(func(ar patientaccess.AccessRequest) bool {
		return ar.Status == patientaccess.StatusPending && ar.PatientID == patientID
	}), nil
}

func (r *requestRepo) ListStalePending(ctx context.Context, createdBefore time.Time) ([]patientaccess.AccessRequest, error) {
	return r.list(func(ar patientaccess.AccessRequest) bool {
		return ar.Status == patientaccess.StatusPending && ar.CreatedAt.Before(createdBefore)
	}), nil
}

// list ordena por created_at desc (más reciente primero).
func (r *requestRepo) list(match func(patientaccess.AccessRequest) bool) []patientaccess.AccessRequest {
	defer r.db.read()()

	out := make([]patientaccess.AccessRequest, 0)
	for _, ar := range r.db.st.requests {
		if match(ar) {
			out = append(out, ar)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// -------------------------
// Grants
// -------------------------

type grantRepo struct{ db *paDB }

func (r *grantRepo) Create(ctx context.Context, g patientaccess.Grant) error {
	defer r.db.write()()

	if _, exists := r.db.st.grants[g.ID]; exists {
		return storage.ErrConflict
	}
	for _, other := range r.db.st.grants {
		if other.AccessRequestID == g.AccessRequestID {
			return storage.ErrConflict
		}
	}
	r.db.st.grants[g.ID] = g
	return nil
}

func (r *grantRepo) Update(ctx context.Context, g patientaccess.Grant) error {
	defer r.db.write()()

	if _, exists := r.db.st.grants[g.ID]; !exists {
		return storage.ErrNotFound
	}
	r.db.st.grants[g.ID] = g
	return nil
}

func (r *grantRepo) GetByID(ctx context.Context, id string) (patientaccess.Grant, error) {
	defer r.db.read()()

	g, ok := r.db.st.grants[id]
	if !ok {
		return patientaccess.Grant{}, storage.ErrNotFound
	}
	return g, nil
}

// FindEffective devuelve el que vence más tarde si hubiera varios.
func (r *grantRepo) FindEffective(ctx context.Context, doctorID, patientID string, now time.Time) (patientaccess.Grant, error) {
	items := r.list(func(g patientaccess.Grant) bool {
		return g.DoctorID == doctorID && g.PatientID == patientID && g.Effective(now)
	})
	if len(items) == 0 {
		return patientaccess.Grant{}, storage.ErrNotFound
	}
	return items[0], nil
}

func (r *grantRepo) ListEffectiveByDoctor(ctx context.Context, doctorID string, now time.Time) ([]patientaccess.Grant, error) {
	return r.list(func(g patientaccess.Grant) bool {
		return g.DoctorID == doctorID && g.Effective(now)
	}), nil
}

func (r *grantRepo) ListEffectiveByPatient(ctx context.Context, patientID string, now time.Time) ([]patientaccess.Grant, error) {
	return r.list(func(g patientaccess.Grant) bool {
		return g.PatientID == patientID && g.Effective(now)
	}), nil
}

func (r *grantRepo) ListExpiredActive(ctx context.Context, now time.Time) ([]patientaccess.Grant, error) {
	return r.list(func(g patientaccess.Grant) bool {
		return g.IsActive && !g.ExpiresAt.After(now)
	}), nil
}

// list ordena por expires_at desc.
func (r *grantRepo) list(match func(patientaccess.Grant) bool) []patientaccess.Grant {
	defer r.db.read()()

	out := make([]patientaccess.Grant, 0)
	for _, g := range r.db.st.grants {
		if match(g) {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ExpiresAt.After(out[j].ExpiresAt)
	})
	return out
}

// -------------------------
// Verification codes
// -------------------------

type codeRepo struct{ db *paDB }

func (r *codeRepo) Create(ctx context.Context, c otp.Code) error {
	defer r.db.write()()

	if _, exists := r.db.st.codes[c.ID]; exists {
		return storage.ErrConflict
	}
	r.db.st.codes[c.ID] = c
	return nil
}

func (r *codeRepo) Update(ctx context.Context, c otp.Code) error {
	defer r.db.write()()

	if _, exists := r.db.st.codes[c.ID]; !exists {
		return storage.ErrNotFound
	}
	r.db.st.codes[c.ID] = c
	return nil
}

func (r *codeRepo) InvalidateUnused(ctx context.Context, accessRequestID string, at time.Time) error {
	defer r.db.write()()

	for id, c := range r.db.st.codes {
		if c.AccessRequestID != accessRequestID || c.IsUsed {
			continue
		}
		usedAt := at
		c.IsUsed = true
		c.UsedAt = &usedAt
		r.db.st.codes[id] = c
	}
	return nil
}

func (r *codeRepo) FindLatestMatch(ctx context.Context, accessRequestID, code string) (otp.Code, error) {
	return r.latest(func(c otp.Code) bool {
		return c.AccessRequestID == accessRequestID && c.Code == code
	})
}

func (r *codeRepo) FindLatestUnused(ctx context.Context, accessRequestID string) (otp.Code, error) {
	return r.latest(func(c otp.Code) bool {
		return c.AccessRequestID == accessRequestID && !c.IsUsed
	})
}

func (r *codeRepo) latest(match func(otp.Code) bool) (otp.Code, error) {
	defer r.db.read()()

	var winner otp.Code
	has := false
	for _, c := range r.db.st.codes {
		if !match(c) {
			continue
		}
		if !has || c.GeneratedAt.After(winner.GeneratedAt) {
			winner = c
			has = true
		}
	}
	if !has {
		return otp.Code{}, storage.ErrNotFound
	}
	return winner, nil
}

// -------------------------
// Audit (append-only)
// -------------------------

type auditRepo struct{ db *paDB }

func (r *auditRepo) Append(ctx context.Context, e audit.Entry) error {
	defer r.db.write()()

	r.db.st.audit = append(r.db.st.audit, e)
	return nil
}

func (r *auditRepo) ListByPatient(ctx context.Context, patientID string, limit int) ([]audit.Entry, error) {
	defer r.db.read()()

	out := make([]audit.Entry, 0)
	// se recorre al revés: el slice está en orden de inserción
	for i := len(r.db.st.audit) - 1; i >= 0; i-- {
		e := r.db.st.audit[i]
		if e.PatientID != patientID {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
