package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"hospital-patient-access/internal/domain/reports"
	"hospital-patient-access/internal/ports/storage"
)

type reportRepo struct {
	mu   sync.RWMutex
	byID map[string]reports.Report
}

func NewReportRepo() reports.Repository {
	return &reportRepo{
		byID: make(map[string]reports.Report),
	}
}

func (r *reportRepo) Create(ctx context.Context, rep reports.Report) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rep.ID == "" {
		return errors.New("report id required")
	}
	if _, exists := r.byID[rep.ID]; exists {
		return storage.ErrConflict
	}
	r.byID[rep.ID] = rep
	return nil
}

func (r *reportRepo) GetByID(ctx context.Context, id string) (reports.Report, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rep, ok := r.byID[id]
	if !ok {
		return reports.Report{}, storage.ErrNotFound
	}
	return rep, nil
}

func (r *reportRepo) ListByPatient(ctx context.Context, patientID string, filter reports.ListFilter) ([]reports.Report, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	out := make([]reports.Report, 0)

	for _, rep := range r.byID {
		if rep.PatientID != patientID {
			continue
		}

		if len(filter.Types) > 0 {
			ok := false
			for _, t := range filter.Types {
				if rep.Type == t {
					ok = true
					break
				}
			}
			if !ok {
				continue
			}
		}

		// reported_at
		if filter.From != nil {
			if rep.ReportedAt.Before((*filter.From).Add(-1 * time.Nanosecond)) {
				continue
			}
		}
		if filter.To != nil {
			if rep.ReportedAt.After(*filter.To) {
				continue
			}
		}

		if q := strings.TrimSpace(filter.Query); q != "" {
			hay := strings.ToLower(rep.Title + " " + rep.Content)
			if !strings.Contains(hay, strings.ToLower(q)) {
				continue
			}
		}

		out = append(out, rep)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].ReportedAt.After(out[j].ReportedAt)
	})

	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
