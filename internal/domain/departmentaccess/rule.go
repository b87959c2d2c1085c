package departmentaccess

import (
	"context"
	"errors"
	"strings"

	"hospital-patient-access/internal/domain/directory"
)

// Departments resuelve el departamento del médico y el principal del paciente.
type Departments interface {
	Doctor(ctx context.Context, id string) (directory.Doctor, error)
	Patient(ctx context.Context, id string) (directory.Patient, error)
}

// Rule es la regla de informes: mismo departamento o derivación al departamento del médico.
// Admins no pasan por acá; el bypass lo resuelve quien la llama.
type Rule struct {
	dir       Departments
	referrals ReferralRepository
}

func NewRule(dir Departments, referrals ReferralRepository) *Rule {
	return &Rule{dir: dir, referrals: referrals}
}

// CanAccessPatientReports solo lee. Médico o paciente desconocido => false sin error.
func (r *Rule) CanAccessPatientReports(ctx context.Context, doctorID, patientID string) (bool, error) {
	doctorID = strings.TrimSpace(doctorID)
	patientID = strings.TrimSpace(patientID)
	if doctorID == "" || patientID == "" {
		return false, nil
	}

	doc, err := r.dir.Doctor(ctx, doctorID)
	if err != nil {
		return false, notFoundAsFalse(err)
	}
	if doc.DepartmentID == "" {
		return false, nil
	}

	pat, err := r.dir.Patient(ctx, patientID)
	if err != nil {
		return false, notFoundAsFalse(err)
	}
	if pat.PrimaryDepartmentID == doc.DepartmentID {
		return true, nil
	}

	return r.referrals.Exists(ctx, patientID, doc.DepartmentID)
}

func notFoundAsFalse(err error) error {
	if errors.Is(err, directory.ErrNotFound) {
		return nil
	}
	return err
}
