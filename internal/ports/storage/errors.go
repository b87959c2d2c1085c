package storage

import "errors"

// Errores compartidos entre los repos de dominio y sus adapters (memory/postgres).
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)
