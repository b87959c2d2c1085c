package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"
	"time"

	"hospital-patient-access/internal/ports/storage"

	"github.com/google/uuid"
)

var (
	ErrInvalidInput = errors.New("invalid input")
)

type Service struct {
	repo    Repository
	now     func() time.Time
	entropy io.Reader
}

// NewService crea el generador/verificador. now nil => time.Now.
func NewService(repo Repository, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{
		repo:    repo,
		now:     now,
		entropy: rand.Reader,
	}
}

// Bind devuelve una copia que opera sobre otro repo (p.ej. el de una transacción).
func (s *Service) Bind(repo Repository) *Service {
	cp := *s
	cp.repo = repo
	return &cp
}

// Generate invalida los códigos vivos de la solicitud y emite uno nuevo.
// Rango 100000-999999: nunca empieza con 0.
func (s *Service) Generate(ctx context.Context, accessRequestID string) (Code, error) {
	accessRequestID = strings.TrimSpace(accessRequestID)
	if accessRequestID == "" {
		return Code{}, ErrInvalidInput
	}

	now := s.now()
	if err := s.repo.InvalidateUnused(ctx, accessRequestID, now); err != nil {
		return Code{}, fmt.Errorf("invalidate previous codes: %w", err)
	}

	digits, err := randomDigits(s.entropy)
	if err != nil {
		return Code{}, err
	}

	c := Code{
		ID:              uuid.NewString(),
		AccessRequestID: accessRequestID,
		Code:            digits,
		GeneratedAt:     now,
		ExpiresAt:       now.Add(CodeTTL),
		Attempts:        0,
		MaxAttempts:     MaxAttempts,
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return Code{}, err
	}
	return c, nil
}

// Verify valida el código contra la solicitud.
// El intento se cuenta acá (también en el exitoso); MarkUsed es un paso aparte.
// Un código que no coincide consume un intento del código vivo de la solicitud.
func (s *Service) Verify(ctx context.Context, accessRequestID, submitted string) (Result, error) {
	accessRequestID = strings.TrimSpace(accessRequestID)
	submitted = strings.TrimSpace(submitted)

	c, err := s.repo.FindLatestMatch(ctx, accessRequestID, submitted)
	if errors.Is(err, storage.ErrNotFound) {
		if err := s.chargeLiveCode(ctx, accessRequestID); err != nil {
			return Result{}, err
		}
		return invalid(ReasonInvalid), nil
	}
	if err != nil {
		return Result{}, err
	}

	now := s.now()
	switch {
	case c.IsUsed:
		return invalid(ReasonUsed), nil
	case !now.Before(c.ExpiresAt):
		return invalid(ReasonExpired), nil
	case c.Attempts >= c.MaxAttempts:
		return invalid(ReasonAttemptsExceeded), nil
	}

	c.Attempts++
	if err := s.repo.Update(ctx, c); err != nil {
		return Result{}, err
	}
	return Result{Valid: true}, nil
}

// MarkUsed es idempotente.
func (s *Service) MarkUsed(ctx context.Context, accessRequestID, code string) error {
	c, err := s.repo.FindLatestMatch(ctx, strings.TrimSpace(accessRequestID), strings.TrimSpace(code))
	if err != nil {
		return err
	}
	if c.IsUsed {
		return nil
	}
	now := s.now()
	c.IsUsed = true
	c.UsedAt = &now
	return s.repo.Update(ctx, c)
}

func (s *Service) chargeLiveCode(ctx context.Context, accessRequestID string) error {
	if accessRequestID == "" {
		return nil
	}
	live, err := s.repo.FindLatestUnused(ctx, accessRequestID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if live.Attempts >= live.MaxAttempts {
		return nil
	}
	live.Attempts++
	return s.repo.Update(ctx, live)
}

// randomDigits devuelve CodeLength dígitos sin cero a la izquierda.
func randomDigits(r io.Reader) (string, error) {
	lowest := new(big.Int).Exp(big.NewInt(10), big.NewInt(CodeLength-1), nil)
	span := new(big.Int).Mul(lowest, big.NewInt(9))
	n, err := rand.Int(r, span)
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return n.Add(n, lowest).String(), nil
}
