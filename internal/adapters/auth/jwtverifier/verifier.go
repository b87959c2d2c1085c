package jwtverifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"hospital-patient-access/internal/ports/auth"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrTokenEmpty    = errors.New("token is empty")
	ErrNotConfigured = errors.New("jwt verifier not configured")
	ErrInvalidClaims = errors.New("token claims missing subject or role")
)

type tokenClaims struct {
	Email string    `json:"email,omitempty"`
	Role  auth.Role `json:"role"`
	jwt.RegisteredClaims
}

// Verifier implementa auth.AuthVerifier con tokens HS256 firmados por el proveedor de identidad.
type Verifier struct {
	secret []byte
	issuer string
	now    func() time.Time
}

func New(secret, issuer string) *Verifier {
	return &Verifier{secret: []byte(secret), issuer: issuer, now: time.Now}
}

func (v *Verifier) Verify(ctx context.Context, token string) (auth.Claims, error) {
	if v == nil || len(v.secret) == 0 {
		return auth.Claims{}, ErrNotConfigured
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return auth.Claims{}, ErrTokenEmpty
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &tokenClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return auth.Claims{}, fmt.Errorf("parse token: %w", err)
	}
	if !parsed.Valid {
		return auth.Claims{}, errors.New("invalid token")
	}

	role := auth.Role(strings.ToLower(strings.TrimSpace(string(claims.Role))))
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" || !role.Valid() {
		return auth.Claims{}, ErrInvalidClaims
	}

	return auth.Claims{
		UserID: subject,
		Email:  claims.Email,
		Role:   role,
	}, nil
}

// Issue firma un token para c. Lo usan los tests y el comando de desarrollo.
func (v *Verifier) Issue(c auth.Claims, ttl time.Duration) (string, error) {
	if v == nil || len(v.secret) == 0 {
		return "", ErrNotConfigured
	}
	now := v.now()
	claims := tokenClaims{
		Email: c.Email,
		Role:  c.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   c.UserID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
