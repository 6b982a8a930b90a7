package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Issuer is stamped on every token and required on verification.
const Issuer = "canvas-sync"

type ctxKey int

const subjectKey ctxKey = 1

// WithUser stores the token subject in the context
func WithUser(ctx context.Context, sub string) context.Context {
	return context.WithValue(ctx, subjectKey, sub)
}

// UserID extracts the token subject from the context, defaults to "anon"
func UserID(ctx context.Context) string {
	if sub, ok := ctx.Value(subjectKey).(string); ok && sub != "" {
		return sub
	}
	return "anon"
}

// JWT signs and verifies HS256 tokens guarding the /api routes.
type JWT struct{ secret []byte }

func New(secret string) *JWT { return &JWT{secret: []byte(secret)} }

// Verify checks signature, issuer and expiry and returns the subject
func (j *JWT) Verify(tok string) (string, error) {
	claims := jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(tok, &claims, func(*jwt.Token) (interface{}, error) {
		return j.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errors.New("no sub")
	}
	return claims.Subject, nil
}

// Sign issues a token for sub (a user or service name) valid for ttl
func (j *JWT) Sign(sub string, ttl time.Duration) (string, error) {
	if sub == "" {
		return "", errors.New("empty subject")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    Issuer,
		Subject:   sub,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
}
