package api

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// streamTokenTTL bounds how long a stream URL stays usable.
const streamTokenTTL = time.Hour

// ErrInvalidStreamToken is returned when a stream token fails validation or
// names a different generation.
var ErrInvalidStreamToken = errors.New("api: invalid stream token")

// issueStreamToken signs a short-lived token scoped to one generation, so a
// stream URL grants access to exactly that job.
func issueStreamToken(secret []byte, generationID string) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   generationID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(streamTokenTTL)),
	})

	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("signing stream token: %w", err)
	}
	return signed, nil
}

// validateStreamToken checks signature, expiry, and that the token is bound
// to the requested generation.
func validateStreamToken(secret []byte, tokenString, generationID string) error {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return secret, nil
	})
	if err != nil || !token.Valid {
		return ErrInvalidStreamToken
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject != generationID {
		return ErrInvalidStreamToken
	}
	return nil
}
