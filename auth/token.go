package auth

import (
	"fmt"
	"story-lab/errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "story-lab"

// CustomClaims defines the structure of the data stored inside the JWT.
type CustomClaims struct {
	UserID      string `json:"user_id" validate:"required,max=64"`
	DisplayName string `json:"display_name" validate:"required,max=32"`
	jwt.RegisteredClaims
}

// GenerateToken creates a signed JWT for a player.
func GenerateToken(secret []byte, userID, displayName string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &CustomClaims{
		UserID:      userID,
		DisplayName: displayName,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}
	// HS256 (HMAC with SHA256)
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ValidateToken checks signature, expiration and claims of a JWT string.
// Every failure wraps errors.ErrNotAuthenticated.
func ValidateToken(secret []byte, tokenString string) (*CustomClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(token *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(issuer))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrNotAuthenticated, err)
	}

	claims, ok := token.Claims.(*CustomClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%w: %w", errors.ErrNotAuthenticated, jwt.ErrSignatureInvalid)
	}
	if err := ValidateClaims(claims); err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrNotAuthenticated, err)
	}
	return claims, nil
}
