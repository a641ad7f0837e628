package auth

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ValidateClaims rejects identities the game cannot display.
func ValidateClaims(claims *CustomClaims) error {
	claims.DisplayName = strings.TrimSpace(claims.DisplayName)
	return validate.Struct(claims)
}
