package domain

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/mctier/lanlobby/internal/core"
)

const (
	MinLobbyNameLen = 4
	MaxLobbyNameLen = 32
	MinPasswordLen  = 8
	MaxPasswordLen  = 32
)

// ValidateRequired rejects strings that are empty after trimming.
// fieldName only feeds the error message.
func ValidateRequired(input, fieldName string) error {
	if strings.TrimSpace(input) == "" {
		return fmt.Errorf("%w: %s must not be empty or whitespace-only", core.ErrValidation, fieldName)
	}
	return nil
}

// ValidateLobbyName enforces: 4-32 runes, at least one alphanumeric,
// and only letters (CJK included), digits, spaces, underscores, hyphens.
func ValidateLobbyName(name string) error {
	trimmed := strings.TrimSpace(name)

	n := utf8.RuneCountInString(trimmed)
	if n < MinLobbyNameLen {
		return fmt.Errorf("%w: lobby name needs at least %d characters", core.ErrValidation, MinLobbyNameLen)
	}
	if n > MaxLobbyNameLen {
		return fmt.Errorf("%w: lobby name is limited to %d characters", core.ErrValidation, MaxLobbyNameLen)
	}

	hasAlnum := false
	for _, r := range trimmed {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			hasAlnum = true
		case r == '_' || r == '-' || unicode.IsSpace(r):
		default:
			return fmt.Errorf("%w: lobby name may only contain letters, digits, spaces, '_' and '-'", core.ErrValidation)
		}
	}
	if !hasAlnum {
		return fmt.Errorf("%w: lobby name needs at least one letter or digit", core.ErrValidation)
	}
	return nil
}

// ValidatePassword enforces: 8-32 characters with at least one letter and
// one digit. The password doubles as the overlay network secret, so the
// same string must satisfy both UIs and the daemon.
func ValidatePassword(password string) error {
	trimmed := strings.TrimSpace(password)

	if len(trimmed) < MinPasswordLen {
		return fmt.Errorf("%w: password needs at least %d characters", core.ErrValidation, MinPasswordLen)
	}
	if len(trimmed) > MaxPasswordLen {
		return fmt.Errorf("%w: password is limited to %d characters", core.ErrValidation, MaxPasswordLen)
	}

	hasLetter, hasDigit := false, false
	for _, r := range trimmed {
		if unicode.IsLetter(r) {
			hasLetter = true
		}
		if unicode.IsDigit(r) {
			hasDigit = true
		}
	}
	if !hasLetter {
		return fmt.Errorf("%w: password needs at least one letter", core.ErrValidation)
	}
	if !hasDigit {
		return fmt.Errorf("%w: password needs at least one digit", core.ErrValidation)
	}
	return nil
}
