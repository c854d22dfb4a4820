package domain

import (
	"strings"

	"github.com/google/uuid"
)

// User is the owner of tasks. Either contact method may be absent; a missing
// method means that channel is skipped for the user.
type User struct {
	ID    uuid.UUID `json:"id"`
	Token string    `json:"-"` // push target, never exposed
	Email string    `json:"email,omitempty"`
}

// HasPushTarget reports whether the user registered a push token.
func (u *User) HasPushTarget() bool {
	return strings.TrimSpace(u.Token) != ""
}

// HasEmail reports whether the user has an email address on file.
func (u *User) HasEmail() bool {
	return strings.TrimSpace(u.Email) != ""
}

// ValidateEmail performs a basic shape check of the user's email address.
// An empty address is valid, since email is optional.
func (u *User) ValidateEmail() error {
	if !u.HasEmail() {
		return nil
	}
	if !validateEmailFormat(u.Email) {
		return ErrInvalidEmail
	}
	return nil
}

// validateEmailFormat requires a non-empty local part and a dotted domain.
func validateEmailFormat(email string) bool {
	at := strings.IndexByte(email, '@')
	if at <= 0 || at == len(email)-1 {
		return false
	}

	domainPart := email[at+1:]
	if len(domainPart) < 3 {
		return false
	}

	dot := strings.IndexByte(domainPart, '.')
	return dot > 0 && dot < len(domainPart)-1
}
