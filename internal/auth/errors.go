package auth

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrBadCredentials   = errors.New("auth: bad credentials")
	ErrBlacklisted      = errors.New("auth: token revoked")
	ErrTokenExpired     = errors.New("auth: token expired")
	ErrInvalidToken     = errors.New("auth: invalid token")
	ErrUserInactive     = errors.New("auth: user inactive")
	ErrPermissionDenied = errors.New("auth: permission denied")
	ErrHashVerification = errors.New("auth: hash verification failed")
	ErrInvalidInput     = errors.New("auth: invalid input")
)

// DenialError names what was missing when a guard check failed.
// It unwraps to ErrPermissionDenied.
type DenialError struct {
	Element BusinessElement
	Action  Action
	Missing []Permission
	Reason  string
}

func (e *DenialError) Error() string {
	names := make([]string, 0, len(e.Missing))
	for _, p := range e.Missing {
		names = append(names, p.String())
	}
	msg := fmt.Sprintf("auth: permission denied: %s on %s", e.Action, e.Element)
	if len(names) > 0 {
		msg += " (missing " + strings.Join(names, " or ") + ")"
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *DenialError) Unwrap() error { return ErrPermissionDenied }

func deny(ac AccessContext, action Action, reason string, missing ...Permission) error {
	return &DenialError{Element: ac.Element, Action: action, Missing: missing, Reason: reason}
}
