package auth

import (
	"errors"
	"fmt"
)

// ErrorKind classifies the login failures that cross the engine boundary.
// Infrastructure problems (store reads/writes, corrupt session records) are
// always recovered internally and never surface as one of these.
type ErrorKind string

const (
	KindAccountLocked      ErrorKind = "account_locked"
	KindInvalidCredentials ErrorKind = "invalid_credentials"
	KindUserInactive       ErrorKind = "user_inactive"
)

// Error is the typed login failure returned to the UI layer. The message for
// invalid credentials never distinguishes an unknown email from a wrong
// secret.
type Error struct {
	Kind              ErrorKind
	Message           string
	RemainingAttempts int // set for invalid credentials while unlocked
	RemainingMinutes  int // set while the identifier is locked out
}

func (e *Error) Error() string { return e.Message }

var (
	// ErrNoSession reports that no valid session record exists.
	ErrNoSession = errors.New("auth: no session")

	// ErrAccountNotFound is returned by UserDirectory lookups.
	ErrAccountNotFound = errors.New("auth: account not found")

	// ErrThrottled reports that the optional login rate limit rejected the
	// call before credentials were examined. Lockout counters are untouched.
	ErrThrottled = errors.New("auth: too many login requests")
)

func errLockedOut(minutes int) *Error {
	return &Error{
		Kind:             KindAccountLocked,
		Message:          fmt.Sprintf("account temporarily locked, try again in %d minutes", minutes),
		RemainingMinutes: minutes,
	}
}

func errNowLocked(minutes int) *Error {
	return &Error{
		Kind:             KindAccountLocked,
		Message:          fmt.Sprintf("too many failed attempts, account locked for %d minutes", minutes),
		RemainingMinutes: minutes,
	}
}

func errInvalidCredentials(remaining int) *Error {
	return &Error{
		Kind:              KindInvalidCredentials,
		Message:           fmt.Sprintf("invalid email or password, %d attempts remaining", remaining),
		RemainingAttempts: remaining,
	}
}

func errUserInactive() *Error {
	return &Error{
		Kind:    KindUserInactive,
		Message: "account is inactive, contact an administrator",
	}
}
