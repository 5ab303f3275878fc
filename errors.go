package auth

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// Text codes for every error the package surfaces. Callers match on these
// through HasTextCode since sentinels are cloned before decoration.
const (
	TextCodeInvalidCredentials     = "INVALID_CREDENTIALS"
	TextCodeEmailAlreadyRegistered = "EMAIL_ALREADY_REGISTERED"
	TextCodeWeakPassword           = "WEAK_PASSWORD"
	TextCodeNetwork                = "NETWORK_ERROR"
	TextCodeAuthBackend            = "AUTH_BACKEND_ERROR"

	TextCodeProfileNotFound    = "PROFILE_NOT_FOUND"
	TextCodeProfileWriteFailed = "PROFILE_WRITE_FAILED"
	TextCodeProfileIncomplete  = "PROFILE_INCOMPLETE"

	TextCodePropertyNotFound    = "PROPERTY_NOT_FOUND"
	TextCodeForbidden           = "FORBIDDEN"
	TextCodeVerificationBackend = "VERIFICATION_BACKEND_ERROR"
	TextCodeInvalidDecision     = "INVALID_VERIFICATION_DECISION"

	TextCodeInvalidSignup     = "INVALID_SIGNUP"
	TextCodeTooManyAttempts   = "TOO_MANY_LOGIN_ATTEMPTS"
	TextCodeTokenExpired      = "TOKEN_EXPIRED"
	TextCodeTokenMalformed    = "TOKEN_MALFORMED"
	TextCodeTokenRevoked      = "TOKEN_REVOKED"
	TextCodeSessionRequired   = "SESSION_REQUIRED"
	TextCodeEmailNotConfirmed = "EMAIL_NOT_CONFIRMED"
	TextCodeAccountNotFound   = "ACCOUNT_NOT_FOUND"
)

// Authentication errors. This is the closed set login and signup translate into.
var (
	ErrInvalidCredentials = goerrors.New("invalid email or password", goerrors.CategoryAuth).
				WithTextCode(TextCodeInvalidCredentials).
				WithCode(goerrors.CodeUnauthorized)

	ErrEmailAlreadyRegistered = goerrors.New("email is already registered", goerrors.CategoryConflict).
					WithTextCode(TextCodeEmailAlreadyRegistered).
					WithCode(goerrors.CodeConflict)

	ErrWeakPassword = goerrors.New("password does not meet the strength requirements", goerrors.CategoryValidation).
			WithTextCode(TextCodeWeakPassword).
			WithCode(goerrors.CodeBadRequest)

	ErrNetwork = goerrors.New("authentication service unreachable", goerrors.CategoryExternal).
			WithTextCode(TextCodeNetwork).
			WithCode(http.StatusServiceUnavailable)

	ErrAuthBackend = goerrors.New("authentication service error", goerrors.CategoryExternal).
			WithTextCode(TextCodeAuthBackend).
			WithCode(http.StatusServiceUnavailable)
)

// Profile errors. ErrProfileNotFound never reaches users, the resolver
// falls back instead.
var (
	ErrProfileNotFound = goerrors.New("profile not found", goerrors.CategoryNotFound).
				WithTextCode(TextCodeProfileNotFound).
				WithCode(goerrors.CodeNotFound)

	ErrProfileWriteFailed = goerrors.New("profile write failed", goerrors.CategoryInternal).
				WithTextCode(TextCodeProfileWriteFailed).
				WithCode(goerrors.CodeInternal)

	// ErrProfileIncomplete means the account exists but its profile could
	// not be created, not even by the compensating write.
	ErrProfileIncomplete = goerrors.New("account created but profile setup is incomplete", goerrors.CategoryOperation).
				WithTextCode(TextCodeProfileIncomplete).
				WithCode(goerrors.CodeInternal)
)

// Verification errors.
var (
	ErrPropertyNotFound = goerrors.New("property not found", goerrors.CategoryNotFound).
				WithTextCode(TextCodePropertyNotFound).
				WithCode(goerrors.CodeNotFound)

	ErrForbidden = goerrors.New("actor is not allowed to perform this action", goerrors.CategoryAuthz).
			WithTextCode(TextCodeForbidden).
			WithCode(goerrors.CodeForbidden)

	ErrVerificationBackend = goerrors.New("verification update failed", goerrors.CategoryExternal).
				WithTextCode(TextCodeVerificationBackend).
				WithCode(http.StatusServiceUnavailable)

	ErrInvalidDecision = goerrors.New("unknown verification decision", goerrors.CategoryValidation).
				WithTextCode(TextCodeInvalidDecision).
				WithCode(goerrors.CodeBadRequest)
)

// Token and session errors used by the backend and the HTTP layer.
var (
	ErrTooManyLoginAttempts = goerrors.New("too many login attempts", goerrors.CategoryRateLimit).
				WithTextCode(TextCodeTooManyAttempts).
				WithCode(goerrors.CodeTooManyRequests)

	ErrTokenExpired = goerrors.New("token expired", goerrors.CategoryAuth).
			WithTextCode(TextCodeTokenExpired).
			WithCode(goerrors.CodeUnauthorized)

	ErrTokenMalformed = goerrors.New("token malformed", goerrors.CategoryAuth).
				WithTextCode(TextCodeTokenMalformed).
				WithCode(goerrors.CodeUnauthorized)

	ErrTokenRevoked = goerrors.New("token revoked", goerrors.CategoryAuth).
			WithTextCode(TextCodeTokenRevoked).
			WithCode(goerrors.CodeUnauthorized)

	ErrSessionRequired = goerrors.New("no active session", goerrors.CategoryAuth).
				WithTextCode(TextCodeSessionRequired).
				WithCode(goerrors.CodeUnauthorized)

	ErrEmailNotConfirmed = goerrors.New("email address not confirmed", goerrors.CategoryAuth).
				WithTextCode(TextCodeEmailNotConfirmed).
				WithCode(goerrors.CodeUnauthorized)

	ErrAccountNotFound = goerrors.New("account not found", goerrors.CategoryNotFound).
				WithTextCode(TextCodeAccountNotFound).
				WithCode(goerrors.CodeNotFound)
)

// NewError clones a sentinel, attaches the source error and merges metadata.
// Sentinels are shared values and must never be decorated in place.
func NewError(sentinel *goerrors.Error, source error, metadata ...map[string]any) *goerrors.Error {
	err := sentinel.Clone()
	if source != nil {
		err.Source = source
	}
	if len(metadata) > 0 {
		err = err.WithMetadata(metadata...)
	}
	return err
}

// HasTextCode reports whether err, or any go-errors value in its chain,
// carries the given text code.
func HasTextCode(err error, code string) bool {
	for err != nil {
		var rich *goerrors.Error
		if !goerrors.As(err, &rich) {
			return false
		}
		if rich.TextCode == code {
			return true
		}
		err = rich.Source
	}
	return false
}

// TextCode returns the text code of the first go-errors value in err's chain.
func TextCode(err error) string {
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		return rich.TextCode
	}
	return ""
}

// IsForbidden reports a verification authorization failure.
func IsForbidden(err error) bool {
	return HasTextCode(err, TextCodeForbidden)
}

// IsProfileNotFound reports a missing profile row in any of the shapes
// stores use for it.
func IsProfileNotFound(err error) bool {
	if err == nil {
		return false
	}
	if HasTextCode(err, TextCodeProfileNotFound) {
		return true
	}
	return errors.Is(err, sql.ErrNoRows)
}

// IsAccountNotFound reports a missing credential record.
func IsAccountNotFound(err error) bool {
	if err == nil {
		return false
	}
	return HasTextCode(err, TextCodeAccountNotFound) || errors.Is(err, sql.ErrNoRows)
}

// IsPropertyNotFound reports a missing property row.
func IsPropertyNotFound(err error) bool {
	if err == nil {
		return false
	}
	return HasTextCode(err, TextCodePropertyNotFound) || errors.Is(err, sql.ErrNoRows)
}

var authTextCodes = map[string]struct{}{
	TextCodeInvalidCredentials:     {},
	TextCodeEmailAlreadyRegistered: {},
	TextCodeWeakPassword:           {},
	TextCodeNetwork:                {},
	TextCodeAuthBackend:            {},
}

// TranslateAuthError maps whatever the authentication backend returned into
// the closed set of authentication errors. Known text codes pass through,
// transport failures become ErrNetwork, well known backend messages are
// recognized, and everything else becomes ErrAuthBackend.
func TranslateAuthError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		if _, ok := authTextCodes[rich.TextCode]; ok {
			return rich
		}
		switch rich.TextCode {
		case TextCodeTooManyAttempts:
			return NewError(ErrInvalidCredentials, err, map[string]any{"reason": "too_many_attempts"})
		case TextCodeEmailNotConfirmed:
			return NewError(ErrInvalidCredentials, err, map[string]any{"reason": "email_not_confirmed"})
		}
	}

	if isNetworkError(err) {
		return NewError(ErrNetwork, err)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "invalid login credentials", "invalid credentials", "invalid email or password"):
		return NewError(ErrInvalidCredentials, err)
	case containsAny(msg, "already registered", "already exists", "duplicate key", "unique constraint"):
		return NewError(ErrEmailAlreadyRegistered, err)
	case containsAny(msg, "password should be at least", "weak password", "password is too short"):
		return NewError(ErrWeakPassword, err)
	}

	return NewError(ErrAuthBackend, err)
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return containsAny(msg, "connection refused", "no such host", "failed to fetch", "network is unreachable")
}

func containsAny(msg string, fragments ...string) bool {
	for _, f := range fragments {
		if strings.Contains(msg, f) {
			return true
		}
	}
	return false
}

var userMessages = map[string]string{
	TextCodeInvalidCredentials:     "Invalid email or password.",
	TextCodeEmailAlreadyRegistered: "An account with this email already exists.",
	TextCodeWeakPassword:           "Password must be at least 6 characters long.",
	TextCodeNetwork:                "Unable to reach the server. Check your connection and try again.",
	TextCodeAuthBackend:            "Something went wrong on our side. Please try again.",
	TextCodeProfileIncomplete:      "Your account was created but your profile setup is incomplete. Please contact support.",
	TextCodeForbidden:              "You do not have permission to perform this action.",
	TextCodePropertyNotFound:       "This property no longer exists.",
	TextCodeVerificationBackend:    "The verification status could not be updated. Please try again.",
	TextCodeInvalidSignup:          "Please check the highlighted fields.",
}

// UserMessage returns the actionable message shown to end users for err.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	if msg, ok := userMessages[TextCode(err)]; ok {
		return msg
	}
	return "Something went wrong. Please try again."
}
