package auth

import (
	"context"
	"time"
)

// Logger is the structured logging contract used by every component.
// Messages are constant strings; args are alternating key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// LoggerProvider hands out named loggers (e.g. "auth.identity_context").
type LoggerProvider interface {
	GetLogger(name string) Logger
}

// LoggerProviderFunc adapts a function to the LoggerProvider interface.
type LoggerProviderFunc func(name string) Logger

// GetLogger implements LoggerProvider.
func (f LoggerProviderFunc) GetLogger(name string) Logger {
	if f == nil {
		return nil
	}
	return f(name)
}

// AuthBackend is the hosted authentication service. Only the SessionStore
// talks to it on the client side.
type AuthBackend interface {
	SignInWithPassword(ctx context.Context, email, password string) (*Session, error)
	SignUp(ctx context.Context, email, password string, metadata map[string]any) (*SignUpResult, error)
	SignOut(ctx context.Context, session *Session) error
	Refresh(ctx context.Context, refreshToken string) (*Session, error)
}

// SignUpper creates new accounts. Both AuthBackend and SessionStore satisfy it.
type SignUpper interface {
	SignUp(ctx context.Context, email, password string, metadata map[string]any) (*SignUpResult, error)
}

// ProfileStore reads and writes persisted profiles.
// FindProfile returns an error carrying ErrProfileNotFound's text code when
// the row does not exist (yet).
type ProfileStore interface {
	FindProfile(ctx context.Context, id string) (*Profile, error)
	CreateProfile(ctx context.Context, profile *Profile) (*Profile, error)
}

// PropertyFilter narrows property listings.
type PropertyFilter struct {
	OwnerID string
	// Unverified restricts results to verified=false rows.
	Unverified bool
	// AwaitingReview restricts results to unverified rows with no decision yet.
	AwaitingReview bool
	Limit          int
}

// PropertyStore is the persistence boundary of the verification lifecycle.
// ApplyVerification must itself refuse non-admin actors.
type PropertyStore interface {
	FindProperty(ctx context.Context, id string) (*Property, error)
	ListProperties(ctx context.Context, filter PropertyFilter) ([]*Property, error)
	ApplyVerification(ctx context.Context, actor ActorRef, id string, patch VerificationPatch) (*Property, error)
}

// Config holds token and transport options.
type Config interface {
	GetSigningKey() string
	GetTokenExpiration() int
	GetRefreshTokenExpiration() int
	GetIssuer() string
	GetAudience() []string
	GetContextKey() string
	GetTokenLookup() string
	GetAuthScheme() string
}

// RevocationStore remembers signed-out token ids until they would have
// expired anyway.
type RevocationStore interface {
	Revoke(ctx context.Context, tokenID string, until time.Time) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}
