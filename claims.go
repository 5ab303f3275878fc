package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenUse separates access tokens from refresh tokens.
type TokenUse string

const (
	TokenUseAccess  TokenUse = "access"
	TokenUseRefresh TokenUse = "refresh"
)

// AuthClaims is the read side of a validated token.
type AuthClaims interface {
	Subject() string
	UserID() string
	Email() string
	EmailVerified() bool
	Metadata() map[string]any
	Use() TokenUse
	TokenID() string
	Expires() time.Time
	IssuedAt() time.Time
}

// JWTClaims is the concrete implementation of AuthClaims
type JWTClaims struct {
	jwt.RegisteredClaims
	UID          string         `json:"uid,omitempty"`
	EmailAddress string         `json:"email,omitempty"`
	Confirmed    bool           `json:"email_verified,omitempty"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
	TokenUse     TokenUse       `json:"use,omitempty"`
}

var _ AuthClaims = (*JWTClaims)(nil)

// Subject returns the subject claim
func (c *JWTClaims) Subject() string {
	return c.RegisteredClaims.Subject
}

// UserID returns the user ID
func (c *JWTClaims) UserID() string {
	if c.UID != "" {
		return c.UID
	}
	return c.Subject()
}

func (c *JWTClaims) Email() string {
	return c.EmailAddress
}

func (c *JWTClaims) EmailVerified() bool {
	return c.Confirmed
}

func (c *JWTClaims) Metadata() map[string]any {
	return c.UserMetadata
}

// Use returns the token use, treating an unset value as access.
func (c *JWTClaims) Use() TokenUse {
	if c.TokenUse == "" {
		return TokenUseAccess
	}
	return c.TokenUse
}

func (c *JWTClaims) TokenID() string {
	return c.RegisteredClaims.ID
}

// Expires returns the expiration time
func (c *JWTClaims) Expires() time.Time {
	if c.RegisteredClaims.ExpiresAt != nil {
		return c.RegisteredClaims.ExpiresAt.Time
	}
	return time.Time{}
}

// IssuedAt returns the issued at time
func (c *JWTClaims) IssuedAt() time.Time {
	if c.RegisteredClaims.IssuedAt != nil {
		return c.RegisteredClaims.IssuedAt.Time
	}
	return time.Time{}
}

// SessionFromClaims rebuilds a session from validated access claims.
func SessionFromClaims(token string, claims AuthClaims) *Session {
	if claims == nil {
		return nil
	}

	session := &Session{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresAt:   claims.Expires(),
		User: SessionUser{
			ID:       claims.UserID(),
			Email:    claims.Email(),
			Metadata: cloneMetadata(claims.Metadata()),
		},
	}
	if claims.EmailVerified() {
		// tokens only say the email is confirmed, not when
		at := claims.IssuedAt()
		if at.IsZero() {
			at = time.Now()
		}
		session.User.EmailConfirmedAt = &at
	}
	return session
}
