package auth

import (
	"strings"
	"time"
)

// SessionEvent is the kind of change a Session Store subscriber is told about.
type SessionEvent string

const (
	EventInitialSession SessionEvent = "initial_session"
	EventSignedIn       SessionEvent = "signed_in"
	EventSignedOut      SessionEvent = "signed_out"
	EventTokenRefreshed SessionEvent = "token_refreshed"
	EventUserUpdated    SessionEvent = "user_updated"
)

// Signup metadata keys carried on the auth user.
const (
	MetadataFullName = "full_name"
	MetadataRole     = "role"
	MetadataPhone    = "phone"
)

// SessionUser is the auth backend's view of the signed-in subject.
type SessionUser struct {
	ID               string         `json:"id"`
	Email            string         `json:"email"`
	EmailConfirmedAt *time.Time     `json:"email_confirmed_at,omitempty"`
	Metadata         map[string]any `json:"user_metadata,omitempty"`
}

// EmailConfirmed reports whether the backend saw the email confirmed.
func (u SessionUser) EmailConfirmed() bool {
	return u.EmailConfirmedAt != nil && !u.EmailConfirmedAt.IsZero()
}

// MetadataString returns a trimmed string metadata value, or "".
func (u SessionUser) MetadataString(key string) string {
	return metadataString(u.Metadata, key)
}

// Session is the ephemeral credential bundle for one signed-in subject.
type Session struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token,omitempty"`
	TokenType    string      `json:"token_type,omitempty"`
	ExpiresAt    time.Time   `json:"expires_at"`
	User         SessionUser `json:"user"`
}

// GetUserID returns the subject id, empty for a nil session.
func (s *Session) GetUserID() string {
	if s == nil {
		return ""
	}
	return s.User.ID
}

// Expired reports whether the access token is past its expiry at now.
func (s *Session) Expired(now time.Time) bool {
	if s == nil {
		return true
	}
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Clone returns a deep copy so subscribers never share mutable state.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.User.EmailConfirmedAt != nil {
		at := *s.User.EmailConfirmedAt
		c.User.EmailConfirmedAt = &at
	}
	c.User.Metadata = cloneMetadata(s.User.Metadata)
	return &c
}

// SignUpResult is what a signup produced. Session is nil when the backend
// requires email confirmation first. User may be set even when SignUp
// returns an error, meaning the auth identity exists but a later step failed.
type SignUpResult struct {
	User    SessionUser `json:"user"`
	Session *Session    `json:"session,omitempty"`
}

func cloneMetadata(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func metadataString(md map[string]any, key string) string {
	if md == nil {
		return ""
	}
	v, ok := md[key].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(v)
}
