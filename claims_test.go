package auth_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	auth "github.com/goliatone/go-estate-auth"
	"github.com/stretchr/testify/assert"
)

func TestJWTClaims_UserID(t *testing.T) {
	claims := &auth.JWTClaims{RegisteredClaims: jwt.RegisteredClaims{Subject: "sub"}}
	assert.Equal(t, "sub", claims.UserID())

	claims.UID = "uid"
	assert.Equal(t, "uid", claims.UserID())
	assert.Equal(t, "sub", claims.Subject())
}

func TestJWTClaims_Use(t *testing.T) {
	assert.Equal(t, auth.TokenUseAccess, (&auth.JWTClaims{}).Use())
	assert.Equal(t, auth.TokenUseRefresh, (&auth.JWTClaims{TokenUse: auth.TokenUseRefresh}).Use())
}

func TestJWTClaims_Times(t *testing.T) {
	claims := &auth.JWTClaims{}
	assert.True(t, claims.Expires().IsZero())
	assert.True(t, claims.IssuedAt().IsZero())

	now := time.Now().Truncate(time.Second)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(time.Hour))
	claims.RegisteredClaims.IssuedAt = jwt.NewNumericDate(now)
	assert.Equal(t, now.Add(time.Hour), claims.Expires())
	assert.Equal(t, now, claims.IssuedAt())
}

func TestSessionFromClaims(t *testing.T) {
	assert.Nil(t, auth.SessionFromClaims("token", nil))

	now := time.Now().Truncate(time.Second)
	claims := &auth.JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "subject-1",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
		EmailAddress: "jane@example.com",
		Confirmed:    true,
		UserMetadata: map[string]any{auth.MetadataRole: "broker"},
	}

	session := auth.SessionFromClaims("token", claims)
	assert.Equal(t, "token", session.AccessToken)
	assert.Equal(t, "subject-1", session.GetUserID())
	assert.Equal(t, "jane@example.com", session.User.Email)
	assert.True(t, session.User.EmailConfirmed())
	assert.Equal(t, now.Add(time.Hour), session.ExpiresAt)
	assert.Equal(t, "broker", session.User.MetadataString(auth.MetadataRole))

	session.User.Metadata[auth.MetadataRole] = "admin"
	assert.Equal(t, "broker", claims.Metadata()[auth.MetadataRole])

	claims.Confirmed = false
	assert.False(t, auth.SessionFromClaims("", claims).User.EmailConfirmed())
}
