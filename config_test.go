package auth_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	auth "github.com/goliatone/go-estate-auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestSettingsFromEnvDefaults(t *testing.T) {
	s, err := auth.SettingsFromEnv(envMap(map[string]string{
		"AUTH_SIGNING_KEY": "0123456789abcdef",
	}))
	require.NoError(t, err)

	assert.Equal(t, 1, s.GetTokenExpiration())
	assert.Equal(t, 720, s.GetRefreshTokenExpiration())
	assert.Equal(t, "Bearer", s.GetAuthScheme())
	assert.Equal(t, "user", s.GetContextKey())
	assert.Equal(t, []string{"estate:web"}, s.GetAudience())
	assert.Equal(t, auth.RetryPolicy{MaxAttempts: 3, Delay: time.Second}, s.RetryPolicy())
	assert.Equal(t, "sqlite", s.DatabaseDriver)
	assert.Empty(t, s.RedisAddr)
}

func TestSettingsFromEnvOverrides(t *testing.T) {
	s, err := auth.SettingsFromEnv(envMap(map[string]string{
		"AUTH_SIGNING_KEY":           "0123456789abcdef",
		"AUTH_AUDIENCE":              "estate:web, estate:mobile,",
		"PROFILE_RESOLVE_ATTEMPTS":   "5",
		"PROFILE_RESOLVE_DELAY":      "250ms",
		"PHONE_REGION":               "gb",
		"DATABASE_DRIVER":            "Postgres",
		"DATABASE_URL":               "postgres://estate@localhost/estate",
		"REDIS_ADDR":                 "localhost:6379",
		"REQUIRE_EMAIL_CONFIRMATION": "true",
		"LOG_LEVEL":                  " DEBUG ",
	}))
	require.NoError(t, err)

	assert.Equal(t, []string{"estate:web", "estate:mobile"}, s.Audience)
	assert.Equal(t, auth.RetryPolicy{MaxAttempts: 5, Delay: 250 * time.Millisecond}, s.RetryPolicy())
	assert.Equal(t, "GB", s.PhoneRegion)
	assert.Equal(t, "postgres", s.DatabaseDriver)
	assert.Equal(t, "localhost:6379", s.RedisAddr)
	assert.True(t, s.RequireEmailConfirmation)
	assert.Equal(t, "debug", s.LogLevel)
}

func TestSettingsFromEnvRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "missing signing key", env: map[string]string{}},
		{name: "short signing key", env: map[string]string{"AUTH_SIGNING_KEY": "short"}},
		{name: "not an integer", env: map[string]string{"AUTH_SIGNING_KEY": "0123456789abcdef", "AUTH_TOKEN_TTL_HOURS": "one"}},
		{name: "not a duration", env: map[string]string{"AUTH_SIGNING_KEY": "0123456789abcdef", "PROFILE_RESOLVE_DELAY": "soon"}},
		{name: "not a boolean", env: map[string]string{"AUTH_SIGNING_KEY": "0123456789abcdef", "REQUIRE_EMAIL_CONFIRMATION": "maybe"}},
		{name: "unknown driver", env: map[string]string{"AUTH_SIGNING_KEY": "0123456789abcdef", "DATABASE_DRIVER": "mysql"}},
		{name: "too many attempts", env: map[string]string{"AUTH_SIGNING_KEY": "0123456789abcdef", "PROFILE_RESOLVE_ATTEMPTS": "50"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := auth.SettingsFromEnv(envMap(tt.env))
			assert.Error(t, err)
		})
	}
}

func TestLoadSettingsFromDotenv(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(file, []byte("AUTH_SIGNING_KEY=dotenv-signing-key-01\nHTTP_ADDR=:9191\n"), 0o600))

	t.Setenv("HTTP_ADDR", ":7070")
	t.Cleanup(func() { _ = os.Unsetenv("AUTH_SIGNING_KEY") })

	s, err := auth.LoadSettings(file, filepath.Join(dir, "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, "dotenv-signing-key-01", s.SigningKey)
	assert.Equal(t, ":7070", s.HTTPAddr)
}

func TestSettingsWithSigningKey(t *testing.T) {
	s := auth.DefaultSettings()
	s.SigningKey = "current"
	prev := s.WithSigningKey("previous")

	assert.Equal(t, "current", s.GetSigningKey())
	assert.Equal(t, "previous", prev.GetSigningKey())
	assert.Equal(t, s.Issuer, prev.Issuer)
}
