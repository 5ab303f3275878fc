package auth

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	goerrors "github.com/goliatone/go-errors"
	"github.com/joho/godotenv"
)

// Settings is the runtime configuration of the server. It implements Config.
type Settings struct {
	SigningKey         string
	PreviousSigningKey string
	TokenTTLHours      int
	RefreshTTLHours    int
	Issuer             string
	Audience           []string
	ContextKey         string
	TokenLookup        string
	AuthScheme         string

	ProfileAttempts int
	ProfileDelay    time.Duration
	PhoneRegion     string

	DatabaseDriver string
	DatabaseURL    string
	RedisAddr      string
	CacheTTL       time.Duration

	HTTPAddr string
	LogLevel string

	BcryptCost               int
	RequireEmailConfirmation bool
	MaxLoginAttempts         int
	LoginCooldown            time.Duration
	ProvisionDelay           time.Duration
}

var _ Config = (*Settings)(nil)

// DefaultSettings returns the settings used when nothing is configured.
func DefaultSettings() *Settings {
	return &Settings{
		TokenTTLHours:    1,
		RefreshTTLHours:  24 * 30,
		Issuer:           "go-estate-auth",
		Audience:         []string{"estate:web"},
		ContextKey:       "user",
		TokenLookup:      "header:Authorization,cookie:session",
		AuthScheme:       "Bearer",
		ProfileAttempts:  3,
		ProfileDelay:     time.Second,
		PhoneRegion:      "US",
		DatabaseDriver:   "sqlite",
		DatabaseURL:      "file:estate.db?cache=shared",
		CacheTTL:         5 * time.Minute,
		HTTPAddr:         ":8080",
		LogLevel:         "info",
		BcryptCost:       12,
		MaxLoginAttempts: 5,
		LoginCooldown:    24 * time.Hour,
	}
}

// LoadSettings loads the given dotenv files (".env" when none are given)
// without overriding variables already set, then reads the environment.
// Missing files are ignored.
func LoadSettings(files ...string) (*Settings, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to load env file").
				WithMetadata(map[string]any{"file": f})
		}
	}
	return SettingsFromEnv(os.LookupEnv)
}

// SettingsFromEnv builds settings from lookup on top of DefaultSettings.
func SettingsFromEnv(lookup func(string) (string, bool)) (*Settings, error) {
	s := DefaultSettings()
	env := envReader{lookup: lookup}

	s.SigningKey = env.str("AUTH_SIGNING_KEY", s.SigningKey)
	s.PreviousSigningKey = env.str("AUTH_PREVIOUS_SIGNING_KEY", s.PreviousSigningKey)
	s.TokenTTLHours = env.integer("AUTH_TOKEN_TTL_HOURS", s.TokenTTLHours)
	s.RefreshTTLHours = env.integer("AUTH_REFRESH_TTL_HOURS", s.RefreshTTLHours)
	s.Issuer = env.str("AUTH_ISSUER", s.Issuer)
	s.Audience = env.csv("AUTH_AUDIENCE", s.Audience)
	s.ContextKey = env.str("AUTH_CONTEXT_KEY", s.ContextKey)
	s.TokenLookup = env.str("AUTH_TOKEN_LOOKUP", s.TokenLookup)
	s.AuthScheme = env.str("AUTH_SCHEME", s.AuthScheme)

	s.ProfileAttempts = env.integer("PROFILE_RESOLVE_ATTEMPTS", s.ProfileAttempts)
	s.ProfileDelay = env.duration("PROFILE_RESOLVE_DELAY", s.ProfileDelay)
	s.PhoneRegion = strings.ToUpper(env.str("PHONE_REGION", s.PhoneRegion))

	s.DatabaseDriver = strings.ToLower(env.str("DATABASE_DRIVER", s.DatabaseDriver))
	s.DatabaseURL = env.str("DATABASE_URL", s.DatabaseURL)
	s.RedisAddr = env.str("REDIS_ADDR", s.RedisAddr)
	s.CacheTTL = env.duration("PROPERTY_CACHE_TTL", s.CacheTTL)

	s.HTTPAddr = env.str("HTTP_ADDR", s.HTTPAddr)
	s.LogLevel = strings.ToLower(env.str("LOG_LEVEL", s.LogLevel))

	s.BcryptCost = env.integer("BCRYPT_COST", s.BcryptCost)
	s.RequireEmailConfirmation = env.boolean("REQUIRE_EMAIL_CONFIRMATION", s.RequireEmailConfirmation)
	s.MaxLoginAttempts = env.integer("MAX_LOGIN_ATTEMPTS", s.MaxLoginAttempts)
	s.LoginCooldown = env.duration("LOGIN_COOLDOWN", s.LoginCooldown)
	s.ProvisionDelay = env.duration("PROFILE_PROVISION_DELAY", s.ProvisionDelay)

	if len(env.errs) > 0 {
		return nil, goerrors.NewValidationFromMap("invalid environment", env.errs)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks the settings for values the server cannot run with.
func (s *Settings) Validate() error {
	err := validation.ValidateStruct(s,
		validation.Field(&s.SigningKey, validation.Required, validation.Length(16, 0)),
		validation.Field(&s.TokenTTLHours, validation.Required, validation.Min(1)),
		validation.Field(&s.RefreshTTLHours, validation.Required, validation.Min(1)),
		validation.Field(&s.ProfileAttempts, validation.Required, validation.Min(1), validation.Max(10)),
		validation.Field(&s.DatabaseDriver, validation.Required, validation.In("sqlite", "postgres")),
		validation.Field(&s.DatabaseURL, validation.Required),
		validation.Field(&s.HTTPAddr, validation.Required),
		validation.Field(&s.MaxLoginAttempts, validation.Min(0)),
	)
	if err != nil {
		return goerrors.FromOzzoValidation(err, "invalid settings")
	}
	return nil
}

// RetryPolicy returns the profile resolver schedule.
func (s *Settings) RetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: s.ProfileAttempts,
		Delay:       s.ProfileDelay,
	}
}

func (s *Settings) GetSigningKey() string          { return s.SigningKey }
func (s *Settings) GetTokenExpiration() int        { return s.TokenTTLHours }
func (s *Settings) GetRefreshTokenExpiration() int { return s.RefreshTTLHours }
func (s *Settings) GetIssuer() string              { return s.Issuer }
func (s *Settings) GetAudience() []string          { return s.Audience }
func (s *Settings) GetContextKey() string          { return s.ContextKey }
func (s *Settings) GetTokenLookup() string         { return s.TokenLookup }
func (s *Settings) GetAuthScheme() string          { return s.AuthScheme }

// WithSigningKey returns a copy of the settings signing with key, e.g. to
// validate tokens minted before a key rotation.
func (s *Settings) WithSigningKey(key string) *Settings {
	c := *s
	c.SigningKey = key
	return &c
}

type envReader struct {
	lookup func(string) (string, bool)
	errs   map[string]string
}

func (e *envReader) raw(key string) (string, bool) {
	v, ok := e.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (e *envReader) fail(key, msg string) {
	if e.errs == nil {
		e.errs = map[string]string{}
	}
	e.errs[key] = msg
}

func (e *envReader) str(key, def string) string {
	if v, ok := e.raw(key); ok {
		return v
	}
	return def
}

func (e *envReader) integer(key string, def int) int {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, "must be an integer")
		return def
	}
	return n
}

func (e *envReader) boolean(key string, def bool) bool {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, "must be a boolean")
		return def
	}
	return b
}

func (e *envReader) duration(key string, def time.Duration) time.Duration {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, "must be a duration such as 1s or 5m")
		return def
	}
	return d
}

func (e *envReader) csv(key string, def []string) []string {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
