package backend

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-errors"
	auth "github.com/goliatone/go-estate-auth"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
)

// AccountStore is the credential storage the service authenticates against.
type AccountStore interface {
	FindAccountByEmail(ctx context.Context, email string) (*auth.Account, error)
	FindAccount(ctx context.Context, id string) (*auth.Account, error)
	CreateAccount(ctx context.Context, account *auth.Account) (*auth.Account, error)
	ConfirmEmail(ctx context.Context, id uuid.UUID) error
	TrackAttemptedLogin(ctx context.Context, account *auth.Account) error
	TrackSuccessfulLogin(ctx context.Context, account *auth.Account) error
}

// ProvisionFunc creates the profile row of a newly registered account.
type ProvisionFunc func(ctx context.Context, profile *auth.Profile) error

// Option configures the Service.
type Option func(*Service)

// WithMaxLoginAttempts sets how many failed logins are allowed inside the
// cool-down window. Zero disables throttling.
func WithMaxLoginAttempts(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.maxAttempts = n
		}
	}
}

// WithLoginCooldown sets the window after which failed attempts are forgotten.
func WithLoginCooldown(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.cooldown = d
		}
	}
}

// WithBcryptCost sets the cost used for new password hashes.
func WithBcryptCost(cost int) Option {
	return func(s *Service) {
		s.bcryptCost = cost
	}
}

// WithHashedIDs derives account ids from the email instead of random uuids.
func WithHashedIDs(enabled bool) Option {
	return func(s *Service) {
		s.hashedIDs = enabled
	}
}

// WithEmailConfirmation makes new accounts unconfirmed. Signups then return
// no session and logins fail until the email is confirmed.
func WithEmailConfirmation(required bool) Option {
	return func(s *Service) {
		s.requireConfirmation = required
	}
}

// WithRevocationStore sets where signed-out token ids are kept.
func WithRevocationStore(store auth.RevocationStore) Option {
	return func(s *Service) {
		if store != nil {
			s.revocations = store
		}
	}
}

// WithProvisionDelay provisions profiles in the background after d, which
// reproduces the window where a session exists before its profile row.
func WithProvisionDelay(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.provisionDelay = d
		}
	}
}

// WithProvisioner replaces the profile provisioning step.
func WithProvisioner(fn ProvisionFunc) Option {
	return func(s *Service) {
		if fn != nil {
			s.provision = fn
		}
	}
}

// WithPhoneRegion sets the region used to normalize signup phone numbers.
func WithPhoneRegion(region string) Option {
	return func(s *Service) {
		if region = strings.ToUpper(strings.TrimSpace(region)); region != "" {
			s.region = region
		}
	}
}

// WithClock injects the clock used for cool-downs and confirmation stamps.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.now = clock
		}
	}
}

func WithLogger(logger auth.Logger) Option {
	return func(s *Service) {
		s.provider, s.logger = auth.ResolveLogger("backend.auth", s.provider, logger)
	}
}

func WithLoggerProvider(provider auth.LoggerProvider) Option {
	return func(s *Service) {
		s.provider, s.logger = auth.ResolveLogger("backend.auth", provider, s.logger)
	}
}

// Service is the local authentication backend: password accounts, signed
// session tokens and profile provisioning on signup.
type Service struct {
	accounts AccountStore
	profiles auth.ProfileStore
	tokens   *auth.TokenService

	revocations         auth.RevocationStore
	provision           ProvisionFunc
	provisionDelay      time.Duration
	maxAttempts         int
	cooldown            time.Duration
	bcryptCost          int
	hashedIDs           bool
	requireConfirmation bool
	region              string
	now                 func() time.Time

	logger   auth.Logger
	provider auth.LoggerProvider

	wg sync.WaitGroup
}

var _ auth.AuthBackend = (*Service)(nil)

// New returns a Service storing credentials in accounts and provisioning
// profiles into profiles.
func New(accounts AccountStore, profiles auth.ProfileStore, tokens *auth.TokenService, opts ...Option) *Service {
	provider, logger := auth.ResolveLogger("backend.auth", nil, nil)
	s := &Service{
		accounts:    accounts,
		profiles:    profiles,
		tokens:      tokens,
		revocations: NewMemoryRevocationStore(),
		maxAttempts: 5,
		cooldown:    24 * time.Hour,
		region:      "US",
		now:         time.Now,
		logger:      logger,
		provider:    provider,
	}
	s.provision = s.createProfile

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// SignInWithPassword verifies the credentials and opens a session.
func (s *Service) SignInWithPassword(ctx context.Context, email, password string) (*auth.Session, error) {
	account, err := s.accounts.FindAccountByEmail(ctx, email)
	if err != nil {
		if auth.IsAccountNotFound(err) {
			return nil, auth.NewError(auth.ErrInvalidCredentials, nil)
		}
		return nil, auth.NewError(auth.ErrAuthBackend, err)
	}

	if account.LoginAttemptAt != nil && s.now().Sub(*account.LoginAttemptAt) >= s.cooldown {
		account.LoginAttempts = 0
	}

	if s.maxAttempts > 0 && account.LoginAttempts >= s.maxAttempts {
		s.logger.Warn("login throttled", "account", account.ID, "attempts", account.LoginAttempts)
		return nil, auth.NewError(auth.ErrTooManyLoginAttempts, nil, map[string]any{
			"attempts": account.LoginAttempts,
		})
	}

	if err := auth.ComparePasswordAndHash(password, account.PasswordHash); err != nil {
		if err2 := s.accounts.TrackAttemptedLogin(ctx, account); err2 != nil {
			return nil, errors.Wrap(err2, errors.CategoryInternal, "failed to track login attempt")
		}
		return nil, auth.NewError(auth.ErrInvalidCredentials, nil)
	}

	if s.requireConfirmation && account.EmailConfirmedAt == nil {
		return nil, auth.NewError(auth.ErrEmailNotConfirmed, nil, map[string]any{"account": account.ID.String()})
	}

	if err := s.accounts.TrackSuccessfulLogin(ctx, account); err != nil {
		s.logger.Error("failed to track successful login", "account", account.ID, "error", err)
	}

	return s.tokens.Issue(sessionUser(account))
}

// SignUp registers a new account and provisions its profile. When
// provisioning fails synchronously the result still carries the new user,
// and its session when no confirmation is required, next to the error so
// callers can compensate.
func (s *Service) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*auth.SignUpResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if len(password) < auth.MinPasswordLength {
		return nil, auth.NewError(auth.ErrWeakPassword, nil, map[string]any{"min_length": auth.MinPasswordLength})
	}

	if _, err := s.accounts.FindAccountByEmail(ctx, email); err == nil {
		return nil, auth.NewError(auth.ErrEmailAlreadyRegistered, nil)
	} else if !auth.IsAccountNotFound(err) {
		return nil, auth.NewError(auth.ErrAuthBackend, err)
	}

	hash, err := auth.HashPasswordWithCost(password, s.bcryptCost)
	if err != nil {
		return nil, err
	}

	account := &auth.Account{
		Email:        email,
		PasswordHash: hash,
		Metadata:     metadata,
	}
	if s.hashedIDs {
		if id, err := hashid.NewUUID(email); err == nil {
			account.ID = id
		}
	}
	if !s.requireConfirmation {
		now := s.now()
		account.EmailConfirmedAt = &now
	}

	account, err = s.accounts.CreateAccount(ctx, account)
	if err != nil {
		return nil, auth.TranslateAuthError(err)
	}

	result := &auth.SignUpResult{User: sessionUser(account)}

	if !s.requireConfirmation {
		session, err := s.tokens.Issue(result.User)
		if err != nil {
			return result, auth.NewError(auth.ErrAuthBackend, err)
		}
		result.Session = session
	}

	profile := s.profileFor(account)
	if s.provisionDelay > 0 {
		s.provisionLater(context.WithoutCancel(ctx), profile)
		return result, nil
	}

	if err := s.provision(ctx, profile); err != nil {
		s.logger.Error("profile provisioning failed", "account", account.ID, "error", err)
		return result, auth.NewError(auth.ErrAuthBackend, err, map[string]any{
			"reason":  "profile_provisioning",
			"account": account.ID.String(),
		})
	}
	return result, nil
}

// SignOut revokes both tokens of session. A nil session is a no-op.
func (s *Service) SignOut(ctx context.Context, session *auth.Session) error {
	if session == nil {
		return nil
	}

	for _, pair := range []struct {
		token string
		use   auth.TokenUse
	}{
		{session.AccessToken, auth.TokenUseAccess},
		{session.RefreshToken, auth.TokenUseRefresh},
	} {
		if pair.token == "" {
			continue
		}
		claims, err := s.tokens.ValidateUse(pair.token, pair.use)
		if err != nil {
			// expired or foreign tokens cannot be used anyway
			continue
		}
		if err := s.revocations.Revoke(ctx, claims.TokenID(), claims.Expires()); err != nil {
			return auth.NewError(auth.ErrAuthBackend, err)
		}
	}
	return nil
}

// Refresh exchanges a refresh token for a new session. The presented
// refresh token is revoked so it cannot be replayed.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*auth.Session, error) {
	claims, err := s.tokens.ValidateUse(refreshToken, auth.TokenUseRefresh)
	if err != nil {
		return nil, err
	}

	revoked, err := s.revocations.IsRevoked(ctx, claims.TokenID())
	if err != nil {
		return nil, auth.NewError(auth.ErrAuthBackend, err)
	}
	if revoked {
		return nil, auth.NewError(auth.ErrTokenRevoked, nil)
	}

	account, err := s.accounts.FindAccount(ctx, claims.UserID())
	if err != nil {
		if auth.IsAccountNotFound(err) {
			return nil, auth.NewError(auth.ErrSessionRequired, err)
		}
		return nil, auth.NewError(auth.ErrAuthBackend, err)
	}

	if err := s.revocations.Revoke(ctx, claims.TokenID(), claims.Expires()); err != nil {
		return nil, auth.NewError(auth.ErrAuthBackend, err)
	}
	return s.tokens.Issue(sessionUser(account))
}

// ConfirmEmail marks the account's email as confirmed.
func (s *Service) ConfirmEmail(ctx context.Context, userID string) error {
	id, err := uuid.Parse(userID)
	if err != nil {
		return auth.NewError(auth.ErrAccountNotFound, err)
	}
	if err := s.accounts.ConfirmEmail(ctx, id); err != nil {
		return auth.NewError(auth.ErrAuthBackend, err)
	}
	return nil
}

// Validator returns a token validator that also rejects revoked tokens.
func (s *Service) Validator() auth.TokenValidator {
	return s.validatorFor(s.tokens)
}

// ValidatorFor returns a revocation-aware validator over tokens, e.g. one
// signed with a previous key.
func (s *Service) ValidatorFor(tokens *auth.TokenService) auth.TokenValidator {
	return s.validatorFor(tokens)
}

func (s *Service) validatorFor(tokens *auth.TokenService) auth.TokenValidator {
	return auth.TokenValidatorFunc(func(token string) (auth.AuthClaims, error) {
		claims, err := tokens.Validate(token)
		if err != nil {
			return nil, err
		}
		revoked, err := s.revocations.IsRevoked(context.Background(), claims.TokenID())
		if err != nil {
			return nil, auth.NewError(auth.ErrAuthBackend, err)
		}
		if revoked {
			return nil, auth.NewError(auth.ErrTokenRevoked, nil)
		}
		return claims, nil
	})
}

// Wait blocks until background provisioning has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) provisionLater(ctx context.Context, profile *auth.Profile) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		timer := time.NewTimer(s.provisionDelay)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if err := s.provision(ctx, profile); err != nil {
			s.logger.Error("delayed profile provisioning failed", "account", profile.ID, "error", err)
			return
		}
		s.logger.Debug("profile provisioned", "account", profile.ID)
	}()
}

func (s *Service) createProfile(ctx context.Context, profile *auth.Profile) error {
	if s.profiles == nil {
		return nil
	}
	_, err := s.profiles.CreateProfile(ctx, profile)
	return err
}

// profileFor builds the profile a signup provisions. Self-service signups
// never receive the admin role.
func (s *Service) profileFor(account *auth.Account) *auth.Profile {
	user := sessionUser(account)

	role, ok := auth.ParseRole(user.MetadataString(auth.MetadataRole))
	if !ok || role == auth.RoleAdmin {
		role = auth.RoleUser
	}

	now := s.now()
	return &auth.Profile{
		ID:        account.ID,
		FullName:  user.MetadataString(auth.MetadataFullName),
		Role:      role,
		Phone:     auth.NormalizePhone(user.MetadataString(auth.MetadataPhone), s.region),
		CreatedAt: &now,
		UpdatedAt: &now,
	}
}

func sessionUser(account *auth.Account) auth.SessionUser {
	return auth.SessionUser{
		ID:               account.ID.String(),
		Email:            account.Email,
		EmailConfirmedAt: account.EmailConfirmedAt,
		Metadata:         account.Metadata,
	}
}
