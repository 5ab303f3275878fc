package backend_test

import (
	"context"
	"errors"
	"testing"
	"time"

	auth "github.com/goliatone/go-estate-auth"
	"github.com/goliatone/go-estate-auth/backend"
	"github.com/goliatone/go-estate-auth/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type fixture struct {
	manager *repository.Manager
	tokens  *auth.TokenService
	now     time.Time
}

func (f *fixture) clock() time.Time { return f.now }

func setup(t *testing.T) *fixture {
	t.Helper()

	db, err := repository.Open(repository.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, repository.Migrate(context.Background(), db, repository.DriverSQLite, nil))

	settings := auth.DefaultSettings()
	settings.SigningKey = "test-signing-key-0123456789"

	f := &fixture{
		manager: repository.NewManager(db),
		now:     time.Now(),
	}
	f.tokens = auth.NewTokenService(settings, auth.WithTokenClock(f.clock))
	return f
}

func (f *fixture) service(opts ...backend.Option) *backend.Service {
	base := []backend.Option{
		backend.WithBcryptCost(bcrypt.MinCost),
		backend.WithClock(f.clock),
		backend.WithLogger(auth.NopLogger()),
	}
	return backend.New(f.manager.Accounts(), f.manager.Profiles(), f.tokens, append(base, opts...)...)
}

func janeMetadata() map[string]any {
	return map[string]any{
		auth.MetadataFullName: "Jane Doe",
		auth.MetadataRole:     "owner",
		auth.MetadataPhone:    "(201) 555-0123",
	}
}

func TestSignUpAndSignIn(t *testing.T) {
	f := setup(t)
	svc := f.service()
	ctx := context.Background()

	res, err := svc.SignUp(ctx, "Jane@Example.com", "secret1", janeMetadata())
	require.NoError(t, err)
	require.NotNil(t, res.Session)
	assert.Equal(t, "jane@example.com", res.User.Email)
	assert.True(t, res.User.EmailConfirmed())

	profile, err := f.manager.Profiles().FindProfile(ctx, res.User.ID)
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", profile.FullName)
	assert.Equal(t, auth.RoleOwner, profile.Role)
	assert.Equal(t, "+12015550123", profile.Phone)

	session, err := svc.SignInWithPassword(ctx, "jane@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, session.User.ID)

	claims, err := svc.Validator().Validate(session.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, claims.UserID())
	assert.Equal(t, "Jane Doe", claims.Metadata()[auth.MetadataFullName])
}

func TestSignUpNeverProvisionsAdmin(t *testing.T) {
	f := setup(t)
	svc := f.service()

	res, err := svc.SignUp(context.Background(), "mallory@example.com", "secret1", map[string]any{
		auth.MetadataRole: "admin",
	})
	require.NoError(t, err)

	profile, err := f.manager.Profiles().FindProfile(context.Background(), res.User.ID)
	require.NoError(t, err)
	assert.Equal(t, auth.RoleUser, profile.Role)
}

func TestSignUpRejections(t *testing.T) {
	f := setup(t)
	svc := f.service()
	ctx := context.Background()

	_, err := svc.SignUp(ctx, "short@example.com", "12345", nil)
	require.Error(t, err)
	assert.True(t, auth.HasTextCode(err, auth.TextCodeWeakPassword))

	_, err = svc.SignUp(ctx, "dup@example.com", "secret1", nil)
	require.NoError(t, err)

	_, err = svc.SignUp(ctx, "DUP@example.com", "secret1", nil)
	require.Error(t, err)
	assert.True(t, auth.HasTextCode(err, auth.TextCodeEmailAlreadyRegistered))
}

func TestSignInInvalidCredentials(t *testing.T) {
	f := setup(t)
	svc := f.service()
	ctx := context.Background()

	_, err := svc.SignInWithPassword(ctx, "nobody@example.com", "secret1")
	require.Error(t, err)
	assert.True(t, auth.HasTextCode(err, auth.TextCodeInvalidCredentials))

	_, err = svc.SignUp(ctx, "jane@example.com", "secret1", nil)
	require.NoError(t, err)

	_, err = svc.SignInWithPassword(ctx, "jane@example.com", "wrong-password")
	require.Error(t, err)
	assert.True(t, auth.HasTextCode(err, auth.TextCodeInvalidCredentials))

	account, err := f.manager.Accounts().FindAccountByEmail(ctx, "jane@example.com")
	require.NoError(t, err)
	assert.Equal(t, 1, account.LoginAttempts)
}

func TestSignInThrottlingAndCooldown(t *testing.T) {
	f := setup(t)
	svc := f.service(backend.WithMaxLoginAttempts(2), backend.WithLoginCooldown(time.Hour))
	ctx := context.Background()

	_, err := svc.SignUp(ctx, "jane@example.com", "secret1", nil)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err = svc.SignInWithPassword(ctx, "jane@example.com", "nope-nope")
		require.True(t, auth.HasTextCode(err, auth.TextCodeInvalidCredentials))
	}

	_, err = svc.SignInWithPassword(ctx, "jane@example.com", "secret1")
	require.Error(t, err)
	assert.True(t, auth.HasTextCode(err, auth.TextCodeTooManyAttempts))

	f.now = f.now.Add(2 * time.Hour)
	session, err := svc.SignInWithPassword(ctx, "jane@example.com", "secret1")
	require.NoError(t, err)
	assert.NotEmpty(t, session.AccessToken)

	account, err := f.manager.Accounts().FindAccountByEmail(ctx, "jane@example.com")
	require.NoError(t, err)
	assert.Zero(t, account.LoginAttempts)
}

func TestEmailConfirmation(t *testing.T) {
	f := setup(t)
	svc := f.service(backend.WithEmailConfirmation(true))
	ctx := context.Background()

	res, err := svc.SignUp(ctx, "jane@example.com", "secret1", nil)
	require.NoError(t, err)
	assert.Nil(t, res.Session)
	assert.False(t, res.User.EmailConfirmed())

	_, err = svc.SignInWithPassword(ctx, "jane@example.com", "secret1")
	require.Error(t, err)
	assert.True(t, auth.HasTextCode(err, auth.TextCodeEmailNotConfirmed))
	assert.True(t, auth.HasTextCode(auth.TranslateAuthError(err), auth.TextCodeInvalidCredentials))

	require.NoError(t, svc.ConfirmEmail(ctx, res.User.ID))

	session, err := svc.SignInWithPassword(ctx, "jane@example.com", "secret1")
	require.NoError(t, err)
	assert.True(t, session.User.EmailConfirmed())
}

func TestSignUpProvisioningFailureCarriesUser(t *testing.T) {
	f := setup(t)
	svc := f.service(backend.WithProvisioner(func(context.Context, *auth.Profile) error {
		return errors.New("trigger failed")
	}))

	res, err := svc.SignUp(context.Background(), "jane@example.com", "secret1", janeMetadata())
	require.Error(t, err)
	require.NotNil(t, res)
	assert.NotEmpty(t, res.User.ID)
	assert.Equal(t, auth.TextCodeAuthBackend, auth.TextCode(auth.TranslateAuthError(err)))

	require.NotNil(t, res.Session)
	claims, err := svc.Validator().Validate(res.Session.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, claims.UserID())
}

func TestSignUpProvisioningFailurePendingConfirmation(t *testing.T) {
	f := setup(t)
	svc := f.service(
		backend.WithEmailConfirmation(true),
		backend.WithProvisioner(func(context.Context, *auth.Profile) error {
			return errors.New("trigger failed")
		}),
	)

	res, err := svc.SignUp(context.Background(), "jane@example.com", "secret1", janeMetadata())
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Nil(t, res.Session)
}

func TestCompensatedSignupSignsIn(t *testing.T) {
	f := setup(t)
	svc := f.service(backend.WithProvisioner(func(context.Context, *auth.Profile) error {
		return errors.New("trigger failed")
	}))
	resolver := auth.NewProfileResolver(f.manager.Profiles(), auth.WithResolverLogger(auth.NopLogger()))
	store := auth.NewSessionStore(svc, auth.WithSessionStoreLogger(auth.NopLogger()))
	ic := auth.NewIdentityContext(store, resolver, auth.WithIdentityLogger(auth.NopLogger()))
	require.NoError(t, ic.Start(context.Background()))
	t.Cleanup(ic.Stop)

	res, err := ic.Signup(context.Background(), auth.SignupRequest{
		Name:     "Jane Doe",
		Email:    "jane@example.com",
		Password: "secret1",
		Role:     "owner",
	})
	require.NoError(t, err)
	require.NotNil(t, res.Session)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap, err := ic.AwaitSettled(ctx)
	require.NoError(t, err)
	assert.Equal(t, auth.StateAuthenticated, snap.State)
	require.NotNil(t, snap.Identity)
	assert.Equal(t, res.User.ID, snap.Identity.ID)
	assert.Equal(t, auth.RoleOwner, snap.Identity.Role)
}

func TestSignupCompensatesFailedProvisioning(t *testing.T) {
	f := setup(t)
	svc := f.service(backend.WithProvisioner(func(context.Context, *auth.Profile) error {
		return errors.New("trigger failed")
	}))
	resolver := auth.NewProfileResolver(f.manager.Profiles(), auth.WithResolverLogger(auth.NopLogger()))

	outcome, err := auth.Signup(context.Background(), svc, resolver, auth.SignupRequest{
		Name:     "Jane Doe",
		Email:    "jane@example.com",
		Password: "secret1",
		Phone:    "(201) 555-0123",
		Role:     "owner",
	}, auth.NopLogger())
	require.NoError(t, err)
	assert.True(t, outcome.Compensated)

	profile, err := f.manager.Profiles().FindProfile(context.Background(), outcome.Result.User.ID)
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", profile.FullName)
	assert.Equal(t, auth.RoleOwner, profile.Role)
}

func TestDelayedProvisioning(t *testing.T) {
	f := setup(t)
	svc := f.service(backend.WithProvisionDelay(20 * time.Millisecond))
	ctx := context.Background()

	res, err := svc.SignUp(ctx, "jane@example.com", "secret1", janeMetadata())
	require.NoError(t, err)

	_, err = f.manager.Profiles().FindProfile(ctx, res.User.ID)
	assert.True(t, auth.IsProfileNotFound(err))

	svc.Wait()

	profile, err := f.manager.Profiles().FindProfile(ctx, res.User.ID)
	require.NoError(t, err)
	assert.Equal(t, auth.RoleOwner, profile.Role)
}

func TestSignOutRevokesTokens(t *testing.T) {
	f := setup(t)
	svc := f.service()
	ctx := context.Background()

	res, err := svc.SignUp(ctx, "jane@example.com", "secret1", nil)
	require.NoError(t, err)
	session := res.Session

	_, err = svc.Validator().Validate(session.AccessToken)
	require.NoError(t, err)

	require.NoError(t, svc.SignOut(ctx, session))
	require.NoError(t, svc.SignOut(ctx, nil))

	_, err = svc.Validator().Validate(session.AccessToken)
	require.Error(t, err)
	assert.True(t, auth.HasTextCode(err, auth.TextCodeTokenRevoked))

	_, err = svc.Refresh(ctx, session.RefreshToken)
	require.Error(t, err)
	assert.True(t, auth.HasTextCode(err, auth.TextCodeTokenRevoked))
}

func TestRefreshRotatesToken(t *testing.T) {
	f := setup(t)
	svc := f.service()
	ctx := context.Background()

	res, err := svc.SignUp(ctx, "jane@example.com", "secret1", nil)
	require.NoError(t, err)

	next, err := svc.Refresh(ctx, res.Session.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, res.Session.RefreshToken, next.RefreshToken)
	assert.Equal(t, res.User.ID, next.User.ID)

	_, err = svc.Refresh(ctx, res.Session.RefreshToken)
	assert.True(t, auth.HasTextCode(err, auth.TextCodeTokenRevoked))

	_, err = svc.Refresh(ctx, next.AccessToken)
	assert.True(t, auth.IsMalformedError(err))
}

func TestHashedIDsAreDeterministic(t *testing.T) {
	f := setup(t)
	svc := f.service(backend.WithHashedIDs(true))

	res, err := svc.SignUp(context.Background(), "jane@example.com", "secret1", nil)
	require.NoError(t, err)

	other := setup(t)
	res2, err := other.service(backend.WithHashedIDs(true)).SignUp(context.Background(), "jane@example.com", "secret1", nil)
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, res2.User.ID)
}

func TestMemoryRevocationStore(t *testing.T) {
	now := time.Now()
	store := backend.NewMemoryRevocationStore().WithClock(func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, store.Revoke(ctx, "a", now.Add(time.Minute)))
	require.NoError(t, store.Revoke(ctx, "b", now.Add(-time.Minute)))

	revoked, err := store.IsRevoked(ctx, "a")
	require.NoError(t, err)
	assert.True(t, revoked)

	revoked, err = store.IsRevoked(ctx, "b")
	require.NoError(t, err)
	assert.False(t, revoked)

	now = now.Add(2 * time.Minute)
	revoked, err = store.IsRevoked(ctx, "a")
	require.NoError(t, err)
	assert.False(t, revoked)
}
