package auth_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	auth "github.com/goliatone/go-estate-auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type sessionEvent struct {
	event   auth.SessionEvent
	subject string
}

type eventRecorder struct {
	mu     sync.Mutex
	events []sessionEvent
}

func (r *eventRecorder) handle(event auth.SessionEvent, session *auth.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, sessionEvent{event: event, subject: session.GetUserID()})
}

func (r *eventRecorder) all() []sessionEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sessionEvent(nil), r.events...)
}

func TestSessionStoreSubscribeReplaysInitialSession(t *testing.T) {
	t.Run("anonymous", func(t *testing.T) {
		store := auth.NewSessionStore(new(MockAuthBackend), auth.WithSessionStoreLogger(auth.NopLogger()))
		rec := &eventRecorder{}
		store.Subscribe(rec.handle)

		assert.Equal(t, []sessionEvent{{event: auth.EventInitialSession}}, rec.all())
	})

	t.Run("restored", func(t *testing.T) {
		id := newSubject()
		store := auth.NewSessionStore(new(MockAuthBackend),
			auth.WithSessionStoreLogger(auth.NopLogger()),
			auth.WithInitialSession(newSession(id, "jane@example.com", nil)),
		)
		rec := &eventRecorder{}
		store.Subscribe(rec.handle)

		assert.Equal(t, []sessionEvent{{event: auth.EventInitialSession, subject: id}}, rec.all())
	})
}

func TestSessionStoreSignInEmitsSignedIn(t *testing.T) {
	backend := new(MockAuthBackend)
	id := newSubject()
	session := newSession(id, "jane@example.com", nil)
	backend.On("SignInWithPassword", mock.Anything, "jane@example.com", "secret1").Return(session, nil)

	store := auth.NewSessionStore(backend, auth.WithSessionStoreLogger(auth.NopLogger()))
	rec := &eventRecorder{}
	store.Subscribe(rec.handle)

	got, err := store.SignInWithPassword(context.Background(), "jane@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, id, got.GetUserID())
	assert.Equal(t, id, store.CurrentSession().GetUserID())

	assert.Equal(t, []sessionEvent{
		{event: auth.EventInitialSession},
		{event: auth.EventSignedIn, subject: id},
	}, rec.all())
}

func TestSessionStoreSignInFailureKeepsState(t *testing.T) {
	backend := new(MockAuthBackend)
	backend.On("SignInWithPassword", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, auth.NewError(auth.ErrInvalidCredentials, nil))

	store := auth.NewSessionStore(backend, auth.WithSessionStoreLogger(auth.NopLogger()))
	rec := &eventRecorder{}
	store.Subscribe(rec.handle)

	_, err := store.SignInWithPassword(context.Background(), "jane@example.com", "nope")
	require.Error(t, err)
	assert.True(t, auth.HasTextCode(err, auth.TextCodeInvalidCredentials))
	assert.Nil(t, store.CurrentSession())
	assert.Len(t, rec.all(), 1)
}

func TestSessionStoreSignInWithoutSession(t *testing.T) {
	backend := new(MockAuthBackend)
	backend.On("SignInWithPassword", mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)

	store := auth.NewSessionStore(backend, auth.WithSessionStoreLogger(auth.NopLogger()))
	_, err := store.SignInWithPassword(context.Background(), "jane@example.com", "secret1")
	assert.True(t, auth.HasTextCode(err, auth.TextCodeAuthBackend))
}

func TestSessionStoreSignUp(t *testing.T) {
	t.Run("with session", func(t *testing.T) {
		backend := new(MockAuthBackend)
		id := newSubject()
		session := newSession(id, "jane@example.com", nil)
		backend.On("SignUp", mock.Anything, "jane@example.com", "secret1", mock.Anything).
			Return(&auth.SignUpResult{User: session.User, Session: session}, nil)

		store := auth.NewSessionStore(backend, auth.WithSessionStoreLogger(auth.NopLogger()))
		rec := &eventRecorder{}
		store.Subscribe(rec.handle)

		_, err := store.SignUp(context.Background(), "jane@example.com", "secret1", nil)
		require.NoError(t, err)
		assert.Equal(t, auth.EventSignedIn, rec.all()[1].event)
	})

	t.Run("session next to a profile failure", func(t *testing.T) {
		backend := new(MockAuthBackend)
		id := newSubject()
		session := newSession(id, "jane@example.com", nil)
		backend.On("SignUp", mock.Anything, "jane@example.com", "secret1", mock.Anything).
			Return(&auth.SignUpResult{User: session.User, Session: session}, errors.New("Database error saving new user"))

		store := auth.NewSessionStore(backend, auth.WithSessionStoreLogger(auth.NopLogger()))
		rec := &eventRecorder{}
		store.Subscribe(rec.handle)

		res, err := store.SignUp(context.Background(), "jane@example.com", "secret1", nil)
		require.Error(t, err)
		require.NotNil(t, res)
		assert.Equal(t, id, res.User.ID)

		events := rec.all()
		require.Len(t, events, 2)
		assert.Equal(t, auth.EventSignedIn, events[1].event)
		require.NotNil(t, store.CurrentSession())
		assert.Equal(t, id, store.CurrentSession().User.ID)
	})

	t.Run("pending confirmation", func(t *testing.T) {
		backend := new(MockAuthBackend)
		backend.On("SignUp", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(&auth.SignUpResult{User: auth.SessionUser{ID: newSubject()}}, nil)

		store := auth.NewSessionStore(backend, auth.WithSessionStoreLogger(auth.NopLogger()))
		rec := &eventRecorder{}
		store.Subscribe(rec.handle)

		res, err := store.SignUp(context.Background(), "jane@example.com", "secret1", nil)
		require.NoError(t, err)
		assert.Nil(t, res.Session)
		assert.Nil(t, store.CurrentSession())
		assert.Len(t, rec.all(), 1)
	})
}

func TestSessionStoreSignOutClearsLocalStateOnBackendFailure(t *testing.T) {
	backend := new(MockAuthBackend)
	id := newSubject()
	backend.On("SignOut", mock.Anything, mock.Anything).Return(errors.New("connection refused"))

	store := auth.NewSessionStore(backend,
		auth.WithSessionStoreLogger(auth.NopLogger()),
		auth.WithInitialSession(newSession(id, "jane@example.com", nil)),
	)
	rec := &eventRecorder{}
	store.Subscribe(rec.handle)

	store.SignOut(context.Background())
	assert.Nil(t, store.CurrentSession())
	assert.Equal(t, auth.EventSignedOut, rec.all()[1].event)
	assert.Empty(t, rec.all()[1].subject)
	backend.AssertNumberOfCalls(t, "SignOut", 1)

	store.SignOut(context.Background())
	backend.AssertNumberOfCalls(t, "SignOut", 1)
	assert.Len(t, rec.all(), 2)
}

func TestSessionStoreRefresh(t *testing.T) {
	backend := new(MockAuthBackend)
	id := newSubject()
	initial := newSession(id, "jane@example.com", nil)
	next := newSession(id, "jane@example.com", nil)
	next.AccessToken = "access-rotated"
	backend.On("Refresh", mock.Anything, initial.RefreshToken).Return(next, nil)

	store := auth.NewSessionStore(backend,
		auth.WithSessionStoreLogger(auth.NopLogger()),
		auth.WithInitialSession(initial),
	)
	rec := &eventRecorder{}
	store.Subscribe(rec.handle)

	got, err := store.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-rotated", got.AccessToken)
	assert.Equal(t, auth.EventTokenRefreshed, rec.all()[1].event)
}

func TestSessionStoreRefreshWithoutSession(t *testing.T) {
	store := auth.NewSessionStore(new(MockAuthBackend), auth.WithSessionStoreLogger(auth.NopLogger()))
	_, err := store.Refresh(context.Background())
	assert.True(t, auth.HasTextCode(err, auth.TextCodeSessionRequired))
}

func TestSessionStoreUnsubscribe(t *testing.T) {
	backend := new(MockAuthBackend)
	backend.On("SignInWithPassword", mock.Anything, mock.Anything, mock.Anything).
		Return(newSession(newSubject(), "jane@example.com", nil), nil)

	store := auth.NewSessionStore(backend, auth.WithSessionStoreLogger(auth.NopLogger()))
	rec := &eventRecorder{}
	unsubscribe := store.Subscribe(rec.handle)
	unsubscribe()
	unsubscribe()

	_, err := store.SignInWithPassword(context.Background(), "jane@example.com", "secret1")
	require.NoError(t, err)
	assert.Len(t, rec.all(), 1)
}

func TestSessionStoreHandsOutCopies(t *testing.T) {
	id := newSubject()
	store := auth.NewSessionStore(new(MockAuthBackend),
		auth.WithSessionStoreLogger(auth.NopLogger()),
		auth.WithInitialSession(newSession(id, "jane@example.com", map[string]any{auth.MetadataRole: "owner"})),
	)

	current := store.CurrentSession()
	current.User.Metadata[auth.MetadataRole] = "admin"
	current.AccessToken = "tampered"

	again := store.CurrentSession()
	assert.Equal(t, "owner", again.User.Metadata[auth.MetadataRole])
	assert.Equal(t, "access-"+id, again.AccessToken)
}

func TestSessionStoreExpiredSessionWithoutRefreshToken(t *testing.T) {
	now := time.Now()
	session := newSession(newSubject(), "jane@example.com", nil)
	session.RefreshToken = ""
	session.ExpiresAt = now.Add(-time.Minute)

	store := auth.NewSessionStore(new(MockAuthBackend),
		auth.WithSessionStoreLogger(auth.NopLogger()),
		auth.WithSessionStoreClock(func() time.Time { return now }),
		auth.WithInitialSession(session),
	)
	assert.Nil(t, store.CurrentSession())
}

func TestSessionHelpers(t *testing.T) {
	var nilSession *auth.Session
	assert.Empty(t, nilSession.GetUserID())
	assert.True(t, nilSession.Expired(time.Now()))
	assert.Nil(t, nilSession.Clone())

	user := auth.SessionUser{Metadata: map[string]any{auth.MetadataFullName: "  Jane Doe ", auth.MetadataRole: 3}}
	assert.Equal(t, "Jane Doe", user.MetadataString(auth.MetadataFullName))
	assert.Empty(t, user.MetadataString(auth.MetadataRole))
	assert.False(t, user.EmailConfirmed())

	open := &auth.Session{}
	assert.False(t, open.Expired(time.Now()))
}
